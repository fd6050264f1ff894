package customers

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/customer"
	"gorm.io/gorm"

	"github.com/plateful/mealplanner-backend/pkg/db/models"
	"github.com/plateful/mealplanner-backend/pkg/enums"
	pkgerrors "github.com/plateful/mealplanner-backend/pkg/errors"
	"github.com/plateful/mealplanner-backend/pkg/logger"
	"github.com/plateful/mealplanner-backend/pkg/outbox"
	"github.com/plateful/mealplanner-backend/pkg/outbox/payloads"
	pkgstripe "github.com/plateful/mealplanner-backend/pkg/stripe"
)

// StripeCustomerClient exposes the subset of Stripe operations the linker needs.
type StripeCustomerClient interface {
	Create(ctx context.Context, params *stripe.CustomerParams) (*stripe.Customer, error)
}

type stripeClientWrapper struct{}

// NewStripeClient wraps the provided Stripe client so the linker can be tested.
func NewStripeClient(api *pkgstripe.Client) StripeCustomerClient {
	if api == nil {
		return nil
	}
	return &stripeClientWrapper{}
}

func (w *stripeClientWrapper) Create(ctx context.Context, params *stripe.CustomerParams) (*stripe.Customer, error) {
	if params == nil {
		params = &stripe.CustomerParams{}
	}
	params.Context = ctx
	return customer.New(params)
}

type userRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	SetStripeCustomerIDIfEmpty(ctx context.Context, userID uuid.UUID, customerID string) (bool, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type ServiceParams struct {
	UserRepo          userRepository
	StripeClient      StripeCustomerClient
	TransactionRunner txRunner
	Outbox            outboxEmitter
	Logger            *logger.Logger
}

// Service links users to billing provider customers exactly once.
type Service struct {
	userRepo userRepository
	stripe   StripeCustomerClient
	txRunner txRunner
	outbox   outboxEmitter
	logg     *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.UserRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "user repo required")
	}
	if params.StripeClient == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe client required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	}
	return &Service{
		userRepo: params.UserRepo,
		stripe:   params.StripeClient,
		txRunner: params.TransactionRunner,
		outbox:   params.Outbox,
		logg:     params.Logger,
	}, nil
}

// EnsureCustomer returns the provider customer id for the user, creating and
// linking one when none exists. Concurrent callers race on a conditional
// update; the loser re-reads and returns the winner's id, leaving its own
// provider customer orphaned.
func (s *Service) EnsureCustomer(ctx context.Context, userID uuid.UUID) (string, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
	}
	if user.StripeCustomerID != nil && *user.StripeCustomerID != "" {
		return *user.StripeCustomerID, nil
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(user.Email),
		Name:  stripe.String(user.Name),
		Metadata: map[string]string{
			"user_id": user.ID.String(),
		},
	}
	created, err := s.stripe.Create(ctx, params)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create stripe customer")
	}

	linked, err := s.userRepo.SetStripeCustomerIDIfEmpty(ctx, user.ID, created.ID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "link stripe customer")
	}
	if !linked {
		// another caller won the race; use their customer
		fresh, err := s.userRepo.FindByID(ctx, user.ID)
		if err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload user")
		}
		if fresh.StripeCustomerID == nil || *fresh.StripeCustomerID == "" {
			return "", pkgerrors.New(pkgerrors.CodeInternal, "customer link lost race but no link present")
		}
		if s.logg != nil {
			fields := map[string]any{
				"user_id":             user.ID.String(),
				"orphaned_customer":   created.ID,
				"winning_customer_id": *fresh.StripeCustomerID,
			}
			s.logg.Warn(s.logg.WithFields(ctx, fields), "customer link race lost, orphaning created customer")
		}
		return *fresh.StripeCustomerID, nil
	}

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventBillingCustomerLink,
			AggregateType: enums.AggregateUser,
			AggregateID:   user.ID,
			Actor:         &outbox.ActorRef{UserID: user.ID, Source: "api"},
			Data: payloads.CustomerLinkedEvent{
				UserID:           user.ID,
				StripeCustomerID: created.ID,
				LinkedAt:         time.Now().UTC(),
			},
		})
	})
	if err != nil {
		return "", err
	}

	return created.ID, nil
}
