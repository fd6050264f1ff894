package stripewebhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/plateful/mealplanner-backend/internal/billing"
	"github.com/plateful/mealplanner-backend/pkg/db/models"
	"github.com/plateful/mealplanner-backend/pkg/enums"
	pkgerrors "github.com/plateful/mealplanner-backend/pkg/errors"
	"github.com/plateful/mealplanner-backend/pkg/logger"
	"github.com/plateful/mealplanner-backend/pkg/outbox"
	"github.com/plateful/mealplanner-backend/pkg/outbox/payloads"
)

type userRepository interface {
	FindByStripeCustomerID(ctx context.Context, customerID string) (*models.User, error)
	SetStripeCustomerIDIfEmpty(ctx context.Context, userID uuid.UUID, customerID string) (bool, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type ServiceParams struct {
	BillingRepo       billing.Repository
	UserRepo          userRepository
	StripeClient      StripeSubscriptionClient
	TransactionRunner txRunner
	Outbox            outboxEmitter
	Logger            *logger.Logger
}

type Service struct {
	billingRepo billing.Repository
	userRepo    userRepository
	stripe      StripeSubscriptionClient
	txRunner    txRunner
	outbox      outboxEmitter
	logg        *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.BillingRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing repo required")
	}
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
		billingRepo: params.BillingRepo,
		userRepo:    params.UserRepo,
		stripe:      params.StripeClient,
		txRunner:    params.TransactionRunner,
		outbox:      params.Outbox,
		logg:        params.Logger,
	}, nil
}

// Handles reports whether the event type participates in entitlement
// reconciliation. Everything else is acknowledged without processing.
func (s *Service) Handles(eventType stripe.EventType) bool {
	switch eventType {
	case stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCustomerSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionDeleted,
		stripe.EventTypeInvoicePaymentFailed:
		return true
	default:
		return false
	}
}

// HandleEvent routes a verified provider event. Malformed payloads and
// storage errors both propagate as non-2xx so the provider redelivers;
// a later delivery may carry the fields a partial payload dropped. Stale
// replays and impossible status transitions are acknowledged, since no
// redelivery can change their outcome.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode checkout session event")
		}
		return s.handleCheckoutCompleted(ctx, event, &sess)

	case stripe.EventTypeCustomerSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated:
		var stripeSub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode subscription event")
		}
		return s.syncSubscription(ctx, event, &stripeSub, false, uuid.Nil)

	case stripe.EventTypeCustomerSubscriptionDeleted:
		var stripeSub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode subscription event")
		}
		return s.syncSubscription(ctx, event, &stripeSub, true, uuid.Nil)

	case stripe.EventTypeInvoicePaymentFailed:
		subscriptionID := event.GetObjectValue("subscription")
		if subscriptionID == "" {
			s.warn(ctx, event, "invoice event without subscription id")
			return pkgerrors.New(pkgerrors.CodeValidation, "invoice event missing subscription id")
		}
		stripeSub, err := s.stripe.Get(ctx, subscriptionID, &stripe.SubscriptionParams{})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch stripe subscription")
		}
		return s.syncSubscription(ctx, event, stripeSub, false, uuid.Nil)

	default:
		return nil
	}
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, event *stripe.Event, sess *stripe.CheckoutSession) error {
	if sess == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "checkout session is required")
	}

	userID, ok := userIDFromMetadata(sess.Metadata)
	if !ok && sess.ClientReferenceID != "" {
		if parsed, err := uuid.Parse(sess.ClientReferenceID); err == nil {
			userID, ok = parsed, true
		}
	}
	if !ok {
		// the user id metadata is the only link back to the account; reject
		// so a redelivery can carry the complete payload
		s.warn(ctx, event, "checkout session without user id")
		return pkgerrors.New(pkgerrors.CodeValidation, "checkout session missing user id")
	}

	if sess.Customer != nil && sess.Customer.ID != "" {
		if err := s.linkCustomer(ctx, userID, sess.Customer.ID); err != nil {
			return err
		}
	}

	if sess.Subscription == nil || sess.Subscription.ID == "" {
		// one-time payment sessions carry no subscription
		s.warn(ctx, event, "checkout session without subscription, skipping")
		return nil
	}

	stripeSub, err := s.stripe.Get(ctx, sess.Subscription.ID, &stripe.SubscriptionParams{})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch stripe subscription")
	}
	return s.syncSubscription(ctx, event, stripeSub, false, userID)
}

// linkCustomer binds the provider customer to the user first-write-wins.
func (s *Service) linkCustomer(ctx context.Context, userID uuid.UUID, customerID string) error {
	linked, err := s.userRepo.SetStripeCustomerIDIfEmpty(ctx, userID, customerID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "link stripe customer")
	}
	if !linked {
		return nil
	}
	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventBillingCustomerLink,
			AggregateType: enums.AggregateUser,
			AggregateID:   userID,
			Actor:         &outbox.ActorRef{UserID: userID, Source: "stripe-webhook"},
			Data: payloads.CustomerLinkedEvent{
				UserID:           userID,
				StripeCustomerID: customerID,
				LinkedAt:         time.Now().UTC(),
			},
		})
	})
}

// syncSubscription is the single write path for subscription state. The row is
// resolved by the provider subscription id alone; metadata is only consulted
// to attribute a brand-new subscription to a user.
func (s *Service) syncSubscription(ctx context.Context, event *stripe.Event, stripeSub *stripe.Subscription, deleted bool, userHint uuid.UUID) error {
	if stripeSub == nil || stripeSub.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription id is required")
	}

	status := enums.SubscriptionStatusCanceled
	if !deleted {
		mapped, err := mapStripeStatus(stripeSub.Status)
		if err != nil {
			s.warn(ctx, event, "subscription status outside the known set")
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "map subscription status")
		}
		status = mapped
	}

	eventAt := eventTime(event)

	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)

		stored, err := repo.FindSubscriptionByStripeID(ctx, stripeSub.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
		}

		userID, err := s.resolveUser(ctx, stored, stripeSub, userHint)
		if err != nil {
			return err
		}
		if userID == uuid.Nil {
			s.warn(ctx, event, "subscription has no resolvable user")
			return pkgerrors.New(pkgerrors.CodeValidation, "subscription has no resolvable user")
		}

		if stored != nil && !stored.Status.CanTransitionTo(status) {
			s.warn(ctx, event, "status transition rejected, skipping")
			return nil
		}

		planID := s.resolvePlan(ctx, repo, stored, stripeSub)

		record, err := buildSubscriptionRecord(stripeSub, stored, userID, status, planID, eventAt)
		if err != nil {
			return err
		}

		applied, err := repo.UpsertSubscriptionByStripeID(ctx, record)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert subscription")
		}
		if !applied {
			// stale replay lost against a newer stored event
			return nil
		}

		return s.emitEntitlementEvents(ctx, tx, record)
	})
}

func (s *Service) resolveUser(ctx context.Context, stored *models.Subscription, stripeSub *stripe.Subscription, hint uuid.UUID) (uuid.UUID, error) {
	if stored != nil {
		return stored.UserID, nil
	}
	if id, ok := userIDFromMetadata(stripeSub.Metadata); ok {
		return id, nil
	}
	if customerID := customerIDFrom(stripeSub); customerID != "" {
		user, err := s.userRepo.FindByStripeCustomerID(ctx, customerID)
		if err != nil {
			return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve user by customer")
		}
		if user != nil {
			return user.ID, nil
		}
	}
	return hint, nil
}

func (s *Service) resolvePlan(ctx context.Context, repo billing.Repository, stored *models.Subscription, stripeSub *stripe.Subscription) string {
	priceID := priceIDFrom(stripeSub)
	if priceID != "" {
		if plan, err := repo.FindBillingPlanByPriceID(ctx, priceID); err == nil && plan != nil {
			return plan.ID
		}
		return priceID
	}
	if stored != nil {
		return stored.PlanID
	}
	return ""
}

func (s *Service) emitEntitlementEvents(ctx context.Context, tx *gorm.DB, record *models.Subscription) error {
	now := time.Now().UTC()
	periodEnd := record.CurrentPeriodEnd

	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventEntitlementUpdated,
		AggregateType: enums.AggregateSubscription,
		AggregateID:   record.UserID,
		Actor:         &outbox.ActorRef{UserID: record.UserID, Source: "stripe-webhook"},
		Data: payloads.EntitlementUpdatedEvent{
			UserID:               record.UserID,
			StripeSubscriptionID: record.StripeSubscriptionID,
			Status:               record.Status,
			Entitled:             record.Status.Entitled(),
			PlanID:               record.PlanID,
			CurrentPeriodEnd:     &periodEnd,
			EventAt:              record.LastEventAt,
		},
	})
	if err != nil {
		return err
	}

	if !record.Status.Terminal() {
		return nil
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventEntitlementRevoked,
		AggregateType: enums.AggregateSubscription,
		AggregateID:   record.UserID,
		Actor:         &outbox.ActorRef{UserID: record.UserID, Source: "stripe-webhook"},
		Data: payloads.EntitlementRevokedEvent{
			UserID:               record.UserID,
			StripeSubscriptionID: record.StripeSubscriptionID,
			Status:               record.Status,
			RevokedAt:            now,
		},
	})
}

// SyncProviderSubscription runs the guarded write path for a subscription
// fetched outside the webhook flow, such as the reconciliation cron. The
// effective event time is the wall clock.
func (s *Service) SyncProviderSubscription(ctx context.Context, stripeSub *stripe.Subscription) error {
	return s.syncSubscription(ctx, nil, stripeSub, false, uuid.Nil)
}

func (s *Service) warn(ctx context.Context, event *stripe.Event, msg string) {
	if s.logg == nil {
		return
	}
	fields := map[string]any{}
	if event != nil {
		fields["stripe_event_id"] = event.ID
		fields["stripe_event_type"] = string(event.Type)
	}
	s.logg.Warn(s.logg.WithFields(ctx, fields), msg)
}

func eventTime(event *stripe.Event) time.Time {
	if event != nil && event.Created > 0 {
		return time.Unix(event.Created, 0).UTC()
	}
	return time.Now().UTC()
}
