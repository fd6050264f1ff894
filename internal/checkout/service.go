package checkout

import (
	"context"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"
	"gorm.io/gorm"

	"github.com/plateful/mealplanner-backend/internal/billing"
	"github.com/plateful/mealplanner-backend/pkg/config"
	"github.com/plateful/mealplanner-backend/pkg/db/models"
	"github.com/plateful/mealplanner-backend/pkg/enums"
	pkgerrors "github.com/plateful/mealplanner-backend/pkg/errors"
	"github.com/plateful/mealplanner-backend/pkg/logger"
	pkgstripe "github.com/plateful/mealplanner-backend/pkg/stripe"
)

// StripeCheckoutClient exposes the subset of Stripe operations the initiator needs.
type StripeCheckoutClient interface {
	NewSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripeClientWrapper struct{}

// NewStripeClient wraps the provided Stripe client so checkout can be tested.
func NewStripeClient(api *pkgstripe.Client) StripeCheckoutClient {
	if api == nil {
		return nil
	}
	return &stripeClientWrapper{}
}

func (w *stripeClientWrapper) NewSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	if params == nil {
		params = &stripe.CheckoutSessionParams{}
	}
	params.Context = ctx
	return session.New(params)
}

type userRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type customerLinker interface {
	EnsureCustomer(ctx context.Context, userID uuid.UUID) (string, error)
}

// SessionDTO is the transport shape returned to the client, which redirects
// the browser to the hosted checkout page.
type SessionDTO struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
	PlanID    string `json:"plan_id"`
}

type ServiceParams struct {
	BillingRepo  billing.Repository
	UserRepo     userRepository
	Customers    customerLinker
	StripeClient StripeCheckoutClient
	Checkout     config.CheckoutConfig
	Logger       *logger.Logger
}

// Service starts hosted checkout sessions. It never writes subscription
// state: the webhook processor owns that, driven by provider events.
type Service struct {
	billingRepo billing.Repository
	userRepo    userRepository
	customers   customerLinker
	stripe      StripeCheckoutClient
	cfg         config.CheckoutConfig
	logg        *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.BillingRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing repo required")
	}
	if params.UserRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "user repo required")
	}
	if params.Customers == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "customer linker required")
	}
	if params.StripeClient == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe client required")
	}
	if params.Checkout.SuccessURL == "" || params.Checkout.CancelURL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "checkout redirect urls required")
	}
	return &Service{
		billingRepo: params.BillingRepo,
		userRepo:    params.UserRepo,
		customers:   params.Customers,
		stripe:      params.StripeClient,
		cfg:         params.Checkout,
		logg:        params.Logger,
	}, nil
}

// StartCheckout creates a provider checkout session for the given plan. The
// user id is stamped into session and subscription metadata so the webhook
// processor can attribute the resulting subscription.
func (s *Service) StartCheckout(ctx context.Context, userID uuid.UUID, planID string) (*SessionDTO, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
	}

	existing, err := s.billingRepo.FindSubscriptionByUserID(ctx, user.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if existing != nil && existing.Status.Entitled() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "subscription already active")
	}

	plan, err := s.resolvePlan(ctx, planID)
	if err != nil {
		return nil, err
	}

	customerID, err := s.customers.EnsureCustomer(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	metadata := map[string]string{
		"user_id": user.ID.String(),
		"plan_id": plan.ID,
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:          stripe.String(customerID),
		ClientReferenceID: stripe.String(user.ID.String()),
		SuccessURL:        stripe.String(s.cfg.SuccessURL),
		CancelURL:         stripe.String(s.cfg.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(plan.StripePriceID),
			Quantity: stripe.Int64(1),
		}},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
	}
	params.Metadata = metadata
	if plan.TrialDays > 0 {
		params.SubscriptionData.TrialPeriodDays = stripe.Int64(int64(plan.TrialDays))
	}

	sess, err := s.stripe.NewSession(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create checkout session")
	}

	if s.logg != nil {
		fields := map[string]any{
			"user_id":    user.ID.String(),
			"plan_id":    plan.ID,
			"session_id": sess.ID,
		}
		s.logg.Info(s.logg.WithFields(ctx, fields), "checkout session created")
	}

	return &SessionDTO{
		SessionID: sess.ID,
		URL:       sess.URL,
		PlanID:    plan.ID,
	}, nil
}

func (s *Service) resolvePlan(ctx context.Context, planID string) (*models.BillingPlan, error) {
	if planID == "" {
		plan, err := s.billingRepo.FindDefaultBillingPlan(ctx)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load default plan")
		}
		if plan == nil {
			return nil, pkgerrors.New(pkgerrors.CodeInternal, "no default billing plan configured")
		}
		return plan, nil
	}

	plan, err := s.billingRepo.FindBillingPlanByID(ctx, planID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load plan")
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "billing plan not found")
	}
	if plan.Status != enums.PlanStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "billing plan is not available")
	}
	return plan, nil
}
