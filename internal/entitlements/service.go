package entitlements

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/plateful/mealplanner-backend/internal/billing"
	pkgerrors "github.com/plateful/mealplanner-backend/pkg/errors"
)

// StatusNone is reported when the user has no subscription record at all,
// distinct from a subscription in a non-entitled state.
const StatusNone = "none"

// EntitlementDTO is the read model consumed by feature gates and the client.
type EntitlementDTO struct {
	UserID           uuid.UUID  `json:"user_id"`
	Entitled         bool       `json:"entitled"`
	Status           string     `json:"status"`
	PlanID           string     `json:"plan_id,omitempty"`
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`
}

type ServiceParams struct {
	BillingRepo billing.Repository
}

// Service answers entitlement questions from stored state only. It never
// calls the billing provider; webhook reconciliation keeps the store fresh.
type Service struct {
	billingRepo billing.Repository
}

func NewService(params ServiceParams) (*Service, error) {
	if params.BillingRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing repo required")
	}
	return &Service{billingRepo: params.BillingRepo}, nil
}

// GetEntitlement returns the user's current entitlement snapshot.
func (s *Service) GetEntitlement(ctx context.Context, userID uuid.UUID) (*EntitlementDTO, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}

	sub, err := s.billingRepo.FindSubscriptionByUserID(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if sub == nil {
		return &EntitlementDTO{
			UserID:   userID,
			Entitled: false,
			Status:   StatusNone,
		}, nil
	}

	periodEnd := sub.CurrentPeriodEnd
	return &EntitlementDTO{
		UserID:           userID,
		Entitled:         sub.Status.Entitled(),
		Status:           sub.Status.String(),
		PlanID:           sub.PlanID,
		CurrentPeriodEnd: &periodEnd,
	}, nil
}
