package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/plateful/mealplanner-backend/pkg/enums"
)

// EntitlementUpdatedEvent is emitted whenever a billing event changes what a
// user is entitled to. Downstream consumers (meal plan generation, emails)
// key off Entitled rather than the raw status.
type EntitlementUpdatedEvent struct {
	UserID               uuid.UUID                `json:"user_id"`
	StripeSubscriptionID string                   `json:"stripe_subscription_id"`
	Status               enums.SubscriptionStatus `json:"status"`
	Entitled             bool                     `json:"entitled"`
	PlanID               string                   `json:"plan_id,omitempty"`
	CurrentPeriodEnd     *time.Time               `json:"current_period_end,omitempty"`
	EventAt              time.Time                `json:"event_at"`
}

// EntitlementRevokedEvent is emitted when a subscription reaches a terminal
// state and access is withdrawn.
type EntitlementRevokedEvent struct {
	UserID               uuid.UUID                `json:"user_id"`
	StripeSubscriptionID string                   `json:"stripe_subscription_id"`
	Status               enums.SubscriptionStatus `json:"status"`
	RevokedAt            time.Time                `json:"revoked_at"`
}

// CustomerLinkedEvent is emitted the first time a user is bound to a billing
// provider customer.
type CustomerLinkedEvent struct {
	UserID           uuid.UUID `json:"user_id"`
	StripeCustomerID string    `json:"stripe_customer_id"`
	LinkedAt         time.Time `json:"linked_at"`
}
