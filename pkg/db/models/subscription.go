package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/plateful/mealplanner-backend/pkg/enums"
)

// Subscription is the authoritative entitlement record per provider
// subscription. It is created and mutated only by webhook reconciliation,
// never by direct user action, and it is never hard-deleted; cancellation is
// recorded as status = canceled. A user who cancels and subscribes again
// accumulates rows, one per provider subscription id; reads resolve the most
// recent one.
type Subscription struct {
	ID                   uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID               uuid.UUID                `gorm:"column:user_id;type:uuid;not null;index"`
	StripeSubscriptionID string                   `gorm:"column:stripe_subscription_id;not null;unique"`
	Status               enums.SubscriptionStatus `gorm:"column:status;type:text;not null"`
	PlanID               string                   `gorm:"column:plan_id;not null"`
	CurrentPeriodStart   time.Time                `gorm:"column:current_period_start;not null"`
	CurrentPeriodEnd     time.Time                `gorm:"column:current_period_end;not null"`
	// LastEventAt carries the provider's event timestamp; writes are
	// conditioned on monotonic advancement to reject stale replays.
	LastEventAt time.Time `gorm:"column:last_event_at;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
