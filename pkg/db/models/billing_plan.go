package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/plateful/mealplanner-backend/pkg/enums"
)

// BillingPlan captures the local metadata for a subscription plan. The
// Stripe price id is what checkout hands to the provider; everything
// else is display data for the plan picker.
type BillingPlan struct {
	ID            string                `gorm:"column:id;primaryKey"`
	Name          string                `gorm:"column:name;not null"`
	Status        enums.PlanStatus      `gorm:"column:status;type:text;not null"`
	StripePriceID string                `gorm:"column:stripe_price_id;not null;uniqueIndex"`
	IsDefault     bool                  `gorm:"column:is_default;not null;default:false"`
	TrialDays     int                   `gorm:"column:trial_days;not null;default:0"`
	Interval      enums.BillingInterval `gorm:"column:interval;type:text;not null"`
	PriceAmount   decimal.Decimal       `gorm:"column:price_amount;type:numeric(12,2);not null"`
	CurrencyCode  string                `gorm:"column:currency_code;not null"`
	CreatedAt     time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}
