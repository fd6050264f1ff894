package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents the canonical identity entity. Account lifecycle is
// owned by the auth service; this core only reads it and writes the
// Stripe customer link.
type User struct {
	ID               uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Email            string     `gorm:"type:text;not null;uniqueIndex"`
	Name             string     `gorm:"column:name;not null"`
	StripeCustomerID *string    `gorm:"column:stripe_customer_id;uniqueIndex"`
	IsActive         bool       `gorm:"column:is_active;not null;default:true"`
	LastLoginAt      *time.Time `gorm:"column:last_login_at"`
	CreatedAt        time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
