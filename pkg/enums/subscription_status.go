package enums

import "fmt"

// SubscriptionStatus mirrors the billing provider's subscription state.
type SubscriptionStatus string

const (
	SubscriptionStatusTrialing          SubscriptionStatus = "trialing"
	SubscriptionStatusActive            SubscriptionStatus = "active"
	SubscriptionStatusPastDue           SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled          SubscriptionStatus = "canceled"
	SubscriptionStatusIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionStatusUnpaid            SubscriptionStatus = "unpaid"
)

var validSubscriptionStatuses = []SubscriptionStatus{
	SubscriptionStatusTrialing,
	SubscriptionStatusActive,
	SubscriptionStatusPastDue,
	SubscriptionStatusCanceled,
	SubscriptionStatusIncomplete,
	SubscriptionStatusIncompleteExpired,
	SubscriptionStatusUnpaid,
}

// String implements fmt.Stringer.
func (s SubscriptionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s SubscriptionStatus) IsValid() bool {
	for _, candidate := range validSubscriptionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// Entitled reports whether the status grants access to paid features.
// Trials count; everything else does not.
func (s SubscriptionStatus) Entitled() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrialing
}

// Terminal reports whether the status ends the subscription lifecycle.
func (s SubscriptionStatus) Terminal() bool {
	return s == SubscriptionStatusCanceled || s == SubscriptionStatusIncompleteExpired
}

// ParseSubscriptionStatus converts raw input into a SubscriptionStatus.
func ParseSubscriptionStatus(value string) (SubscriptionStatus, error) {
	for _, candidate := range validSubscriptionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid subscription status %q", value)
}

// subscriptionTransitions allow-lists which statuses may replace which.
// The provider delivers events out of order, so lateral moves inside the
// live set are permitted; moves out of a terminal state are not.
var subscriptionTransitions = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionStatusTrialing:          {SubscriptionStatusTrialing, SubscriptionStatusActive, SubscriptionStatusPastDue, SubscriptionStatusUnpaid, SubscriptionStatusCanceled},
	SubscriptionStatusActive:            {SubscriptionStatusActive, SubscriptionStatusTrialing, SubscriptionStatusPastDue, SubscriptionStatusUnpaid, SubscriptionStatusCanceled},
	SubscriptionStatusPastDue:           {SubscriptionStatusPastDue, SubscriptionStatusActive, SubscriptionStatusUnpaid, SubscriptionStatusCanceled},
	SubscriptionStatusUnpaid:            {SubscriptionStatusUnpaid, SubscriptionStatusActive, SubscriptionStatusCanceled},
	SubscriptionStatusIncomplete:        {SubscriptionStatusIncomplete, SubscriptionStatusActive, SubscriptionStatusTrialing, SubscriptionStatusIncompleteExpired, SubscriptionStatusCanceled},
	SubscriptionStatusIncompleteExpired: {SubscriptionStatusIncompleteExpired},
	SubscriptionStatusCanceled:          {SubscriptionStatusCanceled},
}

// CanTransitionTo reports whether moving from s to next is an allowed
// lifecycle step. Terminal states only accept themselves, so an
// un-cancel delivered by a buggy or replayed event stream is rejected.
func (s SubscriptionStatus) CanTransitionTo(next SubscriptionStatus) bool {
	allowed, ok := subscriptionTransitions[s]
	if !ok {
		return false
	}
	for _, candidate := range allowed {
		if candidate == next {
			return true
		}
	}
	return false
}
