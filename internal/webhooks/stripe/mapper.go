package stripewebhook

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/plateful/mealplanner-backend/pkg/db/models"
	"github.com/plateful/mealplanner-backend/pkg/enums"
	pkgerrors "github.com/plateful/mealplanner-backend/pkg/errors"
)

const metadataUserIDKey = "user_id"

// mapStripeStatus converts the provider status into the canonical enum.
// Statuses we do not model are rejected so the caller can decide to skip.
func mapStripeStatus(raw stripe.SubscriptionStatus) (enums.SubscriptionStatus, error) {
	normalized := strings.ToLower(strings.TrimSpace(string(raw)))
	parsed, err := enums.ParseSubscriptionStatus(normalized)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "unmapped stripe status")
	}
	return parsed, nil
}

// userIDFromMetadata extracts the user id stamped on the subscription at
// checkout time.
func userIDFromMetadata(metadata map[string]string) (uuid.UUID, bool) {
	raw, ok := metadata[metadataUserIDKey]
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

func priceIDFrom(sub *stripe.Subscription) string {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return ""
	}
	if sub.Items.Data[0].Price != nil {
		return sub.Items.Data[0].Price.ID
	}
	return ""
}

func periodFrom(sub *stripe.Subscription) (time.Time, time.Time) {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return time.Time{}, time.Time{}
	}
	item := sub.Items.Data[0]
	return toTime(item.CurrentPeriodStart), toTime(item.CurrentPeriodEnd)
}

func customerIDFrom(sub *stripe.Subscription) string {
	if sub == nil || sub.Customer == nil {
		return ""
	}
	return sub.Customer.ID
}

func toTime(ts int64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}

// buildSubscriptionRecord maps a provider subscription into the canonical
// model. When the payload omits the billing period, as cancellation events
// may, the stored row's period carries over.
func buildSubscriptionRecord(stripeSub *stripe.Subscription, stored *models.Subscription, userID uuid.UUID, status enums.SubscriptionStatus, planID string, eventAt time.Time) (*models.Subscription, error) {
	if stripeSub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "stripe subscription is nil")
	}
	if stripeSub.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "stripe subscription id is empty")
	}
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "user id is required")
	}

	start, end := periodFrom(stripeSub)
	if start.IsZero() && end.IsZero() && stored != nil {
		start, end = stored.CurrentPeriodStart, stored.CurrentPeriodEnd
	}
	if start.IsZero() {
		start = eventAt
	}
	// the period must have positive length; a missing or collapsed period
	// is a malformed payload, rejected so the provider redelivers
	if !end.After(start) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription period end must follow period start")
	}

	return &models.Subscription{
		ID:                   uuid.New(),
		UserID:               userID,
		StripeSubscriptionID: stripeSub.ID,
		Status:               status,
		PlanID:               planID,
		CurrentPeriodStart:   start,
		CurrentPeriodEnd:     end,
		LastEventAt:          eventAt,
	}, nil
}
