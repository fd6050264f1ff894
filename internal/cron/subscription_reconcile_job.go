package cron

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"go.uber.org/multierr"

	"github.com/plateful/mealplanner-backend/internal/billing"
	stripewebhook "github.com/plateful/mealplanner-backend/internal/webhooks/stripe"
	"github.com/plateful/mealplanner-backend/pkg/db/models"
	"github.com/plateful/mealplanner-backend/pkg/enums"
	"github.com/plateful/mealplanner-backend/pkg/logger"
)

const (
	defaultReconcileLimit    = 250
	defaultReconcileLookback = 7 * 24 * time.Hour
)

type subscriptionSyncer interface {
	SyncProviderSubscription(ctx context.Context, stripeSub *stripe.Subscription) error
}

// SubscriptionReconcileJobParams configures the subscription sync cron job.
type SubscriptionReconcileJobParams struct {
	Logger       *logger.Logger
	BillingRepo  billing.Repository
	StripeClient stripewebhook.StripeSubscriptionClient
	Syncer       subscriptionSyncer
	Limit        int
	Lookback     time.Duration
}

// NewSubscriptionReconcileJob builds a job that sweeps recently active
// subscriptions, refetches each from Stripe and re-applies any drifted state
// through the same guarded write path the webhook processor uses.
func NewSubscriptionReconcileJob(params SubscriptionReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.BillingRepo == nil {
		return nil, fmt.Errorf("billing repository required")
	}
	if params.StripeClient == nil {
		return nil, fmt.Errorf("stripe client required")
	}
	if params.Syncer == nil {
		return nil, fmt.Errorf("subscription syncer required")
	}
	lookback := params.Lookback
	if lookback <= 0 {
		lookback = defaultReconcileLookback
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultReconcileLimit
	}
	return &subscriptionReconcileJob{
		logg:        params.Logger,
		billingRepo: params.BillingRepo,
		stripe:      params.StripeClient,
		syncer:      params.Syncer,
		limit:       limit,
		lookback:    lookback,
	}, nil
}

type subscriptionReconcileJob struct {
	logg        *logger.Logger
	billingRepo billing.Repository
	stripe      stripewebhook.StripeSubscriptionClient
	syncer      subscriptionSyncer
	limit       int
	lookback    time.Duration
}

func (j *subscriptionReconcileJob) Name() string { return "subscription-reconcile" }

func (j *subscriptionReconcileJob) Run(ctx context.Context) error {
	logCtx := j.logg.WithField(ctx, "job", j.Name())
	logCtx = j.logg.WithField(logCtx, "event", "cron.job")
	snapshot, err := j.billingRepo.ListSubscriptionsForReconciliation(logCtx, j.limit, j.lookback)
	if err != nil {
		return fmt.Errorf("list subscriptions for reconciliation: %w", err)
	}
	var errs error
	scanned := len(snapshot)
	drifted := 0
	synced := 0
	for i := range snapshot {
		applied, err := j.reconcileSubscription(logCtx, &snapshot[i])
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if applied {
			drifted++
		}
		synced++
	}
	reportCtx := j.logg.WithFields(logCtx, map[string]any{
		"candidates": scanned,
		"synced":     synced,
		"drifted":    drifted,
	})
	j.logg.Info(reportCtx, "subscription reconcile loop complete")
	return errs
}

func (j *subscriptionReconcileJob) reconcileSubscription(ctx context.Context, stored *models.Subscription) (bool, error) {
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"subscription_id":        stored.ID,
		"user_id":                stored.UserID,
		"stripe_subscription_id": stored.StripeSubscriptionID,
	})
	if strings.TrimSpace(stored.StripeSubscriptionID) == "" {
		j.logg.Info(logCtx, "subscription missing stripe id; skipping")
		return false, nil
	}
	remote, err := j.stripe.Get(logCtx, stored.StripeSubscriptionID, &stripe.SubscriptionParams{})
	if err != nil {
		return false, fmt.Errorf("fetch stripe subscription %s: %w", stored.StripeSubscriptionID, err)
	}
	if remote == nil {
		j.logg.Info(logCtx, "stripe subscription not found; skipping")
		return false, nil
	}
	status, err := enums.ParseSubscriptionStatus(strings.ToLower(strings.TrimSpace(string(remote.Status))))
	if err != nil {
		j.logg.Info(j.logg.WithField(logCtx, "stripe_status", string(remote.Status)), "unmapped stripe status; skipping")
		return false, nil
	}
	if !j.hasDrift(stored, remote, status) {
		return false, nil
	}
	if err := j.syncer.SyncProviderSubscription(logCtx, remote); err != nil {
		return false, fmt.Errorf("sync subscription %s: %w", stored.StripeSubscriptionID, err)
	}
	successCtx := j.logg.WithFields(logCtx, map[string]any{
		"stored_status": stored.Status,
		"stripe_status": status,
	})
	j.logg.Info(successCtx, "subscription reconciled")
	return true, nil
}

// hasDrift compares the locally stored row against the provider snapshot.
// Only status and billing period participate; anything else is either
// immutable or derived from these.
func (j *subscriptionReconcileJob) hasDrift(stored *models.Subscription, remote *stripe.Subscription, status enums.SubscriptionStatus) bool {
	if status != stored.Status {
		return true
	}
	end := remotePeriodEnd(remote)
	if !end.IsZero() && !end.Equal(stored.CurrentPeriodEnd.UTC()) {
		return true
	}
	return false
}

func remotePeriodEnd(sub *stripe.Subscription) time.Time {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return time.Time{}
	}
	if ts := sub.Items.Data[0].CurrentPeriodEnd; ts > 0 {
		return time.Unix(ts, 0).UTC()
	}
	return time.Time{}
}
