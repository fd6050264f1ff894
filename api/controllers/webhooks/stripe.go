package webhooks

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/plateful/mealplanner-backend/api/responses"
	pkgerrors "github.com/plateful/mealplanner-backend/pkg/errors"
	"github.com/plateful/mealplanner-backend/pkg/logger"
	"github.com/plateful/mealplanner-backend/pkg/metrics"
)

type StripeWebhookService interface {
	Handles(eventType stripe.EventType) bool
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

type stripeWebhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

type stripeClient interface {
	SigningSecret() string
}

// StripeWebhook handles Stripe subscription lifecycle events. The signature
// is verified before anything else; a verified duplicate or an event kind we
// do not process is acknowledged so Stripe stops redelivering it. A positive
// processTimeout bounds handler work so a slow provider fetch cannot hold the
// request open past Stripe's delivery deadline.
func StripeWebhook(svc StripeWebhookService, client stripeClient, guard stripeWebhookGuard, processTimeout time.Duration, wm *metrics.WebhookMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if client == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe client unavailable"))
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if sigHeader == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "stripe signature missing"))
			return
		}

		event, err := webhook.ConstructEvent(payload, sigHeader, client.SigningSecret())
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "verify signature"))
			return
		}

		if !svc.Handles(event.Type) {
			wm.IncIgnored(string(event.Type))
			responses.WriteSuccess(w, nil)
			return
		}
		wm.IncReceived(string(event.Type))

		alreadyProcessed, err := guard.CheckAndMark(ctx, event.ID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		if alreadyProcessed {
			responses.WriteSuccess(w, nil)
			return
		}

		handleCtx := ctx
		if processTimeout > 0 {
			var cancel context.CancelFunc
			handleCtx, cancel = context.WithTimeout(ctx, processTimeout)
			defer cancel()
		}

		start := time.Now()
		if err := svc.HandleEvent(handleCtx, &event); err != nil {
			_ = guard.Release(ctx, event.ID)
			wm.IncFailed(string(event.Type))
			responses.WriteError(ctx, logg, w, err)
			return
		}
		wm.ObserveDuration(string(event.Type), time.Since(start))

		if logg != nil {
			logg.Info(ctx, fmt.Sprintf("stripe event %s processed", event.ID))
		}
		responses.WriteSuccess(w, nil)
	}
}
