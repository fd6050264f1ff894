package billing

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/plateful/mealplanner-backend/api/middleware"
	"github.com/plateful/mealplanner-backend/api/responses"
	"github.com/plateful/mealplanner-backend/api/validators"
	checkoutsvc "github.com/plateful/mealplanner-backend/internal/checkout"
	pkgerrors "github.com/plateful/mealplanner-backend/pkg/errors"
	"github.com/plateful/mealplanner-backend/pkg/logger"
)

// CheckoutService describes the checkout methods used by the HTTP controllers.
type CheckoutService interface {
	StartCheckout(ctx context.Context, userID uuid.UUID, planID string) (*checkoutsvc.SessionDTO, error)
}

type startCheckoutRequest struct {
	PlanID string `json:"plan_id" validate:"omitempty,max=128"`
}

type startCheckoutResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
	PlanID    string `json:"plan_id"`
}

// StartCheckout creates a hosted checkout session for the authenticated user.
func StartCheckout(svc CheckoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		userID, err := uuid.Parse(middleware.UserIDFromContext(ctx))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing user identity"))
			return
		}

		var req startCheckoutRequest
		if r.ContentLength > 0 {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
		}

		session, err := svc.StartCheckout(ctx, userID, req.PlanID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, startCheckoutResponse{
			SessionID: session.SessionID,
			URL:       session.URL,
			PlanID:    session.PlanID,
		})
	}
}
