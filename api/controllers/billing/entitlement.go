package billing

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/plateful/mealplanner-backend/api/middleware"
	"github.com/plateful/mealplanner-backend/api/responses"
	entitlementsvc "github.com/plateful/mealplanner-backend/internal/entitlements"
	pkgerrors "github.com/plateful/mealplanner-backend/pkg/errors"
	"github.com/plateful/mealplanner-backend/pkg/logger"
)

// EntitlementService describes the entitlement read methods used by the HTTP controllers.
type EntitlementService interface {
	GetEntitlement(ctx context.Context, userID uuid.UUID) (*entitlementsvc.EntitlementDTO, error)
}

// GetEntitlement returns the authenticated user's entitlement snapshot.
func GetEntitlement(svc EntitlementService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "entitlement service unavailable"))
			return
		}

		userID, err := uuid.Parse(middleware.UserIDFromContext(ctx))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing user identity"))
			return
		}

		entitlement, err := svc.GetEntitlement(ctx, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, entitlement)
	}
}
