package billing

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/plateful/mealplanner-backend/api/responses"
	"github.com/plateful/mealplanner-backend/api/validators"
	"github.com/plateful/mealplanner-backend/pkg/db/models"
	"github.com/plateful/mealplanner-backend/pkg/enums"
	pkgerrors "github.com/plateful/mealplanner-backend/pkg/errors"
	"github.com/plateful/mealplanner-backend/pkg/logger"
)

// PlanAdminStore describes the plan writes used by the admin controllers.
type PlanAdminStore interface {
	CreateBillingPlan(ctx context.Context, plan *models.BillingPlan) error
	UpdateBillingPlan(ctx context.Context, plan *models.BillingPlan) error
	FindBillingPlanByID(ctx context.Context, id string) (*models.BillingPlan, error)
}

type billingPlanUpsertRequest struct {
	ID            string `json:"id" validate:"omitempty,max=128"`
	Name          string `json:"name" validate:"required,max=200"`
	Status        string `json:"status" validate:"required"`
	StripePriceID string `json:"stripe_price_id" validate:"required,max=255"`
	IsDefault     bool   `json:"is_default"`
	TrialDays     int    `json:"trial_days" validate:"gte=0,lte=365"`
	Interval      string `json:"interval" validate:"required"`
	PriceAmount   string `json:"price_amount" validate:"required"`
	CurrencyCode  string `json:"currency_code" validate:"required,len=3"`
}

func buildBillingPlanFromRequest(id string, payload billingPlanUpsertRequest, createdAt time.Time) (*models.BillingPlan, error) {
	status, err := enums.ParsePlanStatus(payload.Status)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parse plan status")
	}
	interval, err := enums.ParseBillingInterval(payload.Interval)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parse billing interval")
	}
	price, err := decimal.NewFromString(payload.PriceAmount)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parse price amount")
	}
	if price.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price amount must not be negative")
	}

	return &models.BillingPlan{
		ID:            id,
		Name:          payload.Name,
		Status:        status,
		StripePriceID: payload.StripePriceID,
		IsDefault:     payload.IsDefault,
		TrialDays:     payload.TrialDays,
		Interval:      interval,
		PriceAmount:   price,
		CurrencyCode:  payload.CurrencyCode,
		CreatedAt:     createdAt,
	}, nil
}

// CreatePlan registers a new billing plan in the catalog.
func CreatePlan(store PlanAdminStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if store == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing repository unavailable"))
			return
		}

		var payload billingPlanUpsertRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if payload.ID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "plan id is required"))
			return
		}

		existing, err := store.FindBillingPlanByID(ctx, payload.ID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find billing plan"))
			return
		}
		if existing != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "plan id already in use"))
			return
		}

		plan, err := buildBillingPlanFromRequest(payload.ID, payload, time.Time{})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := store.CreateBillingPlan(ctx, plan); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create billing plan"))
			return
		}

		if logg != nil {
			logg.Info(logg.WithFields(ctx, map[string]any{"plan_id": plan.ID}), "billing.plan.created")
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, billingPlanFromModel(*plan))
	}
}

// UpdatePlan rewrites an existing billing plan. The plan id in the path
// wins over any id in the body.
func UpdatePlan(store PlanAdminStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if store == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing repository unavailable"))
			return
		}

		planID := chi.URLParam(r, "planID")
		if planID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "plan id is required"))
			return
		}

		existing, err := store.FindBillingPlanByID(ctx, planID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find billing plan"))
			return
		}
		if existing == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found"))
			return
		}

		var payload billingPlanUpsertRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		plan, err := buildBillingPlanFromRequest(planID, payload, existing.CreatedAt)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := store.UpdateBillingPlan(ctx, plan); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update billing plan"))
			return
		}

		if logg != nil {
			logg.Info(logg.WithFields(ctx, map[string]any{"plan_id": plan.ID}), "billing.plan.updated")
		}
		responses.WriteSuccess(w, billingPlanFromModel(*plan))
	}
}
