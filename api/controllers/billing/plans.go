package billing

import (
	"context"
	"net/http"
	"time"

	"github.com/plateful/mealplanner-backend/api/responses"
	billingrepo "github.com/plateful/mealplanner-backend/internal/billing"
	"github.com/plateful/mealplanner-backend/pkg/db/models"
	"github.com/plateful/mealplanner-backend/pkg/enums"
	pkgerrors "github.com/plateful/mealplanner-backend/pkg/errors"
	"github.com/plateful/mealplanner-backend/pkg/logger"
)

// PlanLister describes the plan queries used by the HTTP controllers.
type PlanLister interface {
	ListBillingPlans(ctx context.Context, params billingrepo.ListBillingPlansQuery) ([]models.BillingPlan, error)
}

type billingPlanResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Status       string `json:"status"`
	IsDefault    bool   `json:"is_default"`
	TrialDays    int    `json:"trial_days"`
	Interval     string `json:"interval"`
	PriceAmount  string `json:"price_amount"`
	CurrencyCode string `json:"currency_code"`
	CreatedAt    string `json:"created_at"`
}

type billingPlanListResponse struct {
	Plans []billingPlanResponse `json:"plans"`
}

func billingPlanFromModel(plan models.BillingPlan) billingPlanResponse {
	return billingPlanResponse{
		ID:           plan.ID,
		Name:         plan.Name,
		Status:       string(plan.Status),
		IsDefault:    plan.IsDefault,
		TrialDays:    plan.TrialDays,
		Interval:     string(plan.Interval),
		PriceAmount:  plan.PriceAmount.StringFixed(2),
		CurrencyCode: plan.CurrencyCode,
		CreatedAt:    plan.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// ListPlans returns the active plans shown on the plan picker. Hidden and
// retired plans never leave the server.
func ListPlans(repo PlanLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if repo == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing repository unavailable"))
			return
		}

		status := enums.PlanStatusActive
		plans, err := repo.ListBillingPlans(ctx, billingrepo.ListBillingPlansQuery{Status: &status})
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list billing plans"))
			return
		}

		payload := billingPlanListResponse{Plans: make([]billingPlanResponse, 0, len(plans))}
		for _, plan := range plans {
			payload.Plans = append(payload.Plans, billingPlanFromModel(plan))
		}
		responses.WriteSuccess(w, payload)
	}
}
