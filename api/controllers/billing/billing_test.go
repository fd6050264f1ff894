package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/plateful/mealplanner-backend/api/middleware"
	billingrepo "github.com/plateful/mealplanner-backend/internal/billing"
	checkoutsvc "github.com/plateful/mealplanner-backend/internal/checkout"
	entitlementsvc "github.com/plateful/mealplanner-backend/internal/entitlements"
	"github.com/plateful/mealplanner-backend/pkg/db/models"
	"github.com/plateful/mealplanner-backend/pkg/enums"
	pkgerrors "github.com/plateful/mealplanner-backend/pkg/errors"
)

func TestListPlansReturnsActivePlans(t *testing.T) {
	lister := &fakePlanLister{plans: []models.BillingPlan{
		{
			ID:           "plan_monthly",
			Name:         "Monthly",
			Status:       enums.PlanStatusActive,
			IsDefault:    true,
			Interval:     enums.BillingIntervalMonthly,
			PriceAmount:  decimal.NewFromFloat(9.99),
			CurrencyCode: "USD",
			CreatedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}}
	handler := ListPlans(lister, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/billing/plans", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if lister.query.Status == nil || *lister.query.Status != enums.PlanStatusActive {
		t.Fatalf("expected active status filter, got %+v", lister.query.Status)
	}
	var envelope struct {
		Data billingPlanListResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(envelope.Data.Plans) != 1 {
		t.Fatalf("expected 1 plan, got %d", len(envelope.Data.Plans))
	}
	plan := envelope.Data.Plans[0]
	if plan.ID != "plan_monthly" || plan.PriceAmount != "9.99" {
		t.Fatalf("unexpected plan payload: %+v", plan)
	}
}

func TestStartCheckoutCreatesSession(t *testing.T) {
	userID := uuid.New()
	svc := &fakeCheckoutService{session: &checkoutsvc.SessionDTO{
		SessionID: "cs_test_123",
		URL:       "https://checkout.stripe.com/c/pay/cs_test_123",
		PlanID:    "plan_monthly",
	}}
	handler := StartCheckout(svc, nil)

	body := bytes.NewBufferString(`{"plan_id":"plan_monthly"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/checkout", body)
	req = req.WithContext(middleware.WithUserID(req.Context(), userID.String()))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.userID != userID || svc.planID != "plan_monthly" {
		t.Fatalf("unexpected service call: user=%s plan=%s", svc.userID, svc.planID)
	}
	if !strings.Contains(rec.Body.String(), "cs_test_123") {
		t.Fatalf("session id missing from response: %s", rec.Body.String())
	}
}

func TestStartCheckoutAllowsEmptyBody(t *testing.T) {
	userID := uuid.New()
	svc := &fakeCheckoutService{session: &checkoutsvc.SessionDTO{SessionID: "cs_1", URL: "https://example", PlanID: "plan_default"}}
	handler := StartCheckout(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/checkout", nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), userID.String()))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.planID != "" {
		t.Fatalf("expected empty plan id, got %s", svc.planID)
	}
}

func TestStartCheckoutRequiresIdentity(t *testing.T) {
	svc := &fakeCheckoutService{}
	handler := StartCheckout(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/checkout", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if svc.calls != 0 {
		t.Fatalf("service should not be called without identity")
	}
}

func TestStartCheckoutMapsServiceConflict(t *testing.T) {
	svc := &fakeCheckoutService{err: pkgerrors.New(pkgerrors.CodeStateConflict, "subscription already active")}
	handler := StartCheckout(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/checkout", nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), uuid.NewString()))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestGetEntitlementReturnsSnapshot(t *testing.T) {
	userID := uuid.New()
	svc := &fakeEntitlementService{dto: &entitlementsvc.EntitlementDTO{
		UserID:   userID,
		Entitled: true,
		Status:   "active",
		PlanID:   "plan_monthly",
	}}
	handler := GetEntitlement(svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/billing/entitlement", nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), userID.String()))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.userID != userID {
		t.Fatalf("expected lookup for %s, got %s", userID, svc.userID)
	}
	if !strings.Contains(rec.Body.String(), `"entitled":true`) {
		t.Fatalf("entitled flag missing: %s", rec.Body.String())
	}
}

func TestGetEntitlementRequiresIdentity(t *testing.T) {
	handler := GetEntitlement(&fakeEntitlementService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/billing/entitlement", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

type fakePlanLister struct {
	plans []models.BillingPlan
	query billingrepo.ListBillingPlansQuery
	err   error
}

func (f *fakePlanLister) ListBillingPlans(_ context.Context, params billingrepo.ListBillingPlansQuery) ([]models.BillingPlan, error) {
	f.query = params
	if f.err != nil {
		return nil, f.err
	}
	return f.plans, nil
}

type fakeCheckoutService struct {
	session *checkoutsvc.SessionDTO
	err     error
	userID  uuid.UUID
	planID  string
	calls   int
}

func (f *fakeCheckoutService) StartCheckout(_ context.Context, userID uuid.UUID, planID string) (*checkoutsvc.SessionDTO, error) {
	f.calls++
	f.userID = userID
	f.planID = planID
	if f.err != nil {
		return nil, f.err
	}
	if f.session == nil {
		return nil, errors.New("no session configured")
	}
	return f.session, nil
}

type fakeEntitlementService struct {
	dto    *entitlementsvc.EntitlementDTO
	err    error
	userID uuid.UUID
}

func (f *fakeEntitlementService) GetEntitlement(_ context.Context, userID uuid.UUID) (*entitlementsvc.EntitlementDTO, error) {
	f.userID = userID
	if f.err != nil {
		return nil, f.err
	}
	return f.dto, nil
}

type fakePlanAdminStore struct {
	existing *models.BillingPlan
	findErr  error
	created  *models.BillingPlan
	updated  *models.BillingPlan
	writeErr error
}

func (f *fakePlanAdminStore) CreateBillingPlan(_ context.Context, plan *models.BillingPlan) error {
	f.created = plan
	return f.writeErr
}

func (f *fakePlanAdminStore) UpdateBillingPlan(_ context.Context, plan *models.BillingPlan) error {
	f.updated = plan
	return f.writeErr
}

func (f *fakePlanAdminStore) FindBillingPlanByID(_ context.Context, id string) (*models.BillingPlan, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	if f.existing != nil && f.existing.ID == id {
		return f.existing, nil
	}
	return nil, nil
}

func planUpsertBody() string {
	return `{"id":"plan_yearly","name":"Yearly","status":"active","stripe_price_id":"price_year_1","is_default":false,"trial_days":14,"interval":"year","price_amount":"99.00","currency_code":"USD"}`
}

func TestCreatePlanPersistsCatalogEntry(t *testing.T) {
	store := &fakePlanAdminStore{}
	handler := CreatePlan(store, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/plans", strings.NewReader(planUpsertBody()))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	if store.created == nil {
		t.Fatal("expected plan to be created")
	}
	if store.created.ID != "plan_yearly" || store.created.Status != enums.PlanStatusActive {
		t.Fatalf("unexpected plan: %+v", store.created)
	}
	if store.created.Interval != enums.BillingIntervalYearly {
		t.Fatalf("unexpected interval: %s", store.created.Interval)
	}
	if !store.created.PriceAmount.Equal(decimal.RequireFromString("99.00")) {
		t.Fatalf("unexpected price: %s", store.created.PriceAmount)
	}
}

func TestCreatePlanRejectsDuplicateID(t *testing.T) {
	store := &fakePlanAdminStore{existing: &models.BillingPlan{ID: "plan_yearly"}}
	handler := CreatePlan(store, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/plans", strings.NewReader(planUpsertBody()))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (%s)", rec.Code, rec.Body.String())
	}
	if store.created != nil {
		t.Fatal("duplicate plan must not be written")
	}
}

func TestCreatePlanRejectsUnknownStatus(t *testing.T) {
	store := &fakePlanAdminStore{}
	handler := CreatePlan(store, nil)

	body := `{"id":"plan_x","name":"X","status":"paused","stripe_price_id":"price_x","interval":"month","price_amount":"5.00","currency_code":"USD"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/plans", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (%s)", rec.Code, rec.Body.String())
	}
	if store.created != nil {
		t.Fatal("invalid plan must not be written")
	}
}

func TestUpdatePlanRewritesExisting(t *testing.T) {
	createdAt := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	store := &fakePlanAdminStore{existing: &models.BillingPlan{ID: "plan_yearly", Name: "Old", CreatedAt: createdAt}}
	handler := UpdatePlan(store, nil)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/billing/plans/plan_yearly", strings.NewReader(planUpsertBody()))
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("planID", "plan_yearly")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if store.updated == nil {
		t.Fatal("expected plan to be updated")
	}
	if store.updated.Name != "Yearly" {
		t.Fatalf("unexpected name: %s", store.updated.Name)
	}
	if !store.updated.CreatedAt.Equal(createdAt) {
		t.Fatalf("created_at must survive an update, got %s", store.updated.CreatedAt)
	}
}

func TestUpdatePlanMissingReturnsNotFound(t *testing.T) {
	store := &fakePlanAdminStore{}
	handler := UpdatePlan(store, nil)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/billing/plans/plan_ghost", strings.NewReader(planUpsertBody()))
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("planID", "plan_ghost")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d (%s)", rec.Code, rec.Body.String())
	}
	if store.updated != nil {
		t.Fatal("missing plan must not be written")
	}
}
