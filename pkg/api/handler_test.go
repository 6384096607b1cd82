package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mihaimyh/payrecon/pkg/entitlement"
	"github.com/mihaimyh/payrecon/storage/memory"
)

const testUserID = "user123"

func newTestStore(t *testing.T) *memory.Storage {
	t.Helper()
	store := memory.New()
	ctx := context.Background()

	free := entitlement.NewProject(1, testUserID)
	if err := store.CreateProject(ctx, free); err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}

	sub := "sub_1"
	end := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
	paid := entitlement.NewProject(2, testUserID)
	paid.PlanType = entitlement.PlanSpotlight
	paid.SubscriptionID = &sub
	paid.SubscriptionStatus = entitlement.StatusActive
	paid.CurrentPeriodEnd = &end
	paid.Entitlements = entitlement.ForState(entitlement.PlanSpotlight, entitlement.StatusActive)
	if err := store.CreateProject(ctx, paid); err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	return store
}

func newRouter(t *testing.T, config Config) http.Handler {
	t.Helper()
	handler, err := NewHandler(config)
	if err != nil {
		t.Fatalf("NewHandler failed: %v", err)
	}
	r := chi.NewRouter()
	r.Get("/v1/projects/{projectID}/entitlements", handler.GetEntitlements)
	return r
}

func get(h http.Handler, path, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func defaultConfig(store entitlement.ProjectStore) Config {
	return Config{
		Store:        store,
		GetUserID:    FromHeader("X-User-ID"),
		GetProjectID: FromURLParam("projectID"),
	}
}

func TestHandler_GetEntitlements_Paid(t *testing.T) {
	h := newRouter(t, defaultConfig(newTestStore(t)))

	rec := get(h, "/v1/projects/2/entitlements", testUserID)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp EntitlementsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Plan != "Spotlight" || resp.Status != "active" {
		t.Errorf("Unexpected plan/status: %s/%s", resp.Plan, resp.Status)
	}
	if resp.Entitlements.SEOStatus != "active" || !resp.Entitlements.IsFeatured || !resp.Entitlements.IsSponsored {
		t.Errorf("Unexpected flags: %+v", resp.Entitlements)
	}
	if resp.Entitlements.SponsoredTier != "premium" {
		t.Errorf("Expected premium tier, got %q", resp.Entitlements.SponsoredTier)
	}
	if resp.CurrentPeriodEnd == nil {
		t.Error("Expected current_period_end")
	}
}

func TestHandler_GetEntitlements_Free(t *testing.T) {
	h := newRouter(t, defaultConfig(newTestStore(t)))

	rec := get(h, "/v1/projects/1/entitlements", testUserID)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var raw map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &raw)
	if raw["plan"] != "Free" || raw["status"] != "none" {
		t.Errorf("Unexpected response: %v", raw)
	}
	if _, ok := raw["current_period_end"]; ok {
		t.Error("current_period_end should be omitted")
	}
	flags := raw["entitlements"].(map[string]interface{})
	if _, ok := flags["sponsored_tier"]; ok {
		t.Error("sponsored_tier should be omitted for unsponsored projects")
	}
}

func TestHandler_GetEntitlements_Errors(t *testing.T) {
	h := newRouter(t, defaultConfig(newTestStore(t)))

	tests := []struct {
		name   string
		path   string
		user   string
		status int
	}{
		{"missing user", "/v1/projects/1/entitlements", "", http.StatusUnauthorized},
		{"bad id", "/v1/projects/abc/entitlements", testUserID, http.StatusBadRequest},
		{"not found", "/v1/projects/99/entitlements", testUserID, http.StatusNotFound},
		{"other owner", "/v1/projects/1/entitlements", "intruder", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(h, tt.path, tt.user)
			if rec.Code != tt.status {
				t.Errorf("Expected %d, got %d", tt.status, rec.Code)
			}
		})
	}
}

type failingStore struct{ entitlement.ProjectStore }

func (failingStore) GetProject(context.Context, int64) (*entitlement.Project, error) {
	return nil, errors.New("connection refused")
}

func TestHandler_GetEntitlements_StoreFailure(t *testing.T) {
	h := newRouter(t, defaultConfig(failingStore{}))

	rec := get(h, "/v1/projects/1/entitlements", testUserID)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", rec.Code)
	}
	if got := rec.Body.String(); got != "{\"error\":\"internal error\"}\n" {
		t.Errorf("Internal error details leaked: %s", got)
	}
}

func TestHandler_CustomOnError(t *testing.T) {
	config := defaultConfig(newTestStore(t))
	var gotStatus int
	config.OnError = func(w http.ResponseWriter, _ *http.Request, _ error, status int) {
		gotStatus = status
		w.WriteHeader(http.StatusTeapot)
	}
	h := newRouter(t, config)

	rec := get(h, "/v1/projects/1/entitlements", "")
	if rec.Code != http.StatusTeapot || gotStatus != http.StatusUnauthorized {
		t.Errorf("OnError not used: code=%d status=%d", rec.Code, gotStatus)
	}
}

func TestNewHandler_Validation(t *testing.T) {
	store := memory.New()
	cases := []Config{
		{GetUserID: FromHeader("X"), GetProjectID: FromURLParam("id")},
		{Store: store, GetProjectID: FromURLParam("id")},
		{Store: store, GetUserID: FromHeader("X")},
	}
	for _, c := range cases {
		if _, err := NewHandler(c); err == nil {
			t.Errorf("Expected validation error for %+v", c)
		}
	}
}

func TestFromContext(t *testing.T) {
	type ctxKey struct{}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), ctxKey{}, "u9"))
	if got := FromContext(ctxKey{})(req); got != "u9" {
		t.Errorf("Expected u9, got %q", got)
	}
}
