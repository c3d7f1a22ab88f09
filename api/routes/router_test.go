package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pitchside/pitchside-backend/internal/billing"
	checkoutsvc "github.com/pitchside/pitchside-backend/internal/checkout"
	reconcilesvc "github.com/pitchside/pitchside-backend/internal/reconcile"
	subscriptionsvc "github.com/pitchside/pitchside-backend/internal/subscriptions"
	pkgAuth "github.com/pitchside/pitchside-backend/pkg/auth"
	"github.com/pitchside/pitchside-backend/pkg/config"
	"github.com/pitchside/pitchside-backend/pkg/db/models"
	"github.com/pitchside/pitchside-backend/pkg/enums"
	"github.com/pitchside/pitchside-backend/pkg/logger"
	"github.com/pitchside/pitchside-backend/pkg/pagination"
	"github.com/stripe/stripe-go/v84"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

type stubRedis struct {
	mu     sync.Mutex
	values map[string]string
}

func newStubRedis() *stubRedis {
	return &stubRedis{values: make(map[string]string)}
}

func (s *stubRedis) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[key]
	if !ok {
		return "", goredis.Nil
	}
	return value, nil
}

func (s *stubRedis) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; ok {
		return false, nil
	}
	s.values[key] = fmt.Sprintf("%v", value)
	return true, nil
}

func (s *stubRedis) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.values, key)
	}
	return nil
}

func (s *stubRedis) IdempotencyKey(scope, id string) string {
	return "ps:idempotency:" + scope + ":" + id
}

func (s *stubRedis) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := int64(1)
	if raw, ok := s.values[key]; ok {
		fmt.Sscanf(raw, "%d", &count)
		count++
	}
	s.values[key] = fmt.Sprintf("%d", count)
	return count, nil
}

func (s *stubRedis) Ping(context.Context) error {
	return nil
}

type stubPlanCatalog struct {
	plans []models.Plan
}

func (s stubPlanCatalog) Resolve(ctx context.Context, identifier string) (*models.Plan, error) {
	for i := range s.plans {
		if s.plans[i].Code == identifier || s.plans[i].ID.String() == identifier {
			return &s.plans[i], nil
		}
	}
	return nil, nil
}

func (s stubPlanCatalog) List(ctx context.Context, status *enums.PlanStatus) ([]models.Plan, error) {
	return s.plans, nil
}

type stubSubscriptionService struct {
	active *models.Subscription
}

func (s stubSubscriptionService) Upgrade(ctx context.Context, academyID uuid.UUID, input subscriptionsvc.UpgradeInput) (*subscriptionsvc.UpgradeResult, error) {
	return nil, fmt.Errorf("not implemented")
}

func (s stubSubscriptionService) Cancel(ctx context.Context, academyID uuid.UUID, input subscriptionsvc.CancelInput) error {
	return fmt.Errorf("not implemented")
}

func (s stubSubscriptionService) GetActive(ctx context.Context, academyID uuid.UUID) (*models.Subscription, error) {
	return s.active, nil
}

type stubCheckoutService struct{}

func (stubCheckoutService) Initiate(ctx context.Context, academyID uuid.UUID, input checkoutsvc.InitiateInput) (*checkoutsvc.Session, error) {
	return &checkoutsvc.Session{SessionID: "cs_test_1", URL: "https://checkout.stripe.com/c/pay/cs_test_1"}, nil
}

type stubBillingRepo struct{}

func (stubBillingRepo) ListPayments(ctx context.Context, params billing.ListPaymentsQuery) ([]models.Payment, *pagination.Cursor, error) {
	return nil, nil, nil
}

func (stubBillingRepo) ListSubscriptionsByAcademy(ctx context.Context, academyID uuid.UUID) ([]models.Subscription, error) {
	return nil, nil
}

func (stubBillingRepo) ListHistoryBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]models.SubscriptionHistory, error) {
	return nil, nil
}

type stubReconciler struct{}

func (stubReconciler) Validate(ctx context.Context, academyID uuid.UUID) (*reconcilesvc.ValidationResult, error) {
	return &reconcilesvc.ValidationResult{Consistent: true}, nil
}

func (stubReconciler) Sync(ctx context.Context, academyID uuid.UUID) (*reconcilesvc.SyncResult, error) {
	return &reconcilesvc.SyncResult{}, nil
}

func (stubReconciler) Refresh(ctx context.Context, academyID uuid.UUID) (*reconcilesvc.RefreshResult, error) {
	return &reconcilesvc.RefreshResult{}, nil
}

type stubWebhookService struct{}

func (stubWebhookService) HandleEvent(ctx context.Context, event *stripe.Event) error {
	return nil
}

type stubWebhookGuard struct{}

func (stubWebhookGuard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	return true, nil
}

func (stubWebhookGuard) Delete(ctx context.Context, eventID string) error {
	return nil
}

type stubStripeSigner struct{}

func (stubStripeSigner) SigningSecret() string {
	return "whsec_test"
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test", Port: "8080"},
		JWT: config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 10},
		RateLimit: config.RateLimitConfig{
			CheckoutWindow:       time.Minute,
			CheckoutIPLimit:      30,
			CheckoutAcademyLimit: 10,
		},
	}
}

func newTestRouter(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	return NewRouter(Deps{
		Config:        cfg,
		Logger:        logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		DBPinger:      stubPinger{},
		Redis:         newStubRedis(),
		PlanCatalog:   stubPlanCatalog{plans: []models.Plan{{ID: uuid.New(), Code: "starter", Name: "Starter", Status: enums.PlanStatusActive}}},
		Subscriptions: stubSubscriptionService{},
		Checkout:      stubCheckoutService{},
		BillingRepo:   stubBillingRepo{},
		Reconciler:    stubReconciler{},
		StripeClient:  stubStripeSigner{},
		WebhookSvc:    stubWebhookService{},
		WebhookGuard:  stubWebhookGuard{},
	})
}

func bearerToken(t *testing.T, cfg *config.Config, academyID *uuid.UUID, role enums.UserRole) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(cfg.JWT, time.Now(), pkgAuth.AccessTokenPayload{
		UserID:    uuid.New(),
		AcademyID: academyID,
		Role:      role,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return "Bearer " + token
}

func TestRouterPublicEndpoints(t *testing.T) {
	router := newTestRouter(t, testConfig())

	for _, path := range []string{"/health/live", "/health/ready", "/api/public/ping"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		if resp.Code != http.StatusOK {
			t.Fatalf("GET %s: expected 200 got %d", path, resp.Code)
		}
	}
}

func TestRouterRequiresAuth(t *testing.T) {
	router := newTestRouter(t, testConfig())

	cases := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/ping"},
		{http.MethodGet, "/api/v1/plans"},
		{http.MethodGet, "/api/v1/billing/payments"},
		{http.MethodGet, "/api/v1/billing/subscription"},
		{http.MethodPost, "/api/v1/billing/checkout"},
		{http.MethodGet, "/api/admin/ping"},
		{http.MethodGet, "/api/admin/v1/plans"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		if resp.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401 got %d", tc.method, tc.path, resp.Code)
		}
	}
}

func TestRouterAcademyRoutesNeedBinding(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/plans", nil)
	req.Header.Set("Authorization", bearerToken(t, cfg, nil, enums.UserRoleAdmin))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for token without academy, got %d", resp.Code)
	}

	academyID := uuid.New()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/plans", nil)
	req.Header.Set("Authorization", bearerToken(t, cfg, &academyID, enums.UserRoleStaff))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for academy-bound token, got %d", resp.Code)
	}
}

func TestRouterAdminRoutesEnforceRole(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(t, cfg)
	academyID := uuid.New()

	req := httptest.NewRequest(http.MethodGet, "/api/admin/v1/plans", nil)
	req.Header.Set("Authorization", bearerToken(t, cfg, &academyID, enums.UserRoleStaff))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for staff on admin route, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/admin/v1/plans", nil)
	req.Header.Set("Authorization", bearerToken(t, cfg, nil, enums.UserRoleAdmin))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin on admin route, got %d", resp.Code)
	}
}

func TestRouterReconcileEndpoints(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(t, cfg)
	academyID := uuid.New()

	req := httptest.NewRequest(http.MethodGet, "/api/admin/v1/academies/"+academyID.String()+"/reconcile/validate", nil)
	req.Header.Set("Authorization", bearerToken(t, cfg, nil, enums.UserRoleAdmin))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}

	var payload struct {
		Data struct {
			Consistent bool `json:"consistent"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !payload.Data.Consistent {
		t.Fatalf("expected consistent validation result")
	}
}

func TestRouterCheckoutRequiresIdempotencyKey(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(t, cfg)
	academyID := uuid.New()

	body := bytes.NewBufferString(`{"plan":"starter"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/checkout", body)
	req.Header.Set("Authorization", bearerToken(t, cfg, &academyID, enums.UserRoleStaff))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without Idempotency-Key, got %d", resp.Code)
	}
}

func TestRouterCheckoutFlow(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(t, cfg)
	academyID := uuid.New()
	token := bearerToken(t, cfg, &academyID, enums.UserRoleStaff)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/checkout", bytes.NewBufferString(`{"plan":"starter"}`))
		req.Header.Set("Authorization", token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", "key-1")
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		return resp
	}

	first := send()
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", first.Code, first.Body.String())
	}

	second := send()
	if second.Code != http.StatusCreated {
		t.Fatalf("expected replayed 201 got %d", second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("expected identical replayed body")
	}
}
