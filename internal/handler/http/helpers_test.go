package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/shopdesk/coupon-service/internal/auth"
	"github.com/shopdesk/coupon-service/internal/domain"
	"github.com/shopdesk/coupon-service/internal/event"
	"github.com/shopdesk/coupon-service/internal/repository"
	"github.com/shopdesk/coupon-service/internal/service"
	"github.com/shopdesk/coupon-service/pkg/health"
	"github.com/shopdesk/coupon-service/pkg/middleware"
)

// ============================================================================
// Mock repository
// ============================================================================

type mockCouponRepository struct {
	mock.Mock
}

func (m *mockCouponRepository) Create(ctx context.Context, c *domain.Coupon) error {
	return m.Called(ctx, c).Error(0)
}

func (m *mockCouponRepository) GetByID(ctx context.Context, id string) (*domain.Coupon, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Coupon), args.Error(1)
}

func (m *mockCouponRepository) FindByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Coupon), args.Error(1)
}

func (m *mockCouponRepository) LoadForValidation(ctx context.Context, code string, userID *string) (*domain.ValidationSnapshot, error) {
	args := m.Called(ctx, code, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ValidationSnapshot), args.Error(1)
}

func (m *mockCouponRepository) CountUsageByCouponAndUser(ctx context.Context, couponID, userID string) (int, error) {
	args := m.Called(ctx, couponID, userID)
	return args.Int(0), args.Error(1)
}

func (m *mockCouponRepository) RecordUsage(ctx context.Context, u *domain.CouponUsage) (*domain.RecordOutcome, error) {
	args := m.Called(ctx, u)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RecordOutcome), args.Error(1)
}

func (m *mockCouponRepository) List(ctx context.Context, filter repository.CouponFilter) ([]domain.Coupon, int, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]domain.Coupon), args.Int(1), args.Error(2)
}

func (m *mockCouponRepository) Update(ctx context.Context, c *domain.Coupon) error {
	return m.Called(ctx, c).Error(0)
}

func (m *mockCouponRepository) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockCouponRepository) SetActive(ctx context.Context, id string, active bool) (*domain.Coupon, error) {
	args := m.Called(ctx, id, active)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Coupon), args.Error(1)
}

func (m *mockCouponRepository) ResetUsedCount(ctx context.Context, id string) (int, error) {
	args := m.Called(ctx, id)
	return args.Int(0), args.Error(1)
}

func (m *mockCouponRepository) ListUsageHistory(ctx context.Context, couponID string, page, perPage int) ([]domain.UsageHistoryEntry, int, error) {
	args := m.Called(ctx, couponID, page, perPage)
	return args.Get(0).([]domain.UsageHistoryEntry), args.Int(1), args.Error(2)
}

func (m *mockCouponRepository) ListUsageByCoupon(ctx context.Context, couponID string) ([]domain.CouponUsage, error) {
	args := m.Called(ctx, couponID)
	return args.Get(0).([]domain.CouponUsage), args.Error(1)
}

func (m *mockCouponRepository) CountUsageByCoupon(ctx context.Context, couponID string) (int, error) {
	args := m.Called(ctx, couponID)
	return args.Int(0), args.Error(1)
}

// ============================================================================
// Revocation store
// ============================================================================

type memoryRevocations struct {
	mu      sync.Mutex
	revoked map[string]bool
}

func (m *memoryRevocations) Revoke(_ context.Context, tokenID string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.revoked == nil {
		m.revoked = make(map[string]bool)
	}
	m.revoked[tokenID] = true
	return nil
}

func (m *memoryRevocations) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revoked[tokenID], nil
}

// ============================================================================
// Test helpers
// ============================================================================

const (
	testAdminEmail    = "admin@shopdesk.test"
	testAdminPassword = "s3cret-password"
	testCouponID      = "6f1c2b1e-8a7d-4c3e-9f0a-2b5d7e9c1a34"
)

var testNow = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	repo   *mockCouponRepository
	authz  *service.AuthService
	router http.Handler
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestEnv(t *testing.T, tweak ...func(*RouterDeps)) *testEnv {
	t.Helper()
	logger := testLogger()
	repo := new(mockCouponRepository)
	producer := event.NewProducer(nil, logger)

	hash, err := bcrypt.GenerateFromPassword([]byte(testAdminPassword), bcrypt.MinCost)
	require.NoError(t, err)
	authSvc := service.NewAuthService(
		auth.NewTokenManager("handler-test-secret-0123456789abcdef", time.Hour),
		&memoryRevocations{},
		service.AdminAccount{Email: testAdminEmail, PasswordHash: string(hash)},
		logger,
	)

	reg := prometheus.NewRegistry()
	deps := RouterDeps{
		Validator: service.NewValidatorService(repo, service.NewMetrics(reg), logger, func() time.Time { return testNow }),
		Recorder:  service.NewRecorderService(repo, producer, service.NewMetrics(prometheus.NewRegistry()), logger),
		Admin:     service.NewAdminService(repo, producer, logger),
		Auth:      authSvc,
		Health:    health.NewHandler(),
		Metrics:   middleware.NewHTTPMetrics(reg, ServiceName),
		Gatherer:  reg,
	}
	for _, fn := range tweak {
		fn(&deps)
	}

	return &testEnv{repo: repo, authz: authSvc, router: NewRouter(deps, logger)}
}

func (e *testEnv) adminToken(t *testing.T) string {
	t.Helper()
	result, err := e.authz.Login(context.Background(), testAdminEmail, testAdminPassword)
	require.NoError(t, err)
	return result.AccessToken
}

func (e *testEnv) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	env := decodeEnvelope(t, rec)
	require.NotNil(t, env.Data, rec.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, dst))
}

func ptr[T any](v T) *T { return &v }

func jsonUnmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }

func sampleCoupon() *domain.Coupon {
	return &domain.Coupon{
		ID:                testCouponID,
		Code:              "SAVE20",
		Description:       "Twenty percent off",
		DiscountType:      domain.DiscountTypePercentage,
		DiscountValue:     20,
		MinPurchaseAmount: 500,
		MaxDiscountAmount: ptr(int64(50)),
		IsActive:          true,
		CreatedAt:         testNow,
		UpdatedAt:         testNow,
	}
}
