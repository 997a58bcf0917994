package service

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/shopdesk/coupon-service/internal/domain"
	"github.com/shopdesk/coupon-service/internal/event"
	"github.com/shopdesk/coupon-service/internal/repository"
	apperrors "github.com/shopdesk/coupon-service/pkg/errors"
	pkgkafka "github.com/shopdesk/coupon-service/pkg/kafka"
)

// --- Mock Repository ---

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
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
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
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]domain.UsageHistoryEntry), args.Int(1), args.Error(2)
}

func (m *mockCouponRepository) ListUsageByCoupon(ctx context.Context, couponID string) ([]domain.CouponUsage, error) {
	args := m.Called(ctx, couponID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.CouponUsage), args.Error(1)
}

func (m *mockCouponRepository) CountUsageByCoupon(ctx context.Context, couponID string) (int, error) {
	args := m.Called(ctx, couponID)
	return args.Int(0), args.Error(1)
}

// --- In-memory store ---

// memoryStore is a CouponRepository whose RecordUsage holds one lock for
// the whole check-increment-insert sequence, like the row lock in Postgres.
type memoryStore struct {
	mu      sync.Mutex
	coupons map[string]*domain.Coupon
	usages  []domain.CouponUsage
	now     func() time.Time
}

var _ repository.CouponRepository = (*memoryStore)(nil)

func newMemoryStore(now func() time.Time) *memoryStore {
	return &memoryStore{coupons: make(map[string]*domain.Coupon), now: now}
}

func (s *memoryStore) Create(_ context.Context, c *domain.Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.coupons {
		if strings.EqualFold(existing.Code, c.Code) {
			return apperrors.AlreadyExists("coupon", "code", c.Code)
		}
	}
	cp := *c
	s.coupons[c.ID] = &cp
	return nil
}

func (s *memoryStore) GetByID(_ context.Context, id string) (*domain.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coupons[id]
	if !ok {
		return nil, apperrors.NotFound("coupon", id)
	}
	cp := *c
	return &cp, nil
}

func (s *memoryStore) findByCode(code string) *domain.Coupon {
	for _, c := range s.coupons {
		if strings.EqualFold(c.Code, code) {
			return c
		}
	}
	return nil
}

func (s *memoryStore) FindByCode(_ context.Context, code string) (*domain.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.findByCode(code)
	if c == nil {
		return nil, apperrors.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *memoryStore) countByUser(couponID, userID string) int {
	n := 0
	for _, u := range s.usages {
		if u.CouponID == couponID && u.UserID != nil && *u.UserID == userID {
			n++
		}
	}
	return n
}

func (s *memoryStore) LoadForValidation(_ context.Context, code string, userID *string) (*domain.ValidationSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.findByCode(code)
	if c == nil {
		return nil, apperrors.ErrNotFound
	}
	cp := *c
	snap := &domain.ValidationSnapshot{Coupon: &cp}
	if userID != nil {
		snap.UserUsageCount = s.countByUser(c.ID, *userID)
	}
	return snap, nil
}

func (s *memoryStore) CountUsageByCouponAndUser(_ context.Context, couponID, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countByUser(couponID, userID), nil
}

func (s *memoryStore) RecordUsage(_ context.Context, u *domain.CouponUsage) (*domain.RecordOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.usages {
		if existing.OrderID == u.OrderID {
			return &domain.RecordOutcome{Status: domain.RecordStatusDuplicate}, nil
		}
	}

	c, ok := s.coupons[u.CouponID]
	if !ok {
		return &domain.RecordOutcome{Status: domain.RecordStatusNotFound}, nil
	}
	if reason := c.Availability(s.now()); reason != "" {
		return &domain.RecordOutcome{Status: domain.RecordStatusFromReason(reason)}, nil
	}
	if c.UsageLimitReached() {
		return &domain.RecordOutcome{Status: domain.RecordStatusLimitReached}, nil
	}
	if limit := c.PerUserLimit(); u.UserID != nil && limit > 0 && s.countByUser(c.ID, *u.UserID) >= limit {
		return &domain.RecordOutcome{Status: domain.RecordStatusPerUserLimitReached}, nil
	}

	c.UsedCount++
	s.usages = append(s.usages, *u)
	return &domain.RecordOutcome{Status: domain.RecordStatusRecorded, UsedCount: c.UsedCount}, nil
}

func (s *memoryStore) List(_ context.Context, _ repository.CouponFilter) ([]domain.Coupon, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Coupon, 0, len(s.coupons))
	for _, c := range s.coupons {
		out = append(out, *c)
	}
	return out, len(out), nil
}

func (s *memoryStore) Update(_ context.Context, c *domain.Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.coupons[c.ID]
	if !ok {
		return apperrors.NotFound("coupon", c.ID)
	}
	cp := *c
	cp.UsedCount = existing.UsedCount
	s.coupons[c.ID] = &cp
	return nil
}

func (s *memoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.coupons[id]; !ok {
		return apperrors.NotFound("coupon", id)
	}
	for _, u := range s.usages {
		if u.CouponID == id {
			return apperrors.Conflict("coupon has recorded usages")
		}
	}
	delete(s.coupons, id)
	return nil
}

func (s *memoryStore) SetActive(_ context.Context, id string, active bool) (*domain.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coupons[id]
	if !ok {
		return nil, apperrors.NotFound("coupon", id)
	}
	c.IsActive = active
	cp := *c
	return &cp, nil
}

func (s *memoryStore) ResetUsedCount(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coupons[id]
	if !ok {
		return 0, apperrors.NotFound("coupon", id)
	}
	n := 0
	for _, u := range s.usages {
		if u.CouponID == id {
			n++
		}
	}
	c.UsedCount = n
	return n, nil
}

func (s *memoryStore) ListUsageHistory(ctx context.Context, couponID string, _, _ int) ([]domain.UsageHistoryEntry, int, error) {
	usages, _ := s.ListUsageByCoupon(ctx, couponID)
	entries := make([]domain.UsageHistoryEntry, 0, len(usages))
	for _, u := range usages {
		entries = append(entries, domain.UsageHistoryEntry{CouponUsage: u})
	}
	return entries, len(entries), nil
}

func (s *memoryStore) ListUsageByCoupon(_ context.Context, couponID string) ([]domain.CouponUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.CouponUsage{}
	for _, u := range s.usages {
		if u.CouponID == couponID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *memoryStore) CountUsageByCoupon(ctx context.Context, couponID string) (int, error) {
	usages, _ := s.ListUsageByCoupon(ctx, couponID)
	return len(usages), nil
}

// --- Event publisher ---

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, _ *pkgkafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return p.err
}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.topics...)
}

// --- Test Helpers ---

var testNow = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestProducer() (*event.Producer, *recordingPublisher) {
	pub := &recordingPublisher{}
	return event.NewProducer(pub, newTestLogger()), pub
}

func ptr[T any](v T) *T { return &v }

func activeCoupon(id, code string) *domain.Coupon {
	return &domain.Coupon{
		ID:            id,
		Code:          code,
		DiscountType:  domain.DiscountTypePercentage,
		DiscountValue: 10,
		IsActive:      true,
		CreatedAt:     testNow,
		UpdatedAt:     testNow,
	}
}
