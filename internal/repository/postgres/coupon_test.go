package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopdesk/coupon-service/internal/domain"
	"github.com/shopdesk/coupon-service/internal/repository"
	"github.com/shopdesk/coupon-service/pkg/database"
	apperrors "github.com/shopdesk/coupon-service/pkg/errors"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

var fixedNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func setupRepo(t *testing.T) (*CouponRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	repo := NewCouponRepository(mock)
	repo.now = func() time.Time { return fixedNow }
	return repo, mock
}

func ptr[T any](v T) *T { return &v }

func sampleCoupon() *domain.Coupon {
	return &domain.Coupon{
		ID:                "c0a8e7a2-1b7f-4c39-9a4e-0a5b2c1d3e4f",
		Code:              "SUMMER20",
		Description:       "20% off summer items",
		DiscountType:      domain.DiscountTypePercentage,
		DiscountValue:     20,
		MinPurchaseAmount: 5000,
		MaxDiscountAmount: ptr(int64(2500)),
		UsageLimit:        ptr(100),
		UsageLimitPerUser: ptr(1),
		StartDate:         ptr(fixedNow.AddDate(0, 0, -1)),
		EndDate:           ptr(fixedNow.AddDate(0, 1, 0)),
		IsActive:          true,
		UsedCount:         42,
		CreatedAt:         fixedNow,
		UpdatedAt:         fixedNow,
	}
}

func sampleUsage() *domain.CouponUsage {
	return &domain.CouponUsage{
		ID:             "usage-001",
		CouponID:       "c0a8e7a2-1b7f-4c39-9a4e-0a5b2c1d3e4f",
		UserID:         ptr("user-001"),
		OrderID:        "order-001",
		DiscountAmount: 1500,
		UsedAt:         fixedNow,
	}
}

func couponColumnNames() []string {
	return []string{
		"id", "code", "description", "discount_type", "discount_value",
		"min_purchase_amount", "max_discount_amount", "usage_limit", "usage_limit_per_user",
		"start_date", "end_date", "is_active", "used_count", "created_at", "updated_at",
	}
}

func couponValues(c *domain.Coupon) []any {
	return []any{
		c.ID, c.Code, c.Description, c.DiscountType, c.DiscountValue,
		c.MinPurchaseAmount, c.MaxDiscountAmount, c.UsageLimit, c.UsageLimitPerUser,
		c.StartDate, c.EndDate, c.IsActive, c.UsedCount, c.CreatedAt, c.UpdatedAt,
	}
}

func couponRow(c *domain.Coupon) *pgxmock.Rows {
	return pgxmock.NewRows(couponColumnNames()).AddRow(couponValues(c)...)
}

func insertArgs(c *domain.Coupon) []any {
	return couponValues(c)
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestCouponRepository_Create_Success(t *testing.T) {
	repo, mock := setupRepo(t)
	defer mock.Close()

	c := sampleCoupon()
	mock.ExpectExec("INSERT INTO coupons").
		WithArgs(insertArgs(c)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.Create(context.Background(), c)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCouponRepository_Create_UniqueViolation(t *testing.T) {
	repo, mock := setupRepo(t)
	defer mock.Close()

	c := sampleCoupon()
	mock.ExpectExec("INSERT INTO coupons").
		WithArgs(insertArgs(c)...).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})

	err := repo.Create(context.Background(), c)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCouponRepository_Create_ExecError(t *testing.T) {
	repo, mock := setupRepo(t)
	defer mock.Close()

	c := sampleCoupon()
	mock.ExpectExec("INSERT INTO coupons").
		WithArgs(insertArgs(c)...).
		WillReturnError(errors.New("connection refused"))

	err := repo.Create(context.Background(), c)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavail)
	assert.Contains(t, err.Error(), "insert coupon")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// Lookups
// ---------------------------------------------------------------------------

func TestCouponRepository_GetByID_Success(t *testing.T) {
	repo, mock := setupRepo(t)
	defer mock.Close()

	c := sampleCoupon()
	mock.ExpectQuery("FROM coupons WHERE id = ").
		WithArgs(c.ID).
		WillReturnRows(couponRow(c))

	got, err := repo.GetByID(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, c, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCouponRepository_GetByID_NotFound(t *testing.T) {
	repo, mock := setupRepo(t)
	defer mock.Close()

	mock.ExpectQuery("FROM coupons WHERE id = ").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	got, err := repo.GetByID(context.Background(), "missing")
	assert.Nil(t, got)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCouponRepository_FindByCode_CaseInsensitive(t *testing.T) {
	repo, mock := setupRepo(t)
	defer mock.Close()

	c := sampleCoupon()
	mock.ExpectQuery("WHERE lower.code. = lower").
		WithArgs("summer20").
		WillReturnRows(couponRow(c))

	got, err := repo.FindByCode(context.Background(), "summer20")
	require.NoError(t, err)
	assert.Equal(t, "SUMMER20", got.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCouponRepository_FindByCode_StoreFailure(t *testing.T) {
	repo, mock := setupRepo(t)
	defer mock.Close()

	mock.ExpectQuery("FROM coupons").
		WithArgs("X").
		WillReturnError(errors.New("conn closed"))

	_, err := repo.FindByCode(context.Background(), "X")
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavail)
	assert.NotErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCouponRepository_LoadForValidation(t *testing.T) {
	repo, mock := setupRepo(t)
	defer mock.Close()

	c := sampleCoupon()
	userID := ptr("user-001")
	cols := append(couponColumnNames(), "user_usage_count")
	mock.ExpectQuery("user_usage_count").
		WithArgs("SUMMER20", userID).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(append(couponValues(c), 1)...))

	snap, err := repo.LoadForValidation(context.Background(), "SUMMER20", userID)
	require.NoError(t, err)
	assert.Equal(t, c, snap.Coupon)
	assert.Equal(t, 1, snap.UserUsageCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCouponRepository_LoadForValidation_NotFound(t *testing.T) {
	repo, mock := setupRepo(t)
	defer mock.Close()

	mock.ExpectQuery("user_usage_count").
		WithArgs("NOPE", (*string)(nil)).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.LoadForValidation(context.Background(), "NOPE", nil)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCouponRepository_CountUsageByCouponAndUser(t *testing.T) {
	repo, mock := setupRepo(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT count.+ FROM coupon_usages WHERE coupon_id = .+ AND user_id").
		WithArgs("c-1", "u-1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	n, err := repo.CountUsageByCouponAndUser(context.Background(), "c-1", "u-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// RecordUsage
// ---------------------------------------------------------------------------

func TestConditionalIncrementSQL_GuardsUsageLimit(t *testing.T) {
	assert.Contains(t, conditionalIncrementSQL, "used_count = used_count + 1")
	assert.Contains(t, conditionalIncrementSQL, "usage_limit IS NULL OR used_count < usage_limit")
	assert.Contains(t, conditionalIncrementSQL, "AND is_active")
	assert.Contains(t, conditionalIncrementSQL, "RETURNING used_count")
	assert.Contains(t, insertUsageSQL, "ON CONFLICT (order_id) DO NOTHING")
}

func TestCouponRepository_RecordUsage_Recorded(t *testing.T) {
	repo, mock := setupRepo(t)
	defer mock.Close()

	u := sampleUsage()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(u.OrderID).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("UPDATE coupons").
		WithArgs(u.CouponID, fixedNow).
		WillReturnRows(pgxmock.NewRows([]string{"used_count", "usage_limit_per_user"}).AddRow(43, ptr(2)))
	mock.ExpectQuery("SELECT count").
		WithArgs(u.CouponID, *u.UserID).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("INSERT INTO coupon_usages").
		WithArgs(u.ID, u.CouponID, u.UserID, u.OrderID, u.DiscountAmount, u.UsedAt).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(u.ID))
	mock.ExpectCommit()

	out, err := repo.RecordUsage(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, domain.RecordStatusRecorded, out.Status)
	assert.Equal(t, 43, out.UsedCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCouponRepository_RecordUsage_AnonymousSkipsPerUserCheck(t *testing.T) {
	repo, mock := setupRepo(t)
	defer mock.Close()

	u := sampleUsage()
	u.UserID = nil
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(u.OrderID).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("UPDATE coupons").
		WithArgs(u.CouponID, fixedNow).
		WillReturnRows(pgxmock.NewRows([]string{"used_count", "usage_limit_per_user"}).AddRow(1, ptr(1)))
	mock.ExpectQuery("INSERT INTO coupon_usages").
		WithArgs(u.ID, u.CouponID, u.UserID, u.OrderID, u.DiscountAmount, u.UsedAt).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(u.ID))
	mock.ExpectCommit()

	out, err := repo.RecordUsage(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, domain.RecordStatusRecorded, out.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCouponRepository_RecordUsage_DuplicateOrder(t *testing.T) {
	repo, mock := setupRepo(t)
	defer mock.Close()

	u := sampleUsage()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(u.OrderID).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	out, err := repo.RecordUsage(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, domain.RecordStatusDuplicate, out.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCouponRepository_RecordUsage_MalformedCouponIDIsNotFound(t *testing.T) {
	repo, mock := setupRepo(t)
	defer mock.Close()

	u := sampleUsage()
	u.CouponID = "SUMMER20"
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(u.OrderID).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	out, err := repo.RecordUsage(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, domain.RecordStatusNotFound, out.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCouponRepository_RecordUsage_InsertConflictIsDuplicate(t *testing.T) {
	repo, mock := setupRepo(t)
	defer mock.Close()

	u := sampleUsage()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(u.OrderID).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("UPDATE coupons").
		WithArgs(u.CouponID, fixedNow).
		WillReturnRows(pgxmock.NewRows([]string{"used_count", "usage_limit_per_user"}).AddRow(5, (*int)(nil)))
	mock.ExpectQuery("INSERT INTO coupon_usages").
		WithArgs(u.ID, u.CouponID, u.UserID, u.OrderID, u.DiscountAmount, u.UsedAt).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	out, err := repo.RecordUsage(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, domain.RecordStatusDuplicate, out.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCouponRepository_RecordUsage_PerUserLimit(t *testing.T) {
	repo, mock := setupRepo(t)
	defer mock.Close()

	u := sampleUsage()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(u.OrderID).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("UPDATE coupons").
		WithArgs(u.CouponID, fixedNow).
		WillReturnRows(pgxmock.NewRows([]string{"used_count", "usage_limit_per_user"}).AddRow(7, ptr(1)))
	mock.ExpectQuery("SELECT count").
		WithArgs(u.CouponID, *u.UserID).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	out, err := repo.RecordUsage(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, domain.RecordStatusPerUserLimitReached, out.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCouponRepository_RecordUsage_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *domain.Coupon)
		want   domain.RecordStatus
	}{
		{"limit reached", func(c *domain.Coupon) { c.UsedCount = 100 }, domain.RecordStatusLimitReached},
		{"inactive", func(c *domain.Coupon) { c.IsActive = false }, domain.RecordStatusInactive},
		{"expired", func(c *domain.Coupon) { c.EndDate = ptr(fixedNow.Add(-time.Minute)) }, domain.RecordStatusExpired},
		{"not yet started", func(c *domain.Coupon) { c.StartDate = ptr(fixedNow.Add(time.Hour)) }, domain.RecordStatusNotYetStarted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := setupRepo(t)
			defer mock.Close()

			u := sampleUsage()
			c := sampleCoupon()
			tt.mutate(c)

			mock.ExpectBegin()
			mock.ExpectQuery("SELECT EXISTS").
				WithArgs(u.OrderID).
				WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
			mock.ExpectQuery("UPDATE coupons").
				WithArgs(u.CouponID, fixedNow).
				WillReturnError(pgx.ErrNoRows)
			mock.ExpectQuery("FROM coupons WHERE id = ").
				WithArgs(u.CouponID).
				WillReturnRows(couponRow(c))
			mock.ExpectRollback()

			out, err := repo.RecordUsage(context.Background(), u)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Status)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCouponRepository_RecordUsage_UnknownCoupon(t *testing.T) {
	repo, mock := setupRepo(t)
	defer mock.Close()

	u := sampleUsage()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(u.OrderID).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("UPDATE coupons").
		WithArgs(u.CouponID, fixedNow).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("FROM coupons WHERE id = ").
		WithArgs(u.CouponID).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	out, err := repo.RecordUsage(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, domain.RecordStatusNotFound, out.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCouponRepository_RecordUsage_StoreFailure(t *testing.T) {
	repo, mock := setupRepo(t)
	defer mock.Close()

	u := sampleUsage()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(u.OrderID).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("UPDATE coupons").
		WithArgs(u.CouponID, fixedNow).
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	out, err := repo.RecordUsage(context.Background(), u)
	assert.Nil(t, out)
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavail)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCouponRepository_RecordUsage_BeginFailure(t *testing.T) {
	repo, mock := setupRepo(t)
	defer mock.Close()

	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	_, err := repo.RecordUsage(context.Background(), sampleUsage())
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavail)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// List
// ---------------------------------------------------------------------------

func TestCouponRepository_List_Success(t *testing.T) {
	repo, mock := setupRepo(t)
	defer mock.Close()

	c := sampleCoupon()
	cols := append(couponColumnNames(), "total_count")
	mock.ExpectQuery("FROM coupons").
		WithArgs(20, 0).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(append(couponValues(c), 1)...))

	coupons, total, err := repo.List(context.Background(), repository.CouponFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, coupons, 1)
	assert.Equal(t, *c, coupons[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCouponRepository_List_WithFilters(t *testing.T) {
	repo, mock := setupRepo(t)
	defer mock.Close()

	mock.ExpectQuery("is_active = .+ AND discount_type = .+ AND .code ILIKE").
		WithArgs(true, domain.DiscountTypeFixedAmount, `%50\%%`, 10, 10).
		WillReturnRows(pgxmock.NewRows(append(couponColumnNames(), "total_count")))

	coupons, total, err := repo.List(context.Background(), repository.CouponFilter{
		IsActive:     ptr(true),
		DiscountType: ptr(domain.DiscountTypeFixedAmount),
		Search:       ptr("50%"),
		Page:         2,
		PerPage:      10,
	})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.NotNil(t, coupons)
	assert.Empty(t, coupons)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCouponRepository_List_QueryError(t *testing.T) {
	repo, mock := setupRepo(t)
	defer mock.Close()

	mock.ExpectQuery("FROM coupons").
		WithArgs(20, 0).
		WillReturnError(errors.New("connection reset"))

	_, _, err := repo.List(context.Background(), repository.CouponFilter{})
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavail)
	assert.Contains(t, err.Error(), "list coupons")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// Admin writes
// ---------------------------------------------------------------------------

func TestCouponRepository_Update_Success(t *testing.T) {
	repo, mock := setupRepo(t)
	defer mock.Close()

	c := sampleCoupon()
	mock.ExpectExec("UPDATE coupons").
		WithArgs(
			c.Code, c.Description, c.DiscountType, c.DiscountValue, c.MinPurchaseAmount,
			c.MaxDiscountAmount, c.UsageLimit, c.UsageLimitPerUser, c.StartDate, c.EndDate,
			c.IsActive, fixedNow, c.ID,
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := repo.Update(context.Background(), c)
	assert.NoError(t, err)
	assert.Equal(t, fixedNow, c.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateCouponSQL_NeverWritesUsedCount(t *testing.T) {
	assert.NotContains(t, updateCouponSQL, "used_count")
}

func TestCouponRepository_Update_NotFound(t *testing.T) {
	repo, mock := setupRepo(t)
	defer mock.Close()

	c := sampleCoupon()
	mock.ExpectExec("UPDATE coupons").
		WithArgs(
			c.Code, c.Description, c.DiscountType, c.DiscountValue, c.MinPurchaseAmount,
			c.MaxDiscountAmount, c.UsageLimit, c.UsageLimitPerUser, c.StartDate, c.EndDate,
			c.IsActive, fixedNow, c.ID,
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.Update(context.Background(), c)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCouponRepository_Delete(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		exists   *bool
		wantErr  error
	}{
		{"deleted", 1, nil, nil},
		{"missing", 0, ptr(false), apperrors.ErrNotFound},
		{"has usages", 0, ptr(true), apperrors.ErrConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := setupRepo(t)
			defer mock.Close()

			mock.ExpectExec("DELETE FROM coupons").
				WithArgs("c-1").
				WillReturnResult(pgxmock.NewResult("DELETE", tt.affected))
			if tt.exists != nil {
				mock.ExpectQuery("SELECT EXISTS").
					WithArgs("c-1").
					WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(*tt.exists))
			}

			err := repo.Delete(context.Background(), "c-1")
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCouponRepository_SetActive(t *testing.T) {
	repo, mock := setupRepo(t)
	defer mock.Close()

	c := sampleCoupon()
	c.IsActive = false
	mock.ExpectQuery("UPDATE coupons SET is_active").
		WithArgs(c.ID, false, fixedNow).
		WillReturnRows(couponRow(c))

	got, err := repo.SetActive(context.Background(), c.ID, false)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCouponRepository_SetActive_NotFound(t *testing.T) {
	repo, mock := setupRepo(t)
	defer mock.Close()

	mock.ExpectQuery("UPDATE coupons SET is_active").
		WithArgs("missing", true, fixedNow).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.SetActive(context.Background(), "missing", true)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCouponRepository_ResetUsedCount(t *testing.T) {
	repo, mock := setupRepo(t)
	defer mock.Close()

	mock.ExpectQuery("SET used_count = .SELECT count").
		WithArgs("c-1", fixedNow).
		WillReturnRows(pgxmock.NewRows([]string{"used_count"}).AddRow(12))

	n, err := repo.ResetUsedCount(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// Ledger reads
// ---------------------------------------------------------------------------

func TestCouponRepository_ListUsageHistory(t *testing.T) {
	repo, mock := setupRepo(t)
	defer mock.Close()

	u := sampleUsage()
	cols := []string{
		"id", "coupon_id", "user_id", "order_id", "discount_amount", "used_at",
		"display_name", "order_number", "total_count",
	}
	mock.ExpectQuery("LEFT JOIN users").
		WithArgs(u.CouponID, 20, 0).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(u.ID, u.CouponID, u.UserID, u.OrderID, u.DiscountAmount, u.UsedAt, ptr("Ada L."), ptr("ORD-1001"), 2).
			AddRow("usage-002", u.CouponID, (*string)(nil), "order-002", int64(300), u.UsedAt, (*string)(nil), (*string)(nil), 2))

	entries, total, err := repo.ListUsageHistory(context.Background(), u.CouponID, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, entries, 2)
	assert.Equal(t, "Ada L.", *entries[0].UserDisplayName)
	assert.Equal(t, "ORD-1001", *entries[0].OrderNumber)
	assert.Nil(t, entries[1].UserID)
	assert.Nil(t, entries[1].UserDisplayName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCouponRepository_ListUsageByCoupon(t *testing.T) {
	repo, mock := setupRepo(t)
	defer mock.Close()

	u := sampleUsage()
	mock.ExpectQuery("FROM coupon_usages").
		WithArgs(u.CouponID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "coupon_id", "user_id", "order_id", "discount_amount", "used_at"}).
			AddRow(u.ID, u.CouponID, u.UserID, u.OrderID, u.DiscountAmount, u.UsedAt))

	usages, err := repo.ListUsageByCoupon(context.Background(), u.CouponID)
	require.NoError(t, err)
	require.Len(t, usages, 1)
	assert.Equal(t, *u, usages[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCouponRepository_CountUsageByCoupon(t *testing.T) {
	repo, mock := setupRepo(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT count").
		WithArgs("c-1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))

	n, err := repo.CountUsageByCoupon(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.True(t, isUniqueViolation(fmt.Errorf("insert coupon: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, isUniqueViolation(errors.New("value 23505 out of range")))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("connection refused")))
	assert.False(t, isUniqueViolation(nil))
}
