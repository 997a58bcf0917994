package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/shopdesk/coupon-service/internal/domain"
	"github.com/shopdesk/coupon-service/internal/repository"
	"github.com/shopdesk/coupon-service/pkg/database"
	apperrors "github.com/shopdesk/coupon-service/pkg/errors"
	"github.com/shopdesk/coupon-service/pkg/pagination"
)

const couponColumns = `id, code, description, discount_type, discount_value,
	min_purchase_amount, max_discount_amount, usage_limit, usage_limit_per_user,
	start_date, end_date, is_active, used_count, created_at, updated_at`

const (
	insertCouponSQL = `
		INSERT INTO coupons (` + couponColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	getCouponByIDSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`

	findCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE lower(code) = lower($1)`

	loadForValidationSQL = `
		SELECT ` + couponColumns + `,
			(SELECT count(*) FROM coupon_usages u
			 WHERE u.coupon_id = coupons.id AND u.user_id = $2) AS user_usage_count
		FROM coupons
		WHERE lower(code) = lower($1)`

	countUsageByUserSQL = `SELECT count(*) FROM coupon_usages WHERE coupon_id = $1 AND user_id = $2`

	countUsageSQL = `SELECT count(*) FROM coupon_usages WHERE coupon_id = $1`

	usageExistsSQL = `SELECT EXISTS(SELECT 1 FROM coupon_usages WHERE order_id = $1)`

	// The row lock taken here serializes concurrent redemptions of a coupon
	// until the surrounding transaction ends.
	conditionalIncrementSQL = `
		UPDATE coupons
		SET used_count = used_count + 1, updated_at = $2
		WHERE id = $1
		  AND is_active
		  AND (start_date IS NULL OR start_date <= $2)
		  AND (end_date IS NULL OR end_date >= $2)
		  AND (usage_limit IS NULL OR used_count < usage_limit)
		RETURNING used_count, usage_limit_per_user`

	insertUsageSQL = `
		INSERT INTO coupon_usages (id, coupon_id, user_id, order_id, discount_amount, used_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (order_id) DO NOTHING
		RETURNING id`

	updateCouponSQL = `
		UPDATE coupons
		SET code = $1, description = $2, discount_type = $3, discount_value = $4,
		    min_purchase_amount = $5, max_discount_amount = $6, usage_limit = $7,
		    usage_limit_per_user = $8, start_date = $9, end_date = $10, is_active = $11,
		    updated_at = $12
		WHERE id = $13`

	deleteCouponSQL = `
		DELETE FROM coupons
		WHERE id = $1
		  AND NOT EXISTS (SELECT 1 FROM coupon_usages WHERE coupon_id = $1)`

	couponExistsSQL = `SELECT EXISTS(SELECT 1 FROM coupons WHERE id = $1)`

	setActiveSQL = `
		UPDATE coupons SET is_active = $2, updated_at = $3
		WHERE id = $1
		RETURNING ` + couponColumns

	resetUsedCountSQL = `
		UPDATE coupons
		SET used_count = (SELECT count(*) FROM coupon_usages u WHERE u.coupon_id = coupons.id),
		    updated_at = $2
		WHERE id = $1
		RETURNING used_count`

	listUsageHistorySQL = `
		SELECT cu.id, cu.coupon_id, cu.user_id, cu.order_id, cu.discount_amount, cu.used_at,
		       usr.display_name, o.order_number,
		       count(*) OVER() AS total_count
		FROM coupon_usages cu
		LEFT JOIN users usr ON usr.id::text = cu.user_id
		LEFT JOIN orders o ON o.id::text = cu.order_id
		WHERE cu.coupon_id = $1
		ORDER BY cu.used_at DESC
		LIMIT $2 OFFSET $3`

	listUsageByCouponSQL = `
		SELECT id, coupon_id, user_id, order_id, discount_amount, used_at
		FROM coupon_usages
		WHERE coupon_id = $1
		ORDER BY used_at`
)

// CouponRepository implements repository.CouponRepository using PostgreSQL.
type CouponRepository struct {
	db  database.DBTX
	now func() time.Time
}

var _ repository.CouponRepository = (*CouponRepository)(nil)

// NewCouponRepository creates a new PostgreSQL-backed coupon repository.
func NewCouponRepository(db database.DBTX) *CouponRepository {
	return &CouponRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Create inserts a new coupon into the database.
func (r *CouponRepository) Create(ctx context.Context, c *domain.Coupon) (err error) {
	ctx, end := database.TraceQuery(ctx, "CreateCoupon", insertCouponSQL)
	defer func() { end(err) }()

	_, err = r.db.Exec(ctx, insertCouponSQL,
		c.ID,
		c.Code,
		c.Description,
		c.DiscountType,
		c.DiscountValue,
		c.MinPurchaseAmount,
		c.MaxDiscountAmount,
		c.UsageLimit,
		c.UsageLimitPerUser,
		c.StartDate,
		c.EndDate,
		c.IsActive,
		c.UsedCount,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("coupon", "code", c.Code)
		}
		return storeError("insert coupon", err)
	}

	return nil
}

// GetByID retrieves a coupon by its ID.
func (r *CouponRepository) GetByID(ctx context.Context, id string) (c *domain.Coupon, err error) {
	ctx, end := database.TraceQuery(ctx, "GetCoupon", getCouponByIDSQL)
	defer func() { end(err) }()

	c, err = scanCoupon(r.db.QueryRow(ctx, getCouponByIDSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("coupon", id)
		}
		return nil, storeError("get coupon", err)
	}
	return c, nil
}

// FindByCode retrieves a coupon by code, ignoring case.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (c *domain.Coupon, err error) {
	ctx, end := database.TraceQuery(ctx, "FindCouponByCode", findCouponByCodeSQL)
	defer func() { end(err) }()

	c, err = scanCoupon(r.db.QueryRow(ctx, findCouponByCodeSQL, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, storeError("find coupon by code", err)
	}
	return c, nil
}

// LoadForValidation reads a coupon and the buyer's ledger count in one
// statement so the validator works on a consistent snapshot.
func (r *CouponRepository) LoadForValidation(ctx context.Context, code string, userID *string) (s *domain.ValidationSnapshot, err error) {
	ctx, end := database.TraceQuery(ctx, "LoadForValidation", loadForValidationSQL)
	defer func() { end(err) }()

	var (
		c         domain.Coupon
		userUsage int
	)
	err = r.db.QueryRow(ctx, loadForValidationSQL, code, userID).Scan(append(couponFields(&c), &userUsage)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, storeError("load coupon for validation", err)
	}

	return &domain.ValidationSnapshot{Coupon: &c, UserUsageCount: userUsage}, nil
}

// CountUsageByCouponAndUser counts ledger rows for a coupon and buyer.
func (r *CouponRepository) CountUsageByCouponAndUser(ctx context.Context, couponID, userID string) (n int, err error) {
	ctx, end := database.TraceQuery(ctx, "CountUsageByCouponAndUser", countUsageByUserSQL)
	defer func() { end(err) }()

	if err = r.db.QueryRow(ctx, countUsageByUserSQL, couponID, userID).Scan(&n); err != nil {
		return 0, storeError("count coupon usage by user", err)
	}
	return n, nil
}

// CountUsageByCoupon counts ledger rows of a coupon.
func (r *CouponRepository) CountUsageByCoupon(ctx context.Context, couponID string) (n int, err error) {
	ctx, end := database.TraceQuery(ctx, "CountUsageByCoupon", countUsageSQL)
	defer func() { end(err) }()

	if err = r.db.QueryRow(ctx, countUsageSQL, couponID).Scan(&n); err != nil {
		return 0, storeError("count coupon usage", err)
	}
	return n, nil
}

// RecordUsage applies a redemption in one transaction: duplicate check on
// order_id, conditional increment of used_count, per-user re-check under the
// coupon row lock and the ledger insert. Business rejections roll back and
// are reported through the outcome status.
func (r *CouponRepository) RecordUsage(ctx context.Context, u *domain.CouponUsage) (out *domain.RecordOutcome, err error) {
	ctx, end := database.TraceQuery(ctx, "RecordUsage", conditionalIncrementSQL)
	defer func() { end(err) }()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, storeError("begin record usage", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var duplicate bool
	if err = tx.QueryRow(ctx, usageExistsSQL, u.OrderID).Scan(&duplicate); err != nil {
		return nil, storeError("check order usage", err)
	}
	if duplicate {
		return &domain.RecordOutcome{Status: domain.RecordStatusDuplicate}, nil
	}

	// coupons.id is a UUID column; anything else cannot match a row.
	if _, perr := uuid.Parse(u.CouponID); perr != nil {
		return &domain.RecordOutcome{Status: domain.RecordStatusNotFound}, nil
	}

	now := r.now()
	usedCount, perUserLimit, err := conditionalIncrementUsage(ctx, tx, u.CouponID, now)
	if errors.Is(err, pgx.ErrNoRows) {
		var status domain.RecordStatus
		if status, err = classifyRejection(ctx, tx, u.CouponID, now); err != nil {
			return nil, err
		}
		return &domain.RecordOutcome{Status: status}, nil
	}
	if err != nil {
		return nil, storeError("increment coupon usage", err)
	}

	if u.UserID != nil && perUserLimit != nil && *perUserLimit > 0 {
		var n int
		if err = tx.QueryRow(ctx, countUsageByUserSQL, u.CouponID, *u.UserID).Scan(&n); err != nil {
			return nil, storeError("count coupon usage by user", err)
		}
		if n >= *perUserLimit {
			return &domain.RecordOutcome{Status: domain.RecordStatusPerUserLimitReached}, nil
		}
	}

	inserted, err := insertUsageLedgerRow(ctx, tx, u)
	if err != nil {
		return nil, storeError("insert coupon usage", err)
	}
	if !inserted {
		return &domain.RecordOutcome{Status: domain.RecordStatusDuplicate}, nil
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, storeError("commit coupon usage", err)
	}

	return &domain.RecordOutcome{Status: domain.RecordStatusRecorded, UsedCount: usedCount}, nil
}

// conditionalIncrementUsage bumps used_count only while the coupon is
// redeemable. pgx.ErrNoRows means the guard rejected the increment.
func conditionalIncrementUsage(ctx context.Context, tx pgx.Tx, couponID string, now time.Time) (int, *int, error) {
	var (
		usedCount    int
		perUserLimit *int
	)
	err := tx.QueryRow(ctx, conditionalIncrementSQL, couponID, now).Scan(&usedCount, &perUserLimit)
	return usedCount, perUserLimit, err
}

// classifyRejection explains why the conditional increment matched no row.
func classifyRejection(ctx context.Context, tx pgx.Tx, couponID string, now time.Time) (domain.RecordStatus, error) {
	c, err := scanCoupon(tx.QueryRow(ctx, getCouponByIDSQL, couponID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RecordStatusNotFound, nil
		}
		return 0, storeError("classify coupon rejection", err)
	}

	if reason := c.Availability(now); reason != "" {
		return domain.RecordStatusFromReason(reason), nil
	}
	return domain.RecordStatusLimitReached, nil
}

// insertUsageLedgerRow appends the ledger row. It reports false when a row
// for the same order already exists.
func insertUsageLedgerRow(ctx context.Context, tx pgx.Tx, u *domain.CouponUsage) (bool, error) {
	var id string
	err := tx.QueryRow(ctx, insertUsageSQL,
		u.ID,
		u.CouponID,
		u.UserID,
		u.OrderID,
		u.DiscountAmount,
		u.UsedAt,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// List returns coupons matching the given filter with the total count.
func (r *CouponRepository) List(ctx context.Context, filter repository.CouponFilter) (coupons []domain.Coupon, total int, err error) {
	var (
		conditions []string
		args       []any
		argIndex   = 1
	)

	if filter.IsActive != nil {
		conditions = append(conditions, fmt.Sprintf("is_active = $%d", argIndex))
		args = append(args, *filter.IsActive)
		argIndex++
	}

	if filter.DiscountType != nil {
		conditions = append(conditions, fmt.Sprintf("discount_type = $%d", argIndex))
		args = append(args, *filter.DiscountType)
		argIndex++
	}

	if filter.Search != nil && *filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(code ILIKE $%d OR description ILIKE $%d)", argIndex, argIndex))
		args = append(args, "%"+escapeLike(*filter.Search)+"%")
		argIndex++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT %s,
			   count(*) OVER() AS total_count
		FROM coupons
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		couponColumns, whereClause, argIndex, argIndex+1,
	)

	ctx, end := database.TraceQuery(ctx, "ListCoupons", query)
	defer func() { end(err) }()

	page := pagination.New(filter.Page, filter.PerPage)
	args = append(args, page.PerPage, page.Offset())

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, storeError("list coupons", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c domain.Coupon
		if err = rows.Scan(append(couponFields(&c), &total)...); err != nil {
			return nil, 0, storeError("scan coupon row", err)
		}
		coupons = append(coupons, c)
	}

	if err = rows.Err(); err != nil {
		return nil, 0, storeError("iterate coupon rows", err)
	}

	if coupons == nil {
		coupons = []domain.Coupon{}
	}

	return coupons, total, nil
}

// Update modifies an existing coupon. used_count is never written here.
func (r *CouponRepository) Update(ctx context.Context, c *domain.Coupon) (err error) {
	ctx, end := database.TraceQuery(ctx, "UpdateCoupon", updateCouponSQL)
	defer func() { end(err) }()

	c.UpdatedAt = r.now()

	ct, err := r.db.Exec(ctx, updateCouponSQL,
		c.Code,
		c.Description,
		c.DiscountType,
		c.DiscountValue,
		c.MinPurchaseAmount,
		c.MaxDiscountAmount,
		c.UsageLimit,
		c.UsageLimitPerUser,
		c.StartDate,
		c.EndDate,
		c.IsActive,
		c.UpdatedAt,
		c.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("coupon", "code", c.Code)
		}
		return storeError("update coupon", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("coupon", c.ID)
	}

	return nil
}

// Delete removes a coupon without ledger rows. A coupon that has been
// redeemed is kept as audit data and reported as a conflict.
func (r *CouponRepository) Delete(ctx context.Context, id string) (err error) {
	ctx, end := database.TraceQuery(ctx, "DeleteCoupon", deleteCouponSQL)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, deleteCouponSQL, id)
	if err != nil {
		return storeError("delete coupon", err)
	}
	if ct.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err = r.db.QueryRow(ctx, couponExistsSQL, id).Scan(&exists); err != nil {
		return storeError("check coupon exists", err)
	}
	if !exists {
		return apperrors.NotFound("coupon", id)
	}
	return apperrors.Conflict("coupon has recorded usages and cannot be deleted; deactivate it instead")
}

// SetActive flips the is_active flag and returns the updated coupon.
func (r *CouponRepository) SetActive(ctx context.Context, id string, active bool) (c *domain.Coupon, err error) {
	ctx, end := database.TraceQuery(ctx, "SetCouponActive", setActiveSQL)
	defer func() { end(err) }()

	c, err = scanCoupon(r.db.QueryRow(ctx, setActiveSQL, id, active, r.now()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("coupon", id)
		}
		return nil, storeError("set coupon active", err)
	}
	return c, nil
}

// ResetUsedCount recomputes used_count from the ledger.
func (r *CouponRepository) ResetUsedCount(ctx context.Context, id string) (n int, err error) {
	ctx, end := database.TraceQuery(ctx, "ResetUsedCount", resetUsedCountSQL)
	defer func() { end(err) }()

	if err = r.db.QueryRow(ctx, resetUsedCountSQL, id, r.now()).Scan(&n); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperrors.NotFound("coupon", id)
		}
		return 0, storeError("reset coupon used count", err)
	}
	return n, nil
}

// ListUsageHistory returns ledger rows with the buyer's display name and the
// order number, most recent first.
func (r *CouponRepository) ListUsageHistory(ctx context.Context, couponID string, page, perPage int) (entries []domain.UsageHistoryEntry, total int, err error) {
	ctx, end := database.TraceQuery(ctx, "ListUsageHistory", listUsageHistorySQL)
	defer func() { end(err) }()

	p := pagination.New(page, perPage)
	rows, err := r.db.Query(ctx, listUsageHistorySQL, couponID, p.PerPage, p.Offset())
	if err != nil {
		return nil, 0, storeError("list usage history", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e domain.UsageHistoryEntry
		if err = rows.Scan(
			&e.ID,
			&e.CouponID,
			&e.UserID,
			&e.OrderID,
			&e.DiscountAmount,
			&e.UsedAt,
			&e.UserDisplayName,
			&e.OrderNumber,
			&total,
		); err != nil {
			return nil, 0, storeError("scan usage history row", err)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, storeError("iterate usage history rows", err)
	}

	if entries == nil {
		entries = []domain.UsageHistoryEntry{}
	}
	return entries, total, nil
}

// ListUsageByCoupon returns every ledger row of a coupon, oldest first.
func (r *CouponRepository) ListUsageByCoupon(ctx context.Context, couponID string) (usages []domain.CouponUsage, err error) {
	ctx, end := database.TraceQuery(ctx, "ListUsageByCoupon", listUsageByCouponSQL)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, listUsageByCouponSQL, couponID)
	if err != nil {
		return nil, storeError("list coupon usages", err)
	}
	defer rows.Close()

	for rows.Next() {
		var u domain.CouponUsage
		if err = rows.Scan(&u.ID, &u.CouponID, &u.UserID, &u.OrderID, &u.DiscountAmount, &u.UsedAt); err != nil {
			return nil, storeError("scan coupon usage row", err)
		}
		usages = append(usages, u)
	}
	if err = rows.Err(); err != nil {
		return nil, storeError("iterate coupon usage rows", err)
	}

	if usages == nil {
		usages = []domain.CouponUsage{}
	}
	return usages, nil
}

// couponFields returns scan destinations in couponColumns order.
func couponFields(c *domain.Coupon) []any {
	return []any{
		&c.ID,
		&c.Code,
		&c.Description,
		&c.DiscountType,
		&c.DiscountValue,
		&c.MinPurchaseAmount,
		&c.MaxDiscountAmount,
		&c.UsageLimit,
		&c.UsageLimitPerUser,
		&c.StartDate,
		&c.EndDate,
		&c.IsActive,
		&c.UsedCount,
		&c.CreatedAt,
		&c.UpdatedAt,
	}
}

func scanCoupon(row pgx.Row) (*domain.Coupon, error) {
	var c domain.Coupon
	if err := row.Scan(couponFields(&c)...); err != nil {
		return nil, err
	}
	return &c, nil
}

// storeError marks err as a retryable store failure.
func storeError(op string, err error) error {
	return apperrors.ServiceUnavailable(fmt.Errorf("%s: %w", op, err))
}

// isUniqueViolation checks for SQLSTATE 23505.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
