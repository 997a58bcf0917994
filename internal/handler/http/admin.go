package http

import (
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shopdesk/coupon-service/internal/repository"
	"github.com/shopdesk/coupon-service/internal/service"
	"github.com/shopdesk/coupon-service/pkg/httputil"
	"github.com/shopdesk/coupon-service/pkg/pagination"
	"github.com/shopdesk/coupon-service/pkg/validator"
)

// AdminHandler serves the admin panel's coupon endpoints.
type AdminHandler struct {
	admin  *service.AdminService
	logger *slog.Logger
}

// NewAdminHandler creates a new admin coupon handler.
func NewAdminHandler(svc *service.AdminService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{admin: svc, logger: logger}
}

// --- Request DTOs ---

// CreateCouponRequest is the JSON body for creating a coupon. Dates are
// RFC 3339.
type CreateCouponRequest struct {
	Code              string     `json:"code" validate:"omitempty,max=50,coupon_code"`
	Description       string     `json:"description" validate:"max=500"`
	DiscountType      string     `json:"discount_type" validate:"required,oneof=percentage fixed_amount"`
	DiscountValue     int64      `json:"discount_value" validate:"required,gt=0"`
	MinPurchaseAmount int64      `json:"min_purchase_amount" validate:"gte=0"`
	MaxDiscountAmount *int64     `json:"max_discount_amount" validate:"omitempty,gte=0"`
	UsageLimit        *int       `json:"usage_limit" validate:"omitempty,gte=0"`
	UsageLimitPerUser *int       `json:"usage_limit_per_user" validate:"omitempty,gte=0"`
	StartDate         *time.Time `json:"start_date"`
	EndDate           *time.Time `json:"end_date"`
	IsActive          *bool      `json:"is_active"`
}

// UpdateCouponRequest is the JSON body for a partial coupon update.
type UpdateCouponRequest struct {
	Code              *string    `json:"code" validate:"omitempty,min=1,max=50,coupon_code"`
	Description       *string    `json:"description" validate:"omitempty,max=500"`
	DiscountType      *string    `json:"discount_type" validate:"omitempty,oneof=percentage fixed_amount"`
	DiscountValue     *int64     `json:"discount_value" validate:"omitempty,gt=0"`
	MinPurchaseAmount *int64     `json:"min_purchase_amount" validate:"omitempty,gte=0"`
	MaxDiscountAmount *int64     `json:"max_discount_amount" validate:"omitempty,gte=0"`
	UsageLimit        *int       `json:"usage_limit" validate:"omitempty,gte=0"`
	UsageLimitPerUser *int       `json:"usage_limit_per_user" validate:"omitempty,gte=0"`
	StartDate         *time.Time `json:"start_date"`
	EndDate           *time.Time `json:"end_date"`
	IsActive          *bool      `json:"is_active"`

	// Clear lists nullable fields to reset to null.
	Clear []string `json:"clear" validate:"omitempty,dive,oneof=max_discount_amount usage_limit usage_limit_per_user start_date end_date"`
}

// --- Handlers ---

// ListCoupons handles GET /api/v1/admin/coupons
func (h *AdminHandler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	p := pagination.FromRequest(r)
	filter := repository.CouponFilter{Page: p.Page, PerPage: p.PerPage}

	q := r.URL.Query()
	if v := q.Get("is_active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "INVALID_PARAMETER", Message: "is_active must be true or false"},
			})
			return
		}
		filter.IsActive = &active
	}
	if v := q.Get("discount_type"); v != "" {
		filter.DiscountType = &v
	}
	if v := strings.TrimSpace(q.Get("search")); v != "" {
		filter.Search = &v
	}

	coupons, total, err := h.admin.ListCoupons(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, pagination.NewResult(coupons, total, p))
}

// CreateCoupon handles POST /api/v1/admin/coupons
func (h *AdminHandler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	var req CreateCouponRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	coupon, err := h.admin.CreateCoupon(r.Context(), &service.CreateCouponInput{
		Code:              req.Code,
		Description:       req.Description,
		DiscountType:      req.DiscountType,
		DiscountValue:     req.DiscountValue,
		MinPurchaseAmount: req.MinPurchaseAmount,
		MaxDiscountAmount: req.MaxDiscountAmount,
		UsageLimit:        req.UsageLimit,
		UsageLimitPerUser: req.UsageLimitPerUser,
		StartDate:         req.StartDate,
		EndDate:           req.EndDate,
		IsActive:          req.IsActive,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusCreated, coupon)
}

// GetCoupon handles GET /api/v1/admin/coupons/{id}
func (h *AdminHandler) GetCoupon(w http.ResponseWriter, r *http.Request) {
	id, ok := couponID(w, r)
	if !ok {
		return
	}

	coupon, err := h.admin.GetCoupon(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, coupon)
}

// GetCouponByCode handles GET /api/v1/admin/coupons/by-code/{code}
func (h *AdminHandler) GetCouponByCode(w http.ResponseWriter, r *http.Request) {
	coupon, err := h.admin.GetCouponByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, coupon)
}

// UpdateCoupon handles PUT /api/v1/admin/coupons/{id}
func (h *AdminHandler) UpdateCoupon(w http.ResponseWriter, r *http.Request) {
	id, ok := couponID(w, r)
	if !ok {
		return
	}

	var req UpdateCouponRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	coupon, err := h.admin.UpdateCoupon(r.Context(), id, &service.UpdateCouponInput{
		Code:              req.Code,
		Description:       req.Description,
		DiscountType:      req.DiscountType,
		DiscountValue:     req.DiscountValue,
		MinPurchaseAmount: req.MinPurchaseAmount,
		MaxDiscountAmount: req.MaxDiscountAmount,
		UsageLimit:        req.UsageLimit,
		UsageLimitPerUser: req.UsageLimitPerUser,
		StartDate:         req.StartDate,
		EndDate:           req.EndDate,
		IsActive:          req.IsActive,

		ClearMaxDiscountAmount: slices.Contains(req.Clear, "max_discount_amount"),
		ClearUsageLimit:        slices.Contains(req.Clear, "usage_limit"),
		ClearUsageLimitPerUser: slices.Contains(req.Clear, "usage_limit_per_user"),
		ClearStartDate:         slices.Contains(req.Clear, "start_date"),
		ClearEndDate:           slices.Contains(req.Clear, "end_date"),
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, coupon)
}

// DeleteCoupon handles DELETE /api/v1/admin/coupons/{id}
func (h *AdminHandler) DeleteCoupon(w http.ResponseWriter, r *http.Request) {
	id, ok := couponID(w, r)
	if !ok {
		return
	}

	if err := h.admin.DeleteCoupon(r.Context(), id); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ActivateCoupon handles POST /api/v1/admin/coupons/{id}/activate
func (h *AdminHandler) ActivateCoupon(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

// DeactivateCoupon handles POST /api/v1/admin/coupons/{id}/deactivate
func (h *AdminHandler) DeactivateCoupon(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *AdminHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	id, ok := couponID(w, r)
	if !ok {
		return
	}

	coupon, err := h.admin.SetActive(r.Context(), id, active)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, coupon)
}

// ResetUsage handles POST /api/v1/admin/coupons/{id}/reset-usage
func (h *AdminHandler) ResetUsage(w http.ResponseWriter, r *http.Request) {
	id, ok := couponID(w, r)
	if !ok {
		return
	}

	coupon, err := h.admin.ResetUsage(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, coupon)
}

// ListUsages handles GET /api/v1/admin/coupons/{id}/usages
func (h *AdminHandler) ListUsages(w http.ResponseWriter, r *http.Request) {
	id, ok := couponID(w, r)
	if !ok {
		return
	}

	p := pagination.FromRequest(r)
	entries, total, err := h.admin.ListUsageHistory(r.Context(), id, p)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, pagination.NewResult(entries, total, p))
}

// CouponStats handles GET /api/v1/admin/coupons/{id}/stats
func (h *AdminHandler) CouponStats(w http.ResponseWriter, r *http.Request) {
	id, ok := couponID(w, r)
	if !ok {
		return
	}

	stats, err := h.admin.CouponStats(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, stats)
}

// couponID reads the {id} path parameter, writing a 400 when it is not a UUID.
func couponID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return "", false
	}
	return id.String(), true
}
