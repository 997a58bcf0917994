package http

import (
	"log/slog"
	"net/http"

	"github.com/shopdesk/coupon-service/internal/domain"
	"github.com/shopdesk/coupon-service/internal/service"
	"github.com/shopdesk/coupon-service/pkg/httputil"
	"github.com/shopdesk/coupon-service/pkg/validator"
)

// CouponHandler serves the checkout endpoints.
type CouponHandler struct {
	validator *service.ValidatorService
	recorder  *service.RecorderService
	logger    *slog.Logger
}

// NewCouponHandler creates a new checkout coupon handler.
func NewCouponHandler(v *service.ValidatorService, rec *service.RecorderService, logger *slog.Logger) *CouponHandler {
	return &CouponHandler{
		validator: v,
		recorder:  rec,
		logger:    logger,
	}
}

// --- Request DTOs ---

// ValidateCouponRequest is the JSON body of POST /api/v1/coupons/validate.
type ValidateCouponRequest struct {
	Code      string  `json:"code" validate:"required,max=50"`
	UserID    *string `json:"user_id" validate:"omitempty,max=64"`
	CartTotal int64   `json:"cart_total" validate:"gte=0"`
}

// RecordUsageRequest is the JSON body of POST /api/v1/coupons/record-usage.
type RecordUsageRequest struct {
	CouponID       string  `json:"coupon_id" validate:"required,uuid"`
	UserID         *string `json:"user_id" validate:"omitempty,max=64"`
	OrderID        string  `json:"order_id" validate:"required,max=64"`
	DiscountAmount int64   `json:"discount_amount" validate:"gte=0"`
}

// --- Handlers ---

// Validate handles POST /api/v1/coupons/validate. Business rejections are
// a 200 with valid=false; the checkout decides what to show.
func (h *CouponHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateCouponRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	result := h.validator.Validate(r.Context(), req.Code, req.UserID, req.CartTotal)
	httputil.WriteData(w, http.StatusOK, result)
}

// RecordUsage handles POST /api/v1/coupons/record-usage.
func (h *CouponHandler) RecordUsage(w http.ResponseWriter, r *http.Request) {
	var req RecordUsageRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	result, err := h.recorder.RecordUsage(r.Context(), domain.RecordUsageInput{
		CouponID:       req.CouponID,
		UserID:         req.UserID,
		OrderID:        req.OrderID,
		DiscountAmount: req.DiscountAmount,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	status := http.StatusOK
	if !result.OK {
		status = http.StatusConflict
	}
	httputil.WriteData(w, status, result)
}
