package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shopdesk/coupon-service/internal/auth"
	"github.com/shopdesk/coupon-service/internal/service"
	"github.com/shopdesk/coupon-service/pkg/health"
	"github.com/shopdesk/coupon-service/pkg/middleware"
)

// ServiceName labels HTTP metrics and server spans.
const ServiceName = "coupon"

// RouterDeps are the services and ops settings the router is built from.
type RouterDeps struct {
	Validator *service.ValidatorService
	Recorder  *service.RecorderService
	Admin     *service.AdminService
	Auth      *service.AuthService
	Health    *health.Handler

	// Metrics and Gatherer are optional; /metrics is not mounted without
	// a Gatherer.
	Metrics  *middleware.HTTPMetrics
	Gatherer prometheus.Gatherer

	CORS           middleware.CORSConfig
	OpsAllowlist   []string
	EnablePprof    bool
	RequestTimeout time.Duration
}

// NewRouter creates a chi router with all coupon service routes registered.
func NewRouter(deps RouterDeps, logger *slog.Logger) http.Handler {
	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CORS(deps.CORS))
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(timeout))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing(ServiceName))
	r.Use(middleware.RequestLogger(logger))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
	}

	// Health and ops endpoints
	r.Get("/health/live", deps.Health.LivenessHandler())
	r.Get("/health/ready", deps.Health.ReadinessHandler())
	r.Group(func(r chi.Router) {
		r.Use(middleware.IPAllowlist(deps.OpsAllowlist, logger))
		if deps.Gatherer != nil {
			r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
		}
		if deps.EnablePprof {
			middleware.RegisterPprof(r)
		}
	})

	couponHandler := NewCouponHandler(deps.Validator, deps.Recorder, logger)
	adminHandler := NewAdminHandler(deps.Admin, logger)
	authHandler := NewAuthHandler(deps.Auth, logger)

	requireAdmin := func(r chi.Router) {
		r.Use(middleware.Auth(deps.Auth.ValidateToken))
		r.Use(middleware.RequireRole(auth.RoleAdmin))
		r.Use(middleware.NoStore)
	}

	// Checkout endpoints
	r.Route("/api/v1/coupons", func(r chi.Router) {
		r.Post("/validate", couponHandler.Validate)
		r.Post("/record-usage", couponHandler.RecordUsage)
	})

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.With(middleware.NoStore).Post("/login", authHandler.Login)
		r.Group(func(r chi.Router) {
			requireAdmin(r)
			r.Post("/logout", authHandler.Logout)
		})
	})

	// Admin panel endpoints
	r.Route("/api/v1/admin/coupons", func(r chi.Router) {
		requireAdmin(r)

		r.Get("/", adminHandler.ListCoupons)
		r.Post("/", adminHandler.CreateCoupon)

		// Must come before /{id}.
		r.Get("/by-code/{code}", adminHandler.GetCouponByCode)

		r.Get("/{id}", adminHandler.GetCoupon)
		r.Put("/{id}", adminHandler.UpdateCoupon)
		r.Delete("/{id}", adminHandler.DeleteCoupon)
		r.Post("/{id}/activate", adminHandler.ActivateCoupon)
		r.Post("/{id}/deactivate", adminHandler.DeactivateCoupon)
		r.Post("/{id}/reset-usage", adminHandler.ResetUsage)
		r.Get("/{id}/usages", adminHandler.ListUsages)
		r.Get("/{id}/stats", adminHandler.CouponStats)
	})

	return r
}
