// Package main seeds the coupon database with a small set of sample coupons
// for local development. It connects with the same configuration as the
// server, applies pending migrations and creates coupons through the admin
// service so every row passes the normal validation rules.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/shopdesk/coupon-service/internal/app"
	"github.com/shopdesk/coupon-service/internal/config"
	"github.com/shopdesk/coupon-service/internal/domain"
	"github.com/shopdesk/coupon-service/internal/event"
	"github.com/shopdesk/coupon-service/internal/repository/postgres"
	"github.com/shopdesk/coupon-service/internal/service"
	"github.com/shopdesk/coupon-service/migrations"
	"github.com/shopdesk/coupon-service/pkg/database"
	apperrors "github.com/shopdesk/coupon-service/pkg/errors"
	"github.com/shopdesk/coupon-service/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(app.ServiceName+"-seed", cfg.LogLevel)
	slog.SetDefault(log)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, &database.PostgresConfig{
		Host:            cfg.PostgresHost,
		Port:            cfg.PostgresPort,
		User:            cfg.PostgresUser,
		Password:        cfg.PostgresPass,
		DBName:          cfg.PostgresDB,
		SSLMode:         cfg.PostgresSSL,
		MaxConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: time.Minute,
	}, log)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	if err := database.RunMigrations(ctx, pool, migrations.FS, log); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	admin := service.NewAdminService(
		postgres.NewCouponRepository(pool),
		event.NewProducer(nil, log),
		log,
	)

	created := 0
	for _, in := range sampleCoupons(time.Now().UTC()) {
		c, err := admin.CreateCoupon(ctx, in)
		if errors.Is(err, apperrors.ErrAlreadyExists) {
			log.Info("coupon already present", slog.String("code", in.Code))
			continue
		}
		if err != nil {
			log.Warn("create coupon", slog.String("code", in.Code), slog.String("error", err.Error()))
			continue
		}
		created++
		log.Info("coupon seeded", slog.String("code", c.Code), slog.String("id", c.ID))
	}

	log.Info("seed complete", slog.Int("created", created))
	return nil
}

func sampleCoupons(now time.Time) []*service.CreateCouponInput {
	end := func(months int) *time.Time {
		t := now.AddDate(0, months, 0)
		return &t
	}
	return []*service.CreateCouponInput{
		{
			Code:              "WELCOME10",
			Description:       "10% off the first order",
			DiscountType:      domain.DiscountTypePercentage,
			DiscountValue:     10,
			UsageLimit:        ptr(1000),
			UsageLimitPerUser: ptr(1),
			StartDate:         &now,
			EndDate:           end(12),
		},
		{
			Code:              "SUMMER20",
			Description:       "20% off orders over $50, up to $25",
			DiscountType:      domain.DiscountTypePercentage,
			DiscountValue:     20,
			MinPurchaseAmount: 5000,
			MaxDiscountAmount: ptr[int64](2500),
			UsageLimit:        ptr(500),
			StartDate:         &now,
			EndDate:           end(3),
		},
		{
			Code:          "FREESHIP",
			Description:   "Flat $9.99 off to cover standard shipping",
			DiscountType:  domain.DiscountTypeFixedAmount,
			DiscountValue: 999,
			UsageLimit:    ptr(2000),
			StartDate:     &now,
			EndDate:       end(6),
		},
	}
}

func ptr[T any](v T) *T { return &v }
