package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopdesk/coupon-service/internal/auth"
	"github.com/shopdesk/coupon-service/internal/repository"
	apperrors "github.com/shopdesk/coupon-service/pkg/errors"
	"github.com/shopdesk/coupon-service/pkg/middleware"
)

// dummyHash keeps login timing the same for unknown emails.
const dummyHash = "$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWX4Z3ZnZ1v1Q0J7QeVQfQmY1bWa"

// AdminAccount is the configured admin login.
type AdminAccount struct {
	Email        string
	PasswordHash string
}

// LoginResult is returned on successful admin login.
type LoginResult struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// AuthService issues, validates and revokes admin access tokens.
type AuthService struct {
	tokens  *auth.TokenManager
	revoked repository.RevocationStore
	admin   AdminAccount
	logger  *slog.Logger
}

// NewAuthService creates a new auth service for the configured admin.
func NewAuthService(tokens *auth.TokenManager, revoked repository.RevocationStore, admin AdminAccount, logger *slog.Logger) *AuthService {
	return &AuthService{
		tokens:  tokens,
		revoked: revoked,
		admin:   admin,
		logger:  logger,
	}
}

// Login checks the admin credentials and issues an access token.
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	if email == "" || password == "" {
		return nil, apperrors.InvalidInput("email and password are required")
	}

	emailMatches := subtle.ConstantTimeCompare(
		[]byte(strings.ToLower(strings.TrimSpace(email))),
		[]byte(strings.ToLower(s.admin.Email)),
	) == 1

	hash := s.admin.PasswordHash
	if !emailMatches || hash == "" {
		hash = dummyHash
	}
	err := auth.CheckPassword(hash, password)
	if err != nil && !errors.Is(err, auth.ErrInvalidCredentials) {
		s.logger.ErrorContext(ctx, "admin password check failed", slog.String("error", err.Error()))
	}
	if err != nil || !emailMatches || s.admin.PasswordHash == "" {
		s.logger.WarnContext(ctx, "admin login rejected", slog.String("email", email))
		return nil, apperrors.Unauthorized("invalid email or password")
	}

	token, claims, err := s.tokens.Issue(s.admin.Email, s.admin.Email, auth.RoleAdmin)
	if err != nil {
		return nil, fmt.Errorf("issue admin token: %w", err)
	}

	s.logger.InfoContext(ctx, "admin logged in",
		slog.String("email", s.admin.Email),
		slog.String("token_id", claims.ID),
	)

	return &LoginResult{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

// Logout revokes the token described by claims until it expires.
func (s *AuthService) Logout(ctx context.Context, claims *middleware.Claims) error {
	if claims == nil || claims.TokenID == "" {
		return apperrors.Unauthorized("authentication required")
	}

	if err := s.revoked.Revoke(ctx, claims.TokenID, time.Until(claims.ExpiresAt)); err != nil {
		return apperrors.ServiceUnavailable(fmt.Errorf("revoke admin token: %w", err))
	}

	s.logger.InfoContext(ctx, "admin logged out",
		slog.String("email", claims.Email),
		slog.String("token_id", claims.TokenID),
	)
	return nil
}

// ValidateToken implements middleware.TokenValidator. Tokens are rejected
// when the revocation store cannot be reached.
func (s *AuthService) ValidateToken(ctx context.Context, token string) (*middleware.Claims, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, err
	}

	revoked, err := s.revoked.IsRevoked(ctx, claims.ID)
	if err != nil {
		s.logger.ErrorContext(ctx, "token revocation lookup failed",
			slog.String("token_id", claims.ID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("check token revocation: %w", err)
	}
	if revoked {
		return nil, errors.New("token has been revoked")
	}

	return &middleware.Claims{
		Subject:   claims.Subject,
		Email:     claims.Email,
		Role:      claims.Role,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
