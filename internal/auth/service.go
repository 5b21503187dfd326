package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/halcyon-id/halcyon-id/internal/ratelimit"
	"github.com/halcyon-id/halcyon-id/internal/reset"
	"github.com/halcyon-id/halcyon-id/internal/shared"
	"github.com/halcyon-id/halcyon-id/internal/token"
	"github.com/halcyon-id/halcyon-id/internal/users"
)

// MinPasswordLength is the password policy floor.
const MinPasswordLength = 8

// Notifier is the out-of-band delivery channel for reset tokens.
type Notifier interface {
	NotifyPasswordReset(ctx context.Context, email, resetToken string) error
}

// ServiceConfig tunes the per-flow rate limits.
type ServiceConfig struct {
	LoginRate          ratelimit.Rate
	ForgotPasswordRate ratelimit.Rate
}

// Service orchestrates the authentication flows over the credential store,
// token signer, reset-token broker, and rate limiter.
type Service struct {
	repo     users.Repository
	signer   *token.Signer
	broker   *reset.Broker
	limiter  *ratelimit.Limiter
	audit    *shared.AuditLogger
	notifier Notifier
	logger   *slog.Logger
	cfg      ServiceConfig
}

// NewService constructs a Service. audit and notifier may be nil.
func NewService(repo users.Repository, signer *token.Signer, broker *reset.Broker, limiter *ratelimit.Limiter, audit *shared.AuditLogger, notifier Notifier, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LoginRate.Limit == 0 {
		cfg.LoginRate = ratelimit.PerMinute(5)
	}
	if cfg.ForgotPasswordRate.Limit == 0 {
		cfg.ForgotPasswordRate = ratelimit.PerMinute(3)
	}
	return &Service{
		repo:     repo,
		signer:   signer,
		broker:   broker,
		limiter:  limiter,
		audit:    audit,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
	}
}

// Register creates a new account and returns its public projection.
func (s *Service) Register(ctx context.Context, input RegisterInput) (ProfileResult, error) {
	if input.Password != input.Password2 {
		return ProfileResult{}, fmt.Errorf("%w: passwords don't match", shared.ErrValidation)
	}
	if err := checkPasswordPolicy(input.Password); err != nil {
		return ProfileResult{}, err
	}

	email := users.NormalizeEmail(input.Email)
	if _, err := s.repo.FindByEmail(ctx, email); err == nil {
		return ProfileResult{}, fmt.Errorf("%w: this email is already in use", shared.ErrValidation)
	} else if !errors.Is(err, shared.ErrNotFound) {
		return ProfileResult{}, err
	}

	hash, err := hashPassword(input.Password)
	if err != nil {
		return ProfileResult{}, err
	}

	user, err := s.repo.Create(ctx, email, hash, input.Name)
	if err != nil {
		// The unique index closes the pre-check race.
		if errors.Is(err, users.ErrDuplicateEmail) {
			return ProfileResult{}, fmt.Errorf("%w: this email is already in use", shared.ErrValidation)
		}
		return ProfileResult{}, err
	}

	s.recordAudit(ctx, user.ID, "user.registered", user)
	return user.Profile(), nil
}

// Login authenticates credentials and issues a session token pair. Unknown
// accounts and wrong passwords are distinguished only in logs, never in the
// returned error, to avoid account enumeration.
func (s *Service) Login(ctx context.Context, input LoginInput, clientIP string) (LoginResult, error) {
	if !s.limiter.Allow(ctx, "login", clientIP, s.cfg.LoginRate) {
		return LoginResult{}, shared.ErrRateLimited
	}

	email := users.NormalizeEmail(input.Email)
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			s.logger.Info("login rejected", slog.String("reason", "unknown email"), slog.String("ip", clientIP))
			return LoginResult{}, shared.ErrInvalidCredentials
		}
		return LoginResult{}, err
	}
	if !user.IsActive {
		s.logger.Info("login rejected", slog.String("reason", "inactive account"), slog.Int64("user_id", user.ID))
		return LoginResult{}, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		s.logger.Info("login rejected", slog.String("reason", "wrong password"), slog.Int64("user_id", user.ID))
		return LoginResult{}, shared.ErrInvalidCredentials
	}

	pair, err := s.signer.Issue(user.ID)
	if err != nil {
		return LoginResult{}, err
	}
	if err := s.repo.TouchLastLogin(ctx, user.ID); err != nil {
		s.logger.Warn("touch last login", slog.Any("error", err))
	}
	s.recordAudit(ctx, user.ID, "user.login", user)
	return LoginResult{Email: user.Email, JWTToken: pair}, nil
}

// ForgotPassword issues a reset token and hands it to the out-of-band
// notifier. Authenticated callers are rejected. Unknown emails return not
// found, mirroring the upstream product decision.
func (s *Service) ForgotPassword(ctx context.Context, input ForgotPasswordInput, clientIP string) (ForgotPasswordResult, error) {
	if _, authed := shared.UserIDFromContext(ctx); authed {
		return ForgotPasswordResult{}, fmt.Errorf("%w: you are already logged in", shared.ErrForbidden)
	}
	if !s.limiter.Allow(ctx, "forgot_password", clientIP, s.cfg.ForgotPasswordRate) {
		return ForgotPasswordResult{}, shared.ErrRateLimited
	}

	email := users.NormalizeEmail(input.Email)
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return ForgotPasswordResult{}, fmt.Errorf("%w: this email is not registered", shared.ErrNotFound)
		}
		return ForgotPasswordResult{}, err
	}

	resetToken, err := s.broker.Generate(ctx, user.ID)
	if err != nil {
		return ForgotPasswordResult{}, err
	}

	if s.notifier != nil {
		if err := s.notifier.NotifyPasswordReset(ctx, user.Email, resetToken); err != nil {
			// The token is live either way; delivery hiccups are not the
			// caller's problem.
			s.logger.Warn("reset notification enqueue failed", slog.Any("error", err))
		}
	}
	s.recordAudit(ctx, user.ID, "user.password_reset_requested", user)

	return ForgotPasswordResult{Email: user.Email, Message: "password reset instructions sent"}, nil
}

// ResetPassword redeems a reset token and installs the new credential. All
// input validation happens before the token is consumed, so a rejected
// request leaves the token usable.
func (s *Service) ResetPassword(ctx context.Context, input ResetPasswordInput) error {
	if _, authed := shared.UserIDFromContext(ctx); authed {
		return fmt.Errorf("%w: you are already logged in", shared.ErrForbidden)
	}
	if input.NewPassword != input.NewPassword2 {
		return fmt.Errorf("%w: passwords don't match", shared.ErrValidation)
	}
	if err := checkPasswordPolicy(input.NewPassword); err != nil {
		return err
	}

	userID, err := s.broker.Verify(ctx, input.Token)
	if err != nil {
		if errors.Is(err, reset.ErrTokenInvalid) {
			return fmt.Errorf("%w: invalid token", shared.ErrValidation)
		}
		return err
	}

	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return fmt.Errorf("%w: invalid token", shared.ErrValidation)
		}
		return err
	}

	hash, err := hashPassword(input.NewPassword)
	if err != nil {
		return err
	}
	if err := s.repo.SetPassword(ctx, user.ID, hash); err != nil {
		return err
	}
	s.recordAudit(ctx, user.ID, "user.password_reset", user)
	return nil
}

// Profile returns the public projection for the authenticated user.
func (s *Service) Profile(ctx context.Context, userID int64) (ProfileResult, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return ProfileResult{}, err
	}
	return user.Profile(), nil
}

// UpdateProfile applies a partial update of the mutable display fields.
// Email uniqueness is re-checked when the email changes.
func (s *Service) UpdateProfile(ctx context.Context, userID int64, input UpdateProfileInput) (ProfileResult, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return ProfileResult{}, err
	}

	if input.Email != nil {
		email := users.NormalizeEmail(*input.Email)
		if email != user.Email {
			if _, err := s.repo.FindByEmail(ctx, email); err == nil {
				return ProfileResult{}, fmt.Errorf("%w: this email is already in use", shared.ErrValidation)
			} else if !errors.Is(err, shared.ErrNotFound) {
				return ProfileResult{}, err
			}
			user.Email = email
		}
	}
	if input.Name != nil {
		user.Name = *input.Name
	}

	if err := s.repo.Save(ctx, user); err != nil {
		if errors.Is(err, users.ErrDuplicateEmail) {
			return ProfileResult{}, fmt.Errorf("%w: this email is already in use", shared.ErrValidation)
		}
		return ProfileResult{}, err
	}
	return user.Profile(), nil
}

// Refresh exchanges a valid refresh token for a fresh pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (token.Pair, error) {
	userID, err := s.signer.VerifyRefresh(refreshToken)
	if err != nil {
		return token.Pair{}, fmt.Errorf("%w: invalid refresh token", shared.ErrUnauthorized)
	}
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil || !user.IsActive {
		return token.Pair{}, fmt.Errorf("%w: invalid refresh token", shared.ErrUnauthorized)
	}
	return s.signer.Issue(user.ID)
}

// VerifyAccessToken validates an access token and returns the subject id.
func (s *Service) VerifyAccessToken(tokenString string) (int64, error) {
	userID, err := s.signer.Verify(tokenString)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid token", shared.ErrUnauthorized)
	}
	return userID, nil
}

func (s *Service) recordAudit(ctx context.Context, userID int64, action string, user *users.User) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  userID,
		Action:   action,
		Entity:   "user",
		EntityID: fmt.Sprintf("%d", userID),
		Meta:     map[string]any{"email": user.Email},
	})
	if err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}

func checkPasswordPolicy(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters long", shared.ErrValidation, MinPasswordLength)
	}
	return nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
