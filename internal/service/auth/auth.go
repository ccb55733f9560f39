package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/clock"
	"github.com/nkiryanov/gopherauth/internal/logger"
	"github.com/nkiryanov/gopherauth/internal/mailer"
	"github.com/nkiryanov/gopherauth/internal/metrics"
	"github.com/nkiryanov/gopherauth/internal/models"
	"github.com/nkiryanov/gopherauth/internal/repository"
	"github.com/nkiryanov/gopherauth/internal/service/auth/otp"
	"github.com/nkiryanov/gopherauth/internal/service/auth/reset"
	"github.com/nkiryanov/gopherauth/internal/service/auth/session"
)

const (
	defaultOTPCooldown = time.Minute
	defaultResetURL    = "http://localhost:3000/reset-password"
)

// Interface to create or compare user password hashes
type PasswordHasher interface {
	// Generate Hash from password
	Hash(password string) (string, error)

	// Compare known hashedPassword and user provided password
	// Must be protected against timing attacks
	Compare(hashedPassword string, password string) error
}

// Limits how often codes are sent to the same address
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

type AccessVerifier interface {
	VerifyAccess(token string) (models.Claims, error)
}

type Config struct {
	// Hasher to use during user registration or login process
	Hasher PasswordHasher

	// Minimal interval between two codes of the same type sent to the same email
	OTPCooldown time.Duration

	// Reset token is appended to this url as the last path segment
	ResetURL string
}

// Collaborators of the AuthService
// Limiter and Metrics are optional
type Deps struct {
	Storage  repository.Storage
	Signer   AccessVerifier
	Sessions *session.Manager
	OTPs     *otp.Manager
	Resets   *reset.Manager
	Mailer   mailer.Sender
	Limiter  Limiter
	Metrics  *metrics.Metrics
	Clock    clock.Clock
	Log      logger.Logger
}

// Auth service combines credential components into user facing flows
type AuthService struct {
	hasher      PasswordHasher
	otpCooldown time.Duration
	resetURL    string

	storage  repository.Storage
	signer   AccessVerifier
	sessions *session.Manager
	otps     *otp.Manager
	resets   *reset.Manager
	mailer   mailer.Sender
	limiter  Limiter
	metrics  *metrics.Metrics
	clock    clock.Clock
	log      logger.Logger
}

func NewService(cfg Config, deps Deps) (*AuthService, error) {
	if deps.Storage == nil || deps.Signer == nil || deps.Sessions == nil || deps.OTPs == nil || deps.Resets == nil {
		return nil, errors.New("storage, signer, sessions, otps and resets must not be nil")
	}

	// Set default bcrypt hasher if not provided by user
	if cfg.Hasher == nil {
		cfg.Hasher = BcryptHasher{}
	}
	if cfg.OTPCooldown == 0 {
		cfg.OTPCooldown = defaultOTPCooldown
	}
	if cfg.ResetURL == "" {
		cfg.ResetURL = defaultResetURL
	}
	if deps.Mailer == nil {
		deps.Mailer = mailer.NewDisabledSender("mailer is not configured")
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Log == nil {
		deps.Log = logger.NewNoOpLogger()
	}

	return &AuthService{
		hasher:      cfg.Hasher,
		otpCooldown: cfg.OTPCooldown,
		resetURL:    strings.TrimRight(cfg.ResetURL, "/"),

		storage:  deps.Storage,
		signer:   deps.Signer,
		sessions: deps.Sessions,
		otps:     deps.OTPs,
		resets:   deps.Resets,
		mailer:   deps.Mailer,
		limiter:  deps.Limiter,
		metrics:  deps.Metrics,
		clock:    deps.Clock,
		log:      deps.Log,
	}, nil
}

// Register new local user
// User stays unverified until the code sent to the email is confirmed
func (s *AuthService) Register(ctx context.Context, email string, username string, password string) (models.User, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return models.User{}, fmt.Errorf("can't use this as password, error=%w", err)
	}

	user, err := s.storage.User().CreateUser(ctx, models.User{
		ID:           uuid.New(),
		Email:        models.NormalizeEmail(email),
		Username:     strings.TrimSpace(username),
		PasswordHash: hash,
		Role:         models.RoleUser,
		Provider:     models.ProviderLocal,
		IsActive:     true,
	})
	if err != nil {
		return user, err
	}

	if err := s.sendCode(ctx, user, models.OTPTypeVerification); err != nil {
		if errors.Is(err, apperrors.ErrRateLimited) {
			s.log.Warn("verification code not sent on registration", "user_id", user.ID, "error", err)
			return user, nil
		}
		return user, err
	}

	return user, nil
}

// Login with email and password
// Unverified user gets a fresh verification code and apperrors.ErrNotVerified
func (s *AuthService) Login(ctx context.Context, email string, password string) (models.TokenPair, models.User, error) {
	var pair models.TokenPair

	user, err := s.storage.User().GetUserByEmail(ctx, models.NormalizeEmail(email))
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		return pair, models.User{}, apperrors.ErrInvalidCredentials
	case err != nil:
		return pair, models.User{}, err
	}

	if !user.HasPassword() {
		return pair, user, apperrors.ErrInvalidCredentials
	}
	if !user.IsActive {
		return pair, user, apperrors.ErrForbidden
	}
	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		return pair, user, apperrors.ErrInvalidCredentials
	}

	if !user.IsVerified {
		// Code sent recently is still valid, so a throttled resend is skipped quietly
		err := s.sendCode(ctx, user, models.OTPTypeVerification)
		if err != nil && !errors.Is(err, apperrors.ErrRateLimited) {
			return pair, user, err
		}
		return pair, user, apperrors.ErrNotVerified
	}

	return s.issue(ctx, user, metrics.ReasonLogin)
}

// Login with one time code of 'login' type
func (s *AuthService) LoginWithOTP(ctx context.Context, email string, code string) (models.TokenPair, models.User, error) {
	var pair models.TokenPair
	email = models.NormalizeEmail(email)

	record, err := s.otps.Verify(ctx, email, code, models.OTPTypeLogin)
	s.metrics.OTPVerified(string(models.OTPTypeLogin), err)
	if err != nil {
		return pair, models.User{}, err
	}

	user, err := s.storage.User().GetUserByID(ctx, record.UserID)
	if err != nil {
		return pair, user, err
	}
	if !user.IsActive {
		return pair, user, apperrors.ErrForbidden
	}

	// Concurrent logins with the same code: only one consumes it
	if err := s.otps.Consume(ctx, record.ID); err != nil {
		return pair, user, err
	}

	return s.issue(ctx, user, metrics.ReasonOTP)
}

// Issue session for user authenticated by an identity provider
// Unknown email creates verified account without password
func (s *AuthService) IssueForIdentity(ctx context.Context, identity models.User) (models.TokenPair, models.User, error) {
	var pair models.TokenPair
	email := models.NormalizeEmail(identity.Email)

	provider := identity.Provider
	if provider == "" {
		provider = models.ProviderGoogle
	}

	user, err := s.storage.User().GetUserByEmail(ctx, email)
	if errors.Is(err, apperrors.ErrUserNotFound) {
		user, err = s.storage.User().CreateUser(ctx, models.User{
			ID:         uuid.New(),
			Email:      email,
			Username:   identity.Username,
			Role:       models.RoleUser,
			Provider:   provider,
			IsActive:   true,
			IsVerified: true,
		})
	}
	if err != nil {
		return pair, user, err
	}

	if !user.IsActive {
		return pair, user, apperrors.ErrForbidden
	}

	return s.issue(ctx, user, metrics.ReasonIdentity)
}

// Exchange refresh token to the new pair
func (s *AuthService) Refresh(ctx context.Context, refresh string) (models.TokenPair, models.User, error) {
	pair, user, err := s.sessions.Rotate(ctx, refresh)
	s.metrics.RefreshRotated(err)
	return pair, user, err
}

// Logout never fails, see session.Manager.Revoke
func (s *AuthService) Logout(ctx context.Context, refresh string) {
	s.sessions.Revoke(ctx, refresh)
}

func (s *AuthService) LogoutAll(ctx context.Context, userID uuid.UUID) error {
	_, err := s.sessions.RevokeAll(ctx, userID)
	if err != nil {
		return err
	}

	s.metrics.RevokedAll()
	return nil
}

// Authenticate request by access token, return actual user
func (s *AuthService) Authenticate(ctx context.Context, access string) (models.User, error) {
	claims, err := s.signer.VerifyAccess(access)
	if err != nil {
		return models.User{}, err
	}

	user, err := s.storage.User().GetUserByID(ctx, claims.UserID)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		return user, fmt.Errorf("token owner not exists: %w", apperrors.ErrInvalidToken)
	case err != nil:
		return user, err
	case !user.IsActive:
		return user, apperrors.ErrForbidden
	}

	return user, nil
}

// Send new code of the type to existing user
// Fails with apperrors.ErrRateLimited if previous code was sent less than cooldown ago
func (s *AuthService) SendOTP(ctx context.Context, email string, otpType models.OTPType) (models.OTP, error) {
	if !otpType.Valid() {
		return models.OTP{}, fmt.Errorf("unknown otp type %q", otpType)
	}
	email = models.NormalizeEmail(email)

	user, err := s.storage.User().GetUserByEmail(ctx, email)
	if err != nil {
		return models.OTP{}, err
	}
	if otpType == models.OTPTypeVerification && user.IsVerified {
		return models.OTP{}, apperrors.ErrAlreadyVerified
	}

	return s.sendCodeOf(ctx, user, otpType)
}

// Confirm email with verification code and start session
func (s *AuthService) VerifyEmail(ctx context.Context, email string, code string) (models.TokenPair, models.User, error) {
	var pair models.TokenPair
	email = models.NormalizeEmail(email)

	user, err := s.storage.User().GetUserByEmail(ctx, email)
	if err != nil {
		return pair, user, err
	}

	// Verify out of transaction: failed attempt must be counted even if the flow fails
	record, err := s.otps.Verify(ctx, email, code, models.OTPTypeVerification)
	s.metrics.OTPVerified(string(models.OTPTypeVerification), err)
	if err != nil {
		return pair, user, err
	}

	err = s.storage.InTx(ctx, func(tx repository.Storage) error {
		if err := tx.User().SetVerified(ctx, user.ID); err != nil {
			return err
		}
		if err := s.otps.With(tx.OTP()).Consume(ctx, record.ID); err != nil {
			return err
		}

		user.IsVerified = true
		pair, err = s.sessions.With(tx).Issue(ctx, user)
		return err
	})
	if err != nil {
		return models.TokenPair{}, user, err
	}

	s.metrics.SessionIssued(metrics.ReasonOTP)
	s.deliver("welcome", s.mailer.SendWelcome(ctx, user.Email, user.Username))

	return pair, user, nil
}

// Send password reset link
// Unknown email is not an error, so the caller can't probe registered emails
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.storage.User().GetUserByEmail(ctx, models.NormalizeEmail(email))
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		s.log.Info("password reset requested for unknown email")
		return nil
	case err != nil:
		return err
	}

	if !user.HasPassword() {
		return apperrors.ErrPasswordNotSet
	}

	token, err := s.resets.CreateToken(ctx, user.ID, user.Email)
	if err != nil {
		return err
	}

	s.metrics.PasswordReset("requested")
	link := s.resetURL + "/" + url.PathEscape(token.Token)
	s.deliver("password reset", s.mailer.SendPasswordReset(ctx, user.Email, user.Username, link, token.ExpiresAt))

	return nil
}

func (s *AuthService) ValidateResetToken(ctx context.Context, token string) (models.PasswordReset, error) {
	return s.resets.VerifyToken(ctx, token)
}

// Set new password by reset token
// Token consumption, password update and revocation of every session happen atomically
func (s *AuthService) ResetPassword(ctx context.Context, token string, password string) error {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("can't use this as password, error=%w", err)
	}

	err = s.storage.InTx(ctx, func(tx repository.Storage) error {
		resets := s.resets.With(tx.Reset())

		record, err := resets.VerifyToken(ctx, token)
		if err != nil {
			return err
		}
		if err := tx.User().SetPasswordHash(ctx, record.UserID, hash); err != nil {
			return err
		}
		if err := resets.Consume(ctx, token); err != nil {
			return err
		}
		_, err = s.sessions.With(tx).RevokeAll(ctx, record.UserID)
		return err
	})
	if err != nil {
		return err
	}

	s.metrics.PasswordReset("completed")
	s.metrics.RevokedAll()
	return nil
}

// Change password of authenticated user, every session is revoked
func (s *AuthService) ChangePassword(ctx context.Context, userID uuid.UUID, current string, password string) error {
	user, err := s.storage.User().GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	if !user.HasPassword() {
		return apperrors.ErrPasswordNotSet
	}
	if err := s.hasher.Compare(user.PasswordHash, current); err != nil {
		return apperrors.ErrInvalidCredentials
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("can't use this as password, error=%w", err)
	}

	err = s.storage.InTx(ctx, func(tx repository.Storage) error {
		if err := tx.User().SetPasswordHash(ctx, user.ID, hash); err != nil {
			return err
		}
		_, err := s.sessions.With(tx).RevokeAll(ctx, user.ID)
		return err
	})
	if err != nil {
		return err
	}

	s.metrics.PasswordReset("changed")
	s.metrics.RevokedAll()
	return nil
}

func (s *AuthService) issue(ctx context.Context, user models.User, reason string) (models.TokenPair, models.User, error) {
	pair, err := s.sessions.Issue(ctx, user)
	if err != nil {
		return pair, user, fmt.Errorf("token could not generated, sorry. %w", err)
	}
	s.metrics.SessionIssued(reason)

	now := s.clock.Now()
	if err := s.storage.User().SetLastLogin(ctx, user.ID, now); err != nil {
		s.log.Warn("failed to update last login", "user_id", user.ID, "error", err)
	} else {
		user.LastLoginAt = &now
	}

	return pair, user, nil
}

func (s *AuthService) sendCode(ctx context.Context, user models.User, otpType models.OTPType) error {
	_, err := s.sendCodeOf(ctx, user, otpType)
	return err
}

// Generate code and hand it to mailer
// Every send passes the cooldown and the limiter: a new code resets attempts of the previous one
func (s *AuthService) sendCodeOf(ctx context.Context, user models.User, otpType models.OTPType) (models.OTP, error) {
	recent, err := s.otps.HasRecent(ctx, user.Email, otpType, s.otpCooldown)
	if err != nil {
		return models.OTP{}, err
	}
	if recent {
		return models.OTP{}, fmt.Errorf("code was sent less than %s ago: %w", s.otpCooldown, apperrors.ErrRateLimited)
	}

	if s.limiter != nil && !s.limiter.Allow(ctx, string(otpType)+":"+user.Email) {
		return models.OTP{}, fmt.Errorf("code send limit reached: %w", apperrors.ErrRateLimited)
	}

	code, err := s.otps.Generate(ctx, user.ID, user.Email, otpType)
	if err != nil {
		return code, err
	}

	s.metrics.OTPSent(string(otpType))
	s.deliver("otp", s.mailer.SendOTP(ctx, user.Email, user.Username, code.Code, otpType, code.ExpiresAt))
	return code, nil
}

// Delivery failure keeps issued credential valid, user may ask for resend
func (s *AuthService) deliver(kind string, err error) {
	if err != nil {
		s.log.Error("failed to deliver email", "kind", kind, "error", err)
	}
}
