package signer

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/clock"
	"github.com/nkiryanov/gopherauth/internal/models"
)

const (
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultRefreshTokenTTL = 7 * 24 * time.Hour
	defaultSigningMethod   = "HS256"
	defaultIssuer          = "gopherauth"
)

const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

type accessClaims struct {
	jwt.RegisteredClaims
	Type     string    `json:"typ"`
	UserID   uuid.UUID `json:"uid"`
	Email    string    `json:"email"`
	Username string    `json:"username"`
	Role     string    `json:"role"`
}

// Refresh token carries user id only
type refreshClaims struct {
	jwt.RegisteredClaims
	Type   string    `json:"typ"`
	UserID uuid.UUID `json:"uid"`
}

// Signer with sensible default
type Config struct {
	// Secret keys to sign access and refresh tokens
	// Both required and must differ
	AccessSecret  string
	RefreshSecret string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string

	// 'iss' claim of issued tokens
	Issuer string

	// Access and refresh token lifetimes
	// If not set than default is used
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type Signer struct {
	accessKey  []byte
	refreshKey []byte

	alg    jwt.SigningMethod
	issuer string

	accessTTL  time.Duration
	refreshTTL time.Duration

	clock clock.Clock
}

func New(cfg Config, clk clock.Clock) (*Signer, error) {
	switch {
	case cfg.AccessSecret == "" || cfg.RefreshSecret == "":
		return nil, errors.New("access and refresh secrets must not be empty")
	case cfg.AccessSecret == cfg.RefreshSecret:
		return nil, errors.New("access and refresh secrets must differ")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}
	alg, ok := jwt.GetSigningMethod(cfg.Alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported signing method %q, only HMAC allowed", cfg.Alg)
	}

	if cfg.Issuer == "" {
		cfg.Issuer = defaultIssuer
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.AccessTTL, defaultAccessTokenTTL)
	setDefaultDuration(&cfg.RefreshTTL, defaultRefreshTokenTTL)

	if clk == nil {
		clk = clock.Real()
	}

	return &Signer{
		accessKey:  []byte(cfg.AccessSecret),
		refreshKey: []byte(cfg.RefreshSecret),
		alg:        alg,
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		clock:      clk,
	}, nil
}

func (s *Signer) RefreshTTL() time.Duration {
	return s.refreshTTL
}

// Sign access and refresh tokens for the identity
// No side effects: persisting the refresh token is up to the caller
func (s *Signer) IssuePair(claims models.Claims) (models.TokenPair, error) {
	var pair models.TokenPair

	// JWT keeps seconds only
	now := s.clock.Now().Truncate(time.Second)
	accessExpiresAt := now.Add(s.accessTTL)
	refreshExpiresAt := now.Add(s.refreshTTL)

	access, err := jwt.NewWithClaims(s.alg, accessClaims{
		RegisteredClaims: s.registered(claims.UserID, now, accessExpiresAt),
		Type:             typeAccess,
		UserID:           claims.UserID,
		Email:            claims.Email,
		Username:         claims.Username,
		Role:             claims.Role,
	}).SignedString(s.accessKey)
	if err != nil {
		return pair, fmt.Errorf("error while signing access token. Err: %w", err)
	}

	// 'jti' makes every refresh token unique, even issued within the same second
	refresh, err := jwt.NewWithClaims(s.alg, refreshClaims{
		RegisteredClaims: s.registered(claims.UserID, now, refreshExpiresAt),
		Type:             typeRefresh,
		UserID:           claims.UserID,
	}).SignedString(s.refreshKey)
	if err != nil {
		return pair, fmt.Errorf("error while signing refresh token. Err: %w", err)
	}

	return models.TokenPair{
		Access:  models.IssuedToken{Value: access, ExpiresAt: accessExpiresAt},
		Refresh: models.IssuedToken{Value: refresh, ExpiresAt: refreshExpiresAt},
	}, nil
}

func (s *Signer) registered(userID uuid.UUID, now time.Time, expiresAt time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    s.issuer,
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
}

// Parse and validate access token
// Return apperrors.ErrTokenExpired if token is valid but expired, apperrors.ErrInvalidToken otherwise
func (s *Signer) VerifyAccess(token string) (models.Claims, error) {
	claims := &accessClaims{}
	if err := s.parse(token, claims, s.accessKey); err != nil {
		return models.Claims{}, err
	}
	if claims.Type != typeAccess {
		return models.Claims{}, fmt.Errorf("unexpected token type %q: %w", claims.Type, apperrors.ErrInvalidToken)
	}

	return models.Claims{
		UserID:   claims.UserID,
		Email:    claims.Email,
		Username: claims.Username,
		Role:     claims.Role,
	}, nil
}

// Parse and validate refresh token
// Only UserID is set in returned claims
func (s *Signer) VerifyRefresh(token string) (models.Claims, error) {
	claims := &refreshClaims{}
	if err := s.parse(token, claims, s.refreshKey); err != nil {
		return models.Claims{}, err
	}
	if claims.Type != typeRefresh {
		return models.Claims{}, fmt.Errorf("unexpected token type %q: %w", claims.Type, apperrors.ErrInvalidToken)
	}

	return models.Claims{UserID: claims.UserID}, nil
}

func (s *Signer) parse(token string, claims jwt.Claims, key []byte) error {
	_, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{s.alg.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock.Now),
	)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("error parsing token. Err: %w", apperrors.ErrTokenExpired)
	default:
		return fmt.Errorf("error parsing token. Err: %v: %w", err, apperrors.ErrInvalidToken)
	}
}
