package revocation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nkiryanov/gopherauth/internal/clock"
	"github.com/nkiryanov/gopherauth/internal/logger"
	"github.com/nkiryanov/gopherauth/internal/repository"
)

// Ledger revokes refresh tokens and collects dead credential records
type Ledger struct {
	storage repository.Storage
	clock   clock.Clock
	log     logger.Logger
}

func New(storage repository.Storage, clk clock.Clock, log logger.Logger) *Ledger {
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	return &Ledger{storage: storage, clock: clk, log: log}
}

// With returns ledger working on other storage, e.g. bound to transaction
func (l *Ledger) With(storage repository.Storage) *Ledger {
	return &Ledger{storage: storage, clock: l.clock, log: l.log}
}

// Revoke the refresh token. Best effort: failures are logged, never returned,
// so logout succeeds even if the token is gone already
func (l *Ledger) Revoke(ctx context.Context, token string) {
	if token == "" {
		return
	}

	err := l.storage.Refresh().Revoke(ctx, token, l.clock.Now())
	if err != nil {
		l.log.Warn("failed to revoke refresh token", "error", err)
	}
}

// Revoke every active refresh token of the user
// Must be called on any password change
func (l *Ledger) RevokeAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	count, err := l.storage.Refresh().RevokeAllForUser(ctx, userID, l.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("error while revoking user tokens. Err: %w", err)
	}

	l.log.Info("refresh tokens revoked", "user_id", userID, "count", count)
	return count, nil
}

// Number of records deleted by Cleanup
type Report struct {
	OTPs          int64
	RefreshTokens int64
	ResetTokens   int64

	// Joined errors of failed steps, nil if every step succeeded
	Err error
}

// Delete expired codes and refresh or reset tokens that are expired or used up
// Best effort: every step runs even if previous failed, failures are logged and reported
// Safe to run concurrently with other operations: only semantically dead records are deleted
func (l *Ledger) Cleanup(ctx context.Context) Report {
	var (
		report Report
		errs   []error
		now    = l.clock.Now()
	)

	step := func(name string, fn func() (int64, error), into *int64) {
		count, err := fn()
		if err != nil {
			l.log.Error("cleanup step failed", "step", name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*into = count
	}

	step("otps", func() (int64, error) { return l.storage.OTP().DeleteExpired(ctx, now) }, &report.OTPs)
	step("refresh tokens", func() (int64, error) { return l.storage.Refresh().DeleteDead(ctx, now) }, &report.RefreshTokens)
	step("reset tokens", func() (int64, error) { return l.storage.Reset().DeleteDead(ctx, now) }, &report.ResetTokens)

	report.Err = errors.Join(errs...)

	l.log.Info("cleanup finished",
		"otps", report.OTPs,
		"refresh_tokens", report.RefreshTokens,
		"reset_tokens", report.ResetTokens,
		"failed", len(errs),
	)

	return report
}
