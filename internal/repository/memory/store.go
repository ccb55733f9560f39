// Package memory keeps credential records in process memory.
// Used when no database configured and by service tests.
package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/google/uuid"

	"github.com/nkiryanov/gopherauth/internal/clock"
	"github.com/nkiryanov/gopherauth/internal/models"
	"github.com/nkiryanov/gopherauth/internal/repository"
)

type data struct {
	users   map[uuid.UUID]models.User
	refresh map[string]models.RefreshToken
	otps    map[uuid.UUID]models.OTP
	resets  map[string]models.PasswordReset
}

func (d *data) clone() *data {
	return &data{
		users:   maps.Clone(d.users),
		refresh: maps.Clone(d.refresh),
		otps:    maps.Clone(d.otps),
		resets:  maps.Clone(d.resets),
	}
}

// Storage implements repository.Storage
// Every repository call holds the store mutex, so each call is atomic
// InTx holds the mutex for the whole fn and restores the snapshot if fn fails
type Storage struct {
	mu    *sync.Mutex
	data  *data
	clock clock.Clock

	// Set for storage passed into InTx callback: the mutex is held by InTx already
	locked bool
}

func NewStorage(clk clock.Clock) *Storage {
	return &Storage{
		mu: &sync.Mutex{},
		data: &data{
			users:   make(map[uuid.UUID]models.User),
			refresh: make(map[string]models.RefreshToken),
			otps:    make(map[uuid.UUID]models.OTP),
			resets:  make(map[string]models.PasswordReset),
		},
		clock: clk,
	}
}

func (s *Storage) User() repository.UserRepo {
	return &UserRepo{s: s}
}

func (s *Storage) Refresh() repository.RefreshTokenRepo {
	return &RefreshTokenRepo{s: s}
}

func (s *Storage) OTP() repository.OTPRepo {
	return &OTPRepo{s: s}
}

func (s *Storage) Reset() repository.PasswordResetRepo {
	return &PasswordResetRepo{s: s}
}

func (s *Storage) InTx(ctx context.Context, fn func(repository.Storage) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := s.lock()
	defer unlock()

	snapshot := s.data.clone()
	tx := &Storage{mu: s.mu, data: s.data, clock: s.clock, locked: true}

	// Restored if fn fails or panics
	committed := false
	defer func() {
		if !committed {
			*s.data = *snapshot
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *Storage) lock() func() {
	if s.locked {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}
