package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/models"
)

type UserRepo struct {
	s *Storage
}

func (r *UserRepo) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	unlock := r.s.lock()
	defer unlock()

	for _, u := range r.s.data.users {
		if u.Email == user.Email || u.Username == user.Username {
			return models.User{}, apperrors.ErrUserAlreadyExists
		}
	}

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.CreatedAt = r.s.clock.Now()
	r.s.data.users[user.ID] = user

	return user, nil
}

func (r *UserRepo) GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	unlock := r.s.lock()
	defer unlock()

	user, ok := r.s.data.users[userID]
	if !ok {
		return models.User{}, apperrors.ErrUserNotFound
	}
	return user, nil
}

func (r *UserRepo) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	unlock := r.s.lock()
	defer unlock()

	for _, u := range r.s.data.users {
		if u.Email == email {
			return u, nil
		}
	}
	return models.User{}, apperrors.ErrUserNotFound
}

func (r *UserRepo) SetVerified(ctx context.Context, userID uuid.UUID) error {
	return r.update(userID, func(u *models.User) { u.IsVerified = true })
}

func (r *UserRepo) SetActive(ctx context.Context, userID uuid.UUID, active bool) error {
	return r.update(userID, func(u *models.User) { u.IsActive = active })
}

func (r *UserRepo) SetPasswordHash(ctx context.Context, userID uuid.UUID, hash string) error {
	return r.update(userID, func(u *models.User) { u.PasswordHash = hash })
}

func (r *UserRepo) SetLastLogin(ctx context.Context, userID uuid.UUID, at time.Time) error {
	return r.update(userID, func(u *models.User) { u.LastLoginAt = &at })
}

func (r *UserRepo) update(userID uuid.UUID, fn func(*models.User)) error {
	unlock := r.s.lock()
	defer unlock()

	user, ok := r.s.data.users[userID]
	if !ok {
		return apperrors.ErrUserNotFound
	}
	fn(&user)
	r.s.data.users[userID] = user

	return nil
}
