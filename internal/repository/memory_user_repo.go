package repository

import (
	"context"
	"strings"
	"sync"
	"time"

	"storefront-auth/internal/model"
)

// MemoryUserRepository keeps identities in process memory. Used when no
// DATABASE_URL is configured and by tests.
type MemoryUserRepository struct {
	mu      sync.RWMutex
	byID    map[string]model.Identity
	byEmail map[string]string
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		byID:    map[string]model.Identity{},
		byEmail: map[string]string{},
	}
}

func (r *MemoryUserRepository) Create(_ context.Context, u model.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	email := strings.ToLower(u.Email)
	if _, exists := r.byEmail[email]; exists {
		return model.ErrUserAlreadyExists
	}

	u.Email = email
	r.byID[u.ID] = u
	r.byEmail[email] = u.ID
	return nil
}

func (r *MemoryUserRepository) FindByID(_ context.Context, id string) (model.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byID[id]
	if !ok {
		return model.Identity{}, model.ErrUserNotFound
	}
	return u, nil
}

func (r *MemoryUserRepository) FindByEmail(_ context.Context, email string) (model.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return model.Identity{}, model.ErrUserNotFound
	}
	return r.byID[id], nil
}

func (r *MemoryUserRepository) UpdatePassword(_ context.Context, id string, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return model.ErrUserNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now().UTC()
	r.byID[id] = u
	return nil
}

func (r *MemoryUserRepository) MarkVerified(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return false, model.ErrUserNotFound
	}
	if u.Verified {
		return false, nil
	}
	u.Verified = true
	u.UpdatedAt = time.Now().UTC()
	r.byID[id] = u
	return true, nil
}

func (r *MemoryUserRepository) UpdateProfile(_ context.Context, id string, update model.ProfileUpdate) (model.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return model.Identity{}, model.ErrUserNotFound
	}
	if update.Username != nil {
		u.Username = *update.Username
	}
	if update.Gender != nil {
		u.Gender = *update.Gender
	}
	u.UpdatedAt = time.Now().UTC()
	r.byID[id] = u
	return u, nil
}
