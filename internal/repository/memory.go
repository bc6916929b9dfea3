package repository

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Abdullahkhan871/echoSphere-BACKEND/internal/domain"
)

// MemoryUserRepo is an in-memory UserRepository used by tests and local runs.
type MemoryUserRepo struct {
	mu    sync.RWMutex
	users map[int64]domain.User
}

var _ UserRepository = (*MemoryUserRepo)(nil)

func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{users: make(map[int64]domain.User)}
}

func (r *MemoryUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return domain.User{}, ErrNotFound
}

func (r *MemoryUserRepo) GetByID(ctx context.Context, userID int64) (domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[userID]
	if !ok {
		return domain.User{}, ErrNotFound
	}
	return u, nil
}

func (r *MemoryUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return domain.User{}, ErrConflict
		}
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	r.users[user.ID] = user
	return user, nil
}

func (r *MemoryUserRepo) Update(ctx context.Context, userID int64, patch UserPatch) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return domain.User{}, ErrNotFound
	}

	if patch.Name != nil {
		u.Name = *patch.Name
	}
	if patch.PasswordHash != nil {
		u.PasswordHash = *patch.PasswordHash
	}
	if patch.PasswordChangedAt != nil {
		u.PasswordChangedAt = *patch.PasswordChangedAt
	}
	if patch.EmailVerified != nil {
		u.EmailVerified = *patch.EmailVerified
	}
	if patch.AboutMe != nil {
		u.AboutMe = *patch.AboutMe
	}
	if patch.Phone != nil {
		u.Phone = *patch.Phone
	}
	if patch.AvatarURL != nil {
		u.AvatarURL = *patch.AvatarURL
	}
	if patch.Online != nil {
		u.Online = *patch.Online
	}
	if patch.ResetTokenHash != nil {
		u.ResetTokenHash = *patch.ResetTokenHash
	}
	if patch.ResetTokenExpiry != nil {
		u.ResetTokenExpiry = *patch.ResetTokenExpiry
	}
	if patch.VerifyTokenHash != nil {
		u.VerifyTokenHash = *patch.VerifyTokenHash
	}
	if patch.VerifyTokenExpiry != nil {
		u.VerifyTokenExpiry = *patch.VerifyTokenExpiry
	}
	u.UpdatedAt = time.Now()
	r.users[userID] = u
	return u, nil
}

// Delete removes a user. Not part of UserRepository; tests use it to simulate
// a deleted account behind a still-live refresh token.
func (r *MemoryUserRepo) Delete(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, userID)
}

// MemoryKeyRepo is an in-memory KeyRepository.
type MemoryKeyRepo struct {
	mu  sync.Mutex
	key domain.SigningKey
	set bool
}

var _ KeyRepository = (*MemoryKeyRepo)(nil)

func NewMemoryKeyRepo() *MemoryKeyRepo {
	return &MemoryKeyRepo{}
}

func (r *MemoryKeyRepo) GetActiveKey(ctx context.Context) (domain.SigningKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.set {
		return domain.SigningKey{}, ErrNotFound
	}
	return r.key, nil
}

func (r *MemoryKeyRepo) CreateKey(ctx context.Context, key domain.SigningKey) (domain.SigningKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if key.ID == 0 {
		key.ID = 1
	}
	key.CreatedAt = time.Now()
	r.key = key
	r.set = true
	return key, nil
}
