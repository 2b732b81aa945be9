package repo

import (
	"context"
	"sync"
	"time"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
)

// MemoryRepo keeps users in process memory. It backs the `memory` store
// mode used for local development and follows the same error contract as
// UserRepo.
type MemoryRepo struct {
	mu      sync.RWMutex
	ids     IDSource
	byID    map[int64]*entity.User
	byEmail map[string]int64
	now     func() time.Time
}

func NewMemoryRepo(ids IDSource) *MemoryRepo {
	return &MemoryRepo{
		ids:     ids,
		byID:    make(map[int64]*entity.User),
		byEmail: make(map[string]int64),
		now:     time.Now,
	}
}

func (r *MemoryRepo) Create(_ context.Context, nu entity.NewUser) (*entity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byEmail[nu.Email]; taken {
		return nil, ErrDuplicateEmail
	}
	now := r.now()
	u := &entity.User{
		ID:           r.ids.Next(),
		Email:        nu.Email,
		PasswordHash: nu.PasswordHash,
		Name:         cloneString(nu.Name),
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.byID[u.ID] = u
	r.byEmail[u.Email] = u.ID
	return clone(u), nil
}

func (r *MemoryRepo) FindByEmail(_ context.Context, email string) (*entity.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(r.byID[id]), nil
}

func (r *MemoryRepo) FindByID(_ context.Context, id int64) (*entity.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(u), nil
}

func (r *MemoryRepo) UpdateProfile(_ context.Context, id int64, upd entity.ProfileUpdate) (*entity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.Name != nil {
		u.Name = cloneString(upd.Name)
	}
	if upd.Avatar != nil {
		u.Avatar = cloneString(upd.Avatar)
	}
	r.touch(u)
	return clone(u), nil
}

func (r *MemoryRepo) UpdatePassword(_ context.Context, id int64, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = hash
	r.touch(u)
	return nil
}

// Ping always succeeds.
func (r *MemoryRepo) Ping(context.Context) error { return nil }

// touch keeps updated_at strictly increasing even when the clock has not
// advanced since the previous write.
func (r *MemoryRepo) touch(u *entity.User) {
	now := r.now()
	if !now.After(u.UpdatedAt) {
		now = u.UpdatedAt.Add(time.Microsecond)
	}
	u.UpdatedAt = now
}

func clone(u *entity.User) *entity.User {
	c := *u
	c.Name = cloneString(u.Name)
	c.Avatar = cloneString(u.Avatar)
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
