package auth

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is the in-memory Repo used by tests.
type MemoryRepo struct {
	mu         sync.RWMutex
	users      map[string]User // by id
	challenges map[string]OTPChallenge
	tokens     map[string]Token // by id
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		users:      map[string]User{},
		challenges: map[string]OTPChallenge{},
		tokens:     map[string]Token{},
	}
}

func (r *MemoryRepo) GetOrCreateUser(_ context.Context, email string, now time.Time) (User, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			return u, false, nil
		}
	}
	u := User{ID: newID("user"), Email: email, CreatedAt: now}
	r.users[u.ID] = u
	return u, true, nil
}

func (r *MemoryRepo) GetUserByID(_ context.Context, id string) (User, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	return u, ok, nil
}

func (r *MemoryRepo) GetUserByEmail(_ context.Context, email string) (User, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if u.Email == email {
			return u, true, nil
		}
	}
	return User{}, false, nil
}

func (r *MemoryRepo) SetStripeCustomerID(_ context.Context, userID, customerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.StripeCustomerID = customerID
	r.users[userID] = u
	return nil
}

func (r *MemoryRepo) DeleteUser(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, userID)
	for id, t := range r.tokens {
		if t.UserID == userID {
			delete(r.tokens, id)
		}
	}
	return nil
}

func (r *MemoryRepo) PutChallenge(_ context.Context, ch OTPChallenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.challenges[ch.Email] = ch
	return nil
}

func (r *MemoryRepo) GetChallenge(_ context.Context, email string) (OTPChallenge, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.challenges[email]
	return ch, ok, nil
}

func (r *MemoryRepo) DeleteChallenge(_ context.Context, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.challenges, email)
	return nil
}

func (r *MemoryRepo) CreateToken(_ context.Context, t Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[t.ID] = t
	return nil
}

func (r *MemoryRepo) GetTokenByHash(_ context.Context, hash string) (Token, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tokens {
		if t.TokenHash == hash {
			return t, true, nil
		}
	}
	return Token{}, false, nil
}

func (r *MemoryRepo) TouchToken(_ context.Context, id string, seen time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[id]
	if !ok {
		return nil
	}
	t.LastSeen = seen
	r.tokens[id] = t
	return nil
}

func (r *MemoryRepo) DeleteTokenByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tokens, id)
	return nil
}

func (r *MemoryRepo) DeleteTokenByHash(_ context.Context, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.tokens {
		if t.TokenHash == hash {
			delete(r.tokens, id)
		}
	}
	return nil
}

func (r *MemoryRepo) DeleteTokensForUser(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.tokens {
		if t.UserID == userID {
			delete(r.tokens, id)
		}
	}
	return nil
}
