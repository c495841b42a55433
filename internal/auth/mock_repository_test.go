package auth

import (
	"context"
	"sync"
	"time"
)

type mockRepository struct {
	mu              sync.RWMutex
	users           map[string]*User
	loginChallenges map[string]*LoginChallenge
	resetChallenges map[string]*ResetChallenge
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		users:           make(map[string]*User),
		loginChallenges: make(map[string]*LoginChallenge),
		resetChallenges: make(map[string]*ResetChallenge),
	}
}

func (r *mockRepository) CreateUser(_ context.Context, user *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.Email == user.Email {
			return ErrUserExists
		}
	}
	clone := *user
	r.users[user.ID] = &clone
	return nil
}

func (r *mockRepository) GetUserByID(_ context.Context, id string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	clone := *user
	return &clone, nil
}

func (r *mockRepository) GetUserByEmail(_ context.Context, email string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if u.Email == email {
			clone := *u
			return &clone, nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *mockRepository) ListUsers(_ context.Context) ([]User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]User, 0, len(r.users))
	for _, u := range r.users {
		users = append(users, *u)
	}
	return users, nil
}

func (r *mockRepository) DeleteUser(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[id]; !ok {
		return ErrUserNotFound
	}
	delete(r.users, id)
	r.dropLoginChallengesLocked(id)
	for key, c := range r.resetChallenges {
		if c.UserID == id {
			delete(r.resetChallenges, key)
		}
	}
	return nil
}

func (r *mockRepository) RecordLoginFailure(_ context.Context, userID string, maxFailures int, lockUntil time.Time) error {
	return r.updateUser(userID, func(u *User) {
		u.FailedLoginCount++
		if u.FailedLoginCount >= maxFailures {
			u.FailedLoginCount = 0
			u.LockUntil = &lockUntil
		}
	})
}

func (r *mockRepository) RecordLoginSuccess(_ context.Context, userID string, at time.Time) error {
	return r.updateUser(userID, func(u *User) {
		u.FailedLoginCount = 0
		u.LockUntil = nil
		u.LastLoginAt = &at
	})
}

func (r *mockRepository) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	return r.updateUser(userID, func(u *User) {
		u.PasswordHash = passwordHash
		u.TokenVersion++
		u.FailedLoginCount = 0
		u.LockUntil = nil
	})
}

func (r *mockRepository) UpdateMFA(_ context.Context, userID string, update MFAUpdate) error {
	return r.updateUser(userID, func(u *User) {
		u.MFAEnabled = update.Enabled
		u.MFAMethod = update.Method
		u.TOTPSecret = update.Secret
		u.TOTPPendingSecret = update.PendingSecret
	})
}

func (r *mockRepository) SetPendingTOTPSecret(_ context.Context, userID, secret string) error {
	return r.updateUser(userID, func(u *User) {
		u.TOTPPendingSecret = secret
	})
}

func (r *mockRepository) BumpTokenVersion(_ context.Context, userID string) error {
	return r.updateUser(userID, func(u *User) {
		u.TokenVersion++
	})
}

func (r *mockRepository) updateUser(userID string, fn func(*User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	fn(user)
	return nil
}

func (r *mockRepository) ReplaceLoginChallenge(_ context.Context, challenge *LoginChallenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.dropLoginChallengesLocked(challenge.UserID)
	clone := *challenge
	r.loginChallenges[challenge.ID] = &clone
	return nil
}

func (r *mockRepository) GetLoginChallenge(_ context.Context, tokenHash string) (*LoginChallenge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.loginChallenges {
		if c.TokenHash == tokenHash {
			clone := *c
			return &clone, nil
		}
	}
	return nil, ErrChallengeNotFound
}

func (r *mockRepository) IncrementLoginAttempts(_ context.Context, id string, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.loginChallenges[id]
	if !ok || c.Attempts >= limit {
		return 0, ErrChallengeNotFound
	}
	c.Attempts++
	return c.Attempts, nil
}

func (r *mockRepository) RotateLoginCode(_ context.Context, id string, resendCount int, codeHash string, sentAt, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.loginChallenges[id]
	if !ok || c.ResendCount != resendCount {
		return ErrChallengeNotFound
	}
	c.CodeHash = codeHash
	c.Attempts = 0
	c.ResendCount = resendCount + 1
	c.LastSentAt = sentAt
	c.ExpiresAt = expiresAt
	return nil
}

func (r *mockRepository) DeleteLoginChallenge(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.loginChallenges[id]; !ok {
		return false, nil
	}
	delete(r.loginChallenges, id)
	return true, nil
}

func (r *mockRepository) DeleteLoginChallengesForUser(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.dropLoginChallengesLocked(userID)
	return nil
}

func (r *mockRepository) dropLoginChallengesLocked(userID string) {
	for id, c := range r.loginChallenges {
		if c.UserID == userID {
			delete(r.loginChallenges, id)
		}
	}
}

func (r *mockRepository) ReplaceResetChallenge(_ context.Context, challenge *ResetChallenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, c := range r.resetChallenges {
		if c.UserID == challenge.UserID {
			delete(r.resetChallenges, id)
		}
	}
	clone := *challenge
	r.resetChallenges[challenge.ID] = &clone
	return nil
}

func (r *mockRepository) GetResetChallengeByUser(_ context.Context, userID string) (*ResetChallenge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.resetChallenges {
		if c.UserID == userID {
			clone := *c
			return &clone, nil
		}
	}
	return nil, ErrChallengeNotFound
}

func (r *mockRepository) IncrementResetAttempts(_ context.Context, id string, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.resetChallenges[id]
	if !ok || c.Attempts >= limit {
		return 0, ErrChallengeNotFound
	}
	c.Attempts++
	return c.Attempts, nil
}

func (r *mockRepository) IssueResetToken(_ context.Context, id, codeHash, tokenHash string, expiresAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.resetChallenges[id]
	if !ok || c.CodeHash != codeHash {
		return false, nil
	}
	c.CodeHash = ""
	c.ResetTokenHash = &tokenHash
	c.ResetTokenExpiresAt = &expiresAt
	return true, nil
}

func (r *mockRepository) ConsumeResetToken(_ context.Context, tokenHash string, now time.Time) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, c := range r.resetChallenges {
		if c.ResetTokenHash == nil || *c.ResetTokenHash != tokenHash {
			continue
		}
		delete(r.resetChallenges, id)
		if c.ResetTokenExpiresAt == nil || !now.Before(*c.ResetTokenExpiresAt) {
			return "", ErrChallengeNotFound
		}
		return c.UserID, nil
	}
	return "", ErrChallengeNotFound
}

func (r *mockRepository) DeleteResetChallenge(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.resetChallenges, id)
	return nil
}

func (r *mockRepository) DeleteExpiredChallenges(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var purged int64
	for id, c := range r.loginChallenges {
		if !now.Before(c.ExpiresAt) {
			delete(r.loginChallenges, id)
			purged++
		}
	}
	for id, c := range r.resetChallenges {
		codeExpired := c.ResetTokenHash == nil && !now.Before(c.CodeExpiresAt)
		tokenExpired := c.ResetTokenExpiresAt != nil && !now.Before(*c.ResetTokenExpiresAt)
		if codeExpired || tokenExpired {
			delete(r.resetChallenges, id)
			purged++
		}
	}
	return purged, nil
}

func (r *mockRepository) loginChallengeCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.loginChallenges)
}

func (r *mockRepository) resetChallengeCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.resetChallenges)
}

var _ Repository = (*mockRepository)(nil)
