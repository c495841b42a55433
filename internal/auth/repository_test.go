package auth

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/elskow/folio-auth/internal/config"
	"github.com/elskow/folio-auth/internal/database"
	"github.com/elskow/folio-auth/internal/migration"
)

var repoNow = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestRepository(t *testing.T) Repository {
	t.Helper()
	cfg := &config.DatabaseConfig{
		Driver:   database.DriverSQLite,
		Path:     filepath.Join(t.TempDir(), "auth.db"),
		LogLevel: "silent",
	}

	migrator, err := migration.NewMigrator(cfg)
	require.NoError(t, err)
	_, err = migrator.Up(context.Background())
	require.NoError(t, err)
	require.NoError(t, migrator.Close())

	manager, err := database.NewManager(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	return NewRepository(manager.DB())
}

func seedUser(t *testing.T, repo Repository, email string) *User {
	t.Helper()
	user := &User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: "hash",
		Role:         RoleUser,
		MFAMethod:    MFAMethodEmail,
	}
	require.NoError(t, repo.CreateUser(context.Background(), user))
	return user
}

func seedLoginChallenge(t *testing.T, repo Repository, userID, tokenHash string, expiresAt time.Time) *LoginChallenge {
	t.Helper()
	challenge := &LoginChallenge{
		ID:         uuid.NewString(),
		UserID:     userID,
		TokenHash:  tokenHash,
		Method:     MFAMethodEmail,
		CodeHash:   "code-hash",
		LastSentAt: repoNow,
		IssuedAt:   repoNow,
		ExpiresAt:  expiresAt,
	}
	require.NoError(t, repo.ReplaceLoginChallenge(context.Background(), challenge))
	return challenge
}

func TestRepository_Users(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	user := seedUser(t, repo, "a@x.com")

	dup := &User{ID: uuid.NewString(), Email: "a@x.com", PasswordHash: "hash", Role: RoleUser, MFAMethod: MFAMethodEmail}
	assert.ErrorIs(t, repo.CreateUser(ctx, dup), ErrUserExists)

	got, err := repo.GetUserByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = repo.GetUserByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)

	require.NoError(t, repo.UpdatePassword(ctx, user.ID, "new-hash"))
	got, err = repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-hash", got.PasswordHash)
	assert.Equal(t, 1, got.TokenVersion)

	require.NoError(t, repo.BumpTokenVersion(ctx, user.ID))
	got, err = repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.TokenVersion)

	seedUser(t, repo, "b@x.com")
	users, err := repo.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "a@x.com", users[0].Email)

	require.NoError(t, repo.DeleteUser(ctx, user.ID))
	assert.ErrorIs(t, repo.DeleteUser(ctx, user.ID), ErrUserNotFound)
}

func TestRepository_LoginFailureLockout(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	user := seedUser(t, repo, "a@x.com")
	lockUntil := repoNow.Add(15 * time.Minute)

	for i := 0; i < 2; i++ {
		require.NoError(t, repo.RecordLoginFailure(ctx, user.ID, 3, lockUntil))
	}
	got, err := repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.FailedLoginCount)
	assert.False(t, got.Locked(repoNow))

	require.NoError(t, repo.RecordLoginFailure(ctx, user.ID, 3, lockUntil))
	got, err = repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, got.Locked(repoNow))
	assert.Zero(t, got.FailedLoginCount)

	require.NoError(t, repo.RecordLoginSuccess(ctx, user.ID, repoNow))
	got, err = repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, got.Locked(repoNow))
	require.NotNil(t, got.LastLoginAt)
	assert.True(t, repoNow.Equal(*got.LastLoginAt))

	assert.ErrorIs(t, repo.RecordLoginFailure(ctx, "missing", 3, lockUntil), ErrUserNotFound)
}

func TestRepository_MFA(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	user := seedUser(t, repo, "a@x.com")

	require.NoError(t, repo.SetPendingTOTPSecret(ctx, user.ID, "PENDING"))
	require.NoError(t, repo.UpdateMFA(ctx, user.ID, MFAUpdate{
		Enabled: true,
		Method:  MFAMethodTOTP,
		Secret:  "PENDING",
	}))

	got, err := repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, got.MFAEnabled)
	assert.Equal(t, MFAMethodTOTP, got.MFAMethod)
	assert.Equal(t, "PENDING", got.TOTPSecret)
	assert.Empty(t, got.TOTPPendingSecret)

	// Disabling must persist even though false is the zero value.
	require.NoError(t, repo.UpdateMFA(ctx, user.ID, MFAUpdate{Enabled: false, Method: MFAMethodEmail}))
	got, err = repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, got.MFAEnabled)
	assert.Empty(t, got.TOTPSecret)
}

func TestRepository_LoginChallenges(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	user := seedUser(t, repo, "a@x.com")

	first := seedLoginChallenge(t, repo, user.ID, "token-1", repoNow.Add(5*time.Minute))
	second := seedLoginChallenge(t, repo, user.ID, "token-2", repoNow.Add(5*time.Minute))

	_, err := repo.GetLoginChallenge(ctx, "token-1")
	assert.ErrorIs(t, err, ErrChallengeNotFound, "replaced by the newer challenge")

	got, err := repo.GetLoginChallenge(ctx, "token-2")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
	assert.NotEqual(t, first.ID, got.ID)

	for want := 1; want <= 3; want++ {
		attempts, err := repo.IncrementLoginAttempts(ctx, second.ID, 3)
		require.NoError(t, err)
		assert.Equal(t, want, attempts)
	}
	_, err = repo.IncrementLoginAttempts(ctx, second.ID, 3)
	assert.ErrorIs(t, err, ErrChallengeNotFound)

	require.NoError(t, repo.RotateLoginCode(ctx, second.ID, 0, "new-hash", repoNow, repoNow.Add(5*time.Minute)))
	assert.ErrorIs(t, repo.RotateLoginCode(ctx, second.ID, 0, "racer", repoNow, repoNow), ErrChallengeNotFound)

	got, err = repo.GetLoginChallenge(ctx, "token-2")
	require.NoError(t, err)
	assert.Equal(t, "new-hash", got.CodeHash)
	assert.Equal(t, 1, got.ResendCount)
	assert.Zero(t, got.Attempts)

	deleted, err := repo.DeleteLoginChallenge(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = repo.DeleteLoginChallenge(ctx, second.ID)
	require.NoError(t, err)
	assert.False(t, deleted, "second delete loses")
}

func TestRepository_ResetChallenge(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	user := seedUser(t, repo, "a@x.com")

	challenge := &ResetChallenge{
		ID:            uuid.NewString(),
		UserID:        user.ID,
		CodeHash:      "code-hash",
		CodeExpiresAt: repoNow.Add(10 * time.Minute),
		LastSentAt:    repoNow,
		CreatedAt:     repoNow,
	}
	require.NoError(t, repo.ReplaceResetChallenge(ctx, challenge))

	issued, err := repo.IssueResetToken(ctx, challenge.ID, "other-hash", "token-hash", repoNow.Add(10*time.Minute))
	require.NoError(t, err)
	assert.False(t, issued, "stale code hash")

	issued, err = repo.IssueResetToken(ctx, challenge.ID, "code-hash", "token-hash", repoNow.Add(10*time.Minute))
	require.NoError(t, err)
	assert.True(t, issued)

	issued, err = repo.IssueResetToken(ctx, challenge.ID, "code-hash", "token-hash-2", repoNow.Add(10*time.Minute))
	require.NoError(t, err)
	assert.False(t, issued, "code already spent")

	userID, err := repo.ConsumeResetToken(ctx, "token-hash", repoNow)
	require.NoError(t, err)
	assert.Equal(t, user.ID, userID)

	_, err = repo.ConsumeResetToken(ctx, "token-hash", repoNow)
	assert.ErrorIs(t, err, ErrChallengeNotFound)

	_, err = repo.GetResetChallengeByUser(ctx, user.ID)
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestRepository_ConsumeExpiredResetToken(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	user := seedUser(t, repo, "a@x.com")

	challenge := &ResetChallenge{
		ID:            uuid.NewString(),
		UserID:        user.ID,
		CodeHash:      "code-hash",
		CodeExpiresAt: repoNow.Add(10 * time.Minute),
		LastSentAt:    repoNow,
		CreatedAt:     repoNow,
	}
	require.NoError(t, repo.ReplaceResetChallenge(ctx, challenge))
	_, err := repo.IssueResetToken(ctx, challenge.ID, "code-hash", "token-hash", repoNow.Add(time.Minute))
	require.NoError(t, err)

	_, err = repo.ConsumeResetToken(ctx, "token-hash", repoNow.Add(time.Minute))
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestRepository_DeleteExpiredChallenges(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	alice := seedUser(t, repo, "a@x.com")
	bob := seedUser(t, repo, "b@x.com")

	seedLoginChallenge(t, repo, alice.ID, "expired", repoNow.Add(-time.Minute))
	seedLoginChallenge(t, repo, bob.ID, "live", repoNow.Add(time.Minute))

	require.NoError(t, repo.ReplaceResetChallenge(ctx, &ResetChallenge{
		ID:            uuid.NewString(),
		UserID:        alice.ID,
		CodeHash:      "code-hash",
		CodeExpiresAt: repoNow.Add(-time.Minute),
		LastSentAt:    repoNow.Add(-11 * time.Minute),
		CreatedAt:     repoNow.Add(-11 * time.Minute),
	}))

	purged, err := repo.DeleteExpiredChallenges(ctx, repoNow)
	require.NoError(t, err)
	assert.Equal(t, int64(2), purged)

	_, err = repo.GetLoginChallenge(ctx, "live")
	assert.NoError(t, err)
	_, err = repo.GetLoginChallenge(ctx, "expired")
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}
