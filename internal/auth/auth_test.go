package auth

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/elskow/folio-auth/internal/config"
	"github.com/elskow/folio-auth/internal/mailer"
)

const testPassword = "pw123456"

func testConfig() *config.AuthConfig {
	return &config.AuthConfig{
		JWTSecret:            "test-secret-key-that-is-long-enough-32",
		Issuer:               "folio-auth",
		AccessTokenDuration:  15 * time.Minute,
		RefreshTokenDuration: 7 * 24 * time.Hour,
		RefreshTokenEnabled:  true,
		ChallengeTTL:         10 * time.Minute,
		ResetCodeTTL:         10 * time.Minute,
		ResetTokenTTL:        15 * time.Minute,
		CodeLength:           6,
		MaxCodeAttempts:      5,
		ResendCooldown:       time.Minute,
		MaxResends:           3,
		MinPasswordLen:       8,
		MaxLoginFailures:     5,
		LockoutDuration:      15 * time.Minute,
		TOTPIssuer:           "Folio",
		TOTPSkew:             1,
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	// Mid-way through a 30 second TOTP step.
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 15, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// sequenceCodes hands out codes in order and then repeats the last one.
type sequenceCodes struct {
	mu    sync.Mutex
	codes []string
	next  int
}

func (g *sequenceCodes) Generate(length int) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	code := g.codes[min(g.next, len(g.codes)-1)]
	g.next++
	return code, nil
}

type recordingDeliverer struct {
	mu       sync.Mutex
	messages []mailer.Message
}

func (d *recordingDeliverer) Dispatch(msg mailer.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = append(d.messages, msg)
}

func (d *recordingDeliverer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.messages)
}

var codePattern = regexp.MustCompile(`\b\d{6}\b`)

// lastCode extracts the one-time code from the most recent message.
func (d *recordingDeliverer) lastCode(t *testing.T) string {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	require.NotEmpty(t, d.messages, "no message delivered")
	code := codePattern.FindString(d.messages[len(d.messages)-1].Body)
	require.NotEmpty(t, code)
	return code
}

type testEnv struct {
	svc   *Service
	repo  *mockRepository
	clock *fakeClock
	codes *sequenceCodes
	mail  *recordingDeliverer
	cfg   *config.AuthConfig
}

func newTestEnv(t *testing.T, codes ...string) *testEnv {
	t.Helper()
	if len(codes) == 0 {
		codes = []string{"482913", "715264", "309118", "650472"}
	}
	env := &testEnv{
		repo:  newMockRepository(),
		clock: newFakeClock(),
		codes: &sequenceCodes{codes: codes},
		mail:  &recordingDeliverer{},
		cfg:   testConfig(),
	}
	env.svc = NewService(env.cfg, zap.NewNop(), env.repo, env.mail,
		WithClock(env.clock),
		WithCodeGenerator(env.codes),
		WithPasswordCost(bcrypt.MinCost),
		WithTaskRunner(runInline),
	)
	return env
}

func runInline(task func()) { task() }

func newTestService(t *testing.T) *Service {
	return newTestEnv(t).svc
}

func (e *testEnv) createUser(t *testing.T, email string, mfa bool) *User {
	t.Helper()
	user, err := e.svc.CreateUser(context.Background(), NewUser{
		Email:    email,
		Password: testPassword,
		MFAOn:    mfa,
	})
	require.NoError(t, err)
	return user
}

// enableTOTP stores a confirmed authenticator secret directly.
func (e *testEnv) enableTOTP(t *testing.T, userID string) string {
	t.Helper()
	key, err := e.svc.totp.Generate("user@x.com")
	require.NoError(t, err)
	require.NoError(t, e.repo.UpdateMFA(context.Background(), userID, MFAUpdate{
		Enabled: true,
		Method:  MFAMethodTOTP,
		Secret:  key.Secret(),
	}))
	return key.Secret()
}

type countingLimiter struct {
	mu      sync.Mutex
	limit   int
	hits    int
	lastKey string
	err     error
}

func (l *countingLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	l.lastKey = key
	l.hits++
	return l.hits <= l.limit, nil
}

func testRateLimitConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		Backend:     "memory",
		IPLimit:     100,
		IPWindow:    time.Minute,
		EmailLimit:  5,
		EmailWindow: 15 * time.Minute,
	}
}
