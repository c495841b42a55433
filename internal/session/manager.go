// Package session tracks a signed-in client session: it persists the
// tokens, counts down to access-token expiry and signs the user out when
// the countdown reaches zero.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	DefaultUrgentThreshold = 5 * time.Minute
	DefaultTickInterval    = time.Second
)

var (
	ErrTokenExpired = errors.New("token already expired")
	ErrMissingExp   = errors.New("token has no expiry")
)

type Manager struct {
	store    TokenStore
	log      *zap.Logger
	now      func() time.Time
	tick     time.Duration
	urgent   time.Duration
	onExpire func()

	mu        sync.Mutex
	tokens    Tokens
	expiresAt time.Time
	active    bool
	gen       uint64
	stop      chan struct{}
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithTickInterval(d time.Duration) Option {
	return func(m *Manager) { m.tick = d }
}

func WithUrgentThreshold(d time.Duration) Option {
	return func(m *Manager) { m.urgent = d }
}

// WithOnExpire registers fn to run once when a session times out. It is
// not called for explicit logouts.
func WithOnExpire(fn func()) Option {
	return func(m *Manager) { m.onExpire = fn }
}

func NewManager(store TokenStore, log *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		log:    log,
		now:    time.Now,
		tick:   DefaultTickInterval,
		urgent: DefaultUrgentThreshold,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Login starts a session from freshly issued tokens. The access token's
// exp claim is read without verifying the signature.
func (m *Manager) Login(accessToken, refreshToken string) error {
	expiresAt, err := TokenExpiry(accessToken)
	if err != nil {
		return err
	}
	if !m.now().Before(expiresAt) {
		return ErrTokenExpired
	}

	tokens := Tokens{AccessToken: accessToken, RefreshToken: refreshToken}
	if err := m.store.Save(tokens); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}

	m.start(tokens, expiresAt)
	m.log.Info("session started", zap.Time("expires_at", expiresAt))
	return nil
}

// Restore resumes a persisted session. It reports false when there is
// nothing to resume; stale or unreadable sessions are cleared.
func (m *Manager) Restore() (bool, error) {
	tokens, err := m.store.Load()
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			return false, nil
		}
		return false, err
	}

	expiresAt, err := TokenExpiry(tokens.AccessToken)
	if err != nil || !m.now().Before(expiresAt) {
		m.log.Info("discarding stored session")
		return false, m.store.Clear()
	}

	m.start(tokens, expiresAt)
	return true, nil
}

// Logout ends the session. Calling it without an active session is a no-op
// apart from clearing the store.
func (m *Manager) Logout() error {
	m.mu.Lock()
	m.endLocked()
	m.mu.Unlock()

	return m.store.Clear()
}

func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func (m *Manager) Tokens() (Tokens, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens, m.active
}

func (m *Manager) ExpiresAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expiresAt
}

// Remaining is the time left on the access token, never negative.
func (m *Manager) Remaining() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remainingLocked()
}

// Urgent reports whether an active session is inside the warning window.
func (m *Manager) Urgent() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active && m.remainingLocked() < m.urgent
}

func (m *Manager) remainingLocked() time.Duration {
	if !m.active {
		return 0
	}
	return max(m.expiresAt.Sub(m.now()), 0)
}

func (m *Manager) start(tokens Tokens, expiresAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.endLocked()
	m.gen++
	m.tokens = tokens
	m.expiresAt = expiresAt
	m.active = true
	m.stop = make(chan struct{})

	go m.countdown(m.gen, m.stop)
}

func (m *Manager) endLocked() {
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
	m.active = false
	m.tokens = Tokens{}
	m.expiresAt = time.Time{}
}

func (m *Manager) countdown(gen uint64, stop <-chan struct{}) {
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if m.expire(gen) {
				return
			}
		}
	}
}

// expire ends session gen if its time is up. Only the call that flips the
// session to inactive runs the callback.
func (m *Manager) expire(gen uint64) bool {
	m.mu.Lock()
	if m.gen != gen || !m.active {
		m.mu.Unlock()
		return true
	}
	if m.remainingLocked() > 0 {
		m.mu.Unlock()
		return false
	}
	m.endLocked()
	m.mu.Unlock()

	if err := m.store.Clear(); err != nil {
		m.log.Warn("failed to clear expired session", zap.Error(err))
	}
	m.log.Info("session expired")
	if m.onExpire != nil {
		m.onExpire()
	}
	return true
}

// TokenExpiry reads the exp claim of a JWT without checking its signature.
func TokenExpiry(token string) (time.Time, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("decode token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, ErrMissingExp
	}
	return claims.ExpiresAt.Time, nil
}

// FormatRemaining renders d as MM:SS, or H:MM:SS past an hour.
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Round(time.Second) / time.Second)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
