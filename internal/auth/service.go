package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/elskow/folio-auth/internal/config"
	"github.com/elskow/folio-auth/internal/mailer"
	"github.com/elskow/folio-auth/internal/ratelimit"
)

// bcrypt ignores input past 72 bytes and x/crypto rejects it outright.
const maxPasswordBytes = 72

const backgroundTaskTimeout = 30 * time.Second

// CodeDeliverer hands a message to the mail pipeline without waiting for
// the provider.
type CodeDeliverer interface {
	Dispatch(msg mailer.Message)
}

type Service struct {
	config       *config.AuthConfig
	log          *zap.Logger
	repository   Repository
	mail         CodeDeliverer
	totp         *TOTPProvider
	codes        CodeGenerator
	hasher       codeHasher
	clock        Clock
	passwordCost int
	cleanup      *CleanupManager

	limiter    ratelimit.Limiter
	emailLimit config.RateLimitConfig

	dummyOnce sync.Once
	dummyHash []byte

	runTask func(task func())
	tasks   sync.WaitGroup
}

type Option func(*Service)

func WithClock(clock Clock) Option {
	return func(s *Service) { s.clock = clock }
}

func WithCodeGenerator(codes CodeGenerator) Option {
	return func(s *Service) { s.codes = codes }
}

func WithPasswordCost(cost int) Option {
	return func(s *Service) { s.passwordCost = cost }
}

// WithTaskRunner replaces the goroutine used for work that must not delay
// the response. Tests pass a runner that executes the task inline.
func WithTaskRunner(run func(task func())) Option {
	return func(s *Service) { s.runTask = run }
}

// WithEmailLimiter enables per-account limits on login and forgot-password.
func WithEmailLimiter(limiter ratelimit.Limiter, cfg config.RateLimitConfig) Option {
	return func(s *Service) {
		s.limiter = limiter
		s.emailLimit = cfg
	}
}

func NewService(cfg *config.AuthConfig, log *zap.Logger, repo Repository, deliverer CodeDeliverer, opts ...Option) *Service {
	s := &Service{
		config:       cfg,
		log:          log,
		repository:   repo,
		mail:         deliverer,
		totp:         NewTOTPProvider(cfg.TOTPIssuer, cfg.TOTPSkew),
		codes:        randomCodes{},
		hasher:       codeHasher{key: []byte(cfg.JWTSecret)},
		clock:        realClock{},
		passwordCost: bcrypt.DefaultCost,
	}
	s.runTask = func(task func()) { go task() }
	for _, opt := range opts {
		opt(s)
	}
	s.cleanup = NewCleanupManager(repo, log, s.clock, cfg.ChallengeTTL)
	return s
}

func (s *Service) background(task func()) {
	s.tasks.Add(1)
	s.runTask(func() {
		defer s.tasks.Done()
		task()
	})
}

// Wait blocks until background work finishes or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), s.passwordCost)
	return string(bytes), err
}

func (s *Service) CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// burnPasswordCheck spends the same time as a real comparison so a missing
// account is indistinguishable from a wrong password.
func (s *Service) burnPasswordCheck(password string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dummy-password"), s.passwordCost)
	})
	_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
}

func (s *Service) validatePassword(password string) error {
	if len(password) < s.config.MinPasswordLen {
		return invalid("password", fmt.Sprintf("must be at least %d characters", s.config.MinPasswordLen))
	}
	if len(password) > maxPasswordBytes {
		return invalid("password", fmt.Sprintf("must be at most %d bytes", maxPasswordBytes))
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type NewUser struct {
	Email     string
	Password  string
	Role      Role
	MFAMethod MFAMethod
	MFAOn     bool
}

// CreateUser is the admin/seed entry point; there is no public sign-up.
func (s *Service) CreateUser(ctx context.Context, in NewUser) (*User, error) {
	email := normalizeEmail(in.Email)
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return nil, invalid("email", "is not a valid address")
	}
	if err := s.validatePassword(in.Password); err != nil {
		return nil, err
	}
	if in.Role == "" {
		in.Role = RoleUser
	}
	if in.Role != RoleUser && in.Role != RoleAdmin {
		return nil, invalid("role", "must be user or admin")
	}
	if in.MFAMethod == "" {
		in.MFAMethod = MFAMethodEmail
	}
	if in.MFAMethod != MFAMethodEmail {
		return nil, invalid("mfaMethod", "must be email until an authenticator app is confirmed")
	}

	hashedPassword, err := s.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	user := &User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hashedPassword,
		Role:         in.Role,
		MFAEnabled:   in.MFAOn,
		MFAMethod:    in.MFAMethod,
	}
	if err := s.repository.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.log.Info("user created", zap.String("user_id", user.ID), zap.String("role", string(user.Role)))
	return user, nil
}

// SetPassword is an admin override that also revokes existing sessions.
func (s *Service) SetPassword(ctx context.Context, userID, password string) error {
	if err := s.validatePassword(password); err != nil {
		return err
	}
	hashedPassword, err := s.HashPassword(password)
	if err != nil {
		return err
	}
	if err := s.repository.UpdatePassword(ctx, userID, hashedPassword); err != nil {
		return err
	}
	return s.repository.DeleteLoginChallengesForUser(ctx, userID)
}

func (s *Service) DeleteUser(ctx context.Context, userID string) error {
	return s.repository.DeleteUser(ctx, userID)
}

func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.repository.ListUsers(ctx)
}

func (s *Service) GetUser(ctx context.Context, userID string) (*User, error) {
	return s.repository.GetUserByID(ctx, userID)
}

// PurgeExpiredChallenges removes every login and reset challenge that can no
// longer be used.
func (s *Service) PurgeExpiredChallenges(ctx context.Context) (int64, error) {
	return s.repository.DeleteExpiredChallenges(ctx, s.clock.Now())
}

func (s *Service) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.repository.GetUserByEmail(ctx, normalizeEmail(email))
}

// Authenticate validates an access token and checks it has not been revoked.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*Claims, error) {
	claims, err := s.ValidateToken(accessToken, audienceAccess)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if err := s.checkTokenVersion(ctx, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// Refresh mints a new access token from a refresh token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if !s.config.RefreshTokenEnabled {
		return nil, ErrInvalidToken
	}
	claims, err := s.ValidateToken(refreshToken, audienceRefresh)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if err := s.checkTokenVersion(ctx, claims); err != nil {
		return nil, err
	}

	user, err := s.repository.GetUserByID(ctx, claims.UserID())
	if err != nil {
		return nil, ErrInvalidToken
	}
	access, exp, err := s.signToken(user, audienceAccess, s.config.AccessTokenDuration)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	return &TokenPair{AccessToken: access, AccessExpiresAt: exp}, nil
}

// LogoutAll revokes every access and refresh token issued to the user.
func (s *Service) LogoutAll(ctx context.Context, userID string) error {
	if err := s.repository.BumpTokenVersion(ctx, userID); err != nil {
		return fmt.Errorf("bump token version: %w", err)
	}
	s.log.Info("all sessions revoked", zap.String("user_id", userID))
	return nil
}

func (s *Service) checkTokenVersion(ctx context.Context, claims *Claims) error {
	user, err := s.repository.GetUserByID(ctx, claims.UserID())
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrInvalidToken
		}
		return fmt.Errorf("load token owner: %w", err)
	}
	if user.TokenVersion != claims.TokenVersion {
		return ErrInvalidToken
	}
	return nil
}

func (s *Service) allowEmail(ctx context.Context, action, email string) error {
	if s.limiter == nil || s.emailLimit.EmailLimit <= 0 {
		return nil
	}
	ok, err := s.limiter.Allow(ctx, action+":"+ratelimit.KeyEmail(email), s.emailLimit.EmailLimit, s.emailLimit.EmailWindow)
	if err != nil {
		s.log.Error("email rate limiter unavailable", zap.Error(err))
		return nil
	}
	if !ok {
		return ErrRateLimited
	}
	return nil
}
