package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const purposeLogin = "login"

// LoginResult carries either a token pair or, when a second factor is
// required, the temp token that identifies the pending challenge.
type LoginResult struct {
	MFARequired bool
	TempToken   string
	MFAMethod   MFAMethod
	Tokens      *TokenPair
}

func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, invalid("email", "is required")
	}
	if password == "" {
		return nil, invalid("password", "is required")
	}
	if err := s.allowEmail(ctx, "login", email); err != nil {
		return nil, err
	}

	user, err := s.repository.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.burnPasswordCheck(password)
			s.log.Info("login failed: unknown email")
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	now := s.clock.Now()
	if user.Locked(now) {
		s.burnPasswordCheck(password)
		s.log.Warn("login rejected: account locked", zap.String("user_id", user.ID))
		return nil, ErrInvalidCredentials
	}

	if !s.CheckPasswordHash(password, user.PasswordHash) {
		lockUntil := now.Add(s.config.LockoutDuration)
		if err := s.repository.RecordLoginFailure(ctx, user.ID, s.config.MaxLoginFailures, lockUntil); err != nil {
			s.log.Error("failed to update login attempts", zap.Error(err))
		}
		s.log.Info("login failed: wrong password", zap.String("user_id", user.ID))
		return nil, ErrInvalidCredentials
	}

	if !user.RequiresSecondFactor() {
		tokens, err := s.completeLogin(ctx, user)
		if err != nil {
			return nil, err
		}
		return &LoginResult{Tokens: tokens}, nil
	}

	method := user.MFAMethod
	if method == MFAMethodTOTP && user.TOTPSecret == "" {
		s.log.Warn("totp selected without a confirmed secret, falling back to email",
			zap.String("user_id", user.ID))
		method = MFAMethodEmail
	}
	if !method.Valid() {
		method = MFAMethodEmail
	}

	tempToken, err := s.startLoginChallenge(ctx, user, method)
	if err != nil {
		return nil, err
	}

	return &LoginResult{MFARequired: true, TempToken: tempToken, MFAMethod: method}, nil
}

func (s *Service) startLoginChallenge(ctx context.Context, user *User, method MFAMethod) (string, error) {
	s.cleanup.MaybePurge(ctx)

	raw, tokenHash, err := newOpaqueToken()
	if err != nil {
		return "", fmt.Errorf("generate temp token: %w", err)
	}

	now := s.clock.Now()
	challenge := &LoginChallenge{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: tokenHash,
		Method:    method,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.config.ChallengeTTL),
	}

	var code string
	if method == MFAMethodEmail {
		code, err = s.codes.Generate(s.config.CodeLength)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		challenge.CodeHash = s.hasher.hash(purposeLogin, challenge.ID, code)
		challenge.LastSentAt = now
	}

	// Replacing drops any earlier challenge for this user, so its code dies with it.
	if err := s.repository.ReplaceLoginChallenge(ctx, challenge); err != nil {
		return "", fmt.Errorf("store login challenge: %w", err)
	}

	if method == MFAMethodEmail {
		s.mail.Dispatch(loginCodeMessage(user.Email, code, s.config.ChallengeTTL))
	}

	s.log.Info("second factor required",
		zap.String("user_id", user.ID),
		zap.String("method", string(method)))
	return raw, nil
}

// VerifySecondFactor completes a login started by Login.
func (s *Service) VerifySecondFactor(ctx context.Context, tempToken, code string, method MFAMethod) (*TokenPair, error) {
	if !method.Valid() {
		return nil, invalid("method", "must be email or totp")
	}
	if !isNumericCode(code, s.codeLength(method)) {
		return nil, invalid("otp", fmt.Sprintf("must be %d digits", s.codeLength(method)))
	}

	challenge, err := s.activeLoginChallenge(ctx, tempToken)
	if err != nil {
		return nil, err
	}
	if challenge.Method != method {
		return nil, invalid("method", "does not match the pending verification")
	}

	user, err := s.repository.GetUserByID(ctx, challenge.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			_, _ = s.repository.DeleteLoginChallenge(ctx, challenge.ID)
			return nil, ErrExpiredOrInvalidChallenge
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	var ok bool
	switch method {
	case MFAMethodEmail:
		ok = s.hasher.matches(purposeLogin, challenge.ID, code, challenge.CodeHash)
	case MFAMethodTOTP:
		ok = s.totp.Validate(code, user.TOTPSecret, s.clock.Now())
	}

	if !ok {
		return nil, s.recordFailedLoginCode(ctx, challenge)
	}

	deleted, err := s.repository.DeleteLoginChallenge(ctx, challenge.ID)
	if err != nil {
		return nil, fmt.Errorf("consume login challenge: %w", err)
	}
	if !deleted {
		// A concurrent request consumed or exhausted the challenge first.
		return nil, ErrExpiredOrInvalidChallenge
	}

	return s.completeLogin(ctx, user)
}

func (s *Service) recordFailedLoginCode(ctx context.Context, challenge *LoginChallenge) error {
	attempts, err := s.repository.IncrementLoginAttempts(ctx, challenge.ID, s.config.MaxCodeAttempts)
	if err != nil {
		if errors.Is(err, ErrChallengeNotFound) {
			return ErrExpiredOrInvalidChallenge
		}
		return fmt.Errorf("record failed attempt: %w", err)
	}

	if attempts >= s.config.MaxCodeAttempts {
		if _, err := s.repository.DeleteLoginChallenge(ctx, challenge.ID); err != nil {
			s.log.Error("failed to drop exhausted challenge", zap.Error(err))
		}
		s.log.Warn("second factor attempts exhausted", zap.String("user_id", challenge.UserID))
		return ErrAttemptsExhausted
	}

	s.log.Info("invalid second factor code",
		zap.String("user_id", challenge.UserID),
		zap.Int("attempts", attempts))
	return ErrInvalidCode
}

// ResendOTP issues a fresh email code for a pending challenge and
// invalidates the previous one.
func (s *Service) ResendOTP(ctx context.Context, tempToken string) error {
	challenge, err := s.activeLoginChallenge(ctx, tempToken)
	if err != nil {
		return err
	}
	if challenge.Method != MFAMethodEmail {
		return invalid("tempToken", "resend is only available for email codes")
	}

	now := s.clock.Now()
	if now.Sub(challenge.LastSentAt) < s.config.ResendCooldown {
		return ErrRateLimited
	}
	if challenge.ResendCount >= s.config.MaxResends {
		return ErrRateLimited
	}

	user, err := s.repository.GetUserByID(ctx, challenge.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrExpiredOrInvalidChallenge
		}
		return fmt.Errorf("load user: %w", err)
	}

	code, err := s.codes.Generate(s.config.CodeLength)
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}
	codeHash := s.hasher.hash(purposeLogin, challenge.ID, code)

	err = s.repository.RotateLoginCode(ctx, challenge.ID, challenge.ResendCount, codeHash, now, now.Add(s.config.ChallengeTTL))
	if err != nil {
		if errors.Is(err, ErrChallengeNotFound) {
			// Either gone or another resend won the race.
			return ErrRateLimited
		}
		return fmt.Errorf("rotate login code: %w", err)
	}

	s.mail.Dispatch(loginCodeMessage(user.Email, code, s.config.ChallengeTTL))
	s.log.Info("login code resent",
		zap.String("user_id", user.ID),
		zap.Int("resend_count", challenge.ResendCount+1))
	return nil
}

func (s *Service) activeLoginChallenge(ctx context.Context, tempToken string) (*LoginChallenge, error) {
	if tempToken == "" {
		return nil, ErrExpiredOrInvalidChallenge
	}

	challenge, err := s.repository.GetLoginChallenge(ctx, hashOpaqueToken(tempToken))
	if err != nil {
		if errors.Is(err, ErrChallengeNotFound) {
			return nil, ErrExpiredOrInvalidChallenge
		}
		return nil, fmt.Errorf("load login challenge: %w", err)
	}

	if challenge.Expired(s.clock.Now()) {
		if _, err := s.repository.DeleteLoginChallenge(ctx, challenge.ID); err != nil {
			s.log.Warn("failed to drop expired challenge", zap.Error(err))
		}
		return nil, ErrExpiredOrInvalidChallenge
	}
	return challenge, nil
}

func (s *Service) completeLogin(ctx context.Context, user *User) (*TokenPair, error) {
	tokens, err := s.GenerateTokenPair(user)
	if err != nil {
		return nil, fmt.Errorf("issue tokens: %w", err)
	}
	if err := s.repository.RecordLoginSuccess(ctx, user.ID, s.clock.Now()); err != nil {
		s.log.Error("failed to reset login attempts", zap.Error(err))
	}
	s.log.Info("user authenticated", zap.String("user_id", user.ID))
	return tokens, nil
}

// codeLength is the configured length for email codes; authenticator apps
// always produce six digits.
func (s *Service) codeLength(method MFAMethod) int {
	if method == MFAMethodTOTP {
		return 6
	}
	return s.config.CodeLength
}
