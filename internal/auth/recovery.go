package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const purposeReset = "reset"

// ForgotPassword starts a reset for email if such an account exists. The
// caller always gets the same outcome; only malformed input is reported.
// The account lookup and delivery run in the background so an existing
// address costs the request no more time than an unknown one.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return invalid("email", "is required")
	}
	if err := s.allowEmail(ctx, "forgot", email); err != nil {
		s.log.Info("forgot password throttled")
		return nil
	}

	detached := context.WithoutCancel(ctx)
	s.background(func() {
		ctx, cancel := context.WithTimeout(detached, backgroundTaskTimeout)
		defer cancel()
		s.issueResetCode(ctx, email)
	})
	return nil
}

func (s *Service) issueResetCode(ctx context.Context, email string) {
	user, err := s.repository.GetUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			s.log.Error("forgot password lookup failed", zap.Error(err))
		}
		return
	}

	s.cleanup.MaybePurge(ctx)

	now := s.clock.Now()
	resendCount := 0
	previous, err := s.repository.GetResetChallengeByUser(ctx, user.ID)
	switch {
	case err == nil && now.Before(previous.CodeExpiresAt):
		if now.Sub(previous.LastSentAt) < s.config.ResendCooldown || previous.ResendCount >= s.config.MaxResends {
			s.log.Info("reset code request throttled", zap.String("user_id", user.ID))
			return
		}
		resendCount = previous.ResendCount + 1
	case err != nil && !errors.Is(err, ErrChallengeNotFound):
		s.log.Error("failed to load reset challenge", zap.Error(err))
		return
	}

	code, err := s.codes.Generate(s.config.CodeLength)
	if err != nil {
		s.log.Error("failed to generate reset code", zap.Error(err))
		return
	}

	challenge := &ResetChallenge{
		ID:            uuid.NewString(),
		UserID:        user.ID,
		CodeExpiresAt: now.Add(s.config.ResetCodeTTL),
		ResendCount:   resendCount,
		LastSentAt:    now,
		CreatedAt:     now,
	}
	challenge.CodeHash = s.hasher.hash(purposeReset, challenge.ID, code)

	if err := s.repository.ReplaceResetChallenge(ctx, challenge); err != nil {
		s.log.Error("failed to store reset challenge", zap.Error(err))
		return
	}

	s.mail.Dispatch(resetCodeMessage(user.Email, code, s.config.ResetCodeTTL))
	s.log.Info("reset code issued", zap.String("user_id", user.ID))
}

// VerifyResetCode exchanges a correct reset code for a single-use reset
// token. Every failure is reported as ErrInvalidOrExpiredCode.
func (s *Service) VerifyResetCode(ctx context.Context, email, code string) (string, error) {
	email = normalizeEmail(email)
	if email == "" {
		return "", invalid("email", "is required")
	}
	if !isNumericCode(code, s.config.CodeLength) {
		return "", invalid("otp", fmt.Sprintf("must be %d digits", s.config.CodeLength))
	}

	user, err := s.repository.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", ErrInvalidOrExpiredCode
		}
		return "", fmt.Errorf("load user: %w", err)
	}

	challenge, err := s.repository.GetResetChallengeByUser(ctx, user.ID)
	if err != nil {
		if errors.Is(err, ErrChallengeNotFound) {
			return "", ErrInvalidOrExpiredCode
		}
		return "", fmt.Errorf("load reset challenge: %w", err)
	}
	if challenge.CodeHash == "" {
		return "", ErrInvalidOrExpiredCode
	}

	now := s.clock.Now()
	if !now.Before(challenge.CodeExpiresAt) {
		if err := s.repository.DeleteResetChallenge(ctx, challenge.ID); err != nil {
			s.log.Warn("failed to drop expired reset challenge", zap.Error(err))
		}
		return "", ErrInvalidOrExpiredCode
	}

	if !s.hasher.matches(purposeReset, challenge.ID, code, challenge.CodeHash) {
		attempts, err := s.repository.IncrementResetAttempts(ctx, challenge.ID, s.config.MaxCodeAttempts)
		if err != nil {
			if errors.Is(err, ErrChallengeNotFound) {
				return "", ErrInvalidOrExpiredCode
			}
			return "", fmt.Errorf("record failed attempt: %w", err)
		}
		if attempts >= s.config.MaxCodeAttempts {
			if err := s.repository.DeleteResetChallenge(ctx, challenge.ID); err != nil {
				s.log.Error("failed to drop exhausted reset challenge", zap.Error(err))
			}
			s.log.Warn("reset code attempts exhausted", zap.String("user_id", user.ID))
		}
		return "", ErrInvalidOrExpiredCode
	}

	raw, tokenHash, err := newOpaqueToken()
	if err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	issued, err := s.repository.IssueResetToken(ctx, challenge.ID, challenge.CodeHash, tokenHash, now.Add(s.config.ResetTokenTTL))
	if err != nil {
		return "", fmt.Errorf("issue reset token: %w", err)
	}
	if !issued {
		return "", ErrInvalidOrExpiredCode
	}

	s.log.Info("reset code verified", zap.String("user_id", user.ID))
	return raw, nil
}

// ResetPassword spends a reset token. On success every session and pending
// login challenge of the user is invalidated.
func (s *Service) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	if err := s.validatePassword(newPassword); err != nil {
		return err
	}
	if resetToken == "" {
		return ErrExpiredOrInvalidChallenge
	}

	userID, err := s.repository.ConsumeResetToken(ctx, hashOpaqueToken(resetToken), s.clock.Now())
	if err != nil {
		if errors.Is(err, ErrChallengeNotFound) {
			return ErrExpiredOrInvalidChallenge
		}
		return fmt.Errorf("consume reset token: %w", err)
	}

	hashedPassword, err := s.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.repository.UpdatePassword(ctx, userID, hashedPassword); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrExpiredOrInvalidChallenge
		}
		return fmt.Errorf("update password: %w", err)
	}
	if err := s.repository.DeleteLoginChallengesForUser(ctx, userID); err != nil {
		s.log.Error("failed to drop pending login challenges", zap.Error(err))
	}

	s.log.Info("password reset", zap.String("user_id", userID))
	return nil
}
