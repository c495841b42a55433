package auth

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

type TOTPSetup struct {
	QRCode string
	Secret string
}

// Actor is the authenticated caller of a self-service operation.
type Actor struct {
	UserID string
	Role   Role
}

func (a Actor) canManage(userID string) bool {
	return a.UserID == userID || a.Role == RoleAdmin
}

// SetupTOTP generates a new authenticator secret for userID. The secret is
// held as pending and only becomes active through ConfirmTOTP, so the
// user's current method keeps working until the app is proven.
func (s *Service) SetupTOTP(ctx context.Context, actor Actor, userID, email string) (*TOTPSetup, error) {
	if userID == "" {
		return nil, invalid("userId", "is required")
	}
	if !actor.canManage(userID) {
		return nil, ErrForbidden
	}

	user, err := s.repository.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if email != "" && !strings.EqualFold(strings.TrimSpace(email), user.Email) {
		return nil, invalid("email", "does not match the account")
	}

	key, err := s.totp.Generate(user.Email)
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}
	qrCode, err := s.totp.QRDataURI(key)
	if err != nil {
		return nil, fmt.Errorf("render qr code: %w", err)
	}

	if err := s.repository.SetPendingTOTPSecret(ctx, user.ID, key.Secret()); err != nil {
		return nil, fmt.Errorf("store pending secret: %w", err)
	}

	s.log.Info("totp setup started", zap.String("user_id", user.ID))
	return &TOTPSetup{QRCode: qrCode, Secret: key.Secret()}, nil
}

// ConfirmTOTP proves possession of the pending secret and switches the
// account to authenticator-app verification.
func (s *Service) ConfirmTOTP(ctx context.Context, userID, code string) error {
	if !isNumericCode(code, 6) {
		return invalid("otp", "must be 6 digits")
	}

	user, err := s.repository.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.TOTPPendingSecret == "" {
		return invalid("otp", "no authenticator setup in progress")
	}
	if !s.totp.Validate(code, user.TOTPPendingSecret, s.clock.Now()) {
		s.log.Info("totp confirmation failed", zap.String("user_id", user.ID))
		return ErrInvalidCode
	}

	err = s.repository.UpdateMFA(ctx, user.ID, MFAUpdate{
		Enabled: true,
		Method:  MFAMethodTOTP,
		Secret:  user.TOTPPendingSecret,
	})
	if err != nil {
		return fmt.Errorf("activate totp: %w", err)
	}

	s.log.Info("totp enabled", zap.String("user_id", user.ID))
	return nil
}

// UpdateMFASettings toggles MFA and picks the method. Moving to email drops
// any authenticator secret; moving to totp needs a confirmed one.
func (s *Service) UpdateMFASettings(ctx context.Context, actor Actor, userID string, enabled bool, method MFAMethod) (*User, error) {
	if !actor.canManage(userID) {
		return nil, ErrForbidden
	}
	if !method.Valid() {
		return nil, invalid("mfaMethod", "must be email or totp")
	}

	user, err := s.repository.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	update := MFAUpdate{
		Enabled:       enabled,
		Method:        method,
		Secret:        user.TOTPSecret,
		PendingSecret: user.TOTPPendingSecret,
	}
	switch method {
	case MFAMethodEmail:
		update.Secret = ""
		update.PendingSecret = ""
	case MFAMethodTOTP:
		if user.TOTPSecret == "" {
			return nil, invalid("mfaMethod", "confirm an authenticator app before selecting totp")
		}
	}

	if err := s.repository.UpdateMFA(ctx, user.ID, update); err != nil {
		return nil, fmt.Errorf("update mfa settings: %w", err)
	}
	if err := s.repository.DeleteLoginChallengesForUser(ctx, user.ID); err != nil {
		s.log.Warn("failed to drop pending login challenges", zap.Error(err))
	}

	s.log.Info("mfa settings updated",
		zap.String("user_id", user.ID),
		zap.Bool("enabled", enabled),
		zap.String("method", string(method)))
	return s.repository.GetUserByID(ctx, user.ID)
}
