package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUserExists        = errors.New("user already exists")
	ErrChallengeNotFound = errors.New("challenge not found")
)

// MFAUpdate is the full set of MFA columns written by UpdateMFA.
type MFAUpdate struct {
	Enabled       bool
	Method        MFAMethod
	Secret        string
	PendingSecret string
}

type Repository interface {
	CreateUser(ctx context.Context, user *User) error
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	DeleteUser(ctx context.Context, id string) error
	RecordLoginFailure(ctx context.Context, userID string, maxFailures int, lockUntil time.Time) error
	RecordLoginSuccess(ctx context.Context, userID string, at time.Time) error
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	UpdateMFA(ctx context.Context, userID string, update MFAUpdate) error
	SetPendingTOTPSecret(ctx context.Context, userID, secret string) error
	BumpTokenVersion(ctx context.Context, userID string) error

	ReplaceLoginChallenge(ctx context.Context, challenge *LoginChallenge) error
	GetLoginChallenge(ctx context.Context, tokenHash string) (*LoginChallenge, error)
	// IncrementLoginAttempts atomically bumps the attempt counter while it is
	// below limit and returns the new value.
	IncrementLoginAttempts(ctx context.Context, id string, limit int) (int, error)
	// RotateLoginCode swaps the code only if nobody else resent since
	// resendCount was read.
	RotateLoginCode(ctx context.Context, id string, resendCount int, codeHash string, sentAt, expiresAt time.Time) error
	// DeleteLoginChallenge reports whether this call removed the row.
	DeleteLoginChallenge(ctx context.Context, id string) (bool, error)
	DeleteLoginChallengesForUser(ctx context.Context, userID string) error

	ReplaceResetChallenge(ctx context.Context, challenge *ResetChallenge) error
	GetResetChallengeByUser(ctx context.Context, userID string) (*ResetChallenge, error)
	IncrementResetAttempts(ctx context.Context, id string, limit int) (int, error)
	// IssueResetToken consumes the code identified by codeHash and records
	// the reset token in a single conditional update.
	IssueResetToken(ctx context.Context, id, codeHash, tokenHash string, expiresAt time.Time) (bool, error)
	// ConsumeResetToken deletes the challenge holding tokenHash and returns
	// its owner. A token can only be consumed once.
	ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time) (string, error)
	DeleteResetChallenge(ctx context.Context, id string) error

	DeleteExpiredChallenges(ctx context.Context, now time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreateUser(ctx context.Context, user *User) error {
	if _, err := r.GetUserByEmail(ctx, user.Email); err == nil {
		return ErrUserExists
	} else if !errors.Is(err, ErrUserNotFound) {
		return err
	}
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrUserExists
		}
		return err
	}
	return nil
}

func (r *repository) GetUserByID(ctx context.Context, id string) (*User, error) {
	var user User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *repository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *repository) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	if err := r.db.WithContext(ctx).Order("email").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (r *repository) DeleteUser(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", id).Delete(&LoginChallenge{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&ResetChallenge{}).Error; err != nil {
			return err
		}
		res := tx.Unscoped().Where("id = ?", id).Delete(&User{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrUserNotFound
		}
		return nil
	})
}

func (r *repository) RecordLoginFailure(ctx context.Context, userID string, maxFailures int, lockUntil time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&User{}).Where("id = ?", userID).
			UpdateColumn("failed_login_count", gorm.Expr("failed_login_count + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrUserNotFound
		}
		return tx.Model(&User{}).
			Where("id = ? AND failed_login_count >= ?", userID, maxFailures).
			Updates(map[string]any{"lock_until": lockUntil, "failed_login_count": 0}).Error
	})
}

func (r *repository) RecordLoginSuccess(ctx context.Context, userID string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).
		Updates(map[string]any{"failed_login_count": 0, "lock_until": nil, "last_login_at": at}).Error
}

func (r *repository) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res := r.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Updates(map[string]any{
		"password_hash":      passwordHash,
		"token_version":      gorm.Expr("token_version + 1"),
		"failed_login_count": 0,
		"lock_until":         nil,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *repository) UpdateMFA(ctx context.Context, userID string, update MFAUpdate) error {
	res := r.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Updates(map[string]any{
		"mfa_enabled":         update.Enabled,
		"mfa_method":          update.Method,
		"totp_secret":         update.Secret,
		"totp_pending_secret": update.PendingSecret,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *repository) SetPendingTOTPSecret(ctx context.Context, userID, secret string) error {
	res := r.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).
		Update("totp_pending_secret", secret)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *repository) BumpTokenVersion(ctx context.Context, userID string) error {
	res := r.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).
		UpdateColumn("token_version", gorm.Expr("token_version + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *repository) ReplaceLoginChallenge(ctx context.Context, challenge *LoginChallenge) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", challenge.UserID).Delete(&LoginChallenge{}).Error; err != nil {
			return err
		}
		return tx.Create(challenge).Error
	})
}

func (r *repository) GetLoginChallenge(ctx context.Context, tokenHash string) (*LoginChallenge, error) {
	var challenge LoginChallenge
	if err := r.db.WithContext(ctx).Where("token_hash = ?", tokenHash).First(&challenge).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, err
	}
	return &challenge, nil
}

func (r *repository) IncrementLoginAttempts(ctx context.Context, id string, limit int) (int, error) {
	return incrementAttempts(ctx, r.db, &LoginChallenge{}, id, limit)
}

func (r *repository) RotateLoginCode(ctx context.Context, id string, resendCount int, codeHash string, sentAt, expiresAt time.Time) error {
	res := r.db.WithContext(ctx).Model(&LoginChallenge{}).
		Where("id = ? AND resend_count = ?", id, resendCount).
		Updates(map[string]any{
			"code_hash":    codeHash,
			"attempts":     0,
			"resend_count": resendCount + 1,
			"last_sent_at": sentAt,
			"expires_at":   expiresAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrChallengeNotFound
	}
	return nil
}

func (r *repository) DeleteLoginChallenge(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&LoginChallenge{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) DeleteLoginChallengesForUser(ctx context.Context, userID string) error {
	return r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&LoginChallenge{}).Error
}

func (r *repository) ReplaceResetChallenge(ctx context.Context, challenge *ResetChallenge) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", challenge.UserID).Delete(&ResetChallenge{}).Error; err != nil {
			return err
		}
		return tx.Create(challenge).Error
	})
}

func (r *repository) GetResetChallengeByUser(ctx context.Context, userID string) (*ResetChallenge, error) {
	var challenge ResetChallenge
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&challenge).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, err
	}
	return &challenge, nil
}

func (r *repository) IncrementResetAttempts(ctx context.Context, id string, limit int) (int, error) {
	return incrementAttempts(ctx, r.db, &ResetChallenge{}, id, limit)
}

func (r *repository) IssueResetToken(ctx context.Context, id, codeHash, tokenHash string, expiresAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&ResetChallenge{}).
		Where("id = ? AND code_hash = ?", id, codeHash).
		Updates(map[string]any{
			"code_hash":              "",
			"reset_token_hash":       tokenHash,
			"reset_token_expires_at": expiresAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time) (string, error) {
	var challenge ResetChallenge
	db := r.db.WithContext(ctx)
	if err := db.Where("reset_token_hash = ?", tokenHash).First(&challenge).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrChallengeNotFound
		}
		return "", err
	}

	res := db.Where("id = ? AND reset_token_hash = ?", challenge.ID, tokenHash).Delete(&ResetChallenge{})
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected == 0 {
		return "", ErrChallengeNotFound
	}
	if challenge.ResetTokenExpiresAt == nil || !now.Before(*challenge.ResetTokenExpiresAt) {
		return "", ErrChallengeNotFound
	}
	return challenge.UserID, nil
}

func (r *repository) DeleteResetChallenge(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&ResetChallenge{}).Error
}

func (r *repository) DeleteExpiredChallenges(ctx context.Context, now time.Time) (int64, error) {
	var purged int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("expires_at <= ?", now).Delete(&LoginChallenge{})
		if res.Error != nil {
			return res.Error
		}
		purged += res.RowsAffected

		res = tx.Where(
			"(reset_token_hash IS NULL AND code_expires_at <= ?) OR (reset_token_expires_at IS NOT NULL AND reset_token_expires_at <= ?)",
			now, now,
		).Delete(&ResetChallenge{})
		if res.Error != nil {
			return res.Error
		}
		purged += res.RowsAffected
		return nil
	})
	return purged, err
}

func incrementAttempts(ctx context.Context, db *gorm.DB, model any, id string, limit int) (int, error) {
	var attempts int
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(model).Where("id = ? AND attempts < ?", id, limit).
			UpdateColumn("attempts", gorm.Expr("attempts + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrChallengeNotFound
		}
		return tx.Model(model).Where("id = ?", id).Select("attempts").Row().Scan(&attempts)
	})
	if err != nil {
		return 0, fmt.Errorf("increment attempts: %w", err)
	}
	return attempts, nil
}
