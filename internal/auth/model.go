package auth

import (
	"time"

	"gorm.io/gorm"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

type MFAMethod string

const (
	MFAMethodEmail MFAMethod = "email"
	MFAMethodTOTP  MFAMethod = "totp"
)

func (m MFAMethod) Valid() bool {
	return m == MFAMethodEmail || m == MFAMethodTOTP
}

type User struct {
	ID                string    `gorm:"primaryKey;type:varchar(36)"`
	Email             string    `gorm:"uniqueIndex;not null"`
	PasswordHash      string    `gorm:"not null"`
	Role              Role      `gorm:"type:varchar(16);not null;default:user"`
	MFAEnabled        bool      `gorm:"not null;default:false"`
	MFAMethod         MFAMethod `gorm:"type:varchar(16);not null;default:email"`
	TOTPSecret        string
	TOTPPendingSecret string
	TokenVersion      int `gorm:"not null;default:0"`
	FailedLoginCount  int `gorm:"not null;default:0"`
	LockUntil         *time.Time
	LastLoginAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
	DeletedAt         gorm.DeletedAt `gorm:"index"`
}

func (User) TableName() string {
	return "users"
}

// RequiresSecondFactor reports whether login must pass through a challenge.
// The stored method is ignored while MFA is disabled.
func (u *User) RequiresSecondFactor() bool {
	return u.MFAEnabled
}

func (u *User) Locked(now time.Time) bool {
	return u.LockUntil != nil && now.Before(*u.LockUntil)
}

// LoginChallenge is the pending second factor created after a successful
// password check. It is looked up by the hash of the temp token.
type LoginChallenge struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)"`
	UserID      string    `gorm:"uniqueIndex;not null;type:varchar(36)"`
	TokenHash   string    `gorm:"uniqueIndex;not null"`
	Method      MFAMethod `gorm:"type:varchar(16);not null"`
	CodeHash    string
	Attempts    int `gorm:"not null;default:0"`
	ResendCount int `gorm:"not null;default:0"`
	LastSentAt  time.Time
	IssuedAt    time.Time `gorm:"not null"`
	ExpiresAt   time.Time `gorm:"index;not null"`
}

func (LoginChallenge) TableName() string {
	return "login_challenges"
}

func (c *LoginChallenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// ResetChallenge tracks one forgot-password flow per user. The code fields
// are cleared once the code is verified and a reset token takes their place.
type ResetChallenge struct {
	ID                  string `gorm:"primaryKey;type:varchar(36)"`
	UserID              string `gorm:"uniqueIndex;not null;type:varchar(36)"`
	CodeHash            string
	CodeExpiresAt       time.Time
	Attempts            int `gorm:"not null;default:0"`
	ResendCount         int `gorm:"not null;default:0"`
	LastSentAt          time.Time
	ResetTokenHash      *string `gorm:"uniqueIndex"`
	ResetTokenExpiresAt *time.Time
	CreatedAt           time.Time
}

func (ResetChallenge) TableName() string {
	return "reset_challenges"
}
