package session

import (
	"time"

	"github.com/optimo/bridgebroker/internal/database"
)

// Status is the lifecycle state of a bridge session.
type Status string

const (
	// StatusActive means the session can be used for proxied calls.
	StatusActive Status = "active"
	// StatusReauthRequired means a token refresh failed; the session is
	// unusable until the owner re-authenticates and tokens are replaced.
	StatusReauthRequired Status = "reauth_required"
	// StatusRevoked means the owner terminated the session. Permanent.
	StatusRevoked Status = "revoked"
)

// Session is the persistent record of a bridge session. Token columns
// hold ciphertext only; plaintext never reaches the database.
type Session struct {
	database.BaseModel

	UserID                string    `gorm:"column:user_id;not null;index"`
	AccessTokenEncrypted  string    `gorm:"column:access_token_encrypted;not null"`
	RefreshTokenEncrypted string    `gorm:"column:refresh_token_encrypted;not null"`
	AccessExpiresAt       time.Time `gorm:"column:access_expires_at;not null"`
	Status                Status    `gorm:"column:status;type:text;default:active"`
	LastUsedAt            time.Time `gorm:"column:last_used_at"`
}

func (Session) TableName() string {
	return "bridge_sessions"
}
