package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, sess *Session) error
	FindByID(ctx context.Context, id uuid.UUID) (*Session, error)
	UpdateTokens(ctx context.Context, id uuid.UUID, accessEnc, refreshEnc string, expiresAt time.Time) error
	MarkReauthRequired(ctx context.Context, id uuid.UUID) error
	Revoke(ctx context.Context, id uuid.UUID, userID string) (bool, error)
	UpdateLastUsed(ctx context.Context, id uuid.UUID, t time.Time) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db}
}

func (r *repository) Create(ctx context.Context, sess *Session) error {
	return r.db.WithContext(ctx).Create(sess).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	var sess Session
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&sess).Error
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// UpdateTokens overwrites both ciphertexts and the expiry in one write
// and forces the session back to active. Last writer wins when two
// refreshes race; the row always holds one consistent token pair.
func (r *repository) UpdateTokens(ctx context.Context, id uuid.UUID, accessEnc, refreshEnc string, expiresAt time.Time) error {
	return r.db.WithContext(ctx).Model(&Session{}).
		Where("id = ? AND status <> ?", id, StatusRevoked).
		Updates(map[string]any{
			"access_token_encrypted":  accessEnc,
			"refresh_token_encrypted": refreshEnc,
			"access_expires_at":       expiresAt,
			"status":                  StatusActive,
		}).Error
}

func (r *repository) MarkReauthRequired(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&Session{}).
		Where("id = ? AND status <> ?", id, StatusRevoked).
		Update("status", StatusReauthRequired).Error
}

// Revoke flips the status for the row whose owner matches. The
// ownership check lives in the WHERE clause so it holds even if a
// caller forgets to check; the bool reports whether a row was hit.
func (r *repository) Revoke(ctx context.Context, id uuid.UUID, userID string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Session{}).
		Where("id = ? AND user_id = ? AND status <> ?", id, userID, StatusRevoked).
		Update("status", StatusRevoked)

	if res.Error != nil {
		return false, res.Error
	}

	return res.RowsAffected == 1, nil
}

func (r *repository) UpdateLastUsed(ctx context.Context, id uuid.UUID, t time.Time) error {
	return r.db.WithContext(ctx).Model(&Session{}).
		Where("id = ?", id).
		Update("last_used_at", t).Error
}
