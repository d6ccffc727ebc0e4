package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/optimo/bridgebroker/internal/cache"
	"github.com/optimo/bridgebroker/internal/secrets"
)

// Data is a decrypted session as seen by callers of the store. The
// plaintext tokens in it exist only for the duration of one request.
type Data struct {
	ID              uuid.UUID
	UserID          string
	AccessToken     string
	RefreshToken    string
	AccessExpiresAt time.Time
	Status          Status
}

// Service is the session store with the secret codec applied at the
// boundary: plaintext tokens in and out, ciphertext in the database.
type Service interface {
	Create(ctx context.Context, userID, accessToken, refreshToken string, accessExpiresAt time.Time) (uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID) (*Data, error)
	UpdateTokens(ctx context.Context, id uuid.UUID, accessToken, refreshToken string, expiresAt time.Time) error
	MarkReauthRequired(ctx context.Context, id uuid.UUID) error
	Revoke(ctx context.Context, id uuid.UUID, requestingUserID string) error
	Touch(ctx context.Context, id uuid.UUID)
}

type service struct {
	repo        Repository
	codec       *secrets.Codec
	revocations *cache.RevocationCache
}

// NewService creates a session Service over the given repository and codec.
func NewService(repo Repository, codec *secrets.Codec) Service {
	return &service{repo: repo, codec: codec}
}

// NewServiceWithCache creates a Service that additionally records
// revocations in Redis. A nil revocations cache disables the fast path.
func NewServiceWithCache(repo Repository, codec *secrets.Codec, revocations *cache.RevocationCache) Service {
	return &service{repo: repo, codec: codec, revocations: revocations}
}

func (s *service) Create(ctx context.Context, userID, accessToken, refreshToken string, accessExpiresAt time.Time) (uuid.UUID, error) {
	accessEnc, err := s.codec.Encrypt(accessToken)
	if err != nil {
		return uuid.Nil, err
	}

	refreshEnc, err := s.codec.Encrypt(refreshToken)
	if err != nil {
		return uuid.Nil, err
	}

	sess := &Session{
		UserID:                userID,
		AccessTokenEncrypted:  accessEnc,
		RefreshTokenEncrypted: refreshEnc,
		AccessExpiresAt:       accessExpiresAt,
		Status:                StatusActive,
		LastUsedAt:            time.Now().UTC(),
	}
	sess.ID = uuid.New()

	if err := s.repo.Create(ctx, sess); err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	return sess.ID, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*Data, error) {
	sess, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	accessToken, err := s.codec.Decrypt(sess.AccessTokenEncrypted)
	if err != nil {
		return nil, fmt.Errorf("decrypting access token for session %s: %w", id, err)
	}

	refreshToken, err := s.codec.Decrypt(sess.RefreshTokenEncrypted)
	if err != nil {
		return nil, fmt.Errorf("decrypting refresh token for session %s: %w", id, err)
	}

	return &Data{
		ID:              sess.ID,
		UserID:          sess.UserID,
		AccessToken:     accessToken,
		RefreshToken:    refreshToken,
		AccessExpiresAt: sess.AccessExpiresAt,
		Status:          sess.Status,
	}, nil
}

// UpdateTokens re-encrypts both tokens and resets the session to
// active; a successful refresh always clears a prior reauth flag.
func (s *service) UpdateTokens(ctx context.Context, id uuid.UUID, accessToken, refreshToken string, expiresAt time.Time) error {
	accessEnc, err := s.codec.Encrypt(accessToken)
	if err != nil {
		return err
	}

	refreshEnc, err := s.codec.Encrypt(refreshToken)
	if err != nil {
		return err
	}

	if err := s.repo.UpdateTokens(ctx, id, accessEnc, refreshEnc, expiresAt); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	return nil
}

func (s *service) MarkReauthRequired(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.MarkReauthRequired(ctx, id); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// Revoke terminates the session owned by requestingUserID. A missing
// row, a foreign owner and an already revoked session all surface as
// ErrSessionNotFound.
func (s *service) Revoke(ctx context.Context, id uuid.UUID, requestingUserID string) error {
	revoked, err := s.repo.Revoke(ctx, id, requestingUserID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	if !revoked {
		return ErrSessionNotFound
	}

	if s.revocations != nil {
		if err := s.revocations.MarkRevoked(ctx, id.String()); err != nil {
			slog.Warn("Failed to store session revocation in Redis", "error", err, "session_id", id.String())
		}
	}

	return nil
}

// Touch updates lastUsedAt best-effort. Failures are logged and
// swallowed; this is advisory telemetry, never on the request path.
func (s *service) Touch(ctx context.Context, id uuid.UUID) {
	if err := s.repo.UpdateLastUsed(ctx, id, time.Now().UTC()); err != nil {
		slog.Warn("Failed to update session last_used_at", "error", err, "session_id", id.String())
	}
}
