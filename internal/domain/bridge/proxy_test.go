package bridge

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/optimo/bridgebroker/internal/config"
	"github.com/optimo/bridgebroker/internal/domain/session"
	"github.com/optimo/bridgebroker/internal/identity"
	"github.com/optimo/bridgebroker/internal/secrets"
)

// memRepo is an in-memory session.Repository with the same semantics
// as the Postgres implementation.
type memRepo struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*session.Session
}

func newMemRepo() *memRepo {
	return &memRepo{sessions: map[uuid.UUID]*session.Session{}}
}

func (r *memRepo) Create(ctx context.Context, sess *session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *sess
	r.sessions[sess.ID] = &cp
	return nil
}

func (r *memRepo) FindByID(ctx context.Context, id uuid.UUID) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *sess
	return &cp, nil
}

func (r *memRepo) UpdateTokens(ctx context.Context, id uuid.UUID, accessEnc, refreshEnc string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[id]; ok && sess.Status != session.StatusRevoked {
		sess.AccessTokenEncrypted = accessEnc
		sess.RefreshTokenEncrypted = refreshEnc
		sess.AccessExpiresAt = expiresAt
		sess.Status = session.StatusActive
	}
	return nil
}

func (r *memRepo) MarkReauthRequired(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[id]; ok && sess.Status != session.StatusRevoked {
		sess.Status = session.StatusReauthRequired
	}
	return nil
}

func (r *memRepo) Revoke(ctx context.Context, id uuid.UUID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok || sess.UserID != userID || sess.Status == session.StatusRevoked {
		return false, nil
	}
	sess.Status = session.StatusRevoked
	return true, nil
}

func (r *memRepo) UpdateLastUsed(ctx context.Context, id uuid.UUID, t time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[id]; ok {
		sess.LastUsedAt = t
	}
	return nil
}

func (r *memRepo) lastUsed(id uuid.UUID) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[id]; ok {
		return sess.LastUsedAt
	}
	return time.Time{}
}

func (r *memRepo) expireNow(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id].AccessExpiresAt = time.Now().Add(-time.Second)
}

// stubProvider is a scripted identity.Provider counting refresh calls.
type stubProvider struct {
	refreshCalls atomic.Int64
	failRefresh  bool
	next         identity.TokenSet
}

func (s *stubProvider) Verify(ctx context.Context, accessToken string) (*identity.Identity, error) {
	return nil, identity.ErrInvalidToken
}

func (s *stubProvider) Refresh(ctx context.Context, refreshToken string) (*identity.TokenSet, error) {
	s.refreshCalls.Add(1)
	if s.failRefresh {
		return nil, identity.ErrInvalidGrant
	}
	ts := s.next
	return &ts, nil
}

// target is an httptest server recording the bearer token of each call.
type target struct {
	*httptest.Server
	calls  atomic.Int64
	mu     sync.Mutex
	tokens []string
}

// newTarget starts a target whose nth call (1-based) is answered by
// respond.
func newTarget(t *testing.T, respond func(call int, w http.ResponseWriter, r *http.Request)) *target {
	t.Helper()
	tg := &target{}
	tg.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := int(tg.calls.Add(1))
		tg.mu.Lock()
		tg.tokens = append(tg.tokens, strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		tg.mu.Unlock()
		respond(call, w, r)
	}))
	t.Cleanup(tg.Server.Close)
	return tg
}

func (tg *target) token(i int) string {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	if i >= len(tg.tokens) {
		return ""
	}
	return tg.tokens[i]
}

type fixture struct {
	repo     *memRepo
	sessions session.Service
	provider *stubProvider
	proxy    *Proxy
}

func newFixture(t *testing.T, tg *target) *fixture {
	t.Helper()
	codec, err := secrets.NewCodec(bytes.Repeat([]byte{0x42}, secrets.KeySize))
	require.NoError(t, err)

	repo := newMemRepo()
	sessions := session.NewService(repo, codec)
	provider := &stubProvider{
		next: identity.TokenSet{
			AccessToken:  "tok-B",
			RefreshToken: "ref-B",
			ExpiresAt:    time.Now().Add(time.Hour),
		},
	}

	cfg := &config.BridgeConfig{
		TargetBaseURL:    tg.URL,
		RefreshLookahead: 60,
		RequestTimeout:   5,
	}

	return &fixture{
		repo:     repo,
		sessions: sessions,
		provider: provider,
		proxy:    NewProxy(sessions, provider, nil, cfg),
	}
}

func (f *fixture) createSession(t *testing.T, expiresAt time.Time) uuid.UUID {
	t.Helper()
	id, err := f.sessions.Create(context.Background(), "u1", "tok-A", "ref-A", expiresAt)
	require.NoError(t, err)
	return id
}

func reason(t *testing.T, err error) Reason {
	t.Helper()
	var sessErr *SessionError
	require.True(t, errors.As(err, &sessErr), "expected *SessionError, got %v", err)
	return sessErr.Reason
}

func TestFetch_SuccessWithoutRefresh(t *testing.T) {
	tg := newTarget(t, func(call int, w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	})
	f := newFixture(t, tg)
	id := f.createSession(t, time.Now().Add(time.Hour))

	before := f.repo.lastUsed(id)

	resp, err := f.proxy.Fetch(context.Background(), id, "/api/ping", Request{})
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(body))

	// Token far from expiry: no refresh, original token used as-is.
	assert.Equal(t, int64(0), f.provider.refreshCalls.Load())
	assert.Equal(t, int64(1), tg.calls.Load())
	assert.Equal(t, "tok-A", tg.token(0))

	// Touch runs detached from the response path.
	require.Eventually(t, func() bool {
		return f.repo.lastUsed(id).After(before)
	}, time.Second, 10*time.Millisecond, "lastUsedAt should be updated asynchronously")
}

func TestFetch_ForwardsMethodBodyAndPath(t *testing.T) {
	var gotMethod, gotPath, gotBody, gotQuery string
	tg := newTarget(t, func(call int, w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusCreated)
	})
	f := newFixture(t, tg)
	id := f.createSession(t, time.Now().Add(time.Hour))

	resp, err := f.proxy.Fetch(context.Background(), id, "/api/requests?limit=5", Request{
		Method: http.MethodPost,
		Body:   []byte(`{"amount":10}`),
	})
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/api/requests", gotPath)
	assert.Equal(t, "limit=5", gotQuery)
	assert.Equal(t, `{"amount":10}`, gotBody)
}

func TestFetch_ProactiveRefreshInsideLookahead(t *testing.T) {
	tg := newTarget(t, func(call int, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	f := newFixture(t, tg)
	// 30 seconds out is inside the 60-second lookahead window.
	id := f.createSession(t, time.Now().Add(30*time.Second))

	resp, err := f.proxy.Fetch(context.Background(), id, "/api/ping", Request{})
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, int64(1), f.provider.refreshCalls.Load())
	assert.Equal(t, int64(1), tg.calls.Load())
	// The target must see the refreshed token, never the stale one.
	assert.Equal(t, "tok-B", tg.token(0))

	// The new pair is persisted and the session stays active.
	data, err := f.sessions.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "tok-B", data.AccessToken)
	assert.Equal(t, "ref-B", data.RefreshToken)
	assert.Equal(t, session.StatusActive, data.Status)
}

func TestFetch_ExpiredSessionRefreshesExactlyOnce(t *testing.T) {
	tg := newTarget(t, func(call int, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	f := newFixture(t, tg)
	id := f.createSession(t, time.Now().Add(time.Hour))

	// First fetch: fresh token, used unmodified.
	resp, err := f.proxy.Fetch(context.Background(), id, "/api/ping", Request{})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "tok-A", tg.token(0))
	assert.Equal(t, int64(0), f.provider.refreshCalls.Load())

	// Expire the access token; the next fetch refreshes exactly once
	// and the target receives the new token.
	f.repo.expireNow(id)

	resp, err = f.proxy.Fetch(context.Background(), id, "/api/ping", Request{})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, int64(1), f.provider.refreshCalls.Load())
	assert.Equal(t, "tok-B", tg.token(1))
}

func TestFetch_SingleRetryOn401(t *testing.T) {
	tg := newTarget(t, func(call int, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	f := newFixture(t, tg)
	id := f.createSession(t, time.Now().Add(time.Hour))

	_, err := f.proxy.Fetch(context.Background(), id, "/api/ping", Request{})
	assert.Equal(t, ReasonReauthRequired, reason(t, err))

	// Exactly one refresh and exactly two target calls, never more.
	assert.Equal(t, int64(1), f.provider.refreshCalls.Load())
	assert.Equal(t, int64(2), tg.calls.Load())
	assert.Equal(t, "tok-A", tg.token(0))
	assert.Equal(t, "tok-B", tg.token(1))

	data, err := f.sessions.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, session.StatusReauthRequired, data.Status)
}

func TestFetch_401ThenSuccess(t *testing.T) {
	tg := newTarget(t, func(call int, w http.ResponseWriter, r *http.Request) {
		if call == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte("recovered"))
	})
	f := newFixture(t, tg)
	id := f.createSession(t, time.Now().Add(time.Hour))

	resp, err := f.proxy.Fetch(context.Background(), id, "/api/ping", Request{})
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "recovered", string(body))
	assert.Equal(t, int64(1), f.provider.refreshCalls.Load())
	assert.Equal(t, int64(2), tg.calls.Load())
	assert.Equal(t, "tok-B", tg.token(1))

	data, err := f.sessions.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, session.StatusActive, data.Status)
}

func TestFetch_ReauthRequiredIsTerminal(t *testing.T) {
	tg := newTarget(t, func(call int, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	f := newFixture(t, tg)
	id := f.createSession(t, time.Now().Add(time.Hour))

	_, err := f.proxy.Fetch(context.Background(), id, "/api/ping", Request{})
	assert.Equal(t, ReasonReauthRequired, reason(t, err))

	targetCalls := tg.calls.Load()
	refreshCalls := f.provider.refreshCalls.Load()

	// A reauth_required session fails immediately: no target call, no
	// refresh attempt against the identity provider.
	_, err = f.proxy.Fetch(context.Background(), id, "/api/ping", Request{})
	assert.Equal(t, ReasonReauthRequired, reason(t, err))
	assert.Equal(t, targetCalls, tg.calls.Load())
	assert.Equal(t, refreshCalls, f.provider.refreshCalls.Load())
}

func TestFetch_ProactiveRefreshFailure(t *testing.T) {
	tg := newTarget(t, func(call int, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	f := newFixture(t, tg)
	f.provider.failRefresh = true
	id := f.createSession(t, time.Now().Add(30*time.Second))

	_, err := f.proxy.Fetch(context.Background(), id, "/api/ping", Request{})
	assert.Equal(t, ReasonReauthRequired, reason(t, err))

	// Refresh failed before any target I/O happened.
	assert.Equal(t, int64(0), tg.calls.Load())

	data, getErr := f.sessions.Get(context.Background(), id)
	require.NoError(t, getErr)
	assert.Equal(t, session.StatusReauthRequired, data.Status)
}

func TestFetch_RevokedAndUnknownAreIndistinguishable(t *testing.T) {
	tg := newTarget(t, func(call int, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	f := newFixture(t, tg)
	id := f.createSession(t, time.Now().Add(time.Hour))

	require.NoError(t, f.sessions.Revoke(context.Background(), id, "u1"))

	_, err := f.proxy.Fetch(context.Background(), id, "/api/ping", Request{})
	assert.Equal(t, ReasonNotFound, reason(t, err))

	_, err = f.proxy.Fetch(context.Background(), uuid.New(), "/api/ping", Request{})
	assert.Equal(t, ReasonNotFound, reason(t, err))

	assert.Equal(t, int64(0), tg.calls.Load())
}

func TestFetch_NonAuthFailurePassesThrough(t *testing.T) {
	tg := newTarget(t, func(call int, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	})
	f := newFixture(t, tg)
	id := f.createSession(t, time.Now().Add(time.Hour))

	resp, err := f.proxy.Fetch(context.Background(), id, "/api/ping", Request{})
	require.NoError(t, err)
	defer resp.Body.Close()

	// Business-level failures are the caller's problem, not the
	// proxy's: no refresh, no retry, response relayed as-is.
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "boom", string(body))
	assert.Equal(t, int64(0), f.provider.refreshCalls.Load())
	assert.Equal(t, int64(1), tg.calls.Load())
}

func TestFetch_EndToEndLifecycle(t *testing.T) {
	tg := newTarget(t, func(call int, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	f := newFixture(t, tg)
	ctx := context.Background()

	id, err := f.sessions.Create(ctx, "u1", "tok-A", "ref-A", time.Now().Add(time.Hour))
	require.NoError(t, err)

	resp, err := f.proxy.Fetch(ctx, id, "/api/ping", Request{})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "tok-A", tg.token(0))

	require.NoError(t, f.sessions.Revoke(ctx, id, "u1"))

	_, err = f.proxy.Fetch(ctx, id, "/api/ping", Request{})
	assert.Equal(t, ReasonNotFound, reason(t, err))

	// Revocation is permanent: a second revoke reports failure.
	assert.ErrorIs(t, f.sessions.Revoke(ctx, id, "u1"), session.ErrSessionNotFound)
}
