// Package bridge proxies authenticated calls to the internal API on
// behalf of a bridge session, refreshing the stored tokens as needed.
package bridge

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/optimo/bridgebroker/internal/cache"
	"github.com/optimo/bridgebroker/internal/config"
	"github.com/optimo/bridgebroker/internal/domain/session"
	"github.com/optimo/bridgebroker/internal/identity"
)

const touchTimeout = 5 * time.Second

// Request describes the call to forward to the internal API. The proxy
// treats the target as opaque: method, headers and body in, status and
// body out.
type Request struct {
	Method string
	Header http.Header
	Body   []byte
}

// Proxy is the single choke point through which external callers act
// on a user's behalf. It holds no per-session state; every Fetch
// re-reads the store, so concurrent calls interleave safely and a
// racing refresh resolves to last-writer-wins in the store.
type Proxy struct {
	sessions    session.Service
	provider    identity.Provider
	revocations *cache.RevocationCache
	baseURL     string
	lookahead   time.Duration
	client      *http.Client
}

// NewProxy creates a Proxy. revocations may be nil, which disables the
// Redis fast path.
func NewProxy(sessions session.Service, provider identity.Provider, revocations *cache.RevocationCache, cfg *config.BridgeConfig) *Proxy {
	return &Proxy{
		sessions:    sessions,
		provider:    provider,
		revocations: revocations,
		baseURL:     strings.TrimRight(cfg.TargetBaseURL, "/"),
		lookahead:   time.Duration(cfg.RefreshLookahead) * time.Second,
		client: &http.Client{
			Timeout: time.Duration(cfg.RequestTimeout) * time.Second,
		},
	}
}

// Fetch performs an authenticated call to path on behalf of the given
// session. It refreshes the access token proactively when it is within
// the lookahead window of expiry, and reactively at most once when the
// target answers 401. The caller owns the response body.
//
// Session-state failures surface as *SessionError; all other failures,
// including non-auth HTTP errors from the target, pass through.
func (p *Proxy) Fetch(ctx context.Context, sessionID uuid.UUID, path string, req Request) (*http.Response, error) {
	if p.revocations != nil {
		revoked, err := p.revocations.IsRevoked(ctx, sessionID.String())
		if err != nil {
			slog.Warn("Revocation cache lookup failed, falling back to store", "error", err, "session_id", sessionID.String())
		} else if revoked {
			return nil, errNotFound()
		}
	}

	sess, err := p.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return nil, errNotFound()
		}
		return nil, err
	}

	switch sess.Status {
	case session.StatusRevoked:
		return nil, errNotFound()
	case session.StatusReauthRequired:
		// Refresh already failed for this session; retrying blindly
		// would hammer the identity provider.
		return nil, errReauthRequired()
	}

	accessToken := sess.AccessToken
	if time.Until(sess.AccessExpiresAt) < p.lookahead {
		accessToken, err = p.refresh(ctx, sessionID, sess.RefreshToken)
		if err != nil {
			return nil, err
		}
	}

	resp, err := p.do(ctx, accessToken, path, req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)

		accessToken, err = p.refresh(ctx, sessionID, sess.RefreshToken)
		if err != nil {
			return nil, err
		}

		// Exactly one retry. A second 401 means the freshly minted
		// token is not accepted either; flag the session and stop.
		resp, err = p.do(ctx, accessToken, path, req)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode == http.StatusUnauthorized {
			drain(resp)
			p.markReauthRequired(ctx, sessionID)
			return nil, errReauthRequired()
		}
	}

	// Advisory last-used update, detached from the response path.
	go func() {
		touchCtx, cancel := context.WithTimeout(context.Background(), touchTimeout)
		defer cancel()
		p.sessions.Touch(touchCtx, sessionID)
	}()

	return resp, nil
}

// refresh exchanges the stored refresh token and persists the new pair.
// Any provider-side failure flags the session reauth_required; the
// proactive and reactive paths deliberately share these semantics.
func (p *Proxy) refresh(ctx context.Context, sessionID uuid.UUID, refreshToken string) (string, error) {
	tokens, err := p.provider.Refresh(ctx, refreshToken)
	if err != nil {
		slog.Info("Token refresh failed, session requires re-authentication", "error", err, "session_id", sessionID.String())
		p.markReauthRequired(ctx, sessionID)
		return "", errReauthRequired()
	}

	if err := p.sessions.UpdateTokens(ctx, sessionID, tokens.AccessToken, tokens.RefreshToken, tokens.ExpiresAt); err != nil {
		return "", err
	}

	return tokens.AccessToken, nil
}

func (p *Proxy) markReauthRequired(ctx context.Context, sessionID uuid.UUID) {
	if err := p.sessions.MarkReauthRequired(ctx, sessionID); err != nil {
		slog.Error("Failed to mark session reauth_required", "error", err, "session_id", sessionID.String())
	}
}

// do performs one call against the target with the bearer token
// attached. The HTTP client timeout bounds the whole exchange.
func (p *Proxy) do(ctx context.Context, accessToken, path string, r Request) (*http.Response, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return nil, err
	}

	for key, values := range r.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	return p.client.Do(req)
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
