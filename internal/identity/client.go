package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/optimo/bridgebroker/internal/config"
)

// Client is an HTTP Provider implementation for a GoTrue-style auth
// endpoint. All calls are bounded by the client timeout.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a Client from the identity provider configuration.
func NewClient(cfg *config.IdentityConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		http: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
}

// Verify resolves an access token by calling the provider's user
// endpoint. A non-200 response maps to ErrInvalidToken.
func (c *Client) Verify(ctx context.Context, accessToken string) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, fmt.Errorf("building verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verify request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, ErrInvalidToken
	}

	var ident Identity
	if err := json.NewDecoder(resp.Body).Decode(&ident); err != nil {
		return nil, fmt.Errorf("decoding verify response: %w", err)
	}
	if ident.UserID == "" {
		return nil, ErrInvalidToken
	}

	return &ident, nil
}

// Refresh exchanges a refresh token for a new token pair. A 4xx
// response maps to ErrInvalidGrant; transport failures are returned
// as-is so callers can distinguish a dead grant from a dead provider.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	body, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return nil, fmt.Errorf("encoding refresh request: %w", err)
	}

	url := c.baseURL + "/auth/v1/token?grant_type=refresh_token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		io.Copy(io.Discard, resp.Body)
		return nil, ErrInvalidGrant
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("refresh request failed with status %d", resp.StatusCode)
	}

	var rr refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("decoding refresh response: %w", err)
	}
	if rr.AccessToken == "" || rr.RefreshToken == "" {
		return nil, ErrInvalidGrant
	}

	return &TokenSet{
		AccessToken:  rr.AccessToken,
		RefreshToken: rr.RefreshToken,
		ExpiresAt:    rr.expiry(),
	}, nil
}

// expiry resolves the new access token expiry, preferring the absolute
// expires_at claim over the relative expires_in, defaulting to one hour.
func (r *refreshResponse) expiry() time.Time {
	if r.ExpiresAt > 0 {
		return time.Unix(r.ExpiresAt, 0)
	}
	if r.ExpiresIn > 0 {
		return time.Now().Add(time.Duration(r.ExpiresIn) * time.Second)
	}
	return time.Now().Add(time.Hour)
}
