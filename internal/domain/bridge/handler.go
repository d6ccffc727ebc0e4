package bridge

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwt"

	"github.com/optimo/bridgebroker/internal/domain/session"
	"github.com/optimo/bridgebroker/internal/identity"
	"github.com/optimo/bridgebroker/internal/utils"
)

// Handler exposes the bridge operations over HTTP.
type Handler struct {
	sessions session.Service
	proxy    *Proxy
}

// NewHandler creates a Handler over the session store and proxy.
func NewHandler(sessions session.Service, proxy *Proxy) *Handler {
	return &Handler{sessions: sessions, proxy: proxy}
}

// CreateSessionRequest is the body of POST /bridge/sessions.
type CreateSessionRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// CreateSession converts the caller's verified bearer token plus the
// supplied refresh token into an opaque session ID. The identity
// middleware has already verified the access token; its expiry is read
// from the JWT exp claim without re-verifying the signature.
func (h *Handler) CreateSession(c *fiber.Ctx) error {
	ident := identity.FromContext(c)
	if ident == nil {
		return utils.ErrorResponse(c, utils.ErrUnauthorized)
	}

	var req CreateSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, utils.ErrBadRequest)
	}
	if req.RefreshToken == "" {
		return utils.ErrorResponse(c, utils.NewAPIError("BAD_REQUEST", "refresh_token is required", fiber.StatusBadRequest))
	}

	accessToken := identity.TokenFromContext(c)
	expiresAt := accessTokenExpiry(accessToken)

	id, err := h.sessions.Create(c.UserContext(), ident.UserID, accessToken, req.RefreshToken, expiresAt)
	if err != nil {
		return utils.ErrorResponse(c, utils.ErrInternalServer)
	}

	return utils.SuccessResponse(c, fiber.Map{
		"session_id": id.String(),
	}, "Bridge session created", fiber.StatusCreated)
}

// RevokeSession terminates the caller's session. Unknown IDs, foreign
// owners and already revoked sessions all get the same 404.
func (h *Handler) RevokeSession(c *fiber.Ctx) error {
	ident := identity.FromContext(c)
	if ident == nil {
		return utils.ErrorResponse(c, utils.ErrUnauthorized)
	}

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return utils.ErrorResponse(c, utils.ErrSessionGone)
	}

	if err := h.sessions.Revoke(c.UserContext(), id, ident.UserID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return utils.ErrorResponse(c, utils.ErrSessionGone)
		}
		return utils.ErrorResponse(c, utils.ErrInternalServer)
	}

	return utils.SuccessResponse(c, fiber.Map{
		"revoked": true,
	}, "Bridge session revoked")
}

// ProxyRequest forwards an arbitrary call to the internal API through
// the session's bearer token. The target's status and body are relayed
// unmodified, auth-layer failures excepted.
func (h *Handler) ProxyRequest(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return utils.ErrorResponse(c, utils.ErrSessionGone)
	}

	path := "/" + c.Params("*")
	if qs := string(c.Request().URI().QueryString()); qs != "" {
		path += "?" + qs
	}

	req := Request{
		Method: c.Method(),
		Header: http.Header{},
		Body:   c.Body(),
	}
	if ct := c.Get(fiber.HeaderContentType); ct != "" {
		req.Header.Set(fiber.HeaderContentType, ct)
	}

	resp, err := h.proxy.Fetch(c.UserContext(), id, path, req)
	if err != nil {
		var sessErr *SessionError
		if errors.As(err, &sessErr) {
			switch sessErr.Reason {
			case ReasonReauthRequired:
				return utils.ErrorResponse(c, utils.ErrReauthRequired)
			default:
				return utils.ErrorResponse(c, utils.ErrSessionGone)
			}
		}
		return utils.ErrorResponse(c, utils.NewAPIError("BAD_GATEWAY", "Upstream call failed", fiber.StatusBadGateway))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return utils.ErrorResponse(c, utils.NewAPIError("BAD_GATEWAY", "Upstream response could not be read", fiber.StatusBadGateway))
	}

	if ct := resp.Header.Get(fiber.HeaderContentType); ct != "" {
		c.Set(fiber.HeaderContentType, ct)
	}

	return c.Status(resp.StatusCode).Send(body)
}

// accessTokenExpiry extracts the exp claim from a JWT without verifying
// the signature; verification already happened upstream. Tokens without
// a usable exp default to one hour out.
func accessTokenExpiry(raw string) time.Time {
	tok, err := jwt.Parse([]byte(raw), jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		return time.Now().Add(time.Hour)
	}

	if exp, ok := tok.Expiration(); ok && !exp.IsZero() {
		return exp
	}

	return time.Now().Add(time.Hour)
}
