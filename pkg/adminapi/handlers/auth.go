// Package handlers implements the admin HTTP API's three endpoints: login,
// group listing, and per-group detail (§6).
package handlers

import (
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// TokenIssuer records a freshly minted opaque admin session token so later
// requests can present it. Satisfied by *session.Cache.
type TokenIssuer interface {
	IssueAuthToken(token string)
}

// RateLimiter is the login throttle described in SUPPLEMENTED FEATURES
// item 1.
type RateLimiter interface {
	Blocked(now time.Time) bool
	RecordFailure(now time.Time)
	RecordSuccess()
}

// TokenMinter produces a fresh opaque token string (32-char lowercase hex,
// no dashes).
type TokenMinter func() string

// AuthHandler implements POST /login.
type AuthHandler struct {
	username     string
	passwordHash []byte
	tokens       TokenIssuer
	limiter      RateLimiter
	mint         TokenMinter
	now          func() time.Time
}

// NewAuthHandler builds an AuthHandler comparing against a bcrypt hash of
// the configured admin password (OPEN QUESTIONS, DECISIONS: admin
// credential storage).
func NewAuthHandler(username string, passwordHash []byte, tokens TokenIssuer, limiter RateLimiter, mint TokenMinter) *AuthHandler {
	return &AuthHandler{
		username:     username,
		passwordHash: passwordHash,
		tokens:       tokens,
		limiter:      limiter,
		mint:         mint,
		now:          time.Now,
	}
}

// LoginRequest is the request body for POST /login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the response body for POST /login.
type LoginResponse struct {
	Token string `json:"token"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	if h.limiter.Blocked(now) {
		writeError(w, http.StatusTooManyRequests, "too many failed login attempts, try again later")
		return
	}

	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Username != h.username {
		h.limiter.RecordFailure(now)
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}
	if err := bcrypt.CompareHashAndPassword(h.passwordHash, []byte(req.Password)); err != nil {
		h.limiter.RecordFailure(now)
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	h.limiter.RecordSuccess()
	token := h.mint()
	h.tokens.IssueAuthToken(token)
	writeOK(w, LoginResponse{Token: token})
}
