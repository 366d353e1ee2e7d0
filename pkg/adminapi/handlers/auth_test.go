package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fakeTokenIssuer struct{ issued []string }

func (f *fakeTokenIssuer) IssueAuthToken(token string) { f.issued = append(f.issued, token) }

type fakeLimiter struct {
	blocked bool
	fails   int
}

func (f *fakeLimiter) Blocked(now time.Time) bool { return f.blocked }
func (f *fakeLimiter) RecordFailure(now time.Time) { f.fails++ }
func (f *fakeLimiter) RecordSuccess()               {}

func doLogin(t *testing.T, h *AuthHandler, username, password string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(LoginRequest{Username: username, Password: password})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Login(rec, req)
	return rec
}

func TestLoginAcceptsCorrectCredentials(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	require.NoError(t, err)

	tokens := &fakeTokenIssuer{}
	limiter := &fakeLimiter{}
	h := NewAuthHandler("admin", hash, tokens, limiter, func() string { return "abc123" })

	rec := doLogin(t, h, "admin", "correct-horse")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "abc123", resp.Token)
	assert.Equal(t, []string{"abc123"}, tokens.issued)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	require.NoError(t, err)

	tokens := &fakeTokenIssuer{}
	limiter := &fakeLimiter{}
	h := NewAuthHandler("admin", hash, tokens, limiter, func() string { return "abc123" })

	rec := doLogin(t, h, "admin", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 1, limiter.fails)
	assert.Empty(t, tokens.issued)
}

func TestLoginRejectsWhenRateLimited(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	require.NoError(t, err)

	tokens := &fakeTokenIssuer{}
	limiter := &fakeLimiter{blocked: true}
	h := NewAuthHandler("admin", hash, tokens, limiter, func() string { return "abc123" })

	rec := doLogin(t, h, "admin", "correct-horse")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Empty(t, tokens.issued)
}
