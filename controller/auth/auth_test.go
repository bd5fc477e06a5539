package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	return New(Config{
		Username:      "operator",
		PasswordHash:  hash,
		SessionSecret: "test-secret",
	})
}

func TestCheck(t *testing.T) {
	a := testAuthenticator(t)

	assert.NoError(t, a.Check(Credential{Username: "operator", Password: "hunter2"}))
	assert.ErrorIs(t, a.Check(Credential{Username: "operator", Password: "wrong"}), ErrUnauthorized)
	assert.ErrorIs(t, a.Check(Credential{Username: "intruder", Password: "hunter2"}), ErrUnauthorized)
	assert.ErrorIs(t, a.Check(Credential{}), ErrUnauthorized)
}

func TestAuthorizeBasicAuth(t *testing.T) {
	a := testAuthenticator(t)

	r := httptest.NewRequest("POST", "/api/tank/valve/toggle", nil)
	r.SetBasicAuth("operator", "hunter2")
	assert.NoError(t, a.Authorize(r))

	r = httptest.NewRequest("POST", "/api/tank/valve/toggle", nil)
	r.SetBasicAuth("operator", "wrong")
	assert.ErrorIs(t, a.Authorize(r), ErrUnauthorized)
}

func TestAuthorizeJSONBody(t *testing.T) {
	a := testAuthenticator(t)

	body := strings.NewReader(`{"username":"operator","password":"hunter2"}`)
	r := httptest.NewRequest("POST", "/api/tank/valve/toggle", body)
	assert.NoError(t, a.Authorize(r))
}

func TestAuthorizeBareRequest(t *testing.T) {
	a := testAuthenticator(t)
	r := httptest.NewRequest("POST", "/api/tank/valve/toggle", nil)
	assert.ErrorIs(t, a.Authorize(r), ErrUnauthorized)
}

func TestLoginEstablishesSession(t *testing.T) {
	a := testAuthenticator(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/api/login",
		strings.NewReader(`{"username":"operator","password":"hunter2"}`))
	a.HandleLogin(w, r)
	require.Equal(t, http.StatusNoContent, w.Code)
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)

	r = httptest.NewRequest("POST", "/api/tank/valve/toggle", nil)
	for _, c := range cookies {
		r.AddCookie(c)
	}
	assert.NoError(t, a.Authorize(r))
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	a := testAuthenticator(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/api/login",
		strings.NewReader(`{"username":"operator","password":"wrong"}`))
	a.HandleLogin(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, w.Result().Cookies())
}
