package auth

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/sessions"
	"golang.org/x/crypto/bcrypt"
)

const sessionName = "tankmonitor"

// ErrUnauthorized is returned for any failed credential check. Callers must
// not learn whether the username or the password was wrong.
var ErrUnauthorized = errors.New("unauthorized")

// Credential is an operator login pair as presented by a caller.
type Credential struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Config is the operator credential policy: a single principal with a
// bcrypt password hash, loaded once at startup.
type Config struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
	// SessionSecret signs the dashboard session cookie.
	SessionSecret string `yaml:"session_secret"`
}

// Authenticator validates operator credentials for the valve control
// surface, either directly or through a previously established session.
type Authenticator struct {
	cfg      Config
	sessions *sessions.CookieStore
}

func New(cfg Config) *Authenticator {
	return &Authenticator{
		cfg:      cfg,
		sessions: sessions.NewCookieStore([]byte(cfg.SessionSecret)),
	}
}

// Check validates a credential pair against the configured principal.
func (a *Authenticator) Check(c Credential) error {
	userOK := subtle.ConstantTimeCompare([]byte(c.Username), []byte(a.cfg.Username)) == 1
	passErr := bcrypt.CompareHashAndPassword([]byte(a.cfg.PasswordHash), []byte(c.Password))
	if !userOK || passErr != nil {
		return ErrUnauthorized
	}
	return nil
}

// Authorize accepts a request carrying either a valid session cookie, HTTP
// basic auth, or a JSON credential body.
func (a *Authenticator) Authorize(r *http.Request) error {
	if s, err := a.sessions.Get(r, sessionName); err == nil {
		if ok, _ := s.Values["authenticated"].(bool); ok {
			return nil
		}
	}
	if user, pass, ok := r.BasicAuth(); ok {
		return a.Check(Credential{Username: user, Password: pass})
	}
	if r.Body != nil {
		var c Credential
		if err := json.NewDecoder(r.Body).Decode(&c); err == nil && c.Username != "" {
			return a.Check(c)
		}
	}
	return ErrUnauthorized
}

// HandleLogin establishes a session for a valid JSON credential body.
func (a *Authenticator) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var c Credential
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if err := a.Check(c); err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	s, _ := a.sessions.Get(r, sessionName)
	s.Values["authenticated"] = true
	if err := s.Save(r, w); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HashPassword produces a bcrypt hash for the config file.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(b), err
}
