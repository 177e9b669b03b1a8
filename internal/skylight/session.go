package skylight

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/oauth2"

	appLog "skylightcal/internal/log"
)

var (
	// ErrUnauthorized is returned when the API rejects the credentials.
	ErrUnauthorized = errors.New("skylight: unauthorized")
	// ErrNoSession is returned by LoadSession when no session is cached.
	ErrNoSession = errors.New("skylight: no cached session")
)

// Session is the result of a successful login: the user id plus the
// per-session token. Requests authenticate with Basic base64(userID:token).
type Session struct {
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Valid reports whether both parts of the credential are present.
func (s Session) Valid() bool {
	return s.UserID != "" && s.Token != ""
}

// Credential returns the base64-encoded "userID:token" pair.
func (s Session) Credential() string {
	return base64.StdEncoding.EncodeToString([]byte(s.UserID + ":" + s.Token))
}

// TokenSource exposes the session as an oauth2 token of type Basic so the
// standard oauth2 transport sets "Authorization: Basic <credential>".
func (s Session) TokenSource() oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: s.Credential(),
		TokenType:   "Basic",
	})
}

// loginRequest mirrors the body the vendor web app posts to /sessions.
type loginRequest struct {
	Email             string `json:"email"`
	Name              string `json:"name"`
	Phone             string `json:"phone"`
	Password          string `json:"password"`
	ResettingPassword string `json:"resettingPassword"`
	TextMeTheApp      string `json:"textMeTheApp"`
	AgreedToMarketing string `json:"agreedToMarketing"`
}

// Login exchanges email and password for a Session.
// httpClient may be nil, in which case a client with a 30s timeout is used.
func Login(ctx context.Context, httpClient *http.Client, baseURL, email, password string) (Session, error) {
	if email == "" || password == "" {
		return Session{}, errors.New("skylight: email and password are required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	body, err := json.Marshal(loginRequest{
		Email:             email,
		Password:          password,
		ResettingPassword: "false",
		TextMeTheApp:      "true",
		AgreedToMarketing: "true",
	})
	if err != nil {
		return Session{}, fmt.Errorf("encoding login request: %w", err)
	}

	endpoint := strings.TrimRight(baseURL, "/") + "/sessions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Session{}, fmt.Errorf("creating login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	appLog.Info("skylight login start", "url", appLog.RedactURL(endpoint))

	resp, err := httpClient.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Session{}, fmt.Errorf("reading login response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden ||
		resp.StatusCode == http.StatusUnprocessableEntity:
		return Session{}, fmt.Errorf("%w: login rejected (status %d)", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Session{}, fmt.Errorf("login failed: status %d", resp.StatusCode)
	}

	var sr sessionResponse
	if err := json.Unmarshal(respBody, &sr); err != nil {
		return Session{}, fmt.Errorf("decoding login response: %w", err)
	}

	sess := Session{
		UserID:    string(sr.Data.ID),
		Token:     sr.Data.Attributes.Token,
		Email:     email,
		CreatedAt: time.Now().UTC(),
	}
	if !sess.Valid() {
		return Session{}, errors.New("login response did not contain a user id and token")
	}

	appLog.Info("skylight login success", "user_id", sess.UserID)
	return sess, nil
}

// LoadSession reads a cached session from path.
// It returns ErrNoSession if the file does not exist.
func LoadSession(path string) (Session, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Session{}, ErrNoSession
	}
	if err != nil {
		return Session{}, fmt.Errorf("reading session file: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return Session{}, fmt.Errorf("corrupt session file (delete %s to log in again): %w", path, err)
	}
	if !sess.Valid() {
		return Session{}, ErrNoSession
	}
	return sess, nil
}

// SaveSession persists a session with 0600 permissions.
func SaveSession(path string, sess Session) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling session: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("writing session file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("saving session file: %w", err)
	}
	return nil
}

// ClearSession removes a cached session. A missing file is not an error.
func ClearSession(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
