// Package credentials supplies bearer tokens for backend requests from a
// local credentials file, refreshing them against the backend when asked.
package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"sightline/internal/logging"
)

// expirySkew treats tokens expiring within this window as already expired.
const expirySkew = 30 * time.Second

// HTTPDoer describes the HTTP client used for token refresh.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Credentials is the on-disk token pair.
type Credentials struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// Config locates the credentials file and refresh endpoint.
type Config struct {
	Path        string
	StaticToken string
	RefreshURL  string
}

// FileProvider reads credentials from disk and refreshes them over HTTP.
type FileProvider struct {
	mu sync.Mutex

	path       string
	static     string
	refreshURL string
	client     HTTPDoer
	logger     *slog.Logger
	now        func() time.Time

	creds   Credentials
	modTime time.Time
}

// NewFileProvider constructs a provider. A static token, when set, is used
// whenever the file holds no access token.
func NewFileProvider(cfg Config, client HTTPDoer, logger *slog.Logger) *FileProvider {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &FileProvider{
		path:       strings.TrimSpace(cfg.Path),
		static:     strings.TrimSpace(cfg.StaticToken),
		refreshURL: strings.TrimSpace(cfg.RefreshURL),
		client:     client,
		logger:     logging.NewComponentLogger(logger, "credentials"),
		now:        time.Now,
	}
}

// Token returns the current access token when one is present and not expired.
func (p *FileProvider) Token(_ context.Context) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.reloadLocked(); err != nil {
		logging.WarnWithContext(p.logger, "credentials file unreadable", "credentials_read_failed",
			logging.String("path", p.path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check file permissions and JSON syntax"),
			logging.String(logging.FieldImpact, "requests are sent without a credential"),
		)
	}
	token := p.creds.AccessToken
	if token == "" {
		token = p.static
	}
	if token == "" {
		return "", false
	}
	if p.expired(token) {
		return "", false
	}
	return token, true
}

// Refresh exchanges the stored refresh token for a new access token and
// persists the result. It reports whether a usable token was obtained.
func (p *FileProvider) Refresh(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_ = p.reloadLocked()
	if p.refreshURL == "" || p.creds.RefreshToken == "" {
		p.logger.Debug("credential refresh unavailable", logging.Bool("has_refresh_token", p.creds.RefreshToken != ""))
		return false
	}
	next, err := p.exchange(ctx, p.creds.RefreshToken)
	if err != nil {
		logging.WarnWithContext(p.logger, "credential refresh failed", "credentials_refresh_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "sign in again to replace the credentials file"),
			logging.String(logging.FieldImpact, "authenticated requests fail until credentials are renewed"),
		)
		return false
	}
	if next.RefreshToken == "" {
		next.RefreshToken = p.creds.RefreshToken
	}
	p.creds = next
	if err := p.saveLocked(); err != nil {
		logging.WarnWithContext(p.logger, "credentials not persisted", "credentials_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "refreshed token lasts only for this process"),
		)
	}
	p.logger.Info("credential refreshed", logging.String(logging.FieldEventType, "credentials_refreshed"))
	return true
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

func (p *FileProvider) exchange(ctx context.Context, refreshToken string) (Credentials, error) {
	payload, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return Credentials{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.refreshURL, bytes.NewReader(payload))
	if err != nil {
		return Credentials{}, fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Credentials{}, fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Credentials{}, fmt.Errorf("refresh returned %d", resp.StatusCode)
	}
	var decoded refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Credentials{}, fmt.Errorf("decode refresh response: %w", err)
	}
	if strings.TrimSpace(decoded.AccessToken) == "" {
		return Credentials{}, errors.New("refresh response missing access_token")
	}
	creds := Credentials{AccessToken: decoded.AccessToken, RefreshToken: decoded.RefreshToken}
	if decoded.ExpiresIn > 0 {
		expires := p.now().Add(time.Duration(decoded.ExpiresIn) * time.Second).UTC()
		creds.ExpiresAt = &expires
	}
	return creds, nil
}

// expired consults the explicit expiry first, then the JWT exp claim.
// Opaque tokens without an explicit expiry never expire locally.
func (p *FileProvider) expired(token string) bool {
	deadline := p.now().Add(expirySkew)
	if p.creds.ExpiresAt != nil && token == p.creds.AccessToken {
		return !deadline.Before(*p.creds.ExpiresAt)
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !deadline.Before(claims.ExpiresAt.Time)
}

func (p *FileProvider) reloadLocked() error {
	if p.path == "" {
		return nil
	}
	info, err := os.Stat(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.ModTime().Equal(p.modTime) {
		return nil
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return err
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return fmt.Errorf("parse credentials: %w", err)
	}
	p.creds = creds
	p.modTime = info.ModTime()
	return nil
}

func (p *FileProvider) saveLocked() error {
	if p.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		return fmt.Errorf("create credentials directory: %w", err)
	}
	data, err := json.MarshalIndent(p.creds, "", "  ")
	if err != nil {
		return err
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		return fmt.Errorf("replace credentials: %w", err)
	}
	if info, err := os.Stat(p.path); err == nil {
		p.modTime = info.ModTime()
	}
	return nil
}
