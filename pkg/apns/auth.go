package apns

import (
	"context"
	"crypto/ecdsa"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sideshow/apns2/certificate"
	"github.com/sideshow/apns2/token"
)

// TokenLifetime is how long a signed provider token is reused. APNs rejects
// tokens older than one hour and throttles tokens refreshed more often than
// every 20 minutes.
const TokenLifetime = 45 * time.Minute

// ErrInvalidAuthConfig is wrapped by every authenticator construction failure.
var ErrInvalidAuthConfig = errors.New("apns: invalid authentication config")

// Authenticator supplies the credentials for requests to APNs. It is
// implemented by *TokenAuth and *CertificateAuth only.
type Authenticator interface {
	// Reset drops any cached credential so the next request derives a new one.
	Reset(ctx context.Context)

	// authorize decorates the headers of an outgoing request.
	authorize(ctx context.Context, header http.Header) error
	// certificates returns the client certificates for the TLS handshake.
	certificates() []tls.Certificate
	// forget drops the process-local cached credential only.
	forget()
}

// AuthConfig selects and configures an authentication mode. Exactly one mode
// must be fully specified: a signing key (KeyPath or KeyContent) with KeyID and
// TeamID, or a CertPath.
type AuthConfig struct {
	KeyPath    string
	KeyContent []byte
	KeyID      string
	TeamID     string

	CertPath       string
	CertPassphrase string
}

// NewAuthenticator builds the authenticator described by cfg, reading the key
// or certificate immediately.
func NewAuthenticator(cfg AuthConfig, opts ...TokenOption) (Authenticator, error) {
	tokenAny := cfg.KeyPath != "" || len(cfg.KeyContent) > 0 || cfg.KeyID != "" || cfg.TeamID != ""
	certAny := cfg.CertPath != "" || cfg.CertPassphrase != ""

	switch {
	case tokenAny && certAny:
		return nil, fmt.Errorf("%w: both token and certificate credentials supplied", ErrInvalidAuthConfig)
	case certAny:
		a, err := NewCertificateAuth(cfg.CertPath, cfg.CertPassphrase)
		if err != nil {
			return nil, err
		}
		return a, nil
	case tokenAny:
		if cfg.KeyPath != "" && len(cfg.KeyContent) > 0 {
			return nil, fmt.Errorf("%w: both key path and key content supplied", ErrInvalidAuthConfig)
		}
		var (
			a   *TokenAuth
			err error
		)
		if len(cfg.KeyContent) > 0 {
			a, err = NewTokenAuthFromBytes(cfg.KeyContent, cfg.KeyID, cfg.TeamID, opts...)
		} else {
			a, err = NewTokenAuth(cfg.KeyPath, cfg.KeyID, cfg.TeamID, opts...)
		}
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("%w: no credentials supplied", ErrInvalidAuthConfig)
	}
}

// CachedToken is a signed provider token and the time it was issued.
type CachedToken struct {
	Token    string    `json:"token"`
	IssuedAt time.Time `json:"issued_at"`
}

// TokenCache shares signed provider tokens between processes using the same
// signing key, so a fleet of senders does not trip TooManyProviderTokenUpdates.
type TokenCache interface {
	// Load returns the cached token for key. ok is false on a miss.
	Load(ctx context.Context, key string) (tok CachedToken, ok bool, err error)
	// Store saves tok for at most ttl.
	Store(ctx context.Context, key string, tok CachedToken, ttl time.Duration) error
	// Delete removes the token for key.
	Delete(ctx context.Context, key string) error
}

// TokenOption configures a TokenAuth.
type TokenOption func(*TokenAuth)

// WithTokenCache shares signed tokens through cache.
func WithTokenCache(cache TokenCache) TokenOption {
	return func(a *TokenAuth) { a.cache = cache }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) TokenOption {
	return func(a *TokenAuth) { a.now = now }
}

// TokenAuth signs ES256 provider tokens and attaches them as bearer
// authorization. A signed token is reused until TokenLifetime has passed since
// it was issued.
type TokenAuth struct {
	key    *ecdsa.PrivateKey
	keyID  string
	teamID string
	cache  TokenCache
	now    func() time.Time

	mu       sync.Mutex
	token    string
	issuedAt time.Time
}

// NewTokenAuth loads the PKCS#8 .p8 signing key at keyPath.
func NewTokenAuth(keyPath, keyID, teamID string, opts ...TokenOption) (*TokenAuth, error) {
	if keyPath == "" {
		return nil, fmt.Errorf("%w: key path is required", ErrInvalidAuthConfig)
	}
	key, err := token.AuthKeyFromFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load signing key %q: %w", ErrInvalidAuthConfig, keyPath, err)
	}
	return NewTokenAuthFromKey(key, keyID, teamID, opts...)
}

// NewTokenAuthFromBytes parses the raw contents of a .p8 signing key.
func NewTokenAuthFromBytes(keyContent []byte, keyID, teamID string, opts ...TokenOption) (*TokenAuth, error) {
	key, err := token.AuthKeyFromBytes(keyContent)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse signing key: %w", ErrInvalidAuthConfig, err)
	}
	return NewTokenAuthFromKey(key, keyID, teamID, opts...)
}

// NewTokenAuthFromKey uses an already parsed signing key.
func NewTokenAuthFromKey(key *ecdsa.PrivateKey, keyID, teamID string, opts ...TokenOption) (*TokenAuth, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: signing key is required", ErrInvalidAuthConfig)
	}
	if keyID == "" || teamID == "" {
		return nil, fmt.Errorf("%w: key id and team id are required", ErrInvalidAuthConfig)
	}
	a := &TokenAuth{
		key:    key,
		keyID:  keyID,
		teamID: teamID,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Token returns the cached provider token, signing a new one when none is
// cached or the cached one has expired.
func (a *TokenAuth) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if a.token != "" && a.valid(a.issuedAt, now) {
		return a.token, nil
	}

	if a.cache != nil {
		// A failing shared cache only costs an extra signature.
		if shared, ok, err := a.cache.Load(ctx, a.cacheKey()); err == nil && ok && shared.Token != "" && a.valid(shared.IssuedAt, now) {
			a.token, a.issuedAt = shared.Token, shared.IssuedAt
			return a.token, nil
		}
	}

	signed, err := a.sign(now)
	if err != nil {
		return "", err
	}
	a.token, a.issuedAt = signed, now

	if a.cache != nil {
		_ = a.cache.Store(ctx, a.cacheKey(), CachedToken{Token: signed, IssuedAt: now}, TokenLifetime)
	}
	return signed, nil
}

// Reset drops the local token and the shared one, if a cache is configured.
// Use it after APNs reports ExpiredProviderToken.
func (a *TokenAuth) Reset(ctx context.Context) {
	a.forget()
	if a.cache != nil {
		_ = a.cache.Delete(ctx, a.cacheKey())
	}
}

// String returns the team and key IDs.
func (a *TokenAuth) String() string {
	return a.teamID + ":" + a.keyID
}

func (a *TokenAuth) forget() {
	a.mu.Lock()
	a.token = ""
	a.issuedAt = time.Time{}
	a.mu.Unlock()
}

func (a *TokenAuth) authorize(ctx context.Context, header http.Header) error {
	tok, err := a.Token(ctx)
	if err != nil {
		return err
	}
	header["authorization"] = []string{"bearer " + tok}
	return nil
}

func (a *TokenAuth) certificates() []tls.Certificate { return nil }

func (a *TokenAuth) valid(issuedAt, now time.Time) bool {
	return now.Before(issuedAt.Add(TokenLifetime))
}

func (a *TokenAuth) sign(now time.Time) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": a.teamID,
		"iat": now.Unix(),
	})
	t.Header["kid"] = a.keyID
	signed, err := t.SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("apns: failed to sign provider token: %w", err)
	}
	return signed, nil
}

func (a *TokenAuth) cacheKey() string {
	return a.teamID + ":" + a.keyID
}

// CertificateAuth presents a client certificate during the TLS handshake and
// adds nothing to individual requests.
type CertificateAuth struct {
	Path       string
	Passphrase string

	cert tls.Certificate
}

// NewCertificateAuth loads a .p12/.pfx bundle or a PEM file holding both the
// certificate and its private key.
func NewCertificateAuth(path, passphrase string) (*CertificateAuth, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: certificate path is required", ErrInvalidAuthConfig)
	}
	var (
		cert tls.Certificate
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".p12", ".pfx":
		cert, err = certificate.FromP12File(path, passphrase)
	default:
		cert, err = certificate.FromPemFile(path, passphrase)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load certificate %q: %w", ErrInvalidAuthConfig, path, err)
	}
	return &CertificateAuth{Path: path, Passphrase: passphrase, cert: cert}, nil
}

// Reset is a no-op; certificates are not cached per request.
func (a *CertificateAuth) Reset(context.Context) {}

func (a *CertificateAuth) authorize(context.Context, http.Header) error { return nil }

func (a *CertificateAuth) certificates() []tls.Certificate { return []tls.Certificate{a.cert} }

func (a *CertificateAuth) forget() {}
