package apns

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Base URLs of the APNs provider API.
const (
	ProductionURL  = "https://api.push.apple.com:443"
	DevelopmentURL = "https://api.development.push.apple.com:443"
)

// Environment selects the APNs base URL.
type Environment string

const (
	Production  Environment = "production"
	Development Environment = "development"
)

// URL returns the base URL for e, or "" for an unknown environment.
func (e Environment) URL() string {
	switch e {
	case Production:
		return ProductionURL
	case Development:
		return DevelopmentURL
	default:
		return ""
	}
}

const (
	// maxAttempts bounds deliveries per Push. Attempts are not delayed.
	maxAttempts = 3

	// DefaultTimeout is the budget for a single delivery attempt.
	DefaultTimeout = 10 * time.Second
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. slog.Default is used otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRootCAs replaces the system roots used to verify APNs.
func WithRootCAs(pool *x509.CertPool) Option {
	return func(c *Client) { c.rootCAs = pool }
}

// WithBaseURL overrides the environment's base URL, e.g. for a proxy or a
// local test server.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = baseURL }
}

// WithSessionFactory replaces NewHTTP2Session.
func WithSessionFactory(f SessionFactory) Option {
	return func(c *Client) { c.newSession = f }
}

// Client delivers notifications to APNs over a lazily created HTTP/2 session.
// It is safe for concurrent use. Close releases the session; a closed Client
// may be used again and reconnects on the next Push.
type Client struct {
	baseURL    string
	auth       Authenticator
	newSession SessionFactory
	rootCAs    *x509.CertPool
	timeout    time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	session Session
}

// NewClient returns a Client for env. No connection is made until the first
// Push.
func NewClient(env Environment, auth Authenticator, opts ...Option) (*Client, error) {
	if auth == nil {
		return nil, fmt.Errorf("%w: authenticator is required", ErrInvalidAuthConfig)
	}
	c := &Client{
		baseURL:    env.URL(),
		auth:       auth,
		newSession: NewHTTP2Session,
		timeout:    DefaultTimeout,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.baseURL == "" {
		return nil, fmt.Errorf("apns: unknown environment %q", env)
	}
	if _, err := url.Parse(c.baseURL); err != nil {
		return nil, fmt.Errorf("apns: invalid base URL: %w", err)
	}
	c.logger = c.logger.With("component", "APNSClient")
	return c, nil
}

// Push delivers n to deviceToken. Server-category failures, including
// connection failures, reset the session and are retried up to three attempts
// in total; the last failure is returned. Device and programming failures
// are returned at once.
func (c *Client) Push(ctx context.Context, n Notification, deviceToken string) error {
	header := n.httpHeader()
	body, err := n.JSONData()
	if err != nil {
		return err
	}
	path := "/3/device/" + deviceToken

	log := c.logger.With("device_token", deviceToken, "topic", n.Topic)
	log.Debug("Sending notification", "bytes", len(body))

	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		session, err := c.acquire()
		if err != nil {
			lastErr = newConnectionError(err)
		} else {
			lastErr = c.send(ctx, session, path, body, header)
		}

		if lastErr == nil {
			log.Debug("Notification sent", "attempt", attempt, "duration_ms", time.Since(start).Milliseconds())
			return nil
		}

		var apnsErr *Error
		if !errors.As(lastErr, &apnsErr) || !apnsErr.Retryable() {
			break
		}
		log.Debug("Attempt failed, resetting session", "attempt", attempt, "reason", apnsErr.Reason, "err", lastErr)
		c.discard(session)
		if apnsErr.Reason == ReasonExpiredProviderToken {
			c.auth.Reset(ctx)
		}
		if ctx.Err() != nil {
			break
		}
	}

	log.Debug("Failed to send notification", "err", lastErr, "duration_ms", time.Since(start).Milliseconds())
	return lastErr
}

// Close closes the current session, if any, and drops the locally cached
// provider token.
func (c *Client) Close() error {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.mu.Unlock()

	c.auth.forget()

	if session == nil {
		return nil
	}
	c.logger.Debug("Closing session")
	return session.Close()
}

func (c *Client) send(ctx context.Context, session Session, path string, body []byte, header http.Header) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	h := header.Clone()
	if err := c.auth.authorize(ctx, h); err != nil {
		return err
	}

	resp, err := session.Post(ctx, path, body, h)
	if err != nil {
		return newConnectionError(err)
	}
	return ParseResponse(resp.StatusCode, resp.Header, resp.Body)
}

// acquire returns the current session, opening one if there is none.
func (c *Client) acquire() (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return c.session, nil
	}
	c.logger.Debug("Creating a new session", "base_url", c.baseURL)
	session, err := c.newSession(c.baseURL, c.tlsConfig())
	if err != nil {
		return nil, err
	}
	c.session = session
	return session, nil
}

// discard closes session if it is still the current one. A session replaced
// by a concurrent caller is left alone.
func (c *Client) discard(session Session) {
	if session == nil {
		return
	}
	c.mu.Lock()
	if c.session != session {
		c.mu.Unlock()
		return
	}
	c.session = nil
	c.mu.Unlock()

	c.logger.Debug("Discarding session")
	if err := session.Close(); err != nil {
		c.logger.Warn("Failed to close session", "err", err)
	}
}

func (c *Client) tlsConfig() *tls.Config {
	return &tls.Config{
		RootCAs:      c.rootCAs,
		Certificates: c.auth.certificates(),
		MinVersion:   tls.VersionTLS12,
	}
}
