package apns

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/http2"
)

// Response is what a Session returns for a request that reached APNs.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Session is one HTTP/2 connection context bound to a base URL and TLS
// configuration. Any error from Post means no response was received.
type Session interface {
	Post(ctx context.Context, path string, body []byte, header http.Header) (*Response, error)
	Close() error
}

// SessionFactory opens a Session for baseURL.
type SessionFactory func(baseURL string, tlsConfig *tls.Config) (Session, error)

const (
	// maxResponseBody bounds how much of an error body is read.
	maxResponseBody = 64 << 10

	// shutdownTimeout bounds how long a closed session waits for requests
	// still in flight before dropping the connection.
	shutdownTimeout = 30 * time.Second
)

var errSessionClosed = errors.New("apns: session closed")

// http2Session multiplexes every request over a single HTTP/2 connection,
// dialed on the first Post. Close shuts that connection down once the
// requests still running on it have finished.
type http2Session struct {
	baseURL   string
	addr      string
	tlsConfig *tls.Config
	transport *http2.Transport

	mu     sync.Mutex
	conn   *http2.ClientConn
	closed bool
}

// NewHTTP2Session is the default SessionFactory.
func NewHTTP2Session(baseURL string, tlsConfig *tls.Config) (Session, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("apns: empty base URL")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("apns: invalid base URL: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("apns: base URL %q has no host", baseURL)
	}
	addr := u.Host
	if u.Port() == "" {
		addr = net.JoinHostPort(u.Hostname(), "443")
	}

	cfg := &tls.Config{}
	if tlsConfig != nil {
		cfg = tlsConfig.Clone()
	}
	cfg.NextProtos = []string{http2.NextProtoTLS}
	if cfg.ServerName == "" {
		cfg.ServerName = u.Hostname()
	}

	return &http2Session{
		baseURL:   baseURL,
		addr:      addr,
		tlsConfig: cfg,
		transport: &http2.Transport{
			ReadIdleTimeout: 30 * time.Second,
			PingTimeout:     5 * time.Second,
		},
	}, nil
}

func (s *http2Session) Post(ctx context.Context, path string, body []byte, header http.Header) (*Response, error) {
	conn, err := s.clientConn(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := conn.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// Close stops the session from accepting requests. The connection is sent a
// GOAWAY and closed as soon as its running requests complete, or after
// shutdownTimeout. Close does not wait for that.
func (s *http2Session) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.closed = true
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := conn.Shutdown(ctx); err != nil {
			_ = conn.Close()
		}
	}()
	return nil
}

// clientConn returns the session's connection, dialing it on first use.
func (s *http2Session) clientConn(ctx context.Context) (*http2.ClientConn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errSessionClosed
	}
	if s.conn != nil {
		return s.conn, nil
	}

	dialer := &tls.Dialer{Config: s.tlsConfig}
	nc, err := dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return nil, err
	}
	if proto := nc.(*tls.Conn).ConnectionState().NegotiatedProtocol; proto != http2.NextProtoTLS {
		_ = nc.Close()
		return nil, fmt.Errorf("apns: %s negotiated %q instead of HTTP/2", s.addr, proto)
	}
	conn, err := s.transport.NewClientConn(nc)
	if err != nil {
		_ = nc.Close()
		return nil, err
	}
	s.conn = conn
	return conn, nil
}
