package apns

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// outcome is one scripted answer of a fakeSession.
type outcome struct {
	status int
	body   string
	err    error
}

type recordedRequest struct {
	path   string
	body   []byte
	header http.Header
}

// fakeSessions hands out sessions that answer from a shared script.
type fakeSessions struct {
	mu       sync.Mutex
	script   []outcome
	created  []*fakeSession
	requests []recordedRequest
	tls      *tls.Config
}

func (f *fakeSessions) factory(baseURL string, tlsConfig *tls.Config) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tls = tlsConfig
	s := &fakeSession{parent: f}
	f.created = append(f.created, s)
	return s, nil
}

func (f *fakeSessions) next(path string, body []byte, header http.Header) outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, recordedRequest{path: path, body: body, header: header})
	if len(f.script) == 0 {
		return outcome{status: http.StatusOK}
	}
	o := f.script[0]
	f.script = f.script[1:]
	return o
}

func (f *fakeSessions) closedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.created {
		if s.closed {
			n++
		}
	}
	return n
}

type fakeSession struct {
	parent *fakeSessions
	closed bool
}

func (s *fakeSession) Post(_ context.Context, path string, body []byte, header http.Header) (*Response, error) {
	o := s.parent.next(path, body, header)
	if o.err != nil {
		return nil, o.err
	}
	h := http.Header{}
	h.Set("apns-id", "resp-id")
	return &Response{StatusCode: o.status, Header: h, Body: []byte(o.body)}, nil
}

func (s *fakeSession) Close() error {
	s.parent.mu.Lock()
	s.closed = true
	s.parent.mu.Unlock()
	return nil
}

func newTestClient(t *testing.T, auth Authenticator, script ...outcome) (*Client, *fakeSessions) {
	t.Helper()
	sessions := &fakeSessions{script: script}
	client, err := NewClient(Development, auth,
		WithSessionFactory(sessions.factory),
		WithLogger(newTestLogger()),
	)
	require.NoError(t, err)
	return client, sessions
}

func newTestTokenAuth(t *testing.T) *TokenAuth {
	t.Helper()
	_, keyPath := writeSigningKey(t)
	auth, err := NewTokenAuth(keyPath, "KEYID12345", "TEAMID1234")
	require.NoError(t, err)
	return auth
}

func testNotification() Notification {
	return Notification{
		Payload:  &IOSPayload{Alert: &IOSAlert{Title: "Hi", Body: "There"}},
		Topic:    "com.example.app",
		Priority: PriorityHigh,
		PushType: PushTypeAlert,
	}
}

func TestClientPush(t *testing.T) {
	ctx := context.Background()

	t.Run("Success - first attempt", func(t *testing.T) {
		client, sessions := newTestClient(t, newTestTokenAuth(t))

		err := client.Push(ctx, testNotification(), "abc123")

		require.NoError(t, err)
		require.Len(t, sessions.requests, 1)
		req := sessions.requests[0]
		assert.Equal(t, "/3/device/abc123", req.path)
		assert.Equal(t, `{"aps":{"alert":{"body":"There","title":"Hi"}}}`, string(req.body))
		assert.Equal(t, []string{"com.example.app"}, req.header["apns-topic"])
		assert.Equal(t, []string{"10"}, req.header["apns-priority"])
		assert.Equal(t, []string{"alert"}, req.header["apns-push-type"])
		assert.Equal(t, []string{"application/json; charset=utf-8"}, req.header["Content-Type"])
		require.Len(t, req.header["authorization"], 1)
		assert.Contains(t, req.header["authorization"][0], "bearer ")
		assert.Len(t, sessions.created, 1)
		assert.Zero(t, sessions.closedCount())
	})

	t.Run("Success - session is reused across pushes", func(t *testing.T) {
		client, sessions := newTestClient(t, newTestTokenAuth(t))

		require.NoError(t, client.Push(ctx, testNotification(), "a"))
		require.NoError(t, client.Push(ctx, testNotification(), "b"))

		assert.Len(t, sessions.created, 1)
		assert.Equal(t, sessions.requests[0].header["authorization"], sessions.requests[1].header["authorization"])
	})

	t.Run("Retry - three server failures return the third", func(t *testing.T) {
		client, sessions := newTestClient(t, newTestTokenAuth(t),
			outcome{status: 500, body: `{"reason":"InternalServerError"}`},
			outcome{status: 503, body: `{"reason":"ServiceUnavailable"}`},
			outcome{status: 503, body: `{"reason":"Shutdown"}`},
		)

		err := client.Push(ctx, testNotification(), "abc123")

		var apnsErr *Error
		require.ErrorAs(t, err, &apnsErr)
		assert.Equal(t, ReasonShutdown, apnsErr.Reason)
		assert.Equal(t, "resp-id", apnsErr.APNsID)
		assert.Len(t, sessions.requests, 3)
		assert.Len(t, sessions.created, 3)
		assert.Equal(t, 3, sessions.closedCount())
	})

	t.Run("Retry - connection failure then success", func(t *testing.T) {
		client, sessions := newTestClient(t, newTestTokenAuth(t),
			outcome{err: errors.New("stream reset")},
		)

		err := client.Push(ctx, testNotification(), "abc123")

		require.NoError(t, err)
		assert.Len(t, sessions.requests, 2)
		assert.Len(t, sessions.created, 2)
		assert.True(t, sessions.created[0].closed)
		assert.False(t, sessions.created[1].closed)
	})

	t.Run("Retry - repeated connection failures surface as a connection error", func(t *testing.T) {
		cause := errors.New("connection refused")
		client, _ := newTestClient(t, newTestTokenAuth(t),
			outcome{err: cause}, outcome{err: cause}, outcome{err: cause},
		)

		err := client.Push(ctx, testNotification(), "abc123")

		var apnsErr *Error
		require.ErrorAs(t, err, &apnsErr)
		assert.True(t, apnsErr.IsConnection())
		assert.Equal(t, CategoryServer, apnsErr.Category)
		assert.Zero(t, apnsErr.StatusCode)
		assert.Empty(t, apnsErr.APNsID)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("No retry - programming failure", func(t *testing.T) {
		client, sessions := newTestClient(t, newTestTokenAuth(t),
			outcome{status: 400, body: `{"reason":"BadTopic"}`},
		)

		err := client.Push(ctx, testNotification(), "abc123")

		assert.True(t, IsProgramming(err))
		assert.Len(t, sessions.requests, 1)
		assert.Zero(t, sessions.closedCount())
	})

	t.Run("No retry - device failure keeps the timestamp", func(t *testing.T) {
		client, sessions := newTestClient(t, newTestTokenAuth(t),
			outcome{status: 410, body: `{"reason":"Unregistered","timestamp":1609459200000}`},
		)

		err := client.Push(ctx, testNotification(), "abc123")

		var apnsErr *Error
		require.ErrorAs(t, err, &apnsErr)
		assert.Equal(t, CategoryDevice, apnsErr.Category)
		assert.Equal(t, int64(1609459200000), apnsErr.Timestamp)
		assert.Len(t, sessions.requests, 1)
	})

	t.Run("No retry - unimplemented reason", func(t *testing.T) {
		client, sessions := newTestClient(t, newTestTokenAuth(t),
			outcome{status: 400, body: `{"reason":"SomeFutureReason"}`},
		)

		err := client.Push(ctx, testNotification(), "abc123")

		assert.ErrorIs(t, err, ErrUnimplementedReason)
		assert.Len(t, sessions.requests, 1)
	})

	t.Run("Expired provider token - token is re-signed before the retry", func(t *testing.T) {
		client, sessions := newTestClient(t, newTestTokenAuth(t),
			outcome{status: 403, body: `{"reason":"ExpiredProviderToken"}`},
		)

		err := client.Push(ctx, testNotification(), "abc123")

		require.NoError(t, err)
		require.Len(t, sessions.requests, 2)
		assert.NotEqual(t, sessions.requests[0].header["authorization"], sessions.requests[1].header["authorization"])
	})

	t.Run("Certificate mode - no authorization header, certificate in TLS config", func(t *testing.T) {
		auth := &CertificateAuth{Path: "client.pem", cert: tls.Certificate{Certificate: [][]byte{{0x01}}}}
		client, sessions := newTestClient(t, auth)

		require.NoError(t, client.Push(ctx, testNotification(), "abc123"))

		assert.NotContains(t, sessions.requests[0].header, "authorization")
		require.NotNil(t, sessions.tls)
		assert.Len(t, sessions.tls.Certificates, 1)
	})

	t.Run("Canceled context - retries stop", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		client, sessions := newTestClient(t, newTestTokenAuth(t),
			outcome{err: context.Canceled},
		)

		err := client.Push(cctx, testNotification(), "abc123")

		assert.True(t, IsServer(err))
		assert.Len(t, sessions.requests, 1)
	})
}

func TestClientClose(t *testing.T) {
	ctx := context.Background()

	t.Run("Close then push - session and token are recreated", func(t *testing.T) {
		client, sessions := newTestClient(t, newTestTokenAuth(t))

		require.NoError(t, client.Push(ctx, testNotification(), "abc123"))
		require.NoError(t, client.Close())
		assert.True(t, sessions.created[0].closed)

		require.NoError(t, client.Push(ctx, testNotification(), "abc123"))

		assert.Len(t, sessions.created, 2)
		assert.NotEqual(t, sessions.requests[0].header["authorization"], sessions.requests[1].header["authorization"])
	})

	t.Run("Close without a session is a no-op", func(t *testing.T) {
		client, sessions := newTestClient(t, newTestTokenAuth(t))

		assert.NoError(t, client.Close())
		assert.NoError(t, client.Close())
		assert.Empty(t, sessions.created)
	})
}

func TestClientConcurrentPush(t *testing.T) {
	client, sessions := newTestClient(t, newTestTokenAuth(t))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, client.Push(context.Background(), testNotification(), "abc123"))
		}()
	}
	wg.Wait()

	assert.Len(t, sessions.created, 1)
	assert.Len(t, sessions.requests, 20)
}

func TestNewClient(t *testing.T) {
	auth := newTestTokenAuth(t)

	t.Run("Failure - unknown environment", func(t *testing.T) {
		_, err := NewClient(Environment("staging"), auth)
		assert.Error(t, err)
	})

	t.Run("Failure - nil authenticator", func(t *testing.T) {
		_, err := NewClient(Production, nil)
		assert.ErrorIs(t, err, ErrInvalidAuthConfig)
	})

	t.Run("Success - environments map to base URLs", func(t *testing.T) {
		prod, err := NewClient(Production, auth)
		require.NoError(t, err)
		assert.Equal(t, "https://api.push.apple.com:443", prod.baseURL)

		dev, err := NewClient(Development, auth)
		require.NoError(t, err)
		assert.Equal(t, "https://api.development.push.apple.com:443", dev.baseURL)
	})
}
