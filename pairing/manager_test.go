package pairing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hisoka-md/pairing-server/session"
)

type fakeArtifacts struct {
	mu      sync.Mutex
	removed []string
}

func (f *fakeArtifacts) Remove(sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, sessionID)
	return nil
}

func (f *fakeArtifacts) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.removed)
}

type fakeConn struct {
	mu           sync.Mutex
	events       chan Event
	code         string
	codeErr      error
	codeDelay    time.Duration
	registered   bool
	connectErr   error
	disconnected int
	sent         []string
}

func newFakeConn(code string) *fakeConn {
	return &fakeConn{code: code, events: make(chan Event, 8)}
}

func (c *fakeConn) Connect() error { return c.connectErr }

func (c *fakeConn) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected++
}

func (c *fakeConn) disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

func (c *fakeConn) IsRegistered() bool { return c.registered }

func (c *fakeConn) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	if c.codeDelay > 0 {
		select {
		case <-time.After(c.codeDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if c.codeErr != nil {
		return "", c.codeErr
	}
	return c.code, nil
}

func (c *fakeConn) SendText(ctx context.Context, phone, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, message)
	return nil
}

func (c *fakeConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *fakeConn) Events() <-chan Event { return c.events }

type fakeConnector struct {
	conn Connection
	err  error
}

func (f *fakeConnector) Open(ctx context.Context, sessionID string) (Connection, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.conn, nil
}

func newManager(t *testing.T, conn Connection) (*Manager, *session.Registry, *fakeArtifacts) {
	t.Helper()
	artifacts := &fakeArtifacts{}
	registry := session.NewRegistry(artifacts)
	manager := NewManager(registry, &fakeConnector{conn: conn}, Options{
		SettleDelay: 10 * time.Millisecond,
		Timeout:     500 * time.Millisecond,
		PairWindow:  time.Second,
	})
	return manager, registry, artifacts
}

func TestRequestCode(t *testing.T) {
	t.Run("issues a code and registers the session", func(t *testing.T) {
		conn := newFakeConn("ABCD1234")
		manager, registry, artifacts := newManager(t, conn)

		result, err := manager.RequestCode(context.Background(), "15551234567", false)
		require.NoError(t, err)

		assert.Equal(t, "ABCD1234", result.PairingCode)
		assert.Equal(t, "ABCD-1234", result.FormattedCode)
		assert.True(t, result.CanCopy)
		assert.Equal(t, "Regular-1", result.ServerUsed)
		assert.NotEmpty(t, result.SessionID)

		sess, err := registry.Get(result.SessionID)
		require.NoError(t, err)
		assert.Equal(t, session.StatusWaitingPair, sess.Status)
		assert.Equal(t, "ABCD1234", sess.PairingCode)

		stats := registry.Stats()
		assert.Equal(t, int64(1), stats.Total)
		assert.Equal(t, int64(1), stats.Regular)
		assert.Equal(t, 0, artifacts.count())
	})

	t.Run("premium requests use the premium server", func(t *testing.T) {
		conn := newFakeConn("ABCD1234")
		manager, registry, _ := newManager(t, conn)

		result, err := manager.RequestCode(context.Background(), "15551234567", true)
		require.NoError(t, err)

		assert.Equal(t, "Premium-1", result.ServerUsed)
		assert.Equal(t, int64(1), registry.Stats().Premium)
	})

	t.Run("rejects duplicate in-flight numbers", func(t *testing.T) {
		conn := newFakeConn("ABCD1234")
		manager, registry, _ := newManager(t, conn)

		_, err := registry.Create("15551234567", false)
		require.NoError(t, err)

		_, err = manager.RequestCode(context.Background(), "15551234567", false)
		assert.ErrorIs(t, err, session.ErrDuplicateInFlight)
	})

	t.Run("fails when the number is already registered", func(t *testing.T) {
		conn := newFakeConn("ABCD1234")
		conn.registered = true
		manager, registry, artifacts := newManager(t, conn)

		_, err := manager.RequestCode(context.Background(), "15551234567", false)
		assert.ErrorIs(t, err, ErrAlreadyRegistered)

		assert.Equal(t, 0, registry.ActiveCount())
		assert.Equal(t, 1, artifacts.count())
		assert.Equal(t, 1, conn.disconnects())
		assert.Equal(t, int64(0), registry.Stats().Total)
	})

	t.Run("fails with timeout when no code arrives", func(t *testing.T) {
		conn := newFakeConn("ABCD1234")
		conn.codeDelay = 5 * time.Second
		manager, registry, artifacts := newManager(t, conn)

		_, err := manager.RequestCode(context.Background(), "15551234567", false)
		assert.ErrorIs(t, err, ErrTimeout)

		assert.Equal(t, 0, registry.ActiveCount())
		assert.Equal(t, 1, artifacts.count())
		assert.Equal(t, 1, conn.disconnects())
	})

	t.Run("fails when the connection closes first", func(t *testing.T) {
		conn := newFakeConn("ABCD1234")
		conn.events <- EventClosed
		manager, registry, artifacts := newManager(t, conn)

		_, err := manager.RequestCode(context.Background(), "15551234567", false)
		assert.ErrorIs(t, err, ErrConnectionClosed)

		assert.Equal(t, 0, registry.ActiveCount())
		assert.Equal(t, 1, artifacts.count())
	})

	t.Run("fails when logged out during handshake", func(t *testing.T) {
		conn := newFakeConn("ABCD1234")
		conn.events <- EventLoggedOut
		manager, _, _ := newManager(t, conn)

		_, err := manager.RequestCode(context.Background(), "15551234567", false)
		assert.ErrorIs(t, err, ErrConnectionClosed)
	})

	t.Run("fails when the connection cannot be opened", func(t *testing.T) {
		artifacts := &fakeArtifacts{}
		registry := session.NewRegistry(artifacts)
		manager := NewManager(registry, &fakeConnector{err: errors.New("no route")}, Options{
			SettleDelay: 10 * time.Millisecond,
		})

		_, err := manager.RequestCode(context.Background(), "15551234567", false)
		require.Error(t, err)
		assert.Equal(t, 0, registry.ActiveCount())
	})

	t.Run("fails when connect errors", func(t *testing.T) {
		conn := newFakeConn("ABCD1234")
		conn.connectErr = errors.New("handshake refused")
		manager, registry, artifacts := newManager(t, conn)

		_, err := manager.RequestCode(context.Background(), "15551234567", false)
		require.Error(t, err)
		assert.Equal(t, 0, registry.ActiveCount())
		assert.Equal(t, 1, artifacts.count())
	})
}

func TestTerminateRace(t *testing.T) {
	t.Run("terminate during code issuance wins", func(t *testing.T) {
		conn := newFakeConn("ABCD1234")
		conn.codeDelay = 200 * time.Millisecond
		manager, registry, _ := newManager(t, conn)

		errCh := make(chan error, 1)
		go func() {
			_, err := manager.RequestCode(context.Background(), "15551234567", false)
			errCh <- err
		}()

		// Wait until the session exists, then terminate it mid-attempt.
		require.Eventually(t, func() bool {
			return registry.ActiveCount() == 1
		}, time.Second, 5*time.Millisecond)

		sessions := registry.List()
		require.Len(t, sessions, 1)
		require.NoError(t, registry.Terminate(sessions[0].ID))

		err := <-errCh
		assert.ErrorIs(t, err, ErrTerminated)

		// The terminated session must not be resurrected by the late code.
		assert.Equal(t, 0, registry.ActiveCount())
		assert.Equal(t, int64(0), registry.Stats().Total)
	})

	t.Run("terminate after success is a normal removal", func(t *testing.T) {
		conn := newFakeConn("ABCD1234")
		manager, registry, _ := newManager(t, conn)

		result, err := manager.RequestCode(context.Background(), "15551234567", false)
		require.NoError(t, err)

		require.NoError(t, registry.Terminate(result.SessionID))
		assert.ErrorIs(t, registry.Terminate(result.SessionID), session.ErrNotFound)
	})
}

func TestPairCompletion(t *testing.T) {
	t.Run("pair success connects the session and sends the notice", func(t *testing.T) {
		conn := newFakeConn("ABCD1234")
		manager, registry, artifacts := newManager(t, conn)

		result, err := manager.RequestCode(context.Background(), "15551234567", false)
		require.NoError(t, err)

		conn.events <- EventPairSuccess

		require.Eventually(t, func() bool {
			sess, err := registry.Get(result.SessionID)
			return err == nil && sess.Status == session.StatusConnected
		}, time.Second, 5*time.Millisecond)

		require.Eventually(t, func() bool {
			return conn.sentCount() == 1
		}, time.Second, 5*time.Millisecond)
		assert.Equal(t, 0, artifacts.count())
	})

	t.Run("events after connected never alter the session", func(t *testing.T) {
		conn := newFakeConn("ABCD1234")
		manager, registry, artifacts := newManager(t, conn)

		result, err := manager.RequestCode(context.Background(), "15551234567", false)
		require.NoError(t, err)

		conn.events <- EventPairSuccess
		require.Eventually(t, func() bool {
			sess, err := registry.Get(result.SessionID)
			return err == nil && sess.Status == session.StatusConnected
		}, time.Second, 5*time.Millisecond)

		conn.events <- EventLoggedOut
		time.Sleep(50 * time.Millisecond)

		sess, err := registry.Get(result.SessionID)
		require.NoError(t, err)
		assert.Equal(t, session.StatusConnected, sess.Status)
		assert.Equal(t, 0, artifacts.count())
	})

	t.Run("disconnect before pairing fails the session", func(t *testing.T) {
		conn := newFakeConn("ABCD1234")
		manager, registry, artifacts := newManager(t, conn)

		result, err := manager.RequestCode(context.Background(), "15551234567", false)
		require.NoError(t, err)

		conn.events <- EventClosed

		require.Eventually(t, func() bool {
			_, err := registry.Get(result.SessionID)
			return errors.Is(err, session.ErrNotFound)
		}, time.Second, 5*time.Millisecond)
		assert.Equal(t, 1, artifacts.count())
	})
}

func TestFormatCode(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
	}{
		{"standard eight characters", "ABCD1234", "ABCD-1234"},
		{"short code unchanged", "ABC", "ABC"},
		{"exactly four", "ABCD", "ABCD"},
		{"uneven tail", "ABCDE", "ABCD-E"},
		{"twelve characters", "ABCD1234EFGH", "ABCD-1234-EFGH"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatCode(tt.code))
		})
	}
}

func TestCanCopy(t *testing.T) {
	tests := []struct {
		name string
		code string
		want bool
	}{
		{"eight alphanumerics", "ABCD1234", true},
		{"lowercase allowed", "abcd1234", true},
		{"too short", "ABC123", false},
		{"too long", "ABCD12345", false},
		{"contains separator", "ABCD-123", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanCopy(tt.code))
		})
	}
}
