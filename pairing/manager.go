package pairing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hisoka-md/pairing-server/session"
	"github.com/hisoka-md/pairing-server/utils"
)

// Event is a discrete connection-state notification from the protocol layer.
type Event int

const (
	// EventConnected fires when the linked device is fully authenticated.
	EventConnected Event = iota
	// EventPairSuccess fires when the phone accepts the pairing code.
	EventPairSuccess
	// EventLoggedOut fires when the server intentionally ends the login.
	EventLoggedOut
	// EventClosed fires when the transport drops for any other reason.
	EventClosed
)

// Connection is one protocol session scoped to a single pairing attempt.
type Connection interface {
	Connect() error
	Disconnect()
	// IsRegistered reports whether the number already has a completed
	// protocol registration in this session's credential store.
	IsRegistered() bool
	// RequestPairingCode asks the server to issue a phone-linking code.
	RequestPairingCode(ctx context.Context, phone string) (string, error)
	// SendText delivers a plain text message through this session.
	SendText(ctx context.Context, phone, message string) error
	// Events streams connection-state changes until the connection ends.
	Events() <-chan Event
}

// Connector opens protocol connections backed by per-session credential stores.
type Connector interface {
	Open(ctx context.Context, sessionID string) (Connection, error)
}

var (
	// ErrAlreadyRegistered means the number already completed registration.
	ErrAlreadyRegistered = errors.New("number is already registered")
	// ErrConnectionClosed means the transport dropped before a code was issued.
	ErrConnectionClosed = errors.New("connection closed before pairing completed")
	// ErrTimeout means no terminal outcome was reached before the deadline.
	ErrTimeout = errors.New("timeout generating pairing code")
	// ErrTerminated means the session was explicitly removed mid-attempt.
	ErrTerminated = errors.New("session was terminated")
)

const linkNotice = "Your device has been linked to HISOKA-MD. Keep this session active to stay connected."

// Result is a resolved pairing attempt.
type Result struct {
	SessionID     string
	PairingCode   string
	FormattedCode string
	CanCopy       bool
	ServerUsed    string
}

// Options tunes the orchestrator's timers. Zero values select defaults.
type Options struct {
	// SettleDelay is the fixed wait for the connection handshake to
	// initialize before the code is requested.
	SettleDelay time.Duration
	// Timeout is the global deadline for one pairing attempt.
	Timeout time.Duration
	// PairWindow is how long a waiting_pair session is watched for the
	// phone to finish linking.
	PairWindow time.Duration
}

// Manager drives the lifecycle of pairing requests: it opens a connection per
// attempt, waits for code issuance or a terminal failure, enforces the
// deadline, and guarantees cleanup. Each attempt resolves exactly once.
type Manager struct {
	registry    *session.Registry
	connector   Connector
	settleDelay time.Duration
	timeout     time.Duration
	pairWindow  time.Duration
}

// NewManager creates a pairing manager.
func NewManager(registry *session.Registry, connector Connector, opts Options) *Manager {
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = 2 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Minute
	}
	if opts.PairWindow <= 0 {
		opts.PairWindow = 10 * time.Minute
	}
	return &Manager{
		registry:    registry,
		connector:   connector,
		settleDelay: opts.SettleDelay,
		timeout:     opts.Timeout,
		pairWindow:  opts.PairWindow,
	}
}

// RequestCode runs one pairing attempt for a phone number and blocks until a
// code is issued or the attempt fails. On failure every resource is released
// before the error is returned: the connection is closed, the registry entry
// removed and the on-disk credential state deleted.
func (m *Manager) RequestCode(ctx context.Context, phoneNumber string, isPremium bool) (*Result, error) {
	phone := session.NormalizePhone(phoneNumber)

	sess, err := m.registry.Create(phone, isPremium)
	if err != nil {
		return nil, err
	}

	conn, err := m.connector.Open(ctx, sess.ID)
	if err != nil {
		m.registry.Fail(sess.ID)
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}
	if err := m.registry.SetHandle(sess.ID, conn); err != nil {
		// Terminated before the connection was attached; the registry never
		// owned the handle, so close it here.
		conn.Disconnect()
		return nil, ErrTerminated
	}
	if err := conn.Connect(); err != nil {
		m.registry.Fail(sess.ID)
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	return m.awaitCode(ctx, sess, conn)
}

// awaitCode waits for exactly one terminal outcome: code issuance, fatal
// disconnect, or deadline. Returning is the latch; every path below either
// resolves with a code or fails after cleanup, never both.
func (m *Manager) awaitCode(ctx context.Context, sess session.Session, conn Connection) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	settle := time.NewTimer(m.settleDelay)
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			m.registry.Fail(sess.ID)
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrTimeout
			}
			return nil, ctx.Err()

		case evt, ok := <-conn.Events():
			if !ok || evt == EventLoggedOut || evt == EventClosed {
				m.registry.Fail(sess.ID)
				return nil, ErrConnectionClosed
			}
			// Handshake progress; keep waiting for the settle timer.

		case <-settle.C:
			if conn.IsRegistered() {
				m.registry.Fail(sess.ID)
				return nil, ErrAlreadyRegistered
			}

			code, err := conn.RequestPairingCode(ctx, sess.PhoneNumber)
			if err != nil {
				m.registry.Fail(sess.ID)
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return nil, ErrTimeout
				}
				return nil, fmt.Errorf("failed to request pairing code: %w", err)
			}

			if err := m.registry.MarkWaitingPair(sess.ID, code); err != nil {
				// The session was terminated while the code was being
				// issued; the terminate already cleaned up. Do not resurrect.
				return nil, ErrTerminated
			}

			utils.Logger.Info("pairing code issued", "session_id", sess.ID, "phone", sess.PhoneNumber)
			go m.watch(sess.ID, sess.PhoneNumber, conn)

			return &Result{
				SessionID:     sess.ID,
				PairingCode:   code,
				FormattedCode: FormatCode(code),
				CanCopy:       CanCopy(code),
				ServerUsed:    serverName(sess.IsPremium),
			}, nil
		}
	}
}

// watch follows a waiting_pair session until the phone finishes linking, the
// connection dies, or the watch window lapses (the sweeper owns stale cleanup).
func (m *Manager) watch(sessionID, phone string, conn Connection) {
	window := time.NewTimer(m.pairWindow)
	defer window.Stop()

	for {
		select {
		case <-window.C:
			return

		case evt, ok := <-conn.Events():
			if !ok {
				return
			}
			switch evt {
			case EventPairSuccess, EventConnected:
				if err := m.registry.MarkConnected(sessionID); err != nil {
					return
				}
				m.sendLinkNotice(conn, sessionID, phone)
				return
			case EventLoggedOut, EventClosed:
				if err := m.registry.Fail(sessionID); err == nil {
					utils.Logger.Warn("connection lost before pairing completed", "session_id", sessionID)
				}
				return
			}
		}
	}
}

// sendLinkNotice messages the freshly linked number over its own session.
// Delivery problems are logged and never alter session state.
func (m *Manager) sendLinkNotice(conn Connection, sessionID, phone string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := conn.SendText(ctx, phone, linkNotice); err != nil {
		utils.Logger.Warn("failed to send link notice", "session_id", sessionID, "error", err)
	}
}

// FormatCode groups a raw pairing code into 4-character chunks joined by
// dashes for human display.
func FormatCode(code string) string {
	if len(code) <= 4 {
		return code
	}
	var groups []string
	for i := 0; i < len(code); i += 4 {
		end := i + 4
		if end > len(code) {
			end = len(code)
		}
		groups = append(groups, code[i:end])
	}
	return strings.Join(groups, "-")
}

// CanCopy reports whether a raw code is the 8-character alphanumeric form
// that the front-end offers a copy button for.
func CanCopy(code string) bool {
	if len(code) != 8 {
		return false
	}
	for _, c := range code {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		default:
			return false
		}
	}
	return true
}

func serverName(isPremium bool) string {
	if isPremium {
		return "Premium-1"
	}
	return "Regular-1"
}
