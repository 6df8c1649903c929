package whatsapp

import (
	"context"
	"strings"
	"sync"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/hisoka-md/pairing-server/pairing"
	"github.com/hisoka-md/pairing-server/store"
	"github.com/hisoka-md/pairing-server/utils"
)

// clientDisplayName is shown in the phone's linked-devices list.
// WhatsApp requires the "Browser (OS)" format here.
const clientDisplayName = "Chrome (Linux)"

const eventBuffer = 8

// Connector opens WhatsApp connections backed by per-session credential stores.
type Connector struct {
	stores *store.SessionStoreManager
}

// NewConnector creates a WhatsApp connector.
func NewConnector(stores *store.SessionStoreManager) *Connector {
	return &Connector{stores: stores}
}

// Open creates a fresh client for one pairing attempt, scoped to the
// session's own credential store.
func (c *Connector) Open(ctx context.Context, sessionID string) (pairing.Connection, error) {
	client, err := c.stores.Create(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	conn := &connection{
		sessionID: sessionID,
		client:    client,
		events:    make(chan pairing.Event, eventBuffer),
	}
	client.AddEventHandler(conn.handleEvent)
	return conn, nil
}

// connection adapts a whatsmeow client to the orchestrator's contract.
type connection struct {
	sessionID string
	client    *whatsmeow.Client
	events    chan pairing.Event
	once      sync.Once
}

func (c *connection) Connect() error {
	return c.client.Connect()
}

func (c *connection) Disconnect() {
	c.once.Do(func() {
		c.client.Disconnect()
		utils.Logger.Debug("disconnected client", "session_id", c.sessionID)
	})
}

func (c *connection) IsRegistered() bool {
	return c.client.Store.ID != nil
}

func (c *connection) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	code, err := c.client.PairPhone(ctx, phone, true, whatsmeow.PairClientChrome, clientDisplayName)
	if err != nil {
		return "", err
	}
	// whatsmeow may return the code already grouped; strip the separator so
	// callers always receive the raw form.
	return strings.ReplaceAll(code, "-", ""), nil
}

func (c *connection) SendText(ctx context.Context, phone, message string) error {
	_, err := c.client.SendMessage(ctx, types.JID{
		User:   phone,
		Server: types.DefaultUserServer,
	}, &waProto.Message{
		Conversation: proto.String(message),
	})
	return err
}

func (c *connection) Events() <-chan pairing.Event {
	return c.events
}

func (c *connection) handleEvent(evt interface{}) {
	e, ok := translate(evt)
	if !ok {
		return
	}
	select {
	case c.events <- e:
	default:
		// Consumer has fallen behind or gone away; dropping is fine, the
		// session sweeper handles abandoned attempts.
		utils.Logger.Debug("dropped connection event", "session_id", c.sessionID)
	}
}

// translate maps whatsmeow events onto the orchestrator's event set.
func translate(evt interface{}) (pairing.Event, bool) {
	switch evt.(type) {
	case *events.Connected:
		return pairing.EventConnected, true
	case *events.PairSuccess:
		return pairing.EventPairSuccess, true
	case *events.PairError:
		return pairing.EventClosed, true
	case *events.LoggedOut:
		return pairing.EventLoggedOut, true
	case *events.Disconnected:
		return pairing.EventClosed, true
	}
	return 0, false
}
