package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"

	"github.com/hisoka-md/pairing-server/utils"
)

// SessionStoreManager keeps one credential container per pairing session,
// each backed by a sqlite file under a private directory keyed by session id.
// The directory must never be web-servable: it holds protocol credentials.
type SessionStoreManager struct {
	dir        string
	mu         sync.Mutex
	containers map[string]*sqlstore.Container
}

// NewSessionStoreManager creates the manager and its private storage directory.
func NewSessionStoreManager(dir string) (*SessionStoreManager, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %v", err)
	}
	return &SessionStoreManager{
		dir:        dir,
		containers: make(map[string]*sqlstore.Container),
	}, nil
}

// Create opens a fresh credential container for a session and returns a
// client bound to a new device. Each pairing attempt gets its own store.
func (m *SessionStoreManager) Create(ctx context.Context, sessionID string) (*whatsmeow.Client, error) {
	dbPath := m.dbPath(sessionID)

	container, err := sqlstore.New(ctx, "sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on", dbPath), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create session store container for %s: %v", sessionID, err)
	}

	deviceStore := container.NewDevice()
	client := whatsmeow.NewClient(deviceStore, nil)

	m.mu.Lock()
	m.containers[sessionID] = container
	m.mu.Unlock()

	utils.Logger.Debug("created session store", "session_id", sessionID, "path", dbPath)
	return client, nil
}

// Remove closes a session's container and deletes its credential files.
// Called on pairing failure or explicit termination, never after a
// successful pair: surviving credentials are reused by the protocol layer.
func (m *SessionStoreManager) Remove(sessionID string) error {
	m.mu.Lock()
	container, ok := m.containers[sessionID]
	delete(m.containers, sessionID)
	m.mu.Unlock()

	if ok {
		if err := container.Close(); err != nil {
			utils.Logger.Warn("failed to close session store container", "session_id", sessionID, "error", err)
		}
	}

	dbPath := m.dbPath(sessionID)
	for _, path := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove session store %s: %v", path, err)
		}
	}
	return nil
}

// CloseAll closes every open container without deleting files.
func (m *SessionStoreManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for sessionID, container := range m.containers {
		if err := container.Close(); err != nil {
			utils.Logger.Warn("failed to close session store container", "session_id", sessionID, "error", err)
		}
	}
	m.containers = make(map[string]*sqlstore.Container)
}

func (m *SessionStoreManager) dbPath(sessionID string) string {
	return filepath.Join(m.dir, sessionID+".db")
}
