package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hisoka-md/pairing-server/utils"
)

// Status is the lifecycle state of a pairing session. Sessions only move
// forward: pending -> waiting_pair -> connected, with failed/terminated as
// terminal exits. A removed session is never resurrected.
type Status string

const (
	StatusPending     Status = "pending"
	StatusWaitingPair Status = "waiting_pair"
	StatusConnected   Status = "connected"
	StatusFailed      Status = "failed"
	StatusTerminated  Status = "terminated"
)

var (
	// ErrDuplicateInFlight is returned when a number already has a live session.
	ErrDuplicateInFlight = errors.New("a pairing attempt is already in progress for this number")
	// ErrNotFound is returned for unknown or already-removed session ids.
	ErrNotFound = errors.New("session not found")
)

// Handle is exclusive ownership of the underlying protocol connection.
// The registry guarantees Disconnect is called at most once per session.
type Handle interface {
	Disconnect()
}

// Artifacts removes persisted credential state for a session id.
type Artifacts interface {
	Remove(sessionID string) error
}

// Session is a snapshot of one pairing attempt.
type Session struct {
	ID          string
	PhoneNumber string
	IsPremium   bool
	Status      Status
	PairingCode string
	CreatedAt   time.Time
}

type record struct {
	Session
	handle   Handle
	released bool
}

// Stats holds lifetime session totals. They increment when a pairing code is
// issued and never decrement, so they are cumulative counts, not live ones.
type Stats struct {
	Total   int64
	Regular int64
	Premium int64
}

// Registry tracks live pairing sessions by id, enforces one in-flight attempt
// per normalized phone number, and owns connection handle release plus
// credential artifact cleanup.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*record
	byPhone   map[string]string // normalized phone -> session id
	stats     Stats
	artifacts Artifacts
}

// NewRegistry creates an empty session registry.
func NewRegistry(artifacts Artifacts) *Registry {
	return &Registry{
		sessions:  make(map[string]*record),
		byPhone:   make(map[string]string),
		artifacts: artifacts,
	}
}

// Create allocates a new pending session for a phone number. It fails with
// ErrDuplicateInFlight while another session for the same normalized number
// has not reached a terminal state.
func (r *Registry) Create(phoneNumber string, isPremium bool) (Session, error) {
	phone := NormalizePhone(phoneNumber)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byPhone[phone]; exists {
		return Session{}, ErrDuplicateInFlight
	}

	rec := &record{
		Session: Session{
			ID:          newSessionID(),
			PhoneNumber: phone,
			IsPremium:   isPremium,
			Status:      StatusPending,
			CreatedAt:   time.Now(),
		},
	}
	r.sessions[rec.ID] = rec
	r.byPhone[phone] = rec.ID

	utils.Logger.Info("session created", "session_id", rec.ID, "phone", phone, "premium", isPremium)
	return rec.Session, nil
}

// SetHandle hands the registry ownership of the session's connection.
// If the session was already removed the caller keeps ownership.
func (r *Registry) SetHandle(sessionID string, h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	rec.handle = h
	return nil
}

// Get returns a snapshot of a session.
func (r *Registry) Get(sessionID string) (Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.sessions[sessionID]
	if !ok {
		return Session{}, ErrNotFound
	}
	return rec.Session, nil
}

// List returns snapshots of all live sessions, oldest first.
func (r *Registry) List() []Session {
	r.mu.RLock()
	sessions := make([]Session, 0, len(r.sessions))
	for _, rec := range r.sessions {
		sessions = append(sessions, rec.Session)
	}
	r.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].CreatedAt.Before(sessions[j].CreatedAt) })
	return sessions
}

// ActiveCount returns the number of live sessions.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Stats returns the lifetime session totals.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}

// MarkWaitingPair records an issued pairing code and moves the session from
// pending to waiting_pair. Lifetime totals increment here, at code issuance.
// Returns ErrNotFound if the session was terminated in the meantime, so a
// late success can never resurrect a removed session.
func (r *Registry) MarkWaitingPair(sessionID, pairingCode string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if rec.Status != StatusPending {
		return fmt.Errorf("session %s is %s, expected %s", sessionID, rec.Status, StatusPending)
	}

	rec.Status = StatusWaitingPair
	rec.PairingCode = pairingCode

	r.stats.Total++
	if rec.IsPremium {
		r.stats.Premium++
	} else {
		r.stats.Regular++
	}
	return nil
}

// MarkConnected moves a session from waiting_pair to connected. Late or
// duplicate events on sessions in any other state are no-ops.
func (r *Registry) MarkConnected(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if rec.Status == StatusWaitingPair {
		rec.Status = StatusConnected
		utils.Logger.Info("session connected", "session_id", sessionID, "phone", rec.PhoneNumber)
	}
	return nil
}

// Terminate releases the session's connection, removes the entry and deletes
// its persisted credential artifacts. Terminating an already-absent session
// reports ErrNotFound.
func (r *Registry) Terminate(sessionID string) error {
	return r.remove(sessionID, StatusTerminated)
}

// Fail removes a session whose pairing attempt reached a terminal error.
// Cleanup is identical to Terminate; only the final status differs.
func (r *Registry) Fail(sessionID string) error {
	return r.remove(sessionID, StatusFailed)
}

func (r *Registry) remove(sessionID string, status Status) error {
	r.mu.Lock()
	rec, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	delete(r.sessions, sessionID)
	if id, ok := r.byPhone[rec.PhoneNumber]; ok && id == sessionID {
		delete(r.byPhone, rec.PhoneNumber)
	}
	rec.Status = status

	var handle Handle
	if !rec.released {
		rec.released = true
		handle = rec.handle
	}
	r.mu.Unlock()

	// Disconnect and delete artifacts outside the lock: both may block.
	if handle != nil {
		handle.Disconnect()
	}
	if err := r.artifacts.Remove(sessionID); err != nil {
		utils.Logger.Warn("failed to remove session artifacts", "session_id", sessionID, "error", err)
	}

	utils.Logger.Info("session removed", "session_id", sessionID, "status", string(status))
	return nil
}

// ExpireStale terminates sessions that have been waiting for pairing longer
// than maxAge. Connected sessions are never swept. Returns how many were removed.
func (r *Registry) ExpireStale(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	r.mu.RLock()
	var stale []string
	for id, rec := range r.sessions {
		if rec.Status != StatusConnected && rec.CreatedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	removed := 0
	for _, id := range stale {
		if err := r.remove(id, StatusTerminated); err == nil {
			removed++
		}
	}
	if removed > 0 {
		utils.Logger.Info("expired stale sessions", "count", removed)
	}
	return removed
}

// StartSweeper periodically expires stale sessions.
func (r *Registry) StartSweeper(interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for range ticker.C {
			r.ExpireStale(maxAge)
		}
	}()
}

// Shutdown disconnects every live session's connection without deleting
// entries or credential artifacts.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	var handles []Handle
	for _, rec := range r.sessions {
		if !rec.released && rec.handle != nil {
			rec.released = true
			handles = append(handles, rec.handle)
		}
	}
	r.mu.Unlock()

	for _, h := range handles {
		h.Disconnect()
	}
}

// NormalizePhone strips all non-digit characters from a phone number.
func NormalizePhone(number string) string {
	var b strings.Builder
	for _, c := range number {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// newSessionID generates an opaque unique session token.
func newSessionID() string {
	bytes := make([]byte, 5)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("session_%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("session_%d_%s", time.Now().UnixMilli(), hex.EncodeToString(bytes))
}
