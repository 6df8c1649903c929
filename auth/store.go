package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrUnauthorized is returned when a username/password pair does not match.
	ErrUnauthorized = errors.New("invalid credentials")
	// ErrAlreadyExists is returned when adding a username that is taken.
	ErrAlreadyExists = errors.New("user already exists")
	// ErrNotFound is returned when removing an unknown username.
	ErrNotFound = errors.New("user not found")
	// ErrProtected is returned when removing the seeded admin account.
	ErrProtected = errors.New("account is protected")
	// ErrInvalidInput is returned for empty usernames or passwords.
	ErrInvalidInput = errors.New("username and password required")
)

// keyPrefix marks tokens issued by GenerateKey.
const keyPrefix = "PREMIUM_"

// User identifies an account without exposing its password.
type User struct {
	Username string
	IsAdmin  bool
}

type account struct {
	password string
	isAdmin  bool
}

// Store is the in-memory credential registry: admin/regular accounts plus the
// premium key set. All methods are safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]account
	keys     map[string]struct{}
	seed     string
}

// NewStore creates a credential store seeded with one admin account.
// The seed account can never be removed.
func NewStore(seedUsername, seedPassword string) *Store {
	s := &Store{
		accounts: make(map[string]account),
		keys:     make(map[string]struct{}),
		seed:     seedUsername,
	}
	s.accounts[seedUsername] = account{password: seedPassword, isAdmin: true}
	return s
}

// Verify checks a username/password pair and returns the matching user.
func (s *Store) Verify(username, password string) (User, error) {
	s.mu.RLock()
	acct, ok := s.accounts[username]
	s.mu.RUnlock()

	if !ok {
		// Burn a comparison anyway so unknown usernames are not distinguishable
		// from bad passwords by timing.
		subtle.ConstantTimeCompare([]byte(password), []byte(password))
		return User{}, ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(acct.password), []byte(password)) != 1 {
		return User{}, ErrUnauthorized
	}
	return User{Username: username, IsAdmin: acct.isAdmin}, nil
}

// Add registers a new account. Empty usernames or passwords are rejected.
func (s *Store) Add(username, password string, isAdmin bool) error {
	if username == "" || password == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[username]; exists {
		return ErrAlreadyExists
	}
	s.accounts[username] = account{password: password, isAdmin: isAdmin}
	return nil
}

// Remove deletes an account. The seeded admin account is refused regardless
// of who asks.
func (s *Store) Remove(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if username == s.seed {
		return ErrProtected
	}
	if _, exists := s.accounts[username]; !exists {
		return ErrNotFound
	}
	delete(s.accounts, username)
	return nil
}

// Users lists all accounts, passwords excluded, sorted by username.
func (s *Store) Users() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]User, 0, len(s.accounts))
	for username, acct := range s.accounts {
		users = append(users, User{Username: username, IsAdmin: acct.isAdmin})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users
}

// GenerateKey mints a new premium key and records it as valid.
func (s *Store) GenerateKey() (string, error) {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate key: %v", err)
	}
	key := keyPrefix + strings.ToUpper(hex.EncodeToString(bytes))

	s.mu.Lock()
	s.keys[key] = struct{}{}
	s.mu.Unlock()

	return key, nil
}

// IsValidKey reports whether a key was issued by GenerateKey.
func (s *Store) IsValidKey(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.keys[key]
	return ok
}

// Keys lists all issued premium keys, sorted.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.keys))
	for key := range s.keys {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
