package models

import "time"

// PairingRequest represents a pairing code request
type PairingRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	PremiumKey  string `json:"premiumKey,omitempty"`
}

// PairingResponse represents a successful pairing code response
type PairingResponse struct {
	Success       bool   `json:"success"`
	PairingCode   string `json:"pairingCode"`
	FormattedCode string `json:"formattedCode"`
	RawCode       string `json:"rawCode"`
	CanCopy       bool   `json:"canCopy"`
	ServerUsed    string `json:"serverUsed"`
	SessionID     string `json:"sessionId"`
}

// ErrorResponse represents a failed API call
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// SuccessResponse represents a bare success acknowledgement
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ServerInfo describes one pairing server slot in the status report
type ServerInfo struct {
	ServerIndex int    `json:"serverIndex"`
	Status      string `json:"status"` // "online" or "full"
	Sessions    int    `json:"sessions"`
	MaxSessions int    `json:"maxSessions"`
}

// ServerStatus groups server slots by tier
type ServerStatus struct {
	Regular []ServerInfo `json:"regular"`
	Premium []ServerInfo `json:"premium"`
}

// ServerStatusResponse represents the /server-status response
type ServerStatusResponse struct {
	Success      bool         `json:"success"`
	ServerStatus ServerStatus `json:"serverStatus"`
}

// BotCounts holds lifetime session totals
type BotCounts struct {
	Total   int64 `json:"total"`
	Regular int64 `json:"regular"`
	Premium int64 `json:"premium"`
}

// ServersOnline reports how many server slots are reachable per tier
type ServersOnline struct {
	RegularServersOnline int `json:"regularServersOnline"`
	PremiumServersOnline int `json:"premiumServersOnline"`
}

// BotCountsResponse represents the /bot-counts response
type BotCountsResponse struct {
	Success      bool          `json:"success"`
	BotCounts    BotCounts     `json:"botCounts"`
	ServerStatus ServersOnline `json:"serverStatus"`
}

// MemoryUsage reports process memory figures for the health endpoint
type MemoryUsage struct {
	RSS       uint64 `json:"rss"`
	HeapTotal uint64 `json:"heapTotal"`
	HeapUsed  uint64 `json:"heapUsed"`
}

// Performance holds health endpoint metrics
type Performance struct {
	Uptime float64     `json:"uptime"` // seconds
	Memory MemoryUsage `json:"memory"`
}

// HealthResponse represents the /health response
type HealthResponse struct {
	Success     bool        `json:"success"`
	Status      string      `json:"status"`
	Performance Performance `json:"performance"`
}

// KeyListResponse represents the /admin/keys response
type KeyListResponse struct {
	Success bool     `json:"success"`
	Keys    []string `json:"keys"`
}

// GenerateKeyResponse represents the /admin/generate-key response
type GenerateKeyResponse struct {
	Success bool   `json:"success"`
	Key     string `json:"key"`
}

// UserInfo describes one account without its password
type UserInfo struct {
	Username string `json:"username"`
	IsAdmin  bool   `json:"isAdmin"`
}

// UserListResponse represents the /admin/users response
type UserListResponse struct {
	Success bool       `json:"success"`
	Users   []UserInfo `json:"users"`
}

// AddUserRequest represents an /admin/add-user request
type AddUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	IsAdmin  bool   `json:"isAdmin"`
}

// SessionStatusResponse represents the /session/{id}/status response
type SessionStatusResponse struct {
	Success     bool      `json:"success"`
	SessionID   string    `json:"sessionId"`
	Status      string    `json:"status"`
	PhoneNumber string    `json:"phoneNumber"`
	IsPremium   bool      `json:"isPremium"`
	CreatedAt   time.Time `json:"createdAt"`
}
