package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hisoka-md/pairing-server/auth"
	"github.com/hisoka-md/pairing-server/models"
	"github.com/hisoka-md/pairing-server/pairing"
	"github.com/hisoka-md/pairing-server/session"
	"github.com/hisoka-md/pairing-server/utils"
)

// minPhoneDigits is the shortest accepted normalized phone number.
const minPhoneDigits = 10

// Pairer runs one pairing attempt to completion.
type Pairer interface {
	RequestCode(ctx context.Context, phoneNumber string, isPremium bool) (*pairing.Result, error)
}

// Handler handles HTTP requests
type Handler struct {
	auth      *auth.Store
	registry  *session.Registry
	pairer    Pairer
	startedAt time.Time
}

// NewHandler creates a new API handler
func NewHandler(authStore *auth.Store, registry *session.Registry, pairer Pairer) *Handler {
	return &Handler{
		auth:      authStore,
		registry:  registry,
		pairer:    pairer,
		startedAt: time.Now(),
	}
}

// HandleRequestPairing handles POST /request-pairing
func (h *Handler) HandleRequestPairing(w http.ResponseWriter, r *http.Request) {
	var request models.PairingRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}

	if request.PhoneNumber == "" {
		writeError(w, http.StatusBadRequest, "Phone number is required")
		return
	}

	cleanPhoneNumber := session.NormalizePhone(request.PhoneNumber)
	if len(cleanPhoneNumber) < minPhoneDigits {
		writeError(w, http.StatusBadRequest, "Invalid phone number format")
		return
	}

	isPremium := request.PremiumKey != "" && h.auth.IsValidKey(request.PremiumKey)

	result, err := h.pairer.RequestCode(r.Context(), cleanPhoneNumber, isPremium)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrDuplicateInFlight):
			writeError(w, http.StatusBadRequest, "A pairing attempt is already in progress for this number")
		case errors.Is(err, pairing.ErrAlreadyRegistered):
			writeError(w, http.StatusBadRequest, "Number is already registered")
		default:
			utils.Logger.Error("pairing request failed", "phone", cleanPhoneNumber, "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to generate pairing code. Please try again.")
		}
		return
	}

	writeJSON(w, http.StatusOK, models.PairingResponse{
		Success:       true,
		PairingCode:   result.PairingCode,
		FormattedCode: result.FormattedCode,
		RawCode:       result.PairingCode,
		CanCopy:       result.CanCopy,
		ServerUsed:    result.ServerUsed,
		SessionID:     result.SessionID,
	})
}

// HandleServerStatus handles GET /server-status. Only the response shape is
// contractual; capacity figures beyond the live session count are placeholders.
func (h *Handler) HandleServerStatus(w http.ResponseWriter, r *http.Request) {
	stats := h.registry.Stats()

	regularServers := []models.ServerInfo{
		{ServerIndex: 1, Status: "online", Sessions: h.registry.ActiveCount(), MaxSessions: 50},
		{ServerIndex: 2, Status: "online", Sessions: rand.Intn(30), MaxSessions: 50},
		{ServerIndex: 3, Status: "full", Sessions: 50, MaxSessions: 50},
	}
	premiumServers := []models.ServerInfo{
		{ServerIndex: 1, Status: "online", Sessions: int(stats.Premium), MaxSessions: 100},
		{ServerIndex: 2, Status: "online", Sessions: rand.Intn(20), MaxSessions: 100},
	}

	writeJSON(w, http.StatusOK, models.ServerStatusResponse{
		Success: true,
		ServerStatus: models.ServerStatus{
			Regular: regularServers,
			Premium: premiumServers,
		},
	})
}

// HandleBotCounts handles GET /bot-counts
func (h *Handler) HandleBotCounts(w http.ResponseWriter, r *http.Request) {
	stats := h.registry.Stats()

	writeJSON(w, http.StatusOK, models.BotCountsResponse{
		Success: true,
		BotCounts: models.BotCounts{
			Total:   stats.Total,
			Regular: stats.Regular,
			Premium: stats.Premium,
		},
		ServerStatus: models.ServersOnline{
			RegularServersOnline: 3,
			PremiumServersOnline: 2,
		},
	})
}

// HandleHealth handles GET /health
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	writeJSON(w, http.StatusOK, models.HealthResponse{
		Success: true,
		Status:  "healthy",
		Performance: models.Performance{
			Uptime: time.Since(h.startedAt).Seconds(),
			Memory: models.MemoryUsage{
				RSS:       mem.Sys,
				HeapTotal: mem.HeapSys,
				HeapUsed:  mem.HeapAlloc,
			},
		},
	})
}

// HandleListKeys handles GET /admin/keys
func (h *Handler) HandleListKeys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.KeyListResponse{
		Success: true,
		Keys:    h.auth.Keys(),
	})
}

// HandleGenerateKey handles POST /admin/generate-key
func (h *Handler) HandleGenerateKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.auth.GenerateKey()
	if err != nil {
		utils.Logger.Error("key generation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to generate key")
		return
	}

	writeJSON(w, http.StatusOK, models.GenerateKeyResponse{
		Success: true,
		Key:     key,
	})
}

// HandleListUsers handles GET /admin/users
func (h *Handler) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	users := h.auth.Users()

	infos := make([]models.UserInfo, 0, len(users))
	for _, user := range users {
		infos = append(infos, models.UserInfo{Username: user.Username, IsAdmin: user.IsAdmin})
	}

	writeJSON(w, http.StatusOK, models.UserListResponse{
		Success: true,
		Users:   infos,
	})
}

// HandleAddUser handles POST /admin/add-user
func (h *Handler) HandleAddUser(w http.ResponseWriter, r *http.Request) {
	var request models.AddUserRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}

	if err := h.auth.Add(request.Username, request.Password, request.IsAdmin); err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "Username and password required")
		case errors.Is(err, auth.ErrAlreadyExists):
			writeError(w, http.StatusBadRequest, "User already exists")
		default:
			writeError(w, http.StatusInternalServerError, "Failed to add user")
		}
		return
	}

	writeJSON(w, http.StatusOK, models.SuccessResponse{Success: true})
}

// HandleRemoveUser handles DELETE /admin/users/{username}
func (h *Handler) HandleRemoveUser(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	if err := h.auth.Remove(username); err != nil {
		switch {
		case errors.Is(err, auth.ErrProtected):
			writeError(w, http.StatusForbidden, "Cannot delete protected account")
		case errors.Is(err, auth.ErrNotFound):
			writeError(w, http.StatusNotFound, "User not found")
		default:
			writeError(w, http.StatusInternalServerError, "Failed to remove user")
		}
		return
	}

	writeJSON(w, http.StatusOK, models.SuccessResponse{Success: true})
}

// HandleSessionStatus handles GET /session/{sessionID}/status
func (h *Handler) HandleSessionStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := h.registry.Get(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	writeJSON(w, http.StatusOK, models.SessionStatusResponse{
		Success:     true,
		SessionID:   sess.ID,
		Status:      string(sess.Status),
		PhoneNumber: sess.PhoneNumber,
		IsPremium:   sess.IsPremium,
		CreatedAt:   sess.CreatedAt,
	})
}

// HandleDeleteSession handles DELETE /session/{sessionID}
func (h *Handler) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.registry.Terminate(sessionID); err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	writeJSON(w, http.StatusOK, models.SuccessResponse{
		Success: true,
		Message: "Session terminated",
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		utils.Logger.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.ErrorResponse{Success: false, Error: message})
}
