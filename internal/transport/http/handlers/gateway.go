// Package handlers exposes a small read-only HTTP view over the stored
// profiles and post logs, for crawlers and plain HTTP clients that do not
// speak the WebSocket protocol. All mutation goes through the socket.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/vedran77/lattice/internal/storage"
	"github.com/vedran77/lattice/internal/transport/http/middleware"
	"github.com/vedran77/lattice/pkg/validator"
)

type GatewayHandler struct {
	profiles storage.ProfileRepository
	posts    storage.PostRepository
	online   func() int
	log      *zap.Logger
}

func NewGatewayHandler(profiles storage.ProfileRepository, posts storage.PostRepository, online func() int, log *zap.Logger) *GatewayHandler {
	return &GatewayHandler{profiles: profiles, posts: posts, online: online, log: log}
}

// Health handles GET /health, reporting the live socket count.
func (h *GatewayHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": h.online(),
	})
}

// GetProfile handles GET /api/v1/profiles/{username}.
func (h *GatewayHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	profile, err := h.profiles.GetByUsername(r.Context(), username)
	if err != nil {
		h.log.Error("profile lookup failed", zap.String("username", username), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		return
	}
	if profile == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "No such user")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// GetPosts handles GET /api/v1/users/{id}/posts?begin=N&end=M.
func (h *GatewayHandler) GetPosts(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	begin, err1 := strconv.ParseInt(r.URL.Query().Get("begin"), 10, 64)
	end, err2 := strconv.ParseInt(r.URL.Query().Get("end"), 10, 64)
	if err1 != nil || err2 != nil || !validator.ValidPostRange(begin, end) {
		writeError(w, http.StatusBadRequest, "INVALID_RANGE", "begin and end must form a valid 1-based range")
		return
	}

	posts, err := h.posts.Range(r.Context(), userID, begin, end)
	if err != nil {
		h.log.Error("post range failed", zap.String("userId", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		return
	}
	if int64(len(posts)) != end-begin+1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Range not fully available here")
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

// Me handles GET /api/v1/me behind the auth middleware.
func (h *GatewayHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	profile, err := h.profiles.GetByID(r.Context(), userID)
	if err != nil {
		h.log.Error("profile lookup failed", zap.String("userId", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		return
	}
	if profile == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "No such user")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	writeJSON(w, status, body)
}
