package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/pliu/roomchat/internal/metrics"
	"github.com/pliu/roomchat/internal/store"
)

// RoomCloser is notified after a room has been deleted so live sessions can
// be told. *ws.Hub satisfies it.
type RoomCloser interface {
	CloseRoom(roomID int64) error
}

type RoomHandler struct {
	Store store.Store
	Hub   RoomCloser
	Log   zerolog.Logger
}

type CreateRoomRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Password    string `json:"password"`
	Username    string `json:"username"`
}

type CreateRoomResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	CreatedBy   string `json:"created_by"`
}

type RoomResponse struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	HasPassword bool      `json:"has_password"`
}

type PasswordRequest struct {
	Password string `json:"password"`
}

// Register mounts the room API and the health check on r.
func (h *RoomHandler) Register(r *mux.Router) {
	api := r.PathPrefix("/api/rooms").Subrouter()
	api.HandleFunc("", h.ListRooms).Methods(http.MethodGet)
	api.HandleFunc("", h.CreateRoom).Methods(http.MethodPost)
	api.HandleFunc("/{id:[0-9]+}", h.GetRoom).Methods(http.MethodGet)
	api.HandleFunc("/{id:[0-9]+}", h.DeleteRoom).Methods(http.MethodDelete)
	api.HandleFunc("/{id:[0-9]+}/check-password", h.CheckPassword).Methods(http.MethodPost)

	r.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)
}

func (h *RoomHandler) ListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.Store.ListRooms(r.Context())
	if err != nil {
		storeError(w, h.Log, err)
		return
	}
	JSON(w, http.StatusOK, rooms)
}

func (h *RoomHandler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	room, err := h.Store.CreateRoom(r.Context(), req.Name, req.Description, req.Password, req.Username)
	if err != nil {
		storeError(w, h.Log, err)
		return
	}

	metrics.RoomsCreated.Inc()
	h.Log.Info().
		Int64("room_id", room.ID).
		Str("name", room.Name).
		Str("created_by", room.CreatedBy).
		Bool("has_password", room.HasPassword()).
		Msg("room created")

	JSON(w, http.StatusCreated, CreateRoomResponse{
		ID:          room.ID,
		Name:        room.Name,
		Description: room.Description,
		CreatedBy:   room.CreatedBy,
	})
}

func (h *RoomHandler) GetRoom(w http.ResponseWriter, r *http.Request) {
	id, ok := roomID(w, r)
	if !ok {
		return
	}

	room, err := h.Store.GetRoom(r.Context(), id)
	if err != nil {
		storeError(w, h.Log, err)
		return
	}

	JSON(w, http.StatusOK, RoomResponse{
		ID:          room.ID,
		Name:        room.Name,
		Description: room.Description,
		CreatedBy:   room.CreatedBy,
		CreatedAt:   room.CreatedAt,
		HasPassword: room.HasPassword(),
	})
}

func (h *RoomHandler) CheckPassword(w http.ResponseWriter, r *http.Request) {
	id, ok := roomID(w, r)
	if !ok {
		return
	}

	var req PasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	valid, err := h.Store.VerifyPassword(r.Context(), id, req.Password)
	if err != nil {
		storeError(w, h.Log, err)
		return
	}
	JSON(w, http.StatusOK, map[string]bool{"valid": valid})
}

func (h *RoomHandler) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	id, ok := roomID(w, r)
	if !ok {
		return
	}

	// The body is optional for rooms without a password.
	var req PasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.Store.DeleteRoom(r.Context(), id, req.Password); err != nil {
		storeError(w, h.Log, err)
		return
	}

	metrics.RoomsDeleted.Inc()
	h.Log.Info().Int64("room_id", id).Msg("room deleted")

	if h.Hub != nil {
		if err := h.Hub.CloseRoom(id); err != nil {
			h.Log.Warn().Err(err).Int64("room_id", id).Msg("could not notify room members")
		}
	}

	JSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Health reports whether the store is reachable.
func (h *RoomHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	start := time.Now()
	if err := h.Store.Ping(ctx); err != nil {
		h.Log.Warn().Err(err).Msg("health check failed")
		JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	JSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"latency": time.Since(start).String(),
	})
}

func roomID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		Error(w, http.StatusBadRequest, "invalid room id")
		return 0, false
	}
	return id, true
}
