package chat

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"

	myMiddleware "go-chat-hub/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type HandlerOptions struct {
	AllowedOrigins []string
	SendBuffer     int
	MaxMessageSize int64
}

type Handler struct {
	hub      *Hub
	log      zerolog.Logger
	upgrader websocket.Upgrader
	opts     HandlerOptions
}

func NewHandler(hub *Hub, log zerolog.Logger, opts HandlerOptions) *Handler {
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 4096
	}
	allowAll := len(opts.AllowedOrigins) == 0 || slices.Contains(opts.AllowedOrigins, "*")
	return &Handler{
		hub:  hub,
		log:  log.With().Str("component", "chat").Logger(),
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowAll {
					return true
				}
				origin := r.Header.Get("Origin")
				return origin == "" || slices.Contains(opts.AllowedOrigins, origin)
			},
		},
	}
}

// ---------------------------------------------
// Websocket endpoints
// ---------------------------------------------

// upgrade switches the request to a websocket and starts its pumps.
func (h *Handler) upgrade(w http.ResponseWriter, r *http.Request) (string, *Client, bool) {
	userID, ok := myMiddleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return "", nil, false
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("user_id", userID).Msg("websocket upgrade failed")
		return "", nil, false
	}

	client := NewClient(conn, h.opts.SendBuffer, h.opts.MaxMessageSize, h.log.With().Str("user_id", userID).Logger())
	client.Start()
	return userID, client, true
}

func (h *Handler) ServeStatusWS(w http.ResponseWriter, r *http.Request) {
	userID, client, ok := h.upgrade(w, r)
	if !ok {
		return
	}
	h.hub.ServeStatus(userID, client)
}

func (h *Handler) ServeGlobalWS(w http.ResponseWriter, r *http.Request) {
	userID, client, ok := h.upgrade(w, r)
	if !ok {
		return
	}
	h.hub.ServeGlobal(userID, client)
}

func (h *Handler) ServeDirectWS(w http.ResponseWriter, r *http.Request) {
	peerID := chi.URLParam(r, "peerID")
	userID, client, ok := h.upgrade(w, r)
	if !ok {
		return
	}
	h.hub.ServeDirect(userID, peerID, client)
}

// ServeRoomWS upgrades before checking membership so a rejected client sees
// the close code instead of a failed handshake.
func (h *Handler) ServeRoomWS(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	userID, client, ok := h.upgrade(w, r)
	if !ok {
		return
	}
	if err := h.hub.ServeRoom(roomID, userID, client); err != nil && !errors.Is(err, ErrNotRoomMember) {
		h.log.Error().Err(err).Str("room_id", roomID).Str("user_id", userID).Msg("room connection failed")
	}
}

// ---------------------------------------------
// Direct messages & unread
// ---------------------------------------------

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	userID, _ := myMiddleware.UserID(r.Context())
	msgs, err := h.hub.DirectHistory(r.Context(), userID, chi.URLParam(r, "peerID"))
	if err != nil {
		h.writeError(w, err, "failed to load history")
		return
	}
	myMiddleware.WriteJSON(w, http.StatusOK, msgs)
}

func (h *Handler) Unread(w http.ResponseWriter, r *http.Request) {
	userID, _ := myMiddleware.UserID(r.Context())
	counts, err := h.hub.UnreadCounts(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, "failed to count unread messages")
		return
	}
	myMiddleware.WriteJSON(w, http.StatusOK, counts)
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, _ := myMiddleware.UserID(r.Context())
	if err := h.hub.MarkRead(r.Context(), userID, chi.URLParam(r, "peerID")); err != nil {
		h.writeError(w, err, "failed to mark read")
		return
	}
	myMiddleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ---------------------------------------------
// Rooms
// ---------------------------------------------

func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	userID, _ := myMiddleware.UserID(r.Context())

	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		myMiddleware.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	room, err := h.hub.CreateRoom(r.Context(), userID, &req)
	if err != nil {
		h.writeError(w, err, "failed to create room")
		return
	}
	myMiddleware.WriteJSON(w, http.StatusCreated, room)
}

func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	userID, _ := myMiddleware.UserID(r.Context())
	rooms, err := h.hub.ListRooms(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, "failed to list rooms")
		return
	}
	myMiddleware.WriteJSON(w, http.StatusOK, rooms)
}

func (h *Handler) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	userID, _ := myMiddleware.UserID(r.Context())
	if err := h.hub.DeleteRoom(r.Context(), chi.URLParam(r, "roomID"), userID); err != nil {
		h.writeError(w, err, "failed to delete room")
		return
	}
	myMiddleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) RoomMembers(w http.ResponseWriter, r *http.Request) {
	userID, _ := myMiddleware.UserID(r.Context())
	members, err := h.hub.RoomMembers(r.Context(), chi.URLParam(r, "roomID"), userID)
	if err != nil {
		h.writeError(w, err, "failed to list members")
		return
	}
	myMiddleware.WriteJSON(w, http.StatusOK, members)
}

func (h *Handler) RoomMessages(w http.ResponseWriter, r *http.Request) {
	userID, _ := myMiddleware.UserID(r.Context())
	msgs, err := h.hub.RoomHistory(r.Context(), chi.URLParam(r, "roomID"), userID)
	if err != nil {
		h.writeError(w, err, "failed to load room history")
		return
	}
	myMiddleware.WriteJSON(w, http.StatusOK, msgs)
}

func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request) {
	userID, _ := myMiddleware.UserID(r.Context())

	var req AddMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		myMiddleware.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		h.writeError(w, err, "")
		return
	}

	if err := h.hub.AddMember(r.Context(), chi.URLParam(r, "roomID"), userID, req.UserID); err != nil {
		h.writeError(w, err, "failed to add member")
		return
	}
	myMiddleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	userID, _ := myMiddleware.UserID(r.Context())
	err := h.hub.RemoveMember(r.Context(), chi.URLParam(r, "roomID"), userID, chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, err, "failed to remove member")
		return
	}
	myMiddleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeError maps hub errors to HTTP statuses. Anything unrecognised is a 500
// carrying fallback as its message.
func (h *Handler) writeError(w http.ResponseWriter, err error, fallback string) {
	var verr validator.ValidationErrors
	switch {
	case errors.Is(err, ErrRoomNotFound), errors.Is(err, ErrUserNotFound):
		myMiddleware.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotRoomCreator), errors.Is(err, ErrNotRoomMember), errors.Is(err, ErrCannotRemoveCreator):
		myMiddleware.WriteError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalidRoom), errors.As(err, &verr):
		myMiddleware.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error().Err(err).Msg(fallback)
		myMiddleware.WriteError(w, http.StatusInternalServerError, fallback)
	}
}
