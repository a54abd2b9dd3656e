package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"go-chat-hub/internal/metrics"
	"go-chat-hub/internal/ratelimit"
	"go-chat-hub/internal/user"
)

// Close codes sent to clients when the hub ends a connection.
const (
	CloseSuperseded     = 4000
	CloseRoomDeleted    = 4404
	CloseNotMember      = websocket.ClosePolicyViolation
	CloseGoingAway      = websocket.CloseGoingAway
	CloseDeliveryFailed = websocket.CloseInternalServerErr
)

// timeLayout is the hour:minute stamp carried by direct and room messages.
const timeLayout = "15:04"

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrNotRoomCreator      = errors.New("only the room creator can do this")
	ErrNotRoomMember       = errors.New("not a room member")
	ErrCannotRemoveCreator = errors.New("the room creator cannot be removed")
	ErrInvalidRoom         = errors.New("invalid room")
	ErrUserNotFound        = user.ErrUserNotFound
	ErrHandleClosed        = errors.New("connection closed")
	ErrSendBufferFull      = errors.New("send buffer full")
)

// UserStore is the slice of the user repository the hub depends on.
type UserStore interface {
	GetUserByID(ctx context.Context, id string) (*user.User, error)
	GetUserByUsername(ctx context.Context, username string) (*user.User, error)
	ListUsers(ctx context.Context) ([]user.User, error)
	SetOnline(ctx context.Context, id string, online bool) error
	SetAllOffline(ctx context.Context) error
}

// MessageStore persists direct messages, rooms and room messages.
type MessageStore interface {
	InsertDirectMessage(ctx context.Context, msg *DirectMessage) error
	DirectHistory(ctx context.Context, nameA, nameB string) ([]DirectMessage, error)
	CountUnreadBySender(ctx context.Context, receiver string) (map[string]int, error)
	MarkDirectRead(ctx context.Context, sender, receiver string) (int64, error)

	CreateRoom(ctx context.Context, room *Room) error
	DeleteRoom(ctx context.Context, roomID string) error
	GetRoom(ctx context.Context, roomID string) (*Room, error)
	ListRoomsForUser(ctx context.Context, userID string) ([]Room, error)
	AddRoomMember(ctx context.Context, roomID, userID string, at time.Time) error
	RemoveRoomMember(ctx context.Context, roomID, userID string) (bool, error)
	ListRoomMembers(ctx context.Context, roomID string) ([]RoomMember, error)
	IsRoomMember(ctx context.Context, roomID, userID string) (bool, error)

	InsertRoomMessage(ctx context.Context, msg *RoomMessage) error
	ListRoomHistory(ctx context.Context, roomID string) ([]RoomMessage, error)
}

type Options struct {
	// IdleTimeout is how long a global connection may stay silent before it is probed.
	IdleTimeout time.Duration
	// Limiter throttles inbound direct and room messages per user. Nil disables it.
	Limiter ratelimit.Limiter
	// Now defaults to time.Now.
	Now func() time.Time
}

// Hub owns the connection registry and every operation that routes through it.
type Hub struct {
	registry *Registry
	users    UserStore
	store    MessageStore
	limiter  ratelimit.Limiter
	log      zerolog.Logger
	now      func() time.Time

	idleTimeout time.Duration

	// presenceMu serializes reconcile cycles.
	presenceMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	lifeMu sync.Mutex
	closed bool
}

func NewHub(users UserStore, store MessageStore, log zerolog.Logger, opts Options) *Hub {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 60 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		registry:    NewRegistry(),
		users:       users,
		store:       store,
		limiter:     opts.Limiter,
		log:         log.With().Str("component", "hub").Logger(),
		now:         opts.Now,
		idleTimeout: opts.IdleTimeout,
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (h *Hub) Registry() *Registry {
	return h.registry
}

// ResetPresence clears every persisted online flag. Call it once before serving:
// no connection survives a restart.
func (h *Hub) ResetPresence(ctx context.Context) error {
	return h.users.SetAllOffline(ctx)
}

// Disconnect closes the user's global connection, if any. The connection's
// own cleanup path reconciles presence.
func (h *Hub) Disconnect(ctx context.Context, userID string) {
	key := Key{UserID: userID}
	g, ok := h.registry.Lookup(KindGlobal, key)
	if !ok {
		return
	}
	if h.registry.Detach(KindGlobal, key, g) {
		h.log.Info().Str("user_id", userID).Msg("global connection closed on logout")
	}
	g.Close(websocket.CloseNormalClosure, "logged out")
}

// Shutdown stops accepting work, closes every live handle and waits for the
// connection loops to finish, at most timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.lifeMu.Lock()
	h.closed = true
	h.lifeMu.Unlock()
	h.cancel()

	for _, kind := range []Kind{KindStatus, KindDirect, KindRoom, KindGlobal} {
		for _, e := range h.registry.All(kind) {
			e.Handle.Close(CloseGoingAway, "server shutting down")
		}
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("timed out waiting for connections to close")
	}
}

// deliver sends payload on one registry entry. A failed send removes the
// handle and closes it; the caller moves on.
func (h *Hub) deliver(kind Kind, e Entry, payload []byte) bool {
	err := e.Handle.Send(payload)
	if err == nil {
		return true
	}

	h.registry.Detach(kind, e.Key, e.Handle)
	e.Handle.Close(CloseDeliveryFailed, "delivery failed")
	metrics.DeliveryFailures.WithLabelValues(kind.String()).Inc()
	h.log.Warn().
		Err(err).
		Str("kind", kind.String()).
		Str("user_id", e.Key.UserID).
		Str("peer_id", e.Key.PeerID).
		Str("room_id", e.Key.RoomID).
		Msg("send failed, handle removed")
	return false
}

// resolveName maps a user id to its display name, falling back to the id itself.
func (h *Hub) resolveName(ctx context.Context, id string) string {
	u, err := h.users.GetUserByID(ctx, id)
	if err != nil {
		if !errors.Is(err, user.ErrUserNotFound) {
			h.log.Error().Err(err).Str("user_id", id).Msg("resolve name")
		}
		return id
	}
	return u.Username
}
