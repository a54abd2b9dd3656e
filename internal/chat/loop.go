package chat

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"go-chat-hub/internal/metrics"
)

var errHubClosed = errors.New("hub is shutting down")

// runLoop feeds inbound frames to onMessage until the channel closes or ctx
// ends. With idle > 0, onIdle runs after every idle period without a frame;
// an onIdle error ends the loop.
func runLoop(ctx context.Context, inbound <-chan []byte, idle time.Duration, onMessage func([]byte), onIdle func() error) error {
	var timeout <-chan time.Time
	var timer *time.Timer
	if idle > 0 && onIdle != nil {
		timer = time.NewTimer(idle)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			onMessage(msg)

		case <-timeout:
			if err := onIdle(); err != nil {
				return err
			}
		}

		if timer != nil {
			timer.Reset(idle)
		}
	}
}

// track registers a connection loop with the hub so Shutdown can wait for it.
func (h *Hub) track() (context.Context, func(), error) {
	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()
	if h.closed {
		return nil, nil, errHubClosed
	}
	h.wg.Add(1)
	ctx, cancel := context.WithCancel(h.ctx)
	return ctx, func() {
		cancel()
		h.wg.Done()
	}, nil
}

// allow applies the per-user inbound limiter.
func (h *Hub) allow(ctx context.Context, userID string) bool {
	if h.limiter == nil {
		return true
	}
	ok, err := h.limiter.Allow(ctx, userID)
	if err != nil {
		h.log.Warn().Err(err).Str("user_id", userID).Msg("rate limiter unavailable")
	}
	if !ok {
		metrics.MessagesDropped.WithLabelValues("rate_limited").Inc()
		h.log.Info().Str("user_id", userID).Msg("message dropped: rate limited")
	}
	return ok
}

// forgetter is implemented by limiters that keep per-user state in process.
type forgetter interface {
	Forget(key string)
}

// release drops the user's limiter state once their last messaging
// connection is gone.
func (h *Hub) release(userID string) {
	f, ok := h.limiter.(forgetter)
	if !ok || h.registry.Holds(userID) {
		return
	}
	f.Forget(userID)
}

// ServeGlobal runs a user's notification channel until it ends. While it is
// attached the user counts as online. After IdleTimeout of silence a ping
// frame is sent; if that fails the connection is considered gone.
func (h *Hub) ServeGlobal(userID string, c Conn) error {
	ctx, done, err := h.track()
	if err != nil {
		c.Close(CloseGoingAway, "server shutting down")
		return err
	}
	defer done()

	key := Key{UserID: userID}
	h.registry.Attach(KindGlobal, key, c)
	defer func() {
		h.registry.Detach(KindGlobal, key, c)
		c.Close(websocket.CloseNormalClosure, "")
		h.Reconcile(context.WithoutCancel(ctx))
	}()
	h.Reconcile(ctx)

	probe, err := json.Marshal(Signal{Type: TypePing})
	if err != nil {
		return err
	}

	err = runLoop(ctx, c.Inbound(), h.idleTimeout,
		func(msg []byte) { h.onGlobalFrame(userID, msg) },
		func() error { return c.Send(probe) },
	)
	if err != nil && !errors.Is(err, context.Canceled) {
		h.log.Info().Err(err).Str("user_id", userID).Msg("global connection probe failed")
	}
	return nil
}

// onGlobalFrame handles client frames on the notification channel. Any frame
// resets the idle timer; only a pong is expected.
func (h *Hub) onGlobalFrame(userID string, msg []byte) {
	var sig Signal
	if err := json.Unmarshal(msg, &sig); err != nil || sig.Type != TypePong {
		h.log.Debug().Str("user_id", userID).Int("bytes", len(msg)).Msg("unexpected frame on global connection")
		return
	}
	metrics.PongsReceived.Inc()
}

// ServeStatus streams presence snapshots to a subscriber until it disconnects.
func (h *Hub) ServeStatus(userID string, c Conn) error {
	ctx, done, err := h.track()
	if err != nil {
		c.Close(CloseGoingAway, "server shutting down")
		return err
	}
	defer done()

	key := Key{UserID: userID}
	h.registry.Attach(KindStatus, key, c)
	defer func() {
		h.registry.Detach(KindStatus, key, c)
		c.Close(websocket.CloseNormalClosure, "")
	}()
	h.Reconcile(ctx)

	runLoop(ctx, c.Inbound(), 0, func([]byte) {}, nil)
	return nil
}

// ServeDirect runs the userID→peerID conversation window.
func (h *Hub) ServeDirect(userID, peerID string, c Conn) error {
	ctx, done, err := h.track()
	if err != nil {
		c.Close(CloseGoingAway, "server shutting down")
		return err
	}
	defer done()

	key := Key{UserID: userID, PeerID: peerID}
	h.registry.Attach(KindDirect, key, c)
	defer func() {
		h.registry.Detach(KindDirect, key, c)
		c.Close(websocket.CloseNormalClosure, "")
		h.release(userID)
	}()

	runLoop(ctx, c.Inbound(), 0, func(msg []byte) {
		if !h.allow(ctx, userID) {
			return
		}
		if err := h.RouteDirect(ctx, userID, peerID, string(msg)); err != nil {
			h.log.Error().Err(err).Str("user_id", userID).Str("peer_id", peerID).Msg("direct message not delivered")
		}
	}, nil)
	return nil
}

// ServeRoom runs a member's room connection. Non-members are closed with
// CloseNotMember and ErrNotRoomMember is returned.
func (h *Hub) ServeRoom(roomID, userID string, c Conn) error {
	ctx, done, err := h.track()
	if err != nil {
		c.Close(CloseGoingAway, "server shutting down")
		return err
	}
	defer done()

	if err := h.AcceptRoomConnection(ctx, roomID, userID); err != nil {
		h.closeRejected(c, err)
		return err
	}

	key := Key{RoomID: roomID, UserID: userID}
	h.registry.Attach(KindRoom, key, c)
	defer func() {
		h.registry.Detach(KindRoom, key, c)
		c.Close(websocket.CloseNormalClosure, "")
		h.release(userID)
	}()

	// The room or the membership may have gone while the handle was attaching.
	if err := h.AcceptRoomConnection(ctx, roomID, userID); err != nil {
		h.closeRejected(c, err)
		return err
	}

	runLoop(ctx, c.Inbound(), 0, func(msg []byte) {
		if !h.allow(ctx, userID) {
			return
		}
		if _, err := h.RouteRoom(ctx, roomID, userID, msg); err != nil {
			h.log.Error().Err(err).Str("user_id", userID).Str("room_id", roomID).Msg("room message not delivered")
		}
	}, nil)
	return nil
}

func (h *Hub) closeRejected(c Conn, err error) {
	if errors.Is(err, ErrNotRoomMember) {
		c.Close(CloseNotMember, "not a room member")
		return
	}
	c.Close(websocket.CloseInternalServerErr, "membership check failed")
}
