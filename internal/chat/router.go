package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oklog/ulid/v2"

	"go-chat-hub/internal/metrics"
)

// RouteDirect handles one message typed by sender in its conversation with peer.
//
// The message is stored unread first; if that fails nothing is delivered.
// Then the peer is notified on its global channel, the peer's matching direct
// window (peer, sender) gets the message, and the sender gets an echo.
func (h *Hub) RouteDirect(ctx context.Context, senderID, peerID, text string) error {
	senderName := h.resolveName(ctx, senderID)
	peerName := h.resolveName(ctx, peerID)
	stamp := h.now().Format(timeLayout)

	msg := &DirectMessage{Sender: senderName, Receiver: peerName, Text: text, Time: stamp}
	if err := h.store.InsertDirectMessage(ctx, msg); err != nil {
		return fmt.Errorf("persist direct message: %w", err)
	}
	metrics.MessagesRouted.WithLabelValues(KindDirect.String()).Inc()

	globalKey := Key{UserID: peerID}
	if g, ok := h.registry.Lookup(KindGlobal, globalKey); ok {
		notify, err := json.Marshal(Notification{
			Type:     TypeNotify,
			FromID:   senderID,
			FromName: senderName,
			Text:     text,
			Time:     stamp,
		})
		if err == nil {
			h.deliver(KindGlobal, Entry{Key: globalKey, Handle: g}, notify)
		}
	}

	payload, err := json.Marshal(DirectPayload{User: senderName, Text: text, Time: stamp})
	if err != nil {
		return err
	}

	var delivered Handle
	peerKey := Key{UserID: peerID, PeerID: senderID}
	if p, ok := h.registry.Lookup(KindDirect, peerKey); ok {
		if h.deliver(KindDirect, Entry{Key: peerKey, Handle: p}, payload) {
			delivered = p
		}
	}

	// A self-conversation has the same handle on both ends; it already got the message.
	if s, ok := h.registry.Lookup(KindDirect, Key{UserID: senderID, PeerID: peerID}); ok && s != delivered {
		if err := s.Send(payload); err != nil {
			h.log.Warn().Err(err).Str("user_id", senderID).Str("peer_id", peerID).Msg("echo failed")
		}
	}
	return nil
}

// RouteRoom parses, stores and fans out one room message. Membership is
// checked when the connection is accepted, not here.
func (h *Hub) RouteRoom(ctx context.Context, roomID, senderID string, raw []byte) (*RoomMessage, error) {
	parsed := ParseRoomPayload(raw)
	now := h.now()

	msg := &RoomMessage{
		ID:         ulid.Make().String(),
		RoomID:     roomID,
		SenderID:   senderID,
		SenderName: h.resolveName(ctx, senderID),
		Text:       parsed.Body(),
		Time:       now.Format(timeLayout),
		CreatedAt:  now,
		ReplyTo:    parsed.Reply(),
	}
	if err := h.store.InsertRoomMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("persist room message: %w", err)
	}
	metrics.MessagesRouted.WithLabelValues(KindRoom.String()).Inc()

	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	for _, e := range h.registry.Room(roomID) {
		h.deliver(KindRoom, e, payload)
	}
	return msg, nil
}
