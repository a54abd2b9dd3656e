package chat

import (
	"context"
	"encoding/json"
	"errors"

	"go-chat-hub/internal/user"
)

// UnreadCounts returns unread direct messages addressed to userID, keyed by
// sender id. A sender whose name no longer resolves is reported under its name.
func (h *Hub) UnreadCounts(ctx context.Context, userID string) (map[string]int, error) {
	u, err := h.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	byName, err := h.store.CountUnreadBySender(ctx, u.Username)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(byName))
	for name, n := range byName {
		sender, err := h.users.GetUserByUsername(ctx, name)
		switch {
		case err == nil:
			counts[sender.ID] += n
		case errors.Is(err, user.ErrUserNotFound):
			counts[name] += n
		default:
			return nil, err
		}
	}
	return counts, nil
}

// MarkRead marks everything peerID sent to userID as read and tells the
// user's global connection to clear the badge for peerID.
func (h *Hub) MarkRead(ctx context.Context, userID, peerID string) error {
	u, err := h.users.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	peer, err := h.users.GetUserByID(ctx, peerID)
	if err != nil {
		return err
	}

	n, err := h.store.MarkDirectRead(ctx, peer.Username, u.Username)
	if err != nil {
		return err
	}
	h.log.Debug().Str("user_id", userID).Str("peer_id", peerID).Int64("count", n).Msg("marked read")

	key := Key{UserID: userID}
	if g, ok := h.registry.Lookup(KindGlobal, key); ok {
		reset, err := json.Marshal(UnreadReset{Type: TypeUnreadReset, FromID: peerID})
		if err != nil {
			return err
		}
		h.deliver(KindGlobal, Entry{Key: key, Handle: g}, reset)
	}
	return nil
}

// DirectHistory returns the conversation between userID and peerID oldest
// first. Unknown users yield an empty history.
func (h *Hub) DirectHistory(ctx context.Context, userID, peerID string) ([]DirectMessage, error) {
	u, err := h.users.GetUserByID(ctx, userID)
	if errors.Is(err, user.ErrUserNotFound) {
		return []DirectMessage{}, nil
	} else if err != nil {
		return nil, err
	}
	peer, err := h.users.GetUserByID(ctx, peerID)
	if errors.Is(err, user.ErrUserNotFound) {
		return []DirectMessage{}, nil
	} else if err != nil {
		return nil, err
	}
	return h.store.DirectHistory(ctx, u.Username, peer.Username)
}
