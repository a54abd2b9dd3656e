package chat

import (
	"context"
	"encoding/json"

	"github.com/samber/lo"

	"go-chat-hub/internal/metrics"
	"go-chat-hub/internal/user"
)

// Reconcile makes the persisted online flags match the set of users holding a
// live global connection, then pushes the full presence list to every status
// subscriber. Cycles never overlap.
func (h *Hub) Reconcile(ctx context.Context) {
	h.presenceMu.Lock()
	defer h.presenceMu.Unlock()

	live := lo.SliceToMap(h.registry.All(KindGlobal), func(e Entry) (string, struct{}) {
		return e.Key.UserID, struct{}{}
	})

	users, err := h.users.ListUsers(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("presence: list users")
		return
	}

	for _, u := range users {
		_, online := live[u.ID]
		if u.Online == online {
			continue
		}
		if err := h.users.SetOnline(ctx, u.ID, online); err != nil {
			h.log.Error().Err(err).Str("user_id", u.ID).Msg("presence: write online flag")
			continue
		}
		metrics.PresenceWrites.Inc()
	}

	snapshot := lo.Map(users, func(u user.User, _ int) UserStatus {
		_, online := live[u.ID]
		return UserStatus{ID: u.ID, Name: u.Username, Online: online}
	})
	payload, err := json.Marshal(snapshot)
	if err != nil {
		h.log.Error().Err(err).Msg("presence: encode snapshot")
		return
	}

	for _, e := range h.registry.All(KindStatus) {
		h.deliver(KindStatus, e, payload)
	}
	metrics.PresenceBroadcasts.Inc()
}

// Online reports whether the user currently holds a global connection.
func (h *Hub) Online(userID string) bool {
	_, ok := h.registry.Lookup(KindGlobal, Key{UserID: userID})
	return ok
}
