package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type CreateRoomRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=100"`
	Description string `json:"description" validate:"max=500"`
}

type AddMemberRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// CreateRoom stores a new room with the creator as its first member.
func (h *Hub) CreateRoom(ctx context.Context, creatorID string, req *CreateRoomRequest) (*Room, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Description = strings.TrimSpace(req.Description)
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRoom, err)
	}
	if _, err := h.users.GetUserByID(ctx, creatorID); err != nil {
		return nil, err
	}

	room := &Room{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		CreatorID:   creatorID,
		CreatedAt:   h.now().UTC(),
		MemberCount: 1,
	}
	if err := h.store.CreateRoom(ctx, room); err != nil {
		return nil, err
	}

	h.log.Info().Str("room_id", room.ID).Str("user_id", creatorID).Msg("room created")
	return room, nil
}

// DeleteRoom removes a room and everything in it. Live room connections are
// closed with CloseRoomDeleted.
func (h *Hub) DeleteRoom(ctx context.Context, roomID, callerID string) error {
	if _, err := h.requireCreator(ctx, roomID, callerID); err != nil {
		return err
	}
	if err := h.store.DeleteRoom(ctx, roomID); err != nil {
		return err
	}

	for _, e := range h.registry.Room(roomID) {
		h.registry.Detach(KindRoom, e.Key, e.Handle)
		e.Handle.Close(CloseRoomDeleted, "room deleted")
	}
	h.log.Info().Str("room_id", roomID).Str("user_id", callerID).Msg("room deleted")
	return nil
}

// AddMember is a no-op for an existing member.
func (h *Hub) AddMember(ctx context.Context, roomID, callerID, userID string) error {
	if _, err := h.requireCreator(ctx, roomID, callerID); err != nil {
		return err
	}
	if _, err := h.users.GetUserByID(ctx, userID); err != nil {
		return err
	}
	return h.store.AddRoomMember(ctx, roomID, userID, h.now().UTC())
}

// RemoveMember refuses to remove the creator whoever asks. Removing a
// non-member succeeds. The removed user's live room connection is closed.
func (h *Hub) RemoveMember(ctx context.Context, roomID, callerID, userID string) error {
	room, err := h.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if userID == room.CreatorID {
		return ErrCannotRemoveCreator
	}
	if callerID != room.CreatorID {
		return ErrNotRoomCreator
	}

	removed, err := h.store.RemoveRoomMember(ctx, roomID, userID)
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}

	key := Key{RoomID: roomID, UserID: userID}
	if hd, ok := h.registry.Lookup(KindRoom, key); ok {
		h.registry.Detach(KindRoom, key, hd)
		hd.Close(CloseNotMember, "removed from room")
	}
	return nil
}

func (h *Hub) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	return h.store.IsRoomMember(ctx, roomID, userID)
}

// AcceptRoomConnection returns ErrNotRoomMember unless userID belongs to roomID.
func (h *Hub) AcceptRoomConnection(ctx context.Context, roomID, userID string) error {
	ok, err := h.IsMember(ctx, roomID, userID)
	if err != nil {
		return err
	}
	if !ok {
		h.log.Info().Str("room_id", roomID).Str("user_id", userID).Msg("room connection rejected")
		return ErrNotRoomMember
	}
	return nil
}

func (h *Hub) ListRooms(ctx context.Context, userID string) ([]Room, error) {
	return h.store.ListRoomsForUser(ctx, userID)
}

// RoomMembers lists members along with whether each one is online right now.
func (h *Hub) RoomMembers(ctx context.Context, roomID, callerID string) ([]RoomMember, error) {
	if err := h.requireMember(ctx, roomID, callerID); err != nil {
		return nil, err
	}
	members, err := h.store.ListRoomMembers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return lo.Map(members, func(m RoomMember, _ int) RoomMember {
		m.Online = h.Online(m.UserID)
		return m
	}), nil
}

func (h *Hub) RoomHistory(ctx context.Context, roomID, callerID string) ([]RoomMessage, error) {
	if err := h.requireMember(ctx, roomID, callerID); err != nil {
		return nil, err
	}
	return h.store.ListRoomHistory(ctx, roomID)
}

// requireCreator re-reads the room on every call so a stale creator is never trusted.
func (h *Hub) requireCreator(ctx context.Context, roomID, callerID string) (*Room, error) {
	room, err := h.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.CreatorID != callerID {
		return nil, ErrNotRoomCreator
	}
	return room, nil
}

func (h *Hub) requireMember(ctx context.Context, roomID, userID string) error {
	if _, err := h.store.GetRoom(ctx, roomID); err != nil {
		return err
	}
	ok, err := h.store.IsRoomMember(ctx, roomID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotRoomMember
	}
	return nil
}
