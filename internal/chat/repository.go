package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go-chat-hub/internal/db"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(database *db.Database) *Repository {
	return &Repository{db: database.Conn}
}

// ---------------------------------------------
// Direct messages
// ---------------------------------------------

func (r *Repository) InsertDirectMessage(ctx context.Context, msg *DirectMessage) error {
	query := "INSERT INTO direct_messages (sender, receiver, text, sent_at, is_read) VALUES ($1, $2, $3, $4, $5)"
	_, err := r.db.ExecContext(ctx, query, msg.Sender, msg.Receiver, msg.Text, msg.Time, false)
	return err
}

// DirectHistory returns the conversation between two display names in send order.
func (r *Repository) DirectHistory(ctx context.Context, nameA, nameB string) ([]DirectMessage, error) {
	query := `
		SELECT id, sender, receiver, text, sent_at, is_read
		FROM direct_messages
		WHERE (sender = $1 AND receiver = $2) OR (sender = $2 AND receiver = $1)
		ORDER BY id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, nameA, nameB)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []DirectMessage{}
	for rows.Next() {
		var m DirectMessage
		if err := rows.Scan(&m.ID, &m.Sender, &m.Receiver, &m.Text, &m.Time, &m.Read); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// CountUnreadBySender groups unread messages addressed to receiver by sender name.
func (r *Repository) CountUnreadBySender(ctx context.Context, receiver string) (map[string]int, error) {
	query := `
		SELECT sender, COUNT(*) FROM direct_messages
		WHERE receiver = $1 AND is_read = $2
		GROUP BY sender
	`
	rows, err := r.db.QueryContext(ctx, query, receiver, false)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var sender string
		var n int
		if err := rows.Scan(&sender, &n); err != nil {
			return nil, err
		}
		counts[sender] = n
	}
	return counts, rows.Err()
}

// MarkDirectRead flips every unread sender→receiver message to read and reports how many changed.
func (r *Repository) MarkDirectRead(ctx context.Context, sender, receiver string) (int64, error) {
	query := "UPDATE direct_messages SET is_read = $1 WHERE sender = $2 AND receiver = $3 AND is_read = $4"
	res, err := r.db.ExecContext(ctx, query, true, sender, receiver, false)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ---------------------------------------------
// Rooms & memberships
// ---------------------------------------------

// CreateRoom stores the room and the creator's membership atomically.
func (r *Repository) CreateRoom(ctx context.Context, room *Room) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO rooms (id, name, description, creator_id, created_at) VALUES ($1, $2, $3, $4, $5)",
		room.ID, room.Name, room.Description, room.CreatorID, room.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert room: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO room_members (room_id, user_id, joined_at) VALUES ($1, $2, $3)",
		room.ID, room.CreatorID, room.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert creator membership: %w", err)
	}

	return tx.Commit()
}

// DeleteRoom removes the room together with its memberships and messages.
func (r *Repository) DeleteRoom(ctx context.Context, roomID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range []string{
		"DELETE FROM room_messages WHERE room_id = $1",
		"DELETE FROM room_members WHERE room_id = $1",
		"DELETE FROM rooms WHERE id = $1",
	} {
		if _, err := tx.ExecContext(ctx, q, roomID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *Repository) GetRoom(ctx context.Context, roomID string) (*Room, error) {
	query := `
		SELECT r.id, r.name, r.description, r.creator_id, r.created_at,
			(SELECT COUNT(*) FROM room_members m WHERE m.room_id = r.id)
		FROM rooms r WHERE r.id = $1
	`
	room := &Room{}
	err := r.db.QueryRowContext(ctx, query, roomID).Scan(
		&room.ID, &room.Name, &room.Description, &room.CreatorID, &room.CreatedAt, &room.MemberCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return room, nil
}

func (r *Repository) ListRoomsForUser(ctx context.Context, userID string) ([]Room, error) {
	query := `
		SELECT r.id, r.name, r.description, r.creator_id, r.created_at,
			(SELECT COUNT(*) FROM room_members c WHERE c.room_id = r.id)
		FROM rooms r
		JOIN room_members m ON m.room_id = r.id
		WHERE m.user_id = $1
		ORDER BY r.created_at, r.name
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := []Room{}
	for rows.Next() {
		var room Room
		if err := rows.Scan(&room.ID, &room.Name, &room.Description, &room.CreatorID, &room.CreatedAt, &room.MemberCount); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// AddRoomMember is idempotent: an existing membership is left untouched.
func (r *Repository) AddRoomMember(ctx context.Context, roomID, userID string, at time.Time) error {
	query := "INSERT INTO room_members (room_id, user_id, joined_at) VALUES ($1, $2, $3) ON CONFLICT (room_id, user_id) DO NOTHING"
	_, err := r.db.ExecContext(ctx, query, roomID, userID, at)
	return err
}

func (r *Repository) RemoveRoomMember(ctx context.Context, roomID, userID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM room_members WHERE room_id = $1 AND user_id = $2", roomID, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *Repository) ListRoomMembers(ctx context.Context, roomID string) ([]RoomMember, error) {
	query := `
		SELECT m.room_id, m.user_id, COALESCE(u.username, m.user_id), m.joined_at
		FROM room_members m
		LEFT JOIN users u ON u.id = m.user_id
		WHERE m.room_id = $1
		ORDER BY m.joined_at, u.username
	`
	rows, err := r.db.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := []RoomMember{}
	for rows.Next() {
		var m RoomMember
		if err := rows.Scan(&m.RoomID, &m.UserID, &m.Username, &m.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (r *Repository) IsRoomMember(ctx context.Context, roomID, userID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM room_members WHERE room_id = $1 AND user_id = $2", roomID, userID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ---------------------------------------------
// Room messages
// ---------------------------------------------

func (r *Repository) InsertRoomMessage(ctx context.Context, msg *RoomMessage) error {
	var replySenderID, replySenderName, replyText sql.NullString
	if msg.ReplyTo != nil {
		replySenderID = sql.NullString{String: msg.ReplyTo.SenderID, Valid: true}
		replySenderName = sql.NullString{String: msg.ReplyTo.SenderName, Valid: true}
		replyText = sql.NullString{String: msg.ReplyTo.Text, Valid: true}
	}

	query := `
		INSERT INTO room_messages
			(id, room_id, sender_id, sender_name, text, created_at, reply_sender_id, reply_sender_name, reply_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		msg.ID, msg.RoomID, msg.SenderID, msg.SenderName, msg.Text, msg.CreatedAt,
		replySenderID, replySenderName, replyText)
	return err
}

// ListRoomHistory returns a room's messages oldest first.
func (r *Repository) ListRoomHistory(ctx context.Context, roomID string) ([]RoomMessage, error) {
	query := `
		SELECT id, room_id, sender_id, sender_name, text, created_at, reply_sender_id, reply_sender_name, reply_text
		FROM room_messages
		WHERE room_id = $1
		ORDER BY id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []RoomMessage{}
	for rows.Next() {
		var m RoomMessage
		var replySenderID, replySenderName, replyText sql.NullString
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.SenderName, &m.Text, &m.CreatedAt,
			&replySenderID, &replySenderName, &replyText); err != nil {
			return nil, err
		}
		if replySenderID.Valid {
			m.ReplyTo = &ReplyRef{
				SenderID:   replySenderID.String,
				SenderName: replySenderName.String,
				Text:       replyText.String,
			}
		}
		m.Time = m.CreatedAt.Local().Format(timeLayout)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
