package chat

import "time"

// ---------------------------------------------
// 🗄️ Database & API Models
// ---------------------------------------------

// DirectMessage is one persisted 1:1 message. Sender and receiver are display names.
type DirectMessage struct {
	ID       int64  `json:"-"`
	Sender   string `json:"user"`
	Receiver string `json:"-"`
	Text     string `json:"text"`
	Time     string `json:"time"` // wall clock "HH:MM"
	Read     bool   `json:"-"`
}

type Room struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatorID   string    `json:"creator_id"`
	CreatedAt   time.Time `json:"created_at"`
	MemberCount int       `json:"member_count"`
}

type RoomMember struct {
	RoomID   string    `json:"room_id"`
	UserID   string    `json:"user_id"`
	Username string    `json:"username"` // 🟢 Fetched via JOIN
	JoinedAt time.Time `json:"joined_at"`
	Online   bool      `json:"online"`
}

// ReplyRef is a snapshot of the message being replied to, not a foreign key.
type ReplyRef struct {
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Text       string `json:"text"`
}

type RoomMessage struct {
	ID         string    `json:"id"`
	RoomID     string    `json:"room_id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"` // snapshot at send time
	Text       string    `json:"text"`
	Time       string    `json:"time"`
	CreatedAt  time.Time `json:"created_at"`
	ReplyTo    *ReplyRef `json:"reply_to,omitempty"`
}

// ---------------------------------------------
// ⚡ Wire Payloads
// ---------------------------------------------

const (
	TypeNotify      = "notify"
	TypeUnreadReset = "unread_reset"
	TypePing        = "ping"
	TypePong        = "pong"
)

// DirectPayload is what both sides of a direct chat receive.
type DirectPayload struct {
	User string `json:"user"`
	Text string `json:"text"`
	Time string `json:"time"`
}

// Notification is pushed on the global channel when a direct message arrives.
type Notification struct {
	Type     string `json:"type"`
	FromID   string `json:"from_id"`
	FromName string `json:"from_name"`
	Text     string `json:"text"`
	Time     string `json:"time"`
}

// UnreadReset tells the client to drop the badge for FromID.
type UnreadReset struct {
	Type   string `json:"type"`
	FromID string `json:"from_id"`
}

// Signal is a bare typed frame (ping/pong).
type Signal struct {
	Type string `json:"type"`
}

// UserStatus is one row of a presence snapshot.
type UserStatus struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Online bool   `json:"online"`
}
