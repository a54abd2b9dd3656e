package chat

import (
	"encoding/json"
	"strings"
)

// RoomPayload is an inbound room frame after parsing. It is either
// PayloadPlainText or PayloadStructured.
type RoomPayload interface {
	Body() string
	Reply() *ReplyRef
}

// PayloadPlainText is any frame that did not decode as a structured message.
type PayloadPlainText struct {
	Text string
}

func (p PayloadPlainText) Body() string     { return p.Text }
func (p PayloadPlainText) Reply() *ReplyRef { return nil }

// PayloadStructured is {"text": "...", "reply_to": {...}} with reply_to optional.
type PayloadStructured struct {
	Text    string    `json:"text"`
	ReplyTo *ReplyRef `json:"reply_to,omitempty"`
}

func (p PayloadStructured) Body() string     { return p.Text }
func (p PayloadStructured) Reply() *ReplyRef { return p.ReplyTo }

// ParseRoomPayload never fails: input that is not a JSON object with a text
// field is delivered verbatim as plain text.
func ParseRoomPayload(raw []byte) RoomPayload {
	var p struct {
		Text    *string   `json:"text"`
		ReplyTo *ReplyRef `json:"reply_to"`
	}
	if err := json.Unmarshal(raw, &p); err != nil || p.Text == nil {
		return PayloadPlainText{Text: string(raw)}
	}

	out := PayloadStructured{Text: *p.Text}
	if r := p.ReplyTo; r != nil && (strings.TrimSpace(r.SenderID) != "" || strings.TrimSpace(r.Text) != "") {
		out.ReplyTo = r
	}
	return out
}
