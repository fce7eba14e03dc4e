package models

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Message types delivered on a room topic.
const (
	MessageTypeNormal            = "NORMAL"
	MessageTypeLeaveNotification = "LEAVE_NOTIFICATION"
)

// Message is the canonical client-side message shape. Buffers hold messages
// in arrival order, which is not resorted even when timestamps disagree.
type Message struct {
	ID          string `json:"id"`
	SenderID    string `json:"senderId"`
	SenderName  string `json:"senderName"`
	SenderEmail string `json:"senderEmail"`
	Content     string `json:"content"`
	Timestamp   string `json:"timestamp"`
	RoomID      int    `json:"roomId"`
	MessageType string `json:"messageType"`
}

// FlexID accepts an id that the server serializes either as a JSON string or
// as a number.
type FlexID string

func (f *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexID(n.String())
	return nil
}

// WireMessage is a raw message record as the server emits it, both on room
// topics and in the backlog endpoint. Field presence varies, hence the
// alternates for room id and timestamp.
type WireMessage struct {
	ID          FlexID `json:"id"`
	SenderID    FlexID `json:"senderId"`
	SenderName  string `json:"senderName"`
	SenderEmail string `json:"senderEmail"`
	Content     string `json:"content"`
	Timestamp   string `json:"timestamp"`
	CreatedAt   string `json:"createdAt"`
	RoomID      int    `json:"roomId"`
	ChatRoomID  int    `json:"chatRoomId"`
	MessageType string `json:"messageType"`
}

// Normalize converts a raw record into the canonical Message shape,
// synthesizing the fields the server may omit. The room id prefers the
// payload's own fields and falls back to the id of the topic the record
// arrived on.
func (w WireMessage) Normalize(fallbackRoomID int) Message {
	roomID := w.RoomID
	if roomID == 0 {
		roomID = w.ChatRoomID
	}
	if roomID == 0 {
		roomID = fallbackRoomID
	}

	id := string(w.ID)
	if id == "" {
		id = uuid.NewString()
	}

	ts := w.Timestamp
	if ts == "" {
		ts = w.CreatedAt
	}
	if ts == "" {
		ts = time.Now().UTC().Format(time.RFC3339)
	}

	messageType := w.MessageType
	if messageType == "" {
		messageType = MessageTypeNormal
	}

	return Message{
		ID:          id,
		SenderID:    string(w.SenderID),
		SenderName:  w.SenderName,
		SenderEmail: w.SenderEmail,
		Content:     w.Content,
		Timestamp:   ts,
		RoomID:      roomID,
		MessageType: messageType,
	}
}

// OutboundMessage is the minimal wire payload published to the server's
// inbound destination. The server assigns id, timestamp and message type on
// receipt; the sender sees the message again as an echo on the room topic.
type OutboundMessage struct {
	SenderID    int    `json:"senderId"`
	SenderName  string `json:"senderName"`
	SenderEmail string `json:"senderEmail"`
	Content     string `json:"content"`
	ChatRoomID  int    `json:"chatRoomId"`
}
