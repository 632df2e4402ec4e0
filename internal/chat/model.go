// Package chat keeps a live view of support conversations by polling the
// back-office API and pushing snapshots to the dashboard.
package chat

import (
	"sort"
	"strings"
	"time"

	"github.com/taxdesk/taxdesk/internal/remote"
)

// Chat statuses.
const (
	StatusOpen     = "open"
	StatusResolved = "resolved"
	StatusClosed   = "closed"
)

// Statuses lists every chat status.
var Statuses = []string{StatusOpen, StatusResolved, StatusClosed}

// Message senders. Anything that is not staff is the visitor.
const (
	SenderStaff   = "staff"
	SenderVisitor = "visitor"
)

// Message is one line of a conversation.
type Message struct {
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Read      bool      `json:"read"`
}

// Chat is a normalized conversation. Messages are sorted by timestamp and
// LastMessageAt equals the last message timestamp when there are messages.
type Chat struct {
	ID            string    `json:"id"`
	Participant   string    `json:"participant"`
	Status        string    `json:"status"`
	Messages      []Message `json:"messages"`
	LastMessageAt time.Time `json:"last_message_at"`
	Unread        int       `json:"unread"`
}

func fromRecord(r remote.Record) Chat {
	c := Chat{
		ID:          r.String("id", "_id"),
		Participant: r.String("participant", "userName", "name", "user", "email"),
		Status:      strings.ToLower(r.String("status")),
	}
	if c.Participant == "" {
		c.Participant = "Visitor"
	}
	if c.Status == "" {
		c.Status = StatusOpen
	}
	for _, m := range r.Records("messages") {
		c.Messages = append(c.Messages, Message{
			Sender:    normalizeSender(m.String("sender", "from", "role")),
			Text:      m.String("text", "message", "content"),
			Timestamp: m.Time("timestamp", "createdAt", "sentAt"),
			Read:      m.Bool("read", "isRead", "seen"),
		})
	}
	sort.SliceStable(c.Messages, func(i, j int) bool {
		return c.Messages[i].Timestamp.Before(c.Messages[j].Timestamp)
	})
	if n := len(c.Messages); n > 0 {
		c.LastMessageAt = c.Messages[n-1].Timestamp
	} else {
		c.LastMessageAt = r.Time("lastMessageAt", "updatedAt", "createdAt")
	}
	for _, m := range c.Messages {
		if m.Sender == SenderVisitor && !m.Read {
			c.Unread++
		}
	}
	return c
}

func normalizeSender(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "admin", "staff", "support", "agent", "operator":
		return SenderStaff
	default:
		return SenderVisitor
	}
}

// decodeChats normalizes a chat list payload, newest activity first.
func decodeChats(raw []byte) ([]Chat, error) {
	payload, err := remote.DecodeList(raw, "chats", "data", "items")
	if err != nil {
		return nil, err
	}
	chats := make([]Chat, 0, len(payload.Items))
	for _, rec := range payload.Items {
		chats = append(chats, fromRecord(rec))
	}
	sort.SliceStable(chats, func(i, j int) bool {
		return chats[i].LastMessageAt.After(chats[j].LastMessageAt)
	})
	return chats, nil
}
