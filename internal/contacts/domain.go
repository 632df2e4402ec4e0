// Package contacts is the support portal over contact-form messages.
package contacts

import (
	"strings"
	"time"

	"github.com/taxdesk/taxdesk/internal/listing"
	"github.com/taxdesk/taxdesk/internal/remote"
)

// Message statuses.
const (
	StatusNew     = "new"
	StatusRead    = "read"
	StatusReplied = "replied"
)

// Statuses lists every message status.
var Statuses = []string{StatusNew, StatusRead, StatusReplied}

// Keys: the contact list has no secondary filter.
var Keys = listing.Keys{}

// RemotePath is the contact collection on the remote API.
const RemotePath = "/contacts"

// Reply is one answer sent to the visitor.
type Reply struct {
	Author string    `json:"author"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}

// Message is a normalized contact-form submission.
type Message struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	Replies   []Reply   `json:"replies,omitempty"`
}

// ReplyInput is the reply form.
type ReplyInput struct {
	Text string `validate:"required,max=5000"`
}

// StatusInput is the status form.
type StatusInput struct {
	Status string `validate:"required,oneof=new read replied"`
}

func fromRecord(r remote.Record) Message {
	m := Message{
		ID:        r.String("id", "_id"),
		Name:      r.String("name", "fullName"),
		Email:     r.String("email"),
		Phone:     r.String("phone", "phoneNumber"),
		Subject:   r.String("subject", "service"),
		Body:      r.String("message", "body"),
		Status:    strings.ToLower(r.String("status")),
		CreatedAt: r.Time("createdAt", "created_at"),
	}
	if m.Status == "" {
		m.Status = StatusNew
	}
	if m.Subject == "" {
		m.Subject = "(no subject)"
	}
	for _, rep := range r.Records("replies") {
		m.Replies = append(m.Replies, Reply{
			Author: rep.String("author", "repliedBy", "sender"),
			Text:   rep.String("message", "text", "reply"),
			SentAt: rep.Time("sentAt", "createdAt", "timestamp"),
		})
	}
	return m
}
