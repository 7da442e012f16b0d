// Package backend defines the contract between the connection core and a
// messaging backend client.
package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/cybercyphers/cyphbeta/internal/auth"
)

type EventKind string

const (
	EventConnecting EventKind = "connecting"
	EventOpen       EventKind = "open"
	EventClose      EventKind = "close"
	EventMessage    EventKind = "message"
)

type Event struct {
	Kind EventKind
	// StatusCode accompanies EventClose; 0 when the backend gave none.
	StatusCode int
	Err        error
	Message    Message
}

type Message struct {
	ID        string    `json:"id"`
	Chat      string    `json:"chat"`
	Sender    string    `json:"sender"`
	FromMe    bool      `json:"from_me"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// SenderJID is the participant for group chats and the chat itself otherwise.
func (m Message) SenderJID() string {
	if m.Sender != "" {
		return m.Sender
	}
	return m.Chat
}

type Presence string

const (
	PresenceAvailable   Presence = "available"
	PresenceUnavailable Presence = "unavailable"
)

// Session is one live connection to the backend. Events is closed after the
// final EventClose.
type Session interface {
	Events() <-chan Event
	RequestPairingCode(ctx context.Context, phone string) (string, error)
	SendText(ctx context.Context, chat, text string) (string, error)
	SendPresence(ctx context.Context, p Presence) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, creds auth.Credentials) (Session, error)
}

// StatusError is returned by Dial when the backend refused the session with a status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend refused session: status %d body=%q", e.StatusCode, e.Body)
}
