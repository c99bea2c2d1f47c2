// Package mailbox adapts mail stores to the operations a processing pass needs.
package mailbox

import (
	"bytes"
	"context"
	"errors"
	"net/mail"
	"strings"
)

// ErrMessageNotFound is returned by Relocate when no message carries the Message-ID.
var ErrMessageNotFound = errors.New("mailbox: message not found")

// RawMessage is one listed message. ID is only meaningful to the Source that listed it.
type RawMessage struct {
	ID     string
	Folder string
	Data   []byte
}

// MessageID returns the RFC 5322 Message-ID header, or "" when it cannot be read.
func (m RawMessage) MessageID() string {
	return messageIDOf(m.Data)
}

// Source is a folder-based mail store.
// MoveMessage places a copy in dest; the original goes away with MarkDeleted and Expunge.
type Source interface {
	ListMessages(ctx context.Context, folder string) ([]RawMessage, error)
	MoveMessage(ctx context.Context, id string, dest string) error
	MarkDeleted(ctx context.Context, id string) error
	Expunge(ctx context.Context) error
	Close() error
}

// Relocator is implemented by sources that can find a message by Message-ID and move it.
type Relocator interface {
	Relocate(ctx context.Context, messageID string, from string, to string) error
}

func messageIDOf(data []byte) string {
	msg, err := mail.ReadMessage(bytes.NewReader(data))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(msg.Header.Get("Message-Id"))
}

func sameMessageID(a string, b string) bool {
	a = strings.Trim(strings.TrimSpace(a), "<>")
	b = strings.Trim(strings.TrimSpace(b), "<>")
	return a != "" && a == b
}
