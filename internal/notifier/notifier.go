// Package notifier delivers bounce notifications to people.
package notifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/bounce-engine/internal/domain"
)

// Notifier is the outbound notification port.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

type Message struct {
	To      []string
	Cc      []string
	Subject string
	Body    string
}

func (m Message) Validate() error {
	if len(m.Recipients()) == 0 {
		return fmt.Errorf("%w: at least one recipient is required", domain.ErrValidation)
	}
	if strings.TrimSpace(m.Subject) == "" {
		return fmt.Errorf("%w: subject is required", domain.ErrValidation)
	}
	return nil
}

// Recipients returns To followed by Cc, without blanks or duplicates.
func (m Message) Recipients() []string {
	seen := make(map[string]struct{}, len(m.To)+len(m.Cc))
	out := make([]string, 0, len(m.To)+len(m.Cc))
	for _, list := range [][]string{m.To, m.Cc} {
		for _, addr := range list {
			addr = strings.TrimSpace(addr)
			if addr == "" {
				continue
			}
			key := strings.ToLower(addr)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, addr)
		}
	}
	return out
}
