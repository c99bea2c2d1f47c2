package service

import (
	"strings"
	"time"

	"github.com/kursadbilgin/bounce-engine/internal/domain"
)

const (
	defaultPersistAttempts = 3
	defaultPersistDelay    = 200 * time.Millisecond
)

// PassConfig is the resolved configuration of one processing pass.
type PassConfig struct {
	InboxFolder     string
	ProcessedFolder string
	SkippedFolder   string
	ProblemFolder   string

	TestMode       bool
	TestRecipients []string
	NotifyAlways   []string

	// MaxAttempts is the retry ceiling written into new retry tasks.
	MaxAttempts int
	// PersistAttempts bounds in-process retries of a failed record write.
	PersistAttempts int
	// PersistDelay is the first pause between write attempts; it doubles after each failure.
	PersistDelay time.Duration
}

func (c PassConfig) withDefaults() PassConfig {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = domain.DefaultMaxAttempts
	}
	if c.PersistAttempts < 1 {
		c.PersistAttempts = defaultPersistAttempts
	}
	if c.PersistDelay <= 0 {
		c.PersistDelay = defaultPersistDelay
	}
	return c
}

// NotifyRecipients returns who hears about a bounce whose message carried cc.
// Test mode always wins; otherwise it is the always-notify list plus cc, deduplicated.
func (c PassConfig) NotifyRecipients(cc []string) []string {
	if c.TestMode {
		return dedupeAddresses(c.TestRecipients)
	}
	return dedupeAddresses(c.NotifyAlways, cc)
}

// dedupeAddresses keeps the first spelling of each address, comparing case-insensitively.
func dedupeAddresses(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
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
