package classifier

import (
	"regexp"
	"strings"

	"github.com/kursadbilgin/bounce-engine/internal/domain"
)

var addressRe = regexp.MustCompile(`[\w.-]+@([\w.-]+)`)

// ExtractDomain attributes a message to a domain.
//
// The DSN Final-Recipient (or Original-Recipient) header names the bounced address and wins
// when present. Otherwise the first address-shaped token of text is used, which is only a
// heuristic: it may name the sender or a relay instead of the failed recipient.
// Classify passes subject, body and Diagnostic-Code as text; no other header is scanned.
func ExtractDomain(headers map[string]string, text string) string {
	for _, name := range []string{HeaderFinalRecipient, HeaderOrigRecipient} {
		if value := headerValue(headers, name); value != "" {
			if d := DomainFromText(value); d != domain.UnknownDomain {
				return d
			}
		}
	}
	return DomainFromText(text)
}

// DomainFromText returns the lower-cased domain of the first address-shaped token in text.
func DomainFromText(text string) string {
	match := addressRe.FindStringSubmatch(text)
	if len(match) < 2 {
		return domain.UnknownDomain
	}
	d := strings.ToLower(strings.TrimRight(match[1], "."))
	if d == "" {
		return domain.UnknownDomain
	}
	return d
}
