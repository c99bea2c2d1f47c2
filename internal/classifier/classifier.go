// Package classifier decides whether a parsed message is a bounce and why.
//
// Rules are consulted in a fixed order and the first match wins:
// keyword patterns (subject, then body), enhanced status codes, basic reply codes,
// then the DSN Status and Action headers. Anything else is not a bounce.
package classifier

import (
	"strings"

	"github.com/kursadbilgin/bounce-engine/internal/domain"
)

// DSN header names read by the classifier.
const (
	HeaderStatus          = "Status"
	HeaderAction          = "Action"
	HeaderFinalRecipient  = "Final-Recipient"
	HeaderOrigRecipient   = "Original-Recipient"
	HeaderDiagnosticCode  = "Diagnostic-Code"
	dsnActionReasonPrefix = "DSN action: "
)

// Classifier is a pure function over its inputs and an immutable RuleSet.
type Classifier struct {
	rules *RuleSet
}

func New(rules *RuleSet) *Classifier {
	if rules == nil {
		rules = DefaultRuleSet()
	}
	return &Classifier{rules: rules}
}

// Classify never fails; a message that matches nothing is NotABounce.
// Header keys are matched case-insensitively.
func (c *Classifier) Classify(headers map[string]string, bodyText string, subjectText string) domain.Classification {
	diagnostic := headerValue(headers, HeaderDiagnosticCode)
	scanBody := bodyText
	if diagnostic != "" {
		scanBody = bodyText + "\n" + diagnostic
	}
	text := subjectText + "\n" + scanBody

	domainName := ExtractDomain(headers, text)

	for _, rule := range c.rules.patterns {
		if !rule.appliesTo(domainName) {
			continue
		}
		if rule.re.MatchString(subjectText) || rule.re.MatchString(scanBody) {
			return domain.Bounced(rule.Match, rule.Reason, domainName)
		}
	}

	for _, group := range [][]Rule{c.rules.enhanced, c.rules.basic} {
		for _, rule := range group {
			if !rule.appliesTo(domainName) {
				continue
			}
			if containsCode(text, rule.Match) {
				return domain.Bounced(rule.Match, rule.Reason, domainName)
			}
		}
	}

	if status := dsnStatusCode(headerValue(headers, HeaderStatus)); status != "" {
		if reason, ok := c.rules.ReasonForCode(status); ok {
			return domain.Bounced(status, reason, domainName)
		}
	}
	if action := headerValue(headers, HeaderAction); action != "" {
		return domain.Bounced(action, dsnActionReasonPrefix+action, domainName)
	}

	return domain.NotABounce(domainName)
}

func (r Rule) appliesTo(domainName string) bool {
	if r.ProviderDomain == "" {
		return true
	}
	return domainName == r.ProviderDomain || strings.HasSuffix(domainName, "."+r.ProviderDomain)
}

// containsCode reports whether code occurs in text as a whole status code,
// so "5.1.1" does not match inside "5.1.10" and "550" not inside "5505".
func containsCode(text string, code string) bool {
	for offset := 0; offset < len(text); {
		idx := strings.Index(text[offset:], code)
		if idx < 0 {
			return false
		}
		start := offset + idx
		end := start + len(code)
		if codeBoundaryBefore(text, start) && codeBoundaryAfter(text, end) {
			return true
		}
		offset = start + 1
	}
	return false
}

func codeBoundaryBefore(text string, start int) bool {
	if start == 0 {
		return true
	}
	prev := text[start-1]
	return !isDigit(prev) && prev != '.'
}

func codeBoundaryAfter(text string, end int) bool {
	if end >= len(text) {
		return true
	}
	next := text[end]
	if isDigit(next) {
		return false
	}
	if next == '.' && end+1 < len(text) && isDigit(text[end+1]) {
		return false
	}
	return true
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// dsnStatusCode returns the leading code of a DSN Status value such as "5.1.1 (bad mailbox)".
func dsnStatusCode(value string) string {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func headerValue(headers map[string]string, name string) string {
	if value, ok := headers[name]; ok {
		return strings.TrimSpace(value)
	}
	for key, value := range headers {
		if strings.EqualFold(key, name) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
