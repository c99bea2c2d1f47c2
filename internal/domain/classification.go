package domain

import (
	"fmt"
	"strings"
)

// Verdict is the tag of a Classification.
type Verdict string

const (
	VerdictBounced       Verdict = "BOUNCED"
	VerdictNotABounce    Verdict = "NOT_A_BOUNCE"
	VerdictIndeterminate Verdict = "INDETERMINATE"
)

func (v Verdict) String() string { return string(v) }

func (v Verdict) IsValid() bool {
	switch v {
	case VerdictBounced, VerdictNotABounce, VerdictIndeterminate:
		return true
	}
	return false
}

func ParseVerdictFromString(s string) (Verdict, error) {
	v := Verdict(strings.ToUpper(strings.TrimSpace(s)))
	if !v.IsValid() {
		return "", fmt.Errorf("%w: invalid verdict %q", ErrValidation, s)
	}
	return v, nil
}

// NotABounceReason is the reason text of every NotABounce verdict.
const NotABounceReason = "Not a bounce"

// Classification is the classifier verdict for one message.
//
// ReasonCode holds the matched SMTP/enhanced code or pattern, ReasonText the human readable
// reason. RawSnippet is only set for Indeterminate verdicts.
type Classification struct {
	Verdict    Verdict
	ReasonCode string
	ReasonText string
	RawSnippet string
	// Domain is the classifier's best-effort attribution, UnknownDomain when nothing matched.
	Domain string
}

func Bounced(code string, reason string, domain string) Classification {
	return Classification{Verdict: VerdictBounced, ReasonCode: code, ReasonText: reason, Domain: domain}
}

func NotABounce(domain string) Classification {
	return Classification{Verdict: VerdictNotABounce, ReasonText: NotABounceReason, Domain: domain}
}

func Indeterminate(snippet string, domain string) Classification {
	return Classification{Verdict: VerdictIndeterminate, ReasonText: NotABounceReason, RawSnippet: snippet, Domain: domain}
}

func (c Classification) IsBounce() bool { return c.Verdict == VerdictBounced }
