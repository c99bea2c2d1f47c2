package classifier

import (
	"fmt"
	"regexp"
	"strings"
)

// Category groups rules by resolution priority.
type Category string

const (
	CategoryPattern      Category = "pattern"
	CategoryEnhancedCode Category = "enhanced_code"
	CategoryBasicCode    Category = "basic_code"
)

// Resolution is the fixed order in which rule categories are consulted.
// DSN headers are checked after every category in this list.
var Resolution = []Category{CategoryPattern, CategoryEnhancedCode, CategoryBasicCode}

func (c Category) IsValid() bool {
	switch c {
	case CategoryPattern, CategoryEnhancedCode, CategoryBasicCode:
		return true
	}
	return false
}

// Rule maps a pattern or status code to a human readable reason.
// ProviderDomain, when set, limits the rule to messages attributed to that domain.
type Rule struct {
	Category       Category
	Match          string
	Reason         string
	ProviderDomain string

	re *regexp.Regexp
}

var builtinPatterns = []Rule{
	{Category: CategoryPattern, Match: "user unknown", Reason: "Invalid recipient address"},
	{Category: CategoryPattern, Match: "no such user", Reason: "Invalid recipient address"},
	{Category: CategoryPattern, Match: "mailbox full", Reason: "Mailbox full"},
	{Category: CategoryPattern, Match: "quota exceeded", Reason: "Mailbox full"},
	{Category: CategoryPattern, Match: "over quota", Reason: "Mailbox full"},
	{Category: CategoryPattern, Match: "blocked", Reason: "Blocked by provider"},
	{Category: CategoryPattern, Match: "spam", Reason: "Marked as spam"},
	{Category: CategoryPattern, Match: "rejected", Reason: "Message rejected"},
	{Category: CategoryPattern, Match: "not authorized", Reason: "Not authorized"},
	{Category: CategoryPattern, Match: "policy violation", Reason: "Policy violation"},
}

// RFC 3463 / RFC 5248 codes in match order.
var builtinEnhancedCodes = []Rule{
	{Category: CategoryEnhancedCode, Match: "2.1.5", Reason: "Recipient address valid"},
	{Category: CategoryEnhancedCode, Match: "4.2.2", Reason: "Mailbox full (quota exceeded)"},
	{Category: CategoryEnhancedCode, Match: "4.4.1", Reason: "Connection timed out"},
	{Category: CategoryEnhancedCode, Match: "4.4.2", Reason: "Bad connection / unable to relay"},
	{Category: CategoryEnhancedCode, Match: "4.4.7", Reason: "Message expired after retries"},
	{Category: CategoryEnhancedCode, Match: "4.5.3", Reason: "Too many recipients"},
	{Category: CategoryEnhancedCode, Match: "5.0.0", Reason: "General failure"},
	{Category: CategoryEnhancedCode, Match: "5.1.0", Reason: "Addressing issue"},
	{Category: CategoryEnhancedCode, Match: "5.1.1", Reason: "Invalid recipient address"},
	{Category: CategoryEnhancedCode, Match: "5.1.2", Reason: "Domain does not exist"},
	{Category: CategoryEnhancedCode, Match: "5.1.3", Reason: "Bad destination mailbox syntax"},
	{Category: CategoryEnhancedCode, Match: "5.1.6", Reason: "Mailbox has moved"},
	{Category: CategoryEnhancedCode, Match: "5.2.0", Reason: "Mailbox disabled"},
	{Category: CategoryEnhancedCode, Match: "5.2.1", Reason: "Mailbox disabled / not accepting"},
	{Category: CategoryEnhancedCode, Match: "5.2.2", Reason: "Mailbox full"},
	{Category: CategoryEnhancedCode, Match: "5.3.0", Reason: "System not accepting network messages"},
	{Category: CategoryEnhancedCode, Match: "5.3.2", Reason: "System not accepting network messages"},
	{Category: CategoryEnhancedCode, Match: "5.4.1", Reason: "No answer from host"},
	{Category: CategoryEnhancedCode, Match: "5.4.4", Reason: "Unable to route"},
	{Category: CategoryEnhancedCode, Match: "5.4.6", Reason: "Routing loop detected"},
	{Category: CategoryEnhancedCode, Match: "5.5.0", Reason: "Invalid command"},
	{Category: CategoryEnhancedCode, Match: "5.5.2", Reason: "Syntax error"},
	{Category: CategoryEnhancedCode, Match: "5.5.3", Reason: "Too many recipients"},
	{Category: CategoryEnhancedCode, Match: "5.7.1", Reason: "Delivery not authorized / blocked / spam"},
	{Category: CategoryEnhancedCode, Match: "5.7.25", Reason: "DMARC validation failed"},
	{Category: CategoryEnhancedCode, Match: "5.7.26", Reason: "SPF validation failed"},
	{Category: CategoryEnhancedCode, Match: "5.7.27", Reason: "DKIM validation failed"},
}

// RFC 5321 reply codes.
var builtinBasicCodes = []Rule{
	{Category: CategoryBasicCode, Match: "421", Reason: "Service not available"},
	{Category: CategoryBasicCode, Match: "450", Reason: "Mailbox unavailable"},
	{Category: CategoryBasicCode, Match: "451", Reason: "Local error"},
	{Category: CategoryBasicCode, Match: "452", Reason: "Insufficient system storage"},
	{Category: CategoryBasicCode, Match: "550", Reason: "Mailbox unavailable"},
	{Category: CategoryBasicCode, Match: "551", Reason: "User not local"},
	{Category: CategoryBasicCode, Match: "552", Reason: "Exceeded storage allocation"},
	{Category: CategoryBasicCode, Match: "553", Reason: "Mailbox name not allowed"},
	{Category: CategoryBasicCode, Match: "554", Reason: "Transaction failed"},
}

// RuleSet is the ordered, immutable rule table consulted by the Classifier.
type RuleSet struct {
	patterns []Rule
	enhanced []Rule
	basic    []Rule
}

// DefaultRuleSet returns the built-in rule table.
func DefaultRuleSet() *RuleSet {
	rs, err := NewRuleSet(nil)
	if err != nil {
		// Built-in rules are constant and always compile.
		panic(err)
	}
	return rs
}

// NewRuleSet returns the built-in rules followed by extra rules within each category.
func NewRuleSet(extra []Rule) (*RuleSet, error) {
	rs := &RuleSet{}

	all := make([]Rule, 0, len(builtinPatterns)+len(builtinEnhancedCodes)+len(builtinBasicCodes)+len(extra))
	all = append(all, builtinPatterns...)
	all = append(all, builtinEnhancedCodes...)
	all = append(all, builtinBasicCodes...)
	all = append(all, extra...)

	for i := range all {
		rule, err := compileRule(all[i])
		if err != nil {
			return nil, err
		}

		switch rule.Category {
		case CategoryPattern:
			rs.patterns = append(rs.patterns, rule)
		case CategoryEnhancedCode:
			rs.enhanced = append(rs.enhanced, rule)
		case CategoryBasicCode:
			rs.basic = append(rs.basic, rule)
		}
	}

	return rs, nil
}

// Rules returns a copy of the rules of one category in match order.
func (rs *RuleSet) Rules(category Category) []Rule {
	if rs == nil {
		return nil
	}

	var src []Rule
	switch category {
	case CategoryPattern:
		src = rs.patterns
	case CategoryEnhancedCode:
		src = rs.enhanced
	case CategoryBasicCode:
		src = rs.basic
	}

	out := make([]Rule, len(src))
	copy(out, src)
	return out
}

// ReasonForCode returns the reason mapped to an enhanced or basic status code.
func (rs *RuleSet) ReasonForCode(code string) (string, bool) {
	code = strings.TrimSpace(code)
	if rs == nil || code == "" {
		return "", false
	}

	for _, group := range [][]Rule{rs.enhanced, rs.basic} {
		for _, rule := range group {
			if rule.ProviderDomain == "" && rule.Match == code {
				return rule.Reason, true
			}
		}
	}
	return "", false
}

func compileRule(rule Rule) (Rule, error) {
	rule.Category = Category(strings.ToLower(strings.TrimSpace(string(rule.Category))))
	rule.Match = strings.TrimSpace(rule.Match)
	rule.Reason = strings.TrimSpace(rule.Reason)
	rule.ProviderDomain = strings.ToLower(strings.TrimSpace(rule.ProviderDomain))

	if !rule.Category.IsValid() {
		return Rule{}, fmt.Errorf("invalid rule category %q", rule.Category)
	}
	if rule.Match == "" {
		return Rule{}, fmt.Errorf("rule match is required (category %s)", rule.Category)
	}
	if rule.Reason == "" {
		return Rule{}, fmt.Errorf("rule reason is required (match %q)", rule.Match)
	}

	switch rule.Category {
	case CategoryPattern:
		re, err := regexp.Compile("(?i)" + rule.Match)
		if err != nil {
			return Rule{}, fmt.Errorf("invalid rule pattern %q: %w", rule.Match, err)
		}
		rule.re = re
	case CategoryEnhancedCode:
		if !enhancedCodeRe.MatchString(rule.Match) {
			return Rule{}, fmt.Errorf("invalid enhanced status code %q", rule.Match)
		}
	case CategoryBasicCode:
		if !basicCodeRe.MatchString(rule.Match) {
			return Rule{}, fmt.Errorf("invalid basic status code %q", rule.Match)
		}
	}

	return rule, nil
}

var (
	enhancedCodeRe = regexp.MustCompile(`^[245]\.\d{1,3}\.\d{1,3}$`)
	basicCodeRe    = regexp.MustCompile(`^[245]\d\d$`)
)
