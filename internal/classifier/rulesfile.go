package classifier

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

type rulesFile struct {
	Rules []fileRule `toml:"rule"`
}

type fileRule struct {
	Category       string `toml:"category"`
	Match          string `toml:"match"`
	Reason         string `toml:"reason"`
	ProviderDomain string `toml:"provider_domain"`
}

// LoadRuleSet builds a RuleSet from the built-ins plus the rules in a TOML file.
// An empty path yields the built-in table.
//
//	[[rule]]
//	category = "pattern"
//	match = "mailbox unavailable"
//	reason = "Mailbox unavailable"
//	provider_domain = "example.com"
func LoadRuleSet(path string) (*RuleSet, error) {
	if strings.TrimSpace(path) == "" {
		return NewRuleSet(nil)
	}

	var file rulesFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("failed to decode rules file %q: %w", path, err)
	}

	return newRuleSetFromFile(file)
}

// ParseRuleSet is LoadRuleSet for in-memory TOML.
func ParseRuleSet(data string) (*RuleSet, error) {
	var file rulesFile
	if _, err := toml.Decode(data, &file); err != nil {
		return nil, fmt.Errorf("failed to decode rules: %w", err)
	}
	return newRuleSetFromFile(file)
}

func newRuleSetFromFile(file rulesFile) (*RuleSet, error) {
	extra := make([]Rule, 0, len(file.Rules))
	for _, r := range file.Rules {
		extra = append(extra, Rule{
			Category:       Category(r.Category),
			Match:          r.Match,
			Reason:         r.Reason,
			ProviderDomain: r.ProviderDomain,
		})
	}
	return NewRuleSet(extra)
}
