package sanitize

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// patternPrefix marks a trackingParams entry as a regular expression.
const patternPrefix = "re:"

// RuleSet is an immutable set of tracking-parameter rules. Build one with
// ParseRules or DefaultRuleSet; never mutate a set that has been published.
type RuleSet struct {
	exact         map[string]struct{}
	patterns      []*regexp.Regexp
	domainAllowed map[string]map[string]struct{}
}

// ruleDocument is the serialized rule shape accepted by ParseRules.
type ruleDocument struct {
	TrackingParams      []string            `json:"trackingParams"`
	DomainAllowedParams map[string][]string `json:"domainAllowedParams"`
}

// ParseRules parses a serialized rule document. Entries prefixed with "re:"
// compile as regular expressions; everything else is an exact parameter name.
func ParseRules(data []byte) (*RuleSet, error) {
	var doc ruleDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse rule document: %w", err)
	}

	rs := &RuleSet{
		exact:         make(map[string]struct{}),
		domainAllowed: make(map[string]map[string]struct{}),
	}

	for _, entry := range doc.TrackingParams {
		if raw, ok := strings.CutPrefix(entry, patternPrefix); ok {
			re, err := regexp.Compile(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid tracking pattern %q: %w", raw, err)
			}
			rs.patterns = append(rs.patterns, re)
			continue
		}
		rs.exact[strings.ToLower(entry)] = struct{}{}
	}

	for domain, params := range doc.DomainAllowedParams {
		allowed := make(map[string]struct{}, len(params))
		for _, p := range params {
			allowed[strings.ToLower(p)] = struct{}{}
		}
		rs.domainAllowed[strings.ToLower(domain)] = allowed
	}

	return rs, nil
}

// DefaultRuleSet returns the built-in rules active before any reload.
func DefaultRuleSet() *RuleSet {
	rs, err := ParseRules([]byte(defaultRulesJSON))
	if err != nil {
		// The built-in document is a compile-time constant; failing to
		// parse it is a programming error.
		panic(fmt.Sprintf("built-in rule set invalid: %v", err))
	}
	return rs
}

// shouldStrip reports whether param (lowercased) is a tracking parameter for
// domain. Domain exemptions override both exact and pattern matches.
func (rs *RuleSet) shouldStrip(domain, param string) bool {
	if allowed, ok := rs.domainAllowed[domain]; ok {
		if _, exempt := allowed[param]; exempt {
			return false
		}
	}

	if _, ok := rs.exact[param]; ok {
		return true
	}
	for _, re := range rs.patterns {
		if re.MatchString(param) {
			return true
		}
	}
	return false
}

// ExactCount returns the number of exact-name rules. Used by stats output.
func (rs *RuleSet) ExactCount() int { return len(rs.exact) }

// PatternCount returns the number of compiled pattern rules.
func (rs *RuleSet) PatternCount() int { return len(rs.patterns) }

const defaultRulesJSON = `{
  "trackingParams": [
    "fbclid", "gclid", "gclsrc", "dclid", "msclkid", "twclid", "yclid",
    "igshid", "mc_cid", "mc_eid", "wickedid", "s_cid", "mkt_tok",
    "_openstat", "ref_src", "ref_url", "spm", "scid",
    "re:^utm_", "re:^ga_", "re:^_hs", "re:^vero_", "re:^oly_",
    "re:^pk_", "re:^piwik_", "re:^matomo_", "re:^hsa_"
  ],
  "domainAllowedParams": {}
}`
