package utm

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule adds Params to links whose host is Domain or one of its subdomains.
// An empty Domain matches every link.
type Rule struct {
	Domain string            `yaml:"domain" json:"domain"`
	Params map[string]string `yaml:"params" json:"params"`
}

type Rules []Rule

var linkRE = regexp.MustCompile(`https?://[^\s<>"'\])]+`)

// ParseRules reads a YAML rules document. JSON is accepted too, being valid YAML.
func ParseRules(data []byte) (Rules, error) {
	if strings.TrimSpace(string(data)) == "" {
		return nil, nil
	}
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse utm rules: %w", err)
	}
	for i, rule := range rules {
		rules[i].Domain = strings.ToLower(strings.TrimSpace(rule.Domain))
		if len(rule.Params) == 0 {
			return nil, fmt.Errorf("utm rule %d (%q) has no params", i, rule.Domain)
		}
		for key := range rule.Params {
			if strings.TrimSpace(key) == "" {
				return nil, fmt.Errorf("utm rule %d (%q) has an empty param name", i, rule.Domain)
			}
		}
	}
	return rules, nil
}

func (r Rules) Marshal() ([]byte, error) {
	return yaml.Marshal(r)
}

// Rewrite appends rule params to every matching link in text. Params already
// present on a link are left alone.
func Rewrite(text string, rules Rules) string {
	if len(rules) == 0 {
		return text
	}
	return linkRE.ReplaceAllStringFunc(text, func(raw string) string {
		link, trailing := splitTrailingPunctuation(raw)
		u, err := url.Parse(link)
		if err != nil || u.Host == "" {
			return raw
		}
		params := rules.paramsFor(u.Hostname())
		if len(params) == 0 {
			return raw
		}
		query := u.Query()
		changed := false
		keys := make([]string, 0, len(params))
		for key := range params {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if query.Has(key) {
				continue
			}
			query.Set(key, params[key])
			changed = true
		}
		if !changed {
			return raw
		}
		u.RawQuery = query.Encode()
		return u.String() + trailing
	})
}

func (r Rules) paramsFor(host string) map[string]string {
	host = strings.ToLower(host)
	merged := map[string]string{}
	for _, rule := range r {
		if !matchesDomain(host, rule.Domain) {
			continue
		}
		for key, value := range rule.Params {
			if _, exists := merged[key]; !exists {
				merged[key] = value
			}
		}
	}
	return merged
}

func matchesDomain(host string, domain string) bool {
	domain = strings.TrimPrefix(domain, "www.")
	if domain == "" || domain == "*" {
		return true
	}
	host = strings.TrimPrefix(host, "www.")
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func splitTrailingPunctuation(link string) (string, string) {
	trimmed := strings.TrimRight(link, ".,;:!?")
	return trimmed, link[len(trimmed):]
}
