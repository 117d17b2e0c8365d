package auth

import (
	"net/http"
	"strings"
)

// Rule grants access to requests under a path. Path matches exactly, Prefix by prefix.
// WritesOnly restricts the rule to methods other than GET, HEAD and OPTIONS.
type Rule struct {
	Path       string
	Prefix     string
	WritesOnly bool
	Role       Role
}

func (rule Rule) matches(r *http.Request) bool {
	if rule.WritesOnly && isRead(r.Method) {
		return false
	}
	if rule.Path != "" {
		return r.URL.Path == rule.Path
	}
	return strings.HasPrefix(r.URL.Path, rule.Prefix)
}

// DefaultRules protects the operator API. Command lookup is a read even though it is a POST.
func DefaultRules() []Rule {
	return []Rule{
		{Path: "/api/v1/commands/lookup", Role: RoleViewer},
		{Prefix: "/api/v1/processes/", WritesOnly: true, Role: RoleAdmin},
		{Prefix: "/api/v1/supervision/", WritesOnly: true, Role: RoleAdmin},
		{Prefix: "/api/", WritesOnly: true, Role: RoleOperator},
		{Prefix: "/api/", Role: RoleViewer},
	}
}

// Policy resolves the role a request needs. The first matching rule wins.
type Policy struct {
	exempt map[string]struct{}
	rules  []Rule
}

// NewPolicy builds a policy from rules; exempt paths skip authentication entirely.
func NewPolicy(rules []Rule, exempt ...string) Policy {
	set := make(map[string]struct{}, len(exempt))
	for _, path := range exempt {
		set[path] = struct{}{}
	}
	return Policy{exempt: set, rules: rules}
}

// NewDefaultPolicy builds a policy with DefaultRules.
func NewDefaultPolicy(exempt ...string) Policy {
	return NewPolicy(DefaultRules(), exempt...)
}

// Required returns the role a request needs; false means it is public.
func (p Policy) Required(r *http.Request) (Role, bool) {
	if r == nil {
		return "", false
	}
	if _, ok := p.exempt[r.URL.Path]; ok {
		return "", false
	}
	for _, rule := range p.rules {
		if rule.matches(r) {
			return rule.Role, true
		}
	}
	return "", false
}

func isRead(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}
