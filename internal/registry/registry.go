// Package registry loads the policy registry: per-field risk rules, ARB
// routing and compliance-requirement text. The file is read once at startup
// into an immutable snapshot; Reload swaps the whole snapshot atomically.
package registry

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"arbiter/internal/domain"
	"arbiter/internal/ports"
)

// Rule is one per-field policy entry. Ratings maps an application rating
// value to the priority a raised risk gets; ratings absent from the map do
// not require a risk.
type Rule struct {
	FieldKey       string            `yaml:"field_key"`
	RequiresReview bool              `yaml:"requires_review"`
	Requirement    string            `yaml:"requirement"`
	Ratings        map[string]string `yaml:"ratings"`
}

// File is the on-disk shape of the registry.
type File struct {
	// Routing maps a domain, raw dimension or field key to its review board.
	Routing map[string]string `yaml:"routing"`
	Rules   []Rule            `yaml:"rules"`
}

type snapshot struct {
	routing map[string]string
	rules   map[string]Rule
}

// Registry implements ports.Registry over an immutable snapshot.
type Registry struct {
	path string
	cur  atomic.Pointer[snapshot]
}

// Load reads the registry file at path. An empty path yields the built-in
// default registry, which keeps local runs working without any files.
func Load(path string) (*Registry, error) {
	r := &Registry{path: path}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the file and swaps the snapshot. Readers in flight keep
// the snapshot they started with.
func (r *Registry) Reload() error {
	var f File
	if r.path == "" {
		f = defaultFile()
	} else {
		raw, err := os.ReadFile(r.path)
		if err != nil {
			return fmt.Errorf("read registry: %w", err)
		}
		if err := yaml.Unmarshal(raw, &f); err != nil {
			return fmt.Errorf("parse registry: %w", err)
		}
	}

	snap := &snapshot{routing: map[string]string{}, rules: map[string]Rule{}}
	for k, v := range f.Routing {
		snap.routing[strings.ToLower(strings.TrimSpace(k))] = v
	}
	for _, rule := range f.Rules {
		key := strings.TrimSpace(rule.FieldKey)
		if key == "" {
			return fmt.Errorf("registry rule with empty field_key")
		}
		if _, dup := snap.rules[key]; dup {
			return fmt.Errorf("registry rule duplicated for field %q", key)
		}
		snap.rules[key] = rule
	}
	r.cur.Store(snap)
	return nil
}

// RuleFor implements ports.Registry. A field with no registry entry is a
// ConfigurationError: something is raising evidence for a field the policy
// does not know about.
func (r *Registry) RuleFor(ctx context.Context, fieldKey, appID, rating string) (ports.RuleDecision, error) {
	snap := r.cur.Load()
	rule, ok := snap.rules[fieldKey]
	if !ok {
		return ports.RuleDecision{}, domain.Configf(fieldKey, "no registry rule for field in use by app %s", appID)
	}
	prio, ok := rule.Ratings[rating]
	if !ok || !rule.RequiresReview {
		return ports.RuleDecision{
			ShouldCreate: false,
			Reason:       fmt.Sprintf("field %s does not require review for rating %s", fieldKey, rating),
		}, nil
	}
	return ports.RuleDecision{
		ShouldCreate:   true,
		Priority:       domain.Priority(strings.ToUpper(prio)),
		RequiresReview: true,
		Reason:         fmt.Sprintf("rating %s matches rule for %s", rating, fieldKey),
	}, nil
}

// ArbFor implements ports.Registry.
func (r *Registry) ArbFor(ctx context.Context, key string) (string, bool) {
	arb, ok := r.cur.Load().routing[strings.ToLower(strings.TrimSpace(key))]
	return arb, ok
}

// ComplianceSnapshot implements ports.Registry. The result is stored opaquely
// on the risk item and never re-rendered, so format changes here do not
// rewrite history.
func (r *Registry) ComplianceSnapshot(ctx context.Context, fieldKey, rating string) string {
	snap := r.cur.Load()
	rule, ok := snap.rules[fieldKey]
	if !ok || rule.Requirement == "" {
		return fmt.Sprintf("field=%s rating=%s requirement=unspecified", fieldKey, rating)
	}
	return fmt.Sprintf("field=%s rating=%s requirement=%s", fieldKey, rating, rule.Requirement)
}

// defaultFile is the built-in registry used when no file is configured.
func defaultFile() File {
	return File{
		Routing: map[string]string{
			"security":   "security-arb",
			"integrity":  "data-arb",
			"operations": "ops-arb",
		},
		Rules: []Rule{
			{
				FieldKey:       "mfa_enabled",
				RequiresReview: true,
				Requirement:    "multi-factor authentication must be enforced",
				Ratings:        map[string]string{"A1": "HIGH", "A2": "MEDIUM"},
			},
			{
				FieldKey:       "encryption_at_rest",
				RequiresReview: true,
				Requirement:    "data at rest must be encrypted",
				Ratings:        map[string]string{"A1": "CRITICAL", "A2": "HIGH", "B1": "MEDIUM"},
			},
		},
	}
}
