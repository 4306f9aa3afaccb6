// Package routing maps policy dimensions to risk domains and owning review
// boards.
package routing

import (
	"context"
	"log/slog"
	"strings"

	"arbiter/internal/ports"
)

// DefaultArb is the fallback board when the registry has no route. A missing
// route is a configuration gap worth a warning, not an error.
const DefaultArb = "default"

const ratingSuffix = "_rating"

// Resolver derives domain names and ARB ownership for aggregates.
type Resolver struct {
	registry ports.Registry
	log      *slog.Logger
}

func New(registry ports.Registry, log *slog.Logger) *Resolver {
	return &Resolver{registry: registry, log: log}
}

// DomainFor derives the risk domain from a raw dimension identifier:
// "security_rating" becomes "security". Identifiers without the suffix pass
// through unchanged; empty input maps to "unknown".
func DomainFor(derivedFrom string) string {
	d := strings.TrimSpace(derivedFrom)
	if d == "" {
		return "unknown"
	}
	return strings.TrimSuffix(d, ratingSuffix)
}

// ArbFor resolves the review board for a dimension or field key, trying the
// derived domain first and the raw identifier second.
func (r *Resolver) ArbFor(ctx context.Context, key string) string {
	if arb, ok := r.registry.ArbFor(ctx, DomainFor(key)); ok {
		return arb
	}
	if arb, ok := r.registry.ArbFor(ctx, key); ok {
		return arb
	}
	r.log.Warn("no arb route configured, using default", "key", key)
	return DefaultArb
}
