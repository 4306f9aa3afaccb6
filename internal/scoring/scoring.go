// Package scoring computes priority scores and severity bands. Everything in
// here is a pure function over its arguments; the same inputs always produce
// the same score, which is what makes recalculation idempotent.
package scoring

import (
	"strings"

	"arbiter/internal/domain"
)

// Evidence-status multipliers. Worse evidence inflates the base priority
// score; acceptable or waived evidence deflates it.
var multipliers = map[string]float64{
	"missing":       2.5,
	"not_provided":  2.5,
	"non_compliant": 2.3,
	"failed":        2.3,
	"expired":       2.0,
	"under_review":  1.5,
	"pending":       1.5,
	"needs_update":  1.3,
	"approved":      1.0,
	"compliant":     1.0,
	"waived":        0.5,
	"exempted":      0.5,
}

const (
	unknownStatusMultiplier = 1.5
	noStatusMultiplier      = 2.0
	maxScore                = 100
)

// Score computes the 0-100 priority score for one risk item. The evidence
// status is matched case-insensitively; an empty status scores as if no
// evidence information exists at all, an unrecognized one as "under review".
func Score(priority domain.Priority, evidenceStatus string) int {
	base := priority.BaseScore()

	mult := noStatusMultiplier
	if s := strings.ToLower(strings.TrimSpace(evidenceStatus)); s != "" {
		if m, ok := multipliers[s]; ok {
			mult = m
		} else {
			mult = unknownStatusMultiplier
		}
	}

	score := int(float64(base) * mult)
	if score > maxScore {
		score = maxScore
	}
	return score
}

// SeverityLabel maps a score to its human-readable band. Boundaries are
// inclusive of the lower bound.
func SeverityLabel(score int) string {
	switch {
	case score >= 90:
		return "critical"
	case score >= 70:
		return "high"
	case score >= 40:
		return "medium"
	default:
		return "low"
	}
}

// DomainScore computes the aggregate score for a domain risk: the worst open
// item dominates, with bounded bumps for high-priority volume and overall
// open volume. Monotonic non-decreasing in both counts, capped at 100.
func DomainScore(maxItemScore, highPriorityOpenCount, openCount int) int {
	score := maxItemScore

	bump := highPriorityOpenCount * 2
	if bump > 10 {
		bump = 10
	}
	score += bump

	if openCount > 3 {
		extra := openCount - 3
		if extra > 5 {
			extra = 5
		}
		score += extra
	}

	if score > maxScore {
		score = maxScore
	}
	return score
}

// PriorityForScore maps an aggregate score back onto a priority class, used
// for the domain risk's overallPriority.
func PriorityForScore(score int) domain.Priority {
	switch {
	case score >= 90:
		return domain.PriorityCritical
	case score >= 70:
		return domain.PriorityHigh
	case score >= 40:
		return domain.PriorityMedium
	default:
		return domain.PriorityLow
	}
}
