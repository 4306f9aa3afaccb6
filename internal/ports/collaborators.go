package ports

import (
	"context"

	"arbiter/internal/domain"
)

// RuleDecision is the registry's answer to "does this field/app/rating
// combination need a risk raised".
type RuleDecision struct {
	ShouldCreate   bool
	Priority       domain.Priority
	RequiresReview bool
	Reason         string
}

// Registry supplies per-field policy rules and review-board routing. It is
// loaded once at startup and treated as read-only between reloads.
type Registry interface {
	// RuleFor decides whether a risk must be raised. A field with no registry
	// entry at all is a ConfigurationError, not a no-op.
	RuleFor(ctx context.Context, fieldKey, appID, rating string) (RuleDecision, error)

	// ArbFor returns the review board owning a dimension or field key. The
	// second return is false when no route is configured; callers fall back
	// to "default".
	ArbFor(ctx context.Context, key string) (string, bool)

	// ComplianceSnapshot renders the opaque policy-requirement text captured
	// on a risk item at creation time.
	ComplianceSnapshot(ctx context.Context, fieldKey, rating string) string
}

// EvidenceLinkStatus is the raw state of an evidence-to-field link as the
// evidence subsystem reports it.
type EvidenceLinkStatus string

const (
	LinkPendingPOReview  EvidenceLinkStatus = "PENDING_PO_REVIEW"
	LinkPendingSMEReview EvidenceLinkStatus = "PENDING_SME_REVIEW"
	LinkApproved         EvidenceLinkStatus = "APPROVED"
	LinkRejected         EvidenceLinkStatus = "REJECTED"
	LinkUserAttested     EvidenceLinkStatus = "USER_ATTESTED"
	LinkAttached         EvidenceLinkStatus = "ATTACHED"
	LinkPendingReview    EvidenceLinkStatus = "PENDING_REVIEW"
)

// Evidence reports the state of evidence-to-field links.
type Evidence interface {
	// LinkStatusFor returns the link state; found is false when no link
	// exists, which the evaluator treats as missing evidence.
	LinkStatusFor(ctx context.Context, evidenceID, profileFieldID string) (status EvidenceLinkStatus, found bool, err error)
}

// Profile resolves profile-field identifiers to their policy coordinates.
type Profile interface {
	// FieldKeyFor resolves a profile field id to its field key. Absence is a
	// ConfigurationError: the field is in active use but unknown.
	FieldKeyFor(ctx context.Context, profileFieldID string) (string, error)

	// DerivedFromFor returns the raw policy dimension a field key derives
	// from (e.g. "security_rating").
	DerivedFromFor(ctx context.Context, fieldKey string) (string, error)
}

// Application supplies per-application rating values.
type Application interface {
	// RatingFor returns the application's rating for a dimension. Never
	// empty: unset ratings fall back to the baseline.
	RatingFor(ctx context.Context, appID, derivedFrom string) (string, error)
}
