package domain

import "time"

// Core domain entities. Storage adapters map these to rows; the HTTP adapter
// maps them to JSON. Keep third-party imports out of this package.

// Priority is the base urgency class assigned by the matched policy rule.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// BaseScore returns the fixed numeric base for a priority. An unknown or
// empty priority counts as LOW.
func (p Priority) BaseScore() int {
	switch p {
	case PriorityCritical:
		return 40
	case PriorityHigh:
		return 30
	case PriorityMedium:
		return 20
	default:
		return 10
	}
}

// IsElevated reports whether the priority counts toward the high-priority
// item tally on an aggregate.
func (p Priority) IsElevated() bool {
	return p == PriorityHigh || p == PriorityCritical
}

// CreationType records how a risk item came to exist.
type CreationType string

const (
	CreationSystemAuto CreationType = "SYSTEM_AUTO_CREATION"
	CreationManual     CreationType = "MANUAL"
)

// SystemActor is the raisedBy value for auto-created items.
const SystemActor = "SYSTEM_AUTO_CREATION"

// ActorRole classifies who performed a status transition.
type ActorRole string

const (
	RoleSME    ActorRole = "SME"
	RolePO     ActorRole = "PO"
	RoleSystem ActorRole = "SYSTEM"
	RoleAdmin  ActorRole = "ADMIN"
)

// AssignmentType classifies an assignment-history entry.
type AssignmentType string

const (
	AssignSelf   AssignmentType = "SELF_ASSIGN"
	AssignManual AssignmentType = "MANUAL_ASSIGN"
	AssignNone   AssignmentType = "UNASSIGN"
)

// Evidence status categories. These are the normalized classifications the
// scorer understands; the evaluator maps raw evidence-link states onto them.
const (
	EvidenceMissing     = "missing"
	EvidenceExpired     = "expired"
	EvidenceUnderReview = "under_review"
	EvidencePending     = "pending"
	EvidenceNeedsUpdate = "needs_update"
	EvidenceApproved    = "approved"
	EvidenceFailed      = "non_compliant"
	EvidenceWaived      = "waived"
)

// RiskItem is a single tracked compliance gap: a policy field on an
// application whose supporting evidence is missing or unacceptable.
type RiskItem struct {
	ID                   string
	AppID                string
	DomainRiskID         string // owning aggregate, set once on creation
	FieldKey             string
	ProfileFieldID       string
	TriggeringEvidenceID *string // nil for manually raised items
	Title                string
	Description          string
	Priority             Priority
	EvidenceStatus       string
	PriorityScore        int
	Severity             string
	Status               RiskItemStatus
	CreationType         CreationType
	RaisedBy             string
	AssignedTo           *string
	AssignedBy           *string
	AssignedAt           *time.Time
	OpenedAt             time.Time
	ResolvedAt           *time.Time
	Resolution           *string
	ResolutionComment    *string
	// PolicyRequirementSnapshot is captured at creation time and never
	// rewritten, so the record stays meaningful after the registry changes.
	PolicyRequirementSnapshot string
}

// IsOpen reports whether the item counts as open for aggregation purposes.
func (r *RiskItem) IsOpen() bool {
	return r.Status == StatusOpen || r.Status == StatusInRemediation
}

// DomainRisk aggregates all risk items for one (application, domain) pair.
// The counter and score fields are a materialized view over the current item
// set; only the aggregator's recalculate writes them.
type DomainRisk struct {
	ID                string
	AppID             string
	Domain            string
	DerivedFrom       string // raw policy dimension, e.g. "security_rating"
	AssignedArb       string
	Status            DomainRiskStatus
	TotalItems        int
	OpenItems         int
	HighPriorityItems int
	PriorityScore     int
	OverallPriority   Priority
	OverallSeverity   string
	OpenedAt          time.Time
	AssignedAt        time.Time
	LastItemAddedAt   *time.Time
	ClosedAt          *time.Time
	Title             string
	Description       string
}

// StatusHistoryEntry is one append-only audit record for a risk item status
// transition. FromStatus is nil only on the creation entry.
type StatusHistoryEntry struct {
	ID                string
	RiskItemID        string
	FromStatus        *RiskItemStatus
	ToStatus          RiskItemStatus
	Resolution        string
	ResolutionComment string
	ChangedBy         string
	ActorRole         ActorRole
	MitigationPlan    *string
	ReassignedTo      *string
	ChangedAt         time.Time
	Metadata          map[string]string
}

// AssignmentHistoryEntry is the parallel audit record for assignment changes.
type AssignmentHistoryEntry struct {
	ID             string
	RiskItemID     string
	AssignedFrom   *string
	AssignedTo     *string
	AssignedBy     string
	AssignmentType AssignmentType
	Reason         string
	ChangedAt      time.Time
}
