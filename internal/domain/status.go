package domain

// RiskItemStatus is a closed enumeration. All mutation paths check the
// transition table below instead of comparing strings inline.
type RiskItemStatus string

const (
	StatusOpen                RiskItemStatus = "OPEN"
	StatusPendingReview       RiskItemStatus = "PENDING_REVIEW"
	StatusUnderSMEReview      RiskItemStatus = "UNDER_SME_REVIEW"
	StatusSMEApproved         RiskItemStatus = "SME_APPROVED"
	StatusAwaitingRemediation RiskItemStatus = "AWAITING_REMEDIATION"
	StatusEscalated           RiskItemStatus = "ESCALATED"
	StatusInRemediation       RiskItemStatus = "IN_REMEDIATION"
	StatusRemediated          RiskItemStatus = "REMEDIATED"
	StatusSelfAttested        RiskItemStatus = "SELF_ATTESTED"
	StatusResolved            RiskItemStatus = "RESOLVED"
	StatusClosed              RiskItemStatus = "CLOSED"
)

// InitialRiskItemStatus is the canonical state for every creation path,
// system-raised and manual alike. Items reach PENDING_REVIEW only through an
// explicit transition, which keeps the assignment rule (PENDING_REVIEW ->
// UNDER_SME_REVIEW on assign) unambiguous.
const InitialRiskItemStatus = StatusOpen

// IsTerminal reports whether the status ends the item's lifecycle. Terminal
// items accept reads only; any mutating operation fails with ErrInvalidState.
func (s RiskItemStatus) IsTerminal() bool {
	return s == StatusResolved || s == StatusClosed
}

// Valid reports whether s is one of the declared states.
func (s RiskItemStatus) Valid() bool {
	_, ok := riskItemTransitions[s]
	return ok
}

// riskItemTransitions is the closed transition table. Resolve/close are
// reachable from every non-terminal state; everything else is restricted to
// the review/remediation flow.
var riskItemTransitions = map[RiskItemStatus][]RiskItemStatus{
	StatusOpen: {
		StatusPendingReview, StatusSelfAttested, StatusInRemediation,
		StatusResolved, StatusClosed,
	},
	StatusPendingReview: {
		StatusUnderSMEReview, StatusResolved, StatusClosed,
	},
	StatusUnderSMEReview: {
		StatusSMEApproved, StatusAwaitingRemediation, StatusEscalated,
		StatusPendingReview, StatusResolved, StatusClosed,
	},
	StatusSMEApproved: {
		StatusResolved, StatusClosed,
	},
	StatusAwaitingRemediation: {
		StatusInRemediation, StatusSelfAttested, StatusEscalated,
		StatusResolved, StatusClosed,
	},
	StatusEscalated: {
		StatusUnderSMEReview, StatusAwaitingRemediation,
		StatusResolved, StatusClosed,
	},
	StatusInRemediation: {
		StatusRemediated, StatusEscalated, StatusResolved, StatusClosed,
	},
	StatusRemediated: {
		StatusUnderSMEReview, StatusResolved, StatusClosed,
	},
	StatusSelfAttested: {
		StatusUnderSMEReview, StatusResolved, StatusClosed,
	},
	StatusResolved: {},
	StatusClosed:   {},
}

// CanTransition reports whether the table allows s -> to.
func (s RiskItemStatus) CanTransition(to RiskItemStatus) bool {
	for _, t := range riskItemTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// DomainRiskStatus is the aggregate-level state. Transitions are driven
// exclusively by the aggregator's recalculate; there is no manual status
// update for aggregates.
type DomainRiskStatus string

const (
	DomainPendingArbReview    DomainRiskStatus = "PENDING_ARB_REVIEW"
	DomainUnderArbReview      DomainRiskStatus = "UNDER_ARB_REVIEW"
	DomainAwaitingRemediation DomainRiskStatus = "AWAITING_REMEDIATION"
	DomainInProgress          DomainRiskStatus = "IN_PROGRESS"
	DomainResolved            DomainRiskStatus = "RESOLVED"
	DomainClosed              DomainRiskStatus = "CLOSED"
)

func (s DomainRiskStatus) IsTerminal() bool {
	return s == DomainResolved || s == DomainClosed
}
