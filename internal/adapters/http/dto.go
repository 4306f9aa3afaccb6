package httpadapter

import (
	"time"

	"arbiter/internal/domain"
)

// JSON shapes for the HTTP surface. Kept separate from the domain structs so
// wire compatibility does not constrain the model.

type riskItemDTO struct {
	ID                        string     `json:"id"`
	AppID                     string     `json:"app_id"`
	DomainRiskID              string     `json:"domain_risk_id"`
	FieldKey                  string     `json:"field_key"`
	ProfileFieldID            string     `json:"profile_field_id,omitempty"`
	TriggeringEvidenceID      *string    `json:"triggering_evidence_id,omitempty"`
	Title                     string     `json:"title"`
	Description               string     `json:"description,omitempty"`
	Priority                  string     `json:"priority"`
	EvidenceStatus            string     `json:"evidence_status"`
	PriorityScore             int        `json:"priority_score"`
	Severity                  string     `json:"severity"`
	Status                    string     `json:"status"`
	CreationType              string     `json:"creation_type"`
	RaisedBy                  string     `json:"raised_by"`
	AssignedTo                *string    `json:"assigned_to,omitempty"`
	AssignedBy                *string    `json:"assigned_by,omitempty"`
	AssignedAt                *time.Time `json:"assigned_at,omitempty"`
	OpenedAt                  time.Time  `json:"opened_at"`
	ResolvedAt                *time.Time `json:"resolved_at,omitempty"`
	Resolution                *string    `json:"resolution,omitempty"`
	ResolutionComment         *string    `json:"resolution_comment,omitempty"`
	PolicyRequirementSnapshot string     `json:"policy_requirement_snapshot,omitempty"`
}

func toRiskItemDTO(item *domain.RiskItem) riskItemDTO {
	return riskItemDTO{
		ID:                        item.ID,
		AppID:                     item.AppID,
		DomainRiskID:              item.DomainRiskID,
		FieldKey:                  item.FieldKey,
		ProfileFieldID:            item.ProfileFieldID,
		TriggeringEvidenceID:      item.TriggeringEvidenceID,
		Title:                     item.Title,
		Description:               item.Description,
		Priority:                  string(item.Priority),
		EvidenceStatus:            item.EvidenceStatus,
		PriorityScore:             item.PriorityScore,
		Severity:                  item.Severity,
		Status:                    string(item.Status),
		CreationType:              string(item.CreationType),
		RaisedBy:                  item.RaisedBy,
		AssignedTo:                item.AssignedTo,
		AssignedBy:                item.AssignedBy,
		AssignedAt:                item.AssignedAt,
		OpenedAt:                  item.OpenedAt,
		ResolvedAt:                item.ResolvedAt,
		Resolution:                item.Resolution,
		ResolutionComment:         item.ResolutionComment,
		PolicyRequirementSnapshot: item.PolicyRequirementSnapshot,
	}
}

type domainRiskDTO struct {
	ID                string     `json:"id"`
	AppID             string     `json:"app_id"`
	Domain            string     `json:"domain"`
	DerivedFrom       string     `json:"derived_from"`
	AssignedArb       string     `json:"assigned_arb"`
	Status            string     `json:"status"`
	TotalItems        int        `json:"total_items"`
	OpenItems         int        `json:"open_items"`
	HighPriorityItems int        `json:"high_priority_items"`
	PriorityScore     int        `json:"priority_score"`
	OverallPriority   string     `json:"overall_priority"`
	OverallSeverity   string     `json:"overall_severity"`
	OpenedAt          time.Time  `json:"opened_at"`
	AssignedAt        time.Time  `json:"assigned_at"`
	LastItemAddedAt   *time.Time `json:"last_item_added_at,omitempty"`
	ClosedAt          *time.Time `json:"closed_at,omitempty"`
	Title             string     `json:"title"`
	Description       string     `json:"description,omitempty"`
}

func toDomainRiskDTO(dr *domain.DomainRisk) domainRiskDTO {
	return domainRiskDTO{
		ID:                dr.ID,
		AppID:             dr.AppID,
		Domain:            dr.Domain,
		DerivedFrom:       dr.DerivedFrom,
		AssignedArb:       dr.AssignedArb,
		Status:            string(dr.Status),
		TotalItems:        dr.TotalItems,
		OpenItems:         dr.OpenItems,
		HighPriorityItems: dr.HighPriorityItems,
		PriorityScore:     dr.PriorityScore,
		OverallPriority:   string(dr.OverallPriority),
		OverallSeverity:   dr.OverallSeverity,
		OpenedAt:          dr.OpenedAt,
		AssignedAt:        dr.AssignedAt,
		LastItemAddedAt:   dr.LastItemAddedAt,
		ClosedAt:          dr.ClosedAt,
		Title:             dr.Title,
		Description:       dr.Description,
	}
}

type statusHistoryDTO struct {
	ID                string            `json:"id"`
	RiskItemID        string            `json:"risk_item_id"`
	FromStatus        *string           `json:"from_status,omitempty"`
	ToStatus          string            `json:"to_status"`
	Resolution        string            `json:"resolution,omitempty"`
	ResolutionComment string            `json:"resolution_comment,omitempty"`
	ChangedBy         string            `json:"changed_by"`
	ActorRole         string            `json:"actor_role"`
	MitigationPlan    *string           `json:"mitigation_plan,omitempty"`
	ReassignedTo      *string           `json:"reassigned_to,omitempty"`
	ChangedAt         time.Time         `json:"changed_at"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

func toStatusHistoryDTO(e *domain.StatusHistoryEntry) statusHistoryDTO {
	d := statusHistoryDTO{
		ID:                e.ID,
		RiskItemID:        e.RiskItemID,
		ToStatus:          string(e.ToStatus),
		Resolution:        e.Resolution,
		ResolutionComment: e.ResolutionComment,
		ChangedBy:         e.ChangedBy,
		ActorRole:         string(e.ActorRole),
		MitigationPlan:    e.MitigationPlan,
		ReassignedTo:      e.ReassignedTo,
		ChangedAt:         e.ChangedAt,
		Metadata:          e.Metadata,
	}
	if e.FromStatus != nil {
		s := string(*e.FromStatus)
		d.FromStatus = &s
	}
	return d
}

type assignmentHistoryDTO struct {
	ID             string    `json:"id"`
	RiskItemID     string    `json:"risk_item_id"`
	AssignedFrom   *string   `json:"assigned_from,omitempty"`
	AssignedTo     *string   `json:"assigned_to,omitempty"`
	AssignedBy     string    `json:"assigned_by"`
	AssignmentType string    `json:"assignment_type"`
	Reason         string    `json:"reason,omitempty"`
	ChangedAt      time.Time `json:"changed_at"`
}

func toAssignmentHistoryDTO(e *domain.AssignmentHistoryEntry) assignmentHistoryDTO {
	return assignmentHistoryDTO{
		ID:             e.ID,
		RiskItemID:     e.RiskItemID,
		AssignedFrom:   e.AssignedFrom,
		AssignedTo:     e.AssignedTo,
		AssignedBy:     e.AssignedBy,
		AssignmentType: string(e.AssignmentType),
		Reason:         e.Reason,
		ChangedAt:      e.ChangedAt,
	}
}
