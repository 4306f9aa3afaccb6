// Package lifecycle drives explicit risk item status updates: reviewer
// actions, remediation progress and terminal resolution. Assignment-driven
// transitions live in the assignment package; aggregate transitions are the
// aggregator's alone.
package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"arbiter/internal/domain"
	"arbiter/internal/ports"
	"arbiter/internal/scoring"
	"arbiter/internal/services/aggregator"
	"arbiter/internal/services/ledger"
)

// Action is the discriminator on a status-update request.
type Action string

const (
	ActionApprove          Action = "approve"
	ActionApproveWithPlan  Action = "approve_with_mitigation"
	ActionReject           Action = "reject"
	ActionRequestInfo      Action = "request_info"
	ActionEscalate         Action = "escalate"
	ActionReassign         Action = "reassign"
	ActionSelfAttest       Action = "self_attest"
	ActionStartRemediation Action = "start_remediation"
	ActionMarkRemediated   Action = "mark_remediated"
	ActionSubmitForReview  Action = "submit_for_review"
	ActionResolve          Action = "resolve"
	ActionClose            Action = "close"
)

// UpdateRequest carries one status update. Validation happens before any
// mutation: unknown actions and missing companion fields never touch state.
type UpdateRequest struct {
	Action         Action
	Resolution     string
	Comment        string
	MitigationPlan string
	ReassignTo     string
	Actor          string
	ActorRole      domain.ActorRole
}

type Service struct {
	store  ports.Store
	agg    *aggregator.Service
	ledger *ledger.Ledger
	log    *slog.Logger
	now    func() time.Time
}

func New(store ports.Store, agg *aggregator.Service, led *ledger.Ledger, log *slog.Logger) *Service {
	return &Service{store: store, agg: agg, ledger: led, log: log, now: time.Now}
}

// target maps an action to its destination state and default resolution tag.
func target(a Action) (domain.RiskItemStatus, string, bool) {
	switch a {
	case ActionApprove, ActionApproveWithPlan:
		return domain.StatusSMEApproved, "SME_APPROVED", true
	case ActionReject:
		return domain.StatusAwaitingRemediation, "SME_REJECTED", true
	case ActionRequestInfo:
		return domain.StatusAwaitingRemediation, "INFO_REQUESTED", true
	case ActionEscalate:
		return domain.StatusEscalated, "ESCALATED", true
	case ActionReassign:
		return domain.StatusPendingReview, "REASSIGNED", true
	case ActionSelfAttest:
		return domain.StatusSelfAttested, "SELF_ATTESTED", true
	case ActionStartRemediation:
		return domain.StatusInRemediation, "REMEDIATION_STARTED", true
	case ActionMarkRemediated:
		return domain.StatusRemediated, "REMEDIATED", true
	case ActionSubmitForReview:
		return domain.StatusPendingReview, "SUBMITTED", true
	case ActionResolve:
		return domain.StatusResolved, "", true
	case ActionClose:
		return domain.StatusClosed, "", true
	default:
		return "", "", false
	}
}

// UpdateStatus applies one reviewer/remediation action to a risk item.
func (s *Service) UpdateStatus(ctx context.Context, riskItemID string, req UpdateRequest) (*domain.RiskItem, error) {
	to, defaultResolution, ok := target(req.Action)
	if !ok {
		return nil, domain.Validationf("action", "unknown action %q", req.Action)
	}
	if req.Actor == "" {
		return nil, domain.Validationf("actor", "must not be empty")
	}
	if req.Action == ActionApproveWithPlan && req.MitigationPlan == "" {
		return nil, domain.Validationf("mitigation_plan", "required for %s", req.Action)
	}
	if req.Action == ActionReassign && req.ReassignTo == "" {
		return nil, domain.Validationf("reassign_to", "required for %s", req.Action)
	}
	if req.Action == ActionResolve && req.Resolution == "" {
		return nil, domain.Validationf("resolution", "required for %s", req.Action)
	}
	resolution := req.Resolution
	if resolution == "" {
		resolution = defaultResolution
	}

	var out *domain.RiskItem
	err := s.store.InTx(ctx, func(ctx context.Context, tx ports.Store) error {
		item, err := tx.GetRiskItemForUpdate(ctx, riskItemID)
		if err != nil {
			return err
		}
		if item.Status.IsTerminal() {
			return domain.ErrInvalidState
		}
		from := item.Status
		if !from.CanTransition(to) {
			return domain.ErrInvalidState
		}

		item.Status = to
		if to.IsTerminal() {
			now := s.now()
			item.ResolvedAt = &now
			item.Resolution = &resolution
			if req.Comment != "" {
				c := req.Comment
				item.ResolutionComment = &c
			}
		}
		if req.Action == ActionReassign {
			assignee := req.ReassignTo
			now := s.now()
			item.AssignedTo = &assignee
			item.AssignedBy = &req.Actor
			item.AssignedAt = &now
		}

		if err := tx.UpdateRiskItem(ctx, item); err != nil {
			return err
		}

		t := ledger.Transition{
			From: from, To: to,
			Resolution: resolution, ResolutionComment: req.Comment,
			ChangedBy: req.Actor, ActorRole: req.ActorRole,
		}
		if req.MitigationPlan != "" {
			p := req.MitigationPlan
			t.MitigationPlan = &p
		}
		if req.ReassignTo != "" {
			r := req.ReassignTo
			t.ReassignedTo = &r
		}
		if err := s.ledger.LogTransition(ctx, tx, item.ID, t); err != nil {
			return err
		}

		dr, err := tx.GetDomainRiskForUpdate(ctx, item.DomainRiskID)
		if err != nil {
			return err
		}
		if err := s.agg.Recalculate(ctx, tx, dr); err != nil {
			return err
		}
		out = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("risk item status updated",
		"risk_item_id", riskItemID, "action", string(req.Action),
		"to", string(out.Status), "actor", req.Actor)
	return out, nil
}

// RaiseManual creates a manually raised risk item through the same
// aggregation path auto-creation uses. Manual items carry no triggering
// evidence, so the dedup triple does not apply to them.
type ManualRequest struct {
	AppID          string
	FieldKey       string
	ProfileFieldID string
	DerivedFrom    string
	Title          string
	Description    string
	Priority       domain.Priority
	RaisedBy       string
}

func (s *Service) RaiseManual(ctx context.Context, req ManualRequest) (*domain.RiskItem, error) {
	if req.AppID == "" {
		return nil, domain.Validationf("app_id", "must not be empty")
	}
	if req.FieldKey == "" {
		return nil, domain.Validationf("field_key", "must not be empty")
	}
	if req.RaisedBy == "" {
		return nil, domain.Validationf("raised_by", "must not be empty")
	}
	if req.Priority == "" {
		req.Priority = domain.PriorityLow
	}
	derivedFrom := req.DerivedFrom
	if derivedFrom == "" {
		derivedFrom = "unknown"
	}

	score := scoring.Score(req.Priority, domain.EvidenceMissing)
	var out *domain.RiskItem
	err := s.store.InTx(ctx, func(ctx context.Context, tx ports.Store) error {
		dr, err := s.agg.GetOrCreate(ctx, tx, req.AppID, derivedFrom)
		if err != nil {
			return err
		}
		if _, err := tx.GetDomainRiskForUpdate(ctx, dr.ID); err != nil {
			return err
		}
		item := &domain.RiskItem{
			ID:             uuid.NewString(),
			AppID:          req.AppID,
			FieldKey:       req.FieldKey,
			ProfileFieldID: req.ProfileFieldID,
			Title:          req.Title,
			Description:    req.Description,
			Priority:       req.Priority,
			EvidenceStatus: domain.EvidenceMissing,
			PriorityScore:  score,
			Severity:       scoring.SeverityLabel(score),
			Status:         domain.InitialRiskItemStatus,
			CreationType:   domain.CreationManual,
			RaisedBy:       req.RaisedBy,
			OpenedAt:       s.now(),
		}
		if item.Title == "" {
			item.Title = req.FieldKey + " gap on " + req.AppID
		}
		if err := s.agg.AddItem(ctx, tx, dr, item); err != nil {
			return err
		}
		if err := s.ledger.LogCreation(ctx, tx, item, "manually raised by "+req.RaisedBy); err != nil {
			return err
		}
		out = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("risk item manually raised",
		"risk_item_id", out.ID, "app_id", req.AppID, "field_key", req.FieldKey)
	return out, nil
}
