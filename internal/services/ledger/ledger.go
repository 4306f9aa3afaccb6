// Package ledger appends the audit trail. Every status or assignment change
// in the engine goes through here; nothing ever updates or deletes an entry.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"arbiter/internal/domain"
	"arbiter/internal/ports"
)

// Ledger builds and appends history entries. Methods take the store
// explicitly so they join whatever transaction the caller is running.
type Ledger struct {
	now func() time.Time
}

func New() *Ledger {
	return &Ledger{now: time.Now}
}

// NewWithClock is for tests that pin timestamps.
func NewWithClock(now func() time.Time) *Ledger {
	return &Ledger{now: now}
}

// LogCreation appends the initial entry for a freshly created item.
// FromStatus stays nil to mark it as the birth record.
func (l *Ledger) LogCreation(ctx context.Context, s ports.Store, item *domain.RiskItem, trigger string) error {
	e := &domain.StatusHistoryEntry{
		ID:                uuid.NewString(),
		RiskItemID:        item.ID,
		ToStatus:          item.Status,
		Resolution:        "CREATED",
		ResolutionComment: trigger,
		ChangedBy:         item.RaisedBy,
		ActorRole:         roleForActor(item.RaisedBy),
		ChangedAt:         l.now(),
	}
	if err := s.AppendStatusHistory(ctx, e); err != nil {
		return fmt.Errorf("append creation entry: %w", err)
	}
	return nil
}

// Transition records one status change.
type Transition struct {
	From              domain.RiskItemStatus
	To                domain.RiskItemStatus
	Resolution        string
	ResolutionComment string
	ChangedBy         string
	ActorRole         domain.ActorRole
	MitigationPlan    *string
	ReassignedTo      *string
	Metadata          map[string]string
}

// LogTransition appends one entry for a completed transition.
func (l *Ledger) LogTransition(ctx context.Context, s ports.Store, riskItemID string, t Transition) error {
	from := t.From
	e := &domain.StatusHistoryEntry{
		ID:                uuid.NewString(),
		RiskItemID:        riskItemID,
		FromStatus:        &from,
		ToStatus:          t.To,
		Resolution:        t.Resolution,
		ResolutionComment: t.ResolutionComment,
		ChangedBy:         t.ChangedBy,
		ActorRole:         t.ActorRole,
		MitigationPlan:    t.MitigationPlan,
		ReassignedTo:      t.ReassignedTo,
		ChangedAt:         l.now(),
		Metadata:          t.Metadata,
	}
	if err := s.AppendStatusHistory(ctx, e); err != nil {
		return fmt.Errorf("append transition entry: %w", err)
	}
	return nil
}

// LogAssignment appends one assignment-history entry.
func (l *Ledger) LogAssignment(ctx context.Context, s ports.Store, riskItemID string, typ domain.AssignmentType, from, to *string, by, reason string) error {
	e := &domain.AssignmentHistoryEntry{
		ID:             uuid.NewString(),
		RiskItemID:     riskItemID,
		AssignedFrom:   from,
		AssignedTo:     to,
		AssignedBy:     by,
		AssignmentType: typ,
		Reason:         reason,
		ChangedAt:      l.now(),
	}
	if err := s.AppendAssignmentHistory(ctx, e); err != nil {
		return fmt.Errorf("append assignment entry: %w", err)
	}
	return nil
}

func roleForActor(actor string) domain.ActorRole {
	if actor == domain.SystemActor {
		return domain.RoleSystem
	}
	return domain.RolePO
}
