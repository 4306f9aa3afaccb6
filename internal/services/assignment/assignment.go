// Package assignment implements the self-assign / assign / unassign workflow
// for risk items, including the status side effects assignment carries.
package assignment

import (
	"context"
	"log/slog"
	"time"

	"arbiter/internal/domain"
	"arbiter/internal/ports"
	"arbiter/internal/services/aggregator"
	"arbiter/internal/services/ledger"
)

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

// SelfAssign lets an actor claim an unassigned item. Claiming an item you
// already hold is a no-op; claiming one held by someone else is a conflict.
func (s *Service) SelfAssign(ctx context.Context, riskItemID, actor string) (*domain.RiskItem, error) {
	if actor == "" {
		return nil, domain.Validationf("actor", "must not be empty")
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
		if item.AssignedTo != nil && *item.AssignedTo != actor {
			return domain.ErrAssignmentConflict
		}
		if item.AssignedTo != nil && *item.AssignedTo == actor {
			// Idempotent re-claim.
			out = item
			return nil
		}
		if err := s.apply(ctx, tx, item, actor, actor, domain.AssignSelf, ""); err != nil {
			return err
		}
		out = item
		return nil
	})
	return out, err
}

// AssignToUser reassigns unconditionally. This is the escape hatch for
// moving work between reviewers, so there is no collision check.
func (s *Service) AssignToUser(ctx context.Context, riskItemID, targetUser, reason, actor string) (*domain.RiskItem, error) {
	if targetUser == "" {
		return nil, domain.Validationf("assignee", "must not be empty")
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
		if err := s.apply(ctx, tx, item, targetUser, actor, domain.AssignManual, reason); err != nil {
			return err
		}
		out = item
		return nil
	})
	return out, err
}

// Unassign releases the item. Fails when nobody holds it.
func (s *Service) Unassign(ctx context.Context, riskItemID, actor, reason string) (*domain.RiskItem, error) {
	var out *domain.RiskItem
	err := s.store.InTx(ctx, func(ctx context.Context, tx ports.Store) error {
		item, err := tx.GetRiskItemForUpdate(ctx, riskItemID)
		if err != nil {
			return err
		}
		if item.Status.IsTerminal() {
			return domain.ErrInvalidState
		}
		if item.AssignedTo == nil {
			return domain.ErrInvalidState
		}
		prev := item.AssignedTo
		item.AssignedTo = nil
		item.AssignedBy = nil
		item.AssignedAt = nil

		if item.Status == domain.StatusUnderSMEReview {
			if err := s.transition(ctx, tx, item, domain.StatusPendingReview, actor, "UNASSIGNED", reason); err != nil {
				return err
			}
		}
		if err := tx.UpdateRiskItem(ctx, item); err != nil {
			return err
		}
		if err := s.ledger.LogAssignment(ctx, tx, item.ID, domain.AssignNone, prev, nil, actor, reason); err != nil {
			return err
		}
		out = item
		return nil
	})
	if err == nil {
		s.log.Info("risk item unassigned", "risk_item_id", riskItemID, "actor", actor)
	}
	return out, err
}

// apply sets the assignment fields, fires the PENDING_REVIEW ->
// UNDER_SME_REVIEW side effect, persists and records history.
func (s *Service) apply(ctx context.Context, tx ports.Store, item *domain.RiskItem, assignee, actor string, typ domain.AssignmentType, reason string) error {
	prev := item.AssignedTo
	now := s.now()
	item.AssignedTo = &assignee
	item.AssignedBy = &actor
	item.AssignedAt = &now

	if item.Status == domain.StatusPendingReview {
		if err := s.transition(ctx, tx, item, domain.StatusUnderSMEReview, actor, "ASSIGNED", reason); err != nil {
			return err
		}
	}
	if err := tx.UpdateRiskItem(ctx, item); err != nil {
		return err
	}
	return s.ledger.LogAssignment(ctx, tx, item.ID, typ, prev, &assignee, actor, reason)
}

// transition moves the item and keeps the aggregate's materialized counters
// honest: any status change triggers a recompute of the owning domain risk.
func (s *Service) transition(ctx context.Context, tx ports.Store, item *domain.RiskItem, to domain.RiskItemStatus, actor, resolution, comment string) error {
	from := item.Status
	if !from.CanTransition(to) {
		return domain.ErrInvalidState
	}
	item.Status = to
	if err := s.ledger.LogTransition(ctx, tx, item.ID, ledger.Transition{
		From: from, To: to,
		Resolution: resolution, ResolutionComment: comment,
		ChangedBy: actor, ActorRole: domain.RoleSME,
	}); err != nil {
		return err
	}
	dr, err := tx.GetDomainRiskForUpdate(ctx, item.DomainRiskID)
	if err != nil {
		return err
	}
	// The item must be visible to the recompute.
	if err := tx.UpdateRiskItem(ctx, item); err != nil {
		return err
	}
	return s.agg.Recalculate(ctx, tx, dr)
}
