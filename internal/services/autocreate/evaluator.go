// Package autocreate decides whether an evidence event must raise a risk
// item, deduplicates against existing items and drives the aggregator.
package autocreate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"arbiter/internal/domain"
	"arbiter/internal/ports"
	"arbiter/internal/scoring"
	"arbiter/internal/services/aggregator"
	"arbiter/internal/services/ledger"
)

// Result is the structured outcome of one evaluation. A false Created with a
// Reason is a legitimate no-op, not a failure.
type Result struct {
	Created     bool   `json:"created"`
	RiskItemID  string `json:"risk_item_id,omitempty"`
	AssignedArb string `json:"assigned_arb,omitempty"`
	Reason      string `json:"reason"`
}

// Evaluator runs the auto-creation pipeline.
type Evaluator struct {
	store    ports.Store
	registry ports.Registry
	evidence ports.Evidence
	profile  ports.Profile
	apps     ports.Application
	agg      *aggregator.Service
	ledger   *ledger.Ledger
	log      *slog.Logger
	now      func() time.Time
}

func New(store ports.Store, reg ports.Registry, ev ports.Evidence, prof ports.Profile, apps ports.Application, agg *aggregator.Service, led *ledger.Ledger, log *slog.Logger) *Evaluator {
	return &Evaluator{
		store: store, registry: reg, evidence: ev, profile: prof, apps: apps,
		agg: agg, ledger: led, log: log, now: time.Now,
	}
}

// Evaluate runs the whole pipeline for one evidence/field/app triple. The
// mutation phase (dedup check through history append) runs in a single
// transaction; the storage layer's unique constraint on the triple breaks
// any remaining check-then-act race, with the loser folded into the
// "already exists" outcome.
func (e *Evaluator) Evaluate(ctx context.Context, evidenceID, profileFieldID, appID string) (Result, error) {
	// Collaborator lookups. Failures here abort before anything persists.
	fieldKey, err := e.profile.FieldKeyFor(ctx, profileFieldID)
	if err != nil {
		e.log.Error("profile field lookup failed",
			"profile_field_id", profileFieldID, "app_id", appID, "error", err)
		return Result{}, err
	}
	derivedFrom, err := e.profile.DerivedFromFor(ctx, fieldKey)
	if err != nil {
		e.log.Error("dimension lookup failed", "field_key", fieldKey, "error", err)
		return Result{}, err
	}
	rating, err := e.apps.RatingFor(ctx, appID, derivedFrom)
	if err != nil {
		return Result{}, fmt.Errorf("resolve rating: %w", err)
	}

	decision, err := e.registry.RuleFor(ctx, fieldKey, appID, rating)
	if err != nil {
		e.log.Error("registry rule lookup failed",
			"field_key", fieldKey, "app_id", appID, "rating", rating, "error", err)
		return Result{}, err
	}
	if !decision.ShouldCreate {
		return Result{Created: false, Reason: decision.Reason}, nil
	}

	evidenceStatus, err := e.evidenceCategory(ctx, evidenceID, profileFieldID)
	if err != nil {
		return Result{}, fmt.Errorf("resolve evidence link: %w", err)
	}
	score := scoring.Score(decision.Priority, evidenceStatus)
	severity := scoring.SeverityLabel(score)
	snapshot := e.registry.ComplianceSnapshot(ctx, fieldKey, rating)

	var res Result
	err = e.store.InTx(ctx, func(ctx context.Context, tx ports.Store) error {
		if existing, err := tx.GetRiskItemByTriple(ctx, appID, fieldKey, evidenceID); err == nil {
			res = Result{Created: false, RiskItemID: existing.ID, Reason: "risk item already exists"}
			return nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("dedup lookup: %w", err)
		}

		dr, err := e.agg.GetOrCreate(ctx, tx, appID, derivedFrom)
		if err != nil {
			return err
		}
		if _, err := tx.GetDomainRiskForUpdate(ctx, dr.ID); err != nil {
			return err
		}

		evID := evidenceID
		item := &domain.RiskItem{
			ID:                        uuid.NewString(),
			AppID:                     appID,
			FieldKey:                  fieldKey,
			ProfileFieldID:            profileFieldID,
			TriggeringEvidenceID:      &evID,
			Title:                     fmt.Sprintf("%s gap on %s", fieldKey, appID),
			Description:               fmt.Sprintf("Evidence for %s is %s; rating %s requires review", fieldKey, evidenceStatus, rating),
			Priority:                  decision.Priority,
			EvidenceStatus:            evidenceStatus,
			PriorityScore:             score,
			Severity:                  severity,
			Status:                    domain.InitialRiskItemStatus,
			CreationType:              domain.CreationSystemAuto,
			RaisedBy:                  domain.SystemActor,
			OpenedAt:                  e.now(),
			PolicyRequirementSnapshot: snapshot,
		}

		if err := e.agg.AddItem(ctx, tx, dr, item); err != nil {
			if errors.Is(err, domain.ErrDuplicateItem) {
				// Lost the insert race. Same outcome as the dedup check.
				res = Result{Created: false, Reason: "risk item already exists"}
				return nil
			}
			return err
		}

		trigger := fmt.Sprintf("auto-created: evidence %s is %s for field %s", evidenceID, evidenceStatus, fieldKey)
		if err := e.ledger.LogCreation(ctx, tx, item, trigger); err != nil {
			return err
		}

		res = Result{
			Created:     true,
			RiskItemID:  item.ID,
			AssignedArb: dr.AssignedArb,
			Reason:      decision.Reason,
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if res.Created {
		e.log.Info("risk item auto-created",
			"risk_item_id", res.RiskItemID, "app_id", appID,
			"field_key", fieldKey, "evidence_status", evidenceStatus, "score", score)
	}
	return res, nil
}

// evidenceCategory maps the raw evidence-link state onto the scorer's
// normalized categories. No link at all means the evidence is missing.
func (e *Evaluator) evidenceCategory(ctx context.Context, evidenceID, profileFieldID string) (string, error) {
	status, found, err := e.evidence.LinkStatusFor(ctx, evidenceID, profileFieldID)
	if err != nil {
		return "", err
	}
	if !found {
		return domain.EvidenceMissing, nil
	}
	switch status {
	case ports.LinkApproved:
		return domain.EvidenceApproved, nil
	case ports.LinkRejected:
		return domain.EvidenceFailed, nil
	case ports.LinkUserAttested, ports.LinkAttached:
		return domain.EvidencePending, nil
	case ports.LinkPendingPOReview, ports.LinkPendingSMEReview, ports.LinkPendingReview:
		return domain.EvidenceUnderReview, nil
	default:
		return domain.EvidenceMissing, nil
	}
}
