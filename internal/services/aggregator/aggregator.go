// Package aggregator owns domain-risk records: lazy creation per
// (application, domain) pair and the recalculation that keeps aggregate
// counters a pure function of the current item set.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"arbiter/internal/domain"
	"arbiter/internal/ports"
	"arbiter/internal/routing"
	"arbiter/internal/scoring"
)

// Service mutates domain risks. Methods take the store explicitly; callers
// that need atomicity across several steps pass their transaction-bound
// store, the HTTP layer uses the wrappers at the bottom.
type Service struct {
	resolver *routing.Resolver
	log      *slog.Logger
	now      func() time.Time
}

func New(resolver *routing.Resolver, log *slog.Logger) *Service {
	return &Service{resolver: resolver, log: log, now: time.Now}
}

// NewWithClock pins timestamps for tests.
func NewWithClock(resolver *routing.Resolver, log *slog.Logger, now func() time.Time) *Service {
	return &Service{resolver: resolver, log: log, now: now}
}

// GetOrCreate returns the aggregate for the application and the domain
// derived from the raw dimension, creating it on first use.
func (s *Service) GetOrCreate(ctx context.Context, store ports.Store, appID, derivedFrom string) (*domain.DomainRisk, error) {
	riskDomain := routing.DomainFor(derivedFrom)

	dr, err := store.GetDomainRiskByAppDomain(ctx, appID, riskDomain)
	if err == nil {
		return dr, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("lookup domain risk: %w", err)
	}

	now := s.now()
	arb := s.resolver.ArbFor(ctx, derivedFrom)
	dr = &domain.DomainRisk{
		ID:          uuid.NewString(),
		AppID:       appID,
		Domain:      riskDomain,
		DerivedFrom: derivedFrom,
		AssignedArb: arb,
		Status:      domain.DomainPendingArbReview,
		OpenedAt:    now,
		AssignedAt:  now,
		Title:       fmt.Sprintf("%s risks for %s", riskDomain, appID),
		Description: fmt.Sprintf("Aggregated %s compliance risks for application %s, owned by %s", riskDomain, appID, arb),
	}
	if err := store.InsertDomainRisk(ctx, dr); err != nil {
		// A concurrent creator can win the (appID, domain) unique constraint;
		// their row is as good as ours.
		if errors.Is(err, domain.ErrDuplicateItem) {
			return store.GetDomainRiskByAppDomain(ctx, appID, riskDomain)
		}
		return nil, fmt.Errorf("create domain risk: %w", err)
	}
	s.log.Info("domain risk created",
		"app_id", appID, "domain", riskDomain, "arb", arb)
	return dr, nil
}

// AddItem attaches a new item to the aggregate, persists it and recomputes.
func (s *Service) AddItem(ctx context.Context, store ports.Store, dr *domain.DomainRisk, item *domain.RiskItem) error {
	item.DomainRiskID = dr.ID
	if err := store.InsertRiskItem(ctx, item); err != nil {
		return err
	}
	now := s.now()
	dr.LastItemAddedAt = &now
	return s.Recalculate(ctx, store, dr)
}

// Recalculate recomputes every derived field on the aggregate from the live
// item set and persists the result. It is a pure function of that snapshot:
// running it twice without item changes is a no-op the second time. Callers
// must hold the aggregate's row lock (GetDomainRiskForUpdate) when running
// concurrently.
func (s *Service) Recalculate(ctx context.Context, store ports.Store, dr *domain.DomainRisk) error {
	items, err := store.ListRiskItemsByDomainRisk(ctx, dr.ID)
	if err != nil {
		return fmt.Errorf("load items for recalculate: %w", err)
	}

	total := len(items)
	open, highPriority, maxScore := 0, 0, 0
	for _, item := range items {
		if !item.IsOpen() {
			continue
		}
		open++
		if item.Priority.IsElevated() {
			highPriority++
		}
		if item.PriorityScore > maxScore {
			maxScore = item.PriorityScore
		}
	}

	dr.TotalItems = total
	dr.OpenItems = open
	dr.HighPriorityItems = highPriority
	dr.PriorityScore = scoring.DomainScore(maxScore, highPriority, open)
	dr.OverallPriority = scoring.PriorityForScore(dr.PriorityScore)
	dr.OverallSeverity = scoring.SeverityLabel(dr.PriorityScore)

	switch {
	case open == 0 && total > 0 && !dr.Status.IsTerminal():
		dr.Status = domain.DomainResolved
		now := s.now()
		dr.ClosedAt = &now
		s.log.Info("domain risk resolved", "domain_risk_id", dr.ID, "app_id", dr.AppID)
	case open > 0 && dr.Status == domain.DomainResolved:
		dr.Status = domain.DomainInProgress
		dr.ClosedAt = nil
		s.log.Info("domain risk reopened", "domain_risk_id", dr.ID, "app_id", dr.AppID)
	}

	if err := store.UpdateDomainRisk(ctx, dr); err != nil {
		return fmt.Errorf("persist recalculated domain risk: %w", err)
	}
	return nil
}

// RecalculateByID is the transactional entry point for external callers: it
// locks the aggregate, recomputes and commits.
func (s *Service) RecalculateByID(ctx context.Context, store ports.Store, domainRiskID string) (*domain.DomainRisk, error) {
	var out *domain.DomainRisk
	err := store.InTx(ctx, func(ctx context.Context, tx ports.Store) error {
		dr, err := tx.GetDomainRiskForUpdate(ctx, domainRiskID)
		if err != nil {
			return err
		}
		if err := s.Recalculate(ctx, tx, dr); err != nil {
			return err
		}
		out = dr
		return nil
	})
	return out, err
}

// ReassignArb moves ownership of the aggregate to another review board.
// Status is untouched: board ownership and remediation progress are
// independent.
func (s *Service) ReassignArb(ctx context.Context, store ports.Store, domainRiskID, arb string) (*domain.DomainRisk, error) {
	if arb == "" {
		return nil, domain.Validationf("arb", "must not be empty")
	}
	var out *domain.DomainRisk
	err := store.InTx(ctx, func(ctx context.Context, tx ports.Store) error {
		dr, err := tx.GetDomainRiskForUpdate(ctx, domainRiskID)
		if err != nil {
			return err
		}
		dr.AssignedArb = arb
		dr.AssignedAt = s.now()
		if err := tx.UpdateDomainRisk(ctx, dr); err != nil {
			return err
		}
		out = dr
		return nil
	})
	return out, err
}
