// Package memory is an in-process implementation of ports.Store. It backs
// the service tests and local runs without a database. One mutex plays the
// role Postgres row locks play in the pgx adapter: InTx holds it for the
// whole transaction, so aggregate recomputes never interleave.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"arbiter/internal/domain"
	"arbiter/internal/ports"
)

type core struct {
	items       map[string]*domain.RiskItem
	domainRisks map[string]*domain.DomainRisk
	statusHist  []*domain.StatusHistoryEntry
	assignHist  []*domain.AssignmentHistoryEntry
}

// snapshot captures the core for rollback. Entries are never mutated in
// place (every write stores a fresh copy), so cloning the containers is
// enough to restore the pre-transaction state.
func (c *core) snapshot() core {
	items := make(map[string]*domain.RiskItem, len(c.items))
	for k, v := range c.items {
		items[k] = v
	}
	drs := make(map[string]*domain.DomainRisk, len(c.domainRisks))
	for k, v := range c.domainRisks {
		drs[k] = v
	}
	return core{
		items:       items,
		domainRisks: drs,
		statusHist:  c.statusHist[:len(c.statusHist):len(c.statusHist)],
		assignHist:  c.assignHist[:len(c.assignHist):len(c.assignHist)],
	}
}

// Store is the root handle. Individual calls lock per operation; InTx locks
// for the span of the callback and restores the pre-transaction snapshot
// when the callback fails, matching the all-or-nothing behavior of the pgx
// adapter.
type Store struct {
	mu sync.Mutex
	c  core
}

func New() *Store {
	return &Store{c: core{
		items:       map[string]*domain.RiskItem{},
		domainRisks: map[string]*domain.DomainRisk{},
	}}
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx ports.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.c.snapshot()
	if err := fn(ctx, &txStore{c: &s.c}); err != nil {
		s.c = snap
		return err
	}
	return nil
}

// txStore is the transaction-bound view. It shares the core and never locks;
// the root Store's mutex is already held.
type txStore struct {
	c *core
}

func (t *txStore) InTx(ctx context.Context, fn func(ctx context.Context, tx ports.Store) error) error {
	// Already inside a transaction.
	return fn(ctx, t)
}

func (s *Store) withLock(fn func(c *core) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&s.c)
}

// Root-store methods delegate under the lock.

func (s *Store) InsertRiskItem(ctx context.Context, item *domain.RiskItem) error {
	return s.withLock(func(c *core) error { return c.insertRiskItem(item) })
}

func (s *Store) GetRiskItem(ctx context.Context, id string) (*domain.RiskItem, error) {
	var out *domain.RiskItem
	err := s.withLock(func(c *core) error { var e error; out, e = c.getRiskItem(id); return e })
	return out, err
}

func (s *Store) GetRiskItemForUpdate(ctx context.Context, id string) (*domain.RiskItem, error) {
	return s.GetRiskItem(ctx, id)
}

func (s *Store) GetRiskItemByTriple(ctx context.Context, appID, fieldKey, evidenceID string) (*domain.RiskItem, error) {
	var out *domain.RiskItem
	err := s.withLock(func(c *core) error {
		var e error
		out, e = c.getRiskItemByTriple(appID, fieldKey, evidenceID)
		return e
	})
	return out, err
}

func (s *Store) UpdateRiskItem(ctx context.Context, item *domain.RiskItem) error {
	return s.withLock(func(c *core) error { return c.updateRiskItem(item) })
}

func (s *Store) ListRiskItemsByDomainRisk(ctx context.Context, domainRiskID string) ([]*domain.RiskItem, error) {
	var out []*domain.RiskItem
	err := s.withLock(func(c *core) error { out = c.listRiskItemsByDomainRisk(domainRiskID); return nil })
	return out, err
}

func (s *Store) ListRiskItemsByApp(ctx context.Context, appID string, f ports.RiskItemFilter) ([]*domain.RiskItem, error) {
	var out []*domain.RiskItem
	err := s.withLock(func(c *core) error { out = c.listRiskItemsByApp(appID, f); return nil })
	return out, err
}

func (s *Store) InsertDomainRisk(ctx context.Context, dr *domain.DomainRisk) error {
	return s.withLock(func(c *core) error { return c.insertDomainRisk(dr) })
}

func (s *Store) GetDomainRisk(ctx context.Context, id string) (*domain.DomainRisk, error) {
	var out *domain.DomainRisk
	err := s.withLock(func(c *core) error { var e error; out, e = c.getDomainRisk(id); return e })
	return out, err
}

func (s *Store) GetDomainRiskForUpdate(ctx context.Context, id string) (*domain.DomainRisk, error) {
	return s.GetDomainRisk(ctx, id)
}

func (s *Store) GetDomainRiskByAppDomain(ctx context.Context, appID, riskDomain string) (*domain.DomainRisk, error) {
	var out *domain.DomainRisk
	err := s.withLock(func(c *core) error {
		var e error
		out, e = c.getDomainRiskByAppDomain(appID, riskDomain)
		return e
	})
	return out, err
}

func (s *Store) UpdateDomainRisk(ctx context.Context, dr *domain.DomainRisk) error {
	return s.withLock(func(c *core) error { return c.updateDomainRisk(dr) })
}

func (s *Store) ListDomainRisksByApp(ctx context.Context, appID string) ([]*domain.DomainRisk, error) {
	var out []*domain.DomainRisk
	err := s.withLock(func(c *core) error { out = c.listDomainRisksByApp(appID); return nil })
	return out, err
}

func (s *Store) AppendStatusHistory(ctx context.Context, e *domain.StatusHistoryEntry) error {
	return s.withLock(func(c *core) error { return c.appendStatusHistory(e) })
}

func (s *Store) ListStatusHistory(ctx context.Context, riskItemID string) ([]*domain.StatusHistoryEntry, error) {
	return s.ListStatusHistorySince(ctx, riskItemID, time.Time{})
}

func (s *Store) ListStatusHistorySince(ctx context.Context, riskItemID string, since time.Time) ([]*domain.StatusHistoryEntry, error) {
	var out []*domain.StatusHistoryEntry
	err := s.withLock(func(c *core) error { out = c.listStatusHistory(riskItemID, since); return nil })
	return out, err
}

func (s *Store) AppendAssignmentHistory(ctx context.Context, e *domain.AssignmentHistoryEntry) error {
	return s.withLock(func(c *core) error { return c.appendAssignmentHistory(e) })
}

func (s *Store) ListAssignmentHistory(ctx context.Context, riskItemID string) ([]*domain.AssignmentHistoryEntry, error) {
	var out []*domain.AssignmentHistoryEntry
	err := s.withLock(func(c *core) error { out = c.listAssignmentHistory(riskItemID); return nil })
	return out, err
}

// Transaction-view methods: same core operations, no locking.

func (t *txStore) InsertRiskItem(ctx context.Context, item *domain.RiskItem) error {
	return t.c.insertRiskItem(item)
}

func (t *txStore) GetRiskItem(ctx context.Context, id string) (*domain.RiskItem, error) {
	return t.c.getRiskItem(id)
}

func (t *txStore) GetRiskItemForUpdate(ctx context.Context, id string) (*domain.RiskItem, error) {
	return t.c.getRiskItem(id)
}

func (t *txStore) GetRiskItemByTriple(ctx context.Context, appID, fieldKey, evidenceID string) (*domain.RiskItem, error) {
	return t.c.getRiskItemByTriple(appID, fieldKey, evidenceID)
}

func (t *txStore) UpdateRiskItem(ctx context.Context, item *domain.RiskItem) error {
	return t.c.updateRiskItem(item)
}

func (t *txStore) ListRiskItemsByDomainRisk(ctx context.Context, domainRiskID string) ([]*domain.RiskItem, error) {
	return t.c.listRiskItemsByDomainRisk(domainRiskID), nil
}

func (t *txStore) ListRiskItemsByApp(ctx context.Context, appID string, f ports.RiskItemFilter) ([]*domain.RiskItem, error) {
	return t.c.listRiskItemsByApp(appID, f), nil
}

func (t *txStore) InsertDomainRisk(ctx context.Context, dr *domain.DomainRisk) error {
	return t.c.insertDomainRisk(dr)
}

func (t *txStore) GetDomainRisk(ctx context.Context, id string) (*domain.DomainRisk, error) {
	return t.c.getDomainRisk(id)
}

func (t *txStore) GetDomainRiskForUpdate(ctx context.Context, id string) (*domain.DomainRisk, error) {
	return t.c.getDomainRisk(id)
}

func (t *txStore) GetDomainRiskByAppDomain(ctx context.Context, appID, riskDomain string) (*domain.DomainRisk, error) {
	return t.c.getDomainRiskByAppDomain(appID, riskDomain)
}

func (t *txStore) UpdateDomainRisk(ctx context.Context, dr *domain.DomainRisk) error {
	return t.c.updateDomainRisk(dr)
}

func (t *txStore) ListDomainRisksByApp(ctx context.Context, appID string) ([]*domain.DomainRisk, error) {
	return t.c.listDomainRisksByApp(appID), nil
}

func (t *txStore) AppendStatusHistory(ctx context.Context, e *domain.StatusHistoryEntry) error {
	return t.c.appendStatusHistory(e)
}

func (t *txStore) ListStatusHistory(ctx context.Context, riskItemID string) ([]*domain.StatusHistoryEntry, error) {
	return t.c.listStatusHistory(riskItemID, time.Time{}), nil
}

func (t *txStore) ListStatusHistorySince(ctx context.Context, riskItemID string, since time.Time) ([]*domain.StatusHistoryEntry, error) {
	return t.c.listStatusHistory(riskItemID, since), nil
}

func (t *txStore) AppendAssignmentHistory(ctx context.Context, e *domain.AssignmentHistoryEntry) error {
	return t.c.appendAssignmentHistory(e)
}

func (t *txStore) ListAssignmentHistory(ctx context.Context, riskItemID string) ([]*domain.AssignmentHistoryEntry, error) {
	return t.c.listAssignmentHistory(riskItemID), nil
}

// Core operations. Values are copied on the way in and out so callers only
// see state they wrote back through an update, same as scanning rows.

func (c *core) insertRiskItem(item *domain.RiskItem) error {
	if item.TriggeringEvidenceID != nil {
		for _, existing := range c.items {
			if existing.AppID == item.AppID &&
				existing.FieldKey == item.FieldKey &&
				existing.TriggeringEvidenceID != nil &&
				*existing.TriggeringEvidenceID == *item.TriggeringEvidenceID {
				return domain.ErrDuplicateItem
			}
		}
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	cp := *item
	c.items[cp.ID] = &cp
	return nil
}

func (c *core) getRiskItem(id string) (*domain.RiskItem, error) {
	item, ok := c.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *item
	return &cp, nil
}

func (c *core) getRiskItemByTriple(appID, fieldKey, evidenceID string) (*domain.RiskItem, error) {
	for _, item := range c.items {
		if item.AppID == appID && item.FieldKey == fieldKey &&
			item.TriggeringEvidenceID != nil && *item.TriggeringEvidenceID == evidenceID {
			cp := *item
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (c *core) updateRiskItem(item *domain.RiskItem) error {
	if _, ok := c.items[item.ID]; !ok {
		return domain.ErrNotFound
	}
	cp := *item
	c.items[cp.ID] = &cp
	return nil
}

func (c *core) listRiskItemsByDomainRisk(domainRiskID string) []*domain.RiskItem {
	var out []*domain.RiskItem
	for _, item := range c.items {
		if item.DomainRiskID == domainRiskID {
			cp := *item
			out = append(out, &cp)
		}
	}
	sortByOpenedAt(out)
	return out
}

func (c *core) listRiskItemsByApp(appID string, f ports.RiskItemFilter) []*domain.RiskItem {
	var out []*domain.RiskItem
	for _, item := range c.items {
		if item.AppID != appID {
			continue
		}
		if f.FieldKey != "" && item.FieldKey != f.FieldKey {
			continue
		}
		if f.EvidenceID != "" &&
			(item.TriggeringEvidenceID == nil || *item.TriggeringEvidenceID != f.EvidenceID) {
			continue
		}
		if f.Domain != "" {
			dr, ok := c.domainRisks[item.DomainRiskID]
			if !ok || dr.Domain != f.Domain {
				continue
			}
		}
		cp := *item
		out = append(out, &cp)
	}
	sortByOpenedAt(out)
	return out
}

func sortByOpenedAt(items []*domain.RiskItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].OpenedAt.Equal(items[j].OpenedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].OpenedAt.Before(items[j].OpenedAt)
	})
}

func (c *core) insertDomainRisk(dr *domain.DomainRisk) error {
	for _, existing := range c.domainRisks {
		if existing.AppID == dr.AppID && existing.Domain == dr.Domain {
			return domain.ErrDuplicateItem
		}
	}
	if dr.ID == "" {
		dr.ID = uuid.NewString()
	}
	cp := *dr
	c.domainRisks[cp.ID] = &cp
	return nil
}

func (c *core) getDomainRisk(id string) (*domain.DomainRisk, error) {
	dr, ok := c.domainRisks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *dr
	return &cp, nil
}

func (c *core) getDomainRiskByAppDomain(appID, riskDomain string) (*domain.DomainRisk, error) {
	for _, dr := range c.domainRisks {
		if dr.AppID == appID && dr.Domain == riskDomain {
			cp := *dr
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (c *core) updateDomainRisk(dr *domain.DomainRisk) error {
	if _, ok := c.domainRisks[dr.ID]; !ok {
		return domain.ErrNotFound
	}
	cp := *dr
	c.domainRisks[cp.ID] = &cp
	return nil
}

func (c *core) listDomainRisksByApp(appID string) []*domain.DomainRisk {
	var out []*domain.DomainRisk
	for _, dr := range c.domainRisks {
		if dr.AppID == appID {
			cp := *dr
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out
}

func (c *core) appendStatusHistory(e *domain.StatusHistoryEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	cp := *e
	c.statusHist = append(c.statusHist, &cp)
	return nil
}

func (c *core) listStatusHistory(riskItemID string, since time.Time) []*domain.StatusHistoryEntry {
	var out []*domain.StatusHistoryEntry
	for _, e := range c.statusHist {
		if e.RiskItemID != riskItemID {
			continue
		}
		if !since.IsZero() && e.ChangedAt.Before(since) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out
}

func (c *core) appendAssignmentHistory(e *domain.AssignmentHistoryEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	cp := *e
	c.assignHist = append(c.assignHist, &cp)
	return nil
}

func (c *core) listAssignmentHistory(riskItemID string) []*domain.AssignmentHistoryEntry {
	var out []*domain.AssignmentHistoryEntry
	for _, e := range c.assignHist {
		if e.RiskItemID == riskItemID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}
