package ports

import (
	"context"
	"time"

	"arbiter/internal/domain"
)

// RiskItemFilter narrows risk item listings. Zero values mean "any".
type RiskItemFilter struct {
	Domain     string
	FieldKey   string
	EvidenceID string
}

// Store is the persistence boundary for the engine. Implementations must
// guarantee two things the services rely on:
//
//   - InsertRiskItem returns domain.ErrDuplicateItem when another item
//     already holds the same (appID, fieldKey, triggeringEvidenceID) triple,
//     enforced by the storage layer itself so two concurrent evaluations
//     cannot both win.
//   - GetDomainRiskForUpdate serializes callers on the same aggregate for
//     the remainder of the transaction, so recalculate never interleaves.
type Store interface {
	// InTx runs fn in one transaction. The Store handed to fn is bound to
	// that transaction; the transaction commits when fn returns nil and
	// rolls back otherwise. Every mutating engine operation runs inside one.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	// Risk items.
	InsertRiskItem(ctx context.Context, item *domain.RiskItem) error
	GetRiskItem(ctx context.Context, id string) (*domain.RiskItem, error)
	GetRiskItemForUpdate(ctx context.Context, id string) (*domain.RiskItem, error)
	GetRiskItemByTriple(ctx context.Context, appID, fieldKey, evidenceID string) (*domain.RiskItem, error)
	UpdateRiskItem(ctx context.Context, item *domain.RiskItem) error
	ListRiskItemsByDomainRisk(ctx context.Context, domainRiskID string) ([]*domain.RiskItem, error)
	ListRiskItemsByApp(ctx context.Context, appID string, filter RiskItemFilter) ([]*domain.RiskItem, error)

	// Domain risks.
	InsertDomainRisk(ctx context.Context, dr *domain.DomainRisk) error
	GetDomainRisk(ctx context.Context, id string) (*domain.DomainRisk, error)
	GetDomainRiskForUpdate(ctx context.Context, id string) (*domain.DomainRisk, error)
	GetDomainRiskByAppDomain(ctx context.Context, appID, riskDomain string) (*domain.DomainRisk, error)
	UpdateDomainRisk(ctx context.Context, dr *domain.DomainRisk) error
	ListDomainRisksByApp(ctx context.Context, appID string) ([]*domain.DomainRisk, error)

	// Audit trail. Append-only: there are deliberately no update or delete
	// methods for history entries.
	AppendStatusHistory(ctx context.Context, e *domain.StatusHistoryEntry) error
	ListStatusHistory(ctx context.Context, riskItemID string) ([]*domain.StatusHistoryEntry, error)
	ListStatusHistorySince(ctx context.Context, riskItemID string, since time.Time) ([]*domain.StatusHistoryEntry, error)
	AppendAssignmentHistory(ctx context.Context, e *domain.AssignmentHistoryEntry) error
	ListAssignmentHistory(ctx context.Context, riskItemID string) ([]*domain.AssignmentHistoryEntry, error)
}
