package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"arbiter/internal/domain"
	"arbiter/internal/ports"
)

// querier is satisfied by both the pool and a transaction, so every query
// method works inside and outside InTx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements ports.Store on Postgres. Aggregate serialization comes
// from SELECT ... FOR UPDATE on domain_risks; dedup from the partial unique
// index on the evidence triple.
type Store struct {
	q  querier
	db *DB
}

func NewStore(db *DB) *Store {
	return &Store{q: db.Pool, db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx ports.Store) error) (err error) {
	if _, nested := s.q.(pgx.Tx); nested {
		return fn(ctx, s)
	}
	tx, err := s.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()
	return fn(ctx, &Store{q: tx, db: s.db})
}

// Risk items.

const riskItemColumns = `
	id, app_id, domain_risk_id, field_key, profile_field_id,
	triggering_evidence_id, title, description, priority, evidence_status,
	priority_score, severity, status, creation_type, raised_by,
	assigned_to, assigned_by, assigned_at, opened_at,
	resolved_at, resolution, resolution_comment, policy_requirement_snapshot`

func scanRiskItem(row pgx.Row) (*domain.RiskItem, error) {
	var item domain.RiskItem
	err := row.Scan(
		&item.ID, &item.AppID, &item.DomainRiskID, &item.FieldKey, &item.ProfileFieldID,
		&item.TriggeringEvidenceID, &item.Title, &item.Description, &item.Priority, &item.EvidenceStatus,
		&item.PriorityScore, &item.Severity, &item.Status, &item.CreationType, &item.RaisedBy,
		&item.AssignedTo, &item.AssignedBy, &item.AssignedAt, &item.OpenedAt,
		&item.ResolvedAt, &item.Resolution, &item.ResolutionComment, &item.PolicyRequirementSnapshot,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// InsertRiskItem reports a duplicate triple via ON CONFLICT DO NOTHING
// rather than letting the unique index raise 23505: an error inside an open
// transaction aborts the session, and losing the insert race must stay a
// graceful no-op for the caller.
func (s *Store) InsertRiskItem(ctx context.Context, item *domain.RiskItem) error {
	tag, err := s.q.Exec(ctx, `
		INSERT INTO risk_items (
			id, app_id, domain_risk_id, field_key, profile_field_id,
			triggering_evidence_id, title, description, priority, evidence_status,
			priority_score, severity, status, creation_type, raised_by,
			assigned_to, assigned_by, assigned_at, opened_at,
			resolved_at, resolution, resolution_comment, policy_requirement_snapshot
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23
		)
		ON CONFLICT (app_id, field_key, triggering_evidence_id)
			WHERE triggering_evidence_id IS NOT NULL
			DO NOTHING`,
		item.ID, item.AppID, item.DomainRiskID, item.FieldKey, item.ProfileFieldID,
		item.TriggeringEvidenceID, item.Title, item.Description, item.Priority, item.EvidenceStatus,
		item.PriorityScore, item.Severity, item.Status, item.CreationType, item.RaisedBy,
		item.AssignedTo, item.AssignedBy, item.AssignedAt, item.OpenedAt,
		item.ResolvedAt, item.Resolution, item.ResolutionComment, item.PolicyRequirementSnapshot,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDuplicateItem
	}
	return nil
}

func (s *Store) GetRiskItem(ctx context.Context, id string) (*domain.RiskItem, error) {
	return scanRiskItem(s.q.QueryRow(ctx,
		`SELECT `+riskItemColumns+` FROM risk_items WHERE id = $1`, id))
}

func (s *Store) GetRiskItemForUpdate(ctx context.Context, id string) (*domain.RiskItem, error) {
	return scanRiskItem(s.q.QueryRow(ctx,
		`SELECT `+riskItemColumns+` FROM risk_items WHERE id = $1 FOR UPDATE`, id))
}

func (s *Store) GetRiskItemByTriple(ctx context.Context, appID, fieldKey, evidenceID string) (*domain.RiskItem, error) {
	return scanRiskItem(s.q.QueryRow(ctx, `
		SELECT `+riskItemColumns+` FROM risk_items
		WHERE app_id = $1 AND field_key = $2 AND triggering_evidence_id = $3`,
		appID, fieldKey, evidenceID))
}

func (s *Store) UpdateRiskItem(ctx context.Context, item *domain.RiskItem) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE risk_items SET
			status = $2, priority = $3, evidence_status = $4,
			priority_score = $5, severity = $6,
			assigned_to = $7, assigned_by = $8, assigned_at = $9,
			resolved_at = $10, resolution = $11, resolution_comment = $12,
			title = $13, description = $14
		WHERE id = $1`,
		item.ID, item.Status, item.Priority, item.EvidenceStatus,
		item.PriorityScore, item.Severity,
		item.AssignedTo, item.AssignedBy, item.AssignedAt,
		item.ResolvedAt, item.Resolution, item.ResolutionComment,
		item.Title, item.Description,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) listRiskItems(ctx context.Context, query string, args ...any) ([]*domain.RiskItem, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.RiskItem
	for rows.Next() {
		item, err := scanRiskItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *Store) ListRiskItemsByDomainRisk(ctx context.Context, domainRiskID string) ([]*domain.RiskItem, error) {
	return s.listRiskItems(ctx,
		`SELECT `+riskItemColumns+` FROM risk_items WHERE domain_risk_id = $1 ORDER BY opened_at, id`,
		domainRiskID)
}

func (s *Store) ListRiskItemsByApp(ctx context.Context, appID string, f ports.RiskItemFilter) ([]*domain.RiskItem, error) {
	query := `
		SELECT ` + riskItemColumns + ` FROM risk_items r
		WHERE r.app_id = $1
		  AND ($2 = '' OR r.field_key = $2)
		  AND ($3 = '' OR r.triggering_evidence_id = $3)
		  AND ($4 = '' OR r.domain_risk_id IN (
			SELECT id FROM domain_risks WHERE app_id = $1 AND domain = $4))
		ORDER BY r.opened_at, r.id`
	return s.listRiskItems(ctx, query, appID, f.FieldKey, f.EvidenceID, f.Domain)
}

// Domain risks.

const domainRiskColumns = `
	id, app_id, domain, derived_from, assigned_arb, status,
	total_items, open_items, high_priority_items, priority_score,
	overall_priority, overall_severity, opened_at, assigned_at,
	last_item_added_at, closed_at, title, description`

func scanDomainRisk(row pgx.Row) (*domain.DomainRisk, error) {
	var dr domain.DomainRisk
	err := row.Scan(
		&dr.ID, &dr.AppID, &dr.Domain, &dr.DerivedFrom, &dr.AssignedArb, &dr.Status,
		&dr.TotalItems, &dr.OpenItems, &dr.HighPriorityItems, &dr.PriorityScore,
		&dr.OverallPriority, &dr.OverallSeverity, &dr.OpenedAt, &dr.AssignedAt,
		&dr.LastItemAddedAt, &dr.ClosedAt, &dr.Title, &dr.Description,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &dr, nil
}

// InsertDomainRisk loses the (app, domain) creation race without aborting
// the transaction; GetOrCreate re-fetches the winner's row on
// ErrDuplicateItem.
func (s *Store) InsertDomainRisk(ctx context.Context, dr *domain.DomainRisk) error {
	tag, err := s.q.Exec(ctx, `
		INSERT INTO domain_risks (
			id, app_id, domain, derived_from, assigned_arb, status,
			total_items, open_items, high_priority_items, priority_score,
			overall_priority, overall_severity, opened_at, assigned_at,
			last_item_added_at, closed_at, title, description
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		ON CONFLICT (app_id, domain) DO NOTHING`,
		dr.ID, dr.AppID, dr.Domain, dr.DerivedFrom, dr.AssignedArb, dr.Status,
		dr.TotalItems, dr.OpenItems, dr.HighPriorityItems, dr.PriorityScore,
		dr.OverallPriority, dr.OverallSeverity, dr.OpenedAt, dr.AssignedAt,
		dr.LastItemAddedAt, dr.ClosedAt, dr.Title, dr.Description,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDuplicateItem
	}
	return nil
}

func (s *Store) GetDomainRisk(ctx context.Context, id string) (*domain.DomainRisk, error) {
	return scanDomainRisk(s.q.QueryRow(ctx,
		`SELECT `+domainRiskColumns+` FROM domain_risks WHERE id = $1`, id))
}

func (s *Store) GetDomainRiskForUpdate(ctx context.Context, id string) (*domain.DomainRisk, error) {
	return scanDomainRisk(s.q.QueryRow(ctx,
		`SELECT `+domainRiskColumns+` FROM domain_risks WHERE id = $1 FOR UPDATE`, id))
}

func (s *Store) GetDomainRiskByAppDomain(ctx context.Context, appID, riskDomain string) (*domain.DomainRisk, error) {
	return scanDomainRisk(s.q.QueryRow(ctx,
		`SELECT `+domainRiskColumns+` FROM domain_risks WHERE app_id = $1 AND domain = $2`,
		appID, riskDomain))
}

func (s *Store) UpdateDomainRisk(ctx context.Context, dr *domain.DomainRisk) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE domain_risks SET
			assigned_arb = $2, status = $3,
			total_items = $4, open_items = $5, high_priority_items = $6,
			priority_score = $7, overall_priority = $8, overall_severity = $9,
			assigned_at = $10, last_item_added_at = $11, closed_at = $12
		WHERE id = $1`,
		dr.ID, dr.AssignedArb, dr.Status,
		dr.TotalItems, dr.OpenItems, dr.HighPriorityItems,
		dr.PriorityScore, dr.OverallPriority, dr.OverallSeverity,
		dr.AssignedAt, dr.LastItemAddedAt, dr.ClosedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) ListDomainRisksByApp(ctx context.Context, appID string) ([]*domain.DomainRisk, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+domainRiskColumns+` FROM domain_risks WHERE app_id = $1 ORDER BY domain`, appID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.DomainRisk
	for rows.Next() {
		dr, err := scanDomainRisk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, dr)
	}
	return out, rows.Err()
}

// Audit trail.

func (s *Store) AppendStatusHistory(ctx context.Context, e *domain.StatusHistoryEntry) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO status_history (
			id, risk_item_id, from_status, to_status, resolution,
			resolution_comment, changed_by, actor_role, mitigation_plan,
			reassigned_to, changed_at, metadata
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		e.ID, e.RiskItemID, e.FromStatus, e.ToStatus, e.Resolution,
		e.ResolutionComment, e.ChangedBy, e.ActorRole, e.MitigationPlan,
		e.ReassignedTo, e.ChangedAt, e.Metadata,
	)
	return err
}

func (s *Store) ListStatusHistory(ctx context.Context, riskItemID string) ([]*domain.StatusHistoryEntry, error) {
	return s.ListStatusHistorySince(ctx, riskItemID, time.Time{})
}

func (s *Store) ListStatusHistorySince(ctx context.Context, riskItemID string, since time.Time) ([]*domain.StatusHistoryEntry, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, risk_item_id, from_status, to_status, resolution,
		       resolution_comment, changed_by, actor_role, mitigation_plan,
		       reassigned_to, changed_at, metadata
		FROM status_history
		WHERE risk_item_id = $1 AND ($2::timestamptz IS NULL OR changed_at >= $2)
		ORDER BY changed_at, id`,
		riskItemID, nullableTime(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.StatusHistoryEntry
	for rows.Next() {
		var e domain.StatusHistoryEntry
		if err := rows.Scan(
			&e.ID, &e.RiskItemID, &e.FromStatus, &e.ToStatus, &e.Resolution,
			&e.ResolutionComment, &e.ChangedBy, &e.ActorRole, &e.MitigationPlan,
			&e.ReassignedTo, &e.ChangedAt, &e.Metadata,
		); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *Store) AppendAssignmentHistory(ctx context.Context, e *domain.AssignmentHistoryEntry) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO assignment_history (
			id, risk_item_id, assigned_from, assigned_to, assigned_by,
			assignment_type, reason, changed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ID, e.RiskItemID, e.AssignedFrom, e.AssignedTo, e.AssignedBy,
		e.AssignmentType, e.Reason, e.ChangedAt,
	)
	return err
}

func (s *Store) ListAssignmentHistory(ctx context.Context, riskItemID string) ([]*domain.AssignmentHistoryEntry, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, risk_item_id, assigned_from, assigned_to, assigned_by,
		       assignment_type, reason, changed_at
		FROM assignment_history
		WHERE risk_item_id = $1
		ORDER BY changed_at, id`, riskItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.AssignmentHistoryEntry
	for rows.Next() {
		var e domain.AssignmentHistoryEntry
		if err := rows.Scan(
			&e.ID, &e.RiskItemID, &e.AssignedFrom, &e.AssignedTo, &e.AssignedBy,
			&e.AssignmentType, &e.Reason, &e.ChangedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

var _ ports.Store = (*Store)(nil)
