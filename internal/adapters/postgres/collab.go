package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"arbiter/internal/domain"
	"arbiter/internal/ports"
)

// Collaborator lookups backed by the shared database. These tables are
// written by the profile/evidence subsystems; the engine only reads them.

// BaselineRating is returned for applications with no recorded rating.
const BaselineRating = "C3"

type Profiles struct {
	db *DB
}

func NewProfiles(db *DB) *Profiles { return &Profiles{db: db} }

func (p *Profiles) FieldKeyFor(ctx context.Context, profileFieldID string) (string, error) {
	var key string
	err := p.db.Pool.QueryRow(ctx,
		`SELECT field_key FROM profile_fields WHERE id = $1`, profileFieldID).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.Configf(profileFieldID, "unknown profile field")
	}
	return key, err
}

func (p *Profiles) DerivedFromFor(ctx context.Context, fieldKey string) (string, error) {
	var derived string
	err := p.db.Pool.QueryRow(ctx,
		`SELECT derived_from FROM profile_fields WHERE field_key = $1 LIMIT 1`, fieldKey).Scan(&derived)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.Configf(fieldKey, "no dimension recorded for field")
	}
	return derived, err
}

type EvidenceLinks struct {
	db *DB
}

func NewEvidenceLinks(db *DB) *EvidenceLinks { return &EvidenceLinks{db: db} }

func (e *EvidenceLinks) LinkStatusFor(ctx context.Context, evidenceID, profileFieldID string) (ports.EvidenceLinkStatus, bool, error) {
	var status ports.EvidenceLinkStatus
	err := e.db.Pool.QueryRow(ctx, `
		SELECT status FROM evidence_links
		WHERE evidence_id = $1 AND profile_field_id = $2`,
		evidenceID, profileFieldID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return status, true, nil
}

type Applications struct {
	db *DB
}

func NewApplications(db *DB) *Applications { return &Applications{db: db} }

func (a *Applications) RatingFor(ctx context.Context, appID, derivedFrom string) (string, error) {
	var rating string
	err := a.db.Pool.QueryRow(ctx, `
		SELECT rating FROM app_ratings
		WHERE app_id = $1 AND derived_from = $2`,
		appID, derivedFrom).Scan(&rating)
	if errors.Is(err, pgx.ErrNoRows) {
		return BaselineRating, nil
	}
	return rating, err
}
