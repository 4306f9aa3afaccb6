package memory

import (
	"context"
	"sync"

	"arbiter/internal/domain"
	"arbiter/internal/ports"
)

// Collaborator implementations backed by in-process maps. They serve local
// runs and tests; production deployments use the Postgres-backed lookups.

// BaselineRating is what RatingFor returns for applications with no recorded
// rating on a dimension.
const BaselineRating = "C3"

// Profiles implements ports.Profile.
type Profiles struct {
	mu sync.RWMutex
	// profileFieldID -> fieldKey
	fields map[string]string
	// fieldKey -> derivedFrom dimension
	derived map[string]string
}

func NewProfiles() *Profiles {
	return &Profiles{fields: map[string]string{}, derived: map[string]string{}}
}

// PutField registers a profile field and its dimension.
func (p *Profiles) PutField(profileFieldID, fieldKey, derivedFrom string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fields[profileFieldID] = fieldKey
	p.derived[fieldKey] = derivedFrom
}

func (p *Profiles) FieldKeyFor(ctx context.Context, profileFieldID string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	key, ok := p.fields[profileFieldID]
	if !ok {
		return "", domain.Configf(profileFieldID, "unknown profile field")
	}
	return key, nil
}

func (p *Profiles) DerivedFromFor(ctx context.Context, fieldKey string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	d, ok := p.derived[fieldKey]
	if !ok {
		return "", domain.Configf(fieldKey, "no dimension recorded for field")
	}
	return d, nil
}

// EvidenceLinks implements ports.Evidence.
type EvidenceLinks struct {
	mu    sync.RWMutex
	links map[linkKey]ports.EvidenceLinkStatus
}

type linkKey struct{ evidenceID, profileFieldID string }

func NewEvidenceLinks() *EvidenceLinks {
	return &EvidenceLinks{links: map[linkKey]ports.EvidenceLinkStatus{}}
}

func (e *EvidenceLinks) PutLink(evidenceID, profileFieldID string, status ports.EvidenceLinkStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.links[linkKey{evidenceID, profileFieldID}] = status
}

func (e *EvidenceLinks) DropLink(evidenceID, profileFieldID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.links, linkKey{evidenceID, profileFieldID})
}

func (e *EvidenceLinks) LinkStatusFor(ctx context.Context, evidenceID, profileFieldID string) (ports.EvidenceLinkStatus, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.links[linkKey{evidenceID, profileFieldID}]
	return st, ok, nil
}

// Applications implements ports.Application.
type Applications struct {
	mu      sync.RWMutex
	ratings map[ratingKey]string
}

type ratingKey struct{ appID, derivedFrom string }

func NewApplications() *Applications {
	return &Applications{ratings: map[ratingKey]string{}}
}

func (a *Applications) PutRating(appID, derivedFrom, rating string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ratings[ratingKey{appID, derivedFrom}] = rating
}

func (a *Applications) RatingFor(ctx context.Context, appID, derivedFrom string) (string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if r, ok := a.ratings[ratingKey{appID, derivedFrom}]; ok {
		return r, nil
	}
	return BaselineRating, nil
}
