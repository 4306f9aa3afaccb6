package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbiter/internal/domain"
	"arbiter/internal/ports"
)

func strptr(s string) *string { return &s }

func seedItem(id, appID, fieldKey string, evidenceID *string) *domain.RiskItem {
	return &domain.RiskItem{
		ID:                   id,
		AppID:                appID,
		DomainRiskID:         "dr-1",
		FieldKey:             fieldKey,
		TriggeringEvidenceID: evidenceID,
		Priority:             domain.PriorityHigh,
		Status:               domain.InitialRiskItemStatus,
		OpenedAt:             time.Now().UTC(),
	}
}

func TestDedupTriple(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.InsertRiskItem(ctx, seedItem("ri-1", "A1", "mfa_enabled", strptr("ev-1"))))

	// Same (app, field, evidence) triple is rejected.
	err := s.InsertRiskItem(ctx, seedItem("ri-2", "A1", "mfa_enabled", strptr("ev-1")))
	assert.ErrorIs(t, err, domain.ErrDuplicateItem)

	// Different evidence for the same field is a new item.
	require.NoError(t, s.InsertRiskItem(ctx, seedItem("ri-3", "A1", "mfa_enabled", strptr("ev-2"))))

	// Manual items carry no evidence and never collide.
	require.NoError(t, s.InsertRiskItem(ctx, seedItem("ri-4", "A1", "mfa_enabled", nil)))
	require.NoError(t, s.InsertRiskItem(ctx, seedItem("ri-5", "A1", "mfa_enabled", nil)))

	got, err := s.GetRiskItemByTriple(ctx, "A1", "mfa_enabled", "ev-2")
	require.NoError(t, err)
	assert.Equal(t, "ri-3", got.ID)

	_, err = s.GetRiskItemByTriple(ctx, "A1", "mfa_enabled", "ev-9")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReadsReturnCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.InsertRiskItem(ctx, seedItem("ri-1", "A1", "mfa_enabled", nil)))

	got, err := s.GetRiskItem(ctx, "ri-1")
	require.NoError(t, err)
	got.Status = domain.StatusClosed

	again, err := s.GetRiskItem(ctx, "ri-1")
	require.NoError(t, err)
	assert.Equal(t, domain.InitialRiskItemStatus, again.Status)
}

func TestInTxSeesOwnWrites(t *testing.T) {
	ctx := context.Background()
	s := New()

	err := s.InTx(ctx, func(ctx context.Context, tx ports.Store) error {
		if err := tx.InsertRiskItem(ctx, seedItem("ri-1", "A1", "mfa_enabled", nil)); err != nil {
			return err
		}
		item, err := tx.GetRiskItemForUpdate(ctx, "ri-1")
		if err != nil {
			return err
		}
		item.Status = domain.StatusInRemediation
		return tx.UpdateRiskItem(ctx, item)
	})
	require.NoError(t, err)

	item, err := s.GetRiskItem(ctx, "ri-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInRemediation, item.Status)
}

func TestInTxPropagatesError(t *testing.T) {
	ctx := context.Background()
	s := New()
	sentinel := errors.New("boom")

	err := s.InTx(ctx, func(ctx context.Context, tx ports.Store) error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
}

func TestInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.InsertRiskItem(ctx, seedItem("ri-1", "A1", "mfa_enabled", nil)))

	sentinel := errors.New("boom")
	err := s.InTx(ctx, func(ctx context.Context, tx ports.Store) error {
		if err := tx.InsertRiskItem(ctx, seedItem("ri-2", "A1", "backup_policy", nil)); err != nil {
			return err
		}
		item, err := tx.GetRiskItemForUpdate(ctx, "ri-1")
		if err != nil {
			return err
		}
		item.Status = domain.StatusClosed
		if err := tx.UpdateRiskItem(ctx, item); err != nil {
			return err
		}
		if err := tx.AppendStatusHistory(ctx, &domain.StatusHistoryEntry{
			RiskItemID: "ri-1", ToStatus: domain.StatusClosed,
			ChangedBy: "sme-1", ActorRole: domain.RoleSME, ChangedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	// None of the transaction's writes survive.
	_, err = s.GetRiskItem(ctx, "ri-2")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	item, err := s.GetRiskItem(ctx, "ri-1")
	require.NoError(t, err)
	assert.Equal(t, domain.InitialRiskItemStatus, item.Status)

	hist, err := s.ListStatusHistory(ctx, "ri-1")
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestDomainRiskUniquePerAppDomain(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()

	dr := &domain.DomainRisk{
		ID: "dr-1", AppID: "A1", Domain: "security",
		AssignedArb: "security-arb", Status: domain.DomainPendingArbReview,
		OpenedAt: now, AssignedAt: now,
	}
	require.NoError(t, s.InsertDomainRisk(ctx, dr))

	dup := *dr
	dup.ID = "dr-2"
	assert.ErrorIs(t, s.InsertDomainRisk(ctx, &dup), domain.ErrDuplicateItem)

	got, err := s.GetDomainRiskByAppDomain(ctx, "A1", "security")
	require.NoError(t, err)
	assert.Equal(t, "dr-1", got.ID)
}

func TestStatusHistorySince(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for i, ts := range []time.Time{base, base.Add(time.Hour), base.Add(2 * time.Hour)} {
		require.NoError(t, s.AppendStatusHistory(ctx, &domain.StatusHistoryEntry{
			ID: string(rune('a' + i)), RiskItemID: "ri-1",
			ToStatus: domain.StatusOpen, ChangedBy: "sme-1", ActorRole: domain.RoleSME, ChangedAt: ts,
		}))
	}

	all, err := s.ListStatusHistory(ctx, "ri-1")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	recent, err := s.ListStatusHistorySince(ctx, "ri-1", base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}
