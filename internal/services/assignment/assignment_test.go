package assignment

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbiter/internal/adapters/memory"
	"arbiter/internal/domain"
	"arbiter/internal/registry"
	"arbiter/internal/routing"
	"arbiter/internal/services/aggregator"
	"arbiter/internal/services/ledger"
)

type fixture struct {
	store *memory.Store
	agg   *aggregator.Service
	svc   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg, err := registry.Load("")
	require.NoError(t, err)
	log := slog.Default()
	store := memory.New()
	agg := aggregator.New(routing.New(reg, log), log)
	return &fixture{store: store, agg: agg, svc: New(store, agg, ledger.New(), log)}
}

func (f *fixture) newItem(t *testing.T, status domain.RiskItemStatus) *domain.RiskItem {
	t.Helper()
	ctx := context.Background()
	dr, err := f.agg.GetOrCreate(ctx, f.store, "app-1", "security_rating")
	require.NoError(t, err)
	item := &domain.RiskItem{
		AppID:         "app-1",
		FieldKey:      "mfa_enabled",
		Priority:      domain.PriorityHigh,
		PriorityScore: 75,
		Severity:      "high",
		Status:        status,
		CreationType:  domain.CreationManual,
		RaisedBy:      "tester",
		OpenedAt:      time.Now(),
	}
	require.NoError(t, f.agg.AddItem(ctx, f.store, dr, item))
	return item
}

func TestSelfAssign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.newItem(t, domain.StatusOpen)

	got, err := f.svc.SelfAssign(ctx, item.ID, "alex")
	require.NoError(t, err)
	require.NotNil(t, got.AssignedTo)
	assert.Equal(t, "alex", *got.AssignedTo)
	assert.Equal(t, "alex", *got.AssignedBy)
	assert.NotNil(t, got.AssignedAt)
	// OPEN items keep their status on assignment.
	assert.Equal(t, domain.StatusOpen, got.Status)

	hist, err := f.store.ListAssignmentHistory(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, domain.AssignSelf, hist[0].AssignmentType)
	assert.Nil(t, hist[0].AssignedFrom)
	assert.Equal(t, "alex", *hist[0].AssignedTo)
}

func TestSelfAssignIsIdempotentForSameUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.newItem(t, domain.StatusOpen)

	first, err := f.svc.SelfAssign(ctx, item.ID, "alex")
	require.NoError(t, err)
	second, err := f.svc.SelfAssign(ctx, item.ID, "alex")
	require.NoError(t, err)
	assert.Equal(t, *first.AssignedTo, *second.AssignedTo)
	assert.Equal(t, first.AssignedAt.Unix(), second.AssignedAt.Unix())

	hist, err := f.store.ListAssignmentHistory(ctx, item.ID)
	require.NoError(t, err)
	assert.Len(t, hist, 1) // the no-op re-claim leaves no extra entry
}

func TestSelfAssignConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.newItem(t, domain.StatusOpen)

	_, err := f.svc.SelfAssign(ctx, item.ID, "alex")
	require.NoError(t, err)
	_, err = f.svc.SelfAssign(ctx, item.ID, "blake")
	assert.ErrorIs(t, err, domain.ErrAssignmentConflict)
}

func TestSelfAssignPendingReviewMovesToUnderReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.newItem(t, domain.StatusPendingReview)

	got, err := f.svc.SelfAssign(ctx, item.ID, "alex")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnderSMEReview, got.Status)

	hist, err := f.store.ListStatusHistory(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, domain.StatusPendingReview, *hist[0].FromStatus)
	assert.Equal(t, domain.StatusUnderSMEReview, hist[0].ToStatus)
}

func TestSelfAssignTerminalItemFails(t *testing.T) {
	f := newFixture(t)
	item := f.newItem(t, domain.StatusResolved)
	_, err := f.svc.SelfAssign(context.Background(), item.ID, "alex")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestAssignToUserOverwritesWithoutCollisionCheck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.newItem(t, domain.StatusOpen)

	_, err := f.svc.SelfAssign(ctx, item.ID, "alex")
	require.NoError(t, err)

	got, err := f.svc.AssignToUser(ctx, item.ID, "blake", "rebalancing", "lead")
	require.NoError(t, err)
	assert.Equal(t, "blake", *got.AssignedTo)
	assert.Equal(t, "lead", *got.AssignedBy)

	hist, err := f.store.ListAssignmentHistory(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, domain.AssignManual, hist[1].AssignmentType)
	assert.Equal(t, "alex", *hist[1].AssignedFrom)
	assert.Equal(t, "blake", *hist[1].AssignedTo)
	assert.Equal(t, "rebalancing", hist[1].Reason)
}

func TestAssignToUserRequiresAssignee(t *testing.T) {
	f := newFixture(t)
	item := f.newItem(t, domain.StatusOpen)
	_, err := f.svc.AssignToUser(context.Background(), item.ID, "", "r", "lead")
	var vErr *domain.ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestUnassign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.newItem(t, domain.StatusPendingReview)

	_, err := f.svc.SelfAssign(ctx, item.ID, "alex")
	require.NoError(t, err)

	got, err := f.svc.Unassign(ctx, item.ID, "alex", "going on leave")
	require.NoError(t, err)
	assert.Nil(t, got.AssignedTo)
	assert.Nil(t, got.AssignedBy)
	assert.Nil(t, got.AssignedAt)
	// UNDER_SME_REVIEW reverts to PENDING_REVIEW on unassign.
	assert.Equal(t, domain.StatusPendingReview, got.Status)

	hist, err := f.store.ListAssignmentHistory(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, domain.AssignNone, hist[1].AssignmentType)
}

func TestUnassignNeverAssignedFails(t *testing.T) {
	f := newFixture(t)
	item := f.newItem(t, domain.StatusOpen)
	_, err := f.svc.Unassign(context.Background(), item.ID, "alex", "")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestAssignUnknownItem(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SelfAssign(context.Background(), "missing", "alex")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
