package httpadapter

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbiter/internal/adapters/memory"
	"arbiter/internal/registry"
	"arbiter/internal/routing"
	"arbiter/internal/services/aggregator"
	"arbiter/internal/services/assignment"
	"arbiter/internal/services/autocreate"
	"arbiter/internal/services/ledger"
	"arbiter/internal/services/lifecycle"
)

type fixture struct {
	srv      *httptest.Server
	store    *memory.Store
	profiles *memory.Profiles
	links    *memory.EvidenceLinks
	apps     *memory.Applications
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg, err := registry.Load("")
	require.NoError(t, err)
	log := slog.Default()
	store := memory.New()
	profiles := memory.NewProfiles()
	links := memory.NewEvidenceLinks()
	apps := memory.NewApplications()
	agg := aggregator.New(routing.New(reg, log), log)
	led := ledger.New()
	eval := autocreate.New(store, reg, links, profiles, apps, agg, led, log)
	assign := assignment.New(store, agg, led, log)
	lc := lifecycle.New(store, agg, led, log)

	server := New(store, eval, agg, assign, lc, reg, log)
	ts := httptest.NewServer(server.Routes())
	t.Cleanup(ts.Close)

	profiles.PutField("pf-1", "mfa_enabled", "security_rating")
	apps.PutRating("A1", "security_rating", "A1")
	return &fixture{srv: ts, store: store, profiles: profiles, links: links, apps: apps}
}

func (f *fixture) post(t *testing.T, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(f.srv.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	buf := new(bytes.Buffer)
	_, _ = buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEvaluateEndpoint(t *testing.T) {
	f := newFixture(t)
	body := map[string]string{"evidence_id": "ev-1", "profile_field_id": "pf-1", "app_id": "A1"}

	resp, out := f.post(t, "/risks/evaluate", body)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, true, out["created"])
	riskID := out["risk_item_id"].(string)
	require.NotEmpty(t, riskID)
	assert.Equal(t, "security-arb", out["assigned_arb"])

	// Second call is the duplicate no-op, delivered as 200 not an error.
	resp, out = f.post(t, "/risks/evaluate", body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, out["created"])

	resp, raw := f.get(t, "/risks/"+riskID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var item riskItemDTO
	require.NoError(t, json.Unmarshal(raw, &item))
	assert.Equal(t, "HIGH", item.Priority)
	assert.Equal(t, 75, item.PriorityScore)
	assert.Equal(t, "OPEN", item.Status)
}

func TestEvaluateValidation(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.post(t, "/risks/evaluate", map[string]string{"evidence_id": "ev-1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAssignmentEndpoints(t *testing.T) {
	f := newFixture(t)
	_, out := f.post(t, "/risks/evaluate", map[string]string{
		"evidence_id": "ev-1", "profile_field_id": "pf-1", "app_id": "A1",
	})
	riskID := out["risk_item_id"].(string)

	resp, item := f.post(t, "/risks/"+riskID+"/self-assign", map[string]string{"actor": "alex"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alex", item["assigned_to"])

	// A second claimant conflicts.
	resp, _ = f.post(t, "/risks/"+riskID+"/self-assign", map[string]string{"actor": "blake"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Manual assignment overrides.
	resp, item = f.post(t, "/risks/"+riskID+"/assign", map[string]string{
		"assignee": "blake", "actor": "lead", "reason": "rebalance",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "blake", item["assigned_to"])

	resp, raw := f.get(t, "/risks/"+riskID+"/assignments")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var hist []assignmentHistoryDTO
	require.NoError(t, json.Unmarshal(raw, &hist))
	assert.Len(t, hist, 2)
}

func TestStatusUpdateAndDomainRiskLifecycle(t *testing.T) {
	f := newFixture(t)
	_, out := f.post(t, "/risks/evaluate", map[string]string{
		"evidence_id": "ev-1", "profile_field_id": "pf-1", "app_id": "A1",
	})
	riskID := out["risk_item_id"].(string)
	domainRiskID := func() string {
		_, raw := f.get(t, "/risks/"+riskID)
		var item riskItemDTO
		require.NoError(t, json.Unmarshal(raw, &item))
		return item.DomainRiskID
	}()

	// Resolve the only item: the aggregate transitions to RESOLVED.
	resp, _ := f.post(t, "/risks/"+riskID+"/status", map[string]string{
		"action": "resolve", "resolution": "SME_APPROVED", "comment": "fixed", "actor": "sme-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, raw := f.get(t, "/domain-risks/"+domainRiskID)
	var dr domainRiskDTO
	require.NoError(t, json.Unmarshal(raw, &dr))
	assert.Equal(t, "RESOLVED", dr.Status)
	assert.Equal(t, 0, dr.OpenItems)
	assert.Equal(t, 1, dr.TotalItems)

	// Terminal items reject further updates with a conflict.
	resp, _ = f.post(t, "/risks/"+riskID+"/status", map[string]string{
		"action": "close", "actor": "sme-1",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// History shows creation plus the resolve.
	_, raw = f.get(t, "/risks/"+riskID+"/history")
	var hist []statusHistoryDTO
	require.NoError(t, json.Unmarshal(raw, &hist))
	assert.Len(t, hist, 2)
}

func TestStatusHistorySinceFilter(t *testing.T) {
	f := newFixture(t)
	_, out := f.post(t, "/risks/evaluate", map[string]string{
		"evidence_id": "ev-1", "profile_field_id": "pf-1", "app_id": "A1",
	})
	riskID := out["risk_item_id"].(string)

	resp, raw := f.get(t, "/risks/"+riskID+"/history?since=2000-01-01T00:00:00Z")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var hist []statusHistoryDTO
	require.NoError(t, json.Unmarshal(raw, &hist))
	assert.Len(t, hist, 1)

	resp, raw = f.get(t, "/risks/"+riskID+"/history?since=2100-01-01T00:00:00Z")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	hist = nil
	require.NoError(t, json.Unmarshal(raw, &hist))
	assert.Empty(t, hist)

	resp, _ = f.get(t, "/risks/"+riskID+"/history?since=yesterday")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestManualRaiseAndListEndpoints(t *testing.T) {
	f := newFixture(t)
	resp, item := f.post(t, "/apps/A1/risks", map[string]string{
		"field_key": "backup_policy", "derived_from": "operations_rating",
		"priority": "MEDIUM", "raised_by": "po-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "MANUAL", item["creation_type"])

	resp, raw := f.get(t, "/apps/A1/risks?domain=operations")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var items []riskItemDTO
	require.NoError(t, json.Unmarshal(raw, &items))
	assert.Len(t, items, 1)

	_, raw = f.get(t, "/apps/A1/domain-risks")
	var drs []domainRiskDTO
	require.NoError(t, json.Unmarshal(raw, &drs))
	require.Len(t, drs, 1)
	assert.Equal(t, "operations", drs[0].Domain)
	assert.Equal(t, "ops-arb", drs[0].AssignedArb)
}

func TestReassignArbEndpoint(t *testing.T) {
	f := newFixture(t)
	_, item := f.post(t, "/apps/A1/risks", map[string]string{
		"field_key": "mfa_enabled", "derived_from": "security_rating", "raised_by": "po-1",
	})
	_, raw := f.get(t, "/risks/"+item["id"].(string))
	var dto riskItemDTO
	require.NoError(t, json.Unmarshal(raw, &dto))

	resp, dr := f.post(t, "/domain-risks/"+dto.DomainRiskID+"/arb", map[string]string{
		"arb": "platform-arb", "actor": "admin",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "platform-arb", dr["assigned_arb"])
	// Reassigning the board does not change aggregate status.
	assert.Equal(t, "PENDING_ARB_REVIEW", dr["status"])
}

func TestUnknownRiskItemIs404(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.get(t, "/risks/4c0b2a39-0000-0000-0000-000000000000")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
