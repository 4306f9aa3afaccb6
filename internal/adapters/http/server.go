package httpadapter

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"arbiter/internal/domain"
	"arbiter/internal/ports"
	"arbiter/internal/registry"
	"arbiter/internal/services/aggregator"
	"arbiter/internal/services/assignment"
	"arbiter/internal/services/autocreate"
	"arbiter/internal/services/lifecycle"
)

// Server exposes the engine over HTTP. All domain decisions happen in the
// services; this layer decodes, validates, dispatches and maps errors.
type Server struct {
	store     ports.Store
	eval      *autocreate.Evaluator
	agg       *aggregator.Service
	assign    *assignment.Service
	lifecycle *lifecycle.Service
	registry  *registry.Registry
	validate  *validator.Validate
	log       *slog.Logger
}

func New(store ports.Store, eval *autocreate.Evaluator, agg *aggregator.Service, assign *assignment.Service, lc *lifecycle.Service, reg *registry.Registry, log *slog.Logger) *Server {
	return &Server{
		store: store, eval: eval, agg: agg, assign: assign, lifecycle: lc,
		registry: reg, validate: validator.New(), log: log,
	}
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealthz)

	r.Post("/risks/evaluate", s.handleEvaluate)
	r.Route("/risks/{riskID}", func(r chi.Router) {
		r.Get("/", s.handleGetRiskItem)
		r.Get("/history", s.handleStatusHistory)
		r.Get("/assignments", s.handleAssignmentHistory)
		r.Post("/self-assign", s.handleSelfAssign)
		r.Post("/assign", s.handleAssign)
		r.Post("/unassign", s.handleUnassign)
		r.Post("/status", s.handleUpdateStatus)
	})

	r.Route("/apps/{appID}", func(r chi.Router) {
		r.Get("/risks", s.handleListRiskItems)
		r.Post("/risks", s.handleRaiseManual)
		r.Get("/domain-risks", s.handleListDomainRisks)
	})

	r.Route("/domain-risks/{domainRiskID}", func(r chi.Router) {
		r.Get("/", s.handleGetDomainRisk)
		r.Post("/recalculate", s.handleRecalculate)
		r.Post("/arb", s.handleReassignArb)
	})

	r.Post("/registry/reload", s.handleRegistryReload)
	return r
}

// decode parses and validates a JSON body.
func (s *Server) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domain.Validationf("body", "invalid JSON: %v", err)
	}
	if err := s.validate.Struct(dst); err != nil {
		return domain.Validationf("body", "%v", err)
	}
	return nil
}

func (s *Server) respond(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps the domain taxonomy onto status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var vErr *domain.ValidationError
	var cfgErr *domain.ConfigurationError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		s.respond(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrAssignmentConflict):
		s.respond(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.As(err, &vErr):
		s.respond(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.As(err, &cfgErr):
		s.log.Error("configuration error surfaced to caller", "error", err)
		s.respond(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	default:
		s.log.Error("request failed", "error", err)
		s.respond(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

type evaluateRequest struct {
	EvidenceID     string `json:"evidence_id" validate:"required"`
	ProfileFieldID string `json:"profile_field_id" validate:"required"`
	AppID          string `json:"app_id" validate:"required"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.eval.Evaluate(r.Context(), req.EvidenceID, req.ProfileFieldID, req.AppID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	code := http.StatusOK
	if res.Created {
		code = http.StatusCreated
	}
	s.respond(w, code, res)
}

type manualRaiseRequest struct {
	FieldKey       string `json:"field_key" validate:"required"`
	ProfileFieldID string `json:"profile_field_id"`
	DerivedFrom    string `json:"derived_from"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Priority       string `json:"priority" validate:"omitempty,oneof=LOW MEDIUM HIGH CRITICAL"`
	RaisedBy       string `json:"raised_by" validate:"required"`
}

func (s *Server) handleRaiseManual(w http.ResponseWriter, r *http.Request) {
	var req manualRaiseRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	item, err := s.lifecycle.RaiseManual(r.Context(), lifecycle.ManualRequest{
		AppID:          chi.URLParam(r, "appID"),
		FieldKey:       req.FieldKey,
		ProfileFieldID: req.ProfileFieldID,
		DerivedFrom:    req.DerivedFrom,
		Title:          req.Title,
		Description:    req.Description,
		Priority:       domain.Priority(req.Priority),
		RaisedBy:       req.RaisedBy,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.respond(w, http.StatusCreated, toRiskItemDTO(item))
}

func (s *Server) handleGetRiskItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.store.GetRiskItem(r.Context(), chi.URLParam(r, "riskID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.respond(w, http.StatusOK, toRiskItemDTO(item))
}

func (s *Server) handleListRiskItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := s.store.ListRiskItemsByApp(r.Context(), chi.URLParam(r, "appID"), ports.RiskItemFilter{
		Domain:     q.Get("domain"),
		FieldKey:   q.Get("field_key"),
		EvidenceID: q.Get("evidence_id"),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]riskItemDTO, 0, len(items))
	for _, item := range items {
		out = append(out, toRiskItemDTO(item))
	}
	s.respond(w, http.StatusOK, out)
}

func (s *Server) handleStatusHistory(w http.ResponseWriter, r *http.Request) {
	riskID := chi.URLParam(r, "riskID")
	if _, err := s.store.GetRiskItem(r.Context(), riskID); err != nil {
		s.writeError(w, err)
		return
	}
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		var err error
		since, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, domain.Validationf("since", "must be RFC 3339: %v", err))
			return
		}
	}
	entries, err := s.store.ListStatusHistorySince(r.Context(), riskID, since)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]statusHistoryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, toStatusHistoryDTO(e))
	}
	s.respond(w, http.StatusOK, out)
}

func (s *Server) handleAssignmentHistory(w http.ResponseWriter, r *http.Request) {
	riskID := chi.URLParam(r, "riskID")
	if _, err := s.store.GetRiskItem(r.Context(), riskID); err != nil {
		s.writeError(w, err)
		return
	}
	entries, err := s.store.ListAssignmentHistory(r.Context(), riskID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]assignmentHistoryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, toAssignmentHistoryDTO(e))
	}
	s.respond(w, http.StatusOK, out)
}

type selfAssignRequest struct {
	Actor string `json:"actor" validate:"required"`
}

func (s *Server) handleSelfAssign(w http.ResponseWriter, r *http.Request) {
	var req selfAssignRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	item, err := s.assign.SelfAssign(r.Context(), chi.URLParam(r, "riskID"), req.Actor)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.respond(w, http.StatusOK, toRiskItemDTO(item))
}

type assignRequest struct {
	Assignee string `json:"assignee" validate:"required"`
	Reason   string `json:"reason"`
	Actor    string `json:"actor" validate:"required"`
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	item, err := s.assign.AssignToUser(r.Context(), chi.URLParam(r, "riskID"), req.Assignee, req.Reason, req.Actor)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.respond(w, http.StatusOK, toRiskItemDTO(item))
}

type unassignRequest struct {
	Actor  string `json:"actor" validate:"required"`
	Reason string `json:"reason"`
}

func (s *Server) handleUnassign(w http.ResponseWriter, r *http.Request) {
	var req unassignRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	item, err := s.assign.Unassign(r.Context(), chi.URLParam(r, "riskID"), req.Actor, req.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.respond(w, http.StatusOK, toRiskItemDTO(item))
}

type statusUpdateRequest struct {
	Action         string `json:"action" validate:"required"`
	Resolution     string `json:"resolution"`
	Comment        string `json:"comment"`
	MitigationPlan string `json:"mitigation_plan"`
	ReassignTo     string `json:"reassign_to"`
	Actor          string `json:"actor" validate:"required"`
	ActorRole      string `json:"actor_role" validate:"omitempty,oneof=SME PO SYSTEM ADMIN"`
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusUpdateRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	role := domain.ActorRole(req.ActorRole)
	if role == "" {
		role = domain.RoleSME
	}
	item, err := s.lifecycle.UpdateStatus(r.Context(), chi.URLParam(r, "riskID"), lifecycle.UpdateRequest{
		Action:         lifecycle.Action(req.Action),
		Resolution:     req.Resolution,
		Comment:        req.Comment,
		MitigationPlan: req.MitigationPlan,
		ReassignTo:     req.ReassignTo,
		Actor:          req.Actor,
		ActorRole:      role,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.respond(w, http.StatusOK, toRiskItemDTO(item))
}

func (s *Server) handleGetDomainRisk(w http.ResponseWriter, r *http.Request) {
	dr, err := s.store.GetDomainRisk(r.Context(), chi.URLParam(r, "domainRiskID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.respond(w, http.StatusOK, toDomainRiskDTO(dr))
}

func (s *Server) handleListDomainRisks(w http.ResponseWriter, r *http.Request) {
	drs, err := s.store.ListDomainRisksByApp(r.Context(), chi.URLParam(r, "appID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]domainRiskDTO, 0, len(drs))
	for _, dr := range drs {
		out = append(out, toDomainRiskDTO(dr))
	}
	s.respond(w, http.StatusOK, out)
}

func (s *Server) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	dr, err := s.agg.RecalculateByID(r.Context(), s.store, chi.URLParam(r, "domainRiskID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.respond(w, http.StatusOK, toDomainRiskDTO(dr))
}

type reassignArbRequest struct {
	Arb   string `json:"arb" validate:"required"`
	Actor string `json:"actor" validate:"required"`
}

func (s *Server) handleReassignArb(w http.ResponseWriter, r *http.Request) {
	var req reassignArbRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	dr, err := s.agg.ReassignArb(r.Context(), s.store, chi.URLParam(r, "domainRiskID"), req.Arb)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info("domain risk arb reassigned",
		"domain_risk_id", dr.ID, "arb", req.Arb, "actor", req.Actor)
	s.respond(w, http.StatusOK, toDomainRiskDTO(dr))
}

func (s *Server) handleRegistryReload(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Reload(); err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info("policy registry reloaded")
	s.respond(w, http.StatusOK, map[string]string{"status": "reloaded"})
}
