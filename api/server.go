// Package api exposes the live-state query surface and the dispatcher
// actions over HTTP. Refused actions carry their typed reason code in the
// JSON body, never a bare 500.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/fleetglide/dispatchd/core/alert"
	"github.com/fleetglide/dispatchd/core/alert/audit"
	"github.com/fleetglide/dispatchd/core/assign"
	"github.com/fleetglide/dispatchd/core/logger"
	"github.com/fleetglide/dispatchd/core/model"
	"github.com/fleetglide/dispatchd/core/reopt"
	"github.com/fleetglide/dispatchd/core/state"
)

// Server holds the handler dependencies.
type Server struct {
	store  *state.Store
	alerts *alert.Engine
	assign *assign.Engine
	reopt  *reopt.Engine
	log    logger.Logger
}

// New creates a Server over the dispatch engines.
func New(store *state.Store, alerts *alert.Engine, assigner *assign.Engine, reoptimizer *reopt.Engine, log logger.Logger) *Server {
	return &Server{store: store, alerts: alerts, assign: assigner, reopt: reoptimizer, log: log}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/vehicles/{id}", s.getVehicle)
	mux.HandleFunc("GET /api/drivers/{id}", s.getDriver)
	mux.HandleFunc("GET /api/jobs/{id}", s.getJob)
	mux.HandleFunc("GET /api/routes/{id}", s.getRoute)
	mux.HandleFunc("GET /api/alerts/queue", s.getAlertQueue)
	mux.HandleFunc("GET /api/alerts/trail", s.getAlertTrail)
	mux.HandleFunc("POST /api/alerts/{id}/ack", s.postAck)
	mux.HandleFunc("POST /api/alerts/{id}/resolve", s.postResolve)
	mux.HandleFunc("POST /api/jobs/{id}/assign", s.postAssign)
	mux.HandleFunc("POST /api/jobs/{id}/start", s.postStart)
	mux.HandleFunc("POST /api/jobs/{id}/complete", s.postComplete)
	mux.HandleFunc("POST /api/jobs/{id}/fail", s.postFail)
	mux.HandleFunc("POST /api/jobs/{id}/window", s.postEditWindow)
	mux.HandleFunc("POST /api/routes/{id}/reoptimize", s.postReoptimize)
	mux.HandleFunc("POST /api/routes/{id}/reoptimize/apply", s.postReoptimizeApply)
	mux.HandleFunc("POST /api/routes/{id}/stops", s.postAddStop)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// writeError maps typed rejections onto HTTP statuses; anything else is an
// internal error but still rendered as JSON.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	reason := model.ReasonOf(err)
	if reason == "" {
		s.log.Errorf("api: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Reason: "Internal", Detail: err.Error()})
		return
	}
	status := http.StatusUnprocessableEntity
	switch reason {
	case model.ReasonUnknownEntity:
		status = http.StatusNotFound
	case model.ReasonValidationFailed, model.ReasonNoteRequired:
		status = http.StatusBadRequest
	case model.ReasonInvalidTransition, model.ReasonAlreadyOffered, model.ReasonVersionConflict:
		status = http.StatusConflict
	case model.ReasonStoreDegraded:
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, errorBody{Reason: string(reason), Detail: err.Error()})
}

func (s *Server) getVehicle(w http.ResponseWriter, r *http.Request) {
	v, ok := s.store.Vehicle(r.PathValue("id"))
	if !ok {
		s.writeError(w, model.Reject(model.ReasonUnknownEntity, "vehicle %s not found", r.PathValue("id")))
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) getDriver(w http.ResponseWriter, r *http.Request) {
	d, ok := s.store.Driver(r.PathValue("id"))
	if !ok {
		s.writeError(w, model.Reject(model.ReasonUnknownEntity, "driver %s not found", r.PathValue("id")))
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	j, ok := s.store.Job(r.PathValue("id"))
	if !ok {
		s.writeError(w, model.Reject(model.ReasonUnknownEntity, "job %s not found", r.PathValue("id")))
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) getRoute(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.store.Route(r.PathValue("id"))
	if !ok {
		s.writeError(w, model.Reject(model.ReasonUnknownEntity, "route %s not found", r.PathValue("id")))
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

func (s *Server) getAlertQueue(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.alerts.Queue())
}

func (s *Server) getAlertTrail(w http.ResponseWriter, r *http.Request) {
	q := audit.Query{AlertID: r.URL.Query().Get("alert_id")}
	if v := r.URL.Query().Get("start"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			q.Start = t
		}
	}
	if v := r.URL.Query().Get("end"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			q.End = t
		}
	}
	records, err := s.alerts.Trail().Query(r.Context(), q)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

type actorRequest struct {
	Actor  string `json:"actor"`
	Note   string `json:"note"`
	Reason string `json:"reason"`
}

func (s *Server) postAck(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, model.Reject(model.ReasonValidationFailed, "invalid body: %v", err))
		return
	}
	if err := s.alerts.Acknowledge(r.PathValue("id"), req.Actor, req.Note); err != nil {
		s.writeError(w, err)
		return
	}
	a, _ := s.alerts.Get(r.PathValue("id"))
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) postResolve(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, model.Reject(model.ReasonValidationFailed, "invalid body: %v", err))
		return
	}
	reason := model.ResolutionReason(req.Reason)
	if reason == "" {
		reason = model.ReasonHandled
	}
	if err := s.alerts.Resolve(r.PathValue("id"), req.Actor, req.Note, reason); err != nil {
		s.writeError(w, err)
		return
	}
	a, _ := s.alerts.Get(r.PathValue("id"))
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) postAssign(w http.ResponseWriter, r *http.Request) {
	offer, err := s.assign.OfferJob(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, offer)
}

func (s *Server) postStart(w http.ResponseWriter, r *http.Request) {
	j, err := s.assign.Start(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) postComplete(w http.ResponseWriter, r *http.Request) {
	j, err := s.assign.Complete(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) postFail(w http.ResponseWriter, r *http.Request) {
	j, err := s.assign.Fail(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

type windowRequest struct {
	Start                time.Time `json:"start"`
	End                  time.Time `json:"end"`
	LateToleranceSeconds int       `json:"late_tolerance_seconds"`
}

func (s *Server) postEditWindow(w http.ResponseWriter, r *http.Request) {
	var req windowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, model.Reject(model.ReasonValidationFailed, "invalid body: %v", err))
		return
	}
	win := model.Window{
		Start:         req.Start,
		End:           req.End,
		LateTolerance: time.Duration(req.LateToleranceSeconds) * time.Second,
	}
	p, err := s.reopt.EditWindow(r.Context(), r.PathValue("id"), win)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) postReoptimize(w http.ResponseWriter, r *http.Request) {
	p, err := s.reopt.Propose(r.Context(), r.PathValue("id"), reopt.TriggerETADrift)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) postReoptimizeApply(w http.ResponseWriter, r *http.Request) {
	var p reopt.Proposal
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.writeError(w, model.Reject(model.ReasonValidationFailed, "invalid body: %v", err))
		return
	}
	p.RouteID = r.PathValue("id")
	route, err := s.reopt.Apply(p)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, route)
}

type addStopRequest struct {
	JobID string `json:"job_id"`
}

func (s *Server) postAddStop(w http.ResponseWriter, r *http.Request) {
	var req addStopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, model.Reject(model.ReasonValidationFailed, "invalid body: %v", err))
		return
	}
	if req.JobID == "" {
		s.writeError(w, model.Reject(model.ReasonValidationFailed, "job_id is required"))
		return
	}
	p, err := s.reopt.AddStop(r.Context(), r.PathValue("id"), req.JobID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
