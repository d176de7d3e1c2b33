package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/FERLEY2004/QRRR-sub001/internal/access/model"
	"github.com/FERLEY2004/QRRR-sub001/internal/access/service"
	"github.com/FERLEY2004/QRRR-sub001/internal/access/store"
	"github.com/FERLEY2004/QRRR-sub001/internal/access/types"
	"github.com/FERLEY2004/QRRR-sub001/internal/clock"
)

type Dependencies struct {
	Logger *slog.Logger
	Addr   string
	// Prod hides infrastructure error details from clients.
	Prod bool
	// Clock defaults to the wall clock.
	Clock clock.Clock

	Scans    *service.ScanService
	Presence *service.PresenceResolver
	Desk     *service.VisitorDesk
	Alerts   store.AlertStore
	Security store.SecurityLog
	Sweeper  *service.Sweeper
	// Stream is optional; without it the live feed route answers 404.
	Stream *AlertStream
	// Ping reports storage health for /healthz. Optional.
	Ping func(ctx context.Context) error
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	prod       bool
	clock      clock.Clock

	scans    *service.ScanService
	presence *service.PresenceResolver
	desk     *service.VisitorDesk
	alerts   store.AlertStore
	security store.SecurityLog
	sweeper  *service.Sweeper
	stream   *AlertStream
	ping     func(ctx context.Context) error
}

func NewServer(d Dependencies) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := d.Clock
	if clk == nil {
		clk = clock.Real()
	}

	s := &Server{
		logger:   logger,
		prod:     d.Prod,
		clock:    clk,
		scans:    d.Scans,
		presence: d.Presence,
		desk:     d.Desk,
		alerts:   d.Alerts,
		security: d.Security,
		sweeper:  d.Sweeper,
		stream:   d.Stream,
		ping:     d.Ping,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(loggingMiddleware(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Post("/scans", s.handleScan(false))
		v1.Post("/scans/complete", s.handleScan(true))

		v1.Get("/presence/{personID}", s.handlePresence)
		v1.Get("/occupants", s.handleOccupants)

		v1.Post("/visitors", s.handleRegisterVisitor)

		v1.Get("/alerts", s.handleListAlerts)
		v1.Get("/alerts/stream", s.handleAlertStream)
		v1.Post("/alerts/{alertID}/read", s.handleMarkAlertRead)
		v1.Post("/security_events", s.handleSecurityEvent)
		v1.Post("/sweeps", s.handleSweep)
	})

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ── Health ───────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ping != nil {
		if err := s.ping(r.Context()); err != nil {
			s.logger.Warn("health check failed", "err", err)
			writeError(w, http.StatusServiceUnavailable, "store_unavailable", "storage is not reachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ── Scans ────────────────────────────────────────────────────────────────────

func (s *Server) handleScan(complete bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pb := isProtobuf(r)

		var req types.ScanRequest
		if pb {
			msg, err := readStruct(r)
			if err != nil {
				writeError(w, http.StatusBadRequest, "bad_protobuf", "invalid protobuf body")
				return
			}
			req = scanRequestFromStruct(msg)
		} else if !decodeJSON(w, r, &req) {
			return
		}

		var (
			resp types.ScanResponse
			err  error
		)
		if complete {
			resp, err = s.scans.ScanComplete(r.Context(), req)
		} else {
			resp, err = s.scans.Scan(r.Context(), req)
		}
		if err != nil {
			s.writeServiceError(w, r, "scan", err)
			return
		}

		if pb {
			msg, err := scanResponseToStruct(resp)
			if err != nil {
				s.logger.Error("scan response encode", "err", err)
				writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
				return
			}
			writeProto(w, http.StatusOK, msg)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// ── Presence ─────────────────────────────────────────────────────────────────

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	personID := chi.URLParam(r, "personID")

	at := s.clock.Now()
	if raw := r.URL.Query().Get("at"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "at must be an RFC3339 timestamp")
			return
		}
		at = t
	}

	inside, err := s.presence.IsInsideAt(r.Context(), personID, at)
	if err != nil {
		s.writeServiceError(w, r, "presence", err)
		return
	}
	writeJSON(w, http.StatusOK, types.PresenceResponse{
		PersonID: personID,
		Inside:   inside,
		AsOf:     at.UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) handleOccupants(w http.ResponseWriter, r *http.Request) {
	now := s.clock.Now()
	occ, err := s.presence.CurrentOccupants(r.Context())
	if err != nil {
		s.writeServiceError(w, r, "occupants", err)
		return
	}
	writeJSON(w, http.StatusOK, occupantsResponse(now, occ))
}

// ── Visitors ─────────────────────────────────────────────────────────────────

func (s *Server) handleRegisterVisitor(w http.ResponseWriter, r *http.Request) {
	var req types.RegisterVisitorRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.desk.Register(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, "register visitor", err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// ── Alerts ───────────────────────────────────────────────────────────────────

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.AlertFilter{UnreadOnly: q.Get("unread") == "true"}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}

	alerts, err := s.alerts.ListAlerts(r.Context(), f)
	if err != nil {
		s.writeServiceError(w, r, "list alerts", errors.Join(service.ErrStoreUnavailable, err))
		return
	}
	out := types.AlertsResponse{Alerts: make([]types.AlertRecord, 0, len(alerts))}
	for _, a := range alerts {
		out.Alerts = append(out.Alerts, alertRecord(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMarkAlertRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "alertID")
	err := s.alerts.MarkAlertRead(r.Context(), id, s.clock.Now())
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "no alert "+id)
		return
	case err != nil:
		s.writeServiceError(w, r, "mark alert read", errors.Join(service.ErrStoreUnavailable, err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAlertStream(w http.ResponseWriter, r *http.Request) {
	if s.stream == nil {
		writeError(w, http.StatusNotFound, "not_found", "live alert feed is disabled")
		return
	}
	s.stream.ServeHTTP(w, r)
}

// handleSecurityEvent records an authentication failure reported by the
// admin application. The failed_login rule reads these entries.
func (s *Server) handleSecurityEvent(w http.ResponseWriter, r *http.Request) {
	var req types.SecurityEventRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if model.SecurityCategory(strings.ToUpper(strings.TrimSpace(req.Category))) != model.SecurityAuthFailure {
		writeError(w, http.StatusBadRequest, "invalid_request", "category must be AUTH_FAILURE")
		return
	}
	origin := strings.TrimSpace(req.Origin)
	if origin == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "origin is required")
		return
	}
	at := s.clock.Now()
	if req.OccurredAt != "" {
		t, err := time.Parse(time.RFC3339Nano, req.OccurredAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "occurred_at must be an RFC3339 timestamp")
			return
		}
		at = t
	}

	err := s.security.AppendSecurityEntry(r.Context(), model.SecurityEntry{
		Category:   model.SecurityAuthFailure,
		Subject:    origin,
		OccurredAt: at,
		Detail:     req.Detail,
	})
	if err != nil {
		s.writeServiceError(w, r, "security event", errors.Join(service.ErrStoreUnavailable, err))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	// A client that hangs up does not cut the sweep short.
	rep := s.sweeper.SweepOnce(context.WithoutCancel(r.Context()))
	out := types.SweepResponse{Skipped: rep.Skipped, Rules: make([]types.SweepRuleResult, 0, len(rep.Rules))}
	for _, rr := range rep.Rules {
		res := types.SweepRuleResult{Rule: rr.Rule, Raised: rr.Raised}
		if rr.Err != nil {
			res.Error = s.publicMessage(rr.Err)
		}
		out.Rules = append(out.Rules, res)
	}
	writeJSON(w, http.StatusOK, out)
}

// ── Errors ───────────────────────────────────────────────────────────────────

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCredential):
		writeError(w, http.StatusBadRequest, "invalid_credential", err.Error())
	case errors.Is(err, service.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, service.ErrNotAVisitor):
		writeError(w, http.StatusConflict, "not_a_visitor", err.Error())
	case errors.Is(err, service.ErrPartialCommit):
		s.logger.Error(op+" partial commit", "err", err, "request_id", middleware.GetReqID(r.Context()))
		writeError(w, http.StatusInternalServerError, "partial_commit", s.publicMessage(err))
	case errors.Is(err, service.ErrStoreUnavailable):
		s.logger.Error(op+" store unavailable", "err", err, "request_id", middleware.GetReqID(r.Context()))
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", s.publicMessage(err))
	default:
		s.logger.Error(op+" error", "err", err, "request_id", middleware.GetReqID(r.Context()))
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
	}
}

func (s *Server) publicMessage(err error) string {
	if s.prod {
		return "temporarily unavailable, try again"
	}
	return err.Error()
}

// ── Encoding ─────────────────────────────────────────────────────────────────

// decodeJSON decodes a size-capped JSON body into v. On failure it writes
// the 400 response and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, types.ErrorResponse{Code: code, Message: msg})
}
