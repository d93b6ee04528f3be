// Package api implements the Edge's admin HTTP surface: health,
// readiness, order queries, audit chain verification, sync cursor
// status, and degraded-mode acknowledgement, the same chi-router
// wiring pattern the example corpus's HTTP servers use for their
// health/metrics/domain-route layering.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/posedge/edge/pkg/audit"
	"github.com/posedge/edge/pkg/log"
	"github.com/posedge/edge/pkg/metrics"
	"github.com/posedge/edge/pkg/orders"
	"github.com/posedge/edge/pkg/storage"
)

// Server is the admin API's dependency set and chi router.
type Server struct {
	Router     *chi.Mux
	manager    *orders.Manager
	backing    storage.Store
	auditChain *audit.Chain
	edgeID     string
}

// NewServer builds the admin API router. manager, backing, and
// auditChain must already be open; the caller wraps Router in an
// *http.Server and owns its listen/shutdown lifecycle (see
// pkg/supervisor).
func NewServer(manager *orders.Manager, backing storage.Store, auditChain *audit.Chain, edgeID string) *Server {
	s := &Server{
		Router:     chi.NewRouter(),
		manager:    manager,
		backing:    backing,
		auditChain: auditChain,
		edgeID:     edgeID,
	}

	s.Router.Use(middleware.RequestID)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(requestLogger)

	s.Router.Get("/health", metrics.HealthHandler())
	s.Router.Get("/ready", metrics.ReadyHandler())
	s.Router.Get("/live", metrics.LivenessHandler())
	s.Router.Handle("/metrics", metrics.Handler())

	s.Router.Route("/orders", func(r chi.Router) {
		r.Get("/", s.listActiveOrders)
		r.Get("/{orderID}", s.getOrder)
		r.Get("/{orderID}/events", s.getOrderEvents)
	})

	s.Router.Route("/audit", func(r chi.Router) {
		r.Get("/verify", s.verifyAuditChain)
		r.Post("/{sequence}/acknowledge", s.acknowledgeAuditEntry)
	})

	s.Router.Get("/sync/status", s.syncStatus)

	return s
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		timer := metrics.NewTimer()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		timer.ObserveDurationVec(metrics.APIRequestDuration, r.Method)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(ww.Status())).Inc()
		log.Logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).Int("status", ww.Status()).Dur("duration", time.Since(start)).Msg("admin api request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) listActiveOrders(w http.ResponseWriter, r *http.Request) {
	active, err := s.manager.GetActiveOrders()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, active)
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	snapshot, err := s.manager.GetSnapshot(orderID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if snapshot == nil {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) getOrderEvents(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	events, err := s.manager.GetEventsForOrder(orderID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) verifyAuditChain(w http.ResponseWriter, r *http.Request) {
	result, err := audit.VerifyChain(s.backing)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusOK
	if !result.ChainIntact {
		status = http.StatusConflict
	}
	writeJSON(w, status, result)
}

func (s *Server) acknowledgeAuditEntry(w http.ResponseWriter, r *http.Request) {
	sequence, err := strconv.ParseUint(chi.URLParam(r, "sequence"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "sequence must be a positive integer")
		return
	}

	var body struct {
		ResolvedBy string `json:"resolved_by"`
		Reason     string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.ResolvedBy == "" {
		writeError(w, http.StatusBadRequest, "resolved_by is required")
		return
	}

	if err := s.auditChain.Acknowledge(sequence, body.ResolvedBy, body.Reason, time.Now().UnixMilli()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

func (s *Server) syncStatus(w http.ResponseWriter, r *http.Request) {
	resources := []string{"orders"}
	out := make(map[string]*struct {
		Version   uint64    `json:"version"`
		UpdatedAt time.Time `json:"updated_at"`
	})
	for _, resource := range resources {
		cursor, err := s.backing.GetCursor(s.edgeID, resource)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if cursor == nil {
			continue
		}
		out[resource] = &struct {
			Version   uint64    `json:"version"`
			UpdatedAt time.Time `json:"updated_at"`
		}{Version: cursor.Version, UpdatedAt: cursor.UpdatedAt}
	}
	writeJSON(w, http.StatusOK, out)
}
