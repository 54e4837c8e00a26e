package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"fairdatastation/internal/apperr"
	"fairdatastation/internal/config"
	"fairdatastation/internal/jobs"
	"fairdatastation/internal/ratelimit"
	"fairdatastation/internal/telemetry"
)

// Limiter throttles train intake per client.
type Limiter interface {
	Allow(ctx context.Context, client string) (ratelimit.Decision, error)
}

// Server wires HTTP handlers for the station API.
type Server struct {
	cfg     config.Config
	jobs    *jobs.Service
	limiter Limiter
}

// New constructs the API server. A nil limiter disables intake throttling.
func New(cfg config.Config, svc *jobs.Service, limiter Limiter) *Server {
	return &Server{
		cfg:     cfg,
		jobs:    svc,
		limiter: limiter,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Get("/", s.handleInfo)
	r.With(s.throttle).Post("/trains", s.handleTrain)
	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", s.handleListJobs)
		r.Get("/{id}", s.handleGetJob)
		r.Get("/{id}/events", s.handleListEvents)
		r.Get("/{id}/artifacts", s.handleListArtifacts)
		r.Get("/{id}/artifacts/{artifactId}/download", s.handleDownload)
	})
	return r
}

type infoResponse struct {
	TrainEndpoint string `json:"trainEndpoint"`
	JobsEndpoint  string `json:"jobsEndpoint"`
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	base := s.cfg.PublicURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	writeJSON(w, http.StatusOK, infoResponse{TrainEndpoint: base + "/trains", JobsEndpoint: base + "/jobs"})
}

func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		client := clientFromRequest(r)
		d, err := s.limiter.Allow(r.Context(), client)
		if err != nil {
			log.Printf("rate limit error client=%s: %v", client, err)
			writeError(w, http.StatusInternalServerError, "rate limit error")
			return
		}
		if !d.Allowed {
			telemetry.IntakeRateLimited.Inc()
			if secs := int(d.RetryAfter.Seconds() + 0.999); secs > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(secs))
			}
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	var req jobs.TrainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	resp, err := s.jobs.AcceptTrain(r.Context(), req)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 0)
	size := queryInt(r, "size", 20)
	p, err := s.jobs.ListJobs(r.Context(), page, size)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id", "Job")
	if !ok {
		return
	}
	job, err := s.jobs.GetJob(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id", "Job")
	if !ok {
		return
	}
	events, err := s.jobs.ListEvents(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id", "Job")
	if !ok {
		return
	}
	list, err := s.jobs.ListArtifacts(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathUUID(w, r, "id", "Job")
	if !ok {
		return
	}
	artifactID, ok := pathUUID(w, r, "artifactId", "JobArtifact")
	if !ok {
		return
	}
	a, data, err := s.jobs.GetArtifactData(r.Context(), jobID, artifactID)
	if err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", a.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", "attachment;filename="+a.Filename)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// fail maps a service error onto a status code.
func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeError(w, http.StatusNotFound, apperr.Message(err))
	case errors.Is(err, apperr.ErrValidation):
		writeError(w, http.StatusBadRequest, apperr.Message(err))
	default:
		log.Printf("api error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func pathUUID(w http.ResponseWriter, r *http.Request, param, entity string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, param)
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusNotFound, apperr.Message(apperr.NotFound(entity, raw)))
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// clientFromRequest keys the intake bucket on the first forwarded address,
// falling back to the peer address.
func clientFromRequest(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type errorResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Status: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("api: encode response: %v", fmt.Errorf("status %d: %w", code, err))
	}
}
