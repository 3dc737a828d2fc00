package server

import (
	"encoding/json"
	"io"
	"maps"
	"net/http"
	"time"

	"codeberg.org/mutker/healthsynth/internal/catalog"
	"codeberg.org/mutker/healthsynth/internal/errors"
	"codeberg.org/mutker/healthsynth/internal/joblog"
	"codeberg.org/mutker/healthsynth/internal/orchestrator"
	"github.com/gorilla/mux"
)

const dateLayout = "2006-01-02"

// RunRequest is the optional body of POST /v1/generate and /v1/delete.
type RunRequest struct {
	From      string          `json:"from,omitempty"`
	To        string          `json:"to,omitempty"`
	Selection map[string]bool `json:"selection,omitempty"`
}

type RunResponse struct {
	Status string             `json:"status"`
	Kind   string             `json:"kind"`
	State  orchestrator.State `json:"state"`
}

type StatusResponse struct {
	State      orchestrator.State   `json:"state"`
	Authorized bool                 `json:"authorized"`
	LastRun    *orchestrator.Report `json:"last_run,omitempty"`
}

type LogResponse struct {
	Entries []joblog.Entry `json:"entries"`
}

type SelectRequest struct {
	Selected *bool `json:"selected"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Streams int    `json:"streams"`
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Authorize(r.Context()); err != nil {
		respondError(w, statusOf(err), err)
		return
	}
	respondJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	s.startRun(w, r, orchestrator.PhaseGenerate)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	s.startRun(w, r, orchestrator.PhaseDelete)
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request, kind string) {
	req, err := s.runRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	var reports <-chan orchestrator.Report
	if kind == orchestrator.PhaseGenerate {
		reports, err = s.orch.StartGeneration(s.runCtx, req)
	} else {
		reports, err = s.orch.StartDeletion(s.runCtx, req)
	}
	if err != nil {
		status := statusOf(err)
		if errors.HasCode(err, catalog.ErrUnknownMetric) {
			status = http.StatusBadRequest
		}
		s.log.Warn().Str("kind", kind).Str("error_code", string(errors.CodeOf(err))).Msg("Run refused")
		respondError(w, status, err)
		return
	}

	s.track(reports)
	respondJSON(w, http.StatusAccepted, RunResponse{
		Status: "started",
		Kind:   kind,
		State:  s.orch.State(),
	})
}

// runRequest decodes the optional body over the server defaults.
func (s *Server) runRequest(r *http.Request) (orchestrator.Request, error) {
	errFactory := errors.New()
	req := s.defaults

	var body RunRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err != io.EOF {
		return req, errFactory.Wrap(errors.ErrInvalidArgument, err)
	}

	if body.From != "" || body.To != "" {
		if body.From == "" || body.To == "" {
			return req, errFactory.WithMessage(errors.ErrInvalidArgument, "from and to must be set together")
		}
		from, err := time.ParseInLocation(dateLayout, body.From, time.Local)
		if err != nil {
			return req, errFactory.Wrap(errors.ErrInvalidArgument, err)
		}
		to, err := time.ParseInLocation(dateLayout, body.To, time.Local)
		if err != nil {
			return req, errFactory.Wrap(errors.ErrInvalidArgument, err)
		}
		req.From, req.To = from, to
	}
	if body.Selection != nil {
		req.Selection = make(map[string]bool, len(s.defaults.Selection)+len(body.Selection))
		maps.Copy(req.Selection, s.defaults.Selection)
		maps.Copy(req.Selection, body.Selection)
	}
	return req, nil
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.status())
}

func (s *Server) status() StatusResponse {
	return StatusResponse{
		State:      s.orch.State(),
		Authorized: s.orch.Authorized(),
		LastRun:    s.lastReport(),
	}
}

func (s *Server) handleLog(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, LogResponse{Entries: s.sink.Entries()})
}

func (s *Server) handleClearLog(w http.ResponseWriter, _ *http.Request) {
	s.sink.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.catalog.All())
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var body SelectRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Selected == nil {
		respondError(w, http.StatusBadRequest,
			errors.New().WithMessage(errors.ErrInvalidArgument, `body must be {"selected": bool}`))
		return
	}

	if err := s.catalog.SetSelected(name, *body.Selected); err != nil {
		respondError(w, statusOf(err), err)
		return
	}

	m, _ := s.catalog.Get(name)
	s.log.Info().Str("metric", name).Bool("selected", m.Selected).Msg("Metric selection changed")
	respondJSON(w, http.StatusOK, m)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		Streams: s.streams.count(),
	})
}
