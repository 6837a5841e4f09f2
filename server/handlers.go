// Package server exposes the pipeline over HTTP: ingest, status, report
// retrieval, and cancellation.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"videoTriage/core"
	"videoTriage/orchestrator"
	"videoTriage/processors"
	"videoTriage/storage"
)

type Server struct {
	Store           storage.Store
	Gate            *processors.Gate
	Orch            *orchestrator.Orchestrator
	DefaultLanguage string
}

// Routes registers all handlers on a fresh mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /requests", s.handleIngest)
	mux.HandleFunc("GET /requests/{id}", s.handleStatus)
	mux.HandleFunc("GET /requests/{id}/report", s.handleReport)
	mux.HandleFunc("POST /requests/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

type ingestRequest struct {
	VideoPath string `json:"video_path"`
	Language  string `json:"language,omitempty"`
}

type ingestResponse struct {
	RequestID string            `json:"request_id"`
	State     core.RequestState `json:"state"`
	Failure   *failureDetail    `json:"failure,omitempty"`
}

type failureDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// handleIngest screens the upload and creates the tracked request. A
// rejected upload still creates the request, already Failed with its
// reason; callers get an id either way.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var in ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if in.VideoPath == "" {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "video_path is required"})
		return
	}
	if in.Language == "" {
		in.Language = s.DefaultLanguage
	}

	now := time.Now().UTC()
	req := &core.AnalysisRequest{
		ID:        core.NewID(),
		VideoPath: in.VideoPath,
		Language:  in.Language,
		State:     core.StateReceived,
		CreatedAt: now,
		UpdatedAt: now,
	}

	duration, err := s.Gate.Screen(r.Context(), in.VideoPath)
	if err != nil {
		req.State = core.StateFailed
		req.FailureCode = core.CodeOf(err)
		req.FailureMessage = err.Error()
	} else {
		req.DurationSec = duration
	}

	if err := s.Store.CreateRequest(r.Context(), req); err != nil {
		slog.Error("request creation failed", "error", err)
		core.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not create request"})
		return
	}
	// The runner picks the request up on its next tick.
	slog.Info("request ingested", "request_id", req.ID, "state", req.State,
		"duration_sec", req.DurationSec)

	resp := ingestResponse{RequestID: req.ID, State: req.State}
	if req.State == core.StateFailed {
		resp.Failure = &failureDetail{Code: req.FailureCode, Message: req.FailureMessage}
	}
	core.WriteJSON(w, http.StatusAccepted, resp)
}

type jobStatus struct {
	Modality  core.Modality `json:"modality"`
	State     core.JobState `json:"state"`
	Attempts  int           `json:"attempts"`
	LastError string        `json:"last_error,omitempty"`
}

type statusResponse struct {
	RequestID string            `json:"request_id"`
	State     core.RequestState `json:"state"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Failure   *failureDetail    `json:"failure,omitempty"`
	Jobs      []jobStatus       `json:"jobs,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	req, err := s.Store.GetRequest(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		core.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "unknown request id"})
		return
	}
	if err != nil {
		core.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	resp := statusResponse{
		RequestID: req.ID,
		State:     req.State,
		CreatedAt: req.CreatedAt,
		UpdatedAt: req.UpdatedAt,
	}
	if req.FailureCode != "" {
		resp.Failure = &failureDetail{Code: req.FailureCode, Message: req.FailureMessage}
	}
	if jobs, err := s.Store.ListJobs(r.Context(), id); err == nil {
		for _, j := range jobs {
			resp.Jobs = append(resp.Jobs, jobStatus{
				Modality:  j.Modality,
				State:     j.State,
				Attempts:  j.Attempts,
				LastError: j.LastError,
			})
		}
	}
	core.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	req, err := s.Store.GetRequest(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		core.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "unknown request id"})
		return
	}
	if err != nil {
		core.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if req.State != core.StateCompleted {
		core.WriteJSON(w, http.StatusConflict, map[string]string{
			"error": "report not available",
			"state": string(req.State),
		})
		return
	}

	report, err := s.Store.GetReport(r.Context(), id)
	if err != nil {
		core.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	core.WriteJSON(w, http.StatusOK, report)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.Orch.Cancel(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			core.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "unknown request id"})
			return
		}
		core.WriteJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	core.WriteJSON(w, http.StatusOK, map[string]string{"request_id": id, "state": string(core.StateCancelled)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	core.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
