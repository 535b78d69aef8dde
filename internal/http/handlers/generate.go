package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
	"server/internal/middleware"
)

type generateRequest struct {
	Prompt string      `json:"prompt"`
	Output string      `json:"output"`
	Meta   requestMeta `json:"meta"`
}

type requestMeta struct {
	Tone     string `json:"tone"`
	Audience string `json:"audience"`
	Brand    string `json:"brand"`
	Budget   string `json:"budget"`
	Timeline string `json:"timeline"`
}

// Generate accepts a generation request and enqueues it. The job runs
// asynchronously; clients poll the status endpoint with the returned id.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "invalid payload")
		return
	}

	tenantID := middleware.TenantIDFromContext(r.Context())
	job, err := a.Dispatcher.Submit(r.Context(), tenantID, domain.OutputType(req.Output), domain.GenerationRequest{
		Prompt: req.Prompt,
		Meta: domain.RequestMeta{
			Tone:     req.Meta.Tone,
			Audience: req.Meta.Audience,
			Brand:    req.Meta.Brand,
			Budget:   req.Meta.Budget,
			Timeline: req.Meta.Timeline,
			Locale:   middleware.LocaleFromContext(r.Context()),
		},
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRequest) {
			a.error(w, http.StatusBadRequest, err.Error())
			return
		}
		a.Logger.Error().Err(err).Msg("handlers: submit failed")
		a.error(w, http.StatusInternalServerError, "could not enqueue generation")
		return
	}

	a.success(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

// GenerationStatus reports the job's current state, its artifact reference
// once completed, and the failure detail once failed.
func (a *App) GenerationStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "job_id")
	snapshot, err := a.Status.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", id).Msg("handlers: status lookup failed")
		a.error(w, http.StatusInternalServerError, "could not load job")
		return
	}

	a.success(w, http.StatusOK, snapshot)
}

// CancelGeneration flags a job for cancellation. Already-terminal jobs keep
// their outcome; the flag only affects jobs still in flight.
func (a *App) CancelGeneration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "job_id")
	if err := a.Dispatcher.Cancel(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", id).Msg("handlers: cancel failed")
		a.error(w, http.StatusInternalServerError, "could not cancel job")
		return
	}

	a.success(w, http.StatusAccepted, map[string]string{"job_id": id})
}
