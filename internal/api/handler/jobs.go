// Package handler implements the HTTP routes over the job record store and
// the job runner.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/subtitler/internal/api/response"
	"github.com/kiranshivaraju/subtitler/internal/cache"
	"github.com/kiranshivaraju/subtitler/internal/jobs"
	"github.com/kiranshivaraju/subtitler/internal/store"
	"github.com/kiranshivaraju/subtitler/pkg/models"
)

// MediaPrefix is the URL path retained uploads are served under.
const MediaPrefix = "/media/"

const queueRetryAfter = 30 * time.Second

// Submitter creates a job record and queues it for execution.
type Submitter interface {
	Submit(ctx context.Context, task jobs.Task) (*models.Job, error)
}

type JobsConfig struct {
	MediaDir       string
	DownloadDir    string
	MaxUploadBytes int64
}

// Jobs serves the job routes. The cache is optional.
type Jobs struct {
	submitter Submitter
	store     store.Store
	cache     cache.Cache
	cfg       JobsConfig
}

func NewJobs(submitter Submitter, st store.Store, ca cache.Cache, cfg JobsConfig) *Jobs {
	return &Jobs{submitter: submitter, store: st, cache: ca, cfg: cfg}
}

type jobResponse struct {
	ID              uuid.UUID         `json:"id"`
	SourceKind      models.SourceKind `json:"source_kind"`
	SourceReference string            `json:"source_reference"`
	Title           string            `json:"title"`
	Status          string            `json:"status"`
	Phase           models.JobStatus  `json:"phase"`
	Progress        int               `json:"progress"`
	Subtitle        *string           `json:"subtitle,omitempty"`
	ErrorMessage    *string           `json:"error_message,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

func newJobResponse(j *models.Job, withSubtitle bool) jobResponse {
	resp := jobResponse{
		ID:              j.ID,
		SourceKind:      j.SourceKind,
		SourceReference: j.SourceRef,
		Title:           j.Title,
		Status:          j.WireStatus(),
		Phase:           j.Status,
		Progress:        j.Progress,
		ErrorMessage:    j.ErrorMessage,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
	}
	if withSubtitle {
		resp.Subtitle = j.Subtitle
	}
	return resp
}

type acceptedResponse struct {
	JobID  uuid.UUID `json:"job_id"`
	Status string    `json:"status"`
}

// Submit handles POST /api/v1/jobs.
func (h *Jobs) Submit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceURL string `json:"source_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return
	}

	sourceURL := strings.TrimSpace(req.SourceURL)
	if sourceURL == "" {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "source_url is required", nil)
		return
	}
	if u, err := url.ParseRequestURI(sourceURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "source_url must be an http or https link", nil)
		return
	}

	job, err := h.submitter.Submit(r.Context(), jobs.Task{
		Kind:      models.SourceRemote,
		SourceRef: sourceURL,
	})
	if err != nil {
		writeSubmitError(w, err)
		return
	}

	response.Accepted(w, acceptedResponse{JobID: job.ID, Status: string(job.Status)})
}

func writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrQueueFull):
		response.RetryLater(w, http.StatusServiceUnavailable, queueRetryAfter, "QUEUE_FULL",
			"Too many jobs in progress, try again later", nil)
	case errors.Is(err, jobs.ErrRunnerClosed):
		response.Error(w, http.StatusServiceUnavailable, "SHUTTING_DOWN",
			"The server is shutting down", nil)
	default:
		slog.Error("submit job failed", "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}

// List handles GET /api/v1/jobs.
func (h *Jobs) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := store.JobFilter{}
	var err error
	if filter.Page, err = queryInt(q, "page"); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "page must be an integer", nil)
		return
	}
	if filter.Limit, err = queryInt(q, "limit"); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be an integer", nil)
		return
	}
	if s := q.Get("status"); s != "" {
		status := models.JobStatus(s)
		switch status {
		case models.JobStatusPending, models.JobStatusProcessing, models.JobStatusCompleted, models.JobStatusError:
			filter.Status = status
		default:
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"status must be one of pending, processing, completed, error", nil)
			return
		}
	}
	filter = filter.Normalized()

	list, total, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		slog.Error("list jobs failed", "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list jobs", nil)
		return
	}

	items := make([]jobResponse, 0, len(list))
	for _, j := range list {
		items = append(items, newJobResponse(j, false))
	}
	response.Collection(w, items, response.NewPaginationMeta(filter.Page, filter.Limit, total))
}

func queryInt(q url.Values, key string) (int, error) {
	v := q.Get(key)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

// Get handles GET /api/v1/jobs/{jobID}.
func (h *Jobs) Get(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}
	response.JSON(w, newJobResponse(job, true))
}

type progressResponse struct {
	JobID     uuid.UUID `json:"job_id"`
	Progress  int       `json:"progress"`
	Phase     string    `json:"phase"`
	Title     string    `json:"title,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Progress handles GET /api/v1/jobs/{jobID}/progress. The cached snapshot is
// preferred; the store answers when the cache has nothing.
func (h *Jobs) Progress(w http.ResponseWriter, r *http.Request) {
	id, ok := parseJobID(w, r)
	if !ok {
		return
	}

	if h.cache != nil {
		snap, found, err := h.cache.GetJobProgress(r.Context(), id)
		if err != nil {
			slog.Warn("progress cache read failed", "job_id", id, "error", err)
		}
		if found {
			response.JSON(w, progressResponse{
				JobID:     id,
				Progress:  snap.Percent,
				Phase:     snap.Phase,
				Title:     snap.Title,
				UpdatedAt: snap.UpdatedAt,
			})
			return
		}
	}

	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}
	response.JSON(w, progressResponse{
		JobID:     job.ID,
		Progress:  job.Progress,
		Phase:     string(job.Status),
		Title:     job.Title,
		UpdatedAt: job.UpdatedAt,
	})
}

// UpdateTitle handles PATCH /api/v1/jobs/{jobID}.
func (h *Jobs) UpdateTitle(w http.ResponseWriter, r *http.Request) {
	id, ok := parseJobID(w, r)
	if !ok {
		return
	}

	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "title is required", nil)
		return
	}

	if err := h.store.UpdateJob(r.Context(), id, store.WithTitle(title)); err != nil {
		writeStoreError(w, id, err)
		return
	}

	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}
	response.JSON(w, newJobResponse(job, false))
}

// Delete handles DELETE /api/v1/jobs/{jobID}. Retained upload media is
// removed with the record.
func (h *Jobs) Delete(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteJob(r.Context(), job.ID); err != nil {
		writeStoreError(w, job.ID, err)
		return
	}

	if job.SourceKind == models.SourceUpload {
		h.removeMedia(job)
	}
	if h.cache != nil {
		if err := h.cache.DeleteJobProgress(r.Context(), job.ID); err != nil {
			slog.Warn("progress cache delete failed", "job_id", job.ID, "error", err)
		}
	}

	slog.Info("job deleted", "job_id", job.ID)
	response.NoContent(w)
}

func (h *Jobs) removeMedia(job *models.Job) {
	name := filepath.Base(strings.TrimPrefix(job.SourceRef, MediaPrefix))
	if name == "." || name == "/" || h.cfg.MediaDir == "" {
		return
	}
	path := filepath.Join(h.cfg.MediaDir, name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("remove media failed", "job_id", job.ID, "path", path, "error", err)
	}
}

func (h *Jobs) loadJob(w http.ResponseWriter, r *http.Request) (*models.Job, bool) {
	id, ok := parseJobID(w, r)
	if !ok {
		return nil, false
	}
	job, err := h.store.GetJob(r.Context(), id)
	if err != nil {
		writeStoreError(w, id, err)
		return nil, false
	}
	return job, true
}

func parseJobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_JOB_ID", "Job id must be a UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

func writeStoreError(w http.ResponseWriter, id uuid.UUID, err error) {
	if errors.Is(err, store.ErrNotFound) {
		response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
		return
	}
	slog.Error("store operation failed", "job_id", id, "error", err)
	response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
}
