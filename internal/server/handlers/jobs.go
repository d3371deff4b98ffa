package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	schemasassets "github.com/3leaps/texttailor/internal/assets/schemas"
	apperrors "github.com/3leaps/texttailor/internal/errors"
	"github.com/3leaps/texttailor/pkg/contentjob"
	"github.com/3leaps/texttailor/pkg/ghost"
	"github.com/3leaps/texttailor/pkg/jobregistry"
)

// Messages returned by the job endpoints.
const (
	MsgJobCancelled = "Job cancelled successfully."
	MsgJobNotFound  = "Job not found or already completed."
	MsgInvalidBody  = "Invalid request body."
)

// DefaultHeartbeat is the SSE keep-alive interval.
const DefaultHeartbeat = 15 * time.Second

const maxRequestBody = 1 << 20

// ReplaceTextRequest is the body of POST /replace-text.
type ReplaceTextRequest struct {
	AdminKey        string `json:"adminKey"`
	APIURL          string `json:"apiUrl"`
	TextToReplace   string `json:"textToReplace"`
	ReplacementText string `json:"replacementText"`
	Filter          string `json:"filter,omitempty"`
}

// ReplaceTextResponse names the two companion jobs of a request.
type ReplaceTextResponse struct {
	PostJobID string `json:"postJobId"`
	PageJobID string `json:"pageJobId"`
}

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}

// ClientFactory builds a Ghost client for one request.
type ClientFactory func(apiURL, adminKey string) (*ghost.Client, error)

// JobsHandler serves job creation, progress streams and cancellation.
type JobsHandler struct {
	registry  *jobregistry.Registry
	newClient ClientFactory
	options   contentjob.Options
	heartbeat time.Duration
	logger    *zap.Logger
}

// JobsOption configures a JobsHandler.
type JobsOption func(*JobsHandler)

// WithGhostConfig sets the template for per-request Ghost clients. URL and
// AdminKey come from each request.
func WithGhostConfig(cfg ghost.Config) JobsOption {
	return func(h *JobsHandler) {
		h.newClient = func(apiURL, adminKey string) (*ghost.Client, error) {
			c := cfg
			c.URL = apiURL
			c.AdminKey = adminKey
			return ghost.New(c)
		}
	}
}

// WithClientFactory overrides how Ghost clients are built.
func WithClientFactory(fn ClientFactory) JobsOption {
	return func(h *JobsHandler) {
		if fn != nil {
			h.newClient = fn
		}
	}
}

// WithJobOptions sets the collaborators shared by launched jobs.
func WithJobOptions(opts contentjob.Options) JobsOption {
	return func(h *JobsHandler) { h.options = opts }
}

// WithHeartbeat sets the SSE keep-alive interval. Zero disables it.
func WithHeartbeat(d time.Duration) JobsOption {
	return func(h *JobsHandler) { h.heartbeat = d }
}

// WithJobsLogger sets the handler logger.
func WithJobsLogger(logger *zap.Logger) JobsOption {
	return func(h *JobsHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewJobsHandler creates a handler launching jobs on reg.
func NewJobsHandler(reg *jobregistry.Registry, opts ...JobsOption) *JobsHandler {
	h := &JobsHandler{
		registry:  reg,
		heartbeat: DefaultHeartbeat,
		logger:    zap.NewNop(),
	}
	WithGhostConfig(ghost.Config{})(h)
	for _, opt := range opts {
		opt(h)
	}
	if h.options.Logger == nil {
		h.options.Logger = h.logger
	}
	return h
}

// Routes mounts the job endpoints on r.
func (h *JobsHandler) Routes(r chi.Router) {
	r.Post("/replace-text", h.ReplaceText)
	r.Get("/job-progress/{jobId}", h.JobProgress)
	r.Get("/cancel-job/{jobId}", h.CancelJob)
	r.Post("/cancel-job/{jobId}", h.CancelJob)
	r.Get("/jobs", h.ListJobs)
	r.Get("/jobs/{jobId}", h.GetJob)
}

// ReplaceText validates the request and starts the posts and pages jobs.
func (h *JobsHandler) ReplaceText(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		respondWithError(w, r, apperrors.NewValidationError(MsgInvalidBody, nil))
		return
	}
	if len(body) > maxRequestBody {
		respondWithError(w, r, apperrors.NewValidationError("request body too large", nil))
		return
	}

	issues, err := schemasassets.ReplaceRequest.ValidateJSON(body)
	if err != nil {
		respondWithError(w, r, apperrors.NewValidationError(MsgInvalidBody,
			map[string]any{"reason": err.Error()}))
		return
	}
	if len(issues) > 0 {
		respondWithError(w, r, apperrors.NewValidationError("Missing or invalid fields.",
			map[string]any{"issues": issues}))
		return
	}

	var req ReplaceTextRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondWithError(w, r, apperrors.NewValidationError(MsgInvalidBody, nil))
		return
	}

	client, err := h.newClient(req.APIURL, req.AdminKey)
	if err != nil {
		respondWithError(w, r, apperrors.NewValidationError("Invalid Ghost connection settings.",
			map[string]any{"reason": err.Error()}))
		return
	}

	ids, err := contentjob.Launch(h.registry, client, contentjob.Request{
		Target:      req.TextToReplace,
		Replacement: req.ReplacementText,
		Filter:      req.Filter,
	}, h.options, ghost.ResourcePosts, ghost.ResourcePages)
	switch {
	case errors.Is(err, jobregistry.ErrRegistryClosed):
		respondWithError(w, r, apperrors.NewServiceUnavailableError("server is shutting down", nil))
		return
	case err != nil:
		respondWithError(w, r, apperrors.NewValidationError(err.Error(), nil))
		return
	}

	h.logger.Info("Replacement jobs started",
		zap.String("post_job_id", ids[0]),
		zap.String("page_job_id", ids[1]),
		zap.String("api_url", client.BaseURL()))

	apperrors.WriteJSON(w, http.StatusOK, ReplaceTextResponse{PostJobID: ids[0], PageJobID: ids[1]})
}

// JobProgress streams a job's lifecycle as server-sent events.
func (h *JobsHandler) JobProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobId")
	if _, ok := h.registry.Get(id); !ok {
		respondWithError(w, r, apperrors.NewNotFoundError("Job not found."))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondWithError(w, r, apperrors.NewInternalError("streaming not supported", nil))
		return
	}

	// Streams outlive the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	sse := &sseWriter{w: w, flusher: flusher}
	sse.start()

	stop := h.keepAlive(sse)
	defer stop()

	err := jobregistry.Stream(r.Context(), h.registry, id, jobregistry.SinkFunc(sse.send))
	switch {
	case err == nil:
	case errors.Is(err, jobregistry.ErrJobNotFound):
		// Retired between the lookup and the subscription.
		_ = sse.send(jobregistry.Event{Type: jobregistry.EventCleanup, JobID: id})
	case r.Context().Err() != nil:
		h.logger.Debug("Progress stream detached", zap.String("job_id", id))
	default:
		h.logger.Warn("Progress stream ended", zap.String("job_id", id), zap.Error(err))
	}
}

func (h *JobsHandler) keepAlive(sse *sseWriter) (stop func()) {
	if h.heartbeat <= 0 {
		return func() {}
	}
	ticker := time.NewTicker(h.heartbeat)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := sse.comment("heartbeat"); err != nil {
					return
				}
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(done)
		wg.Wait()
	}
}

// CancelJob cancels an in-progress job.
func (h *JobsHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobId")
	if !h.registry.Cancel(id) {
		respondWithError(w, r, apperrors.NewNotFoundError(MsgJobNotFound))
		return
	}
	h.logger.Info("Job cancelled", zap.String("job_id", id))
	apperrors.WriteJSON(w, http.StatusOK, MessageResponse{Message: MsgJobCancelled})
}

// GetJob returns a job snapshot.
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobId")
	snap, ok := h.registry.Get(id)
	if !ok {
		respondWithError(w, r, apperrors.NewNotFoundError(fmt.Sprintf("job %s not found", id)))
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, snap)
}

// ListJobs returns snapshots of every live job, newest first.
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.registry.List()
	if jobs == nil {
		jobs = []jobregistry.Snapshot{}
	}
	apperrors.WriteJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}
