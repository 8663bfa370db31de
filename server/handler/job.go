package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/raystack/salt/log"

	"github.com/odpf/custodian/core/job"
	"github.com/odpf/custodian/core/job/queue"
	"github.com/odpf/custodian/internal/errors"
)

// JobOrchestrator is the in-process surface the HTTP layer drives.
type JobOrchestrator interface {
	Submit(ctx context.Context, j *job.Job) error
	Cancel(id job.ID) error
	Get(id job.ID) (*job.Job, error)
	List() []*job.Job
	Stream(ctx context.Context, id job.ID, taskIndex int) <-chan job.Event
}

// JobArchive serves jobs that finished before this process started.
type JobArchive interface {
	GetByID(ctx context.Context, id job.ID) (*job.Job, error)
	GetAll(ctx context.Context, limit int) ([]*job.Job, error)
}

type QueueInspector interface {
	Stats() queue.Stats
}

type JobHandler struct {
	l       log.Logger
	runner  JobOrchestrator
	archive JobArchive
	queues  QueueInspector
}

func NewJobHandler(logger log.Logger, runner JobOrchestrator, archive JobArchive, queues QueueInspector) *JobHandler {
	return &JobHandler{
		l:       logger,
		runner:  runner,
		archive: archive,
		queues:  queues,
	}
}

func (h *JobHandler) Register(r *mux.Router) {
	r.HandleFunc("/v1/jobs", h.CreateJob).Methods(http.MethodPost)
	r.HandleFunc("/v1/jobs", h.ListJobs).Methods(http.MethodGet)
	r.HandleFunc("/v1/jobs/{id}", h.GetJob).Methods(http.MethodGet)
	r.HandleFunc("/v1/jobs/{id}/cancel", h.CancelJob).Methods(http.MethodPost)
	r.HandleFunc("/v1/jobs/{id}/stream", h.StreamJob).Methods(http.MethodGet)
	r.HandleFunc("/v1/queue/stats", h.QueueStats).Methods(http.MethodGet)
}

type taskRequest struct {
	Kind       string                 `json:"kind"`
	Name       string                 `json:"name"`
	Order      int                    `json:"order"`
	Parameters map[string]interface{} `json:"parameters"`
}

type createJobRequest struct {
	Type                 string        `json:"type"`
	RepositoryID         int           `json:"repository_id"`
	Tasks                []taskRequest `json:"tasks"`
	CloudSyncConfigID    int           `json:"cloud_sync_config_id"`
	PruneConfigID        int           `json:"prune_config_id"`
	CheckConfigID        int           `json:"check_config_id"`
	NotificationConfigID int           `json:"notification_config_id"`
}

type taskResponse struct {
	Kind        string     `json:"kind"`
	Name        string     `json:"name"`
	Order       int        `json:"order"`
	Status      string     `json:"status"`
	ReturnCode  *int       `json:"return_code,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	OutputLines []string   `json:"output_lines,omitempty"`
}

type jobResponse struct {
	ID             string         `json:"id"`
	RepositoryID   int            `json:"repository_id"`
	Type           string         `json:"type"`
	Mode           string         `json:"mode"`
	Status         string         `json:"status"`
	Error          string         `json:"error,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     *time.Time     `json:"finished_at,omitempty"`
	TotalTasks     int            `json:"total_tasks"`
	CompletedTasks int            `json:"completed_tasks"`
	Tasks          []taskResponse `json:"tasks"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (*JobHandler) toJobResponse(j *job.Job) jobResponse {
	resp := jobResponse{
		ID:             j.ID.String(),
		RepositoryID:   j.RepositoryID,
		Type:           j.Type.String(),
		Mode:           j.Mode.String(),
		Status:         j.Status.String(),
		Error:          j.Error,
		StartedAt:      j.StartedAt,
		FinishedAt:     j.FinishedAt,
		TotalTasks:     j.TotalTasks(),
		CompletedTasks: j.CompletedTasks(),
	}
	for _, t := range j.Tasks {
		resp.Tasks = append(resp.Tasks, taskResponse{
			Kind:        t.Kind.String(),
			Name:        t.Name,
			Order:       t.Order,
			Status:      t.Status.String(),
			ReturnCode:  t.ReturnCode,
			Error:       t.Error,
			StartedAt:   t.StartedAt,
			CompletedAt: t.CompletedAt,
			OutputLines: t.OutputLines,
		})
	}
	return resp
}

func (h *JobHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	jobType := job.TypeComposite
	if req.Type != "" {
		jobType = job.Type(req.Type)
	}

	tasks := make([]*job.Task, 0, len(req.Tasks))
	for _, tr := range req.Tasks {
		kind, err := job.KindFrom(tr.Kind)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		params := tr.Parameters
		if kind == job.KindHook {
			params = withDecodedHooks(params)
		}
		tasks = append(tasks, job.NewTask(kind, tr.Name, tr.Order, params))
	}

	spec, err := job.NewComposite(jobType, req.RepositoryID, tasks)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	spec.CloudSyncConfigID = req.CloudSyncConfigID
	spec.PruneConfigID = req.PruneConfigID
	spec.CheckConfigID = req.CheckConfigID
	spec.NotificationConfigID = req.NotificationConfigID

	if err := h.runner.Submit(r.Context(), spec); err != nil {
		writeDomainError(w, err)
		return
	}

	h.l.Info("job accepted", "job_id", spec.ID.String(), "tasks", len(spec.Tasks))
	writeJSON(w, http.StatusCreated, h.toJobResponse(spec))
}

// withDecodedHooks rebuilds the hooks parameter as typed hook values;
// after JSON decoding it arrives as a slice of untyped maps.
func withDecodedHooks(params map[string]interface{}) map[string]interface{} {
	if params == nil {
		return nil
	}
	raw, ok := params[job.ParamHooks].([]interface{})
	if !ok {
		return params
	}
	hooks := make([]job.Hook, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		hook := job.Hook{}
		if v, ok := entry["name"].(string); ok {
			hook.Name = v
		}
		if v, ok := entry["command"].(string); ok {
			hook.Command = v
		}
		if v, ok := entry["critical"].(bool); ok {
			hook.Critical = v
		}
		if v, ok := entry["run_on_job_failure"].(bool); ok {
			hook.RunOnJobFailure = v
		}
		hooks = append(hooks, hook)
	}
	params[job.ParamHooks] = hooks
	return params
}

func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := job.IDFrom(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	spec, err := h.runner.Get(id)
	if err != nil {
		spec, err = h.archive.GetByID(r.Context(), id)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toJobResponse(spec))
}

func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit "+raw)
			return
		}
		limit = parsed
	}

	seen := map[job.ID]bool{}
	out := []jobResponse{}
	for _, spec := range h.runner.List() {
		seen[spec.ID] = true
		out = append(out, h.toJobResponse(spec))
	}

	archived, err := h.archive.GetAll(r.Context(), limit)
	if err != nil {
		h.l.Error("listing archived jobs", "error", err)
	} else {
		for _, spec := range archived {
			if seen[spec.ID] {
				continue
			}
			out = append(out, h.toJobResponse(spec))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := job.IDFrom(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.runner.Cancel(id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "cancellation requested"})
}

// StreamJob serves the live event feed as server-sent events. The
// optional task_index query parameter scopes the feed to one task.
func (h *JobHandler) StreamJob(w http.ResponseWriter, r *http.Request) {
	id, err := job.IDFrom(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	taskIndex := -1
	if raw := r.URL.Query().Get("task_index"); raw != "" {
		taskIndex, err = strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid task_index "+raw)
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for e := range h.runner.Stream(r.Context(), id, taskIndex) {
		payload, err := json.Marshal(e)
		if err != nil {
			h.l.Error("encoding stream event", "error", err)
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, payload)
		flusher.Flush()
	}
}

func (h *JobHandler) QueueStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.queues.Stats())
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.IsErrorType(err, errors.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.IsErrorType(err, errors.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.IsErrorType(err, errors.ErrAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.IsErrorType(err, errors.ErrFailedPrecond):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
