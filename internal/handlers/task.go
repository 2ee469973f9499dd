package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/taskforge/apiserver/internal/services"
	"github.com/taskforge/apiserver/internal/store"
)

// taskUpdatableFields is the fixed allow-list for task patches.
var taskUpdatableFields = []string{"description", "completed"}

// TaskHandler provides owner-scoped task CRUD endpoints.
type TaskHandler struct {
	tasks *services.TaskService
}

// NewTaskHandler constructs a TaskHandler with the provided service.
func NewTaskHandler(tasks *services.TaskService) *TaskHandler {
	return &TaskHandler{tasks: tasks}
}

// TaskRouter registers task routes on the given router. Every route
// requires authentication.
func TaskRouter(r chi.Router, tasks *services.TaskService, authMiddleware func(http.Handler) http.Handler) {
	handler := NewTaskHandler(tasks)

	r.Use(authMiddleware)
	r.Post("/", handler.CreateTask)
	r.Get("/", handler.ListTasks)
	r.Route("/{taskID}", func(r chi.Router) {
		r.Get("/", handler.GetTask)
		r.Patch("/", handler.UpdateTask)
		r.Delete("/", handler.DeleteTask)
	})
}

// CreateTask creates a task owned by the caller. Any owner value in the
// request body is ignored.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "please authenticate")
		return
	}

	var req TaskCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	task, err := h.tasks.Create(r.Context(), user.ID, req.Description, req.Completed)
	if err != nil {
		var verrs validation.Errors
		if errors.As(err, &verrs) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"errors": verrs})
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create task")
		return
	}

	writeJSON(w, http.StatusCreated, task)
}

// ListTasks returns the caller's tasks.
//
// GET /tasks?completed=true
// GET /tasks?limit=10&skip=20
// GET /tasks?sortBy=createdAt:desc
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "please authenticate")
		return
	}

	filter := parseTaskFilter(r)
	tasks, err := h.tasks.List(r.Context(), user.ID, filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}

	writeJSON(w, http.StatusOK, tasks)
}

// GetTask returns one of the caller's tasks. A task owned by someone else is
// reported as missing.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "please authenticate")
		return
	}

	id, err := parseTaskID(r)
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}

	task, err := h.tasks.Get(r.Context(), user.ID, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch task")
		return
	}

	writeJSON(w, http.StatusOK, task)
}

// UpdateTask applies an allow-listed patch to one of the caller's tasks.
func (h *TaskHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "please authenticate")
		return
	}

	id, err := parseTaskID(r)
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}

	body, err := decodeAllowListed(r, taskUpdatableFields...)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var patch services.TaskPatch
	if err := json.Unmarshal(body, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	task, err := h.tasks.Update(r.Context(), user.ID, id, patch)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		var verrs validation.Errors
		if errors.As(err, &verrs) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"errors": verrs})
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to update task")
		return
	}

	writeJSON(w, http.StatusOK, task)
}

// DeleteTask removes one of the caller's tasks and returns it.
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "please authenticate")
		return
	}

	id, err := parseTaskID(r)
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}

	task, err := h.tasks.Delete(r.Context(), user.ID, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete task")
		return
	}

	writeJSON(w, http.StatusOK, task)
}

type TaskCreateRequest struct {
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
}

func parseTaskID(r *http.Request) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, "taskID"))
	if err != nil || id < 1 {
		return 0, errors.New("invalid task id")
	}
	return id, nil
}

// parseTaskFilter reads the optional query parameters. Malformed values are
// ignored rather than rejected, mirroring the tolerant query contract.
func parseTaskFilter(r *http.Request) store.TaskFilter {
	filter := store.TaskFilter{}
	query := r.URL.Query()

	if raw := strings.TrimSpace(query.Get("completed")); raw != "" {
		completed := raw == "true"
		filter.Completed = &completed
	}

	if raw := strings.TrimSpace(query.Get("sortBy")); raw != "" {
		parts := strings.SplitN(raw, ":", 2)
		filter.SortField = parts[0]
		filter.SortDesc = len(parts) == 2 && parts[1] == "desc"
	}

	if limit, err := strconv.Atoi(query.Get("limit")); err == nil && limit > 0 {
		filter.Limit = limit
	}
	if skip, err := strconv.Atoi(query.Get("skip")); err == nil && skip > 0 {
		filter.Skip = skip
	}

	return filter
}
