package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"spot-orchestrator/core/models"
	"spot-orchestrator/core/orchestrator"

	"github.com/gorilla/mux"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500

	// MaxSubmitBodyBytes caps a submit request, base64 input included
	MaxSubmitBodyBytes = 16 << 20
)

// TaskService is the orchestrator surface exposed over HTTP
type TaskService interface {
	Submit(ctx context.Context, ownerID string, input []byte, name string) (string, error)
	Get(ctx context.Context, id string) (*models.Task, error)
	FetchResult(ctx context.Context, id string) ([]byte, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*models.Task, error)
	Cancel(ctx context.Context, id string) (*models.Task, error)
	Events(ctx context.Context, id string, limit int) ([]models.TaskEvent, error)
}

// TaskHandler handles task-related HTTP requests
type TaskHandler struct {
	tasks TaskService
}

// NewTaskHandler creates a new task handler
func NewTaskHandler(tasks TaskService) *TaskHandler {
	return &TaskHandler{tasks: tasks}
}

// SubmitTaskRequest represents the request to submit a task.
// Input is base64 in JSON.
type SubmitTaskRequest struct {
	OwnerID string `json:"owner_id"`
	Name    string `json:"name"`
	Input   []byte `json:"input"`
}

// SubmitTaskResponse represents the response after submitting a task
type SubmitTaskResponse struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// SubmitTask handles POST /v1/tasks
func (h *TaskHandler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxSubmitBodyBytes)

	var req SubmitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	id, err := h.tasks.Submit(r.Context(), req.OwnerID, req.Input, req.Name)
	if err != nil {
		if errors.Is(err, orchestrator.ErrInvalidInput) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Printf("Failed to submit task: %v", err)
		http.Error(w, "Failed to submit task", http.StatusInternalServerError)
		return
	}

	task, err := h.tasks.Get(r.Context(), id)
	if err != nil {
		log.Printf("Failed to load submitted task %s: %v", id, err)
		http.Error(w, "Failed to load task", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, SubmitTaskResponse{
		ID:        task.ID,
		Status:    string(task.Status),
		CreatedAt: task.CreatedAt,
	})
}

// GetTask handles GET /v1/tasks/{id}
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.tasks.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// ListTasks handles GET /v1/tasks?owner_id=&limit=
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		http.Error(w, "Invalid limit", http.StatusBadRequest)
		return
	}

	tasks, err := h.tasks.ListByOwner(r.Context(), r.URL.Query().Get("owner_id"), limit)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": tasks,
	})
}

// GetTaskResult handles GET /v1/tasks/{id}/result
func (h *TaskHandler) GetTaskResult(w http.ResponseWriter, r *http.Request) {
	data, err := h.tasks.FetchResult(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeTaskError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// CancelTask handles POST /v1/tasks/{id}/cancel
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.tasks.Cancel(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// GetTaskEvents handles GET /v1/tasks/{id}/events
func (h *TaskHandler) GetTaskEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		http.Error(w, "Invalid limit", http.StatusBadRequest)
		return
	}

	events, err := h.tasks.Events(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	if events == nil {
		events = []models.TaskEvent{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": events,
	})
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, nil
}

// writeTaskError maps orchestrator errors to status codes without leaking internals
func writeTaskError(w http.ResponseWriter, err error) {
	var missing *orchestrator.ResultMissingError
	switch {
	case errors.Is(err, orchestrator.ErrTaskNotFound):
		http.Error(w, "Task not found", http.StatusNotFound)
	case errors.Is(err, orchestrator.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, orchestrator.ErrNotReady):
		http.Error(w, "Task result is not ready", http.StatusConflict)
	case errors.Is(err, orchestrator.ErrTaskTerminal):
		http.Error(w, "Task already finished", http.StatusConflict)
	case errors.As(err, &missing):
		log.Printf("Result missing: %v", err)
		http.Error(w, "Task result is missing", http.StatusBadGateway)
	default:
		log.Printf("Request failed: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
