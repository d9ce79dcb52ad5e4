package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"spot-orchestrator/api/rest/handlers"
	"spot-orchestrator/core/models"
	"spot-orchestrator/core/orchestrator"

	"github.com/gorilla/mux"
)

// --- fakes ---

type fakeTasks struct {
	submitFn func(ownerID string, input []byte, name string) (string, error)
	getFn    func(id string) (*models.Task, error)
	resultFn func(id string) ([]byte, error)
	listFn   func(ownerID string, limit int) ([]*models.Task, error)
	cancelFn func(id string) (*models.Task, error)
	eventsFn func(id string, limit int) ([]models.TaskEvent, error)
}

func (f *fakeTasks) Submit(_ context.Context, ownerID string, input []byte, name string) (string, error) {
	return f.submitFn(ownerID, input, name)
}
func (f *fakeTasks) Get(_ context.Context, id string) (*models.Task, error) {
	return f.getFn(id)
}
func (f *fakeTasks) FetchResult(_ context.Context, id string) ([]byte, error) {
	return f.resultFn(id)
}
func (f *fakeTasks) ListByOwner(_ context.Context, ownerID string, limit int) ([]*models.Task, error) {
	return f.listFn(ownerID, limit)
}
func (f *fakeTasks) Cancel(_ context.Context, id string) (*models.Task, error) {
	return f.cancelFn(id)
}
func (f *fakeTasks) Events(_ context.Context, id string, limit int) ([]models.TaskEvent, error) {
	return f.eventsFn(id, limit)
}

type fakeMetrics struct {
	body string
	err  error
}

func (f *fakeMetrics) GetPrometheusMetrics(context.Context) (string, error) {
	return f.body, f.err
}

func newRouter(tasks *fakeTasks) *mux.Router {
	r := mux.NewRouter()
	SetupRoutes(r, tasks, &fakeMetrics{body: "spot_active_pollers 1\n"})
	return r
}

func serve(r http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

// --- tests ---

func TestSubmitTask(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var gotOwner, gotName string
	var gotInput []byte

	r := newRouter(&fakeTasks{
		submitFn: func(ownerID string, input []byte, name string) (string, error) {
			gotOwner, gotInput, gotName = ownerID, input, name
			return "task-1", nil
		},
		getFn: func(id string) (*models.Task, error) {
			return &models.Task{ID: id, Status: models.TaskStatusPending, CreatedAt: created}, nil
		},
	})

	// "KDs7KQ==" is base64 for "(;;)"
	rec := serve(r, http.MethodPost, "/v1/tasks", []byte(`{"owner_id":"user-1","name":"game.sgf","input":"KDs7KQ=="}`))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status=%d, want %d body=%s", rec.Code, http.StatusCreated, rec.Body.String())
	}
	if gotOwner != "user-1" || gotName != "game.sgf" || string(gotInput) != "(;;)" {
		t.Fatalf("Submit(%q, %q, %q)", gotOwner, gotInput, gotName)
	}

	var resp struct {
		ID        string    `json:"id"`
		Status    string    `json:"status"`
		CreatedAt time.Time `json:"created_at"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "task-1" || resp.Status != "PENDING" || !resp.CreatedAt.Equal(created) {
		t.Fatalf("response=%+v", resp)
	}
}

func TestSubmitTask_BadRequests(t *testing.T) {
	r := newRouter(&fakeTasks{
		submitFn: func(string, []byte, string) (string, error) {
			t.Fatal("Submit() should not be called on a malformed body")
			return "", nil
		},
	})
	if rec := serve(r, http.MethodPost, "/v1/tasks", []byte(`{not json`)); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status=%d, want 400", rec.Code)
	}

	r = newRouter(&fakeTasks{
		submitFn: func(string, []byte, string) (string, error) {
			return "", fmt.Errorf("%w: input is empty", orchestrator.ErrInvalidInput)
		},
	})
	if rec := serve(r, http.MethodPost, "/v1/tasks", []byte(`{"owner_id":"u"}`)); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid input status=%d, want 400", rec.Code)
	}
}

func TestSubmitTask_BodyTooLarge(t *testing.T) {
	r := newRouter(&fakeTasks{
		submitFn: func(string, []byte, string) (string, error) {
			t.Fatal("Submit() should not be called on an oversized body")
			return "", nil
		},
	})

	body := []byte(`{"owner_id":"u","name":"game.sgf","input":"` + strings.Repeat("A", handlers.MaxSubmitBodyBytes) + `"}`)
	if rec := serve(r, http.MethodPost, "/v1/tasks", body); rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestTaskErrors(t *testing.T) {
	tests := []struct {
		name   string
		method string
		target string
		err    error
		want   int
	}{
		{"get unknown", http.MethodGet, "/v1/tasks/nope", orchestrator.ErrTaskNotFound, http.StatusNotFound},
		{"result unknown", http.MethodGet, "/v1/tasks/nope/result", orchestrator.ErrTaskNotFound, http.StatusNotFound},
		{"result not ready", http.MethodGet, "/v1/tasks/t1/result", orchestrator.ErrNotReady, http.StatusConflict},
		{"result missing", http.MethodGet, "/v1/tasks/t1/result", &orchestrator.ResultMissingError{TaskID: "t1", ResultRef: "results/w/result"}, http.StatusBadGateway},
		{"cancel terminal", http.MethodPost, "/v1/tasks/t1/cancel", orchestrator.ErrTaskTerminal, http.StatusConflict},
		{"cancel unknown", http.MethodPost, "/v1/tasks/nope/cancel", orchestrator.ErrTaskNotFound, http.StatusNotFound},
		{"events unknown", http.MethodGet, "/v1/tasks/nope/events", orchestrator.ErrTaskNotFound, http.StatusNotFound},
		{"internal", http.MethodGet, "/v1/tasks/t1", errors.New("connection reset"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(&fakeTasks{
				getFn:    func(string) (*models.Task, error) { return nil, tt.err },
				resultFn: func(string) ([]byte, error) { return nil, tt.err },
				cancelFn: func(string) (*models.Task, error) { return nil, tt.err },
				eventsFn: func(string, int) ([]models.TaskEvent, error) { return nil, tt.err },
			})

			rec := serve(r, tt.method, tt.target, nil)
			if rec.Code != tt.want {
				t.Fatalf("status=%d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestGetTaskResult(t *testing.T) {
	r := newRouter(&fakeTasks{
		resultFn: func(id string) ([]byte, error) {
			if id != "t1" {
				t.Fatalf("FetchResult(%q), want t1", id)
			}
			return []byte{0x00, 0x01, 0xff}, nil
		},
	})

	rec := serve(r, http.MethodGet, "/v1/tasks/t1/result", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/octet-stream" {
		t.Fatalf("Content-Type=%q", ct)
	}
	if !bytes.Equal(rec.Body.Bytes(), []byte{0x00, 0x01, 0xff}) {
		t.Fatalf("body=%v", rec.Body.Bytes())
	}
}

func TestListTasks(t *testing.T) {
	var gotLimit int
	r := newRouter(&fakeTasks{
		listFn: func(ownerID string, limit int) ([]*models.Task, error) {
			gotLimit = limit
			if ownerID != "user-1" {
				t.Fatalf("ListByOwner(%q), want user-1", ownerID)
			}
			return []*models.Task{{ID: "t1", OwnerID: ownerID, Status: models.TaskStatusExecuting}}, nil
		},
	})

	rec := serve(r, http.MethodGet, "/v1/tasks?owner_id=user-1&limit=5", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	if gotLimit != 5 {
		t.Fatalf("limit=%d, want 5", gotLimit)
	}

	var resp struct {
		Items []models.Task `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Status != models.TaskStatusExecuting {
		t.Fatalf("items=%+v", resp.Items)
	}

	if rec := serve(r, http.MethodGet, "/v1/tasks?owner_id=user-1&limit=-1", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("negative limit status=%d, want 400", rec.Code)
	}
}

func TestCancelTask(t *testing.T) {
	r := newRouter(&fakeTasks{
		cancelFn: func(id string) (*models.Task, error) {
			return &models.Task{ID: id, Status: models.TaskStatusFailed, Error: "task cancelled"}, nil
		},
	})

	rec := serve(r, http.MethodPost, "/v1/tasks/t1/cancel", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	var task models.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &task); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if task.Status != models.TaskStatusFailed || task.Error != "task cancelled" {
		t.Fatalf("task=%+v", task)
	}
}

func TestMetricsAndHealth(t *testing.T) {
	r := newRouter(&fakeTasks{})

	rec := serve(r, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "spot_active_pollers 1\n" {
		t.Fatalf("metrics status=%d body=%q", rec.Code, rec.Body.String())
	}

	rec = serve(r, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("health status=%d body=%q", rec.Code, rec.Body.String())
	}
}
