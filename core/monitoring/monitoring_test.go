package monitoring

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"spot-orchestrator/core/models"
)

type fakeCounter struct {
	countFn func() (map[models.TaskStatus]int64, error)
}

func (f *fakeCounter) CountByStatus(context.Context) (map[models.TaskStatus]int64, error) {
	return f.countFn()
}

type fakePollers int

func (f fakePollers) ActivePollers() int { return int(f) }

type fakeLister struct {
	tasks []*models.Task
}

func (f *fakeLister) ListActive(context.Context) ([]*models.Task, error) {
	return f.tasks, nil
}

type fakeResumer struct {
	resumed []string
	tracked map[string]bool
}

func (f *fakeResumer) Resume(id string) bool {
	if f.tracked[id] {
		return false
	}
	f.resumed = append(f.resumed, id)
	return true
}

func TestGetPrometheusMetrics(t *testing.T) {
	me := NewMetricsExporter(&fakeCounter{countFn: func() (map[models.TaskStatus]int64, error) {
		return map[models.TaskStatus]int64{
			models.TaskStatusExecuting: 2,
			models.TaskStatusPending:   1,
			models.TaskStatusCompleted: 7,
		}, nil
	}}, fakePollers(3))

	out, err := me.GetPrometheusMetrics(context.Background())
	if err != nil {
		t.Fatalf("GetPrometheusMetrics() err=%v", err)
	}

	for _, want := range []string{
		"# TYPE spot_tasks gauge\n",
		"spot_tasks{status=\"EXECUTING\"} 2\n",
		"spot_tasks{status=\"COMPLETED\"} 7\n",
		"spot_tasks{status=\"FAILED\"} 0\n",
		"spot_tasks_active 3\n",
		"spot_active_pollers 3\n",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("metrics missing %q:\n%s", want, out)
		}
	}
}

func TestGetPrometheusMetrics_RegistryError(t *testing.T) {
	me := NewMetricsExporter(&fakeCounter{countFn: func() (map[models.TaskStatus]int64, error) {
		return nil, errors.New("connection refused")
	}}, fakePollers(0))

	if _, err := me.GetPrometheusMetrics(context.Background()); err == nil {
		t.Fatal("GetPrometheusMetrics() err=nil, want non-nil")
	}
}

func TestSweep_AdoptsOnlyOrphans(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-10 * time.Minute)
	future := now.Add(5 * time.Minute)

	lister := &fakeLister{tasks: []*models.Task{
		{ID: "overdue", Status: models.TaskStatusExecuting, DeadlineAt: &past, UpdatedAt: past},
		{ID: "in-flight", Status: models.TaskStatusExecuting, DeadlineAt: &future, UpdatedAt: past},
		{ID: "stuck-pending", Status: models.TaskStatusPending, UpdatedAt: past},
		{ID: "fresh-pending", Status: models.TaskStatusPending, UpdatedAt: now},
		{ID: "already-driven", Status: models.TaskStatusRunning, DeadlineAt: &past, UpdatedAt: past},
	}}
	resumer := &fakeResumer{tracked: map[string]bool{"already-driven": true}}

	tm := NewTaskMonitor(lister, resumer, time.Minute)
	tm.now = func() time.Time { return now }

	if got := tm.Sweep(context.Background()); got != 2 {
		t.Fatalf("Sweep()=%d, want 2", got)
	}
	want := []string{"overdue", "stuck-pending"}
	if len(resumer.resumed) != len(want) {
		t.Fatalf("resumed=%v, want %v", resumer.resumed, want)
	}
	for i := range want {
		if resumer.resumed[i] != want[i] {
			t.Fatalf("resumed=%v, want %v", resumer.resumed, want)
		}
	}
}
