package monitoring

import (
	"context"
	"log"
	"time"

	"spot-orchestrator/core/models"
)

// ActiveLister lists every non-terminal task
type ActiveLister interface {
	ListActive(ctx context.Context) ([]*models.Task, error)
}

// Resumer starts driving a task unless this process already does
type Resumer interface {
	Resume(id string) bool
}

// TaskMonitor sweeps the registry for active tasks that no routine is
// driving, such as tasks left behind by a crashed replica sharing the
// database, and resumes them here
type TaskMonitor struct {
	tasks    ActiveLister
	resumer  Resumer
	interval time.Duration
	now      func() time.Time
}

// NewTaskMonitor creates a new task monitor
func NewTaskMonitor(tasks ActiveLister, resumer Resumer, interval time.Duration) *TaskMonitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &TaskMonitor{
		tasks:    tasks,
		resumer:  resumer,
		interval: interval,
		now:      time.Now,
	}
}

// Start starts the monitoring loop
func (tm *TaskMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(tm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tm.Sweep(ctx)
		}
	}
}

// Sweep resumes orphaned tasks and returns how many it adopted
func (tm *TaskMonitor) Sweep(ctx context.Context) int {
	tasks, err := tm.tasks.ListActive(ctx)
	if err != nil {
		log.Printf("Failed to fetch active tasks: %v", err)
		return 0
	}

	var adopted int
	for _, task := range tasks {
		if !tm.orphaned(task) {
			continue
		}
		if tm.resumer.Resume(task.ID) {
			log.Printf("Adopted orphaned task %s in status %s", task.ID, task.Status)
			adopted++
		}
	}
	return adopted
}

// orphaned reports whether a live routine would already have moved the task on
func (tm *TaskMonitor) orphaned(task *models.Task) bool {
	now := tm.now()
	if task.DeadlineAt != nil {
		// A driven task fails within one poll of its deadline
		return now.After(task.DeadlineAt.Add(tm.interval))
	}
	// PENDING leaves immediately once a routine picks it up
	return now.Sub(task.UpdatedAt) > tm.interval
}
