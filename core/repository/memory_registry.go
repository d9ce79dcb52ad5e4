package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"spot-orchestrator/core/models"
)

// MemoryRegistry keeps task records in process memory.
// A single mutex is the one logical owner of every key, so it is only
// suitable for a single-process deployment.
type MemoryRegistry struct {
	mu          sync.Mutex
	tasks       map[string]*models.Task
	events      map[string][]models.TaskEvent
	nextEventID int64
	now         func() time.Time
}

// NewMemoryRegistry creates an empty in-memory registry
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		tasks:  make(map[string]*models.Task),
		events: make(map[string][]models.TaskEvent),
		now:    time.Now,
	}
}

// Create stores a new task record
func (r *MemoryRegistry) Create(_ context.Context, task *models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[task.ID]; ok {
		return ErrTaskExists
	}

	stored := task.Clone()
	stored.Version = 1
	r.tasks[task.ID] = stored
	task.Version = stored.Version

	reason := task.StatusReason
	if reason == "" {
		reason = models.ReasonTaskCreated
	}
	r.appendEvent(task.ID, nil, task.Status, reason)
	return nil
}

// Get returns a copy of the task record
func (r *MemoryRegistry) Get(_ context.Context, id string) (*models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return task.Clone(), nil
}

// Update applies fn to a copy of the record under the registry lock and
// commits the copy only if fn succeeds
func (r *MemoryRegistry) Update(_ context.Context, id string, fn func(*models.Task) error) (*models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = current.ID
	next.Version = current.Version + 1
	r.tasks[id] = next

	if next.Status != current.Status {
		from := current.Status
		r.appendEvent(id, &from, next.Status, next.StatusReason)
	}
	return next.Clone(), nil
}

// ListByOwner returns the owner's tasks, newest first
func (r *MemoryRegistry) ListByOwner(_ context.Context, ownerID string, limit int) ([]*models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var tasks []*models.Task
	for _, t := range r.tasks {
		if t.OwnerID == ownerID {
			tasks = append(tasks, t.Clone())
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	if limit > 0 && len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

// ListActive returns every non-terminal task, oldest first
func (r *MemoryRegistry) ListActive(_ context.Context) ([]*models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var tasks []*models.Task
	for _, t := range r.tasks {
		if !t.Status.IsTerminal() {
			tasks = append(tasks, t.Clone())
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks, nil
}

func (r *MemoryRegistry) CountByStatus(_ context.Context) (map[models.TaskStatus]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[models.TaskStatus]int64)
	for _, t := range r.tasks {
		counts[t.Status]++
	}
	return counts, nil
}

// ListEvents returns a task's events, newest first
func (r *MemoryRegistry) ListEvents(_ context.Context, taskID string, limit int) ([]models.TaskEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[taskID]; !ok {
		return nil, ErrTaskNotFound
	}

	stored := r.events[taskID]
	events := make([]models.TaskEvent, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		events = append(events, stored[i])
		if limit > 0 && len(events) == limit {
			break
		}
	}
	return events, nil
}

func (r *MemoryRegistry) appendEvent(taskID string, from *models.TaskStatus, to models.TaskStatus, reason string) {
	r.nextEventID++
	r.events[taskID] = append(r.events[taskID], models.TaskEvent{
		ID:         r.nextEventID,
		TaskID:     taskID,
		At:         r.now(),
		FromStatus: from,
		ToStatus:   to,
		Reason:     reason,
	})
}
