package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sync"
	"time"

	"spot-orchestrator/core/models"
	"spot-orchestrator/core/repository"
	"spot-orchestrator/storage"

	"github.com/google/uuid"
)

// ComputeClient manages the lifecycle of named, interruptible instances
type ComputeClient interface {
	Create(ctx context.Context, name string, bootstrap models.Bootstrap) error
	Status(ctx context.Context, name string) (models.InstanceStatus, error)
	Delete(ctx context.Context, name string) error
}

// Config tunes retry, polling and cleanup behavior
type Config struct {
	MaxRetries         int
	PollInterval       time.Duration
	PollStartDelay     time.Duration // wait before the first poll of a fresh instance
	TaskDeadline       time.Duration // measured from each provisioning start
	CleanupGrace       time.Duration // wait before deleting the instance of a completed task
	InstanceNamePrefix string
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		MaxRetries:         3,
		PollInterval:       5 * time.Second,
		PollStartDelay:     10 * time.Second,
		TaskDeadline:       10 * time.Minute,
		CleanupGrace:       30 * time.Second,
		InstanceNamePrefix: "analysis-worker",
	}
}

// Input names end up in blob paths and the instance boot script
var validName = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

const deleteTimeout = time.Minute

// Orchestrator schedules tasks onto ephemeral instances and drives each
// task through its state machine with one tracked routine per task
type Orchestrator struct {
	registry repository.TaskRegistry
	blobs    storage.BlobStore
	compute  ComputeClient
	cfg      Config
	now      func() time.Time

	rootCtx    context.Context
	rootCancel context.CancelFunc

	mu      sync.Mutex
	pollers map[string]context.CancelFunc
	closed  bool
	wg      sync.WaitGroup
}

// New creates an orchestrator. No routine runs until Submit or Start.
func New(registry repository.TaskRegistry, blobs storage.BlobStore, compute ComputeClient, cfg Config) *Orchestrator {
	defaults := DefaultConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.PollStartDelay < 0 {
		cfg.PollStartDelay = 0
	}
	if cfg.TaskDeadline <= 0 {
		cfg.TaskDeadline = defaults.TaskDeadline
	}
	if cfg.CleanupGrace < 0 {
		cfg.CleanupGrace = 0
	}
	if cfg.InstanceNamePrefix == "" {
		cfg.InstanceNamePrefix = defaults.InstanceNamePrefix
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		registry:   registry,
		blobs:      blobs,
		compute:    compute,
		cfg:        cfg,
		now:        time.Now,
		rootCtx:    ctx,
		rootCancel: cancel,
		pollers:    make(map[string]context.CancelFunc),
	}
}

// SetClock overrides the wall clock used for deadlines and timestamps.
// Call it before Submit or Start.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// Submit uploads the input, records a PENDING task and starts its lifecycle.
// The task is visible to Get before Submit returns.
func (o *Orchestrator) Submit(ctx context.Context, ownerID string, input []byte, name string) (string, error) {
	if ownerID == "" {
		return "", fmt.Errorf("%w: owner id is required", ErrInvalidInput)
	}
	if len(input) == 0 {
		return "", fmt.Errorf("%w: input is empty", ErrInvalidInput)
	}
	if !validName.MatchString(name) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: name %q must match %s", ErrInvalidInput, name, validName)
	}

	id := uuid.NewString()
	inputRef := models.InputPath(id, name)
	if err := o.blobs.Put(ctx, inputRef, input); err != nil {
		return "", fmt.Errorf("failed to upload input: %w", err)
	}

	now := o.now()
	task := &models.Task{
		ID:           id,
		OwnerID:      ownerID,
		Name:         name,
		InputRef:     inputRef,
		Status:       models.TaskStatusPending,
		StatusReason: models.ReasonTaskCreated,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := o.registry.Create(ctx, task); err != nil {
		return "", fmt.Errorf("failed to create task: %w", err)
	}

	log.Printf("Task %s submitted by %s (%d bytes)", id, ownerID, len(input))
	o.spawn(id, false)
	return id, nil
}

// Get returns the current task record
func (o *Orchestrator) Get(ctx context.Context, id string) (*models.Task, error) {
	return o.registry.Get(ctx, id)
}

// FetchResult returns the result bytes of a completed task
func (o *Orchestrator) FetchResult(ctx context.Context, id string) ([]byte, error) {
	task, err := o.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Status != models.TaskStatusCompleted {
		return nil, ErrNotReady
	}

	data, err := o.blobs.Get(ctx, task.ResultRef)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &ResultMissingError{TaskID: id, ResultRef: task.ResultRef}
		}
		return nil, fmt.Errorf("failed to fetch result of task %s: %w", id, err)
	}
	return data, nil
}

// ListByOwner returns the owner's most recent tasks
func (o *Orchestrator) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*models.Task, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", ErrInvalidInput)
	}
	return o.registry.ListByOwner(ctx, ownerID, limit)
}

// Events returns the task's transition history, newest first
func (o *Orchestrator) Events(ctx context.Context, id string, limit int) ([]models.TaskEvent, error) {
	return o.registry.ListEvents(ctx, id, limit)
}

// Cancel forces a non-terminal task to FAILED, stops its routine and
// deletes its instance
func (o *Orchestrator) Cancel(ctx context.Context, id string) (*models.Task, error) {
	task, err := o.registry.Update(ctx, id, func(t *models.Task) error {
		if t.Status.IsTerminal() {
			return ErrTaskTerminal
		}
		if err := models.ValidateTransition(t.Status, models.TaskStatusFailed); err != nil {
			return err
		}
		t.Status = models.TaskStatusFailed
		t.StatusReason = models.ReasonCancelled
		t.Error = "task cancelled"
		t.UpdatedAt = o.now()
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Task %s cancelled", id)
	o.stop(id)
	if task.InstanceRef != "" {
		o.deleteInstance(ctx, id, task.InstanceRef)
	}
	return task, nil
}

// Start resumes a routine for every non-terminal task in the registry
func (o *Orchestrator) Start(ctx context.Context) error {
	tasks, err := o.registry.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active tasks: %w", err)
	}
	for _, task := range tasks {
		o.spawn(task.ID, true)
	}
	log.Printf("Resumed %d active tasks", len(tasks))
	return nil
}

// Resume starts a routine for a task this process is not yet driving and
// reports whether it did
func (o *Orchestrator) Resume(id string) bool {
	return o.spawn(id, true)
}

// Shutdown stops every routine and waits for them to exit or ctx to end.
// Tasks keep their persisted status and are picked up again by Start.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.rootCancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActivePollers returns the number of running task routines
func (o *Orchestrator) ActivePollers() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pollers)
}

// spawn starts the routine for id unless one is already tracked
func (o *Orchestrator) spawn(id string, resumed bool) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return false
	}
	if _, ok := o.pollers[id]; ok {
		return false
	}

	ctx, cancel := context.WithCancel(o.rootCtx)
	o.pollers[id] = cancel
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.untrack(id)
		defer cancel()
		o.run(ctx, id, resumed)
	}()
	return true
}

func (o *Orchestrator) stop(id string) {
	o.mu.Lock()
	cancel, ok := o.pollers[id]
	o.mu.Unlock()
	if ok {
		cancel()
	}
}

func (o *Orchestrator) untrack(id string) {
	o.mu.Lock()
	delete(o.pollers, id)
	o.mu.Unlock()
}

// transition moves a task from exactly `from` to `to` in one registry write
func (o *Orchestrator) transition(ctx context.Context, id string, from, to models.TaskStatus, reason string, mutate func(*models.Task)) (*models.Task, error) {
	task, err := o.registry.Update(ctx, id, func(t *models.Task) error {
		if t.Status != from {
			return ErrStaleTransition
		}
		if err := models.ValidateTransition(from, to); err != nil {
			return err
		}
		t.Status = to
		t.StatusReason = reason
		t.UpdatedAt = o.now()
		if mutate != nil {
			mutate(t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("Task %s: %s -> %s (%s)", id, from, to, reason)
	return task, nil
}

// deleteInstance removes an instance, logging instead of failing.
// It is detached from ctx cancellation so a stopped routine still cleans up.
func (o *Orchestrator) deleteInstance(ctx context.Context, taskID, instance string) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deleteTimeout)
	defer cancel()

	if err := o.compute.Delete(dctx, instance); err != nil {
		log.Printf("Failed to delete instance %s of task %s: %v", instance, taskID, err)
	}
}

// scheduleCleanup deletes the instance of a completed task after the grace period
func (o *Orchestrator) scheduleCleanup(taskID, instance string) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()

		timer := time.NewTimer(o.cfg.CleanupGrace)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-o.rootCtx.Done():
		}
		o.deleteInstance(o.rootCtx, taskID, instance)
	}()
}

func (o *Orchestrator) newInstanceName() string {
	return fmt.Sprintf("%s-%d-%s", o.cfg.InstanceNamePrefix, o.now().UnixMilli(), uuid.NewString()[:8])
}
