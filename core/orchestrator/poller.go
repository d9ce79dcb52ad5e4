package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"spot-orchestrator/core/models"
)

// run drives one task until it reaches a terminal status or ctx ends.
// Each step applies at most one transition.
func (o *Orchestrator) run(ctx context.Context, id string, resumed bool) {
	for {
		task, err := o.registry.Get(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Failed to load task %s: %v", id, err)
			if !sleep(ctx, o.cfg.PollInterval) {
				return
			}
			continue
		}
		if task.Status.IsTerminal() {
			return
		}

		wait, err := o.step(ctx, task, resumed)
		resumed = false
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, ErrStaleTransition) {
				log.Printf("Task %s: %v", id, err)
			}
			wait = o.cfg.PollInterval
		}
		if !sleep(ctx, wait) {
			return
		}
	}
}

// step reconciles the task once and returns how long to wait before the next step
func (o *Orchestrator) step(ctx context.Context, task *models.Task, resumed bool) (time.Duration, error) {
	if task.DeadlineExceeded(o.now()) {
		return 0, o.failDeadline(ctx, task)
	}

	switch task.Status {
	case models.TaskStatusPending:
		return 0, o.startProvisioning(ctx, task)
	case models.TaskStatusProvisioning:
		return o.provision(ctx, task, resumed)
	case models.TaskStatusRunning, models.TaskStatusExecuting:
		return o.cfg.PollInterval, o.reconcile(ctx, task)
	case models.TaskStatusInterrupted:
		return 0, o.retryOrFail(ctx, task)
	}
	return 0, fmt.Errorf("unexpected status %s", task.Status)
}

func (o *Orchestrator) startProvisioning(ctx context.Context, task *models.Task) error {
	instance := o.newInstanceName()
	_, err := o.transition(ctx, task.ID, models.TaskStatusPending, models.TaskStatusProvisioning, models.ReasonProvisioning, func(t *models.Task) {
		deadline := o.now().Add(o.cfg.TaskDeadline)
		t.InstanceRef = instance
		t.DeadlineAt = &deadline
	})
	return err
}

// provision creates the task's instance and moves it to RUNNING, or FAILED
// when the platform rejects the create
func (o *Orchestrator) provision(ctx context.Context, task *models.Task, resumed bool) (time.Duration, error) {
	instance := task.InstanceRef

	if resumed {
		// The previous process may have created it already
		status, err := o.compute.Status(ctx, instance)
		if err == nil && !status.Gone() {
			_, err := o.transition(ctx, task.ID, models.TaskStatusProvisioning, models.TaskStatusRunning, models.ReasonInstanceCreated, nil)
			return o.cfg.PollInterval, err
		}
	}

	log.Printf("Task %s: creating instance %s (attempt %d)", task.ID, instance, task.RetryCount+1)

	cctx := ctx
	if task.DeadlineAt != nil {
		var cancel context.CancelFunc
		cctx, cancel = context.WithDeadline(ctx, *task.DeadlineAt)
		defer cancel()
	}

	createErr := o.compute.Create(cctx, instance, models.NewBootstrap(task.InputRef, instance))
	if ctx.Err() != nil {
		// Stopped mid-create. A cancelled task must not keep the instance;
		// otherwise Start resumes PROVISIONING against the same name.
		o.releaseIfTerminal(ctx, task.ID, instance)
		return 0, ctx.Err()
	}

	if createErr == nil {
		_, err := o.transition(ctx, task.ID, models.TaskStatusProvisioning, models.TaskStatusRunning, models.ReasonInstanceCreated, nil)
		if errors.Is(err, ErrStaleTransition) {
			o.deleteInstance(ctx, task.ID, instance)
		}
		return o.cfg.PollStartDelay, err
	}

	if task.DeadlineExceeded(o.now()) {
		return 0, o.failDeadline(ctx, task)
	}

	perr := &ProvisionError{Instance: instance, Err: createErr}
	log.Printf("Task %s: %v", task.ID, perr)
	return 0, o.fail(ctx, task, models.ReasonProvisionFailed, "instance provisioning was rejected")
}

// reconcile observes instance and blobs and applies the matching transition.
// Status is read before the blobs so a marker written just before the
// instance went away is still seen.
func (o *Orchestrator) reconcile(ctx context.Context, task *models.Task) error {
	instance := task.InstanceRef

	status, err := o.compute.Status(ctx, instance)
	if err != nil {
		return &TransientStoreError{Op: "instance status " + instance, Err: err}
	}

	done, err := o.resultReady(ctx, instance)
	if err != nil {
		return err
	}

	switch {
	case done:
		_, err := o.transition(ctx, task.ID, task.Status, models.TaskStatusCompleted, models.ReasonResultReady, func(t *models.Task) {
			t.ResultRef = models.ResultPath(instance)
		})
		if err != nil {
			return err
		}
		o.scheduleCleanup(task.ID, instance)
		return nil

	case status.Gone():
		log.Printf("Task %s: instance %s is gone without a completion marker: %v", task.ID, instance, ErrPreempted)
		_, err := o.transition(ctx, task.ID, task.Status, models.TaskStatusInterrupted, models.ReasonPreempted, nil)
		return err

	case task.Status == models.TaskStatusRunning && status.Phase == models.InstancePhaseRunning:
		_, err := o.transition(ctx, task.ID, models.TaskStatusRunning, models.TaskStatusExecuting, models.ReasonInstanceRunning, nil)
		return err
	}
	return nil
}

// resultReady reports whether both the completion marker and the result exist
func (o *Orchestrator) resultReady(ctx context.Context, instance string) (bool, error) {
	marker, err := o.blobs.Exists(ctx, models.MarkerPath(instance))
	if err != nil {
		return false, &TransientStoreError{Op: "marker check " + instance, Err: err}
	}
	if !marker {
		return false, nil
	}

	result, err := o.blobs.Exists(ctx, models.ResultPath(instance))
	if err != nil {
		return false, &TransientStoreError{Op: "result check " + instance, Err: err}
	}
	return result, nil
}

// retryOrFail deletes the preempted instance and provisions a fresh one
// against the same input, or fails once the retry budget is spent
func (o *Orchestrator) retryOrFail(ctx context.Context, task *models.Task) error {
	if task.RetryCount >= o.cfg.MaxRetries {
		msg := fmt.Sprintf("instance was preempted and the retry budget (%d) is exhausted", o.cfg.MaxRetries)
		return o.fail(ctx, task, models.ReasonRetriesExhausted, msg)
	}

	if task.InstanceRef != "" {
		if err := o.compute.Delete(ctx, task.InstanceRef); err != nil {
			return fmt.Errorf("failed to delete stale instance %s: %w", task.InstanceRef, err)
		}
	}

	instance := o.newInstanceName()
	_, err := o.transition(ctx, task.ID, models.TaskStatusInterrupted, models.TaskStatusProvisioning, models.ReasonRetry, func(t *models.Task) {
		deadline := o.now().Add(o.cfg.TaskDeadline)
		t.RetryCount++
		t.InstanceRef = instance
		t.DeadlineAt = &deadline
	})
	return err
}

func (o *Orchestrator) failDeadline(ctx context.Context, task *models.Task) error {
	log.Printf("Task %s: %v after %s", task.ID, ErrDeadlineExceeded, o.cfg.TaskDeadline)
	return o.fail(ctx, task, models.ReasonDeadlineExceeded, fmt.Sprintf("task exceeded its deadline of %s", o.cfg.TaskDeadline))
}

// fail moves the task to FAILED with a user-facing message and deletes its instance
func (o *Orchestrator) fail(ctx context.Context, task *models.Task, reason, msg string) error {
	_, err := o.transition(ctx, task.ID, task.Status, models.TaskStatusFailed, reason, func(t *models.Task) {
		t.Error = msg
	})
	if err != nil {
		return err
	}
	if task.InstanceRef != "" {
		o.deleteInstance(ctx, task.ID, task.InstanceRef)
	}
	return nil
}

func (o *Orchestrator) releaseIfTerminal(ctx context.Context, taskID, instance string) {
	current, err := o.registry.Get(context.WithoutCancel(ctx), taskID)
	if err != nil {
		log.Printf("Failed to load task %s: %v", taskID, err)
		return
	}
	if current.Status.IsTerminal() {
		o.deleteInstance(ctx, taskID, instance)
	}
}

// sleep waits for d or until ctx ends, reporting whether to continue
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
