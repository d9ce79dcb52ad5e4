package orchestrator

import (
	"errors"
	"fmt"

	"spot-orchestrator/core/repository"
)

var (
	ErrTaskNotFound = repository.ErrTaskNotFound
	ErrNotReady     = errors.New("task result is not ready")
	ErrInvalidInput = errors.New("invalid input")
	ErrTaskTerminal = errors.New("task already finished")
	// ErrStaleTransition means the task left the expected status before the write landed
	ErrStaleTransition = errors.New("task status changed before transition")

	ErrPreempted        = errors.New("instance was preempted")
	ErrDeadlineExceeded = errors.New("task deadline exceeded")
)

// ProvisionError is an instance creation rejected by the compute platform.
// It is fatal for the task and never retried.
type ProvisionError struct {
	Instance string
	Err      error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provision instance %s: %v", e.Instance, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// TransientStoreError is a single failed blob or instance check during a poll
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("transient failure during %s: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }

// ResultMissingError means a COMPLETED task's result blob could not be found
type ResultMissingError struct {
	TaskID    string
	ResultRef string
}

func (e *ResultMissingError) Error() string {
	return fmt.Sprintf("result %s of completed task %s is missing", e.ResultRef, e.TaskID)
}
