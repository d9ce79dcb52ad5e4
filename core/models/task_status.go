package models

import "fmt"

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

const (
	TaskStatusPending      TaskStatus = "PENDING"
	TaskStatusProvisioning TaskStatus = "PROVISIONING"
	TaskStatusRunning      TaskStatus = "RUNNING"
	TaskStatusExecuting    TaskStatus = "EXECUTING"
	TaskStatusCompleted    TaskStatus = "COMPLETED"
	TaskStatusFailed       TaskStatus = "FAILED"
	TaskStatusInterrupted  TaskStatus = "INTERRUPTED"
)

var allowedTransitions = map[TaskStatus]map[TaskStatus]struct{}{
	TaskStatusPending: {
		TaskStatusProvisioning: {},
		TaskStatusFailed:       {},
	},
	TaskStatusProvisioning: {
		TaskStatusRunning: {},
		TaskStatusFailed:  {},
	},
	TaskStatusRunning: {
		TaskStatusExecuting:   {},
		TaskStatusCompleted:   {},
		TaskStatusInterrupted: {},
		TaskStatusFailed:      {},
	},
	TaskStatusExecuting: {
		TaskStatusCompleted:   {},
		TaskStatusInterrupted: {},
		TaskStatusFailed:      {},
	},
	TaskStatusInterrupted: {
		TaskStatusProvisioning: {},
		TaskStatusFailed:       {},
	},
	TaskStatusCompleted: {},
	TaskStatusFailed:    {},
}

// ActiveStatuses lists every non-terminal status
var ActiveStatuses = []TaskStatus{
	TaskStatusPending,
	TaskStatusProvisioning,
	TaskStatusRunning,
	TaskStatusExecuting,
	TaskStatusInterrupted,
}

// IsTerminal reports whether no further transition can leave s
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

func ValidateTaskStatus(s TaskStatus) error {
	if _, ok := allowedTransitions[s]; !ok {
		return fmt.Errorf("invalid task status: %q", s)
	}
	return nil
}

// ValidateTransition checks from -> to against the task state machine
func ValidateTransition(from, to TaskStatus) error {
	if err := ValidateTaskStatus(from); err != nil {
		return err
	}
	if err := ValidateTaskStatus(to); err != nil {
		return err
	}
	if _, ok := allowedTransitions[from][to]; !ok {
		return fmt.Errorf("invalid task transition: %s -> %s", from, to)
	}
	return nil
}
