package models

import "time"

// TaskEvent represents a state transition event for a task
type TaskEvent struct {
	ID         int64       `json:"id"`
	TaskID     string      `json:"task_id"`
	At         time.Time   `json:"at"`
	FromStatus *TaskStatus `json:"from_status,omitempty"`
	ToStatus   TaskStatus  `json:"to_status"`
	Reason     string      `json:"reason"`
}

// Transition reasons recorded on task events
const (
	ReasonTaskCreated      = "task_created"
	ReasonProvisioning     = "provisioning_started"
	ReasonInstanceCreated  = "instance_created"
	ReasonProvisionFailed  = "provisioning_failed"
	ReasonInstanceRunning  = "instance_running"
	ReasonResultReady      = "result_ready"
	ReasonPreempted        = "preempted"
	ReasonRetry            = "retry_provisioning"
	ReasonRetriesExhausted = "retries_exhausted"
	ReasonDeadlineExceeded = "deadline_exceeded"
	ReasonCancelled        = "cancelled"
)
