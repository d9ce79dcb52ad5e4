package models

import "time"

// Task represents one analysis job scheduled onto an ephemeral instance
type Task struct {
	ID           string     `json:"id"`
	OwnerID      string     `json:"owner_id"`
	Name         string     `json:"name"`
	InputRef     string     `json:"input_ref"`
	Status       TaskStatus `json:"status"`
	StatusReason string     `json:"status_reason,omitempty"`
	InstanceRef  string     `json:"instance_ref,omitempty"`
	ResultRef    string     `json:"result_ref,omitempty"`
	RetryCount   int        `json:"retry_count"`
	Error        string     `json:"error,omitempty"`
	DeadlineAt   *time.Time `json:"deadline_at,omitempty"`
	Version      int64      `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Clone returns a deep copy so callers never share a registry-owned record
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.DeadlineAt != nil {
		d := *t.DeadlineAt
		c.DeadlineAt = &d
	}
	return &c
}

// DeadlineExceeded reports whether the task's deadline has passed at now
func (t *Task) DeadlineExceeded(now time.Time) bool {
	return t.DeadlineAt != nil && now.After(*t.DeadlineAt)
}

// InputPath returns the blob path a task's input is uploaded to
func InputPath(taskID, name string) string {
	return "inputs/" + taskID + "/" + name
}

// ResultPath returns the blob path the instance writes its result to
func ResultPath(instanceName string) string {
	return "results/" + instanceName + "/result"
}

// MarkerPath returns the blob path of the zero-byte completion marker
func MarkerPath(instanceName string) string {
	return "results/" + instanceName + "/status"
}
