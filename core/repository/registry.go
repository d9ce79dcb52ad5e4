package repository

import (
	"context"
	"errors"

	"spot-orchestrator/core/models"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrTaskExists   = errors.New("task already exists")
	// ErrConflict means another writer changed the record between read and write
	ErrConflict = errors.New("task was modified concurrently")
)

// TaskRegistry owns task records. Update must apply fn as a single atomic
// read-modify-write for the given id: fn sees the current record, and its
// changes are committed only if fn returns nil and no other write to the
// same id happened in between. A status change made by fn is recorded as a
// TaskEvent in the same write.
type TaskRegistry interface {
	Create(ctx context.Context, task *models.Task) error
	Get(ctx context.Context, id string) (*models.Task, error)
	Update(ctx context.Context, id string, fn func(*models.Task) error) (*models.Task, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*models.Task, error)
	ListActive(ctx context.Context) ([]*models.Task, error)
	CountByStatus(ctx context.Context) (map[models.TaskStatus]int64, error)
	ListEvents(ctx context.Context, taskID string, limit int) ([]models.TaskEvent, error)
}
