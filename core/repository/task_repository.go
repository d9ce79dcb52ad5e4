package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"spot-orchestrator/core/models"

	"github.com/google/uuid"
)

// TaskRepository is the PostgreSQL TaskRegistry.
// Update locks the row with SELECT ... FOR UPDATE and additionally guards
// the write with the record version, so concurrent orchestrator processes
// cannot lose each other's transitions.
type TaskRepository struct {
	db     *DB
	events *EventRepository
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(db *DB) *TaskRepository {
	return &TaskRepository{
		db:     db,
		events: NewEventRepository(db),
	}
}

const selectTask = `
	SELECT id, owner_id, name, input_ref, status, status_reason, instance_ref,
		result_ref, retry_count, error, deadline_at, version, created_at, updated_at
	FROM tasks
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var task models.Task
	var deadlineAt sql.NullTime

	err := row.Scan(
		&task.ID,
		&task.OwnerID,
		&task.Name,
		&task.InputRef,
		&task.Status,
		&task.StatusReason,
		&task.InstanceRef,
		&task.ResultRef,
		&task.RetryCount,
		&task.Error,
		&deadlineAt,
		&task.Version,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if deadlineAt.Valid {
		task.DeadlineAt = &deadlineAt.Time
	}
	return &task, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Create inserts a new task and its creation event
func (r *TaskRepository) Create(ctx context.Context, task *models.Task) error {
	if _, err := uuid.Parse(task.ID); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (
			id, owner_id, name, input_ref, status, status_reason, instance_ref,
			result_ref, retry_count, error, deadline_at, version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1, $12, $13
		)
		ON CONFLICT (id) DO NOTHING
	`,
		task.ID,
		task.OwnerID,
		task.Name,
		task.InputRef,
		task.Status,
		task.StatusReason,
		task.InstanceRef,
		task.ResultRef,
		task.RetryCount,
		task.Error,
		nullTime(task.DeadlineAt),
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTaskExists
	}

	reason := task.StatusReason
	if reason == "" {
		reason = models.ReasonTaskCreated
	}
	if err := r.events.createTaskEventTx(ctx, tx, task.ID, nil, task.Status, reason); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	task.Version = 1
	return nil
}

// Get retrieves a task by ID
func (r *TaskRepository) Get(ctx context.Context, id string) (*models.Task, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrTaskNotFound
	}

	task, err := scanTask(r.db.QueryRowContext(ctx, selectTask+" WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	return task, err
}

// Update applies fn to the locked row and writes it back with a version check
func (r *TaskRepository) Update(ctx context.Context, id string, fn func(*models.Task) error) (*models.Task, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrTaskNotFound
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	current, err := scanTask(tx.QueryRowContext(ctx, selectTask+" WHERE id = $1 FOR UPDATE", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = current.ID
	next.Version = current.Version + 1

	res, err := tx.ExecContext(ctx, `
		UPDATE tasks
		   SET status        = $2,
		       status_reason = $3,
		       instance_ref  = $4,
		       result_ref    = $5,
		       retry_count   = $6,
		       error         = $7,
		       deadline_at   = $8,
		       version       = $9,
		       updated_at    = $10
		 WHERE id = $1
		   AND version = $11
	`,
		next.ID,
		next.Status,
		next.StatusReason,
		next.InstanceRef,
		next.ResultRef,
		next.RetryCount,
		next.Error,
		nullTime(next.DeadlineAt),
		next.Version,
		next.UpdatedAt,
		current.Version,
	)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrConflict
	}

	if next.Status != current.Status {
		from := current.Status
		if err := r.events.createTaskEventTx(ctx, tx, id, &from, next.Status, next.StatusReason); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return next, nil
}

// ListByOwner lists an owner's tasks, newest first
func (r *TaskRepository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*models.Task, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, selectTask+`
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTasks(rows)
}

// ListActive lists every non-terminal task, oldest first
func (r *TaskRepository) ListActive(ctx context.Context) ([]*models.Task, error) {
	rows, err := r.db.QueryContext(ctx, selectTask+`
		WHERE status NOT IN ($1, $2)
		ORDER BY created_at ASC
	`, models.TaskStatusCompleted, models.TaskStatusFailed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTasks(rows)
}

func (r *TaskRepository) CountByStatus(ctx context.Context) (map[models.TaskStatus]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.TaskStatus]int64)
	for rows.Next() {
		var status models.TaskStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ListEvents lists a task's events, newest first
func (r *TaskRepository) ListEvents(ctx context.Context, taskID string, limit int) ([]models.TaskEvent, error) {
	if _, err := r.Get(ctx, taskID); err != nil {
		return nil, err
	}
	return r.events.GetTaskEvents(ctx, taskID, limit)
}

func scanTasks(rows *sql.Rows) ([]*models.Task, error) {
	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}
