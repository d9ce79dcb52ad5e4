package repository

import (
	"context"
	"database/sql"

	"spot-orchestrator/core/models"
)

// EventRepository handles database operations for task events
type EventRepository struct {
	db *DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// GetTaskEvents retrieves events for a task, newest first
func (r *EventRepository) GetTaskEvents(ctx context.Context, taskID string, limit int) ([]models.TaskEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, task_id, at, from_status, to_status, reason
		FROM task_events
		WHERE task_id = $1
		ORDER BY id DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.TaskEvent
	for rows.Next() {
		var event models.TaskEvent
		var fromStatus sql.NullString

		err := rows.Scan(
			&event.ID,
			&event.TaskID,
			&event.At,
			&fromStatus,
			&event.ToStatus,
			&event.Reason,
		)
		if err != nil {
			return nil, err
		}

		if fromStatus.Valid {
			status := models.TaskStatus(fromStatus.String)
			event.FromStatus = &status
		}

		events = append(events, event)
	}

	return events, rows.Err()
}

func (r *EventRepository) createTaskEventTx(ctx context.Context, tx *sql.Tx, taskID string, fromStatus *models.TaskStatus, toStatus models.TaskStatus, reason string) error {
	query := `
		INSERT INTO task_events (task_id, from_status, to_status, reason)
		VALUES ($1, $2, $3, $4)
	`

	var fromStatusStr *string
	if fromStatus != nil {
		s := string(*fromStatus)
		fromStatusStr = &s
	}

	_, err := tx.ExecContext(ctx, query, taskID, fromStatusStr, toStatus, reason)
	return err
}
