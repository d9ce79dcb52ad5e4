package monitoring

import (
	"context"
	"fmt"
	"strings"

	"spot-orchestrator/core/models"
)

// StatusCounter reports how many tasks are in each status
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[models.TaskStatus]int64, error)
}

// PollerCounter reports how many task routines are running in this process
type PollerCounter interface {
	ActivePollers() int
}

var exportedStatuses = []models.TaskStatus{
	models.TaskStatusPending,
	models.TaskStatusProvisioning,
	models.TaskStatusRunning,
	models.TaskStatusExecuting,
	models.TaskStatusInterrupted,
	models.TaskStatusCompleted,
	models.TaskStatusFailed,
}

// MetricsExporter exports task metrics for Prometheus
type MetricsExporter struct {
	tasks   StatusCounter
	pollers PollerCounter
}

// NewMetricsExporter creates a new metrics exporter
func NewMetricsExporter(tasks StatusCounter, pollers PollerCounter) *MetricsExporter {
	return &MetricsExporter{
		tasks:   tasks,
		pollers: pollers,
	}
}

// GetPrometheusMetrics returns metrics in Prometheus text format
func (me *MetricsExporter) GetPrometheusMetrics(ctx context.Context) (string, error) {
	counts, err := me.tasks.CountByStatus(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to count tasks: %w", err)
	}

	var b strings.Builder

	b.WriteString("# HELP spot_tasks Number of tasks by status\n")
	b.WriteString("# TYPE spot_tasks gauge\n")
	for _, status := range exportedStatuses {
		fmt.Fprintf(&b, "spot_tasks{status=\"%s\"} %d\n", status, counts[status])
	}

	var active int64
	for _, status := range models.ActiveStatuses {
		active += counts[status]
	}
	b.WriteString("# HELP spot_tasks_active Number of non-terminal tasks\n")
	b.WriteString("# TYPE spot_tasks_active gauge\n")
	fmt.Fprintf(&b, "spot_tasks_active %d\n", active)

	b.WriteString("# HELP spot_active_pollers Task routines running in this process\n")
	b.WriteString("# TYPE spot_active_pollers gauge\n")
	fmt.Fprintf(&b, "spot_active_pollers %d\n", me.pollers.ActivePollers())

	return b.String(), nil
}
