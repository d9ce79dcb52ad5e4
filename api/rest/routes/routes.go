package routes

import (
	"net/http"

	"spot-orchestrator/api/rest/handlers"

	"github.com/gorilla/mux"
)

// SetupRoutes configures all API routes
func SetupRoutes(r *mux.Router, tasks handlers.TaskService, metrics handlers.MetricsSource) {
	taskHandler := handlers.NewTaskHandler(tasks)
	metricsHandler := handlers.NewMetricsHandler(metrics)

	api := r.PathPrefix("/v1").Subrouter()

	// Task endpoints
	api.HandleFunc("/tasks", taskHandler.SubmitTask).Methods("POST")
	api.HandleFunc("/tasks", taskHandler.ListTasks).Methods("GET")
	api.HandleFunc("/tasks/{id}", taskHandler.GetTask).Methods("GET")
	api.HandleFunc("/tasks/{id}/result", taskHandler.GetTaskResult).Methods("GET")
	api.HandleFunc("/tasks/{id}/cancel", taskHandler.CancelTask).Methods("POST")
	api.HandleFunc("/tasks/{id}/events", taskHandler.GetTaskEvents).Methods("GET")

	r.HandleFunc("/metrics", metricsHandler.GetMetrics).Methods("GET")

	// Health check endpoint
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")
}
