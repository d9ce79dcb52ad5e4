package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"spot-orchestrator/api/rest/routes"
	"spot-orchestrator/config"
	"spot-orchestrator/core/monitoring"
	"spot-orchestrator/core/orchestrator"
	"spot-orchestrator/core/repository"
	awsprovider "spot-orchestrator/providers/aws"
	"spot-orchestrator/storage"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gorilla/mux"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Initialize registry
	var registry repository.TaskRegistry
	if cfg.DatabaseURL != "" {
		db, err := repository.NewDB(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
		log.Println("Database connected successfully")
		registry = repository.NewTaskRepository(db)
	} else {
		log.Println("DATABASE_URL not set, keeping tasks in memory")
		registry = repository.NewMemoryRegistry()
	}

	// Initialize AWS clients
	awsCfg, err := awsprovider.LoadConfig(ctx, cfg.AWS.Region)
	if err != nil {
		log.Fatalf("Failed to load AWS config: %v", err)
	}
	diskGB, _ := cfg.DiskSizeGB()
	compute := awsprovider.NewClient(awsCfg, awsprovider.InstanceSpec{
		Region:           cfg.AWS.Region,
		MachineType:      cfg.Instance.MachineType,
		ImageID:          cfg.Instance.ImageID,
		ImageNamePattern: cfg.Instance.ImageNamePattern,
		ImageOwner:       cfg.Instance.ImageOwner,
		DiskSizeGB:       diskGB,
		InstanceProfile:  cfg.Instance.InstanceProfile,
		SubnetID:         cfg.Instance.SubnetID,
		SecurityGroupIDs: cfg.Instance.SecurityGroupIDs,
		Bucket:           cfg.AWS.Bucket,
		WorkloadCommand:  cfg.Instance.WorkloadCommand,
		SpotMaxPrice:     cfg.Instance.SpotMaxPrice,
		CreateTimeout:    cfg.Instance.CreateTimeout,
	})
	blobs := storage.NewS3Store(s3.NewFromConfig(awsCfg), cfg.AWS.Bucket)

	// Initialize orchestrator and resume unfinished tasks
	orch := orchestrator.New(registry, blobs, compute, orchestrator.Config{
		MaxRetries:         cfg.Orchestrator.MaxRetries,
		PollInterval:       cfg.Orchestrator.PollInterval,
		PollStartDelay:     cfg.Orchestrator.PollStartDelay,
		TaskDeadline:       cfg.Orchestrator.TaskDeadline,
		CleanupGrace:       cfg.Orchestrator.CleanupGrace,
		InstanceNamePrefix: cfg.Instance.NamePrefix,
	})
	if err := orch.Start(ctx); err != nil {
		log.Fatalf("Failed to start orchestrator: %v", err)
	}

	// Initialize task monitor
	taskMonitor := monitoring.NewTaskMonitor(registry, orch, cfg.Orchestrator.OrphanSweepInterval)
	go taskMonitor.Start(ctx)

	// Setup routes
	r := mux.NewRouter()
	routes.SetupRoutes(r, orch, monitoring.NewMetricsExporter(registry, orch))

	// Start server
	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Starting server on port %s", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	stop()
	if err := orch.Shutdown(shutdownCtx); err != nil {
		log.Printf("Orchestrator did not stop cleanly: %v", err)
	}
	log.Println("Server exited")
}
