package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	// Database; empty keeps tasks in process memory
	DatabaseURL string `yaml:"database_url"`

	// Server
	ServerPort string `yaml:"server_port"`

	AWS          AWSConfig          `yaml:"aws"`
	Instance     InstanceConfig     `yaml:"instance"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
}

// AWSConfig selects the account resources shared by every task
type AWSConfig struct {
	Region string `yaml:"region"`
	Bucket string `yaml:"bucket"`
}

// InstanceConfig is the shape of every worker instance
type InstanceConfig struct {
	MachineType      string        `yaml:"machine_type"`
	ImageID          string        `yaml:"image_id"`
	ImageNamePattern string        `yaml:"image_name_pattern"`
	ImageOwner       string        `yaml:"image_owner"`
	DiskSize         string        `yaml:"disk_size"` // e.g. "20GB"
	InstanceProfile  string        `yaml:"instance_profile"`
	SubnetID         string        `yaml:"subnet_id"`
	SecurityGroupIDs []string      `yaml:"security_group_ids"`
	WorkloadCommand  string        `yaml:"workload_command"`
	SpotMaxPrice     string        `yaml:"spot_max_price"`
	NamePrefix       string        `yaml:"name_prefix"`
	CreateTimeout    time.Duration `yaml:"create_timeout"`
}

// OrchestratorConfig tunes retries, polling and cleanup
type OrchestratorConfig struct {
	MaxRetries          int           `yaml:"max_retries"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	PollStartDelay      time.Duration `yaml:"poll_start_delay"`
	TaskDeadline        time.Duration `yaml:"task_deadline"`
	CleanupGrace        time.Duration `yaml:"cleanup_grace"`
	OrphanSweepInterval time.Duration `yaml:"orphan_sweep_interval"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		ServerPort: "8080",
		AWS: AWSConfig{
			Region: "us-east-1",
		},
		Instance: InstanceConfig{
			MachineType:   "t3.medium",
			DiskSize:      "20GB",
			NamePrefix:    "analysis-worker",
			CreateTimeout: 5 * time.Minute,
		},
		Orchestrator: OrchestratorConfig{
			MaxRetries:          3,
			PollInterval:        5 * time.Second,
			PollStartDelay:      10 * time.Second,
			TaskDeadline:        10 * time.Minute,
			CleanupGrace:        30 * time.Second,
			OrphanSweepInterval: time.Minute,
		},
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE (if set), then environment variables
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.ServerPort = getEnv("SERVER_PORT", c.ServerPort)
	c.AWS.Region = getEnv("AWS_REGION", c.AWS.Region)
	c.AWS.Bucket = getEnv("BUCKET_NAME", c.AWS.Bucket)
	c.Instance.MachineType = getEnv("MACHINE_TYPE", c.Instance.MachineType)
	c.Instance.ImageID = getEnv("IMAGE_ID", c.Instance.ImageID)
	c.Instance.DiskSize = getEnv("DISK_SIZE", c.Instance.DiskSize)
	c.Instance.InstanceProfile = getEnv("INSTANCE_PROFILE", c.Instance.InstanceProfile)
	c.Instance.WorkloadCommand = getEnv("WORKLOAD_COMMAND", c.Instance.WorkloadCommand)
	c.Instance.SpotMaxPrice = getEnv("SPOT_MAX_PRICE", c.Instance.SpotMaxPrice)

	var err error
	if c.Orchestrator.MaxRetries, err = getEnvInt("MAX_RETRIES", c.Orchestrator.MaxRetries); err != nil {
		return err
	}
	if c.Orchestrator.PollInterval, err = getEnvDuration("POLL_INTERVAL", c.Orchestrator.PollInterval); err != nil {
		return err
	}
	if c.Orchestrator.TaskDeadline, err = getEnvDuration("TASK_DEADLINE", c.Orchestrator.TaskDeadline); err != nil {
		return err
	}
	return nil
}

// Instance names are "{prefix}-{millis}-{8 hex}" and double as the EC2
// client token, which is capped at 64 characters
var validNamePrefix = regexp.MustCompile(`^[A-Za-z0-9-]{1,40}$`)

// Validate reports every missing or out-of-range setting at once
func (c *Config) Validate() error {
	var errs []error
	if c.ServerPort == "" {
		errs = append(errs, errors.New("server_port is required"))
	}
	if c.AWS.Region == "" {
		errs = append(errs, errors.New("aws.region is required"))
	}
	if c.AWS.Bucket == "" {
		errs = append(errs, errors.New("aws.bucket is required"))
	}
	if c.Instance.MachineType == "" {
		errs = append(errs, errors.New("instance.machine_type is required"))
	}
	if c.Instance.ImageID == "" && c.Instance.ImageNamePattern == "" {
		errs = append(errs, errors.New("instance.image_id or instance.image_name_pattern is required"))
	}
	if c.Instance.WorkloadCommand == "" {
		errs = append(errs, errors.New("instance.workload_command is required"))
	}
	if !validNamePrefix.MatchString(c.Instance.NamePrefix) {
		errs = append(errs, fmt.Errorf("instance.name_prefix %q must match %s", c.Instance.NamePrefix, validNamePrefix))
	}
	if _, err := c.DiskSizeGB(); err != nil {
		errs = append(errs, err)
	}
	if c.Orchestrator.MaxRetries < 0 {
		errs = append(errs, errors.New("orchestrator.max_retries must not be negative"))
	}
	if c.Orchestrator.PollInterval <= 0 {
		errs = append(errs, errors.New("orchestrator.poll_interval must be positive"))
	}
	if c.Orchestrator.TaskDeadline <= 0 {
		errs = append(errs, errors.New("orchestrator.task_deadline must be positive"))
	}
	return errors.Join(errs...)
}

// DiskSizeGB parses the disk size (e.g. "20GB" or "20") into gigabytes
func (c *Config) DiskSizeGB() (int, error) {
	raw := strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(c.Instance.DiskSize)), "GB")
	gb, err := strconv.Atoi(raw)
	if err != nil || gb <= 0 {
		return 0, fmt.Errorf("instance.disk_size %q must be a positive size like 20GB", c.Instance.DiskSize)
	}
	return gb, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
