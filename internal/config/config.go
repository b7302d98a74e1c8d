// Package config loads and validates the engine's YAML configuration.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for a taskengine process.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Store        StoreConfig        `yaml:"store"`
	Sandbox      SandboxConfig      `yaml:"sandbox"`
	LLM          LLMConfig          `yaml:"llm"`
	Worker       WorkerConfig       `yaml:"worker"`
	Critic       CriticConfig       `yaml:"critic"`
	Artifacts    ArtifactsConfig    `yaml:"artifacts"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig configures the HTTP API that accepts task submissions.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StoreConfig selects and configures the durable Task/Step/Event store.
type StoreConfig struct {
	// Driver is one of "memory", "postgres", "sqlite".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// SandboxConfig configures the Sandbox Manager (C2).
type SandboxConfig struct {
	// Backend is one of "docker", "firecracker".
	Backend string `yaml:"backend"`

	Image          string        `yaml:"image"`
	CPULimit       float64       `yaml:"cpu_limit"`
	MemoryLimitMB  int           `yaml:"memory_limit_mb"`
	WorkSizeMB     int           `yaml:"work_size_mb"`
	NetworkEnabled bool          `yaml:"network_enabled"`
	CreateTimeout  time.Duration `yaml:"create_timeout"`
	Lifetime       time.Duration `yaml:"lifetime"`
	HealthRetries  int           `yaml:"health_retries"`
	HealthInterval time.Duration `yaml:"health_interval"`

	Firecracker FirecrackerConfig `yaml:"firecracker"`
}

// FirecrackerConfig configures the alternate microVM sandbox backend.
type FirecrackerConfig struct {
	KernelPath   string            `yaml:"kernel_path"`
	RootFSImage  string            `yaml:"rootfs_image"`
	VCPUs        int64             `yaml:"vcpus"`
	MemMB        int64             `yaml:"mem_mb"`
	SocketDir    string            `yaml:"socket_dir"`
}

// LLMConfig configures the language model client used by the Planner and Critic.
type LLMConfig struct {
	// Provider is one of "anthropic", "openai".
	Provider     string        `yaml:"provider"`
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	DefaultModel string        `yaml:"default_model"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
	Timeout      time.Duration `yaml:"timeout"`
}

// WorkerConfig configures the Worker Loop (C8).
type WorkerConfig struct {
	MaxConcurrency  int           `yaml:"max_concurrency"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryBaseDelay  time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay   time.Duration `yaml:"retry_max_delay"`
}

// CriticConfig configures the Critic (C6).
type CriticConfig struct {
	Enabled            bool    `yaml:"enabled"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	MaxCorrectionDepth int     `yaml:"max_correction_depth"`
}

// ArtifactsConfig configures where step-produced artifact content is
// persisted and which artifacts get redacted before they reach it.
type ArtifactsConfig struct {
	BasePath string `yaml:"base_path"`

	RedactionEnabled  bool     `yaml:"redaction_enabled"`
	RedactedTypes     []string `yaml:"redacted_types"`
	RedactedFilenames []string `yaml:"redacted_filenames"`
}

// ObservabilityConfig configures logging, metrics, and tracing.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // "json" or "text"
	MetricsPort int    `yaml:"metrics_port"`

	TracingEnabled bool   `yaml:"tracing_enabled"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	ServiceName    string `yaml:"service_name"`
}

// Load reads a YAML config file, expanding ${VAR} environment references,
// then applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := decoder.Decode(new(struct{})); err != io.EOF {
		return nil, fmt.Errorf("config: %s must contain exactly one YAML document", path)
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a Config with every field set to its zero-task default,
// suitable for local development against a Docker daemon and an in-memory store.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "memory"
	}

	if cfg.Sandbox.Backend == "" {
		cfg.Sandbox.Backend = "docker"
	}
	if cfg.Sandbox.Image == "" {
		cfg.Sandbox.Image = "taskforge/sandbox:latest"
	}
	if cfg.Sandbox.CPULimit == 0 {
		cfg.Sandbox.CPULimit = 1.0
	}
	if cfg.Sandbox.MemoryLimitMB == 0 {
		cfg.Sandbox.MemoryLimitMB = 1024
	}
	if cfg.Sandbox.WorkSizeMB == 0 {
		cfg.Sandbox.WorkSizeMB = 512
	}
	if cfg.Sandbox.CreateTimeout == 0 {
		cfg.Sandbox.CreateTimeout = 30 * time.Second
	}
	if cfg.Sandbox.Lifetime == 0 {
		cfg.Sandbox.Lifetime = time.Hour
	}
	if cfg.Sandbox.HealthRetries == 0 {
		cfg.Sandbox.HealthRetries = 30
	}
	if cfg.Sandbox.HealthInterval == 0 {
		cfg.Sandbox.HealthInterval = time.Second
	}
	if cfg.Sandbox.Firecracker.VCPUs == 0 {
		cfg.Sandbox.Firecracker.VCPUs = 1
	}
	if cfg.Sandbox.Firecracker.MemMB == 0 {
		cfg.Sandbox.Firecracker.MemMB = 512
	}
	if cfg.Sandbox.Firecracker.SocketDir == "" {
		cfg.Sandbox.Firecracker.SocketDir = "/var/lib/taskforge/firecracker"
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "anthropic"
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}
	if cfg.LLM.RetryDelay == 0 {
		cfg.LLM.RetryDelay = time.Second
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 2 * time.Minute
	}

	if cfg.Worker.MaxConcurrency == 0 {
		cfg.Worker.MaxConcurrency = 5
	}
	if cfg.Worker.PollInterval == 0 {
		cfg.Worker.PollInterval = time.Second
	}
	if cfg.Worker.MaxRetries == 0 {
		cfg.Worker.MaxRetries = 3
	}
	if cfg.Worker.RetryBaseDelay == 0 {
		cfg.Worker.RetryBaseDelay = time.Second
	}
	if cfg.Worker.RetryMaxDelay == 0 {
		cfg.Worker.RetryMaxDelay = 30 * time.Second
	}

	if cfg.Critic.ConfidenceThreshold == 0 {
		cfg.Critic.ConfidenceThreshold = 0.7
	}
	if cfg.Critic.MaxCorrectionDepth == 0 {
		cfg.Critic.MaxCorrectionDepth = 3
	}

	if cfg.Artifacts.BasePath == "" {
		cfg.Artifacts.BasePath = "/var/lib/taskforge/artifacts"
	}

	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.LogFormat == "" {
		cfg.Observability.LogFormat = "json"
	}
	if cfg.Observability.MetricsPort == 0 {
		cfg.Observability.MetricsPort = 9090
	}
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "taskengine"
	}
}

// ValidationError wraps a single configuration defect.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func validate(cfg *Config) error {
	switch cfg.Store.Driver {
	case "memory", "postgres", "sqlite":
	default:
		return &ValidationError{Field: "store.driver", Reason: "must be one of memory, postgres, sqlite"}
	}
	if cfg.Store.Driver != "memory" && cfg.Store.DSN == "" {
		return &ValidationError{Field: "store.dsn", Reason: "required for non-memory drivers"}
	}

	switch cfg.Sandbox.Backend {
	case "docker", "firecracker":
	default:
		return &ValidationError{Field: "sandbox.backend", Reason: "must be one of docker, firecracker"}
	}

	switch cfg.LLM.Provider {
	case "anthropic", "openai":
	default:
		return &ValidationError{Field: "llm.provider", Reason: "must be one of anthropic, openai"}
	}
	if cfg.LLM.APIKey == "" {
		return &ValidationError{Field: "llm.api_key", Reason: "required"}
	}

	if cfg.Worker.MaxConcurrency < 1 {
		return &ValidationError{Field: "worker.max_concurrency", Reason: "must be at least 1"}
	}
	if cfg.Critic.ConfidenceThreshold < 0 || cfg.Critic.ConfidenceThreshold > 1 {
		return &ValidationError{Field: "critic.confidence_threshold", Reason: "must be in [0,1]"}
	}
	if cfg.Critic.MaxCorrectionDepth < 0 {
		return &ValidationError{Field: "critic.max_correction_depth", Reason: "must be non-negative"}
	}
	return nil
}
