package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Providers understood by the analysis gateway.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Capture modes.
const (
	CaptureModeCommand = "command"
	CaptureModeWatch   = "watch"
)

// Config holds application configuration.
type Config struct {
	// CaptureDir is where capture images are written and recovered from.
	// Empty means <baseDir>/captures.
	CaptureDir string `json:"capture_dir,omitempty"`

	// CaptureMode selects how captures arrive: "command" runs CaptureCommand
	// every CaptureIntervalSeconds, "watch" enqueues files an external tool
	// writes into CaptureDir.
	CaptureMode string `json:"capture_mode,omitempty"`

	// CaptureCommand is the screenshot command. The literal "{path}" in any
	// argument is replaced with the output file path.
	CaptureCommand []string `json:"capture_command,omitempty"`

	// CaptureIntervalSeconds is the main loop tick.
	CaptureIntervalSeconds int `json:"capture_interval_seconds,omitempty"`

	// BatchSize is the queue length that triggers a batch.
	BatchSize int `json:"batch_size,omitempty"`

	// BatchIntervalSeconds triggers a batch once this long has passed since the last drain.
	BatchIntervalSeconds int `json:"batch_interval_seconds,omitempty"`

	// AnalysisConcurrency bounds in-flight analysis calls within one batch.
	AnalysisConcurrency int `json:"analysis_concurrency,omitempty"`

	// AnalysisTimeoutSeconds is the per-call timeout for the vision provider.
	AnalysisTimeoutSeconds int `json:"analysis_timeout_seconds,omitempty"`

	// RetryAttempts is the total number of attempts per capture (first call included).
	RetryAttempts int `json:"retry_attempts,omitempty"`

	// RetryDelayMillis is the fixed delay between attempts.
	RetryDelayMillis int `json:"retry_delay_millis,omitempty"`

	// RequestsPerMinute caps provider calls across the whole process.
	RequestsPerMinute int `json:"requests_per_minute,omitempty"`

	// Provider is "anthropic" or "openai" (any OpenAI-compatible endpoint).
	Provider string `json:"provider,omitempty"`

	// Model is the provider model name. Empty picks the provider default.
	Model string `json:"model,omitempty"`

	// BaseURL overrides the provider endpoint.
	BaseURL string `json:"base_url,omitempty"`

	// APIKey is normally supplied through the environment, not the file.
	APIKey string `json:"api_key,omitempty"`

	// MaxTokens caps the provider response length.
	MaxTokens int `json:"max_tokens,omitempty"`

	// RetentionDays is the snapshot retention window used by maintenance.
	RetentionDays int `json:"retention_days,omitempty"`

	// CaptureMaxAgeHours removes leftover capture images older than this.
	CaptureMaxAgeHours int `json:"capture_max_age_hours,omitempty"`

	// MaintenanceSchedule is a six-field cron expression (seconds first).
	MaintenanceSchedule string `json:"maintenance_schedule,omitempty"`

	// MaxLoopErrors is how many loop-level errors inside ErrorResetWindowSeconds are fatal.
	MaxLoopErrors int `json:"max_loop_errors,omitempty"`

	// ErrorResetWindowSeconds is the rolling window for MaxLoopErrors.
	ErrorResetWindowSeconds int `json:"error_reset_window_seconds,omitempty"`

	// ShutdownGraceSeconds bounds how long shutdown waits for in-flight work.
	ShutdownGraceSeconds int `json:"shutdown_grace_seconds,omitempty"`

	// MetricsAddr serves Prometheus metrics while running (e.g. "127.0.0.1:9464").
	// Empty disables the listener.
	MetricsAddr string `json:"metrics_addr,omitempty"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `json:"log_level,omitempty"`

	// LogFormat is text or json.
	LogFormat string `json:"log_format,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		CaptureMode:             CaptureModeCommand,
		CaptureCommand:          defaultCaptureCommand(),
		CaptureIntervalSeconds:  10,
		BatchSize:               12,
		BatchIntervalSeconds:    120,
		AnalysisConcurrency:     2,
		AnalysisTimeoutSeconds:  60,
		RetryAttempts:           3,
		RetryDelayMillis:        1000,
		RequestsPerMinute:       30,
		Provider:                ProviderAnthropic,
		MaxTokens:               1024,
		RetentionDays:           30,
		CaptureMaxAgeHours:      24,
		MaintenanceSchedule:     "0 0 3 * * *",
		MaxLoopErrors:           3,
		ErrorResetWindowSeconds: 300,
		ShutdownGraceSeconds:    10,
		LogLevel:                "info",
		LogFormat:               "text",
	}
}

func defaultCaptureCommand() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"screencapture", "-x", "-t", "png", "{path}"}
	case "windows":
		return []string{"powershell", "-NoProfile", "-File", "capture.ps1", "{path}"}
	default:
		return []string{"import", "-window", "root", "{path}"}
	}
}

// Load loads configuration from baseDir/config.json and baseDir/.env, then
// applies environment overrides. Returns defaults if neither file exists.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.focus.
func Load(baseDir string) (*Config, error) {
	// .env never overrides variables already set in the environment.
	envPath := filepath.Join(baseDir, ".env")
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
	}

	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	ApplyEnv(cfg)
	if cfg.CaptureDir == "" {
		cfg.CaptureDir = filepath.Join(baseDir, "captures")
	}
	return cfg, nil
}

// ApplyEnv overlays FOCUS_* variables and provider key fallbacks onto cfg.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("FOCUS_PROVIDER"); v != "" {
		cfg.Provider = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("FOCUS_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("FOCUS_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("FOCUS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FOCUS_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if cfg.APIKey == "" {
		switch cfg.Provider {
		case ProviderAnthropic:
			cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case ProviderOpenAI:
			cfg.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
}

// Validate checks settings the pipeline cannot run without.
func (c *Config) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.BatchIntervalSeconds <= 0 {
		return fmt.Errorf("batch_interval_seconds must be positive, got %d", c.BatchIntervalSeconds)
	}
	if c.CaptureIntervalSeconds <= 0 {
		return fmt.Errorf("capture_interval_seconds must be positive, got %d", c.CaptureIntervalSeconds)
	}
	switch c.Provider {
	case ProviderAnthropic, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	switch c.CaptureMode {
	case CaptureModeCommand:
		if len(c.CaptureCommand) == 0 {
			return fmt.Errorf("capture_command is required in %q mode", CaptureModeCommand)
		}
	case CaptureModeWatch:
	default:
		return fmt.Errorf("unknown capture_mode %q", c.CaptureMode)
	}
	return nil
}

// Durations derived from the integer settings.

func (c *Config) CaptureInterval() time.Duration {
	return time.Duration(c.CaptureIntervalSeconds) * time.Second
}

func (c *Config) BatchInterval() time.Duration {
	return time.Duration(c.BatchIntervalSeconds) * time.Second
}

func (c *Config) AnalysisTimeout() time.Duration {
	return time.Duration(c.AnalysisTimeoutSeconds) * time.Second
}

func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMillis) * time.Millisecond
}

func (c *Config) ErrorResetWindow() time.Duration {
	return time.Duration(c.ErrorResetWindowSeconds) * time.Second
}

func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}

func (c *Config) CaptureMaxAge() time.Duration {
	return time.Duration(c.CaptureMaxAgeHours) * time.Hour
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; the capture command is replaced
// wholesale, other arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.CaptureDir = pickString(overlay.CaptureDir, base.CaptureDir)
	result.CaptureMode = pickString(overlay.CaptureMode, base.CaptureMode)
	result.Provider = pickString(overlay.Provider, base.Provider)
	result.Model = pickString(overlay.Model, base.Model)
	result.BaseURL = pickString(overlay.BaseURL, base.BaseURL)
	result.APIKey = pickString(overlay.APIKey, base.APIKey)
	result.MaintenanceSchedule = pickString(overlay.MaintenanceSchedule, base.MaintenanceSchedule)
	result.MetricsAddr = pickString(overlay.MetricsAddr, base.MetricsAddr)
	result.LogLevel = pickString(overlay.LogLevel, base.LogLevel)
	result.LogFormat = pickString(overlay.LogFormat, base.LogFormat)

	result.CaptureIntervalSeconds = pickInt(overlay.CaptureIntervalSeconds, base.CaptureIntervalSeconds)
	result.BatchSize = pickInt(overlay.BatchSize, base.BatchSize)
	result.BatchIntervalSeconds = pickInt(overlay.BatchIntervalSeconds, base.BatchIntervalSeconds)
	result.AnalysisConcurrency = pickInt(overlay.AnalysisConcurrency, base.AnalysisConcurrency)
	result.AnalysisTimeoutSeconds = pickInt(overlay.AnalysisTimeoutSeconds, base.AnalysisTimeoutSeconds)
	result.RetryAttempts = pickInt(overlay.RetryAttempts, base.RetryAttempts)
	result.RetryDelayMillis = pickInt(overlay.RetryDelayMillis, base.RetryDelayMillis)
	result.RequestsPerMinute = pickInt(overlay.RequestsPerMinute, base.RequestsPerMinute)
	result.MaxTokens = pickInt(overlay.MaxTokens, base.MaxTokens)
	result.RetentionDays = pickInt(overlay.RetentionDays, base.RetentionDays)
	result.CaptureMaxAgeHours = pickInt(overlay.CaptureMaxAgeHours, base.CaptureMaxAgeHours)
	result.MaxLoopErrors = pickInt(overlay.MaxLoopErrors, base.MaxLoopErrors)
	result.ErrorResetWindowSeconds = pickInt(overlay.ErrorResetWindowSeconds, base.ErrorResetWindowSeconds)
	result.ShutdownGraceSeconds = pickInt(overlay.ShutdownGraceSeconds, base.ShutdownGraceSeconds)
	result.DBMaxOpenConns = pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	// A command is an ordered argv, so it is replaced rather than merged.
	result.CaptureCommand = base.CaptureCommand
	if len(overlay.CaptureCommand) > 0 {
		result.CaptureCommand = overlay.CaptureCommand
	}

	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

func pickString(overlay, base string) string {
	if strings.TrimSpace(overlay) != "" {
		return overlay
	}
	return base
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
