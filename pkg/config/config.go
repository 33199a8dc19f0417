package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the harvester
type Config struct {
	API       APIConfig       `yaml:"api" json:"api"`
	Query     QueryConfig     `yaml:"query" json:"query"`
	Harvest   HarvestConfig   `yaml:"harvest" json:"harvest"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Retry     RetryConfig     `yaml:"retry" json:"retry"`
	Schedule  ScheduleConfig  `yaml:"schedule" json:"schedule"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// APIConfig holds search endpoint and credential settings
type APIConfig struct {
	BaseURL   string        `yaml:"base_url" json:"base_url" validate:"required,url"`
	APIKey    string        `yaml:"api_key" json:"api_key"`
	InstToken string        `yaml:"inst_token" json:"inst_token"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout" validate:"gt=0"`
	UserAgent string        `yaml:"user_agent" json:"user_agent"`
}

// QueryConfig describes the search being harvested
type QueryConfig struct {
	Query     string `yaml:"query" json:"query" validate:"required"`
	DateRange string `yaml:"date_range" json:"date_range" validate:"required,daterange"`
	Sort      string `yaml:"sort" json:"sort"`
	PageSize  int    `yaml:"page_size" json:"page_size" validate:"min=1,max=200"`
	View      string `yaml:"view" json:"view" validate:"oneof=STANDARD COMPLETE"`
}

// HarvestConfig holds per-run budget and output settings
type HarvestConfig struct {
	MaxRequests      int           `yaml:"max_requests" json:"max_requests" validate:"min=1"`
	RequestsPerChunk int           `yaml:"requests_per_chunk" json:"requests_per_chunk" validate:"min=1"`
	OutputDir        string        `yaml:"output_dir" json:"output_dir" validate:"required"`
	CursorFile       string        `yaml:"cursor_file" json:"cursor_file" validate:"required"`
	CursorExpiry     time.Duration `yaml:"cursor_expiry" json:"cursor_expiry" validate:"gt=0"`
}

// RateLimitConfig holds client-side rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second" validate:"gt=0"`
	Burst             int     `yaml:"burst" json:"burst" validate:"min=1"`
	Algorithm         string  `yaml:"algorithm" json:"algorithm" validate:"oneof=sliding_window token_bucket"`
}

// RetryConfig holds retry configuration for transient failures
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" json:"max_attempts" validate:"min=1"`
	BaseDelay    time.Duration `yaml:"base_delay" json:"base_delay" validate:"gt=0"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay" validate:"gtefield=BaseDelay"`
	Multiplier   float64       `yaml:"multiplier" json:"multiplier" validate:"gte=1"`
	JitterFactor float64       `yaml:"jitter_factor" json:"jitter_factor" validate:"gte=0,lte=1"`
}

// ScheduleSlot is one recurring run with its own request ceiling
type ScheduleSlot struct {
	Name        string `yaml:"name" json:"name" validate:"required"`
	Cron        string `yaml:"cron" json:"cron" validate:"required"`
	MaxRequests int    `yaml:"max_requests" json:"max_requests" validate:"min=1"`
}

// ScheduleConfig holds the weekly run plan used by the schedule command
type ScheduleConfig struct {
	Timezone string         `yaml:"timezone" json:"timezone"`
	Slots    []ScheduleSlot `yaml:"slots" json:"slots" validate:"dive"`
}

// MetricsConfig controls the Prometheus listener
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	ListenAddr string `yaml:"listen_addr" json:"listen_addr" validate:"required_if=Enabled true"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level" validate:"omitempty,oneof=debug info warn warning error disabled"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance matching the weekly Scopus plan
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:   "https://api.elsevier.com/content/search/scopus",
			Timeout:   30 * time.Second,
			UserAgent: "scopusharvest/1.0",
		},
		Query: QueryConfig{
			Query:     "DOCTYPE(ar)",
			DateRange: "2000-2024",
			Sort:      "-coverDate",
			PageSize:  25,
			View:      "COMPLETE",
		},
		Harvest: HarvestConfig{
			MaxRequests:      40000,
			RequestsPerChunk: 2000,
			OutputDir:        "Data/raw",
			CursorFile:       "cursor_state.json",
			CursorExpiry:     7 * 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 9,
			Burst:             1,
			Algorithm:         "sliding_window",
		},
		Retry: RetryConfig{
			MaxAttempts:  5,
			BaseDelay:    2 * time.Second,
			MaxDelay:     60 * time.Second,
			Multiplier:   2.0,
			JitterFactor: 0.2,
		},
		Schedule: ScheduleConfig{
			Timezone: "Local",
			Slots: []ScheduleSlot{
				{Name: "monday", Cron: "0 2 * * MON", MaxRequests: 40000},
				{Name: "tuesday", Cron: "0 2 * * TUE", MaxRequests: 30000},
				{Name: "thursday", Cron: "0 2 * * THU", MaxRequests: 30000},
			},
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: ":9464",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	if key := os.Getenv("SCOPUS_API_KEY"); key != "" {
		c.API.APIKey = key
	}
	if token := os.Getenv("SCOPUS_INST_TOKEN"); token != "" {
		c.API.InstToken = token
	}
	if baseURL := os.Getenv("SCOPUSHARVEST_BASE_URL"); baseURL != "" {
		c.API.BaseURL = baseURL
	}
	if v := os.Getenv("SCOPUSHARVEST_MAX_REQUESTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("SCOPUSHARVEST_MAX_REQUESTS: %w", err))
		} else {
			c.Harvest.MaxRequests = n
		}
	}
	if v := os.Getenv("SCOPUSHARVEST_REQUESTS_PER_SECOND"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("SCOPUSHARVEST_REQUESTS_PER_SECOND: %w", err))
		} else {
			c.RateLimit.RequestsPerSecond = f
		}
	}
	if dir := os.Getenv("SCOPUSHARVEST_OUTPUT_DIR"); dir != "" {
		c.Harvest.OutputDir = dir
	}
	if path := os.Getenv("SCOPUSHARVEST_CURSOR_FILE"); path != "" {
		c.Harvest.CursorFile = path
	}
	if level := os.Getenv("SCOPUSHARVEST_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		"scopusharvest.yaml",
		".scopusharvest.yaml",
		".scopusharvest.yml",
		filepath.Join(home, ".config", "scopusharvest", "config.yaml"),
		filepath.Join(home, ".config", "scopusharvest", "config.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

var dateRangePattern = regexp.MustCompile(`^(\d{4})(-(\d{4}))?$`)

// validDateRange accepts "YYYY" or "YYYY-YYYY" with start <= end
func validDateRange(fl validator.FieldLevel) bool {
	m := dateRangePattern.FindStringSubmatch(fl.Field().String())
	if m == nil {
		return false
	}
	if m[3] == "" {
		return true
	}
	return m[1] <= m[3]
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("daterange", validDateRange)
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if err := newValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s: failed %q validation", fe.Namespace(), fe.Tag()))
			}
		} else {
			errs = append(errs, err)
		}
	}

	if c.RateLimit.Algorithm == "sliding_window" && c.RateLimit.RequestsPerSecond < 1 {
		errs = append(errs, errors.New("sliding_window rate limit needs at least 1 request per second"))
	}

	if c.RateLimit.Algorithm == "token_bucket" {
		ceiling := int(c.RateLimit.RequestsPerSecond)
		if ceiling < 1 {
			ceiling = 1
		}
		if c.RateLimit.Burst > ceiling {
			errs = append(errs, fmt.Errorf("token_bucket burst %d exceeds the %d requests per second ceiling", c.RateLimit.Burst, ceiling))
		}
	}

	seen := make(map[string]bool)
	for _, slot := range c.Schedule.Slots {
		if seen[slot.Name] {
			errs = append(errs, fmt.Errorf("duplicate schedule slot %q", slot.Name))
		}
		seen[slot.Name] = true
	}

	return errors.Join(errs...)
}

// Save saves the configuration to a file. The API key is never written.
func (c *Config) Save(path string) error {
	clean := *c
	clean.API.APIKey = ""
	clean.API.InstToken = ""

	data, err := yaml.Marshal(&clean)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges explicitly set command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["api-key"].(string); ok && v != "" {
		c.API.APIKey = v
	}
	if v, ok := flags["base-url"].(string); ok && v != "" {
		c.API.BaseURL = v
	}
	if v, ok := flags["query"].(string); ok && v != "" {
		c.Query.Query = v
	}
	if v, ok := flags["date-range"].(string); ok && v != "" {
		c.Query.DateRange = v
	}
	if v, ok := flags["page-size"].(int); ok && v > 0 {
		c.Query.PageSize = v
	}
	if v, ok := flags["max-requests"].(int); ok {
		c.Harvest.MaxRequests = v
	}
	if v, ok := flags["chunk-requests"].(int); ok && v > 0 {
		c.Harvest.RequestsPerChunk = v
	}
	if v, ok := flags["output"].(string); ok && v != "" {
		c.Harvest.OutputDir = v
	}
	if v, ok := flags["cursor-file"].(string); ok && v != "" {
		c.Harvest.CursorFile = v
	}
	if v, ok := flags["rps"].(float64); ok && v > 0 {
		c.RateLimit.RequestsPerSecond = v
	}
	if v, ok := flags["max-retries"].(int); ok && v > 0 {
		c.Retry.MaxAttempts = v
	}
	if v, ok := flags["metrics-addr"].(string); ok && v != "" {
		c.Metrics.Enabled = true
		c.Metrics.ListenAddr = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// .env files are optional
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".scopusharvest.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
