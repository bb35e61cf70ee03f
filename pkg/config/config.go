package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/firepwn/firepwn/internal/jsonlit"
	"gopkg.in/yaml.v3"
)

// maxConfigSize is the largest config file LoadConfig accepts.
const maxConfigSize = 1 << 20

// Config represents the application configuration
type Config struct {
	// Firebase is the connection descriptor of the target project.
	Firebase Descriptor `yaml:"firebase"`

	Console       ConsoleConfig       `yaml:"console"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// Descriptor holds the client credentials a Firebase web app ships with.
type Descriptor struct {
	APIKey        string `yaml:"api_key" json:"apiKey"`
	AuthDomain    string `yaml:"auth_domain" json:"authDomain"`
	DatabaseURL   string `yaml:"database_url" json:"databaseURL"`
	ProjectID     string `yaml:"project_id" json:"projectId"`
	StorageBucket string `yaml:"storage_bucket" json:"storageBucket,omitempty"`
}

// ConsoleConfig holds operation dispatch settings
type ConsoleConfig struct {
	// MaxInFlight caps concurrent backend calls; 0 means unlimited.
	MaxInFlight int `yaml:"max_in_flight"`
	// RequestsPerSecond throttles backend calls; 0 disables throttling.
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	FunctionsRegion   string        `yaml:"functions_region"`
	HTTPTimeout       time.Duration `yaml:"http_timeout"`
	// Emulator is the host of a local emulator suite, if any.
	Emulator    string `yaml:"emulator"`
	HistoryFile string `yaml:"history_file"`
}

// ObservabilityConfig holds metrics and tracing settings
type ObservabilityConfig struct {
	MetricsPort   int     `yaml:"metrics_port"`
	TraceExporter string  `yaml:"trace_exporter"` // none, stdout, otlp
	OTLPEndpoint  string  `yaml:"otlp_endpoint"`
	SampleRate    float64 `yaml:"sample_rate"` // (0, 1]; 0 means unset
}

// Errors returned by Descriptor.Validate.
var (
	ErrMissingAPIKey      = errors.New("apiKey is required")
	ErrMissingAuthDomain  = errors.New("authDomain is required")
	ErrMissingDatabaseURL = errors.New("databaseURL is required")
	ErrMissingProjectID   = errors.New("projectId is required")
)

// Validate checks that every required field is present.
func (d Descriptor) Validate() error {
	var errs []error
	if strings.TrimSpace(d.APIKey) == "" {
		errs = append(errs, ErrMissingAPIKey)
	}
	if strings.TrimSpace(d.AuthDomain) == "" {
		errs = append(errs, ErrMissingAuthDomain)
	}
	if strings.TrimSpace(d.DatabaseURL) == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if strings.TrimSpace(d.ProjectID) == "" {
		errs = append(errs, ErrMissingProjectID)
	}
	return errors.Join(errs...)
}

// Bucket returns the trimmed storage bucket.
func (d Descriptor) Bucket() string {
	return strings.TrimSpace(d.StorageBucket)
}

// HasBucket reports whether a non-blank bucket was supplied.
func (d Descriptor) HasBucket() bool {
	return d.Bucket() != ""
}

// Redacted returns a copy safe to display, with the API key masked.
func (d Descriptor) Redacted() Descriptor {
	d.APIKey = mask(d.APIKey)
	return d
}

func mask(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// ParseDescriptor reads a descriptor from the firebaseConfig object literal
// found in a web app's bundle, for example
//
//	const firebaseConfig = { apiKey: "...", projectId: "..." };
//
// Text before the first '{' and after the last '}' is ignored. Unknown keys
// such as messagingSenderId are ignored.
func ParseDescriptor(text string) (Descriptor, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return Descriptor{}, fmt.Errorf("no object literal found")
	}

	obj, err := jsonlit.ParseObject(text[start : end+1])
	if err != nil {
		return Descriptor{}, fmt.Errorf("failed to parse firebase config: %w", err)
	}

	str := func(keys ...string) string {
		for _, k := range keys {
			if v, ok := obj[k].(string); ok {
				return v
			}
		}
		return ""
	}
	return Descriptor{
		APIKey:        str("apiKey"),
		AuthDomain:    str("authDomain"),
		DatabaseURL:   str("databaseURL", "databaseUrl"),
		ProjectID:     str("projectId"),
		StorageBucket: str("storageBucket"),
	}, nil
}

// Default returns a configuration with defaults applied and no descriptor.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Console.FunctionsRegion == "" {
		c.Console.FunctionsRegion = "us-central1"
	}
	if c.Console.Burst == 0 {
		c.Console.Burst = 1
	}
	if c.Console.HTTPTimeout == 0 {
		c.Console.HTTPTimeout = 60 * time.Second
	}
	if c.Observability.TraceExporter == "" {
		c.Observability.TraceExporter = "none"
	}
	if c.Observability.SampleRate == 0 {
		c.Observability.SampleRate = 1.0
	}
}

// applyEnv loads descriptor fields from the environment if not in config.
func (c *Config) applyEnv() {
	fields := []struct {
		dst *string
		env string
	}{
		{&c.Firebase.APIKey, "FIREBASE_API_KEY"},
		{&c.Firebase.AuthDomain, "FIREBASE_AUTH_DOMAIN"},
		{&c.Firebase.DatabaseURL, "FIREBASE_DATABASE_URL"},
		{&c.Firebase.ProjectID, "FIREBASE_PROJECT_ID"},
		{&c.Firebase.StorageBucket, "FIREBASE_STORAGE_BUCKET"},
		{&c.Console.Emulator, "FIREBASE_EMULATOR_HOST"},
		{&c.Observability.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT"},
	}
	for _, f := range fields {
		if *f.dst == "" {
			*f.dst = os.Getenv(f.env)
		}
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Console.MaxInFlight < 0 {
		return fmt.Errorf("console.max_in_flight must not be negative")
	}
	if c.Console.RequestsPerSecond < 0 {
		return fmt.Errorf("console.requests_per_second must not be negative")
	}
	switch c.Observability.TraceExporter {
	case "none", "stdout", "otlp":
	default:
		return fmt.Errorf("unknown trace exporter %q", c.Observability.TraceExporter)
	}
	if c.Observability.SampleRate < 0 || c.Observability.SampleRate > 1 {
		return fmt.Errorf("observability.sample_rate must be between 0 and 1")
	}
	return nil
}
