package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig_FileSizeLimit(t *testing.T) {
	tmpDir := t.TempDir()

	// Create a large file (> 1MB)
	largeFile := filepath.Join(tmpDir, "large.yaml")
	data := strings.Repeat("x: value\n", 200000) // ~1.6MB
	err := os.WriteFile(largeFile, []byte(data), 0600)
	if err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	_, err = LoadConfig(largeFile)
	if err == nil {
		t.Fatal("expected error for large file")
	}
	if !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected 'too large' error, got: %v", err)
	}
}

func TestLoadConfig_ValidFile(t *testing.T) {
	tmpDir := t.TempDir()

	validConfig := `
firebase:
  api_key: AIzaTestKey
  auth_domain: demo.firebaseapp.com
  database_url: https://demo.firebaseio.com
  project_id: demo
  storage_bucket: "  demo.appspot.com  "
console:
  max_in_flight: 4
  http_timeout: 5s
`

	validFile := filepath.Join(tmpDir, "valid.yaml")
	err := os.WriteFile(validFile, []byte(validConfig), 0600)
	if err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	cfg, err := LoadConfig(validFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Firebase.ProjectID != "demo" {
		t.Errorf("expected project 'demo', got %s", cfg.Firebase.ProjectID)
	}
	if cfg.Firebase.Bucket() != "demo.appspot.com" {
		t.Errorf("expected trimmed bucket, got %q", cfg.Firebase.Bucket())
	}
	if cfg.Console.MaxInFlight != 4 {
		t.Errorf("expected max_in_flight 4, got %d", cfg.Console.MaxInFlight)
	}
	if cfg.Console.HTTPTimeout != 5*time.Second {
		t.Errorf("expected http_timeout 5s, got %v", cfg.Console.HTTPTimeout)
	}
	if cfg.Console.FunctionsRegion != "us-central1" {
		t.Errorf("expected default region, got %s", cfg.Console.FunctionsRegion)
	}
	if err := cfg.Firebase.Validate(); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
}

func TestLoadConfig_EnvFallback(t *testing.T) {
	t.Setenv("FIREBASE_PROJECT_ID", "from-env")
	t.Setenv("FIREBASE_API_KEY", "env-key")

	tmpDir := t.TempDir()
	file := filepath.Join(tmpDir, "env.yaml")
	if err := os.WriteFile(file, []byte("firebase:\n  api_key: file-key\n"), 0600); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	cfg, err := LoadConfig(file)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Firebase.ProjectID != "from-env" {
		t.Errorf("expected project from env, got %s", cfg.Firebase.ProjectID)
	}
	if cfg.Firebase.APIKey != "file-key" {
		t.Errorf("expected file value to win, got %s", cfg.Firebase.APIKey)
	}
}

func TestLoadConfig_NonexistentFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()

	invalidYAML := `
firebase:
  project_id: demo
invalid yaml here: [[[
`

	invalidFile := filepath.Join(tmpDir, "invalid.yaml")
	err := os.WriteFile(invalidFile, []byte(invalidYAML), 0600)
	if err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	_, err = LoadConfig(invalidFile)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestDescriptor_Validate(t *testing.T) {
	tests := []struct {
		name string
		d    Descriptor
		want []error
	}{
		{
			name: "complete",
			d:    Descriptor{APIKey: "k", AuthDomain: "a", DatabaseURL: "u", ProjectID: "p"},
		},
		{
			name: "bucket is optional",
			d:    Descriptor{APIKey: "k", AuthDomain: "a", DatabaseURL: "u", ProjectID: "p", StorageBucket: " "},
		},
		{
			name: "missing project",
			d:    Descriptor{APIKey: "k", AuthDomain: "a", DatabaseURL: "u"},
			want: []error{ErrMissingProjectID},
		},
		{
			name: "blank fields",
			d:    Descriptor{APIKey: " ", AuthDomain: "a", ProjectID: "p"},
			want: []error{ErrMissingAPIKey, ErrMissingDatabaseURL},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.d.Validate()
			if len(tt.want) == 0 {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			for _, want := range tt.want {
				if !errors.Is(err, want) {
					t.Errorf("expected %v in %v", want, err)
				}
			}
		})
	}
}

func TestDescriptor_Redacted(t *testing.T) {
	d := Descriptor{APIKey: "AIzaSyExampleKey1234", ProjectID: "p"}
	r := d.Redacted()
	if r.APIKey != "AIza************1234" {
		t.Errorf("unexpected mask %q", r.APIKey)
	}
	if d.APIKey != "AIzaSyExampleKey1234" {
		t.Error("Redacted must not modify the receiver")
	}
	if got := (Descriptor{APIKey: "short"}).Redacted().APIKey; got != "*****" {
		t.Errorf("unexpected mask %q", got)
	}
}

func TestParseDescriptor(t *testing.T) {
	text := `const firebaseConfig = {
  apiKey: "AIzaTest",
  authDomain: 'demo.firebaseapp.com',
  databaseURL: "https://demo.firebaseio.com",
  projectId: "demo",
  storageBucket: "demo.appspot.com",
  messagingSenderId: "123",
};`

	d, err := ParseDescriptor(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := Descriptor{
		APIKey:        "AIzaTest",
		AuthDomain:    "demo.firebaseapp.com",
		DatabaseURL:   "https://demo.firebaseio.com",
		ProjectID:     "demo",
		StorageBucket: "demo.appspot.com",
	}
	if d != want {
		t.Errorf("got %+v, want %+v", d, want)
	}

	if _, err := ParseDescriptor("no object here"); err == nil {
		t.Error("expected error without an object literal")
	}
	if _, err := ParseDescriptor("{apiKey: getKey()}"); err == nil {
		t.Error("expected error for code in the literal")
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}

	cfg.Observability.TraceExporter = "zipkin"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown exporter")
	}
}
