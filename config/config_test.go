package config

import (
	"reflect"
	"testing"
	"time"

	env "github.com/caarlos0/env/v11"
)

func TestParseServices(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    map[ServiceMode]bool
		expectError bool
	}{
		{
			name:  "single service - http",
			input: "http",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP: true,
			},
		},
		{
			name:  "single service - worker",
			input: "worker",
			expected: map[ServiceMode]bool{
				ServiceModeWorker: true,
			},
		},
		{
			name:  "multiple services",
			input: "http,worker,reaper",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:   true,
				ServiceModeWorker: true,
				ServiceModeReaper: true,
			},
		},
		{
			name:  "whitespace around names",
			input: " http , worker ",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:   true,
				ServiceModeWorker: true,
			},
		},
		{
			name:        "empty string",
			input:       "",
			expectError: true,
		},
		{
			name:        "invalid service name",
			input:       "http,scheduler",
			expectError: true,
		},
		{
			name:        "only commas",
			input:       ",,,",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseServices(tt.input)
			if tt.expectError {
				if err == nil {
					t.Fatalf("expected error for input %q, got none", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("ParseServices(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestAppConfigDefaults(t *testing.T) {
	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("env.Parse failed: %v", err)
	}
	cfg.Sanitize()

	if cfg.Services != "http" {
		t.Errorf("Services default = %q, want %q", cfg.Services, "http")
	}
	if cfg.Queue.Namespace != "fix_jobs" {
		t.Errorf("Queue.Namespace default = %q, want %q", cfg.Queue.Namespace, "fix_jobs")
	}
	if cfg.Queue.Lease != 10*time.Minute {
		t.Errorf("Queue.Lease default = %v, want %v", cfg.Queue.Lease, 10*time.Minute)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("HTTP.Addr default = %q, want %q", cfg.HTTP.Addr, ":8080")
	}
	if cfg.GitHub.BaseURL != "https://api.github.com" {
		t.Errorf("GitHub.BaseURL default = %q, want %q", cfg.GitHub.BaseURL, "https://api.github.com")
	}
	if !cfg.IsHTTPServerEnabled() {
		t.Error("expected HTTP server enabled by default")
	}
	if cfg.IsWorkerEnabled() {
		t.Error("expected worker disabled by default")
	}
}

func TestAppConfigEnvOverrides(t *testing.T) {
	t.Setenv("SERVICES", "worker,reaper")
	t.Setenv("QUEUE_NAMESPACE", "fix_jobs_test")
	t.Setenv("WORKER_CONCURRENCY", "4")
	t.Setenv("GITHUB_API_BASE_URL", "https://ghe.example.com/api/v3/")

	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("env.Parse failed: %v", err)
	}
	cfg.Sanitize()

	if cfg.IsHTTPServerEnabled() {
		t.Error("expected HTTP server disabled")
	}
	if !cfg.IsWorkerEnabled() || !cfg.IsReaperEnabled() {
		t.Error("expected worker and reaper enabled")
	}
	if cfg.Queue.Namespace != "fix_jobs_test" {
		t.Errorf("Queue.Namespace = %q, want %q", cfg.Queue.Namespace, "fix_jobs_test")
	}
	if cfg.Worker.Concurrency != 4 {
		t.Errorf("Worker.Concurrency = %d, want 4", cfg.Worker.Concurrency)
	}
	if cfg.GitHub.BaseURL != "https://ghe.example.com/api/v3" {
		t.Errorf("GitHub.BaseURL = %q, want trailing slash trimmed", cfg.GitHub.BaseURL)
	}
}

func TestSanitizeGuardrails(t *testing.T) {
	cfg := AppConfig{
		Queue:  QueueConfig{ClaimTimeout: -1, Lease: 0},
		Worker: WorkerConfig{Concurrency: 0, CloneTimeout: time.Second},
		Reaper: ReaperConfig{Interval: time.Second, BatchSize: 0},
	}
	cfg.Sanitize()

	if cfg.Queue.ClaimTimeout != 5*time.Second {
		t.Errorf("Queue.ClaimTimeout = %v, want 5s", cfg.Queue.ClaimTimeout)
	}
	if cfg.Queue.Lease != 10*time.Minute {
		t.Errorf("Queue.Lease = %v, want 10m", cfg.Queue.Lease)
	}
	if cfg.Worker.Concurrency != 1 {
		t.Errorf("Worker.Concurrency = %d, want 1", cfg.Worker.Concurrency)
	}
	if cfg.Worker.CloneTimeout != 30*time.Second {
		t.Errorf("Worker.CloneTimeout = %v, want 30s", cfg.Worker.CloneTimeout)
	}
	if cfg.Reaper.Interval != 10*time.Second {
		t.Errorf("Reaper.Interval = %v, want 10s", cfg.Reaper.Interval)
	}
	if cfg.Reaper.BatchSize != 1 {
		t.Errorf("Reaper.BatchSize = %d, want 1", cfg.Reaper.BatchSize)
	}
}

func TestObservabilityConfigSanitize(t *testing.T) {
	c := ObservabilityConfig{MetricsEnabled: true, StatsdAddress: "   "}
	c.Sanitize()
	if c.IsEnabled() {
		t.Error("expected metrics disabled when statsd address is blank")
	}

	c = ObservabilityConfig{MetricsEnabled: true, StatsdAddress: "127.0.0.1:8125"}
	c.Sanitize()
	if !c.IsEnabled() {
		t.Error("expected metrics enabled")
	}
}
