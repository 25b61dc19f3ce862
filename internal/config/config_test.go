package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	lookup := mapLookup(map[string]string{})
	cfg, err := Load("insightloop-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Auth.Required {
		t.Fatal("Auth.Required should default to false in dev")
	}
	if cfg.Workflow.MaxRetries != 2 {
		t.Fatalf("Workflow.MaxRetries = %d", cfg.Workflow.MaxRetries)
	}
	if cfg.Workflow.LookupTimeout != 3*time.Second {
		t.Fatalf("Workflow.LookupTimeout = %s", cfg.Workflow.LookupTimeout)
	}
	if cfg.Workflow.WatchdogTimeout != 90*time.Second {
		t.Fatalf("Workflow.WatchdogTimeout = %s", cfg.Workflow.WatchdogTimeout)
	}
	if cfg.Gateway.Timeout != 30*time.Second {
		t.Fatalf("Gateway.Timeout = %s", cfg.Gateway.Timeout)
	}
	if cfg.Executor.Timeout != 10*time.Second {
		t.Fatalf("Executor.Timeout = %s", cfg.Executor.Timeout)
	}
	if cfg.Executor.RowCap != 1000 {
		t.Fatalf("Executor.RowCap = %d", cfg.Executor.RowCap)
	}
	if cfg.Knowledge.MaxOpenConns != 20 {
		t.Fatalf("Knowledge.MaxOpenConns = %d", cfg.Knowledge.MaxOpenConns)
	}
	if cfg.Registry.Capacity != 1024 {
		t.Fatalf("Registry.Capacity = %d", cfg.Registry.Capacity)
	}
	if !cfg.Archive.Enabled {
		t.Fatal("Archive.Enabled should default to true in dev")
	}
	if cfg.Artifact.ExportEnabled {
		t.Fatal("Artifact.ExportEnabled should default to false")
	}
	if cfg.Gateway.Model != "gpt-5" {
		t.Fatalf("Gateway.Model = %q", cfg.Gateway.Model)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	lookup := mapLookup(map[string]string{"INSIGHTLOOP_PROFILE": "prod"})
	cfg, err := Load("insightloop-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileProd {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileProd)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required should default to true in prod")
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Artifact.UseSSL {
		t.Fatal("Artifact.UseSSL should default to true in prod")
	}
	if cfg.Artifact.AutoCreateBucket {
		t.Fatal("Artifact.AutoCreateBucket should default to false in prod")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"INSIGHTLOOP_PROFILE":                     "test",
		"INSIGHTLOOP_SERVICE_NAME":                "insightloop-custom",
		"INSIGHTLOOP_HTTP_ADDR":                   ":9999",
		"INSIGHTLOOP_HTTP_READ_TIMEOUT":           "2s",
		"INSIGHTLOOP_LOG_LEVEL":                   "error",
		"INSIGHTLOOP_AUTH_REQUIRED":               "true",
		"INSIGHTLOOP_AUTH_STATIC_KEYS":            "k1:t1:ask",
		"INSIGHTLOOP_KNOWLEDGE_DSN":               "postgres://example",
		"INSIGHTLOOP_KNOWLEDGE_MAX_OPEN_CONNS":    "42",
		"INSIGHTLOOP_GATEWAY_BASE_URL":            "https://api.example.com",
		"INSIGHTLOOP_GATEWAY_API_KEY":             "secret-key",
		"INSIGHTLOOP_GATEWAY_MODEL":               "gpt-5.2",
		"INSIGHTLOOP_GATEWAY_TEMPERATURE":         "0.3",
		"INSIGHTLOOP_GATEWAY_TIMEOUT":             "21s",
		"INSIGHTLOOP_EXECUTOR_DATA_DIR":           "/var/lib/insightloop",
		"INSIGHTLOOP_EXECUTOR_TIMEOUT":            "4s",
		"INSIGHTLOOP_EXECUTOR_ROW_CAP":            "250",
		"INSIGHTLOOP_WORKFLOW_MAX_RETRIES":        "3",
		"INSIGHTLOOP_WORKFLOW_LOOKUP_TIMEOUT":     "750ms",
		"INSIGHTLOOP_WORKFLOW_WATCHDOG_TIMEOUT":   "45s",
		"INSIGHTLOOP_WORKFLOW_RESULT_SAMPLE_ROWS": "25",
		"INSIGHTLOOP_REGISTRY_CAPACITY":           "77",
		"INSIGHTLOOP_REGISTRY_EVICTION_GRACE":     "90s",
		"INSIGHTLOOP_ARCHIVE_ENABLED":             "true",
		"INSIGHTLOOP_ARCHIVE_RETENTION_AGE":       "48h",
		"INSIGHTLOOP_ARTIFACT_EXPORT_ENABLED":     "true",
		"INSIGHTLOOP_ARTIFACT_ENDPOINT":           "s3.example.com",
		"INSIGHTLOOP_ARTIFACT_BUCKET":             "insightloop-prod",
		"INSIGHTLOOP_ARTIFACT_USE_SSL":            "true",
	})
	cfg, err := Load("insightloop-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "insightloop-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.HTTP.ReadTimeout != 2*time.Second {
		t.Fatalf("HTTP.ReadTimeout = %s", cfg.HTTP.ReadTimeout)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Auth.StaticKeys != "k1:t1:ask" {
		t.Fatalf("StaticKeys = %q", cfg.Auth.StaticKeys)
	}
	if cfg.Knowledge.DSN != "postgres://example" {
		t.Fatalf("Knowledge.DSN = %q", cfg.Knowledge.DSN)
	}
	if cfg.Knowledge.MaxOpenConns != 42 {
		t.Fatalf("Knowledge.MaxOpenConns = %d", cfg.Knowledge.MaxOpenConns)
	}
	if cfg.Gateway.BaseURL != "https://api.example.com" {
		t.Fatalf("Gateway.BaseURL = %q", cfg.Gateway.BaseURL)
	}
	if cfg.Gateway.APIKey != "secret-key" {
		t.Fatalf("Gateway.APIKey = %q", cfg.Gateway.APIKey)
	}
	if cfg.Gateway.Model != "gpt-5.2" {
		t.Fatalf("Gateway.Model = %q", cfg.Gateway.Model)
	}
	if cfg.Gateway.Temperature != 0.3 {
		t.Fatalf("Gateway.Temperature = %f", cfg.Gateway.Temperature)
	}
	if cfg.Gateway.Timeout != 21*time.Second {
		t.Fatalf("Gateway.Timeout = %s", cfg.Gateway.Timeout)
	}
	if cfg.Executor.DataDir != "/var/lib/insightloop" {
		t.Fatalf("Executor.DataDir = %q", cfg.Executor.DataDir)
	}
	if cfg.Executor.Timeout != 4*time.Second {
		t.Fatalf("Executor.Timeout = %s", cfg.Executor.Timeout)
	}
	if cfg.Executor.RowCap != 250 {
		t.Fatalf("Executor.RowCap = %d", cfg.Executor.RowCap)
	}
	if cfg.Workflow.MaxRetries != 3 {
		t.Fatalf("Workflow.MaxRetries = %d", cfg.Workflow.MaxRetries)
	}
	if cfg.Workflow.LookupTimeout != 750*time.Millisecond {
		t.Fatalf("Workflow.LookupTimeout = %s", cfg.Workflow.LookupTimeout)
	}
	if cfg.Workflow.WatchdogTimeout != 45*time.Second {
		t.Fatalf("Workflow.WatchdogTimeout = %s", cfg.Workflow.WatchdogTimeout)
	}
	if cfg.Workflow.ResultSampleRows != 25 {
		t.Fatalf("Workflow.ResultSampleRows = %d", cfg.Workflow.ResultSampleRows)
	}
	if cfg.Registry.Capacity != 77 {
		t.Fatalf("Registry.Capacity = %d", cfg.Registry.Capacity)
	}
	if cfg.Registry.EvictionGrace != 90*time.Second {
		t.Fatalf("Registry.EvictionGrace = %s", cfg.Registry.EvictionGrace)
	}
	if cfg.Archive.RetentionAge != 48*time.Hour {
		t.Fatalf("Archive.RetentionAge = %s", cfg.Archive.RetentionAge)
	}
	if !cfg.Artifact.ExportEnabled {
		t.Fatal("Artifact.ExportEnabled = false, want true")
	}
	if cfg.Artifact.Endpoint != "s3.example.com" {
		t.Fatalf("Artifact.Endpoint = %q", cfg.Artifact.Endpoint)
	}
	if cfg.Artifact.Bucket != "insightloop-prod" {
		t.Fatalf("Artifact.Bucket = %q", cfg.Artifact.Bucket)
	}
	if !cfg.Artifact.UseSSL {
		t.Fatal("Artifact.UseSSL = false, want true")
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"INSIGHTLOOP_PROFILE": "oops"},
		{"INSIGHTLOOP_HTTP_READ_TIMEOUT": "NaN"},
		{"INSIGHTLOOP_KNOWLEDGE_MAX_OPEN_CONNS": "oops"},
		{"INSIGHTLOOP_WORKFLOW_MAX_RETRIES": "oops"},
		{"INSIGHTLOOP_WORKFLOW_MAX_RETRIES": "-1"},
		{"INSIGHTLOOP_GATEWAY_TEMPERATURE": "bad"},
		{"INSIGHTLOOP_AUTH_REQUIRED": "not-bool"},
		{"INSIGHTLOOP_LOG_LEVEL": "verbose"},
	}
	for _, env := range tests {
		_, err := Load("insightloop-api", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
