package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	lookup := mapLookup(map[string]string{})
	cfg, err := Load("askdb-api", lookup)
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
	if cfg.Store.Backend != BackendSQLite {
		t.Fatalf("Store.Backend = %q", cfg.Store.Backend)
	}
	if cfg.Store.RowCap != 50 {
		t.Fatalf("Store.RowCap = %d", cfg.Store.RowCap)
	}
	if cfg.Store.QueryTimeout != 10*time.Second {
		t.Fatalf("Store.QueryTimeout = %s", cfg.Store.QueryTimeout)
	}
	if cfg.Dataset.SourceURL != DefaultDatasetURL {
		t.Fatalf("Dataset.SourceURL = %q", cfg.Dataset.SourceURL)
	}
	if cfg.Schema.SampleRows != 3 {
		t.Fatalf("Schema.SampleRows = %d", cfg.Schema.SampleRows)
	}
	if cfg.AI.Provider != ProviderOpenAI {
		t.Fatalf("AI.Provider = %q", cfg.AI.Provider)
	}
	if cfg.AI.Temperature != 0 {
		t.Fatalf("AI.Temperature = %f", cfg.AI.Temperature)
	}
	if cfg.Pipeline.GateMode != GateHybrid {
		t.Fatalf("Pipeline.GateMode = %q", cfg.Pipeline.GateMode)
	}
	if cfg.Pipeline.MaxValidationRetries != 1 || cfg.Pipeline.MaxExecutionRetries != 1 {
		t.Fatalf("retry limits = %d/%d", cfg.Pipeline.MaxValidationRetries, cfg.Pipeline.MaxExecutionRetries)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	lookup := mapLookup(map[string]string{"ASKDB_PROFILE": "prod"})
	cfg, err := Load("askdb-api", lookup)
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
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL should default to true in prod")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"ASKDB_PROFILE":                "test",
		"ASKDB_HTTP_ADDR":              ":9999",
		"ASKDB_HTTP_READ_TIMEOUT":      "2s",
		"ASKDB_LOG_LEVEL":              "error",
		"ASKDB_AUTH_REQUIRED":          "true",
		"ASKDB_AUTH_STATIC_KEYS":       "k1:c1:asker",
		"ASKDB_STORE_BACKEND":          "postgres",
		"ASKDB_STORE_POSTGRES_DSN":     "postgres://example",
		"ASKDB_STORE_POSTGRES_SCHEMA":  "chinook",
		"ASKDB_STORE_MAX_OPEN_CONNS":   "42",
		"ASKDB_QUERY_TIMEOUT":          "3s",
		"ASKDB_ROW_CAP":                "20",
		"ASKDB_DATASET_CACHE_DIR":      "/tmp/askdb",
		"ASKDB_OBJECTSTORE_BUCKET":     "datasets",
		"ASKDB_DUCKDB_RELATIONS":       "Album.ArtistId->Artist.ArtistId",
		"ASKDB_SCHEMA_SAMPLE_ROWS":     "0",
		"ASKDB_SCHEMA_TABLES":          "Album, Artist ,",
		"ASKDB_AI_PROVIDER":            "anthropic",
		"ASKDB_AI_API_KEY":             "secret-key",
		"ASKDB_AI_MODEL":               "claude-x",
		"ASKDB_AI_TEMPERATURE":         "0.3",
		"ASKDB_AI_TIMEOUT":             "21s",
		"ASKDB_AI_MAX_TOKENS":          "300",
		"ASKDB_GATE_MODE":              "heuristic",
		"ASKDB_MAX_VALIDATION_RETRIES": "2",
		"ASKDB_MAX_EXECUTION_RETRIES":  "0",
		"ASKDB_MAX_CONCURRENT_ANSWERS": "4",
	})
	cfg, err := Load("askdb-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
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
	if !cfg.Auth.Required || cfg.Auth.StaticKeys != "k1:c1:asker" {
		t.Fatalf("Auth = %#v", cfg.Auth)
	}
	if cfg.Store.Backend != BackendPostgres || cfg.Store.PostgresDSN != "postgres://example" {
		t.Fatalf("Store = %#v", cfg.Store)
	}
	if cfg.Store.PostgresSchema != "chinook" {
		t.Fatalf("Store.PostgresSchema = %q", cfg.Store.PostgresSchema)
	}
	if cfg.Store.MaxOpenConns != 42 {
		t.Fatalf("Store.MaxOpenConns = %d", cfg.Store.MaxOpenConns)
	}
	if cfg.Store.QueryTimeout != 3*time.Second || cfg.Store.RowCap != 20 {
		t.Fatalf("Store limits = %s/%d", cfg.Store.QueryTimeout, cfg.Store.RowCap)
	}
	if cfg.Dataset.CacheDir != "/tmp/askdb" {
		t.Fatalf("Dataset.CacheDir = %q", cfg.Dataset.CacheDir)
	}
	if cfg.ObjectStore.Bucket != "datasets" {
		t.Fatalf("ObjectStore.Bucket = %q", cfg.ObjectStore.Bucket)
	}
	if cfg.DuckDB.Relations != "Album.ArtistId->Artist.ArtistId" {
		t.Fatalf("DuckDB.Relations = %q", cfg.DuckDB.Relations)
	}
	if cfg.Schema.SampleRows != 0 {
		t.Fatalf("Schema.SampleRows = %d", cfg.Schema.SampleRows)
	}
	if len(cfg.Schema.Tables) != 2 || cfg.Schema.Tables[0] != "Album" || cfg.Schema.Tables[1] != "Artist" {
		t.Fatalf("Schema.Tables = %#v", cfg.Schema.Tables)
	}
	if cfg.AI.Provider != ProviderAnthropic || cfg.AI.Model != "claude-x" {
		t.Fatalf("AI = %#v", cfg.AI)
	}
	if cfg.AI.BaseURL != "" {
		t.Fatalf("AI.BaseURL = %q, want provider default", cfg.AI.BaseURL)
	}
	if cfg.AI.Temperature != 0.3 || cfg.AI.Timeout != 21*time.Second || cfg.AI.MaxTokens != 300 {
		t.Fatalf("AI tuning = %#v", cfg.AI)
	}
	if cfg.Pipeline.GateMode != GateHeuristic {
		t.Fatalf("Pipeline.GateMode = %q", cfg.Pipeline.GateMode)
	}
	if cfg.Pipeline.MaxValidationRetries != 2 || cfg.Pipeline.MaxExecutionRetries != 0 {
		t.Fatalf("Pipeline retries = %#v", cfg.Pipeline)
	}
	if cfg.Pipeline.MaxConcurrentAnswers != 4 {
		t.Fatalf("Pipeline.MaxConcurrentAnswers = %d", cfg.Pipeline.MaxConcurrentAnswers)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"ASKDB_PROFILE": "oops"},
		{"ASKDB_HTTP_READ_TIMEOUT": "NaN"},
		{"ASKDB_STORE_MAX_OPEN_CONNS": "oops"},
		{"ASKDB_STORE_BACKEND": "mysql"},
		{"ASKDB_STORE_BACKEND": "postgres"},
		{"ASKDB_ROW_CAP": "0"},
		{"ASKDB_QUERY_TIMEOUT": "0s"},
		{"ASKDB_AI_PROVIDER": "llama"},
		{"ASKDB_AI_TEMPERATURE": "bad"},
		{"ASKDB_GATE_MODE": "strict"},
		{"ASKDB_MAX_VALIDATION_RETRIES": "-1"},
		{"ASKDB_MAX_CONCURRENT_ANSWERS": "0"},
		{"ASKDB_AUTH_REQUIRED": "not-bool"},
		{"ASKDB_LOG_LEVEL": "verbose"},
	}
	for _, env := range tests {
		_, err := Load("askdb-api", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func TestLoadEnvFilesDoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("ASKDB_TEST_FROM_FILE=file\nASKDB_TEST_PRESET=file\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("ASKDB_TEST_PRESET", "env")
	t.Cleanup(func() { _ = os.Unsetenv("ASKDB_TEST_FROM_FILE") })

	if err := loadEnvFiles(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("loadEnvFiles() error = %v", err)
	}
	if got := os.Getenv("ASKDB_TEST_FROM_FILE"); got != "file" {
		t.Fatalf("ASKDB_TEST_FROM_FILE = %q", got)
	}
	if got := os.Getenv("ASKDB_TEST_PRESET"); got != "env" {
		t.Fatalf("ASKDB_TEST_PRESET = %q, want env", got)
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
