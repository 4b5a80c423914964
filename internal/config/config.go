package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendDuckDB   = "duckdb"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Gate modes. Only heuristic refuses off-topic questions deterministically
// and without a completion call. Hybrid, the default, passes a question that
// shares no word with the schema to the model, which is told to lean toward
// relevant, so off-topic refusals depend on the model's reply.
const (
	GateHeuristic = "heuristic"
	GateModel     = "model"
	GateHybrid    = "hybrid"
)

// DefaultDatasetURL is the Chinook SQLite script.
const DefaultDatasetURL = "https://raw.githubusercontent.com/lerocha/chinook-database/master/ChinookDatabase/DataSources/Chinook_Sqlite.sql"

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Store         StoreConfig
	Dataset       DatasetConfig
	ObjectStore   ObjectStoreConfig
	DuckDB        DuckDBConfig
	Schema        SchemaConfig
	AI            AIConfig
	Pipeline      PipelineConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type StoreConfig struct {
	Backend         string
	SQLitePath      string
	PostgresDSN     string
	PostgresSchema  string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
	RowCap          int
}

type DatasetConfig struct {
	SourceURL   string
	CacheDir    string
	HTTPTimeout time.Duration
}

type ObjectStoreConfig struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Prefix          string
}

type DuckDBConfig struct {
	Prefix    string
	WorkDir   string
	Relations string
}

type SchemaConfig struct {
	SampleRows int
	Tables     []string
}

type AIConfig struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
	MaxTokens   int
}

type PipelineConfig struct {
	GateMode             string
	MaxValidationRetries int
	MaxExecutionRetries  int
	MaxConcurrentAnswers int
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

// LoadFromEnv reads optional .env files into the process environment and
// then loads the configuration from it. Variables already set win.
func LoadFromEnv(serviceName string) (Config, error) {
	if err := loadEnvFiles(".env.local", ".env"); err != nil {
		return Config{}, err
	}
	return Load(serviceName, os.LookupEnv)
}

func loadEnvFiles(paths ...string) error {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("ASKDB_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid ASKDB_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	var tables string
	steps := []error{
		applyString(lookup, "ASKDB_SERVICE_NAME", &cfg.Service.Name),
		applyString(lookup, "ASKDB_HTTP_ADDR", &cfg.HTTP.Address),
		applyDuration(lookup, "ASKDB_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout),
		applyDuration(lookup, "ASKDB_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout),
		applyDuration(lookup, "ASKDB_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout),

		applyString(lookup, "ASKDB_STORE_BACKEND", &cfg.Store.Backend),
		applyString(lookup, "ASKDB_STORE_SQLITE_PATH", &cfg.Store.SQLitePath),
		applyString(lookup, "ASKDB_STORE_POSTGRES_DSN", &cfg.Store.PostgresDSN),
		applyString(lookup, "ASKDB_STORE_POSTGRES_SCHEMA", &cfg.Store.PostgresSchema),
		applyInt(lookup, "ASKDB_STORE_MAX_OPEN_CONNS", &cfg.Store.MaxOpenConns),
		applyInt(lookup, "ASKDB_STORE_MAX_IDLE_CONNS", &cfg.Store.MaxIdleConns),
		applyDuration(lookup, "ASKDB_STORE_CONN_MAX_IDLE_TIME", &cfg.Store.ConnMaxIdleTime),
		applyDuration(lookup, "ASKDB_STORE_CONN_MAX_LIFETIME", &cfg.Store.ConnMaxLifetime),
		applyDuration(lookup, "ASKDB_QUERY_TIMEOUT", &cfg.Store.QueryTimeout),
		applyInt(lookup, "ASKDB_ROW_CAP", &cfg.Store.RowCap),

		applyString(lookup, "ASKDB_DATASET_SOURCE_URL", &cfg.Dataset.SourceURL),
		applyString(lookup, "ASKDB_DATASET_CACHE_DIR", &cfg.Dataset.CacheDir),
		applyDuration(lookup, "ASKDB_DATASET_HTTP_TIMEOUT", &cfg.Dataset.HTTPTimeout),

		applyString(lookup, "ASKDB_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint),
		applyString(lookup, "ASKDB_OBJECTSTORE_REGION", &cfg.ObjectStore.Region),
		applyString(lookup, "ASKDB_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket),
		applyString(lookup, "ASKDB_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID),
		applyString(lookup, "ASKDB_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey),
		applyBool(lookup, "ASKDB_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL),
		applyString(lookup, "ASKDB_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix),

		applyString(lookup, "ASKDB_DUCKDB_PREFIX", &cfg.DuckDB.Prefix),
		applyString(lookup, "ASKDB_DUCKDB_WORK_DIR", &cfg.DuckDB.WorkDir),
		applyString(lookup, "ASKDB_DUCKDB_RELATIONS", &cfg.DuckDB.Relations),

		applyInt(lookup, "ASKDB_SCHEMA_SAMPLE_ROWS", &cfg.Schema.SampleRows),
		applyString(lookup, "ASKDB_SCHEMA_TABLES", &tables),

		applyString(lookup, "ASKDB_AI_PROVIDER", &cfg.AI.Provider),
		applyString(lookup, "ASKDB_AI_BASE_URL", &cfg.AI.BaseURL),
		applyString(lookup, "ASKDB_AI_API_KEY", &cfg.AI.APIKey),
		applyString(lookup, "ASKDB_AI_MODEL", &cfg.AI.Model),
		applyFloat(lookup, "ASKDB_AI_TEMPERATURE", &cfg.AI.Temperature),
		applyDuration(lookup, "ASKDB_AI_TIMEOUT", &cfg.AI.Timeout),
		applyInt(lookup, "ASKDB_AI_MAX_TOKENS", &cfg.AI.MaxTokens),

		applyString(lookup, "ASKDB_GATE_MODE", &cfg.Pipeline.GateMode),
		applyInt(lookup, "ASKDB_MAX_VALIDATION_RETRIES", &cfg.Pipeline.MaxValidationRetries),
		applyInt(lookup, "ASKDB_MAX_EXECUTION_RETRIES", &cfg.Pipeline.MaxExecutionRetries),
		applyInt(lookup, "ASKDB_MAX_CONCURRENT_ANSWERS", &cfg.Pipeline.MaxConcurrentAnswers),

		applyBool(lookup, "ASKDB_LOG_JSON", &cfg.Observability.LogJSON),
		applyLogLevel(lookup, "ASKDB_LOG_LEVEL", &cfg.Observability.LogLevel),
		applyBool(lookup, "ASKDB_AUTH_REQUIRED", &cfg.Auth.Required),
		applyString(lookup, "ASKDB_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys),
	}
	for _, err := range steps {
		if err != nil {
			return Config{}, err
		}
	}
	if tables != "" {
		cfg.Schema.Tables = splitList(tables)
	}

	// The Anthropic provider has its own endpoint default.
	if _, ok := lookup("ASKDB_AI_BASE_URL"); !ok && cfg.AI.Provider == ProviderAnthropic {
		cfg.AI.BaseURL = ""
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if c.HTTP.Address == "" {
		return fmt.Errorf("http address is required")
	}
	switch c.Store.Backend {
	case BackendSQLite, BackendDuckDB:
	case BackendPostgres:
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("ASKDB_STORE_POSTGRES_DSN is required for the postgres backend")
		}
	default:
		return fmt.Errorf("invalid ASKDB_STORE_BACKEND: %q", c.Store.Backend)
	}
	switch c.AI.Provider {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("invalid ASKDB_AI_PROVIDER: %q", c.AI.Provider)
	}
	switch c.Pipeline.GateMode {
	case GateHeuristic, GateModel, GateHybrid:
	default:
		return fmt.Errorf("invalid ASKDB_GATE_MODE: %q", c.Pipeline.GateMode)
	}
	if c.Store.RowCap <= 0 {
		return fmt.Errorf("ASKDB_ROW_CAP must be positive")
	}
	if c.Store.QueryTimeout <= 0 {
		return fmt.Errorf("ASKDB_QUERY_TIMEOUT must be positive")
	}
	if c.AI.Timeout <= 0 {
		return fmt.Errorf("ASKDB_AI_TIMEOUT must be positive")
	}
	if c.Pipeline.MaxValidationRetries < 0 || c.Pipeline.MaxExecutionRetries < 0 {
		return fmt.Errorf("retry limits must not be negative")
	}
	if c.Pipeline.MaxConcurrentAnswers <= 0 {
		return fmt.Errorf("ASKDB_MAX_CONCURRENT_ANSWERS must be positive")
	}
	if c.Schema.SampleRows < 0 {
		return fmt.Errorf("ASKDB_SCHEMA_SAMPLE_ROWS must not be negative")
	}
	return nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "askdb-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 90 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Store: StoreConfig{
			Backend:         BackendSQLite,
			PostgresSchema:  "public",
			MaxOpenConns:    8,
			MaxIdleConns:    8,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
			QueryTimeout:    10 * time.Second,
			RowCap:          50,
		},
		Dataset: DatasetConfig{
			SourceURL:   DefaultDatasetURL,
			CacheDir:    defaultCacheDir(),
			HTTPTimeout: 60 * time.Second,
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:        "localhost:9000",
			Region:          "us-east-1",
			Bucket:          "askdb",
			AccessKeyID:     "minio",
			SecretAccessKey: "miniostorage",
			UseSSL:          false,
			Prefix:          "",
		},
		DuckDB: DuckDBConfig{
			Prefix: "tables",
		},
		Schema: SchemaConfig{
			SampleRows: 3,
		},
		AI: AIConfig{
			Provider:    ProviderOpenAI,
			BaseURL:     "https://api.openai.com",
			Model:       "gpt-4o-mini",
			Temperature: 0,
			Timeout:     30 * time.Second,
			MaxTokens:   1024,
		},
		Pipeline: PipelineConfig{
			GateMode:             GateHybrid,
			MaxValidationRetries: 1,
			MaxExecutionRetries:  1,
			MaxConcurrentAnswers: 16,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
		Auth: AuthConfig{
			Required:   false,
			StaticKeys: "",
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Auth.Required = false
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.ObjectStore.UseSSL = true
	}

	return cfg
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil || dir == "" {
		return ".askdb-cache"
	}
	return dir + string(os.PathSeparator) + "askdb"
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
