package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"datapivots/pkg/queue"
)

// ConfigPath is read when Load gets an empty path and DATAPIVOTS_CONFIG is unset.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port              string   `yaml:"port"`
	LogLevel          string   `yaml:"logLevel"`
	StorageBackend    string   `yaml:"storageBackend"`
	// StoragePrefix is ignored by the memory backend.
	StoragePrefix     string   `yaml:"storagePrefix"`
	SQLitePath        string   `yaml:"sqlitePath"`
	DatabaseURL       string   `yaml:"databaseURL"`
	RedisAddr         string   `yaml:"redisAddr"`
	RedisPassword     string   `yaml:"redisPassword"`
	DataDir           string   `yaml:"dataDir"`
	ObjectStore       string   `yaml:"objectStore"`
	MinioEndpoint     string   `yaml:"minioEndpoint"`
	MinioAccessKey    string   `yaml:"minioAccessKey"`
	MinioSecretKey    string   `yaml:"minioSecretKey"`
	MinioBucket       string   `yaml:"minioBucket"`
	MinioUseSSL       bool     `yaml:"minioUseSSL"`
	SessionSecret     string   `yaml:"sessionSecret"`
	CORSOrigins       []string `yaml:"corsOrigins"`
	PageSize          int      `yaml:"pageSize"`
	DeleteLatency     string   `yaml:"deleteLatency"`
	BatchLatency      string   `yaml:"batchDeleteLatency"`
	RenameLatency     string   `yaml:"renameLatency"`
	ConfirmDelay      string   `yaml:"confirmDelay"`
	InvalidFileDelay  string   `yaml:"invalidFileDelay"`
	StepDelays        []string `yaml:"stepDelays"`
	MaxUploadBytes    int64    `yaml:"maxUploadBytes"`
	LoginRateLimit    int      `yaml:"loginRateLimitPerMinute"`
	TrustedProxyCIDRs []string `yaml:"trustedProxyCidrs"`
	ExportStream      string   `yaml:"exportStream"`
	ExportConcurrency int      `yaml:"exportConcurrency"`
}

// Load reads .env (when present), the YAML file and environment overrides,
// then fills defaults and validates. DATAPIVOTS_CONFIG overrides path.
func Load(path string) (FileConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return FileConfig{}, fmt.Errorf("load .env: %w", err)
	}
	if v := strings.TrimSpace(os.Getenv("DATAPIVOTS_CONFIG")); v != "" {
		path = v
	}
	if path == "" {
		path = ConfigPath
	}
	cfg := FileConfig{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist) && path == ConfigPath:
		// Running from environment only.
	case err != nil:
		return cfg, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	setString := func(dst *string, keys ...string) {
		for _, key := range keys {
			if v := strings.TrimSpace(os.Getenv(key)); v != "" {
				*dst = v
				return
			}
		}
	}
	setInt := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}

	setString(&cfg.Port, "DATAPIVOTS_PORT", "PORT")
	setString(&cfg.LogLevel, "DATAPIVOTS_LOG_LEVEL")
	setString(&cfg.StorageBackend, "DATAPIVOTS_STORAGE_BACKEND")
	setString(&cfg.StoragePrefix, "DATAPIVOTS_STORAGE_PREFIX")
	setString(&cfg.SQLitePath, "DATAPIVOTS_SQLITE_PATH")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")
	setString(&cfg.DataDir, "DATAPIVOTS_DATA_DIR")
	setString(&cfg.ObjectStore, "DATAPIVOTS_OBJECT_STORE")
	setString(&cfg.MinioEndpoint, "MINIO_ENDPOINT")
	setString(&cfg.MinioAccessKey, "MINIO_ACCESS_KEY")
	setString(&cfg.MinioSecretKey, "MINIO_SECRET_KEY")
	setString(&cfg.MinioBucket, "MINIO_BUCKET")
	setString(&cfg.SessionSecret, "DATAPIVOTS_SESSION_SECRET")
	setString(&cfg.ExportStream, "DATAPIVOTS_EXPORT_STREAM")
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	if v := os.Getenv("DATAPIVOTS_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	setInt(&cfg.PageSize, "DATAPIVOTS_PAGE_SIZE")
	setInt(&cfg.LoginRateLimit, "DATAPIVOTS_LOGIN_RATE_LIMIT_PER_MINUTE")
	setInt(&cfg.ExportConcurrency, "DATAPIVOTS_EXPORT_CONCURRENCY")
	if v := os.Getenv("DATAPIVOTS_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("DATAPIVOTS_CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitCSV(v)
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.StorageBackend == "" {
		cfg.StorageBackend = "memory"
	}
	if cfg.ObjectStore == "" {
		cfg.ObjectStore = "local"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = cfg.DataDir + "/datapivots.db"
	}
	if cfg.LoginRateLimit == 0 {
		cfg.LoginRateLimit = 10
	}
	if cfg.ExportStream == "" {
		cfg.ExportStream = queue.DefaultStream
	}
	if cfg.ExportConcurrency == 0 {
		cfg.ExportConcurrency = 2
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"http://localhost:5173"}
	}
}

func validateConfig(cfg FileConfig) error {
	switch cfg.StorageBackend {
	case "memory", "sqlite":
	case "redis":
		if cfg.RedisAddr == "" {
			return errors.New("config: redisAddr is required for the redis storage backend (set in config.yaml or REDIS_ADDR)")
		}
	case "postgres":
		if cfg.DatabaseURL == "" {
			return errors.New("config: databaseURL is required for the postgres storage backend (set in config.yaml or DATABASE_URL)")
		}
	default:
		return fmt.Errorf("config: unknown storageBackend %q (memory, redis, sqlite or postgres)", cfg.StorageBackend)
	}
	switch cfg.ObjectStore {
	case "local":
	case "minio":
		if cfg.MinioEndpoint == "" || cfg.MinioBucket == "" {
			return errors.New("config: minioEndpoint and minioBucket are required for the minio object store")
		}
	default:
		return fmt.Errorf("config: unknown objectStore %q (local or minio)", cfg.ObjectStore)
	}
	if len(cfg.SessionSecret) < 16 {
		return errors.New("config: sessionSecret must be at least 16 characters (set in config.yaml or DATAPIVOTS_SESSION_SECRET)")
	}
	if cfg.PageSize < 0 || cfg.MaxUploadBytes < 0 {
		return errors.New("config: pageSize and maxUploadBytes must be >= 0")
	}
	if cfg.LoginRateLimit < 0 || cfg.ExportConcurrency < 0 {
		return errors.New("config: loginRateLimitPerMinute and exportConcurrency must be >= 0")
	}
	if _, err := cfg.Latencies(); err != nil {
		return err
	}
	if _, _, _, err := cfg.ChatDelays(); err != nil {
		return err
	}
	return nil
}

// Latencies returns the simulated delete, batch delete and rename delays.
// Unset values stay zero so the caller keeps its defaults.
func (c FileConfig) Latencies() ([3]time.Duration, error) {
	var out [3]time.Duration
	for i, raw := range []struct{ name, value string }{
		{"deleteLatency", c.DeleteLatency},
		{"batchDeleteLatency", c.BatchLatency},
		{"renameLatency", c.RenameLatency},
	} {
		d, err := parseDuration(raw.name, raw.value)
		if err != nil {
			return out, err
		}
		out[i] = d
	}
	return out, nil
}

// ChatDelays returns the confirm delay, invalid file delay and the five
// processing offsets. An empty stepDelays list yields nil.
func (c FileConfig) ChatDelays() (confirm, invalid time.Duration, steps []time.Duration, err error) {
	if confirm, err = parseDuration("confirmDelay", c.ConfirmDelay); err != nil {
		return 0, 0, nil, err
	}
	if invalid, err = parseDuration("invalidFileDelay", c.InvalidFileDelay); err != nil {
		return 0, 0, nil, err
	}
	if len(c.StepDelays) == 0 {
		return confirm, invalid, nil, nil
	}
	if len(c.StepDelays) != 5 {
		return 0, 0, nil, fmt.Errorf("config: stepDelays needs 5 entries, got %d", len(c.StepDelays))
	}
	for i, raw := range c.StepDelays {
		d, err := parseDuration(fmt.Sprintf("stepDelays[%d]", i), raw)
		if err != nil {
			return 0, 0, nil, err
		}
		steps = append(steps, d)
	}
	return confirm, invalid, steps, nil
}

func parseDuration(name, value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("config: invalid %s duration %q", name, value)
	}
	return d, nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
