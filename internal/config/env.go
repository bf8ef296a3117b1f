package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type BaseEnv struct {
	Env      string `envconfig:"ENV" default:"local"`
	HTTPHost string `envconfig:"HTTP_HOST" default:""`
	HTTPPort string `envconfig:"HTTP_PORT" default:"3100"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"debug"`
	// Empty disables the API key check.
	APIKey string `envconfig:"API_KEY" default:""`
}

// StorageEnv configures the record store backend.
type StorageEnv struct {
	Type    string `envconfig:"STORAGE_TYPE" default:"local"`
	BaseDir string `envconfig:"STORAGE_BASE_DIR" default:".tasksync/data"`
	// S3 settings (used when Type == "s3")
	S3Bucket string `envconfig:"S3_BUCKET"`
	S3Prefix string `envconfig:"S3_PREFIX" default:"tasksync/"`
	S3Region string `envconfig:"S3_REGION" default:"ap-northeast-1"`
}

// CacheEnv configures the process-local cache.
type CacheEnv struct {
	Type       string `envconfig:"CACHE_TYPE" default:"file"`
	Dir        string `envconfig:"CACHE_DIR" default:".tasksync/cache"`
	SQLitePath string `envconfig:"CACHE_SQLITE_PATH" default:".tasksync/cache.db"`
}

type RegistryEnv struct {
	// Empty means $HOME/.openclaw/workspace/crons.
	Dir        string `envconfig:"REGISTRY_DIR" default:""`
	File       string `envconfig:"REGISTRY_FILE" default:"cron_jobs.json"`
	MaxRetries int    `envconfig:"REGISTRY_MAX_RETRIES" default:"5"`
}

type SyncEnv struct {
	PullInterval     time.Duration `envconfig:"SYNC_PULL_INTERVAL" default:"30s"`
	Debounce         time.Duration `envconfig:"SYNC_DEBOUNCE" default:"1s"`
	FeedPollInterval time.Duration `envconfig:"SYNC_FEED_POLL_INTERVAL" default:"5s"`
	DefaultAgent     string        `envconfig:"SYNC_DEFAULT_AGENT" default:"kami"`
}

type VAPIDEnv struct {
	PublicKey  string `envconfig:"VAPID_PUBLIC_KEY"`
	PrivateKey string `envconfig:"VAPID_PRIVATE_KEY"`
	Contact    string `envconfig:"VAPID_CONTACT" default:"mailto:admin@example.com"`
}

type Env struct {
	BaseEnv
	StorageEnv
	CacheEnv
	RegistryEnv
	SyncEnv
	VAPIDEnv
}

const namespace = "TASKSYNC"

func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	if err := env.validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

func (e *Env) validate() error {
	switch e.StorageEnv.Type {
	case "local", "memory":
	case "s3":
		if e.S3Bucket == "" {
			return fmt.Errorf("invalid env: %s_S3_BUCKET is required for s3 storage", namespace)
		}
	default:
		return fmt.Errorf("invalid env: unknown storage type %q", e.StorageEnv.Type)
	}
	switch e.CacheEnv.Type {
	case "file", "sqlite":
	default:
		return fmt.Errorf("invalid env: unknown cache type %q", e.CacheEnv.Type)
	}
	if e.MaxRetries < 1 {
		return fmt.Errorf("invalid env: %s_REGISTRY_MAX_RETRIES must be >= 1", namespace)
	}
	if e.PullInterval <= 0 || e.Debounce <= 0 || e.FeedPollInterval <= 0 {
		return fmt.Errorf("invalid env: sync intervals must be positive")
	}
	return nil
}

func (e *BaseEnv) SlogLevel() slog.Level {
	if e == nil {
		return slog.LevelDebug
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelDebug
	}
	return level
}

func (e *BaseEnv) Addr() string {
	return e.HTTPHost + ":" + e.HTTPPort
}

// Path returns the absolute location of the registry file.
func (e *RegistryEnv) Path() (string, error) {
	dir := e.Dir
	if dir == "" || strings.HasPrefix(dir, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home dir: %w", err)
		}
		if dir == "" {
			dir = filepath.Join(home, ".openclaw", "workspace", "crons")
		} else {
			dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
		}
	}
	return filepath.Join(dir, e.File), nil
}

func BaseEnvFromEnv(env *Env) *BaseEnv {
	return &env.BaseEnv
}

func StorageEnvFromEnv(env *Env) *StorageEnv {
	return &env.StorageEnv
}

func CacheEnvFromEnv(env *Env) *CacheEnv {
	return &env.CacheEnv
}

func RegistryEnvFromEnv(env *Env) *RegistryEnv {
	return &env.RegistryEnv
}

func SyncEnvFromEnv(env *Env) *SyncEnv {
	return &env.SyncEnv
}

func VAPIDEnvFromEnv(env *Env) *VAPIDEnv {
	return &env.VAPIDEnv
}
