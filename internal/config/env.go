package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type BaseEnv struct {
	Env      string `envconfig:"ENV" default:"local"`
	HTTPHost string `envconfig:"HTTP_HOST" default:""`
	HTTPPort string `envconfig:"HTTP_PORT" default:"3200"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"debug"`
	// APIKey is only enforced by the HTTP server.
	APIKey string `envconfig:"API_KEY"`
}

type StorageEnv struct {
	Type    string `envconfig:"STORAGE_TYPE" default:"local"`
	BaseDir string `envconfig:"STORAGE_BASE_DIR" default:".reviewguild/data"`
	// s3
	S3Bucket string `envconfig:"S3_BUCKET"`
	S3Prefix string `envconfig:"S3_PREFIX" default:"reviewguild/"`
	S3Region string `envconfig:"S3_REGION" default:"ap-northeast-1"`
	// minio
	MinIOEndpoint  string `envconfig:"MINIO_ENDPOINT" default:"localhost:9000"`
	MinIOAccessKey string `envconfig:"MINIO_ACCESS_KEY"`
	MinIOSecretKey string `envconfig:"MINIO_SECRET_KEY"`
	MinIOBucket    string `envconfig:"MINIO_BUCKET" default:"reviewguild"`
	MinIOUseSSL    bool   `envconfig:"MINIO_USE_SSL" default:"false"`
}

type BackendEnv struct {
	Backend       string        `envconfig:"BACKEND" default:"claude"`
	GeminiAPIKey  string        `envconfig:"GEMINI_API_KEY"`
	WorkDir       string        `envconfig:"WORK_DIR" default:"."`
	InvokeTimeout time.Duration `envconfig:"INVOKE_TIMEOUT" default:"10m"`
	RatePerMinute int           `envconfig:"RATE_PER_MINUTE" default:"30"`
	UseWorktree   bool          `envconfig:"USE_WORKTREE" default:"false"`
}

type PipelineEnv struct {
	MaxConcurrentProducers int           `envconfig:"MAX_CONCURRENT_PRODUCERS" default:"2"`
	RevisionBudget         int           `envconfig:"REVISION_BUDGET" default:"2"`
	TolerateFailures       bool          `envconfig:"TOLERATE_FAILURES" default:"true"`
	RunTimeout             time.Duration `envconfig:"RUN_TIMEOUT" default:"2h"`
	ModelRetries           int           `envconfig:"MODEL_RETRIES" default:"2"`
	RetryBackoff           time.Duration `envconfig:"RETRY_BACKOFF" default:"5s"`
	CancelGrace            time.Duration `envconfig:"CANCEL_GRACE" default:"30s"`
}

type PathsEnv struct {
	AgentsFile  string `envconfig:"AGENTS_FILE"`
	EventLogDir string `envconfig:"EVENT_LOG_DIR" default:".reviewguild/events"`
	HooksFile   string `envconfig:"HOOKS_FILE"`
}

type Env struct {
	BaseEnv
	StorageEnv
	BackendEnv
	PipelineEnv
	PathsEnv
}

const namespace = "REVIEWGUILD"

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
	case "local", "s3", "minio":
	default:
		return fmt.Errorf("unsupported %s_STORAGE_TYPE %q", namespace, e.StorageEnv.Type)
	}
	switch e.Backend {
	case "claude":
	case "gemini":
		if e.GeminiAPIKey == "" {
			return fmt.Errorf("%s_GEMINI_API_KEY is required for the gemini backend", namespace)
		}
	default:
		return fmt.Errorf("unsupported %s_BACKEND %q", namespace, e.Backend)
	}
	if e.MaxConcurrentProducers < 1 {
		return fmt.Errorf("%s_MAX_CONCURRENT_PRODUCERS must be at least 1", namespace)
	}
	if e.RevisionBudget < 0 {
		return fmt.Errorf("%s_REVISION_BUDGET must not be negative", namespace)
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

func (e *BaseEnv) IsLocal() bool {
	return e.Env == "local"
}
