package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Process roles validated by Config.Validate.
const (
	RoleAPI    = "api"
	RoleWorker = "worker"
)

// Config holds runtime configuration values for the API and worker processes.
type Config struct {
	AppName    string
	AppEnv     string
	AppPort    string
	WorkerPort string

	DatabaseURL string
	RedisURL    string
	JWTSecret   string
	UploadDir   string
	OutputDir   string

	DatabaseMaxConns int
	UploadMaxMB      int
	AllowOrigins     string
	SubmitRateLimit  int

	StorageDriver         string
	StorageContainer      string
	StorageRetry          bool
	AzureConnectionString string
	AzureAccountName      string
	AzureAccountKey       string
	AzureServiceURL       string
	MinioEndpoint         string
	MinioAccessKey        string
	MinioSecretKey        string
	MinioUseSSL           bool
	MinioRegion           string
	BlobPrefix            string
	SignedURLTTL          time.Duration
	VerifyTimeout         time.Duration
	VerifyRetries         int

	OpenAIAPIKey          string
	OpenAIBaseURL         string
	AzureOpenAIEndpoint   string
	AzureOpenAIDeployment string
	AzureOpenAIAPIVersion string
	OpenAIModel           string
	OpenAIMaxTokens       int
	OpenAITemperature     float64
	OpenAIJSONMode        bool
	OpenAITimeout         time.Duration
	EvaluationLanguage    string

	FFmpegPath    string
	FFprobePath   string
	FallbackRatio float64
	MaxCutRatio   float64

	QueueName        string
	QueueConcurrency int
	QueueMaxRetry    int
	QueueTimeout     time.Duration
	QueueRetention   time.Duration
	ShutdownTimeout  time.Duration

	NATSURL             string
	NotifySubjectPrefix string
	CallLogBuffer       int
}

// HTTPAddress returns the address the API server should listen on.
func (c Config) HTTPAddress() string {
	return listenAddress(c.AppPort)
}

// WorkerAddress returns the address of the worker's health and metrics server.
func (c Config) WorkerAddress() string {
	return listenAddress(c.WorkerPort)
}

func listenAddress(port string) string {
	if strings.HasPrefix(port, ":") {
		return port
	}

	return fmt.Sprintf(":%s", port)
}

// Validate checks the values required by the given process role.
func (c Config) Validate(role string) error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "database.url")
	}
	if c.RedisURL == "" {
		missing = append(missing, "redis.url")
	}

	switch role {
	case RoleAPI:
		if c.JWTSecret == "" {
			missing = append(missing, "jwt.secret")
		}
	case RoleWorker:
		if c.OpenAIAPIKey == "" {
			missing = append(missing, "openai.api_key")
		}
		if c.StorageContainer == "" {
			missing = append(missing, "storage.container")
		}
	default:
		return fmt.Errorf("unknown role %q", role)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.MaxCutRatio <= 0 || c.MaxCutRatio > 1 || c.FallbackRatio < 0 || c.FallbackRatio > c.MaxCutRatio {
		return errors.New("crop ratios must satisfy 0 <= fallback <= max <= 1")
	}

	return nil
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("CREVERSE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "creverse")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("worker.port", "8081")
	v.SetDefault("upload.dir", "./data/uploads")
	v.SetDefault("upload.max_mb", 200)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("cors.allow_origins", "*")
	v.SetDefault("rate_limit.submissions", 30)
	v.SetDefault("storage.driver", "azure")
	v.SetDefault("storage.retry", true)
	v.SetDefault("storage.blob_prefix", "submissions")
	v.SetDefault("storage.sas_ttl", "60m")
	v.SetDefault("minio.region", "us-east-1")
	v.SetDefault("verify.timeout", "10s")
	v.SetDefault("verify.retries", 2)
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 800)
	v.SetDefault("openai.temperature", 0.2)
	v.SetDefault("openai.json_mode", true)
	v.SetDefault("openai.timeout", "60s")
	v.SetDefault("evaluation.language", "Korean")
	v.SetDefault("ffmpeg.path", "ffmpeg")
	v.SetDefault("ffprobe.path", "ffprobe")
	v.SetDefault("crop.fallback_ratio", 0.17)
	v.SetDefault("crop.max_ratio", 0.7)
	v.SetDefault("queue.name", "default")
	v.SetDefault("queue.concurrency", 4)
	v.SetDefault("queue.max_retry", 3)
	v.SetDefault("queue.timeout", "20m")
	v.SetDefault("queue.retention", "24h")
	v.SetDefault("shutdown.timeout", "30s")
	v.SetDefault("notify.subject_prefix", "creverse.submissions")
	v.SetDefault("call_log.buffer", 256)

	durations := map[string]time.Duration{}
	for _, key := range []string{"storage.sas_ttl", "verify.timeout", "openai.timeout", "queue.timeout", "queue.retention", "shutdown.timeout"} {
		d, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		durations[key] = d
	}

	cfg := Config{
		AppName:               v.GetString("app.name"),
		AppEnv:                v.GetString("app.env"),
		AppPort:               v.GetString("app.port"),
		WorkerPort:            v.GetString("worker.port"),
		DatabaseURL:           v.GetString("database.url"),
		RedisURL:              v.GetString("redis.url"),
		JWTSecret:             v.GetString("jwt.secret"),
		UploadDir:             v.GetString("upload.dir"),
		OutputDir:             v.GetString("output.dir"),
		DatabaseMaxConns:      v.GetInt("database.max_open_conns"),
		UploadMaxMB:           v.GetInt("upload.max_mb"),
		AllowOrigins:          v.GetString("cors.allow_origins"),
		SubmitRateLimit:       v.GetInt("rate_limit.submissions"),
		StorageDriver:         strings.ToLower(v.GetString("storage.driver")),
		StorageContainer:      v.GetString("storage.container"),
		StorageRetry:          v.GetBool("storage.retry"),
		AzureConnectionString: v.GetString("azure.connection_string"),
		AzureAccountName:      v.GetString("azure.account_name"),
		AzureAccountKey:       v.GetString("azure.account_key"),
		AzureServiceURL:       v.GetString("azure.service_url"),
		MinioEndpoint:         v.GetString("minio.endpoint"),
		MinioAccessKey:        v.GetString("minio.access_key"),
		MinioSecretKey:        v.GetString("minio.secret_key"),
		MinioUseSSL:           v.GetBool("minio.use_ssl"),
		MinioRegion:           v.GetString("minio.region"),
		BlobPrefix:            v.GetString("storage.blob_prefix"),
		SignedURLTTL:          durations["storage.sas_ttl"],
		VerifyTimeout:         durations["verify.timeout"],
		VerifyRetries:         v.GetInt("verify.retries"),
		OpenAIAPIKey:          v.GetString("openai.api_key"),
		OpenAIBaseURL:         v.GetString("openai.base_url"),
		AzureOpenAIEndpoint:   v.GetString("azure_openai.endpoint"),
		AzureOpenAIDeployment: v.GetString("azure_openai.deployment"),
		AzureOpenAIAPIVersion: v.GetString("azure_openai.api_version"),
		OpenAIModel:           v.GetString("openai.model"),
		OpenAIMaxTokens:       v.GetInt("openai.max_tokens"),
		OpenAITemperature:     v.GetFloat64("openai.temperature"),
		OpenAIJSONMode:        v.GetBool("openai.json_mode"),
		OpenAITimeout:         durations["openai.timeout"],
		EvaluationLanguage:    v.GetString("evaluation.language"),
		FFmpegPath:            v.GetString("ffmpeg.path"),
		FFprobePath:           v.GetString("ffprobe.path"),
		FallbackRatio:         v.GetFloat64("crop.fallback_ratio"),
		MaxCutRatio:           v.GetFloat64("crop.max_ratio"),
		QueueName:             v.GetString("queue.name"),
		QueueConcurrency:      v.GetInt("queue.concurrency"),
		QueueMaxRetry:         v.GetInt("queue.max_retry"),
		QueueTimeout:          durations["queue.timeout"],
		QueueRetention:        durations["queue.retention"],
		ShutdownTimeout:       durations["shutdown.timeout"],
		NATSURL:               v.GetString("nats.url"),
		NotifySubjectPrefix:   v.GetString("notify.subject_prefix"),
		CallLogBuffer:         v.GetInt("call_log.buffer"),
	}

	if cfg.QueueConcurrency <= 0 {
		cfg.QueueConcurrency = 4
	}

	if cfg.CallLogBuffer <= 0 {
		cfg.CallLogBuffer = 256
	}

	return cfg, nil
}
