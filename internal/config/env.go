package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port           string
	AllowedOrigins []string
	JWTSecret      string
	RequestTimeout time.Duration

	DBDriver    string
	DatabaseURL string
	SslCertPath string

	ObjectStore   string
	AwsAccessKey  string
	AwsSecretKey  string
	AwsRegion     string
	BucketName    string
	S3Endpoint    string
	MinioEndpoint string
	MinioUseSSL   bool

	LLMBaseURL   string
	LLMAPIKey    string
	ChatModel    string
	PDFExtractor string
	GeminiAPIKey string
	ExtractModel string

	CrawlBaseURL string
	CrawlAPIKey  string

	QueueBackend  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	IngestWorkers int

	ChunkSize           int
	ChunkOverlap        int
	RetrievalMaxResults int
	MaxUploadFiles      int
	MaxUploadBytes      int64

	LogLevel  string
	LogFormat string
	LogOutput string

	APIBaseURL string
	APIToken   string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGINS", "*")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("REQUEST_TIMEOUT", "10m")

	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("SSL_CERT_PATH", "")

	v.SetDefault("OBJECT_STORE", "s3")
	v.SetDefault("AWS_ACCESS_KEY", "")
	v.SetDefault("AWS_SECRET_KEY", "")
	v.SetDefault("AWS_REGION", "us-east-2")
	v.SetDefault("BUCKET_NAME", "sourcebook-docs")
	v.SetDefault("S3_ENDPOINT", "")
	v.SetDefault("MINIO_ENDPOINT", "localhost:9000")
	v.SetDefault("MINIO_USE_SSL", false)

	v.SetDefault("LLM_BASE_URL", "https://api.openai.com/v1")
	v.SetDefault("LLM_API_KEY", "")
	v.SetDefault("CHAT_MODEL", "gpt-4o-mini")
	v.SetDefault("PDF_EXTRACTOR", "openai")
	v.SetDefault("GEMINI_API_KEY", "")
	v.SetDefault("EXTRACT_MODEL", "gemini-1.5-flash")

	v.SetDefault("CRAWL_BASE_URL", "https://api.firecrawl.dev")
	v.SetDefault("CRAWL_API_KEY", "")

	v.SetDefault("QUEUE_BACKEND", "memory")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("INGEST_WORKERS", 2)

	v.SetDefault("CHUNK_SIZE", 1000)
	v.SetDefault("CHUNK_OVERLAP", 200)
	v.SetDefault("RETRIEVAL_MAX_RESULTS", 5)
	v.SetDefault("MAX_UPLOAD_FILES", 10)
	v.SetDefault("MAX_UPLOAD_BYTES", 20<<20)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
	v.SetDefault("LOG_OUTPUT", "stdout")

	v.SetDefault("API_BASE_URL", "http://localhost:8080")
	v.SetDefault("API_TOKEN", "")
}

// LoadConfig reads .env, then sourcebook.yaml if present, then the environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("sourcebook")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/sourcebook")
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Port:           v.GetString("PORT"),
		AllowedOrigins: splitList(v.GetString("ALLOWED_ORIGINS")),
		JWTSecret:      v.GetString("JWT_SECRET"),
		RequestTimeout: v.GetDuration("REQUEST_TIMEOUT"),

		DBDriver:    strings.ToLower(v.GetString("DB_DRIVER")),
		DatabaseURL: v.GetString("DATABASE_URL"),
		SslCertPath: v.GetString("SSL_CERT_PATH"),

		ObjectStore:   strings.ToLower(v.GetString("OBJECT_STORE")),
		AwsAccessKey:  v.GetString("AWS_ACCESS_KEY"),
		AwsSecretKey:  v.GetString("AWS_SECRET_KEY"),
		AwsRegion:     v.GetString("AWS_REGION"),
		BucketName:    v.GetString("BUCKET_NAME"),
		S3Endpoint:    v.GetString("S3_ENDPOINT"),
		MinioEndpoint: v.GetString("MINIO_ENDPOINT"),
		MinioUseSSL:   v.GetBool("MINIO_USE_SSL"),

		LLMBaseURL:   v.GetString("LLM_BASE_URL"),
		LLMAPIKey:    v.GetString("LLM_API_KEY"),
		ChatModel:    v.GetString("CHAT_MODEL"),
		PDFExtractor: strings.ToLower(v.GetString("PDF_EXTRACTOR")),
		GeminiAPIKey: v.GetString("GEMINI_API_KEY"),
		ExtractModel: v.GetString("EXTRACT_MODEL"),

		CrawlBaseURL: v.GetString("CRAWL_BASE_URL"),
		CrawlAPIKey:  v.GetString("CRAWL_API_KEY"),

		QueueBackend:  strings.ToLower(v.GetString("QUEUE_BACKEND")),
		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),
		IngestWorkers: v.GetInt("INGEST_WORKERS"),

		ChunkSize:           v.GetInt("CHUNK_SIZE"),
		ChunkOverlap:        v.GetInt("CHUNK_OVERLAP"),
		RetrievalMaxResults: v.GetInt("RETRIEVAL_MAX_RESULTS"),
		MaxUploadFiles:      v.GetInt("MAX_UPLOAD_FILES"),
		MaxUploadBytes:      v.GetInt64("MAX_UPLOAD_BYTES"),

		LogLevel:  v.GetString("LOG_LEVEL"),
		LogFormat: v.GetString("LOG_FORMAT"),
		LogOutput: v.GetString("LOG_OUTPUT"),

		APIBaseURL: strings.TrimRight(v.GetString("API_BASE_URL"), "/"),
		APIToken:   v.GetString("API_TOKEN"),
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rejects combinations the server cannot start with.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL not set")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.DBDriver)
	}

	switch c.ObjectStore {
	case "s3", "minio":
	default:
		return fmt.Errorf("unknown OBJECT_STORE %q", c.ObjectStore)
	}

	switch c.QueueBackend {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			return errors.New("QUEUE_BACKEND=redis requires REDIS_ADDR")
		}
	default:
		return fmt.Errorf("unknown QUEUE_BACKEND %q", c.QueueBackend)
	}

	switch c.PDFExtractor {
	case "openai":
	case "gemini":
		if c.GeminiAPIKey == "" {
			return errors.New("PDF_EXTRACTOR=gemini requires GEMINI_API_KEY")
		}
	default:
		return fmt.Errorf("unknown PDF_EXTRACTOR %q", c.PDFExtractor)
	}

	if c.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP %d must be in [0, CHUNK_SIZE)", c.ChunkOverlap)
	}
	if c.MaxUploadFiles <= 0 || c.MaxUploadBytes <= 0 {
		return errors.New("upload limits must be positive")
	}
	return nil
}
