package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64

	// Storage roots
	DatasetsDir string
	ModelsDir   string

	// Dataset sources
	SourcesFile          string
	FetchMaxAttempts     int
	FetchRetryBase       time.Duration
	SourceAttemptTimeout time.Duration
	AcquireTimeout       time.Duration

	// Gated source credentials (key/secret pair)
	SourceAPIUser string
	SourceAPIKey  string

	// Training defaults
	TrainEpochs       int
	TrainBatchSize    int
	TrainLearningRate float64
	TrainMaxSamples   int

	// Postgres (job history, optional)
	PostgresEnabled  bool
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis (prediction cache, optional)
	RedisEnabled       bool
	RedisHost          string
	RedisPort          string
	RedisPassword      string
	RedisDB            int
	PredictionCacheTTL time.Duration

	// Kafka (lifecycle events, optional)
	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 4*1024*1024)),

		DatasetsDir: getEnv("DATASETS_DIR", "data/datasets"),
		ModelsDir:   getEnv("MODELS_DIR", "data/models"),

		SourcesFile:          getEnv("SOURCES_FILE", ""),
		FetchMaxAttempts:     getIntEnv("FETCH_MAX_ATTEMPTS", 3),
		FetchRetryBase:       getDuration("FETCH_RETRY_BASE", 500*time.Millisecond),
		SourceAttemptTimeout: getDuration("SOURCE_ATTEMPT_TIMEOUT", 2*time.Minute),
		AcquireTimeout:       getDuration("ACQUIRE_TIMEOUT", 15*time.Minute),

		SourceAPIUser: getEnv("SOURCE_API_USER", ""),
		SourceAPIKey:  getEnv("SOURCE_API_KEY", ""),

		TrainEpochs:       getIntEnv("TRAIN_EPOCHS", 10),
		TrainBatchSize:    getIntEnv("TRAIN_BATCH_SIZE", 32),
		TrainLearningRate: getFloatEnv("TRAIN_LEARNING_RATE", 1e-3),
		TrainMaxSamples:   getIntEnv("TRAIN_MAX_SAMPLES", 1000),

		PostgresEnabled:  getBoolEnv("POSTGRES_ENABLED", false),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "sentilab"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "sentilab123"),
		PostgresDB:       getEnv("POSTGRES_DB", "sentilab"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisEnabled:       getBoolEnv("REDIS_ENABLED", false),
		RedisHost:          getEnv("REDIS_HOST", "localhost"),
		RedisPort:          getEnv("REDIS_PORT", "6379"),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisDB:            getIntEnv("REDIS_DB", 0),
		PredictionCacheTTL: getDuration("PREDICTION_CACHE_TTL", 10*time.Minute),

		KafkaEnabled: getBoolEnv("KAFKA_ENABLED", false),
		KafkaBrokers: getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "sentilab-lifecycle"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return []string{value}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
