package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
type Config struct {
	ServerPort string

	// 编码与广播
	FFmpegPath       string
	AudioBitrate     string // e.g., "192k"
	ChunkSize        int    // 每个广播数据块的字节数
	SubscriberBuffer int    // 每个订阅者可缓冲的数据块数量
	IdlePoll         time.Duration
	BroadcastIdle    time.Duration // 没有收听者多久后停止编码

	// 本地频道目录（TOML），设置后不再连接 MySQL
	CatalogPath string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis配置
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MinIO配置
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool
	PresignExpiry  time.Duration

	JWTSecret string
	JWTExpiry time.Duration

	LogLevel string
	LogPath  string
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	return &Config{
		ServerPort:       getEnv("SERVER_PORT", "8080"),
		FFmpegPath:       getEnv("FFMPEG_PATH", "ffmpeg"),
		AudioBitrate:     getEnv("AUDIO_BITRATE", "192k"),
		ChunkSize:        getEnvInt("CHUNK_SIZE", 4096),
		SubscriberBuffer: getEnvInt("SUBSCRIBER_BUFFER", 64),
		IdlePoll:         getEnvDuration("IDLE_POLL_INTERVAL", time.Second),
		BroadcastIdle:    getEnvDuration("BROADCAST_IDLE_TIMEOUT", 30*time.Second),
		CatalogPath:      getEnv("CATALOG_PATH", ""),
		DBHost:           getEnv("DB_HOST", "127.0.0.1"),
		DBPort:           getEnv("DB_PORT", "3306"),
		DBUser:           getEnv("DB_USER", "root"),
		DBPassword:       os.Getenv("DB_PASSWORD"), // 密码不设置默认值
		DBName:           getEnv("DB_NAME", "loopfm"),
		RedisHost:        getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:        getEnv("REDIS_PORT", "6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("REDIS_DB", 0),
		MinioEndpoint:    getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey:   getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:   getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:      getEnv("MINIO_BUCKET", "loopfm"),
		MinioRegion:      getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:      getEnvBool("MINIO_USE_SSL", false),
		PresignExpiry:    getEnvDuration("MINIO_PRESIGN_EXPIRY", time.Hour),
		JWTSecret:        os.Getenv("JWT_SECRET"), // 为空时不开放控制接口
		JWTExpiry:        getEnvDuration("JWT_EXPIRY", 24*time.Hour),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogPath:          getEnv("LOG_PATH", ""),
	}
}
