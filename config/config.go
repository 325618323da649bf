package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
type Config struct {
	// 外部程序
	FFmpegPath  string
	FFprobePath string

	// 音频与推流
	AudioLibDir    string // 本地曲库目录，文件名为 <id>.mp3
	AudioBitrate   string // e.g., "48k"
	AudioVolume    float64
	TransportGain  float64
	SampleRate     int
	Channels       int
	AudioSSRC      int
	AudioPT        int
	FIFODir        string
	ChunkSize      int
	ChunkYield     time.Duration
	StopGrace      time.Duration
	RTPTarget      string // 未接入KOOK时使用的静态推流地址
	DefaultChannel string

	// 播放列表
	BufferSize     int
	PollInterval   time.Duration
	EmptyPollLimit int
	StartupGrace   time.Duration

	// 网易云音乐API
	NeteaseAPIURL string
	NeteaseLevel  string

	// KOOK 语音
	KookToken     string
	KookAPIURL    string
	KookKeepAlive time.Duration

	// HTTP 控制接口
	ServerPort string
	JWTSecret  string

	// 日志
	LogLevel string
	LogPath  string

	// 数据库
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBEnabled  bool

	// Redis配置
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	RedisEnabled  bool

	// MinIO配置
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioPrefix    string
	MinioUseSSL    bool
	MinioEnabled   bool
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

func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

// getEnvDuration 接受 time.ParseDuration 格式，纯数字按秒处理
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
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

	ffmpegPath := getEnv("FFMPEG_PATH", "ffmpeg")

	return &Config{
		FFmpegPath:  ffmpegPath,
		FFprobePath: getEnv("FFPROBE_PATH", strings.Replace(ffmpegPath, "ffmpeg", "ffprobe", 1)),

		AudioLibDir:    getEnv("AUDIO_LIB_DIR", "./AudioLib"),
		AudioBitrate:   getEnv("AUDIO_BITRATE", "48k"),
		AudioVolume:    getEnvFloat("AUDIO_VOLUME", 0.8),
		TransportGain:  getEnvFloat("TRANSPORT_GAIN", 1.0),
		SampleRate:     getEnvInt("AUDIO_SAMPLE_RATE", 48000),
		Channels:       getEnvInt("AUDIO_CHANNELS", 2),
		AudioSSRC:      getEnvInt("AUDIO_SSRC", 1111),
		AudioPT:        getEnvInt("AUDIO_PAYLOAD_TYPE", 111),
		FIFODir:        getEnv("FIFO_DIR", "/tmp"),
		ChunkSize:      getEnvInt("CHUNK_SIZE", 8192),
		ChunkYield:     getEnvDuration("CHUNK_YIELD", 10*time.Millisecond),
		StopGrace:      getEnvDuration("STOP_GRACE", 3*time.Second),
		RTPTarget:      getEnv("RTP_TARGET", "rtp://127.0.0.1:5004?rtcpport=5005&ssrc=1111&payload_type=111"),
		DefaultChannel: getEnv("DEFAULT_CHANNEL", "default"),

		BufferSize:     getEnvInt("BUFFER_SIZE", 3),
		PollInterval:   getEnvDuration("POLL_INTERVAL", time.Second),
		EmptyPollLimit: getEnvInt("EMPTY_POLL_LIMIT", 5),
		StartupGrace:   getEnvDuration("STARTUP_GRACE", 3*time.Second),

		NeteaseAPIURL: getEnv("NETEASE_API_URL", "http://localhost:3000"),
		NeteaseLevel:  getEnv("NETEASE_LEVEL", "lossless"),

		KookToken:     os.Getenv("KOOK_TOKEN"),
		KookAPIURL:    getEnv("KOOK_API_URL", "https://www.kookapp.cn/api/v3"),
		KookKeepAlive: getEnvDuration("KOOK_KEEPALIVE", 45*time.Second),

		ServerPort: getEnv("SERVER_PORT", "8080"),
		JWTSecret:  os.Getenv("JWT_SECRET"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogPath:  getEnv("LOG_PATH", "logs/voicefm.log"),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"), // For password, better not to have a hardcoded default
		DBName:     getEnv("DB_NAME", "voicefm"),
		DBEnabled:  getEnvBool("DB_ENABLED", false),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""), // 默认无密码
		RedisDB:       getEnvInt("REDIS_DB", 0),     // 默认使用0号数据库
		RedisEnabled:  getEnvBool("REDIS_ENABLED", false),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "voicefm"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioPrefix:    getEnv("MINIO_PREFIX", "audiolib/"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		MinioEnabled:   getEnvBool("MINIO_ENABLED", false),
	}
}
