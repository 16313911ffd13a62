package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config 聚合服务启动需要的关键配置。
type Config struct {
	HTTPPort           string
	StorageDir         string
	CORSAllowedOrigins []string
	RateLimitRequests  int
	RateLimitWindow    time.Duration
	DBHost             string
	DBPort             int
	DBUser             string
	DBPassword         string
	DBName             string
	DBSSLMode          string
	// 集合配置
	CollectionName  string        // 发布与路由使用的集合名
	MetadataDriver  string        // "postgres" 或 "memory"
	MaxUploadBytes  int64         // 单个文件上限
	ChunkTTL        time.Duration // 分片子记录的最长保留时间
	CleanupInterval time.Duration // 清理任务的执行间隔
	// 鉴权配置
	AuthMode       string   // "jwt"、"apikey" 或 "none"
	JWTSecret      string   // HS256 密钥
	JWKSURL        string   // 远程公钥地址
	APIKeys        []string // 有效的 API Keys 列表
	AuthCookieName string   // 浏览器镜像令牌的 Cookie 名称
	// 日志配置
	LogLevel  string
	LogFormat string // "text" 或 "json"
	// 存储配置
	StorageDriver string // "local" 或 "s3"
	S3Endpoint    string // S3/MinIO 端点，不含协议
	S3AccessKey   string
	S3SecretKey   string
	S3Bucket      string
	S3Region      string
	S3UseSSL      bool // 是否使用 HTTPS
	S3PathStyle   bool // 是否使用路径风格访问（MinIO 需要设为 true）
}

// Load 从环境变量加载配置，并提供默认值。
func Load() (*Config, error) {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	storage := os.Getenv("STORAGE_DIR")
	if storage == "" {
		storage = "./data"
	}

	if err := ensureDir(storage); err != nil {
		return nil, fmt.Errorf("确保存储目录失败: %w", err)
	}

	corsOrigins := parseList(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"http://localhost:5173"}
	}

	rateLimitRequests, err := parseIntEnv("RATE_LIMIT_REQUESTS", 60)
	if err != nil {
		return nil, err
	}

	rateLimitWindow, err := parseDurationEnv("RATE_LIMIT_WINDOW", time.Minute)
	if err != nil {
		return nil, err
	}

	dbPort, err := parseIntEnv("DB_PORT", 5432)
	if err != nil {
		return nil, err
	}

	maxUpload, err := parseIntEnv("MAX_UPLOAD_BYTES", 100*1024*1024)
	if err != nil {
		return nil, err
	}

	chunkTTL, err := parseDurationEnv("CHUNK_TTL", 24*time.Hour)
	if err != nil {
		return nil, err
	}

	cleanupInterval, err := parseDurationEnv("CLEANUP_INTERVAL", 10*time.Minute)
	if err != nil {
		return nil, err
	}

	metadataDriver := strings.ToLower(envOrDefault("METADATA_DRIVER", "postgres"))
	if metadataDriver != "postgres" && metadataDriver != "memory" {
		return nil, fmt.Errorf("不支持的 METADATA_DRIVER: %s", metadataDriver)
	}

	// 鉴权配置
	authMode := strings.ToLower(envOrDefault("AUTH_MODE", "jwt"))
	jwtSecret := os.Getenv("JWT_SECRET")
	jwksURL := os.Getenv("JWKS_URL")
	apiKeys := parseList(os.Getenv("API_KEYS"))
	switch authMode {
	case "jwt":
		if jwtSecret == "" && jwksURL == "" {
			return nil, fmt.Errorf("AUTH_MODE=jwt 需要 JWT_SECRET 或 JWKS_URL")
		}
	case "apikey":
		if len(apiKeys) == 0 {
			// 开发环境默认 key
			apiKeys = []string{"dev-api-key-123456"}
		}
	case "none":
	default:
		return nil, fmt.Errorf("不支持的 AUTH_MODE: %s", authMode)
	}

	// 存储配置
	storageDriver := envOrDefault("STORAGE_DRIVER", "local")

	return &Config{
		HTTPPort:           port,
		StorageDir:         storage,
		CORSAllowedOrigins: corsOrigins,
		RateLimitRequests:  rateLimitRequests,
		RateLimitWindow:    rateLimitWindow,
		DBHost:             envOrDefault("DB_HOST", "127.0.0.1"),
		DBPort:             dbPort,
		DBUser:             envOrDefault("DB_USER", "filecollection"),
		DBPassword:         envOrDefault("DB_PASSWORD", "filecollection"),
		DBName:             envOrDefault("DB_NAME", "filecollection"),
		DBSSLMode:          envOrDefault("DB_SSL_MODE", "disable"),
		CollectionName:     envOrDefault("COLLECTION_NAME", "myData"),
		MetadataDriver:     metadataDriver,
		MaxUploadBytes:     int64(maxUpload),
		ChunkTTL:           chunkTTL,
		CleanupInterval:    cleanupInterval,
		AuthMode:           authMode,
		JWTSecret:          jwtSecret,
		JWKSURL:            jwksURL,
		APIKeys:            apiKeys,
		AuthCookieName:     envOrDefault("AUTH_COOKIE_NAME", "X-Auth-Token"),
		LogLevel:           envOrDefault("LOG_LEVEL", "info"),
		LogFormat:          envOrDefault("LOG_FORMAT", "text"),
		StorageDriver:      storageDriver,
		S3Endpoint:         envOrDefault("S3_ENDPOINT", "localhost:9000"),
		S3AccessKey:        envOrDefault("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:        envOrDefault("S3_SECRET_KEY", "minioadmin"),
		S3Bucket:           envOrDefault("S3_BUCKET", "filecollection"),
		S3Region:           envOrDefault("S3_REGION", "us-east-1"),
		S3UseSSL:           parseBoolEnv("S3_USE_SSL", false),
		S3PathStyle:        parseBoolEnv("S3_PATH_STYLE", true),
	}, nil
}

func ensureDir(path string) error {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("路径 %s 已存在但不是目录", path)
		}
		return nil
	}

	if os.IsNotExist(err) {
		return os.MkdirAll(path, 0o755)
	}

	return err
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}

	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("解析 %s 失败: %w", key, err)
	}
	if value <= 0 {
		return defaultValue, nil
	}
	return value, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}

	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("解析 %s 失败: %w", key, err)
	}
	if value <= 0 {
		return defaultValue, nil
	}
	return value, nil
}

func parseBoolEnv(key string, defaultValue bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	lower := strings.ToLower(raw)
	return lower == "true" || lower == "1" || lower == "yes"
}

// PostgresDSN 生成标准 postgres:// 连接串，供数据访问层直接使用。
func (c *Config) PostgresDSN() string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.DBUser, c.DBPassword),
		Host:   fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:   c.DBName,
	}

	q := url.Values{}
	if c.DBSSLMode != "" {
		q.Set("sslmode", c.DBSSLMode)
	}
	u.RawQuery = q.Encode()

	return u.String()
}

func envOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
