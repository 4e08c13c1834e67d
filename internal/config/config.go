package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port     string
	BaseURL  string
	LogMode  string
	DataDir  string
	Database string

	JWTSecret   string
	TokenTTL    time.Duration
	ShareSecret string
	ShareTTL    time.Duration

	MaxUploadBytes int64
	AllowedOrigins []string

	QuizServiceURL    string
	ContentServiceURL string
	ExtractServiceURL string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	GenerationTimeout    time.Duration
	IllustrationDelay    time.Duration
	IllustrationMediaRef string
}

// fileValues is the optional YAML overlay. Keys use the env var names so a
// single table documents both sources.
type fileValues map[string]string

func LoadConfig() (Config, error) {
	overlay, err := loadOverlay(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return Config{}, err
	}
	get := func(key, fallback string) string {
		if val, ok := os.LookupEnv(key); ok && val != "" {
			return val
		}
		if val, ok := overlay[key]; ok && val != "" {
			return val
		}
		return fallback
	}

	cfg := Config{}

	cfg.Port = get("PORT", "8080")
	cfg.BaseURL = get("BASE_URL", fmt.Sprintf("http://localhost:%s", cfg.Port))
	cfg.LogMode = get("LOG_MODE", "dev")
	cfg.DataDir = get("DATA_DIR", "data")

	cfg.JWTSecret = get("JWT_SECRET", "change-me")
	cfg.ShareSecret = get("SHARE_SECRET", "change-me")

	cfg.QuizServiceURL = get("QUIZ_SERVICE_URL", "")
	cfg.ContentServiceURL = get("CONTENT_SERVICE_URL", "")
	cfg.ExtractServiceURL = get("EXTRACT_SERVICE_URL", "")

	cfg.OpenAIAPIKey = get("OPENAI_API_KEY", "")
	cfg.OpenAIBaseURL = get("OPENAI_BASE_URL", "https://api.openai.com/v1")
	cfg.OpenAIModel = get("OPENAI_MODEL", "gpt-4o-mini")
	cfg.IllustrationMediaRef = get("ILLUSTRATION_MEDIA_REF", "/media/manim_video.mp4")

	for _, origin := range strings.Split(get("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:8080"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
		}
	}

	seconds := []struct {
		key      string
		fallback int64
		dst      *time.Duration
	}{
		{"TOKEN_TTL_SECONDS", 3600, &cfg.TokenTTL},
		{"SHARE_TTL_SECONDS", 86400, &cfg.ShareTTL},
		{"GENERATION_TIMEOUT_SECONDS", 120, &cfg.GenerationTimeout},
		{"ILLUSTRATION_DELAY_SECONDS", 30, &cfg.IllustrationDelay},
	}
	for _, s := range seconds {
		n, err := parseInt(get(s.key, ""), s.fallback)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", s.key, err)
		}
		*s.dst = time.Duration(n) * time.Second
	}

	maxUploadMB, err := parseInt(get("MAX_UPLOAD_MB", ""), 50)
	if err != nil {
		return Config{}, fmt.Errorf("parse MAX_UPLOAD_MB: %w", err)
	}
	cfg.MaxUploadBytes = maxUploadMB * 1024 * 1024

	absDataDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return Config{}, fmt.Errorf("resolve data dir: %w", err)
	}
	cfg.DataDir = absDataDir
	cfg.Database = get("DATABASE_PATH", filepath.Join(cfg.DataDir, "users.db"))

	return cfg, nil
}

func loadOverlay(path string) (fileValues, error) {
	if strings.TrimSpace(path) == "" {
		return fileValues{}, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	values := fileValues{}
	if err := yaml.Unmarshal(b, &values); err != nil {
		return nil, fmt.Errorf("decode config file %s: %w", path, err)
	}
	return values, nil
}

func parseInt(value string, fallback int64) (int64, error) {
	if value == "" {
		return fallback, nil
	}

	num, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, err
	}
	if num < 0 {
		return 0, fmt.Errorf("negative value %d", num)
	}
	return num, nil
}
