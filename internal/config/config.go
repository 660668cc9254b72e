package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr            string
	DBPath          string
	LogLevel        slog.Level
	FlickrAPIKey    string
	FlickrEndpoint  string
	PageSize        int
	FetchTimeout    time.Duration
	DownloadWorkers int
	// APIToken guards mutating routes when non-empty.
	APIToken string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Addr:           getString("PINPHOTOS_ADDR", ":8080"),
		DBPath:         getString("PINPHOTOS_DB_PATH", "data/pinphotos.db"),
		LogLevel:       getLogLevel("PINPHOTOS_LOG_LEVEL", slog.LevelInfo),
		FlickrAPIKey:   strings.TrimSpace(os.Getenv("FLICKR_API_KEY")),
		FlickrEndpoint: getString("PINPHOTOS_FLICKR_ENDPOINT", "https://api.flickr.com/services/rest/"),
		APIToken:       strings.TrimSpace(os.Getenv("PINPHOTOS_API_TOKEN")),
	}

	if cfg.FlickrAPIKey == "" {
		return nil, fmt.Errorf("FLICKR_API_KEY must be set")
	}

	var err error
	if cfg.PageSize, err = getPositiveInt("PINPHOTOS_PAGE_SIZE", 21); err != nil {
		return nil, err
	}
	if cfg.DownloadWorkers, err = getPositiveInt("PINPHOTOS_DOWNLOAD_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.FetchTimeout, err = getDuration("PINPHOTOS_FETCH_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getPositiveInt(key string, fallback int) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, value)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", key, value)
	}
	return d, nil
}

func getLogLevel(key string, fallback slog.Level) slog.Level {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "":
		return fallback
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return fallback
	}
}
