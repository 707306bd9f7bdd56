package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds application configuration values.
type Config struct {
	Env  string `validate:"required,oneof=dev prod"`
	HTTP struct {
		Addr string `validate:"required"`
	}
	Log struct {
		ConsoleLevel string `validate:"required,oneof=debug info warn error"`
		FileLevel    string `validate:"required,oneof=debug info warn error"`
		File         string
	}
	Jobs struct {
		File string `validate:"required"`
	}
	History struct {
		SQLitePath string `validate:"required_without=PostgresDSN"`
		PostgresDSN string
	}
	Telegram struct {
		Token           string
		AlertChatID     int64 `validate:"required_with=Token"`
		AlertsPerMinute int   `validate:"min=1,max=60"`
	}
	ShutdownTimeout time.Duration `validate:"gt=0"`
}

var validate = validator.New()

// Load reads configuration from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	var c Config
	c.Env = getenv("ENV", "prod")
	c.HTTP.Addr = getenv("HTTP_ADDR", ":8080")
	c.Log.ConsoleLevel = strings.ToLower(getenv("LOG_CONSOLE_LEVEL", "info"))
	c.Log.FileLevel = strings.ToLower(getenv("LOG_FILE_LEVEL", "debug"))
	c.Log.File = os.Getenv("LOG_FILE")
	c.Jobs.File = getenv("JOBS_FILE", "jobs.yaml")
	c.History.SQLitePath = getenv("HISTORY_SQLITE_PATH", "data/history.db")
	c.History.PostgresDSN = os.Getenv("HISTORY_PG_DSN")
	c.Telegram.Token = os.Getenv("TELEGRAM_BOT_TOKEN")

	var err error
	if c.Telegram.AlertChatID, err = getenvInt64("TELEGRAM_ALERT_CHAT_ID", 0); err != nil {
		return Config{}, err
	}
	perMinute, err := getenvInt64("TELEGRAM_ALERTS_PER_MINUTE", 6)
	if err != nil {
		return Config{}, err
	}
	c.Telegram.AlertsPerMinute = int(perMinute)
	if c.ShutdownTimeout, err = getenvDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}

	if err := validate.Struct(c); err != nil {
		return Config{}, err
	}
	return c, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt64(k string, def int64) (int64, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return n, nil
}

func getenvDuration(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return d, nil
}
