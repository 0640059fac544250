package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env      string
	LogLevel string
	HTTPAddr string

	BackendBaseURL   string
	BackendPushURL   string
	BackendToken     string
	BackendTimeout   time.Duration
	BackendRateLimit float64
	BackendRateBurst int

	BoardWindowDays     int64
	BoardClockSkew      time.Duration
	BoardReconnectDelay time.Duration
	BoardReloadAfter    time.Duration
	BoardSweepInterval  time.Duration
	BoardAlertDuration  time.Duration
	BoardResyncSettle   time.Duration

	StoreDSN string

	RabbitMQURL           string
	RabbitMQExchange      string
	RabbitMQCommandsQueue string

	JWTSecret           string
	CorsAllowedOrigins  []string
	WSHeartbeatInterval time.Duration

	ConnectivityProbeInterval time.Duration
	ConnectivityProbeTimeout  time.Duration

	TicketTitle    string
	TicketTimezone string
}

func Load() Config {
	cfg := Config{
		Env:      getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", ""),
		HTTPAddr: getEnv("HTTP_ADDR", ":8090"),

		BackendBaseURL:   strings.TrimRight(getEnv("BACKEND_BASE_URL", "https://snackalmond.duckdns.org"), "/"),
		BackendPushURL:   getEnv("BACKEND_PUSH_URL", "wss://snackalmond.duckdns.org/ws/orders/"),
		BackendToken:     getEnv("BACKEND_TOKEN", ""),
		BackendTimeout:   getEnvDuration("BACKEND_TIMEOUT", 10*time.Second),
		BackendRateLimit: getEnvFloat("BACKEND_RATE_LIMIT", 10),
		BackendRateBurst: int(getEnvInt64("BACKEND_RATE_BURST", 20)),

		BoardWindowDays:     getEnvInt64("BOARD_WINDOW_DAYS", 2),
		BoardClockSkew:      getEnvDuration("BOARD_CLOCK_SKEW", 0),
		BoardReconnectDelay: getEnvDuration("BOARD_RECONNECT_DELAY", 5*time.Second),
		BoardReloadAfter:    getEnvDuration("BOARD_RELOAD_AFTER", 30*time.Second),
		BoardSweepInterval:  getEnvDuration("BOARD_SWEEP_INTERVAL", time.Hour),
		BoardAlertDuration:  getEnvDuration("BOARD_ALERT_DURATION", 3*time.Second),
		BoardResyncSettle:   getEnvDuration("BOARD_RESYNC_SETTLE", 2*time.Second),

		StoreDSN: getEnv("STORE_DSN", "cashier-board.db"),

		RabbitMQURL:           getEnv("RABBITMQ_URL", ""),
		RabbitMQExchange:      getEnv("RABBITMQ_EXCHANGE", "cashier.events"),
		RabbitMQCommandsQueue: getEnv("RABBITMQ_COMMANDS_QUEUE", "cashier.commands"),

		JWTSecret:           getEnv("JWT_SECRET", ""),
		CorsAllowedOrigins:  splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "")),
		WSHeartbeatInterval: getEnvDuration("WS_HEARTBEAT_INTERVAL", 30*time.Second),

		ConnectivityProbeInterval: getEnvDuration("CONNECTIVITY_PROBE_INTERVAL", 5*time.Second),
		ConnectivityProbeTimeout:  getEnvDuration("CONNECTIVITY_PROBE_TIMEOUT", 3*time.Second),

		TicketTitle:    getEnv("TICKET_TITLE", "Snack Almond"),
		TicketTimezone: getEnv("TICKET_TIMEZONE", "Local"),
	}

	if cfg.BoardWindowDays <= 0 {
		cfg.BoardWindowDays = 2
	}
	if cfg.BackendRateLimit <= 0 {
		cfg.BackendRateLimit = 10
	}
	if cfg.BackendRateBurst <= 0 {
		cfg.BackendRateBurst = 1
	}

	return cfg
}

// BoardWindow is the retention span of the board.
func (c Config) BoardWindow() time.Duration {
	return time.Duration(c.BoardWindowDays) * 24 * time.Hour
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func splitCSV(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
