package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	GatewayBaseURL string
	GatewayWSURL   string

	BotPrefix string

	RedisURL    string
	DatabaseURL string
	UsersFile   string

	CodeforcesBaseURL     string
	CodeforcesMinInterval time.Duration

	AcceptWindow time.Duration
	SolveWindow  time.Duration
	VerifyWindow time.Duration
	SettleDelay  time.Duration

	LeaderboardSize int
	RecentChecked   int

	MessageDir string

	AllowedRooms []string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		UsersFile:             "users.json",
		CodeforcesBaseURL:     "https://codeforces.com/api",
		CodeforcesMinInterval: 500 * time.Millisecond,
		AcceptWindow:          5 * time.Minute,
		SolveWindow:           15 * time.Minute,
		VerifyWindow:          5 * time.Minute,
		SettleDelay:           30 * time.Second,
		LeaderboardSize:       10,
		RecentChecked:         10,
	}

	cfg.GatewayBaseURL = strings.TrimSpace(os.Getenv("GATEWAY_BASE_URL"))
	cfg.GatewayWSURL = strings.TrimSpace(os.Getenv("GATEWAY_WS_URL"))
	cfg.BotPrefix = strings.TrimSpace(os.Getenv("BOT_PREFIX"))

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if v := strings.TrimSpace(os.Getenv("USERS_FILE")); v != "" {
		cfg.UsersFile = v
	}

	if v := strings.TrimSpace(os.Getenv("CF_API_BASE_URL")); v != "" {
		cfg.CodeforcesBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("CF_MIN_INTERVAL_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.CodeforcesMinInterval = time.Duration(n) * time.Millisecond
		}
	}

	if d := durationFromSeconds("ACCEPT_WINDOW_SEC"); d > 0 {
		cfg.AcceptWindow = d
	}
	if d := durationFromSeconds("SOLVE_WINDOW_SEC"); d > 0 {
		cfg.SolveWindow = d
	}
	if d := durationFromSeconds("VERIFY_WINDOW_SEC"); d > 0 {
		cfg.VerifyWindow = d
	}
	if v := strings.TrimSpace(os.Getenv("VERIFY_SETTLE_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.SettleDelay = time.Duration(n) * time.Second
		}
	}

	if v := strings.TrimSpace(os.Getenv("LEADERBOARD_SIZE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.LeaderboardSize = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("RECENT_CHECKED")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RecentChecked = n
		}
	}

	cfg.MessageDir = strings.TrimSpace(os.Getenv("MESSAGE_DIR"))

	if v := strings.TrimSpace(os.Getenv("ALLOWED_ROOMS")); v != "" {
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				cfg.AllowedRooms = append(cfg.AllowedRooms, s)
			}
		}
	}

	if cfg.GatewayBaseURL == "" {
		return nil, errors.New("GATEWAY_BASE_URL is required")
	}
	if cfg.GatewayWSURL == "" {
		return nil, errors.New("GATEWAY_WS_URL is required")
	}
	if cfg.BotPrefix == "" {
		return nil, errors.New("BOT_PREFIX is required")
	}

	return cfg, nil
}

func durationFromSeconds(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
