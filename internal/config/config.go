package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        int
	NatsURL     string
	NatsToken   string
	DatabaseURL string
	RedisURL    string
	LogLevel    string
	APIToken    string

	OllamaURL       string
	OllamaModel     string
	ClassifyTimeout time.Duration
	GenerateTimeout time.Duration
	ClassifyCache   int

	FlowsPath  string
	WatchFlows bool
	StateTTL   time.Duration

	MaxMessagesPerDay int
	MinDelay          time.Duration
	MaxDelay          time.Duration
	CampaignStatePath string

	MembersFile string
	ScrapeDelay time.Duration
}

func Load() Config {
	return Config{
		Port:        envInt("ENVOY_PORT", 8760),
		NatsURL:     envStr("NATS_URL", "nats://hermes:4222"),
		NatsToken:   envStr("NATS_TOKEN", ""),
		DatabaseURL: envStr("DATABASE_URL", ""),
		RedisURL:    envStr("REDIS_URL", ""),
		LogLevel:    envStr("LOG_LEVEL", "info"),
		APIToken:    envStr("ENVOY_API_TOKEN", ""),

		OllamaURL:       envStr("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:     envStr("OLLAMA_MODEL", "phi"),
		ClassifyTimeout: envDuration("OLLAMA_CLASSIFY_TIMEOUT", 10*time.Second),
		GenerateTimeout: envDuration("OLLAMA_GENERATE_TIMEOUT", 15*time.Second),
		ClassifyCache:   envInt("ENVOY_CLASSIFY_CACHE", 512),

		FlowsPath:  envStr("ENVOY_FLOWS_PATH", "config/leads.json"),
		WatchFlows: envBool("ENVOY_WATCH_FLOWS", true),
		StateTTL:   envDuration("ENVOY_STATE_TTL", 24*time.Hour),

		MaxMessagesPerDay: envInt("MAX_MESSAGES_PER_DAY", 5),
		MinDelay:          time.Duration(envInt("MIN_DELAY_SECONDS", 120)) * time.Second,
		MaxDelay:          time.Duration(envInt("MAX_DELAY_SECONDS", 300)) * time.Second,
		CampaignStatePath: envStr("ENVOY_CAMPAIGN_STATE", "~/.envoy/campaign.json"),

		MembersFile: envStr("ENVOY_MEMBERS_FILE", "parsed_members.json"),
		ScrapeDelay: envDuration("ENVOY_SCRAPE_DELAY", 500*time.Millisecond),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

// envDuration accepts Go duration strings ("15s") or a bare number of seconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
