package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	API      APIConfig
	Bridge   BridgeConfig
	Identity IdentityConfig
	Events   EventsConfig
	Tracing  TracingConfig
}

type APIConfig struct {
	BaseURL        string
	WebSocketURL   string
	RequestTimeout time.Duration
}

type BridgeConfig struct {
	Addr string
}

type IdentityConfig struct {
	UserID      int
	UserName    string
	UserEmail   string
	BearerToken string
}

type EventsConfig struct {
	AMQPURL  string
	Exchange string
}

type TracingConfig struct {
	OTLPAddr    string
	Environment string
}

// Load reads configuration from the environment, with a .env file honored
// when present.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	return &Config{
		API: APIConfig{
			BaseURL:        getEnvOrDefault("CHAT_API_BASE_URL", "https://www.devteam10.org"),
			WebSocketURL:   getEnvOrDefault("CHAT_WS_URL", "wss://www.devteam10.org/chat"),
			RequestTimeout: getDurationOrDefault("CHAT_REQUEST_TIMEOUT", "15s"),
		},
		Bridge: BridgeConfig{
			Addr: getEnvOrDefault("BRIDGE_ADDR", "127.0.0.1:8090"),
		},
		Identity: IdentityConfig{
			UserID:      getIntOrDefault("CHAT_USER_ID", 0),
			UserName:    os.Getenv("CHAT_USER_NAME"),
			UserEmail:   os.Getenv("CHAT_USER_EMAIL"),
			BearerToken: os.Getenv("CHAT_BEARER_TOKEN"),
		},
		Events: EventsConfig{
			AMQPURL:  os.Getenv("AMQP_URL"),
			Exchange: getEnvOrDefault("AMQP_EXCHANGE", "chat_client_events"),
		},
		Tracing: TracingConfig{
			OTLPAddr:    os.Getenv("OTLP_GRPC_ADDR"),
			Environment: getEnvOrDefault("ENVIRONMENT", "development"),
		},
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationOrDefault(key, defaultValue string) time.Duration {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		log.Fatalf("invalid duration for %s: %v", key, err)
	}
	return duration
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Fatalf("invalid integer for %s: %v", key, err)
	}
	return intValue
}
