package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile      = ".env"
	defaultPort         = "8080"
	defaultReadTimeout  = 15 * time.Second
	defaultWriteTimeout = 30 * time.Second
	defaultIdleTimeout  = 120 * time.Second

	defaultHoldWindow  = 30 * time.Minute
	defaultSessionTTL  = 30 * time.Minute
	defaultEventSink   = "log"
	defaultKafkaTopic  = "order-events"
	defaultPubSubTopic = "order-events"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server    ServerConfig
	Firestore FirestoreConfig
	PSP       PSPConfig
	Events    EventsConfig
	Checkout  CheckoutConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PSPConfig collects payment provider settings. StripeAPIKeySecret, when set,
// names a Secret Manager resource resolved at startup instead of StripeAPIKey.
type PSPConfig struct {
	StripeAPIKey       string
	StripeAPIKeySecret string
	SuccessURL         string
	CancelURL          string
}

// EventsConfig selects and configures the domain event sink.
type EventsConfig struct {
	// Sink is one of "pubsub", "kafka", or "log".
	Sink         string
	PubSubTopic  string
	KafkaBrokers []string
	KafkaTopic   string
}

// CheckoutConfig tunes the order hold window and payment session lifetime.
type CheckoutConfig struct {
	HoldWindow time.Duration
	SessionTTL time.Duration
}

// Load builds the configuration from the environment, optionally hydrating
// missing variables from a .env file.
func Load() (Config, error) {
	loadEnvFile(strings.TrimSpace(os.Getenv("ENV_FILE")))

	cfg := Config{
		Server: ServerConfig{
			Port:         envOr("PORT", defaultPort),
			ReadTimeout:  durationOr("SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationOr("SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationOr("SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    strings.TrimSpace(os.Getenv("FIRESTORE_PROJECT_ID")),
			EmulatorHost: strings.TrimSpace(os.Getenv("FIRESTORE_EMULATOR_HOST")),
		},
		PSP: PSPConfig{
			StripeAPIKey:       strings.TrimSpace(os.Getenv("STRIPE_API_KEY")),
			StripeAPIKeySecret: strings.TrimSpace(os.Getenv("STRIPE_API_KEY_SECRET")),
			SuccessURL:         strings.TrimSpace(os.Getenv("CHECKOUT_SUCCESS_URL")),
			CancelURL:          strings.TrimSpace(os.Getenv("CHECKOUT_CANCEL_URL")),
		},
		Events: EventsConfig{
			Sink:         strings.ToLower(envOr("EVENT_SINK", defaultEventSink)),
			PubSubTopic:  envOr("EVENT_PUBSUB_TOPIC", defaultPubSubTopic),
			KafkaBrokers: splitList(os.Getenv("EVENT_KAFKA_BROKERS")),
			KafkaTopic:   envOr("EVENT_KAFKA_TOPIC", defaultKafkaTopic),
		},
		Checkout: CheckoutConfig{
			HoldWindow: durationOr("ORDER_HOLD_WINDOW", defaultHoldWindow),
			SessionTTL: durationOr("PAYMENT_SESSION_TTL", defaultSessionTTL),
		},
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Events.Sink {
	case "pubsub", "kafka", "log":
	default:
		return fmt.Errorf("config: unknown event sink %q", c.Events.Sink)
	}
	if c.Events.Sink == "kafka" && len(c.Events.KafkaBrokers) == 0 {
		return fmt.Errorf("config: kafka sink requires EVENT_KAFKA_BROKERS")
	}
	if c.Checkout.HoldWindow <= 0 {
		return fmt.Errorf("config: order hold window must be positive")
	}
	if c.Checkout.SessionTTL <= 0 {
		return fmt.Errorf("config: payment session ttl must be positive")
	}
	return nil
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
		return parsed
	}
	if seconds, err := strconv.Atoi(raw); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return fallback
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}

// loadEnvFile hydrates unset environment variables from a dotenv-style file.
// Existing variables always win.
func loadEnvFile(path string) {
	if path == "" {
		path = defaultEnvFile
	}
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if key == "" {
			continue
		}
		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
