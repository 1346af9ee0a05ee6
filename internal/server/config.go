package server

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server settings. Every field can be set from the environment.
type Config struct {
	Host                    string        `env:"HOST"`
	Port                    int           `env:"PORT,default=8080" validate:"gt=0,lte=65535"`
	Origins                 string        `env:"ALLOWED_ORIGINS,default=http://localhost:8080"`
	MaxMessageSize          int           `env:"MAX_MESSAGE_SIZE,default=512" validate:"gt=0"`
	RateLimitBurst          int           `env:"RATE_LIMIT_BURST,default=5" validate:"gt=0"`
	RateLimitRefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL,default=1s" validate:"gt=0"`
	SendBufferSize          int           `env:"SEND_BUFFER_SIZE,default=256" validate:"gt=0"`
	// HistoryLimit is capped by the send buffer so a full replay never overflows it.
	HistoryLimit int    `env:"HISTORY_LIMIT,default=20" validate:"gte=0,ltefield=SendBufferSize"`
	StoreDriver  string `env:"STORE_DRIVER,default=sqlite" validate:"oneof=sqlite badger"`
	StorePath    string `env:"STORE_PATH,default=chat.db" validate:"required"`
	LogLevel     string `env:"LOG_LEVEL,default=INFO" validate:"required"`
}

// NewConfig creates a Config holding the defaults declared in the env tags.
func NewConfig() *Config {
	var cfg Config
	if err := env.Unmarshal(env.EnvSet{}, &cfg); err != nil {
		panic(fmt.Sprintf("invalid config defaults: %v", err))
	}
	return &cfg
}

// LoadConfig reads the configuration from the environment and validates it.
func LoadConfig() (*Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Addr is the listen address built from Host and Port.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// AllowedOrigins splits the comma separated origin list.
func (c *Config) AllowedOrigins() []string {
	return parseOrigins(c.Origins)
}

// RateLimit groups the rate limiting settings.
func (c *Config) RateLimit() RateLimitConfig {
	return RateLimitConfig{Burst: c.RateLimitBurst, RefillInterval: c.RateLimitRefillInterval}
}

func parseOrigins(origins string) []string {
	if strings.TrimSpace(origins) == "" {
		return nil
	}
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
