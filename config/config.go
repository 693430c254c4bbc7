// Package config loads and validates bookagent agent configuration from
// a config file, environment variables, and command-line flags, in that
// order of increasing precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvConfig reads environment variables under an optional prefix.
type EnvConfig struct {
	prefix string
}

func NewEnvConfig(prefix string) *EnvConfig {
	return &EnvConfig{prefix: prefix}
}

func (ec *EnvConfig) buildKey(key string) string {
	if ec.prefix != "" {
		return ec.prefix + "_" + key
	}
	return key
}

func (ec *EnvConfig) GetString(key, defaultValue string) string {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		return v
	}
	return defaultValue
}

func (ec *EnvConfig) GetInt(key string, defaultValue int) int {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func (ec *EnvConfig) GetInt64(key string, defaultValue int64) int64 {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func (ec *EnvConfig) GetFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func (ec *EnvConfig) GetDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

// AgentConfig is the full set of knobs an agent process needs, regardless
// of role. Role-irrelevant fields are simply unused by the other role.
type AgentConfig struct {
	Role string // "client" or "gateway"

	DBPath string

	// Gateway-only: outbound Central API forwarding.
	CentralAPIURL    string
	MaxRetryAttempts int
	InitialBackoffMs int64
	RateLimitPerSec  float64

	// P2P transport.
	P2PTransport  string // "websocket" or "ziti"
	P2PListenAddr string // gateway: address to listen on
	P2PDialAddr   string // client: address to dial
	ZitiIdentity  string // path to Ziti identity file, when P2PTransport=="ziti"

	// Optional cross-instance soft lease.
	RedisAddr string

	// Optional audit outbox.
	AMQPURL   string
	AMQPQueue string

	// Status/observability endpoint.
	StatusAPIAddr string
	JWTSecret     string

	LogLevel  string
	LogFormat string
}

// DefaultAgentConfig returns the documented defaults for every field.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		Role:             "gateway",
		DBPath:           "bookagent.db",
		MaxRetryAttempts: 8,
		InitialBackoffMs: 1000,
		P2PTransport:     "websocket",
		P2PListenAddr:    ":9443",
		P2PDialAddr:      "ws://localhost:9443/ws",
		AMQPQueue:        "bookagent.audit",
		StatusAPIAddr:    ":8081",
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// LoadAgentConfigFromEnv overlays environment variables (prefixed BOOKAGENT_)
// on top of DefaultAgentConfig.
func LoadAgentConfigFromEnv() AgentConfig {
	cfg := DefaultAgentConfig()
	env := NewEnvConfig("BOOKAGENT")

	cfg.Role = env.GetString("ROLE", cfg.Role)
	cfg.DBPath = env.GetString("DB_PATH", cfg.DBPath)
	cfg.CentralAPIURL = env.GetString("CENTRAL_API_URL", cfg.CentralAPIURL)
	cfg.MaxRetryAttempts = env.GetInt("MAX_RETRY_ATTEMPTS", cfg.MaxRetryAttempts)
	cfg.InitialBackoffMs = env.GetInt64("INITIAL_BACKOFF_MS", cfg.InitialBackoffMs)
	cfg.RateLimitPerSec = env.GetFloat("RATE_LIMIT_PER_SEC", cfg.RateLimitPerSec)
	cfg.P2PTransport = env.GetString("P2P_TRANSPORT", cfg.P2PTransport)
	cfg.P2PListenAddr = env.GetString("P2P_LISTEN_ADDR", cfg.P2PListenAddr)
	cfg.P2PDialAddr = env.GetString("P2P_DIAL_ADDR", cfg.P2PDialAddr)
	cfg.ZitiIdentity = env.GetString("ZITI_IDENTITY", cfg.ZitiIdentity)
	cfg.RedisAddr = env.GetString("REDIS_ADDR", cfg.RedisAddr)
	cfg.AMQPURL = env.GetString("AMQP_URL", cfg.AMQPURL)
	cfg.AMQPQueue = env.GetString("AMQP_QUEUE", cfg.AMQPQueue)
	cfg.StatusAPIAddr = env.GetString("STATUS_API_ADDR", cfg.StatusAPIAddr)
	cfg.JWTSecret = env.GetString("JWT_SECRET", cfg.JWTSecret)
	cfg.LogLevel = env.GetString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = env.GetString("LOG_FORMAT", cfg.LogFormat)

	return cfg
}

// Validator accumulates configuration validation errors.
type Validator struct {
	errors []string
}

func NewValidator() *Validator { return &Validator{} }

func (v *Validator) RequireString(field, value string) {
	if value == "" {
		v.errors = append(v.errors, fmt.Sprintf("%s is required", field))
	}
}

func (v *Validator) RequirePositiveInt(field string, value int) {
	if value <= 0 {
		v.errors = append(v.errors, fmt.Sprintf("%s must be positive", field))
	}
}

func (v *Validator) RequireOneOf(field, value string, allowed []string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	v.errors = append(v.errors, fmt.Sprintf("%s must be one of: %s", field, strings.Join(allowed, ", ")))
}

func (v *Validator) Validate() error {
	if len(v.errors) == 0 {
		return nil
	}
	return fmt.Errorf("configuration validation failed: %s", strings.Join(v.errors, "; "))
}

// Validate checks an AgentConfig for internal consistency, applying only
// the constraints relevant to its Role.
func Validate(cfg AgentConfig) error {
	v := NewValidator()
	v.RequireOneOf("Role", cfg.Role, []string{"client", "gateway"})
	v.RequireString("DBPath", cfg.DBPath)
	v.RequireOneOf("P2PTransport", cfg.P2PTransport, []string{"websocket", "ziti"})

	if cfg.Role == "gateway" {
		v.RequireString("CentralAPIURL", cfg.CentralAPIURL)
		v.RequirePositiveInt("MaxRetryAttempts", cfg.MaxRetryAttempts)
		v.RequirePositiveInt("InitialBackoffMs", int(cfg.InitialBackoffMs))
	}
	if cfg.P2PTransport == "ziti" {
		v.RequireString("ZitiIdentity", cfg.ZitiIdentity)
	}

	return v.Validate()
}
