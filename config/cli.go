package config

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// cfgFile holds the path to the config file given via --config.
var cfgFile string

// BindFlags registers the bookagent persistent flags on cmd and binds each
// to its Viper key, so flags override environment variables which override
// the config file which overrides DefaultAgentConfig.
func BindFlags(cmd *cobra.Command) {
	cobra.OnInitialize(initViper)

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.bookagent.yaml)")
	cmd.PersistentFlags().String("role", "", "agent role: client or gateway")
	cmd.PersistentFlags().String("db-path", "", "bbolt database file path")
	cmd.PersistentFlags().String("central-api-url", "", "Central API base URL (gateway role)")
	cmd.PersistentFlags().Int("max-retry-attempts", 0, "max forwarding retry attempts before a job is marked failed")
	cmd.PersistentFlags().Int64("initial-backoff-ms", 0, "initial retry backoff in milliseconds")
	cmd.PersistentFlags().Float64("rate-limit-per-sec", 0, "max outbound Central API calls per second (0 = unlimited)")
	cmd.PersistentFlags().String("p2p-transport", "", "P2P transport: websocket or ziti")
	cmd.PersistentFlags().String("p2p-listen-addr", "", "gateway: address to listen for P2P connections")
	cmd.PersistentFlags().String("p2p-dial-addr", "", "client: address to dial the gateway")
	cmd.PersistentFlags().String("ziti-identity", "", "path to OpenZiti identity file")
	cmd.PersistentFlags().String("redis-addr", "", "Redis URL for cross-instance soft lease (optional)")
	cmd.PersistentFlags().String("amqp-url", "", "RabbitMQ URL for the audit outbox stream (optional)")
	cmd.PersistentFlags().String("status-api-addr", "", "address for the local status/observability endpoint")
	cmd.PersistentFlags().String("jwt-secret", "", "JWT secret protecting the status endpoint (optional)")
	cmd.PersistentFlags().String("log-level", "", "debug, info, warn, or error")
	cmd.PersistentFlags().String("log-format", "", "text or json")

	for _, name := range []string{
		"role", "db-path", "central-api-url", "max-retry-attempts", "initial-backoff-ms",
		"rate-limit-per-sec", "p2p-transport", "p2p-listen-addr", "p2p-dial-addr",
		"ziti-identity", "redis-addr", "amqp-url", "status-api-addr", "jwt-secret",
		"log-level", "log-format",
	} {
		viper.BindPFlag(name, cmd.PersistentFlags().Lookup(name))
	}
}

func initViper() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".bookagent")
	}

	viper.SetEnvPrefix("BOOKAGENT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
}

// Load merges DefaultAgentConfig, the config file, environment variables,
// and any flags bound via BindFlags - in that order of increasing
// precedence - and validates the result.
func Load() (AgentConfig, error) {
	cfg := DefaultAgentConfig()

	set := func(key string, apply func(string)) {
		if viper.IsSet(key) && viper.GetString(key) != "" {
			apply(viper.GetString(key))
		}
	}

	set("role", func(s string) { cfg.Role = s })
	set("db-path", func(s string) { cfg.DBPath = s })
	set("central-api-url", func(s string) { cfg.CentralAPIURL = s })
	set("p2p-transport", func(s string) { cfg.P2PTransport = s })
	set("p2p-listen-addr", func(s string) { cfg.P2PListenAddr = s })
	set("p2p-dial-addr", func(s string) { cfg.P2PDialAddr = s })
	set("ziti-identity", func(s string) { cfg.ZitiIdentity = s })
	set("redis-addr", func(s string) { cfg.RedisAddr = s })
	set("amqp-url", func(s string) { cfg.AMQPURL = s })
	set("status-api-addr", func(s string) { cfg.StatusAPIAddr = s })
	set("jwt-secret", func(s string) { cfg.JWTSecret = s })
	set("log-level", func(s string) { cfg.LogLevel = s })
	set("log-format", func(s string) { cfg.LogFormat = s })

	if viper.IsSet("max-retry-attempts") && viper.GetInt("max-retry-attempts") != 0 {
		cfg.MaxRetryAttempts = viper.GetInt("max-retry-attempts")
	}
	if viper.IsSet("initial-backoff-ms") && viper.GetInt64("initial-backoff-ms") != 0 {
		cfg.InitialBackoffMs = viper.GetInt64("initial-backoff-ms")
	}
	if viper.IsSet("rate-limit-per-sec") && viper.GetFloat64("rate-limit-per-sec") != 0 {
		cfg.RateLimitPerSec = viper.GetFloat64("rate-limit-per-sec")
	}

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
