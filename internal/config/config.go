// Package config loads process configuration from environment variables
// (spec §6: "Environment variables consumed"), adapted from the teacher's
// flag+env loading pattern.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds settings shared by both daemons (cmd/bridge, cmd/outbound).
// Fields not relevant to a given daemon are simply left at their defaults.
type Config struct {
	// Asterisk ARI
	AsteriskHost     string
	AsteriskPort     int
	AsteriskUsername string
	AsteriskPassword string
	LocalIPAddress   string

	InboundStasisApp  string
	OutboundStasisApp string

	RTPPortMin int
	RTPPortMax int

	// OpenAI Realtime
	OpenAIAPIKey         string
	OpenAIRealtimeModel  string
	RealtimeVoice           string
	RealtimeInstructions    string
	RealtimeInitialGreeting string
	VADThreshold            float64
	VADPrefixPaddingMs   int
	VADSilenceDurationMs int

	// Tool backend
	MikrotikAPIURL      string
	EnableMikrotikTools bool

	// Outbound MySQL store
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string

	// Outbound controller tunables
	MaxAttempts        int
	CallTimeout        time.Duration
	AudioStartTimeout  time.Duration
	MaxSilent          time.Duration
	RetryDelay         time.Duration
	InterJobDelay      time.Duration
	PerJobTimeout      time.Duration
	DispatchBatchSize  int
	DispatchInterval   time.Duration

	LogLevel    string
	LogFilePath string
}

// Load reads configuration from flags then overrides with environment
// variables, and validates required fields. Missing mandatory values cause
// a fatal error (spec §6: "exit with error; do not start").
func Load() (*Config, error) {
	cfg := &Config{
		InboundStasisApp:     "openai-app",
		OutboundStasisApp:    "overdue-app",
		RTPPortMin:           10000,
		RTPPortMax:           20000,
		RealtimeVoice:        "alloy",
		VADThreshold:         0.5,
		VADPrefixPaddingMs:   300,
		VADSilenceDurationMs: 500,
		MaxAttempts:          3,
		CallTimeout:          90 * time.Second,
		AudioStartTimeout:    15 * time.Second,
		MaxSilent:            20 * time.Second,
		RetryDelay:           120 * time.Second,
		InterJobDelay:        10 * time.Second,
		PerJobTimeout:        600 * time.Second,
		DispatchBatchSize:    20,
		DispatchInterval:     time.Minute,
		LogLevel:             "info",
	}

	flag.StringVar(&cfg.LogLevel, "loglevel", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flag.IntVar(&cfg.RTPPortMin, "rtp-port-min", cfg.RTPPortMin, "Lower bound of the RTP port range")
	flag.IntVar(&cfg.RTPPortMax, "rtp-port-max", cfg.RTPPortMax, "Upper bound (exclusive) of the RTP port range")
	flag.Parse()

	cfg.AsteriskHost = envOr("ASTERISK_HOST", cfg.AsteriskHost)
	cfg.AsteriskUsername = envOr("ASTERISK_USERNAME", cfg.AsteriskUsername)
	cfg.AsteriskPassword = envOr("ASTERISK_PASSWORD", cfg.AsteriskPassword)
	cfg.LocalIPAddress = envOr("LOCAL_IP_ADDRESS", cfg.LocalIPAddress)
	cfg.LogFilePath = envOr("LOG_FILE_PATH", cfg.LogFilePath)
	cfg.OpenAIAPIKey = envOr("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OpenAIRealtimeModel = envOr("OPENAI_REALTIME_MODEL", cfg.OpenAIRealtimeModel)
	cfg.RealtimeInitialGreeting = envOr("REALTIME_INITIAL_GREETING", cfg.RealtimeInitialGreeting)
	cfg.MikrotikAPIURL = envOr("MIKROTIK_API_URL", cfg.MikrotikAPIURL)

	if port, ok := envInt("ASTERISK_PORT"); ok {
		cfg.AsteriskPort = port
	}
	if enabled, ok := os.LookupEnv("ENABLE_MIKROTIK_TOOLS"); ok {
		cfg.EnableMikrotikTools = enabled == "1" || enabled == "true"
	}

	cfg.DBHost = envOr("DB_HOST", cfg.DBHost)
	cfg.DBUser = envOr("DB_USER", cfg.DBUser)
	cfg.DBPassword = envOr("DB_PASSWORD", cfg.DBPassword)
	cfg.DBName = envOr("DB_NAME", cfg.DBName)
	if port, ok := envInt("DB_PORT"); ok {
		cfg.DBPort = port
	} else if cfg.DBPort == 0 {
		cfg.DBPort = 3306
	}

	if err := cfg.validateCommon(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validateCommon() error {
	missing := func(name, val string) string {
		if val == "" {
			return name
		}
		return ""
	}

	var absent []string
	for _, m := range []string{
		missing("ASTERISK_USERNAME", c.AsteriskUsername),
		missing("ASTERISK_PASSWORD", c.AsteriskPassword),
		missing("ASTERISK_HOST", c.AsteriskHost),
		missing("LOCAL_IP_ADDRESS", c.LocalIPAddress),
		missing("OPENAI_API_KEY", c.OpenAIAPIKey),
		missing("OPENAI_REALTIME_MODEL", c.OpenAIRealtimeModel),
	} {
		if m != "" {
			absent = append(absent, m)
		}
	}
	if len(absent) > 0 {
		return fmt.Errorf("config: missing required environment variables: %v", absent)
	}
	if c.AsteriskPort == 0 {
		c.AsteriskPort = 8088
	}
	return nil
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envInt(key string) (int, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
