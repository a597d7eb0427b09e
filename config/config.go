package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is built once at startup from viper (flags, EARSHOT_* env,
// config.yaml) and handed to each component's constructor. Nothing
// reads viper after Load returns.
type Config struct {
	FeedHost string
	FeedPort int

	OllamaHost string
	OllamaPort int

	HubHost string
	HubPort int

	// Context tracking.
	ContextMaxEntries int
	FlushInterval     time.Duration
	MaxContextBytes   int
	MemoryEnabled     bool

	// Advisor.
	AdvisorModel   string
	AdvisorTimeout time.Duration
	CacheSize      int
	MaxConcurrent  int
	PoolSize       int

	// Reporting.
	DebugInterval time.Duration
	StatsInterval time.Duration
}

func SetDefaults() {
	viper.SetDefault("feed_host", "127.0.0.1")
	viper.SetDefault("feed_port", 9080)
	viper.SetDefault("ollama_host", "127.0.0.1")
	viper.SetDefault("ollama_port", 11434)
	viper.SetDefault("hub_host", "127.0.0.1")
	viper.SetDefault("hub_port", 9082)
	viper.SetDefault("context_max_entries", 50)
	viper.SetDefault("flush_interval", 5*time.Second)
	viper.SetDefault("max_context_bytes", 300)
	viper.SetDefault("memory_enabled", true)
	viper.SetDefault("advisor_model", "llama3:8b")
	viper.SetDefault("fast_model", "phi3:mini")
	viper.SetDefault("advisor_timeout", time.Second)
	viper.SetDefault("cache_size", 50)
	viper.SetDefault("max_concurrent", 3)
	viper.SetDefault("pool_size", 5)
	viper.SetDefault("debug_interval", 5*time.Second)
	viper.SetDefault("stats_interval", 30*time.Second)
}

func Load() (*Config, error) {
	cfg := &Config{
		FeedHost:          viper.GetString("feed_host"),
		FeedPort:          viper.GetInt("feed_port"),
		OllamaHost:        viper.GetString("ollama_host"),
		OllamaPort:        viper.GetInt("ollama_port"),
		HubHost:           viper.GetString("hub_host"),
		HubPort:           viper.GetInt("hub_port"),
		ContextMaxEntries: viper.GetInt("context_max_entries"),
		FlushInterval:     viper.GetDuration("flush_interval"),
		MaxContextBytes:   viper.GetInt("max_context_bytes"),
		MemoryEnabled:     viper.GetBool("memory_enabled"),
		AdvisorModel:      viper.GetString("advisor_model"),
		AdvisorTimeout:    viper.GetDuration("advisor_timeout"),
		CacheSize:         viper.GetInt("cache_size"),
		MaxConcurrent:     viper.GetInt("max_concurrent"),
		PoolSize:          viper.GetInt("pool_size"),
		DebugInterval:     viper.GetDuration("debug_interval"),
		StatsInterval:     viper.GetDuration("stats_interval"),
	}

	// The fast preset trades answer quality for latency. It is the
	// same pipeline with different tuning, not a separate engine.
	if viper.GetBool("fast") {
		cfg.AdvisorModel = viper.GetString("fast_model")
		cfg.AdvisorTimeout = 700 * time.Millisecond
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.FeedPort < 1 || c.FeedPort > 65535 {
		return fmt.Errorf("feed_port out of range: %d", c.FeedPort)
	}
	if c.OllamaPort < 1 || c.OllamaPort > 65535 {
		return fmt.Errorf("ollama_port out of range: %d", c.OllamaPort)
	}
	// Hub port 0 is allowed so tests can bind an ephemeral port.
	if c.HubPort < 0 || c.HubPort > 65535 {
		return fmt.Errorf("hub_port out of range: %d", c.HubPort)
	}
	if c.ContextMaxEntries < 1 {
		return fmt.Errorf("context_max_entries must be positive, got %d", c.ContextMaxEntries)
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("flush_interval must be positive, got %s", c.FlushInterval)
	}
	if c.AdvisorTimeout <= 0 {
		return fmt.Errorf("advisor_timeout must be positive, got %s", c.AdvisorTimeout)
	}
	if c.AdvisorModel == "" {
		return fmt.Errorf("advisor_model must not be empty")
	}
	if c.CacheSize < 1 {
		return fmt.Errorf("cache_size must be positive, got %d", c.CacheSize)
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be positive, got %d", c.MaxConcurrent)
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("pool_size must be positive, got %d", c.PoolSize)
	}
	return nil
}

func (c *Config) FeedURL() string {
	return fmt.Sprintf("ws://%s:%d/hot_stream", c.FeedHost, c.FeedPort)
}

func (c *Config) OllamaURL() string {
	return fmt.Sprintf("http://%s:%d/api/generate", c.OllamaHost, c.OllamaPort)
}

func (c *Config) HubAddr() string {
	return fmt.Sprintf("%s:%d", c.HubHost, c.HubPort)
}
