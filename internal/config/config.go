package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode        string `mapstructure:"mode"`
	LogLevel    string `mapstructure:"log_level"`
	DisplayName string `mapstructure:"display_name"`
	Avatar      string `mapstructure:"avatar"`

	// Room size including the local host, 2..4.
	Capacity int `mapstructure:"capacity"`

	RendezvousURL string   `mapstructure:"rendezvous_url"`
	StunServers   []string `mapstructure:"stun_servers"`

	DriftThreshold    float64       `mapstructure:"drift_threshold"`
	GuardDelay        time.Duration `mapstructure:"guard_delay"`
	DrawFlushInterval time.Duration `mapstructure:"draw_flush_interval"`
	SpeakingPoll      time.Duration `mapstructure:"speaking_poll"`
	SpeakingHold      time.Duration `mapstructure:"speaking_hold"`
	SpeakingThreshold float64       `mapstructure:"speaking_threshold"`

	// Rendezvous server settings.
	Port       int           `mapstructure:"port"`
	Secret     string        `mapstructure:"secret"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	RateLimit  int           `mapstructure:"rate_limit"`
	RateWindow time.Duration `mapstructure:"rate_window"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("display_name", "guest")
	v.SetDefault("capacity", 4)
	v.SetDefault("rendezvous_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("stun_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("drift_threshold", 1.5)
	v.SetDefault("guard_delay", "800ms")
	v.SetDefault("draw_flush_interval", "25ms")
	v.SetDefault("speaking_poll", "250ms")
	v.SetDefault("speaking_hold", "600ms")
	v.SetDefault("speaking_threshold", 0.12)
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("rate_limit", 10)
	v.SetDefault("rate_window", "10s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
