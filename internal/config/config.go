package config

import (
	"flag"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env      string         `yaml:"env" env:"ENV" env-default:"local"`
	HTTP     HTTPConfig     `yaml:"http"`
	Signal   SignalConfig   `yaml:"signal"`
	WebRTC   WebRTCConfig   `yaml:"webrtc"`
	Recovery RecoveryConfig `yaml:"recovery"`
	Database DatabaseConfig `yaml:"database"`
}

type HTTPConfig struct {
	Address string `yaml:"address" env:"HTTP_ADDRESS" env-default:""`
}

// SignalConfig points a peer client at the relay.
type SignalConfig struct {
	URL string `yaml:"url" env:"SIGNAL_URL" env-default:""`
}

type WebRTCConfig struct {
	STUNServers []string `yaml:"stun_servers" env:"STUN_SERVERS" env-default:""`
	// GatherTimeout bounds how long an offer/answer waits for ICE gathering
	// to complete before being sent with whatever candidates exist. The
	// right value is network-dependent, so it is a tunable.
	GatherTimeout time.Duration `yaml:"gather_timeout" env:"GATHER_TIMEOUT" env-default:"5s"`
}

type RecoveryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" env:"RECOVERY_MAX_ATTEMPTS" env-default:"5"`
	BaseDelay   time.Duration `yaml:"base_delay" env:"RECOVERY_BASE_DELAY" env-default:"1s"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn" env:"DATABASE_DSN" env-default:""`
}

func MustLoad() *Config {
	configPath := fetchConfigPath()
	if configPath == "" {
		panic("config path is empty")
	}

	return MustLoadPath(configPath)
}

func MustLoadPath(configPath string) *Config {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file does not exist: " + configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		panic("cannot read config: " + err.Error())
	}

	cfg.setDefaults()

	return &cfg
}

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	if res == "" {
		res = "config/local.yaml"
	}

	return res
}

func (c *Config) setDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if c.Signal.URL == "" {
		c.Signal.URL = "ws://localhost:8080"
	}
	if len(c.WebRTC.STUNServers) == 0 {
		c.WebRTC.STUNServers = []string{"stun:stun.l.google.com:19302"}
	}
	if c.WebRTC.GatherTimeout <= 0 {
		c.WebRTC.GatherTimeout = 5 * time.Second
	}
	if c.Recovery.MaxAttempts <= 0 {
		c.Recovery.MaxAttempts = 5
	}
	if c.Recovery.BaseDelay <= 0 {
		c.Recovery.BaseDelay = time.Second
	}
}
