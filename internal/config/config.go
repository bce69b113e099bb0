package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Bot        Bot        `yaml:"bot"`
	Monitoring Monitoring `yaml:"monitoring"`
	Storage    Storage    `yaml:"storage"`
	CCTV       CCTV       `yaml:"cctv"`
	Webhook    Webhook    `yaml:"webhook"`
	Notify     Notify     `yaml:"notify"`
	Logging    Logging    `yaml:"logging"`
}

type Bot struct {
	Token              string `yaml:"token"`
	AdminChatID        int64  `yaml:"admin_chat_id"`
	SendTimeoutSeconds int    `yaml:"send_timeout_seconds"`
}

type Monitoring struct {
	IntervalSeconds  int     `yaml:"interval_seconds"`
	ProbeAttempts    int     `yaml:"probe_attempts"`
	ProbeTimeoutMS   int     `yaml:"probe_timeout_ms"`
	AmberThresholdMS float64 `yaml:"amber_threshold_ms"`
	RedThresholdMS   float64 `yaml:"red_threshold_ms"`
	PrivilegedICMP   bool    `yaml:"privileged_icmp"`
	MaxPingInfoCount int     `yaml:"max_pinginfo_count"`
}

type Storage struct {
	HostsFile       string `yaml:"hosts_file"`
	SubscribersFile string `yaml:"subscribers_file"`
}

type CCTV struct {
	Broker                string `yaml:"broker"`
	Topic                 string `yaml:"topic"`
	ClientID              string `yaml:"client_id"`
	ConnectTimeoutSeconds int    `yaml:"connect_timeout_seconds"`
}

type Webhook struct {
	Enabled            bool   `yaml:"enabled"`
	ListenAddress      string `yaml:"listen_address"`
	Path               string `yaml:"path"`
	Secret             string `yaml:"secret"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`

	// TrustProxyHeaders takes the client address from X-Forwarded-For or
	// X-Real-IP. Only enable behind a reverse proxy that sets them.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers"`
}

type Notify struct {
	Contact string `yaml:"contact"`
}

type Logging struct {
	Dir        string `yaml:"dir"`
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Load reads the YAML file at path, applies environment overrides and fills
// defaults. A missing file is not an error as long as the environment provides
// the bot token.
func Load(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return cfg, err
	}

	applyEnv(&cfg)

	cfg.Bot.Token = strings.TrimSpace(cfg.Bot.Token)
	if cfg.Bot.Token == "" {
		return cfg, errors.New("bot.token is required (or set TOKEN)")
	}
	if cfg.Bot.SendTimeoutSeconds <= 0 {
		cfg.Bot.SendTimeoutSeconds = 10
	}

	if cfg.Monitoring.IntervalSeconds <= 0 {
		cfg.Monitoring.IntervalSeconds = 10
	}
	if cfg.Monitoring.ProbeAttempts <= 0 {
		cfg.Monitoring.ProbeAttempts = 4
	}
	if cfg.Monitoring.ProbeTimeoutMS <= 0 {
		cfg.Monitoring.ProbeTimeoutMS = 1000
	}
	if cfg.Monitoring.AmberThresholdMS <= 0 {
		cfg.Monitoring.AmberThresholdMS = 120
	}
	if cfg.Monitoring.RedThresholdMS <= 0 {
		cfg.Monitoring.RedThresholdMS = 200
	}
	if cfg.Monitoring.RedThresholdMS <= cfg.Monitoring.AmberThresholdMS {
		return cfg, errors.New("monitoring.red_threshold_ms must be greater than monitoring.amber_threshold_ms")
	}
	if cfg.Monitoring.MaxPingInfoCount <= 0 {
		cfg.Monitoring.MaxPingInfoCount = 20
	}

	cfg.Storage.HostsFile = strings.TrimSpace(cfg.Storage.HostsFile)
	cfg.Storage.SubscribersFile = strings.TrimSpace(cfg.Storage.SubscribersFile)
	if cfg.Storage.HostsFile == "" {
		cfg.Storage.HostsFile = "hosts.json"
	}
	if cfg.Storage.SubscribersFile == "" {
		cfg.Storage.SubscribersFile = "subscribers.json"
	}
	if cfg.Storage.HostsFile == cfg.Storage.SubscribersFile {
		return cfg, errors.New("storage.hosts_file and storage.subscribers_file must differ")
	}

	cfg.CCTV.Broker = strings.TrimSpace(cfg.CCTV.Broker)
	cfg.CCTV.Topic = strings.TrimSpace(cfg.CCTV.Topic)
	if cfg.CCTV.Broker != "" && cfg.CCTV.Topic == "" {
		return cfg, errors.New("cctv.topic is required when cctv.broker is set")
	}
	if cfg.CCTV.ClientID == "" {
		cfg.CCTV.ClientID = "statusbot"
	}
	if cfg.CCTV.ConnectTimeoutSeconds <= 0 {
		cfg.CCTV.ConnectTimeoutSeconds = 10
	}

	cfg.Webhook.ListenAddress = strings.TrimSpace(cfg.Webhook.ListenAddress)
	if !cfg.Webhook.Enabled && cfg.Webhook.ListenAddress != "" {
		cfg.Webhook.Enabled = true
	}
	if cfg.Webhook.ListenAddress == "" {
		cfg.Webhook.ListenAddress = ":8989"
	}
	if cfg.Webhook.Path == "" {
		cfg.Webhook.Path = "/webhook"
	}
	if !strings.HasPrefix(cfg.Webhook.Path, "/") {
		cfg.Webhook.Path = "/" + cfg.Webhook.Path
	}
	if cfg.Webhook.RateLimitPerMinute <= 0 {
		cfg.Webhook.RateLimitPerMinute = 10
	}

	cfg.Notify.Contact = strings.TrimSpace(cfg.Notify.Contact)

	if cfg.Logging.Dir == "" {
		cfg.Logging.Dir = "logs"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.MaxSizeMB <= 0 {
		cfg.Logging.MaxSizeMB = 10
	}
	if cfg.Logging.MaxBackups <= 0 {
		cfg.Logging.MaxBackups = 5
	}
	if cfg.Logging.MaxAgeDays <= 0 {
		cfg.Logging.MaxAgeDays = 14
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	overrides := []struct {
		name   string
		target *string
	}{
		{"TOKEN", &cfg.Bot.Token},
		{"CCTV_SERVER_HOST", &cfg.CCTV.Broker},
		{"CCTV_MQTT_TOPIC", &cfg.CCTV.Topic},
		{"HOSTS_FILE", &cfg.Storage.HostsFile},
		{"SUBSCRIBERS_FILE", &cfg.Storage.SubscribersFile},
		{"WEBHOOK_SECRET", &cfg.Webhook.Secret},
		{"LOG_DIR", &cfg.Logging.Dir},
	}
	for _, o := range overrides {
		if value := strings.TrimSpace(os.Getenv(o.name)); value != "" {
			*o.target = value
		}
	}
}

func (m Monitoring) Interval() time.Duration {
	return time.Duration(m.IntervalSeconds) * time.Second
}

func (m Monitoring) ProbeTimeout() time.Duration {
	return time.Duration(m.ProbeTimeoutMS) * time.Millisecond
}

func (b Bot) SendTimeout() time.Duration {
	return time.Duration(b.SendTimeoutSeconds) * time.Second
}

func (c CCTV) Enabled() bool {
	return c.Broker != ""
}

func (c CCTV) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}
