package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix prefixes environment overrides. Nested keys use "__",
// e.g. LIVE_REMINDER_SCHEDULER__REPEAT_INTERVAL=5m.
const EnvPrefix = "LIVE_REMINDER_"

// Notification channel names.
const (
	ChannelDesktop  = "desktop"
	ChannelTelegram = "telegram"
	ChannelWebPush  = "webpush"
	ChannelTerminal = "terminal"
	ChannelLog      = "log"
)

var knownChannels = []string{ChannelDesktop, ChannelTelegram, ChannelWebPush, ChannelTerminal, ChannelLog}

type Config struct {
	Store     StoreConfig     `koanf:"store"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Notify    NotifyConfig    `koanf:"notify"`
	Log       LogConfig       `koanf:"log"`
	UI        UIConfig        `koanf:"ui"`
}

type StoreConfig struct {
	Path string `koanf:"path"`
}

type SchedulerConfig struct {
	Enabled        bool          `koanf:"enabled"`
	RepeatInterval time.Duration `koanf:"repeat_interval"` // Re-notify interval for pinned reminders
	RetryDelay     time.Duration `koanf:"retry_delay"`     // Back-off after a failed store call
	WatchDB        bool          `koanf:"watch_db"`        // Reschedule on writes from other processes
}

type NotifyConfig struct {
	Channels string         `koanf:"channels"` // Comma-separated, tried in order
	AppName  string         `koanf:"app_name"`
	Urgency  string         `koanf:"urgency"` // low, normal, critical
	Telegram TelegramConfig `koanf:"telegram"`
	WebPush  WebPushConfig  `koanf:"webpush"`
}

type TelegramConfig struct {
	BotToken string `koanf:"bot_token"`
	ChatID   string `koanf:"chat_id"`
	BaseURL  string `koanf:"base_url"`
}

type WebPushConfig struct {
	Endpoint        string `koanf:"endpoint"`
	Auth            string `koanf:"auth"`
	P256dh          string `koanf:"p256dh"`
	VAPIDPublicKey  string `koanf:"vapid_public_key"`
	VAPIDPrivateKey string `koanf:"vapid_private_key"`
	Subscriber      string `koanf:"subscriber"`
	TTL             int    `koanf:"ttl"`
}

type LogConfig struct {
	Level       string `koanf:"level"`
	File        string `koanf:"file"` // Empty means stderr
	Development bool   `koanf:"development"`
}

type UIConfig struct {
	ColoredOutput bool `koanf:"colored_output"`
	Markdown      bool `koanf:"markdown"`
}

// ChannelList returns the configured channels, trimmed and lower-cased.
func (n NotifyConfig) ChannelList() []string {
	var out []string
	for _, ch := range strings.Split(n.Channels, ",") {
		ch = strings.ToLower(strings.TrimSpace(ch))
		if ch != "" {
			out = append(out, ch)
		}
	}
	return out
}

func (n NotifyConfig) uses(channel string) bool {
	for _, ch := range n.ChannelList() {
		if ch == channel {
			return true
		}
	}
	return false
}

func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(NewDefaultProvider(), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		configPath = ExpandPath(configPath)

		if _, err := os.Stat(configPath); err == nil {
			if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file: %w", err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// Conventional Telegram bot variables
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		k.Set("notify.telegram.bot_token", token)
	}
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		k.Set("notify.telegram.chat_id", chatID)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Store.Path = ExpandPath(cfg.Store.Path)
	cfg.Log.File = ExpandPath(cfg.Log.File)

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}

	if c.Scheduler.RepeatInterval <= 0 {
		return fmt.Errorf("scheduler.repeat_interval must be positive")
	}

	if c.Scheduler.RetryDelay <= 0 {
		return fmt.Errorf("scheduler.retry_delay must be positive")
	}

	channels := c.Notify.ChannelList()
	if len(channels) == 0 {
		return fmt.Errorf("notify.channels must name at least one channel")
	}
	for _, ch := range channels {
		if !isKnownChannel(ch) {
			return fmt.Errorf("unknown notification channel: %s (supported: %s)",
				ch, strings.Join(knownChannels, ", "))
		}
	}

	switch c.Notify.Urgency {
	case "low", "normal", "critical":
	default:
		return fmt.Errorf("notify.urgency must be low, normal or critical, got %q", c.Notify.Urgency)
	}

	if c.Notify.uses(ChannelTelegram) {
		if c.Notify.Telegram.BotToken == "" || c.Notify.Telegram.ChatID == "" {
			return fmt.Errorf("telegram channel requires bot_token and chat_id (set TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID)")
		}
	}

	if c.Notify.uses(ChannelWebPush) {
		wp := c.Notify.WebPush
		if wp.Endpoint == "" || wp.Auth == "" || wp.P256dh == "" {
			return fmt.Errorf("webpush channel requires endpoint, auth and p256dh")
		}
		if wp.VAPIDPublicKey == "" || wp.VAPIDPrivateKey == "" {
			return fmt.Errorf("webpush channel requires VAPID keys")
		}
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.Log.Level, err)
	}

	return nil
}

func isKnownChannel(ch string) bool {
	for _, k := range knownChannels {
		if k == ch {
			return true
		}
	}
	return false
}

// ExpandPath replaces a leading "~/" with the user's home directory.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	if len(path) >= 2 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}

	return path
}
