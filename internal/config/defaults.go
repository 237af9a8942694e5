package config

import (
	"github.com/knadh/koanf/providers/confmap"
)

func DefaultConfig() map[string]interface{} {
	return map[string]interface{}{
		"store": map[string]interface{}{
			"path": "~/.live-reminder/reminders.db",
		},
		"scheduler": map[string]interface{}{
			"enabled":         true,
			"repeat_interval": "15m",
			"retry_delay":     "30s",
			"watch_db":        true,
		},
		"notify": map[string]interface{}{
			"channels": "desktop,terminal",
			"app_name": "Live Reminder",
			"urgency":  "normal",
			"telegram": map[string]interface{}{
				"bot_token": "",
				"chat_id":   "",
				"base_url":  "https://api.telegram.org",
			},
			"webpush": map[string]interface{}{
				"endpoint":          "",
				"auth":              "",
				"p256dh":            "",
				"vapid_public_key":  "",
				"vapid_private_key": "",
				"subscriber":        "live-reminder@localhost",
				"ttl":               300,
			},
		},
		"log": map[string]interface{}{
			"level":       "info",
			"file":        "~/.live-reminder/live-reminder.log",
			"development": false,
		},
		"ui": map[string]interface{}{
			"colored_output": true,
			"markdown":       true,
		},
	}
}

func NewDefaultProvider() *confmap.Confmap {
	return confmap.Provider(DefaultConfig(), ".")
}

func GetDefaultConfigPath() string {
	return "~/.live-reminder/config.yaml"
}
