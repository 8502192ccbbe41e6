package config

import (
	"os"
	"strings"
)

// Environment variables consulted when the matching config field is empty.
const (
	EnvTelegramToken      = "TELEGRAM_TOKEN"
	EnvRedditClientID     = "REDDIT_CLIENT_ID"
	EnvRedditClientSecret = "REDDIT_CLIENT_SECRET"
	EnvRedditUserAgent    = "REDDIT_USER_AGENT"
)

// ApplyEnv fills empty secret fields from the environment.
// File values always win.
func ApplyEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	fill := func(dst *string, key string) {
		if strings.TrimSpace(*dst) != "" {
			return
		}
		*dst = strings.TrimSpace(os.Getenv(key))
	}
	fill(&cfg.Telegram.Token, EnvTelegramToken)
	fill(&cfg.Reddit.ClientID, EnvRedditClientID)
	fill(&cfg.Reddit.ClientSecret, EnvRedditClientSecret)
	fill(&cfg.Reddit.UserAgent, EnvRedditUserAgent)
}
