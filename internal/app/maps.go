package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"feedrelay/internal/config"
	"feedrelay/internal/feed/reddit"
	"feedrelay/internal/relay"
	"feedrelay/internal/seen"
	"feedrelay/internal/storage"
	kit "feedrelay/internal/transport"
	logx "feedrelay/pkg/logx"
)

// seenWindowFactor is how many fetch windows the seen tracker must retain.
const seenWindowFactor = 4

// mapped is a validated, defaulted view of config.Config.
type mapped struct {
	pollTimeout time.Duration
	resolveTTL  time.Duration
	logChat     string

	reddit   reddit.Config
	poller   relay.Settings
	dispatch relay.DispatchConfig
	storage  storage.Config
	logging  logx.Config

	postCap, commentCap int
}

func mapConfig(cfg *config.Config) (mapped, error) {
	if cfg == nil {
		return mapped{}, errors.New("config is nil")
	}
	var m mapped
	var err error

	if m.pollTimeout, err = config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second); err != nil {
		return mapped{}, err
	}
	if lc := strings.TrimSpace(cfg.Telegram.LogChat); lc != "" {
		if _, err := kit.ParseTarget(lc); err != nil {
			return mapped{}, fmt.Errorf("telegram.log_chat: %w", err)
		}
		m.logChat = lc
	}

	rcfg, err := mapRedditConfig(cfg)
	if err != nil {
		return mapped{}, err
	}
	m.reddit = rcfg

	if m.poller, err = mapPollerSettings(cfg); err != nil {
		return mapped{}, err
	}
	if m.dispatch, m.resolveTTL, err = mapRelayConfig(cfg); err != nil {
		return mapped{}, err
	}

	m.postCap = seen.Capacity(cfg.Seen.PostCapacity, m.poller.PostLimit, seenWindowFactor)
	m.commentCap = seen.Capacity(cfg.Seen.CommentCapacity, m.poller.CommentLimit, seenWindowFactor)

	if m.storage, err = mapStorageConfig(cfg); err != nil {
		return mapped{}, err
	}
	if m.logging, err = mapLoggingConfig(cfg); err != nil {
		return mapped{}, err
	}
	return m, nil
}

func mapRedditConfig(cfg *config.Config) (reddit.Config, error) {
	rc := cfg.Reddit
	if strings.TrimSpace(rc.UserAgent) == "" {
		return reddit.Config{}, errors.New("reddit.user_agent is required")
	}
	if (rc.ClientID == "") != (rc.ClientSecret == "") {
		return reddit.Config{}, errors.New("reddit.client_id and reddit.client_secret must be set together")
	}
	if rc.RequestsPerMinute < 0 {
		return reddit.Config{}, fmt.Errorf("reddit.requests_per_minute: must be >= 0, got %d", rc.RequestsPerMinute)
	}
	timeout, err := config.ParseDurationOrDefault("reddit.timeout", rc.Timeout, 15*time.Second)
	if err != nil {
		return reddit.Config{}, err
	}
	return reddit.Config{
		ClientID:          strings.TrimSpace(rc.ClientID),
		ClientSecret:      strings.TrimSpace(rc.ClientSecret),
		UserAgent:         strings.TrimSpace(rc.UserAgent),
		BaseURL:           strings.TrimSpace(rc.BaseURL),
		Timeout:           timeout,
		RequestsPerMinute: rc.RequestsPerMinute,
		RetryMax:          rc.RetryMax,
	}, nil
}

func mapPollerSettings(cfg *config.Config) (relay.Settings, error) {
	fc := cfg.Feed
	sub := strings.TrimPrefix(strings.TrimSpace(fc.Subreddit), "r/")
	if sub == "" {
		return relay.Settings{}, errors.New("feed.subreddit is required")
	}
	if strings.ContainsAny(sub, "/ ") {
		return relay.Settings{}, fmt.Errorf("feed.subreddit: invalid name %q", fc.Subreddit)
	}
	authors := make([]string, 0, len(fc.Authors))
	for _, a := range fc.Authors {
		if a = strings.TrimSpace(a); a != "" {
			authors = append(authors, a)
		}
	}
	if len(authors) == 0 {
		return relay.Settings{}, errors.New("feed.authors must list at least one username")
	}
	if fc.PostLimit < 0 || fc.CommentLimit < 0 {
		return relay.Settings{}, errors.New("feed.post_limit and feed.comment_limit must be >= 0")
	}
	sched, err := relay.ParseSchedule(cfg.Relay.Interval, time.Minute)
	if err != nil {
		return relay.Settings{}, fmt.Errorf("relay.interval: %w", err)
	}
	s := relay.Settings{
		Subreddit:    sub,
		Authors:      authors,
		PostLimit:    fc.PostLimit,
		CommentLimit: fc.CommentLimit,
		Schedule:     sched,
	}
	if s.PostLimit == 0 {
		s.PostLimit = 25
	}
	if s.CommentLimit == 0 {
		s.CommentLimit = 150
	}
	return s, nil
}

func mapRelayConfig(cfg *config.Config) (relay.DispatchConfig, time.Duration, error) {
	rc := cfg.Relay
	if rc.Concurrency < 0 || rc.RatePerSec < 0 {
		return relay.DispatchConfig{}, 0, errors.New("relay.concurrency and relay.rate_per_sec must be >= 0")
	}
	timeout, err := config.ParseDurationOrDefault("relay.delivery_timeout", rc.DeliveryTimeout, 10*time.Second)
	if err != nil {
		return relay.DispatchConfig{}, 0, err
	}
	ttl, err := config.ParseDurationOrDefault("relay.resolve_cache_ttl", rc.ResolveCacheTTL, 5*time.Minute)
	if err != nil {
		return relay.DispatchConfig{}, 0, err
	}
	return relay.DispatchConfig{
		Concurrency: rc.Concurrency,
		RatePerSec:  rc.RatePerSec,
		Timeout:     timeout,
	}, ttl, nil
}

// mapStorageConfig maps the storage section. A missing section selects the
// file driver at its default path.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg.Storage == nil {
		return storage.Config{Driver: "file"}, nil
	}
	sc := cfg.Storage
	path := strings.TrimSpace(sc.Path)
	switch driver := strings.ToLower(strings.TrimSpace(sc.Driver)); driver {
	case "", "file":
		return storage.Config{Driver: "file", Path: path}, nil
	case "memory":
		return storage.Config{Driver: "memory"}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, errors.New("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapLoggingConfig(cfg *config.Config) (logx.Config, error) {
	lc := cfg.Logging
	if !logx.ValidLevel(lc.Level) {
		return logx.Config{}, fmt.Errorf("logging.level: unknown level %q", lc.Level)
	}
	if !logx.ValidLevel(lc.Chat.MinLevel) {
		return logx.Config{}, fmt.Errorf("logging.chat.min_level: unknown level %q", lc.Chat.MinLevel)
	}
	if lc.File.Enabled && strings.TrimSpace(lc.File.Path) == "" {
		return logx.Config{}, errors.New("logging.file.path is required when logging.file.enabled is set")
	}
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    lc.Chat.Enabled,
			MinLevel:   lc.Chat.MinLevel,
			RatePerSec: lc.Chat.RatePerSec,
		},
	}, nil
}

// validate is installed as the config manager's reload gate.
func validate(cfg *config.Config) error {
	_, err := mapConfig(cfg)
	return err
}

// restartRequired lists sections whose changes only apply at startup.
func restartRequired(prev, next *config.Config) []string {
	if prev == nil || next == nil {
		return nil
	}
	var out []string
	if prev.Telegram.Token != next.Telegram.Token || prev.Telegram.PollTimeout != next.Telegram.PollTimeout {
		out = append(out, "telegram")
	}
	if a, err := mapRedditConfig(prev); err == nil {
		if b, err := mapRedditConfig(next); err == nil && a != b {
			out = append(out, "reddit")
		}
	}
	if a, err := mapStorageConfig(prev); err == nil {
		if b, err := mapStorageConfig(next); err == nil && a != b {
			out = append(out, "storage")
		}
	}
	return out
}
