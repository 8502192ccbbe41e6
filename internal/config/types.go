package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Secrets may be left empty and supplied through the environment instead
// (see ApplyEnv).
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Reddit   RedditConfig   `json:"reddit"`
	Feed     FeedConfig     `json:"feed"`
	Relay    RelayConfig    `json:"relay"`
	Seen     SeenConfig     `json:"seen,omitempty"`
	Storage  *StorageConfig `json:"storage,omitempty"`
	Logging  LoggingConfig  `json:"logging"`
}

type TelegramConfig struct {
	Token string `json:"token,omitempty"`
	// OwnerUserIDs may run bind/unbind in any chat, admin or not.
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	// LogChat receives WARN+ logs when logging.chat.enabled is set.
	// Format: "chat_id" or "chat_id:thread_id".
	LogChat     string `json:"log_chat,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// RedditConfig controls the feed client.
//
// When ClientID and ClientSecret are both set the client uses app-only OAuth
// against oauth.reddit.com; otherwise it reads the public JSON endpoints.
type RedditConfig struct {
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	UserAgent    string `json:"user_agent,omitempty"`
	// BaseURL overrides the API host (tests, proxies).
	BaseURL           string `json:"base_url,omitempty"`
	Timeout           string `json:"timeout,omitempty"`
	RequestsPerMinute int    `json:"requests_per_minute,omitempty"`
	RetryMax          int    `json:"retry_max,omitempty"`
}

// FeedConfig selects what is watched.
//
// Defaults: post_limit=25, comment_limit=150.
type FeedConfig struct {
	Subreddit    string   `json:"subreddit"`
	Authors      []string `json:"authors"`
	PostLimit    int      `json:"post_limit,omitempty"`
	CommentLimit int      `json:"comment_limit,omitempty"`
}

// RelayConfig controls the poll loop and fan-out.
//
// Interval accepts a Go duration ("60s") or a cron expression
// ("*/2 * * * *", "@every 90s").
//
// Defaults: interval=60s, delivery_timeout=10s, rate_per_sec=20,
// concurrency=4, resolve_cache_ttl=5m.
type RelayConfig struct {
	Interval        string `json:"interval,omitempty"`
	DeliveryTimeout string `json:"delivery_timeout,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	Concurrency     int    `json:"concurrency,omitempty"`
	ResolveCacheTTL string `json:"resolve_cache_ttl,omitempty"`
}

// SeenConfig bounds the dedup memory per item kind.
// Values below 4x the matching fetch window are raised to it.
type SeenConfig struct {
	PostCapacity    int `json:"post_capacity,omitempty"`
	CommentCapacity int `json:"comment_capacity,omitempty"`
}

// StorageConfig controls where bindings and the audit log live.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/feedrelay.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}
