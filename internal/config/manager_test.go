package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestParseJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{
		"telegram": {"token": "tok", "owner_user_ids": [42]},
		"feed": {"subreddit": "2007scape", "authors": ["JagexElena", "JagexGoblin"]},
		"relay": {"interval": "45s"},
		"logging": {"level": "debug", "console": true}
	}`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Feed.Subreddit != "2007scape" || len(cfg.Feed.Authors) != 2 {
		t.Fatalf("feed = %+v", cfg.Feed)
	}
	if cfg.Relay.Interval != "45s" {
		t.Fatalf("interval = %q", cfg.Relay.Interval)
	}
	if len(cfg.Telegram.OwnerUserIDs) != 1 || cfg.Telegram.OwnerUserIDs[0] != 42 {
		t.Fatalf("owners = %v", cfg.Telegram.OwnerUserIDs)
	}
}

func TestParseYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
telegram:
  token: tok
feed:
  subreddit: golang
  authors: [alice, bob]
  comment_limit: 100
storage:
  driver: sqlite
  path: ./data/relay.db
`)
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Feed.CommentLimit != 100 {
		t.Fatalf("comment_limit = %d", cfg.Feed.CommentLimit)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"feed": {"subreddit": "x", "authorz": []}}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"feed": {"subreddit": "x"}}{"feed": {}}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestParseFillsSecretsFromEnv(t *testing.T) {
	t.Setenv(EnvTelegramToken, "env-token")
	t.Setenv(EnvRedditClientID, "env-id")
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"reddit": {"client_id": "file-id"}}`)

	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Telegram.Token != "env-token" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Reddit.ClientID != "file-id" {
		t.Fatalf("file value should win, got %q", cfg.Reddit.ClientID)
	}
}

func TestWatchPublishesValidChangesOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeFile(t, path, `{"feed": {"subreddit": "one"}}`)

	m := NewManager(path)
	m.debounce = 20 * time.Millisecond
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	m.SetValidator(func(_ context.Context, cfg *Config) error {
		if cfg.Feed.Subreddit == "" {
			return errors.New("subreddit required")
		}
		return nil
	})
	sub := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()
	// Give the watcher a moment to register.
	time.Sleep(100 * time.Millisecond)

	writeFile(t, path, `{"feed": {"subreddit": ""}}`)
	time.Sleep(200 * time.Millisecond)
	writeFile(t, path, `{"feed": {"subreddit": "two"}}`)

	select {
	case cfg := <-sub:
		if cfg.Feed.Subreddit != "two" {
			t.Fatalf("published %q, rejected config leaked", cfg.Feed.Subreddit)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no config published")
	}
	if got := m.Get().Feed.Subreddit; got != "two" {
		t.Fatalf("committed %q", got)
	}

	cancel()
	<-done
}

func TestDebouncerCoalescesBursts(t *testing.T) {
	var runs atomic.Int32
	d := &debouncer{wait: 30 * time.Millisecond, fn: func() { runs.Add(1) }}
	for range 5 {
		d.trigger()
	}
	time.Sleep(150 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Fatalf("runs = %d, want 1", got)
	}
	d.trigger()
	d.stop()
	time.Sleep(60 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Fatalf("stopped debouncer fired: runs = %d", got)
	}
}
