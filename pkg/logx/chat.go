package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Sender delivers a rendered log line to a chat.
// Target is opaque to logx (for Telegram: "chat_id[:thread_id]").
type Sender interface {
	SendLog(ctx context.Context, target string, text string) error
}

const (
	chatQueueSize    = 256
	chatSendTimeout  = 10 * time.Second
	chatRepeatWindow = time.Minute
	chatRepeatKeys   = 256

	chatTextLimit  = 3500
	chatFieldLimit = 600
	chatStackLimit = 900
)

type chatItem struct {
	to  string
	msg string
}

// chatSink is a zerolog.LevelWriter that forwards lines to a chat through a
// single worker. Identical level+message pairs inside the repeat window are
// sent once; when the window closes the number of swallowed repeats is
// reported on its own line.
type chatSink struct {
	sender Sender
	queue  chan chatItem

	mu       sync.Mutex
	target   string
	minLevel zerolog.Level
	limiter  *rate.Limiter
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	repeatMu sync.Mutex
	repeats  *expirable.LRU[string, int]
}

func newChatSink(sender Sender, window time.Duration) *chatSink {
	c := &chatSink{
		sender:   sender,
		queue:    make(chan chatItem, chatQueueSize),
		minLevel: zerolog.WarnLevel,
	}
	c.repeats = expirable.NewLRU[string, int](chatRepeatKeys, c.flushRepeats, window)
	return c
}

func (c *chatSink) setTarget(target string) {
	c.mu.Lock()
	c.target = strings.TrimSpace(target)
	c.mu.Unlock()
}

func (c *chatSink) configure(minLevel zerolog.Level, perSec int) {
	perSec = max(1, perSec)
	c.mu.Lock()
	c.minLevel = minLevel
	c.limiter = rate.NewLimiter(rate.Limit(perSec), perSec)
	c.mu.Unlock()
}

// start launches the worker once. It reports false when there is nothing to
// send through.
func (c *chatSink) start() bool {
	if c.sender == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.run(ctx)
		}()
	}
	return true
}

func (c *chatSink) stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		c.wg.Wait()
	}
}

func (c *chatSink) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-c.queue:
			sctx, cancel := context.WithTimeout(ctx, chatSendTimeout)
			_ = c.sender.SendLog(sctx, it.to, it.msg)
			cancel()
		}
	}
}

func (c *chatSink) Write(p []byte) (int, error) { return c.WriteLevel(zerolog.InfoLevel, p) }

func (c *chatSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	c.mu.Lock()
	target, minLevel := c.target, c.minLevel
	c.mu.Unlock()
	if target == "" || level < minLevel {
		return len(p), nil
	}

	line := parseChatLine(p)
	if line.text == "" || c.repeated(line.key()) {
		return len(p), nil
	}
	c.enqueue(target, line.text)
	return len(p), nil
}

// repeated records key and reports whether it was already seen in the window.
func (c *chatSink) repeated(key string) bool {
	c.repeatMu.Lock()
	defer c.repeatMu.Unlock()
	n, ok := c.repeats.Peek(key)
	if !ok {
		c.repeats.Add(key, 0)
		return false
	}
	c.repeats.Add(key, n+1)
	return true
}

// flushRepeats runs when a key leaves the repeat cache.
func (c *chatSink) flushRepeats(key string, n int) {
	if n == 0 {
		return
	}
	c.mu.Lock()
	target := c.target
	c.mu.Unlock()
	if target == "" {
		return
	}
	c.enqueue(target, key+" (+"+strconv.Itoa(n)+" similar suppressed)")
}

// enqueue never blocks; the line is dropped when the limiter or queue is full.
func (c *chatSink) enqueue(target, msg string) {
	c.mu.Lock()
	lim := c.limiter
	c.mu.Unlock()
	if lim != nil && !lim.Allow() {
		return
	}
	select {
	case c.queue <- chatItem{to: target, msg: msg}:
	default:
	}
}

type chatLine struct {
	level string
	msg   string
	text  string
}

func (l chatLine) key() string {
	if l.level == "" {
		return l.msg
	}
	return "[" + l.level + "] " + l.msg
}

// parseChatLine renders a zerolog JSON line as "[LEVEL] message" followed by
// one "- key=value" line per field, sorted by key.
func parseChatLine(p []byte) chatLine {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		raw := truncate(strings.TrimSpace(string(p)), chatTextLimit)
		return chatLine{msg: raw, text: raw}
	}

	var l chatLine
	if lvl, _ := m["level"].(string); lvl != "" {
		l.level = strings.ToUpper(lvl)
	}
	l.msg, _ = m["message"].(string)

	var b strings.Builder
	b.WriteString(l.key())
	keys := make([]string, 0, len(m))
	for k := range m {
		if k != "time" && k != "level" && k != "message" {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	for _, k := range keys {
		limit := chatFieldLimit
		if k == "stack" {
			limit = chatStackLimit
		}
		b.WriteString("\n- " + k + "=" + truncate(fmt.Sprint(m[k]), limit))
	}
	l.text = truncate(b.String(), chatTextLimit)
	return l
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	suffix := "..."
	if n < 10 {
		suffix = ""
	}
	cut := n - len(suffix)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + suffix
}
