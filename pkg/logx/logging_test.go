package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"
)

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "relay"))
	log.Info("cycle done", Int("delivered", 2))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode: %v (%q)", err, buf.String())
	}
	if m["comp"] != "relay" {
		t.Fatalf("comp = %v", m["comp"])
	}
	if m["delivered"] != float64(2) {
		t.Fatalf("delivered = %v", m["delivered"])
	}
	if m["message"] != "cycle done" {
		t.Fatalf("message = %v", m["message"])
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered, got %q", buf.String())
	}
	log.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("expected warn line, got %q", buf.String())
	}
}

func TestZeroLoggerIsNop(t *testing.T) {
	var log Logger
	if !log.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	log.Error("must not panic")
}

func TestFormatChatLine(t *testing.T) {
	line := []byte(`{"level":"warn","message":"delivery failed","destination":"-100:7","time":"x"}`)
	got := parseChatLine(line).text
	if !strings.HasPrefix(got, "[WARN] delivery failed") {
		t.Fatalf("unexpected head: %q", got)
	}
	if !strings.Contains(got, "- destination=-100:7") {
		t.Fatalf("missing field: %q", got)
	}
	if strings.Contains(got, "time=") {
		t.Fatalf("time should be dropped: %q", got)
	}
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []string
	done chan struct{}
}

func (r *recordingSender) SendLog(_ context.Context, target, text string) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, target+"|"+text)
	r.mu.Unlock()
	select {
	case r.done <- struct{}{}:
	default:
	}
	return nil
}

func TestChatSinkRespectsMinLevel(t *testing.T) {
	rs := &recordingSender{done: make(chan struct{}, 4)}
	svc, log := New(Config{Level: "debug", Chat: ChatConfig{Enabled: true, MinLevel: "error", RatePerSec: 10}}, rs)
	defer svc.Close()
	svc.SetChatTarget("-100123")

	log.Warn("below min")
	log.Error("boom")

	select {
	case <-rs.done:
	case <-time.After(2 * time.Second):
		t.Fatal("chat sink never delivered")
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if len(rs.msgs) != 1 {
		t.Fatalf("expected 1 chat message, got %d: %v", len(rs.msgs), rs.msgs)
	}
	if !strings.HasPrefix(rs.msgs[0], "-100123|[ERROR] boom") {
		t.Fatalf("unexpected chat message %q", rs.msgs[0])
	}
}

func TestValidLevel(t *testing.T) {
	for _, s := range []string{"", "info", "WARN", "warning", "trace"} {
		if !ValidLevel(s) {
			t.Errorf("ValidLevel(%q) = false", s)
		}
	}
	if ValidLevel("loud") {
		t.Error("ValidLevel(loud) = true")
	}
}

func TestChatSinkSuppressesRepeats(t *testing.T) {
	rs := &recordingSender{done: make(chan struct{}, 8)}
	svc, log := newService(Config{Level: "debug", Chat: ChatConfig{Enabled: true, MinLevel: "warn", RatePerSec: 10}}, rs, 100*time.Millisecond)
	defer svc.Close()
	svc.SetChatTarget("-100123")

	for range 3 {
		log.Warn("fetch failed")
	}

	deadline := time.After(3 * time.Second)
	for {
		rs.mu.Lock()
		n := len(rs.msgs)
		rs.mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-rs.done:
		case <-deadline:
			t.Fatalf("expected a line and a summary, got %d messages", n)
		}
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if !strings.HasPrefix(rs.msgs[0], "-100123|[WARN] fetch failed") {
		t.Fatalf("first message = %q", rs.msgs[0])
	}
	if rs.msgs[1] != "-100123|[WARN] fetch failed (+2 similar suppressed)" {
		t.Fatalf("summary = %q", rs.msgs[1])
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	s := strings.Repeat("é", 20) // 40 bytes
	got := truncate(s, 16)
	if !strings.HasSuffix(got, "...") || len(got) > 16 {
		t.Fatalf("truncate = %q (%d bytes)", got, len(got))
	}
	if !utf8.ValidString(got) {
		t.Fatalf("truncate split a rune: %q", got)
	}
	if truncate("short", 16) != "short" {
		t.Fatal("short strings must pass through")
	}
}
