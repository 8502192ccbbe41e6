package relay

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"feedrelay/internal/eventbus"
	"feedrelay/internal/feed"
	"feedrelay/internal/seen"
	logx "feedrelay/pkg/logx"
)

func TestOnlyAllowlistedPostIsRelayed(t *testing.T) {
	h := newHarness(t, []string{"alice"}, "-100")
	h.src.posts = []feed.Post{
		{ID: "2", Author: "bob", Title: "Bob's post"},
		{ID: "1", Author: "alice", Title: "Alice's post"},
	}

	res, err := h.poller.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	msgs := h.dest.messages()
	if len(msgs) != 1 || res.Notified != 1 {
		t.Fatalf("expected exactly one message, got %d", len(msgs))
	}
	if !strings.Contains(msgs[0].text, "redd.it/1") || strings.Contains(msgs[0].text, "Bob") {
		t.Fatalf("wrong item relayed: %s", msgs[0].text)
	}
}

func TestNonAllowlistedAuthorsNeverDispatched(t *testing.T) {
	h := newHarness(t, []string{"Alice"}, "-100")
	h.src.posts = []feed.Post{{ID: "p1", Author: "mallory"}, {ID: "p2", Author: ""}}
	h.src.comments = []feed.Comment{
		{ID: "c1", Author: "mallory", ParentID: "t3_p1"},
		{ID: "c2", Author: "ALICE", ParentID: "t3_p1", Body: "hi"},
	}
	if _, err := h.poller.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	msgs := h.dest.messages()
	if len(msgs) != 1 || !strings.Contains(plain(msgs[0].text), "ALICE:") {
		t.Fatalf("unexpected dispatches: %+v", msgs)
	}
	if h.src.parentCalls != 1 {
		t.Fatalf("context must only be resolved for kept comments, got %d lookups", h.src.parentCalls)
	}
}

func TestSeenWindowDispatchesNothing(t *testing.T) {
	h := newHarness(t, []string{"alice"}, "-100", "-200")
	h.src.posts = []feed.Post{{ID: "p1", Author: "alice", Title: "t"}}
	h.src.comments = []feed.Comment{{ID: "c1", Author: "alice", ParentID: "t3_p1", Body: "b"}}

	ctx := context.Background()
	if _, err := h.poller.RunCycle(ctx); err != nil {
		t.Fatalf("cycle 1: %v", err)
	}
	first := len(h.dest.messages())
	if first != 4 {
		t.Fatalf("expected 2 items x 2 destinations, got %d", first)
	}
	for i := 0; i < 3; i++ {
		res, err := h.poller.RunCycle(ctx)
		if err != nil {
			t.Fatalf("cycle: %v", err)
		}
		if res.Notified != 0 {
			t.Fatalf("re-notified on a seen window")
		}
	}
	if got := len(h.dest.messages()); got != first {
		t.Fatalf("expected no additional dispatches, got %d", got-first)
	}
}

func TestDispatchIsolation(t *testing.T) {
	h := newHarness(t, []string{"alice"}, "-1", "-2", "-3")
	h.dest.failChat[-2] = true
	h.src.posts = []feed.Post{{ID: "p1", Author: "alice", Title: "t"}}

	res, err := h.poller.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if h.dest.sentTo(-1) != 1 || h.dest.sentTo(-3) != 1 || h.dest.sentTo(-2) != 0 {
		t.Fatalf("healthy destinations must still receive the message")
	}
	if res.Report.Delivered != 2 || res.Report.Failed != 1 {
		t.Fatalf("unexpected report: %+v", res.Report)
	}
	if h.seen.Len(seen.KindPost) != 1 || h.seen.IsNew(seen.KindPost, "p1") {
		t.Fatalf("item must be marked seen exactly once")
	}

	// Same item is not retried on the failed destination.
	h.dest.failChat[-2] = false
	_, _ = h.poller.RunCycle(context.Background())
	if h.dest.sentTo(-2) != 0 {
		t.Fatalf("failed delivery must not be retried")
	}
}

func TestContextFailureStillDispatches(t *testing.T) {
	h := newHarness(t, []string{"alice"}, "-100")
	h.src.parentErr = errors.New("timeout")
	h.src.comments = []feed.Comment{{ID: "c1", Author: "alice", ParentID: "t1_c0", Body: "my reply", Permalink: "/r/x/comments/p/s/c1/"}}

	if _, err := h.poller.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	msgs := h.dest.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected dispatch without context, got %d", len(msgs))
	}
	txt := plain(msgs[0].text)
	if strings.Contains(txt, "Replying to") || strings.Contains(txt, "Commenting on") {
		t.Fatalf("context block must be empty: %s", txt)
	}
	if !strings.HasPrefix(txt, "alice:\nmy reply") {
		t.Fatalf("unexpected message: %q", txt)
	}
}

func TestReplyQuotesParent(t *testing.T) {
	h := newHarness(t, []string{"alice"}, "-100")
	h.src.parents["t1_4"] = feed.Comment{ID: "4", Author: "bob", Body: "hello world"}
	h.src.comments = []feed.Comment{{ID: "5", Author: "alice", ParentID: "t1_4", Body: "thanks bob", Permalink: "/r/x/comments/p/s/5/"}}

	if _, err := h.poller.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	msgs := h.dest.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(msgs))
	}
	txt := plain(msgs[0].text)
	want := "Replying to u/bob:\n> hello world\n\nalice:\nthanks bob\n\nView full conversation"
	if txt != want {
		t.Fatalf("unexpected message:\n%q\nwant\n%q", txt, want)
	}
	if !strings.Contains(msgs[0].text, `href="https://reddit.com/r/x/comments/p/s/5/?context=10"`) {
		t.Fatalf("deep link missing: %s", msgs[0].text)
	}
	if !msgs[0].opt.DisablePreview || msgs[0].opt.ParseMode != "HTML" {
		t.Fatalf("previews must be disabled: %+v", msgs[0].opt)
	}
}

func TestEmptyDestinationsSkipFetch(t *testing.T) {
	h := newHarness(t, []string{"alice"})
	h.src.posts = []feed.Post{{ID: "p1", Author: "alice"}}

	res, err := h.poller.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if !res.Skipped || h.src.fetchCalls() != 0 {
		t.Fatalf("expected zero fetches, got %d", h.src.fetchCalls())
	}
}

func TestUnresolvableDestinationsSkipFetch(t *testing.T) {
	src := &fakeSource{}
	tr, _ := seen.New(10, 10)
	p, err := NewPoller(Deps{
		Source:   src,
		Bindings: staticBindings{"-100", "garbage"},
		Dest:     newFakeDest(),
		Seen:     tr,
	}, Settings{Subreddit: "x", Authors: []string{"alice"}})
	if err != nil {
		t.Fatalf("poller: %v", err)
	}
	if _, err := p.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if src.fetchCalls() != 0 {
		t.Fatalf("no resolvable destination means no fetch")
	}
}

func TestOneListingFailureKeepsTheOther(t *testing.T) {
	h := newHarness(t, []string{"alice"}, "-100")
	h.src.postErr = errors.New("503")
	h.src.comments = []feed.Comment{{ID: "c1", Author: "alice", Body: "x"}}

	if _, err := h.poller.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if len(h.dest.messages()) != 1 {
		t.Fatalf("comments must still be relayed when posts fail")
	}
}

func TestCyclePanicIsContained(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	src := &fakeSource{panicOnPost: true}
	tr, _ := seen.New(10, 10)
	p, _ := NewPoller(Deps{
		Source:   src,
		Bindings: staticBindings{"-100"},
		Dest:     newFakeDest("-100"),
		Seen:     tr,
		Bus:      bus,
	}, Settings{Subreddit: "x", Authors: []string{"alice"}})

	if _, err := p.RunCycle(context.Background()); err == nil {
		t.Fatalf("expected the boundary to report the panic")
	}
	st := p.Stats()
	if st.Cycles != 1 || st.FailedCycles != 1 || p.LastCycle().IsZero() {
		t.Fatalf("unexpected stats: %+v", st)
	}
	select {
	case e := <-events:
		if e.Type != eventbus.TypeCycleFailed {
			t.Fatalf("expected cycle failure event, got %s", e.Type)
		}
	default:
		t.Fatalf("expected an event")
	}

	src.mu.Lock()
	src.panicOnPost = false
	src.mu.Unlock()
	if _, err := p.RunCycle(context.Background()); err != nil {
		t.Fatalf("next cycle must run normally: %v", err)
	}
}

func TestCancelDuringDispatchDoesNotMarkSeen(t *testing.T) {
	h := newHarness(t, []string{"alice"}, "-100")
	h.src.posts = []feed.Post{{ID: "p1", Author: "alice"}, {ID: "p2", Author: "alice"}}

	ctx, cancel := context.WithCancel(context.Background())
	h.dest.onSend = cancel

	if _, err := h.poller.RunCycle(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if h.seen.Len(seen.KindPost) != 0 {
		t.Fatalf("interrupted items must not be marked seen")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, []string{"alice"}, "-100")
	h.poller.Apply(Settings{Subreddit: "x", Authors: []string{"alice"}, Schedule: Every(5 * time.Millisecond)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.poller.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for h.poller.Stats().Cycles < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("loop did not cycle")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("run did not stop on cancel")
	}
}

func TestWakeShortensSleep(t *testing.T) {
	h := newHarness(t, []string{"alice"}, "-100")
	h.poller.Apply(Settings{Subreddit: "x", Authors: []string{"alice"}, Schedule: Every(time.Hour)})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.poller.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for h.poller.Stats().Cycles < 1 {
		if time.Now().After(deadline) {
			t.Fatalf("first cycle did not run")
		}
		time.Sleep(time.Millisecond)
	}
	h.poller.Wake()
	for h.poller.Stats().Cycles < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("wake did not trigger a cycle")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestApplySwapsAllowlist(t *testing.T) {
	h := newHarness(t, []string{"alice"}, "-100")
	h.src.posts = []feed.Post{{ID: "p1", Author: "carol"}}
	_, _ = h.poller.RunCycle(context.Background())
	if len(h.dest.messages()) != 0 {
		t.Fatalf("carol is not allowlisted yet")
	}

	h.poller.Apply(Settings{Subreddit: "x", Authors: []string{"carol"}})
	_, _ = h.poller.RunCycle(context.Background())
	if len(h.dest.messages()) != 1 {
		t.Fatalf("carol should be relayed after Apply")
	}
	if st := h.poller.Stats(); st.Settings.PostLimit != 25 || st.Settings.CommentLimit != 150 {
		t.Fatalf("default windows not applied: %+v", st.Settings)
	}
}

func TestRelaysOldestFirst(t *testing.T) {
	h := newHarness(t, []string{"alice"}, "-100")
	h.src.posts = []feed.Post{{ID: "new", Author: "alice"}, {ID: "old", Author: "alice"}}
	_, _ = h.poller.RunCycle(context.Background())
	msgs := h.dest.messages()
	if len(msgs) != 2 || !strings.Contains(msgs[0].text, "redd.it/old") {
		t.Fatalf("expected oldest first")
	}
}

func TestNewPollerRequiresDeps(t *testing.T) {
	if _, err := NewPoller(Deps{Log: logx.Nop()}, Settings{}); err == nil {
		t.Fatalf("expected error")
	}
}
