package relay

import (
	"context"
	"errors"
	"html"
	"regexp"
	"sync"
	"testing"

	"feedrelay/internal/feed"
	"feedrelay/internal/seen"
	kit "feedrelay/internal/transport"
	logx "feedrelay/pkg/logx"
)

type fakeSource struct {
	mu          sync.Mutex
	posts       []feed.Post
	comments    []feed.Comment
	parents     map[string]feed.Item
	postErr     error
	commentErr  error
	parentErr   error
	panicOnPost bool

	postCalls, commentCalls, parentCalls int
}

func (f *fakeSource) RecentPosts(_ context.Context, _ string, _ int) ([]feed.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.postCalls++
	if f.panicOnPost {
		panic("boom")
	}
	if f.postErr != nil {
		return nil, f.postErr
	}
	return append([]feed.Post(nil), f.posts...), nil
}

func (f *fakeSource) RecentComments(_ context.Context, _ string, _ int) ([]feed.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commentCalls++
	if f.commentErr != nil {
		return nil, f.commentErr
	}
	return append([]feed.Comment(nil), f.comments...), nil
}

func (f *fakeSource) Parent(_ context.Context, c feed.Comment) (feed.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parentCalls++
	if f.parentErr != nil {
		return nil, f.parentErr
	}
	it, ok := f.parents[c.ParentID]
	if !ok {
		return nil, errors.New("no such parent")
	}
	return it, nil
}

func (f *fakeSource) fetchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.postCalls + f.commentCalls
}

type sent struct {
	to   kit.ChatTarget
	text string
	opt  kit.SendOptions
}

type fakeDest struct {
	mu         sync.Mutex
	known      map[string]kit.ChatTarget
	failChat   map[int64]bool
	blockChat  map[int64]bool
	onSend     func()
	sent       []sent
	resolveHit int
}

func newFakeDest(ids ...string) *fakeDest {
	d := &fakeDest{known: map[string]kit.ChatTarget{}, failChat: map[int64]bool{}, blockChat: map[int64]bool{}}
	for _, id := range ids {
		to, err := kit.ParseTarget(id)
		if err != nil {
			panic(err)
		}
		d.known[id] = to
	}
	return d
}

func (d *fakeDest) Resolve(_ context.Context, id string) (kit.ChatTarget, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resolveHit++
	to, ok := d.known[id]
	return to, ok
}

func (d *fakeDest) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	d.mu.Lock()
	fail, block, hook := d.failChat[to.ChatID], d.blockChat[to.ChatID], d.onSend
	d.mu.Unlock()

	if hook != nil {
		hook()
	}
	if block {
		<-ctx.Done()
		return kit.MessageRef{}, ctx.Err()
	}
	if fail {
		return kit.MessageRef{}, errors.New("forbidden: bot was kicked")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	var o kit.SendOptions
	if opt != nil {
		o = *opt
	}
	d.sent = append(d.sent, sent{to: to, text: text, opt: o})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(d.sent)}, nil
}

func (d *fakeDest) messages() []sent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]sent(nil), d.sent...)
}

func (d *fakeDest) sentTo(chatID int64) int {
	n := 0
	for _, s := range d.messages() {
		if s.to.ChatID == chatID {
			n++
		}
	}
	return n
}

type staticBindings []string

func (b staticBindings) All(context.Context) []string { return b }

type harness struct {
	src    *fakeSource
	dest   *fakeDest
	seen   *seen.Tracker
	poller *Poller
}

func newHarness(t *testing.T, authors []string, dests ...string) *harness {
	t.Helper()
	src := &fakeSource{parents: map[string]feed.Item{}}
	dest := newFakeDest(dests...)
	tr, err := seen.New(100, 600)
	if err != nil {
		t.Fatalf("seen: %v", err)
	}
	p, err := NewPoller(Deps{
		Source:   src,
		Bindings: staticBindings(dests),
		Dest:     dest,
		Seen:     tr,
		Log:      logx.Nop(),
	}, Settings{Subreddit: "x", Authors: authors})
	if err != nil {
		t.Fatalf("poller: %v", err)
	}
	return &harness{src: src, dest: dest, seen: tr, poller: p}
}

var tagRe = regexp.MustCompile(`<[^>]+>`)

// plain renders Telegram HTML as the user sees it.
func plain(s string) string { return html.UnescapeString(tagRe.ReplaceAllString(s, "")) }
