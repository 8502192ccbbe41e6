package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"feedrelay/internal/eventbus"
	"feedrelay/internal/relay"
	"feedrelay/internal/storage"
	logx "feedrelay/pkg/logx"
	"feedrelay/pkg/tgui"
)

const (
	msgBound        = "This chat is now set for Reddit notifications!"
	msgCannotPost   = "Error: I don't have permission to send messages in this chat."
	msgNeedAdmin    = "You need to be an admin to use this!"
	msgRemoved      = "Reddit notifications have been removed for this chat."
	msgNothingBound = "There is no Reddit notifications chat set here."
	msgUnknownError = "An unknown error occurred."
)

var errCannotPost = errors.New("bot cannot post in chat")

// Bindings is the Configuration Store as seen by commands.
type Bindings interface {
	Set(ctx context.Context, scopeID, destinationID string) error
	Remove(ctx context.Context, scopeID string) (bool, error)
	Get(ctx context.Context, scopeID string) (string, bool)
}

// PostChecker answers whether the bot may send to a chat.
type PostChecker interface {
	CanPost(ctx context.Context, chatID int64) (bool, error)
}

// StatsSource exposes relay counters.
type StatsSource interface {
	Stats() relay.Stats
}

// Auditor records operator actions.
type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

type FeedDeps struct {
	Bindings Bindings
	Perms    PostChecker
	Stats    StatsSource // optional
	Audit    Auditor     // optional
	Bus      eventbus.Bus
	Log      logx.Logger
	// OnChange is called after a binding changed (cache invalidation, poll wake-up).
	OnChange func(scopeID, oldDest, newDest string)
}

// BindingChange is the payload of eventbus.TypeBindingChanged.
type BindingChange struct {
	ScopeID     string
	Destination string // empty on removal
	ActorID     int64
}

// FeedCommands returns the bind/unbind/status commands.
func FeedCommands(d FeedDeps) []Command {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	h := &feedHandlers{d: d}
	return []Command{
		{
			Name:        "setfeedchat",
			Description: "Relay Reddit activity into this chat (admin only)",
			Access:      AccessChatAdmin,
			Handle:      h.set,
		},
		{
			Name:        "removefeedchat",
			Description: "Stop Reddit notifications for this chat (admin only)",
			Access:      AccessChatAdmin,
			Handle:      h.remove,
		},
		{
			Name:        "feedstatus",
			Description: "Show this chat's binding and relay stats",
			Handle:      h.status,
		},
	}
}

type feedHandlers struct{ d FeedDeps }

func (h *feedHandlers) set(ctx context.Context, req *Request) error {
	scope := req.Message.Scope()
	dest := req.Chat.String()

	ok, err := h.d.Perms.CanPost(ctx, req.Message.ChatID)
	if err != nil {
		h.audit(ctx, req, "bind", dest, err)
		return fmt.Errorf("check bot permissions: %w", err)
	}
	if !ok {
		h.audit(ctx, req, "bind", dest, errCannotPost)
		return reject(msgCannotPost)
	}

	old, _ := h.d.Bindings.Get(ctx, scope)
	if err := h.d.Bindings.Set(ctx, scope, dest); err != nil {
		h.audit(ctx, req, "bind", dest, err)
		return fmt.Errorf("persist binding: %w", err)
	}
	h.audit(ctx, req, "bind", dest, nil)
	h.changed(req, scope, old, dest)
	return req.ReplyText(ctx, msgBound)
}

func (h *feedHandlers) remove(ctx context.Context, req *Request) error {
	scope := req.Message.Scope()
	old, _ := h.d.Bindings.Get(ctx, scope)

	removed, err := h.d.Bindings.Remove(ctx, scope)
	if err != nil {
		h.audit(ctx, req, "unbind", old, err)
		return fmt.Errorf("remove binding: %w", err)
	}
	if !removed {
		return req.ReplyText(ctx, msgNothingBound)
	}
	h.audit(ctx, req, "unbind", old, nil)
	h.changed(req, scope, old, "")
	return req.ReplyText(ctx, msgRemoved)
}

func (h *feedHandlers) status(ctx context.Context, req *Request) error {
	b := tgui.New().Title("Reddit relay")
	if dest, ok := h.d.Bindings.Get(ctx, req.Message.Scope()); ok {
		b.KV("destination", dest)
	} else {
		b.KV("destination", "none (use /setfeedchat)")
	}
	if h.d.Stats != nil {
		st := h.d.Stats.Stats()
		b.KV("subreddit", "r/"+st.Settings.Subreddit)
		b.KV("authors", strings.Join(st.Settings.Authors, ", "))
		if st.Settings.Schedule != nil {
			b.KV("interval", st.Settings.Schedule.String())
		}
		if st.LastCycle.IsZero() {
			b.KV("last cycle", "not yet")
		} else {
			b.KV("last cycle", time.Since(st.LastCycle).Truncate(time.Second).String()+" ago")
		}
		b.KV("cycles", fmt.Sprintf("%d (%d failed)", st.Cycles, st.FailedCycles))
		b.KV("relayed", fmt.Sprintf("%d items, %d deliveries, %d failed", st.Notified, st.Delivered, st.Failed))
		b.KV("remembered", fmt.Sprintf("%d posts, %d comments", st.SeenPosts, st.SeenComments))
	}
	return req.Reply(ctx, b.Build())
}

func (h *feedHandlers) changed(req *Request, scope, old, dest string) {
	if h.d.OnChange != nil {
		h.d.OnChange(scope, old, dest)
	}
	if h.d.Bus != nil {
		h.d.Bus.Publish(eventbus.Event{
			Type: eventbus.TypeBindingChanged,
			Time: time.Now(),
			Data: BindingChange{ScopeID: scope, Destination: dest, ActorID: req.FromID},
		})
	}
}

func (h *feedHandlers) audit(ctx context.Context, req *Request, action, dest string, err error) {
	if h.d.Audit == nil {
		return
	}
	e := storage.AuditEntry{
		At:            time.Now(),
		ActorID:       req.FromID,
		ActorUsername: req.Message.FromUsername,
		ScopeID:       req.Message.Scope(),
		Action:        action,
		Destination:   dest,
		OK:            err == nil,
	}
	if err != nil {
		e.Error = err.Error()
	}
	if aerr := h.d.Audit.AppendAudit(context.WithoutCancel(ctx), e); aerr != nil {
		req.Logger.Warn("audit append failed", logx.Err(aerr))
	}
}
