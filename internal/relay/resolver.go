package relay

import (
	"context"
	"runtime/debug"
	"strings"

	"feedrelay/internal/feed"
	logx "feedrelay/pkg/logx"
	"feedrelay/pkg/tgui"
)

// MaxQuoteRunes bounds the quoted parent excerpt.
const MaxQuoteRunes = 500

// Context is the optional conversational context of a comment:
// ReplyToComment or CommentOnPost. nil means none could be resolved.
type Context interface{ isContext() }

// ReplyToComment is the context of a reply to another comment.
type ReplyToComment struct {
	Author string // display name, DeletedAuthor when unknown
	Quoted string // excerpt with every line prefixed by "> "
}

// CommentOnPost is the context of a top-level comment.
type CommentOnPost struct {
	Title string
	Link  string
}

func (ReplyToComment) isContext() {}
func (CommentOnPost) isContext()  {}

// Resolver fetches a comment's parent and turns it into a Context.
type Resolver struct {
	src feed.Source
	log logx.Logger
}

func NewResolver(src feed.Source, log logx.Logger) *Resolver {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Resolver{src: src, log: log}
}

// Resolve never fails past this call: errors and panics yield nil.
func (r *Resolver) Resolve(ctx context.Context, c feed.Comment) (out Context) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("context resolution panicked",
				logx.String("comment", c.ID), logx.Any("panic", rec), logx.Stack(string(debug.Stack())))
			out = nil
		}
	}()

	// Top-level comments from a listing already name their post.
	if p, ok := c.Post(); ok {
		return CommentOnPost{Title: p.Title, Link: p.ShortLink()}
	}

	parent, err := r.src.Parent(ctx, c)
	if err != nil {
		r.log.Warn("parent fetch failed", logx.String("comment", c.ID), logx.String("parent", c.ParentID), logx.Err(err))
		return nil
	}
	switch p := parent.(type) {
	case feed.Comment:
		return ReplyToComment{
			Author: feed.DisplayAuthor(p.Author),
			Quoted: quote(tgui.Excerpt(strings.TrimSpace(p.Body), MaxQuoteRunes)),
		}
	case feed.Post:
		return CommentOnPost{Title: p.Title, Link: p.ShortLink()}
	default:
		r.log.Warn("parent has unexpected type", logx.String("comment", c.ID))
		return nil
	}
}

func quote(s string) string {
	lines := strings.Split(s, "\n")
	for i, ln := range lines {
		lines[i] = "> " + ln
	}
	return strings.Join(lines, "\n")
}
