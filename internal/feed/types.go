// Package feed defines the items the relay watches and the source contract.
package feed

import (
	"context"
	"strings"
)

// DeletedAuthor is how a missing author is rendered.
const DeletedAuthor = "[deleted]"

// Item is either a Post or a Comment. The set is closed; use a type switch.
type Item interface {
	ItemID() string
	ItemAuthor() string
	isItem()
}

// Post is a top-level submission.
type Post struct {
	ID        string // base36, without the "t3_" prefix
	Author    string // empty when deleted
	Title     string
	Permalink string // path, e.g. "/r/x/comments/abc/slug/"
}

// Comment is a reply to a post or to another comment.
type Comment struct {
	ID        string // base36, without the "t1_" prefix
	Author    string // empty when deleted
	Body      string
	Permalink string
	ParentID  string // fullname: "t1_…" or "t3_…"
	LinkID    string // fullname of the owning post
	LinkTitle string // title of the owning post, when the listing carries it
}

func (p Post) ItemID() string     { return p.ID }
func (p Post) ItemAuthor() string { return p.Author }
func (Post) isItem()              {}

func (c Comment) ItemID() string     { return c.ID }
func (c Comment) ItemAuthor() string { return c.Author }
func (Comment) isItem()              {}

// ShortLink is the canonical short URL of a post.
func (p Post) ShortLink() string { return "https://redd.it/" + p.ID }

// Post returns the owning post as far as the comment itself describes it.
// ok is false unless the comment is top-level and carries the post title.
func (c Comment) Post() (p Post, ok bool) {
	if !c.ParentIsPost() || c.LinkID != c.ParentID || strings.TrimSpace(c.LinkTitle) == "" {
		return Post{}, false
	}
	return Post{ID: strings.TrimPrefix(c.LinkID, "t3_"), Title: c.LinkTitle}, true
}

// ParentIsPost reports whether the comment is top-level.
func (c Comment) ParentIsPost() bool { return strings.HasPrefix(c.ParentID, "t3_") }

// DisplayAuthor returns the author or DeletedAuthor.
func DisplayAuthor(author string) string {
	if strings.TrimSpace(author) == "" {
		return DeletedAuthor
	}
	return author
}

// Source reads recent activity of a subject (subreddit).
type Source interface {
	RecentPosts(ctx context.Context, subject string, limit int) ([]Post, error)
	RecentComments(ctx context.Context, subject string, limit int) ([]Comment, error)
	Parent(ctx context.Context, c Comment) (Item, error)
}

// Allowlist matches authors case-insensitively. Deleted authors never match.
type Allowlist map[string]struct{}

func NewAllowlist(authors []string) Allowlist {
	a := make(Allowlist, len(authors))
	for _, s := range authors {
		s = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "u/")))
		if s == "" {
			continue
		}
		a[s] = struct{}{}
	}
	return a
}

func (a Allowlist) Allows(author string) bool {
	author = strings.TrimSpace(author)
	if author == "" || author == DeletedAuthor {
		return false
	}
	_, ok := a[strings.ToLower(author)]
	return ok
}
