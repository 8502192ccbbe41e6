// Package seen remembers which feed items were already relayed.
package seen

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

type Kind int

const (
	KindPost Kind = iota
	KindComment
)

func (k Kind) String() string {
	switch k {
	case KindPost:
		return "post"
	case KindComment:
		return "comment"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Tracker keeps the most recent identifiers per kind.
//
// IsNew touches an identifier that is already known, so ids that keep
// showing up in the fetch window stay at the front and are never evicted
// while visible. Safe for concurrent use; the poll loop is its only writer.
type Tracker struct {
	posts    *lru.Cache[string, struct{}]
	comments *lru.Cache[string, struct{}]
}

// New returns a Tracker retaining up to postCap post ids and commentCap
// comment ids.
func New(postCap, commentCap int) (*Tracker, error) {
	p, err := lru.New[string, struct{}](postCap)
	if err != nil {
		return nil, fmt.Errorf("post cache: %w", err)
	}
	c, err := lru.New[string, struct{}](commentCap)
	if err != nil {
		return nil, fmt.Errorf("comment cache: %w", err)
	}
	return &Tracker{posts: p, comments: c}, nil
}

// Capacity returns the retention for a kind: at least minFactor times the
// fetch window, or want if larger.
func Capacity(want, window, minFactor int) int {
	floor := window * minFactor
	if want < floor {
		return floor
	}
	return want
}

func (t *Tracker) cache(k Kind) *lru.Cache[string, struct{}] {
	if k == KindComment {
		return t.comments
	}
	return t.posts
}

func (t *Tracker) IsNew(k Kind, id string) bool {
	_, ok := t.cache(k).Get(id)
	return !ok
}

func (t *Tracker) MarkSeen(k Kind, id string) {
	t.cache(k).Add(id, struct{}{})
}

func (t *Tracker) Len(k Kind) int { return t.cache(k).Len() }

// Resize changes retention in place; shrinking evicts the oldest ids.
func (t *Tracker) Resize(postCap, commentCap int) {
	t.posts.Resize(postCap)
	t.comments.Resize(commentCap)
}
