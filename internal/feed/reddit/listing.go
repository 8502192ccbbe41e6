package reddit

import (
	"strings"

	"feedrelay/internal/feed"
)

const (
	kindComment = "t1"
	kindPost    = "t3"
)

type listing struct {
	Data struct {
		After    string  `json:"after"`
		Children []child `json:"children"`
	} `json:"data"`
}

type child struct {
	Kind string `json:"kind"`
	Data thing  `json:"data"`
}

// thing carries the union of post and comment fields.
type thing struct {
	ID        string `json:"id"`
	Author    string `json:"author"`
	Permalink string `json:"permalink"`

	Title string `json:"title"`

	Body      string `json:"body"`
	ParentID  string `json:"parent_id"`
	LinkID    string `json:"link_id"`
	LinkTitle string `json:"link_title"`
}

func (t thing) post() feed.Post {
	return feed.Post{
		ID:        t.ID,
		Author:    author(t.Author),
		Title:     t.Title,
		Permalink: t.Permalink,
	}
}

func (t thing) comment() feed.Comment {
	return feed.Comment{
		ID:        t.ID,
		Author:    author(t.Author),
		Body:      t.Body,
		Permalink: t.Permalink,
		ParentID:  t.ParentID,
		LinkID:    t.LinkID,
		LinkTitle: t.LinkTitle,
	}
}

func author(a string) string {
	a = strings.TrimSpace(a)
	if a == feed.DeletedAuthor {
		return ""
	}
	return a
}
