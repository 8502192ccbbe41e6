package relay

import (
	"strconv"
	"strings"

	"feedrelay/internal/feed"
	"feedrelay/pkg/tgui"
)

// MaxBodyRunes bounds the relayed comment body.
const MaxBodyRunes = 1000

// ConversationContext is how many parent levels the deep link shows.
const ConversationContext = 10

// Format renders an item and its optional context as a Telegram HTML message
// with link previews disabled.
func Format(it feed.Item, rc Context) tgui.Message {
	switch v := it.(type) {
	case feed.Post:
		return FormatPost(v)
	case feed.Comment:
		return FormatComment(v, rc)
	default:
		panic("relay: unknown feed item type")
	}
}

// FormatPost: "New post by u/<author>: <title linked to the short link>".
func FormatPost(p feed.Post) tgui.Message {
	line := tgui.Label("New post by u/"+feed.DisplayAuthor(p.Author), tgui.Link(p.Title, p.ShortLink()))
	return tgui.New().HTML(line).Build()
}

func FormatComment(c feed.Comment, rc Context) tgui.Message {
	b := tgui.New()
	switch v := rc.(type) {
	case ReplyToComment:
		b.HTML(tgui.Label("Replying to u/"+v.Author, "")).
			HTML(tgui.Esc(v.Quoted)).
			Blank()
	case CommentOnPost:
		b.HTML(tgui.Label("Commenting on", tgui.Link(v.Title, v.Link))).
			Blank()
	}
	b.HTML(tgui.Label(feed.DisplayAuthor(c.Author), "")).
		Line(tgui.Excerpt(strings.TrimSpace(c.Body), MaxBodyRunes)).
		Blank().
		HTML(tgui.Link("View full conversation", ConversationLink(c)))
	return b.Build()
}

// ConversationLink points at the comment with its parent chain expanded.
func ConversationLink(c feed.Comment) string {
	return "https://reddit.com" + c.Permalink + "?context=" + strconv.Itoa(ConversationContext)
}
