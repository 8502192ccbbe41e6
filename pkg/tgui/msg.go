package tgui

import (
	"context"
	"strings"

	kit "feedrelay/internal/transport"
)

// Message is rendered HTML plus the options it must be sent with.
type Message struct {
	Text string
	Opt  *kit.SendOptions
}

// Send delivers m to a single chat target.
func (m Message) Send(ctx context.Context, s kit.Sender, to kit.ChatTarget) (kit.MessageRef, error) {
	opt := m.Opt
	if opt == nil {
		opt = &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	}
	return s.SendText(ctx, to, m.Text, opt)
}

// Builder assembles a message line by line. Every message it builds is HTML
// with link previews disabled.
type Builder struct {
	lines []H
}

func New() *Builder { return &Builder{} }

// Title adds a bold heading. Blank titles are ignored.
func (b *Builder) Title(title string) *Builder {
	if t := strings.TrimSpace(title); t != "" {
		b.lines = append(b.lines, B(t))
	}
	return b
}

// Line adds s escaped. Multi-line text stays as is.
func (b *Builder) Line(s string) *Builder { return b.HTML(Esc(s)) }

func (b *Builder) HTML(h H) *Builder {
	b.lines = append(b.lines, h)
	return b
}

func (b *Builder) Blank() *Builder { return b.HTML("") }

// KV adds a "• key: value" row; rows with a blank key are dropped.
func (b *Builder) KV(key, value string) *Builder {
	key = strings.TrimSpace(key)
	if key == "" {
		return b
	}
	return b.HTML("• " + Label(key, Esc(strings.TrimSpace(value))))
}

// Build joins the lines, trimming leading and trailing blank lines.
func (b *Builder) Build() Message {
	parts := make([]string, len(b.lines))
	for i, l := range b.lines {
		parts[i] = l.String()
	}
	text := strings.Trim(strings.Join(parts, "\n"), "\n")
	return Message{Text: text, Opt: &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}}
}
