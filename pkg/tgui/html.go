package tgui

import (
	"html"
	"strings"
)

// H is Telegram HTML (ParseMode "HTML") that is already escaped.
type H string

func (h H) String() string { return string(h) }

// Esc escapes plain text for Telegram HTML.
func Esc(s string) H { return H(html.EscapeString(s)) }

func wrap(tag string, inner H) H { return "<" + H(tag) + ">" + inner + "</" + H(tag) + ">" }

func B(s string) H    { return wrap("b", Esc(s)) }
func Code(s string) H { return wrap("code", Esc(s)) }

// Link renders an anchor. An empty url degrades to the escaped text.
func Link(text, url string) H {
	if strings.TrimSpace(url) == "" {
		return Esc(text)
	}
	// EscapeString also escapes quotes, so the attribute cannot be broken out of.
	return `<a href="` + Esc(url) + `">` + Esc(text) + `</a>`
}

// Label renders "<b>label</b>:" followed by value when value is not blank.
func Label(label string, value H) H {
	out := B(label) + ":"
	if strings.TrimSpace(value.String()) != "" {
		out += " " + value
	}
	return out
}

// JoinH joins parts with sep, skipping blank ones.
func JoinH(sep string, parts ...H) H {
	var b strings.Builder
	n := 0
	for _, p := range parts {
		if strings.TrimSpace(p.String()) == "" {
			continue
		}
		if n > 0 {
			b.WriteString(sep)
		}
		b.WriteString(p.String())
		n++
	}
	return H(b.String())
}
