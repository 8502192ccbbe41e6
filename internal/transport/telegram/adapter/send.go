package adapter

import (
	"context"
	"strings"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	kit "feedrelay/internal/transport"
)

// textLimit stays under Telegram's 4096 limit to leave room for entities.
const textLimit = 4000

// splitText cuts s into chunks of at most limit runes. Whole lines are kept
// together when they fit; longer lines are hard-cut. In HTML mode a hard cut
// never lands inside a tag or an entity such as "&amp;".
func splitText(s string, limit int, html bool) []string {
	if limit <= 0 {
		limit = textLimit
	}
	if utf8.RuneCountInString(s) <= limit {
		return []string{s}
	}

	var (
		out []string
		cur strings.Builder
		n   int
	)
	flush := func() {
		if c := strings.TrimRight(cur.String(), "\n"); c != "" {
			out = append(out, c)
		}
		cur.Reset()
		n = 0
	}
	for _, line := range strings.SplitAfter(s, "\n") {
		ln := utf8.RuneCountInString(line)
		if n+ln <= limit {
			cur.WriteString(line)
			n += ln
			continue
		}
		flush()
		for ln > limit {
			head, rest := cutLine(line, limit, html)
			out = append(out, head)
			line, ln = rest, utf8.RuneCountInString(rest)
		}
		cur.WriteString(line)
		n = ln
	}
	flush()
	return out
}

// cutLine splits line after at most limit runes. In HTML mode the head may
// run past limit to finish a tag that starts the line.
func cutLine(line string, limit int, html bool) (string, string) {
	at := len(line)
	count := 0
	for i := range line {
		if count == limit {
			at = i
			break
		}
		count++
	}
	if html {
		head := line[:at]
		if open := strings.LastIndexByte(head, '<'); open >= 0 && open > strings.LastIndexByte(head, '>') {
			at = keepWhole(line, at, open, '>')
		} else if amp := strings.LastIndexByte(head, '&'); amp >= 0 && amp > strings.LastIndexByte(head, ';') && at-amp < 10 {
			at = keepWhole(line, at, amp, ';')
		}
	}
	return line[:at], line[at:]
}

// keepWhole moves a cut at 'at' off the markup that begins at start. The cut
// backs up to start, or, when the markup opens the line, moves past its end
// so the head is never empty.
func keepWhole(line string, at, start int, end byte) int {
	if start > 0 {
		return start
	}
	if i := strings.IndexByte(line[at:], end); i >= 0 {
		return at + i + 1
	}
	return at
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	send := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		ThreadID:              to.ThreadID,
	}
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range splitText(text, textLimit, strings.EqualFold(opt.ParseMode, tele.ModeHTML)) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := call(ctx, func() (*tele.Message, error) { return a.api.Send(chat, chunk, send) })
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}
