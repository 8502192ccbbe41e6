package adapter

import (
	"context"
	"slices"

	tele "gopkg.in/telebot.v4"

	kit "feedrelay/internal/transport"
	logx "feedrelay/pkg/logx"
)

// maxCommandDescription is the Bot API limit for a menu entry.
const maxCommandDescription = 256

// UpdateMenuCommands publishes the bot command menu. Nothing is sent when
// the list matches the last one published.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	list := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		if len(d) > maxCommandDescription {
			d = d[:maxCommandDescription]
		}
		list = append(list, tele.Command{Text: c.Command, Description: d})
	}

	a.menuMu.Lock()
	defer a.menuMu.Unlock()
	if a.menu != nil && slices.EqualFunc(a.menu, list, sameCommand) {
		return nil
	}
	if _, err := call(ctx, func() (struct{}, error) { return struct{}{}, a.api.SetCommands(list) }); err != nil {
		return err
	}
	a.menu = list
	a.log.Info("menu commands updated", logx.Int("count", len(list)))
	return nil
}

func sameCommand(x, y tele.Command) bool {
	return x.Text == y.Text && x.Description == y.Description
}
