package adapter

import (
	"context"
	"errors"
	"fmt"

	tele "gopkg.in/telebot.v4"

	kit "feedrelay/internal/transport"
	logx "feedrelay/pkg/logx"
)

// Resolve turns a stored destination id into a live target. Chats the bot
// can no longer see resolve to false. Results are cached for the TTL.
func (a *Adapter) Resolve(ctx context.Context, destinationID string) (kit.ChatTarget, bool) {
	if r, ok := a.resolved.Get(destinationID); ok {
		return r.target, r.ok
	}
	to, err := kit.ParseTarget(destinationID)
	if err != nil {
		a.log.Warn("destination id malformed", logx.String("destination", destinationID), logx.Err(err))
		a.resolved.Add(destinationID, resolveResult{})
		return kit.ChatTarget{}, false
	}
	if _, err := call(ctx, func() (*tele.Chat, error) { return a.api.ChatByID(to.ChatID) }); err != nil {
		if ctx.Err() != nil {
			// Timed out, not unavailable; try again next cycle.
			return kit.ChatTarget{}, false
		}
		a.log.Warn("destination unavailable", logx.String("destination", destinationID), logx.Err(err))
		a.resolved.Add(destinationID, resolveResult{})
		return kit.ChatTarget{}, false
	}
	a.resolved.Add(destinationID, resolveResult{target: to, ok: true})
	return to, true
}

// Forget drops a cached resolution, e.g. after a binding changed.
func (a *Adapter) Forget(destinationID string) { a.resolved.Remove(destinationID) }

// IsChatAdmin reports whether userID is the creator or an administrator of chatID.
func (a *Adapter) IsChatAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	m, err := call(ctx, func() (*tele.ChatMember, error) {
		return a.api.ChatMemberOf(&tele.Chat{ID: chatID}, &tele.User{ID: userID})
	})
	if err != nil {
		return false, fmt.Errorf("chat member: %w", err)
	}
	return m.Role == tele.Creator || m.Role == tele.Administrator, nil
}

var errNoIdentity = errors.New("bot identity unknown")

// CanPost reports whether the bot itself may send messages to chatID.
func (a *Adapter) CanPost(ctx context.Context, chatID int64) (bool, error) {
	if a.me == nil {
		return false, errNoIdentity
	}
	chat, err := call(ctx, func() (*tele.Chat, error) { return a.api.ChatByID(chatID) })
	if err != nil {
		return false, fmt.Errorf("get chat: %w", err)
	}
	if chat.Type == tele.ChatPrivate {
		return true, nil
	}
	m, err := call(ctx, func() (*tele.ChatMember, error) { return a.api.ChatMemberOf(chat, a.me) })
	if err != nil {
		return false, fmt.Errorf("bot member: %w", err)
	}
	switch m.Role {
	case tele.Creator:
		return true, nil
	case tele.Administrator:
		if chat.Type == tele.ChatChannel || chat.Type == tele.ChatChannelPrivate {
			return m.CanPostMessages, nil
		}
		return true, nil
	case tele.Member:
		return chat.Type != tele.ChatChannel && chat.Type != tele.ChatChannelPrivate, nil
	case tele.Restricted:
		return m.CanSendMessages, nil
	default:
		return false, nil
	}
}
