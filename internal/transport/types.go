// Package transport holds chat-platform neutral types shared by the relay,
// the command layer and the Telegram adapter.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type UpdateKind string

const UpdateMessage UpdateKind = "message"

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ChatType     string // "private", "group", "supergroup", "channel"
	ThreadID     int    // forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
}

func (m *Message) IsPrivate() bool { return m.ChatType == "private" }

// Scope identifies where an operator command ran. One binding per scope.
func (m *Message) Scope() string { return strconv.FormatInt(m.ChatID, 10) }

// Target is the chat (and topic) the message came from.
func (m *Message) Target() ChatTarget { return ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID} }

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

// String renders the destination id: "chat_id" or "chat_id:thread_id".
func (t ChatTarget) String() string {
	if t.ThreadID > 0 {
		return fmt.Sprintf("%d:%d", t.ChatID, t.ThreadID)
	}
	return strconv.FormatInt(t.ChatID, 10)
}

var ErrBadTarget = errors.New("malformed destination id")

// ParseTarget is the inverse of ChatTarget.String.
func ParseTarget(s string) (ChatTarget, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ChatTarget{}, ErrBadTarget
	}
	chatPart, threadPart, hasThread := strings.Cut(s, ":")
	chatID, err := strconv.ParseInt(chatPart, 10, 64)
	if err != nil || chatID == 0 {
		return ChatTarget{}, fmt.Errorf("%w: %q", ErrBadTarget, s)
	}
	t := ChatTarget{ChatID: chatID}
	if hasThread {
		tid, err := strconv.Atoi(threadPart)
		if err != nil || tid < 0 {
			return ChatTarget{}, fmt.Errorf("%w: %q", ErrBadTarget, s)
		}
		t.ThreadID = tid
	}
	return t, nil
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Sender delivers text to a chat.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// Adapter is a full chat-platform connection.
type Adapter interface {
	Sender
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish a command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
