// Package commands handles operator chat commands that bind and unbind
// relay destinations.
package commands

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "feedrelay/internal/runtime/supervisor"
	kit "feedrelay/internal/transport"
	logx "feedrelay/pkg/logx"
	"feedrelay/pkg/tgui"
)

type Access int

const (
	AccessEveryone Access = iota
	// AccessChatAdmin requires the caller to administer the chat (or be an owner).
	AccessChatAdmin
)

type Command struct {
	Name        string
	Description string
	Access      Access
	Timeout     time.Duration
	Handle      HandlerFunc
}

type Request struct {
	Message *kit.Message
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	ReqID   string
	Logger  logx.Logger

	sender kit.Sender
}

func (r *Request) Reply(ctx context.Context, m tgui.Message) error {
	_, err := m.Send(ctx, r.sender, r.Chat)
	return err
}

func (r *Request) ReplyText(ctx context.Context, text string) error {
	_, err := r.sender.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// AdminChecker answers whether a user administers a chat.
type AdminChecker interface {
	IsChatAdmin(ctx context.Context, chatID, userID int64) (bool, error)
}

// Manager routes slash commands to handlers on a bounded worker pool.
type Manager struct {
	mu       sync.RWMutex
	commands map[string]Command
	owners   []int64

	log    logx.Logger
	sender kit.Sender
	admins AdminChecker

	workers int
	jobs    chan func()
}

func NewManager(log logx.Logger, sender kit.Sender, admins AdminChecker, owners []int64) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		commands: map[string]Command{},
		owners:   append([]int64(nil), owners...),
		log:      log,
		sender:   sender,
		admins:   admins,
		workers:  4,
		jobs:     make(chan func(), 64),
	}
}

// SetOwners updates the owner list. Safe during hot reload.
func (m *Manager) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

func (m *Manager) isOwner(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.owners {
		if o == id {
			return true
		}
	}
	return false
}

// SetRegistry replaces the command table. /help is always present.
func (m *Manager) SetRegistry(cmds []Command) {
	table := make(map[string]Command, len(cmds)+1)
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		table[name] = c
	}
	table["help"] = Command{
		Name:        "help",
		Description: "Show available commands",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.helpMessage())
		},
	}
	m.mu.Lock()
	m.commands = table
	m.mu.Unlock()
}

// Commands returns the registry sorted by name.
func (m *Manager) Commands() []Command {
	m.mu.RLock()
	out := make([]Command, 0, len(m.commands))
	for _, c := range m.commands {
		out = append(out, c)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// MenuCommands renders the registry for kit.CommandMenuUpdater.
func (m *Manager) MenuCommands() []kit.BotCommand {
	cmds := m.Commands()
	out := make([]kit.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	return out
}

func (m *Manager) helpMessage() tgui.Message {
	b := tgui.New().Title("Commands")
	for _, c := range m.Commands() {
		b.HTML(tgui.JoinH(" ", tgui.Code("/"+c.Name), tgui.Esc(c.Description)))
	}
	return b.Build()
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
func (m *Manager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(m.log.With(logx.String("comp", "commands.pool"))),
		rtsup.WithCancelOnError(false),
	)
	m.log.Info("command dispatcher started", logx.Int("workers", m.workers), logx.Int("job_queue_cap", cap(m.jobs)))

	for i := 0; i < m.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-m.jobs:
					m.runJob(idx, job)
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.routeSafe(ctx, up)
		}
	}
}

// routeSafe drops an update whose routing panics so the loop keeps going.
func (m *Manager) routeSafe(ctx context.Context, up kit.Update) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic routing update", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	m.route(ctx, up)
}

func (m *Manager) runJob(worker int, job func()) {
	if job == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	job()
}

// parseCommand splits "/name@bot arg1 arg2" into name and args.
func parseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	parts := strings.Fields(text)
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	if word == "" {
		return "", nil, false
	}
	return strings.ToLower(word), parts[1:], true
}

func (m *Manager) route(ctx context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	msg := up.Message
	name, args, ok := parseCommand(msg.Text)
	if !ok {
		return
	}
	m.mu.RLock()
	cmd, found := m.commands[name]
	m.mu.RUnlock()
	if !found {
		// Groups carry other bots' commands; stay quiet there.
		if msg.IsPrivate() {
			_, _ = m.sender.SendText(ctx, msg.Target(), "Unknown command. Try /help", nil)
		}
		return
	}

	req := &Request{
		Message: msg,
		Chat:    msg.Target(),
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    args,
		ReqID:   newReqID(),
		sender:  m.sender,
	}
	req.Logger = m.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", msg.ChatID),
		logx.Int64("from_id", msg.FromID),
		logx.String("cmd", cmd.Name),
	)

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	final := Chain(
		m.guard(cmd),
		Reply(),
		Recover(m.log),
		Log(m.log),
		WithTimeout(timeout),
	)

	select {
	case m.jobs <- func() { _ = final(ctx, req) }:
	default:
		_ = req.ReplyText(ctx, "Busy, try again in a moment.")
	}
}

// guard enforces cmd.Access before calling the handler.
func (m *Manager) guard(cmd Command) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		if cmd.Access == AccessChatAdmin && !m.isOwner(req.FromID) && !req.Message.IsPrivate() {
			ok, err := m.admins.IsChatAdmin(ctx, req.Message.ChatID, req.FromID)
			if err != nil {
				return err
			}
			if !ok {
				return reject(msgNeedAdmin)
			}
		}
		return cmd.Handle(ctx, req)
	}
}

func newReqID() string {
	var b [6]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
