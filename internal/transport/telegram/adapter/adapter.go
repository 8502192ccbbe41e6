// Package adapter is the Telegram side of the relay: it long-polls for
// command messages, delivers relay and log messages, and resolves
// destinations and permissions through the Bot API.
package adapter

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	tele "gopkg.in/telebot.v4"

	rtsup "feedrelay/internal/runtime/supervisor"
	kit "feedrelay/internal/transport"
	logx "feedrelay/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// ResolveCacheTTL bounds how long a getChat result is trusted.
	ResolveCacheTTL  time.Duration
	ResolveCacheSize int
}

// botAPI is the part of *tele.Bot the adapter calls outside of polling.
type botAPI interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	ChatByID(id int64) (*tele.Chat, error)
	ChatMemberOf(chat, user tele.Recipient) (*tele.ChatMember, error)
	SetCommands(opts ...interface{}) error
}

type resolveResult struct {
	target kit.ChatTarget
	ok     bool
}

// sink is where incoming updates go while the adapter runs.
type sink struct {
	ch chan<- kit.Update
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot *tele.Bot // nil in tests
	api botAPI
	me  *tele.User

	runMu sync.Mutex
	sup   *rtsup.Supervisor // non-nil while running

	updates atomic.Pointer[sink]
	dropped atomic.Uint64

	resolved *expirable.LRU[string, resolveResult]

	menuMu sync.Mutex
	menu   []tele.Command
}

var _ kit.Adapter = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	a := newAdapter(cfg, log, b, b.Me)
	a.bot = b
	b.Handle(tele.OnText, a.onText)
	return a, nil
}

func newAdapter(cfg Config, log logx.Logger, api botAPI, me *tele.User) *Adapter {
	if log.IsZero() {
		log = logx.Nop()
	}
	ttl := cfg.ResolveCacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	size := cfg.ResolveCacheSize
	if size <= 0 {
		size = 1024
	}
	return &Adapter{
		cfg:      cfg,
		log:      log,
		api:      api,
		me:       me,
		resolved: expirable.NewLRU[string, resolveResult](size, nil, ttl),
	}
}
