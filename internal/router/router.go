// Package router dispatches inbound chat commands to the core services and
// renders their typed outcomes as text. The command set is a closed table
// built at construction; there is no runtime fallback registry.
package router

import (
	"context"
	"hash/fnv"
	"strings"
	"time"

	"megabuddies/internal/broadcast"
	"megabuddies/internal/config"
	"megabuddies/internal/stats"
	"megabuddies/internal/transport"
	"megabuddies/internal/whitelist"
	logx "megabuddies/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessAdminOnly
)

type Command struct {
	Name        string
	Description string
	Usage       string
	Access      Access
	Handle      HandlerFunc
}

// Request carries one inbound command through the middleware chain.
type Request struct {
	Chat     transport.ChatTarget
	FromID   int64
	FromName string
	Command  string
	Args     []string
	// ArgText is the raw argument remainder with inner whitespace preserved
	// (broadcast message payloads).
	ArgText  string
	Document *transport.Document
	IsAdmin  bool
	Logger   logx.Logger
}

// HandlerFunc returns the reply text for a command.
type HandlerFunc func(ctx context.Context, req *Request) (string, error)

type Deps struct {
	Config    func() *config.Config // live snapshot accessor
	Whitelist *whitelist.Service
	Stats     *stats.Tracker
	Broadcast *broadcast.Service
	Adapter   transport.Adapter
	Log       logx.Logger

	CommandTimeout time.Duration // per-command budget (default 30s)
	Workers        int           // concurrent handler shards (default 8)
}

type Router struct {
	deps     Deps
	commands []*Command
	byName   map[string]*Command

	// baseCtx outlives per-command timeouts; detached work (broadcast jobs)
	// runs under it.
	baseCtx context.Context
}

func New(deps Deps) *Router {
	if deps.CommandTimeout <= 0 {
		deps.CommandTimeout = 30 * time.Second
	}
	if deps.Workers <= 0 {
		deps.Workers = 8
	}
	r := &Router{deps: deps, byName: map[string]*Command{}}
	r.commands = r.buildCommands()
	for _, c := range r.commands {
		r.byName[c.Name] = c
	}
	return r
}

// BotCommands returns menu entries for the transport's command list.
func (r *Router) BotCommands() []transport.BotCommand {
	out := make([]transport.BotCommand, 0, len(r.commands))
	for _, c := range r.commands {
		out = append(out, transport.BotCommand{Command: c.Name, Description: c.Description})
	}
	return out
}

// Run consumes updates until ctx is done. Updates are sharded by sender id
// across a fixed worker pool: one user's commands apply in arrival order,
// different users proceed concurrently.
func (r *Router) Run(ctx context.Context, updates <-chan transport.Update) {
	r.baseCtx = ctx

	shards := make([]chan transport.Update, r.deps.Workers)
	for i := range shards {
		shards[i] = make(chan transport.Update, 16)
		go func(ch <-chan transport.Update) {
			for up := range ch {
				r.handle(ctx, up)
			}
		}(shards[i])
	}
	defer func() {
		for _, ch := range shards {
			close(ch)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-updates:
			if !ok {
				return
			}
			shard := shards[shardFor(senderOf(up), len(shards))]
			select {
			case shard <- up:
			case <-ctx.Done():
				return
			}
		}
	}
}

func senderOf(up transport.Update) int64 {
	switch up.Kind {
	case transport.UpdateMessage:
		if up.Message != nil {
			return up.Message.FromID
		}
	case transport.UpdateDocument:
		if up.Document != nil {
			return up.Document.FromID
		}
	}
	return 0
}

func shardFor(userID int64, n int) int {
	h := fnv.New32a()
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(userID >> (8 * i))
	}
	h.Write(buf[:])
	return int(h.Sum32()) % n
}

func (r *Router) handle(ctx context.Context, up transport.Update) {
	req, cmd := r.route(up)
	if req == nil {
		return
	}

	cfg := r.deps.Config()
	req.IsAdmin = cfg.IsAdmin(req.FromID)
	req.Logger = r.deps.Log.With(logx.Int64("from", req.FromID), logx.String("cmd", req.Command))

	// Every inbound command registers the user before any handler logic.
	if err := r.deps.Stats.RecordInteraction(ctx, req.FromID, req.FromName); err != nil {
		req.Logger.Error("record interaction failed", logx.Err(err))
		r.reply(ctx, req.Chat, msgGenericFailure)
		return
	}

	if cmd == nil {
		r.reply(ctx, req.Chat, msgUnknownCommand)
		return
	}

	h := Chain(cmd.Handle,
		MWPanicRecover(r.deps.Log),
		MWRequestLog(),
		MWAuth(cmd.Access),
		MWTimeout(r.deps.CommandTimeout),
		MWRetryStorage(2),
	)

	text, err := h(ctx, req)
	if err != nil {
		req.Logger.Error("command failed", logx.Err(err))
		text = msgGenericFailure
	}
	if text != "" {
		r.reply(ctx, req.Chat, text)
	}
}

// route parses an update into a request plus the matched command. A plain
// text message (no leading slash) is treated as a /check of that text, the
// same shortcut the bot's first-time users expect. An unknown /command
// returns a request with a nil command.
func (r *Router) route(up transport.Update) (*Request, *Command) {
	switch up.Kind {
	case transport.UpdateDocument:
		d := up.Document
		if d == nil {
			return nil, nil
		}
		req := &Request{
			Chat:     transport.ChatTarget{ChatID: d.ChatID},
			FromID:   d.FromID,
			FromName: d.FromName,
			Command:  "import",
			Document: d,
		}
		return req, r.byName["import"]

	case transport.UpdateMessage:
		m := up.Message
		if m == nil || strings.TrimSpace(m.Text) == "" {
			return nil, nil
		}
		req := &Request{
			Chat:     transport.ChatTarget{ChatID: m.ChatID},
			FromID:   m.FromID,
			FromName: m.FromName,
		}

		text := strings.TrimSpace(m.Text)
		if !strings.HasPrefix(text, "/") {
			req.Command = "check"
			req.Args = []string{text}
			req.ArgText = text
			return req, r.byName["check"]
		}

		fields := strings.Fields(text)
		name := strings.TrimPrefix(fields[0], "/")
		// Strip the @botname suffix used in group chats.
		if i := strings.IndexByte(name, '@'); i >= 0 {
			name = name[:i]
		}
		req.Command = strings.ToLower(name)
		req.Args = fields[1:]
		req.ArgText = strings.TrimSpace(strings.TrimPrefix(text, fields[0]))
		return req, r.byName[req.Command]
	}
	return nil, nil
}

func (r *Router) reply(ctx context.Context, to transport.ChatTarget, text string) {
	if err := r.deps.Adapter.SendText(ctx, to, text, nil); err != nil {
		r.deps.Log.Warn("reply failed", logx.Int64("chat", to.ChatID), logx.Err(err))
	}
}
