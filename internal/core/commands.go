// Package core glues the bot together: it owns the command router, the
// access policy and the App composition root that wires config, storage,
// the calendar feed, the announcement engine, the reminder queue and the
// selection flow to the chat gateway.
package core

import (
	"context"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"heraldbot/internal/transport"
	"heraldbot/pkg/logx"
	"heraldbot/pkg/tgui"
)

// Access is the minimum standing required to run a command.
type Access int

const (
	// AccessEveryone admits anyone.
	AccessEveryone Access = iota
	// AccessMembers gates on the operator-configured member role; with no
	// role configured it behaves like AccessEveryone.
	AccessMembers
	// AccessOperator admits chat creators/administrators and the owner.
	AccessOperator
)

// defaultHandlerTimeout bounds handlers that do not set their own.
const defaultHandlerTimeout = 30 * time.Second

// Command is one routable bot command.
type Command struct {
	// Route is a space-separated command path, e.g. "config announce".
	Route       string
	Aliases     []string // root-level shortcuts, e.g. ["cfg"]
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

// CallbackRoute handles one "ns:action:payload" callback family.
type CallbackRoute struct {
	Namespace string
	Action    string
	Access    Access
	Timeout   time.Duration
	Handle    HandlerFunc
}

// Request carries one routed update into a handler.
type Request struct {
	Update  transport.Update
	Chat    transport.ChatTarget
	FromID  int64
	Command string
	Args    []string
	Payload string // callback payload, raw
	ReqID   string
	Log     logx.Logger
}

// Router matches incoming updates to registered commands and callback
// routes and runs the handlers on a bounded worker pool so one slow
// command cannot stall update intake.
type Router struct {
	mu    sync.RWMutex
	root  *cmdNode
	alias map[string]*cmdNode
	cbs   map[string]CallbackRoute // "ns:action" -> route

	adapter transport.Adapter
	gate    *Gate
	log     logx.Logger

	jobs chan func()
}

func NewRouter(log logx.Logger, adapter transport.Adapter, gate *Gate) *Router {
	return &Router{
		root:    newRoot(),
		alias:   map[string]*cmdNode{},
		cbs:     map[string]CallbackRoute{},
		adapter: adapter,
		gate:    gate,
		log:     log,
		jobs:    make(chan func(), 256),
	}
}

// SetRegistry replaces the routing tables. A help command is always
// injected; multi-token routes get an automatic "_" alias so they work
// from the platform command menu.
func (r *Router) SetRegistry(cmds []Command, cbs []CallbackRoute) {
	cmds = append(cmds, Command{
		Route:       "help",
		Aliases:     []string{"h"},
		Description: "show available commands",
		Usage:       "/help [command]",
		Access:      AccessEveryone,
		Handle: func(ctx context.Context, req *Request) error {
			_, err := r.adapter.SendText(ctx, req.Chat, r.helpText(req.Args), &transport.SendOptions{DisablePreview: true})
			return err
		},
	})

	root := newRoot()
	alias := map[string]*cmdNode{}
	for _, c := range cmds {
		route := strings.Fields(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		leaf := root.add(route, c)
		if len(route) > 1 {
			auto := strings.Join(route, "_")
			if _, taken := alias[auto]; !taken {
				alias[auto] = leaf
			}
		}
		for _, a := range c.Aliases {
			a = strings.TrimSpace(a)
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			alias[a] = leaf
		}
	}

	routes := map[string]CallbackRoute{}
	for _, cb := range cbs {
		ns := strings.TrimSpace(cb.Namespace)
		action := strings.TrimSpace(cb.Action)
		if ns == "" || action == "" || cb.Handle == nil {
			continue
		}
		routes[ns+":"+action] = cb
	}

	r.mu.Lock()
	r.root = root
	r.alias = alias
	r.cbs = routes
	r.mu.Unlock()
}

// MenuCommands lists the root-level commands for the platform menu.
func (r *Router) MenuCommands() []transport.BotCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []transport.BotCommand
	for _, name := range r.root.childNames() {
		n, _ := r.root.child(name)
		desc := ""
		if n.cmd != nil {
			desc = n.cmd.Description
		} else if len(n.children) > 0 {
			desc = "see /help " + name
		}
		out = append(out, transport.BotCommand{Command: name, Description: desc})
	}
	return out
}

// DispatchLoop consumes updates until ctx is done or the channel closes.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}
	r.log.Info("dispatcher started", logx.Int("workers", workers), logx.Int("queue_cap", cap(r.jobs)))

	var (
		wg        sync.WaitGroup
		closeOnce sync.Once
	)
	closeJobs := func() { closeOnce.Do(func() { close(r.jobs) }) }

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					r.log.Error("panic in dispatch worker",
						logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
				}
			}()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-r.jobs:
					if !ok {
						return
					}
					if job != nil {
						job()
					}
				}
			}
		}()
	}
	defer func() {
		closeJobs()
		wg.Wait()
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			switch up.Kind {
			case transport.UpdateMessage:
				r.routeMessage(ctx, up)
			case transport.UpdateCallback:
				r.routeCallback(ctx, up)
			}
		}
	}
}

func (r *Router) routeMessage(root context.Context, up transport.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	parts := strings.Fields(text)
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	args := parts[1:]

	r.mu.RLock()
	rootNode := r.root
	aliasMap := r.alias
	r.mu.RUnlock()

	chat := transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	if leaf, ok := aliasMap[word]; ok && leaf != nil && leaf.cmd != nil {
		r.enqueue(root, up, *leaf.cmd, chat, msg.FromID, args)
		return
	}

	cur, ok := rootNode.child(word)
	if !ok {
		_, _ = r.adapter.SendText(root, chat, "Unknown command. Try /help.", nil)
		return
	}
	for len(args) > 0 {
		child, ok := cur.child(args[0])
		if !ok {
			break
		}
		cur = child
		args = args[1:]
	}
	if cur.cmd == nil {
		// Container without a handler: show its subcommands.
		_, _ = r.adapter.SendText(root, chat, r.helpText(cur.path), &transport.SendOptions{DisablePreview: true})
		return
	}
	r.enqueue(root, up, *cur.cmd, chat, msg.FromID, args)
}

func (r *Router) routeCallback(root context.Context, up transport.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	ns, action, payload := tgui.Split(strings.TrimSpace(cb.Data))
	r.mu.RLock()
	route, ok := r.cbs[ns+":"+action]
	r.mu.RUnlock()
	if !ok {
		// Stale keyboard from an older build; just clear the spinner.
		r.log.Debug("unroutable callback", logx.String("ns", ns), logx.String("action", action))
		_ = r.adapter.AnswerCallback(root, cb.ID, "")
		return
	}

	rid := shortID()
	req := &Request{
		Update:  up,
		Chat:    transport.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID},
		FromID:  cb.FromID,
		Command: "cb:" + ns + ":" + action,
		Payload: payload,
		ReqID:   rid,
		Log: r.log.With(logx.String("rid", rid), logx.I64("chat_id", cb.ChatID),
			logx.I64("from_id", cb.FromID), logx.String("cmd", "cb:"+ns+":"+action)),
	}
	final := Chain(
		route.Handle,
		MWRecover(r.log),
		MWTimeout(orDefault(route.Timeout)),
		MWLog(),
		MWAccess(r.gate, r.adapter, route.Access),
	)
	select {
	case r.jobs <- func() { _ = final(root, req) }:
	default:
		_ = r.adapter.AnswerCallback(root, cb.ID, "busy, try again")
	}
}

func (r *Router) enqueue(root context.Context, up transport.Update, cmd Command, chat transport.ChatTarget, fromID int64, args []string) {
	rid := shortID()
	req := &Request{
		Update:  up,
		Chat:    chat,
		FromID:  fromID,
		Command: cmd.Route,
		Args:    args,
		ReqID:   rid,
		Log: r.log.With(logx.String("rid", rid), logx.I64("chat_id", chat.ChatID),
			logx.I64("from_id", fromID), logx.String("cmd", cmd.Route)),
	}
	final := Chain(
		cmd.Handle,
		MWRecover(r.log),
		MWTimeout(orDefault(cmd.Timeout)),
		MWLog(),
		MWAccess(r.gate, r.adapter, cmd.Access),
	)
	select {
	case r.jobs <- func() { _ = final(root, req) }:
	default:
		_, _ = r.adapter.SendText(root, chat, "busy, try again", nil)
	}
}

func orDefault(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return defaultHandlerTimeout
}

// shortID tags one request in the logs.
func shortID() string { return uuid.NewString()[:8] }
