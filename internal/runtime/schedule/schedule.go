// Package schedule runs the bot's periodic jobs on a single cron
// runner and re-paces them in place when the config hot-reloads.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"heraldbot/pkg/logx"
)

// Runner owns one cron instance. Jobs are keyed by name; setting a name
// again replaces its interval without touching other jobs. Each run is
// bounded by its own interval so a stuck run cannot pile up behind the
// next tick.
type Runner struct {
	log logx.Logger

	mu      sync.Mutex
	c       *cron.Cron
	base    context.Context
	entries map[string]*entry
}

type entry struct {
	name  string
	every time.Duration
	run   func(ctx context.Context) error
	id    cron.EntryID
	added bool
}

func New(log logx.Logger) *Runner {
	return &Runner{log: log, entries: map[string]*entry{}}
}

// Start begins dispatching. Jobs registered before Start are scheduled
// on their first tick after it.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil {
		return
	}
	r.base = ctx
	r.c = cron.New(cron.WithLogger(cronLog{r.log}), cron.WithChain(cron.Recover(cronLog{r.log})))
	for _, e := range r.entries {
		if err := r.addLocked(e); err != nil {
			r.log.Warn("job not scheduled", logx.String("job", e.name), logx.Err(err))
		}
	}
	r.c.Start()
}

// SetEvery registers the named job at the given interval, or re-paces
// it if the interval changed.
func (r *Runner) SetEvery(name string, every time.Duration, run func(ctx context.Context) error) error {
	if every <= 0 {
		return fmt.Errorf("schedule: %s: interval must be positive", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		e = &entry{name: name}
		r.entries[name] = e
	} else if e.every == every {
		e.run = run
		return nil
	}
	e.every = every
	e.run = run
	if r.c == nil {
		return nil
	}
	if e.added {
		r.c.Remove(e.id)
		e.added = false
	}
	return r.addLocked(e)
}

func (r *Runner) addLocked(e *entry) error {
	id, err := r.c.AddFunc("@every "+e.every.String(), func() { r.dispatch(e) })
	if err != nil {
		return err
	}
	e.id = id
	e.added = true
	r.log.Info("job scheduled", logx.String("job", e.name), logx.Dur("every", e.every))
	return nil
}

func (r *Runner) dispatch(e *entry) {
	r.mu.Lock()
	base := r.base
	every := e.every
	run := e.run
	r.mu.Unlock()
	if base == nil || run == nil {
		return
	}

	ctx, cancel := context.WithTimeout(base, every)
	defer cancel()
	start := time.Now()
	if err := run(ctx); err != nil {
		r.log.Warn("job failed", logx.String("job", e.name), logx.Dur("took", time.Since(start)), logx.Err(err))
		return
	}
	r.log.Debug("job ok", logx.String("job", e.name), logx.Dur("took", time.Since(start)))
}

// Stop halts dispatch and waits for in-flight runs, bounded by ctx.
func (r *Runner) Stop(ctx context.Context) {
	r.mu.Lock()
	c := r.c
	r.c = nil
	for _, e := range r.entries {
		e.added = false
	}
	r.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		r.log.Warn("jobs still running at stop deadline")
	}
}

// cronLog adapts logx to the cron logger interface. Cron's own chatter
// is demoted to debug.
type cronLog struct{ log logx.Logger }

func (c cronLog) Info(msg string, kv ...any) {
	c.log.Debug("cron: "+msg, logx.Any("detail", kv))
}

func (c cronLog) Error(err error, msg string, kv ...any) {
	c.log.Error("cron: "+msg, logx.Err(err), logx.Any("detail", kv))
}
