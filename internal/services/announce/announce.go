// Package announce watches calendar events and announces each milestone
// boundary exactly once, surviving restarts and downtime via persisted
// flags.
package announce

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"heraldbot/internal/calendar"
	"heraldbot/internal/message"
	"heraldbot/internal/storage"
	"heraldbot/internal/transport"
	"heraldbot/pkg/logx"
)

// Gateway is the outbound surface the engine needs. transport.Adapter
// satisfies it.
type Gateway interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
}

// milestone is one row of a kind's announcement table.
type milestone struct {
	suffix string
	due    func(now time.Time, ev calendar.Event) bool
	// secondary routes the announcement to the secondary chat when one
	// is configured.
	secondary bool
}

// Tables are walked in declared order. Every predicate is monotone in
// now (once due, always due), so a poll after downtime emits the
// pending milestones once each, in boundary order.
var tables = map[calendar.Kind][]milestone{
	calendar.KindRegistration: {
		{suffix: message.SuffixOpen, due: func(now time.Time, ev calendar.Event) bool {
			return !now.Before(ev.Start)
		}},
		{suffix: message.SuffixWarning, due: func(now time.Time, ev calendar.Event) bool {
			return !now.Before(ev.End.Add(-6 * time.Hour))
		}},
		{suffix: message.SuffixClosed, due: func(now time.Time, ev calendar.Event) bool {
			return !now.Before(ev.End)
		}},
	},
	calendar.KindEvent: {
		{suffix: message.SuffixWarning, secondary: true, due: func(now time.Time, ev calendar.Event) bool {
			return !now.Before(ev.Start.Add(-48 * time.Hour))
		}},
		{suffix: message.SuffixClosed, secondary: true, due: func(now time.Time, ev calendar.Event) bool {
			return !now.Before(ev.Start.Add(-24 * time.Hour))
		}},
		{suffix: message.SuffixOpen, secondary: true, due: func(now time.Time, ev calendar.Event) bool {
			return !now.Before(ev.End.Add(24 * time.Hour))
		}},
	},
}

// flagKey builds the persisted milestone key. The UTC start day keeps
// keys readable when the same UID recurs.
func flagKey(ev calendar.Event, suffix string) string {
	return fmt.Sprintf("%s:%s:%s:%s", ev.Kind, ev.ID, ev.Start.UTC().Format("2006-01-02"), suffix)
}

// Options configures an Engine.
type Options struct {
	Store   *storage.Store
	Source  calendar.Source
	Gateway Gateway
	Log     logx.Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Engine evaluates the milestone tables against the clock.
type Engine struct {
	store   *storage.Store
	source  calendar.Source
	gateway Gateway
	log     logx.Logger
	now     func() time.Time

	pollMu sync.Mutex
}

// New builds an Engine.
func New(opt Options) *Engine {
	now := opt.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		store:   opt.Store,
		source:  opt.Source,
		gateway: opt.Gateway,
		log:     opt.Log,
		now:     now,
	}
}

// PollOnce runs one announcement cycle. An overlapping invocation is
// skipped. A send failure aborts the remainder of the cycle: flags set
// so far stay set, everything unsent is retried on the next poll. With
// no announce chat configured the cycle is a silent no-op.
func (e *Engine) PollOnce(ctx context.Context) error {
	if !e.pollMu.TryLock() {
		e.log.Debug("poll already running")
		return nil
	}
	defer e.pollMu.Unlock()

	settings := e.store.Settings()
	if settings.AnnounceChatID == 0 {
		return nil
	}

	events, err := e.source.Events(ctx)
	if err != nil {
		return fmt.Errorf("announce: fetch events: %w", err)
	}
	sort.Slice(events, func(i, j int) bool {
		if !events[i].Start.Equal(events[j].Start) {
			return events[i].Start.Before(events[j].Start)
		}
		return events[i].ID < events[j].ID
	})

	now := e.now().UTC()
	for _, ev := range events {
		table, ok := tables[ev.Kind]
		if !ok {
			continue
		}
		for _, m := range table {
			key := flagKey(ev, m.suffix)
			if e.store.MilestoneFired(key) || !m.due(now, ev) {
				continue
			}

			text := message.Milestone(ev.Kind, m.suffix, settings)
			if text == "" {
				e.log.Warn("no template for milestone", logx.String("key", key))
				continue
			}
			target := settings.AnnounceChatID
			if m.secondary && settings.SecondaryChatID != 0 {
				target = settings.SecondaryChatID
			}

			if _, err := e.gateway.SendText(ctx, transport.ChatTarget{ChatID: target}, text, nil); err != nil {
				return fmt.Errorf("announce: send %s: %w", key, err)
			}
			// Flag immediately after the successful send so a failure
			// later in the cycle cannot resend this milestone.
			if err := e.store.MarkMilestone(key); err != nil {
				e.log.Warn("milestone flag not persisted", logx.Err(err), logx.String("key", key))
			}
			e.log.Info("milestone announced", logx.String("key", key), logx.I64("chat", target))
		}
	}
	return nil
}
