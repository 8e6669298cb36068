// Package selection implements the inline reminder picker: a stateless
// three-step menu flow whose entire context rides in callback tokens,
// ending in two queued reminders before the chosen start time.
package selection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"heraldbot/internal/calendar"
	"heraldbot/internal/message"
	"heraldbot/internal/services/remind"
	"heraldbot/internal/transport"
	"heraldbot/pkg/logx"
	"heraldbot/pkg/tgui"
)

// Namespace is the callback prefix routed to this flow.
const Namespace = "pick"

// Callback actions within the namespace.
const (
	ActionDate = "d"
	ActionHour = "h"
	ActionBack = "b"
	ActionNone = "x"
)

// maxDates caps the date menu size.
const maxDates = 25

// offsets are the reminder lead times before the chosen instant.
var offsets = []time.Duration{30 * time.Minute, 10 * time.Minute}

// ErrNoEvent means no upcoming event qualifies for the picker.
var ErrNoEvent = errors.New("selection: no upcoming event")

// Gateway is the outbound surface the flow needs. transport.Adapter
// satisfies it.
type Gateway interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
	EditText(ctx context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Access re-checks the pressing user before step three mutates the
// queue. The command layer performs the same check before Start.
type Access interface {
	Allowed(ctx context.Context, chatID, userID int64) bool
}

// Options configures a Flow.
type Options struct {
	Source  calendar.Source
	Queue   *remind.Queue
	Gateway Gateway
	Access  Access
	Log     logx.Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Flow runs the three-step reminder picker.
type Flow struct {
	source  calendar.Source
	queue   *remind.Queue
	gateway Gateway
	access  Access
	log     logx.Logger
	now     func() time.Time
}

// New builds a Flow.
func New(opt Options) *Flow {
	now := opt.Now
	if now == nil {
		now = time.Now
	}
	return &Flow{
		source:  opt.Source,
		queue:   opt.Queue,
		gateway: opt.Gateway,
		access:  opt.Access,
		log:     opt.Log,
		now:     now,
	}
}

// GroupKey identifies one user's selection in one chat topic. A new
// selection under the same key supersedes the previous one.
func GroupKey(chatID int64, threadID int, userID int64) string {
	return fmt.Sprintf("%s:%d:%d:%d", Namespace, chatID, threadID, userID)
}

// Start answers the reminder command: it sends the date menu for the
// next upcoming event into the chat. Returns ErrNoEvent when nothing
// qualifies.
func (f *Flow) Start(ctx context.Context, chatID int64, threadID int) error {
	events, err := f.source.Events(ctx)
	if err != nil {
		return fmt.Errorf("selection: fetch events: %w", err)
	}
	ev, ok := nextEvent(events, f.now().UTC())
	if !ok {
		return ErrNoEvent
	}
	menu := dateMenu(token{Start: ev.Start, End: ev.End})
	_, err = f.gateway.SendText(ctx, transport.ChatTarget{ChatID: chatID, ThreadID: threadID}, menu.Text, menu.Opt)
	if err != nil {
		return fmt.Errorf("selection: send date menu: %w", err)
	}
	return nil
}

// HandleCallback routes pick:* callbacks. Malformed or stale tokens get
// an ephemeral answer; the menu stays untouched.
func (f *Flow) HandleCallback(ctx context.Context, cb *transport.Callback) error {
	_, action, payload := tgui.Split(cb.Data)
	switch action {
	case ActionDate:
		return f.onDate(ctx, cb, payload)
	case ActionHour:
		return f.onHour(ctx, cb, payload)
	case ActionBack:
		return f.onBack(ctx, cb, payload)
	case ActionNone:
		return f.gateway.AnswerCallback(ctx, cb.ID, message.NoHourFits)
	default:
		return f.gateway.AnswerCallback(ctx, cb.ID, message.BadToken)
	}
}

func (f *Flow) onDate(ctx context.Context, cb *transport.Callback, payload string) error {
	t, err := decodeDate(payload)
	if err != nil {
		return f.gateway.AnswerCallback(ctx, cb.ID, message.BadToken)
	}
	menu := hourMenu(t)
	if err := f.gateway.EditText(ctx, callbackRef(cb), menu.Text, menu.Opt); err != nil {
		return fmt.Errorf("selection: edit hour menu: %w", err)
	}
	return f.gateway.AnswerCallback(ctx, cb.ID, "")
}

func (f *Flow) onBack(ctx context.Context, cb *transport.Callback, payload string) error {
	t, err := decodeWindow(payload)
	if err != nil {
		return f.gateway.AnswerCallback(ctx, cb.ID, message.BadToken)
	}
	menu := dateMenu(t)
	if err := f.gateway.EditText(ctx, callbackRef(cb), menu.Text, menu.Opt); err != nil {
		return fmt.Errorf("selection: edit date menu: %w", err)
	}
	return f.gateway.AnswerCallback(ctx, cb.ID, "")
}

func (f *Flow) onHour(ctx context.Context, cb *transport.Callback, payload string) error {
	t, err := decodeHour(payload)
	if err != nil {
		return f.gateway.AnswerCallback(ctx, cb.ID, message.BadToken)
	}
	runAt := t.Day.Add(time.Duration(t.Hour) * time.Hour)
	if runAt.Before(t.Start) || !runAt.Before(t.End) {
		return f.gateway.AnswerCallback(ctx, cb.ID, message.BadToken)
	}
	if f.access != nil && !f.access.Allowed(ctx, cb.ChatID, cb.FromID) {
		return f.gateway.AnswerCallback(ctx, cb.ID, message.NotAllowed)
	}

	// Replace, never accumulate: the user's previous selection in this
	// chat topic is cancelled before the new jobs go in.
	groupKey := GroupKey(cb.ChatID, cb.ThreadID, cb.FromID)
	f.queue.CancelGroup(groupKey)

	now := f.now().UTC()
	scheduled := 0
	for _, off := range offsets {
		fireAt := runAt.Add(-off)
		if !fireAt.After(now) {
			continue
		}
		text := message.Countdown(int(off/time.Minute), runAt)
		if _, err := f.queue.Schedule(cb.ChatID, cb.ThreadID, fireAt, text, groupKey); err != nil {
			f.log.Warn("reminder not persisted", logx.Err(err), logx.String("group", groupKey))
		}
		scheduled++
	}

	summary := tgui.New().Line(message.Scheduled(runAt, scheduled)).Build()
	if err := f.gateway.EditText(ctx, callbackRef(cb), summary.Text, summary.Opt); err != nil {
		return fmt.Errorf("selection: edit summary: %w", err)
	}
	return f.gateway.AnswerCallback(ctx, cb.ID, message.ScheduledToast(scheduled))
}

// nextEvent picks the main-event window with the earliest start that
// has not ended yet.
func nextEvent(events []calendar.Event, now time.Time) (calendar.Event, bool) {
	var best calendar.Event
	found := false
	for _, ev := range events {
		if ev.Kind != calendar.KindEvent || !ev.End.After(now) {
			continue
		}
		if !found || ev.Start.Before(best.Start) {
			best = ev
			found = true
		}
	}
	return best, found
}

// candidateDays lists UTC day floors from the window start, stepping
// 24h while the day is still before the window end.
func candidateDays(start, end time.Time) []time.Time {
	start, end = start.UTC(), end.UTC()
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	var days []time.Time
	for day.Before(end) && len(days) < maxDates {
		days = append(days, day)
		day = day.Add(24 * time.Hour)
	}
	return days
}

// candidateHours lists the whole UTC hours h of day satisfying
// start <= day+h < end.
func candidateHours(start, end, day time.Time) []int {
	var hours []int
	for h := 0; h < 24; h++ {
		at := day.Add(time.Duration(h) * time.Hour)
		if !at.Before(start) && at.Before(end) {
			hours = append(hours, h)
		}
	}
	return hours
}

func dateMenu(t token) tgui.Message {
	days := candidateDays(t.Start, t.End)
	buttons := make([]transport.Button, 0, len(days))
	for _, day := range days {
		dt := token{Start: t.Start, End: t.End, Day: day}
		buttons = append(buttons, tgui.Btn(message.DateLabel(day), tgui.Data(Namespace, ActionDate, dt.encodeDate())))
	}
	kb := tgui.NewInline()
	for _, row := range tgui.Grid(3, buttons) {
		kb.Row(row...)
	}
	return tgui.New().Line(message.DateTitle(t.Start, t.End)).Inline(kb).Build()
}

func hourMenu(t token) tgui.Message {
	hours := candidateHours(t.Start, t.End, t.Day)
	kb := tgui.NewInline()
	if len(hours) == 0 {
		kb.Row(tgui.Btn("no full hour fits", tgui.Data(Namespace, ActionNone, t.encodeDate())))
	}
	buttons := make([]transport.Button, 0, len(hours))
	for _, h := range hours {
		ht := token{Start: t.Start, End: t.End, Day: t.Day, Hour: h}
		buttons = append(buttons, tgui.Btn(message.HourLabel(h), tgui.Data(Namespace, ActionHour, ht.encodeHour())))
	}
	for _, row := range tgui.Grid(6, buttons) {
		kb.Row(row...)
	}
	back := token{Start: t.Start, End: t.End}
	kb.Row(tgui.Btn("« back to dates", tgui.Data(Namespace, ActionBack, back.encodeWindow())))
	return tgui.New().Line(message.HourTitle(t.Day)).Inline(kb).Build()
}

func callbackRef(cb *transport.Callback) transport.MessageRef {
	return transport.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}
}
