package selection

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"heraldbot/internal/calendar"
	"heraldbot/internal/message"
	"heraldbot/internal/services/remind"
	"heraldbot/internal/storage"
	"heraldbot/internal/transport"
	"heraldbot/pkg/logx"
	"heraldbot/pkg/tgui"
)

type fakeSource struct {
	events []calendar.Event
	err    error
}

func (s *fakeSource) Events(context.Context) ([]calendar.Event, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.events, nil
}

type uiCall struct {
	chatID   int64
	threadID int
	text     string
	keyboard [][]transport.Button
}

type fakeGateway struct {
	sends   []uiCall
	edits   []uiCall
	answers []string
}

func (g *fakeGateway) SendText(_ context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	g.sends = append(g.sends, uiCall{to.ChatID, to.ThreadID, text, keyboardOf(opt)})
	return transport.MessageRef{ChatID: to.ChatID, MessageID: 100 + len(g.sends)}, nil
}

func (g *fakeGateway) EditText(_ context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error {
	g.edits = append(g.edits, uiCall{ref.ChatID, ref.ThreadID, text, keyboardOf(opt)})
	return nil
}

func (g *fakeGateway) AnswerCallback(_ context.Context, _ string, text string) error {
	g.answers = append(g.answers, text)
	return nil
}

func keyboardOf(opt *transport.SendOptions) [][]transport.Button {
	if opt == nil {
		return nil
	}
	return opt.Keyboard
}

type fakeAccess struct{ allow bool }

func (a *fakeAccess) Allowed(context.Context, int64, int64) bool { return a.allow }

// eventWindow is the picker fixture: a main event running
// Feb 1 18:00 UTC through Feb 3 22:00 UTC.
func eventWindow() calendar.Event {
	return calendar.Event{
		ID:    "match-1",
		Kind:  calendar.KindEvent,
		Start: time.Date(2025, 2, 1, 18, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 2, 3, 22, 0, 0, 0, time.UTC),
	}
}

func newTestFlow(t *testing.T, now time.Time, events ...calendar.Event) (*Flow, *fakeGateway, *remind.Queue, *fakeAccess) {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "state.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	gw := &fakeGateway{}
	clock := func() time.Time { return now }
	q := remind.New(remind.Options{Store: st, Gateway: gw, Log: logx.Nop(), Now: clock})
	access := &fakeAccess{allow: true}
	f := New(Options{
		Source:  &fakeSource{events: events},
		Queue:   q,
		Gateway: gw,
		Access:  access,
		Log:     logx.Nop(),
		Now:     clock,
	})
	return f, gw, q, access
}

func flatLabels(kb [][]transport.Button) []string {
	var labels []string
	for _, row := range kb {
		for _, b := range row {
			labels = append(labels, b.Text)
		}
	}
	return labels
}

func findButton(t *testing.T, kb [][]transport.Button, label string) transport.Button {
	t.Helper()
	for _, row := range kb {
		for _, b := range row {
			if b.Text == label {
				return b
			}
		}
	}
	t.Fatalf("button %q not found in %v", label, flatLabels(kb))
	return transport.Button{}
}

func callback(data string) *transport.Callback {
	return &transport.Callback{ID: "cb", FromID: 42, ChatID: 10, ThreadID: 7, MessageID: 101, Data: data}
}

func TestStartSendsDateMenu(t *testing.T) {
	now := time.Date(2025, 1, 30, 0, 0, 0, 0, time.UTC)
	f, gw, _, _ := newTestFlow(t, now, eventWindow())

	if err := f.Start(context.Background(), 10, 7); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(gw.sends) != 1 {
		t.Fatalf("sends = %d, want 1", len(gw.sends))
	}
	menu := gw.sends[0]
	if menu.chatID != 10 || menu.threadID != 7 {
		t.Fatalf("menu target = %+v", menu)
	}

	labels := flatLabels(menu.keyboard)
	want := []string{"Sat 01 Feb", "Sun 02 Feb", "Mon 03 Feb"}
	if len(labels) != len(want) {
		t.Fatalf("labels = %v, want %v", labels, want)
	}
	for i := range want {
		if labels[i] != want[i] {
			t.Fatalf("labels = %v, want %v", labels, want)
		}
	}
	for _, row := range menu.keyboard {
		for _, b := range row {
			if err := tgui.CheckData(b.Data); err != nil {
				t.Fatalf("button %q: %v", b.Text, err)
			}
			if !strings.HasPrefix(b.Data, Namespace+":"+ActionDate+":") {
				t.Fatalf("button data = %q", b.Data)
			}
		}
	}
}

func TestStartNoUpcomingEvent(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	reg := calendar.Event{
		ID:    "reg-1",
		Kind:  calendar.KindRegistration,
		Start: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC),
	}
	ended := eventWindow() // ended back in February
	f, gw, _, _ := newTestFlow(t, now, reg, ended)

	if err := f.Start(context.Background(), 10, 0); !errors.Is(err, ErrNoEvent) {
		t.Fatalf("Start = %v, want ErrNoEvent", err)
	}
	if len(gw.sends) != 0 {
		t.Fatal("no menu must be sent without a qualifying event")
	}
}

func TestStartPicksEarliestUpcoming(t *testing.T) {
	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	later := calendar.Event{
		ID:    "match-2",
		Kind:  calendar.KindEvent,
		Start: time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 3, 2, 22, 0, 0, 0, time.UTC),
	}
	f, gw, _, _ := newTestFlow(t, now, later, eventWindow())

	if err := f.Start(context.Background(), 10, 0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	labels := flatLabels(gw.sends[0].keyboard)
	if len(labels) == 0 || labels[0] != "Sat 01 Feb" {
		t.Fatalf("menu is not for the earliest event: %v", labels)
	}
}

func TestDateMenuCap(t *testing.T) {
	now := time.Date(2025, 2, 25, 0, 0, 0, 0, time.UTC)
	long := calendar.Event{
		ID:    "season",
		Kind:  calendar.KindEvent,
		Start: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC),
	}
	f, gw, _, _ := newTestFlow(t, now, long)

	if err := f.Start(context.Background(), 10, 0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := len(flatLabels(gw.sends[0].keyboard)); got != maxDates {
		t.Fatalf("date buttons = %d, want %d", got, maxDates)
	}
}

func TestDateCallbackShowsHourMenu(t *testing.T) {
	now := time.Date(2025, 1, 30, 0, 0, 0, 0, time.UTC)
	f, gw, _, _ := newTestFlow(t, now, eventWindow())
	if err := f.Start(context.Background(), 10, 7); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// First window day starts at 18:00, so only the evening hours fit.
	btn := findButton(t, gw.sends[0].keyboard, "Sat 01 Feb")
	if err := f.HandleCallback(context.Background(), callback(btn.Data)); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if len(gw.edits) != 1 {
		t.Fatalf("edits = %d, want 1", len(gw.edits))
	}
	labels := flatLabels(gw.edits[0].keyboard)
	want := []string{"18:00", "19:00", "20:00", "21:00", "22:00", "23:00", "« back to dates"}
	if len(labels) != len(want) {
		t.Fatalf("labels = %v, want %v", labels, want)
	}
	for i := range want {
		if labels[i] != want[i] {
			t.Fatalf("labels = %v, want %v", labels, want)
		}
	}

	// Last window day ends at 22:00 exclusive: 00..21 fit, 22 does not.
	btn = findButton(t, gw.sends[0].keyboard, "Mon 03 Feb")
	if err := f.HandleCallback(context.Background(), callback(btn.Data)); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	labels = flatLabels(gw.edits[1].keyboard)
	if len(labels) != 23 { // 22 hours + back
		t.Fatalf("last-day hour buttons = %d, want 23: %v", len(labels), labels)
	}
	if labels[0] != "00:00" || labels[21] != "21:00" {
		t.Fatalf("unexpected hour range: %v", labels)
	}
	for _, l := range labels {
		if l == "22:00" {
			t.Fatal("hour at the exclusive window end must not be offered")
		}
	}
}

func TestBackReturnsToDateMenu(t *testing.T) {
	now := time.Date(2025, 1, 30, 0, 0, 0, 0, time.UTC)
	f, gw, _, _ := newTestFlow(t, now, eventWindow())
	if err := f.Start(context.Background(), 10, 7); err != nil {
		t.Fatalf("Start: %v", err)
	}
	btn := findButton(t, gw.sends[0].keyboard, "Sun 02 Feb")
	if err := f.HandleCallback(context.Background(), callback(btn.Data)); err != nil {
		t.Fatalf("date callback: %v", err)
	}
	back := findButton(t, gw.edits[0].keyboard, "« back to dates")
	if err := f.HandleCallback(context.Background(), callback(back.Data)); err != nil {
		t.Fatalf("back callback: %v", err)
	}

	restored := gw.edits[1]
	if !strings.Contains(restored.text, "Pick a day") {
		t.Fatalf("back edit = %q", restored.text)
	}
	labels := flatLabels(restored.keyboard)
	if len(labels) != 3 || labels[1] != "Sun 02 Feb" {
		t.Fatalf("restored date menu = %v", labels)
	}
}

func TestHourCallbackSchedulesPair(t *testing.T) {
	now := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)
	f, gw, q, _ := newTestFlow(t, now, eventWindow())
	if err := f.Start(context.Background(), 10, 7); err != nil {
		t.Fatalf("Start: %v", err)
	}
	dateBtn := findButton(t, gw.sends[0].keyboard, "Sun 02 Feb")
	if err := f.HandleCallback(context.Background(), callback(dateBtn.Data)); err != nil {
		t.Fatalf("date callback: %v", err)
	}
	hourBtn := findButton(t, gw.edits[0].keyboard, "14:00")
	if err := f.HandleCallback(context.Background(), callback(hourBtn.Data)); err != nil {
		t.Fatalf("hour callback: %v", err)
	}

	runAt := time.Date(2025, 2, 2, 14, 0, 0, 0, time.UTC)
	pending := q.Pending()
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2: %+v", len(pending), pending)
	}
	if !pending[0].FireAt.Equal(runAt.Add(-30 * time.Minute)) {
		t.Fatalf("first reminder at %v, want 13:30Z", pending[0].FireAt)
	}
	if !pending[1].FireAt.Equal(runAt.Add(-10 * time.Minute)) {
		t.Fatalf("second reminder at %v, want 13:50Z", pending[1].FireAt)
	}
	wantKey := GroupKey(10, 7, 42)
	for _, j := range pending {
		if j.GroupKey != wantKey {
			t.Fatalf("job group = %q, want %q", j.GroupKey, wantKey)
		}
		if j.ChatID != 10 || j.ThreadID != 7 {
			t.Fatalf("job target = %+v", j)
		}
	}
	if pending[0].Message != message.Countdown(30, runAt) || pending[1].Message != message.Countdown(10, runAt) {
		t.Fatalf("unexpected reminder texts: %q / %q", pending[0].Message, pending[1].Message)
	}

	summary := gw.edits[len(gw.edits)-1]
	if summary.text != message.Scheduled(runAt, 2) {
		t.Fatalf("summary = %q", summary.text)
	}
	if len(summary.keyboard) != 0 {
		t.Fatal("summary must drop the keyboard")
	}
	if last := gw.answers[len(gw.answers)-1]; last != message.ScheduledToast(2) {
		t.Fatalf("toast = %q", last)
	}
}

func TestHourCallbackPastOffsetElision(t *testing.T) {
	t.Run("one offset already past", func(t *testing.T) {
		now := time.Date(2025, 2, 2, 13, 40, 0, 0, time.UTC)
		f, gw, q, _ := newTestFlow(t, now, eventWindow())

		tok := token{
			Start: eventWindow().Start,
			End:   eventWindow().End,
			Day:   time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC),
			Hour:  14,
		}
		data := tgui.Data(Namespace, ActionHour, tok.encodeHour())
		if err := f.HandleCallback(context.Background(), callback(data)); err != nil {
			t.Fatalf("hour callback: %v", err)
		}
		pending := q.Pending()
		if len(pending) != 1 {
			t.Fatalf("pending = %d, want exactly the 10m reminder", len(pending))
		}
		if !pending[0].FireAt.Equal(time.Date(2025, 2, 2, 13, 50, 0, 0, time.UTC)) {
			t.Fatalf("reminder at %v, want 13:50Z", pending[0].FireAt)
		}
		if last := gw.answers[len(gw.answers)-1]; last != message.ScheduledToast(1) {
			t.Fatalf("toast = %q", last)
		}
	})

	t.Run("both offsets already past", func(t *testing.T) {
		now := time.Date(2025, 2, 2, 13, 55, 0, 0, time.UTC)
		f, gw, q, _ := newTestFlow(t, now, eventWindow())

		tok := token{
			Start: eventWindow().Start,
			End:   eventWindow().End,
			Day:   time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC),
			Hour:  14,
		}
		data := tgui.Data(Namespace, ActionHour, tok.encodeHour())
		if err := f.HandleCallback(context.Background(), callback(data)); err != nil {
			t.Fatalf("hour callback: %v", err)
		}
		if len(q.Pending()) != 0 {
			t.Fatalf("pending = %+v, want none", q.Pending())
		}
		summary := gw.edits[len(gw.edits)-1]
		if !strings.Contains(summary.text, "already passed") {
			t.Fatalf("summary = %q", summary.text)
		}
	})
}

func TestHourCallbackOverwritesPreviousSelection(t *testing.T) {
	now := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)
	f, _, q, _ := newTestFlow(t, now, eventWindow())

	pick := func(fromID int64, hour int) {
		t.Helper()
		tok := token{
			Start: eventWindow().Start,
			End:   eventWindow().End,
			Day:   time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC),
			Hour:  hour,
		}
		cb := callback(tgui.Data(Namespace, ActionHour, tok.encodeHour()))
		cb.FromID = fromID
		if err := f.HandleCallback(context.Background(), cb); err != nil {
			t.Fatalf("hour callback: %v", err)
		}
	}

	pick(42, 14)
	pick(99, 16) // other user, own group
	pick(42, 15) // supersedes user 42's first pick

	byGroup := map[string][]time.Time{}
	for _, j := range q.Pending() {
		byGroup[j.GroupKey] = append(byGroup[j.GroupKey], j.FireAt)
	}
	if len(q.Pending()) != 4 || len(byGroup) != 2 {
		t.Fatalf("pending = %+v", q.Pending())
	}
	u42 := byGroup[GroupKey(10, 7, 42)]
	if len(u42) != 2 {
		t.Fatalf("user 42 jobs = %v, want 2", u42)
	}
	for _, at := range u42 {
		if at.Hour() != 14 { // 15:00 minus 30m/10m both land in hour 14
			t.Fatalf("stale job from the first pick survived: %v", u42)
		}
	}
}

func TestHourCallbackDenied(t *testing.T) {
	now := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)
	f, gw, q, access := newTestFlow(t, now, eventWindow())
	access.allow = false

	tok := token{
		Start: eventWindow().Start,
		End:   eventWindow().End,
		Day:   time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC),
		Hour:  14,
	}
	if err := f.HandleCallback(context.Background(), callback(tgui.Data(Namespace, ActionHour, tok.encodeHour()))); err != nil {
		t.Fatalf("hour callback: %v", err)
	}
	if len(q.Pending()) != 0 {
		t.Fatal("denied user must not schedule jobs")
	}
	if len(gw.edits) != 0 {
		t.Fatal("denied press must not edit the menu")
	}
	if last := gw.answers[len(gw.answers)-1]; last != message.NotAllowed {
		t.Fatalf("toast = %q", last)
	}
}

func TestHourCallbackRejectsOutOfWindowInstant(t *testing.T) {
	now := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)
	f, gw, q, _ := newTestFlow(t, now, eventWindow())

	// Forged token: Feb 3 23:00 lies past the 22:00 window end.
	tok := token{
		Start: eventWindow().Start,
		End:   eventWindow().End,
		Day:   time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC),
		Hour:  23,
	}
	if err := f.HandleCallback(context.Background(), callback(tgui.Data(Namespace, ActionHour, tok.encodeHour()))); err != nil {
		t.Fatalf("hour callback: %v", err)
	}
	if len(q.Pending()) != 0 || len(gw.edits) != 0 {
		t.Fatal("out-of-window pick must not mutate anything")
	}
	if last := gw.answers[len(gw.answers)-1]; last != message.BadToken {
		t.Fatalf("toast = %q", last)
	}
}

func TestCallbackMalformedToken(t *testing.T) {
	now := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)
	f, gw, q, _ := newTestFlow(t, now, eventWindow())

	for _, data := range []string{"pick:h:garbage", "pick:d:", "pick:zz:abc", "pick"} {
		if err := f.HandleCallback(context.Background(), callback(data)); err != nil {
			t.Fatalf("HandleCallback(%q): %v", data, err)
		}
	}
	if len(gw.edits) != 0 || len(q.Pending()) != 0 {
		t.Fatal("malformed callbacks must not mutate anything")
	}
	for _, a := range gw.answers {
		if a != message.BadToken {
			t.Fatalf("answer = %q, want bad-token toast", a)
		}
	}
}

func TestNoHourSentinel(t *testing.T) {
	now := time.Date(2025, 2, 4, 0, 0, 0, 0, time.UTC)
	tight := calendar.Event{
		ID:    "blitz",
		Kind:  calendar.KindEvent,
		Start: time.Date(2025, 2, 5, 10, 30, 0, 0, time.UTC),
		End:   time.Date(2025, 2, 5, 10, 45, 0, 0, time.UTC),
	}
	f, gw, q, _ := newTestFlow(t, now, tight)

	if err := f.Start(context.Background(), 10, 0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	dateBtn := findButton(t, gw.sends[0].keyboard, "Wed 05 Feb")
	if err := f.HandleCallback(context.Background(), callback(dateBtn.Data)); err != nil {
		t.Fatalf("date callback: %v", err)
	}

	labels := flatLabels(gw.edits[0].keyboard)
	if len(labels) != 2 || labels[0] != "no full hour fits" {
		t.Fatalf("sentinel menu = %v", labels)
	}

	sentinel := findButton(t, gw.edits[0].keyboard, "no full hour fits")
	if err := f.HandleCallback(context.Background(), callback(sentinel.Data)); err != nil {
		t.Fatalf("sentinel callback: %v", err)
	}
	if last := gw.answers[len(gw.answers)-1]; last != message.NoHourFits {
		t.Fatalf("toast = %q", last)
	}
	if len(gw.edits) != 1 || len(q.Pending()) != 0 {
		t.Fatal("sentinel press must not edit or schedule")
	}
}
