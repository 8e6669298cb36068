package calendar

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"heraldbot/pkg/logx"
)

func icsBody(events ...string) string {
	lines := []string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//heraldbot//test//EN"}
	for _, ev := range events {
		lines = append(lines, "BEGIN:VEVENT")
		lines = append(lines, strings.Split(strings.TrimSpace(ev), "\n")...)
		lines = append(lines, "END:VEVENT")
	}
	lines = append(lines, "END:VCALENDAR")
	return strings.Join(lines, "\r\n") + "\r\n"
}

func serveBody(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testFeed(t *testing.T, url string, now time.Time) *Feed {
	t.Helper()
	f, err := NewFeed(Options{
		URL:      url,
		Lookback: 7 * 24 * time.Hour,
		Horizon:  90 * 24 * time.Hour,
		Log:      logx.Nop(),
		Now:      func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewFeed: %v", err)
	}
	return f
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		name        string
		description string
		summary     string
		want        Kind
	}{
		{"description tag", "Type: registration", "whatever", KindRegistration},
		{"summary fallback", "no tag here", "raid night Type: event", KindEvent},
		{"case insensitive", "tYpE:   EVENT", "", KindEvent},
		{"description wins over summary", "Type: registration", "Type: event", KindRegistration},
		{"unrecognized tag", "Type: party", "Type: event", KindUnknown},
		{"no tag", "just text", "just text", KindUnknown},
		{"empty", "", "", KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseKind(tt.description, tt.summary); got != tt.want {
				t.Fatalf("ParseKind(%q, %q) = %q, want %q", tt.description, tt.summary, got, tt.want)
			}
		})
	}
}

func TestFeedEvents(t *testing.T) {
	body := icsBody(
		`UID:reg-1
DTSTART:20250110T000000Z
DTEND:20250112T000000Z
SUMMARY:Signups
DESCRIPTION:Type: registration`,
		`UID:raid-1
DTSTART:20250117T180000Z
DTEND:20250117T200000Z
SUMMARY:Weekly raid
DESCRIPTION:Type: event
RRULE:FREQ=WEEKLY;COUNT=4
EXDATE:20250124T180000Z`,
		`UID:misc-1
DTSTART:20250111T100000Z
DTEND:20250111T110000Z
SUMMARY:Untagged meeting`,
		`UID:broken-1
DTSTART:20250115T100000Z
SUMMARY:No end`,
		`UID:old-1
DTSTART:20250101T000000Z
DTEND:20250102T000000Z
SUMMARY:Long gone
DESCRIPTION:Type: event`,
	)
	srv := serveBody(t, body)
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	f := testFeed(t, srv.URL, now)

	events, err := f.Events(context.Background())
	if err != nil {
		t.Fatalf("Events: %v", err)
	}

	wantIDs := []string{
		"reg-1",
		"misc-1",
		"raid-1@2025-01-17T18:00:00Z",
		"raid-1@2025-01-31T18:00:00Z",
		"raid-1@2025-02-07T18:00:00Z",
	}
	if len(events) != len(wantIDs) {
		t.Fatalf("got %d events, want %d: %+v", len(events), len(wantIDs), events)
	}
	for i, id := range wantIDs {
		if events[i].ID != id {
			t.Fatalf("events[%d].ID = %q, want %q", i, events[i].ID, id)
		}
	}

	reg := events[0]
	if reg.Kind != KindRegistration {
		t.Fatalf("reg kind = %q, want %q", reg.Kind, KindRegistration)
	}
	if !reg.Start.Equal(time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("reg start = %v", reg.Start)
	}
	if !reg.End.Equal(time.Date(2025, 1, 12, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("reg end = %v", reg.End)
	}

	if events[1].Kind != KindUnknown {
		t.Fatalf("untagged kind = %q, want KindUnknown", events[1].Kind)
	}

	first := events[2]
	if first.Kind != KindEvent || first.Summary != "Weekly raid" {
		t.Fatalf("unexpected instance: %+v", first)
	}
	if got := first.End.Sub(first.Start); got != 2*time.Hour {
		t.Fatalf("instance duration = %v, want 2h", got)
	}
}

func TestFeedEventsOverride(t *testing.T) {
	body := icsBody(
		`UID:scrim
DTSTART:20250205T180000Z
DTEND:20250205T190000Z
SUMMARY:Scrim
DESCRIPTION:Type: event
RRULE:FREQ=WEEKLY;COUNT=2`,
		`UID:scrim
RECURRENCE-ID:20250212T180000Z
DTSTART:20250212T190000Z
DTEND:20250212T203000Z
SUMMARY:Scrim (moved)
DESCRIPTION:Type: event`,
	)
	srv := serveBody(t, body)
	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	f := testFeed(t, srv.URL, now)

	events, err := f.Events(context.Background())
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(events), events)
	}

	if events[0].ID != "scrim@2025-02-05T18:00:00Z" || events[0].Summary != "Scrim" {
		t.Fatalf("unexpected base instance: %+v", events[0])
	}

	moved := events[1]
	if moved.ID != "scrim@2025-02-12T18:00:00Z" {
		t.Fatalf("override must keep the slot identity, got %q", moved.ID)
	}
	if !moved.Start.Equal(time.Date(2025, 2, 12, 19, 0, 0, 0, time.UTC)) {
		t.Fatalf("override start = %v", moved.Start)
	}
	if !moved.End.Equal(time.Date(2025, 2, 12, 20, 30, 0, 0, time.UTC)) {
		t.Fatalf("override end = %v", moved.End)
	}
	if moved.Summary != "Scrim (moved)" {
		t.Fatalf("override summary = %q", moved.Summary)
	}
}

func TestFeedEventsAllDay(t *testing.T) {
	body := icsBody(
		`UID:fair
DTSTART;VALUE=DATE:20250120
DTEND;VALUE=DATE:20250122
SUMMARY:Fair
DESCRIPTION:Type: registration`,
	)
	srv := serveBody(t, body)
	now := time.Date(2025, 1, 19, 0, 0, 0, 0, time.UTC)
	f := testFeed(t, srv.URL, now)

	events, err := f.Events(context.Background())
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if !ev.Start.Equal(time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("start = %v, want Jan 20 00:00Z", ev.Start)
	}
	if !ev.End.Equal(time.Date(2025, 1, 22, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("end = %v, want Jan 22 00:00Z", ev.End)
	}
}

func TestFeedConditionalGet(t *testing.T) {
	body := icsBody(`UID:reg-1
DTSTART:20250110T000000Z
DTEND:20250112T000000Z
SUMMARY:Signups
DESCRIPTION:Type: registration`)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	f := testFeed(t, srv.URL, now)

	for i := 0; i < 2; i++ {
		events, err := f.Events(context.Background())
		if err != nil {
			t.Fatalf("Events #%d: %v", i+1, err)
		}
		if len(events) != 1 || events[0].ID != "reg-1" {
			t.Fatalf("Events #%d returned %+v", i+1, events)
		}
	}
	if hits.Load() != 2 {
		t.Fatalf("server hits = %d, want 2", hits.Load())
	}
}

func TestFeedSetURL(t *testing.T) {
	bodyA := icsBody(`UID:a-1
DTSTART:20250110T000000Z
DTEND:20250112T000000Z
SUMMARY:Signups A
DESCRIPTION:Type: registration`)
	bodyB := icsBody(`UID:b-1
DTSTART:20250111T000000Z
DTEND:20250113T000000Z
SUMMARY:Signups B
DESCRIPTION:Type: registration`)

	var revalidated atomic.Bool
	srvA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"a1"` {
			revalidated.Store(true)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"a1"`)
		_, _ = io.WriteString(w, bodyA)
	}))
	t.Cleanup(srvA.Close)

	var conditional atomic.Bool
	srvB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") != "" {
			conditional.Store(true)
		}
		_, _ = io.WriteString(w, bodyB)
	}))
	t.Cleanup(srvB.Close)

	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	f := testFeed(t, srvA.URL, now)

	if _, err := f.Events(context.Background()); err != nil {
		t.Fatalf("first Events: %v", err)
	}

	f.SetURL(srvA.URL)
	events, err := f.Events(context.Background())
	if err != nil {
		t.Fatalf("Events after same-URL SetURL: %v", err)
	}
	if len(events) != 1 || events[0].ID != "a-1" {
		t.Fatalf("Events after same-URL SetURL returned %+v", events)
	}
	if !revalidated.Load() {
		t.Fatal("same-URL SetURL must keep the cached validators")
	}

	f.SetURL(srvB.URL)
	events, err = f.Events(context.Background())
	if err != nil {
		t.Fatalf("Events after SetURL: %v", err)
	}
	if len(events) != 1 || events[0].ID != "b-1" {
		t.Fatalf("Events after SetURL returned %+v", events)
	}
	if conditional.Load() {
		t.Fatal("request to the new endpoint must not carry the old validators")
	}
}

func TestFeedServerErrorFallsBackToCache(t *testing.T) {
	body := icsBody(`UID:reg-1
DTSTART:20250110T000000Z
DTEND:20250112T000000Z
SUMMARY:Signups
DESCRIPTION:Type: registration`)

	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "nope", http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	f := testFeed(t, srv.URL, now)

	if _, err := f.Events(context.Background()); err != nil {
		t.Fatalf("first Events: %v", err)
	}
	fail.Store(true)
	events, err := f.Events(context.Background())
	if err != nil {
		t.Fatalf("Events after upstream failure: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events from cache, want 1", len(events))
	}
}

func TestFeedServerErrorWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	f := testFeed(t, srv.URL, time.Now())
	if _, err := f.Events(context.Background()); err == nil {
		t.Fatal("expected error when upstream fails with no cached body")
	}
}
