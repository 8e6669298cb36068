// Package calendar turns a shared ICS feed into the concrete event
// windows the rest of the bot acts on. Recurring entries are expanded
// into standalone occurrences before they leave this package, and all
// instants are normalized to UTC.
package calendar

import (
	"context"
	"regexp"
	"strings"
	"time"
)

// Kind classifies an event by the Type tag in its text.
type Kind string

const (
	// KindRegistration marks a sign-up window.
	KindRegistration Kind = "registration"
	// KindEvent marks a main event window.
	KindEvent Kind = "event"
	// KindUnknown is anything without a recognized tag. Such events are
	// carried through unchanged and skipped by consumers.
	KindUnknown Kind = ""
)

// Event is one concrete occurrence from the feed. End is always after
// Start; entries violating that are dropped during expansion.
type Event struct {
	// ID is the ICS UID for single events and UID + "@" + RFC3339 of
	// the scheduled slot for recurrence instances.
	ID          string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	Kind        Kind
}

// Source yields the current set of expanded events.
type Source interface {
	Events(ctx context.Context) ([]Event, error)
}

var typeTag = regexp.MustCompile(`(?i)Type:\s*([a-z0-9_]+)`)

// ParseKind extracts the Type tag from the description, falling back to
// the summary when the description carries none. The first match wins;
// unrecognized tags map to KindUnknown.
func ParseKind(description, summary string) Kind {
	for _, text := range []string{description, summary} {
		m := typeTag.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		switch strings.ToLower(m[1]) {
		case string(KindRegistration):
			return KindRegistration
		case string(KindEvent):
			return KindEvent
		}
		return KindUnknown
	}
	return KindUnknown
}
