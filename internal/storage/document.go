// Package storage persists the bot's durable state: operator settings,
// announcement milestone flags and the reminder queue. Everything lives in
// one document that is loaded at startup and written back on every mutation.
package storage

import (
	"errors"
	"time"
)

var (
	ErrClosed = errors.New("storage: store is closed")

	// ErrDisabled is returned by drivers compiled out of this build.
	ErrDisabled = errors.New("storage: sqlite driver not built (rebuild with -tags sqlite)")
)

// Settings are operator-configured identifiers, changed via bot commands.
type Settings struct {
	// AnnounceChatID is the announcement target. 0 disables announcements.
	AnnounceChatID int64 `json:"announce_chat_id,omitempty"`

	// SecondaryChatID receives main-event milestones when set.
	SecondaryChatID int64 `json:"secondary_chat_id,omitempty"`

	// AccessRole is the minimum member role for the reminder picker.
	// Empty means everyone.
	AccessRole string `json:"access_role,omitempty"`

	TeamMention      string `json:"team_mention,omitempty"`
	SecondaryMention string `json:"secondary_mention,omitempty"`
}

// ReminderJob is one queued reminder delivery.
type ReminderJob struct {
	ID       string    `json:"id"`
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	FireAt   time.Time `json:"fire_at"`
	Message  string    `json:"message"`
	Sent     bool      `json:"sent"`

	// GroupKey ties the job to the selection that created it; scheduling a
	// new selection for the same key replaces unsent jobs wholesale.
	GroupKey string `json:"group_key,omitempty"`
}

// document is the persisted shape. Milestone flag keys look like
// "registration:<event>:<YYYY-MM-DD>:<suffix>"; a present key means that
// announcement went out (flags are never unset).
type document struct {
	Settings   Settings        `json:"settings"`
	Milestones map[string]bool `json:"milestones"`
	Reminders  []ReminderJob   `json:"reminders"`
}

func newDocument() document {
	return document{Milestones: map[string]bool{}}
}

// normalize repairs zero-value holes after decoding.
func (d *document) normalize() {
	if d.Milestones == nil {
		d.Milestones = map[string]bool{}
	}
}
