// Package message renders the user-visible strings produced by the
// bot. Everything here is pure: no clock, no I/O, no randomness, so
// identical inputs always yield identical text.
package message

import (
	"fmt"
	"time"

	"heraldbot/internal/calendar"
	"heraldbot/internal/storage"
)

// Milestone suffixes as they appear in persisted flag keys.
const (
	SuffixOpen    = "open"
	SuffixWarning = "warning"
	SuffixClosed  = "closed"
)

// Fixed replies used by the selection flow and command handlers.
const (
	NoUpcoming      = "There is no upcoming event to schedule reminders for."
	NoHourFits      = "No full hour fits that date."
	BadToken        = "That menu has expired. Run /remindme again."
	NotAllowed      = "You are not allowed to do that."
	FeedUnavailable = "⚠️ Could not load the event calendar. Try again in a bit."
)

const (
	stampLayout = "Mon, 02 Jan 2006 15:04 UTC"
	dayLayout   = "Mon, 02 Jan 2006"
)

// Stamp renders an instant the way every bot message does.
func Stamp(t time.Time) string { return t.UTC().Format(stampLayout) }

// DayStamp renders a UTC calendar day.
func DayStamp(t time.Time) string { return t.UTC().Format(dayLayout) }

// Milestone returns the announcement for one milestone of one event
// kind, with the configured mention appended when set. Unknown
// combinations return "".
func Milestone(kind calendar.Kind, suffix string, s storage.Settings) string {
	var text, mention string
	switch kind {
	case calendar.KindRegistration:
		mention = s.TeamMention
		switch suffix {
		case SuffixOpen:
			text = "📝 Registration is open! Sign up now."
		case SuffixWarning:
			text = "⏳ Registration closes in 6 hours. Last call!"
		case SuffixClosed:
			text = "🔒 Registration is closed."
		}
	case calendar.KindEvent:
		mention = s.SecondaryMention
		switch suffix {
		case SuffixWarning:
			text = "📣 The event starts in 48 hours."
		case SuffixClosed:
			text = "🔒 24 hours to go. Entries are locked."
		case SuffixOpen:
			text = "🗳 The event has wrapped up. Results and voting are open!"
		}
	}
	if text == "" {
		return ""
	}
	if mention != "" {
		text += " " + mention
	}
	return text
}

// Countdown is the reminder delivered before a picked start time.
func Countdown(minutes int, runAt time.Time) string {
	return fmt.Sprintf("⏰ Starts in %d minutes (%s).", minutes, Stamp(runAt))
}

// Scheduled is the step-three summary edited into the selection menu.
func Scheduled(runAt time.Time, n int) string {
	switch n {
	case 0:
		return fmt.Sprintf("You picked %s, but both reminder times have already passed. Nothing was scheduled.", Stamp(runAt))
	case 1:
		return fmt.Sprintf("✅ Locked in %s. One reminder scheduled.", Stamp(runAt))
	default:
		return fmt.Sprintf("✅ Locked in %s. %d reminders scheduled.", Stamp(runAt), n)
	}
}

// ScheduledToast is the short callback answer for step three.
func ScheduledToast(n int) string {
	switch n {
	case 0:
		return "Nothing scheduled: both times already passed"
	case 1:
		return "1 reminder scheduled"
	default:
		return fmt.Sprintf("%d reminders scheduled", n)
	}
}

// DateTitle heads the date menu (step one, and step two's back target).
func DateTitle(start, end time.Time) string {
	return fmt.Sprintf("📅 Pick a day between %s and %s:", Stamp(start), Stamp(end))
}

// HourTitle heads the hour menu (step two).
func HourTitle(day time.Time) string {
	return fmt.Sprintf("🕐 Pick a start hour on %s (UTC):", DayStamp(day))
}

// DateLabel is the button label for one candidate day.
func DateLabel(day time.Time) string { return day.UTC().Format("Mon 02 Jan") }

// HourLabel is the button label for one candidate hour.
func HourLabel(hour int) string { return fmt.Sprintf("%02d:00", hour) }
