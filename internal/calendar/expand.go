package calendar

import (
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	"heraldbot/pkg/logx"
)

// maxOccurrences caps how many instances one recurring entry may
// contribute inside the expansion window.
const maxOccurrences = 500

// expand turns raw entries into concrete events inside [from, to],
// normalized to UTC and sorted by start time then ID. Entries whose end
// does not lie after their start are dropped.
func expand(entries []entry, from, to time.Time, log logx.Logger) []Event {
	base := make([]entry, 0, len(entries))
	overrides := make(map[string][]entry)
	for _, e := range entries {
		if e.recurrence != nil {
			overrides[e.uid] = append(overrides[e.uid], e)
			continue
		}
		base = append(base, e)
	}

	var out []Event
	for _, e := range base {
		if !e.end.After(e.start) {
			log.Warn("calendar entry dropped: end not after start",
				logx.String("uid", e.uid), logx.Time("start", e.start))
			continue
		}
		if e.rrule == "" {
			if e.end.Before(from) || e.start.After(to) {
				continue
			}
			out = append(out, newEvent(e.uid, e, e.start, e.end))
			continue
		}
		out = append(out, expandRecurring(e, overrides[e.uid], from, to, log)...)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func expandRecurring(e entry, overrides []entry, from, to time.Time, log logx.Logger) []Event {
	r, err := rrule.StrToRRule(e.rrule)
	if err != nil {
		log.Warn("calendar entry dropped: bad RRULE",
			logx.String("uid", e.uid), logx.Err(err))
		return nil
	}
	r.DTStart(e.start)

	var set rrule.Set
	set.RRule(r)
	loc := e.start.Location()
	for _, ex := range e.exDates {
		set.ExDate(ex.In(loc))
	}

	// Pull the range start back by one duration so occurrences still
	// running at the window edge are included.
	dur := e.end.Sub(e.start)
	slots := set.Between(from.In(loc).Add(-dur), to.In(loc), true)
	if len(slots) > maxOccurrences {
		log.Warn("recurrence capped",
			logx.String("uid", e.uid), logx.Int("cap", maxOccurrences))
		slots = slots[:maxOccurrences]
	}

	out := make([]Event, 0, len(slots))
	for _, slot := range slots {
		src, start, end := e, slot, slot.Add(dur)
		if o, ok := overrideFor(overrides, slot); ok {
			src, start, end = o, o.start, o.end
			if !end.After(start) {
				log.Warn("calendar override dropped: end not after start",
					logx.String("uid", e.uid), logx.Time("slot", slot))
				continue
			}
		}
		out = append(out, newEvent(instanceID(e.uid, slot), src, start, end))
	}
	return out
}

func overrideFor(overrides []entry, slot time.Time) (entry, bool) {
	for _, o := range overrides {
		if o.recurrence != nil && o.recurrence.In(slot.Location()).Equal(slot) {
			return o, true
		}
	}
	return entry{}, false
}

// instanceID keys one occurrence of a recurring entry. The scheduled
// slot is used rather than the possibly overridden start so the
// identity survives instance edits.
func instanceID(uid string, slot time.Time) string {
	return uid + "@" + slot.UTC().Format(time.RFC3339)
}

func newEvent(id string, src entry, start, end time.Time) Event {
	return Event{
		ID:          id,
		Summary:     src.summary,
		Description: src.description,
		Start:       start.UTC(),
		End:         end.UTC(),
		Kind:        ParseKind(src.description, src.summary),
	}
}
