package calendar

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"heraldbot/pkg/logx"
)

const icsDateLayout = "20060102"

// entry is a raw VEVENT before recurrence expansion.
type entry struct {
	uid         string
	summary     string
	description string
	start       time.Time
	end         time.Time
	rrule       string
	exDates     []time.Time
	// recurrence is the RECURRENCE-ID of the instance this entry
	// overrides, nil for base entries.
	recurrence *time.Time
}

// parseFeed decodes an ICS payload into raw entries. Malformed VEVENTs
// are skipped with a warning; only an unreadable payload fails the
// whole parse.
func parseFeed(body []byte, log logx.Logger) ([]entry, error) {
	if len(body) == 0 {
		return nil, errors.New("calendar: empty feed body")
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("calendar: parse feed: %w", err)
	}

	ves := cal.Events()
	entries := make([]entry, 0, len(ves))
	for _, ve := range ves {
		e, err := parseEntry(ve)
		if err != nil {
			log.Warn("calendar entry skipped", logx.Err(err))
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func parseEntry(ve *ical.VEvent) (entry, error) {
	var e entry

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return e, errors.New("missing UID")
	}
	e.uid = uid.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		e.summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		e.description = p.Value
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return e, fmt.Errorf("entry %s: bad DTSTART: %w", e.uid, err)
	}
	e.start = start
	// DTEND is optional in the format. Entries left without a usable
	// end are dropped during expansion.
	if end, err := ve.GetEndAt(); err == nil {
		e.end = end
	}

	// Date-only entries span whole UTC days here regardless of the
	// host timezone the underlying parser picked.
	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart != nil && isDateOnly(dtStart) {
		if d, err := time.ParseInLocation(icsDateLayout, dtStart.Value, time.UTC); err == nil {
			e.start = d
		}
		if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil && isDateOnly(dtEnd) {
			if d, err := time.ParseInLocation(icsDateLayout, dtEnd.Value, time.UTC); err == nil {
				e.end = d
			}
		} else if dtEnd == nil {
			e.end = e.start.Add(24 * time.Hour)
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		e.rrule = p.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseStamp(part); err == nil {
				e.exDates = append(e.exDates, t)
			}
		}
	}

	// Raw property name: the constant for RECURRENCE-ID has shifted
	// between library versions.
	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		if t, err := parseStamp(p.Value); err == nil {
			e.recurrence = &t
		}
	}

	return e, nil
}

func isDateOnly(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// parseStamp handles the basic DATE / DATE-TIME / UTC stamp forms used
// by EXDATE and RECURRENCE-ID. Floating values are read as UTC.
func parseStamp(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, time.UTC)
	default:
		return time.ParseInLocation(icsDateLayout, v, time.UTC)
	}
}
