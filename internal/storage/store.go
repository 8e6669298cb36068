package storage

import (
	"sort"
	"sync"
	"time"
)

// backend persists document snapshots.
type backend interface {
	// Load returns the stored document, or a zero document when nothing
	// usable exists (missing file, corrupt content).
	Load() (document, error)
	Save(document) error
	Close() error
}

// Store owns the in-memory document and serializes access to it. Every
// mutating operation writes the document back before returning; on a write
// error the in-memory change stands and the error is reported so the caller
// can log it (the next successful save catches up).
type Store struct {
	mu     sync.Mutex
	doc    document
	be     backend
	closed bool
}

func newStore(be backend) (*Store, error) {
	doc, err := be.Load()
	if err != nil {
		return nil, err
	}
	doc.normalize()
	return &Store{doc: doc, be: be}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.be.Close()
}

// Settings returns a copy of the operator settings.
func (s *Store) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Settings
}

// UpdateSettings applies fn to the settings and persists.
func (s *Store) UpdateSettings(fn func(*Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	fn(&s.doc.Settings)
	return s.be.Save(s.doc)
}

// MilestoneFired reports whether the flag key was already announced.
func (s *Store) MilestoneFired(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Milestones[key]
}

// MarkMilestone sets the flag and persists. Flags are never unset.
func (s *Store) MarkMilestone(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.doc.Milestones[key] {
		return nil
	}
	s.doc.Milestones[key] = true
	return s.be.Save(s.doc)
}

// AppendJob adds a reminder job and persists.
func (s *Store) AppendJob(job ReminderJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.doc.Reminders = append(s.doc.Reminders, job)
	return s.be.Save(s.doc)
}

// Jobs returns a copy of all queued jobs.
func (s *Store) Jobs() []ReminderJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ReminderJob(nil), s.doc.Reminders...)
}

// DueJobs returns unsent jobs with FireAt <= now, ordered by FireAt.
func (s *Store) DueJobs(now time.Time) []ReminderJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []ReminderJob
	for _, j := range s.doc.Reminders {
		if !j.Sent && !j.FireAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, k int) bool { return due[i].FireAt.Before(due[k].FireAt) })
	return due
}

// RemoveGroup drops all unsent jobs carrying the group key and persists when
// anything was removed. Returns how many jobs were dropped.
func (s *Store) RemoveGroup(key string) (int, error) {
	if key == "" {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	kept := s.doc.Reminders[:0]
	removed := 0
	for _, j := range s.doc.Reminders {
		if !j.Sent && j.GroupKey == key {
			removed++
			continue
		}
		kept = append(kept, j)
	}
	s.doc.Reminders = kept
	if removed == 0 {
		return 0, nil
	}
	return removed, s.be.Save(s.doc)
}

// MarkSentAndEvict marks the given job ids as sent, then drops every sent
// job from the document, including leftovers from earlier interrupted
// sweeps. One persist covers the whole batch; nothing is written when the
// document did not change.
func (s *Store) MarkSentAndEvict(ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	mark := make(map[string]bool, len(ids))
	for _, id := range ids {
		mark[id] = true
	}
	kept := s.doc.Reminders[:0]
	evicted := 0
	for _, j := range s.doc.Reminders {
		if j.Sent || mark[j.ID] {
			evicted++
			continue
		}
		kept = append(kept, j)
	}
	s.doc.Reminders = kept
	if evicted == 0 {
		return 0, nil
	}
	return evicted, s.be.Save(s.doc)
}
