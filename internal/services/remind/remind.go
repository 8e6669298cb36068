// Package remind owns the one-shot reminder queue: scheduling, group
// replacement and the periodic sweep that delivers due jobs.
package remind

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"heraldbot/internal/storage"
	"heraldbot/internal/transport"
	"heraldbot/pkg/logx"
)

// Gateway is the outbound surface the queue needs. transport.Adapter
// satisfies it.
type Gateway interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
}

// Options configures a Queue.
type Options struct {
	Store   *storage.Store
	Gateway Gateway
	Log     logx.Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Queue schedules reminders into the store and sweeps them out again
// when they come due. All methods are safe for concurrent use.
type Queue struct {
	store   *storage.Store
	gateway Gateway
	log     logx.Logger
	now     func() time.Time
	newID   func() string

	sweepMu sync.Mutex
}

// New builds a Queue.
func New(opt Options) *Queue {
	now := opt.Now
	if now == nil {
		now = time.Now
	}
	return &Queue{
		store:   opt.Store,
		gateway: opt.Gateway,
		log:     opt.Log,
		now:     now,
		newID:   uuid.NewString,
	}
}

// Schedule queues one reminder. A fireAt already in the past is
// accepted; the job fires on the next sweep. On a persistence error the
// job is still queued in memory and returned along with the error.
func (q *Queue) Schedule(chatID int64, threadID int, fireAt time.Time, text, groupKey string) (storage.ReminderJob, error) {
	job := storage.ReminderJob{
		ID:       q.newID(),
		ChatID:   chatID,
		ThreadID: threadID,
		FireAt:   fireAt.UTC(),
		Message:  text,
		GroupKey: groupKey,
	}
	err := q.store.AppendJob(job)
	return job, err
}

// CancelGroup removes the unsent jobs scheduled under the key and
// returns how many were removed. An empty key cancels nothing.
func (q *Queue) CancelGroup(groupKey string) int {
	if groupKey == "" {
		return 0
	}
	n, err := q.store.RemoveGroup(groupKey)
	if err != nil {
		q.log.Warn("reminder group removal not persisted",
			logx.Err(err), logx.String("group", groupKey))
	}
	return n
}

// Sweep delivers every due job once, then evicts everything marked
// Sent. Failed deliveries are not retried: the job is marked sent
// either way. Overlapping sweeps are skipped rather than queued.
func (q *Queue) Sweep(ctx context.Context) {
	if !q.sweepMu.TryLock() {
		q.log.Debug("sweep already running")
		return
	}
	defer q.sweepMu.Unlock()

	due := q.store.DueJobs(q.now().UTC())
	processed := make([]string, 0, len(due))
	for _, job := range due {
		to := transport.ChatTarget{ChatID: job.ChatID, ThreadID: job.ThreadID}
		if _, err := q.gateway.SendText(ctx, to, job.Message, nil); err != nil {
			q.log.Warn("reminder delivery failed",
				logx.Err(err), logx.String("job", job.ID), logx.I64("chat", job.ChatID))
		}
		processed = append(processed, job.ID)
	}

	// Runs even with nothing due so Sent leftovers from an interrupted
	// earlier sweep still get evicted.
	evicted, err := q.store.MarkSentAndEvict(processed)
	if err != nil {
		q.log.Warn("reminder eviction not persisted", logx.Err(err))
	}
	if len(due) > 0 || evicted > 0 {
		q.log.Info("sweep complete",
			logx.Int("delivered", len(due)), logx.Int("evicted", evicted))
	}
}

// Pending lists unsent jobs ordered by due time.
func (q *Queue) Pending() []storage.ReminderJob {
	all := q.store.Jobs()
	pending := all[:0]
	for _, j := range all {
		if !j.Sent {
			pending = append(pending, j)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].FireAt.Before(pending[j].FireAt)
	})
	return pending
}
