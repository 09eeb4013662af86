package dispatch

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/sesh-im/sesh-go/internal/store"
)

// retryDelay spaces retry sweeps when a job fails retryably.
const retryDelay = 5 * time.Second

// TerminalFunc observes a job that was abandoned (permanent failure or
// exhausted failure budget). The job record is already gone.
type TerminalFunc func(rec *store.JobRecord, err error)

// Queue drains persisted job records one at a time. A single consumer
// goroutine serializes all execution, so job handlers never race with
// each other over storage rows.
type Queue struct {
	store    *store.Store
	pipeline *Pipeline
	logger   *log.Logger

	wake chan struct{}
	done chan struct{}
	once sync.Once

	// OnTerminal, if set, is called for every abandoned job.
	OnTerminal TerminalFunc
}

func newQueue(st *store.Store, p *Pipeline, logger *log.Logger) *Queue {
	return &Queue{
		store:    st,
		pipeline: p,
		logger:   logger,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Notify wakes the consumer. Safe to call from any goroutine; multiple
// calls before a sweep coalesce into one.
func (q *Queue) Notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Start launches the consumer goroutine. Jobs that survived a previous
// process run are swept immediately. Start may be called once; the
// consumer stops when ctx is cancelled.
func (q *Queue) Start(ctx context.Context) {
	q.once.Do(func() {
		go q.run(ctx)
	})
}

// Done is closed when the consumer goroutine has exited.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)

	// Startup sweep picks up jobs persisted before the last shutdown.
	retry := q.sweep(ctx)

	for {
		var t *time.Timer
		var timer <-chan time.Time
		if retry {
			t = time.NewTimer(retryDelay)
			timer = t.C
		}
		select {
		case <-ctx.Done():
			if t != nil {
				t.Stop()
			}
			return
		case <-q.wake:
		case <-timer:
		}
		if t != nil {
			t.Stop()
		}
		retry = q.sweep(ctx)
	}
}

// sweep runs every pending job once, in insertion order. It reports
// whether any job failed retryably and is still pending.
func (q *Queue) sweep(ctx context.Context) (retryPending bool) {
	jobs, err := q.store.PendingJobs()
	if err != nil {
		logf(q.logger, "dispatch: list pending jobs: %v", err)
		return true
	}
	for _, rec := range jobs {
		if ctx.Err() != nil {
			return false
		}
		if q.runOne(ctx, rec) {
			retryPending = true
		}
	}
	return retryPending
}

// runOne executes a single job record and settles its outcome:
// success deletes the record, a permanent failure abandons it, and a
// retryable failure bumps the counter until the kind's budget is spent.
func (q *Queue) runOne(ctx context.Context, rec *store.JobRecord) (retryPending bool) {
	err := q.execute(ctx, rec)
	if err == nil {
		if derr := q.store.DeleteJob(rec.ID); derr != nil {
			logf(q.logger, "dispatch: delete finished job %s: %v", rec.ID, derr)
		}
		return false
	}

	if isPermanent(err) {
		logf(q.logger, "dispatch: job %s (%s) failed permanently: %v", rec.ID, rec.Kind, err)
		q.abandon(rec, err)
		return false
	}

	rec.FailureCount++
	if rec.FailureCount >= failureBudget(rec.Kind) {
		logf(q.logger, "dispatch: job %s (%s) exhausted %d attempts: %v",
			rec.ID, rec.Kind, rec.FailureCount, err)
		q.abandon(rec, err)
		return false
	}

	logf(q.logger, "dispatch: job %s (%s) failed (attempt %d): %v",
		rec.ID, rec.Kind, rec.FailureCount, err)
	if serr := q.store.SetJobFailureCount(rec.ID, rec.FailureCount); serr != nil {
		logf(q.logger, "dispatch: persist failure count for job %s: %v", rec.ID, serr)
	}
	return true
}

// Defer parks a job so sweeps skip it until Resume.
func (q *Queue) Defer(jobID string) error {
	return q.store.SetJobDeferred(jobID, true)
}

// Resume un-parks a deferred job and wakes the consumer.
func (q *Queue) Resume(jobID string) error {
	if err := q.store.SetJobDeferred(jobID, false); err != nil {
		return err
	}
	q.Notify()
	return nil
}

func (q *Queue) abandon(rec *store.JobRecord, err error) {
	switch rec.Kind {
	case KindAttachmentDownload, KindAttachmentUpload:
		// The pointer must reflect that no further attempts will come,
		// not just the last attempt's failure.
		if job, derr := decodeAttachmentJob(rec); derr == nil {
			if serr := q.store.SetAttachmentState(job.AttachmentID, store.AttachmentPermanentlyFailed); serr != nil {
				logf(q.logger, "dispatch: mark attachment %s abandoned: %v", job.AttachmentID, serr)
			}
		}
	}
	if derr := q.store.DeleteJob(rec.ID); derr != nil {
		logf(q.logger, "dispatch: delete abandoned job %s: %v", rec.ID, derr)
	}
	if q.OnTerminal != nil {
		q.OnTerminal(rec, err)
	}
}

func (q *Queue) execute(ctx context.Context, rec *store.JobRecord) error {
	switch rec.Kind {
	case KindSend:
		return q.pipeline.runSendJob(ctx, rec)
	case KindConfigSync:
		return q.pipeline.runConfigSyncJob(ctx, rec)
	case KindAttachmentDownload:
		return q.pipeline.runDownloadJob(ctx, rec)
	case KindAttachmentUpload:
		return q.pipeline.runUploadJob(ctx, rec)
	default:
		return permanentf("dispatch: unknown job kind %q", rec.Kind)
	}
}
