package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hrygo/mnemo/mcos/memory"
	"github.com/hrygo/mnemo/mcos/observability/logging"
)

type jobType string

const (
	jobSummarize      jobType = "summarize"
	jobProfileExtract jobType = "profile_extract"
	jobVectorUpload   jobType = "vector_upload"
)

type job struct {
	id      string
	typ     jobType
	userID  string
	chatID  string
	turnID  string
	attempt int
}

func newJob(typ jobType, userID, chatID, turnID string) *job {
	return &job{
		id:     uuid.NewString(),
		typ:    typ,
		userID: userID,
		chatID: chatID,
		turnID: turnID,
	}
}

// enqueue schedules a job without blocking the caller. When the queue sits
// above the high-water mark, redundant upload jobs for a chat coalesce into
// the one already queued; other overflow is dropped with a warning, since
// every job re-derives its work from session state and the next turn will
// schedule it again.
func (o *Orchestrator) enqueue(j *job) {
	key := chatKey(j.userID, j.chatID)

	if j.typ == jobVectorUpload {
		o.mu.Lock()
		if o.pendingUpload[key] && len(o.queue) >= o.cfg.QueueHighWater {
			o.mu.Unlock()
			o.metrics.JobCoalesced()
			return
		}
		o.pendingUpload[key] = true
		o.mu.Unlock()
	}

	select {
	case o.queue <- j:
		o.metrics.JobEnqueued(string(j.typ))
		o.metrics.SetQueueDepth(len(o.queue))
	default:
		o.clearPendingUpload(j)
		o.logger.Warn("job queue full, dropping", "type", string(j.typ), "chat_id", j.chatID)
		o.metrics.JobDeadLetter(string(j.typ))
	}
}

// enqueueAfter re-enqueues a job once delay elapses, unless the chat drains
// or the orchestrator stops first.
func (o *Orchestrator) enqueueAfter(j *job, delay time.Duration) {
	key := chatKey(j.userID, j.chatID)

	o.mu.Lock()
	if o.draining[key] {
		o.mu.Unlock()
		return
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		o.mu.Lock()
		if set, ok := o.timers[key]; ok {
			delete(set, t)
			if len(set) == 0 {
				delete(o.timers, key)
			}
		}
		o.mu.Unlock()
		select {
		case <-o.stopCh:
			return
		default:
		}
		o.enqueue(j)
	})
	set, ok := o.timers[key]
	if !ok {
		set = make(map[*time.Timer]struct{})
		o.timers[key] = set
	}
	set[t] = struct{}{}
	o.mu.Unlock()
}

// cancelTimersLocked stops all delayed re-enqueues for a chat. Caller holds
// o.mu.
func (o *Orchestrator) cancelTimersLocked(key string) {
	for t := range o.timers[key] {
		t.Stop()
	}
	delete(o.timers, key)
}

func (o *Orchestrator) clearPendingUpload(j *job) {
	if j.typ != jobVectorUpload {
		return
	}
	o.mu.Lock()
	delete(o.pendingUpload, chatKey(j.userID, j.chatID))
	o.mu.Unlock()
}

func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for {
		select {
		case <-o.stopCh:
			// Drain what is already queued before exiting.
			for {
				select {
				case j := <-o.queue:
					o.run(j)
				default:
					return
				}
			}
		case j := <-o.queue:
			o.metrics.SetQueueDepth(len(o.queue))
			o.run(j)
		}
	}
}

func (o *Orchestrator) run(j *job) {
	o.clearPendingUpload(j)

	// Job runners pull the logger back out of ctx, so everything logged on
	// this path carries the job id.
	ctx := logging.ToContext(context.Background(),
		o.logger.WithFields(map[string]any{"job_id": j.id, "job_type": string(j.typ)}))
	var err error
	switch j.typ {
	case jobSummarize:
		err = o.runSummarize(ctx, j.userID, j.chatID, false)
	case jobProfileExtract:
		err = o.runProfileExtract(ctx, j.userID, j.chatID)
	case jobVectorUpload:
		err = o.runUploadJob(ctx, j)
	}
	if err == nil {
		o.metrics.JobCompleted(string(j.typ))
		return
	}
	o.retry(j, err)
}

// retry re-enqueues a failed job with exponential backoff, dead-lettering
// permanent failures and jobs that exhaust their attempts.
func (o *Orchestrator) retry(j *job, err error) {
	j.attempt++
	if !memory.IsTransient(err) || j.attempt >= o.cfg.MaxAttempts {
		o.logger.Error("job dead-lettered",
			"job_id", j.id, "type", string(j.typ),
			"chat_id", j.chatID, "attempts", j.attempt, "error", err)
		o.metrics.JobDeadLetter(string(j.typ))
		return
	}

	delay := o.cfg.RetryBase << (j.attempt - 1)
	if delay > o.cfg.RetryCap {
		delay = o.cfg.RetryCap
	}
	o.logger.Warn("job failed, retrying",
		"job_id", j.id, "type", string(j.typ),
		"chat_id", j.chatID, "attempt", j.attempt, "delay", delay, "error", err)
	o.metrics.JobRetried(string(j.typ))
	o.enqueueAfter(j, delay)
}
