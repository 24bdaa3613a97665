package engine

import (
	"context"
	"errors"
	"time"

	"github.com/grabd/grabd/internal/domain"
	"github.com/grabd/grabd/internal/executor"
)

const maxBackoff = 60 * time.Second

// transitionLocked is the single path every state change takes. It
// validates the transition, persists the job, and publishes exactly one
// event. Callers hold m.mu.
func (m *QueueManager) transitionLocked(job *domain.Job, to domain.JobState, errNote string) error {
	if !domain.CanTransition(job.State, to) {
		return &domain.StateError{Op: "move to " + string(to), State: job.State}
	}
	prev := job.State
	job.State = to
	if errNote != "" {
		job.LastError = errNote
	}
	if to.IsTerminal() {
		job.FinishedAt = time.Now()
		job.CancelFunc = nil
	}
	m.saveLocked(job)
	m.publishTransitionLocked(job, prev, to)
	return nil
}

func (m *QueueManager) publishTransitionLocked(job *domain.Job, prev, next domain.JobState) {
	m.bus.Publish(domain.Event{
		JobID:     job.ID,
		Kind:      domain.EventTransition,
		PrevState: prev,
		NewState:  next,
		Progress:  job.Progress.Snapshot(job.RetryCount),
		Error:     job.LastError,
		Timestamp: time.Now(),
	})
}

func (m *QueueManager) saveLocked(job *domain.Job) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveJob(job); err != nil {
		m.logf("failed to persist job %s: %v", job.ID, err)
	}
}

// enqueueTailLocked assigns a fresh queue position at the back.
func (m *QueueManager) enqueueTailLocked(job *domain.Job) {
	m.seq++
	job.QueueSeq = m.seq
	job.NotBefore = time.Time{}
	m.order = append(m.order, job.ID)
}

// enqueueBySeqLocked re-inserts a job keeping its original FIFO position,
// used for retries and resumes.
func (m *QueueManager) enqueueBySeqLocked(job *domain.Job) {
	idx := len(m.order)
	for i, id := range m.order {
		if q, ok := m.jobs[id]; ok && q.QueueSeq > job.QueueSeq {
			idx = i
			break
		}
	}
	m.order = append(m.order[:idx], append([]string{job.ID}, m.order[idx:]...)...)
}

func (m *QueueManager) dequeueLocked(id string) {
	for i, qid := range m.order {
		if qid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

// admitLocked fills free slots with eligible queued jobs, FIFO. Jobs in a
// retry backoff window are skipped until their NotBefore passes; a timer
// re-runs admission then.
func (m *QueueManager) admitLocked() {
	if m.closed {
		return
	}
	now := time.Now()
	var earliestWait time.Time

	for m.runningCount < m.limit {
		picked := -1
		for i, id := range m.order {
			job, ok := m.jobs[id]
			if !ok || job.State != domain.StateQueued {
				continue
			}
			if _, busy := m.workers[id]; busy {
				// The previous transfer goroutine has not released its
				// slot yet. completeTransfer re-runs admission once it
				// exits, so the job is admitted then, never twice.
				continue
			}
			if job.NotBefore.After(now) {
				if earliestWait.IsZero() || job.NotBefore.Before(earliestWait) {
					earliestWait = job.NotBefore
				}
				continue
			}
			picked = i
			break
		}
		if picked < 0 {
			break
		}

		id := m.order[picked]
		m.order = append(m.order[:picked], m.order[picked+1:]...)
		job := m.jobs[id]

		if err := m.transitionLocked(job, domain.StateRunning, ""); err != nil {
			m.logf("admission rejected for job %s: %v", id, err)
			continue
		}

		ctx, cancel := context.WithCancel(m.baseCtx)
		job.CancelFunc = cancel
		m.workers[id] = struct{}{}
		m.runningCount++
		m.wg.Add(1)
		go m.runTransfer(ctx, job)
	}

	if !earliestWait.IsZero() {
		delay := time.Until(earliestWait)
		if delay < 0 {
			delay = 0
		}
		time.AfterFunc(delay+time.Millisecond, func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if !m.closed {
				m.admitLocked()
			}
		})
	}
}

// startResolve resolves variants off the admission path. Resolution does
// not consume a download slot.
func (m *QueueManager) startResolve(job *domain.Job) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		m.mu.Lock()
		if err := m.transitionLocked(job, domain.StateResolving, ""); err != nil {
			// Canceled before resolution started.
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		title, variants, err := m.resolver.Resolve(m.baseCtx, job.URL)

		m.mu.Lock()
		defer m.mu.Unlock()
		if job.State != domain.StateResolving {
			// Canceled (or shut down) while resolving.
			return
		}
		if err != nil {
			m.logf("resolution failed for %s: %v", job.URL, err)
			_ = m.transitionLocked(job, domain.StateFailed, err.Error())
			return
		}
		if len(variants) == 0 {
			_ = m.transitionLocked(job, domain.StateFailed, domain.ErrNoVariants.Error())
			return
		}

		job.Title = title
		job.Variants = variants
		domain.SortVariants(job.Variants)
		_ = m.transitionLocked(job, domain.StateAwaitingSelection, "")
	}()
}

// runTransfer drives one admitted job: open the stream, hand it to the
// executor, then route the outcome through retry handling.
func (m *QueueManager) runTransfer(ctx context.Context, job *domain.Job) {
	defer m.wg.Done()

	exec := &executor.Executor{
		TempSuffix:       m.tempSuffix,
		ProgressInterval: m.progressInterval,
		IdleTimeout:      m.idleTimeout,
		Logger:           m.logger,
		OnSample: func(snap domain.ProgressSnapshot) {
			m.bus.Publish(domain.Event{
				JobID:     job.ID,
				Kind:      domain.EventProgress,
				Progress:  snap,
				Timestamp: time.Now(),
			})
		},
	}

	var finalPath string
	stream, total, err := m.resolver.Open(ctx, job.URL, *job.Variant)
	if err == nil {
		finalPath, err = exec.Run(ctx, stream, total, job.DestPath, &job.Progress, job.RetryCount)
	}

	m.completeTransfer(job, finalPath, err)
}

func (m *QueueManager) completeTransfer(job *domain.Job, finalPath string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.runningCount--
	delete(m.workers, job.ID)

	switch {
	case job.State != domain.StateRunning:
		// A pause, cancel, or resume already moved the job on; the worker
		// only releases its slot. A resumed job sits in the queue and is
		// admitted by the admission pass below.
		job.CancelFunc = nil

	case m.closed:
		// Shutdown: persist as queued so the next start resumes it. No
		// event; the bus is going away.
		job.State = domain.StateQueued
		job.CancelFunc = nil
		m.saveLocked(job)

	case err == nil:
		job.DestPath = finalPath
		_ = m.transitionLocked(job, domain.StateSucceeded, "")

	case errors.Is(err, context.Canceled):
		// Canceled under the lock race: state flips to Canceled right
		// after; nothing to do here.

	case domain.Retryable(err) && job.RetryCount < m.maxRetries:
		job.RetryCount++
		job.NotBefore = time.Now().Add(m.backoff(job.RetryCount))
		m.logf("transfer attempt %d/%d for job %s failed: %v", job.RetryCount, m.maxRetries, job.ID, err)
		m.enqueueBySeqLocked(job)
		_ = m.transitionLocked(job, domain.StateQueued, err.Error())

	default:
		m.logf("job %s permanently failed: %v", job.ID, err)
		_ = m.transitionLocked(job, domain.StateFailed, err.Error())
	}

	m.admitLocked()
}

func (m *QueueManager) backoff(attempt int) time.Duration {
	d := m.retryBackoff
	if d <= 0 {
		d = 2 * time.Second
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

// restore loads persisted jobs. Transfers that were interrupted mid-flight
// go back to the queue; unfinished resolutions restart from scratch.
func (m *QueueManager) restore() {
	if m.store == nil {
		return
	}
	jobs, err := m.store.GetJobs()
	if err != nil {
		m.logf("could not restore jobs: %v", err)
		return
	}

	m.mu.Lock()
	var resolveAgain []*domain.Job
	for _, job := range jobs {
		if job.QueueSeq > m.seq {
			m.seq = job.QueueSeq
		}
		switch job.State {
		case domain.StateRunning, domain.StateQueued:
			job.State = domain.StateQueued
			job.NotBefore = time.Time{}
			job.Progress.Reset()
			m.jobs[job.ID] = job
			m.enqueueBySeqLocked(job)
		case domain.StatePending, domain.StateResolving:
			job.State = domain.StatePending
			m.jobs[job.ID] = job
			resolveAgain = append(resolveAgain, job)
		default:
			m.jobs[job.ID] = job
		}
	}
	m.admitLocked()
	m.mu.Unlock()

	for _, job := range resolveAgain {
		m.startResolve(job)
	}
}
