package engine

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/grabd/grabd/internal/app"
	"github.com/grabd/grabd/internal/domain"
	"github.com/grabd/grabd/internal/events"
	"github.com/grabd/grabd/internal/fileutil"
	"github.com/grabd/grabd/internal/infra/logger"
	"github.com/segmentio/ksuid"
)

// QueueManager is the public API over the job table. All state transitions
// funnel through one mutex-serialized path, so the running count can never
// be observed stale during an admission decision.
type QueueManager struct {
	mu      sync.Mutex
	jobs    map[string]*domain.Job
	order   []string            // ids of queued jobs, FIFO by QueueSeq
	workers map[string]struct{} // job ids whose transfer goroutine is still alive
	limit   int

	runningCount int
	seq          int64
	closed       bool

	resolver app.Resolver
	store    app.Store
	bus      *events.Bus
	logger   *logger.Logger

	downloadDir      string
	tempSuffix       string
	maxRetries       int
	retryBackoff     time.Duration
	idleTimeout      time.Duration
	progressInterval time.Duration

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
}

// NewQueueManager wires the engine from the app context. When the store is
// present, previously persisted jobs are restored: interrupted transfers go
// back to the queue, unfinished resolutions restart.
func NewQueueManager(appCtx *app.Context, bus *events.Bus) *QueueManager {
	ctx, cancel := context.WithCancel(context.Background())

	m := &QueueManager{
		jobs:             make(map[string]*domain.Job),
		workers:          make(map[string]struct{}),
		limit:            appCtx.Config.Queue.MaxConcurrent,
		resolver:         appCtx.Resolver,
		store:            appCtx.Store,
		bus:              bus,
		logger:           appCtx.Logger,
		downloadDir:      appCtx.Config.Download.Dir,
		tempSuffix:       appCtx.Config.Download.TempSuffix,
		maxRetries:       appCtx.Config.Queue.MaxRetries,
		retryBackoff:     appCtx.Config.Queue.RetryBackoff,
		idleTimeout:      appCtx.Config.Queue.IdleTimeout,
		progressInterval: appCtx.Config.Queue.ProgressInterval,
		baseCtx:          ctx,
		baseCancel:       cancel,
	}
	m.restore()
	return m
}

// Submit registers a URL and starts resolving its variants in the background.
func (m *QueueManager) Submit(url string) (*domain.Job, error) {
	job := &domain.Job{
		ID:        ksuid.New().String(),
		URL:       url,
		State:     domain.StatePending,
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, domain.ErrShuttingDown
	}
	m.jobs[job.ID] = job
	m.saveLocked(job)
	m.publishTransitionLocked(job, "", domain.StatePending)
	snap := job.Clone()
	m.mu.Unlock()

	m.startResolve(job)
	return snap, nil
}

// Get returns a snapshot of the job with the given id. The copy is safe to
// read while the engine keeps mutating the live job.
func (m *QueueManager) Get(id string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return job.Clone(), nil
}

// List returns snapshots of every job in submission order. Finished jobs
// stay listed until removed.
func (m *QueueManager) List() []*domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	jobs := make([]*domain.Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job.Clone())
	}
	// ksuids sort chronologically
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs
}

// ListVariants returns the resolved variants for a job.
func (m *QueueManager) ListVariants(id string) ([]domain.VariantDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if len(job.Variants) == 0 {
		return nil, &domain.StateError{Op: "list variants of", State: job.State}
	}
	return append([]domain.VariantDescriptor(nil), job.Variants...), nil
}

// SelectVariant picks one of the resolved variants and moves the job into
// the queue. Admission is implicit from here on.
func (m *QueueManager) SelectVariant(id, variantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if job.State != domain.StateAwaitingSelection {
		return &domain.StateError{Op: "select a variant for", State: job.State}
	}
	variant, ok := job.FindVariant(variantID)
	if !ok {
		return domain.ErrVariantNotFound
	}

	job.Variant = variant
	job.DestPath = m.destPathFor(job, *variant)
	if variant.SizeBytes > 0 {
		job.Progress.SetTotal(variant.SizeBytes)
	}

	m.enqueueTailLocked(job)
	if err := m.transitionLocked(job, domain.StateQueued, ""); err != nil {
		return err
	}
	m.admitLocked()
	return nil
}

// Pause stops a running transfer. The partial file is discarded; resuming
// re-queues the job for a fresh transfer.
func (m *QueueManager) Pause(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if job.State != domain.StateRunning {
		return &domain.StateError{Op: "pause", State: job.State}
	}
	if err := m.transitionLocked(job, domain.StatePaused, ""); err != nil {
		return err
	}
	if job.CancelFunc != nil {
		job.CancelFunc()
	}
	return nil
}

// Resume puts a paused job back into the queue at its original priority.
func (m *QueueManager) Resume(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if job.State != domain.StatePaused {
		return &domain.StateError{Op: "resume", State: job.State}
	}
	m.enqueueBySeqLocked(job)
	if err := m.transitionLocked(job, domain.StateQueued, ""); err != nil {
		return err
	}
	m.admitLocked()
	return nil
}

// Cancel stops a job from any non-terminal state.
func (m *QueueManager) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if job.State.IsTerminal() {
		return &domain.StateError{Op: "cancel", State: job.State}
	}

	wasRunning := job.State == domain.StateRunning
	if job.State == domain.StateQueued {
		m.dequeueLocked(job.ID)
	}
	if err := m.transitionLocked(job, domain.StateCanceled, ""); err != nil {
		return err
	}
	if wasRunning && job.CancelFunc != nil {
		job.CancelFunc()
	}
	m.admitLocked()
	return nil
}

// RetryNow re-queues a failed job immediately, bypassing backoff. The retry
// budget and progress counters start over.
func (m *QueueManager) RetryNow(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if job.State != domain.StateFailed {
		return &domain.StateError{Op: "retry", State: job.State}
	}

	job.RetryCount = 0
	job.LastError = ""
	job.NotBefore = time.Time{}
	job.Progress.Reset()
	job.FinishedAt = time.Time{}

	m.enqueueTailLocked(job)
	if err := m.transitionLocked(job, domain.StateQueued, ""); err != nil {
		return err
	}
	m.admitLocked()
	return nil
}

// Remove deletes a terminal job from the table and the store.
func (m *QueueManager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if !job.State.IsTerminal() {
		return &domain.StateError{Op: "remove", State: job.State}
	}

	delete(m.jobs, id)
	if m.store != nil {
		if err := m.store.DeleteJob(id); err != nil {
			m.logf("failed to delete job %s from store: %v", id, err)
		}
	}
	return nil
}

// Reorder moves a queued job to the given position (0-based) within the
// queue. Ordering is the only thing that changes.
func (m *QueueManager) Reorder(id string, position int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if job.State != domain.StateQueued {
		return &domain.StateError{Op: "reorder", State: job.State}
	}

	m.dequeueLocked(id)
	if position < 0 {
		position = 0
	}
	if position > len(m.order) {
		position = len(m.order)
	}
	m.order = append(m.order[:position], append([]string{id}, m.order[position:]...)...)

	// Renumber so later re-queues respect the explicit order.
	for _, qid := range m.order {
		if q, ok := m.jobs[qid]; ok {
			m.seq++
			q.QueueSeq = m.seq
			m.saveLocked(q)
		}
	}
	return nil
}

// SetConcurrencyLimit changes the admission bound. Raising it admits queued
// jobs immediately; lowering it never preempts a running transfer.
func (m *QueueManager) SetConcurrencyLimit(n int) error {
	if n < 1 {
		return domain.ErrInvalidLimit
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limit = n
	m.admitLocked()
	return nil
}

// ConcurrencyLimit returns the current admission bound.
func (m *QueueManager) ConcurrencyLimit() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limit
}

// RunningCount returns how many transfers hold a slot right now.
func (m *QueueManager) RunningCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runningCount
}

// Subscribe registers an observer on the event bus.
func (m *QueueManager) Subscribe() *events.Subscriber {
	return m.bus.Subscribe()
}

// Unsubscribe detaches an observer.
func (m *QueueManager) Unsubscribe(s *events.Subscriber) {
	m.bus.Unsubscribe(s)
}

// Close cancels all workers, waits for them to finish, and shuts the bus
// down. Interrupted transfers are persisted as queued so a restart resumes
// them.
func (m *QueueManager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for _, job := range m.jobs {
		if job.CancelFunc != nil {
			job.CancelFunc()
		}
	}
	m.mu.Unlock()

	m.baseCancel()
	m.wg.Wait()
	m.bus.Close()
}

func (m *QueueManager) destPathFor(job *domain.Job, variant domain.VariantDescriptor) string {
	name := fileutil.SanitizeFilename(job.Title)
	if variant.Container != "" {
		name += "." + variant.Container
	}
	return filepath.Join(m.downloadDir, name)
}

func (m *QueueManager) logf(format string, v ...any) {
	if m.logger != nil {
		m.logger.Warn(format, v...)
	}
}
