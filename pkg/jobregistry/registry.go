package jobregistry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultCleanupDelay is how long a terminal job stays resolvable.
const DefaultCleanupDelay = 5 * time.Minute

// Option configures a Registry.
type Option func(*Registry)

// WithCleanupDelay sets the delay between a terminal state and removal.
// Negative values are ignored.
func WithCleanupDelay(d time.Duration) Option {
	return func(r *Registry) {
		if d >= 0 {
			r.cleanupDelay = d
		}
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithSubscriberBuffer sets the per-subscriber event buffer.
func WithSubscriberBuffer(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.subscriberBuffer = n
		}
	}
}

// WithBaseContext sets the parent of every job context. Values carried by
// ctx are visible to tasks; cancelling it cancels every running job.
func WithBaseContext(ctx context.Context) Option {
	return func(r *Registry) {
		if ctx != nil {
			r.baseCtx = ctx
		}
	}
}

// JobOption configures a single job at creation.
type JobOption func(*job)

// WithName attaches a human-readable label to the job.
func WithName(name string) JobOption {
	return func(j *job) { j.name = name }
}

type job struct {
	mu        sync.Mutex
	id        string
	name      string
	status    Status
	progress  int
	stats     any
	message   string
	createdAt time.Time
	endedAt   time.Time

	cancel  context.CancelFunc
	events  *broadcaster
	cleanup *time.Timer
}

func (j *job) snapshot() Snapshot {
	s := Snapshot{
		ID:        j.id,
		Name:      j.name,
		Status:    j.status,
		Progress:  j.progress,
		Stats:     j.stats,
		Message:   j.message,
		CreatedAt: j.createdAt,
	}
	if !j.endedAt.IsZero() {
		ended := j.endedAt
		s.EndedAt = &ended
	}
	return s
}

func (j *job) event(t EventType) Event {
	return Event{
		Type:     t,
		JobID:    j.id,
		Status:   j.status,
		Progress: j.progress,
		Stats:    j.stats,
		Message:  j.message,
		Time:     time.Now().UTC(),
	}
}

// Registry owns the set of live jobs.
//
// All methods are safe for concurrent use. Reporting methods are no-ops
// once a job is terminal, so a task that ignores cancellation cannot
// overwrite the final state.
type Registry struct {
	mu     sync.RWMutex
	jobs   map[string]*job
	closed bool

	cleanupDelay     time.Duration
	subscriberBuffer int
	baseCtx          context.Context
	logger           *zap.Logger

	tasks sync.WaitGroup
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		jobs:             make(map[string]*job),
		cleanupDelay:     DefaultCleanupDelay,
		subscriberBuffer: DefaultSubscriberBuffer,
		baseCtx:          context.Background(),
		logger:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create starts task as a new job and returns its id without waiting.
// It returns "" if the registry is closed; use CreateE to get the error.
func (r *Registry) Create(task TaskFunc, opts ...JobOption) string {
	id, err := r.CreateE(task, opts...)
	if err != nil {
		r.logger.Warn("Job rejected", zap.Error(err))
		return ""
	}
	return id
}

// CreateE is Create with an error for a closed registry or a nil task.
func (r *Registry) CreateE(task TaskFunc, opts ...JobOption) (string, error) {
	if task == nil {
		return "", errors.New("task is nil")
	}

	ctx, cancel := context.WithCancel(r.baseCtx)
	j := &job{
		id:        uuid.New().String(),
		status:    StatusInProgress,
		createdAt: time.Now().UTC(),
		cancel:    cancel,
		events:    newBroadcaster(r.subscriberBuffer),
	}
	for _, opt := range opts {
		opt(j)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		return "", ErrRegistryClosed
	}
	r.jobs[j.id] = j
	r.tasks.Add(1)
	r.mu.Unlock()

	r.logger.Info("Job created", zap.String("job_id", j.id), zap.String("name", j.name))

	hooks := &Hooks{reg: r, id: j.id, ctx: ctx}
	go r.run(ctx, j.id, task, hooks)

	return j.id, nil
}

func (r *Registry) run(ctx context.Context, id string, task TaskFunc, hooks *Hooks) {
	defer r.tasks.Done()

	if err := invoke(ctx, task, hooks); err != nil {
		r.ReportFailure(id, err)
		return
	}
	// A no-op when the task already reported or the job was cancelled.
	r.ReportFailure(id, ErrTaskIncomplete)
}

func invoke(ctx context.Context, task TaskFunc, hooks *Hooks) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task panicked: %v", p)
		}
	}()
	return task(ctx, hooks)
}

func (r *Registry) lookup(id string) *job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.jobs[id]
}

// ReportProgress records percent completion. Values are clamped to 0..100
// and progress never moves backwards.
func (r *Registry) ReportProgress(id string, percent int) {
	j := r.lookup(id)
	if j == nil {
		return
	}
	percent = max(0, min(100, percent))

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusInProgress || percent <= j.progress {
		return
	}
	j.progress = percent
	r.publish(j, j.event(EventProgress))
}

// ReportComplete marks the job complete with stats and schedules cleanup.
func (r *Registry) ReportComplete(id string, stats any) {
	j := r.lookup(id)
	if j == nil {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusInProgress {
		return
	}
	j.status = StatusComplete
	j.progress = 100
	j.stats = stats
	r.finish(j, EventComplete)
	r.logger.Info("Job complete", zap.String("job_id", id))
}

// ReportFailure marks the job failed and schedules cleanup.
func (r *Registry) ReportFailure(id string, err error) {
	j := r.lookup(id)
	if j == nil {
		return
	}
	if err == nil {
		err = errors.New("unknown error")
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusInProgress {
		return
	}
	j.status = StatusFailed
	j.message = err.Error()
	r.finish(j, EventError)
	r.logger.Warn("Job failed", zap.String("job_id", id), zap.Error(err))
}

// Cancel signals the job's token and marks it cancelled. It returns false
// for unknown or already terminal jobs.
func (r *Registry) Cancel(id string) bool {
	j := r.lookup(id)
	if j == nil {
		return false
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusInProgress {
		return false
	}
	j.status = StatusCancelled
	j.message = CancelledMessage
	r.finish(j, EventCancel)
	r.logger.Info("Job cancelled", zap.String("job_id", id))
	return true
}

// finish releases the job's context, broadcasts the terminal event and
// arms the cleanup timer. Caller holds j.mu.
func (r *Registry) finish(j *job, t EventType) {
	j.cancel()
	j.endedAt = time.Now().UTC()
	r.publish(j, j.event(t))

	id := j.id
	j.cleanup = time.AfterFunc(r.cleanupDelay, func() { r.retire(id) })
}

func (r *Registry) publish(j *job, ev Event) {
	if dropped := j.events.publish(ev); dropped > 0 {
		r.logger.Debug("Dropped job event for slow subscribers",
			zap.String("job_id", j.id),
			zap.String("event", string(ev.Type)),
			zap.Int("dropped", dropped))
	}
}

// retire sends the cleanup event, detaches subscribers and forgets the job.
// A job already removed is ignored.
func (r *Registry) retire(id string) {
	j := r.lookup(id)
	if j == nil {
		return
	}

	j.mu.Lock()
	j.events.publish(Event{Type: EventCleanup, JobID: id, Status: j.status, Progress: j.progress, Time: time.Now().UTC()})
	j.events.close()
	j.mu.Unlock()

	r.mu.Lock()
	if r.jobs[id] == j {
		delete(r.jobs, id)
	}
	r.mu.Unlock()

	r.logger.Debug("Job retired", zap.String("job_id", id))
}

// Get returns a snapshot of the job.
func (r *Registry) Get(id string) (Snapshot, bool) {
	j := r.lookup(id)
	if j == nil {
		return Snapshot{}, false
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snapshot(), true
}

// List returns snapshots of every live job, newest first.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	jobs := make([]*job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(jobs))
	for _, j := range jobs {
		j.mu.Lock()
		out = append(out, j.snapshot())
		j.mu.Unlock()
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].ID < out[k].ID
		}
		return out[i].CreatedAt.After(out[k].CreatedAt)
	})
	return out
}

// Active returns the number of jobs still in progress.
func (r *Registry) Active() int {
	n := 0
	for _, s := range r.List() {
		if s.Status == StatusInProgress {
			n++
		}
	}
	return n
}

// Subscribe returns the job's snapshot and, while the job is in progress,
// a subscription to its subsequent events. Both are taken under the job lock
// so no event falls between them. For a terminal job the subscription is nil.
func (r *Registry) Subscribe(id string) (Snapshot, *Subscription, error) {
	j := r.lookup(id)
	if j == nil {
		return Snapshot{}, nil, ErrJobNotFound
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	snap := j.snapshot()
	if snap.Status.Terminal() {
		return snap, nil, nil
	}
	return snap, j.events.subscribe(), nil
}

// Close cancels every running job, stops pending cleanups, detaches all
// subscribers and rejects further jobs. It does not wait for tasks to
// return; see Shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	jobs := make([]*job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j)
	}
	r.jobs = make(map[string]*job)
	r.mu.Unlock()

	for _, j := range jobs {
		j.mu.Lock()
		if j.status == StatusInProgress {
			j.cancel()
			j.status = StatusCancelled
			j.message = CancelledMessage
			j.endedAt = time.Now().UTC()
			j.events.publish(j.event(EventCancel))
		}
		if j.cleanup != nil {
			j.cleanup.Stop()
		}
		j.events.close()
		j.mu.Unlock()
	}

	r.logger.Info("Job registry closed", zap.Int("jobs", len(jobs)))
}

// Closed reports whether Close has been called.
func (r *Registry) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// Shutdown closes the registry and waits for running tasks to return or
// for ctx to expire.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.Close()

	done := make(chan struct{})
	go func() {
		r.tasks.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for jobs: %w", ctx.Err())
	}
}
