// Package supervisor runs every core invocation inside a Job: a supervised
// execution with a strict state machine, monotonic progress, cooperative
// cancellation, and resume bookkeeping.
package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailmind/internal/config"
	"github.com/ignite/mailmind/internal/domain"
	"github.com/ignite/mailmind/internal/pkg/logger"
)

// ErrJobNotRunning is returned when stopping a job that is not in flight.
var ErrJobNotRunning = errors.New("job not running")

// JobStore persists job rows.
type JobStore interface {
	CreateJob(ctx context.Context, j domain.Job) error
	UpdateJob(ctx context.Context, j domain.Job) error
	GetJob(ctx context.Context, id string) (*domain.Job, error)
}

// Runner is the work a job supervises. It reports through the Reporter and
// must honor ctx cancellation at every suspension point.
type Runner func(ctx context.Context, rep *Reporter) error

// Supervisor owns the in-flight job table.
type Supervisor struct {
	store JobStore
	sink  EventSink
	cfg   config.JobConfig

	mu      sync.Mutex
	running map[string]*handle
}

type handle struct {
	cancel context.CancelFunc
	rep    *Reporter
}

// New builds a Supervisor. A nil sink defaults to NopSink.
func New(store JobStore, sink EventSink, cfg config.JobConfig) *Supervisor {
	if sink == nil {
		sink = NopSink{}
	}
	return &Supervisor{
		store:   store,
		sink:    sink,
		cfg:     cfg,
		running: make(map[string]*handle),
	}
}

// Start creates and launches a job. The runner executes on its own context,
// detached from the caller's request lifetime.
func (s *Supervisor) Start(ctx context.Context, accountID string, kind domain.JobKind, fn Runner) (*domain.Job, error) {
	job := domain.Job{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Kind:      kind,
		State:     domain.JobPending,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	rep := &Reporter{sup: s, job: job, cfg: s.cfg}

	s.mu.Lock()
	s.running[job.ID] = &handle{cancel: cancel, rep: rep}
	s.mu.Unlock()

	if err := rep.transition(domain.JobRunning, ""); err != nil {
		cancel()
		s.drop(job.ID)
		return nil, err
	}

	go func() {
		defer cancel()
		err := fn(runCtx, rep)
		s.finish(rep, err)
		s.drop(job.ID)
	}()

	started := rep.snapshot()
	return &started, nil
}

// Stop requests cooperative cancellation: running -> stopping, then the
// workers observe the cancelled context and the job settles in stopped.
func (s *Supervisor) Stop(ctx context.Context, jobID string) error {
	s.mu.Lock()
	h, ok := s.running[jobID]
	s.mu.Unlock()
	if !ok {
		return ErrJobNotRunning
	}

	if err := h.rep.transition(domain.JobStopping, "stop requested"); err != nil {
		return err
	}
	h.cancel()
	return nil
}

// Status returns the job's current externally visible state. In-flight jobs
// are answered from memory so progress is live.
func (s *Supervisor) Status(ctx context.Context, jobID string) (*domain.JobStatus, error) {
	s.mu.Lock()
	h, ok := s.running[jobID]
	s.mu.Unlock()
	if ok {
		st := h.rep.snapshot().Status()
		return &st, nil
	}

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	st := job.Status()
	return &st, nil
}

func (s *Supervisor) drop(jobID string) {
	s.mu.Lock()
	delete(s.running, jobID)
	s.mu.Unlock()
}

// finish settles the job into its terminal state.
func (s *Supervisor) finish(rep *Reporter, err error) {
	rep.mu.Lock()
	stopping := rep.job.State == domain.JobStopping
	rep.mu.Unlock()

	switch {
	case stopping:
		rep.settleStopped()
	case err == nil:
		rep.complete()
	default:
		rep.fail(err)
	}
}

// Reporter is the runner's interface to its job row. All mutations flow
// through here so the state machine and the monotonic-progress contract are
// enforced in one place.
type Reporter struct {
	sup *Supervisor
	cfg config.JobConfig

	mu  sync.Mutex
	job domain.Job
}

// JobID returns the supervised job's id.
func (r *Reporter) JobID() string {
	return r.job.ID
}

func (r *Reporter) snapshot() domain.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job
}

// StartPhase sets the job's phase and returns a context bounded by the
// phase's soft deadline, if it has one.
func (r *Reporter) StartPhase(ctx context.Context, phase domain.Phase) (context.Context, context.CancelFunc) {
	r.mu.Lock()
	if !r.job.State.Terminal() {
		r.job.Phase = phase
		lo, _ := domain.PhaseSpan(phase)
		if r.job.Progress < lo {
			r.job.Progress = lo
		}
		r.job.UpdatedAt = time.Now().UTC()
	}
	job := r.job
	r.mu.Unlock()
	r.persist(job)

	if d := r.phaseDeadline(phase); d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

func (r *Reporter) phaseDeadline(phase domain.Phase) time.Duration {
	switch phase {
	case domain.PhaseExtract:
		return time.Duration(r.cfg.ExtractTimeoutMinutes) * time.Minute
	case domain.PhaseIngest:
		return time.Duration(r.cfg.IngestTimeoutMinutes) * time.Minute
	case domain.PhaseAnalysts:
		return time.Duration(r.cfg.AnalystTimeoutMinutes) * time.Minute
	}
	return 0
}

// Progress reports phase-relative completion in [0,1]. The value is mapped
// into the phase's span and clamped so overall progress never decreases.
func (r *Reporter) Progress(frac float64, msg string) {
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}

	r.mu.Lock()
	if r.job.State.Terminal() {
		r.mu.Unlock()
		return
	}
	lo, hi := domain.PhaseSpan(r.job.Phase)
	p := lo + frac*(hi-lo)
	if p > r.job.Progress {
		r.job.Progress = p
	}
	if msg != "" {
		r.job.Message = msg
	}
	r.job.UpdatedAt = time.Now().UTC()
	job := r.job
	r.mu.Unlock()

	r.persist(job)
}

// SetResume records where a stopped job can pick up.
func (r *Reporter) SetResume(info domain.ResumeInfo) {
	r.mu.Lock()
	r.job.Resume = &info
	r.mu.Unlock()
}

// ClearResume drops the resume cursor once the checkpointed work is done.
// Later phases are deterministic and restart from their beginning.
func (r *Reporter) ClearResume() {
	r.mu.Lock()
	r.job.Resume = nil
	r.mu.Unlock()
}

// SetPartialResult attaches intermediate output to the job.
func (r *Reporter) SetPartialResult(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		logger.Warn("partial result marshal failed", "job_id", r.job.ID, "error", err)
		return
	}
	r.mu.Lock()
	r.job.PartialResult = payload
	r.mu.Unlock()
}

// Message sets the job's human-readable message without touching progress.
func (r *Reporter) Message(msg string) {
	r.mu.Lock()
	if !r.job.State.Terminal() {
		r.job.Message = msg
		r.job.UpdatedAt = time.Now().UTC()
	}
	job := r.job
	r.mu.Unlock()
	r.persist(job)
}

// Stopping reports whether a stop was requested.
func (r *Reporter) Stopping() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job.State == domain.JobStopping
}

func (r *Reporter) transition(to domain.JobState, msg string) error {
	r.mu.Lock()
	from := r.job.State
	if !domain.ValidTransition(from, to) {
		r.mu.Unlock()
		return fmt.Errorf("illegal job transition %s -> %s", from, to)
	}
	r.job.State = to
	if msg != "" {
		r.job.Message = msg
	}
	r.job.UpdatedAt = time.Now().UTC()
	job := r.job
	r.mu.Unlock()

	r.persist(job)
	return nil
}

func (r *Reporter) complete() {
	r.mu.Lock()
	r.job.State = domain.JobCompleted
	r.job.Progress = 100
	r.job.UpdatedAt = time.Now().UTC()
	job := r.job
	r.mu.Unlock()
	r.persist(job)
}

func (r *Reporter) fail(err error) {
	kind := domain.KindOf(err)
	if kind == "" {
		if errors.Is(err, context.DeadlineExceeded) {
			kind = domain.ErrKindPhaseTimeout
		} else {
			kind = domain.ErrKindInvalidInput
		}
	}
	// A phase deadline surfaces as cancellation inside workers; translate it
	// back when the phase context (not a stop request) expired.
	if kind == domain.ErrKindCancelled && errors.Is(err, context.DeadlineExceeded) {
		kind = domain.ErrKindPhaseTimeout
	}

	r.mu.Lock()
	r.job.State = domain.JobFailed
	r.job.ErrorKind = kind
	r.job.Message = err.Error()
	r.job.UpdatedAt = time.Now().UTC()
	job := r.job
	r.mu.Unlock()

	logger.Error("job failed", "job_id", job.ID, "kind", string(kind), "error", err)
	r.persist(job)
}

func (r *Reporter) settleStopped() {
	r.mu.Lock()
	r.job.State = domain.JobStopped
	if r.job.Resume == nil {
		r.job.Resume = &domain.ResumeInfo{
			CanResume:          true,
			NextStep:           r.job.Phase,
			Reason:             "stopped by user",
			ProgressCheckpoint: r.job.Progress,
		}
	}
	r.job.Message = "stopped by user"
	r.job.UpdatedAt = time.Now().UTC()
	job := r.job
	r.mu.Unlock()
	r.persist(job)
}

// persist writes the row and publishes the transition. Store errors are
// logged; the in-memory state remains authoritative for a live job.
func (r *Reporter) persist(job domain.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.sup.store.UpdateJob(ctx, job); err != nil {
		logger.Warn("job update failed", "job_id", job.ID, "error", err)
	}
	r.sup.sink.Publish(ctx, Event{
		Type:      "job_update",
		JobID:     job.ID,
		AccountID: job.AccountID,
		State:     job.State,
		Phase:     job.Phase,
		Progress:  job.Progress,
		Message:   job.Message,
	})
}

// PublishTreeUpdated notifies watchers that a new tree exists.
func (s *Supervisor) PublishTreeUpdated(ctx context.Context, accountID, treeID string) {
	s.sink.Publish(ctx, Event{Type: "tree_updated", AccountID: accountID, TreeID: treeID})
}
