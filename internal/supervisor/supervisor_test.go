package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ignite/mailmind/internal/config"
	"github.com/ignite/mailmind/internal/domain"
)

type memJobStore struct {
	mu   sync.Mutex
	jobs map[string]domain.Job
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[string]domain.Job)}
}

func (m *memJobStore) CreateJob(ctx context.Context, j domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = j
	return nil
}

func (m *memJobStore) UpdateJob(ctx context.Context, j domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = j
	return nil
}

func (m *memJobStore) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return &j, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Publish(ctx context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) states() []domain.JobState {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.JobState
	for _, e := range r.events {
		out = append(out, e.State)
	}
	return out
}

func jobCfg() config.JobConfig {
	return config.JobConfig{
		PollIntervalSeconds:   1,
		ExtractTimeoutMinutes: 10,
		IngestTimeoutMinutes:  30,
		AnalystTimeoutMinutes: 20,
	}
}

func waitTerminal(t *testing.T, s *Supervisor, jobID string) *domain.JobStatus {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		st, err := s.Status(context.Background(), jobID)
		if err == nil && st.State.Terminal() {
			return st
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal state")
	return nil
}

func TestJobCompletesWithFullProgress(t *testing.T) {
	store := newMemJobStore()
	sink := &recordingSink{}
	s := New(store, sink, jobCfg())

	job, err := s.Start(context.Background(), "acct-1", domain.JobKindPipeline, func(ctx context.Context, rep *Reporter) error {
		phaseCtx, cancel := rep.StartPhase(ctx, domain.PhaseExtract)
		defer cancel()
		_ = phaseCtx
		rep.Progress(0.5, "halfway")
		rep.Progress(1, "done extracting")
		return nil
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	st := waitTerminal(t, s, job.ID)
	if st.State != domain.JobCompleted {
		t.Fatalf("state = %s", st.State)
	}
	if st.Progress != 100 {
		t.Errorf("progress = %f, want 100", st.Progress)
	}

	// The sink saw running and completed transitions.
	seen := sink.states()
	var hasRunning, hasCompleted bool
	for _, state := range seen {
		if state == domain.JobRunning {
			hasRunning = true
		}
		if state == domain.JobCompleted {
			hasCompleted = true
		}
	}
	if !hasRunning || !hasCompleted {
		t.Errorf("sink states = %v", seen)
	}
}

func TestProgressMonotoneAcrossPhases(t *testing.T) {
	store := newMemJobStore()
	s := New(store, nil, jobCfg())

	var readings []float64
	var mu sync.Mutex
	record := func(id string) {
		st, _ := s.Status(context.Background(), id)
		mu.Lock()
		readings = append(readings, st.Progress)
		mu.Unlock()
	}

	job, err := s.Start(context.Background(), "acct-1", domain.JobKindPipeline, func(ctx context.Context, rep *Reporter) error {
		for _, phase := range []domain.Phase{domain.PhaseExtract, domain.PhaseIngest, domain.PhaseAnalyze} {
			_, cancel := rep.StartPhase(ctx, phase)
			rep.Progress(0.3, "")
			record(rep.JobID())
			rep.Progress(1, "")
			record(rep.JobID())
			cancel()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitTerminal(t, s, job.ID)

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(readings); i++ {
		if readings[i] < readings[i-1] {
			t.Fatalf("progress decreased: %v", readings)
		}
	}
	// Phase spans hold: extract tops out at 15, ingest at 40.
	if readings[1] != 15 {
		t.Errorf("extract completion = %f, want 15", readings[1])
	}
	if readings[3] != 40 {
		t.Errorf("ingest completion = %f, want 40", readings[3])
	}
}

func TestStopProducesResumableStopped(t *testing.T) {
	store := newMemJobStore()
	s := New(store, nil, jobCfg())

	started := make(chan struct{})
	job, err := s.Start(context.Background(), "acct-1", domain.JobKindPipeline, func(ctx context.Context, rep *Reporter) error {
		_, cancel := rep.StartPhase(ctx, domain.PhaseIngest)
		defer cancel()
		rep.Progress(0.4, "ingesting")
		close(started)
		<-ctx.Done() // suspension point
		rep.SetResume(domain.ResumeInfo{
			CanResume: true, NextStep: domain.PhaseIngest,
			Cursor: "alice@example.com", ProgressCheckpoint: 25,
		})
		return domain.Errf(domain.ErrKindCancelled, "stopped: %w", ctx.Err())
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	<-started
	if err := s.Stop(context.Background(), job.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}

	st := waitTerminal(t, s, job.ID)
	if st.State != domain.JobStopped {
		t.Fatalf("state = %s, want stopped", st.State)
	}
	if st.Resume == nil || !st.Resume.CanResume {
		t.Fatalf("resume info = %+v", st.Resume)
	}
	if st.Resume.Cursor != "alice@example.com" {
		t.Errorf("cursor = %q", st.Resume.Cursor)
	}
}

func TestStopUnknownJob(t *testing.T) {
	s := New(newMemJobStore(), nil, jobCfg())
	if err := s.Stop(context.Background(), "ghost"); err != ErrJobNotRunning {
		t.Fatalf("err = %v, want ErrJobNotRunning", err)
	}
}

func TestFailureRecordsErrorKind(t *testing.T) {
	store := newMemJobStore()
	s := New(store, nil, jobCfg())

	job, err := s.Start(context.Background(), "acct-1", domain.JobKindExtract, func(ctx context.Context, rep *Reporter) error {
		_, cancel := rep.StartPhase(ctx, domain.PhaseExtract)
		defer cancel()
		return domain.Errf(domain.ErrKindAuthMissing, "token expired")
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	st := waitTerminal(t, s, job.ID)
	if st.State != domain.JobFailed {
		t.Fatalf("state = %s", st.State)
	}
	if st.Error != domain.ErrKindAuthMissing {
		t.Errorf("error kind = %s", st.Error)
	}
}

func TestPhaseTimeoutClassified(t *testing.T) {
	store := newMemJobStore()
	s := New(store, nil, jobCfg())

	job, err := s.Start(context.Background(), "acct-1", domain.JobKindPipeline, func(ctx context.Context, rep *Reporter) error {
		phaseCtx, cancel := context.WithTimeout(ctx, time.Millisecond)
		defer cancel()
		<-phaseCtx.Done()
		return domain.Errf(domain.ErrKindCancelled, "ingest interrupted: %w", phaseCtx.Err())
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	st := waitTerminal(t, s, job.ID)
	if st.State != domain.JobFailed {
		t.Fatalf("state = %s", st.State)
	}
	if st.Error != domain.ErrKindPhaseTimeout {
		t.Errorf("error kind = %s, want phase_timeout", st.Error)
	}
}

func TestTerminalJobRefusesStop(t *testing.T) {
	store := newMemJobStore()
	s := New(store, nil, jobCfg())

	job, err := s.Start(context.Background(), "acct-1", domain.JobKindPipeline, func(ctx context.Context, rep *Reporter) error {
		return nil
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitTerminal(t, s, job.ID)

	if err := s.Stop(context.Background(), job.ID); err == nil {
		t.Fatal("stopping a finished job must fail")
	}
}

func TestValidTransitionTable(t *testing.T) {
	legal := []struct{ from, to domain.JobState }{
		{domain.JobPending, domain.JobRunning},
		{domain.JobRunning, domain.JobRunning},
		{domain.JobRunning, domain.JobCompleted},
		{domain.JobRunning, domain.JobFailed},
		{domain.JobRunning, domain.JobStopping},
		{domain.JobStopping, domain.JobStopped},
	}
	for _, tc := range legal {
		if !domain.ValidTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s should be legal", tc.from, tc.to)
		}
	}

	illegal := []struct{ from, to domain.JobState }{
		{domain.JobPending, domain.JobCompleted},
		{domain.JobCompleted, domain.JobRunning},
		{domain.JobFailed, domain.JobRunning},
		{domain.JobStopped, domain.JobRunning},
		{domain.JobStopping, domain.JobRunning},
	}
	for _, tc := range illegal {
		if domain.ValidTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s should be illegal", tc.from, tc.to)
		}
	}
}
