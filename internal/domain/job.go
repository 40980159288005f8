package domain

import (
	"encoding/json"
	"time"
)

// JobState enumerates the lifecycle states of a supervised job.
type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobStopping  JobState = "stopping"
	JobStopped   JobState = "stopped"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// Terminal reports whether the state is final. Terminal states are immutable.
func (s JobState) Terminal() bool {
	return s == JobStopped || s == JobCompleted || s == JobFailed
}

// ValidTransition reports whether from -> to is a legal state change.
// running -> running covers progress updates.
func ValidTransition(from, to JobState) bool {
	switch from {
	case JobPending:
		return to == JobRunning
	case JobRunning:
		return to == JobRunning || to == JobCompleted || to == JobFailed || to == JobStopping
	case JobStopping:
		return to == JobStopped
	}
	return false
}

// JobKind names what a job runs.
type JobKind string

const (
	JobKindExtract   JobKind = "extract"
	JobKindIngest    JobKind = "ingest"
	JobKindAnalyze   JobKind = "analyze"
	JobKindOrganize  JobKind = "organize"
	JobKindBuildTree JobKind = "build_tree"
	JobKindPipeline  JobKind = "pipeline"
)

// Phase is the fixed vocabulary consumers render. Each phase owns a progress
// span; progress is monotone within a job.
type Phase string

const (
	PhaseExtract    Phase = "contact_extraction"
	PhaseIngest     Phase = "message_ingest"
	PhaseAnalyze    Phase = "comm_intelligence"
	PhaseOrganize   Phase = "organize"
	PhaseAnalysts   Phase = "analyst_pool"
	PhaseSynthesize Phase = "synthesize"
)

// PhaseSpan returns the [lo, hi] progress window a phase reports within.
func PhaseSpan(p Phase) (lo, hi float64) {
	switch p {
	case PhaseExtract:
		return 0, 15
	case PhaseIngest:
		return 15, 40
	case PhaseAnalyze:
		return 40, 50
	case PhaseOrganize:
		return 50, 60
	case PhaseAnalysts:
		return 60, 90
	case PhaseSynthesize:
		return 90, 100
	}
	return 0, 100
}

// ResumeInfo records where a stopped job can pick up again. Deterministic
// phases restart from the beginning because their outputs are idempotent.
type ResumeInfo struct {
	CanResume          bool    `json:"can_resume"`
	NextStep           Phase   `json:"next_step,omitempty"`
	Reason             string  `json:"reason,omitempty"`
	ProgressCheckpoint float64 `json:"progress_checkpoint,omitempty"`
	Cursor             string  `json:"cursor,omitempty"`
}

// Job is a supervised pipeline invocation with progress reporting,
// cooperative cancellation, and resume bookkeeping.
type Job struct {
	ID            string          `json:"id" db:"id"`
	AccountID     string          `json:"account_id" db:"account_id"`
	Kind          JobKind         `json:"kind" db:"kind"`
	State         JobState        `json:"state" db:"state"`
	Progress      float64         `json:"progress" db:"progress"`
	Phase         Phase           `json:"phase" db:"phase"`
	Message       string          `json:"message" db:"message"`
	ErrorKind     ErrorKind       `json:"error,omitempty" db:"error_kind"`
	PartialResult json.RawMessage `json:"partial_result,omitempty" db:"partial_result"`
	Resume        *ResumeInfo     `json:"resume_info,omitempty" db:"resume_info"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// Status is the read-only surface the HTTP layer serves.
func (j Job) Status() JobStatus {
	return JobStatus{
		JobID:         j.ID,
		State:         j.State,
		Progress:      j.Progress,
		Phase:         j.Phase,
		Message:       j.Message,
		Error:         j.ErrorKind,
		PartialResult: j.PartialResult,
		Resume:        j.Resume,
	}
}

// JobStatus is the job's externally visible state.
type JobStatus struct {
	JobID         string          `json:"job_id"`
	State         JobState        `json:"state"`
	Progress      float64         `json:"progress"`
	Phase         Phase           `json:"phase"`
	Message       string          `json:"message"`
	Error         ErrorKind       `json:"error,omitempty"`
	PartialResult json.RawMessage `json:"partial_result,omitempty"`
	Resume        *ResumeInfo     `json:"resume_info,omitempty"`
}
