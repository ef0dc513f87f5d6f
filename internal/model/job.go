package model

import "time"

// Status is the job or step lifecycle state (spec §3.2).
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusReady     Status = "READY"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusStopped   Status = "STOPPED"
	StatusCancelled Status = "CANCELLED"
)

// IsTerminal reports whether no further transitions are expected.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped, StatusCancelled:
		return true
	default:
		return false
	}
}

// StepState is the per-step slice of a Job's volatile state.
type StepState struct {
	Status     Status     `json:"status"`
	Progress   float64    `json:"progress"`
	Message    string     `json:"message,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	TaskHandle string     `json:"task_handle,omitempty"`
	CPUPercent float64    `json:"cpu_percent,omitempty"`
	MemoryMB   float64    `json:"memory_mb,omitempty"`
}

// Job is the root volatile record for one pipeline invocation against one
// repository. It is owned by the orchestrator and the step runner of the
// owning task only (spec §3.2).
type Job struct {
	ID              string               `json:"id"`
	RepoPath        string               `json:"repo_path"`
	StepsRequested  []string             `json:"steps_requested"`
	Deps            []string             `json:"deps,omitempty"`
	StartedAt       time.Time            `json:"started_at"`
	Status          Status               `json:"status"`
	ProgressPercent float64              `json:"progress_percent"`
	PerStep         map[string]StepState `json:"per_step"`
	Error           string               `json:"error,omitempty"`
	FailedStep      string               `json:"failed_step,omitempty"`
}

// Clone returns a deep-enough copy safe to hand to a reader without
// racing the owning writer's further mutation of PerStep.
func (j *Job) Clone() *Job {
	cp := *j
	cp.StepsRequested = append([]string(nil), j.StepsRequested...)
	cp.Deps = append([]string(nil), j.Deps...)
	cp.PerStep = make(map[string]StepState, len(j.PerStep))
	for k, v := range j.PerStep {
		cp.PerStep[k] = v
	}
	return &cp
}
