package model

import (
	"fmt"
	"time"
)

// Stage is one step of the pipeline's linear stage sequence.
type Stage string

const (
	StageAcquire    Stage = "acquire"
	StageStore      Stage = "store"
	StagePreprocess Stage = "preprocess"
	StageIndex      Stage = "index"
	StageExtract    Stage = "extract"
	StageMap        Stage = "map"
	StageValidate   Stage = "validate"
	StageOutput     Stage = "output"
	StageTransfer   Stage = "transfer"
)

// Stages lists the pipeline stages in execution order.
var Stages = []Stage{
	StageAcquire,
	StageStore,
	StagePreprocess,
	StageIndex,
	StageExtract,
	StageMap,
	StageValidate,
	StageOutput,
	StageTransfer,
}

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the run has finished.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// RunOptions configures a single pipeline run.
type RunOptions struct {
	Provider          string `json:"provider"`
	SecondaryProvider string `json:"secondary_provider,omitempty"`
	Ensemble          bool   `json:"ensemble"`
	ProductType       string `json:"product_type,omitempty"`
	SkipAcquisition   bool   `json:"skip_acquisition"`
	SkipTransfer      bool   `json:"skip_transfer"`
}

// LogEntry is one line of a run's append-only log. Entries are atomic units
// ordered by emission time.
type LogEntry struct {
	At      time.Time `json:"at"`
	Stage   Stage     `json:"stage,omitempty"`
	Message string    `json:"message"`
}

func (e LogEntry) String() string {
	return fmt.Sprintf("[%s] %s", e.At.Format("15:04:05"), e.Message)
}

// Run is one end-to-end pipeline execution. Exactly one run may be active at
// a time; the orchestrator enforces this with an explicit guard.
type Run struct {
	ID          string         `json:"id"`
	Options     RunOptions     `json:"options"`
	Status      RunStatus      `json:"status"`
	Stage       Stage          `json:"stage,omitempty"`
	Progress    float64        `json:"progress"`
	Stats       map[string]int `json:"stats"`
	Logs        []LogEntry     `json:"logs"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}
