package pipeline

import (
	"time"
)

// Role places a worker in one of the three pipeline stages.
type Role string

const (
	RoleAnalyst  Role = "analyst"
	RoleRisk     Role = "risk"
	RoleDecision Role = "decision"
)

// Stage identifiers used in logs and abort payloads.
const (
	StageAnalysts = "analysts"
	StageRisk     = "risk"
	StageDecision = "decision"
)

// Default timeouts. Worker timeouts bound a single Produce call; the job
// timeout bounds the whole run including retries of nothing (workers are
// never retried within a job).
const (
	DefaultWorkerTimeout = 30 * time.Second
	DefaultJobTimeout    = 120 * time.Second
)

// WorkerStatus represents the current status of a worker within a run.
type WorkerStatus string

const (
	WorkerStatusPending   WorkerStatus = "pending"
	WorkerStatusActive    WorkerStatus = "active"
	WorkerStatusCompleted WorkerStatus = "completed"
	WorkerStatusFailed    WorkerStatus = "failed"
)

// JobStatus represents the overall status of a pipeline run.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusDecided   JobStatus = "decided"
	JobStatusVetoed    JobStatus = "vetoed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is final for a run.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusDecided, JobStatusVetoed, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}
