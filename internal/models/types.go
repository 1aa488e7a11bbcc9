package models

import "time"

// Pipeline represents one triggered CircleCI pipeline run
type Pipeline struct {
	ID         string    `json:"id"`
	Number     int64     `json:"number"`
	ActorLogin string    `json:"actor_login"`
	CreatedAt  time.Time `json:"created_at"`
	State      string    `json:"state,omitempty"`
}

// Workflow represents a cancellable sub-unit of a pipeline
type Workflow struct {
	ID         string `json:"id"`
	PipelineID string `json:"pipeline_id"`
	Name       string `json:"name"`
	Status     string `json:"status"` // running, success, failed, canceled, ...
}

// WorkflowInsight is one entry of the per-workflow-name insights collection
type WorkflowInsight struct {
	ID          string  `json:"id"`
	Status      string  `json:"status"`
	CreditsUsed float64 `json:"credits_used"`
}

// CostEntry is the attributed cost of a single workflow
type CostEntry struct {
	WorkflowID  string  `json:"workflow_id"`
	PipelineID  string  `json:"pipeline_id"`
	CreditsUsed float64 `json:"credits_used"`
	Cost        float64 `json:"cost"`
}

// Summary is the final outcome of one detection cycle
type Summary struct {
	UserAlert  bool `json:"user_alert"`
	BuildAlert bool `json:"build_alert"`
}

// ActorViolation describes an actor over the per-actor threshold
type ActorViolation struct {
	Actor     string  `json:"actor"`
	Count     int     `json:"count"`
	Ages      []int64 `json:"ages_seconds"`
	Workflows int     `json:"workflows"`
	Cancelled int     `json:"cancelled"`
	Failed    int     `json:"failed"`
}

// RunReport records what a single detection cycle saw and did
type RunReport struct {
	ID           string           `json:"id"`
	StartedAt    time.Time        `json:"started_at"`
	Duration     time.Duration    `json:"duration"`
	Pipelines    int              `json:"pipelines"`
	Actors       int              `json:"actors"`
	WindowEvents int              `json:"window_events"`
	Violations   []ActorViolation `json:"violations,omitempty"`
	DryRun       bool             `json:"dry_run"`
	Error        string           `json:"error,omitempty"`
	Summary
}
