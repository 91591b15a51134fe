package models

import "time"

type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

func (s RunStatus) Terminal() bool {
	return s == RunSuccess || s == RunFailed
}

// IngestRun is the append-only provenance record of one ingestion attempt.
// Its ID doubles as the dataset version id.
type IngestRun struct {
	ID            string     `json:"id"`
	Vendor        string     `json:"vendor"`
	Dataset       string     `json:"dataset"`
	FileName      string     `json:"fileName"`
	FileSHA256    string     `json:"fileSha256"`
	StartedAt     time.Time  `json:"startedAt"`
	FinishedAt    *time.Time `json:"finishedAt,omitempty"`
	Status        RunStatus  `json:"status"`
	RowCount      int        `json:"rowCount"`
	InsertedCount int        `json:"insertedCount"`
	UpdatedCount  int        `json:"updatedCount"`
	MinTS         *time.Time `json:"minTs,omitempty"`
	MaxTS         *time.Time `json:"maxTs,omitempty"`
	Error         *string    `json:"error,omitempty"`
}

// RunOutcome is what a run is finalized with.
type RunOutcome struct {
	Status        RunStatus
	FinishedAt    time.Time
	RowCount      int
	InsertedCount int
	UpdatedCount  int
	MinTS         *time.Time
	MaxTS         *time.Time
	Error         string
}

// ActiveDatasetVersion names the run each symbol's consumers must trust.
type ActiveDatasetVersion struct {
	Symbol           string    `json:"symbol"`
	DatasetVersionID string    `json:"datasetVersionId"`
	UpdatedAt        time.Time `json:"updatedAt"`
}
