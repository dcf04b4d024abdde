package domain

import (
	"time"

	"github.com/google/uuid"
)

// ImportStatus captures the lifecycle state of an import job.
type ImportStatus string

const (
	ImportStatusPending        ImportStatus = "PENDING"
	ImportStatusRunning        ImportStatus = "RUNNING"
	ImportStatusRequiresReview ImportStatus = "REQUIRES_REVIEW"
	ImportStatusFailed         ImportStatus = "FAILED"
	ImportStatusCompleted      ImportStatus = "COMPLETED"
)

// Stage identifies one phase of the import pipeline. Stages advance strictly
// in the order below; a resumed job re-runs only the stages at or after its
// checkpointed stage.
type Stage string

const (
	StageDownloading Stage = "DOWNLOADING"
	StageDownloaded  Stage = "DOWNLOADED"
	StageStaging     Stage = "STAGING"
	StageValidating  Stage = "VALIDATING"
	StageDiffing     Stage = "DIFFING"
	StageProcessing  Stage = "PROCESSING"
	StageCompleted   Stage = "COMPLETED"
)

var stageOrder = map[Stage]int{
	StageDownloading: 0,
	StageDownloaded:  1,
	StageStaging:     2,
	StageValidating:  3,
	StageDiffing:     4,
	StageProcessing:  5,
	StageCompleted:   6,
}

// Order returns the position of the stage in the pipeline. Unknown stages
// sort before DOWNLOADING so a corrupt checkpoint restarts from the top.
func (s Stage) Order() int {
	order, ok := stageOrder[s]
	if !ok {
		return -1
	}
	return order
}

// AtOrBefore reports whether s runs no later than other in the pipeline.
func (s Stage) AtOrBefore(other Stage) bool {
	return s.Order() <= other.Order()
}

// Checkpoint records pipeline progress for an import job. ProcessedRecords
// and LastProcessedPartitionKey are monotonically non-decreasing within a
// stage and reset whenever the stage advances.
type Checkpoint struct {
	Stage                     Stage  `json:"stage"`
	BlobKey                   string `json:"blobKey,omitempty"`
	BlobStoreID               string `json:"blobStoreId,omitempty"`
	FileHash                  string `json:"fileHash,omitempty"`
	DownloadedBytes           int64  `json:"downloadedBytes,omitempty"`
	ProcessedBatches          int    `json:"processedBatches"`
	TotalBatches              int    `json:"totalBatches"`
	ProcessedRecords          int    `json:"processedRecords"`
	LastProcessedPartitionKey string `json:"lastProcessedPartitionKey,omitempty"`
}

// AdvanceTo moves the checkpoint to the given stage and resets the per-stage
// progress counters. Download metadata survives stage transitions.
func (c Checkpoint) AdvanceTo(stage Stage) Checkpoint {
	next := c
	next.Stage = stage
	next.ProcessedBatches = 0
	next.TotalBatches = 0
	next.ProcessedRecords = 0
	next.LastProcessedPartitionKey = ""
	return next
}

// ImportCounters aggregates per-job row counts.
type ImportCounters struct {
	TotalEntries    int `json:"totalEntries"`
	ImportedEntries int `json:"importedEntries"`
	UpdatedEntries  int `json:"updatedEntries"`
	SkippedEntries  int `json:"skippedEntries"`
	FailedEntries   int `json:"failedEntries"`
}

// ImportJob is one ingestion attempt for a tariff schedule revision. Jobs are
// created when an ingestion is requested, mutated only by the pipeline
// orchestrator, and never deleted.
type ImportJob struct {
	ID            uuid.UUID          `json:"id"`
	SourceVersion string             `json:"sourceVersion"`
	SourceURL     string             `json:"sourceUrl"`
	Status        ImportStatus       `json:"status"`
	Checkpoint    Checkpoint         `json:"checkpoint"`
	Counters      ImportCounters     `json:"counters"`
	Validation    *ValidationSummary `json:"validation,omitempty"`
	GateOverride  bool               `json:"gateOverride"`
	LogLines      []string           `json:"logLines"`
	ErrorMessage  string             `json:"errorMessage,omitempty"`
	ErrorDetail   string             `json:"errorDetail,omitempty"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}

// NewImportJob creates a pending job for the given source revision.
func NewImportJob(sourceVersion, sourceURL string) ImportJob {
	now := time.Now().UTC()
	return ImportJob{
		ID:            uuid.New(),
		SourceVersion: sourceVersion,
		SourceURL:     sourceURL,
		Status:        ImportStatusPending,
		Checkpoint:    Checkpoint{Stage: StageDownloading},
		LogLines:      []string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
