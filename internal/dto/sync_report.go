package dto

import (
	"time"

	"github.com/noah-isme/pasi-sync-api/internal/models"
)

// ExportFile is a rendered bucket export.
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// RunResult summarises one classification pass.
type RunResult struct {
	RunID       string         `json:"runId"`
	SchoolYear  string         `json:"schoolYear"`
	Processed   int            `json:"processed"`
	AutoLinked  int            `json:"autoLinked"`
	LinkedCount int            `json:"linkedCount"`
	Counts      map[string]int `json:"counts"`
	Snapshot    string         `json:"snapshot,omitempty"`
	StartedAt   time.Time      `json:"startedAt"`
	FinishedAt  time.Time      `json:"finishedAt"`
}

// RunStatus is the latest known state of a school year's run.
type RunStatus struct {
	RunID      string     `json:"runId"`
	SchoolYear string     `json:"schoolYear"`
	State      string     `json:"state"`
	Error      string     `json:"error,omitempty"`
	QueuedAt   time.Time  `json:"queuedAt"`
	Result     *RunResult `json:"result,omitempty"`
}

// SetCheckedRequest toggles the reviewed flag of a report entry.
type SetCheckedRequest struct {
	Checked *bool `json:"checked" binding:"required"`
}

// BucketQuery is the query string of a bucket listing or export.
type BucketQuery struct {
	Search    string `form:"search"`
	Checked   *bool  `form:"checked"`
	Flagged   *bool  `form:"flagged"`
	Page      int    `form:"page"`
	Limit     int    `form:"limit"`
	SortBy    string `form:"sortBy"`
	SortOrder string `form:"sortOrder"`
	Format    string `form:"format"`
}

// BucketListItem is a report entry with its content key exposed.
type BucketListItem struct {
	EntryKey string `json:"entryKey"`
	models.SyncReportEntry
}
