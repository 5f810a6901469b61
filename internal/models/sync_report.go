package models

import (
	"fmt"
	"strings"
	"time"
)

// Outcome is the classification of one registry record against internal data.
type Outcome string

// Classification outcomes.
const (
	OutcomeLinked                Outcome = "linked"
	OutcomeExistingLinkFailed    Outcome = "existing-link-failed"
	OutcomeNewLinkFailed         Outcome = "new-link-failed"
	OutcomeNeedsManualMapping    Outcome = "needs-manual-mapping"
	OutcomeStatusMismatch        Outcome = "status-mismatch"
	OutcomeMissingRegistryRecord Outcome = "missing-registry-record"
	// OutcomeAutoLink marks an unlinked record with exactly one matching summary.
	// The runner resolves it to linked or new-link-failed before anything is written.
	OutcomeAutoLink Outcome = "auto-link"
)

// Failure reasons for OutcomeNewLinkFailed, in evaluation order.
const (
	ReasonNoASNFound              = "No ASN Found"
	ReasonStudentCourseNotFound   = "Student course not found"
	ReasonUnknownCourseCode       = "Unknown course code"
	ReasonErrorProcessingRecord   = "Error processing record"
	ReasonAmbiguousCourseCode     = "Multiple course ids for course code"
	ReasonMultipleSummaries       = "Multiple student courses match"
	ReasonLinkMissing             = "Link record missing"
	ReasonLinkedSummaryMissing    = "Linked student course summary missing"
	ReasonLinkedRecordMissing     = "Linked registry record missing"
	ReasonStatusIncompatible      = "Status incompatible"
	ReasonNoRegistryRecordForYear = "No registry record for school year"
)

// Bucket names one of the five sync report collections.
type Bucket string

// Report buckets, named by their store sub-path.
const (
	BucketExistingLinkFailed    Bucket = "existingLinks/failed"
	BucketNewLinkFailed         Bucket = "newLinks/failed"
	BucketNeedsManualMapping    Bucket = "newLinks/needsManualCourseMapping"
	BucketStatusMismatch        Bucket = "statusMismatches"
	BucketMissingRegistryRecord Bucket = "studentCourseSummariesMissingPasi"
)

// Buckets lists every report bucket.
var Buckets = []Bucket{
	BucketExistingLinkFailed,
	BucketNewLinkFailed,
	BucketNeedsManualMapping,
	BucketStatusMismatch,
	BucketMissingRegistryRecord,
}

var bucketAliases = map[string]Bucket{
	"existing-link-failed":    BucketExistingLinkFailed,
	"new-link-failed":         BucketNewLinkFailed,
	"needs-manual-mapping":    BucketNeedsManualMapping,
	"status-mismatch":         BucketStatusMismatch,
	"missing-registry-record": BucketMissingRegistryRecord,
}

// ParseBucket accepts either the outcome name or the store sub-path.
func ParseBucket(raw string) (Bucket, error) {
	if b, ok := bucketAliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return b, nil
	}
	for _, b := range Buckets {
		if string(b) == raw {
			return b, nil
		}
	}
	return "", fmt.Errorf("unknown bucket %q", raw)
}

// Name returns the outcome-style name of the bucket.
func (b Bucket) Name() string {
	for name, bucket := range bucketAliases {
		if bucket == b {
			return name
		}
	}
	return string(b)
}

// BucketForOutcome returns the bucket an outcome is stored in, if any.
func BucketForOutcome(o Outcome) (Bucket, bool) {
	switch o {
	case OutcomeExistingLinkFailed:
		return BucketExistingLinkFailed, true
	case OutcomeNewLinkFailed:
		return BucketNewLinkFailed, true
	case OutcomeNeedsManualMapping:
		return BucketNeedsManualMapping, true
	case OutcomeStatusMismatch:
		return BucketStatusMismatch, true
	case OutcomeMissingRegistryRecord:
		return BucketMissingRegistryRecord, true
	default:
		return "", false
	}
}

// SyncReportEntry is one item in a report bucket. It is stored under a content key,
// never by position, so removals survive a batch rewrite that reorders entries.
type SyncReportEntry struct {
	Key                string     `json:"-"`
	StudentName        string     `json:"studentName"`
	ASN                string     `json:"asn"`
	CourseCode         string     `json:"courseCode,omitempty"`
	CourseDescription  string     `json:"courseDescription,omitempty"`
	CourseID           CourseID   `json:"courseId,omitempty"`
	CandidateCourseIDs []CourseID `json:"candidateCourseIds,omitempty"`
	StudentKey         string     `json:"studentKey,omitempty"`
	SummaryKey         string     `json:"summaryKey,omitempty"`
	RegistryRecordID   string     `json:"pasiRecordId,omitempty"`
	LinkID             string     `json:"linkId,omitempty"`
	InternalStatus     string     `json:"internalStatus,omitempty"`
	RegistryStatus     string     `json:"registryStatus,omitempty"`
	OriginalStatus     string     `json:"originalStatus,omitempty"`
	CorrectedStatus    string     `json:"correctedStatus,omitempty"`
	Reason             string     `json:"reason"`
	FlaggedForReview   bool       `json:"flaggedForReview,omitempty"`
	SchoolYear         string     `json:"schoolYear"`
	Checked            bool       `json:"checked"`
	ClassifiedAt       time.Time  `json:"classifiedAt"`
}

// SyncReportMeta describes the last classification run of a school year.
type SyncReportMeta struct {
	SchoolYear  string         `json:"schoolYear"`
	LastRunAt   time.Time      `json:"lastRunAt"`
	RunID       string         `json:"runId"`
	Processed   int            `json:"processed"`
	AutoLinked  int            `json:"autoLinked"`
	Counts      map[string]int `json:"counts"`
	LinkedCount int            `json:"linkedCount"`
}

// SyncReport is the full report for one school year.
type SyncReport struct {
	Meta    *SyncReportMeta                       `json:"meta,omitempty"`
	Buckets map[Bucket]map[string]SyncReportEntry `json:"-"`
}

// SyncReportSummary is the lightweight view of a report.
type SyncReportSummary struct {
	SchoolYear string          `json:"schoolYear"`
	Meta       *SyncReportMeta `json:"meta,omitempty"`
	Counts     map[string]int  `json:"counts"`
	Unchecked  map[string]int  `json:"unchecked"`
}

// SyncReportFilter narrows a bucket listing.
type SyncReportFilter struct {
	Search    string
	Checked   *bool
	Flagged   *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// ReportChange is delivered to report watchers.
type ReportChange struct {
	SchoolYear string    `json:"schoolYear"`
	Path       string    `json:"path"`
	At         time.Time `json:"at"`
}
