package dto

import (
	"time"

	"github.com/noah-isme/pasi-sync-api/internal/models"
)

// LinkRequest asks for a registry record to be joined to a student course summary.
type LinkRequest struct {
	RegistryRecordID string `json:"pasiRecordId" validate:"required"`
	SummaryKey       string `json:"summaryKey" validate:"required"`
	// SchoolYear is used for report cleanup when the record carries none.
	SchoolYear string `json:"schoolYear"`
}

// LinkResult describes a committed link.
type LinkResult struct {
	LinkID           string          `json:"linkId"`
	RegistryRecordID string          `json:"pasiRecordId"`
	SummaryKey       string          `json:"summaryKey"`
	SchoolYear       string          `json:"schoolYear"`
	LinkedAt         time.Time       `json:"linkedAt"`
	RemovedFrom      []models.Bucket `json:"removedFrom"`
}
