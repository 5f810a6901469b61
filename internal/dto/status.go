package dto

import (
	"github.com/noah-isme/pasi-sync-api/internal/models"
)

// ChangeStatusRequest is the operator's status override.
type ChangeStatusRequest struct {
	Status string `json:"status" validate:"required"`
	Reason string `json:"reason" validate:"max=500"`
	Actor  string `json:"actor" validate:"max=200"`
	// Force applies a status that is still incompatible with the registry.
	Force bool `json:"force"`
}

// StatusChangeResult reports the applied status.
type StatusChangeResult struct {
	EntryKey       string `json:"entryKey"`
	SummaryKey     string `json:"summaryKey"`
	PreviousStatus string `json:"previousStatus"`
	Status         string `json:"status"`
	OriginalStatus string `json:"originalStatus"`
	RegistryStatus string `json:"registryStatus"`
	Compatible     bool   `json:"compatible"`
	CanReset       bool   `json:"canReset"`
}

// StatusCheckResult is the answer of a compatibility check.
type StatusCheckResult struct {
	InternalStatus models.InternalStatus `json:"internalStatus"`
	RegistryStatus models.RegistryStatus `json:"registryStatus"`
	Compatible     bool                  `json:"compatible"`
}

// ResetStatusRequest optionally names the operator resetting a status.
type ResetStatusRequest struct {
	Actor string `json:"actor" validate:"max=200"`
}
