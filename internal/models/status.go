package models

import (
	"fmt"
	"strings"
)

// InternalStatus is the school's own enrollment status for a student course.
type InternalStatus string

// Internal statuses an operator may assign.
const (
	InternalStatusActive     InternalStatus = "Active"
	InternalStatusCompleted  InternalStatus = "Completed"
	InternalStatusWithdrawn  InternalStatus = "Withdrawn"
	InternalStatusUnenrolled InternalStatus = "Unenrolled"
	InternalStatusPaused     InternalStatus = "Paused"
	InternalStatusStarting   InternalStatus = "Starting"
	InternalStatusResuming   InternalStatus = "Resuming"
)

// InternalStatuses lists the closed enumeration in display order.
var InternalStatuses = []InternalStatus{
	InternalStatusActive,
	InternalStatusCompleted,
	InternalStatusWithdrawn,
	InternalStatusUnenrolled,
	InternalStatusPaused,
	InternalStatusStarting,
	InternalStatusResuming,
}

// RegistryStatus is the enrollment status reported by the registry feed.
type RegistryStatus string

// Registry statuses present in the feed.
const (
	RegistryStatusActive     RegistryStatus = "Active"
	RegistryStatusCompleted  RegistryStatus = "Completed"
	RegistryStatusIncomplete RegistryStatus = "Incomplete"
	RegistryStatusWithdrawn  RegistryStatus = "Withdrawn"
)

// RegistryStatuses lists the registry enumeration.
var RegistryStatuses = []RegistryStatus{
	RegistryStatusActive,
	RegistryStatusCompleted,
	RegistryStatusIncomplete,
	RegistryStatusWithdrawn,
}

// ParseInternalStatus maps raw onto the enumeration, case-insensitively.
// Internal data sometimes carries a date suffix ("Starting on 2024-09-01"); only the leading word counts.
func ParseInternalStatus(raw string) (InternalStatus, error) {
	trimmed := strings.TrimSpace(raw)
	if idx := strings.Index(trimmed, " on "); idx > 0 {
		trimmed = trimmed[:idx]
	}
	for _, status := range InternalStatuses {
		if strings.EqualFold(trimmed, string(status)) {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown internal status %q", raw)
}

// ParseRegistryStatus maps raw onto the registry enumeration.
func ParseRegistryStatus(raw string) (RegistryStatus, error) {
	trimmed := strings.TrimSpace(raw)
	for _, status := range RegistryStatuses {
		if strings.EqualFold(trimmed, string(status)) {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown registry status %q", raw)
}
