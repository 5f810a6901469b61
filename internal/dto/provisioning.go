package dto

import (
	"github.com/noah-isme/pasi-sync-api/internal/models"
)

// ProvisioningLookup is what an operator sees before creating anything.
type ProvisioningLookup struct {
	Email      string                 `json:"email"`
	StudentKey string                 `json:"studentKey"`
	Exists     bool                   `json:"exists"`
	Profile    *models.StudentProfile `json:"profile,omitempty"`
	Courses    []models.StudentCourse `json:"courses"`
}

// ProvisioningDraft is a profile and enrollment prefilled from a registry record.
type ProvisioningDraft struct {
	RegistryRecordID string              `json:"pasiRecordId"`
	ASN              string              `json:"asn"`
	FirstName        string              `json:"firstName"`
	LastName         string              `json:"lastName"`
	CourseCode       string              `json:"courseCode"`
	SchoolYear       string              `json:"schoolYear"`
	Status           string              `json:"status"`
	EnrollmentState  string              `json:"enrollmentState"`
	Candidates       []models.CourseInfo `json:"candidates"`
	Confident        bool                `json:"confident"`
}

// ProvisionRequest is the confirmed profile and course enrollment.
type ProvisionRequest struct {
	RegistryRecordID string          `json:"pasiRecordId" validate:"required"`
	Email            string          `json:"email" validate:"required,email"`
	ASN              string          `json:"asn" validate:"required"`
	FirstName        string          `json:"firstName" validate:"required,max=100"`
	LastName         string          `json:"lastName" validate:"required,max=100"`
	CourseID         models.CourseID `json:"courseId" validate:"required,gt=0"`
	Status           string          `json:"status"`
	EnrollmentState  string          `json:"enrollmentState" validate:"omitempty,oneof=Active Future Archived"`
	RegistryLinked   bool            `json:"pasi"`
	StudentType      string          `json:"studentType" validate:"required,max=50"`
	LMSID            string          `json:"lmsId" validate:"max=50"`
}

// ProvisionResult reports the keys that were written.
type ProvisionResult struct {
	StudentKey     string          `json:"studentKey"`
	SummaryKey     string          `json:"summaryKey"`
	CourseID       models.CourseID `json:"courseId"`
	ProfileCreated bool            `json:"profileCreated"`
}
