package models

import "time"

// CourseID identifies an internal course.
type CourseID int

// RegistryRecord is one row of the registry feed stored at registryRecords/{id}.
// Only the bookkeeping fields are written by this service.
type RegistryRecord struct {
	ID                string  `json:"-"`
	ASN               string  `json:"asn"`
	StudentName       string  `json:"studentName"`
	CourseCode        string  `json:"courseCode"`
	CourseDescription string  `json:"courseDescription,omitempty"`
	Status            string  `json:"status"`
	CreditsAttempted  string  `json:"creditsAttempted,omitempty"`
	Period            string  `json:"period,omitempty"`
	Term              string  `json:"term,omitempty"`
	SchoolYear        string  `json:"schoolYear"`
	ExitDate          string  `json:"exitDate,omitempty"`
	Value             *string `json:"value,omitempty"`

	Linked      bool       `json:"linked"`
	LinkedAt    *time.Time `json:"linkedAt,omitempty"`
	Deleted     bool       `json:"deleted,omitempty"`
	LastUpdated *time.Time `json:"lastUpdated,omitempty"`
}

// CachedPasiRecord is the copy of linked registry fields kept on a summary under pasiRecords/{courseCode}.
type CachedPasiRecord struct {
	CourseDescription string    `json:"courseDescription"`
	CreditsAttempted  string    `json:"creditsAttempted"`
	Period            string    `json:"period"`
	SchoolYear        string    `json:"schoolYear"`
	PasiRecordID      string    `json:"pasiRecordId"`
	LinkID            string    `json:"linkId"`
	LinkedAt          time.Time `json:"linkedAt"`
}

// StudentCourseSummary is the denormalized projection stored at studentCourseSummaries/{studentKey}_{courseId}.
type StudentCourseSummary struct {
	Key         string                      `json:"-"`
	StudentKey  string                      `json:"studentKey"`
	CourseID    CourseID                    `json:"CourseID"`
	ASN         string                      `json:"asn"`
	FirstName   string                      `json:"firstName,omitempty"`
	LastName    string                      `json:"lastName,omitempty"`
	Status      string                      `json:"Status_Value"`
	StudentType string                      `json:"StudentType_Value,omitempty"`
	SchoolYear  string                      `json:"schoolYear"`
	PasiRecords map[string]CachedPasiRecord `json:"pasiRecords,omitempty"`
}

// PasiLink is the canonical evidence joining one registry record to one summary.
type PasiLink struct {
	ID                      string     `json:"-"`
	PasiRecordID            string     `json:"pasiRecordId"`
	StudentCourseSummaryKey string     `json:"studentCourseSummaryKey"`
	StudentKey              string     `json:"studentKey"`
	ASN                     string     `json:"asn,omitempty"`
	CourseCode              string     `json:"courseCode,omitempty"`
	LinkedAt                time.Time  `json:"linkedAt"`
	SchoolYear              string     `json:"schoolYear"`
	Deleted                 bool       `json:"deleted,omitempty"`
	DeletedAt               *time.Time `json:"deletedAt,omitempty"`
}

// StudentProfile is stored at students/{studentKey}/profile.
type StudentProfile struct {
	StudentKey  string    `json:"-"`
	Email       string    `json:"StudentEmail"`
	ASN         string    `json:"asn"`
	FirstName   string    `json:"firstName"`
	LastName    string    `json:"lastName"`
	StudentType string    `json:"StudentType,omitempty"`
	LMSID       string    `json:"LMSStudentID,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ValueField mirrors the {Value: ...} wrapper used on student course fields.
type ValueField struct {
	Value string `json:"Value"`
}

// StudentCourse is stored at students/{studentKey}/courses/{courseId}.
type StudentCourse struct {
	CourseID        CourseID   `json:"CourseID"`
	Status          ValueField `json:"Status"`
	EnrollmentState ValueField `json:"ActiveFutureArchived"`
	PASI            ValueField `json:"PASI"`
	StudentType     ValueField `json:"StudentType"`
	SchoolYear      ValueField `json:"School_x0020_Year"`
	LMSCourseID     string     `json:"LMSCourseID,omitempty"`
	Created         time.Time  `json:"Created"`
}

// StatusAuditNote records an operator status override on a student course.
type StatusAuditNote struct {
	PreviousStatus string    `json:"previousStatus"`
	NewStatus      string    `json:"newStatus"`
	Reason         string    `json:"reason"`
	EntryKey       string    `json:"entryKey,omitempty"`
	Actor          string    `json:"actor,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// CourseInfo describes an internal course.
type CourseInfo struct {
	ID         CourseID `json:"id" yaml:"id"`
	Title      string   `json:"title" yaml:"title"`
	Credits    int      `json:"credits" yaml:"credits"`
	Grade      int      `json:"grade" yaml:"grade"`
	CourseType string   `json:"courseType" yaml:"courseType"`
}

// CourseCodeMapping maps one registry course code to internal courses.
type CourseCodeMapping struct {
	CourseCode  string     `json:"courseCode" yaml:"code"`
	Description string     `json:"description,omitempty" yaml:"description"`
	CourseIDs   []CourseID `json:"courseIds" yaml:"courseIds"`
}

// CourseResolution is the outcome of resolving a registry course code.
type CourseResolution struct {
	CourseCode string       `json:"courseCode"`
	CourseIDs  []CourseID   `json:"courseIds"`
	Confident  bool         `json:"confident"`
	Courses    []CourseInfo `json:"courses,omitempty"`
}

// Pagination describes a paged listing.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
