package models

import (
	"fmt"
	"strings"
)

// Record store roots.
const (
	RegistryRecordsRoot = "registryRecords"
	SummariesRoot       = "studentCourseSummaries"
	LinksRoot           = "pasiLinks"
	StudentsRoot        = "students"
	SyncReportRoot      = "pasiSyncReport/schoolYear"
)

var keyReplacer = strings.NewReplacer(".", "-", "#", "-", "$", "-", "[", "-", "]", "-", "/", "-", " ", "")

// StudentKey derives the store key of a student from their email.
func StudentKey(email string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(email)), ".", ",")
}

// SummaryKey joins a student key and course id.
func SummaryKey(studentKey string, courseID CourseID) string {
	return fmt.Sprintf("%s_%d", studentKey, courseID)
}

// EntryKey is the content key of a report entry for the (ASN, course code) pair.
func EntryKey(asn, courseCode string) string {
	id := NormalizeASN(asn)
	if id == "" {
		id = keyReplacer.Replace(strings.TrimSpace(asn))
	}
	return id + "_" + CourseCodeKey(courseCode)
}

// NormalizeCourseCode uppercases and trims a registry course code.
func NormalizeCourseCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CourseCodeKey returns the path-safe form of a course code.
func CourseCodeKey(code string) string {
	return keyReplacer.Replace(NormalizeCourseCode(code))
}

func RegistryRecordPath(id string) string {
	return RegistryRecordsRoot + "/" + id
}

func SummaryPath(key string) string {
	return SummariesRoot + "/" + key
}

func LinkPath(id string) string {
	return LinksRoot + "/" + id
}

func StudentProfilePath(studentKey string) string {
	return StudentsRoot + "/" + studentKey + "/profile"
}

func StudentCoursesPath(studentKey string) string {
	return StudentsRoot + "/" + studentKey + "/courses"
}

func StudentCoursePath(studentKey string, courseID CourseID) string {
	return fmt.Sprintf("%s/%d", StudentCoursesPath(studentKey), courseID)
}

// StudentStatusPath is the internal status value mutated by status corrections.
func StudentStatusPath(studentKey string, courseID CourseID) string {
	return StudentCoursePath(studentKey, courseID) + "/Status/Value"
}

func StatusAuditPath(studentKey string, courseID CourseID, noteID string) string {
	return StudentCoursePath(studentKey, courseID) + "/statusAudit/" + noteID
}

// ReportPath is the root of one school year's sync report.
func ReportPath(sy SchoolYear) string {
	return SyncReportRoot + "/" + sy.Path()
}

func ReportMetaPath(sy SchoolYear) string {
	return ReportPath(sy) + "/meta"
}

func BucketPath(sy SchoolYear, bucket Bucket) string {
	return ReportPath(sy) + "/" + string(bucket)
}

func EntryPath(sy SchoolYear, bucket Bucket, entryKey string) string {
	return BucketPath(sy, bucket) + "/" + entryKey
}

// NormalizeASN strips separators so "1234-5678-9" and "123456789" compare equal.
func NormalizeASN(asn string) string {
	var b strings.Builder
	for _, r := range asn {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
