package service

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/noah-isme/pasi-sync-api/internal/models"
)

// InternalIndex is a read-only view of the internal record set used for classification.
type InternalIndex struct {
	CourseMap        *CourseCodeMap
	Summaries        map[string]models.StudentCourseSummary
	StudentKeysByASN map[string][]string
	Links            map[string]models.PasiLink
	LinksByRecord    map[string]models.PasiLink
}

// NewInternalIndex indexes summaries, profiles and links. Profiles and summaries both
// contribute to the ASN lookup; deleted links are ignored.
func NewInternalIndex(courseMap *CourseCodeMap, summaries map[string]models.StudentCourseSummary, profiles map[string]models.StudentProfile, links map[string]models.PasiLink) *InternalIndex {
	idx := &InternalIndex{
		CourseMap:        courseMap,
		Summaries:        make(map[string]models.StudentCourseSummary, len(summaries)),
		StudentKeysByASN: make(map[string][]string),
		Links:            make(map[string]models.PasiLink, len(links)),
		LinksByRecord:    make(map[string]models.PasiLink, len(links)),
	}
	seen := make(map[string]map[string]struct{})
	addKey := func(asn, studentKey string) {
		asn = models.NormalizeASN(asn)
		if asn == "" || studentKey == "" {
			return
		}
		if seen[asn] == nil {
			seen[asn] = make(map[string]struct{})
		}
		if _, ok := seen[asn][studentKey]; ok {
			return
		}
		seen[asn][studentKey] = struct{}{}
		idx.StudentKeysByASN[asn] = append(idx.StudentKeysByASN[asn], studentKey)
	}

	for key, summary := range summaries {
		summary.Key = key
		if summary.StudentKey == "" {
			summary.StudentKey = studentKeyFromSummaryKey(key)
		}
		idx.Summaries[key] = summary
		addKey(summary.ASN, summary.StudentKey)
	}
	for studentKey, profile := range profiles {
		addKey(profile.ASN, studentKey)
	}
	for _, keys := range idx.StudentKeysByASN {
		sort.Strings(keys)
	}
	for id, link := range links {
		link.ID = id
		idx.Links[id] = link
		if !link.Deleted {
			idx.LinksByRecord[link.PasiRecordID] = link
		}
	}
	return idx
}

// Classification is the result of evaluating one registry record or summary.
type Classification struct {
	Outcome            models.Outcome
	Reason             string
	Record             models.RegistryRecord
	Summary            *models.StudentCourseSummary
	Link               *models.PasiLink
	StudentKeys        []string
	CourseID           models.CourseID
	CandidateCourseIDs []models.CourseID
	FlaggedForReview   bool
}

// Classify evaluates record against idx. It always yields exactly one outcome;
// an unexpected fault is reported as new-link-failed with "Error processing record".
func Classify(record models.RegistryRecord, idx *InternalIndex) (result Classification) {
	defer func() {
		if r := recover(); r != nil {
			result = Classification{
				Outcome: models.OutcomeNewLinkFailed,
				Reason:  models.ReasonErrorProcessingRecord,
				Record:  record,
			}
		}
	}()

	result.Record = record
	if link, ok := idx.LinksByRecord[record.ID]; ok || record.Linked {
		if !ok {
			return result.fail(models.OutcomeExistingLinkFailed, models.ReasonLinkMissing)
		}
		return classifyLinked(result, link, idx)
	}

	asn := models.NormalizeASN(record.ASN)
	keys := idx.StudentKeysByASN[asn]
	result.StudentKeys = keys
	if asn == "" || len(keys) == 0 {
		return result.fail(models.OutcomeNewLinkFailed, models.ReasonNoASNFound)
	}

	resolution := idx.CourseMap.Resolve(record.CourseCode)
	result.CandidateCourseIDs = resolution.CourseIDs
	switch {
	case len(resolution.CourseIDs) == 0:
		return result.fail(models.OutcomeNewLinkFailed, models.ReasonUnknownCourseCode)
	case !resolution.Confident:
		result.FlaggedForReview = len(keys) > 1 || countHeldCourses(keys, resolution.CourseIDs, idx) > 1
		return result.fail(models.OutcomeNeedsManualMapping, models.ReasonAmbiguousCourseCode)
	}

	courseID := resolution.CourseIDs[0]
	result.CourseID = courseID
	var matches []models.StudentCourseSummary
	for _, key := range keys {
		if summary, ok := idx.Summaries[models.SummaryKey(key, courseID)]; ok {
			matches = append(matches, summary)
		}
	}
	switch len(matches) {
	case 0:
		return result.fail(models.OutcomeNewLinkFailed, models.ReasonStudentCourseNotFound)
	case 1:
		summary := matches[0]
		result.Summary = &summary
		result.Outcome = models.OutcomeAutoLink
		return result
	default:
		result.FlaggedForReview = true
		return result.fail(models.OutcomeNeedsManualMapping, models.ReasonMultipleSummaries)
	}
}

func classifyLinked(result Classification, link models.PasiLink, idx *InternalIndex) Classification {
	result.Link = &link
	summary, ok := idx.Summaries[link.StudentCourseSummaryKey]
	if !ok {
		return result.fail(models.OutcomeExistingLinkFailed, models.ReasonLinkedSummaryMissing)
	}
	result.Summary = &summary
	result.CourseID = summary.CourseID
	result.StudentKeys = []string{summary.StudentKey}

	internal, err := models.ParseInternalStatus(summary.Status)
	if err != nil {
		return result.fail(models.OutcomeNewLinkFailed, models.ReasonErrorProcessingRecord)
	}
	registry, err := models.ParseRegistryStatus(result.Record.Status)
	if err != nil {
		return result.fail(models.OutcomeNewLinkFailed, models.ReasonErrorProcessingRecord)
	}
	if !StatusCompatible(internal, registry) {
		return result.fail(models.OutcomeStatusMismatch, models.ReasonStatusIncompatible)
	}
	result.Outcome = models.OutcomeLinked
	return result
}

func (c Classification) fail(outcome models.Outcome, reason string) Classification {
	c.Outcome = outcome
	c.Reason = reason
	return c
}

func countHeldCourses(keys []string, ids []models.CourseID, idx *InternalIndex) int {
	held := 0
	for _, id := range ids {
		for _, key := range keys {
			if _, ok := idx.Summaries[models.SummaryKey(key, id)]; ok {
				held++
				break
			}
		}
	}
	return held
}

// Entry renders a classification as a report entry. ok is false for outcomes
// that are not stored in a bucket.
func (c Classification) Entry(sy models.SchoolYear, now time.Time) (models.Bucket, models.SyncReportEntry, bool) {
	bucket, ok := models.BucketForOutcome(c.Outcome)
	if !ok {
		return "", models.SyncReportEntry{}, false
	}
	entry := models.SyncReportEntry{
		StudentName:        c.Record.StudentName,
		ASN:                c.Record.ASN,
		CourseCode:         models.NormalizeCourseCode(c.Record.CourseCode),
		CourseDescription:  c.Record.CourseDescription,
		CourseID:           c.CourseID,
		CandidateCourseIDs: c.CandidateCourseIDs,
		RegistryRecordID:   c.Record.ID,
		RegistryStatus:     c.Record.Status,
		Reason:             c.Reason,
		FlaggedForReview:   c.FlaggedForReview,
		SchoolYear:         sy.Display(),
		ClassifiedAt:       now,
	}
	if len(c.StudentKeys) == 1 {
		entry.StudentKey = c.StudentKeys[0]
	}
	if c.Link != nil {
		entry.LinkID = c.Link.ID
		if entry.RegistryRecordID == "" {
			entry.RegistryRecordID = c.Link.PasiRecordID
		}
	}
	if c.Summary != nil {
		entry.SummaryKey = c.Summary.Key
		entry.StudentKey = c.Summary.StudentKey
		entry.InternalStatus = c.Summary.Status
		entry.OriginalStatus = c.Summary.Status
		if entry.StudentName == "" {
			entry.StudentName = formatStudentName(c.Summary.LastName, c.Summary.FirstName)
		}
		if entry.ASN == "" {
			entry.ASN = c.Summary.ASN
		}
	}

	switch {
	case c.Outcome == models.OutcomeMissingRegistryRecord && c.Summary != nil:
		entry.Key = c.Summary.Key
	case c.Record.ID == "" && c.Link != nil:
		entry.Key = "link_" + c.Link.ID
	default:
		entry.Key = models.EntryKey(c.Record.ASN, c.Record.CourseCode)
	}
	return bucket, entry, true
}

// ClassifyMissing reports tracked summaries of sy that no registry record covers.
func ClassifyMissing(sy models.SchoolYear, records []models.RegistryRecord, idx *InternalIndex, tracked map[models.InternalStatus]bool) []Classification {
	type coverKey struct {
		asn      string
		courseID models.CourseID
	}
	covered := make(map[coverKey]struct{})
	liveRecords := make(map[string]struct{}, len(records))
	for _, record := range records {
		if record.Deleted {
			continue
		}
		liveRecords[record.ID] = struct{}{}
		asn := models.NormalizeASN(record.ASN)
		for _, id := range idx.CourseMap.Resolve(record.CourseCode).CourseIDs {
			covered[coverKey{asn: asn, courseID: id}] = struct{}{}
		}
	}
	linkedSummaries := make(map[string]struct{})
	for _, link := range idx.LinksByRecord {
		if _, ok := liveRecords[link.PasiRecordID]; ok {
			linkedSummaries[link.StudentCourseSummaryKey] = struct{}{}
		}
	}

	keys := make([]string, 0, len(idx.Summaries))
	for key := range idx.Summaries {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var out []Classification
	for _, key := range keys {
		summary := idx.Summaries[key]
		if !sy.Matches(summary.SchoolYear) {
			continue
		}
		status, err := models.ParseInternalStatus(summary.Status)
		if err != nil || !tracked[status] {
			continue
		}
		if _, ok := linkedSummaries[key]; ok {
			continue
		}
		if _, ok := covered[coverKey{asn: models.NormalizeASN(summary.ASN), courseID: summary.CourseID}]; ok {
			continue
		}
		s := summary
		out = append(out, Classification{
			Outcome:     models.OutcomeMissingRegistryRecord,
			Reason:      models.ReasonNoRegistryRecordForYear,
			Summary:     &s,
			CourseID:    summary.CourseID,
			StudentKeys: []string{summary.StudentKey},
		})
	}
	return out
}

// ClassifyOrphanedLinks reports undeleted links of sy whose registry record is gone.
func ClassifyOrphanedLinks(sy models.SchoolYear, records map[string]models.RegistryRecord, idx *InternalIndex) []Classification {
	ids := make([]string, 0, len(idx.LinksByRecord))
	for _, link := range idx.LinksByRecord {
		ids = append(ids, link.ID)
	}
	sort.Strings(ids)

	var out []Classification
	for _, id := range ids {
		link := idx.Links[id]
		if !sy.Matches(link.SchoolYear) {
			continue
		}
		if record, ok := records[link.PasiRecordID]; ok && !record.Deleted {
			continue
		}
		l := link
		c := Classification{
			Outcome: models.OutcomeExistingLinkFailed,
			Reason:  models.ReasonLinkedRecordMissing,
			Link:    &l,
			Record:  models.RegistryRecord{ASN: link.ASN, CourseCode: link.CourseCode},
		}
		if summary, ok := idx.Summaries[link.StudentCourseSummaryKey]; ok {
			c.Summary = &summary
			c.CourseID = summary.CourseID
		}
		out = append(out, c)
	}
	return out
}

func studentKeyFromSummaryKey(key string) string {
	if idx := strings.LastIndex(key, "_"); idx > 0 {
		return key[:idx]
	}
	return key
}

func formatStudentName(last, first string) string {
	switch {
	case last == "" && first == "":
		return ""
	case last == "":
		return first
	case first == "":
		return last
	default:
		return fmt.Sprintf("%s, %s", last, first)
	}
}
