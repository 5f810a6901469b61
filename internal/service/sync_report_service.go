package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/pasi-sync-api/internal/dto"
	"github.com/noah-isme/pasi-sync-api/internal/models"
	"github.com/noah-isme/pasi-sync-api/internal/store"
	appErrors "github.com/noah-isme/pasi-sync-api/pkg/errors"
	"github.com/noah-isme/pasi-sync-api/pkg/export"
)

const (
	defaultReportPageSize = 25
	maxReportPageSize     = 200
)

// Export formats.
const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"
)

// SyncReportService reads and maintains the per-school-year sync report.
type SyncReportService struct {
	store  store.Store
	cache  *SummaryCache
	csv    *export.CSVExporter
	pdf    *export.PDFExporter
	logger *zap.Logger
}

// NewSyncReportService constructs the report service. cache may be nil.
func NewSyncReportService(st store.Store, cache *SummaryCache, logger *zap.Logger) *SyncReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncReportService{
		store:  st,
		cache:  cache,
		csv:    export.NewCSVExporter(),
		pdf:    export.NewPDFExporter(),
		logger: logger,
	}
}

// Report loads the whole report of sy in one read.
func (s *SyncReportService) Report(ctx context.Context, sy models.SchoolYear) (*models.SyncReport, error) {
	var raw map[string]interface{}
	if _, err := s.store.Get(ctx, models.ReportPath(sy), &raw); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load sync report")
	}
	report := &models.SyncReport{Buckets: make(map[models.Bucket]map[string]models.SyncReportEntry, len(models.Buckets))}
	if raw == nil {
		for _, bucket := range models.Buckets {
			report.Buckets[bucket] = map[string]models.SyncReportEntry{}
		}
		return report, nil
	}

	if node, ok := store.Lookup(raw, "meta"); ok {
		var meta models.SyncReportMeta
		if err := store.Decode(node, &meta); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decode sync report meta")
		}
		report.Meta = &meta
	}
	for _, bucket := range models.Buckets {
		entries := map[string]models.SyncReportEntry{}
		if node, ok := store.Lookup(raw, string(bucket)); ok {
			if err := store.Decode(node, &entries); err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decode bucket "+bucket.Name())
			}
		}
		for key, entry := range entries {
			entry.Key = key
			entries[key] = entry
		}
		report.Buckets[bucket] = entries
	}
	return report, nil
}

// Summary returns bucket counts for sy, served from cache when enabled. The
// boolean reports a cache hit.
func (s *SyncReportService) Summary(ctx context.Context, sy models.SchoolYear) (*models.SyncReportSummary, bool, error) {
	var cached models.SyncReportSummary
	if s.cache.Load(ctx, sy, &cached) {
		return &cached, true, nil
	}

	report, err := s.Report(ctx, sy)
	if err != nil {
		return nil, false, err
	}
	summary := &models.SyncReportSummary{
		SchoolYear: sy.Display(),
		Meta:       report.Meta,
		Counts:     make(map[string]int, len(models.Buckets)),
		Unchecked:  make(map[string]int, len(models.Buckets)),
	}
	for _, bucket := range models.Buckets {
		entries := report.Buckets[bucket]
		summary.Counts[bucket.Name()] = len(entries)
		unchecked := 0
		for _, entry := range entries {
			if !entry.Checked {
				unchecked++
			}
		}
		summary.Unchecked[bucket.Name()] = unchecked
	}
	s.cache.Save(ctx, sy, summary)
	return summary, false, nil
}

// ListBucket returns one page of bucket entries matching filter.
func (s *SyncReportService) ListBucket(ctx context.Context, sy models.SchoolYear, bucket models.Bucket, filter models.SyncReportFilter) ([]models.SyncReportEntry, *models.Pagination, error) {
	entries, err := s.bucketEntries(ctx, sy, bucket)
	if err != nil {
		return nil, nil, err
	}
	matched := filterEntries(entries, filter)
	sortEntries(matched, filter.SortBy, filter.SortOrder)

	page := filter.Page
	if page <= 0 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = defaultReportPageSize
	}
	if size > maxReportPageSize {
		size = maxReportPageSize
	}
	start := len(matched)
	if page-1 <= len(matched)/size {
		start = min((page-1)*size, len(matched))
	}
	end := start + size
	if end > len(matched) {
		end = len(matched)
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: len(matched)}
	return matched[start:end], pagination, nil
}

// SetChecked marks an entry as reviewed or not. Entries are addressed by content key.
func (s *SyncReportService) SetChecked(ctx context.Context, sy models.SchoolYear, bucket models.Bucket, entryKey string, checked bool) (*models.SyncReportEntry, error) {
	if entryKey == "" || strings.Contains(entryKey, "/") {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid entry key")
	}
	path := models.EntryPath(sy, bucket, entryKey)
	var entry models.SyncReportEntry
	found, err := s.store.Get(ctx, path, &entry)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report entry")
	}
	if !found {
		return nil, appErrors.Clone(appErrors.ErrRecordNotFound, "report entry not found")
	}
	if err := s.store.UpdateIfExists(ctx, path, map[string]interface{}{path + "/checked": checked}); err != nil {
		if errors.Is(err, store.ErrGuardMissing) {
			return nil, appErrors.Clone(appErrors.ErrRecordNotFound, "report entry not found")
		}
		s.logger.Error("set checked failed", zap.String("path", path), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrStoreWriteFailed.Code, appErrors.ErrStoreWriteFailed.Status, "failed to update report entry")
	}
	entry.Key = entryKey
	entry.Checked = checked
	return &entry, nil
}

// Watch calls fn for every committed change under the report of sy.
// The returned subscription must be released by the caller.
func (s *SyncReportService) Watch(sy models.SchoolYear, fn func(models.ReportChange)) store.Subscription {
	return s.store.Subscribe(models.ReportPath(sy), func(change store.Change) {
		fn(models.ReportChange{SchoolYear: sy.Display(), Path: change.Path, At: change.At})
	})
}

// Export renders the filtered bucket as CSV or PDF.
func (s *SyncReportService) Export(ctx context.Context, sy models.SchoolYear, bucket models.Bucket, format string, filter models.SyncReportFilter) (*dto.ExportFile, error) {
	entries, err := s.bucketEntries(ctx, sy, bucket)
	if err != nil {
		return nil, err
	}
	matched := filterEntries(entries, filter)
	sortEntries(matched, filter.SortBy, filter.SortOrder)
	dataset := entriesDataset(map[models.Bucket][]models.SyncReportEntry{bucket: matched}, false)

	base := fmt.Sprintf("sync-report-%s-%s", sy.Path(), bucket.Name())
	switch strings.ToLower(format) {
	case "", ExportFormatCSV:
		data, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return &dto.ExportFile{Filename: base + ".csv", ContentType: "text/csv", Data: data}, nil
	case ExportFormatPDF:
		title := fmt.Sprintf("PASI sync %s: %s", sy.Display(), bucket.Name())
		data, err := s.pdf.Render(dataset, title)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return &dto.ExportFile{Filename: base + ".pdf", ContentType: "application/pdf", Data: data}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
}

func (s *SyncReportService) bucketEntries(ctx context.Context, sy models.SchoolYear, bucket models.Bucket) ([]models.SyncReportEntry, error) {
	var raw map[string]models.SyncReportEntry
	if _, err := s.store.Get(ctx, models.BucketPath(sy, bucket), &raw); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load bucket "+bucket.Name())
	}
	entries := make([]models.SyncReportEntry, 0, len(raw))
	for key, entry := range raw {
		entry.Key = key
		entries = append(entries, entry)
	}
	return entries, nil
}

func filterEntries(entries []models.SyncReportEntry, filter models.SyncReportFilter) []models.SyncReportEntry {
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	searchASN := models.NormalizeASN(search)
	out := make([]models.SyncReportEntry, 0, len(entries))
	for _, entry := range entries {
		if filter.Checked != nil && entry.Checked != *filter.Checked {
			continue
		}
		if filter.Flagged != nil && entry.FlaggedForReview != *filter.Flagged {
			continue
		}
		if search != "" && !entryMatches(entry, search, searchASN) {
			continue
		}
		out = append(out, entry)
	}
	return out
}

func entryMatches(entry models.SyncReportEntry, search, searchASN string) bool {
	if searchASN != "" && strings.Trim(search, "0123456789- ") == "" && strings.Contains(models.NormalizeASN(entry.ASN), searchASN) {
		return true
	}
	for _, field := range []string{entry.StudentName, entry.CourseCode, entry.CourseDescription, entry.Reason, entry.StudentKey, entry.ASN} {
		if strings.Contains(strings.ToLower(field), search) {
			return true
		}
	}
	return false
}

func sortEntries(entries []models.SyncReportEntry, sortBy, order string) {
	desc := strings.EqualFold(order, "desc")
	value := func(e models.SyncReportEntry) string {
		switch sortBy {
		case "asn":
			return models.NormalizeASN(e.ASN)
		case "courseCode":
			return e.CourseCode
		case "reason":
			return e.Reason
		case "classifiedAt":
			return e.ClassifiedAt.UTC().Format(time.RFC3339Nano)
		default:
			return strings.ToLower(e.StudentName)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := value(entries[i]), value(entries[j])
		if a == b {
			return entries[i].Key < entries[j].Key
		}
		if desc {
			return a > b
		}
		return a < b
	})
}

var datasetHeaders = []string{"Bucket", "Entry", "Student", "ASN", "Course Code", "Course ID", "Internal Status", "Registry Status", "Reason", "Flagged", "Checked"}

// entriesDataset flattens report entries into an export table.
func entriesDataset(buckets map[models.Bucket][]models.SyncReportEntry, withBucket bool) export.Dataset {
	headers := datasetHeaders
	if !withBucket {
		headers = datasetHeaders[1:]
	}
	dataset := export.Dataset{Headers: headers}
	for _, bucket := range models.Buckets {
		for _, entry := range buckets[bucket] {
			courseID := ""
			if entry.CourseID != 0 {
				courseID = strconv.Itoa(int(entry.CourseID))
			}
			dataset.Rows = append(dataset.Rows, map[string]string{
				"Bucket":          bucket.Name(),
				"Entry":           entry.Key,
				"Student":         entry.StudentName,
				"ASN":             entry.ASN,
				"Course Code":     entry.CourseCode,
				"Course ID":       courseID,
				"Internal Status": entry.InternalStatus,
				"Registry Status": entry.RegistryStatus,
				"Reason":          entry.Reason,
				"Flagged":         strconv.FormatBool(entry.FlaggedForReview),
				"Checked":         strconv.FormatBool(entry.Checked),
			})
		}
	}
	return dataset
}
