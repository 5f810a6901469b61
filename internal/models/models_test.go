package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSchoolYear(t *testing.T) {
	sy, err := ParseSchoolYear("24_25")
	require.NoError(t, err)
	assert.Equal(t, "24_25", sy.Path())
	assert.Equal(t, "24/25", sy.Display())
	assert.True(t, sy.Matches("24/25"))
	assert.True(t, sy.Matches("24_25"))
	assert.False(t, sy.Matches("23/24"))
	assert.False(t, sy.Matches(""))

	other, err := ParseSchoolYear("24/25")
	require.NoError(t, err)
	assert.Equal(t, sy, other)

	for _, raw := range []string{"", "2024_2025", "24-25", "24_25/", "ab_cd"} {
		_, err := ParseSchoolYear(raw)
		assert.Error(t, err, raw)
	}
	assert.True(t, SchoolYear{}.IsZero())
	assert.Panics(t, func() { MustSchoolYear("nope") })
}

func TestParseStatuses(t *testing.T) {
	status, err := ParseInternalStatus(" completed ")
	require.NoError(t, err)
	assert.Equal(t, InternalStatusCompleted, status)

	status, err = ParseInternalStatus("Resuming on 2025-01-06")
	require.NoError(t, err)
	assert.Equal(t, InternalStatusResuming, status)

	_, err = ParseInternalStatus("Graduated")
	assert.Error(t, err)

	registry, err := ParseRegistryStatus("INCOMPLETE")
	require.NoError(t, err)
	assert.Equal(t, RegistryStatusIncomplete, registry)

	_, err = ParseRegistryStatus("Paused")
	assert.Error(t, err)
}

func TestBuckets(t *testing.T) {
	for _, bucket := range Buckets {
		byName, err := ParseBucket(bucket.Name())
		require.NoError(t, err)
		assert.Equal(t, bucket, byName)

		byPath, err := ParseBucket(string(bucket))
		require.NoError(t, err)
		assert.Equal(t, bucket, byPath)
	}
	assert.Equal(t, "needs-manual-mapping", BucketNeedsManualMapping.Name())

	_, err := ParseBucket("linked")
	assert.Error(t, err)

	bucket, ok := BucketForOutcome(OutcomeStatusMismatch)
	assert.True(t, ok)
	assert.Equal(t, BucketStatusMismatch, bucket)
	_, ok = BucketForOutcome(OutcomeLinked)
	assert.False(t, ok)
	_, ok = BucketForOutcome(OutcomeAutoLink)
	assert.False(t, ok)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "jane,doe@example,com", StudentKey(" Jane.Doe@Example.com "))
	assert.Equal(t, "jane,doe@example,com_55", SummaryKey(StudentKey("jane.doe@example.com"), 55))
	assert.Equal(t, "123456789", NormalizeASN("1234-5678-9"))
	assert.Equal(t, "123456789_MAT1791", EntryKey("1234-5678-9", " mat1791 "))
	assert.Equal(t, EntryKey("123456789", "MAT1791"), EntryKey("1234 5678 9", "mat1791"))
	assert.Equal(t, "ABC-1", CourseCodeKey("abc/1"))

	sy := MustSchoolYear("24_25")
	assert.Equal(t, "pasiSyncReport/schoolYear/24_25/newLinks/failed/k", EntryPath(sy, BucketNewLinkFailed, "k"))
	assert.Equal(t, "students/s/courses/55/Status/Value", StudentStatusPath("s", 55))
	assert.Equal(t, "students/s/courses/55/statusAudit/n1", StatusAuditPath("s", 55, "n1"))
}
