package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDataset() Dataset {
	return Dataset{
		Headers: []string{"Student", "ASN", "Reason"},
		Rows: []map[string]string{
			{"Student": "Doe, Jane", "ASN": "1234-5678-9", "Reason": "No matching student course"},
			{"Student": "=HYPERLINK(\"x\")", "ASN": "-42", "Reason": "-injected"},
		},
	}
}

func TestCSVExporterRender(t *testing.T) {
	data, err := NewCSVExporter().Render(sampleDataset())
	require.NoError(t, err)

	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	require.Len(t, lines, 3)
	assert.Equal(t, "Student,ASN,Reason", string(lines[0]))
	assert.Equal(t, `"Doe, Jane",1234-5678-9,No matching student course`, string(lines[1]))
	assert.Equal(t, `"'=HYPERLINK(""x"")",-42,'-injected`, string(lines[2]))
}

func TestCSVExporterRequiresHeaders(t *testing.T) {
	_, err := NewCSVExporter().Render(Dataset{})
	require.Error(t, err)
}

func TestPDFExporterRender(t *testing.T) {
	exporter := NewPDFExporter()
	exporter.now = func() time.Time { return time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC) }

	dataset := sampleDataset()
	for i := 0; i < 120; i++ {
		dataset.Rows = append(dataset.Rows, map[string]string{"Student": "Row", "ASN": "1", "Reason": "a very long reason that should be truncated to fit the available column width on the page"})
	}
	data, err := exporter.Render(dataset, "Needs manual mapping 24/25")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF")))

	empty, err := exporter.Render(Dataset{Headers: []string{"Student"}}, "")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(empty, []byte("%PDF")))
}

func TestColumnWidthsFillPage(t *testing.T) {
	widths := columnWidths(sampleDataset())
	require.Len(t, widths, 3)
	total := 0.0
	for _, w := range widths {
		assert.GreaterOrEqual(t, w, minColWidth)
		total += w
	}
	assert.InDelta(t, pageWidth, total, 0.01)
}
