package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDataset() Dataset {
	return Dataset{
		Title:   "Import sub-1",
		Summary: []string{"Status: completed_with_errors"},
		Headers: []string{"kind", "row", "message"},
		Widths:  []float64{1, 0.5, 4},
		Rows: [][]string{
			{"class", "3", "referenced account 'nobody@school.id' not found"},
			{"student", "2", "full_name is required, \"quoted\""},
		},
	}
}

func TestCSVExporterRender(t *testing.T) {
	out, err := NewCSVExporter().Render(sampleDataset())
	require.NoError(t, err)

	assert.Equal(t, "kind,row,message\n"+
		"class,3,referenced account 'nobody@school.id' not found\n"+
		"student,2,\"full_name is required, \"\"quoted\"\"\"\n", string(out))
}

func TestCSVExporterRejectsRaggedRows(t *testing.T) {
	data := sampleDataset()
	data.Rows = append(data.Rows, []string{"only-one"})

	_, err := NewCSVExporter().Render(data)
	assert.Error(t, err)

	_, err = NewCSVExporter().Render(Dataset{})
	assert.Error(t, err)
}

func TestPDFExporterRender(t *testing.T) {
	data := sampleDataset()
	for i := 0; i < 80; i++ {
		data.Rows = append(data.Rows, []string{"score entry", "9", "a rather long diagnostic message that needs to wrap across more than one line of the table cell"})
	}

	out, err := NewPDFExporter().Render(data)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
}

func TestColumnWidthsSpanPage(t *testing.T) {
	widths := columnWidths(sampleDataset())

	total := 0.0
	for _, w := range widths {
		total += w
	}
	assert.InDelta(t, pageWidth, total, 0.001)
	assert.Greater(t, widths[2], widths[0])
}
