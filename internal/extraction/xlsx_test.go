package extraction

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func buildWorkbook(t *testing.T, sheets map[string][][]string) []byte {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, row := range rows {
			r := sheet.AddRow()
			for _, cell := range row {
				r.AddCell().SetString(cell)
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func TestTextFromXLSX(t *testing.T) {
	data := buildWorkbook(t, map[string][][]string{
		"Referral": {
			{"Claim Number", "Claimant", "Service"},
			{"WC-2026-004821", "John Smith", "MRI lumbar spine"},
			{"", "", ""},
		},
	})

	text, err := TextFromXLSX(data)
	require.NoError(t, err)
	assert.Contains(t, text, "Claim Number\tClaimant\tService")
	assert.Contains(t, text, "WC-2026-004821\tJohn Smith\tMRI lumbar spine")
	// Single sheet: no sheet-name header, no blank rows.
	assert.NotContains(t, text, "[Referral]")
	assert.NotContains(t, text, "\n\t\t\n")
}

func TestTextFromXLSXMultipleSheets(t *testing.T) {
	data := buildWorkbook(t, map[string][][]string{
		"Demographics": {{"DOB", "1985-03-15"}},
		"Authorization": {{"Auth #", "A-99"}},
	})

	text, err := TextFromXLSX(data)
	require.NoError(t, err)
	assert.Contains(t, text, "[Demographics]")
	assert.Contains(t, text, "[Authorization]")
}

func TestTextFromXLSXInvalid(t *testing.T) {
	_, err := TextFromXLSX([]byte("not a spreadsheet"))
	assert.Error(t, err)
}
