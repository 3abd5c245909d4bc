package extraction

import (
	"bytes"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// TextFromXLSX flattens a spreadsheet attachment into tab-separated text
// lines for prompt context. Sheet names prefix their rows so the model
// can tell a patient roster from an authorization grid.
func TextFromXLSX(data []byte) (string, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return "", eris.Wrap(err, "extraction: open xlsx attachment")
	}

	var b bytes.Buffer
	for _, sheet := range f.Sheets {
		if len(f.Sheets) > 1 {
			b.WriteString("[" + sheet.Name + "]\n")
		}
		for _, row := range sheet.Rows {
			cells := make([]string, 0, len(row.Cells))
			empty := true
			for _, cell := range row.Cells {
				s := cell.String()
				if strings.TrimSpace(s) != "" {
					empty = false
				}
				cells = append(cells, s)
			}
			if empty {
				continue
			}
			b.WriteString(strings.Join(cells, "\t"))
			b.WriteByte('\n')
		}
	}
	return b.String(), nil
}
