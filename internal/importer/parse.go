package importer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Spok95/school-attendance/internal/models"
	"github.com/xuri/excelize/v2"
)

// ErrUnreadableFile covers everything that prevents parsing at all: a file
// that is not a workbook, an empty workbook, a missing sheet. Callers surface
// it as `unreadable_file`, never as a partial parse.
var ErrUnreadableFile = errors.New("unreadable_file")

// Table is the parsed view of the first sheet: the recognized header, data
// rows keyed by canonical column name, and required columns the header lacks.
type Table struct {
	Header          []string
	Rows            []models.ImportRow
	MissingRequired []string
}

// ReadWorkbook parses an uploaded .xlsx against the schema. Unknown columns
// are dropped; a required column absent from the header is reported in
// MissingRequired (a file-level condition, per-row checks never see it).
func ReadWorkbook(path string, schema Schema) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrUnreadableFile)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: sheet %q is empty", ErrUnreadableFile, sheets[0])
	}

	header := make([]string, len(rows[0]))
	colFor := make(map[int]string) // sheet column index -> canonical name
	for i, h := range rows[0] {
		name := canonical(h)
		header[i] = name
		if _, known := schema.Column(name); known {
			colFor[i] = name
		}
	}

	var missing []string
	for _, c := range schema.Columns {
		if c.Required && !headerHas(header, c.Name) {
			missing = append(missing, c.Name)
		}
	}

	t := &Table{Header: header, MissingRequired: missing}
	for i, raw := range rows[1:] {
		if emptyRow(raw) {
			continue
		}
		row := models.ImportRow{Number: i + 1, Values: make(map[string]string)}
		for idx, name := range colFor {
			if idx < len(raw) {
				row.Values[name] = strings.TrimSpace(raw[idx])
			} else {
				row.Values[name] = ""
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func canonical(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.ReplaceAll(h, " ", "_")
}

func headerHas(header []string, name string) bool {
	for _, h := range header {
		if h == name {
			return true
		}
	}
	return false
}

func emptyRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
