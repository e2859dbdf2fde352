package export

import (
	"fmt"

	"github.com/Spok95/school-attendance/internal/models"
	"github.com/xuri/excelize/v2"
)

type SheetSpec struct {
	Title  string
	Header []string
	Rows   [][]string
}

type ReportWorkbook struct {
	File *excelize.File
}

// DailySheet flattens one day of ledger events into a sheet for staff.
// nameFor maps a student id to a display name; unresolved scans show "-".
func DailySheet(service models.ServiceType, day string, events []models.ScanEvent, nameFor func(int64) string) SheetSpec {
	header := []string{"Time", "Student", "Action", "Bus", "Location", "Outcome", "Reason"}
	rows := make([][]string, 0, len(events))
	for _, ev := range events {
		name := "-"
		if ev.StudentID != nil {
			name = nameFor(*ev.StudentID)
		}
		outcome := "granted"
		if !ev.Granted {
			outcome = "denied"
		}
		rows = append(rows, []string{
			ev.At.Format("15:04:05"),
			name,
			string(ev.Subtype),
			ev.BusID,
			ev.Location,
			outcome,
			string(ev.DenyReason),
		})
	}
	return SheetSpec{
		Title:  fmt.Sprintf("%s %s", service, day),
		Header: header,
		Rows:   rows,
	}
}

func NewReportWorkbook(sheets []SheetSpec) (*ReportWorkbook, error) {
	f := excelize.NewFile()

	bold, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	for i, s := range sheets {
		name := s.Title
		if i == 0 {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				return nil, fmt.Errorf("rename sheet: %w", err)
			}
		} else {
			if _, err := f.NewSheet(name); err != nil {
				return nil, fmt.Errorf("new sheet: %w", err)
			}
		}
		for col, h := range s.Header {
			cell := fmt.Sprintf("%s1", colName(col+1))
			if err := f.SetCellStr(name, cell, h); err != nil {
				return nil, fmt.Errorf("set cell %s: %w", cell, err)
			}
		}
		end := colName(len(s.Header)) + "1"
		_ = f.SetCellStyle(name, "A1", end, bold)
		_ = f.AutoFilter(name, "A1:"+end, nil)

		for r, row := range s.Rows {
			for c, val := range row {
				cell := fmt.Sprintf("%s%d", colName(c+1), r+2)
				if err := f.SetCellStr(name, cell, val); err != nil {
					return nil, fmt.Errorf("set cell %s: %w", cell, err)
				}
			}
		}
		// width heuristic from header and the first rows
		for c := 1; c <= len(s.Header); c++ {
			maxim := len(s.Header[c-1])
			for r := 0; r < minim(50, len(s.Rows)); r++ {
				if l := len(s.Rows[r][c-1]); l > maxim {
					maxim = l
				}
			}
			w := float64(maxim) * 0.9
			if w < 12 {
				w = 12
			}
			if w > 40 {
				w = 40
			}
			_ = f.SetColWidth(name, colName(c), colName(c), w)
		}
	}
	return &ReportWorkbook{File: f}, nil
}

// helpers
func colName(n int) string {
	s := ""
	for n > 0 {
		n--
		s = string(rune('A'+(n%26))) + s
		n /= 26
	}
	return s
}

func minim(a, b int) int {
	if a < b {
		return a
	}
	return b
}
