package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Spok95/school-attendance/internal/importer"
	"github.com/Spok95/school-attendance/internal/models"
	"github.com/Spok95/school-attendance/internal/scan"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

type noopApplier struct{}

func (noopApplier) Apply(context.Context, models.ImportType, models.ImportRow) error { return nil }

func writeStudentWorkbook(t *testing.T, rows int) string {
	t.Helper()
	f := excelize.NewFile()
	for c, h := range []string{"admission_no", "name", "grade"} {
		cell, _ := excelize.CoordinatesToCellName(c+1, 1)
		_ = f.SetCellStr("Sheet1", cell, h)
	}
	for r := 0; r < rows; r++ {
		vals := []string{fmt.Sprintf("ADM-%03d", r+1), fmt.Sprintf("Student %d", r+1), "5"}
		for c, v := range vals {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			_ = f.SetCellStr("Sheet1", cell, v)
		}
	}
	path := filepath.Join(t.TempDir(), "students.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	return path
}

func waitRemoved(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("spooled workbook %s still present after job finished", path)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHandleScan_MalformedActionIsBadRequest(t *testing.T) {
	// the action is rejected before any collaborator is touched
	api := &API{Session: scan.NewSession(nil, nil, nil, zap.NewNop()), Log: zap.NewNop()}

	body := `{"token":"tok-1","service":"breakfast","subtype":"entry","operator":{"id":7}}`
	rec := httptest.NewRecorder()
	api.handleScan(rec, httptest.NewRequest(http.MethodPost, "/scan", strings.NewReader(body)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown service: want 400, got %d (%s)", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "scan_unresolved") {
		t.Fatal("a malformed request must not be reported as unresolved")
	}
}

func TestRemoveWhenDone_CleansSpoolAfterJob(t *testing.T) {
	engine := importer.NewEngine(noopApplier{}, zap.NewNop())
	path := writeStudentWorkbook(t, 3)

	job, err := engine.Start(context.Background(), path, models.ImportStudents)
	if err != nil {
		t.Fatal(err)
	}
	go removeWhenDone(engine, job.ID, path)
	waitRemoved(t, path)
}

func TestRemoveWhenDone_CleansSpoolOfFailedJob(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.xlsx")
	if err := os.WriteFile(path, []byte("not a workbook"), 0o644); err != nil {
		t.Fatal(err)
	}

	engine := importer.NewEngine(noopApplier{}, zap.NewNop())
	job, err := engine.Start(context.Background(), path, models.ImportStudents)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != models.JobFailed {
		t.Fatalf("unreadable upload must fail the job, got %s", job.Status)
	}
	go removeWhenDone(engine, job.ID, path)
	waitRemoved(t, path)
}
