package importer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/Spok95/school-attendance/internal/models"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// writeWorkbook builds a one-sheet .xlsx from header + rows in a temp dir.
func writeWorkbook(t *testing.T, header []string, rows [][]string) string {
	t.Helper()
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	for c, h := range header {
		cell, _ := excelize.CoordinatesToCellName(c+1, 1)
		if err := f.SetCellStr(sheet, cell, h); err != nil {
			t.Fatal(err)
		}
	}
	for r, row := range rows {
		for c, val := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if err := f.SetCellStr(sheet, cell, val); err != nil {
				t.Fatal(err)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "import.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	return path
}

func studentRows(n int) [][]string {
	rows := make([][]string, 0, n)
	for i := 1; i <= n; i++ {
		rows = append(rows, []string{fmt.Sprintf("ADM-%03d", i), fmt.Sprintf("Student %d", i), "5"})
	}
	return rows
}

var studentHeader = []string{"admission_no", "name", "grade"}

type recordingApplier struct {
	mu      sync.Mutex
	applied []models.ImportRow
	failOn  map[int]error
	gate    chan struct{} // when set, each Apply consumes one token
}

func (a *recordingApplier) Apply(_ context.Context, _ models.ImportType, row models.ImportRow) error {
	if a.gate != nil {
		<-a.gate
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.failOn[row.Number]; err != nil {
		return err
	}
	a.applied = append(a.applied, row)
	return nil
}

func waitTerminal(t *testing.T, e *Engine, jobID string) models.ImportJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, ok := e.Job(jobID)
		if !ok {
			t.Fatalf("job %s disappeared", jobID)
		}
		if job.Status.Terminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job did not reach a terminal state")
	return models.ImportJob{}
}

func TestEngine_PartialFailureCompletes(t *testing.T) {
	rows := studentRows(100)
	rows[4][1] = ""  // row 5: empty name
	rows[41][1] = "" // row 42: empty name
	path := writeWorkbook(t, studentHeader, rows)

	e := NewEngine(&recordingApplier{}, zap.NewNop())
	job, err := e.Start(context.Background(), path, models.ImportStudents)
	if err != nil {
		t.Fatal(err)
	}
	final := waitTerminal(t, e, job.ID)

	if final.Status != models.JobCompleted {
		t.Fatalf("want completed, got %s (%s)", final.Status, final.FailureReason)
	}
	if final.SuccessfulRows != 98 || final.FailedRows != 2 {
		t.Fatalf("want 98/2, got %d/%d", final.SuccessfulRows, final.FailedRows)
	}
	if final.ProcessedRows != final.SuccessfulRows+final.FailedRows || final.ProcessedRows != final.TotalRows {
		t.Fatalf("count invariant broken: %+v", final)
	}
	if len(final.Errors) != 2 {
		t.Fatalf("want exactly 2 row errors, got %d", len(final.Errors))
	}
	if final.Errors[0].Row != 5 || final.Errors[1].Row != 42 {
		t.Fatalf("errors must reference rows 5 and 42, got %+v", final.Errors)
	}
	if rate := final.SuccessRate(); rate != 0.98 {
		t.Fatalf("success rate: want 0.98, got %v", rate)
	}
}

func TestEngine_ApplierErrorFailsRowOnly(t *testing.T) {
	path := writeWorkbook(t, studentHeader, studentRows(10))
	applier := &recordingApplier{failOn: map[int]error{3: fmt.Errorf("backend rejected")}}

	e := NewEngine(applier, zap.NewNop())
	job, err := e.Start(context.Background(), path, models.ImportStudents)
	if err != nil {
		t.Fatal(err)
	}
	final := waitTerminal(t, e, job.ID)

	if final.Status != models.JobCompleted || final.SuccessfulRows != 9 || final.FailedRows != 1 {
		t.Fatalf("got %+v", final)
	}
	if len(final.Errors) != 1 || final.Errors[0].Row != 3 {
		t.Fatalf("want one error on row 3, got %+v", final.Errors)
	}
}

func TestEngine_Cancellation(t *testing.T) {
	path := writeWorkbook(t, studentHeader, studentRows(100))
	gate := make(chan struct{})
	applier := &recordingApplier{gate: gate}

	e := NewEngine(applier, zap.NewNop())
	job, err := e.Start(context.Background(), path, models.ImportStudents)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 30; i++ {
		gate <- struct{}{}
	}
	e.Cancel(job.ID)
	close(gate) // release whatever row was in flight

	final := waitTerminal(t, e, job.ID)
	if final.Status != models.JobCancelled {
		t.Fatalf("want cancelled, got %s", final.Status)
	}
	// the row already past the boundary check may still land
	if final.ProcessedRows < 30 || final.ProcessedRows > 31 {
		t.Fatalf("want 30±1 processed rows, got %d", final.ProcessedRows)
	}
	if final.ProcessedRows != final.SuccessfulRows+final.FailedRows {
		t.Fatalf("count invariant broken: %+v", final)
	}
}

func TestEngine_CancelTerminalIsNoop(t *testing.T) {
	path := writeWorkbook(t, studentHeader, studentRows(3))
	e := NewEngine(&recordingApplier{}, zap.NewNop())
	job, err := e.Start(context.Background(), path, models.ImportStudents)
	if err != nil {
		t.Fatal(err)
	}
	final := waitTerminal(t, e, job.ID)
	if final.Status != models.JobCompleted {
		t.Fatalf("want completed, got %s", final.Status)
	}

	e.Cancel(job.ID)
	e.Cancel("no-such-job")
	after, _ := e.Job(job.ID)
	if after.Status != models.JobCompleted {
		t.Fatalf("cancel on a terminal job must not change it, got %s", after.Status)
	}
}

func TestEngine_UnreadableFileFailsJob(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-workbook.xlsx")
	if err := os.WriteFile(path, []byte("plain text"), 0o644); err != nil {
		t.Fatal(err)
	}

	e := NewEngine(&recordingApplier{}, zap.NewNop())
	job, err := e.Start(context.Background(), path, models.ImportStudents)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != models.JobFailed || job.FailureReason == "" {
		t.Fatalf("want failed with a reason, got %+v", job)
	}
	if job.ProcessedRows != 0 {
		t.Fatalf("no rows may be processed, got %d", job.ProcessedRows)
	}
}

func TestEngine_MissingRequiredHeaderFailsJob(t *testing.T) {
	path := writeWorkbook(t, []string{"admission_no", "grade"}, [][]string{{"ADM-001", "5"}})
	e := NewEngine(&recordingApplier{}, zap.NewNop())
	job, err := e.Start(context.Background(), path, models.ImportStudents)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != models.JobFailed {
		t.Fatalf("missing required header column must fail the job, got %+v", job)
	}
}

func TestEngine_Subscribe(t *testing.T) {
	path := writeWorkbook(t, studentHeader, studentRows(5))
	e := NewEngine(&recordingApplier{}, zap.NewNop())
	job, err := e.Start(context.Background(), path, models.ImportStudents)
	if err != nil {
		t.Fatal(err)
	}
	ch, off, ok := e.Subscribe(job.ID)
	if !ok {
		t.Fatal("subscribe failed")
	}
	defer off()

	var last models.ImportJob
	for snap := range ch {
		if snap.ProcessedRows < last.ProcessedRows {
			t.Fatalf("progress went backwards: %d -> %d", last.ProcessedRows, snap.ProcessedRows)
		}
		last = snap
	}
	if !last.Status.Terminal() {
		t.Fatalf("stream must end with a terminal snapshot, got %+v", last)
	}
}

func TestEngine_ContextCancelStopsJob(t *testing.T) {
	path := writeWorkbook(t, studentHeader, studentRows(100))
	gate := make(chan struct{})
	e := NewEngine(&recordingApplier{gate: gate}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	job, err := e.Start(ctx, path, models.ImportStudents)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		gate <- struct{}{}
	}
	cancel()
	close(gate)

	final := waitTerminal(t, e, job.ID)
	if final.Status != models.JobCancelled {
		t.Fatalf("shutdown must cancel running jobs, got %s", final.Status)
	}
	if final.ProcessedRows >= final.TotalRows {
		t.Fatalf("no full run expected, processed %d", final.ProcessedRows)
	}
}

func TestValidate_Preview(t *testing.T) {
	rows := studentRows(10)
	for i := range rows {
		rows[i] = append(rows[i], "")
	}
	rows[2][0] = "ADM-001"      // row 3 duplicates row 1
	rows[4][3] = "not-an-email" // row 5 has a bad email
	path := writeWorkbook(t, append(studentHeader, "parent_email"), rows)

	e := NewEngine(&recordingApplier{}, zap.NewNop())
	v, err := e.Validate(path, models.ImportStudents)
	if err != nil {
		t.Fatal(err)
	}
	if v.TotalRows != 10 {
		t.Fatalf("want 10 rows, got %d", v.TotalRows)
	}
	if len(v.Sample) != 5 {
		t.Fatalf("want sample of 5, got %d", len(v.Sample))
	}
	wantIssues := map[string]bool{"3/admission_no": false, "5/parent_email": false}
	for _, issue := range v.Errors {
		key := strconv.Itoa(issue.Row) + "/" + issue.Column
		if _, ok := wantIssues[key]; ok {
			wantIssues[key] = true
		}
	}
	for key, seen := range wantIssues {
		if !seen {
			t.Errorf("missing expected issue %s in %+v", key, v.Errors)
		}
	}
}

func TestValidate_MissingRequiredColumnIsFileLevel(t *testing.T) {
	path := writeWorkbook(t, []string{"name", "grade"}, [][]string{{"Student 1", "5"}})
	e := NewEngine(&recordingApplier{}, zap.NewNop())
	v, err := e.Validate(path, models.ImportStudents)
	if err != nil {
		t.Fatal(err)
	}
	if v.OK() {
		t.Fatal("want file-level error for missing admission_no column")
	}
	for _, issue := range v.Errors {
		if issue.Row != 0 {
			t.Fatalf("file-level errors must not reference rows, got %+v", issue)
		}
	}
}

func TestValidate_Unreadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.xlsx")
	if err := os.WriteFile(path, []byte{0x00, 0x01}, 0o644); err != nil {
		t.Fatal(err)
	}
	e := NewEngine(&recordingApplier{}, zap.NewNop())
	if _, err := e.Validate(path, models.ImportStudents); err == nil {
		t.Fatal("want unreadable_file error")
	}
}
