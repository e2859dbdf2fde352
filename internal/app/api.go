package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/Spok95/school-attendance/internal/db"
	"github.com/Spok95/school-attendance/internal/export"
	"github.com/Spok95/school-attendance/internal/importer"
	"github.com/Spok95/school-attendance/internal/models"
	"github.com/Spok95/school-attendance/internal/observability"
	"github.com/Spok95/school-attendance/internal/scan"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// API is the thin operator-facing surface: decode the request, call the
// core, encode the result. No business rules live here.
type API struct {
	Session   *scan.Session
	Engine    *importer.Engine
	Ledger    *db.Ledger
	Directory *db.Directory
	ImportDir string
	// Loc picks the default day for reports; nil means time.Local.
	Loc *time.Location
	Log *zap.Logger
	// JobCtx outlives individual requests; import jobs keep running after
	// the upload response and stop on server shutdown.
	JobCtx context.Context
}

func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /scan", a.handleScan)
	mux.HandleFunc("POST /imports/validate", a.handleImportValidate)
	mux.HandleFunc("POST /imports", a.handleImportStart)
	mux.HandleFunc("GET /imports/{id}", a.handleImportGet)
	mux.HandleFunc("GET /imports/{id}/events", a.handleImportEvents)
	mux.HandleFunc("POST /imports/{id}/cancel", a.handleImportCancel)
	mux.HandleFunc("GET /reports/daily", a.handleDailyReport)
}

type scanRequest struct {
	Token    string             `json:"token"`
	Service  models.ServiceType `json:"service"`
	Subtype  models.ScanSubtype `json:"subtype"`
	BusID    string             `json:"bus_id"`
	Location string             `json:"location"`
	Operator models.Operator    `json:"operator"`
}

func (a *API) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	action := models.ScanAction{
		Service:  req.Service,
		Subtype:  req.Subtype,
		BusID:    req.BusID,
		Location: req.Location,
	}
	res, err := a.Session.Evaluate(r.Context(), req.Token, action, req.Operator)
	if errors.Is(err, scan.ErrInvalidAction) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		// Unresolved, not denied: tell the operator to retry the scan.
		a.Log.Error("scan unresolved", zap.Error(err))
		observability.CaptureErr(err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "scan_unresolved", "retry": "true"})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleImportValidate(w http.ResponseWriter, r *http.Request) {
	path, typ, ok := a.spoolUpload(w, r)
	if !ok {
		return
	}
	defer func() { _ = os.Remove(path) }()

	v, err := a.Engine.Validate(path, typ)
	if errors.Is(err, importer.ErrUnreadableFile) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "unreadable_file"})
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *API) handleImportStart(w http.ResponseWriter, r *http.Request) {
	path, typ, ok := a.spoolUpload(w, r)
	if !ok {
		return
	}
	job, err := a.Engine.Start(a.JobCtx, path, typ)
	if err != nil {
		_ = os.Remove(path)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	go removeWhenDone(a.Engine, job.ID, path)
	writeJSON(w, http.StatusAccepted, job)
}

// removeWhenDone deletes the spooled workbook once its job reaches a terminal
// state. The subscription channel closes at terminal, so draining it is the
// wait.
func removeWhenDone(engine *importer.Engine, jobID, path string) {
	if ch, off, ok := engine.Subscribe(jobID); ok {
		for range ch {
		}
		off()
	}
	_ = os.Remove(path)
}

func (a *API) handleImportGet(w http.ResponseWriter, r *http.Request) {
	job, ok := a.Engine.Job(r.PathValue("id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleImportEvents streams job snapshots as SSE so the UI does not have to
// poll; the engine's subscription carries any transport.
func (a *API) handleImportEvents(w http.ResponseWriter, r *http.Request) {
	ch, off, ok := a.Engine.Subscribe(r.PathValue("id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	defer off()

	fl, canFlush := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case job, open := <-ch:
			if !open {
				return
			}
			_, _ = fmt.Fprint(w, "data: ")
			_ = enc.Encode(job)
			_, _ = fmt.Fprint(w, "\n")
			if canFlush {
				fl.Flush()
			}
		}
	}
}

func (a *API) handleImportCancel(w http.ResponseWriter, r *http.Request) {
	a.Engine.Cancel(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleDailyReport(w http.ResponseWriter, r *http.Request) {
	service := models.ServiceType(r.URL.Query().Get("service"))
	day := r.URL.Query().Get("date")
	if day == "" {
		loc := a.Loc
		if loc == nil {
			loc = time.Local
		}
		day = time.Now().In(loc).Format("2006-01-02")
	}
	events, err := a.Ledger.EventsForDay(r.Context(), service, day)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	sheet := export.DailySheet(service, day, events, a.studentName(r))
	wb, err := export.NewReportWorkbook([]export.SheetSpec{sheet})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="%s_%s.xlsx"`, service, day))
	if err := wb.File.Write(w); err != nil {
		a.Log.Error("report write failed", zap.Error(err))
	}
}

func (a *API) studentName(r *http.Request) func(int64) string {
	cache := make(map[int64]string)
	return func(id int64) string {
		if name, ok := cache[id]; ok {
			return name
		}
		name := "-"
		var n string
		err := a.Directory.DB.QueryRowContext(r.Context(),
			`SELECT name FROM students WHERE id = $1`, id).Scan(&n)
		if err == nil {
			name = n
		}
		cache[id] = name
		return name
	}
}

// spoolUpload writes the multipart "file" part to the import spool dir.
func (a *API) spoolUpload(w http.ResponseWriter, r *http.Request) (string, models.ImportType, bool) {
	typ := models.ImportType(r.URL.Query().Get("type"))
	if _, err := importer.SchemaFor(typ); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return "", "", false
	}
	f, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file: "+err.Error(), http.StatusBadRequest)
		return "", "", false
	}
	defer func() { _ = f.Close() }()

	if err := os.MkdirAll(a.ImportDir, 0o755); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return "", "", false
	}
	path := filepath.Join(a.ImportDir, uuid.NewString()+".xlsx")
	dst, err := os.Create(path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return "", "", false
	}
	if _, err := io.Copy(dst, f); err != nil {
		_ = dst.Close()
		_ = os.Remove(path)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return "", "", false
	}
	_ = dst.Close()
	return path, typ, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
