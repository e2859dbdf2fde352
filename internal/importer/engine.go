package importer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Spok95/school-attendance/internal/metrics"
	"github.com/Spok95/school-attendance/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RowApplier performs the actual create/update for one validated row.
// Implementations live outside the engine (postgres in production, fakes in
// tests). An error fails that row only, never the batch.
type RowApplier interface {
	Apply(ctx context.Context, typ models.ImportType, row models.ImportRow) error
}

const sampleRows = 5

// Engine owns the import job lifecycle: pending → processing →
// {completed, failed}, with processing → cancelled as an external interrupt.
// Rows within a job run sequentially; independent jobs run concurrently.
type Engine struct {
	applier RowApplier
	log     *zap.Logger

	mu   sync.Mutex
	jobs map[string]*jobState
}

type jobState struct {
	mu     sync.Mutex
	job    models.ImportJob
	cancel atomic.Bool
	subs   map[int]chan models.ImportJob
	nextID int
}

func NewEngine(applier RowApplier, log *zap.Logger) *Engine {
	return &Engine{
		applier: applier,
		log:     log,
		jobs:    make(map[string]*jobState),
	}
}

// Validate dry-runs the file against the schema for typ: structural errors,
// per-row issues, and a small sample for the upload preview. No job is
// created and no state changes.
func (e *Engine) Validate(path string, typ models.ImportType) (models.ImportValidation, error) {
	schema, err := SchemaFor(typ)
	if err != nil {
		return models.ImportValidation{}, err
	}
	table, err := ReadWorkbook(path, schema)
	if err != nil {
		return models.ImportValidation{}, err
	}

	v := models.ImportValidation{Type: typ, TotalRows: len(table.Rows)}
	for _, col := range table.MissingRequired {
		v.Errors = append(v.Errors, models.RowIssue{
			Column: col, Message: "required column missing from header",
		})
	}
	if len(table.MissingRequired) > 0 {
		return v, nil
	}

	uniq := newUniqueTracker()
	for _, row := range table.Rows {
		v.Errors = append(v.Errors, ValidateRow(schema, row, uniq)...)
		if len(v.Sample) < sampleRows {
			v.Sample = append(v.Sample, row)
		}
	}
	return v, nil
}

// Start creates the job and launches row processing in the background. The
// returned snapshot is already in processing (or failed, for a file that
// cannot be read at all).
func (e *Engine) Start(ctx context.Context, path string, typ models.ImportType) (models.ImportJob, error) {
	schema, err := SchemaFor(typ)
	if err != nil {
		return models.ImportJob{}, err
	}

	st := &jobState{
		job: models.ImportJob{
			ID:     uuid.NewString(),
			Type:   typ,
			Status: models.JobPending,
		},
		subs: make(map[int]chan models.ImportJob),
	}
	e.mu.Lock()
	e.jobs[st.job.ID] = st
	e.mu.Unlock()

	table, err := ReadWorkbook(path, schema)
	if err != nil {
		e.fail(st, err.Error())
		return e.snapshot(st), nil
	}
	if len(table.MissingRequired) > 0 {
		e.fail(st, fmt.Sprintf("required columns missing from header: %v", table.MissingRequired))
		return e.snapshot(st), nil
	}

	now := time.Now()
	st.mu.Lock()
	st.job.Status = models.JobProcessing
	st.job.TotalRows = len(table.Rows)
	st.job.StartedAt = &now
	st.mu.Unlock()
	e.publish(st)

	go e.run(ctx, st, schema, table)
	return e.snapshot(st), nil
}

func (e *Engine) run(ctx context.Context, st *jobState, schema Schema, table *Table) {
	uniq := newUniqueTracker()
	for _, row := range table.Rows {
		// Cancellation is observed at row boundaries only; rows already
		// ingested stay ingested.
		if st.cancel.Load() || ctx.Err() != nil {
			e.finish(st, models.JobCancelled)
			return
		}

		issues := ValidateRow(schema, row, uniq)
		if len(issues) == 0 {
			if err := e.applier.Apply(ctx, st.job.Type, row); err != nil {
				issues = append(issues, models.RowIssue{Row: row.Number, Message: err.Error()})
			}
		}

		st.mu.Lock()
		st.job.ProcessedRows++
		if len(issues) == 0 {
			st.job.SuccessfulRows++
		} else {
			st.job.FailedRows++
			st.job.Errors = append(st.job.Errors, issues...)
		}
		st.mu.Unlock()
		if len(issues) == 0 {
			metrics.ImportRow("ok")
		} else {
			metrics.ImportRow("error")
		}
		e.publish(st)
	}
	e.finish(st, models.JobCompleted)
}

// Cancel requests cancellation of a running job. Idempotent: cancelling an
// unknown or already-terminal job is a no-op.
func (e *Engine) Cancel(jobID string) {
	e.mu.Lock()
	st, ok := e.jobs[jobID]
	e.mu.Unlock()
	if !ok {
		return
	}
	st.mu.Lock()
	terminal := st.job.Status.Terminal()
	st.mu.Unlock()
	if terminal {
		return
	}
	st.cancel.Store(true)
}

// Job returns a snapshot of the job's current state.
func (e *Engine) Job(jobID string) (models.ImportJob, bool) {
	e.mu.Lock()
	st, ok := e.jobs[jobID]
	e.mu.Unlock()
	if !ok {
		return models.ImportJob{}, false
	}
	return e.snapshot(st), true
}

// Subscribe streams job snapshots on every state change. The channel closes
// when the job reaches a terminal state; the returned func unsubscribes
// early. Slow consumers only ever lag by one snapshot.
func (e *Engine) Subscribe(jobID string) (<-chan models.ImportJob, func(), bool) {
	e.mu.Lock()
	st, ok := e.jobs[jobID]
	e.mu.Unlock()
	if !ok {
		return nil, nil, false
	}

	ch := make(chan models.ImportJob, 1)
	st.mu.Lock()
	id := st.nextID
	st.nextID++
	if st.job.Status.Terminal() {
		ch <- cloneJob(st.job)
		close(ch)
		st.mu.Unlock()
		return ch, func() {}, true
	}
	st.subs[id] = ch
	st.mu.Unlock()

	off := func() {
		st.mu.Lock()
		if c, ok := st.subs[id]; ok {
			delete(st.subs, id)
			close(c)
		}
		st.mu.Unlock()
	}
	return ch, off, true
}

func (e *Engine) snapshot(st *jobState) models.ImportJob {
	st.mu.Lock()
	defer st.mu.Unlock()
	return cloneJob(st.job)
}

func (e *Engine) publish(st *jobState) {
	st.mu.Lock()
	snap := cloneJob(st.job)
	for _, ch := range st.subs {
		select {
		case ch <- snap:
		default:
			// replace the stale snapshot instead of blocking the row loop
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
	st.mu.Unlock()
}

func (e *Engine) fail(st *jobState, reason string) {
	now := time.Now()
	st.mu.Lock()
	st.job.Status = models.JobFailed
	st.job.FailureReason = reason
	st.job.CompletedAt = &now
	st.mu.Unlock()
	e.log.Warn("import job failed", zap.String("job_id", st.job.ID), zap.String("reason", reason))
	e.closeOut(st)
}

func (e *Engine) finish(st *jobState, status models.JobStatus) {
	now := time.Now()
	st.mu.Lock()
	st.job.Status = status
	st.job.CompletedAt = &now
	st.mu.Unlock()
	snap := e.snapshot(st)
	e.log.Info("import job finished",
		zap.String("job_id", snap.ID),
		zap.String("type", string(snap.Type)),
		zap.String("status", string(status)),
		zap.Int("processed", snap.ProcessedRows),
		zap.Int("failed", snap.FailedRows),
	)
	e.closeOut(st)
}

// closeOut publishes the terminal snapshot and closes all subscriptions.
func (e *Engine) closeOut(st *jobState) {
	e.publish(st)
	st.mu.Lock()
	snap := st.job
	for id, ch := range st.subs {
		delete(st.subs, id)
		close(ch)
	}
	st.mu.Unlock()
	metrics.ImportJobFinished(string(snap.Type), string(snap.Status))
}

func cloneJob(j models.ImportJob) models.ImportJob {
	out := j
	out.Errors = append([]models.RowIssue(nil), j.Errors...)
	out.Warnings = append([]models.RowIssue(nil), j.Warnings...)
	return out
}
