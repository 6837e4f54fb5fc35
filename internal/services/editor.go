package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"campus-utilities/internal/autosave"
	"campus-utilities/internal/models"
	"campus-utilities/pkg/logging"
	"campus-utilities/pkg/metrics"
)

var (
	// ErrNoPeriod is returned by editing operations before a period is opened
	ErrNoPeriod = errors.New("editor: no period open")
	// ErrSuperseded is returned when a newer Open replaced the period
	// while an operation was in flight; its result was discarded.
	ErrSuperseded = errors.New("editor: period changed while loading")
	// ErrEditorClosed is returned after Close
	ErrEditorClosed = errors.New("editor: closed")
)

// EditorSnapshot is pushed to the client on every change
type EditorSnapshot struct {
	Catalog string          `json:"catalog"`
	Period  string          `json:"period"`
	Status  autosave.Status `json:"status"`
	Error   string          `json:"error,omitempty"`
	View    *ComparisonView `json:"view,omitempty"`
}

// Editor is one client's editing session over a period. Edits mutate the
// working set, derived totals are recomputed, and saves are debounced by an
// auto-save scheduler bound to the open period.
type Editor struct {
	periods  *PeriodService
	readings *ReadingService
	imports  *ImportService
	userID   string
	delay    time.Duration
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector

	mu        sync.Mutex
	gen       uint64
	res       *Resolution
	stored    map[string]bool
	scheduler *autosave.Scheduler
	status    autosave.Status
	lastErr   error
	closed    bool
	onChange  func(EditorSnapshot)
}

// NewEditor creates an editing session for a user
func NewEditor(periods *PeriodService, readings *ReadingService, imports *ImportService, userID string, delay time.Duration, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Editor {
	metricsCollector.ActiveEditors.Inc()
	return &Editor{
		periods:  periods,
		readings: readings,
		imports:  imports,
		userID:   userID,
		delay:    delay,
		logger:   logger,
		metrics:  metricsCollector,
		status:   autosave.StatusSaved,
	}
}

// OnChange installs the snapshot listener
func (e *Editor) OnChange(fn func(EditorSnapshot)) {
	e.mu.Lock()
	e.onChange = fn
	e.mu.Unlock()
}

// Open switches the session to a period. Pending edits of the previous
// period are saved first. When another Open starts before this one finishes
// loading, this one returns ErrSuperseded and changes nothing.
func (e *Editor) Open(ctx context.Context, catalogID, periodKey string) (*ComparisonView, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrEditorClosed
	}
	e.gen++
	gen := e.gen
	old := e.scheduler
	e.mu.Unlock()

	if old != nil && old.Pending() {
		if err := old.Flush(); err != nil && !errors.Is(err, autosave.ErrClosed) {
			e.logger.Warn(ctx, "[EDITOR_FLUSH_ERROR] Could not save previous period before switching", logging.Fields{
				"user_id": e.userID,
				"error":   err.Error(),
			})
		}
	}

	res, err := e.periods.Resolve(ctx, catalogID, periodKey)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrEditorClosed
	}
	if gen != e.gen {
		e.mu.Unlock()
		e.logger.Debug(ctx, "[EDITOR_STALE_LOAD] Discarding load for inactive period", logging.Fields{
			"catalog": catalogID,
			"period":  periodKey,
		})
		return nil, ErrSuperseded
	}
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}

	sessionLog := e.logger.WithFields(logging.Fields{
		"user_id": e.userID,
		"catalog": res.Catalog.ID,
		"period":  res.Period.Key(),
	})
	stored := make(map[string]bool, res.Current.Len())
	for _, id := range res.Current.PointIDs() {
		stored[id] = true
	}
	scheduler := autosave.New(e.delay, e.saveFunc(res, stored), sessionLog, e.metrics)
	scheduler.OnStatus(func(status autosave.Status, err error) {
		e.statusChanged(res, status, err)
	})

	prev := e.scheduler
	e.res = res
	e.stored = stored
	e.scheduler = scheduler
	e.status = autosave.StatusSaved
	e.lastErr = nil
	view := e.viewLocked()
	e.mu.Unlock()

	if prev != nil {
		prev.Close()
	}

	e.logger.Info(ctx, "[EDITOR_OPEN] Period opened for editing", logging.Fields{
		"user_id": e.userID,
		"catalog": res.Catalog.ID,
		"period":  res.Period.Key(),
		"exists":  res.Exists,
	})

	e.publish()
	return view, nil
}

// saveFunc persists a snapshot of res's working set and records which points
// now have a stored value
func (e *Editor) saveFunc(res *Resolution, stored map[string]bool) autosave.SaveFunc {
	return func(ctx context.Context) error {
		e.mu.Lock()
		snapshot := res.Current.Clone()
		e.mu.Unlock()

		if _, err := e.readings.Save(ctx, res.Catalog.ID, res.Period.Key(), snapshot, e.userID); err != nil {
			return err
		}

		e.mu.Lock()
		res.Exists = true
		for _, id := range snapshot.PointIDs() {
			stored[id] = true
		}
		e.mu.Unlock()
		return nil
	}
}

func (e *Editor) statusChanged(res *Resolution, status autosave.Status, err error) {
	e.mu.Lock()
	if e.res != res || e.closed {
		e.mu.Unlock()
		return
	}
	e.status = status
	e.lastErr = err
	e.mu.Unlock()

	e.publish()
}

// Edit applies raw values ("120,5", "" to clear) to the working set and arms
// the auto-save timer when anything changed. Saves never delete stored
// values, so a blank only clears a point that has not been saved yet.
func (e *Editor) Edit(edits map[string]string) (*ComparisonView, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrEditorClosed
	}
	if e.res == nil {
		e.mu.Unlock()
		return nil, ErrNoPeriod
	}

	changed, err := ApplyEdits(e.res.Catalog, e.res.Current, dropStoredBlanks(edits, e.stored))
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	scheduler := e.scheduler
	view := e.viewLocked()
	e.mu.Unlock()

	if len(changed) > 0 {
		scheduler.Touch()
		e.publish()
	}
	return view, nil
}

// Import parses a file and replaces the working set with its values. The
// replacement is applied before the auto-save timer is armed.
func (e *Editor) Import(ctx context.Context, filename string, data []byte) (*ImportResult, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrEditorClosed
	}
	res := e.res
	e.mu.Unlock()
	if res == nil {
		return nil, ErrNoPeriod
	}

	result, err := e.imports.Parse(ctx, res.Catalog, res.Period.Key(), filename, data)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.res != res || e.closed {
		e.mu.Unlock()
		return nil, ErrSuperseded
	}
	res.Current = result.ReadingSet.Clone()
	scheduler := e.scheduler
	e.mu.Unlock()

	scheduler.Touch()
	e.publish()

	e.logger.Info(ctx, "[EDITOR_IMPORT] Working set replaced by import", logging.Fields{
		"user_id":   e.userID,
		"catalog":   res.Catalog.ID,
		"period":    res.Period.Key(),
		"matched":   result.Matched,
		"unmatched": len(result.UnmatchedNames),
	})

	return result, nil
}

// Flush saves the working set now
func (e *Editor) Flush() error {
	e.mu.Lock()
	scheduler := e.scheduler
	closed := e.closed
	e.mu.Unlock()

	if closed {
		return ErrEditorClosed
	}
	if scheduler == nil {
		return ErrNoPeriod
	}
	return scheduler.Flush()
}

// Pending reports whether edits are waiting for a save
func (e *Editor) Pending() bool {
	e.mu.Lock()
	scheduler := e.scheduler
	e.mu.Unlock()
	return scheduler != nil && scheduler.Pending()
}

// View returns the comparison view of the working set
func (e *Editor) View() (*ComparisonView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.res == nil {
		return nil, ErrNoPeriod
	}
	return e.viewLocked(), nil
}

// Snapshot returns the state pushed to listeners
func (e *Editor) Snapshot() EditorSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Working returns a copy of the working set, or nil before Open
func (e *Editor) Working() *models.ReadingSet {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.res == nil {
		return nil
	}
	return e.res.Current.Clone()
}

// Close ends the session. A pending timer is canceled; unsaved edits are
// dropped. Callers that want them kept call Flush first.
func (e *Editor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	scheduler := e.scheduler
	e.mu.Unlock()

	if scheduler != nil {
		scheduler.Close()
	}
	e.metrics.ActiveEditors.Dec()
}

func (e *Editor) viewLocked() *ComparisonView {
	r := e.res
	return BuildComparison(r.Catalog, r.Period, r.Exists, r.Current, r.Previous)
}

func (e *Editor) snapshotLocked() EditorSnapshot {
	snap := EditorSnapshot{Status: e.status}
	if e.lastErr != nil {
		snap.Error = e.lastErr.Error()
	}
	if e.res != nil {
		snap.Catalog = e.res.Catalog.ID
		snap.Period = e.res.Period.Key()
		snap.View = e.viewLocked()
	}
	return snap
}

func (e *Editor) publish() {
	e.mu.Lock()
	fn := e.onChange
	if fn == nil || e.closed {
		e.mu.Unlock()
		return
	}
	snap := e.snapshotLocked()
	e.mu.Unlock()

	fn(snap)
}

// dropStoredBlanks removes blank edits of points that already have a stored
// value
func dropStoredBlanks(edits map[string]string, stored map[string]bool) map[string]string {
	out := make(map[string]string, len(edits))
	for id, raw := range edits {
		if stored[id] && strings.TrimSpace(raw) == "" {
			continue
		}
		out[id] = raw
	}
	return out
}
