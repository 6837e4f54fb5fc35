// Package autosave debounces edits into persistence calls.
//
// A Scheduler moves between three states. Touch in Idle or PendingSave
// (re)arms the quiet-interval timer; expiry moves to Saving and runs the save
// function; completion returns to Idle and publishes the outcome. A Touch that
// arrives while a save is in flight marks the scheduler dirty, which causes
// exactly one more cycle once the in-flight save returns.
package autosave

import (
	"context"
	"errors"
	"sync"
	"time"

	"campus-utilities/pkg/logging"
	"campus-utilities/pkg/metrics"
)

// DefaultDelay is the quiet interval used when none is configured
const DefaultDelay = 3 * time.Second

// ErrClosed is returned by Flush after Close
var ErrClosed = errors.New("autosave: scheduler closed")

// State is the scheduler state machine position
type State int

const (
	Idle State = iota
	PendingSave
	Saving
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case PendingSave:
		return "pending_save"
	case Saving:
		return "saving"
	default:
		return "unknown"
	}
}

// Status is the user-facing save indicator
type Status string

const (
	StatusSaved   Status = "saved"
	StatusPending Status = "pending"
	StatusSaving  Status = "saving"
	StatusError   Status = "error"
)

// SaveFunc persists the current working state
type SaveFunc func(ctx context.Context) error

// Listener receives status transitions, without the scheduler lock held. A
// transition that was already superseded when it comes up for delivery is
// skipped, so deliveries never go backwards and the last one delivered is the
// current status.
type Listener func(status Status, err error)

type event struct {
	seq    uint64
	status Status
	err    error
}

// Scheduler coalesces rapid edits into single save calls
type Scheduler struct {
	delay   time.Duration
	save    SaveFunc
	logger  logging.Logger
	metrics *metrics.Collector

	mu       sync.Mutex
	state    State
	status   Status
	lastErr  error
	dirty    bool
	closed   bool
	seq      uint64
	eventSeq uint64
	timer    *time.Timer
	settled  chan struct{}
	listener Listener

	notifyMu  sync.Mutex
	delivered uint64

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler. A non-positive delay falls back to DefaultDelay.
// metricsCollector may be nil.
func New(delay time.Duration, save SaveFunc, logger logging.Logger, metricsCollector *metrics.Collector) *Scheduler {
	if delay <= 0 {
		delay = DefaultDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		delay:   delay,
		save:    save,
		logger:  logger,
		metrics: metricsCollector,
		state:   Idle,
		status:  StatusSaved,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// OnStatus installs the status listener, replacing any previous one
func (s *Scheduler) OnStatus(l Listener) {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
}

// Touch records a mutation of the working state
func (s *Scheduler) Touch() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	var events []event
	if s.state == Saving {
		s.dirty = true
	} else {
		events = s.arm(events)
	}
	listener := s.listener
	s.mu.Unlock()

	s.emit(listener, events)
}

// arm (re)starts the quiet-interval timer. Caller holds mu.
func (s *Scheduler) arm(events []event) []event {
	s.seq++
	seq := s.seq
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.delay, func() { s.fire(seq) })

	s.state = PendingSave
	if s.status != StatusPending {
		s.status = StatusPending
		events = append(events, s.newEvent(StatusPending, nil))
	}
	return events
}

// fire runs when a timer expires. Stale timers are ignored by sequence.
func (s *Scheduler) fire(seq uint64) {
	s.mu.Lock()
	if s.closed || seq != s.seq || s.state != PendingSave {
		s.mu.Unlock()
		return
	}
	events := s.begin(nil)
	listener := s.listener
	s.mu.Unlock()

	s.emit(listener, events)
	s.run()
}

// begin moves to Saving. Caller holds mu.
func (s *Scheduler) begin(events []event) []event {
	s.seq++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.state = Saving
	s.status = StatusSaving
	s.settled = make(chan struct{})
	return append(events, s.newEvent(StatusSaving, nil))
}

// run performs one save and settles the state machine
func (s *Scheduler) run() error {
	start := time.Now()
	err := s.save(s.ctx)

	s.mu.Lock()
	close(s.settled)
	if s.closed {
		s.state = Idle
		s.mu.Unlock()
		s.record("canceled")
		return err
	}

	var events []event
	s.state = Idle
	if err != nil {
		s.status = StatusError
		s.lastErr = err
		events = append(events, s.newEvent(StatusError, err))
	} else {
		s.status = StatusSaved
		s.lastErr = nil
		events = append(events, s.newEvent(StatusSaved, nil))
	}
	if s.dirty {
		s.dirty = false
		events = s.arm(events)
	}
	listener := s.listener
	s.mu.Unlock()

	if err != nil {
		s.record("error")
		s.logger.Warn(s.ctx, "[AUTOSAVE_ERROR] Save failed, will retry on next edit", logging.Fields{
			"error":       err.Error(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
	} else {
		s.record("success")
		s.logger.Debug(s.ctx, "[AUTOSAVE_OK] Saved", logging.Fields{
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}

	s.emit(listener, events)
	return err
}

// Flush saves immediately, skipping the quiet interval. When a save is
// already in flight Flush waits for it and then saves again.
func (s *Scheduler) Flush() error {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return ErrClosed
		}
		if s.state == Saving {
			settled := s.settled
			s.mu.Unlock()
			<-settled
			continue
		}
		s.dirty = false
		events := s.begin(nil)
		listener := s.listener
		s.mu.Unlock()

		s.emit(listener, events)
		return s.run()
	}
}

// Close cancels any pending timer and the context of an in-flight save.
// No status is published after Close.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.seq++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.state == PendingSave {
		s.state = Idle
	}
	s.dirty = false
	s.cancel()
}

// State returns the current state machine position
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns the current indicator and the last save error, if any
func (s *Scheduler) Status() (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.lastErr
}

// Pending reports whether there are edits not yet handed to a save
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == PendingSave || s.dirty
}

func (s *Scheduler) record(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordAutosave(outcome)
	}
}

// newEvent numbers a transition. Caller holds mu.
func (s *Scheduler) newEvent(status Status, err error) event {
	s.eventSeq++
	return event{seq: s.eventSeq, status: status, err: err}
}

// emit delivers events in order. Events collected under mu can reach emit
// out of order when transitions race; anything older than what was already
// delivered is dropped.
func (s *Scheduler) emit(l Listener, events []event) {
	if l == nil || len(events) == 0 {
		return
	}
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	for _, e := range events {
		if e.seq <= s.delivered {
			continue
		}
		s.delivered = e.seq
		l(e.status, e.err)
	}
}
