package coordinator

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// aggregation tracks one fan-out: which windows still owe an answer and
// what has arrived so far. Completion fires exactly once, either when the
// last expected window answers or when the deadline passes with a partial
// set.
type aggregation struct {
	id       string
	command  string
	expected map[string]bool
	results  []Contribution
	timer    *time.Timer
	complete func([]Contribution)
	done     bool
}

// Aggregator owns the in-flight aggregation table on the Primary.
type Aggregator struct {
	timeout time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	inflight map[string]*aggregation
}

// NewAggregator creates an aggregator with the given per-aggregation
// deadline.
func NewAggregator(timeout time.Duration, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		timeout:  timeout,
		logger:   logger,
		inflight: make(map[string]*aggregation),
	}
}

// Start opens an aggregation seeded with the Primary's own contribution and
// returns its id. onComplete runs exactly once with every contribution
// gathered before completion; with no expected windows it runs before Start
// returns.
func (a *Aggregator) Start(command string, local Contribution, expected []string, onComplete func([]Contribution)) string {
	agg := &aggregation{
		id:       uuid.NewString(),
		command:  command,
		expected: make(map[string]bool, len(expected)),
		results:  []Contribution{local},
		complete: onComplete,
	}
	for _, windowID := range expected {
		agg.expected[windowID] = true
	}

	if len(agg.expected) == 0 {
		onComplete(agg.results)
		return agg.id
	}

	a.mu.Lock()
	a.inflight[agg.id] = agg
	agg.timer = time.AfterFunc(a.timeout, func() { a.expire(agg.id) })
	a.mu.Unlock()
	return agg.id
}

// SetTimeout changes the deadline applied to aggregations started after the
// call. In-flight aggregations keep the deadline they started with.
func (a *Aggregator) SetTimeout(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	a.mu.Lock()
	a.timeout = timeout
	a.mu.Unlock()
}

// Deliver records one window's answer. Answers for unknown or already
// completed aggregations, or from windows not in the expected set, are
// logged and dropped.
func (a *Aggregator) Deliver(aggregationID, windowID string, data json.RawMessage, errMsg string) {
	a.mu.Lock()
	agg, ok := a.inflight[aggregationID]
	if !ok || !agg.expected[windowID] {
		a.mu.Unlock()
		a.logger.Debug("Dropping late or unexpected aggregation answer",
			"aggregation_id", aggregationID, "window_id", windowID)
		return
	}
	delete(agg.expected, windowID)
	agg.results = append(agg.results, Contribution{WindowID: windowID, Data: data, Err: errMsg})
	finished := len(agg.expected) == 0
	if finished {
		a.finishLocked(agg)
	}
	a.mu.Unlock()

	if finished {
		agg.complete(agg.results)
	}
}

// Drop removes a window from every in-flight aggregation, completing any
// that were only waiting on it. Called when a Secondary disconnects.
func (a *Aggregator) Drop(windowID string) {
	a.mu.Lock()
	var completed []*aggregation
	for _, agg := range a.inflight {
		if !agg.expected[windowID] {
			continue
		}
		delete(agg.expected, windowID)
		agg.results = append(agg.results, Contribution{
			WindowID: windowID,
			Err:      "window disconnected during aggregation",
		})
		if len(agg.expected) == 0 {
			a.finishLocked(agg)
			completed = append(completed, agg)
		}
	}
	a.mu.Unlock()

	for _, agg := range completed {
		agg.complete(agg.results)
	}
}

// InFlight reports the number of open aggregations.
func (a *Aggregator) InFlight() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inflight)
}

// Close cancels every open aggregation without completing it.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, agg := range a.inflight {
		agg.timer.Stop()
		agg.done = true
		delete(a.inflight, id)
	}
}

// expire completes an aggregation with whatever arrived before the
// deadline. Windows that never answered become window errors.
func (a *Aggregator) expire(aggregationID string) {
	a.mu.Lock()
	agg, ok := a.inflight[aggregationID]
	if !ok || agg.done {
		a.mu.Unlock()
		return
	}
	for windowID := range agg.expected {
		agg.results = append(agg.results, Contribution{
			WindowID: windowID,
			Err:      "no answer before the aggregation deadline",
		})
	}
	a.finishLocked(agg)
	a.mu.Unlock()

	a.logger.Warn("Aggregation timed out with partial results",
		"aggregation_id", aggregationID, "command", agg.command)
	agg.complete(agg.results)
}

// finishLocked marks an aggregation done and removes it from the table.
// Caller holds the mutex and invokes complete after releasing it.
func (a *Aggregator) finishLocked(agg *aggregation) {
	agg.done = true
	if agg.timer != nil {
		agg.timer.Stop()
	}
	delete(a.inflight, agg.id)
}
