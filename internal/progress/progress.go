// Package progress carries transfer state from the worker goroutine to the
// presentation side. The worker is the single writer; consumers either
// drain the event channel or poll snapshots and block on Wait().
package progress

import (
	"sync"
	"time"
)

// TransferPhase represents the current phase of a transfer.
type TransferPhase string

const (
	PhaseIdle            TransferPhase = "idle"
	PhaseDownloading     TransferPhase = "downloading"
	PhaseCountingEntries TransferPhase = "counting"
	PhaseExtracting      TransferPhase = "extracting"
	PhaseDone            TransferPhase = "done"
	PhaseFailed          TransferPhase = "failed"
)

// FailureReason is the short human-readable class of a terminal failure.
type FailureReason string

const (
	ReasonNone              FailureReason = ""
	ReasonNetwork           FailureReason = "network"
	ReasonHTTPStatus        FailureReason = "http status"
	ReasonLocalWrite        FailureReason = "local write"
	ReasonCancelled         FailureReason = "cancelled"
	ReasonUnsupportedFormat FailureReason = "unsupported format"
	ReasonOpenFailure       FailureReason = "open failure"
	ReasonBlockedPath       FailureReason = "blocked unsafe path"
	ReasonCorruptArchive    FailureReason = "corrupt archive"
	ReasonLocalIO           FailureReason = "local io"
)

// IndeterminatePercent marks progress with no known denominator (missing
// content length, unknown entry count). Distinct from a genuine 0%.
const IndeterminatePercent float64 = -1

// Event is one progress observation, safe for JSON serialization. Every
// event carries the transfer ID so consumers can discard events belonging
// to a superseded transfer.
type Event struct {
	TransferID   string        `json:"transfer_id"`
	Phase        TransferPhase `json:"phase"`
	Percent      float64       `json:"percent"`
	BytesDone    int64         `json:"bytes_done,omitempty"`
	BytesTotal   int64         `json:"bytes_total,omitempty"`
	EntriesDone  int           `json:"entries_done,omitempty"`
	EntriesTotal int           `json:"entries_total,omitempty"`
	Terminal     bool          `json:"terminal,omitempty"`
	Reason       FailureReason `json:"reason,omitempty"`
	Message      string        `json:"message,omitempty"`
	At           time.Time     `json:"at"`
}

// Indeterminate reports whether the event has no usable percentage.
func (e Event) Indeterminate() bool {
	return e.Percent < 0
}

const eventBuffer = 64

// Reporter fans one worker's progress out to the presentation side.
// Report never blocks: when the buffer is full an intermediate tick is
// coalesced away, but phase-entry and terminal events always land in the
// channel. Within one phase the percent is clamped non-decreasing.
type Reporter struct {
	transferID string
	events     chan Event

	mu   sync.Mutex
	last Event
	done bool

	// Notification channel: close-and-replace pattern. Listeners call
	// Wait() to get the current channel, then block on it. Any update
	// closes the old channel and replaces it with a new one.
	notify chan struct{}
}

// NewReporter creates a reporter scoped to one transfer ID.
func NewReporter(transferID string) *Reporter {
	return &Reporter{
		transferID: transferID,
		events:     make(chan Event, eventBuffer),
		notify:     make(chan struct{}),
		last: Event{
			TransferID: transferID,
			Phase:      PhaseIdle,
			Percent:    IndeterminatePercent,
			At:         time.Now(),
		},
	}
}

// TransferID returns the ID stamped on every event.
func (r *Reporter) TransferID() string {
	return r.transferID
}

// Report records an event and makes it observable. Safe to call only from
// the single worker goroutine that owns the transfer. Events reported
// after the terminal one are dropped, so the terminal event is delivered
// exactly once.
func (r *Reporter) Report(ev Event) {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return
	}

	ev.TransferID = r.transferID
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	if ev.Phase == r.last.Phase && ev.Percent >= 0 && r.last.Percent > ev.Percent {
		ev.Percent = r.last.Percent
	}
	guaranteed := ev.Terminal || ev.Phase != r.last.Phase
	if ev.Terminal {
		r.done = true
	}
	r.last = ev
	r.signal()
	r.mu.Unlock()

	r.send(ev, guaranteed)
	if ev.Terminal {
		close(r.events)
	}
}

// send enqueues without ever blocking the worker. Ticks are dropped when
// the buffer is full; guaranteed events evict the oldest buffered event
// until they fit. With a single writer the eviction loop terminates.
func (r *Reporter) send(ev Event, guaranteed bool) {
	if !guaranteed {
		select {
		case r.events <- ev:
		default:
		}
		return
	}
	for {
		select {
		case r.events <- ev:
			return
		default:
		}
		select {
		case <-r.events:
		default:
		}
	}
}

// Events returns the channel of observations. It is closed after the
// terminal event has been delivered.
func (r *Reporter) Events() <-chan Event {
	return r.events
}

// Snapshot returns the most recent event.
func (r *Reporter) Snapshot() Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Finished reports whether the terminal event has been recorded.
func (r *Reporter) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Wait returns a channel that will be closed when the next update occurs.
// Callers should select on this channel alongside a timeout for heartbeats.
func (r *Reporter) Wait() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.notify
}

// signal closes the current notify channel and replaces it with a new one.
// Must be called with r.mu held.
func (r *Reporter) signal() {
	close(r.notify)
	r.notify = make(chan struct{})
}
