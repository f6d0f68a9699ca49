package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jamesprial/upsmon/internal/classify"
	"github.com/jamesprial/upsmon/internal/hid"
	"github.com/jamesprial/upsmon/internal/protocol"
	"github.com/jamesprial/upsmon/internal/reference"
)

// Snapshot is one classified telemetry reading.
type Snapshot struct {
	Epoch             uint64                    `json:"epoch"`
	At                time.Time                 `json:"at"`
	Record            protocol.TelemetryRecord  `json:"record"`
	Reference         protocol.ReferenceProfile `json:"reference"`
	CurrentAmps       float64                   `json:"current_amps"`
	PowerDraw         float64                   `json:"power_draw"`
	ExpectedPowerDraw float64                   `json:"expected_power_draw"`
	Statuses          classify.Statuses         `json:"statuses"`
	Battery           classify.Status           `json:"battery"`
	OnBattery         bool                      `json:"on_battery"`
}

// NewSnapshot classifies rec against ref.
func NewSnapshot(epoch uint64, at time.Time, rec protocol.TelemetryRecord, ref protocol.ReferenceProfile, th classify.Thresholds) Snapshot {
	return Snapshot{
		Epoch:             epoch,
		At:                at,
		Record:            rec,
		Reference:         ref,
		CurrentAmps:       rec.CurrentAmps(),
		PowerDraw:         rec.PowerDraw(),
		ExpectedPowerDraw: ref.ExpectedPowerDraw(th.ExpectedPowerBasis),
		Statuses:          classify.ClassifyRecord(rec, ref, th),
		Battery:           classify.BatteryIndicator(rec),
		OnBattery:         rec.OnBattery(),
	}
}

// Sink receives every snapshot of every epoch, in poll order. Publish is
// called from the monitoring goroutine and must not block for long.
type Sink interface {
	Publish(Snapshot)
}

// SinkFunc adapts an ordinary function to the Sink interface.
type SinkFunc func(Snapshot)

// Publish calls f.
func (f SinkFunc) Publish(s Snapshot) { f(s) }

// Observer is notified of connection state changes and discarded frames.
type Observer interface {
	StateChanged(state State, epoch uint64)
	FrameDiscarded(length int)
}

// Compile-time interface checks.
var (
	_ Sink     = (*Latest)(nil)
	_ Observer = (*Latest)(nil)
)

// Status is the view of the monitor exposed to consumers.
type Status struct {
	State           State     `json:"state"`
	Epoch           uint64    `json:"epoch"`
	FramesDiscarded uint64    `json:"frames_discarded"`
	Snapshot        *Snapshot `json:"snapshot,omitempty"`
}

// Latest keeps the most recent snapshot and connection state.
type Latest struct {
	mu        sync.RWMutex
	snap      Snapshot
	has       bool
	state     State
	epoch     uint64
	discarded uint64
}

// NewLatest returns an empty Latest in the connecting state.
func NewLatest() *Latest {
	return &Latest{state: StateConnecting}
}

// Publish stores s.
func (l *Latest) Publish(s Snapshot) {
	l.mu.Lock()
	l.snap = s
	l.has = true
	l.mu.Unlock()
}

// StateChanged records the connection state.
func (l *Latest) StateChanged(state State, epoch uint64) {
	l.mu.Lock()
	l.state = state
	l.epoch = epoch
	l.mu.Unlock()
}

// FrameDiscarded counts a discarded frame.
func (l *Latest) FrameDiscarded(int) {
	l.mu.Lock()
	l.discarded++
	l.mu.Unlock()
}

// Snapshot returns the last published snapshot. ok is false until the
// first one arrives.
func (l *Latest) Snapshot() (snap Snapshot, ok bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap, l.has
}

// Status returns the current connection state and last snapshot.
func (l *Latest) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()

	st := Status{State: l.state, Epoch: l.epoch, FramesDiscarded: l.discarded}
	if l.has {
		snap := l.snap
		st.Snapshot = &snap
	}
	return st
}

// ServeHTTP reports Status as JSON. The response is 200 while the monitor is
// polling and 503 otherwise, so it can back a liveness probe.
func (l *Latest) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	st := l.Status()
	w.Header().Set("Content-Type", "application/json")
	if st.State != StatePolling {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(st)
}

// ReadOnce opens a session, reads the reference profile and one telemetry
// frame, and returns the classified snapshot.
func ReadOnce(ctx context.Context, opener hid.Opener, ref reference.Source, telemetryIndex int, th classify.Thresholds) (Snapshot, error) {
	sess, err := opener.Open()
	if err != nil {
		return Snapshot{}, fmt.Errorf("open device: %w", err)
	}
	defer sess.Close()

	profile, err := ref.Reference(ctx, sess)
	if err != nil {
		return Snapshot{}, err
	}

	raw, err := sess.GetIndexedString(telemetryIndex)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read telemetry: %w", err)
	}
	rec, ok := protocol.DecodeTelemetry(raw)
	if !ok {
		return Snapshot{}, fmt.Errorf("read telemetry: frame length %d, want %d: %w",
			len(raw), protocol.TelemetryFrameLen, protocol.ErrMalformedFrame)
	}
	return NewSnapshot(0, time.Now(), rec, profile, th), nil
}
