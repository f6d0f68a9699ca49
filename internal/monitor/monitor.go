// Package monitor runs the polling pipeline: acquire a telemetry frame,
// decode it, classify it and publish it, reconnecting whenever the device
// goes away. Each connection epoch also supervises an auto-shutdown
// watchdog.
package monitor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jamesprial/upsmon/internal/classify"
	"github.com/jamesprial/upsmon/internal/hid"
	"github.com/jamesprial/upsmon/internal/protocol"
	"github.com/jamesprial/upsmon/internal/reference"
)

// State is the connection state of the monitoring loop.
type State int32

const (
	StateConnecting State = iota
	StatePolling
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StatePolling:
		return "polling"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Config controls the monitoring loop.
type Config struct {
	PollInterval time.Duration
	// RetryInterval spaces failed open attempts while connecting.
	RetryInterval time.Duration
	// ReconnectBackoff is slept after an epoch ends, before reconnecting.
	ReconnectBackoff time.Duration
	TelemetryIndex   int
	Thresholds       classify.Thresholds
}

// DefaultConfig returns a one-second poll with five-second open retries and
// reconnect backoff.
func DefaultConfig() Config {
	return Config{
		PollInterval:     time.Second,
		RetryInterval:    hid.DefaultRetryInterval,
		ReconnectBackoff: hid.DefaultRetryInterval,
		TelemetryIndex:   protocol.IndexTelemetry,
		Thresholds:       classify.DefaultThresholds(),
	}
}

// Monitor is the monitoring loop.
type Monitor struct {
	opener    hid.Opener
	ref       reference.Source
	cfg       Config
	sinks     []Sink
	observers []Observer
	watchdog  *Watchdog

	state atomic.Int32
	epoch atomic.Uint64
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithSinks appends sinks. Snapshots are delivered to sinks in the order
// they were added.
func WithSinks(sinks ...Sink) Option {
	return func(m *Monitor) { m.sinks = append(m.sinks, sinks...) }
}

// WithObservers appends state observers.
func WithObservers(obs ...Observer) Option {
	return func(m *Monitor) { m.observers = append(m.observers, obs...) }
}

// WithWatchdog runs w alongside every epoch.
func WithWatchdog(w *Watchdog) Option {
	return func(m *Monitor) { m.watchdog = w }
}

// New returns a Monitor. Zero fields in cfg take their defaults.
func New(opener hid.Opener, ref reference.Source, cfg Config, opts ...Option) *Monitor {
	if opener == nil {
		panic("hid opener must not be nil")
	}
	if ref == nil {
		panic("reference source must not be nil")
	}

	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = def.ReconnectBackoff
	}
	if cfg.TelemetryIndex == 0 {
		cfg.TelemetryIndex = def.TelemetryIndex
	}

	m := &Monitor{opener: opener, ref: ref, cfg: cfg}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current connection state.
func (m *Monitor) State() State { return State(m.state.Load()) }

// Epoch returns the number of the current (or last) connection epoch.
func (m *Monitor) Epoch() uint64 { return m.epoch.Load() }

// Run loops over connection epochs until ctx is done, then returns
// ctx.Err(). Device errors never end the loop.
func (m *Monitor) Run(ctx context.Context) error {
	for {
		m.setState(StateConnecting)
		sess, err := hid.OpenWithRetry(ctx, m.opener, m.cfg.RetryInterval)
		if err != nil {
			return err
		}

		epoch := m.epoch.Add(1)
		log.Printf("monitor: epoch %d: device connected", epoch)
		m.runEpoch(ctx, epoch, sess)
		m.setState(StateDisconnected)

		if err := sleepCtx(ctx, m.cfg.ReconnectBackoff); err != nil {
			return err
		}
	}
}

// runEpoch polls sess until it fails or ctx is done. On return sess is
// closed and the epoch's watchdog has exited.
func (m *Monitor) runEpoch(ctx context.Context, epoch uint64, sess hid.Session) {
	ref, err := m.ref.Reference(ctx, sess)
	if err != nil {
		log.Printf("monitor: epoch %d: %v", epoch, err)
		_ = sess.Close()
		return
	}
	log.Printf("monitor: epoch %d: reference %+v", epoch, ref)

	epochCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	if m.watchdog != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.watchdog.Run(epochCtx, ref)
		}()
	}
	defer func() {
		_ = sess.Close()
		cancel()
		wg.Wait()
	}()

	m.setState(StatePolling)

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if !m.poll(epoch, sess, ref) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// poll reads and publishes one frame. It returns false when the session
// should be considered lost.
func (m *Monitor) poll(epoch uint64, sess hid.Session, ref protocol.ReferenceProfile) bool {
	raw, err := sess.GetIndexedString(m.cfg.TelemetryIndex)
	if err != nil {
		log.Printf("monitor: epoch %d: read failed: %v", epoch, err)
		return false
	}
	if raw == "" {
		log.Printf("monitor: epoch %d: empty frame, device gone", epoch)
		return false
	}

	rec, ok := protocol.DecodeTelemetry(raw)
	if !ok {
		for _, o := range m.observers {
			o.FrameDiscarded(len(raw))
		}
		return true
	}
	if len(rec.Degraded) > 0 {
		log.Printf("monitor: epoch %d: degraded fields %v", epoch, rec.Degraded)
	}

	snap := NewSnapshot(epoch, time.Now(), rec, ref, m.cfg.Thresholds)
	for _, s := range m.sinks {
		s.Publish(snap)
	}
	return true
}

func (m *Monitor) setState(s State) {
	m.state.Store(int32(s))
	epoch := m.epoch.Load()
	for _, o := range m.observers {
		o.StateChanged(s, epoch)
	}
}

// sleepCtx waits for d or until ctx is done, returning ctx.Err() in the
// latter case.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
