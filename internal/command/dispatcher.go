// Package command dispatches discrete device commands: self-test, power
// source switch and shutdown. Each call opens its own device session.
package command

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jamesprial/upsmon/internal/hid"
	"github.com/jamesprial/upsmon/internal/protocol"
	"github.com/jamesprial/upsmon/internal/safety"
)

// Operation names used in CommandError and audit entries.
const (
	OpTest         = "ups_test"
	OpSwitchSource = "ups_switch_source"
	OpShutdown     = "ups_shutdown"
)

// Intent sources.
const (
	SourceUser     = "user"
	SourceWatchdog = "watchdog"
	SourceCLI      = "cli"
	SourceMCP      = "mcp"
)

// Power sources reported by SwitchResult.
const (
	PowerMains   = "mains"
	PowerBattery = "battery"
)

// ShutdownIntent requests a device shutdown followed by host power-off.
type ShutdownIntent struct {
	Source string    `json:"source"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// SwitchResult describes a power-source switch request.
type SwitchResult struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Index int    `json:"index"`
}

// Indices are the indexed-string slots used for each command.
type Indices struct {
	Telemetry       int
	SelfTest        int
	SwitchToBattery int
	SwitchToMains   int
	Shutdown        int
}

// DefaultIndices returns the slots used by current firmware.
func DefaultIndices() Indices {
	return Indices{
		Telemetry:       protocol.IndexTelemetry,
		SelfTest:        protocol.IndexSelfTest,
		SwitchToBattery: protocol.IndexSwitchToBattery,
		SwitchToMains:   protocol.IndexSwitchToMains,
		Shutdown:        protocol.IndexShutdown,
	}
}

// Bounds on the shutdown steps that follow the device write.
const (
	DefaultHookTimeout     = 2 * time.Minute
	DefaultPowerOffTimeout = 30 * time.Second
)

// PowerOffer powers off the host.
type PowerOffer interface {
	PowerOff(ctx context.Context) error
}

// Hook runs before host power-off. A failing hook is logged and does not
// prevent power-off.
type Hook func(ctx context.Context) error

// Dispatcher issues device commands.
type Dispatcher struct {
	opener    hid.Opener
	host      PowerOffer
	idx       Indices
	hooks     []Hook
	audit     *safety.AuditLogger
	observers []func(ShutdownIntent)

	hookTimeout time.Duration
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithIndices overrides the command slots.
func WithIndices(idx Indices) Option {
	return func(d *Dispatcher) { d.idx = idx }
}

// WithPreShutdown adds hooks run after the device shutdown and before host
// power-off, in order.
func WithPreShutdown(hooks ...Hook) Option {
	return func(d *Dispatcher) { d.hooks = append(d.hooks, hooks...) }
}

// WithHookTimeout bounds the total time the pre-shutdown hooks may take.
func WithHookTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.hookTimeout = d
		}
	}
}

// WithAudit records every command in the audit log.
func WithAudit(audit *safety.AuditLogger) Option {
	return func(d *Dispatcher) { d.audit = audit }
}

// WithShutdownObserver registers fn to be called with every shutdown intent
// before it is carried out.
func WithShutdownObserver(fn func(ShutdownIntent)) Option {
	return func(d *Dispatcher) { d.observers = append(d.observers, fn) }
}

// NewDispatcher returns a Dispatcher opening sessions with opener and
// powering off the host with host.
func NewDispatcher(opener hid.Opener, host PowerOffer, opts ...Option) *Dispatcher {
	if opener == nil {
		panic("hid opener must not be nil")
	}
	if host == nil {
		panic("power offer must not be nil")
	}
	d := &Dispatcher{opener: opener, host: host, idx: DefaultIndices(), hookTimeout: DefaultHookTimeout}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Test triggers the device self-test.
func (d *Dispatcher) Test(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { d.logAudit(OpTest, "", nil, err, start) }()

	if err := ctx.Err(); err != nil {
		return &CommandError{Op: OpTest, Err: err}
	}
	return d.trigger(OpTest, d.idx.SelfTest)
}

// SwitchSource reads the current power source from the telemetry flags and
// requests the opposite one.
func (d *Dispatcher) SwitchSource(ctx context.Context) (res SwitchResult, err error) {
	start := time.Now()
	defer func() {
		d.logAudit(OpSwitchSource, "", map[string]any{"from": res.From, "to": res.To}, err, start)
	}()

	if err := ctx.Err(); err != nil {
		return SwitchResult{}, &CommandError{Op: OpSwitchSource, Err: err}
	}

	sess, err := d.opener.Open()
	if err != nil {
		return SwitchResult{}, &CommandError{Op: OpSwitchSource, Err: err}
	}
	defer sess.Close()

	raw, err := sess.GetIndexedString(d.idx.Telemetry)
	if err != nil {
		return SwitchResult{}, &CommandError{Op: OpSwitchSource, Index: d.idx.Telemetry, Err: err}
	}
	rec, ok := protocol.DecodeTelemetry(raw)
	if !ok {
		return SwitchResult{}, &CommandError{
			Op:    OpSwitchSource,
			Index: d.idx.Telemetry,
			Err:   fmt.Errorf("frame length %d: %w", len(raw), protocol.ErrMalformedFrame),
		}
	}

	res = SwitchResult{From: PowerMains, To: PowerBattery, Index: d.idx.SwitchToBattery}
	if rec.OnBattery() {
		res = SwitchResult{From: PowerBattery, To: PowerMains, Index: d.idx.SwitchToMains}
	}

	if _, err := sess.GetIndexedString(res.Index); err != nil {
		return res, &CommandError{Op: OpSwitchSource, Index: res.Index, Err: err}
	}
	log.Printf("command: switch source %s -> %s requested", res.From, res.To)
	return res, nil
}

// Shutdown writes the device shutdown command, runs the pre-shutdown hooks
// and powers off the host. The host is powered off even when the device
// write fails; both failures are returned joined. A host failure is a
// *HostShutdownError.
//
// Cancelling ctx does not stop a shutdown in progress: the epoch or request
// that issued it ends as soon as the device drops off the bus. Hooks and
// power-off run under their own timeouts instead.
func (d *Dispatcher) Shutdown(ctx context.Context, intent ShutdownIntent) (err error) {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	if intent.At.IsZero() {
		intent.At = start
	}
	defer func() {
		d.logAudit(OpShutdown, intent.Source, map[string]any{"reason": intent.Reason}, err, start)
	}()

	log.Printf("command: SHUTDOWN requested by %s: %s", intent.Source, intent.Reason)
	for _, fn := range d.observers {
		fn(intent)
	}

	deviceErr := d.trigger(OpShutdown, d.idx.Shutdown)
	if deviceErr != nil {
		log.Printf("command: SHUTDOWN device write failed: %v; powering off host anyway", deviceErr)
	}

	d.runHooks(ctx)

	offCtx, cancel := context.WithTimeout(ctx, DefaultPowerOffTimeout)
	defer cancel()
	if err := d.host.PowerOff(offCtx); err != nil {
		log.Printf("command: SHUTDOWN host power-off failed: %v", err)
		return errors.Join(deviceErr, &HostShutdownError{Err: err})
	}
	log.Printf("command: host power-off requested")
	return deviceErr
}

func (d *Dispatcher) runHooks(ctx context.Context) {
	if len(d.hooks) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, d.hookTimeout)
	defer cancel()
	for _, hook := range d.hooks {
		if err := hook(ctx); err != nil {
			log.Printf("command: pre-shutdown hook failed: %v", err)
		}
	}
}

// trigger opens a session and reads index once.
func (d *Dispatcher) trigger(op string, index int) error {
	sess, err := d.opener.Open()
	if err != nil {
		return &CommandError{Op: op, Err: err}
	}
	defer sess.Close()

	if _, err := sess.GetIndexedString(index); err != nil {
		return &CommandError{Op: op, Index: index, Err: err}
	}
	return nil
}

func (d *Dispatcher) logAudit(op, source string, params map[string]any, err error, start time.Time) {
	if d.audit == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error: " + err.Error()
	}
	if params == nil {
		params = map[string]any{}
	}
	if logErr := d.audit.Log(safety.AuditEntry{
		Timestamp: start,
		Op:        op,
		Source:    source,
		Params:    params,
		Result:    result,
		Duration:  time.Since(start),
	}); logErr != nil && !errors.Is(logErr, safety.ErrNilWriter) {
		log.Printf("command: audit log write failed: %v", logErr)
	}
}

// PowerOfferFunc adapts an ordinary function to the PowerOffer interface.
type PowerOfferFunc func(ctx context.Context) error

// PowerOff calls f.
func (f PowerOfferFunc) PowerOff(ctx context.Context) error { return f(ctx) }
