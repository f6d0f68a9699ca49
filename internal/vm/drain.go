package vm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jamesprial/upsmon/internal/safety"
)

// DefaultDrainTimeout bounds the graceful stop phase of Drain.
const DefaultDrainTimeout = 60 * time.Second

// Drainer stops the VMs selected by a filter ahead of host power-off.
type Drainer struct {
	mgr      VMManager
	filter   *safety.Filter
	timeout  time.Duration
	interval time.Duration
}

// NewDrainer returns a Drainer. A nil filter selects every VM; a
// non-positive timeout uses DefaultDrainTimeout.
func NewDrainer(mgr VMManager, filter *safety.Filter, timeout time.Duration) *Drainer {
	if mgr == nil {
		panic("vm manager must not be nil")
	}
	if filter == nil {
		filter = safety.NewFilter(nil, nil)
	}
	if timeout <= 0 {
		timeout = DefaultDrainTimeout
	}
	return &Drainer{mgr: mgr, filter: filter, timeout: timeout, interval: time.Second}
}

// Plan returns the running VMs that Drain would stop.
func (d *Drainer) Plan(ctx context.Context) ([]VM, error) {
	vms, err := d.mgr.ListVMs(ctx)
	if err != nil {
		return nil, err
	}
	var out []VM
	for _, v := range vms {
		if v.State == VMStateRunning && d.filter.IsAllowed(v.Name) {
			out = append(out, v)
		}
	}
	return out, nil
}

// Drain asks every selected running VM to shut down, waits up to the
// timeout for them to stop, then force-stops the rest. Errors for
// individual VMs are joined; the drain carries on past them.
func (d *Drainer) Drain(ctx context.Context) error {
	targets, err := d.Plan(ctx)
	if err != nil {
		return fmt.Errorf("drain vms: %w", err)
	}
	if len(targets) == 0 {
		return nil
	}

	var errs []error
	pending := make(map[string]struct{}, len(targets))
	for _, v := range targets {
		log.Printf("vm: stopping %q before power-off", v.Name)
		if err := d.mgr.StopVM(ctx, v.Name); err != nil {
			errs = append(errs, err)
		}
		pending[v.Name] = struct{}{}
	}

	deadline := time.Now().Add(d.timeout)
	for len(pending) > 0 && time.Now().Before(deadline) {
		t := time.NewTimer(d.interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Join(append(errs, ctx.Err())...)
		case <-t.C:
		}

		vms, err := d.mgr.ListVMs(ctx)
		if err != nil {
			errs = append(errs, err)
			break
		}
		for _, v := range vms {
			if _, ok := pending[v.Name]; ok && v.State != VMStateRunning {
				delete(pending, v.Name)
			}
		}
	}

	for name := range pending {
		log.Printf("vm: %q did not stop in %s; forcing", name, d.timeout)
		if err := d.mgr.ForceStopVM(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
