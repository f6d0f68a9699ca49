package monitor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jamesprial/upsmon/internal/command"
	"github.com/jamesprial/upsmon/internal/hid"
	"github.com/jamesprial/upsmon/internal/protocol"
)

// WatchdogConfig controls the auto-shutdown watchdog.
type WatchdogConfig struct {
	Interval       time.Duration
	RetryDelay     time.Duration
	BatteryMargin  float64
	TelemetryIndex int
}

// DefaultWatchdogConfig polls every 20 s and triggers 0.1 V below the
// reference battery voltage.
func DefaultWatchdogConfig() WatchdogConfig {
	return WatchdogConfig{
		Interval:       20 * time.Second,
		RetryDelay:     15 * time.Second,
		BatteryMargin:  0.1,
		TelemetryIndex: protocol.IndexTelemetry,
	}
}

// ShutdownFunc carries out a shutdown intent. command.Dispatcher.Shutdown
// satisfies it.
type ShutdownFunc func(ctx context.Context, intent command.ShutdownIntent) error

// Watchdog polls the device on its own session and issues a shutdown intent
// for every poll that finds the UPS on battery with a depleted battery.
type Watchdog struct {
	opener   hid.Opener
	cfg      WatchdogConfig
	shutdown ShutdownFunc
}

// NewWatchdog returns a Watchdog. Zero fields in cfg take their defaults.
func NewWatchdog(opener hid.Opener, cfg WatchdogConfig, shutdown ShutdownFunc) *Watchdog {
	if opener == nil {
		panic("hid opener must not be nil")
	}
	if shutdown == nil {
		panic("shutdown func must not be nil")
	}

	def := DefaultWatchdogConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.TelemetryIndex == 0 {
		cfg.TelemetryIndex = def.TelemetryIndex
	}
	return &Watchdog{opener: opener, cfg: cfg, shutdown: shutdown}
}

// Qualifies reports whether rec warrants a shutdown: the UPS is on battery
// and the battery voltage is at or below the reference minus margin.
func Qualifies(rec protocol.TelemetryRecord, ref protocol.ReferenceProfile, margin float64) bool {
	return rec.OnBattery() && rec.BatteryVoltage <= ref.BatteryVoltage-margin
}

// Run polls until ctx is done or the device cannot be reopened after a read
// failure. It never affects the monitoring loop.
func (w *Watchdog) Run(ctx context.Context, ref protocol.ReferenceProfile) {
	if ctx.Err() != nil {
		return
	}

	sess, err := w.opener.Open()
	if err != nil {
		log.Printf("watchdog: open failed: %v", err)
		return
	}
	defer func() {
		if sess != nil {
			_ = sess.Close()
		}
	}()

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}

		raw, err := sess.GetIndexedString(w.cfg.TelemetryIndex)
		if err != nil || raw == "" {
			log.Printf("watchdog: read failed (%v); reopening in %s", err, w.cfg.RetryDelay)
			_ = sess.Close()
			sess = nil

			if sleepCtx(ctx, w.cfg.RetryDelay) != nil {
				return
			}
			if sess, err = w.opener.Open(); err != nil {
				sess = nil
				log.Printf("watchdog: reopen failed: %v; stopping until next epoch", err)
				return
			}
			continue
		}

		if rec, ok := protocol.DecodeTelemetry(raw); ok && Qualifies(rec, ref, w.cfg.BatteryMargin) {
			intent := command.ShutdownIntent{
				Source: command.SourceWatchdog,
				Reason: fmt.Sprintf("on battery at %.2f V (limit %.2f V)",
					rec.BatteryVoltage, ref.BatteryVoltage-w.cfg.BatteryMargin),
				At: time.Now(),
			}
			if err := w.shutdown(ctx, intent); err != nil {
				log.Printf("watchdog: shutdown failed: %v", err)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
