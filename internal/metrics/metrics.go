// Package metrics exports monitor snapshots and connection state as
// Prometheus metrics.
package metrics

import (
	"net/http"
	"sync"

	"github.com/jamesprial/upsmon/internal/classify"
	"github.com/jamesprial/upsmon/internal/command"
	"github.com/jamesprial/upsmon/internal/monitor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Compile-time interface checks.
var (
	_ monitor.Sink     = (*Collector)(nil)
	_ monitor.Observer = (*Collector)(nil)
)

// Collector holds the upsmon metrics on its own registry.
type Collector struct {
	reg *prometheus.Registry

	channelValue    *prometheus.GaugeVec
	channelStatus   *prometheus.GaugeVec
	onBattery       prometheus.Gauge
	connected       prometheus.Gauge
	epochs          prometheus.Counter
	framesDiscarded prometheus.Counter
	shutdownIntents *prometheus.CounterVec

	mu        sync.Mutex
	lastEpoch uint64
}

// NewCollector creates the metrics and registers them, together with the
// Go runtime and process collectors, on a fresh registry.
func NewCollector() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		channelValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "upsmon_channel_value",
			Help: "Latest decoded value per channel (volts, deciamps, hertz or watts).",
		}, []string{"channel"}),
		channelStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "upsmon_channel_status",
			Help: "Channel status: 0 nominal, 1 warning, 2 critical.",
		}, []string{"channel"}),
		onBattery: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "upsmon_on_battery",
			Help: "1 while the UPS reports running on battery.",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "upsmon_connected",
			Help: "1 while the monitor is polling the device.",
		}),
		epochs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "upsmon_epochs_total",
			Help: "Connection epochs started.",
		}),
		framesDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "upsmon_frames_discarded_total",
			Help: "Telemetry frames discarded for having the wrong length.",
		}),
		shutdownIntents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upsmon_shutdown_intents_total",
			Help: "Shutdown intents issued, by source.",
		}, []string{"source"}),
	}

	c.reg.MustRegister(
		c.channelValue,
		c.channelStatus,
		c.onBattery,
		c.connected,
		c.epochs,
		c.framesDiscarded,
		c.shutdownIntents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the registry the metrics live on.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}

// Publish updates the per-channel gauges from s.
func (c *Collector) Publish(s monitor.Snapshot) {
	values := map[classify.Channel]float64{
		classify.InputVoltage:        s.Record.InputVoltage,
		classify.OutputVoltageNeeded: s.Record.OutputVoltageNeeded,
		classify.OutputVoltage:       s.Record.OutputVoltage,
		classify.Current:             s.Record.Current,
		classify.Frequency:           s.Record.Frequency,
		classify.BatteryVoltage:      s.Record.BatteryVoltage,
		classify.PowerDraw:           s.PowerDraw,
	}
	for ch, v := range values {
		c.channelValue.WithLabelValues(string(ch)).Set(v)
	}
	for ch, st := range s.Statuses {
		c.channelStatus.WithLabelValues(string(ch)).Set(float64(st))
	}
	c.onBattery.Set(boolGauge(s.OnBattery))
}

// StateChanged tracks connectivity and counts each new epoch once.
func (c *Collector) StateChanged(state monitor.State, epoch uint64) {
	c.connected.Set(boolGauge(state == monitor.StatePolling))

	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.lastEpoch {
		c.lastEpoch = epoch
		c.epochs.Inc()
	}
}

// FrameDiscarded counts a discarded frame.
func (c *Collector) FrameDiscarded(int) {
	c.framesDiscarded.Inc()
}

// ShutdownIntent counts an intent by its source. It has the signature of a
// dispatcher shutdown observer.
func (c *Collector) ShutdownIntent(intent command.ShutdownIntent) {
	c.shutdownIntents.WithLabelValues(intent.Source).Inc()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
