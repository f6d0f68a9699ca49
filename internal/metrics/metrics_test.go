package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jamesprial/upsmon/internal/classify"
	"github.com/jamesprial/upsmon/internal/command"
	"github.com/jamesprial/upsmon/internal/monitor"
	"github.com/jamesprial/upsmon/internal/protocol"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func testSnapshot(flags [8]uint8, battery float64) monitor.Snapshot {
	rec := protocol.TelemetryRecord{
		InputVoltage:        228,
		OutputVoltageNeeded: 228,
		OutputVoltage:       230,
		Current:             30,
		Frequency:           50,
		BatteryVoltage:      battery,
		Flags:               flags,
	}
	ref := protocol.ReferenceProfile{Voltage: 220, Current: 30, BatteryVoltage: 13.9, Frequency: 50}
	return monitor.NewSnapshot(1, time.Now(), rec, ref, classify.DefaultThresholds())
}

func Test_Collector_Publish_ChannelValues(t *testing.T) {
	c := NewCollector()
	c.Publish(testSnapshot([8]uint8{0, 0, 0, 0, 1}, 13.7))

	tests := []struct {
		channel classify.Channel
		want    float64
	}{
		{channel: classify.InputVoltage, want: 228},
		{channel: classify.OutputVoltage, want: 230},
		{channel: classify.Current, want: 30},
		{channel: classify.BatteryVoltage, want: 13.7},
		{channel: classify.PowerDraw, want: 690},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(c.channelValue.WithLabelValues(string(tt.channel))); got != tt.want {
			t.Errorf("channel_value{%s} = %v, want %v", tt.channel, got, tt.want)
		}
	}

	if got := testutil.ToFloat64(c.channelStatus.WithLabelValues(string(classify.InputVoltage))); got != float64(classify.Nominal) {
		t.Errorf("channel_status{input_voltage} = %v, want 0", got)
	}
	if got := testutil.ToFloat64(c.onBattery); got != 0 {
		t.Errorf("on_battery = %v, want 0", got)
	}
}

func Test_Collector_Publish_OnBatteryCritical(t *testing.T) {
	c := NewCollector()
	c.Publish(testSnapshot([8]uint8{0, 0, 1}, 11))

	if got := testutil.ToFloat64(c.onBattery); got != 1 {
		t.Errorf("on_battery = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.channelStatus.WithLabelValues(string(classify.BatteryVoltage))); got != float64(classify.Critical) {
		t.Errorf("channel_status{battery_voltage} = %v, want 2", got)
	}
}

func Test_Collector_StateChanged_CountsEpochsOnce(t *testing.T) {
	c := NewCollector()

	steps := []struct {
		state monitor.State
		epoch uint64
	}{
		{monitor.StateConnecting, 0},
		{monitor.StatePolling, 1},
		{monitor.StateDisconnected, 1},
		{monitor.StateConnecting, 1},
		{monitor.StatePolling, 2},
	}
	for _, s := range steps {
		c.StateChanged(s.state, s.epoch)
	}

	if got := testutil.ToFloat64(c.epochs); got != 2 {
		t.Errorf("epochs_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.connected); got != 1 {
		t.Errorf("connected = %v, want 1", got)
	}

	c.StateChanged(monitor.StateDisconnected, 2)
	if got := testutil.ToFloat64(c.connected); got != 0 {
		t.Errorf("connected after disconnect = %v, want 0", got)
	}
}

func Test_Collector_Counters(t *testing.T) {
	c := NewCollector()
	c.FrameDiscarded(40)
	c.FrameDiscarded(12)
	c.ShutdownIntent(command.ShutdownIntent{Source: command.SourceWatchdog})
	c.ShutdownIntent(command.ShutdownIntent{Source: command.SourceWatchdog})
	c.ShutdownIntent(command.ShutdownIntent{Source: command.SourceMCP})

	if got := testutil.ToFloat64(c.framesDiscarded); got != 2 {
		t.Errorf("frames_discarded_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.shutdownIntents.WithLabelValues(command.SourceWatchdog)); got != 2 {
		t.Errorf("shutdown_intents_total{watchdog} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.shutdownIntents.WithLabelValues(command.SourceMCP)); got != 1 {
		t.Errorf("shutdown_intents_total{mcp} = %v, want 1", got)
	}
}

func Test_Collector_Handler_Exposition(t *testing.T) {
	c := NewCollector()
	c.Publish(testSnapshot([8]uint8{0, 0, 0, 0, 1}, 13.7))
	c.StateChanged(monitor.StatePolling, 1)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`upsmon_channel_value{channel="battery_voltage"} 13.7`,
		`upsmon_connected 1`,
		`upsmon_epochs_total 1`,
		`go_goroutines`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
