// Package classify maps decoded telemetry channels onto a tri-state status
// relative to the reference profile.
package classify

import (
	"fmt"
	"math"

	"github.com/jamesprial/upsmon/internal/protocol"
)

// Status is the classification of a single channel. Higher is worse.
type Status int

const (
	Nominal Status = iota
	Warning
	Critical
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case Nominal:
		return "nominal"
	case Warning:
		return "warning"
	case Critical:
		return "critical"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler so statuses serialise by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "nominal":
		*s = Nominal
	case "warning":
		*s = Warning
	case "critical":
		*s = Critical
	default:
		return fmt.Errorf("unknown status %q", string(b))
	}
	return nil
}

// Channel identifies which comparison policy applies to a value.
type Channel string

const (
	InputVoltage        Channel = "input_voltage"
	OutputVoltageNeeded Channel = "output_voltage_needed"
	OutputVoltage       Channel = "output_voltage"
	Current             Channel = "current"
	Frequency           Channel = "frequency"
	BatteryVoltage      Channel = "battery_voltage"
	PowerDraw           Channel = "power_draw"
)

// Channels lists every classified channel in display order.
var Channels = []Channel{
	InputVoltage,
	OutputVoltageNeeded,
	OutputVoltage,
	Current,
	Frequency,
	BatteryVoltage,
	PowerDraw,
}

// Thresholds holds the calibration bands. Firmware revisions disagree on
// the exact values, so every band is configurable.
type Thresholds struct {
	// Offsets above/below the reference voltage, in volts.
	VoltageWarnAbove     float64 `yaml:"voltage_warn_above" json:"voltage_warn_above"`
	VoltageCriticalAbove float64 `yaml:"voltage_critical_above" json:"voltage_critical_above"`
	VoltageCriticalBelow float64 `yaml:"voltage_critical_below" json:"voltage_critical_below"`

	// Absolute deviation from the reference frequency, in hertz.
	FrequencyTolerance float64 `yaml:"frequency_tolerance" json:"frequency_tolerance"`

	// Allowed current above reference, in amps.
	CurrentMarginAmps float64 `yaml:"current_margin_amps" json:"current_margin_amps"`

	// Absolute battery voltage floors.
	BatteryNominal float64 `yaml:"battery_nominal" json:"battery_nominal"`
	BatteryWarning float64 `yaml:"battery_warning" json:"battery_warning"`

	// Offsets above the expected power draw, in watts.
	PowerWarnAbove     float64 `yaml:"power_warn_above" json:"power_warn_above"`
	PowerCriticalAbove float64 `yaml:"power_critical_above" json:"power_critical_above"`

	// ExpectedPowerBasis picks how the expected draw is derived from the
	// reference profile.
	ExpectedPowerBasis protocol.PowerBasis `yaml:"expected_power_basis" json:"expected_power_basis"`
}

// DefaultThresholds returns the calibration used by the most recent firmware.
func DefaultThresholds() Thresholds {
	return Thresholds{
		VoltageWarnAbove:     20,
		VoltageCriticalAbove: 35,
		VoltageCriticalBelow: 3,
		FrequencyTolerance:   5,
		CurrentMarginAmps:    1.2,
		BatteryNominal:       12.72,
		BatteryWarning:       12,
		PowerWarnAbove:       185,
		PowerCriticalAbove:   385,
		ExpectedPowerBasis:   protocol.PowerBasisFrequency,
	}
}

// Classify returns the status of value for the given channel. It is total:
// every input, including NaN, yields a status.
func Classify(value, reference float64, ch Channel, th Thresholds) Status {
	if math.IsNaN(value) {
		return Critical
	}

	switch ch {
	case InputVoltage, OutputVoltageNeeded, OutputVoltage:
		return classifyVoltage(value, reference, th)
	case Frequency:
		return classifyFrequency(value, reference, th)
	case Current:
		// Values arrive in deciamps; the margin is in amps.
		if value/10 <= reference/10+th.CurrentMarginAmps {
			return Nominal
		}
		return Critical
	case BatteryVoltage:
		switch {
		case value >= th.BatteryNominal:
			return Nominal
		case value >= th.BatteryWarning:
			return Warning
		default:
			return Critical
		}
	case PowerDraw:
		switch {
		case value <= reference+th.PowerWarnAbove:
			return Nominal
		case value <= reference+th.PowerCriticalAbove:
			return Warning
		default:
			return Critical
		}
	default:
		return Critical
	}
}

func classifyVoltage(v, ref float64, th Thresholds) Status {
	switch {
	case v >= ref+th.VoltageCriticalAbove:
		return Critical
	case v >= ref+th.VoltageWarnAbove:
		return Warning
	case v >= ref:
		return Nominal
	case v >= ref-th.VoltageCriticalBelow:
		return Warning
	default:
		return Critical
	}
}

func classifyFrequency(v, ref float64, th Thresholds) Status {
	d := math.Abs(v - ref)
	switch {
	case d == 0:
		return Nominal
	case d < th.FrequencyTolerance:
		return Warning
	default:
		return Critical
	}
}

// Statuses holds one status per channel.
type Statuses map[Channel]Status

// Worst returns the most severe status across all channels.
func (s Statuses) Worst() Status {
	worst := Nominal
	for _, st := range s {
		if st > worst {
			worst = st
		}
	}
	return worst
}

// ClassifyRecord classifies every channel of rec, including the derived
// power draw, against ref.
func ClassifyRecord(rec protocol.TelemetryRecord, ref protocol.ReferenceProfile, th Thresholds) Statuses {
	return Statuses{
		InputVoltage:        Classify(rec.InputVoltage, ref.Voltage, InputVoltage, th),
		OutputVoltageNeeded: Classify(rec.OutputVoltageNeeded, ref.Voltage, OutputVoltageNeeded, th),
		OutputVoltage:       Classify(rec.OutputVoltage, ref.Voltage, OutputVoltage, th),
		Current:             Classify(rec.Current, ref.Current, Current, th),
		Frequency:           Classify(rec.Frequency, ref.Frequency, Frequency, th),
		BatteryVoltage:      Classify(rec.BatteryVoltage, ref.BatteryVoltage, BatteryVoltage, th),
		PowerDraw:           Classify(rec.PowerDraw(), ref.ExpectedPowerDraw(th.ExpectedPowerBasis), PowerDraw, th),
	}
}

// BatteryIndicator summarises the power-source flags as a status: on mains
// and charging is nominal, battery engaged is a warning, neither is critical.
func BatteryIndicator(rec protocol.TelemetryRecord) Status {
	switch {
	case rec.OnMains():
		return Nominal
	case rec.BatteryEngaged():
		return Warning
	default:
		return Critical
	}
}
