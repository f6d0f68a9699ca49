// Package protocol decodes the indexed-string reports exposed by the UPS HID
// interface. Decoding is pure: no device I/O happens here.
package protocol

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// Indexed-string slots used by the device. Command slots are triggered by
// reading them; the returned string is ignored.
const (
	IndexTelemetry       = 3
	IndexSelfTest        = 4
	IndexSwitchToBattery = 5
	IndexSwitchToMains   = 20
	IndexShutdown        = 24
	IndexReference       = 29
)

// Exact frame lengths. Anything else is a malformed frame.
const (
	TelemetryFrameLen = 47
	ReferenceFrameLen = 22
)

// Byte windows inside a frame. Upper bounds are exclusive.
const (
	telemetryDataStart  = 1
	telemetryDataEnd    = 32
	telemetryFlagsStart = 38
	telemetryFlagsEnd   = 46

	referenceDataStart = 1
	referenceDataEnd   = 21
)

// ErrMalformedFrame is returned by callers that need an error value for a
// frame whose length does not match the protocol.
var ErrMalformedFrame = errors.New("malformed frame")

// Field names reported in TelemetryRecord.Degraded.
const (
	FieldInputVoltage        = "input_voltage"
	FieldOutputVoltageNeeded = "output_voltage_needed"
	FieldOutputVoltage       = "output_voltage"
	FieldCurrent             = "current"
	FieldFrequency           = "frequency"
	FieldBatteryVoltage      = "battery_voltage"
)

var telemetryFields = [...]string{
	FieldInputVoltage,
	FieldOutputVoltageNeeded,
	FieldOutputVoltage,
	FieldCurrent,
	FieldFrequency,
	FieldBatteryVoltage,
}

// TelemetryRecord is one decoded telemetry frame.
type TelemetryRecord struct {
	InputVoltage        float64 `json:"input_voltage"`
	OutputVoltageNeeded float64 `json:"output_voltage_needed"`
	OutputVoltage       float64 `json:"output_voltage"`
	// Current is reported by the device in deciamps.
	Current        float64  `json:"current"`
	Frequency      float64  `json:"frequency"`
	BatteryVoltage float64  `json:"battery_voltage"`
	Flags          [8]uint8 `json:"flags"`
	// Degraded lists the fields that failed to parse and were zeroed.
	Degraded []string `json:"degraded,omitempty"`
}

// OnMains reports flag 0, set while the UPS is on mains and charging.
func (r TelemetryRecord) OnMains() bool { return r.Flags[0] == 1 }

// BatteryEngaged reports flag 2.
func (r TelemetryRecord) BatteryEngaged() bool { return r.Flags[2] == 1 }

// OnBattery reports whether the UPS is running on alternate power. Firmware
// revisions disagree on which of flag 0 and flag 2 carries this, so either
// one being set counts.
func (r TelemetryRecord) OnBattery() bool { return r.OnMains() || r.BatteryEngaged() }

// CurrentAmps returns the current converted from deciamps.
func (r TelemetryRecord) CurrentAmps() float64 { return r.Current / 10 }

// PowerDraw is the derived load in watts: round(current × output voltage) / 10.
func (r TelemetryRecord) PowerDraw() float64 {
	return math.Round(r.Current*r.OutputVoltage) / 10
}

// ReferenceProfile holds the nominal values telemetry is compared against.
type ReferenceProfile struct {
	Voltage        float64 `json:"voltage" yaml:"voltage"`
	Current        float64 `json:"current" yaml:"current"`
	BatteryVoltage float64 `json:"battery_voltage" yaml:"battery_voltage"`
	Frequency      float64 `json:"frequency" yaml:"frequency"`
}

// PowerBasis selects the reference field multiplied by the reference current
// to obtain the expected power draw.
type PowerBasis string

const (
	// PowerBasisFrequency is current × frequency, the formula the device
	// vendor's software uses and the one the power bands are calibrated for.
	PowerBasisFrequency PowerBasis = "frequency"
	// PowerBasisVoltage is current × voltage, the same derivation as
	// TelemetryRecord.PowerDraw.
	PowerBasisVoltage PowerBasis = "voltage"
)

// Valid reports whether b is a known basis. The empty basis is valid and
// means PowerBasisFrequency.
func (b PowerBasis) Valid() bool {
	switch b {
	case "", PowerBasisFrequency, PowerBasisVoltage:
		return true
	default:
		return false
	}
}

// ExpectedPowerDraw is the nominal load: round(current × basis field) / 10.
// Unknown and empty bases use PowerBasisFrequency.
func (p ReferenceProfile) ExpectedPowerDraw(basis PowerBasis) float64 {
	factor := p.Frequency
	if basis == PowerBasisVoltage {
		factor = p.Voltage
	}
	return math.Round(p.Current*factor) / 10
}

// DecodeTelemetry decodes a telemetry frame. ok is false when raw is not
// exactly TelemetryFrameLen bytes long. Numeric fields that fail to parse
// are zeroed and named in Degraded rather than failing the whole record.
func DecodeTelemetry(raw string) (rec TelemetryRecord, ok bool) {
	if len(raw) != TelemetryFrameLen {
		return TelemetryRecord{}, false
	}

	values, failed := parseFields(raw[telemetryDataStart:telemetryDataEnd], len(telemetryFields))
	rec.InputVoltage = values[0]
	rec.OutputVoltageNeeded = values[1]
	rec.OutputVoltage = values[2]
	rec.Current = values[3]
	rec.Frequency = values[4]
	rec.BatteryVoltage = values[5]
	for _, i := range failed {
		rec.Degraded = append(rec.Degraded, telemetryFields[i])
	}

	rec.Flags = parseFlags(raw[telemetryFlagsStart:telemetryFlagsEnd])
	return rec, true
}

// DecodeReference decodes a reference profile frame. ok is false when raw is
// not exactly ReferenceFrameLen bytes long.
func DecodeReference(raw string) (ReferenceProfile, bool) {
	if len(raw) != ReferenceFrameLen {
		return ReferenceProfile{}, false
	}

	values, _ := parseFields(raw[referenceDataStart:referenceDataEnd], 4)
	return ReferenceProfile{
		Voltage:        values[0],
		Current:        values[1],
		BatteryVoltage: values[2],
		Frequency:      values[3],
	}, true
}

// parseFields splits s on single spaces and parses the first n fields. A
// field that is missing or not a number yields 0 and its index is returned
// in failed.
func parseFields(s string, n int) (values []float64, failed []int) {
	parts := strings.Split(s, " ")
	values = make([]float64, n)
	for i := 0; i < n; i++ {
		if i >= len(parts) {
			failed = append(failed, i)
			continue
		}
		v, err := strconv.ParseFloat(parts[i], 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			failed = append(failed, i)
			continue
		}
		values[i] = v
	}
	return values, failed
}

// parseFlags reads each byte as an independent digit. Non-digits read as 0.
func parseFlags(s string) [8]uint8 {
	var flags [8]uint8
	for i := 0; i < len(s) && i < len(flags); i++ {
		if c := s[i]; c >= '0' && c <= '9' {
			flags[i] = c - '0'
		}
	}
	return flags
}
