// Package reference provides the nominal profile that telemetry is
// classified against.
package reference

import (
	"context"
	"fmt"

	"github.com/jamesprial/upsmon/internal/hid"
	"github.com/jamesprial/upsmon/internal/protocol"
)

// Source kinds accepted by New.
const (
	KindDevice = "device"
	KindStatic = "static"
)

// Source yields the reference profile for a monitoring epoch.
type Source interface {
	Reference(ctx context.Context, sess hid.Session) (protocol.ReferenceProfile, error)
}

// Compile-time interface checks.
var (
	_ Source = Device{}
	_ Source = Static{}
)

// Device reads the profile from the device's reference index.
type Device struct {
	Index int
}

// Reference reads and decodes the reference frame. A frame of the wrong
// length yields an error wrapping protocol.ErrMalformedFrame.
func (d Device) Reference(ctx context.Context, sess hid.Session) (protocol.ReferenceProfile, error) {
	if err := ctx.Err(); err != nil {
		return protocol.ReferenceProfile{}, fmt.Errorf("read reference: %w", err)
	}

	idx := d.Index
	if idx == 0 {
		idx = protocol.IndexReference
	}

	raw, err := sess.GetIndexedString(idx)
	if err != nil {
		return protocol.ReferenceProfile{}, fmt.Errorf("read reference: %w", err)
	}

	profile, ok := protocol.DecodeReference(raw)
	if !ok {
		return protocol.ReferenceProfile{}, fmt.Errorf("read reference: frame length %d, want %d: %w",
			len(raw), protocol.ReferenceFrameLen, protocol.ErrMalformedFrame)
	}
	return profile, nil
}

// Static returns a fixed profile and never touches the device.
type Static struct {
	Profile protocol.ReferenceProfile
}

// Reference returns s.Profile.
func (s Static) Reference(ctx context.Context, _ hid.Session) (protocol.ReferenceProfile, error) {
	if err := ctx.Err(); err != nil {
		return protocol.ReferenceProfile{}, fmt.Errorf("read reference: %w", err)
	}
	return s.Profile, nil
}

// New returns the Source selected by kind. An empty kind selects the device.
func New(kind string, index int, static protocol.ReferenceProfile) (Source, error) {
	switch kind {
	case "", KindDevice:
		return Device{Index: index}, nil
	case KindStatic:
		return Static{Profile: static}, nil
	default:
		return nil, fmt.Errorf("unknown reference source %q", kind)
	}
}
