//go:build !cgo

package hid

import (
	"errors"
	"fmt"
)

var _ Opener = (*HIDOpener)(nil)

// ErrHIDAPINotCompiled is returned by every device operation when the binary
// was built without cgo.
var ErrHIDAPINotCompiled = errors.New("hidapi support not compiled: rebuild with CGO_ENABLED=1")

// HIDOpener is the hidapi opener. This stub is compiled when cgo is disabled.
type HIDOpener struct {
	id Identity
}

// NewHIDOpener returns a stub opener whose Open always fails.
func NewHIDOpener(id Identity) *HIDOpener {
	return &HIDOpener{id: id}
}

// Open always returns an error wrapping ErrNotFound and ErrHIDAPINotCompiled.
func (o *HIDOpener) Open() (Session, error) {
	return nil, fmt.Errorf("%w: %s: %w", ErrNotFound, o.id, ErrHIDAPINotCompiled)
}

// Enumerate always returns ErrHIDAPINotCompiled.
func Enumerate(_, _ uint16) ([]DeviceInfo, error) {
	return nil, ErrHIDAPINotCompiled
}
