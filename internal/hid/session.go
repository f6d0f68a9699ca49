// Package hid manages sessions with the UPS HID interface. Every concern that
// talks to the device opens its own Session; sessions are never shared
// between goroutines.
package hid

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// DefaultRetryInterval is the delay between failed open attempts.
const DefaultRetryInterval = 5 * time.Second

// ErrNotFound is returned when no device matches the configured identity.
var ErrNotFound = errors.New("ups device not found")

// Session is an open handle to the device.
type Session interface {
	// GetIndexedString reads the indexed string at index. Command indices
	// trigger their action on read; the returned text is meaningless.
	GetIndexedString(index int) (string, error)
	Close() error
}

// Opener opens new sessions to a single configured device.
type Opener interface {
	Open() (Session, error)
}

// OpenerFunc adapts an ordinary function to the Opener interface.
type OpenerFunc func() (Session, error)

// Open calls f.
func (f OpenerFunc) Open() (Session, error) { return f() }

// Identity selects the device to open. Path takes precedence; otherwise the
// first device matching VendorID and ProductID is used.
type Identity struct {
	Path      string
	VendorID  uint16
	ProductID uint16
}

// String returns a human-readable identity for log lines.
func (id Identity) String() string {
	if id.Path != "" {
		return id.Path
	}
	return fmt.Sprintf("%04x:%04x", id.VendorID, id.ProductID)
}

// DeviceInfo describes an enumerated HID device.
type DeviceInfo struct {
	Path         string `json:"path"`
	VendorID     uint16 `json:"vendor_id"`
	ProductID    uint16 `json:"product_id"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Product      string `json:"product,omitempty"`
	Serial       string `json:"serial,omitempty"`
}

// OpenWithRetry calls opener.Open until it succeeds, sleeping interval
// between attempts. It only returns an error when ctx is done.
func OpenWithRetry(ctx context.Context, opener Opener, interval time.Duration) (Session, error) {
	if interval <= 0 {
		interval = DefaultRetryInterval
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sess, err := opener.Open()
		if err == nil {
			return sess, nil
		}
		if attempt == 1 || attempt%12 == 0 {
			log.Printf("hid: open failed (attempt %d): %v; retrying every %s", attempt, err, interval)
		}

		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}
