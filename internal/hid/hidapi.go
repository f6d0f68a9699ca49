//go:build cgo

package hid

import (
	"fmt"
	"sync"

	gohid "github.com/sstallion/go-hid"
)

// Compile-time interface checks.
var (
	_ Opener  = (*HIDOpener)(nil)
	_ Session = (*deviceSession)(nil)
)

var (
	initOnce sync.Once
	initErr  error
)

func initHIDAPI() error {
	initOnce.Do(func() {
		initErr = gohid.Init()
	})
	return initErr
}

// HIDOpener opens sessions through hidapi.
type HIDOpener struct {
	id Identity
}

// NewHIDOpener returns an Opener for the device described by id.
func NewHIDOpener(id Identity) *HIDOpener {
	return &HIDOpener{id: id}
}

// Open opens a new session. Failure to find or open the device wraps
// ErrNotFound.
func (o *HIDOpener) Open() (Session, error) {
	if err := initHIDAPI(); err != nil {
		return nil, fmt.Errorf("hidapi init: %w", err)
	}

	var (
		dev *gohid.Device
		err error
	)
	if o.id.Path != "" {
		dev, err = gohid.OpenPath(o.id.Path)
	} else {
		dev, err = gohid.OpenFirst(o.id.VendorID, o.id.ProductID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, o.id, err)
	}
	return &deviceSession{dev: dev}, nil
}

type deviceSession struct {
	dev *gohid.Device
}

func (s *deviceSession) GetIndexedString(index int) (string, error) {
	str, err := s.dev.GetIndexedStr(index)
	if err != nil {
		return "", fmt.Errorf("read indexed string %d: %w", index, err)
	}
	return str, nil
}

func (s *deviceSession) Close() error {
	return s.dev.Close()
}

// Enumerate lists the HID devices matching vendorID and productID. Zero
// matches any.
func Enumerate(vendorID, productID uint16) ([]DeviceInfo, error) {
	if err := initHIDAPI(); err != nil {
		return nil, fmt.Errorf("hidapi init: %w", err)
	}

	var out []DeviceInfo
	err := gohid.Enumerate(vendorID, productID, func(info *gohid.DeviceInfo) error {
		out = append(out, DeviceInfo{
			Path:         info.Path,
			VendorID:     info.VendorID,
			ProductID:    info.ProductID,
			Manufacturer: info.MfrStr,
			Product:      info.ProductStr,
			Serial:       info.SerialNbr,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enumerate hid devices: %w", err)
	}
	return out, nil
}
