// Package transport defines the capabilities a BLE stack must provide to drive a scale
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// bluetoothBaseUUID is the Bluetooth SIG base UUID that 16 / 32 bit short forms expand into
const bluetoothBaseUUID = "-0000-1000-8000-00805f9b34fb"

// ErrCharacteristicNotFound is returned if a connected peripheral does not expose a characteristic
var ErrCharacteristicNotFound = errors.New("characteristic not found")

// Transport denotes a BLE stack able to open connections to a peripheral
type Transport interface {

	// Connect opens a connection to the peripheral with the given address. The timeout bounds
	// the link establishment itself, the context bounds the whole operation
	Connect(ctx context.Context, address string, timeout time.Duration) (Conn, error)
}

// Conn denotes a live connection handle to a peripheral
type Conn interface {

	// Subscribe enables notifications on the given characteristic, invoking fn for each of them
	Subscribe(characteristic string, fn func(data []byte)) error

	// Disconnect closes the connection
	Disconnect() error

	// IsConnected returns if the link is still up
	IsConnected() bool
}

// NormalizeUUID expands short 16 / 32 bit UUIDs to their 128 bit form and returns the
// canonical lower case representation
func NormalizeUUID(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch len(s) {
	case 4:
		s = "0000" + s + bluetoothBaseUUID
	case 8:
		s = s + bluetoothBaseUUID
	}

	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid characteristic UUID `%s`: %w", s, err)
	}

	return id.String(), nil
}

// SameUUID returns if two UUIDs (short or long form) denote the same characteristic
func SameUUID(a, b string) bool {
	na, err := NormalizeUUID(a)
	if err != nil {
		return false
	}
	nb, err := NormalizeUUID(b)
	if err != nil {
		return false
	}
	return na == nb
}
