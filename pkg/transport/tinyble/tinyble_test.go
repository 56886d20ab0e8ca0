package tinyble

import (
	"testing"

	"tinygo.org/x/bluetooth"
)

func TestConnectionTracking(t *testing.T) {
	tr := New()
	if tr.adapter != bluetooth.DefaultAdapter {
		t.Fatalf("unexpected default adapter")
	}

	conn := &Conn{
		transport: tr,
		address:   "AA:BB:CC:DD:EE:FF",
		connected: true,
	}
	tr.conns["aa:bb:cc:dd:ee:ff"] = conn

	tr.onConnectionChange(bluetooth.Device{}, true)
	if !conn.IsConnected() {
		t.Fatalf("connection unexpectedly marked as lost")
	}

	// Events for other peripherals must not affect the tracked connection
	tr.onConnectionChange(bluetooth.Device{}, false)
	if !conn.IsConnected() {
		t.Fatalf("connection marked as lost by event of a different peripheral")
	}
}
