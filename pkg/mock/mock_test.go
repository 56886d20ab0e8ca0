package mock

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func TestPayload(t *testing.T) {
	expected := []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0x01, 0x00, 0x05, 0x00, 0x00, 0xA0}
	if res := Payload(5, true); !bytes.Equal(res, expected) {
		t.Fatalf("unexpected payload: want %x, have %x", expected, res)
	}
	if res := Payload(5, false); res[14] != 0 {
		t.Fatalf("unexpected control byte for unstable payload: %#x", res[14])
	}
}

func TestConnectAndNotify(t *testing.T) {
	tr := New(WithAddress("AA:BB"))

	if _, err := tr.Connect(context.Background(), "CC:DD", time.Second); err == nil {
		t.Fatalf("unexpected success connecting to wrong address")
	}

	conn, err := tr.Connect(context.Background(), "AA:BB", time.Second)
	if err != nil {
		t.Fatalf("failed to connect: %s", err)
	}

	var received []byte
	if err := conn.Subscribe("0000fff1-0000-1000-8000-00805f9b34fb", func(data []byte) {
		received = data
	}); err != nil {
		t.Fatalf("failed to subscribe: %s", err)
	}
	if err := conn.Subscribe("ffb1", func([]byte) {}); err == nil {
		t.Fatalf("unexpected success subscribing to unknown characteristic")
	}

	if !tr.Conn().NotifyWeight(7, true) {
		t.Fatalf("expected notification to be delivered")
	}
	if !bytes.Equal(received, Payload(7, true)) {
		t.Fatalf("unexpected payload received: %x", received)
	}

	if err := conn.Disconnect(); err != nil {
		t.Fatalf("failed to disconnect: %s", err)
	}
	if conn.IsConnected() || tr.Conn().Notify([]byte{1}) {
		t.Fatalf("expected connection to be closed")
	}
	if tr.Connects() != 2 || tr.Disconnects() != 1 {
		t.Fatalf("unexpected counters: %d connects, %d disconnects", tr.Connects(), tr.Disconnects())
	}
}

func TestFailNext(t *testing.T) {
	tr := New()
	tr.FailNext(2, nil)

	for i := 0; i < 2; i++ {
		if _, err := tr.Connect(context.Background(), "AA", time.Second); !errors.Is(err, ErrConnectFailed) {
			t.Fatalf("expected failure on attempt %d, got %v", i, err)
		}
	}
	if _, err := tr.Connect(context.Background(), "AA", time.Second); err != nil {
		t.Fatalf("unexpected failure: %s", err)
	}
}

func TestConnectTimeout(t *testing.T) {
	tr := New(WithConnectDelay(time.Second))

	if _, err := tr.Connect(context.Background(), "AA", 10*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := tr.Connect(ctx, "AA", time.Minute); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}
