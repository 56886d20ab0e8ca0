package host

import (
	"context"
	"testing"
	"time"

	"github.com/mukowman/ha-ble-senssun-scale/pkg/config"
	"github.com/mukowman/ha-ble-senssun-scale/pkg/scale"
	"github.com/mukowman/ha-ble-senssun-scale/pkg/transport/tinyble"
)

func TestNewTransport(t *testing.T) {
	cfg := config.Default()

	cfg.Transport = config.TransportBluetooth
	tr, err := NewTransport(cfg, &scale.NullLogger{})
	if err != nil {
		t.Fatalf("failed to instantiate bluetooth transport: %s", err)
	}
	if _, ok := tr.(*tinyble.Transport); !ok {
		t.Fatalf("unexpected transport type %T", tr)
	}

	cfg.Transport = "serial"
	if _, err := NewTransport(cfg, &scale.NullLogger{}); err == nil {
		t.Fatalf("unexpected success instantiating unknown transport")
	}
}

func TestMockManager(t *testing.T) {
	cfg := config.Default()
	cfg.Transport = config.TransportMock
	cfg.Name = "Bathroom Scale"

	m, err := NewManager(cfg, &scale.NullLogger{})
	if err != nil {
		t.Fatalf("failed to instantiate manager: %s", err)
	}
	defer m.Teardown()

	if m.Name() != "Bathroom Scale" || m.UniqueID() != "ble_scale_"+mockAddress {
		t.Fatalf("unexpected sensor metadata: %s / %s", m.Name(), m.UniqueID())
	}

	if err := m.EnsureConnected(context.Background()); err != nil {
		t.Fatalf("failed to connect to mock scale: %s", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if weight, ok := m.CurrentWeightGrams(); ok {
			if weight != mockWeightRaw*100 {
				t.Fatalf("unexpected weight from mock scale: %d", weight)
			}
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("no stable weight received from mock scale")
}
