// Package host wires configuration, logging, transport and the scale manager together
// the way the command line tools need them
package host

import (
	"context"
	"fmt"
	"time"

	"github.com/mukowman/ha-ble-senssun-scale/pkg/config"
	"github.com/mukowman/ha-ble-senssun-scale/pkg/mock"
	"github.com/mukowman/ha-ble-senssun-scale/pkg/scale"
	"github.com/mukowman/ha-ble-senssun-scale/pkg/senssun"
	"github.com/mukowman/ha-ble-senssun-scale/pkg/transport"
	"github.com/mukowman/ha-ble-senssun-scale/pkg/transport/gattble"
	"github.com/mukowman/ha-ble-senssun-scale/pkg/transport/tinyble"
)

const (
	mockAddress      = "00:00:00:00:00:00"
	mockInterval     = time.Second
	mockWeightRaw    = 724
	mockConnectDelay = 250 * time.Millisecond
)

// NewLogger instantiates the logger described by the configuration
func NewLogger(cfg config.LogConfig) scale.Logger {
	if cfg.File != "" {
		return scale.NewFileLogger(cfg.File, cfg.Debug, scale.FileOptions{
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
		})
	}
	return scale.NewDefaultLogger(cfg.Debug)
}

// NewTransport instantiates the transport selected by the configuration
func NewTransport(cfg *config.Config, logger scale.Logger) (transport.Transport, error) {
	switch cfg.Transport {
	case config.TransportGatt:
		t, err := gattble.New(gattble.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize gatt device: %w", err)
		}
		return t, nil
	case config.TransportBluetooth:
		return tinyble.New(tinyble.WithLogger(logger)), nil
	case config.TransportMock:
		return mock.New(mock.WithConnectDelay(mockConnectDelay)), nil
	default:
		return nil, fmt.Errorf("unsupported transport `%s`", cfg.Transport)
	}
}

// NewManager instantiates a scale manager from the configuration
func NewManager(cfg *config.Config, logger scale.Logger) (*senssun.Manager, error) {
	t, err := NewTransport(cfg, logger)
	if err != nil {
		return nil, err
	}

	address := cfg.Address
	if address == "" && cfg.Transport == config.TransportMock {
		address = mockAddress
	}

	m, err := senssun.New(address,
		senssun.WithTransport(t),
		senssun.WithLogger(logger),
		senssun.WithName(cfg.Name),
		senssun.WithConnectTimeout(cfg.ConnectTimeout),
		senssun.WithOverallConnectTimeout(cfg.OverallConnectTimeout),
		senssun.WithIdleDisconnectDelay(cfg.IdleDisconnectDelay),
		senssun.WithRetryInterval(cfg.RetryInterval),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Senssun scale: %w", err)
	}

	// A mock scale starts sending data as soon as it is connected
	if mt, ok := t.(*mock.Transport); ok {
		m.SetStateChangeHandler(func(status scale.ConnectionStatus) {
			if status.State != scale.StateConnected {
				return
			}
			if conn := mt.Conn(); conn != nil {
				go conn.Simulate(context.Background(), mockInterval, mockWeightRaw)
			}
		})
	}

	return m, nil
}
