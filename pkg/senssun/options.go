package senssun

import (
	"time"

	"github.com/mukowman/ha-ble-senssun-scale/pkg/scale"
	"github.com/mukowman/ha-ble-senssun-scale/pkg/transport"
)

// WithTransport sets the Bluetooth transport used to reach the scale
func WithTransport(t transport.Transport) func(*Manager) {
	return func(m *Manager) {
		m.transport = t
	}
}

// WithLogger sets a logger
func WithLogger(logger scale.Logger) func(*Manager) {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithName overrides the sensor name reported to the host
func WithName(name string) func(*Manager) {
	return func(m *Manager) {
		m.name = name
	}
}

// WithConnectTimeout sets the timeout of a single connection attempt
func WithConnectTimeout(d time.Duration) func(*Manager) {
	return func(m *Manager) {
		m.cfg.ConnectTimeout = d
	}
}

// WithOverallConnectTimeout sets the timeout of the complete connect sequence
func WithOverallConnectTimeout(d time.Duration) func(*Manager) {
	return func(m *Manager) {
		m.cfg.OverallConnectTimeout = d
	}
}

// WithIdleDisconnectDelay sets the time without notifications after which the connection is closed
func WithIdleDisconnectDelay(d time.Duration) func(*Manager) {
	return func(m *Manager) {
		m.cfg.IdleDisconnectDelay = d
	}
}

// WithRetryInterval sets the delay before a failed connection is retried
func WithRetryInterval(d time.Duration) func(*Manager) {
	return func(m *Manager) {
		m.cfg.RetryInterval = d
	}
}
