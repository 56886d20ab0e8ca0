// Package tinyble implements the scale transport on top of tinygo.org/x/bluetooth
// (BlueZ on Linux, CoreBluetooth on macOS, WinRT on Windows)
package tinyble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mukowman/ha-ble-senssun-scale/pkg/scale"
	"github.com/mukowman/ha-ble-senssun-scale/pkg/transport"
	"tinygo.org/x/bluetooth"
)

var _ transport.Transport = (*Transport)(nil)

type connectResult struct {
	device bluetooth.Device
	err    error
}

// Transport denotes a BLE central backed by a tinygo bluetooth adapter
type Transport struct {
	adapter *bluetooth.Adapter
	logger  scale.Logger

	enableOnce sync.Once
	enableErr  error

	mu    sync.Mutex
	conns map[string]*Conn
}

// New instantiates a new Transport, executing functional options, if any
func New(options ...func(*Transport)) *Transport {
	t := &Transport{
		adapter: bluetooth.DefaultAdapter,
		logger:  &scale.NullLogger{},
		conns:   make(map[string]*Conn),
	}

	for _, option := range options {
		option(t)
	}

	return t
}

// WithAdapter sets the Bluetooth adapter
func WithAdapter(adapter *bluetooth.Adapter) func(*Transport) {
	return func(t *Transport) {
		t.adapter = adapter
	}
}

// WithLogger sets a logger
func WithLogger(logger scale.Logger) func(*Transport) {
	return func(t *Transport) {
		t.logger = logger
	}
}

// Connect connects to the peripheral with the given address (MAC on Linux / Windows,
// UUID on macOS)
func (t *Transport) Connect(ctx context.Context, address string, timeout time.Duration) (transport.Conn, error) {

	if err := t.enable(); err != nil {
		return nil, err
	}

	var addr bluetooth.Address
	addr.Set(address)

	// The adapter blocks internally, wrap it so the context is honored as well
	ch := make(chan connectResult, 1)
	go func() {
		device, err := t.adapter.Connect(addr, bluetooth.ConnectionParams{
			ConnectionTimeout: bluetooth.NewDuration(timeout),
		})
		ch <- connectResult{device, err}
	}()

	attempt := time.NewTimer(timeout)
	defer attempt.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", address, res.err)
		}

		conn := &Conn{
			transport: t,
			address:   address,
			device:    res.device,
			connected: true,
		}
		t.mu.Lock()
		t.conns[strings.ToLower(address)] = conn
		t.mu.Unlock()

		return conn, nil

	case <-attempt.C:
		go t.release(ch)
		return nil, fmt.Errorf("connecting to %s: %w", address, context.DeadlineExceeded)

	case <-ctx.Done():
		go t.release(ch)
		return nil, fmt.Errorf("connecting to %s: %w", address, ctx.Err())
	}
}

////////////////////////////////////////////////////////////////////////////////

func (t *Transport) enable() error {
	t.enableOnce.Do(func() {
		if err := t.adapter.Enable(); err != nil {
			t.enableErr = fmt.Errorf("failed to enable bluetooth adapter: %w", err)
			return
		}
		t.adapter.SetConnectHandler(t.onConnectionChange)
	})

	return t.enableErr
}

func (t *Transport) onConnectionChange(device bluetooth.Device, connected bool) {
	if connected {
		return
	}

	t.mu.Lock()
	conn, ok := t.conns[strings.ToLower(device.Address.String())]
	t.mu.Unlock()

	if ok {
		t.logger.Debugf("peripheral `%s` disconnected", conn.address)
		conn.setConnected(false)
	}
}

// release closes a connection that was established after its caller gave up waiting
func (t *Transport) release(ch <-chan connectResult) {
	res := <-ch
	if res.err != nil {
		return
	}
	if err := res.device.Disconnect(); err != nil {
		t.logger.Warnf("failed to release late connection: %s", err)
	}
}

////////////////////////////////////////////////////////////////////////////////

// Conn denotes a connection to a peripheral
type Conn struct {
	transport *Transport
	address   string
	device    bluetooth.Device

	mu        sync.Mutex
	connected bool
}

// Subscribe enables notifications on the given characteristic
func (c *Conn) Subscribe(characteristic string, fn func(data []byte)) error {

	services, err := c.device.DiscoverServices(nil)
	if err != nil {
		return fmt.Errorf("could not discover services: %w", err)
	}

	for _, service := range services {
		chars, err := service.DiscoverCharacteristics(nil)
		if err != nil {
			return fmt.Errorf("could not discover characteristics: %w", err)
		}

		for _, char := range chars {
			if !transport.SameUUID(char.UUID().String(), characteristic) {
				continue
			}
			if err := char.EnableNotifications(fn); err != nil {
				return fmt.Errorf("failed to enable notifications: %w", err)
			}
			return nil
		}
	}

	return fmt.Errorf("%w: %s", transport.ErrCharacteristicNotFound, characteristic)
}

// Disconnect closes the connection to the peripheral
func (c *Conn) Disconnect() error {
	c.setConnected(false)

	c.transport.mu.Lock()
	delete(c.transport.conns, strings.ToLower(c.address))
	c.transport.mu.Unlock()

	return c.device.Disconnect()
}

// IsConnected returns if the link to the peripheral is still up
func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connected
}

func (c *Conn) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = connected
}
