// Package gattble implements the scale transport on top of the gatt BLE central stack
package gattble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fako1024/gatt"
	"github.com/mukowman/ha-ble-senssun-scale/pkg/scale"
	"github.com/mukowman/ha-ble-senssun-scale/pkg/transport"
)

const btSettleDelay = 100 * time.Millisecond

// ErrConnectInProgress is returned if a connection attempt is started while another one is running
var ErrConnectInProgress = errors.New("connection attempt already in progress")

var _ transport.Transport = (*Transport)(nil)

type connectResult struct {
	conn *Conn
	err  error
}

type pendingConnect struct {
	address    string
	discovered chan gatt.Peripheral
	result     chan connectResult
}

// Transport denotes a gatt based BLE central
type Transport struct {
	btDevice gatt.Device
	logger   scale.Logger

	poweredOn     chan struct{}
	poweredOnOnce sync.Once

	mu      sync.Mutex
	pending *pendingConnect
	conns   map[string]*Conn
}

// New instantiates a new gatt Transport, executing functional options, if any
func New(options ...func(*Transport)) (*Transport, error) {

	t := &Transport{
		logger:    &scale.NullLogger{},
		poweredOn: make(chan struct{}),
		conns:     make(map[string]*Conn),
	}

	for _, option := range options {
		option(t)
	}

	// Initialize a new GATT device (if not provided as option)
	if t.btDevice == nil {
		btDevice, err := gatt.NewDevice(defaultBTClientOptions...)
		if err != nil {
			return nil, err
		}
		t.btDevice = btDevice
	}

	// Register handlers
	t.btDevice.Handle(
		gatt.AddPeripheralDiscovered(t.onPeriphDiscovered),
		gatt.AddPeripheralConnected(t.onPeriphConnected),
		gatt.AddPeripheralDisconnected(t.onPeriphDisconnected),
	)

	// Initialize the device
	if err := t.btDevice.Init(t.onStateChanged); err != nil {
		return nil, err
	}

	return t, nil
}

// WithDevice sets the Bluetooth device
func WithDevice(btDevice gatt.Device) func(*Transport) {
	return func(t *Transport) {
		t.btDevice = btDevice
	}
}

// WithLogger sets a logger
func WithLogger(logger scale.Logger) func(*Transport) {
	return func(t *Transport) {
		t.logger = logger
	}
}

// Connect scans for the peripheral with the given ID (MAC on Linux, UUID on OS X) and
// connects to it, discovering all of its characteristics
func (t *Transport) Connect(ctx context.Context, address string, timeout time.Duration) (transport.Conn, error) {

	select {
	case <-t.poweredOn:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for bluetooth device to power on: %w", ctx.Err())
	}

	pending := &pendingConnect{
		address:    address,
		discovered: make(chan gatt.Peripheral, 1),
		result:     make(chan connectResult, 1),
	}

	t.mu.Lock()
	if t.pending != nil {
		t.mu.Unlock()
		return nil, ErrConnectInProgress
	}
	t.pending = pending
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.pending = nil
		t.mu.Unlock()
	}()

	if err := t.btDevice.Scan([]gatt.UUID{}, false); err != nil {
		return nil, fmt.Errorf("failed to start scanning: %w", err)
	}

	var p gatt.Peripheral
	select {
	case p = <-pending.discovered:
	case <-ctx.Done():
		if err := t.btDevice.StopScanning(); err != nil {
			t.logger.Warnf("failed to stop scanning: %s", err)
		}
		return nil, fmt.Errorf("scanning for %s: %w", address, ctx.Err())
	}

	t.logger.Debugf("connecting device `%s/%s`", p.Name(), p.ID())

	if err := t.btDevice.Connect(p); err != nil {
		return nil, fmt.Errorf("failed to connect device `%s`: %w", p.ID(), err)
	}

	attempt := time.NewTimer(timeout)
	defer attempt.Stop()

	select {
	case res := <-pending.result:
		if res.err != nil {
			return nil, res.err
		}
		return res.conn, nil
	case <-attempt.C:
		t.cancelConnection(p)
		return nil, fmt.Errorf("connecting to %s: %w", address, context.DeadlineExceeded)
	case <-ctx.Done():
		t.cancelConnection(p)
		return nil, fmt.Errorf("connecting to %s: %w", address, ctx.Err())
	}
}

////////////////////////////////////////////////////////////////////////////////

func (t *Transport) onStateChanged(d gatt.Device, s gatt.State) {
	switch s {
	case gatt.StatePoweredOn:
		t.logger.Debugf("bluetooth device powered on")
		t.poweredOnOnce.Do(func() {
			close(t.poweredOn)
		})
		return
	case gatt.StatePoweredOff:
		t.mu.Lock()
		for _, conn := range t.conns {
			conn.setConnected(false)
		}
		t.mu.Unlock()
		return
	default:
		if err := d.StopScanning(); err != nil {
			t.logger.Warnf("failed to stop scanning: %s", err)
		}
	}
}

func (t *Transport) onPeriphDiscovered(p gatt.Peripheral, _ *gatt.Advertisement, _ int) {

	t.logger.Debugf("discovered device `%s/%s`", p.Name(), p.ID())

	t.mu.Lock()
	pending := t.pending
	t.mu.Unlock()

	if pending == nil || !strings.EqualFold(p.ID(), pending.address) {
		return
	}

	// Stop scanning once we've got the peripheral we're looking for
	if err := p.Device().StopScanning(); err != nil {
		t.logger.Warnf("failed to stop scanning: %s", err)
	}

	select {
	case pending.discovered <- p:
	default:
	}
}

func (t *Transport) onPeriphConnected(p gatt.Peripheral, connErr error) {

	t.mu.Lock()
	pending := t.pending
	t.mu.Unlock()

	if pending == nil || !strings.EqualFold(p.ID(), pending.address) {
		return
	}

	t.logger.Debugf("connected peripheral `%s/%s`", p.Name(), p.ID())

	res := connectResult{}
	if connErr != nil {
		res.err = fmt.Errorf("failed to connect peripheral `%s`: %w", p.ID(), connErr)
	} else if chars, err := discoverCharacteristics(p); err != nil {
		t.cancelConnection(p)
		res.err = err
	} else {
		res.conn = &Conn{
			transport:       t,
			btPeripheral:    p,
			characteristics: chars,
			connected:       true,
		}
		t.mu.Lock()
		t.conns[strings.ToLower(p.ID())] = res.conn
		t.mu.Unlock()
	}

	select {
	case pending.result <- res:
	default:
	}
}

func (t *Transport) onPeriphDisconnected(p gatt.Peripheral, err error) {

	t.mu.Lock()
	conn, ok := t.conns[strings.ToLower(p.ID())]
	delete(t.conns, strings.ToLower(p.ID()))
	t.mu.Unlock()

	if ok {
		conn.setConnected(false)
	}

	t.logger.Debugf("disconnected peripheral `%s/%s`: %v", p.Name(), p.ID(), err)
}

func (t *Transport) cancelConnection(p gatt.Peripheral) {
	if err := t.btDevice.CancelConnection(p); err != nil {
		t.logger.Warnf("failed to cancel connection to `%s`: %s", p.ID(), err)
	}
}

func discoverCharacteristics(p gatt.Peripheral) ([]*gatt.Characteristic, error) {

	// Set connection MTU
	if err := p.SetMTU(500); err != nil {
		return nil, fmt.Errorf("failed to set MTU: %w", err)
	}

	// Discover services
	ss, err := p.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to discover services: %w", err)
	}

	var chars []*gatt.Characteristic
	for _, s := range ss {
		cs, err := p.DiscoverCharacteristics(nil, s)
		if err != nil {
			return nil, fmt.Errorf("failed to discover characteristics of service %s: %w", s.UUID(), err)
		}
		chars = append(chars, cs...)
	}

	return chars, nil
}

////////////////////////////////////////////////////////////////////////////////

// Conn denotes a gatt connection to a peripheral
type Conn struct {
	transport       *Transport
	btPeripheral    gatt.Peripheral
	characteristics []*gatt.Characteristic

	mu        sync.Mutex
	connected bool
}

// Subscribe enables notifications on the given characteristic
func (c *Conn) Subscribe(characteristic string, fn func(data []byte)) error {

	for _, char := range c.characteristics {
		if !transport.SameUUID(char.UUID().String(), characteristic) {
			continue
		}

		// Discover descriptors (required for the client characteristic configuration)
		if _, err := c.btPeripheral.DiscoverDescriptors(nil, char); err != nil {
			return fmt.Errorf("failed to discover descriptors: %w", err)
		}

		return c.btPeripheral.SetNotifyValue(char, func(_ *gatt.Characteristic, data []byte, err error) {
			if err != nil {
				c.transport.logger.Warnf("error on notification from `%s`: %s", c.btPeripheral.ID(), err)
				return
			}
			fn(data)
		})
	}

	return fmt.Errorf("%w: %s", transport.ErrCharacteristicNotFound, characteristic)
}

// Disconnect closes the connection to the peripheral
func (c *Conn) Disconnect() error {
	c.setConnected(false)

	c.transport.mu.Lock()
	delete(c.transport.conns, strings.ToLower(c.btPeripheral.ID()))
	c.transport.mu.Unlock()

	err := c.transport.btDevice.CancelConnection(c.btPeripheral)

	// Give the controller some time to release the link before it is re-used
	time.Sleep(btSettleDelay)

	return err
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
