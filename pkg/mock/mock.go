// Package mock provides an in-memory bluetooth transport simulating a Senssun scale.
// It is intended for development and testing purposes when a physical scale is not available.
package mock

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mukowman/ha-ble-senssun-scale/pkg/transport"
)

const (
	notifyCharacteristic = "fff1"
	payloadLen           = 15
	stableFlags          = 0xA0
)

// ErrConnectFailed is the default error returned by a connection attempt set up to fail
var ErrConnectFailed = errors.New("mock connection failure")

var _ transport.Transport = (*Transport)(nil)

// Transport denotes a mock bluetooth stack with a single simulated scale
type Transport struct {
	mu sync.Mutex

	address       string
	connectDelay  time.Duration
	failures      int
	connectErr    error
	disconnectErr error
	subscribeErr  error

	connects    int
	disconnects int
	conn        *Conn
}

// New instantiates a new mock Transport, executing functional options, if any
func New(options ...func(*Transport)) *Transport {
	t := &Transport{
		connectErr: ErrConnectFailed,
	}

	for _, option := range options {
		option(t)
	}

	return t
}

// WithAddress restricts successful connections to the given peripheral address
func WithAddress(address string) func(*Transport) {
	return func(t *Transport) {
		t.address = address
	}
}

// WithConnectDelay sets the time a connection attempt takes to complete
func WithConnectDelay(d time.Duration) func(*Transport) {
	return func(t *Transport) {
		t.connectDelay = d
	}
}

// FailNext causes the next n connection attempts to fail with the given error
// (or ErrConnectFailed if nil)
func (t *Transport) FailNext(n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.failures = n
	if err != nil {
		t.connectErr = err
	}
}

// FailDisconnect causes subsequent disconnects to report the given error
func (t *Transport) FailDisconnect(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.disconnectErr = err
}

// FailSubscribe causes subsequent subscriptions to fail with the given error
func (t *Transport) FailSubscribe(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.subscribeErr = err
}

// Connects returns the number of connection attempts so far
func (t *Transport) Connects() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.connects
}

// Disconnects returns the number of disconnects so far
func (t *Transport) Disconnects() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.disconnects
}

// Conn returns the most recently established connection, if any
func (t *Transport) Conn() *Conn {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.conn
}

// Connect simulates establishing a connection to the scale
func (t *Transport) Connect(ctx context.Context, address string, timeout time.Duration) (transport.Conn, error) {

	t.mu.Lock()
	t.connects++
	fail := t.failures > 0
	if fail {
		t.failures--
	}
	delay, connectErr := t.connectDelay, t.connectErr
	wrongAddress := t.address != "" && t.address != address
	t.mu.Unlock()

	if delay > 0 {
		wait := time.NewTimer(delay)
		defer wait.Stop()
		attempt := time.NewTimer(timeout)
		defer attempt.Stop()

		select {
		case <-wait.C:
		case <-attempt.C:
			return nil, fmt.Errorf("connecting to %s: %w", address, context.DeadlineExceeded)
		case <-ctx.Done():
			return nil, fmt.Errorf("connecting to %s: %w", address, ctx.Err())
		}
	}

	if fail {
		return nil, connectErr
	}
	if wrongAddress {
		return nil, fmt.Errorf("no peripheral with address %s", address)
	}

	conn := &Conn{
		transport: t,
		address:   address,
		connected: true,
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	return conn, nil
}

// Conn denotes a simulated connection to the scale
type Conn struct {
	transport *Transport
	address   string

	mu        sync.Mutex
	connected bool
	handler   func(data []byte)
}

// Subscribe registers the notification handler of the weight characteristic
func (c *Conn) Subscribe(characteristic string, fn func(data []byte)) error {

	c.transport.mu.Lock()
	subscribeErr := c.transport.subscribeErr
	c.transport.mu.Unlock()
	if subscribeErr != nil {
		return subscribeErr
	}

	if !transport.SameUUID(characteristic, notifyCharacteristic) {
		return fmt.Errorf("%w: %s", transport.ErrCharacteristicNotFound, characteristic)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.handler = fn
	return nil
}

// Disconnect closes the simulated connection
func (c *Conn) Disconnect() error {
	c.mu.Lock()
	c.connected = false
	c.handler = nil
	c.mu.Unlock()

	c.transport.mu.Lock()
	defer c.transport.mu.Unlock()

	c.transport.disconnects++
	return c.transport.disconnectErr
}

// IsConnected returns if the simulated link is up
func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connected
}

// Drop simulates the scale going out of range / switching itself off
func (c *Conn) Drop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = false
	c.handler = nil
}

// Notify delivers a raw payload to the subscribed handler, returning false if there is none
func (c *Conn) Notify(data []byte) bool {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()

	if handler == nil {
		return false
	}
	handler(data)

	return true
}

// NotifyWeight delivers a payload as sent by the scale for the given weight (in 100g units)
func (c *Conn) NotifyWeight(weightRaw int16, stable bool) bool {
	return c.Notify(Payload(weightRaw, stable))
}

// Simulate sends a settling measurement every interval until the context is done
// or the connection is gone
func (c *Conn) Simulate(ctx context.Context, interval time.Duration, weightRaw int16) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:

			// Approach the target weight over a few unstable frames before settling
			settled := i >= 3
			value := weightRaw
			if !settled {
				value = weightRaw * int16(i+1) / 4
			}
			if !c.NotifyWeight(value, settled) {
				return
			}
		}
	}
}

// Payload encodes a notification frame for the given weight (in 100g units)
func Payload(weightRaw int16, stable bool) []byte {
	data := make([]byte, payloadLen)
	data[9] = 0x01
	binary.BigEndian.PutUint16(data[10:12], uint16(weightRaw))
	if stable {
		data[14] = stableFlags
	}

	return data
}
