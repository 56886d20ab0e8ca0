package senssun

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fatih/stopwatch"
	"github.com/mukowman/ha-ble-senssun-scale/pkg/scale"
	"github.com/mukowman/ha-ble-senssun-scale/pkg/transport"
)

const (

	// NotifyCharacteristic is the GATT characteristic Senssun scales push weight data to
	NotifyCharacteristic = "0000fff1-0000-1000-8000-00805f9b34fb"

	// DefaultConnectTimeout bounds a single connection attempt
	DefaultConnectTimeout = 10 * time.Second

	// DefaultOverallConnectTimeout bounds the whole connect sequence
	DefaultOverallConnectTimeout = 20 * time.Second

	// DefaultIdleDisconnectDelay is the time without notifications after which the connection is closed
	DefaultIdleDisconnectDelay = 60 * time.Second

	// DefaultRetryInterval is the delay before a failed connection is retried
	DefaultRetryInterval = 60 * time.Second

	defaultName            = "Senssun Body Scale Weight"
	notificationBufferSize = 32
)

var (

	// ErrConnectTimeout denotes a connection attempt that did not complete in time
	ErrConnectTimeout = errors.New("connect timeout")

	// ErrTransport denotes a failure reported by the underlying BLE stack
	ErrTransport = errors.New("transport error")

	// ErrClosed is returned once the manager has been torn down
	ErrClosed = errors.New("manager closed")
)

var _ scale.Scale = (*Manager)(nil)

// Config denotes the connection parameters of a manager
type Config struct {
	Address               string
	ConnectTimeout        time.Duration
	OverallConnectTimeout time.Duration
	IdleDisconnectDelay   time.Duration
	RetryInterval         time.Duration
}

// Manager maintains the connection to a single Senssun bluetooth scale
type Manager struct {
	cfg  Config
	name string

	transport transport.Transport
	logger    scale.Logger

	// lock serializes all state transitions, including the complete connect sequence
	lock   sync.Mutex
	conn   transport.Conn
	idle   singleShot
	retry  singleShot
	closed bool

	// events collects handler invocations queued while holding lock, see unlock
	events []func()

	valueMu          sync.RWMutex
	connectionStatus scale.ConnectionStatus
	weightGrams      int64
	hasWeight        bool
	available        bool
	uptime           *stopwatch.Stopwatch

	stateChangeHandler func(status scale.ConnectionStatus)
	stateChangeChan    chan scale.ConnectionStatus

	dataHandler func(data scale.DataPoint)
	dataChan    chan scale.DataPoint

	notifyChan chan []byte
	ctx        context.Context
	cancel     context.CancelFunc
}

// New instantiates a new Manager for the scale with the given address, executing
// functional options, if any
func New(address string, options ...func(*Manager)) (*Manager, error) {

	if address == "" {
		return nil, errors.New("no device address provided")
	}

	// Initialize a new instance of a Senssun scale manager
	m := &Manager{
		cfg: Config{
			Address:               address,
			ConnectTimeout:        DefaultConnectTimeout,
			OverallConnectTimeout: DefaultOverallConnectTimeout,
			IdleDisconnectDelay:   DefaultIdleDisconnectDelay,
			RetryInterval:         DefaultRetryInterval,
		},
		name:       defaultName,
		logger:     &scale.NullLogger{},
		notifyChan: make(chan []byte, notificationBufferSize),
		connectionStatus: scale.ConnectionStatus{
			State: scale.StateDisconnected,
		},
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(m)
	}

	if err := m.validate(); err != nil {
		return nil, err
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())
	go m.processNotifications()

	return m, nil
}

// Config returns the connection parameters of the manager
func (m *Manager) Config() Config {
	return m.cfg
}

// Name returns the human readable name of the sensor
func (m *Manager) Name() string {
	return m.name
}

// UniqueID returns an identifier that is stable across restarts
func (m *Manager) UniqueID() string {
	return "ble_scale_" + m.cfg.Address
}

// Unit returns the unit of the reported weight
func (m *Manager) Unit() scale.Unit {
	return scale.UnitGrams
}

// ConnectionStatus returns the current status of the bluetooth device
func (m *Manager) ConnectionStatus() scale.ConnectionStatus {
	m.valueMu.RLock()
	defer m.valueMu.RUnlock()

	return m.connectionStatus
}

// CurrentWeightGrams returns the last stable weight, if any has been received
func (m *Manager) CurrentWeightGrams() (int64, bool) {
	m.valueMu.RLock()
	defer m.valueMu.RUnlock()

	return m.weightGrams, m.hasWeight
}

// IsAvailable returns if the scale is currently connected and providing data
func (m *Manager) IsAvailable() bool {
	m.valueMu.RLock()
	defer m.valueMu.RUnlock()

	return m.available
}

// ConnectedFor returns for how long the current connection has been established
func (m *Manager) ConnectedFor() time.Duration {
	m.valueMu.RLock()
	defer m.valueMu.RUnlock()

	if m.uptime == nil || m.connectionStatus.State != scale.StateConnected {
		return 0
	}
	return m.uptime.ElapsedTime()
}

// SetStateChangeHandler defines a handler function that is called upon state change
func (m *Manager) SetStateChangeHandler(fn func(status scale.ConnectionStatus)) {
	m.valueMu.Lock()
	defer m.valueMu.Unlock()

	m.stateChangeHandler = fn
}

// SetStateChangeChannel defines a channel that receives state changes
func (m *Manager) SetStateChangeChannel(ch chan scale.ConnectionStatus) {
	m.valueMu.Lock()
	defer m.valueMu.Unlock()

	m.stateChangeChan = ch
}

// SetDataHandler defines a handler function that is called upon retrieval of data
func (m *Manager) SetDataHandler(fn func(data scale.DataPoint)) {
	m.valueMu.Lock()
	defer m.valueMu.Unlock()

	m.dataHandler = fn
}

// SetDataChannel defines a channel that receives data points
func (m *Manager) SetDataChannel(ch chan scale.DataPoint) {
	m.valueMu.Lock()
	defer m.valueMu.Unlock()

	m.dataChan = ch
}

// OnAdded is called by the host once the sensor has been added
func (m *Manager) OnAdded() {
	m.Update()
}

// OnRemoved is called by the host before the sensor is removed
func (m *Manager) OnRemoved() {
	m.Teardown()
}

// Update is called by the host when it polls the sensor, re-establishing a lost connection
func (m *Manager) Update() {
	if err := m.EnsureConnected(m.ctx); err != nil && !errors.Is(err, ErrClosed) {
		m.logger.Debugf("update of `%s` did not yield a connection: %s", m.cfg.Address, err)
	}
}

// EnsureConnected establishes a connection to the scale and subscribes to its notifications,
// unless a live connection already exists. A failed attempt schedules a single retry
func (m *Manager) EnsureConnected(ctx context.Context) error {
	m.lock.Lock()
	defer m.unlock()

	if m.closed {
		return ErrClosed
	}

	if m.conn != nil {
		if m.conn.IsConnected() {
			return nil
		}
		m.logger.Warnf("connection to `%s` was lost", m.cfg.Address)
		m.disconnect()
	}

	m.retry.cancel()
	m.setStatus(scale.StateConnecting, nil)

	conn, err := m.connect(ctx)
	if err != nil {

		// Teardown happened while the attempt was in flight, do not schedule anything
		if m.ctx.Err() != nil {
			m.setAvailable(false)
			m.setStatus(scale.StateDisconnected, nil)
			return ErrClosed
		}

		m.logger.Errorf("failed to connect to Senssun Body Scale `%s`: %s", m.cfg.Address, err)
		m.setAvailable(false)
		m.setStatus(scale.StateAwaitingRetry, err)
		m.retry.arm(m.cfg.RetryInterval, m.onRetry)
		return err
	}

	m.logger.Debugf("connected to Senssun Body Scale `%s`", m.cfg.Address)

	m.conn = conn
	m.valueMu.Lock()
	m.uptime = stopwatch.Start(0)
	m.valueMu.Unlock()

	m.idle.arm(m.cfg.IdleDisconnectDelay, m.onIdle)
	m.setAvailable(true)
	m.setStatus(scale.StateConnected, nil)

	return nil
}

// HandleNotification processes a single notification payload received from the scale
func (m *Manager) HandleNotification(data []byte) {
	m.lock.Lock()
	defer m.unlock()

	if m.conn == nil {
		m.logger.Debugf("ignoring notification from `%s` while not connected", m.cfg.Address)
		return
	}

	m.logger.Debugf("received notification: %x", data)

	// Any traffic from the scale proves it is still there
	m.idle.arm(m.cfg.IdleDisconnectDelay, m.onIdle)

	reading, err := Decode(data)
	if err != nil {
		if errors.Is(err, ErrUnstableReading) {
			m.logger.Debugf("measurement is unstable, weight not reported")
			return
		}
		m.logger.Warnf("discarding notification `%x`: %s", data, err)
		return
	}

	m.logger.Infof("updated weight: %d grams", reading.WeightGrams)

	m.valueMu.Lock()
	m.weightGrams = reading.WeightGrams
	m.hasWeight = true
	m.available = true
	m.valueMu.Unlock()

	dataPoint := scale.DataPoint{
		TimeStamp: time.Now(),
		Unit:      scale.UnitGrams,
		Weight:    float64(reading.WeightGrams),
	}
	m.events = append(m.events, func() { m.emitData(dataPoint) })
}

// Disconnect terminates the current connection, if any
func (m *Manager) Disconnect() {
	m.lock.Lock()
	defer m.unlock()

	m.disconnect()
}

// Teardown cancels all pending timers and closes the connection. The manager cannot
// be used afterwards, calling Teardown again is a no-op
func (m *Manager) Teardown() {

	// Abort a connect attempt that might currently hold the lock
	m.cancel()

	m.lock.Lock()
	defer m.unlock()

	if m.closed {
		return
	}
	m.closed = true

	m.retry.cancel()
	m.disconnect()

	if m.ConnectionStatus().State != scale.StateDisconnected {
		m.setStatus(scale.StateDisconnected, nil)
	}
	m.setAvailable(false)
}

////////////////////////////////////////////////////////////////////////////////

func (m *Manager) validate() error {
	if m.transport == nil {
		return errors.New("no transport provided")
	}

	for name, d := range map[string]time.Duration{
		"connect timeout":         m.cfg.ConnectTimeout,
		"overall connect timeout": m.cfg.OverallConnectTimeout,
		"idle disconnect delay":   m.cfg.IdleDisconnectDelay,
		"retry interval":          m.cfg.RetryInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("invalid %s: %v", name, d)
		}
	}

	return nil
}

func (m *Manager) connect(ctx context.Context) (transport.Conn, error) {

	ctx, cancel := context.WithTimeout(ctx, m.cfg.OverallConnectTimeout)
	defer cancel()
	stop := context.AfterFunc(m.ctx, cancel)
	defer stop()

	conn, err := m.transport.Connect(ctx, m.cfg.Address, m.cfg.ConnectTimeout)
	if err != nil {
		return nil, classifyConnectError(err)
	}

	if err := conn.Subscribe(NotifyCharacteristic, m.receiveData); err != nil {
		if derr := conn.Disconnect(); derr != nil {
			m.logger.Warnf("failed to release connection after subscription failure: %s", derr)
		}
		return nil, fmt.Errorf("%w: failed to subscribe characteristic %s: %w", ErrTransport, NotifyCharacteristic, err)
	}

	m.logger.Debugf("notifications started for characteristic: %s", NotifyCharacteristic)

	return conn, nil
}

// disconnect closes the connection, if any. Failures are logged, the manager considers
// itself disconnected in any case. Must be called with the lock held
func (m *Manager) disconnect() {
	m.idle.cancel()

	if m.conn == nil {
		return
	}

	if err := m.conn.Disconnect(); err != nil {
		m.logger.Errorf("error disconnecting from Senssun Body Scale `%s`: %s", m.cfg.Address, err)
	} else {
		m.logger.Debugf("disconnected from Senssun Body Scale `%s`", m.cfg.Address)
	}
	m.conn = nil

	m.valueMu.Lock()
	if m.uptime != nil {
		m.uptime.Stop()
	}
	m.valueMu.Unlock()

	m.setAvailable(false)
	m.setStatus(scale.StateDisconnected, nil)
}

func (m *Manager) onIdle(gen uint64) {
	m.lock.Lock()
	defer m.unlock()

	if !m.idle.current(gen) {
		return
	}
	m.idle.fired()

	m.logger.Infof("no data from `%s` within %v, disconnecting", m.cfg.Address, m.cfg.IdleDisconnectDelay)
	m.disconnect()
}

func (m *Manager) onRetry(gen uint64) {
	m.lock.Lock()
	if m.closed || !m.retry.current(gen) {
		m.lock.Unlock()
		return
	}
	m.retry.fired()
	m.lock.Unlock()

	m.logger.Debugf("retrying connection to `%s`", m.cfg.Address)
	if err := m.EnsureConnected(m.ctx); err != nil && !errors.Is(err, ErrClosed) {
		m.logger.Debugf("retry for `%s` failed: %s", m.cfg.Address, err)
	}
}

// receiveData is invoked by the transport, it only queues the payload so the transport
// never blocks on the manager lock
func (m *Manager) receiveData(data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)

	select {
	case m.notifyChan <- buf:
	default:
		m.logger.Warnf("notification queue full, dropping payload `%x`", data)
	}
}

func (m *Manager) processNotifications() {
	for {
		select {
		case data := <-m.notifyChan:
			m.HandleNotification(data)
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) setAvailable(available bool) {
	m.valueMu.Lock()
	defer m.valueMu.Unlock()

	m.available = available
}

// setStatus updates the connection state and queues the notification of handler and
// channel. Must be called with the lock held
func (m *Manager) setStatus(state scale.State, err error) {
	m.valueMu.Lock()
	m.connectionStatus = scale.ConnectionStatus{
		State: state,
		Error: err,
	}
	status := m.connectionStatus
	m.valueMu.Unlock()

	m.events = append(m.events, func() { m.emitStatus(status) })
}

// unlock releases the lock and only then runs the queued handler invocations, so handlers
// may call back into the manager
func (m *Manager) unlock() {
	events := m.events
	m.events = nil
	m.lock.Unlock()

	for _, event := range events {
		event()
	}
}

func (m *Manager) emitStatus(status scale.ConnectionStatus) {
	m.valueMu.RLock()
	stateChangeHandler, stateChangeChan := m.stateChangeHandler, m.stateChangeChan
	m.valueMu.RUnlock()

	// Call handler function, if any
	if stateChangeHandler != nil {
		stateChangeHandler(status)
	}

	// Put state change on channel, if any
	if stateChangeChan != nil {
		select {
		case stateChangeChan <- status:
		default:
		}
	}
}

func (m *Manager) emitData(dataPoint scale.DataPoint) {
	m.valueMu.RLock()
	dataHandler, dataChan := m.dataHandler, m.dataChan
	m.valueMu.RUnlock()

	// Call handler function, if any
	if dataHandler != nil {
		dataHandler(dataPoint)
	}

	// Put data point on channel, if any
	if dataChan != nil {
		select {
		case dataChan <- dataPoint:
		default:
			m.logger.Warnf("data channel full, dropping data point %v", dataPoint)
		}
	}
}

func classifyConnectError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrConnectTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}
