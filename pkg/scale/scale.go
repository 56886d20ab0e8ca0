package scale

import (
	"context"
	"time"
)

// Sensor denotes a weight sensor as seen by the hosting platform
type Sensor interface {

	// Name returns the human readable name of the sensor
	Name() string

	// UniqueID returns an identifier that is stable across restarts
	UniqueID() string

	// Unit returns the unit of the reported weight
	Unit() Unit

	// CurrentWeightGrams returns the last stable weight, if any has been received
	CurrentWeightGrams() (int64, bool)

	// IsAvailable returns if the sensor currently provides data
	IsAvailable() bool

	// OnAdded is called by the host once the sensor has been added
	OnAdded()

	// OnRemoved is called by the host before the sensor is removed
	OnRemoved()

	// Update is called by the host when it polls the sensor
	Update()
}

// Connector denotes a device whose connection can be driven explicitly
type Connector interface {

	// ConnectionStatus returns the current connection status of the scale device
	ConnectionStatus() ConnectionStatus

	// EnsureConnected establishes a connection unless one already exists
	EnsureConnected(ctx context.Context) error

	// Disconnect terminates the current connection, if any
	Disconnect()

	// ConnectedFor returns for how long the current connection has been established
	ConnectedFor() time.Duration
}

// Notifier denotes a device reporting state changes and data
type Notifier interface {

	// SetStateChangeHandler defines a handler function that is called upon state change
	SetStateChangeHandler(fn func(status ConnectionStatus))

	// SetStateChangeChannel defines a channel that receives state changes
	SetStateChangeChannel(ch chan ConnectionStatus)

	// SetDataHandler defines a handler function that is called upon retrieval of data
	SetDataHandler(fn func(data DataPoint))

	// SetDataChannel defines a channel that receives data points
	SetDataChannel(ch chan DataPoint)
}

// Scale denotes the "default" scale containing all functionality
type Scale interface {
	Sensor
	Connector
	Notifier
}
