package scale

import (
	"fmt"
	"time"
)

// Unit denotes the unit of the weight measurement
type Unit string

const (

	// UnitUnknown denotes an unknown / invalid unit
	UnitUnknown = "--"

	// UnitGrams denotes metric units
	UnitGrams = "g"
)

// State denotes a connection state
type State int

const (

	// StateDisconnected is active while no connection to the scale exists
	StateDisconnected State = iota

	// StateConnecting is active while a connection attempt is in flight
	StateConnecting

	// StateConnected is active while being connected to the scale
	StateConnected

	// StateAwaitingRetry is active after a failed connection attempt, until the retry fires
	StateAwaitingRetry
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAwaitingRetry:
		return "awaiting_retry"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ConnectionStatus denotes the current status of the bluetooth device
type ConnectionStatus struct {
	Error error
	State
}

// Reading denotes a single decoded weight measurement
type Reading struct {
	WeightGrams int64
	Stable      bool
}

// DataPoint denotes a weight measurement at a certain point in time
type DataPoint struct {
	TimeStamp time.Time
	Unit      Unit
	Weight    float64
}

// Value provides a method to retrieve the current value (for interface use)
func (d DataPoint) Value() float64 {
	return d.Weight
}
