// Package stream owns the connection lifecycle for one board: the state
// machine, reconnect policy, batching, backpressure, and command writes. All
// mutation happens on a single run loop goroutine; callers submit work
// through the handler's op queue and observe results through events.
package stream

import "time"

// ConnectionState is the externally visible lifecycle phase.
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateDisconnecting
	StateDisconnected
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisconnected:
		return "disconnected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is anything the handler reports outward: state transitions, data
// batches, drops, write completions, errors, throughput.
type Event interface {
	Kind() string
}

type StateChanged struct {
	State   ConnectionState `json:"state"`
	Address string          `json:"address,omitempty"`
}

func (StateChanged) Kind() string { return "state_changed" }

type ErrorOccurred struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func (ErrorOccurred) Kind() string { return "error" }

// Sample is one timestamped numeric reading.
type Sample struct {
	Timestamp uint64 `json:"timestamp"`
	Value     int64  `json:"value"`
}

type DataBatch struct {
	Samples []Sample `json:"samples"`
}

func (DataBatch) Kind() string { return "data_batch" }

type ManagementFrames struct {
	Lines []string `json:"lines"`
}

func (ManagementFrames) Kind() string { return "management" }

type SamplesDropped struct {
	Count  int    `json:"count"`
	Policy string `json:"policy"`
}

func (SamplesDropped) Kind() string { return "samples_dropped" }

type WriteCompleted struct {
	Tag     string `json:"tag"`
	Command string `json:"command"`
	Err     string `json:"error,omitempty"`
}

func (WriteCompleted) Kind() string { return "write_completed" }

type ThroughputUpdated struct {
	SamplesPerSecond float64       `json:"samples_per_second"`
	Window           time.Duration `json:"window"`
}

func (ThroughputUpdated) Kind() string { return "throughput" }
