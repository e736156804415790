package stream

import (
	"errors"
	"fmt"
	"time"
)

var ErrUnknownDropPolicy = errors.New("stream: unknown drop policy")

// DropPolicy decides what happens when the pending buffer covers more device
// time than the configured span between batch emissions.
type DropPolicy interface {
	// Apply trims buf so the device-timestamp span it covers fits within
	// max, returning the kept slice and how many samples were discarded.
	// Samples arrive in timestamp order.
	Apply(buf []Sample, max time.Duration) (kept []Sample, dropped int)
	Name() string
}

func spanExceeds(buf []Sample, max time.Duration) bool {
	if len(buf) < 2 {
		return false
	}
	oldest := buf[0].Timestamp
	newest := buf[len(buf)-1].Timestamp
	if newest < oldest {
		// Device clock regressed (board reboot); the span is meaningless,
		// so keep the buffer rather than underflow into dropping it all.
		return false
	}
	return time.Duration(newest-oldest)*time.Millisecond > max
}

// DropOldest discards from the front, keeping the newest span. This is the
// default: for live waveform display the freshest data matters most.
type DropOldest struct{}

func (DropOldest) Apply(buf []Sample, max time.Duration) ([]Sample, int) {
	if max <= 0 {
		return buf, 0
	}
	dropped := 0
	for spanExceeds(buf, max) {
		buf = buf[1:]
		dropped++
	}
	return buf, dropped
}

func (DropOldest) Name() string { return "drop_oldest" }

// DropNewest discards the most recent samples, preserving the head of the
// buffer untouched.
type DropNewest struct{}

func (DropNewest) Apply(buf []Sample, max time.Duration) ([]Sample, int) {
	if max <= 0 {
		return buf, 0
	}
	dropped := 0
	for spanExceeds(buf, max) {
		buf = buf[:len(buf)-1]
		dropped++
	}
	return buf, dropped
}

func (DropNewest) Name() string { return "drop_newest" }

// Block never discards; the buffer grows until the consumer catches up.
// Memory use is then bounded only by the outage duration.
type Block struct{}

func (Block) Apply(buf []Sample, _ time.Duration) ([]Sample, int) { return buf, 0 }

func (Block) Name() string { return "block" }

func ParseDropPolicy(name string) (DropPolicy, error) {
	switch name {
	case "", "drop_oldest":
		return DropOldest{}, nil
	case "drop_newest":
		return DropNewest{}, nil
	case "block":
		return Block{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDropPolicy, name)
	}
}
