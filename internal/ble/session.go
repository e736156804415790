// Package ble wraps one physical BLE link: connect, subscribe, write,
// disconnect. It knows nothing about framing or reconnection policy; those
// live above it in internal/stream.
package ble

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotConnected   = errors.New("ble: not connected")
	ErrMissingTarget  = errors.New("ble: missing target address or characteristic UUIDs")
	ErrCharsNotFound  = errors.New("ble: characteristics not found on device")
	ErrConnectTimeout = errors.New("ble: connect timed out")
)

// Target identifies the board and its two GATT endpoints.
type Target struct {
	Address    string
	NotifyUUID string
	WriteUUID  string
}

func (t Target) Complete() bool {
	return t.Address != "" && t.NotifyUUID != "" && t.WriteUUID != ""
}

// Timeouts are per-operation time budgets. Exceeding one is a normal,
// expected failure, not a crash condition.
type Timeouts struct {
	Connect   time.Duration
	Subscribe time.Duration
	Write     time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connect:   10 * time.Second,
		Subscribe: 5 * time.Second,
		Write:     5 * time.Second,
	}
}

func (t Timeouts) WithDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.Connect <= 0 {
		t.Connect = d.Connect
	}
	if t.Subscribe <= 0 {
		t.Subscribe = d.Subscribe
	}
	if t.Write <= 0 {
		t.Write = d.Write
	}
	return t
}

// Session is one connect->subscribe->write->disconnect lifecycle over a
// single link. Implementations must make Stop idempotent and best-effort:
// teardown failures are swallowed because the session is going away
// regardless.
type Session interface {
	// Connect establishes the transport link under the connect budget.
	Connect(ctx context.Context) error
	// StartNotifications subscribes to the notify characteristic. onData is
	// invoked from the transport goroutine and must be cheap.
	StartNotifications(ctx context.Context, onData func([]byte)) error
	// Write sends payload to the write characteristic. expectAck requests a
	// GATT-level acknowledgement; without it the write is fire-and-forget.
	Write(ctx context.Context, payload []byte, expectAck bool) error
	// Connected reflects transport-level connectivity only, not
	// application-level readiness.
	Connected() bool
	// Stop unsubscribes and disconnects, swallowing teardown errors.
	Stop()
}

// Dialer produces sessions for targets. The stream handler only ever talks
// to this interface, which is what lets tests inject a fake transport.
type Dialer interface {
	Dial(target Target, timeouts Timeouts) (Session, error)
}
