// Package command maps engineering control settings onto the board's ASCII
// command vocabulary and encodes outbound payloads.
package command

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownKey   = errors.New("command: unknown control key")
	ErrUnknownLabel = errors.New("command: no wire mapping for label")
)

// Key identifies one engineering setting on the acquisition board.
type Key int

const (
	KeyInputResistance Key = iota
	KeyPGA1
	KeyPGA2
	KeySignalChainAmplification
	KeySignalChainOffset
	KeyDDSAmplification
	KeyDDSOffset
	KeyDigipotChannel0
	KeyDigipotChannel1
	KeyDigipotChannel2
	KeyDigipotChannel3
	KeyExcitationFrequency
)

func (k Key) String() string {
	switch k {
	case KeyInputResistance:
		return "input_resistance"
	case KeyPGA1:
		return "pga_1"
	case KeyPGA2:
		return "pga_2"
	case KeySignalChainAmplification:
		return "signal_chain_amplification"
	case KeySignalChainOffset:
		return "signal_chain_offset"
	case KeyDDSAmplification:
		return "dds_amplification"
	case KeyDDSOffset:
		return "dds_offset"
	case KeyDigipotChannel0:
		return "digipot_channel_0"
	case KeyDigipotChannel1:
		return "digipot_channel_1"
	case KeyDigipotChannel2:
		return "digipot_channel_2"
	case KeyDigipotChannel3:
		return "digipot_channel_3"
	case KeyExcitationFrequency:
		return "excitation_frequency"
	default:
		return "unknown"
	}
}

// ParseKey maps a setting name from the control API back onto its Key.
func ParseKey(name string) (Key, error) {
	for k := KeyInputResistance; k <= KeyExcitationFrequency; k++ {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKey, name)
}

// The M:<n> indices are fixed by the firmware's mux wiring; 1G deliberately
// maps to M:6 and 10G to M:4.
var resistanceByLabel = map[string]string{
	"100K":     "M:0",
	"1M":       "M:1",
	"10M":      "M:2",
	"100M":     "M:3",
	"1G":       "M:6",
	"10G":      "M:4",
	"SR":       "M:5",
	"Loopback": "M:7",
}

var excitationByLabel = map[string]string{
	"1000": "SDDS:1000",
	"1":    "SDDS:1",
	"0":    "DDSOFF",
}

// ForLabel returns the wire command for a setting whose value is one of a
// fixed set of labels (input resistance, excitation frequency).
func ForLabel(key Key, label string) (string, error) {
	var table map[string]string
	switch key {
	case KeyInputResistance:
		table = resistanceByLabel
	case KeyExcitationFrequency:
		table = excitationByLabel
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	cmd, ok := table[label]
	if !ok {
		return "", fmt.Errorf("%w: %s=%q", ErrUnknownLabel, key, label)
	}
	return cmd, nil
}

// ForValue returns the wire command for a numeric setting. Offsets and DDS
// values are written with three decimals; the rest take the shortest
// representation the firmware parser accepts.
func ForValue(key Key, value float64) (string, error) {
	switch key {
	case KeyPGA1:
		return fmt.Sprintf("P1:%v", shorten(value)), nil
	case KeyPGA2:
		return fmt.Sprintf("P2:%v", shorten(value)), nil
	case KeySignalChainAmplification:
		return fmt.Sprintf("SCA:%v", shorten(value)), nil
	case KeySignalChainOffset:
		return fmt.Sprintf("SCO:%.3f", value), nil
	case KeyDDSAmplification:
		return fmt.Sprintf("DDSA:%.3f", value), nil
	case KeyDDSOffset:
		return fmt.Sprintf("DDSO:%.3f", value), nil
	case KeyDigipotChannel0:
		return fmt.Sprintf("D0:%v", shorten(value)), nil
	case KeyDigipotChannel1:
		return fmt.Sprintf("D1:%v", shorten(value)), nil
	case KeyDigipotChannel2:
		return fmt.Sprintf("D2:%v", shorten(value)), nil
	case KeyDigipotChannel3:
		return fmt.Sprintf("D3:%v", shorten(value)), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
}

// shorten drops the fractional part for whole numbers so "P1:4" goes out
// instead of "P1:4.000000".
func shorten(v float64) any {
	if v == float64(int64(v)) {
		return int64(v)
	}
	return v
}

// EncodePayload converts command text to its wire form: UTF-8 bytes with a
// single trailing NUL.
func EncodePayload(text string) []byte {
	payload := make([]byte, 0, len(text)+1)
	payload = append(payload, text...)
	return append(payload, 0x00)
}

// StartCommands are sent fire-and-forget after a session comes up, for
// firmware that waits for an explicit start.
func StartCommands() []string {
	return []string{"ON", "START"}
}
