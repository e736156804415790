package command

import (
	"bytes"
	"errors"
	"testing"

	"github.com/epglabs/epgio/internal/testutil/testlog"
)

func TestForLabelResistanceTable(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"100K":     "M:0",
		"1M":       "M:1",
		"10M":      "M:2",
		"100M":     "M:3",
		"1G":       "M:6",
		"10G":      "M:4",
		"SR":       "M:5",
		"Loopback": "M:7",
	}
	for label, want := range cases {
		got, err := ForLabel(KeyInputResistance, label)
		if err != nil {
			t.Fatalf("label %q: %v", label, err)
		}
		if got != want {
			t.Fatalf("label %q: got %q want %q", label, got, want)
		}
	}
}

func TestForLabelExcitation(t *testing.T) {
	testlog.Start(t)
	if got, _ := ForLabel(KeyExcitationFrequency, "1000"); got != "SDDS:1000" {
		t.Fatalf("got %q", got)
	}
	if got, _ := ForLabel(KeyExcitationFrequency, "0"); got != "DDSOFF" {
		t.Fatalf("got %q", got)
	}
	if _, err := ForLabel(KeyExcitationFrequency, "42"); !errors.Is(err, ErrUnknownLabel) {
		t.Fatalf("expected ErrUnknownLabel, got %v", err)
	}
}

func TestForLabelRejectsNumericKey(t *testing.T) {
	testlog.Start(t)
	if _, err := ForLabel(KeyPGA1, "4"); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("expected ErrUnknownKey, got %v", err)
	}
}

func TestForValueFormatting(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		key   Key
		value float64
		want  string
	}{
		{KeyPGA1, 4, "P1:4"},
		{KeyPGA2, 16, "P2:16"},
		{KeySignalChainAmplification, 2.5, "SCA:2.5"},
		{KeySignalChainOffset, 1.2, "SCO:1.200"},
		{KeyDDSAmplification, 0.75, "DDSA:0.750"},
		{KeyDDSOffset, -0.125, "DDSO:-0.125"},
		{KeyDigipotChannel0, 100, "D0:100"},
		{KeyDigipotChannel3, 7, "D3:7"},
	}
	for _, tc := range cases {
		got, err := ForValue(tc.key, tc.value)
		if err != nil {
			t.Fatalf("%s: %v", tc.key, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %q want %q", tc.key, got, tc.want)
		}
	}
	if _, err := ForValue(KeyInputResistance, 1); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("expected ErrUnknownKey, got %v", err)
	}
}

func TestParseKeyRoundTrips(t *testing.T) {
	testlog.Start(t)
	for k := KeyInputResistance; k <= KeyExcitationFrequency; k++ {
		got, err := ParseKey(k.String())
		if err != nil {
			t.Fatalf("%s: %v", k, err)
		}
		if got != k {
			t.Fatalf("%s parsed to %s", k, got)
		}
	}
	if _, err := ParseKey("volume"); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("expected ErrUnknownKey, got %v", err)
	}
}

func TestEncodePayloadAppendsNUL(t *testing.T) {
	testlog.Start(t)
	got := EncodePayload("SDDS:1000")
	if !bytes.Equal(got, append([]byte("SDDS:1000"), 0x00)) {
		t.Fatalf("unexpected payload: %q", got)
	}
	if got := EncodePayload(""); len(got) != 1 || got[0] != 0x00 {
		t.Fatalf("empty command must still carry the terminator: %q", got)
	}
}
