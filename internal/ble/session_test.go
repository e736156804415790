package ble

import (
	"testing"
	"time"

	"github.com/epglabs/epgio/internal/testutil/testlog"
)

func TestFormatDevicePath(t *testing.T) {
	testlog.Start(t)

	got := formatDevicePath("aa:bb:cc:dd:ee:ff")
	want := "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF"
	if string(got) != want {
		t.Fatalf("device path = %q, want %q", got, want)
	}
}

func TestTimeoutsWithDefaults(t *testing.T) {
	testlog.Start(t)

	got := Timeouts{Write: 250 * time.Millisecond}.WithDefaults()
	if got.Connect != 10*time.Second {
		t.Fatalf("connect timeout = %v, want 10s", got.Connect)
	}
	if got.Subscribe != 5*time.Second {
		t.Fatalf("subscribe timeout = %v, want 5s", got.Subscribe)
	}
	if got.Write != 250*time.Millisecond {
		t.Fatalf("write timeout = %v, want 250ms", got.Write)
	}
}

func TestTargetComplete(t *testing.T) {
	testlog.Start(t)

	full := Target{Address: "AA:BB:CC:DD:EE:FF", NotifyUUID: "aaaa", WriteUUID: "bbbb"}
	if !full.Complete() {
		t.Fatalf("fully specified target reported incomplete")
	}
	if (Target{Address: "AA:BB:CC:DD:EE:FF"}).Complete() {
		t.Fatalf("target without UUIDs reported complete")
	}
}
