package frame

import (
	"testing"

	"github.com/epglabs/epgio/internal/testutil/testlog"
)

func TestDrainRoundTripRetainsTail(t *testing.T) {
	testlog.Start(t)
	p := NewParser()
	p.Feed([]byte("12,34\r\n56,-78\r\n9"))

	data, mgmt, malformed := p.Drain()
	if len(data) != 2 {
		t.Fatalf("expected 2 data frames, got %d", len(data))
	}
	if data[0].TimestampMS != 12 || data[0].Millivolts != 34 {
		t.Fatalf("unexpected frame[0]: %+v", data[0])
	}
	if data[1].TimestampMS != 56 || data[1].Millivolts != -78 {
		t.Fatalf("unexpected frame[1]: %+v", data[1])
	}
	if len(mgmt) != 0 || malformed != 0 {
		t.Fatalf("unexpected mgmt=%d malformed=%d", len(mgmt), malformed)
	}
	if p.BufferedBytes() != 1 {
		t.Fatalf("expected 1 buffered byte, got %d", p.BufferedBytes())
	}

	// The tail completes on the next feed.
	p.Feed([]byte("0,1\r\n"))
	data, _, _ = p.Drain()
	if len(data) != 1 || data[0].TimestampMS != 90 || data[0].Millivolts != 1 {
		t.Fatalf("tail not stitched: %+v", data)
	}
}

func TestDrainNoTerminatorMakesNoProgress(t *testing.T) {
	testlog.Start(t)
	p := NewParser()
	p.Feed([]byte("12,34"))
	data, mgmt, malformed := p.Drain()
	if len(data) != 0 || len(mgmt) != 0 || malformed != 0 {
		t.Fatalf("expected no frames, got data=%d mgmt=%d malformed=%d", len(data), len(mgmt), malformed)
	}
	if p.BufferedBytes() != 5 {
		t.Fatalf("buffer must be untouched, got %d bytes", p.BufferedBytes())
	}
}

func TestChunkedFeedMatchesWholeFeed(t *testing.T) {
	testlog.Start(t)
	input := []byte("1,10\r\n2,-20\r\nBOOT OK\r\n3,30\r\n4,-40\r\nstatus: streaming\r\n5,50\r\n")

	whole := NewParser()
	whole.Feed(input)
	wantData, wantMgmt, _ := whole.Drain()

	for chunkSize := 1; chunkSize <= len(input); chunkSize++ {
		p := NewParser()
		var gotData []DataFrame
		var gotMgmt []ManagementFrame
		for i := 0; i < len(input); i += chunkSize {
			end := i + chunkSize
			if end > len(input) {
				end = len(input)
			}
			p.Feed(input[i:end])
			d, m, _ := p.Drain()
			gotData = append(gotData, d...)
			gotMgmt = append(gotMgmt, m...)
		}
		if len(gotData) != len(wantData) {
			t.Fatalf("chunk=%d data frames got=%d want=%d", chunkSize, len(gotData), len(wantData))
		}
		for i := range wantData {
			if gotData[i] != wantData[i] {
				t.Fatalf("chunk=%d frame[%d] got=%+v want=%+v", chunkSize, i, gotData[i], wantData[i])
			}
		}
		if len(gotMgmt) != len(wantMgmt) {
			t.Fatalf("chunk=%d mgmt got=%d want=%d", chunkSize, len(gotMgmt), len(wantMgmt))
		}
		for i := range wantMgmt {
			if gotMgmt[i] != wantMgmt[i] {
				t.Fatalf("chunk=%d mgmt[%d] got=%q want=%q", chunkSize, i, gotMgmt[i].Payload, wantMgmt[i].Payload)
			}
		}
	}
}

func TestMalformedLineIsCountedNotFatal(t *testing.T) {
	testlog.Start(t)
	p := NewParser()
	// 99999999999 overflows int32, "+-5" fails ParseInt after the shape check.
	p.Feed([]byte("1,1\r\n2,99999999999\r\n3,3\r\n4,+-5\r\n5,5\r\n"))
	data, mgmt, malformed := p.Drain()
	if len(data) != 3 {
		t.Fatalf("expected 3 valid frames, got %d", len(data))
	}
	if malformed != 2 {
		t.Fatalf("expected 2 malformed, got %d", malformed)
	}
	if len(mgmt) != 0 {
		t.Fatalf("malformed lines must not become management frames: %+v", mgmt)
	}
}

func TestManagementClassification(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		line string
		want string
	}{
		{"BOOT OK", "BOOT OK"},
		{"12,34,56", "12,34,56"},   // three fields is not the data shape
		{"12;34", "12;34"},         // wrong delimiter
		{"x12,34", "x12,34"},       // non-digit timestamp
		{"12,", "12,"},             // empty value field
		{",34", ",34"},             // empty timestamp field
		{"ERR: sensor \xff", "ERR: sensor �"}, // invalid UTF-8 replaced
	}
	for _, tc := range cases {
		p := NewParser()
		p.Feed([]byte(tc.line + "\r\n"))
		data, mgmt, malformed := p.Drain()
		if len(data) != 0 || malformed != 0 {
			t.Fatalf("%q: expected management only, got data=%d malformed=%d", tc.line, len(data), malformed)
		}
		if len(mgmt) != 1 || mgmt[0].Payload != tc.want {
			t.Fatalf("%q: got mgmt=%+v want %q", tc.line, mgmt, tc.want)
		}
	}
}

func TestEmptyLinesAreDiscarded(t *testing.T) {
	testlog.Start(t)
	p := NewParser()
	p.Feed([]byte("\r\n\r\n7,8\r\n\r\n"))
	data, mgmt, malformed := p.Drain()
	if len(data) != 1 || len(mgmt) != 0 || malformed != 0 {
		t.Fatalf("unexpected: data=%d mgmt=%d malformed=%d", len(data), len(mgmt), malformed)
	}
	if p.BufferedBytes() != 0 {
		t.Fatalf("buffer should be empty, got %d", p.BufferedBytes())
	}
}
