package frame

import (
	"bytes"
	"strconv"
	"strings"
	"sync"
)

// separator terminates every complete line from the board.
var separator = []byte("\r\n")

// DataFrame is one ADC sample: a device timestamp and a signed reading.
type DataFrame struct {
	TimestampMS uint64
	Millivolts  int32
}

// ManagementFrame is any non-data line (status, error, debug text from the
// firmware). The payload is forwarded verbatim and never parsed further.
type ManagementFrame struct {
	Payload string
}

// Parser accumulates raw notification bytes and splits them into
// CRLF-terminated lines on demand. Feed is cheap enough to run on the
// notification callback path; all classification work happens in Drain.
//
// Feed and Drain may be called from different goroutines; the buffer is
// owned by the parser and never shared outside it.
type Parser struct {
	mu  sync.Mutex
	buf []byte
}

func NewParser() *Parser {
	return &Parser{}
}

// Feed appends raw bytes from the transport. No parsing happens here.
func (p *Parser) Feed(data []byte) {
	if len(data) == 0 {
		return
	}
	p.mu.Lock()
	p.buf = append(p.buf, data...)
	p.mu.Unlock()
}

// Drain consumes all complete lines currently buffered, leaving any trailing
// partial line for the next call. Lines of the exact shape
// "<unsigned-int>,<signed-int>" become DataFrames; every other non-empty
// line becomes a ManagementFrame. Almost-numeric lines that fail to parse
// are counted in malformed and dropped. Drain never fails; it only produces
// fewer frames than a corrupted input might suggest.
func (p *Parser) Drain() (data []DataFrame, mgmt []ManagementFrame, malformed int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.buf) == 0 {
		return nil, nil, 0
	}

	last := bytes.LastIndex(p.buf, separator)
	if last == -1 {
		// No complete line yet; keep accumulating.
		return nil, nil, 0
	}

	complete := p.buf[:last+len(separator)]
	leftover := p.buf[last+len(separator):]

	for _, line := range bytes.Split(complete, separator) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		df, kind := classify(line)
		switch kind {
		case lineData:
			data = append(data, df)
		case lineMalformed:
			malformed++
		default:
			mgmt = append(mgmt, ManagementFrame{Payload: decodePayload(line)})
		}
	}

	p.buf = append(p.buf[:0:0], leftover...)
	return data, mgmt, malformed
}

// BufferedBytes reports the size of the unconsumed tail.
func (p *Parser) BufferedBytes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}

type lineKind int

const (
	lineMgmt lineKind = iota
	lineData
	lineMalformed
)

// classify decides whether a line has the data shape. Only a line whose
// first field is all digits and whose second field is digits with an
// optional sign is treated as numeric at all; anything else is management.
func classify(line []byte) (DataFrame, lineKind) {
	comma := bytes.IndexByte(line, ',')
	if comma <= 0 || comma == len(line)-1 {
		return DataFrame{}, lineMgmt
	}
	tsField := line[:comma]
	mvField := line[comma+1:]
	if !allDigits(tsField) || !signedDigits(mvField) {
		return DataFrame{}, lineMgmt
	}

	ts, err := strconv.ParseUint(string(tsField), 10, 64)
	if err != nil {
		return DataFrame{}, lineMalformed
	}
	mv, err := strconv.ParseInt(string(mvField), 10, 32)
	if err != nil {
		return DataFrame{}, lineMalformed
	}
	return DataFrame{TimestampMS: ts, Millivolts: int32(mv)}, lineData
}

func allDigits(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// signedDigits accepts any run of leading sign characters so that a
// double-signed field like "+-12" still counts as almost-numeric (and is
// then rejected by ParseInt as malformed) rather than as management text.
func signedDigits(b []byte) bool {
	for len(b) > 0 && (b[0] == '+' || b[0] == '-') {
		b = b[1:]
	}
	return allDigits(b)
}

// decodePayload is permissive: invalid UTF-8 is replaced, never rejected.
func decodePayload(line []byte) string {
	return strings.ToValidUTF8(string(line), "�")
}
