package gwire

import "fmt"

// DefaultMaxBufferSize bounds the decode buffer; a session that accumulates
// more unconsumed bytes than this without completing a frame is considered
// corrupt.
const DefaultMaxBufferSize = 1 << 20 // 1 MiB

// Frame is one fully decoded wire message handed to a session's
// on_full_message callback.
type Frame struct {
	Header  Header
	Payload []byte
}

// Decoder accumulates bytes from a stream and extracts complete Frames,
// shifting unread bytes to the front of its buffer after each extraction.
// Grounded on NimbleMarkets-dbn-go's DbnScanner buffered-reader-with-reused-
// scratch-buffer pattern (dbn_scanner.go), adapted from "pull from a
// bufio.Reader" to "push bytes in as they arrive off the reactor".
type Decoder struct {
	buf    []byte
	length int // bytes currently held in buf[:length]
	max    int
}

// NewDecoder creates a Decoder bounded at maxSize bytes.
func NewDecoder(maxSize int) *Decoder {
	if maxSize <= 0 {
		maxSize = DefaultMaxBufferSize
	}
	return &Decoder{buf: make([]byte, 4096), max: maxSize}
}

// Feed appends data to the decode buffer. It returns an error if doing so
// would exceed the bounded maximum without a frame having completed.
func (d *Decoder) Feed(data []byte) error {
	needed := d.length + len(data)
	if needed > d.max {
		return fmt.Errorf("gwire: decode buffer overflow: %d bytes pending, max %d", needed, d.max)
	}
	if needed > len(d.buf) {
		grown := make([]byte, needed*2)
		copy(grown, d.buf[:d.length])
		d.buf = grown
	}
	copy(d.buf[d.length:], data)
	d.length += len(data)
	return nil
}

// Next extracts the next complete frame, if one is fully buffered. Returns
// ok=false if more bytes are needed.
func (d *Decoder) Next() (Frame, bool, error) {
	if d.length < HeaderSize {
		return Frame{}, false, nil
	}
	h := DecodeHeader(d.buf[:HeaderSize])
	if int(h.Len) < HeaderSize {
		return Frame{}, false, fmt.Errorf("gwire: invalid frame length %d", h.Len)
	}
	if d.length < int(h.Len) {
		return Frame{}, false, nil
	}

	payload := make([]byte, int(h.Len)-HeaderSize)
	copy(payload, d.buf[HeaderSize:h.Len])

	remaining := d.length - int(h.Len)
	copy(d.buf, d.buf[h.Len:d.length])
	d.length = remaining

	return Frame{Header: h, Payload: payload}, true, nil
}

// Pending returns the number of unconsumed bytes currently buffered.
func (d *Decoder) Pending() int { return d.length }
