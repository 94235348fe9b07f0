// Package tick implements readers (and a writer, for tests and tooling) for
// the platform's two historical market-data formats: a compact capture-
// pipeline binary format and the third-party Tardis.dev CSV export.
//
//   - tickbin: a compact binary format, one file per (instrument, channel,
//     day), written by the capture pipeline. Grounded on
//     original_source/src/apex/backtest/TickbinFileReader.cpp/.hpp and
//     TickbinMsgs.hpp/.cpp.
//   - Tardis CSV: the third-party historical dataset format Tardis.dev
//     publishes (gzip'd CSV, one row per book snapshot or trade), grounded
//     on original_source/src/apex/backtest/TardisCsvParsers.cpp/.hpp.
//
// Both readers expose a bufio.Reader-backed Scanner/Next()/record pattern
// grounded on NimbleMarkets-dbn-go's DbnScanner (dbn_scanner.go): a single
// reused scratch buffer a bufio.Reader fills, rather than the original's
// mmap'd-file-plus-raw-pointer-arithmetic approach, which has no idiomatic
// Go equivalent worth reaching for.
package tick

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/automatedalgo/apex-sub000/internal/apexclock"
	"github.com/automatedalgo/apex-sub000/pkg/types"
)

// MsgType discriminates a tickbin record's body layout.
type MsgType uint8

const (
	MsgNone         MsgType = 0
	MsgTickLevel1   MsgType = 1
	MsgTickAggTrade MsgType = 2
)

const (
	recordHeaderSize   = 10 // capture_time (u64) + msg_type (u8) + size (u8)
	level1BodySize     = 32 // 4 x float64
	aggTradeBodySize   = 28 // price, qty (f64) + et (u64) + side (u8) + 3 pad
	fileHeaderLeadSize = 16 // 8-byte version field + 8-byte ascii length field
)

// Level1 is a top-of-book snapshot.
type Level1 struct {
	CaptureTime apexclock.Time
	AskPrice    decimal.Decimal
	AskQty      decimal.Decimal
	BidPrice    decimal.Decimal
	BidQty      decimal.Decimal
}

// AggTrade is an aggregated trade print.
type AggTrade struct {
	CaptureTime apexclock.Time
	EventTime   apexclock.Time
	Price       decimal.Decimal
	Qty         decimal.Decimal
	Side        types.Side
}

// FileHeader is the parsed tickbin file preamble: a format version and
// arbitrary capture metadata (instrument, channel, date) the writer chose
// to embed.
type FileHeader struct {
	Version string
	Meta    json.RawMessage
}

// Scanner reads sequential tickbin records from a stream, decoding the file
// header once on first use and each record's body into the concrete
// Level1/AggTrade type its msg_type indicates.
type Scanner struct {
	r       *bufio.Reader
	header  *FileHeader
	scratch []byte

	lastErr  error
	lastType MsgType
	lastTime apexclock.Time
	level1   Level1
	trade    AggTrade
}

// NewScanner wraps r. The caller is responsible for closing the underlying
// file, if any.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{
		r:       bufio.NewReaderSize(r, 64*1024),
		scratch: make([]byte, aggTradeBodySize), // grown in Next if a body is ever larger
	}
}

// Header returns the file's parsed preamble, reading it from the stream on
// first call.
func (s *Scanner) Header() (*FileHeader, error) {
	if s.header != nil {
		return s.header, nil
	}
	lead := make([]byte, fileHeaderLeadSize)
	if _, err := io.ReadFull(s.r, lead); err != nil {
		return nil, fmt.Errorf("tick: read file header lead: %w", err)
	}
	version := strings.TrimSpace(string(lead[0:8]))
	totalLen, err := strconv.ParseUint(strings.TrimSpace(string(lead[8:16])), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("tick: parse file header length: %w", err)
	}
	if totalLen < fileHeaderLeadSize {
		return nil, fmt.Errorf("tick: file header length %d shorter than lead", totalLen)
	}
	metaBuf := make([]byte, totalLen-fileHeaderLeadSize)
	if _, err := io.ReadFull(s.r, metaBuf); err != nil {
		return nil, fmt.Errorf("tick: read file header meta: %w", err)
	}
	// The meta region is padded with trailing NUL/whitespace up to totalLen;
	// trim to the valid JSON prefix before storing.
	trimmed := trimNulAndSpace(metaBuf)
	s.header = &FileHeader{Version: version, Meta: json.RawMessage(trimmed)}
	return s.header, nil
}

// Next reads the next record. Returns false at EOF or on error; call Err to
// distinguish the two.
func (s *Scanner) Next() bool {
	if s.header == nil {
		if _, err := s.Header(); err != nil {
			s.lastErr = err
			return false
		}
	}

	head := make([]byte, recordHeaderSize)
	if _, err := io.ReadFull(s.r, head); err != nil {
		if err != io.EOF {
			s.lastErr = err
		}
		return false
	}
	captureUS := int64(binary.LittleEndian.Uint64(head[0:8]))
	msgType := MsgType(head[8])
	size := int(head[9])
	bodyLen := size - recordHeaderSize
	if bodyLen < 0 {
		s.lastErr = fmt.Errorf("tick: record size %d shorter than header", size)
		return false
	}
	if cap(s.scratch) < bodyLen {
		s.scratch = make([]byte, bodyLen)
	}
	body := s.scratch[:bodyLen]
	if _, err := io.ReadFull(s.r, body); err != nil {
		s.lastErr = fmt.Errorf("tick: read record body: %w", err)
		return false
	}

	s.lastType = msgType
	s.lastTime = apexclock.FromUnixMicro(captureUS)

	switch msgType {
	case MsgTickLevel1:
		if bodyLen != level1BodySize {
			s.lastErr = fmt.Errorf("tick: level1 body size %d, want %d", bodyLen, level1BodySize)
			return false
		}
		s.level1 = Level1{
			CaptureTime: s.lastTime,
			AskPrice:    decimal.NewFromFloat(le64Float(body[0:8])),
			AskQty:      decimal.NewFromFloat(le64Float(body[8:16])),
			BidPrice:    decimal.NewFromFloat(le64Float(body[16:24])),
			BidQty:      decimal.NewFromFloat(le64Float(body[24:32])),
		}
	case MsgTickAggTrade:
		if bodyLen != aggTradeBodySize {
			s.lastErr = fmt.Errorf("tick: agg trade body size %d, want %d", bodyLen, aggTradeBodySize)
			return false
		}
		et := int64(binary.LittleEndian.Uint64(body[16:24]))
		s.trade = AggTrade{
			CaptureTime: s.lastTime,
			EventTime:   apexclock.FromUnixMicro(et),
			Price:       decimal.NewFromFloat(le64Float(body[0:8])),
			Qty:         decimal.NewFromFloat(le64Float(body[8:16])),
			Side:        decodeSide(body[24]),
		}
	default:
		s.lastErr = fmt.Errorf("tick: unknown msg type %d", msgType)
		return false
	}

	s.lastErr = nil
	return true
}

// Err returns the error that stopped Next, if any (nil at a clean EOF).
func (s *Scanner) Err() error { return s.lastErr }

// Type reports the record kind Next last decoded.
func (s *Scanner) Type() MsgType { return s.lastType }

// Level1 returns the last decoded top-of-book record. Only valid when
// Type() == MsgTickLevel1.
func (s *Scanner) Level1() Level1 { return s.level1 }

// AggTrade returns the last decoded trade record. Only valid when
// Type() == MsgTickAggTrade.
func (s *Scanner) AggTrade() AggTrade { return s.trade }

func le64Float(b []byte) float64 {
	bits := binary.LittleEndian.Uint64(b)
	return math.Float64frombits(bits)
}

func decodeSide(c byte) types.Side {
	switch c {
	case 'b':
		return types.Buy
	case 's':
		return types.Sell
	default:
		return types.SideNone
	}
}

func encodeSide(s types.Side) byte {
	switch s {
	case types.Buy:
		return 'b'
	case types.Sell:
		return 's'
	default:
		return ' '
	}
}

func trimNulAndSpace(b []byte) []byte {
	end := len(b)
	for end > 0 && (b[end-1] == 0 || b[end-1] == ' ' || b[end-1] == '\n') {
		end--
	}
	return b[:end]
}
