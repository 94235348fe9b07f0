package tick

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/automatedalgo/apex-sub000/internal/apexclock"
)

// Writer produces a tickbin file: a file header carrying arbitrary capture
// metadata, followed by a stream of Level1/AggTrade records. Used by the
// capture pipeline and by tests that need fixture tickbin files without
// shelling out to the real capture tooling.
type Writer struct {
	w   io.Writer
	err error
}

// NewWriter wraps w. WriteHeader must be called exactly once before any
// WriteLevel1/WriteAggTrade call.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteHeader emits the file-lead and metadata block. version is padded or
// truncated to 8 bytes.
func (w *Writer) WriteHeader(version string, meta any) error {
	if w.err != nil {
		return w.err
	}
	body, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("tick: marshal file header meta: %w", err)
	}
	totalLen := fileHeaderLeadSize + len(body)

	lead := make([]byte, fileHeaderLeadSize)
	copy(lead[0:8], fmt.Sprintf("%-8s", version))
	copy(lead[8:16], fmt.Sprintf("%-8d", totalLen))

	if _, err := w.w.Write(lead); err != nil {
		w.err = err
		return err
	}
	if _, err := w.w.Write(body); err != nil {
		w.err = err
		return err
	}
	return nil
}

// WriteLevel1 appends a top-of-book record.
func (w *Writer) WriteLevel1(rec Level1) error {
	if w.err != nil {
		return w.err
	}
	body := make([]byte, level1BodySize)
	putLE64Float(body[0:8], rec.AskPrice.InexactFloat64())
	putLE64Float(body[8:16], rec.AskQty.InexactFloat64())
	putLE64Float(body[16:24], rec.BidPrice.InexactFloat64())
	putLE64Float(body[24:32], rec.BidQty.InexactFloat64())
	return w.writeRecord(rec.CaptureTime, MsgTickLevel1, body)
}

// WriteAggTrade appends a trade record.
func (w *Writer) WriteAggTrade(rec AggTrade) error {
	if w.err != nil {
		return w.err
	}
	body := make([]byte, aggTradeBodySize)
	putLE64Float(body[0:8], rec.Price.InexactFloat64())
	putLE64Float(body[8:16], rec.Qty.InexactFloat64())
	binary.LittleEndian.PutUint64(body[16:24], uint64(rec.EventTime.UnixMicro()))
	body[24] = encodeSide(rec.Side)
	return w.writeRecord(rec.CaptureTime, MsgTickAggTrade, body)
}

func (w *Writer) writeRecord(t apexclock.Time, msgType MsgType, body []byte) error {
	head := make([]byte, recordHeaderSize)
	binary.LittleEndian.PutUint64(head[0:8], uint64(t.UnixMicro()))
	head[8] = byte(msgType)
	head[9] = byte(recordHeaderSize + len(body))
	if _, err := w.w.Write(head); err != nil {
		w.err = err
		return err
	}
	if _, err := w.w.Write(body); err != nil {
		w.err = err
		return err
	}
	return nil
}

func putLE64Float(b []byte, f float64) {
	binary.LittleEndian.PutUint64(b, math.Float64bits(f))
}
