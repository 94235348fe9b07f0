// Package replay feeds recorded market data into a backtest run by
// implementing eventloop.Source over the tick-data files internal/tick
// reads, ported from original_source/src/apex/backtest/TickReplayer.{hpp,cpp}
// and its file-per-day layout convention ("<root>/<channel>/<exchange>/
// <symbol>/<yyyy>/<mm>/<dd>.<ext>").
//
// One Sequencer replays a single (instrument, channel) series; a backtest
// registers one per channel it cares about via eventloop.Backtest.AddSource,
// and the loop's earliest-source merge interleaves them automatically.
package replay

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"github.com/automatedalgo/apex-sub000/internal/apexclock"
	"github.com/automatedalgo/apex-sub000/internal/instrument"
	"github.com/automatedalgo/apex-sub000/internal/marketdata"
	"github.com/automatedalgo/apex-sub000/internal/tick"
)

// Format selects which on-disk tick-data format a channel's files are
// stored in.
type Format int

const (
	// FormatTickbin reads the capture pipeline's compact binary format,
	// which carries both top-of-book and trade records in one file.
	FormatTickbin Format = iota
	// FormatTardisBookSnapshot reads Tardis.dev's gzip'd "book_snapshot_5"
	// CSV export.
	FormatTardisBookSnapshot
	// FormatTardisTrades reads Tardis.dev's gzip'd "trades" CSV export.
	FormatTardisTrades
)

func (f Format) channelDir() string {
	switch f {
	case FormatTickbin:
		return "tickbin"
	case FormatTardisBookSnapshot:
		return "book_snapshot_5"
	case FormatTardisTrades:
		return "trades"
	default:
		return "unknown"
	}
}

func (f Format) ext() string {
	if f == FormatTickbin {
		return ".bin"
	}
	return ".csv.gz"
}

// dayFeed is one opened day's file, abstracting over the three concrete
// reader types so Sequencer's merge logic doesn't need to know which one
// it holds.
type dayFeed interface {
	next() bool
	err() error
	currentTime() apexclock.Time
	applyTo(inst instrument.Instrument, md *marketdata.Registry, onTrade func(price, size decimal.Decimal))
	close() error
}

type tickbinDayFeed struct {
	f       *os.File
	scanner *tick.Scanner
}

func openTickbinDay(path string) (dayFeed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &tickbinDayFeed{f: f, scanner: tick.NewScanner(f)}, nil
}

func (d *tickbinDayFeed) next() bool { return d.scanner.Next() }
func (d *tickbinDayFeed) err() error { return d.scanner.Err() }
func (d *tickbinDayFeed) currentTime() apexclock.Time {
	switch d.scanner.Type() {
	case tick.MsgTickLevel1:
		return d.scanner.Level1().CaptureTime
	case tick.MsgTickAggTrade:
		return d.scanner.AggTrade().CaptureTime
	default:
		return apexclock.Empty
	}
}
func (d *tickbinDayFeed) applyTo(inst instrument.Instrument, md *marketdata.Registry, onTrade func(price, size decimal.Decimal)) {
	switch d.scanner.Type() {
	case tick.MsgTickLevel1:
		l1 := d.scanner.Level1()
		md.ApplyTop(inst, marketdata.Top{BidPrice: l1.BidPrice, AskPrice: l1.AskPrice, Time: l1.CaptureTime})
	case tick.MsgTickAggTrade:
		t := d.scanner.AggTrade()
		md.ApplyTrade(inst, marketdata.Trade{Price: t.Price, Size: t.Qty, Side: string(t.Side), Time: t.CaptureTime})
		if onTrade != nil {
			onTrade(t.Price, t.Qty)
		}
	}
}
func (d *tickbinDayFeed) close() error { return d.f.Close() }

type tardisBookDayFeed struct {
	f   *os.File
	r   *tick.BookSnapshotReader
	rec tick.BookSnapshot5
}

func openTardisBookDay(path string) (dayFeed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := tick.NewBookSnapshotReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &tardisBookDayFeed{f: f, r: r}, nil
}

func (d *tardisBookDayFeed) next() bool {
	if !d.r.Next() {
		return false
	}
	d.rec = d.r.Record()
	return true
}
func (d *tardisBookDayFeed) err() error                  { return d.r.Err() }
func (d *tardisBookDayFeed) currentTime() apexclock.Time { return d.rec.Timestamp }
func (d *tardisBookDayFeed) applyTo(inst instrument.Instrument, md *marketdata.Registry, _ func(price, size decimal.Decimal)) {
	best := d.rec.Levels[0]
	md.ApplyTop(inst, marketdata.Top{BidPrice: best.BidPrice, AskPrice: best.AskPrice, Time: d.rec.Timestamp})
}
func (d *tardisBookDayFeed) close() error {
	d.r.Close()
	return d.f.Close()
}

type tardisTradeDayFeed struct {
	f   *os.File
	r   *tick.TradeReader
	rec tick.Trade
}

func openTardisTradeDay(path string) (dayFeed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := tick.NewTradeReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &tardisTradeDayFeed{f: f, r: r}, nil
}

func (d *tardisTradeDayFeed) next() bool {
	if !d.r.Next() {
		return false
	}
	d.rec = d.r.Record()
	return true
}
func (d *tardisTradeDayFeed) err() error                  { return d.r.Err() }
func (d *tardisTradeDayFeed) currentTime() apexclock.Time { return d.rec.Timestamp }
func (d *tardisTradeDayFeed) applyTo(inst instrument.Instrument, md *marketdata.Registry, onTrade func(price, size decimal.Decimal)) {
	md.ApplyTrade(inst, marketdata.Trade{Price: d.rec.Price, Size: d.rec.Qty, Side: string(d.rec.Side), Time: d.rec.Timestamp})
	if onTrade != nil {
		onTrade(d.rec.Price, d.rec.Qty)
	}
}
func (d *tardisTradeDayFeed) close() error {
	d.r.Close()
	return d.f.Close()
}

func openDay(root string, inst instrument.Instrument, format Format, day apexclock.Time) (dayFeed, error) {
	path := filepath.Join(root, format.channelDir(), inst.Exchange, inst.NativeSymbol, day.DateBucket()+format.ext())
	switch format {
	case FormatTickbin:
		return openTickbinDay(path)
	case FormatTardisBookSnapshot:
		return openTardisBookDay(path)
	case FormatTardisTrades:
		return openTardisTradeDay(path)
	default:
		return nil, fmt.Errorf("replay: unknown format %d", format)
	}
}

// Sequencer is an eventloop.Source that replays one instrument's one
// channel across a backtest's full time range, transparently rolling from
// one day's file to the next as each is exhausted.
type Sequencer struct {
	logger  *slog.Logger
	root    string
	inst    instrument.Instrument
	format  Format
	md      *marketdata.Registry
	onTrade func(price, size decimal.Decimal)

	days   []apexclock.Time
	dayIdx int
	cur    dayFeed

	pendingTime apexclock.Time
	havePending bool
}

// NewSequencer builds a replay source for inst's channel, stored under root
// in format. onTrade, if non-nil, is invoked for every replayed trade print
// (a backtest wires this to matching.Engine.ApplyTrade to fill resting
// orders against the replay).
func NewSequencer(logger *slog.Logger, root string, inst instrument.Instrument, format Format, md *marketdata.Registry, onTrade func(price, size decimal.Decimal)) *Sequencer {
	return &Sequencer{
		logger:  logger.With("component", "replay-sequencer", "instrument", inst.Key(), "format", format.channelDir()),
		root:    root,
		inst:    inst,
		format:  format,
		md:      md,
		onTrade: onTrade,
	}
}

// InitBacktestTimeRange implements eventloop.Source: it fixes the set of
// daily files the sequencer will walk through, from start's day to end's
// day inclusive (or a single open-ended day if end is empty).
func (s *Sequencer) InitBacktestTimeRange(start, end apexclock.Time) {
	if s.cur != nil {
		s.cur.close()
		s.cur = nil
	}
	s.havePending = false
	s.dayIdx = 0
	s.days = nil

	if start.IsEmpty() {
		return
	}
	startDay := time.Date(start.AsTime().Year(), start.AsTime().Month(), start.AsTime().Day(), 0, 0, 0, 0, time.UTC)
	var endDay time.Time
	if end.IsEmpty() {
		endDay = startDay
	} else {
		endDay = time.Date(end.AsTime().Year(), end.AsTime().Month(), end.AsTime().Day(), 0, 0, 0, 0, time.UTC)
	}
	for d := startDay; !d.After(endDay); d = d.AddDate(0, 0, 1) {
		s.days = append(s.days, apexclock.FromTime(d))
	}
}

// ensurePending advances through days/records until a record is buffered
// or the series is exhausted.
func (s *Sequencer) ensurePending() bool {
	if s.havePending {
		return true
	}
	for s.dayIdx < len(s.days) {
		if s.cur == nil {
			f, err := openDay(s.root, s.inst, s.format, s.days[s.dayIdx])
			if err != nil {
				if !os.IsNotExist(err) {
					s.logger.Warn("failed to open tick-data file, skipping day", "day", s.days[s.dayIdx].DateBucket(), "error", err)
				}
				s.dayIdx++
				continue
			}
			s.cur = f
		}
		if s.cur.next() {
			s.pendingTime = s.cur.currentTime()
			s.havePending = true
			return true
		}
		if err := s.cur.err(); err != nil && err != io.EOF {
			s.logger.Warn("tick-data read error, moving to next day", "day", s.days[s.dayIdx].DateBucket(), "error", err)
		}
		s.cur.close()
		s.cur = nil
		s.dayIdx++
	}
	return false
}

// NextEventTime implements eventloop.Source.
func (s *Sequencer) NextEventTime() apexclock.Time {
	if !s.ensurePending() {
		return apexclock.Empty
	}
	return s.pendingTime
}

// ConsumeNextEvent implements eventloop.Source.
func (s *Sequencer) ConsumeNextEvent() {
	if !s.ensurePending() {
		return
	}
	s.cur.applyTo(s.inst, s.md, s.onTrade)
	s.havePending = false
}

// Close releases the currently open day file, if any. Safe to call after
// the backtest loop has finished driving this sequencer.
func (s *Sequencer) Close() error {
	if s.cur == nil {
		return nil
	}
	err := s.cur.close()
	s.cur = nil
	return err
}
