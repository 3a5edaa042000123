// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flash

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/Thermoquad/miniecu/pkg/alert"
	"github.com/Thermoquad/miniecu/pkg/diag"
	"github.com/Thermoquad/miniecu/pkg/msgs"
	"github.com/Thermoquad/miniecu/pkg/param"
	"github.com/sigurn/crc16"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	// Signature is "paramv10" read as a little-endian uint64
	Signature uint64 = 0x3031766d61726170
	// HeaderSize is the encoded size of the image header
	HeaderSize = 32
	// TerminatorSize is the length of the zero marker after the records
	TerminatorSize = 8

	recordField     = protowire.Number(1)
	recordIDField   = protowire.Number(1)
	recordValField  = protowire.Number(2)
	recordCRCField  = protowire.Number(3)
	maxRecordLength = 64
)

var (
	// ErrNoImage means the partition holds no image of this format. It is
	// the normal state after an erase or a format change.
	ErrNoImage = errors.New("no parameter image")
	// ErrCorruptImage means the record stream could not be parsed
	ErrCorruptImage = errors.New("corrupt parameter image")
)

var crcTable = crc16.MakeTable(crc16.CRC16_XMODEM)

// Header precedes the record stream
type Header struct {
	Signature uint64
	Version   uint32
	Counter   int32
}

// MarshalBinary encodes the header in its fixed little-endian layout
func (h Header) MarshalBinary() ([]byte, error) {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint64(b[0:], h.Signature)
	binary.LittleEndian.PutUint32(b[8:], h.Version)
	binary.LittleEndian.PutUint32(b[12:], uint32(h.Counter))
	return b, nil
}

// UnmarshalBinary decodes a header. Reserved bytes are ignored.
func (h *Header) UnmarshalBinary(b []byte) error {
	if len(b) < HeaderSize {
		return io.ErrUnexpectedEOF
	}
	h.Signature = binary.LittleEndian.Uint64(b[0:])
	h.Version = binary.LittleEndian.Uint32(b[8:])
	h.Counter = int32(binary.LittleEndian.Uint32(b[12:]))
	return nil
}

// Record is one parameter as stored on flash
type Record struct {
	ID    string
	Value param.Value
	CRC   uint16
}

// RecordCRC is the checksum over the padded identifier and the canonical
// value bytes
func RecordCRC(id string, v param.Value) uint16 {
	padded := param.PadID(id)
	crc := crc16.Update(crc16.Init(crcTable), padded[:], crcTable)
	crc = crc16.Update(crc, v.Canonical(), crcTable)
	return crc16.Complete(crc, crcTable)
}

// NewRecord creates a record with its checksum
func NewRecord(id string, v param.Value) Record {
	return Record{ID: param.NormalizeID(id), Value: v, CRC: RecordCRC(id, v)}
}

// Valid reports whether the stored checksum matches the content
func (r Record) Valid() bool {
	return r.CRC == RecordCRC(r.ID, r.Value)
}

// AppendRecord appends the record as a length-delimited field of the
// record stream
func AppendRecord(b []byte, r Record) []byte {
	var body []byte
	body = protowire.AppendTag(body, recordIDField, protowire.BytesType)
	body = protowire.AppendString(body, r.ID)
	body = protowire.AppendTag(body, recordValField, protowire.BytesType)
	body = protowire.AppendBytes(body, msgs.AppendParamValue(nil, r.Value))
	body = protowire.AppendTag(body, recordCRCField, protowire.VarintType)
	body = protowire.AppendVarint(body, uint64(r.CRC))

	b = protowire.AppendTag(b, recordField, protowire.BytesType)
	return protowire.AppendBytes(b, body)
}

// DecodeRecord parses a record body
func DecodeRecord(body []byte) (Record, error) {
	var r Record
	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return r, protowire.ParseError(n)
		}
		body = body[n:]

		switch {
		case num == recordIDField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(body)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			if len(v) > param.IDSize {
				return r, fmt.Errorf("record id too long: %d", len(v))
			}
			r.ID = string(v)
			body = body[n:]
		case num == recordValField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(body)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			val, err := msgs.DecodeParamValue(v)
			if err != nil {
				return r, err
			}
			r.Value = val
			body = body[n:]
		case num == recordCRCField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			r.CRC = uint16(v)
			body = body[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, body)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			body = body[n:]
		}
	}
	return r, nil
}

// LoadReport summarizes a load
type LoadReport struct {
	Counter   int32
	Restored  int
	Corrupted int
	Rejected  int
}

// Config configures an Engine
type Config struct {
	// Version is the parameter table format version stored in the header
	Version uint32
	// CounterID names a parameter that mirrors the save counter
	CounterID string
}

// Engine reads and writes the parameter image on one partition
type Engine struct {
	dev    BlockDevice
	store  *param.Store
	cfg    Config
	diag   diag.Sink
	alerts alert.Reporter

	mu      sync.Mutex
	counter int32
}

// NewEngine creates an engine for the given partition
func NewEngine(dev BlockDevice, store *param.Store, cfg Config, sink diag.Sink, alerts alert.Reporter) *Engine {
	if sink == nil {
		sink = diag.Log
	}
	if alerts == nil {
		alerts = alert.Discard
	}
	return &Engine{dev: dev, store: store, cfg: cfg, diag: sink, alerts: alerts}
}

// Counter returns the generation of the last image saved or loaded
func (e *Engine) Counter() int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counter
}

// Save erases the partition and writes a new image. The counter only
// advances when every page was programmed.
func (e *Engine) Save() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.dev.Erase(0, e.dev.PageCount()); err != nil {
		e.alerts.SetComponentStatus(alert.Flash, alert.Fail)
		e.diag.Printf(diag.Fail, "config erase error")
		return fmt.Errorf("erase config: %w", err)
	}

	next := e.counter + 1
	w := NewPageWriter(e.dev)
	if err := e.writeImage(w, next); err != nil {
		e.alerts.SetComponentStatus(alert.Flash, alert.Fail)
		e.diag.Printf(diag.Fail, "parameter save error")
		return fmt.Errorf("save parameters: %w", err)
	}

	e.counter = next
	e.publishCounter()
	e.alerts.SetComponentStatus(alert.Flash, alert.Normal)
	e.diag.Printf(diag.Info, "parameters saved #%d, %d bytes", next, w.Written())
	return nil
}

func (e *Engine) writeImage(w *PageWriter, counter int32) error {
	hdr, _ := Header{Signature: Signature, Version: e.cfg.Version, Counter: counter}.MarshalBinary()
	if _, err := w.Write(hdr); err != nil {
		return err
	}

	var buf []byte
	for i := 0; i < e.store.Count(); i++ {
		flags, err := e.store.Flags(i)
		if err != nil || flags&(param.NoSave|param.ReadOnly) != 0 {
			continue
		}
		id, v, err := e.store.GetByIndex(i)
		if err != nil {
			continue
		}
		buf = AppendRecord(buf[:0], NewRecord(id, v))
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}

	if _, err := w.Write(make([]byte, TerminatorSize)); err != nil {
		return err
	}
	return w.Flush()
}

// Load reads the image and applies every valid record through the store.
// A missing or foreign image returns ErrNoImage and leaves the store alone.
// Records with a bad checksum or a rejected value are skipped.
func (e *Engine) Load() (LoadReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var report LoadReport
	r := NewPageReader(e.dev)

	raw := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		e.alerts.SetComponentStatus(alert.Flash, alert.Fail)
		e.diag.Printf(diag.Fail, "parameter read error")
		return report, fmt.Errorf("read header: %w", err)
	}

	var hdr Header
	_ = hdr.UnmarshalBinary(raw)
	if hdr.Signature != Signature || hdr.Version != e.cfg.Version {
		e.diag.Printf(diag.Warn, "unknown parameter header")
		return report, ErrNoImage
	}

	e.counter = hdr.Counter
	report.Counter = hdr.Counter
	e.publishCounter()

	if err := e.readRecords(r, &report); err != nil {
		e.alerts.SetComponentStatus(alert.Flash, alert.Fail)
		e.diag.Printf(diag.Fail, "parameter load error")
		return report, err
	}

	e.diag.Printf(diag.Info, "parameters loaded #%d", hdr.Counter)
	return report, nil
}

func (e *Engine) readRecords(r *PageReader, report *LoadReport) error {
	for {
		tag, err := binary.ReadUvarint(r)
		if err != nil {
			return fmt.Errorf("%w: offset %d: %v", ErrCorruptImage, r.Offset(), err)
		}
		if tag == 0 {
			return nil
		}

		num, typ := protowire.DecodeTag(tag)
		if num != recordField || typ != protowire.BytesType {
			return fmt.Errorf("%w: offset %d: unexpected field %d", ErrCorruptImage, r.Offset(), num)
		}
		size, err := binary.ReadUvarint(r)
		if err != nil || size > maxRecordLength {
			return fmt.Errorf("%w: offset %d: bad record length", ErrCorruptImage, r.Offset())
		}
		body := make([]byte, size)
		if _, err := io.ReadFull(r, body); err != nil {
			return fmt.Errorf("%w: offset %d: %v", ErrCorruptImage, r.Offset(), err)
		}

		rec, err := DecodeRecord(body)
		if err != nil || !rec.Valid() {
			report.Corrupted++
			e.diag.Printf(diag.Fail, "parameter CRC error '%s'", printableID(rec.ID))
			continue
		}

		if err := e.store.Set(rec.ID, rec.Value); err != nil {
			report.Rejected++
			e.diag.Printf(diag.Warn, "parameter '%s' set error", rec.ID)
			continue
		}
		report.Restored++
	}
}

// Erase clears the partition. The counter is kept so the next save still
// advances it.
func (e *Engine) Erase() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.dev.Erase(0, e.dev.PageCount()); err != nil {
		e.alerts.SetComponentStatus(alert.Flash, alert.Fail)
		e.diag.Printf(diag.Fail, "config erase error")
		return fmt.Errorf("erase config: %w", err)
	}
	e.diag.Printf(diag.Info, "config erased")
	return nil
}

func (e *Engine) publishCounter() {
	if e.cfg.CounterID == "" {
		return
	}
	_ = e.store.Assign(e.cfg.CounterID, param.Int32Value(e.counter))
}

func printableID(id string) string {
	return string(bytes.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7E {
			return '?'
		}
		return r
	}, []byte(id)))
}
