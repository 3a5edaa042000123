// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flash

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Thermoquad/miniecu/pkg/alert"
	"github.com/Thermoquad/miniecu/pkg/diag"
	"github.com/Thermoquad/miniecu/pkg/param"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testVersion = 0x00010100

var testConfig = Config{Version: testVersion, CounterID: "SAVE_COUNT"}

func testTable() []param.Entry {
	return []param.Entry{
		param.StringEntry("ENGINE_NAME", "mfg & name", nil),
		param.StringEntry("ECU_SERIAL", "SN0001", nil).WithFlags(param.ReadOnly),
		param.Int32Entry("ENGINE_ID", 1, 1, 255, nil),
		param.FloatEntry("BATT_VD1_VD", 0.45, 0, 1, nil),
		param.Int32Entry("BATT_CELLS", 2, 1, 10, nil),
		param.StringEntry("BATT_TYPE", "NiMH", nil),
		param.BoolEntry("DEBUG_ADC_RAW", false, nil).WithFlags(param.NoSave),
		param.Int32Entry("SAVE_COUNT", 0, math.MinInt32, math.MaxInt32, nil).WithFlags(param.ReadOnly | param.NoSave),
	}
}

func newStore(t *testing.T) *param.Store {
	t.Helper()
	s, err := param.NewStore(testTable(), &diag.Recorder{})
	require.NoError(t, err)
	s.Init()
	return s
}

func get(t *testing.T, s *param.Store, id string) param.Value {
	t.Helper()
	v, _, err := s.Get(id)
	require.NoError(t, err)
	return v
}

// ============================================================
// Device Tests
// ============================================================

func TestMemDevice_ErasedAndProgram(t *testing.T) {
	dev := NewMemDevice(2, 8)
	buf := make([]byte, 8)

	require.NoError(t, dev.ReadPage(1, buf))
	assert.Equal(t, bytes.Repeat([]byte{0xFF}, 8), buf)

	require.NoError(t, dev.WritePage(1, []byte{0xF0, 0x0F, 0, 0xFF, 1, 2, 3, 4}))
	// programming only clears bits
	require.NoError(t, dev.WritePage(1, []byte{0x3C, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}))
	require.NoError(t, dev.ReadPage(1, buf))
	assert.Equal(t, []byte{0x30, 0x0F, 0, 0xFF, 1, 2, 3, 4}, buf)

	require.NoError(t, dev.Erase(1, 1))
	require.NoError(t, dev.ReadPage(1, buf))
	assert.Equal(t, bytes.Repeat([]byte{0xFF}, 8), buf)
}

func TestMemDevice_Bounds(t *testing.T) {
	dev := NewMemDevice(2, 8)
	assert.ErrorIs(t, dev.ReadPage(2, make([]byte, 8)), ErrPageRange)
	assert.ErrorIs(t, dev.ReadPage(-1, make([]byte, 8)), ErrPageRange)
	assert.ErrorIs(t, dev.WritePage(0, make([]byte, 7)), ErrPageSize)
	assert.ErrorIs(t, dev.Erase(1, 2), ErrPageRange)
}

func TestPartition_Offsets(t *testing.T) {
	dev := NewMemDevice(8, 4)
	p, err := NewPartition(dev, "mid", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, p.PageCount())

	require.NoError(t, p.WritePage(0, []byte{1, 2, 3, 4}))
	assert.Equal(t, []byte{1, 2, 3, 4}, dev.Bytes()[8:12])

	assert.ErrorIs(t, p.WritePage(3, []byte{1, 2, 3, 4}), ErrPageRange)

	require.NoError(t, p.EraseAll())
	assert.Equal(t, bytes.Repeat([]byte{0xFF}, 32), dev.Bytes())

	rest, err := NewPartition(dev, "rest", 5, -1)
	require.NoError(t, err)
	assert.Equal(t, 3, rest.PageCount())

	_, err = NewPartition(dev, "big", 6, 3)
	assert.Error(t, err)
}

func TestNewLayout(t *testing.T) {
	dev := NewMemDevice(512, 256)
	l, err := NewLayout(dev)
	require.NoError(t, err)

	assert.Equal(t, 0, l.Config.Start())
	assert.Equal(t, 64, l.Config.PageCount())
	assert.Equal(t, 64, l.Error.Start())
	assert.Equal(t, 256, l.Error.PageCount())
	assert.Equal(t, 320, l.Log.Start())
	assert.Equal(t, 192, l.Log.PageCount())

	_, err = NewLayout(NewMemDevice(320, 256))
	assert.Error(t, err, "no room for the log partition")

	_, err = NewLayout(NewMemDevice(1024, 300))
	assert.Error(t, err)
}

func TestFileDevice_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.bin")

	dev := NewFileDevice(path, 4, 16)
	assert.ErrorIs(t, dev.ReadPage(0, make([]byte, 16)), ErrNotConnected)
	require.NoError(t, dev.Connect())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(64), info.Size())

	page := bytes.Repeat([]byte{0x5A}, 16)
	require.NoError(t, dev.WritePage(2, page))
	require.NoError(t, dev.Close())

	reopened := NewFileDevice(path, 4, 16)
	require.NoError(t, reopened.Connect())
	defer reopened.Close()

	buf := make([]byte, 16)
	require.NoError(t, reopened.ReadPage(2, buf))
	assert.Equal(t, page, buf)
	require.NoError(t, reopened.ReadPage(1, buf))
	assert.Equal(t, bytes.Repeat([]byte{0xFF}, 16), buf)

	require.NoError(t, reopened.Erase(2, 1))
	require.NoError(t, reopened.ReadPage(2, buf))
	assert.Equal(t, bytes.Repeat([]byte{0xFF}, 16), buf)
}

func TestFileDevice_GeometryMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 10), 0o644))

	assert.Error(t, NewFileDevice(path, 4, 16).Connect())
}

// ============================================================
// Page Stream Tests
// ============================================================

func TestPageWriter_PadsLastPage(t *testing.T) {
	dev := NewMemDevice(4, 8)
	w := NewPageWriter(dev)

	n, err := w.Write([]byte("0123456789AB"))
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	assert.Equal(t, 1, w.Pages(), "only the full page is flushed")

	require.NoError(t, w.Flush())
	assert.Equal(t, 2, w.Pages())
	assert.Equal(t, 12, w.Written())

	expected := append([]byte("0123456789AB"), 0xFF, 0xFF, 0xFF, 0xFF)
	assert.Equal(t, expected, dev.Bytes()[:16])

	// nothing buffered, nothing written
	require.NoError(t, w.Flush())
	assert.Equal(t, 2, w.Pages())
}

func TestPageWriter_PartitionFull(t *testing.T) {
	dev := NewMemDevice(2, 4)
	w := NewPageWriter(dev)

	n, err := w.Write(make([]byte, 8))
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	n, err = w.Write([]byte{1})
	assert.ErrorIs(t, err, ErrPartitionFull)
	assert.Zero(t, n)
	assert.Equal(t, 2, w.Pages())

	w = NewPageWriter(NewMemDevice(2, 4))
	n, err = w.Write(make([]byte, 9))
	assert.ErrorIs(t, err, ErrPartitionFull)
	assert.Equal(t, 8, n)
}

func TestPageWriter_ExactFit(t *testing.T) {
	dev := NewMemDevice(2, 4)
	w := NewPageWriter(dev)

	_, err := w.Write([]byte("abcdefgh"))
	require.NoError(t, err)
	require.NoError(t, w.Flush())
	assert.Equal(t, []byte("abcdefgh"), dev.Bytes())
}

func TestPageReader_CrossesPages(t *testing.T) {
	dev := NewMemDevice(3, 4)
	data := []byte("abcdefghijkl")
	w := NewPageWriter(dev)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Flush())

	r := NewPageReader(dev)
	first := make([]byte, 3)
	_, err = io.ReadFull(r, first)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), first)

	b, err := r.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte('d'), b)

	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, []byte("efghijkl"), rest)
	assert.Equal(t, 12, r.Offset())

	_, err = r.ReadByte()
	assert.ErrorIs(t, err, io.EOF)
}

// ============================================================
// Record Tests
// ============================================================

func TestHeader_Layout(t *testing.T) {
	b, err := Header{Signature: Signature, Version: testVersion, Counter: -2}.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, HeaderSize)

	assert.Equal(t, "paramv10", string(b[:8]))
	assert.Equal(t, []byte{0x00, 0x01, 0x01, 0x00}, b[8:12])
	assert.Equal(t, []byte{0xFE, 0xFF, 0xFF, 0xFF}, b[12:16])
	assert.Equal(t, make([]byte, 16), b[16:])

	var h Header
	require.NoError(t, h.UnmarshalBinary(b))
	assert.Equal(t, int32(-2), h.Counter)
}

func TestRecord_RoundTrip(t *testing.T) {
	for _, v := range []param.Value{
		param.BoolValue(true),
		param.Int32Value(-7),
		param.FloatValue(0.45),
		param.StringValue("LiPo"),
	} {
		rec := NewRecord("BATT_TYPE", v)
		require.True(t, rec.Valid())

		data := AppendRecord(nil, rec)
		// skip field tag and length
		decoded, err := DecodeRecord(data[2:])
		require.NoError(t, err)
		assert.Equal(t, rec, decoded)
	}
}

func TestRecordCRC_CoversIDAndValue(t *testing.T) {
	base := RecordCRC("BATT_CELLS", param.Int32Value(4))
	assert.NotEqual(t, base, RecordCRC("BATT_CELLZ", param.Int32Value(4)))
	assert.NotEqual(t, base, RecordCRC("BATT_CELLS", param.Int32Value(5)))
	assert.NotEqual(t, base, RecordCRC("BATT_CELLS", param.FloatValue(4)))
}

// ============================================================
// Engine Tests
// ============================================================

func TestEngine_SaveLoadScenario(t *testing.T) {
	dev := NewMemDevice(8, 64)

	s := newStore(t)
	require.NoError(t, s.Set("BATT_CELLS", param.Int32Value(4)))
	require.NoError(t, s.Set("BATT_TYPE", param.StringValue("LiPo")))
	require.NoError(t, NewEngine(dev, s, testConfig, nil, nil).Save())

	// power cycle
	fresh := newStore(t)
	report, err := NewEngine(dev, fresh, testConfig, nil, nil).Load()
	require.NoError(t, err)

	assert.Equal(t, param.Int32Value(4), get(t, fresh, "BATT_CELLS"))
	assert.Equal(t, param.StringValue("LiPo"), get(t, fresh, "BATT_TYPE"))
	assert.Equal(t, int32(1), report.Counter)
	assert.Equal(t, 5, report.Restored)
	assert.Zero(t, report.Corrupted)
	assert.Zero(t, report.Rejected)
}

func TestEngine_ImageLayout(t *testing.T) {
	dev := NewMemDevice(8, 64)
	s := newStore(t)
	require.NoError(t, NewEngine(dev, s, testConfig, nil, nil).Save())

	expected, _ := Header{Signature: Signature, Version: testVersion, Counter: 1}.MarshalBinary()
	for _, id := range []string{"ENGINE_NAME", "ENGINE_ID", "BATT_VD1_VD", "BATT_CELLS", "BATT_TYPE"} {
		expected = AppendRecord(expected, NewRecord(id, get(t, s, id)))
	}
	expected = append(expected, make([]byte, TerminatorSize)...)

	img := dev.Bytes()
	assert.Equal(t, expected, img[:len(expected)])

	// tail of the last written page is padded, later pages untouched
	assert.Equal(t, bytes.Repeat([]byte{0xFF}, len(img)-len(expected)), img[len(expected):])

	for _, id := range []string{"DEBUG_ADC_RAW", "SAVE_COUNT", "ECU_SERIAL"} {
		assert.False(t, bytes.Contains(img, []byte(id)), "%s must not be saved", id)
	}
}

func TestEngine_NoSaveNotRestored(t *testing.T) {
	dev := NewMemDevice(8, 64)
	s := newStore(t)
	require.NoError(t, s.Set("DEBUG_ADC_RAW", param.BoolValue(true)))
	require.NoError(t, NewEngine(dev, s, testConfig, nil, nil).Save())

	fresh := newStore(t)
	_, err := NewEngine(dev, fresh, testConfig, nil, nil).Load()
	require.NoError(t, err)
	assert.Equal(t, param.BoolValue(false), get(t, fresh, "DEBUG_ADC_RAW"))
}

func TestEngine_CounterAdvancesAndMirrors(t *testing.T) {
	dev := NewMemDevice(8, 64)
	s := newStore(t)
	e := NewEngine(dev, s, testConfig, nil, nil)

	require.NoError(t, e.Save())
	require.NoError(t, e.Save())
	assert.Equal(t, int32(2), e.Counter())
	assert.Equal(t, param.Int32Value(2), get(t, s, "SAVE_COUNT"))

	fresh := newStore(t)
	e2 := NewEngine(dev, fresh, testConfig, nil, nil)
	report, err := e2.Load()
	require.NoError(t, err)
	assert.Equal(t, int32(2), report.Counter)
	assert.Equal(t, param.Int32Value(2), get(t, fresh, "SAVE_COUNT"))

	require.NoError(t, e2.Save())
	assert.Equal(t, int32(3), e2.Counter())
}

func TestEngine_WriteFailureKeepsCounter(t *testing.T) {
	dev := NewMemDevice(8, 64)
	board := alert.NewBoard()
	rec := &diag.Recorder{}
	s := newStore(t)
	e := NewEngine(dev, s, testConfig, rec, board)

	require.NoError(t, e.Save())
	assert.Equal(t, alert.Normal, board.ComponentStatus(alert.Flash))

	dev.SetWriteFault(func(page int) error {
		if page == 1 {
			return errors.New("program failed")
		}
		return nil
	})
	err := e.Save()
	require.Error(t, err)

	assert.Equal(t, int32(1), e.Counter())
	assert.Equal(t, param.Int32Value(1), get(t, s, "SAVE_COUNT"))
	assert.Equal(t, alert.Fail, board.ComponentStatus(alert.Flash))
	assert.True(t, rec.Contains("parameter save error"))

	dev.SetWriteFault(nil)
	require.NoError(t, e.Save())
	assert.Equal(t, int32(2), e.Counter())
}

func TestEngine_SaveOverflowsPartition(t *testing.T) {
	dev := NewMemDevice(2, 16)
	board := alert.NewBoard()
	rec := &diag.Recorder{}
	s := newStore(t)
	e := NewEngine(dev, s, testConfig, rec, board)

	err := e.Save()
	require.ErrorIs(t, err, ErrPartitionFull)
	assert.Zero(t, e.Counter())
	assert.Equal(t, alert.Fail, board.ComponentStatus(alert.Flash))
	assert.True(t, rec.Contains("parameter save error"))

	_, err = NewEngine(dev, newStore(t), testConfig, nil, nil).Load()
	assert.Error(t, err)
}

func TestEngine_HeaderRejection(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(dev *MemDevice)
		cfg    Config
	}{
		{"erased", func(dev *MemDevice) { require.NoError(t, dev.Erase(0, dev.PageCount())) }, testConfig},
		{"signature", func(dev *MemDevice) { dev.Poke(0, []byte{'P'}) }, testConfig},
		{"version", func(dev *MemDevice) {}, Config{Version: testVersion + 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := NewMemDevice(8, 64)
			s := newStore(t)
			require.NoError(t, s.Set("BATT_CELLS", param.Int32Value(9)))
			require.NoError(t, NewEngine(dev, s, testConfig, nil, nil).Save())
			tt.mutate(dev)

			rec := &diag.Recorder{}
			fresh := newStore(t)
			_, err := NewEngine(dev, fresh, tt.cfg, rec, nil).Load()
			assert.ErrorIs(t, err, ErrNoImage)
			assert.True(t, rec.Contains("unknown parameter header"))

			for i := 0; i < fresh.Count(); i++ {
				e, _ := fresh.Entry(i)
				_, v, _ := fresh.GetByIndex(i)
				if e.Flags&param.ReadOnly == 0 {
					assert.Equal(t, e.Default, v, e.ID)
				}
			}
		})
	}
}

func TestEngine_CorruptRecordSkipped(t *testing.T) {
	dev := NewMemDevice(8, 64)
	s := newStore(t)
	require.NoError(t, s.Set("BATT_CELLS", param.Int32Value(4)))
	require.NoError(t, s.Set("BATT_TYPE", param.StringValue("LiPo")))
	require.NoError(t, s.Set("ENGINE_ID", param.Int32Value(7)))
	require.NoError(t, NewEngine(dev, s, testConfig, nil, nil).Save())

	off := bytes.Index(dev.Bytes(), []byte("BATT_TYPE"))
	require.Positive(t, off)
	dev.Poke(off, []byte{'X'})

	rec := &diag.Recorder{}
	fresh := newStore(t)
	report, err := NewEngine(dev, fresh, testConfig, rec, nil).Load()
	require.NoError(t, err)

	assert.Equal(t, 1, report.Corrupted)
	assert.Equal(t, 4, report.Restored)
	assert.True(t, rec.Contains("parameter CRC error 'XATT_TYPE'"))

	assert.Equal(t, param.StringValue("NiMH"), get(t, fresh, "BATT_TYPE"))
	assert.Equal(t, param.Int32Value(4), get(t, fresh, "BATT_CELLS"))
	assert.Equal(t, param.Int32Value(7), get(t, fresh, "ENGINE_ID"))
}

func TestEngine_RejectedRecordSkipped(t *testing.T) {
	dev := NewMemDevice(4, 64)

	img, _ := Header{Signature: Signature, Version: testVersion, Counter: 5}.MarshalBinary()
	img = AppendRecord(img, NewRecord("BATT_CELLS", param.Int32Value(50)))
	img = AppendRecord(img, NewRecord("NO_SUCH_PARAM", param.Int32Value(1)))
	img = AppendRecord(img, NewRecord("ENGINE_ID", param.Int32Value(3)))
	img = append(img, make([]byte, TerminatorSize)...)

	w := NewPageWriter(dev)
	_, err := w.Write(img)
	require.NoError(t, err)
	require.NoError(t, w.Flush())

	rec := &diag.Recorder{}
	s := newStore(t)
	report, err := NewEngine(dev, s, testConfig, rec, nil).Load()
	require.NoError(t, err)

	assert.Equal(t, 2, report.Rejected)
	assert.Equal(t, 1, report.Restored)
	assert.Equal(t, param.Int32Value(2), get(t, s, "BATT_CELLS"))
	assert.Equal(t, param.Int32Value(3), get(t, s, "ENGINE_ID"))
	assert.True(t, rec.Contains("parameter 'BATT_CELLS' set error"))
}

func TestEngine_TruncatedStreamFails(t *testing.T) {
	dev := NewMemDevice(1, 64)
	hdr, _ := Header{Signature: Signature, Version: testVersion, Counter: 1}.MarshalBinary()
	w := NewPageWriter(dev)
	_, err := w.Write(hdr)
	require.NoError(t, err)
	require.NoError(t, w.Flush())

	board := alert.NewBoard()
	_, err = NewEngine(dev, newStore(t), testConfig, &diag.Recorder{}, board).Load()
	assert.ErrorIs(t, err, ErrCorruptImage)
	assert.Equal(t, alert.Fail, board.ComponentStatus(alert.Flash))
}

func TestEngine_Erase(t *testing.T) {
	dev := NewMemDevice(8, 64)
	s := newStore(t)
	e := NewEngine(dev, s, testConfig, nil, nil)
	require.NoError(t, e.Save())
	require.NoError(t, e.Erase())

	assert.Equal(t, bytes.Repeat([]byte{0xFF}, 8*64), dev.Bytes())

	_, err := e.Load()
	assert.ErrorIs(t, err, ErrNoImage)

	require.NoError(t, e.Save())
	assert.Equal(t, int32(2), e.Counter())
}

// ============================================================
// Worker Tests
// ============================================================

func newWorkerDevice() *MemDevice {
	return NewMemDevice(400, 256)
}

func startWorker(t *testing.T, w *Worker) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitReady(t *testing.T, w *Worker) {
	t.Helper()
	select {
	case <-w.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("worker not ready")
	}
}

func TestWorker_LoadsOnConnect(t *testing.T) {
	dev := newWorkerDevice()
	layout, err := NewLayout(dev)
	require.NoError(t, err)

	s := newStore(t)
	require.NoError(t, s.Set("BATT_CELLS", param.Int32Value(6)))
	require.NoError(t, NewEngine(layout.Config, s, testConfig, nil, nil).Save())

	fresh := newStore(t)
	w := NewWorker(dev, fresh, WorkerConfig{Engine: testConfig}, &diag.Recorder{}, nil)
	startWorker(t, w)
	waitReady(t, w)

	assert.True(t, w.Connected())
	assert.Equal(t, param.Int32Value(6), get(t, fresh, "BATT_CELLS"))
	assert.Equal(t, int32(1), w.Engine().Counter())
}

func TestWorker_RetriesConnect(t *testing.T) {
	dev := newWorkerDevice()
	dev.SetConnectError(errors.New("no chip"))

	board := alert.NewBoard()
	rec := &diag.Recorder{}
	w := NewWorker(dev, newStore(t), WorkerConfig{Engine: testConfig, RetryInterval: 10 * time.Millisecond}, rec, board)
	startWorker(t, w)

	err := w.Do(context.Background(), OpSave)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, alert.Fail, board.ComponentStatus(alert.Flash))
	assert.True(t, rec.Contains("FLASH connection failed"))
	assert.False(t, w.Connected())

	buf := make([]byte, 256)
	assert.ErrorIs(t, w.ReadChipPage(0, buf), ErrNotConnected)

	dev.SetConnectError(nil)
	waitReady(t, w)
	assert.Equal(t, alert.Normal, board.ComponentStatus(alert.Flash))
	assert.NoError(t, w.ReadChipPage(0, buf))
}

func TestWorker_ReadAt(t *testing.T) {
	dev := newWorkerDevice()
	w := NewWorker(dev, newStore(t), WorkerConfig{Engine: testConfig}, &diag.Recorder{}, nil)

	buf := make([]byte, 8)
	_, err := w.ReadAt(buf, 0)
	assert.ErrorIs(t, err, ErrNotConnected)

	startWorker(t, w)
	waitReady(t, w)
	require.NoError(t, w.Do(context.Background(), OpSave))

	// the config image starts with the signature
	n, err := w.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, []byte("paramv10"), buf)

	// a read across a page boundary
	size := int64(dev.PageSize() * dev.PageCount())
	dev.Poke(int(size)-260, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	n, err = w.ReadAt(buf, size-260)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, buf)

	n, err = w.ReadAt(buf, size-4)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 4, n)

	_, err = w.ReadAt(buf, size)
	assert.ErrorIs(t, err, io.EOF)
}

func TestWorker_Operations(t *testing.T) {
	dev := newWorkerDevice()
	s := newStore(t)
	w := NewWorker(dev, s, WorkerConfig{Engine: testConfig}, &diag.Recorder{}, nil)
	startWorker(t, w)
	waitReady(t, w)

	ctx := context.Background()
	require.NoError(t, s.Set("BATT_TYPE", param.StringValue("LiPo")))
	require.NoError(t, w.Do(ctx, OpSave))
	assert.Equal(t, param.Int32Value(1), get(t, s, "SAVE_COUNT"))

	require.NoError(t, s.Set("BATT_TYPE", param.StringValue("Pb")))
	require.NoError(t, w.Do(ctx, OpLoad))
	assert.Equal(t, param.StringValue("LiPo"), get(t, s, "BATT_TYPE"))

	require.NoError(t, w.Do(ctx, OpEraseConfig))
	assert.ErrorIs(t, w.Do(ctx, OpLoad), ErrNoImage)

	// fill log area, then erase it
	dev.Poke(400*256-4, []byte{1, 2, 3, 4})
	dev.Poke(100*256, []byte{1})
	require.NoError(t, w.Do(ctx, OpEraseLog))
	img := dev.Bytes()
	assert.Equal(t, byte(0xFF), img[100*256])
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, img[400*256-4:])
}

func TestWorker_Timeout(t *testing.T) {
	w := NewWorker(newWorkerDevice(), newStore(t), WorkerConfig{Timeout: 20 * time.Millisecond}, nil, nil)

	start := time.Now()
	err := w.Do(context.Background(), OpSave)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestOp_String(t *testing.T) {
	assert.Equal(t, "ERASE_LOG", OpEraseLog.String())
	assert.Equal(t, "OP(9)", Op(9).String())
}
