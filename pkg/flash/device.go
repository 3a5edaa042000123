// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package flash persists the parameter store on a page-addressed block
// device.
//
// A BlockDevice stands in for the external SPI NOR chip: pages are read and
// programmed whole, erased pages read back as 0xFF and programming can only
// clear bits. The chip is split into partitions; the config partition holds
// the parameter image written by Engine. A Worker owns the device and
// serializes every flash operation.
package flash

import (
	"errors"
	"fmt"
	"os"
	"sync"
)

// ErasedByte is the value of every byte of an erased page
const ErasedByte = 0xFF

var (
	// ErrPageRange is returned for pages outside the device
	ErrPageRange = errors.New("page out of range")
	// ErrPageSize is returned when a buffer does not match the page size
	ErrPageSize = errors.New("buffer does not match page size")
	// ErrNotConnected is returned when the device is not connected
	ErrNotConnected = errors.New("flash not connected")
)

// BlockDevice is a page-addressed flash device
type BlockDevice interface {
	PageSize() int
	PageCount() int
	ReadPage(page int, buf []byte) error
	WritePage(page int, buf []byte) error
	Erase(first, count int) error
}

// Connector is implemented by devices that must be connected before use
type Connector interface {
	Connect() error
}

func checkAccess(dev BlockDevice, page int, buf []byte) error {
	if page < 0 || page >= dev.PageCount() {
		return fmt.Errorf("%w: %d", ErrPageRange, page)
	}
	if len(buf) != dev.PageSize() {
		return fmt.Errorf("%w: %d != %d", ErrPageSize, len(buf), dev.PageSize())
	}
	return nil
}

func checkErase(dev BlockDevice, first, count int) error {
	if first < 0 || count < 0 || first+count > dev.PageCount() {
		return fmt.Errorf("%w: %d+%d", ErrPageRange, first, count)
	}
	return nil
}

// ============================================================
// MemDevice
// ============================================================

// MemDevice is an in-memory flash chip. Fault hooks let tests fail
// individual operations.
type MemDevice struct {
	pageSize int
	mu       sync.RWMutex
	data     []byte

	connectErr error
	writeFault func(page int) error
	writes     int
	erases     int
}

// NewMemDevice creates an erased in-memory device
func NewMemDevice(pages, pageSize int) *MemDevice {
	d := &MemDevice{
		pageSize: pageSize,
		data:     make([]byte, pages*pageSize),
	}
	for i := range d.data {
		d.data[i] = ErasedByte
	}
	return d
}

func (d *MemDevice) PageSize() int  { return d.pageSize }
func (d *MemDevice) PageCount() int { return len(d.data) / d.pageSize }

// Connect returns the error set by SetConnectError
func (d *MemDevice) Connect() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connectErr
}

// SetConnectError makes Connect fail with err until cleared with nil
func (d *MemDevice) SetConnectError(err error) {
	d.mu.Lock()
	d.connectErr = err
	d.mu.Unlock()
}

// SetWriteFault installs a hook consulted before every page write
func (d *MemDevice) SetWriteFault(fn func(page int) error) {
	d.mu.Lock()
	d.writeFault = fn
	d.mu.Unlock()
}

func (d *MemDevice) ReadPage(page int, buf []byte) error {
	if err := checkAccess(d, page, buf); err != nil {
		return err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	copy(buf, d.data[page*d.pageSize:])
	return nil
}

// WritePage programs a page. Bits can only go from 1 to 0.
func (d *MemDevice) WritePage(page int, buf []byte) error {
	if err := checkAccess(d, page, buf); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.writeFault != nil {
		if err := d.writeFault(page); err != nil {
			return err
		}
	}
	dst := d.data[page*d.pageSize : (page+1)*d.pageSize]
	for i, b := range buf {
		dst[i] &= b
	}
	d.writes++
	return nil
}

func (d *MemDevice) Erase(first, count int) error {
	if err := checkErase(d, first, count); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	region := d.data[first*d.pageSize : (first+count)*d.pageSize]
	for i := range region {
		region[i] = ErasedByte
	}
	d.erases++
	return nil
}

// Bytes returns a copy of the device contents
func (d *MemDevice) Bytes() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]byte(nil), d.data...)
}

// Poke overwrites raw bytes, bypassing program semantics
func (d *MemDevice) Poke(offset int, b []byte) {
	d.mu.Lock()
	copy(d.data[offset:], b)
	d.mu.Unlock()
}

// Counters returns the number of page writes and erase calls
func (d *MemDevice) Counters() (writes, erases int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.writes, d.erases
}

// ============================================================
// FileDevice
// ============================================================

// FileDevice keeps the flash image in a file. The file is created erased on
// first connect and must match the configured geometry afterwards.
type FileDevice struct {
	path      string
	pageSize  int
	pageCount int

	mu   sync.Mutex
	file *os.File
}

// NewFileDevice describes a file-backed device; Connect opens it
func NewFileDevice(path string, pages, pageSize int) *FileDevice {
	return &FileDevice{path: path, pageSize: pageSize, pageCount: pages}
}

func (d *FileDevice) PageSize() int  { return d.pageSize }
func (d *FileDevice) PageCount() int { return d.pageCount }

// Connect opens the image file, creating an erased one if needed
func (d *FileDevice) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file != nil {
		return nil
	}

	f, err := os.OpenFile(d.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open flash image: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat flash image: %w", err)
	}

	size := int64(d.pageSize) * int64(d.pageCount)
	switch info.Size() {
	case size:
	case 0:
		if err := fillErased(f, 0, size); err != nil {
			f.Close()
			return err
		}
	default:
		f.Close()
		return fmt.Errorf("flash image %s: size %d, expected %d", d.path, info.Size(), size)
	}

	d.file = f
	return nil
}

// Close releases the image file
func (d *FileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}

func (d *FileDevice) handle() (*os.File, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil, ErrNotConnected
	}
	return d.file, nil
}

func (d *FileDevice) ReadPage(page int, buf []byte) error {
	if err := checkAccess(d, page, buf); err != nil {
		return err
	}
	f, err := d.handle()
	if err != nil {
		return err
	}
	_, err = f.ReadAt(buf, int64(page)*int64(d.pageSize))
	return err
}

func (d *FileDevice) WritePage(page int, buf []byte) error {
	if err := checkAccess(d, page, buf); err != nil {
		return err
	}
	f, err := d.handle()
	if err != nil {
		return err
	}

	off := int64(page) * int64(d.pageSize)
	cur := make([]byte, d.pageSize)
	if _, err := f.ReadAt(cur, off); err != nil {
		return err
	}
	for i, b := range buf {
		cur[i] &= b
	}
	_, err = f.WriteAt(cur, off)
	return err
}

func (d *FileDevice) Erase(first, count int) error {
	if err := checkErase(d, first, count); err != nil {
		return err
	}
	f, err := d.handle()
	if err != nil {
		return err
	}
	return fillErased(f, int64(first)*int64(d.pageSize), int64(count)*int64(d.pageSize))
}

func fillErased(f *os.File, off, size int64) error {
	chunk := make([]byte, 4096)
	for i := range chunk {
		chunk[i] = ErasedByte
	}
	for size > 0 {
		n := int64(len(chunk))
		if n > size {
			n = size
		}
		if _, err := f.WriteAt(chunk[:n], off); err != nil {
			return fmt.Errorf("erase flash image: %w", err)
		}
		off += n
		size -= n
	}
	return nil
}

// ============================================================
// Partitions
// ============================================================

// Partition is a contiguous page range of a parent device
type Partition struct {
	Name   string
	parent BlockDevice
	start  int
	count  int
}

// NewPartition creates a view of count pages starting at start. A negative
// count extends the partition to the end of the device.
func NewPartition(parent BlockDevice, name string, start, count int) (*Partition, error) {
	if count < 0 {
		count = parent.PageCount() - start
	}
	if start < 0 || count <= 0 || start+count > parent.PageCount() {
		return nil, fmt.Errorf("partition %s: pages %d+%d do not fit device of %d pages",
			name, start, count, parent.PageCount())
	}
	return &Partition{Name: name, parent: parent, start: start, count: count}, nil
}

func (p *Partition) PageSize() int  { return p.parent.PageSize() }
func (p *Partition) PageCount() int { return p.count }

// Start returns the first page of the partition on the parent device
func (p *Partition) Start() int { return p.start }

func (p *Partition) ReadPage(page int, buf []byte) error {
	if err := checkAccess(p, page, buf); err != nil {
		return err
	}
	return p.parent.ReadPage(p.start+page, buf)
}

func (p *Partition) WritePage(page int, buf []byte) error {
	if err := checkAccess(p, page, buf); err != nil {
		return err
	}
	return p.parent.WritePage(p.start+page, buf)
}

func (p *Partition) Erase(first, count int) error {
	if err := checkErase(p, first, count); err != nil {
		return err
	}
	return p.parent.Erase(p.start+first, count)
}

// EraseAll erases the whole partition
func (p *Partition) EraseAll() error {
	return p.Erase(0, p.count)
}

// Partition sizes in bytes
const (
	ConfigSize = 16 * 1024
	ErrorSize  = 64 * 1024
)

// Layout is the partition table of the flash chip
type Layout struct {
	Config *Partition
	Error  *Partition
	Log    *Partition
}

// NewLayout splits a device into config, error and log partitions. The
// log partition takes every page above the other two.
func NewLayout(dev BlockDevice) (*Layout, error) {
	ps := dev.PageSize()
	if ps <= 0 || ConfigSize%ps != 0 || ErrorSize%ps != 0 {
		return nil, fmt.Errorf("unsupported page size %d", ps)
	}

	cfgPages := ConfigSize / ps
	errPages := ErrorSize / ps

	config, err := NewPartition(dev, "config", 0, cfgPages)
	if err != nil {
		return nil, err
	}
	errlog, err := NewPartition(dev, "error", cfgPages, errPages)
	if err != nil {
		return nil, err
	}
	log, err := NewPartition(dev, "log", cfgPages+errPages, -1)
	if err != nil {
		return nil, err
	}
	return &Layout{Config: config, Error: errlog, Log: log}, nil
}
