// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flash

import (
	"errors"
	"io"
)

// ErrPartitionFull is returned when a write runs past the last page
var ErrPartitionFull = errors.New("partition full")

// PageWriter buffers a byte stream and programs it one page at a time
type PageWriter struct {
	dev     BlockDevice
	page    int
	buf     []byte
	n       int
	written int
}

// NewPageWriter starts writing at page 0 of dev. The device must be erased.
func NewPageWriter(dev BlockDevice) *PageWriter {
	return &PageWriter{dev: dev, buf: make([]byte, dev.PageSize())}
}

// Write implements io.Writer. Full pages are flushed as they fill; a byte
// that would land past the last page fails with ErrPartitionFull.
func (w *PageWriter) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		if w.n == len(w.buf) {
			if err := w.flushPage(); err != nil {
				w.written += total
				return total, err
			}
		}
		if w.page >= w.dev.PageCount() {
			w.written += total
			return total, ErrPartitionFull
		}
		c := copy(w.buf[w.n:], p)
		w.n += c
		p = p[c:]
		total += c
	}
	w.written += total
	return total, nil
}

// Flush pads the current page with ErasedByte and programs it
func (w *PageWriter) Flush() error {
	if w.n == 0 {
		return nil
	}
	for i := w.n; i < len(w.buf); i++ {
		w.buf[i] = ErasedByte
	}
	w.n = len(w.buf)
	return w.flushPage()
}

// Written returns the number of stream bytes accepted so far
func (w *PageWriter) Written() int {
	return w.written
}

// Pages returns the number of pages programmed
func (w *PageWriter) Pages() int {
	return w.page
}

func (w *PageWriter) flushPage() error {
	if w.page >= w.dev.PageCount() {
		return ErrPartitionFull
	}
	if err := w.dev.WritePage(w.page, w.buf); err != nil {
		return err
	}
	w.page++
	w.n = 0
	return nil
}

// PageReader streams a device one page at a time
type PageReader struct {
	dev  BlockDevice
	page int
	buf  []byte
	off  int
	end  int
	read int
}

// NewPageReader starts reading at page 0 of dev
func NewPageReader(dev BlockDevice) *PageReader {
	return &PageReader{dev: dev, buf: make([]byte, dev.PageSize())}
}

// Read implements io.Reader. It returns io.EOF after the last page.
func (r *PageReader) Read(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		if r.off == r.end {
			if err := r.next(); err != nil {
				if total > 0 && err == io.EOF {
					break
				}
				return total, err
			}
		}
		c := copy(p, r.buf[r.off:r.end])
		r.off += c
		p = p[c:]
		total += c
	}
	r.read += total
	return total, nil
}

// ReadByte implements io.ByteReader
func (r *PageReader) ReadByte() (byte, error) {
	if r.off == r.end {
		if err := r.next(); err != nil {
			return 0, err
		}
	}
	b := r.buf[r.off]
	r.off++
	r.read++
	return b, nil
}

// Offset returns the number of stream bytes consumed
func (r *PageReader) Offset() int {
	return r.read
}

func (r *PageReader) next() error {
	if r.page >= r.dev.PageCount() {
		return io.EOF
	}
	if err := r.dev.ReadPage(r.page, r.buf); err != nil {
		return err
	}
	r.page++
	r.off, r.end = 0, len(r.buf)
	return nil
}
