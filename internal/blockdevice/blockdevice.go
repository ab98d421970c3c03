// Package blockdevice provides the two storage backends the chain engine
// writes recorded data to: a stand-in for the proprietary block device, and
// a plain-filesystem-backed device. Both implement internal/interfaces.Backend.
//
// The proprietary block device itself is an external collaborator (its real
// driver wrapper is hardware-specific and out of scope here); Device is an
// in-memory stand-in with the one property that matters to callers: all
// access is serialized under a single process-wide mutex, unlike a plain
// file where the kernel arbitrates concurrent offsets on its own.
package blockdevice

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Device stands in for the proprietary block device. Every Device instance
// shares one process-wide mutex: the real hardware exposes a single unit
// accessed through one driver handle, so unlike a sharded in-memory backend
// there is no point pretending two regions of it can be touched in
// parallel.
type Device struct {
	data []byte
	size int64
}

var deviceMu sync.Mutex

// NewDevice allocates an in-memory stand-in device of the given size.
func NewDevice(size int64) *Device {
	return &Device{data: make([]byte, size), size: size}
}

func (d *Device) ReadAt(p []byte, off int64) (int, error) {
	deviceMu.Lock()
	defer deviceMu.Unlock()

	if off >= d.size {
		return 0, nil
	}
	available := d.size - off
	if int64(len(p)) > available {
		p = p[:available]
	}
	return copy(p, d.data[off:off+int64(len(p))]), nil
}

func (d *Device) WriteAt(p []byte, off int64) (int, error) {
	deviceMu.Lock()
	defer deviceMu.Unlock()

	if off >= d.size {
		return 0, fmt.Errorf("blockdevice: write beyond end of device")
	}
	available := d.size - off
	if int64(len(p)) > available {
		p = p[:available]
	}
	return copy(d.data[off:off+int64(len(p))], p), nil
}

func (d *Device) Size() int64 { return d.size }

func (d *Device) Close() error {
	deviceMu.Lock()
	defer deviceMu.Unlock()
	d.data = nil
	return nil
}

func (d *Device) Flush() error { return nil }

// FileBackend is a Backend over a plain filesystem file, for the mountpoint
// destination mode where recorded data lands on ordinary local storage
// rather than the proprietary device. The kernel serializes concurrent
// ReadAt/WriteAt on the same fd at different offsets on its own, so this
// carries no extra locking of its own.
type FileBackend struct {
	f    *os.File
	size int64
}

// OpenFileBackend opens (creating if necessary) path as a FileBackend
// truncated/extended to size.
func OpenFileBackend(path string, size int64) (*FileBackend, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("blockdevice: open %s: %w", path, err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("blockdevice: truncate %s: %w", path, err)
	}
	return &FileBackend{f: f, size: size}, nil
}

func (b *FileBackend) ReadAt(p []byte, off int64) (int, error) {
	if off >= b.size {
		return 0, nil
	}
	if available := b.size - off; int64(len(p)) > available {
		p = p[:available]
	}
	n, err := b.f.ReadAt(p, off)
	if err == io.EOF {
		err = nil
	}
	return n, err
}

func (b *FileBackend) WriteAt(p []byte, off int64) (int, error) {
	return b.f.WriteAt(p, off)
}

func (b *FileBackend) Size() int64 { return b.size }

func (b *FileBackend) Close() error { return b.f.Close() }

func (b *FileBackend) Flush() error { return b.f.Sync() }
