// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package blelink

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"
)

// ChunkQueue is the number of notifications buffered per link
const ChunkQueue = 64

// ErrLinkClosed is returned by Write after the link dropped
var ErrLinkClosed = errors.New("ble link closed")

// ErrNoCharacteristic is returned when a write targets a characteristic
// the device does not expose
var ErrNoCharacteristic = errors.New("characteristic not found")

// writer is the part of a GATT characteristic a Link writes to
type writer interface {
	WriteWithoutResponse(p []byte) (int, error)
}

// Link is one connected device. It implements acquire.Transport.
type Link struct {
	address string
	log     logrus.FieldLogger
	device  *bluetooth.Device
	writers map[uint16]writer
	chunks  chan []byte

	mu      sync.Mutex
	closed  bool
	dropped uint64
}

func newLink(address string, log logrus.FieldLogger) *Link {
	return &Link{
		address: address,
		log:     log.WithField("address", address),
		writers: map[uint16]writer{},
		chunks:  make(chan []byte, ChunkQueue),
	}
}

// Address returns the device address
func (l *Link) Address() string {
	return l.address
}

// Chunks returns the notification stream. It is closed when the device
// disconnects or Close is called.
func (l *Link) Chunks() <-chan []byte {
	return l.chunks
}

// Write sends data to the characteristic with the given 16-bit id
func (l *Link) Write(ctx context.Context, char uint16, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	closed := l.closed
	w, ok := l.writers[char]
	l.mu.Unlock()

	if closed {
		return ErrLinkClosed
	}
	if !ok {
		return fmt.Errorf("%w: %04X", ErrNoCharacteristic, char)
	}
	if _, err := w.WriteWithoutResponse(data); err != nil {
		return fmt.Errorf("write %04X: %w", char, err)
	}
	return nil
}

// notify queues one notification. A full queue drops the chunk; the
// assembler recovers at the next header.
func (l *Link) notify(buf []byte) {
	chunk := append([]byte(nil), buf...)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.chunks <- chunk:
	default:
		l.dropped++
		l.log.WithField("dropped", l.dropped).Warn("notification queue full")
	}
}

// Dropped returns the number of notifications lost to a full queue
func (l *Link) Dropped() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// shutdown closes the chunk stream once
func (l *Link) shutdown() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.closed = true
	close(l.chunks)
	return true
}

// Close disconnects the device and ends the chunk stream
func (l *Link) Close() error {
	if !l.shutdown() {
		return nil
	}
	if l.device == nil {
		return nil
	}
	return l.device.Disconnect()
}
