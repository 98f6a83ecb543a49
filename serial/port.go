// Package serial owns the serial side of the bridge: the lock-guarded port
// handle, the reconnect loop that opens it, and the reader and writer tasks
// that move newline-delimited JSON across it.
package serial

import (
	"context"
	"errors"
	"os"
	"time"

	bugst "go.bug.st/serial"
)

// ReadTimeout bounds a single Read on an opened device.
const ReadTimeout = 100 * time.Millisecond

// ErrNotConnected is returned by Handle.Do when no port is open.
var ErrNotConnected = errors.New("serial: port not connected")

// Port is the subset of a serial device the bridge needs.
// go.bug.st/serial ports satisfy it directly.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Drain() error
	Close() error
}

// Opener opens a device at a baud rate.
type Opener func(device string, baud int) (Port, error)

// OpenDevice opens device as 8N1 with a short read timeout, so that a Read
// with no pending data returns (0, nil) instead of blocking.
func OpenDevice(device string, baud int) (Port, error) {
	mode := &bugst.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	}

	port, err := bugst.Open(device, mode)
	if err != nil {
		return nil, err
	}

	if err := port.SetReadTimeout(ReadTimeout); err != nil {
		port.Close()
		return nil, err
	}

	return port, nil
}

// isTimeout reports whether err is a read timeout rather than a link failure.
func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// sleepCtx sleeps for d and reports whether ctx is still live.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
