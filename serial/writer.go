package serial

import (
	"context"

	"github.com/eddielth/serial-bridge/health"
	"github.com/eddielth/serial-bridge/logger"
)

// Writer drains queued messages to the serial port, one line each.
type Writer struct {
	handle *Handle
	signal *health.Signal
	in     <-chan []byte
	log    *logger.Component

	// OnWritten, if set, is called with each message after it reached the port.
	OnWritten func(msg []byte)
}

// NewWriter creates a writer consuming in.
func NewWriter(handle *Handle, signal *health.Signal, in <-chan []byte) *Writer {
	return &Writer{
		handle: handle,
		signal: signal,
		in:     in,
		log:    logger.Named("serial-writer"),
	}
}

// Run writes messages in queue order until ctx is cancelled. A message is
// retried until it is written; nothing is written while the signal is false.
func (w *Writer) Run(ctx context.Context) {
	w.log.Info("writer task started")

	for {
		var msg []byte
		select {
		case <-ctx.Done():
			return
		case msg = <-w.in:
		}

		if !w.deliver(ctx, msg) {
			return
		}
	}
}

func (w *Writer) deliver(ctx context.Context, msg []byte) bool {
	line := make([]byte, 0, len(msg)+1)
	line = append(line, msg...)
	line = append(line, '\n')

	for {
		if err := w.signal.WaitUntil(ctx, true); err != nil {
			return false
		}

		var drainErr error
		err := w.handle.Do(func(p Port) error {
			if _, err := p.Write(line); err != nil {
				return err
			}
			drainErr = p.Drain()
			return nil
		})
		if err == nil {
			// The line is already on the wire; retrying would duplicate it.
			if drainErr != nil {
				w.log.Warn("failed to flush serial port: %v", drainErr)
			}
			w.log.Debug("sent to port: %s", msg)
			if w.OnWritten != nil {
				w.OnWritten(msg)
			}
			return true
		}

		w.log.Error("failed to write to serial port: %v", err)
		w.signal.Publish(false)
	}
}
