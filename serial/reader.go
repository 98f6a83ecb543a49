package serial

import (
	"context"
	"errors"
	"time"

	"github.com/eddielth/serial-bridge/health"
	"github.com/eddielth/serial-bridge/logger"
	"github.com/eddielth/serial-bridge/validator"
)

// Reader constants.
const (
	// ReadBufferSize is the scratch buffer for a single read.
	ReadBufferSize = 20 * 1024

	// DefaultIdleDelay is the back-off after a read returned no data.
	DefaultIdleDelay = 100 * time.Millisecond

	// DefaultPacing is the sleep between read iterations.
	DefaultPacing = 50 * time.Millisecond
)

// Reader turns serial bytes into compact JSON messages on out.
type Reader struct {
	handle *Handle
	signal *health.Signal
	out    chan<- []byte
	lines  LineBuffer
	log    *logger.Component

	IdleDelay time.Duration
	Pacing    time.Duration
}

// NewReader creates a reader forwarding to out.
func NewReader(handle *Handle, signal *health.Signal, out chan<- []byte) *Reader {
	return &Reader{
		handle:    handle,
		signal:    signal,
		out:       out,
		log:       logger.Named("serial-reader"),
		IdleDelay: DefaultIdleDelay,
		Pacing:    DefaultPacing,
	}
}

// Run reads until ctx is cancelled. A read failure publishes false on the
// signal and parks the reader until the manager has reopened the port.
func (r *Reader) Run(ctx context.Context) {
	r.log.Info("listener task started")
	buf := make([]byte, ReadBufferSize)

	for {
		if err := r.signal.WaitUntil(ctx, true); err != nil {
			return
		}
		r.log.Info("listener active, reading data")

		if !r.readUntilFailure(ctx, buf) {
			return
		}
	}
}

// readUntilFailure returns false only when ctx is done.
func (r *Reader) readUntilFailure(ctx context.Context, buf []byte) bool {
	for {
		var n int
		err := r.handle.Do(func(p Port) error {
			var readErr error
			n, readErr = p.Read(buf)
			return readErr
		})

		if errors.Is(err, ErrNotConnected) {
			r.signal.Publish(false)
			return ctx.Err() == nil
		}

		if n > 0 {
			r.lines.Write(buf[:n])
			if !r.forwardLines(ctx) {
				return false
			}
		}

		switch {
		case err == nil && n == 0, err != nil && isTimeout(err):
			if !sleepCtx(ctx, r.IdleDelay) {
				return false
			}
		case err != nil:
			r.log.Error("serial read error: %v", err)
			r.signal.Publish(false)
			return ctx.Err() == nil
		}

		if !sleepCtx(ctx, r.Pacing) {
			return false
		}
	}
}

func (r *Reader) forwardLines(ctx context.Context) bool {
	for _, line := range r.lines.Lines() {
		msg, err := validator.Compact([]byte(line))
		if err != nil {
			r.log.Warn("dropping line from serial port: %v: %q", err, line)
			continue
		}

		select {
		case r.out <- msg:
			r.log.Debug("queued for MQTT: %s", msg)
		case <-ctx.Done():
			return false
		}
	}
	return true
}
