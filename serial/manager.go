package serial

import (
	"context"
	"time"

	"github.com/eddielth/serial-bridge/health"
	"github.com/eddielth/serial-bridge/logger"
)

// Manager owns the open/closed lifecycle of the serial device. It never reads
// or writes; the reader and writer report failures by publishing false on the
// signal, and the manager answers by reopening the device after a fixed delay.
type Manager struct {
	device string
	baud   int
	delay  time.Duration
	open   Opener
	handle *Handle
	signal *health.Signal
	log    *logger.Component
}

// NewManager creates a manager for device. A nil open uses OpenDevice.
func NewManager(device string, baud int, delay time.Duration, open Opener, handle *Handle, signal *health.Signal) *Manager {
	if open == nil {
		open = OpenDevice
	}
	return &Manager{
		device: device,
		baud:   baud,
		delay:  delay,
		open:   open,
		handle: handle,
		signal: signal,
		log:    logger.Named("serial"),
	}
}

// Run reconnects forever until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	m.log.Info("reconnect task started for %s @ %d baud", m.device, m.baud)

	for {
		if err := m.signal.WaitUntil(ctx, false); err != nil {
			return
		}

		// Drop the failed port before reopening; some drivers refuse a second open.
		m.handle.Clear()

		m.log.Info("attempting to open %s", m.device)
		port, err := m.open(m.device, m.baud)
		if err != nil {
			m.log.Warn("failed to open serial port %s: %v, retrying in %v", m.device, err, m.delay)
			m.signal.Publish(false)
			if !sleepCtx(ctx, m.delay) {
				return
			}
			continue
		}

		m.handle.Set(port)
		m.log.Info("connected to %s", m.device)
		m.signal.Publish(true)
	}
}
