package storage

import (
	"context"

	"github.com/eddielth/serial-bridge/logger"
)

// ArchiveBuffer is how many records may wait for the backends.
const ArchiveBuffer = 256

// Archiver moves records to a Store off the bridge's hot path. A nil
// *Archiver accepts and discards everything.
type Archiver struct {
	store   interface{ Store(Record) error }
	records chan Record
	log     *logger.Component
}

// NewArchiver returns an archiver feeding store.
func NewArchiver(store interface{ Store(Record) error }) *Archiver {
	return &Archiver{
		store:   store,
		records: make(chan Record, ArchiveBuffer),
		log:     logger.Named("archive"),
	}
}

// Archive queues rec. It never blocks; when the buffer is full the record
// is dropped.
func (a *Archiver) Archive(rec Record) {
	if a == nil {
		return
	}
	select {
	case a.records <- rec:
	default:
		a.log.Warn("archive buffer full, dropping %s record on %s", rec.Direction, rec.Topic)
	}
}

// Run stores queued records until ctx is done, then flushes what is left.
func (a *Archiver) Run(ctx context.Context) {
	if a == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			a.flush()
			return
		case rec := <-a.records:
			_ = a.store.Store(rec)
		}
	}
}

func (a *Archiver) flush() {
	for {
		select {
		case rec := <-a.records:
			_ = a.store.Store(rec)
		default:
			return
		}
	}
}
