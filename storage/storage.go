// Package storage archives the messages that cross the bridge. The archive
// is an audit trail only; nothing is ever replayed from it.
package storage

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eddielth/serial-bridge/config"
	"github.com/eddielth/serial-bridge/logger"
)

// Direction says which way a message crossed the bridge.
type Direction string

const (
	// MQTTToSerial marks commands written to the device.
	MQTTToSerial Direction = "mqtt_to_serial"
	// SerialToMQTT marks device messages published to the broker.
	SerialToMQTT Direction = "serial_to_mqtt"
)

// Record is one archived message.
type Record struct {
	ID        string    `json:"id"`
	Direction Direction `json:"direction"`
	Channel   string    `json:"channel"`
	Topic     string    `json:"topic"`
	Payload   string    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// NewRecord stamps a record with a fresh id and the current time.
func NewRecord(dir Direction, channel, topic string, payload []byte) Record {
	return Record{
		ID:        uuid.NewString(),
		Direction: dir,
		Channel:   channel,
		Topic:     topic,
		Payload:   string(payload),
		Timestamp: time.Now(),
	}
}

// StorageBackend 表示存储后端接口
type StorageBackend interface {
	// Store 存储数据
	Store(rec Record) error
	// Close 关闭存储连接
	Close() error
}

// Manager 管理多个存储后端
type Manager struct {
	backends []StorageBackend
	mutex    sync.RWMutex
	log      *logger.Component
}

// NewManager 创建一个新的存储管理器
func NewManager(backends []StorageBackend) *Manager {
	return &Manager{
		backends: backends,
		log:      logger.Named("storage"),
	}
}

// NewFromConfig opens every enabled backend. Backends opened before a
// failure are closed again.
func NewFromConfig(cfg config.StorageConfig) (*Manager, error) {
	var backends []StorageBackend
	fail := func(err error) (*Manager, error) {
		for _, b := range backends {
			_ = b.Close()
		}
		return nil, err
	}

	if cfg.File.Enabled {
		fs, err := NewFileStorage(cfg.File.Path)
		if err != nil {
			return fail(fmt.Errorf("file storage: %w", err))
		}
		backends = append(backends, fs)
	}

	if cfg.Database.Enabled {
		db, err := NewDatabaseStorage(cfg.Database.Type, cfg.Database.DSN)
		if err != nil {
			return fail(fmt.Errorf("%s storage: %w", cfg.Database.Type, err))
		}
		backends = append(backends, db)
	}

	if cfg.InfluxDB.Enabled {
		influx, err := NewInfluxDBStorage(cfg.InfluxDB)
		if err != nil {
			return fail(fmt.Errorf("influxdb storage: %w", err))
		}
		backends = append(backends, influx)
	}

	return NewManager(backends), nil
}

// Len returns the number of backends.
func (m *Manager) Len() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.backends)
}

// Store writes rec to every backend. A failing backend does not stop the
// others; all failures are returned joined.
func (m *Manager) Store(rec Record) error {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var errs []error
	for _, backend := range m.backends {
		if err := backend.Store(rec); err != nil {
			m.log.Error("failed to archive %s to backend: %v", rec.ID, err)
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Close 关闭所有存储后端连接
func (m *Manager) Close() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for _, backend := range m.backends {
		if err := backend.Close(); err != nil {
			m.log.Error("failed to close storage backend: %v", err)
		}
	}
	m.backends = nil
}

// AddBackend 添加新的存储后端
func (m *Manager) AddBackend(backend StorageBackend) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.backends = append(m.backends, backend)
}
