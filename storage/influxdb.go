package storage

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/tidwall/gjson"

	"github.com/eddielth/serial-bridge/config"
	"github.com/eddielth/serial-bridge/logger"
)

const (
	influxMeasurement = "bridge_messages"
	influxPingTimeout = 5 * time.Second
)

// InfluxDBStorage writes the numeric top-level fields of each message as a
// point tagged with direction and channel. Messages without numeric fields
// are skipped.
type InfluxDBStorage struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	log      *logger.Component
}

// NewInfluxDBStorage connects and verifies the server is healthy.
func NewInfluxDBStorage(cfg config.InfluxDBStorageConfig) (*InfluxDBStorage, error) {
	if cfg.URL == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influxdb url and bucket are required")
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().SetBatchSize(100).SetFlushInterval(1000))

	ctx, cancel := context.WithTimeout(context.Background(), influxPingTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ping influxdb: %w", err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("influxdb server not healthy")
	}

	s := &InfluxDBStorage{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		log:      logger.Named("storage"),
	}
	go s.handleWriteErrors(s.writeAPI.Errors())

	s.log.Info("InfluxDB storage ready: %s/%s", cfg.URL, cfg.Bucket)
	return s, nil
}

func (s *InfluxDBStorage) handleWriteErrors(errs <-chan error) {
	for err := range errs {
		s.log.Error("influxdb write failed: %v", err)
	}
}

// Store queues a point for rec; writes are batched by the client.
func (s *InfluxDBStorage) Store(rec Record) error {
	point := recordPoint(rec)
	if point == nil {
		return nil
	}
	s.writeAPI.WritePoint(point)
	return nil
}

// Close flushes pending points.
func (s *InfluxDBStorage) Close() error {
	s.writeAPI.Flush()
	s.client.Close()
	return nil
}

// recordPoint converts rec to a point, or nil when it carries no numbers.
func recordPoint(rec Record) *write.Point {
	fields := numericFields(rec.Payload)
	if len(fields) == 0 {
		return nil
	}
	return write.NewPoint(
		influxMeasurement,
		map[string]string{
			"direction": string(rec.Direction),
			"channel":   rec.Channel,
		},
		fields,
		rec.Timestamp,
	)
}

func numericFields(payload string) map[string]interface{} {
	parsed := gjson.Parse(payload)
	if !parsed.IsObject() {
		return nil
	}

	fields := make(map[string]interface{})
	parsed.ForEach(func(key, value gjson.Result) bool {
		if value.Type == gjson.Number {
			fields[key.String()] = value.Float()
		}
		return true
	})
	return fields
}
