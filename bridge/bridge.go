package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/eddielth/serial-bridge/health"
	"github.com/eddielth/serial-bridge/logger"
	"github.com/eddielth/serial-bridge/serial"
	"github.com/eddielth/serial-bridge/storage"
)

// QueueCapacity bounds each direction's queue.
const QueueCapacity = 100

// Options configure a Bridge.
type Options struct {
	Session Session

	Device string
	Baud   int
	// Opener opens the device; nil uses serial.OpenDevice.
	Opener serial.Opener

	SerialReconnectDelay time.Duration
	MQTTReconnectDelay   time.Duration
	AnemometerFilter     time.Duration

	// Transformer is optional.
	Transformer Transformer
	// Archiver is optional.
	Archiver *storage.Archiver
}

// Bridge wires the five tasks together. They share nothing but the two
// queues, the two health signals and the serial handle.
type Bridge struct {
	toSerial chan []byte
	toMQTT   chan []byte

	serialSignal *health.Signal
	mqttSignal   *health.Signal
	handle       *serial.Handle
	filter       *RateFilter
	archiver     *storage.Archiver

	manager    *serial.Manager
	reader     *serial.Reader
	writer     *serial.Writer
	dispatcher *Dispatcher
	publisher  *Publisher

	log *logger.Component
}

// New builds a bridge; nothing runs until Run.
func New(opts Options) *Bridge {
	b := &Bridge{
		toSerial:     make(chan []byte, QueueCapacity),
		toMQTT:       make(chan []byte, QueueCapacity),
		serialSignal: health.New("serial", false),
		mqttSignal:   health.New("mqtt", false),
		handle:       serial.NewHandle(),
		filter:       NewRateFilter(opts.AnemometerFilter, time.Now()),
		archiver:     opts.Archiver,
		log:          logger.Named("bridge"),
	}

	b.manager = serial.NewManager(opts.Device, opts.Baud, opts.SerialReconnectDelay, opts.Opener, b.handle, b.serialSignal)
	b.reader = serial.NewReader(b.handle, b.serialSignal, b.toMQTT)
	b.writer = serial.NewWriter(b.handle, b.serialSignal, b.toSerial)
	b.dispatcher = NewDispatcher(opts.Session, b.mqttSignal, b.toSerial, b.filter, opts.Transformer, opts.MQTTReconnectDelay)
	b.publisher = NewPublisher(opts.Session, b.mqttSignal, b.toMQTT)

	if b.archiver != nil {
		b.writer.OnWritten = func(line []byte) {
			ch := channelForTag(gjson.GetBytes(line, TopicField).String())
			b.archiver.Archive(storage.NewRecord(storage.MQTTToSerial, ch.String(), ch.Topic(), line))
		}
		b.publisher.OnPublished = func(command []byte) {
			b.archiver.Archive(storage.NewRecord(storage.SerialToMQTT, CommandField, CommandTopic, command))
		}
	}

	return b
}

// SetAnemometerFilter changes the anemometer rate limit while running.
func (b *Bridge) SetAnemometerFilter(d time.Duration) {
	b.filter.SetInterval(d)
	b.log.Info("anemometer filter set to %s", d)
}

// SerialSignal reports serial health.
func (b *Bridge) SerialSignal() *health.Signal { return b.serialSignal }

// MQTTSignal reports MQTT health.
func (b *Bridge) MQTTSignal() *health.Signal { return b.mqttSignal }

// Handle is the shared serial handle.
func (b *Bridge) Handle() *serial.Handle { return b.handle }

// Run starts every task and blocks until ctx is cancelled and all of them
// have returned.
func (b *Bridge) Run(ctx context.Context) {
	tasks := map[string]func(context.Context){
		"serial-manager":  b.manager.Run,
		"serial-reader":   b.reader.Run,
		"serial-writer":   b.writer.Run,
		"mqtt-dispatcher": b.dispatcher.Run,
		"mqtt-publisher":  b.publisher.Run,
	}
	if b.archiver != nil {
		tasks["archiver"] = b.archiver.Run
	}

	var wg sync.WaitGroup
	for name, run := range tasks {
		wg.Add(1)
		go func(name string, run func(context.Context)) {
			defer wg.Done()
			b.log.Info("task %s: START", name)
			run(ctx)
			b.log.Info("task %s: STOP", name)
		}(name, run)
	}

	wg.Wait()
}
