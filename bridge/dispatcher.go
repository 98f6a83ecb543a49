package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/eddielth/serial-bridge/health"
	"github.com/eddielth/serial-bridge/logger"
	"github.com/eddielth/serial-bridge/mqtt"
	"github.com/eddielth/serial-bridge/validator"
)

// DefaultPollWindow bounds a single Poll so the dispatcher notices when the
// publisher has marked MQTT down while the broker is quiet.
const DefaultPollWindow = time.Second

// Session is the part of the MQTT client the bridge drives.
type Session interface {
	Subscribe(ctx context.Context, topics []string) error
	Poll(ctx context.Context) (mqtt.Event, error)
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Transformer rewrites a payload for a channel before it is relabeled.
type Transformer interface {
	Transform(channel string, payload []byte) ([]byte, error)
}

// Dispatcher owns the MQTT session: it subscribes, reports MQTT health, and
// turns incoming sensor messages into tagged lines for the serial writer.
type Dispatcher struct {
	session     Session
	signal      *health.Signal
	out         chan<- []byte
	filter      *RateFilter
	transformer Transformer
	delay       time.Duration
	log         *logger.Component

	// PollWindow caps how long one Poll call may block.
	PollWindow time.Duration
	// OnQueued, if set, sees every message handed to the serial queue.
	OnQueued func(ch Channel, payload []byte)
	now      func() time.Time
}

// NewDispatcher returns a dispatcher that pushes onto out. transformer may
// be nil.
func NewDispatcher(session Session, signal *health.Signal, out chan<- []byte, filter *RateFilter, transformer Transformer, delay time.Duration) *Dispatcher {
	return &Dispatcher{
		session:     session,
		signal:      signal,
		out:         out,
		filter:      filter,
		transformer: transformer,
		delay:       delay,
		log:         logger.Named("mqtt-dispatch"),
		PollWindow:  DefaultPollWindow,
		now:         time.Now,
	}
}

// Run subscribes and dispatches until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	subscribed := false
	topics := SubscribeTopics()

	for ctx.Err() == nil {
		if subscribed && !d.signal.Current() {
			d.log.Warn("MQTT marked down elsewhere, resubscribing")
			subscribed = false
		}

		if !subscribed {
			if err := d.session.Subscribe(ctx, topics); err != nil {
				if ctx.Err() != nil {
					return
				}
				d.log.Warn("subscribe failed: %v, retrying in %s", err, d.delay)
				d.signal.Publish(false)
				sleep(ctx, d.delay)
				continue
			}
			subscribed = true
			d.signal.Publish(true)
		}

		ev, err := d.poll(ctx)
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, context.DeadlineExceeded):
			continue
		case err != nil:
			d.log.Error("MQTT connection error: %v, retrying in %s", err, d.delay)
			subscribed = false
			d.signal.Publish(false)
			sleep(ctx, d.delay)
			continue
		}

		if ev.Kind != mqtt.EventPublish {
			d.log.Debug("MQTT event: %s", ev.Kind)
			continue
		}
		d.dispatch(ctx, ev.Topic, ev.Payload)
	}
}

func (d *Dispatcher) poll(ctx context.Context) (mqtt.Event, error) {
	if d.PollWindow <= 0 {
		return d.session.Poll(ctx)
	}
	pollCtx, cancel := context.WithTimeout(ctx, d.PollWindow)
	defer cancel()
	return d.session.Poll(pollCtx)
}

// dispatch handles one incoming publish.
func (d *Dispatcher) dispatch(ctx context.Context, topic string, payload []byte) {
	ch := ParseChannel(topic)
	if ch == ChannelUnknown {
		return
	}

	if ch == ChannelAnemometer && !d.filter.Allow(d.now()) {
		d.log.Debug("anemometer sample rate limited")
		return
	}

	if err := validator.UTF8(payload); err != nil {
		d.log.Warn("binary payload on %s dropped (%d bytes)", topic, len(payload))
		return
	}
	d.log.Debug("message on %s: %s", topic, payload)

	if err := validator.JSONObject(payload); err != nil {
		d.log.Warn("payload on %s dropped: %v", topic, err)
		return
	}

	if d.transformer != nil {
		transformed, err := d.transformer.Transform(ch.String(), payload)
		if err != nil {
			d.log.Error("transform on %s failed, dropping: %v", topic, err)
			return
		}
		payload = transformed
	}

	line, err := Relabel(payload, ch)
	if err != nil {
		d.log.Warn("relabel on %s failed, dropping: %v", topic, err)
		return
	}

	select {
	case d.out <- line:
		if d.OnQueued != nil {
			d.OnQueued(ch, line)
		}
	case <-ctx.Done():
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
