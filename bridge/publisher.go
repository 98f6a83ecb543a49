package bridge

import (
	"context"

	"github.com/eddielth/serial-bridge/health"
	"github.com/eddielth/serial-bridge/logger"
	"github.com/eddielth/serial-bridge/validator"
)

const (
	// CommandTopic is where device commands are published.
	CommandTopic = "command"
	// CommandField holds the command in a device message.
	CommandField = "command"
)

// Publisher takes device messages off the serial queue and publishes their
// command to the broker.
type Publisher struct {
	session Session
	signal  *health.Signal
	in      <-chan []byte
	log     *logger.Component

	// OnPublished, if set, sees every command after it was published.
	OnPublished func(command []byte)
}

// NewPublisher returns a publisher reading from in.
func NewPublisher(session Session, signal *health.Signal, in <-chan []byte) *Publisher {
	return &Publisher{
		session: session,
		signal:  signal,
		in:      in,
		log:     logger.Named("mqtt-publish"),
	}
}

// Run publishes queued messages until ctx is done.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-p.in:
			p.deliver(ctx, msg)
		}
	}
}

// deliver retries msg until it is published, dropped as malformed, or ctx
// is done.
func (p *Publisher) deliver(ctx context.Context, msg []byte) {
	for {
		if err := p.signal.WaitUntil(ctx, true); err != nil {
			return
		}

		command, err := validator.StringField(msg, CommandField)
		if err != nil {
			p.log.Warn("dropping device message %s: %v", msg, err)
			return
		}

		if err := p.session.Publish(ctx, CommandTopic, []byte(command)); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Error("publish to %s failed: %v", CommandTopic, err)
			p.signal.Publish(false)
			continue
		}

		p.log.Debug("published command %q", command)
		if p.OnPublished != nil {
			p.OnPublished([]byte(command))
		}
		return
	}
}
