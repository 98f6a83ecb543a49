package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/eddielth/serial-bridge/health"
)

func startPublisher(t *testing.T, session *fakeSession, signal *health.Signal, onPublished func([]byte)) chan<- []byte {
	t.Helper()
	in := make(chan []byte, QueueCapacity)
	p := NewPublisher(session, signal, in)
	p.OnPublished = onPublished

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return in
}

func TestPublisherUnwrapsCommand(t *testing.T) {
	session := newFakeSession()
	signal := health.New("mqtt", true)
	in := startPublisher(t, session, signal, nil)

	in <- []byte(`{"command":"reset"}`)

	waitFor(t, "publish", func() bool { return len(session.publishedMessages()) == 1 })
	got := session.publishedMessages()[0]
	if got.topic != "command" || got.payload != "reset" {
		t.Errorf("published %+v, want command/reset", got)
	}
}

func TestPublisherDropsMalformedMessages(t *testing.T) {
	session := newFakeSession()
	signal := health.New("mqtt", true)
	in := startPublisher(t, session, signal, nil)

	in <- []byte(`{"cmd":"reset"}`)
	in <- []byte(`{"command":42}`)
	in <- []byte(`{"command":`)
	in <- []byte(`{"command":"start"}`)

	waitFor(t, "publish", func() bool { return len(session.publishedMessages()) == 1 })
	time.Sleep(20 * time.Millisecond)

	msgs := session.publishedMessages()
	if len(msgs) != 1 || msgs[0].payload != "start" {
		t.Errorf("published %+v, want only start", msgs)
	}
}

func TestPublisherWaitsForHealth(t *testing.T) {
	session := newFakeSession()
	signal := health.New("mqtt", false)
	signal.SetPollInterval(5 * time.Millisecond)
	in := startPublisher(t, session, signal, nil)

	in <- []byte(`{"command":"a"}`)
	in <- []byte(`{"command":"b"}`)
	time.Sleep(30 * time.Millisecond)
	if n := len(session.publishedMessages()); n != 0 {
		t.Fatalf("published %d messages while MQTT was down", n)
	}

	signal.Publish(true)
	waitFor(t, "both published", func() bool { return len(session.publishedMessages()) == 2 })
	msgs := session.publishedMessages()
	if msgs[0].payload != "a" || msgs[1].payload != "b" {
		t.Errorf("published %+v, want FIFO order", msgs)
	}
}

func TestPublisherRetriesFailedPublish(t *testing.T) {
	session := newFakeSession()
	session.publishErrs = []error{errors.New("broken pipe")}
	signal := health.New("mqtt", true)
	signal.SetPollInterval(5 * time.Millisecond)
	var mu sync.Mutex
	var hooked []string
	in := startPublisher(t, session, signal, func(cmd []byte) {
		mu.Lock()
		hooked = append(hooked, string(cmd))
		mu.Unlock()
	})

	in <- []byte(`{"command":"reset"}`)

	waitFor(t, "signal down", func() bool { return !signal.Current() })
	if n := len(session.publishedMessages()); n != 0 {
		t.Fatalf("published %d before recovery", n)
	}

	signal.Publish(true)
	waitFor(t, "retry", func() bool { return len(session.publishedMessages()) == 1 })
	waitFor(t, "hook", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(hooked) == 1 && hooked[0] == "reset"
	})
}
