package mqtt

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/eddielth/serial-bridge/config"
	"github.com/eddielth/serial-bridge/logger"
)

func TestMain(m *testing.M) {
	logger.SetOutput(io.Discard)
	os.Exit(m.Run())
}

// fakeMessage implements the paho Message interface.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Host:     "127.0.0.1",
		Port:     1883,
		ClientID: "bridge-test",
	}
}

func TestNewClientRequiresHost(t *testing.T) {
	if _, err := NewClient(config.MQTTConfig{Port: 1883}); err == nil {
		t.Fatal("NewClient() expected error for empty host")
	}
}

func TestNewClientGeneratesClientID(t *testing.T) {
	cfg := testConfig()
	cfg.ClientID = ""

	c, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if !strings.HasPrefix(c.ClientID(), "serial-bridge-") || len(c.ClientID()) <= len("serial-bridge-") {
		t.Errorf("ClientID() = %q, want generated id", c.ClientID())
	}
}

func TestBuildOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Username = "user"
	cfg.Password = "secret"
	cfg.KeepAliveSeconds = 15

	c, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	opts := c.buildOptions()

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.ClientID != "bridge-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.AutoReconnect || opts.ConnectRetry {
		t.Error("paho reconnects must be disabled; the dispatcher owns reconnection")
	}
	if opts.KeepAlive != 15 {
		t.Errorf("KeepAlive = %d, want 15", opts.KeepAlive)
	}
	if opts.Username != "user" || opts.Password != "secret" {
		t.Errorf("credentials not applied")
	}
}

func TestPollDeliversMessagesInOrder(t *testing.T) {
	c, err := NewClient(testConfig())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	c.handleMessage(nil, fakeMessage{topic: "sps30", payload: []byte(`{"value":1}`)})
	c.handleMessage(nil, fakeMessage{topic: "imu", payload: []byte(`{"x":2}`)})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for _, want := range []string{"sps30", "imu"} {
		ev, err := c.Poll(ctx)
		if err != nil {
			t.Fatalf("Poll() error = %v", err)
		}
		if ev.Kind != EventPublish || ev.Topic != want {
			t.Errorf("Poll() = %v %s, want publish %s", ev.Kind, ev.Topic, want)
		}
	}
}

func TestPollReportsConnectionLoss(t *testing.T) {
	c, err := NewClient(testConfig())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	c.lost <- errors.New("EOF")

	_, err = c.Poll(context.Background())
	if !errors.Is(err, ErrConnectionLost) {
		t.Errorf("Poll() error = %v, want ErrConnectionLost", err)
	}
}

func TestPollDetectsClosedConnection(t *testing.T) {
	c, err := NewClient(testConfig())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	// Never connected: the periodic check notices.
	_, err = c.Poll(ctx)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Poll() error = %v, want ErrNotConnected", err)
	}
}

func TestPublishRequiresConnection(t *testing.T) {
	c, err := NewClient(testConfig())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	if err := c.Publish(context.Background(), "", []byte("x")); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Publish(empty topic) error = %v", err)
	}
	if err := c.Publish(context.Background(), "command", []byte("reset")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
}

func TestCloseUnblocksPoll(t *testing.T) {
	c, err := NewClient(testConfig())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := c.Poll(context.Background())
		done <- err
	}()

	c.Close()
	c.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) && !errors.Is(err, ErrNotConnected) {
			t.Errorf("Poll() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Poll not unblocked by Close")
	}

	if err := c.Subscribe(context.Background(), []string{"imu"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Subscribe() after Close error = %v, want ErrClosed", err)
	}
}

func TestSubscribeUnreachableBroker(t *testing.T) {
	if testing.Short() {
		t.Skip("dials the network")
	}
	cfg := testConfig()
	cfg.Port = 1 // nothing listens here

	c, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	err = c.Subscribe(ctx, []string{"anemometer"})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Subscribe() error = %v, want ErrConnectionFailed", err)
	}
}
