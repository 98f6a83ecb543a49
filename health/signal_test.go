package health

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/eddielth/serial-bridge/logger"
)

func TestMain(m *testing.M) {
	logger.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func TestPublishLastWriteWins(t *testing.T) {
	s := New("serial", false)
	if s.Current() {
		t.Fatal("Current() = true, want initial false")
	}

	s.Publish(true)
	s.Publish(true)
	if !s.Current() {
		t.Error("Current() = false after Publish(true)")
	}

	s.Publish(false)
	if s.Current() {
		t.Error("Current() = true after Publish(false)")
	}
}

func TestWaitUntilReturnsImmediately(t *testing.T) {
	s := New("mqtt", true)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := s.WaitUntil(ctx, true); err != nil {
		t.Errorf("WaitUntil() error = %v", err)
	}
}

func TestWaitUntilWakesAllReaders(t *testing.T) {
	s := New("serial", false)
	s.SetPollInterval(time.Hour) // only the change notification can wake readers

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	const readers = 5
	var wg sync.WaitGroup
	errs := make(chan error, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.WaitUntil(ctx, true)
		}()
	}

	time.Sleep(20 * time.Millisecond)
	s.Publish(true)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("WaitUntil() error = %v", err)
		}
	}
}

func TestWaitUntilHonoursContext(t *testing.T) {
	s := New("serial", false)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := s.WaitUntil(ctx, true)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitUntil() error = %v, want deadline exceeded", err)
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	s := New("mqtt", false)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			s.Publish(i%2 == 0)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked without readers")
	}
}
