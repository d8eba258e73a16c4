package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/pithecene-io/burrow/adapter"
	"github.com/pithecene-io/burrow/trackerr"
)

func testEvent() *adapter.SessionCompletedEvent {
	return &adapter.SessionCompletedEvent{
		EventType:      "session_completed",
		SessionID:      "sess-001",
		Topology:       "hybrid",
		Outcome:        "success",
		ContainerPath:  "/data/burrow_sess-001.msco",
		EventsObserved: 100,
		EventsKept:     100,
		DurationMs:     250,
		Timestamp:      "2026-08-01T12:00:00Z",
	}
}

// fastEngine returns a recovery engine whose IO retries use a tiny
// delay so tests do not sleep.
func fastEngine(attempts int) *trackerr.Engine {
	engine := trackerr.NewEngine()
	engine.Register(trackerr.KindIO, trackerr.Action{
		Kind:        trackerr.ActionRetry,
		MaxAttempts: attempts,
		Delay:       time.Millisecond,
	})
	return engine
}

// asyncReceive starts a goroutine that reads one message from the
// subscriber and sends it to the returned channel. Must be called
// BEFORE Publish to avoid deadlocking miniredis's synchronous pub/sub
// delivery.
func asyncReceive(sub *miniredis.Subscriber) <-chan miniredis.PubsubMessage {
	ch := make(chan miniredis.PubsubMessage, 1)
	go func() {
		ch <- <-sub.Messages()
	}()
	return ch
}

func TestPublish_Success(t *testing.T) {
	mr := miniredis.RunT(t)

	sub := mr.NewSubscriber()
	defer sub.Close()
	sub.Subscribe(DefaultChannel)
	msgCh := asyncReceive(sub)

	a, err := New(Config{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer a.Close()

	if err := a.Publish(context.Background(), testEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-msgCh:
		var received adapter.SessionCompletedEvent
		if err := json.Unmarshal([]byte(msg.Message), &received); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if received.SessionID != "sess-001" || received.Topology != "hybrid" {
			t.Errorf("event mangled in transit: %+v", received)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestPublish_CustomChannel(t *testing.T) {
	mr := miniredis.RunT(t)

	sub := mr.NewSubscriber()
	defer sub.Close()
	sub.Subscribe("profiles")
	msgCh := asyncReceive(sub)

	a, err := New(Config{URL: "redis://" + mr.Addr(), Channel: "profiles"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer a.Close()

	if err := a.Publish(context.Background(), testEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-msgCh:
		if msg.Channel != "profiles" {
			t.Errorf("expected channel profiles, got %s", msg.Channel)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestPublish_ClassifiedIOFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	a, err := New(Config{
		URL:      "redis://" + addr,
		Timeout:  100 * time.Millisecond,
		Recovery: fastEngine(2),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer a.Close()

	err = a.Publish(context.Background(), testEvent())
	if err == nil {
		t.Fatal("expected failure against closed server")
	}
	// Delivery failures surface as classified profiler IO errors.
	if trackerr.KindOf(err) != trackerr.KindIO {
		t.Errorf("expected kind io_error, got %q (%v)", trackerr.KindOf(err), err)
	}
}

func TestPublish_FailuresFeedSharedBreaker(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	engine := fastEngine(3)
	a, err := New(Config{
		URL:      "redis://" + addr,
		Timeout:  50 * time.Millisecond,
		Recovery: engine,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer a.Close()

	// Two failed publishes (3 attempts each) trip the default
	// threshold of 5 failures.
	for i := 0; i < 2; i++ {
		if err := a.Publish(context.Background(), testEvent()); err == nil {
			t.Fatal("expected failure")
		}
	}
	if engine.BreakerState() != trackerr.BreakerOpen {
		t.Errorf("breaker should be open after repeated failures, is %s", engine.BreakerState())
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for empty URL")
	}
	if _, err := New(Config{URL: "not-a-url"}); err == nil {
		t.Fatal("expected error for invalid URL")
	}
}
