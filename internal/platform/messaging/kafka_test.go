package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	contractsv1 "agora/contracts/gen/events/v1"
)

func TestKafkaDeliversToTopicSubscribers(t *testing.T) {
	bus, err := NewKafka([]string{"localhost:9092"}, nil)
	if err != nil {
		t.Fatalf("new kafka: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan contractsv1.Envelope, 1)
	if err := bus.Subscribe(ctx, "vote.cast", "test-cg", func(_ context.Context, event contractsv1.Envelope) error {
		received <- event
		return nil
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := bus.Publish(ctx, "voter.registered", contractsv1.Envelope{EventID: "other"}); err != nil {
		t.Fatalf("publish other topic: %v", err)
	}
	if err := bus.Publish(ctx, "vote.cast", contractsv1.Envelope{EventID: "event-1", EventType: "vote.cast"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case event := <-received:
		if event.EventID != "event-1" {
			t.Fatalf("expected event-1, got %s", event.EventID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for delivery")
	}
	if got := bus.Brokers(); len(got) != 1 || got[0] != "localhost:9092" {
		t.Fatalf("unexpected brokers: %v", got)
	}
}

func TestKafkaPublishWaitsForFullSubscriber(t *testing.T) {
	bus, err := NewKafka(nil, nil)
	if err != nil {
		t.Fatalf("new kafka: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	release := make(chan struct{})
	var handled atomic.Int32
	if err := bus.Subscribe(ctx, "voter.registered", "slow-cg", func(context.Context, contractsv1.Envelope) error {
		<-release
		handled.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// One event is held by the handler and the buffer holds the next
	// subscriberBuffer events, so the one after that cannot be accepted.
	total := subscriberBuffer + 2
	var publishErr error
	published := 0
	for i := 0; i < total; i++ {
		publishCtx, stop := context.WithTimeout(ctx, 50*time.Millisecond)
		publishErr = bus.Publish(publishCtx, "voter.registered", contractsv1.Envelope{EventID: fmt.Sprintf("event-%d", i)})
		stop()
		if publishErr != nil {
			break
		}
		published++
	}
	if !errors.Is(publishErr, context.DeadlineExceeded) {
		t.Fatalf("expected publish to time out on a full subscriber, got %v", publishErr)
	}
	if published != subscriberBuffer+1 {
		t.Fatalf("expected %d accepted events before back-pressure, got %d", subscriberBuffer+1, published)
	}

	close(release)
	deadline := time.After(2 * time.Second)
	for handled.Load() != int32(published) {
		select {
		case <-deadline:
			t.Fatalf("expected every accepted event to be handled, got %d of %d", handled.Load(), published)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestKafkaPublishSkipsStoppedSubscriber(t *testing.T) {
	bus, err := NewKafka(nil, nil)
	if err != nil {
		t.Fatalf("new kafka: %v", err)
	}
	subCtx, cancelSub := context.WithCancel(context.Background())
	if err := bus.Subscribe(subCtx, "vote.cast", "gone-cg", func(context.Context, contractsv1.Envelope) error {
		return nil
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancelSub()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := 0; i < subscriberBuffer*2; i++ {
		if err := bus.Publish(ctx, "vote.cast", contractsv1.Envelope{EventID: fmt.Sprintf("event-%d", i)}); err != nil {
			t.Fatalf("publish %d to stopped subscriber: %v", i, err)
		}
	}
}
