package messaging

import (
	"context"
	"log/slog"
	"sync"

	contractsv1 "agora/contracts/gen/events/v1"
)

const subscriberBuffer = 128

// Kafka is the event bus behind the outbox relay and the notification
// consumer. Delivery is in-process and the broker list is kept for the
// external client. Publish returns only after every live subscriber of the
// topic has accepted the event, so a relay never marks a row published for a
// notification that was not handed over.
type Kafka struct {
	mu          sync.RWMutex
	brokers     []string
	subscribers map[string][]*subscription
	logger      *slog.Logger
}

type subscription struct {
	group  string
	events chan contractsv1.Envelope
	// done is closed once the consumer loop has stopped reading.
	done chan struct{}
}

func NewKafka(brokers []string, logger *slog.Logger) (*Kafka, error) {
	return &Kafka{
		brokers:     append([]string(nil), brokers...),
		subscribers: make(map[string][]*subscription),
		logger:      logger,
	}, nil
}

func (k *Kafka) Brokers() []string {
	return append([]string(nil), k.brokers...)
}

// Publish hands event to every subscriber of topic. A full subscriber buffer
// applies back-pressure: Publish waits until the subscriber catches up, the
// subscriber stops, or ctx ends. In the last case the context error is
// returned and the caller keeps the event for a later attempt.
func (k *Kafka) Publish(ctx context.Context, topic string, event contractsv1.Envelope) error {
	k.mu.RLock()
	subs := append([]*subscription(nil), k.subscribers[topic]...)
	k.mu.RUnlock()

	for _, sub := range subs {
		if err := k.deliver(ctx, topic, sub, event); err != nil {
			return err
		}
	}

	if k.logger != nil {
		k.logger.Debug("event published",
			"event", "bus_publish",
			"module", "internal/platform/messaging",
			"layer", "platform",
			"topic", topic,
			"event_id", event.EventID,
			"event_type", event.EventType,
			"subscribers", len(subs),
		)
	}
	return nil
}

func (k *Kafka) deliver(ctx context.Context, topic string, sub *subscription, event contractsv1.Envelope) error {
	select {
	case sub.events <- event:
		return nil
	default:
	}

	if k.logger != nil {
		k.logger.Warn("subscriber buffer full, waiting",
			"event", "bus_publish_backpressure",
			"module", "internal/platform/messaging",
			"layer", "platform",
			"topic", topic,
			"consumer_group", sub.group,
			"event_id", event.EventID,
		)
	}
	select {
	case sub.events <- event:
		return nil
	case <-sub.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe starts a consumer loop for topic that runs until ctx ends.
// Handler errors are logged; the bus does not redeliver.
func (k *Kafka) Subscribe(
	ctx context.Context,
	topic string,
	consumerGroup string,
	handler func(context.Context, contractsv1.Envelope) error,
) error {
	sub := &subscription{
		group:  consumerGroup,
		events: make(chan contractsv1.Envelope, subscriberBuffer),
		done:   make(chan struct{}),
	}

	k.mu.Lock()
	k.subscribers[topic] = append(k.subscribers[topic], sub)
	k.mu.Unlock()

	go func() {
		defer close(sub.done)
		defer k.unsubscribe(topic, sub)
		for {
			select {
			case <-ctx.Done():
				return
			case event := <-sub.events:
				if err := handler(ctx, event); err != nil && k.logger != nil {
					k.logger.Error("consumer handler failed",
						"event", "bus_consume_failed",
						"module", "internal/platform/messaging",
						"layer", "platform",
						"topic", topic,
						"consumer_group", consumerGroup,
						"event_id", event.EventID,
						"event_type", event.EventType,
						"error", err.Error(),
					)
				}
			}
		}
	}()
	return nil
}

func (k *Kafka) unsubscribe(topic string, target *subscription) {
	k.mu.Lock()
	defer k.mu.Unlock()

	current := k.subscribers[topic]
	kept := current[:0:0]
	for _, sub := range current {
		if sub != target {
			kept = append(kept, sub)
		}
	}
	if len(kept) == 0 {
		delete(k.subscribers, topic)
		return
	}
	k.subscribers[topic] = kept
}
