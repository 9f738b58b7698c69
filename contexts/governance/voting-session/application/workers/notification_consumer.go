package workers

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	application "agora/contexts/governance/voting-session/application"
	"agora/contexts/governance/voting-session/domain/entities"
	"agora/contexts/governance/voting-session/ports"
)

const defaultNotificationCG = "voting-session-notification-cg"

// Notification is a decoded session event handed to observers.
type Notification struct {
	EventID    string
	EventType  entities.EventType
	SessionID  string
	OccurredAt time.Time
	Data       map[string]any
}

// Observer receives every notification exactly once per event id.
type Observer func(ctx context.Context, notification Notification) error

// NotificationConsumer subscribes to every session topic, drops redelivered
// events, and fans the rest out to the registered observers in order.
type NotificationConsumer struct {
	Subscriber    ports.EventSubscriber
	Dedup         ports.EventDedupStore
	Clock         ports.Clock
	ConsumerGroup string
	DedupTTL      time.Duration
	Logger        *slog.Logger

	mu        sync.RWMutex
	observers []Observer
}

func (c *NotificationConsumer) Register(observer Observer) {
	if observer == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, observer)
}

func (c *NotificationConsumer) Start(ctx context.Context) error {
	logger := application.ResolveLogger(c.Logger, "worker")
	group := strings.TrimSpace(c.ConsumerGroup)
	if group == "" {
		group = defaultNotificationCG
	}
	for _, eventType := range entities.AllEventTypes {
		topic := string(eventType)
		if err := c.Subscriber.Subscribe(ctx, topic, group, c.Handle); err != nil {
			logger.Error("notification consumer subscribe failed",
				"event", "voting_notification_consumer_subscribe_failed",
				"topic", topic,
				"consumer_group", group,
				"error", err.Error(),
			)
			return err
		}
	}
	logger.Info("notification consumer subscriptions active",
		"event", "voting_notification_consumer_started",
		"consumer_group", group,
		"topics", len(entities.AllEventTypes),
	)
	return nil
}

// Handle processes one delivered envelope. It is exported so tests and
// alternative transports can feed envelopes directly.
func (c *NotificationConsumer) Handle(ctx context.Context, event ports.EventEnvelope) error {
	logger := application.ResolveLogger(c.Logger, "worker")
	if c.Dedup != nil {
		alreadyProcessed, err := c.Dedup.ReserveEvent(ctx, event.EventID, hashPayload(event.Data), c.now().Add(c.dedupTTL()))
		if err != nil {
			logger.Error("notification dedupe failed",
				"event", "voting_notification_dedupe_failed",
				"event_id", event.EventID,
				"event_type", event.EventType,
				"error", err.Error(),
			)
			return err
		}
		if alreadyProcessed {
			logger.Debug("notification replay skipped",
				"event", "voting_notification_replayed",
				"event_id", event.EventID,
			)
			return nil
		}
	}

	var data map[string]any
	if len(event.Data) > 0 {
		if err := json.Unmarshal(event.Data, &data); err != nil {
			logger.Error("notification decode failed",
				"event", "voting_notification_decode_failed",
				"event_id", event.EventID,
				"error", err.Error(),
			)
			return err
		}
	}
	notification := Notification{
		EventID:    event.EventID,
		EventType:  entities.EventType(event.EventType),
		SessionID:  event.PartitionKey,
		OccurredAt: event.OccurredAt,
		Data:       data,
	}

	c.mu.RLock()
	observers := append([]Observer(nil), c.observers...)
	c.mu.RUnlock()
	for _, observer := range observers {
		if err := observer(ctx, notification); err != nil {
			logger.Warn("notification observer failed",
				"event", "voting_notification_observer_failed",
				"event_id", event.EventID,
				"event_type", event.EventType,
				"error", err.Error(),
			)
		}
	}
	logger.Info("notification consumed",
		"event", "voting_notification_consumed",
		"event_id", event.EventID,
		"event_type", event.EventType,
		"session_id", notification.SessionID,
		"observers", len(observers),
	)
	return nil
}

// LogObserver writes every notification to logger.
func LogObserver(logger *slog.Logger) Observer {
	logger = application.ResolveLogger(logger, "worker")
	return func(_ context.Context, notification Notification) error {
		logger.Info("voting session notification",
			"event", "voting_session_notification",
			"event_id", notification.EventID,
			"event_type", string(notification.EventType),
			"session_id", notification.SessionID,
		)
		return nil
	}
}

func (c *NotificationConsumer) now() time.Time {
	now := time.Now().UTC()
	if c.Clock != nil {
		now = c.Clock.Now().UTC()
	}
	return now
}

func (c *NotificationConsumer) dedupTTL() time.Duration {
	if c.DedupTTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return c.DedupTTL
}
