package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tropiwallet/wallet-service/internal/domain"
	"github.com/tropiwallet/wallet-service/pkg/rabbitmq"
	"github.com/tropiwallet/wallet-service/pkg/tropipay"
)

const publishTimeout = 5 * time.Second

// EventBridge forwards SDK events of every session client to the event publisher.
// Publishing runs off the SDK's call path.
type EventBridge struct {
	publisher rabbitmq.Publisher
	exchange  string
	logger    *slog.Logger
	wg        sync.WaitGroup
}

func NewEventBridge(publisher rabbitmq.Publisher, exchange string, logger *slog.Logger) *EventBridge {
	return &EventBridge{publisher: publisher, exchange: exchange, logger: logger}
}

// Attach subscribes to client events on behalf of userID and returns the detach func.
func (b *EventBridge) Attach(client *tropipay.Client, userID string) func() {
	return client.OnEvent(func(e tropipay.Event) {
		event := domain.WalletEvent{
			ID:         uuid.NewString(),
			Type:       string(e.Type),
			UserID:     userID,
			ClientID:   e.ClientID,
			OccurredAt: e.At,
			Data:       e.Data,
		}
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.publish(event)
		}()
	})
}

func (b *EventBridge) publish(event domain.WalletEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := b.publisher.Publish(ctx, b.exchange, event.Type, event); err != nil {
		b.logger.Warn("failed to publish wallet event",
			"component", "event_bridge", "event", event.Type, "user_id", event.UserID, "error", err)
	}
}

// Wait blocks until in-flight publishes finish.
func (b *EventBridge) Wait() {
	b.wg.Wait()
}
