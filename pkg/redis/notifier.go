package redis

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/pakloong/iroha/pkg/index"
)

// Publisher sends a message to a Pub/Sub channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any)
}

// IndexedEvent is published once per newly indexed block.
type IndexedEvent struct {
	Height    uint64   `json:"height"`
	Accounts  []string `json:"accounts"`
	Positions int      `json:"positions"`
}

// Notifier announces indexed blocks on a channel.
type Notifier struct {
	publisher Publisher
	channel   string
	logger    *zap.Logger
}

// NewNotifier returns a Notifier publishing to channel.
func NewNotifier(publisher Publisher, channel string, logger *zap.Logger) *Notifier {
	return &Notifier{publisher: publisher, channel: channel, logger: logger}
}

// Notify publishes res unless it was skipped.
func (n *Notifier) Notify(ctx context.Context, res index.Result) {
	if res.Skipped {
		return
	}

	event := IndexedEvent{
		Height:    res.Records.Height,
		Accounts:  make([]string, len(res.Records.Accounts)),
		Positions: len(res.Records.Positions),
	}
	for i, acc := range res.Records.Accounts {
		event.Accounts[i] = string(acc)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		n.logger.Warn("Failed to encode index event", zap.Uint64("height", event.Height), zap.Error(err))
		return
	}
	n.publisher.Publish(ctx, n.channel, payload)
}
