package pubsub

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"marketsync/internal/dispatch"
	"marketsync/internal/metrics"
	"marketsync/internal/models"
)

// envelope is the wire shape of one published update.
type envelope struct {
	Kind   models.EventKind `json:"kind"`
	Symbol string           `json:"symbol"`
	Value  any              `json:"value"`
}

// Publisher fans coalesced updates out on Redis pub/sub. It is fed by the
// throttled dispatcher, so Redis sees at most one message per symbol per
// dispatch interval.
type Publisher struct {
	client  *redis.Client
	logger  *logrus.Logger
	channel string
}

func NewPublisher(client *redis.Client, channel string, logger *logrus.Logger) *Publisher {
	return &Publisher{
		client:  client,
		logger:  logger,
		channel: channel,
	}
}

// Publish sends one update. Channel names are suffixed by kind and symbol
// so consumers can pattern-subscribe.
func (p *Publisher) Publish(ctx context.Context, kind models.EventKind, symbol string, value any) error {
	data, err := json.Marshal(envelope{Kind: kind, Symbol: symbol, Value: value})
	if err != nil {
		metrics.PublishFailures.WithLabelValues(string(kind)).Inc()
		return err
	}

	channel := p.channel + ":" + string(kind) + ":" + symbol
	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		metrics.PublishFailures.WithLabelValues(string(kind)).Inc()
		return err
	}
	metrics.PublishSuccess.WithLabelValues(string(kind)).Inc()
	return nil
}

// OnChange adapts Publish to the dispatcher callback signature. Publish
// errors are logged, never propagated; Redis being down must not affect
// ingestion.
func (p *Publisher) OnChange(ctx context.Context) dispatch.OnChangeFunc {
	return func(u dispatch.Update) {
		if err := p.Publish(ctx, u.Kind, u.Symbol, u.Value); err != nil {
			p.logger.WithError(err).WithFields(logrus.Fields{
				"kind":   u.Kind,
				"symbol": u.Symbol,
			}).Warn("Redis publish failed")
		}
	}
}
