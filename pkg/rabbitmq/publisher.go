package rabbitmq

import (
	"context"
	"encoding/json"
	"footage-flow/dto"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const publishTimeout = 5 * time.Second

// EventPublisher sends analysis stage events to a topic exchange so other
// services can follow progress without polling.
type EventPublisher struct {
	mu       sync.Mutex
	ch       *amqp.Channel
	exchange string
}

func NewEventPublisher(ctx context.Context, conn *amqp.Connection, exchange, kind string) (*EventPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}

	err = ch.ExchangeDeclare(exchange, kind, true, false, false, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("exchange", exchange).Msg("failed to declare exchange")
		ch.Close()
		return nil, err
	}

	return &EventPublisher{ch: ch, exchange: exchange}, nil
}

// StageRoutingKey is the routing key an event is published with.
func StageRoutingKey(event dto.StageEvent) string {
	return "video.stage." + event.CurrentStage.String()
}

func eventPublishing(event dto.StageEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.OccurredAt,
		Body:         body,
	}, nil
}

// Notify publishes event. Failures are logged and never reach the pipeline.
func (p *EventPublisher) Notify(ctx context.Context, event dto.StageEvent) {
	msg, err := eventPublishing(event)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to marshal stage event")
		return
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(pctx, p.exchange, StageRoutingKey(event), false, false, msg)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("video_id", event.VideoId).Str("stage", event.CurrentStage.String()).Msg("failed to publish stage event")
	}
}

func (p *EventPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.Close()
}
