package rabbitmq

import (
	"context"
	"errors"
	"footage-flow/config"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// ErrReject makes a delivery go straight to the dead letter queue.
var ErrReject = errors.New("message rejected")

// QueueTopology names the topology a consumer declares and reads from.
type QueueTopology struct {
	Exchange      string
	Queue         string
	RoutingKey    string
	DLX           string
	DLQ           string
	DLQRoutingKey string
	// MaxTries bounds handler attempts per delivery before dead-lettering.
	MaxTries uint
}

// VideoProcessingQueue is the intake for process requests.
func VideoProcessingQueue(cfg *config.RabbitMQ) QueueTopology {
	exchange := cfg.ExchangeName
	if exchange == "" {
		exchange = "video_exchange"
	}
	maxTries := cfg.MaxRetries
	if maxTries == 0 {
		maxTries = 5
	}
	return QueueTopology{
		Exchange:      exchange,
		Queue:         "video_processing_queue",
		RoutingKey:    "video.process.request",
		DLX:           exchange + "_dlx",
		DLQ:           "video_processing_queue_dlq",
		DLQRoutingKey: "dlq.video.process.request",
		MaxTries:      maxTries,
	}
}

type Consumer[T any] interface {
	Consume(ctx context.Context, dependencies T) error
}

type consumer[T any] struct {
	conn       *amqp.Connection
	cfg        *config.RabbitMQ
	topology   QueueTopology
	handler    func(ctx context.Context, msg amqp.Delivery, dependencies T) error
	numWorkers int
	backOff    func() backoff.BackOff
}

func (c consumer[T]) Consume(ctx context.Context, dependencies T) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := c.declare(ctx, ch); err != nil {
		return err
	}

	err = ch.Qos(c.numWorkers, 0, false)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("queue", c.topology.Queue).Msg("failed to set QoS")
		return err
	}

	deliveries, err := ch.Consume(c.topology.Queue, "", false, false, false, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("queue", c.topology.Queue).Msg("failed to consume queue")
		return err
	}

	zerolog.Ctx(ctx).Info().
		Str("queue", c.topology.Queue).
		Str("exchange", c.topology.Exchange).
		Str("routing_key", c.topology.RoutingKey).
		Int("workers", c.numWorkers).
		Msg("consumer started")

	jobs := make(chan amqp.Delivery, c.numWorkers)
	var wg sync.WaitGroup
	for i := 1; i <= c.numWorkers; i++ {
		wg.Add(1)
		go func(workerId int) {
			defer wg.Done()
			for msg := range jobs {
				c.handle(ctx, workerId, msg, dependencies)
			}
		}(i)
	}

	for {
		select {
		case delivery, ok := <-deliveries:
			if !ok {
				close(jobs)
				wg.Wait()
				return nil
			}

			jobs <- delivery
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return ctx.Err()
		}
	}
}

func (c consumer[T]) declare(ctx context.Context, ch *amqp.Channel) error {
	err := ch.ExchangeDeclare(c.topology.Exchange, c.cfg.Kind, true, false, false, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("exchange", c.topology.Exchange).Msg("failed to declare exchange")
		return err
	}

	err = ch.ExchangeDeclare(c.topology.DLX, c.cfg.Kind, true, false, false, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("exchange", c.topology.DLX).Msg("failed to declare dlx")
		return err
	}

	dlq, err := ch.QueueDeclare(c.topology.DLQ, true, false, false, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("queue", c.topology.DLQ).Msg("failed to declare dlq")
		return err
	}

	err = ch.QueueBind(dlq.Name, c.topology.DLQRoutingKey, c.topology.DLX, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Msg("failed to bind dlq")
		return err
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    c.topology.DLX,
		"x-dead-letter-routing-key": c.topology.DLQRoutingKey,
	}
	q, err := ch.QueueDeclare(c.topology.Queue, true, false, false, false, args)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("queue", c.topology.Queue).Msg("failed to declare queue")
		return err
	}

	err = ch.QueueBind(q.Name, c.topology.RoutingKey, c.topology.Exchange, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("queue", c.topology.Queue).Msg("failed to bind queue")
		return err
	}
	return nil
}

// handle runs the handler with retries and settles the delivery: ack on
// success, requeue on shutdown, dead-letter otherwise.
func (c consumer[T]) handle(ctx context.Context, workerId int, msg amqp.Delivery, dependencies T) {
	logger := zerolog.Ctx(ctx).With().Int("worker_id", workerId).Str("message_id", msg.MessageId).Logger()
	ctx = logger.WithContext(ctx)

	operation := func() (struct{}, error) {
		err := c.handler(ctx, msg, dependencies)
		if errors.Is(err, ErrReject) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, operation, backoff.WithBackOff(c.backOff()), backoff.WithMaxTries(c.topology.MaxTries))
	switch {
	case err == nil:
		if ackErr := msg.Ack(false); ackErr != nil {
			logger.Error().Err(ackErr).Msg("failed to acknowledge message")
		}
	case ctx.Err() != nil:
		logger.Warn().Err(err).Msg("shutting down, requeue message")
		if nackErr := msg.Nack(false, true); nackErr != nil {
			logger.Error().Err(nackErr).Msg("failed to requeue message")
		}
	default:
		logger.Error().Err(err).Msg("failed to handle message after all retries")
		if nackErr := msg.Nack(false, false); nackErr != nil {
			logger.Error().Err(nackErr).Msg("failed to nack message to send to DLQ")
		}
	}
}

func defaultBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 10 * time.Second
	return bo
}

func NewConsumer[T any](
	conn *amqp.Connection,
	cfg *config.RabbitMQ,
	topology QueueTopology,
	numWorkers int,
	handler func(ctx context.Context, msg amqp.Delivery, dependencies T) error,
) Consumer[T] {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if topology.MaxTries == 0 {
		topology.MaxTries = 1
	}
	return &consumer[T]{
		conn:       conn,
		cfg:        cfg,
		topology:   topology,
		handler:    handler,
		numWorkers: numWorkers,
		backOff:    defaultBackOff,
	}
}
