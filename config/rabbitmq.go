package config

import (
	"context"
	"fmt"
	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"net/url"
	"strings"
	"time"
)

// URL builds the AMQP address with escaped credentials and vhost.
func (r *RabbitMQ) URL() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(r.User, r.Pass),
		Host:   fmt.Sprintf("%s:%d", r.Host, r.Port),
		Path:   "/" + strings.TrimPrefix(r.Vhost, "/"),
	}
	return u.String()
}

func NewRabbitMQConn(ctx context.Context, cfg *RabbitMQ) (*amqp.Connection, error) {
	connAddr := cfg.URL()

	attempt := 0
	operation := func() (*amqp.Connection, error) {
		attempt++
		conn, err := amqp.Dial(connAddr)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Int("attempt", attempt).Str("host", cfg.Host).Msg("rabbitmq dial failed, retrying")
			return nil, err
		}

		return conn, nil
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 10 * time.Second
	conn, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(maxRetries))
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Int("attempts", attempt).Msg("giving up on rabbitmq")
		return nil, err
	}

	zerolog.Ctx(ctx).Info().Str("host", cfg.Host).Msg("connected to rabbitmq")
	go func() {
		<-ctx.Done()
		if err := conn.Close(); err != nil && !conn.IsClosed() {
			zerolog.Ctx(ctx).Error().Err(err).Msg("failed to close rabbitmq connection")
			return
		}
		zerolog.Ctx(ctx).Info().Msg("rabbitmq connection closed")
	}()

	return conn, nil
}
