package handler

import (
	"context"
	"encoding/json"
	"errors"
	"footage-flow/dto"
	"footage-flow/entities"
	"footage-flow/pkg/rabbitmq"
	"footage-flow/service"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

type Processor interface {
	Process(ctx context.Context, videoID string) (*entities.VideoAnalysis, error)
}

type ServiceDependencies struct {
	Pipeline Processor
}

// ProcessHandler runs the analysis pipeline for a queued {videoId} request.
// Outcomes that a redelivery cannot change are acknowledged.
func ProcessHandler(ctx context.Context, msg amqp.Delivery, deps ServiceDependencies) (err error) {
	var req dto.ProcessMessage
	if err := json.Unmarshal(msg.Body, &req); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to unmarshal process message")
		return errors.Join(rabbitmq.ErrReject, err)
	}
	if strings.TrimSpace(req.VideoId) == "" {
		return errors.Join(rabbitmq.ErrReject, service.ErrInvalidArgument)
	}

	logger := zerolog.Ctx(ctx).With().Str("video_id", req.VideoId).Logger()
	ctx = logger.WithContext(ctx)
	logger.Info().Msg("received process message")

	defer func() {
		if errors.Is(err, service.ErrNonRetryable) {
			logger.Warn().Err(err).Msg("dropping process message")
			err = nil
		}
	}()

	analysis, err := deps.Pipeline.Process(ctx, req.VideoId)
	switch {
	case err == nil:
		logger.Info().Str("status", string(analysis.Status)).Msg("process message handled")
		return nil
	case errors.Is(err, service.ErrNotFound):
		return errors.Join(rabbitmq.ErrReject, err)
	case errors.Is(err, service.ErrConcurrentProcessing), errors.Is(err, service.ErrSourceUnavailable):
		return errors.Join(service.ErrNonRetryable, err)
	default:
		return err
	}
}
