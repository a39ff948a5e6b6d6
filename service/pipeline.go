package service

import (
	"context"
	"errors"
	"fmt"
	"footage-flow/config"
	"footage-flow/constant"
	"footage-flow/dto"
	"footage-flow/entities"
	"footage-flow/provider"
	"footage-flow/repository"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SourceStore dereferences an uploaded video to a local file.
type SourceStore interface {
	Fetch(ctx context.Context, videoID, dir string) (*provider.Media, error)
}

type Providers struct {
	Transcriber provider.Transcriber
	Tagger      provider.Tagger
	Emotions    provider.EmotionAnalyzer
}

type PipelineOptions struct {
	WorkDir       string
	Timeouts      map[constant.Stage]time.Duration
	StageAttempts uint
	RetryInterval time.Duration
}

const defaultStageTimeout = time.Minute

func PipelineOptionsFromConfig(cfg config.Pipeline) PipelineOptions {
	return PipelineOptions{
		WorkDir: cfg.WorkDir,
		Timeouts: map[constant.Stage]time.Duration{
			constant.StageTranscription:   cfg.TranscriptionTimeout,
			constant.StageVisualTagging:   cfg.TaggingTimeout,
			constant.StageEmotionAnalysis: cfg.EmotionTimeout,
		},
		StageAttempts: cfg.StageAttempts,
		RetryInterval: cfg.RetryInterval,
	}
}

func (o PipelineOptions) timeout(stage constant.Stage) time.Duration {
	if d, ok := o.Timeouts[stage]; ok && d > 0 {
		return d
	}
	return defaultStageTimeout
}

// Pipeline drives a video through the analysis stages. At most one run per
// video is active in this process; every stage transition and every stage
// result is persisted before the next stage starts.
type Pipeline struct {
	repo      repository.AnalysisRepository
	sources   SourceStore
	providers Providers
	notifier  Notifier
	events    *Broadcaster
	opts      PipelineOptions
	now       func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
	runs     sync.WaitGroup
}

func NewPipeline(repo repository.AnalysisRepository, sources SourceStore, providers Providers, notifier Notifier, opts PipelineOptions) *Pipeline {
	if opts.StageAttempts == 0 {
		opts.StageAttempts = 2
	}
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}
	events := NewBroadcaster()
	return &Pipeline{
		repo:      repo,
		sources:   sources,
		providers: providers,
		notifier:  Notifiers{events, notifier},
		events:    events,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
		inflight:  make(map[string]struct{}),
	}
}

// Process runs the pipeline for videoID and returns the final record. A video
// that already completed is returned as is.
func (p *Pipeline) Process(ctx context.Context, videoID string) (*entities.VideoAnalysis, error) {
	analysis, err := p.prepare(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if analysis.Status == constant.VideoStatusCompleted {
		zerolog.Ctx(ctx).Info().Str("video_id", videoID).Msg("video already processed")
		return analysis, nil
	}

	done, err := p.claim(ctx, videoID)
	if err != nil || done != nil {
		return done, err
	}
	defer p.release(videoID)

	return p.run(ctx, videoID)
}

// Start claims videoID and runs the pipeline in the background on ctx, which
// must outlive the caller's request.
func (p *Pipeline) Start(ctx context.Context, videoID string) (*entities.VideoAnalysis, error) {
	analysis, err := p.prepare(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if analysis.Status == constant.VideoStatusCompleted {
		return analysis, nil
	}

	done, err := p.claim(ctx, videoID)
	if err != nil || done != nil {
		return done, err
	}

	p.runs.Add(1)
	go func() {
		defer p.runs.Done()
		defer p.release(videoID)
		if _, err := p.run(ctx, videoID); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("video_id", videoID).Msg("background processing failed")
		}
	}()
	return analysis, nil
}

// Wait blocks until every background run started with Start has returned.
func (p *Pipeline) Wait() {
	p.runs.Wait()
}

// GetProgress returns the last persisted state of the record. It never waits
// for an active run.
func (p *Pipeline) GetProgress(ctx context.Context, videoID string) (*entities.VideoAnalysis, error) {
	if strings.TrimSpace(videoID) == "" {
		return nil, ErrInvalidArgument
	}
	analysis, err := p.repo.FindAnalysis(ctx, videoID)
	if err == nil {
		return analysis, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	if _, err := p.repo.FindVideo(ctx, videoID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: video %s", ErrNotFound, videoID)
		}
		return nil, err
	}
	return &entities.VideoAnalysis{
		VideoID:  videoID,
		Status:   constant.VideoStatusPending,
		Segments: []entities.Segment{},
		Tags:     []string{},
		Emotions: []entities.Emotion{},
	}, nil
}

// Watch subscribes to change events of videoID. The returned func must be
// called to release the subscription.
func (p *Pipeline) Watch(videoID string) (<-chan dto.StageEvent, func()) {
	return p.events.Subscribe(videoID)
}

// claim takes the run slot of videoID. A run that completed after the caller
// last read the record leaves the slot free and its record is returned
// instead.
func (p *Pipeline) claim(ctx context.Context, videoID string) (*entities.VideoAnalysis, error) {
	p.mu.Lock()
	if _, busy := p.inflight[videoID]; busy {
		p.mu.Unlock()
		return nil, ErrConcurrentProcessing
	}
	p.inflight[videoID] = struct{}{}
	p.mu.Unlock()

	current, err := p.repo.FindAnalysis(ctx, videoID)
	if err != nil {
		p.release(videoID)
		return nil, err
	}
	if current.Status == constant.VideoStatusCompleted {
		p.release(videoID)
		return current, nil
	}
	return nil, nil
}

func (p *Pipeline) release(videoID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, videoID)
}

// prepare loads the record, creating a pending one for a known upload.
func (p *Pipeline) prepare(ctx context.Context, videoID string) (*entities.VideoAnalysis, error) {
	if strings.TrimSpace(videoID) == "" {
		return nil, ErrInvalidArgument
	}

	analysis, err := p.repo.FindAnalysis(ctx, videoID)
	if err == nil {
		return analysis, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	analysis = &entities.VideoAnalysis{
		VideoID:      videoID,
		Status:       constant.VideoStatusPending,
		CurrentStage: constant.StageStarting,
		Segments:     []entities.Segment{},
		Tags:         []string{},
		Emotions:     []entities.Emotion{},
	}
	err = p.repo.Transaction(ctx, func(ctx context.Context) error {
		if _, err := p.repo.FindVideo(ctx, videoID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: video %s", ErrNotFound, videoID)
			}
			return err
		}
		return p.repo.CreateAnalysis(ctx, analysis)
	})
	if errors.Is(err, repository.ErrConflict) {
		return p.repo.FindAnalysis(ctx, videoID)
	}
	if err != nil {
		return nil, err
	}
	return analysis, nil
}

func (p *Pipeline) run(ctx context.Context, videoID string) (*entities.VideoAnalysis, error) {
	logger := zerolog.Ctx(ctx).With().Str("video_id", videoID).Logger()
	ctx = logger.WithContext(ctx)
	logger.Info().Msg("processing video")

	analysis, err := p.update(ctx, videoID, OutcomeOK, func(a *entities.VideoAnalysis) error {
		return beginRun(a, p.now())
	})
	if err != nil {
		return nil, err
	}

	workDir := filepath.Join(p.opts.WorkDir, videoID+"-"+uuid.NewString()[:8])
	defer os.RemoveAll(workDir)

	media, err := p.sources.Fetch(ctx, videoID, workDir)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		cause := fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
		logger.Error().Err(err).Msg("source unavailable")
		if _, uerr := p.update(ctx, videoID, OutcomeFatal, func(a *entities.VideoAnalysis) error {
			failRun(a, cause)
			return nil
		}); uerr != nil {
			logger.Error().Err(uerr).Msg("failed to record failure")
		}
		return nil, cause
	}
	if media.WorkDir == "" {
		media.WorkDir = workDir
	}

	for i, stage := range constant.PipelineStages {
		analysis, err = p.update(ctx, videoID, OutcomeOK, func(a *entities.VideoAnalysis) error {
			if i == 0 {
				recordSource(a, media)
			}
			return enterStage(a, stage)
		})
		if err != nil {
			return nil, err
		}

		started := time.Now()
		outcome := p.runStage(ctx, stage, *media, analysis)
		if ctx.Err() != nil {
			// abandoned: the record keeps its last persisted state
			return nil, ctx.Err()
		}

		event := logger.Info()
		if outcome.Kind != OutcomeOK {
			event = logger.Warn().Err(outcome.Err)
		}
		event.Str("stage", stage.String()).Str("outcome", outcome.Kind.String()).Dur("took", time.Since(started)).Msg("stage finished")

		analysis, err = p.update(ctx, videoID, outcome.Kind, func(a *entities.VideoAnalysis) error {
			return applyOutcome(a, outcome)
		})
		if err != nil {
			return nil, err
		}
		if outcome.Kind == OutcomeFatal {
			return analysis, outcome.Err
		}
	}

	analysis, err = p.update(ctx, videoID, OutcomeOK, func(a *entities.VideoAnalysis) error {
		return completeRun(a, p.now())
	})
	if err != nil {
		return nil, err
	}
	logger.Info().Int("segments", len(analysis.Segments)).Int("tags", len(analysis.Tags)).Int("degraded_stages", len(analysis.StageErrors)).Msg("video processed")
	return analysis, nil
}

func (p *Pipeline) runStage(ctx context.Context, stage constant.Stage, media provider.Media, current *entities.VideoAnalysis) StageOutcome {
	var outcome StageOutcome
	var err error

	switch stage {
	case constant.StageTranscription:
		var t *provider.Transcription
		t, err = retryStage(ctx, p.opts, stage, func(ctx context.Context) (*provider.Transcription, error) {
			return p.providers.Transcriber.Transcribe(ctx, media)
		})
		outcome = okOutcome(stage)
		outcome.Transcription = t
	case constant.StageVisualTagging:
		var tags []string
		tags, err = retryStage(ctx, p.opts, stage, func(ctx context.Context) ([]string, error) {
			return p.providers.Tagger.Tag(ctx, media)
		})
		outcome = okOutcome(stage)
		outcome.Tags = tags
	case constant.StageEmotionAnalysis:
		var emotions []entities.Emotion
		emotions, err = retryStage(ctx, p.opts, stage, func(ctx context.Context) ([]entities.Emotion, error) {
			return p.providers.Emotions.Analyze(ctx, current.Transcript, current.Segments)
		})
		outcome = okOutcome(stage)
		outcome.Emotions = emotions
	case constant.StageIndexing:
		outcome = okOutcome(stage)
		outcome.SearchText = searchText(current)
	default:
		return fatalOutcome(stage, fmt.Errorf("unknown stage %s", stage))
	}

	if err == nil {
		return outcome
	}
	// a source that vanished mid-run cannot be recovered by later stages
	if _, statErr := os.Stat(media.Path); statErr != nil {
		return fatalOutcome(stage, fmt.Errorf("%w: %w", ErrSourceUnavailable, statErr))
	}
	return degradedOutcome(stage, err)
}

// retryStage runs call with the stage timeout, retrying transient failures
// until the attempt budget is spent.
func retryStage[T any](ctx context.Context, opts PipelineOptions, stage constant.Stage, call func(ctx context.Context) (T, error)) (T, error) {
	attempt := 0
	operation := func() (T, error) {
		attempt++
		v, err := callWithTimeout(ctx, opts.timeout(stage), call)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return v, backoff.Permanent(ctx.Err())
		}
		if !provider.IsTemporary(err) {
			return v, backoff.Permanent(err)
		}
		zerolog.Ctx(ctx).Warn().Err(err).Str("stage", stage.String()).Int("attempt", attempt).Msg("stage attempt failed")
		return v, err
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(opts.RetryInterval)),
		backoff.WithMaxTries(opts.StageAttempts),
	)
}

// callWithTimeout stops waiting when the deadline passes even if call ignores
// its context.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, call func(ctx context.Context) (T, error)) (T, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := call(actx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && actx.Err() != nil {
			return r.v, fmt.Errorf("%w: %w", actx.Err(), r.err)
		}
		return r.v, r.err
	case <-actx.Done():
		var zero T
		return zero, actx.Err()
	}
}

func (p *Pipeline) update(ctx context.Context, videoID string, kind OutcomeKind, mutate func(a *entities.VideoAnalysis) error) (*entities.VideoAnalysis, error) {
	analysis, err := p.repo.UpdateAnalysis(ctx, videoID, mutate)
	if err != nil {
		return nil, err
	}
	p.notifier.Notify(ctx, dto.StageEvent{
		VideoId:      analysis.VideoID,
		Status:       analysis.Status,
		CurrentStage: analysis.CurrentStage,
		Degraded:     kind == OutcomeDegraded,
		Error:        analysis.Error,
		OccurredAt:   p.now(),
	})
	return analysis, nil
}
