package service

import (
	"context"
	"errors"
	"fmt"
	"footage-flow/config"
	"footage-flow/constant"
	"footage-flow/entities"
	"footage-flow/provider"
	"footage-flow/repository"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	maxStoryScenes          = 10
	maxCollectiveLimit      = 20
	highlightsPerVideo      = 8
	collectiveHighlights    = 4
	longCollectiveThreshold = 180.0
)

type StoryRequest struct {
	VideoID string
	Prompt  string
	Mode    constant.StoryMode
	Length  constant.TargetLength
}

type CollectiveRequest struct {
	Query    string
	VideoIDs []string
	Prompt   string
	Mode     constant.StoryMode
	Limit    int
}

type AssemblerOptions struct {
	Timeout      time.Duration
	DefaultLimit int
}

func AssemblerOptionsFromConfig(cfg config.Story) AssemblerOptions {
	return AssemblerOptions{Timeout: cfg.Timeout, DefaultLimit: cfg.CollectiveLimit}
}

// Assembler turns completed analyses into story drafts.
type Assembler struct {
	repo      repository.AnalysisRepository
	generator provider.NarrativeGenerator
	opts      AssemblerOptions
	newID     func() string
}

func NewAssembler(repo repository.AnalysisRepository, generator provider.NarrativeGenerator, opts AssemblerOptions) *Assembler {
	if opts.Timeout <= 0 {
		opts.Timeout = 90 * time.Second
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 5
	}
	return &Assembler{
		repo:      repo,
		generator: generator,
		opts:      opts,
		newID:     uuid.NewString,
	}
}

func resolveMode(mode constant.StoryMode) (constant.StoryMode, error) {
	if mode == "" {
		return constant.StoryModePositive, nil
	}
	if !mode.Valid() {
		return "", fmt.Errorf("%w: mode %q", ErrInvalidArgument, mode)
	}
	return mode, nil
}

func resolveLength(length constant.TargetLength) (constant.TargetLength, error) {
	if length == "" {
		return constant.TargetLengthLong, nil
	}
	if !length.Valid() {
		return "", fmt.Errorf("%w: length %q", ErrInvalidArgument, length)
	}
	return length, nil
}

// GenerateStory drafts a story over one completed video.
func (s *Assembler) GenerateStory(ctx context.Context, req StoryRequest) (*entities.Story, error) {
	if strings.TrimSpace(req.VideoID) == "" {
		return nil, fmt.Errorf("%w: videoId is required", ErrInvalidArgument)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrInvalidArgument)
	}
	mode, err := resolveMode(req.Mode)
	if err != nil {
		return nil, err
	}
	length, err := resolveLength(req.Length)
	if err != nil {
		return nil, err
	}

	analysis, err := s.repo.FindAnalysis(ctx, req.VideoID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: analysis %s", ErrNotFound, req.VideoID)
	}
	if err != nil {
		return nil, err
	}
	if analysis.Status != constant.VideoStatusCompleted {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotCompleted, req.VideoID, analysis.Status)
	}

	duration := s.duration(ctx, analysis)
	terms := repository.SearchTerms(req.Prompt)
	narrative, err := s.generate(ctx, provider.NarrativeRequest{
		Prompt: req.Prompt,
		Mode:   mode,
		Length: length,
		Sources: []provider.NarrativeSource{{
			VideoID:    analysis.VideoID,
			Duration:   duration,
			Transcript: analysis.Transcript,
			Tags:       analysis.Tags,
			Highlights: highlights(analysis, terms, duration, highlightsPerVideo),
		}},
	})
	if err != nil {
		return nil, err
	}

	scenes := normalizeStoryScenes(narrative.Scenes, analysis.VideoID, duration, maxStoryScenes)
	if len(scenes) == 0 {
		return nil, fmt.Errorf("%w: no scene fits the %.2fs source", ErrStoryGenerationFailed, duration)
	}
	if dropped := len(narrative.Scenes) - len(scenes); dropped > 0 {
		zerolog.Ctx(ctx).Warn().Str("video_id", analysis.VideoID).Int("dropped", dropped).Msg("dropped scenes outside source bounds")
	}

	return &entities.Story{
		ID:             s.newID(),
		SourceVideoIDs: []string{analysis.VideoID},
		Scenes:         scenes,
		Summary:        narrative.Summary,
		FullNarration:  entities.JoinNarration(scenes),
	}, nil
}

// GenerateCollectiveStory drafts one story across several completed videos
// picked by explicit ids, a free-text query, or recency.
func (s *Assembler) GenerateCollectiveStory(ctx context.Context, req CollectiveRequest) (*entities.Story, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrInvalidArgument)
	}
	mode, err := resolveMode(req.Mode)
	if err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit == 0 {
		limit = s.opts.DefaultLimit
	}
	limit = max(1, min(limit, maxCollectiveLimit))

	analyses, err := s.retrieve(ctx, req, limit)
	if err != nil {
		return nil, err
	}
	if len(analyses) == 0 {
		return nil, ErrNoMatchingContent
	}

	terms := repository.SearchTerms(req.Query + " " + req.Prompt)
	durations := make(map[string]float64, len(analyses))
	sources := make([]provider.NarrativeSource, 0, len(analyses))
	var total float64
	for _, a := range analyses {
		d := s.duration(ctx, a)
		durations[a.VideoID] = d
		total += d
		sources = append(sources, provider.NarrativeSource{
			VideoID:    a.VideoID,
			Duration:   d,
			Transcript: a.Transcript,
			Tags:       a.Tags,
			Highlights: highlights(a, terms, d, collectiveHighlights),
		})
	}

	length := constant.TargetLengthShort
	if total > longCollectiveThreshold {
		length = constant.TargetLengthLong
	}

	narrative, err := s.generate(ctx, provider.NarrativeRequest{
		Prompt:  req.Prompt,
		Mode:    mode,
		Length:  length,
		Sources: sources,
	})
	if err != nil {
		return nil, err
	}

	scenes := normalizeCollectiveScenes(narrative.Scenes, durations, maxStoryScenes)
	if len(scenes) == 0 {
		return nil, fmt.Errorf("%w: no scene references a retrieved video", ErrStoryGenerationFailed)
	}

	zerolog.Ctx(ctx).Info().Int("sources", len(analyses)).Int("scenes", len(scenes)).Msg("collective story drafted")
	return &entities.Story{
		ID:             s.newID(),
		SourceVideoIDs: sourcesInOrder(scenes),
		Scenes:         scenes,
		Summary:        narrative.Summary,
		FullNarration:  entities.JoinNarration(scenes),
	}, nil
}

func (s *Assembler) retrieve(ctx context.Context, req CollectiveRequest, limit int) ([]*entities.VideoAnalysis, error) {
	switch {
	case len(req.VideoIDs) > 0:
		ids := req.VideoIDs
		if len(ids) > limit {
			ids = ids[:limit]
		}
		return s.repo.FindCompleted(ctx, ids)
	case strings.TrimSpace(req.Query) != "":
		return s.repo.SearchCompleted(ctx, req.Query, limit)
	default:
		return s.repo.RecentCompleted(ctx, limit)
	}
}

func (s *Assembler) generate(ctx context.Context, req provider.NarrativeRequest) (*provider.Narrative, error) {
	gctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	narrative, err := s.generator.Generate(gctx, req)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Int("sources", len(req.Sources)).Msg("narrative generation failed")
		return nil, fmt.Errorf("%w: %w", ErrStoryGenerationFailed, err)
	}
	if narrative == nil {
		return nil, fmt.Errorf("%w: empty narrative", ErrStoryGenerationFailed)
	}
	return narrative, nil
}

// duration prefers the source length measured during analysis, then the length
// recorded at upload, then the transcript extent.
func (s *Assembler) duration(ctx context.Context, a *entities.VideoAnalysis) float64 {
	if a.Duration > 0 {
		return a.Duration
	}
	if video, err := s.repo.FindVideo(ctx, a.VideoID); err == nil && video.Duration > 0 {
		return video.Duration
	}
	return a.MediaDuration()
}
