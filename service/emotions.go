package service

import (
	"context"
	"errors"
	"fmt"
	"footage-flow/entities"
	"footage-flow/provider"
	"footage-flow/repository"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	positiveEmotions = []string{"happy", "calm", "excited"}
	negativeEmotions = []string{"sad", "angry"}
)

// LabelScore is the summed intensity of one emotion label.
type LabelScore struct {
	Label string
	Score float64
}

// EmotionReport is an on-demand emotion reading with per-side totals.
type EmotionReport struct {
	VideoID  string
	Emotions []entities.Emotion
	GoodSide []LabelScore
	BadSide  []LabelScore
}

// EmotionReporter reruns emotion analysis over a stored transcript without
// touching the analysis record.
type EmotionReporter struct {
	repo     repository.AnalysisRepository
	analyzer provider.EmotionAnalyzer
	timeout  time.Duration
}

func NewEmotionReporter(repo repository.AnalysisRepository, analyzer provider.EmotionAnalyzer, timeout time.Duration) *EmotionReporter {
	if timeout <= 0 {
		timeout = defaultStageTimeout
	}
	return &EmotionReporter{repo: repo, analyzer: analyzer, timeout: timeout}
}

// Analyze reads emotions for videoID. A non-blank transcript replaces the
// stored one; stored word segments are used only with the stored transcript.
func (r *EmotionReporter) Analyze(ctx context.Context, videoID, transcript string) (*EmotionReport, error) {
	if strings.TrimSpace(videoID) == "" {
		return nil, fmt.Errorf("%w: videoId is required", ErrInvalidArgument)
	}

	var segments []entities.Segment
	analysis, err := r.repo.FindAnalysis(ctx, videoID)
	switch {
	case err == nil:
		if strings.TrimSpace(transcript) == "" {
			transcript, segments = analysis.Transcript, analysis.Segments
		}
	case errors.Is(err, repository.ErrNotFound):
		if _, err := r.repo.FindVideo(ctx, videoID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, fmt.Errorf("%w: video %s", ErrNotFound, videoID)
			}
			return nil, err
		}
	default:
		return nil, err
	}

	emotions, err := callWithTimeout(ctx, r.timeout, func(ctx context.Context) ([]entities.Emotion, error) {
		return r.analyzer.Analyze(ctx, transcript, segments)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		zerolog.Ctx(ctx).Error().Err(err).Str("video_id", videoID).Msg("emotion analysis failed")
		return nil, fmt.Errorf("%w: %w", ErrEmotionAnalysisFailed, err)
	}

	emotions = normalizeEmotions(emotions)
	totals := make(map[string]float64)
	for _, e := range emotions {
		totals[e.Label] += e.Intensity
	}
	return &EmotionReport{
		VideoID:  videoID,
		Emotions: emotions,
		GoodSide: sideScores(totals, positiveEmotions),
		BadSide:  sideScores(totals, negativeEmotions),
	}, nil
}

func sideScores(totals map[string]float64, labels []string) []LabelScore {
	out := make([]LabelScore, len(labels))
	for i, l := range labels {
		out[i] = LabelScore{Label: l, Score: math.Round(totals[l]*1000) / 1000}
	}
	return out
}
