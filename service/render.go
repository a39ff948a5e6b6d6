package service

import (
	"context"
	"errors"
	"fmt"
	"footage-flow/config"
	"footage-flow/constant"
	"footage-flow/entities"
	"footage-flow/pkg/ffmpeg"
	"footage-flow/provider"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// boundsTolerance absorbs container durations that are a hair shorter than
// the end time a story was cut against.
const boundsTolerance = 1e-3

// ArtifactStore keeps rendered files and returns the URL they are served at.
type ArtifactStore interface {
	Put(ctx context.Context, localPath, name string) (string, error)
}

type RenderOptions struct {
	WorkDir      string
	Timeout      time.Duration
	FadeDuration float64
	Width        int
	Height       int
	FPS          int
	Threads      int
	// NarrationVolume scales scene audio under a narration track.
	NarrationVolume float64
}

func RenderOptionsFromConfig(cfg config.Render, workDir string) RenderOptions {
	return RenderOptions{
		WorkDir:      workDir,
		Timeout:      cfg.Timeout,
		FadeDuration: cfg.FadeDuration,
		Width:        cfg.Width,
		Height:       cfg.Height,
		FPS:          cfg.FPS,
		Threads:      cfg.Threads,

		NarrationVolume: cfg.NarrationVolume,
	}
}

// Renderer cuts story scenes out of their source videos and joins them into
// one file. Either every scene lands in the output or nothing is published.
type Renderer struct {
	sources   SourceStore
	artifacts ArtifactStore
	narrator  provider.NarrationSynthesizer
	opts      RenderOptions
	encode    func(ctx context.Context, args []string) error
	newID     func() string
}

// NewRenderer builds a renderer. A nil narrator renders without voice-over.
func NewRenderer(sources SourceStore, artifacts ArtifactStore, narrator provider.NarrationSynthesizer, opts RenderOptions) *Renderer {
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 1280, 720
	}
	if opts.FPS <= 0 {
		opts.FPS = 30
	}
	return &Renderer{
		sources:   sources,
		artifacts: artifacts,
		narrator:  narrator,
		opts:      opts,
		encode: func(ctx context.Context, args []string) error {
			_, _, err := ffmpeg.Ffmpeg(ctx, args...)
			return err
		},
		newID: uuid.NewString,
	}
}

// Render produces the video for job and returns it with OutputURL set.
func (r *Renderer) Render(ctx context.Context, job entities.RenderJob) (*entities.RenderJob, error) {
	mode, err := validateRenderJob(job)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	renderID := r.newID()
	logger := zerolog.Ctx(ctx).With().Str("render_id", renderID).Logger()
	ctx = logger.WithContext(ctx)

	workDir := filepath.Join(r.opts.WorkDir, "render-"+renderID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, &RenderError{SceneIndex: -1, Cause: err}
	}
	defer os.RemoveAll(workDir)

	inputs, clips, err := r.collect(ctx, job.Scenes, workDir)
	if err != nil {
		return nil, err
	}

	narration, err := r.narrate(ctx, job.Narration, workDir)
	if err != nil {
		return nil, err
	}
	var voice *ffmpeg.Narration
	if narration != "" {
		inputs = append(inputs, narration)
		voice = &ffmpeg.Narration{Input: len(inputs) - 1, SceneVolume: r.opts.NarrationVolume}
	}

	transition := ffmpeg.TransitionCut
	if mode == constant.TransitionFade {
		transition = ffmpeg.TransitionFade
	}
	graph, err := ffmpeg.BuildFilterGraph(clips, ffmpeg.GraphOptions{
		Width:        r.opts.Width,
		Height:       r.opts.Height,
		FPS:          r.opts.FPS,
		Transition:   transition,
		FadeDuration: r.opts.FadeDuration,
		Narration:    voice,
	})
	if err != nil {
		return nil, &RenderError{SceneIndex: -1, Cause: fmt.Errorf("%w: %w", ErrEncodingFailed, err)}
	}

	name := renderID + ".mp4"
	output := filepath.Join(workDir, name)
	args := ffmpeg.EncodeArgs(inputs, graph, output, ffmpeg.EncodeOptions{FPS: r.opts.FPS, Threads: r.opts.Threads})

	started := time.Now()
	if err := r.encode(ctx, args); err != nil {
		logger.Error().Err(err).Msg("encode failed")
		return nil, &RenderError{SceneIndex: -1, Cause: fmt.Errorf("%w: %w", ErrEncodingFailed, err)}
	}
	if info, err := os.Stat(output); err != nil || info.Size() == 0 {
		return nil, &RenderError{SceneIndex: -1, Cause: fmt.Errorf("%w: no output written", ErrEncodingFailed)}
	}
	logger.Info().Int("scenes", len(clips)).Str("transition", string(mode)).Bool("narrated", voice != nil).Dur("took", time.Since(started)).Msg("story encoded")

	url, err := r.artifacts.Put(ctx, output, name)
	if err != nil {
		return nil, &RenderError{SceneIndex: -1, Cause: err}
	}

	return &entities.RenderJob{
		Scenes:         job.Scenes,
		TransitionMode: mode,
		OutputURL:      url,
		Narration:      job.Narration,
		Narrated:       voice != nil,
	}, nil
}

// narrate voices text into workDir and returns the audio path. A failed voice
// leaves the video unnarrated; only a finished context stops the render.
func (r *Renderer) narrate(ctx context.Context, text, workDir string) (string, error) {
	if r.narrator == nil || strings.TrimSpace(text) == "" {
		return "", nil
	}
	dst := filepath.Join(workDir, "narration.mp3")
	if err := r.narrator.Synthesize(ctx, text, dst); err != nil {
		if ctx.Err() != nil {
			return "", &RenderError{SceneIndex: -1, Cause: ctx.Err()}
		}
		zerolog.Ctx(ctx).Warn().Err(err).Msg("narration unavailable, rendering without it")
		return "", nil
	}
	return dst, nil
}

func validateRenderJob(job entities.RenderJob) (constant.TransitionMode, error) {
	if len(job.Scenes) == 0 {
		return "", &RenderError{SceneIndex: -1, Cause: fmt.Errorf("%w: no scenes", ErrInvalidArgument)}
	}
	mode := job.TransitionMode
	if mode == "" {
		mode = constant.TransitionCut
	}
	if !mode.Valid() {
		return "", &RenderError{SceneIndex: -1, Cause: fmt.Errorf("%w: transition %q", ErrInvalidArgument, mode)}
	}
	for i, s := range job.Scenes {
		if strings.TrimSpace(s.SourceVideoID) == "" {
			return "", &RenderError{SceneIndex: i, Cause: fmt.Errorf("%w: scene has no source video", ErrInvalidArgument)}
		}
		if s.Start < 0 || s.End <= s.Start {
			return "", &RenderError{SceneIndex: i, Cause: fmt.Errorf("%w: [%.3f, %.3f]", ErrInvalidRange, s.Start, s.End)}
		}
	}
	return mode, nil
}

// collect fetches every distinct source once and maps scenes to clips.
func (r *Renderer) collect(ctx context.Context, scenes []entities.Scene, workDir string) ([]string, []ffmpeg.Clip, error) {
	var inputs []string
	media := make(map[string]*provider.Media)
	index := make(map[string]int)

	clips := make([]ffmpeg.Clip, 0, len(scenes))
	for i, s := range scenes {
		m, ok := media[s.SourceVideoID]
		if !ok {
			dir := filepath.Join(workDir, fmt.Sprintf("src-%d", len(inputs)))
			fetched, err := r.sources.Fetch(ctx, s.SourceVideoID, dir)
			if err != nil {
				if ctx.Err() != nil {
					return nil, nil, &RenderError{SceneIndex: -1, Cause: ctx.Err()}
				}
				zerolog.Ctx(ctx).Error().Err(err).Str("video_id", s.SourceVideoID).Int("scene", i).Msg("source unavailable")
				return nil, nil, &RenderError{SceneIndex: i, Cause: fmt.Errorf("%w: %w", ErrSourceUnavailable, err)}
			}
			m = fetched
			media[s.SourceVideoID] = m
			index[s.SourceVideoID] = len(inputs)
			inputs = append(inputs, m.Path)
		}

		if m.Duration > 0 && s.End > m.Duration+boundsTolerance {
			return nil, nil, &RenderError{SceneIndex: i, Cause: fmt.Errorf("%w: ends at %.3f, source is %.3fs", ErrInvalidRange, s.End, m.Duration)}
		}
		end := s.End
		if m.Duration > 0 && end > m.Duration {
			end = m.Duration
		}
		clips = append(clips, ffmpeg.Clip{
			Input:    index[s.SourceVideoID],
			Start:    s.Start,
			End:      end,
			HasAudio: m.HasAudio,
		})
	}
	return inputs, clips, nil
}

// SceneIndex reports the scene a render error is attributed to.
func SceneIndex(err error) (int, bool) {
	var re *RenderError
	if errors.As(err, &re) && re.SceneIndex >= 0 {
		return re.SceneIndex, true
	}
	return 0, false
}
