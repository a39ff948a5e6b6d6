package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"footage-flow/entities"
	"footage-flow/pkg/ffmpeg"
	"github.com/rs/zerolog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// WhisperTranscriber shells out to the whisper CLI with word timestamps.
type WhisperTranscriber struct {
	Binary   string
	Model    string
	Language string
}

func NewWhisperTranscriber(binary, model, language string) *WhisperTranscriber {
	if binary == "" {
		binary = "whisper"
	}
	if model == "" {
		model = "base"
	}
	return &WhisperTranscriber{Binary: binary, Model: model, Language: language}
}

func (w *WhisperTranscriber) Transcribe(ctx context.Context, media Media) (*Transcription, error) {
	if !media.HasAudio {
		zerolog.Ctx(ctx).Info().Str("video_id", media.VideoID).Msg("source has no audio track, empty transcript")
		return &Transcription{}, nil
	}

	dir := filepath.Join(media.WorkDir, "whisper")
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, err
	}

	audio := filepath.Join(dir, "audio.wav")
	if err := ffmpeg.ExtractAudio(ctx, media.Path, audio); err != nil {
		return nil, w.wrap(ctx, fmt.Errorf("extract audio: %w", err))
	}

	args := []string{
		audio,
		"--model", w.Model,
		"--output_format", "json",
		"--output_dir", dir,
		"--word_timestamps", "True",
		"--fp16", "False",
	}
	if w.Language != "" {
		args = append(args, "--language", w.Language)
	}

	cmd := exec.CommandContext(ctx, w.Binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, w.wrap(ctx, fmt.Errorf("whisper failed: %w: %s", err, strings.TrimSpace(stderr.String())))
	}

	data, err := os.ReadFile(filepath.Join(dir, "audio.json"))
	if err != nil {
		return nil, fmt.Errorf("read whisper output: %w", err)
	}
	return ParseWhisperJSON(data)
}

// a killed process does not carry the context error, so surface it here
func (w *WhisperTranscriber) wrap(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return Temporary(fmt.Errorf("%w: %w", ctx.Err(), err))
	}
	return err
}

type whisperOutput struct {
	Text     string `json:"text"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
		Words []struct {
			Word  string  `json:"word"`
			Start float64 `json:"start"`
			End   float64 `json:"end"`
		} `json:"words"`
	} `json:"segments"`
}

// ParseWhisperJSON flattens whisper's json output into word segments. Segments
// without word timings contribute one entry per whisper segment.
func ParseWhisperJSON(data []byte) (*Transcription, error) {
	var out whisperOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse whisper output: %w", err)
	}

	t := &Transcription{Text: strings.TrimSpace(out.Text)}
	for _, seg := range out.Segments {
		if len(seg.Words) == 0 {
			if text := strings.TrimSpace(seg.Text); text != "" {
				t.Segments = append(t.Segments, entities.Segment{Word: text, StartTime: seg.Start, EndTime: seg.End})
			}
			continue
		}
		for _, w := range seg.Words {
			word := strings.TrimSpace(w.Word)
			if word == "" {
				continue
			}
			t.Segments = append(t.Segments, entities.Segment{Word: word, StartTime: w.Start, EndTime: w.End})
		}
	}
	return t, nil
}
