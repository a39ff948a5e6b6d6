package provider

import (
	"context"
	"fmt"
	"footage-flow/entities"
	"footage-flow/pkg/ffmpeg"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

const tagSystemPrompt = `You label video content. You receive frames sampled evenly across one video.
Return STRICT JSON: {"tags": ["..."]}
Rules:
- 3 to 15 short lowercase tags naming visible subjects, places, activities and mood.
- No duplicates, no sentences.`

// OpenAITagger samples frames and asks a vision model for content tags.
type OpenAITagger struct {
	chat    *ChatClient
	samples int
}

func NewOpenAITagger(chat *ChatClient, samples int) *OpenAITagger {
	if samples <= 0 {
		samples = 6
	}
	return &OpenAITagger{chat: chat, samples: samples}
}

func (t *OpenAITagger) Tag(ctx context.Context, media Media) ([]string, error) {
	frames, err := ffmpeg.SampleFrames(ctx, media.Path, filepath.Join(media.WorkDir, "frames"), media.Duration, t.samples)
	if err != nil {
		if ctx.Err() != nil {
			return nil, Temporary(err)
		}
		return nil, fmt.Errorf("sample frames: %w", err)
	}

	images := make([]string, 0, len(frames))
	for _, f := range frames {
		url, err := imageDataURL(f)
		if err != nil {
			return nil, err
		}
		images = append(images, url)
	}
	zerolog.Ctx(ctx).Debug().Str("video_id", media.VideoID).Int("frames", len(images)).Msg("tagging frames")

	var reply struct {
		Tags []string `json:"tags"`
	}
	err = t.chat.CompleteJSON(ctx, &reply,
		systemMessage(tagSystemPrompt),
		userMessage(fmt.Sprintf("Video duration: %.1f seconds. Frames follow in order.", media.Duration), images...),
	)
	if err != nil {
		return nil, err
	}
	return reply.Tags, nil
}

const emotionSystemPrompt = `You track the emotional arc of a spoken video transcript.
Return STRICT JSON: {"emotions": [{"label": "happy", "intensity": 0.0, "timeOffset": 0.0}]}
Rules:
- label is one of happy, sad, angry, calm, excited, neutral.
- intensity is between 0 and 1.
- timeOffset is seconds from the start of the video, increasing, taken from the timed lines.
- At most one point per 2 seconds.`

// OpenAIEmotionAnalyzer asks a language model for an emotion curve over the
// timed transcript.
type OpenAIEmotionAnalyzer struct {
	chat *ChatClient
}

func NewOpenAIEmotionAnalyzer(chat *ChatClient) *OpenAIEmotionAnalyzer {
	return &OpenAIEmotionAnalyzer{chat: chat}
}

func (a *OpenAIEmotionAnalyzer) Analyze(ctx context.Context, transcript string, segments []entities.Segment) ([]entities.Emotion, error) {
	if strings.TrimSpace(transcript) == "" && len(segments) == 0 {
		return []entities.Emotion{{Label: EmotionNeutral, Intensity: neutralWeight}}, nil
	}

	var reply struct {
		Emotions []entities.Emotion `json:"emotions"`
	}
	err := a.chat.CompleteJSON(ctx, &reply,
		systemMessage(emotionSystemPrompt),
		userMessage(timedLines(transcript, segments, 6000)),
	)
	if err != nil {
		return nil, err
	}
	return reply.Emotions, nil
}

// timedLines renders segments as "[start] words" lines, one per second of
// speech, capped at limit bytes.
func timedLines(transcript string, segments []entities.Segment, limit int) string {
	if len(segments) == 0 {
		return truncate(transcript, limit)
	}
	var b strings.Builder
	lineStart := -1.0
	for _, s := range segments {
		if lineStart < 0 || s.StartTime-lineStart >= 1 {
			if lineStart >= 0 {
				b.WriteByte('\n')
			}
			lineStart = s.StartTime
			fmt.Fprintf(&b, "[%.1f]", s.StartTime)
		}
		b.WriteByte(' ')
		b.WriteString(s.Word)
		if b.Len() >= limit {
			break
		}
	}
	return truncate(b.String(), limit)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := s[:limit]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}
