package provider

import (
	"context"
	"fmt"
	"footage-flow/entities"
	"math"
	"strings"
)

const highQualityBytes = 50 * 1024 * 1024

// DurationTagger derives coarse tags from length and file size. It is used
// when no vision model is configured.
type DurationTagger struct{}

func (DurationTagger) Tag(ctx context.Context, media Media) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tags := []string{"video-content", "media-file"}
	switch {
	case media.Duration <= 0:
	case media.Duration < 10:
		tags = append(tags, "short-clip", "quick-video")
	case media.Duration < 60:
		tags = append(tags, "medium-length", "standard-video")
	default:
		tags = append(tags, "long-form", "extended-content")
	}
	if media.Size > highQualityBytes {
		tags = append(tags, "high-quality")
	} else {
		tags = append(tags, "standard-quality")
	}
	if !media.HasAudio {
		tags = append(tags, "silent")
	}
	return tags, nil
}

// TemplateNarrativeGenerator narrates each source without a language model.
// Scenes sit on the spoken highlights of a source when it has any, and are
// laid evenly over the source otherwise.
type TemplateNarrativeGenerator struct {
	MinScenes int
	MaxScenes int
}

func NewTemplateNarrativeGenerator() *TemplateNarrativeGenerator {
	return &TemplateNarrativeGenerator{MinScenes: 6, MaxScenes: 10}
}

func (g *TemplateNarrativeGenerator) Generate(ctx context.Context, req NarrativeRequest) (*Narrative, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(req.Sources) == 0 {
		return nil, fmt.Errorf("no sources to narrate")
	}

	perSource := g.MaxScenes / len(req.Sources)
	if perSource < 1 {
		perSource = 1
	}

	var scenes []entities.Scene
	for _, src := range req.Sources {
		if src.Duration <= 0 {
			continue
		}
		themes := ""
		if len(src.Tags) > 0 {
			themes = " Key themes: " + strings.Join(src.Tags[:min(3, len(src.Tags))], ", ") + "."
		}

		if spoken := spokenHighlights(src); len(spoken) > 0 {
			for _, h := range spoken[:min(len(spoken), perSource)] {
				scenes = append(scenes, entities.Scene{
					Title:         fmt.Sprintf("Scene %d", len(scenes)+1),
					Start:         roundMillis(h.Start),
					End:           roundMillis(math.Min(src.Duration, h.End)),
					Narration:     strings.TrimSpace(h.Text) + themes,
					SourceVideoID: src.VideoID,
				})
			}
			continue
		}

		count := int(math.Min(float64(perSource), math.Max(float64(g.MinScenes)/float64(len(req.Sources)), math.Floor(src.Duration/6))))
		if count < 1 {
			count = 1
		}
		step := src.Duration / float64(count)
		words := strings.Fields(src.Transcript)
		window := len(words) / count
		for i := 0; i < count; i++ {
			narration := strings.Join(words[min(i*window, len(words)):min((i+1)*window, len(words))], " ")
			if narration == "" {
				narration = "The moment continues on screen."
			}
			scenes = append(scenes, entities.Scene{
				Title:         fmt.Sprintf("Scene %d", len(scenes)+1),
				Start:         roundMillis(step * float64(i)),
				End:           roundMillis(math.Min(src.Duration, step*float64(i+1))),
				Narration:     narration + themes,
				SourceVideoID: src.VideoID,
			})
		}
	}
	if len(scenes) == 0 {
		return nil, fmt.Errorf("sources have no known duration")
	}

	return &Narrative{
		Summary:       fmt.Sprintf("A %s narrative built from the transcript and visual tags.", req.Mode.StyleHint()),
		FullNarration: entities.JoinNarration(scenes),
		Scenes:        scenes,
	}, nil
}

// spokenHighlights keeps highlights that carry transcript text and fall inside
// the source.
func spokenHighlights(src NarrativeSource) []Highlight {
	var out []Highlight
	for _, h := range src.Highlights {
		if strings.TrimSpace(h.Text) == "" || h.Start >= src.Duration || h.End <= h.Start {
			continue
		}
		out = append(out, h)
	}
	return out
}

func roundMillis(v float64) float64 {
	return math.Round(v*1000) / 1000
}
