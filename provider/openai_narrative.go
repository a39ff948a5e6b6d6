package provider

import (
	"context"
	"fmt"
	"footage-flow/entities"
	"strings"
)

const (
	transcriptExcerptLimit = 2000
	collectiveExcerptLimit = 6000
	tagLimit               = 20
)

// OpenAINarrativeGenerator writes story drafts with a chat model.
type OpenAINarrativeGenerator struct {
	chat *ChatClient
}

func NewOpenAINarrativeGenerator(chat *ChatClient) *OpenAINarrativeGenerator {
	return &OpenAINarrativeGenerator{chat: chat}
}

type narrativeReply struct {
	Summary       string `json:"summary"`
	FullNarration string `json:"fullNarration"`
	Scenes        []struct {
		Start         float64 `json:"start"`
		End           float64 `json:"end"`
		Title         string  `json:"title"`
		Narration     string  `json:"narration"`
		SourceVideoID string  `json:"sourceVideoId"`
	} `json:"scenes"`
}

func (g *OpenAINarrativeGenerator) Generate(ctx context.Context, req NarrativeRequest) (*Narrative, error) {
	var reply narrativeReply
	err := g.chat.CompleteJSON(ctx, &reply,
		systemMessage(NarrativeSystemPrompt(req)),
		userMessage(NarrativeUserContent(req)),
	)
	if err != nil {
		return nil, err
	}

	n := &Narrative{Summary: strings.TrimSpace(reply.Summary), FullNarration: strings.TrimSpace(reply.FullNarration)}
	for _, s := range reply.Scenes {
		n.Scenes = append(n.Scenes, entities.Scene{
			Title:         strings.TrimSpace(s.Title),
			Start:         s.Start,
			End:           s.End,
			Narration:     strings.TrimSpace(s.Narration),
			SourceVideoID: s.SourceVideoID,
		})
	}
	return n, nil
}

func NarrativeSystemPrompt(req NarrativeRequest) string {
	lo, hi := req.Length.WordRange()
	var b strings.Builder
	if req.Collective() {
		b.WriteString("You are a story editor. Create one meaningful story from several user-uploaded videos.\n")
		b.WriteString("Base the narrative ONLY on the transcript highlights provided. Use the prompt to guide tone, not to invent facts.\n")
	} else {
		b.WriteString("You write a concise narrative to play as voice-over while a user watches their uploaded video.\n")
		b.WriteString("Base it ONLY on the provided highlights, transcript excerpt and tags. Keep it grounded and avoid specifics not present.\n")
	}
	b.WriteString("Return STRICT JSON with this schema:\n")
	b.WriteString(`{"summary": "one-paragraph overview", "scenes": [{"start": 0.0, "end": 5.0, "title": "...", "narration": "..."`)
	if req.Collective() {
		b.WriteString(`, "sourceVideoId": "..."`)
	}
	fmt.Fprintf(&b, `}], "fullNarration": "a continuous narration of %d-%d words"}`+"\n", lo, hi)
	b.WriteString("Rules:\n")
	b.WriteString("- 6 to 10 scenes.\n")
	b.WriteString("- Each scene lasts 3 to 8 seconds, start < end, times in seconds from the start of its source video.\n")
	if req.Collective() {
		b.WriteString("- sourceVideoId must be one of the VIDEO ids given; scenes should come from the listed highlights.\n")
	} else {
		b.WriteString("- Scenes are non-overlapping and increasing, and never go past the video duration.\n")
		b.WriteString("- Prefer placing scenes on the listed highlight times.\n")
	}
	b.WriteString("- Narration is 1 to 2 sentences per scene, at most 220 characters.\n")
	fmt.Fprintf(&b, "- Tone: %s.\n", req.Mode.StyleHint())
	return b.String()
}

func NarrativeUserContent(req NarrativeRequest) string {
	var b strings.Builder
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		prompt = "none"
	}
	fmt.Fprintf(&b, "PROMPT: %s\n\n", prompt)

	if !req.Collective() && len(req.Sources) == 1 {
		src := req.Sources[0]
		fmt.Fprintf(&b, "DURATION_SECONDS: %.1f\n\n", src.Duration)
		fmt.Fprintf(&b, "TAGS: %s\n\n", strings.Join(src.Tags[:min(len(src.Tags), tagLimit)], ", "))
		if len(src.Highlights) > 0 {
			b.WriteString("HIGHLIGHTS (seconds):\n")
			writeHighlights(&b, src.Highlights)
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "TRANSCRIPT_EXCERPT:\n%s", truncate(src.Transcript, transcriptExcerptLimit))
		return b.String()
	}

	fmt.Fprintf(&b, "TOTAL_DURATION_SECONDS: %d\n\n", int(req.TotalDuration()))
	budget := collectiveExcerptLimit
	for _, src := range req.Sources {
		var section strings.Builder
		fmt.Fprintf(&section, "VIDEO %s (duration %.1fs, tags: %s)\n", src.VideoID, src.Duration, strings.Join(src.Tags[:min(len(src.Tags), tagLimit)], ", "))
		writeHighlights(&section, src.Highlights)
		section.WriteByte('\n')
		if section.Len() > budget {
			b.WriteString(truncate(section.String(), budget))
			break
		}
		budget -= section.Len()
		b.WriteString(section.String())
	}
	return b.String()
}

func writeHighlights(b *strings.Builder, highlights []Highlight) {
	for _, h := range highlights {
		fmt.Fprintf(b, "- [%.2f-%.2f] %s\n", h.Start, h.End, h.Text)
	}
}
