package entities

import (
	"footage-flow/constant"
	"strings"
)

type Scene struct {
	Title         string  `json:"title"`
	Start         float64 `json:"start"`
	End           float64 `json:"end"`
	Narration     string  `json:"narration"`
	SourceVideoID string  `json:"sourceVideoId,omitempty"`
}

func (s Scene) Duration() float64 {
	return s.End - s.Start
}

type Story struct {
	ID             string   `json:"storyId"`
	SourceVideoIDs []string `json:"sourceVideoIds"`
	Scenes         []Scene  `json:"scenes"`
	Summary        string   `json:"summary"`
	FullNarration  string   `json:"fullNarration"`
}

// JoinNarration concatenates scene narrations in scene order.
func JoinNarration(scenes []Scene) string {
	parts := make([]string, 0, len(scenes))
	for _, s := range scenes {
		if n := strings.TrimSpace(s.Narration); n != "" {
			parts = append(parts, n)
		}
	}
	return strings.Join(parts, " ")
}

type RenderJob struct {
	Scenes         []Scene                 `json:"scenes"`
	TransitionMode constant.TransitionMode `json:"transitionMode"`
	OutputURL      string                  `json:"outputUrl,omitempty"`
	// Narration is spoken over the whole video when a voice is configured.
	Narration string `json:"narration,omitempty"`
	Narrated  bool   `json:"narrated"`
}
