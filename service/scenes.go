package service

import (
	"footage-flow/entities"
	"footage-flow/provider"
	"math"
	"sort"
	"strings"
)

const (
	highlightMaxSeconds = 8.0
	highlightGapSeconds = 1.5
	highlightTextLimit  = 280
)

// clampScene bounds a scene to [0, duration]. ok is false when nothing of
// positive length is left.
func clampScene(s entities.Scene, duration float64) (entities.Scene, bool) {
	if math.IsNaN(s.Start) || math.IsNaN(s.End) {
		return s, false
	}
	s.Start = math.Max(0, s.Start)
	s.End = math.Min(duration, s.End)
	s.Title = strings.TrimSpace(s.Title)
	s.Narration = strings.TrimSpace(s.Narration)
	return s, s.End > s.Start
}

// normalizeStoryScenes makes single-video scenes fit the source: bounded by
// duration, increasing and non-overlapping, with at most maxScenes kept.
func normalizeStoryScenes(in []entities.Scene, videoID string, duration float64, maxScenes int) []entities.Scene {
	sorted := append([]entities.Scene(nil), in...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	out := make([]entities.Scene, 0, len(sorted))
	cursor := 0.0
	for _, s := range sorted {
		s.SourceVideoID = videoID
		if s.Start < cursor {
			s.Start = cursor
		}
		clamped, ok := clampScene(s, duration)
		if !ok {
			continue
		}
		out = append(out, clamped)
		cursor = clamped.End
		if maxScenes > 0 && len(out) == maxScenes {
			break
		}
	}
	return out
}

// normalizeCollectiveScenes keeps scenes whose source was retrieved, bounded
// by that source's duration. Narrative order is preserved.
func normalizeCollectiveScenes(in []entities.Scene, durations map[string]float64, maxScenes int) []entities.Scene {
	var only string
	if len(durations) == 1 {
		for id := range durations {
			only = id
		}
	}

	out := make([]entities.Scene, 0, len(in))
	for _, s := range in {
		s.SourceVideoID = strings.TrimSpace(s.SourceVideoID)
		if s.SourceVideoID == "" {
			s.SourceVideoID = only
		}
		duration, known := durations[s.SourceVideoID]
		if !known {
			continue
		}
		clamped, ok := clampScene(s, duration)
		if !ok {
			continue
		}
		out = append(out, clamped)
		if maxScenes > 0 && len(out) == maxScenes {
			break
		}
	}
	return out
}

// sourcesInOrder lists scene sources by first appearance.
func sourcesInOrder(scenes []entities.Scene) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, s := range scenes {
		if _, ok := seen[s.SourceVideoID]; ok {
			continue
		}
		seen[s.SourceVideoID] = struct{}{}
		ids = append(ids, s.SourceVideoID)
	}
	return ids
}

// highlights cuts the transcript into short windows, ranks them by how many
// terms they mention and returns the best ones in timeline order.
func highlights(a *entities.VideoAnalysis, terms []string, duration float64, limit int) []provider.Highlight {
	if len(a.Segments) == 0 {
		if duration <= 0 {
			return nil
		}
		return []provider.Highlight{{Start: 0, End: math.Min(duration, highlightMaxSeconds)}}
	}

	type window struct {
		provider.Highlight
		score int
	}
	var windows []window
	var cur *window
	var words []string
	flush := func() {
		if cur == nil {
			return
		}
		cur.Text = truncateText(strings.Join(words, " "), highlightTextLimit)
		cur.score = scoreText(cur.Text, terms)
		windows = append(windows, *cur)
		cur, words = nil, nil
	}

	for _, s := range a.Segments {
		if cur != nil && (s.StartTime-cur.End > highlightGapSeconds || s.EndTime-cur.Start > highlightMaxSeconds) {
			flush()
		}
		if cur == nil {
			cur = &window{Highlight: provider.Highlight{Start: s.StartTime, End: s.EndTime}}
		}
		cur.End = math.Max(cur.End, s.EndTime)
		words = append(words, s.Word)
	}
	flush()

	for i := range windows {
		if duration > 0 {
			windows[i].End = math.Min(windows[i].End, duration)
		}
	}

	sort.SliceStable(windows, func(i, j int) bool { return windows[i].score > windows[j].score })
	if limit > 0 && len(windows) > limit {
		windows = windows[:limit]
	}
	sort.SliceStable(windows, func(i, j int) bool { return windows[i].Start < windows[j].Start })

	out := make([]provider.Highlight, 0, len(windows))
	for _, w := range windows {
		if w.End > w.Start {
			out = append(out, w.Highlight)
		}
	}
	return out
}

func scoreText(text string, terms []string) int {
	lower := strings.ToLower(text)
	score := 0
	for _, t := range terms {
		score += strings.Count(lower, t)
	}
	return score
}

func truncateText(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
