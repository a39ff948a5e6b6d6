package service

import (
	"fmt"
	"footage-flow/constant"
	"footage-flow/entities"
	"footage-flow/provider"
	"math"
	"sort"
	"strings"
	"time"
)

type OutcomeKind int

const (
	OutcomeOK OutcomeKind = iota
	OutcomeDegraded
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "ok"
	case OutcomeDegraded:
		return "degraded"
	default:
		return "fatal"
	}
}

// StageOutcome is the result of one stage. Only the field belonging to Stage
// is read, and only when Kind is OutcomeOK.
type StageOutcome struct {
	Stage         constant.Stage
	Kind          OutcomeKind
	Transcription *provider.Transcription
	Tags          []string
	Emotions      []entities.Emotion
	SearchText    string
	Err           error
}

func okOutcome(stage constant.Stage) StageOutcome {
	return StageOutcome{Stage: stage, Kind: OutcomeOK}
}

func degradedOutcome(stage constant.Stage, err error) StageOutcome {
	return StageOutcome{Stage: stage, Kind: OutcomeDegraded, Err: &StageError{Stage: stage, Cause: err}}
}

func fatalOutcome(stage constant.Stage, err error) StageOutcome {
	return StageOutcome{Stage: stage, Kind: OutcomeFatal, Err: err}
}

// beginRun resets a record for a fresh run.
func beginRun(a *entities.VideoAnalysis, now time.Time) error {
	if a.Status == constant.VideoStatusCompleted {
		return fmt.Errorf("%w: %s already completed", ErrInvalidArgument, a.VideoID)
	}
	a.Status = constant.VideoStatusProcessing
	a.CurrentStage = constant.StageStarting
	a.Duration = 0
	a.Transcript = ""
	a.Segments = []entities.Segment{}
	a.Tags = []string{}
	a.Emotions = []entities.Emotion{}
	a.StageErrors = nil
	a.SearchText = ""
	a.Error = ""
	a.StartedAt = &now
	a.CompletedAt = nil
	return nil
}

// recordSource keeps what the fetch learned about the source file.
func recordSource(a *entities.VideoAnalysis, media *provider.Media) {
	if media != nil && media.Duration > 0 {
		a.Duration = media.Duration
	}
}

// enterStage moves the record to stage. Stages only move forward.
func enterStage(a *entities.VideoAnalysis, stage constant.Stage) error {
	if a.Status != constant.VideoStatusProcessing {
		return fmt.Errorf("cannot enter %s: record is %s", stage, a.Status)
	}
	if stage.Index() <= a.CurrentStage.Index() {
		return fmt.Errorf("cannot move from %s back to %s", a.CurrentStage, stage)
	}
	a.CurrentStage = stage
	return nil
}

// applyOutcome merges a stage result into the record.
func applyOutcome(a *entities.VideoAnalysis, o StageOutcome) error {
	if a.CurrentStage != o.Stage {
		return fmt.Errorf("result for %s while record is at %s", o.Stage, a.CurrentStage)
	}

	switch o.Kind {
	case OutcomeFatal:
		failRun(a, o.Err)
		return nil
	case OutcomeDegraded:
		reason := "unknown error"
		if o.Err != nil {
			reason = o.Err.Error()
		}
		a.StageErrors = append(a.StageErrors, entities.StageFailure{Stage: o.Stage, Reason: reason})
		return nil
	}

	switch o.Stage {
	case constant.StageTranscription:
		if o.Transcription != nil {
			a.Segments = normalizeSegments(o.Transcription.Segments)
			a.Transcript = strings.TrimSpace(o.Transcription.Text)
			if a.Transcript == "" {
				a.Transcript = joinWords(a.Segments)
			}
		}
	case constant.StageVisualTagging:
		a.Tags = normalizeTags(o.Tags)
	case constant.StageEmotionAnalysis:
		a.Emotions = normalizeEmotions(o.Emotions)
	case constant.StageIndexing:
		a.SearchText = o.SearchText
	}
	return nil
}

func completeRun(a *entities.VideoAnalysis, now time.Time) error {
	if a.Status != constant.VideoStatusProcessing {
		return fmt.Errorf("cannot complete a %s record", a.Status)
	}
	a.Status = constant.VideoStatusCompleted
	a.Error = ""
	a.CompletedAt = &now
	return nil
}

func failRun(a *entities.VideoAnalysis, err error) {
	a.Status = constant.VideoStatusFailed
	if err != nil {
		a.Error = err.Error()
	} else {
		a.Error = "processing failed"
	}
}

// normalizeSegments sorts by start time, drops inverted entries and clips
// overlaps so each segment starts no earlier than the previous one ends.
func normalizeSegments(in []entities.Segment) []entities.Segment {
	segs := make([]entities.Segment, 0, len(in))
	for _, s := range in {
		w := strings.TrimSpace(s.Word)
		if w == "" || s.EndTime < s.StartTime || s.StartTime < 0 || math.IsNaN(s.StartTime) || math.IsNaN(s.EndTime) {
			continue
		}
		segs = append(segs, entities.Segment{Word: w, StartTime: s.StartTime, EndTime: s.EndTime})
	}
	sort.SliceStable(segs, func(i, j int) bool { return segs[i].StartTime < segs[j].StartTime })

	out := segs[:0]
	prevEnd := 0.0
	for _, s := range segs {
		if s.StartTime < prevEnd {
			s.StartTime = prevEnd
		}
		if s.EndTime < s.StartTime {
			continue
		}
		out = append(out, s)
		prevEnd = s.EndTime
	}
	return out
}

func normalizeTags(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, t := range in {
		t = strings.TrimSpace(t)
		key := strings.ToLower(t)
		if t == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	return out
}

func normalizeEmotions(in []entities.Emotion) []entities.Emotion {
	out := make([]entities.Emotion, 0, len(in))
	for _, e := range in {
		label := strings.ToLower(strings.TrimSpace(e.Label))
		if label == "" || e.TimeOffset < 0 || math.IsNaN(e.Intensity) {
			continue
		}
		out = append(out, entities.Emotion{
			Label:      label,
			Intensity:  math.Max(0, math.Min(1, e.Intensity)),
			TimeOffset: e.TimeOffset,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TimeOffset < out[j].TimeOffset })
	return out
}

func joinWords(segs []entities.Segment) string {
	words := make([]string, len(segs))
	for i, s := range segs {
		words[i] = s.Word
	}
	return strings.Join(words, " ")
}

// searchText is what collective retrieval matches queries against.
func searchText(a *entities.VideoAnalysis) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(a.Transcript))
	for _, t := range a.Tags {
		b.WriteByte(' ')
		b.WriteString(strings.ToLower(t))
	}
	for _, e := range a.Emotions {
		b.WriteByte(' ')
		b.WriteString(e.Label)
	}
	return strings.TrimSpace(b.String())
}
