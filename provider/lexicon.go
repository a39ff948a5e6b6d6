package provider

import (
	"context"
	"footage-flow/entities"
	"math"
	"sort"
	"strings"
)

const (
	EmotionNeutral = "neutral"

	neutralWeight = 0.1
)

type lexiconEntry struct {
	label string
	words []string
}

// checked in order; a word in several buckets counts for the first one
var lexicon = []lexiconEntry{
	{"happy", []string{"happy", "joy", "joyful", "excited", "awesome", "great", "love", "wonderful", "amazing", "delight"}},
	{"sad", []string{"sad", "unhappy", "depress", "down", "cry", "tears", "tragic", "heartbroken", "lonely"}},
	{"angry", []string{"angry", "mad", "furious", "rage", "annoyed", "irritated", "upset", "frustrated"}},
	{"calm", []string{"calm", "peaceful", "relax", "serene", "quiet", "soothing", "gentle"}},
	{"excited", []string{"excited", "thrill", "energetic", "amplify", "hype", "buzzing"}},
	{EmotionNeutral, nil},
}

// LexiconEmotionAnalyzer scores words against keyword buckets and reports the
// dominant label of every one-second window. It needs no external service.
type LexiconEmotionAnalyzer struct {
	BucketSeconds float64
}

func NewLexiconEmotionAnalyzer() *LexiconEmotionAnalyzer {
	return &LexiconEmotionAnalyzer{BucketSeconds: 1}
}

func (l *LexiconEmotionAnalyzer) Analyze(ctx context.Context, _ string, segments []entities.Segment) ([]entities.Emotion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return []entities.Emotion{{Label: EmotionNeutral, Intensity: neutralWeight, TimeOffset: 0}}, nil
	}

	bucketSize := l.BucketSeconds
	if bucketSize <= 0 {
		bucketSize = 1
	}

	scores := make(map[int][]float64)
	for _, seg := range segments {
		bucket := int(math.Floor(seg.StartTime / bucketSize))
		if _, ok := scores[bucket]; !ok {
			scores[bucket] = make([]float64, len(lexicon))
		}
		idx, weight := scoreWord(seg.Word)
		scores[bucket][idx] += weight
	}

	buckets := make([]int, 0, len(scores))
	for b := range scores {
		buckets = append(buckets, b)
	}
	sort.Ints(buckets)

	points := make([]entities.Emotion, 0, len(buckets))
	for _, b := range buckets {
		s := scores[b]
		best, total := 0, 0.0
		for i, v := range s {
			total += v
			if v > s[best] {
				best = i
			}
		}
		points = append(points, entities.Emotion{
			Label:      lexicon[best].label,
			Intensity:  math.Max(math.Min(s[best]/math.Max(total, 1), 1), 0),
			TimeOffset: float64(b) * bucketSize,
		})
	}
	return points, nil
}

func scoreWord(word string) (int, float64) {
	w := strings.ToLower(strings.Trim(word, ".,!?;:\"'()"))
	for i, entry := range lexicon {
		for _, k := range entry.words {
			if w == k {
				return i, 1
			}
		}
	}
	return len(lexicon) - 1, neutralWeight
}
