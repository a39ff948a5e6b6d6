package service

import (
	"testing"

	"footage-flow/entities"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeStoryScenes(t *testing.T) {
	got := normalizeStoryScenes([]entities.Scene{
		{Title: "late", Start: 9, End: 14, Narration: "sunset"},
		{Title: "open", Start: 0, End: 4, Narration: "arrival "},
		{Title: "overlap", Start: 3, End: 8, Narration: "waves"},
		{Title: "empty", Start: 12, End: 12},
		{Title: "negative", Start: -2, End: -1},
	}, "v1", 10, 10)

	require.Len(t, got, 3)
	assert.Equal(t, entities.Scene{Title: "open", Start: 0, End: 4, Narration: "arrival", SourceVideoID: "v1"}, got[0])
	assert.Equal(t, 4.0, got[1].Start)
	assert.Equal(t, 8.0, got[1].End)
	assert.Equal(t, 9.0, got[2].Start)
	assert.Equal(t, 10.0, got[2].End)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i].Start, got[i-1].End)
	}
}

func TestNormalizeStoryScenes_CapsSceneCount(t *testing.T) {
	var in []entities.Scene
	for i := 0; i < 15; i++ {
		in = append(in, entities.Scene{Start: float64(i), End: float64(i) + 1})
	}
	assert.Len(t, normalizeStoryScenes(in, "v1", 100, 10), 10)
}

func TestNormalizeCollectiveScenes(t *testing.T) {
	durations := map[string]float64{"v1": 30, "v2": 12}
	got := normalizeCollectiveScenes([]entities.Scene{
		{SourceVideoID: "v2", Start: 5, End: 20},
		{SourceVideoID: "ghost", Start: 0, End: 5},
		{SourceVideoID: "v1", Start: 1, End: 3},
		{SourceVideoID: "", Start: 0, End: 2},
	}, durations, 10)

	require.Len(t, got, 2)
	assert.Equal(t, "v2", got[0].SourceVideoID)
	assert.Equal(t, 12.0, got[0].End)
	assert.Equal(t, "v1", got[1].SourceVideoID)
	assert.Equal(t, []string{"v2", "v1"}, sourcesInOrder(got))
}

func TestNormalizeCollectiveScenes_SingleSourceFillsID(t *testing.T) {
	got := normalizeCollectiveScenes([]entities.Scene{{Start: 0, End: 2}}, map[string]float64{"v1": 30}, 10)
	require.Len(t, got, 1)
	assert.Equal(t, "v1", got[0].SourceVideoID)
}

func TestHighlights(t *testing.T) {
	a := &entities.VideoAnalysis{Segments: []entities.Segment{
		{Word: "hello", StartTime: 0, EndTime: 0.5},
		{Word: "everyone", StartTime: 0.5, EndTime: 1},
		{Word: "the", StartTime: 5, EndTime: 5.2},
		{Word: "beach", StartTime: 5.2, EndTime: 5.8},
		{Word: "sunset", StartTime: 5.8, EndTime: 6.5},
		{Word: "goodbye", StartTime: 20, EndTime: 21},
	}}

	got := highlights(a, []string{"beach"}, 30, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "hello everyone", got[0].Text)
	assert.Equal(t, "the beach sunset", got[1].Text)
	assert.Equal(t, 5.0, got[1].Start)
	assert.Equal(t, 6.5, got[1].End)

	only := highlights(a, []string{"goodbye"}, 30, 1)
	require.Len(t, only, 1)
	assert.Equal(t, "goodbye", only[0].Text)
}

func TestHighlights_NoTranscript(t *testing.T) {
	got := highlights(&entities.VideoAnalysis{}, nil, 5, 4)
	require.Len(t, got, 1)
	assert.Equal(t, 0.0, got[0].Start)
	assert.Equal(t, 5.0, got[0].End)

	assert.Nil(t, highlights(&entities.VideoAnalysis{}, nil, 0, 4))
}
