package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"footage-flow/constant"
	"footage-flow/entities"
	"footage-flow/provider"
	"footage-flow/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func seedCompleted(t *testing.T, repo *repository.MemoryRepository, id string, duration float64, searchText string, at time.Time) {
	t.Helper()
	repo.PutVideo(&entities.Video{ID: id, Duration: duration})
	require.NoError(t, repo.CreateAnalysis(context.Background(), &entities.VideoAnalysis{
		VideoID:      id,
		Status:       constant.VideoStatusCompleted,
		CurrentStage: constant.StageIndexing,
		Transcript:   searchText,
		Segments:     []entities.Segment{{Word: "hello", StartTime: 0, EndTime: 1}},
		Tags:         []string{"beach"},
		SearchText:   searchText,
		CompletedAt:  &at,
	}))
}

func newTestAssembler(repo repository.AnalysisRepository, gen provider.NarrativeGenerator) *Assembler {
	a := NewAssembler(repo, gen, AssemblerOptions{Timeout: time.Second})
	a.newID = func() string { return "story-1" }
	return a
}

func TestGenerateStory_ClampsScenesToSource(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	seedCompleted(t, repo, "v1", 10, "hello beach", time.Now())

	gen := new(GeneratorMock)
	gen.On("Generate", mock.Anything, mock.MatchedBy(func(req provider.NarrativeRequest) bool {
		return req.Mode == constant.StoryModePositive &&
			req.Length == constant.TargetLengthLong &&
			len(req.Sources) == 1 && req.Sources[0].Duration == 10 &&
			len(req.Sources[0].Highlights) == 1 && req.Sources[0].Highlights[0].Text == "hello"
	})).Return(&provider.Narrative{
		Summary:       "A day at the beach",
		FullNarration: "ignored",
		Scenes: []entities.Scene{
			{Title: "Arrival", Start: 0, End: 4, Narration: "We arrive."},
			{Title: "Waves", Start: 3, End: 8, Narration: "Waves roll in."},
			{Title: "Sunset", Start: 9, End: 14, Narration: "The sun sets."},
			{Title: "After", Start: 12, End: 15, Narration: "Nothing left."},
		},
	}, nil).Once()

	story, err := newTestAssembler(repo, gen).GenerateStory(ctx, StoryRequest{VideoID: "v1", Prompt: "beach day"})
	require.NoError(t, err)

	assert.Equal(t, "story-1", story.ID)
	assert.Equal(t, []string{"v1"}, story.SourceVideoIDs)
	assert.Equal(t, "A day at the beach", story.Summary)
	require.Len(t, story.Scenes, 3)
	for i, s := range story.Scenes {
		assert.GreaterOrEqual(t, s.Start, 0.0)
		assert.LessOrEqual(t, s.End, 10.0)
		assert.Greater(t, s.End, s.Start)
		if i > 0 {
			assert.GreaterOrEqual(t, s.Start, story.Scenes[i-1].End)
		}
	}
	assert.Equal(t, "We arrive. Waves roll in. The sun sets.", story.FullNarration)
	gen.AssertExpectations(t)
}

func TestGenerateStory_SilentVideoUsesStoredSourceDuration(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	repo.PutVideo(&entities.Video{ID: "v1"})
	require.NoError(t, repo.CreateAnalysis(ctx, &entities.VideoAnalysis{
		VideoID:      "v1",
		Status:       constant.VideoStatusCompleted,
		CurrentStage: constant.StageIndexing,
		Duration:     42,
		Segments:     []entities.Segment{},
		Tags:         []string{"sunset"},
	}))

	story, err := newTestAssembler(repo, provider.NewTemplateNarrativeGenerator()).GenerateStory(ctx, StoryRequest{VideoID: "v1", Prompt: "quiet evening"})
	require.NoError(t, err)
	require.NotEmpty(t, story.Scenes)
	for _, s := range story.Scenes {
		assert.LessOrEqual(t, s.End, 42.0)
		assert.Equal(t, "v1", s.SourceVideoID)
	}
	assert.Equal(t, 42.0, story.Scenes[len(story.Scenes)-1].End)
}

func TestGenerateStory_Validation(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	seedCompleted(t, repo, "v1", 10, "hello", time.Now())
	repo.PutVideo(&entities.Video{ID: "v2", Duration: 10})
	require.NoError(t, repo.CreateAnalysis(ctx, &entities.VideoAnalysis{VideoID: "v2", Status: constant.VideoStatusProcessing}))

	gen := new(GeneratorMock)
	a := newTestAssembler(repo, gen)

	cases := []struct {
		name string
		req  StoryRequest
		want error
	}{
		{name: "missing prompt", req: StoryRequest{VideoID: "v1"}, want: ErrInvalidArgument},
		{name: "bad mode", req: StoryRequest{VideoID: "v1", Prompt: "p", Mode: "epic"}, want: ErrInvalidArgument},
		{name: "bad length", req: StoryRequest{VideoID: "v1", Prompt: "p", Length: "medium"}, want: ErrInvalidArgument},
		{name: "unknown video", req: StoryRequest{VideoID: "nope", Prompt: "p"}, want: ErrNotFound},
		{name: "still processing", req: StoryRequest{VideoID: "v2", Prompt: "p"}, want: ErrNotCompleted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := a.GenerateStory(ctx, tc.req)
			require.ErrorIs(t, err, tc.want)
		})
	}
	gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestGenerateStory_GeneratorFailure(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	seedCompleted(t, repo, "v1", 10, "hello", time.Now())

	gen := new(GeneratorMock)
	gen.On("Generate", mock.Anything, mock.Anything).Return(nil, errors.New("invalid json from model")).Once()

	_, err := newTestAssembler(repo, gen).GenerateStory(ctx, StoryRequest{VideoID: "v1", Prompt: "p"})
	require.ErrorIs(t, err, ErrStoryGenerationFailed)
	assert.Contains(t, err.Error(), "invalid json from model")
}

func TestGenerateStory_NoSceneFits(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	seedCompleted(t, repo, "v1", 10, "hello", time.Now())

	gen := new(GeneratorMock)
	gen.On("Generate", mock.Anything, mock.Anything).Return(&provider.Narrative{
		Scenes: []entities.Scene{{Start: 20, End: 30}},
	}, nil).Once()

	_, err := newTestAssembler(repo, gen).GenerateStory(ctx, StoryRequest{VideoID: "v1", Prompt: "p"})
	require.ErrorIs(t, err, ErrStoryGenerationFailed)
}

func TestGenerateCollectiveStory_UsesMatchesAndDropsUnknownSources(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	base := time.Now()
	seedCompleted(t, repo, "v1", 100, "a sunny beach walk", base.Add(-time.Hour))
	seedCompleted(t, repo, "v2", 100, "beach volleyball", base)
	seedCompleted(t, repo, "v3", 100, "mountain hike", base)

	gen := new(GeneratorMock)
	gen.On("Generate", mock.Anything, mock.MatchedBy(func(req provider.NarrativeRequest) bool {
		return len(req.Sources) == 2 && req.Length == constant.TargetLengthLong && req.Collective()
	})).Return(&provider.Narrative{
		Summary: "Beach days",
		Scenes: []entities.Scene{
			{SourceVideoID: "v2", Start: 0, End: 5, Narration: "Volleyball."},
			{SourceVideoID: "v3", Start: 0, End: 5, Narration: "Not retrieved."},
			{SourceVideoID: "v1", Start: 10, End: 15, Narration: "A walk."},
		},
	}, nil).Once()

	story, err := newTestAssembler(repo, gen).GenerateCollectiveStory(ctx, CollectiveRequest{Query: "beach", Prompt: "summer memories"})
	require.NoError(t, err)

	assert.Equal(t, []string{"v2", "v1"}, story.SourceVideoIDs)
	require.Len(t, story.Scenes, 2)
	assert.Equal(t, "Volleyball. A walk.", story.FullNarration)
	gen.AssertExpectations(t)
}

func TestGenerateCollectiveStory_NoMatch(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	seedCompleted(t, repo, "v1", 30, "mountain hike", time.Now())

	gen := new(GeneratorMock)
	_, err := newTestAssembler(repo, gen).GenerateCollectiveStory(ctx, CollectiveRequest{Query: "underwater", Prompt: "p"})
	require.ErrorIs(t, err, ErrNoMatchingContent)
	gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestGenerateCollectiveStory_ExplicitIDsAndShortLength(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	seedCompleted(t, repo, "v1", 30, "mountain hike", time.Now())
	seedCompleted(t, repo, "v2", 30, "beach", time.Now())

	gen := new(GeneratorMock)
	gen.On("Generate", mock.Anything, mock.MatchedBy(func(req provider.NarrativeRequest) bool {
		return len(req.Sources) == 1 && req.Sources[0].VideoID == "v1" && req.Length == constant.TargetLengthShort
	})).Return(&provider.Narrative{
		Scenes: []entities.Scene{{Start: 0, End: 50, Narration: "Climb."}},
	}, nil).Once()

	story, err := newTestAssembler(repo, gen).GenerateCollectiveStory(ctx, CollectiveRequest{
		Query:    "beach",
		VideoIDs: []string{"v1"},
		Prompt:   "p",
	})
	require.NoError(t, err)
	require.Len(t, story.Scenes, 1)
	assert.Equal(t, "v1", story.Scenes[0].SourceVideoID)
	assert.Equal(t, 30.0, story.Scenes[0].End)
}

func TestGenerateCollectiveStory_EmptyQueryUsesRecent(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	base := time.Now()
	seedCompleted(t, repo, "old", 30, "x", base.Add(-time.Hour))
	seedCompleted(t, repo, "new", 30, "y", base)

	gen := new(GeneratorMock)
	gen.On("Generate", mock.Anything, mock.MatchedBy(func(req provider.NarrativeRequest) bool {
		return len(req.Sources) == 1 && req.Sources[0].VideoID == "new"
	})).Return(&provider.Narrative{
		Scenes: []entities.Scene{{SourceVideoID: "new", Start: 0, End: 5}},
	}, nil).Once()

	story, err := newTestAssembler(repo, gen).GenerateCollectiveStory(ctx, CollectiveRequest{Prompt: "p", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, story.SourceVideoIDs)
}
