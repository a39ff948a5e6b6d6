package service

import (
	"context"
	"footage-flow/dto"
	"footage-flow/entities"
	"footage-flow/provider"
	"sync"

	"github.com/stretchr/testify/mock"
)

type SourceMock struct {
	mock.Mock
}

func (m *SourceMock) Fetch(ctx context.Context, videoID, dir string) (*provider.Media, error) {
	args := m.Called(ctx, videoID, dir)
	if v := args.Get(0); v != nil {
		media := *v.(*provider.Media)
		return &media, args.Error(1)
	}
	return nil, args.Error(1)
}

type TranscriberMock struct {
	mock.Mock
}

func (m *TranscriberMock) Transcribe(ctx context.Context, media provider.Media) (*provider.Transcription, error) {
	args := m.Called(ctx, media)
	if v := args.Get(0); v != nil {
		return v.(*provider.Transcription), args.Error(1)
	}
	return nil, args.Error(1)
}

type TaggerMock struct {
	mock.Mock
}

func (m *TaggerMock) Tag(ctx context.Context, media provider.Media) ([]string, error) {
	args := m.Called(ctx, media)
	if v := args.Get(0); v != nil {
		return v.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

type EmotionMock struct {
	mock.Mock
}

func (m *EmotionMock) Analyze(ctx context.Context, transcript string, segments []entities.Segment) ([]entities.Emotion, error) {
	args := m.Called(ctx, transcript, segments)
	if v := args.Get(0); v != nil {
		return v.([]entities.Emotion), args.Error(1)
	}
	return nil, args.Error(1)
}

type GeneratorMock struct {
	mock.Mock
}

func (m *GeneratorMock) Generate(ctx context.Context, req provider.NarrativeRequest) (*provider.Narrative, error) {
	args := m.Called(ctx, req)
	if v := args.Get(0); v != nil {
		return v.(*provider.Narrative), args.Error(1)
	}
	return nil, args.Error(1)
}

type ArtifactMock struct {
	mock.Mock
}

func (m *ArtifactMock) Put(ctx context.Context, localPath, name string) (string, error) {
	args := m.Called(ctx, localPath, name)
	return args.String(0), args.Error(1)
}

type NarratorMock struct {
	mock.Mock
}

func (m *NarratorMock) Synthesize(ctx context.Context, text, dst string) error {
	return m.Called(ctx, text, dst).Error(0)
}

// transcribeFunc adapts a function to provider.Transcriber.
type transcribeFunc func(ctx context.Context, media provider.Media) (*provider.Transcription, error)

func (f transcribeFunc) Transcribe(ctx context.Context, media provider.Media) (*provider.Transcription, error) {
	return f(ctx, media)
}

type tagFunc func(ctx context.Context, media provider.Media) ([]string, error)

func (f tagFunc) Tag(ctx context.Context, media provider.Media) ([]string, error) {
	return f(ctx, media)
}

type recordingNotifier struct {
	mu      sync.Mutex
	events  []dto.StageEvent
	onEvent func(event dto.StageEvent)
}

func (n *recordingNotifier) Notify(_ context.Context, event dto.StageEvent) {
	if n.onEvent != nil {
		n.onEvent(event)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) Events() []dto.StageEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]dto.StageEvent(nil), n.events...)
}
