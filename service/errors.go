package service

import (
	"errors"
	"fmt"
	"footage-flow/constant"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrNotCompleted          = errors.New("analysis not completed")
	ErrSourceUnavailable     = errors.New("source video unavailable")
	ErrConcurrentProcessing  = errors.New("video is already being processed")
	ErrStoryGenerationFailed = errors.New("story generation failed")
	ErrNoMatchingContent     = errors.New("no matching content")
	ErrInvalidRange          = errors.New("scene range outside source bounds")
	ErrEncodingFailed        = errors.New("encoding failed")
	ErrEmotionAnalysisFailed = errors.New("emotion analysis failed")

	// ErrNonRetryable marks queue deliveries that must not be redelivered.
	ErrNonRetryable = errors.New("non-retryable error")
)

// StageError is a capability provider failure inside one pipeline stage.
type StageError struct {
	Stage constant.Stage
	Cause error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Cause)
}

func (e *StageError) Unwrap() error {
	return e.Cause
}

// RenderError reports the scene that made a render fail. SceneIndex is -1 when
// the failure is not tied to one scene.
type RenderError struct {
	SceneIndex int
	Cause      error
}

func (e *RenderError) Error() string {
	if e.SceneIndex < 0 {
		return fmt.Sprintf("render failed: %v", e.Cause)
	}
	return fmt.Sprintf("render failed at scene %d: %v", e.SceneIndex, e.Cause)
}

func (e *RenderError) Unwrap() error {
	return e.Cause
}
