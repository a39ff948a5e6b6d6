package provider

import (
	"context"
	"errors"
	"fmt"
	"footage-flow/constant"
	"footage-flow/entities"
	"net"
	"strings"
)

// ErrTemporary marks a provider failure worth retrying.
var ErrTemporary = errors.New("temporary provider failure")

// Media is a fetched source video on local disk.
type Media struct {
	VideoID  string
	Path     string
	Duration float64
	Size     int64
	HasAudio bool
	// WorkDir is a scratch directory owned by the current run.
	WorkDir string
}

type Transcription struct {
	Text     string
	Segments []entities.Segment
}

type Transcriber interface {
	Transcribe(ctx context.Context, media Media) (*Transcription, error)
}

type Tagger interface {
	Tag(ctx context.Context, media Media) ([]string, error)
}

type EmotionAnalyzer interface {
	Analyze(ctx context.Context, transcript string, segments []entities.Segment) ([]entities.Emotion, error)
}

// Highlight is a stretch of one source worth considering for a scene.
type Highlight struct {
	Start float64
	End   float64
	Text  string
}

type NarrativeSource struct {
	VideoID    string
	Duration   float64
	Transcript string
	Tags       []string
	Highlights []Highlight
}

type NarrativeRequest struct {
	Prompt  string
	Mode    constant.StoryMode
	Length  constant.TargetLength
	Sources []NarrativeSource
}

func (r NarrativeRequest) Collective() bool {
	return len(r.Sources) > 1
}

func (r NarrativeRequest) TotalDuration() float64 {
	var d float64
	for _, s := range r.Sources {
		d += s.Duration
	}
	return d
}

type Narrative struct {
	Summary       string
	FullNarration string
	Scenes        []entities.Scene
}

type NarrativeGenerator interface {
	Generate(ctx context.Context, req NarrativeRequest) (*Narrative, error)
}

// Temporary wraps err so IsTemporary reports true.
func Temporary(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTemporary, err)
}

// IsTemporary reports whether err is a transient failure: timeouts, refused
// connections, rate limits and upstream 5xx responses.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTemporary) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr interface {
		StatusCode() int
	}
	if errors.As(err, &apiErr) {
		code := apiErr.StatusCode()
		return code >= 500 || code == 429
	}

	msg := err.Error()
	for _, s := range []string{"status: 429", "status: 502", "status: 503", "status: 504", "connection refused", "connection reset", "timeout"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
