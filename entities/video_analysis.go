package entities

import (
	"footage-flow/constant"
	"slices"
	"time"
)

type Segment struct {
	Word      string  `json:"word"`
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime"`
}

type Emotion struct {
	Label      string  `json:"label"`
	Intensity  float64 `json:"intensity"`
	TimeOffset float64 `json:"timeOffset"`
}

// StageFailure records a stage that finished degraded.
type StageFailure struct {
	Stage  constant.Stage `json:"stage"`
	Reason string         `json:"reason"`
}

type VideoAnalysis struct {
	VideoID      string               `json:"videoId" gorm:"type:varchar(64);primary_key"`
	Status       constant.VideoStatus `json:"status" gorm:"type:varchar(20);not null;index:idx_video_analyses_status"`
	CurrentStage constant.Stage       `json:"currentStage" gorm:"type:varchar(32);not null"`
	Duration     float64              `json:"duration" gorm:"type:double precision;not null;default:0"`
	Transcript   string               `json:"transcript" gorm:"type:text"`
	Segments     []Segment            `json:"segments" gorm:"type:jsonb;serializer:json"`
	Tags         []string             `json:"tags" gorm:"type:jsonb;serializer:json"`
	Emotions     []Emotion            `json:"emotions" gorm:"type:jsonb;serializer:json"`
	StageErrors  []StageFailure       `json:"stageErrors,omitempty" gorm:"type:jsonb;serializer:json"`
	SearchText   string               `json:"-" gorm:"type:text"`
	Error        string               `json:"error,omitempty" gorm:"type:text"`
	StartedAt    *time.Time           `json:"startedAt,omitempty" gorm:"type:timestamptz"`
	CompletedAt  *time.Time           `json:"completedAt,omitempty" gorm:"type:timestamptz"`
	CreatedAt    time.Time            `json:"createdAt" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time            `json:"updatedAt" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (VideoAnalysis) TableName() string {
	return "video_analyses"
}

// Clone returns a deep copy so callers never share slices with the store.
func (a *VideoAnalysis) Clone() *VideoAnalysis {
	if a == nil {
		return nil
	}
	c := *a
	c.Segments = slices.Clone(a.Segments)
	c.Tags = slices.Clone(a.Tags)
	c.Emotions = slices.Clone(a.Emotions)
	c.StageErrors = slices.Clone(a.StageErrors)
	if a.StartedAt != nil {
		t := *a.StartedAt
		c.StartedAt = &t
	}
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// MediaDuration is the measured source length, or the last covered instant
// of the transcript and emotions when it was never measured.
func (a *VideoAnalysis) MediaDuration() float64 {
	if a.Duration > 0 {
		return a.Duration
	}
	var d float64
	for _, s := range a.Segments {
		if s.EndTime > d {
			d = s.EndTime
		}
	}
	for _, e := range a.Emotions {
		if e.TimeOffset > d {
			d = e.TimeOffset
		}
	}
	return d
}
