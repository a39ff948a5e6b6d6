package dto

import (
	"footage-flow/constant"
	"footage-flow/entities"
	"time"
)

// ProcessMessage is the queue payload asking for a video to be analysed.
type ProcessMessage struct {
	VideoId string `json:"videoId"`
}

// StageEvent is emitted after every persisted change of an analysis record.
type StageEvent struct {
	VideoId      string               `json:"videoId"`
	Status       constant.VideoStatus `json:"status"`
	CurrentStage constant.Stage       `json:"currentStage"`
	Degraded     bool                 `json:"degraded,omitempty"`
	Error        string               `json:"error,omitempty"`
	OccurredAt   time.Time            `json:"occurredAt"`
}

type ProgressResponse struct {
	VideoId      string                  `json:"videoId"`
	Status       constant.VideoStatus    `json:"status"`
	CurrentStage constant.Stage          `json:"currentStage"`
	CurrentStep  string                  `json:"currentStep"`
	Duration     float64                 `json:"duration,omitempty"`
	Transcript   string                  `json:"transcript"`
	Segments     []entities.Segment      `json:"segments"`
	Tags         []string                `json:"tags"`
	Emotions     []entities.Emotion      `json:"emotions"`
	StageErrors  []entities.StageFailure `json:"stageErrors,omitempty"`
	Error        string                  `json:"error,omitempty"`
}

type GenerateStoryRequest struct {
	VideoId string                `json:"videoId"`
	Prompt  string                `json:"prompt"`
	Mode    constant.StoryMode    `json:"mode"`
	Length  constant.TargetLength `json:"length"`
}

type CollectiveStoryRequest struct {
	Query    string             `json:"query"`
	VideoIds []string           `json:"videoIds"`
	Prompt   string             `json:"prompt"`
	Mode     constant.StoryMode `json:"mode"`
	Limit    int                `json:"limit"`
}

type StoryResponse struct {
	Success        bool             `json:"success"`
	StoryId        string           `json:"storyId"`
	SourceVideoIds []string         `json:"sourceVideoIds,omitempty"`
	Summary        string           `json:"summary"`
	FullNarration  string           `json:"fullNarration"`
	Scenes         []entities.Scene `json:"scenes"`
}

// RenderRequest carries scenes to render. Scenes that do not name a source
// take VideoId, or SourceVideoIds in rotation for collective stories.
type RenderRequest struct {
	VideoId        string                  `json:"videoId,omitempty"`
	StoryId        string                  `json:"storyId,omitempty"`
	SourceVideoIds []string                `json:"sourceVideoIds,omitempty"`
	Scenes         []entities.Scene        `json:"scenes"`
	Transition     constant.TransitionMode `json:"transition"`
	FullNarration  string                  `json:"fullNarration,omitempty"`
}

type RenderResponse struct {
	Ok       bool   `json:"ok"`
	Url      string `json:"url"`
	Narrated bool   `json:"narrated"`
}

type AnalyzeEmotionsRequest struct {
	VideoId    string `json:"videoId"`
	Transcript string `json:"transcript"`
}

type LabelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

type EmotionsResponse struct {
	Emotions []entities.Emotion `json:"emotions"`
	GoodSide []LabelScore       `json:"goodSide"`
	BadSide  []LabelScore       `json:"badSide"`
}

type ErrorResponse struct {
	Error      string `json:"error"`
	SceneIndex *int   `json:"sceneIndex,omitempty"`
}
