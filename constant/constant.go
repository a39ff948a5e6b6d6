package constant

type VideoStatus string

const (
	VideoStatusPending    VideoStatus = "pending"
	VideoStatusProcessing VideoStatus = "processing"
	VideoStatusCompleted  VideoStatus = "completed"
	VideoStatusFailed     VideoStatus = "failed"
)

func (s VideoStatus) Terminal() bool {
	return s == VideoStatusCompleted || s == VideoStatusFailed
}

type Stage string

const (
	StageStarting        Stage = "starting"
	StageTranscription   Stage = "transcription"
	StageVisualTagging   Stage = "visual_tagging"
	StageEmotionAnalysis Stage = "emotion_analysis"
	StageIndexing        Stage = "indexing"
	StageStoryDraft      Stage = "story_draft"
	StageFinalRender     Stage = "final_render"
)

// PipelineStages are the stages a process run walks through, in order.
var PipelineStages = []Stage{
	StageTranscription,
	StageVisualTagging,
	StageEmotionAnalysis,
	StageIndexing,
}

var stageOrder = map[Stage]int{
	StageStarting:        0,
	StageTranscription:   1,
	StageVisualTagging:   2,
	StageEmotionAnalysis: 3,
	StageIndexing:        4,
	StageStoryDraft:      5,
	StageFinalRender:     6,
}

// Index returns the position of the stage in the total order, or -1 for an
// unknown or empty stage.
func (s Stage) Index() int {
	if i, ok := stageOrder[s]; ok {
		return i
	}
	return -1
}

func (s Stage) String() string {
	return string(s)
}

type StoryMode string

const (
	StoryModePositive StoryMode = "positive"
	StoryModeNeutral  StoryMode = "neutral"
	StoryModeContrast StoryMode = "contrast"
)

func (m StoryMode) Valid() bool {
	switch m {
	case StoryModePositive, StoryModeNeutral, StoryModeContrast:
		return true
	}
	return false
}

// StyleHint is the tone the narrative generator is asked to write in.
func (m StoryMode) StyleHint() string {
	switch m {
	case StoryModePositive:
		return "inspirational, uplifting, cinematic"
	case StoryModeContrast:
		return "two contrasting story paths, a positive path and a negative path"
	default:
		return "objective, descriptive, documentary"
	}
}

type TargetLength string

const (
	TargetLengthShort TargetLength = "short"
	TargetLengthLong  TargetLength = "long"
)

func (l TargetLength) Valid() bool {
	return l == TargetLengthShort || l == TargetLengthLong
}

// WordRange is the narration word budget for the length.
func (l TargetLength) WordRange() (int, int) {
	if l == TargetLengthShort {
		return 180, 260
	}
	return 450, 650
}

type TransitionMode string

const (
	TransitionCut  TransitionMode = "cut"
	TransitionFade TransitionMode = "fade"
)

func (t TransitionMode) Valid() bool {
	return t == TransitionCut || t == TransitionFade
}

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}
