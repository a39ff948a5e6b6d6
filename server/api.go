package server

import (
	"context"
	"errors"
	"footage-flow/constant"
	"footage-flow/dto"
	"footage-flow/entities"
	"footage-flow/service"
	"footage-flow/storage"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const maxResultsWait = time.Minute

type PipelineService interface {
	Process(ctx context.Context, videoID string) (*entities.VideoAnalysis, error)
	Start(ctx context.Context, videoID string) (*entities.VideoAnalysis, error)
	GetProgress(ctx context.Context, videoID string) (*entities.VideoAnalysis, error)
	Watch(videoID string) (<-chan dto.StageEvent, func())
}

type StoryService interface {
	GenerateStory(ctx context.Context, req service.StoryRequest) (*entities.Story, error)
	GenerateCollectiveStory(ctx context.Context, req service.CollectiveRequest) (*entities.Story, error)
}

type RenderService interface {
	Render(ctx context.Context, job entities.RenderJob) (*entities.RenderJob, error)
}

type EmotionService interface {
	Analyze(ctx context.Context, videoID, transcript string) (*service.EmotionReport, error)
}

type ArtifactReader interface {
	Open(ctx context.Context, name string) (io.ReadCloser, int64, error)
}

// API exposes the pipeline, stories and renders over HTTP. Background runs
// started by POST /process use runCtx so they outlive the request.
type API struct {
	runCtx    context.Context
	pipeline  PipelineService
	stories   StoryService
	renderer  RenderService
	emotions  EmotionService
	artifacts ArtifactReader
}

func NewAPI(runCtx context.Context, pipeline PipelineService, stories StoryService, renderer RenderService, emotions EmotionService, artifacts ArtifactReader) *API {
	return &API{
		runCtx:    runCtx,
		pipeline:  pipeline,
		stories:   stories,
		renderer:  renderer,
		emotions:  emotions,
		artifacts: artifacts,
	}
}

func (a *API) Register(r gin.IRouter) {
	r.POST("/process/:videoId", a.process)
	r.GET("/results/:videoId", a.results)
	r.POST("/analyze-emotions", a.analyzeEmotions)
	r.POST("/generate-story", a.generateStory)
	r.POST("/collective-generate-story", a.collectiveStory)
	r.POST("/render-story", a.renderStory)
	r.POST("/render-collective-story", a.renderCollectiveStory)
	r.GET("/renders/:name", a.serveRender)
}

func (a *API) process(c *gin.Context) {
	videoID := c.Param("videoId")

	if wait, _ := strconv.ParseBool(c.Query("wait")); wait {
		analysis, err := a.pipeline.Process(c.Request.Context(), videoID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, progressResponse(analysis))
		return
	}

	analysis, err := a.pipeline.Start(a.runCtx, videoID)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusAccepted
	if analysis.Status == constant.VideoStatusCompleted {
		status = http.StatusOK
	}
	c.JSON(status, progressResponse(analysis))
}

// results returns the current record. With ?wait=<duration> a non-terminal
// record is returned after its next change or when the wait runs out.
func (a *API) results(c *gin.Context) {
	videoID := c.Param("videoId")
	ctx := c.Request.Context()

	wait, err := parseWait(c.Query("wait"))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	var events <-chan dto.StageEvent
	if wait > 0 {
		var stop func()
		events, stop = a.pipeline.Watch(videoID)
		defer stop()
	}

	analysis, err := a.pipeline.GetProgress(ctx, videoID)
	if err != nil {
		writeError(c, err)
		return
	}

	if wait > 0 && !analysis.Status.Terminal() {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-events:
		case <-timer.C:
		case <-ctx.Done():
			return
		}
		if analysis, err = a.pipeline.GetProgress(ctx, videoID); err != nil {
			writeError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, progressResponse(analysis))
}

func parseWait(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	if ok, err := strconv.ParseBool(raw); err == nil {
		if ok {
			return maxResultsWait, nil
		}
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, errors.New("wait must be a duration such as 10s")
	}
	return min(d, maxResultsWait), nil
}

// analyzeEmotions rereads emotions for a video without changing its record.
func (a *API) analyzeEmotions(c *gin.Context) {
	var req dto.AnalyzeEmotionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	report, err := a.emotions.Analyze(c.Request.Context(), req.VideoId, req.Transcript)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := dto.EmotionsResponse{
		Emotions: report.Emotions,
		GoodSide: labelScores(report.GoodSide),
		BadSide:  labelScores(report.BadSide),
	}
	if resp.Emotions == nil {
		resp.Emotions = []entities.Emotion{}
	}
	c.JSON(http.StatusOK, resp)
}

func labelScores(in []service.LabelScore) []dto.LabelScore {
	out := make([]dto.LabelScore, len(in))
	for i, s := range in {
		out[i] = dto.LabelScore{Label: s.Label, Score: s.Score}
	}
	return out
}

func (a *API) generateStory(c *gin.Context) {
	var req dto.GenerateStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	story, err := a.stories.GenerateStory(c.Request.Context(), service.StoryRequest{
		VideoID: req.VideoId,
		Prompt:  req.Prompt,
		Mode:    constant.StoryMode(strings.ToLower(string(req.Mode))),
		Length:  constant.TargetLength(strings.ToLower(string(req.Length))),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, storyResponse(story))
}

func (a *API) collectiveStory(c *gin.Context) {
	var req dto.CollectiveStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	story, err := a.stories.GenerateCollectiveStory(c.Request.Context(), service.CollectiveRequest{
		Query:    req.Query,
		VideoIDs: req.VideoIds,
		Prompt:   req.Prompt,
		Mode:     constant.StoryMode(strings.ToLower(string(req.Mode))),
		Limit:    req.Limit,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, storyResponse(story))
}

func (a *API) renderStory(c *gin.Context) {
	var req dto.RenderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	if strings.TrimSpace(req.VideoId) == "" || len(req.Scenes) == 0 {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "videoId and scenes are required"})
		return
	}

	scenes := make([]entities.Scene, len(req.Scenes))
	for i, s := range req.Scenes {
		s.SourceVideoID = req.VideoId
		scenes[i] = s
	}
	a.render(c, scenes, req)
}

func (a *API) renderCollectiveStory(c *gin.Context) {
	var req dto.RenderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	if len(req.Scenes) == 0 {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "scenes are required"})
		return
	}

	scenes := make([]entities.Scene, len(req.Scenes))
	for i, s := range req.Scenes {
		if s.SourceVideoID == "" && len(req.SourceVideoIds) > 0 {
			s.SourceVideoID = req.SourceVideoIds[i%len(req.SourceVideoIds)]
		}
		scenes[i] = s
	}
	a.render(c, scenes, req)
}

func (a *API) render(c *gin.Context, scenes []entities.Scene, req dto.RenderRequest) {
	job, err := a.renderer.Render(c.Request.Context(), entities.RenderJob{
		Scenes:         scenes,
		TransitionMode: constant.TransitionMode(strings.ToLower(string(req.Transition))),
		Narration:      req.FullNarration,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.RenderResponse{Ok: true, Url: job.OutputURL, Narrated: job.Narrated})
}

func (a *API) serveRender(c *gin.Context) {
	body, size, err := a.artifacts.Open(c.Request.Context(), c.Param("name"))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "render not found"})
			return
		}
		writeError(c, err)
		return
	}
	defer body.Close()
	c.DataFromReader(http.StatusOK, size, "video/mp4", body, nil)
}

func progressResponse(a *entities.VideoAnalysis) dto.ProgressResponse {
	resp := dto.ProgressResponse{
		VideoId:      a.VideoID,
		Status:       a.Status,
		CurrentStage: a.CurrentStage,
		CurrentStep:  a.CurrentStage.String(),
		Duration:     a.Duration,
		Transcript:   a.Transcript,
		Segments:     a.Segments,
		Tags:         a.Tags,
		Emotions:     a.Emotions,
		StageErrors:  a.StageErrors,
		Error:        a.Error,
	}
	if resp.Segments == nil {
		resp.Segments = []entities.Segment{}
	}
	if resp.Tags == nil {
		resp.Tags = []string{}
	}
	if resp.Emotions == nil {
		resp.Emotions = []entities.Emotion{}
	}
	return resp
}

func storyResponse(s *entities.Story) dto.StoryResponse {
	return dto.StoryResponse{
		Success:        true,
		StoryId:        s.ID,
		SourceVideoIds: s.SourceVideoIDs,
		Summary:        s.Summary,
		FullNarration:  s.FullNarration,
		Scenes:         s.Scenes,
	}
}

func writeError(c *gin.Context, err error) {
	resp := dto.ErrorResponse{Error: err.Error()}
	if idx, ok := service.SceneIndex(err); ok {
		resp.SceneIndex = &idx
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrNoMatchingContent):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrConcurrentProcessing), errors.Is(err, service.ErrNotCompleted):
		status = http.StatusConflict
	case errors.Is(err, service.ErrInvalidRange), errors.Is(err, service.ErrSourceUnavailable):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrStoryGenerationFailed), errors.Is(err, service.ErrEmotionAnalysisFailed):
		status = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	if status >= http.StatusInternalServerError {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, resp)
}
