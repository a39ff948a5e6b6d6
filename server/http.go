package server

import (
	"context"
	"errors"
	"fmt"
	"footage-flow/config"
	"footage-flow/constant"
	jobHandler "footage-flow/handler"
	"footage-flow/pkg/rabbitmq"
	"footage-flow/provider"
	"footage-flow/repository"
	"footage-flow/service"
	"footage-flow/storage"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 15 * time.Second

// Services is the wired application core shared by the server and the CLI.
type Services struct {
	Repo      repository.AnalysisRepository
	Pipeline  *service.Pipeline
	Assembler *service.Assembler
	Renderer  *service.Renderer
	Emotions  *service.EmotionReporter
	Artifacts *storage.MinioArtifactStore
}

// NewProviders picks OpenAI backed analysis when an API key is configured and
// the local fallbacks otherwise. Transcription always runs whisper locally.
func NewProviders(ctx context.Context, cfg *config.Config) (service.Providers, provider.NarrativeGenerator) {
	transcriber := provider.NewWhisperTranscriber(cfg.Whisper.Binary, cfg.Whisper.Model, cfg.Whisper.Language)

	if cfg.OpenAI.APIKey == "" {
		zerolog.Ctx(ctx).Warn().Msg("openai api key not set, using local tagging, emotion and narrative fallbacks")
		return service.Providers{
			Transcriber: transcriber,
			Tagger:      provider.DurationTagger{},
			Emotions:    provider.NewLexiconEmotionAnalyzer(),
		}, provider.NewTemplateNarrativeGenerator()
	}

	vision := provider.NewChatClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.VisionModel)
	narrative := provider.NewChatClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.NarrativeModel)
	return service.Providers{
		Transcriber: transcriber,
		Tagger:      provider.NewOpenAITagger(vision, cfg.OpenAI.FrameSamples),
		Emotions:    provider.NewOpenAIEmotionAnalyzer(narrative),
	}, provider.NewOpenAINarrativeGenerator(narrative)
}

// NewNarrator voices render narration with the speech endpoint when an API key
// is configured, then a local text-to-speech command. Without either, renders
// carry scene audio only.
func NewNarrator(ctx context.Context, cfg *config.Config) provider.NarrationSynthesizer {
	switch {
	case cfg.OpenAI.APIKey != "":
		return provider.NewOpenAISpeechSynthesizer(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.SpeechModel, cfg.OpenAI.SpeechVoice)
	case cfg.Narration.Command != "":
		return provider.NewCommandSynthesizer(cfg.Narration.Command, cfg.Narration.Voice)
	}
	zerolog.Ctx(ctx).Warn().Msg("no narration voice configured, renders keep scene audio only")
	return nil
}

// BuildServices wires repository, storage and providers into the pipeline,
// assembler and renderer. A nil sources uses the MinIO bucket.
func BuildServices(ctx context.Context, cfg *config.Config, sources service.SourceStore, notifier service.Notifier) (*Services, error) {
	repo, err := repository.NewRepo(cfg.DB)
	if err != nil {
		return nil, err
	}

	if sources == nil {
		sources = storage.NewMinioSourceStore(cfg.Storage, cfg.MinIOBucket, repo)
	}
	artifacts := storage.NewMinioArtifactStore(cfg.Storage, cfg.MinIOBucket, cfg.PublicURL)
	providers, generator := NewProviders(ctx, cfg)

	return &Services{
		Repo:      repo,
		Pipeline:  service.NewPipeline(repo, sources, providers, notifier, service.PipelineOptionsFromConfig(cfg.Pipeline)),
		Assembler: service.NewAssembler(repo, generator, service.AssemblerOptionsFromConfig(cfg.Story)),
		Renderer:  service.NewRenderer(sources, artifacts, NewNarrator(ctx, cfg), service.RenderOptionsFromConfig(cfg.Render, cfg.Pipeline.WorkDir)),
		Emotions:  service.NewEmotionReporter(repo, providers.Emotions, cfg.Pipeline.EmotionTimeout),
		Artifacts: artifacts,
	}, nil
}

func RunHttp(cfg *config.Config) {
	ctx, cancel := signal.NotifyContext(SetupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Bool("isProduction", cfg.App.Environment == constant.EnvironmentProduction.String()).Send()
	if cfg.App.Environment == constant.EnvironmentProduction.String() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := repository.Migrate(ctx, cfg.DB); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to migrate database")
		return
	}

	var notifier service.Notifier
	conn, err := config.NewRabbitMQConn(ctx, cfg.Queue)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("NewRabbitMQConn")
	} else {
		publisher, err := rabbitmq.NewEventPublisher(ctx, conn, cfg.Queue.EventsName, cfg.Queue.Kind)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("failed to create event publisher")
		} else {
			defer publisher.Close()
			notifier = publisher
		}
	}

	services, err := BuildServices(ctx, cfg, nil, notifier)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to build services")
		return
	}

	if conn != nil {
		serviceDeps := jobHandler.ServiceDependencies{Pipeline: services.Pipeline}
		processConsumer := rabbitmq.NewConsumer(conn, cfg.Queue, rabbitmq.VideoProcessingQueue(cfg.Queue), cfg.Server.Workers, jobHandler.ProcessHandler)
		go func() {
			err := processConsumer.Consume(ctx, serviceDeps)
			if err != nil && !errors.Is(err, context.Canceled) {
				zerolog.Ctx(ctx).Error().Err(err).Msg("process consumer error")
			}
		}()
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(ctx))
	addHealth(r)
	NewAPI(ctx, services.Pipeline, services.Assembler, services.Renderer, services.Emotions, services.Artifacts).Register(r)

	handler := http.Server{
		Handler:           r,
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Str("addr", handler.Addr).Msg("start http server")
		if err := handler.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
		}
	}()

	<-ctx.Done()
	zerolog.Ctx(ctx).Info().Msg("shutting down server")
	shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer stop()
	if err := handler.Shutdown(shutdownCtx); err != nil {
		zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
	}
	services.Pipeline.Wait()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("server shutdown")
}

func addHealth(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})
}

// requestLogger puts the service logger on every request context and logs
// one line per request.
func requestLogger(base context.Context) gin.HandlerFunc {
	logger := zerolog.Ctx(base)
	return func(c *gin.Context) {
		started := time.Now()
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context()))
		c.Next()
		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(started)).
			Msg("request")
	}
}

func SetupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// Log to standard output
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx := logger.WithContext(context.Background())

	return ctx
}
