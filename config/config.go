package config

import (
	"database/sql"
	_ "github.com/lib/pq"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/viper"
	"time"
)

type Config struct {
	MinIOBucket string        `yaml:"minio_bucket"`
	App         App           `yaml:"app"`
	DB          *sql.DB       `yaml:"db"`
	Queue       *RabbitMQ     `yaml:"rabbitmq"`
	Storage     *minio.Client `yaml:"storage"`
	Server      Server        `yaml:"server"`
	Pipeline    Pipeline      `yaml:"pipeline"`
	Story       Story         `yaml:"story"`
	Render      Render        `yaml:"render"`
	OpenAI      OpenAI        `yaml:"openai"`
	Whisper     Whisper       `yaml:"whisper"`
	Narration   Narration     `yaml:"narration"`
}

type App struct {
	Environment string `yaml:"environment"`
	Host        string `yaml:"host"`
	Protocol    string `yaml:"protocol"`
}

type Server struct {
	HttpPort string `yaml:"http_port"`
	Workers  int    `yaml:"workers"`
}

type RabbitMQ struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Pass         string `json:"pass"`
	Vhost        string `json:"vhost"`
	ExchangeName string `json:"exchange_name"`
	EventsName   string `json:"events_name"`
	Kind         string `json:"kind"`
	MaxRetries   uint   `json:"max_retries"`
}

type Pipeline struct {
	WorkDir              string        `yaml:"work_dir"`
	TranscriptionTimeout time.Duration `yaml:"transcription_timeout"`
	TaggingTimeout       time.Duration `yaml:"tagging_timeout"`
	EmotionTimeout       time.Duration `yaml:"emotion_timeout"`
	StageAttempts        uint          `yaml:"stage_attempts"`
	RetryInterval        time.Duration `yaml:"retry_interval"`
}

type Story struct {
	Timeout         time.Duration `yaml:"timeout"`
	CollectiveLimit int           `yaml:"collective_limit"`
}

type Render struct {
	Timeout      time.Duration `yaml:"timeout"`
	FadeDuration float64       `yaml:"fade_duration"`
	Width        int           `yaml:"width"`
	Height       int           `yaml:"height"`
	FPS          int           `yaml:"fps"`
	Threads      int           `yaml:"threads"`
	// NarrationVolume scales scene audio under a narration track.
	NarrationVolume float64 `yaml:"narration_volume"`
}

type OpenAI struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	NarrativeModel string `yaml:"narrative_model"`
	VisionModel    string `yaml:"vision_model"`
	FrameSamples   int    `yaml:"frame_samples"`
	SpeechModel    string `yaml:"speech_model"`
	SpeechVoice    string `yaml:"speech_voice"`
}

// Narration configures the speech command used when no OpenAI key is set.
type Narration struct {
	Command string `yaml:"command"`
	Voice   string `yaml:"voice"`
}

type Whisper struct {
	Binary   string `yaml:"binary"`
	Model    string `yaml:"model"`
	Language string `yaml:"language"`
}

func setDefaults() {
	viper.SetDefault("app.environment", "develop")
	viper.SetDefault("app.host", "localhost:8080")
	viper.SetDefault("app.protocol", "http")
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.workers", 2)
	viper.SetDefault("rabbitmq_kind", "topic")
	viper.SetDefault("rabbitmq_vhost", "/")
	viper.SetDefault("rabbitmq_exchange", "video_exchange")
	viper.SetDefault("rabbitmq_events_exchange", "video_events_exchange")
	viper.SetDefault("rabbitmq_max_retries", 5)
	viper.SetDefault("minio.bucket", "footage")
	viper.SetDefault("pipeline.work_dir", "temp")
	viper.SetDefault("pipeline.transcription_timeout", 120*time.Second)
	viper.SetDefault("pipeline.tagging_timeout", 90*time.Second)
	viper.SetDefault("pipeline.emotion_timeout", 30*time.Second)
	viper.SetDefault("pipeline.stage_attempts", 2)
	viper.SetDefault("pipeline.retry_interval", 500*time.Millisecond)
	viper.SetDefault("story.timeout", 90*time.Second)
	viper.SetDefault("story.collective_limit", 5)
	viper.SetDefault("render.timeout", 10*time.Minute)
	viper.SetDefault("render.fade_duration", 0.5)
	viper.SetDefault("render.width", 1280)
	viper.SetDefault("render.height", 720)
	viper.SetDefault("render.fps", 30)
	viper.SetDefault("render.threads", 1)
	viper.SetDefault("render.narration_volume", 0.3)
	viper.SetDefault("openai.narrative_model", "gpt-4o-mini")
	viper.SetDefault("openai.vision_model", "gpt-4o-mini")
	viper.SetDefault("openai.frame_samples", 6)
	viper.SetDefault("openai.speech_model", "tts-1")
	viper.SetDefault("openai.speech_voice", "alloy")
	viper.SetDefault("narration.voice", "en-US-GuyNeural")
	viper.SetDefault("whisper.binary", "whisper")
	viper.SetDefault("whisper.model", "base")
}

func Load(path string) (*Config, error) {
	setDefaults()
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	err := viper.ReadInConfig()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", viper.GetString("postgresql_host"))
	if err != nil {
		return nil, err
	}

	rabbitmq := &RabbitMQ{
		Host:         viper.GetString("rabbitmq_host"),
		Port:         viper.GetInt("rabbitmq_port"),
		User:         viper.GetString("rabbitmq_user"),
		Pass:         viper.GetString("rabbitmq_pass"),
		Vhost:        viper.GetString("rabbitmq_vhost"),
		ExchangeName: viper.GetString("rabbitmq_exchange"),
		EventsName:   viper.GetString("rabbitmq_events_exchange"),
		Kind:         viper.GetString("rabbitmq_kind"),
		MaxRetries:   viper.GetUint("rabbitmq_max_retries"),
	}

	minioClient, err := minio.New(viper.GetString("minio.url"), &minio.Options{
		Creds:  credentials.NewStaticV4(viper.GetString("minio.access_id"), viper.GetString("minio.secret_access_key"), ""),
		Secure: viper.GetBool("minio.secure"),
	})
	if err != nil {
		return nil, err
	}

	return &Config{
		MinIOBucket: viper.GetString("minio.bucket"),
		App: App{
			Environment: viper.GetString("app.environment"),
			Host:        viper.GetString("app.host"),
			Protocol:    viper.GetString("app.protocol"),
		},
		Server: Server{
			HttpPort: viper.GetString("server.port"),
			Workers:  viper.GetInt("server.workers"),
		},
		Pipeline: Pipeline{
			WorkDir:              viper.GetString("pipeline.work_dir"),
			TranscriptionTimeout: viper.GetDuration("pipeline.transcription_timeout"),
			TaggingTimeout:       viper.GetDuration("pipeline.tagging_timeout"),
			EmotionTimeout:       viper.GetDuration("pipeline.emotion_timeout"),
			StageAttempts:        viper.GetUint("pipeline.stage_attempts"),
			RetryInterval:        viper.GetDuration("pipeline.retry_interval"),
		},
		Story: Story{
			Timeout:         viper.GetDuration("story.timeout"),
			CollectiveLimit: viper.GetInt("story.collective_limit"),
		},
		Render: Render{
			Timeout:         viper.GetDuration("render.timeout"),
			FadeDuration:    viper.GetFloat64("render.fade_duration"),
			Width:           viper.GetInt("render.width"),
			Height:          viper.GetInt("render.height"),
			FPS:             viper.GetInt("render.fps"),
			Threads:         viper.GetInt("render.threads"),
			NarrationVolume: viper.GetFloat64("render.narration_volume"),
		},
		OpenAI: OpenAI{
			APIKey:         viper.GetString("openai.api_key"),
			BaseURL:        viper.GetString("openai.base_url"),
			NarrativeModel: viper.GetString("openai.narrative_model"),
			VisionModel:    viper.GetString("openai.vision_model"),
			FrameSamples:   viper.GetInt("openai.frame_samples"),
			SpeechModel:    viper.GetString("openai.speech_model"),
			SpeechVoice:    viper.GetString("openai.speech_voice"),
		},
		Whisper: Whisper{
			Binary:   viper.GetString("whisper.binary"),
			Model:    viper.GetString("whisper.model"),
			Language: viper.GetString("whisper.language"),
		},
		Narration: Narration{
			Command: viper.GetString("narration.command"),
			Voice:   viper.GetString("narration.voice"),
		},
		DB:      db,
		Queue:   rabbitmq,
		Storage: minioClient,
	}, nil
}

// PublicURL is the address clients use to reach a path on this service.
func (c *Config) PublicURL(path string) string {
	return c.App.Protocol + "://" + c.App.Host + path
}
