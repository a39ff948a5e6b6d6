package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/rs/zerolog"
)

// speechInputLimit is the longest text the speech endpoint accepts.
const speechInputLimit = 4096

// NarrationSynthesizer speaks text into an audio file at dst.
type NarrationSynthesizer interface {
	Synthesize(ctx context.Context, text, dst string) error
}

// OpenAISpeechSynthesizer voices narration with the audio speech endpoint.
type OpenAISpeechSynthesizer struct {
	client openai.Client
	model  string
	voice  string
}

func NewOpenAISpeechSynthesizer(apiKey, baseURL, model, voice string) *OpenAISpeechSynthesizer {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAISpeechSynthesizer{
		client: openai.NewClient(opts...),
		model:  model,
		voice:  voice,
	}
}

func (s *OpenAISpeechSynthesizer) Synthesize(ctx context.Context, text, dst string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("nothing to narrate")
	}
	if len(text) > speechInputLimit {
		zerolog.Ctx(ctx).Warn().Int("chars", len(text)).Msg("narration truncated to the speech input limit")
		text = truncate(text, speechInputLimit)
	}

	resp, err := s.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model:          s.model,
		Input:          text,
		Voice:          openai.AudioSpeechNewParamsVoice(s.voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		return classifyAPIError(err)
	}
	defer resp.Body.Close()

	return writeAudio(resp.Body, dst)
}

func writeAudio(body io.Reader, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write narration: %w", err)
	}
	if n == 0 {
		return errors.New("speech endpoint returned no audio")
	}
	return nil
}

// CommandSynthesizer runs a local text-to-speech program. edge-tts gets its
// own flags; any other program is called with --text and --output.
type CommandSynthesizer struct {
	Binary string
	Voice  string
}

func NewCommandSynthesizer(binary, voice string) *CommandSynthesizer {
	return &CommandSynthesizer{Binary: binary, Voice: voice}
}

func (c *CommandSynthesizer) Args(text, dst string) []string {
	if filepath.Base(c.Binary) == "edge-tts" {
		args := []string{"--text", text, "--write-media", dst}
		if c.Voice != "" {
			args = append([]string{"--voice", c.Voice}, args...)
		}
		return args
	}
	return []string{"--text", text, "--output", dst}
}

func (c *CommandSynthesizer) Synthesize(ctx context.Context, text, dst string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("nothing to narrate")
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Binary, c.Args(text, dst)...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w: %s", filepath.Base(c.Binary), err, strings.TrimSpace(stderr.String()))
	}
	if info, err := os.Stat(dst); err != nil || info.Size() == 0 {
		return fmt.Errorf("%s wrote no audio", filepath.Base(c.Binary))
	}
	return nil
}
