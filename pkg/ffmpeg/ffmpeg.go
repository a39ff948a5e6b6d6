package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/rs/zerolog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

var (
	Binary      = "ffmpeg"
	ProbeBinary = "ffprobe"
)

// Ffmpeg runs ffmpeg with the provided args and returns (stdout, stderr, error).
func Ffmpeg(ctx context.Context, args ...string) ([]byte, []byte, error) {
	return run(ctx, Binary, args...)
}

// Ffprobe runs ffprobe with the provided args and returns (stdout, stderr, error).
func Ffprobe(ctx context.Context, args ...string) ([]byte, []byte, error) {
	return run(ctx, ProbeBinary, args...)
}

func run(ctx context.Context, bin string, args ...string) ([]byte, []byte, error) {
	zerolog.Ctx(ctx).Debug().Str("cmd", bin).Str("args", strings.Join(args, " ")).Msg("exec")
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("cmd", bin).Str("stderr", tail(stderr.String(), 2000)).Msg("exec failed")
		err = fmt.Errorf("%s: %w: %s", bin, err, tail(stderr.String(), 500))
	}
	return stdout.Bytes(), stderr.Bytes(), err
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

type ProbeResult struct {
	Duration float64
	HasVideo bool
	HasAudio bool
	Width    int
	Height   int
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		Duration  string `json:"duration"`
	} `json:"streams"`
}

// Probe reads duration and stream layout of a media file.
func Probe(ctx context.Context, path string) (*ProbeResult, error) {
	stdout, _, err := Ffprobe(ctx, "-v", "quiet", "-print_format", "json", "-show_format", "-show_streams", path)
	if err != nil {
		return nil, err
	}
	return ParseProbe(stdout)
}

func ParseProbe(data []byte) (*ProbeResult, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	res := &ProbeResult{}
	res.Duration, _ = strconv.ParseFloat(strings.TrimSpace(out.Format.Duration), 64)
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if !res.HasVideo {
				res.Width, res.Height = s.Width, s.Height
			}
			res.HasVideo = true
		case "audio":
			res.HasAudio = true
		}
		if res.Duration <= 0 {
			if d, err := strconv.ParseFloat(s.Duration, 64); err == nil && d > res.Duration {
				res.Duration = d
			}
		}
	}
	if !res.HasVideo && !res.HasAudio {
		return nil, errors.New("no media streams")
	}
	if res.Duration <= 0 {
		return nil, errors.New("unknown media duration")
	}
	return res, nil
}

// ExtractAudio writes a 16kHz mono wav track suitable for speech recognition.
func ExtractAudio(ctx context.Context, src, dst string) error {
	_, _, err := Ffmpeg(ctx, "-y", "-hide_banner", "-loglevel", "error",
		"-i", src,
		"-vn", "-ac", "1", "-ar", "16000", "-c:a", "pcm_s16le",
		dst)
	return err
}

// SampleTimes spreads count sample points evenly across duration, each in the
// middle of its slice.
func SampleTimes(duration float64, count int) []float64 {
	if duration <= 0 || count <= 0 {
		return nil
	}
	times := make([]float64, count)
	step := duration / float64(count)
	for i := range times {
		times[i] = step*float64(i) + step/2
	}
	return times
}

// SampleFrames grabs count jpeg frames spread across the video into dir.
func SampleFrames(ctx context.Context, src, dir string, duration float64, count int) ([]string, error) {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, err
	}
	var frames []string
	for i, ts := range SampleTimes(duration, count) {
		out := filepath.Join(dir, fmt.Sprintf("frame_%02d.jpg", i))
		_, _, err := Ffmpeg(ctx, "-y", "-hide_banner", "-loglevel", "error",
			"-ss", Timestamp(ts),
			"-i", src,
			"-frames:v", "1",
			"-vf", "scale=512:-2",
			"-q:v", "4",
			out)
		if err != nil {
			return frames, err
		}
		frames = append(frames, out)
	}
	return frames, nil
}
