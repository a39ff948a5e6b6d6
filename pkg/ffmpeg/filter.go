package ffmpeg

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Clip is one cut from an input file, in seconds.
type Clip struct {
	Input    int
	Start    float64
	End      float64
	HasAudio bool
}

type Transition int

const (
	TransitionCut Transition = iota
	TransitionFade
)

type GraphOptions struct {
	Width      int
	Height     int
	FPS        int
	Transition Transition
	// FadeDuration is capped at half of the shortest clip.
	FadeDuration float64
	// Narration, when set, is mixed over the joined scene audio.
	Narration *Narration
}

// Narration is a voice-over input laid from the start of the output.
type Narration struct {
	Input int
	// SceneVolume scales the scene audio underneath the voice.
	SceneVolume float64
}

type EncodeOptions struct {
	FPS     int
	Threads int
}

const (
	VideoOut = "[outv]"
	AudioOut = "[outa]"

	audioRate = 44100

	defaultSceneVolume = 0.3
)

// FloorMillis rounds a start time down to the millisecond so the frame that
// begins exactly at start is never skipped.
func FloorMillis(v float64) float64 {
	return math.Floor(v*1000+1e-6) / 1000
}

// RoundMillis rounds an end time to the nearest millisecond.
func RoundMillis(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func Timestamp(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// ClipBounds returns the millisecond-aligned cut points of the clip.
func ClipBounds(c Clip) (float64, float64) {
	return FloorMillis(c.Start), RoundMillis(c.End)
}

// EffectiveFade is the crossfade length used for the given clips.
func EffectiveFade(clips []Clip, requested float64) float64 {
	if requested <= 0 || len(clips) < 2 {
		return 0
	}
	fade := requested
	for _, c := range clips {
		start, end := ClipBounds(c)
		if half := (end - start) / 2; half < fade {
			fade = half
		}
	}
	return RoundMillis(fade)
}

// BuildFilterGraph builds the filter_complex that trims every clip from its
// input, normalizes size, rate and audio layout, and joins the clips with hard
// cuts or crossfades. A narration input is mixed over the joined audio for the
// length of the video. The result always ends in VideoOut and AudioOut.
func BuildFilterGraph(clips []Clip, opts GraphOptions) (string, error) {
	if len(clips) == 0 {
		return "", errors.New("no clips")
	}
	if opts.Width <= 0 || opts.Height <= 0 || opts.FPS <= 0 {
		return "", errors.New("invalid output geometry")
	}

	chains := make([]string, 0, len(clips)*2+2)
	durations := make([]float64, len(clips))
	for i, c := range clips {
		start, end := ClipBounds(c)
		if end <= start {
			return "", fmt.Errorf("clip %d: empty range", i)
		}
		durations[i] = end - start

		chains = append(chains, fmt.Sprintf(
			"[%d:v]trim=start=%s:end=%s,setpts=PTS-STARTPTS,scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1,fps=%d,format=yuv420p[v%d]",
			c.Input, Timestamp(start), Timestamp(end), opts.Width, opts.Height, opts.Width, opts.Height, opts.FPS, i))

		if c.HasAudio {
			chains = append(chains, fmt.Sprintf(
				"[%d:a]atrim=start=%s:end=%s,asetpts=PTS-STARTPTS,aformat=sample_rates=%d:channel_layouts=stereo[a%d]",
				c.Input, Timestamp(start), Timestamp(end), audioRate, i))
		} else {
			chains = append(chains, fmt.Sprintf(
				"anullsrc=channel_layout=stereo:sample_rate=%d,atrim=duration=%s[a%d]",
				audioRate, Timestamp(durations[i]), i))
		}
	}

	fade := 0.0
	if opts.Transition == TransitionFade {
		fade = EffectiveFade(clips, opts.FadeDuration)
	}

	joinedA := AudioOut
	if opts.Narration != nil {
		joinedA = "[scenes]"
	}

	if fade <= 0 || len(clips) == 1 {
		var in strings.Builder
		for i := range clips {
			fmt.Fprintf(&in, "[v%d][a%d]", i, i)
		}
		chains = append(chains, fmt.Sprintf("%sconcat=n=%d:v=1:a=1%s%s", in.String(), len(clips), VideoOut, joinedA))
	} else {
		prevV, prevA := "[v0]", "[a0]"
		elapsed := durations[0]
		for i := 1; i < len(clips); i++ {
			offset := elapsed - fade
			outV, outA := fmt.Sprintf("[x%d]", i), fmt.Sprintf("[y%d]", i)
			if i == len(clips)-1 {
				outV, outA = VideoOut, joinedA
			}
			chains = append(chains,
				fmt.Sprintf("%s[v%d]xfade=transition=fade:duration=%s:offset=%s%s", prevV, i, Timestamp(fade), Timestamp(offset), outV),
				fmt.Sprintf("%s[a%d]acrossfade=d=%s%s", prevA, i, Timestamp(fade), outA),
			)
			prevV, prevA = outV, outA
			elapsed = offset + durations[i]
		}
	}

	if n := opts.Narration; n != nil {
		volume := n.SceneVolume
		if volume <= 0 {
			volume = defaultSceneVolume
		}
		chains = append(chains,
			fmt.Sprintf("%svolume=%s[bed]", joinedA, strconv.FormatFloat(volume, 'f', 2, 64)),
			fmt.Sprintf("[%d:a]aformat=sample_rates=%d:channel_layouts=stereo,apad[voice]", n.Input, audioRate),
			fmt.Sprintf("[bed][voice]amix=inputs=2:duration=first:dropout_transition=0:normalize=0%s", AudioOut),
		)
	}
	return strings.Join(chains, ";"), nil
}

// EncodeArgs assembles the ffmpeg invocation for a filter graph built by
// BuildFilterGraph. Encoder settings are pinned so the same inputs produce the
// same output.
func EncodeArgs(inputs []string, graph, output string, opts EncodeOptions) []string {
	args := []string{"-y", "-hide_banner", "-loglevel", "error"}
	for _, in := range inputs {
		args = append(args, "-i", in)
	}
	threads := opts.Threads
	if threads <= 0 {
		threads = 1
	}
	args = append(args,
		"-filter_complex", graph,
		"-map", VideoOut,
		"-map", AudioOut,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "23",
		"-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(opts.FPS),
		"-c:a", "aac",
		"-b:a", "128k",
		"-ar", strconv.Itoa(audioRate),
		"-threads", strconv.Itoa(threads),
		"-fflags", "+bitexact",
		"-flags:v", "+bitexact",
		"-flags:a", "+bitexact",
		"-map_metadata", "-1",
		"-movflags", "+faststart",
		output,
	)
	return args
}
