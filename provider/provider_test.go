package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"footage-flow/constant"
	"footage-flow/entities"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLexiconEmotionAnalyzer_NoSegmentsIsNeutral(t *testing.T) {
	got, err := NewLexiconEmotionAnalyzer().Analyze(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, []entities.Emotion{{Label: "neutral", Intensity: 0.1, TimeOffset: 0}}, got)
}

func TestLexiconEmotionAnalyzer_DominantLabelPerSecond(t *testing.T) {
	segments := []entities.Segment{
		{Word: "What", StartTime: 0.0, EndTime: 0.2},
		{Word: "a", StartTime: 0.2, EndTime: 0.3},
		{Word: "wonderful", StartTime: 0.3, EndTime: 0.8},
		{Word: "day.", StartTime: 0.8, EndTime: 1.0},
		{Word: "I", StartTime: 2.1, EndTime: 2.2},
		{Word: "feel", StartTime: 2.2, EndTime: 2.4},
		{Word: "lonely", StartTime: 2.4, EndTime: 2.9},
	}
	got, err := NewLexiconEmotionAnalyzer().Analyze(context.Background(), "", segments)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "happy", got[0].Label)
	assert.Equal(t, 0.0, got[0].TimeOffset)
	// 1.0 happy out of 1.0 + 3*0.1 total
	assert.InDelta(t, 1.0/1.3, got[0].Intensity, 1e-9)

	assert.Equal(t, "sad", got[1].Label)
	assert.Equal(t, 2.0, got[1].TimeOffset)
}

func TestLexiconEmotionAnalyzer_OverlappingKeywordCountsForFirstBucket(t *testing.T) {
	got, err := NewLexiconEmotionAnalyzer().Analyze(context.Background(), "", []entities.Segment{{Word: "excited", StartTime: 0.5}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "happy", got[0].Label)
	assert.Equal(t, 1.0, got[0].Intensity)
}

func TestParseWhisperJSON(t *testing.T) {
	data := []byte(`{
		"text": " hello world. And more",
		"segments": [
			{"start": 0.0, "end": 1.2, "text": " hello world.", "words": [
				{"word": " hello", "start": 0.0, "end": 0.5},
				{"word": " world.", "start": 0.6, "end": 1.2}
			]},
			{"start": 1.5, "end": 3.0, "text": " And more", "words": []}
		]
	}`)
	got, err := ParseWhisperJSON(data)
	require.NoError(t, err)
	assert.Equal(t, "hello world. And more", got.Text)
	assert.Equal(t, []entities.Segment{
		{Word: "hello", StartTime: 0, EndTime: 0.5},
		{Word: "world.", StartTime: 0.6, EndTime: 1.2},
		{Word: "And more", StartTime: 1.5, EndTime: 3.0},
	}, got.Segments)

	_, err = ParseWhisperJSON([]byte("{"))
	require.Error(t, err)
}

func TestWhisperTranscriber_SilentSourceSkipsRecognition(t *testing.T) {
	w := NewWhisperTranscriber("/nonexistent/whisper", "", "")
	got, err := w.Transcribe(context.Background(), Media{VideoID: "v", HasAudio: false})
	require.NoError(t, err)
	assert.Empty(t, got.Text)
	assert.Empty(t, got.Segments)
}

func TestIsTemporary(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"wrapped", Temporary(errors.New("x")), true},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"canceled", context.Canceled, false},
		{"rate limited", errors.New("POST: status: 429 Too Many Requests"), true},
		{"refused", errors.New("dial tcp: connection refused"), true},
		{"bad request", errors.New("status: 400 bad request"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTemporary(tc.err))
		})
	}
}

func TestExtractJSON(t *testing.T) {
	got, err := ExtractJSON("Sure! ```json\n{\"a\": {\"b\": 1}}\n``` done")
	require.NoError(t, err)
	assert.Equal(t, `{"a": {"b": 1}}`, got)

	_, err = ExtractJSON("no json here")
	require.Error(t, err)
}

func TestDurationTagger(t *testing.T) {
	tags, err := DurationTagger{}.Tag(context.Background(), Media{Duration: 30, Size: 1024, HasAudio: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"video-content", "media-file", "medium-length", "standard-video", "standard-quality"}, tags)

	tags, err = DurationTagger{}.Tag(context.Background(), Media{Duration: 5, Size: highQualityBytes + 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"video-content", "media-file", "short-clip", "quick-video", "high-quality", "silent"}, tags)
}

func TestTemplateNarrativeGenerator_StaysInsideSource(t *testing.T) {
	g := NewTemplateNarrativeGenerator()
	n, err := g.Generate(context.Background(), NarrativeRequest{
		Mode:   constant.StoryModeNeutral,
		Length: constant.TargetLengthShort,
		Sources: []NarrativeSource{{
			VideoID:    "v1",
			Duration:   60,
			Transcript: strings.Repeat("word ", 120),
			Tags:       []string{"beach", "family"},
		}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, n.Scenes)
	assert.LessOrEqual(t, len(n.Scenes), 10)
	for _, s := range n.Scenes {
		assert.Less(t, s.Start, s.End)
		assert.LessOrEqual(t, s.End, 60.0)
		assert.Equal(t, "v1", s.SourceVideoID)
		assert.Contains(t, s.Narration, "Key themes: beach, family.")
	}
	assert.Equal(t, entities.JoinNarration(n.Scenes), n.FullNarration)
}

func TestTemplateNarrativeGenerator_UsesSpokenHighlights(t *testing.T) {
	n, err := NewTemplateNarrativeGenerator().Generate(context.Background(), NarrativeRequest{
		Mode: constant.StoryModePositive,
		Sources: []NarrativeSource{{
			VideoID:  "v1",
			Duration: 60,
			Tags:     []string{"beach"},
			Highlights: []Highlight{
				{Start: 12.5, End: 17.25, Text: "we reach the shore"},
				{Start: 30, End: 35},
				{Start: 58, End: 64, Text: "the sun sets"},
			},
		}},
	})
	require.NoError(t, err)
	require.Len(t, n.Scenes, 2)
	assert.Equal(t, entities.Scene{
		Title:         "Scene 1",
		Start:         12.5,
		End:           17.25,
		Narration:     "we reach the shore Key themes: beach.",
		SourceVideoID: "v1",
	}, n.Scenes[0])
	assert.Equal(t, 58.0, n.Scenes[1].Start)
	assert.Equal(t, 60.0, n.Scenes[1].End)
}

func TestTemplateNarrativeGenerator_NoDuration(t *testing.T) {
	_, err := NewTemplateNarrativeGenerator().Generate(context.Background(), NarrativeRequest{
		Sources: []NarrativeSource{{VideoID: "v1"}},
	})
	require.Error(t, err)
}

func chatServer(t *testing.T, status int, content string, seen *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		body, _ := io.ReadAll(r.Body)
		if seen != nil {
			*seen = string(body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"upstream","type":"server_error"}}`))
			return
		}
		resp := map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAINarrativeGenerator_ParsesReply(t *testing.T) {
	var body string
	srv := chatServer(t, http.StatusOK, "Here you go:\n"+`{"summary":"A day at the beach","fullNarration":"ignored","scenes":[{"start":0,"end":4,"title":"Arrival","narration":"We arrive."}]}`, &body)

	g := NewOpenAINarrativeGenerator(NewChatClient("key", srv.URL+"/", "test-model"))
	n, err := g.Generate(context.Background(), NarrativeRequest{
		Prompt: "make it warm",
		Mode:   constant.StoryModePositive,
		Length: constant.TargetLengthLong,
		Sources: []NarrativeSource{{
			VideoID: "v1", Duration: 10, Transcript: "hello there", Tags: []string{"beach"},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "A day at the beach", n.Summary)
	require.Len(t, n.Scenes, 1)
	assert.Equal(t, entities.Scene{Title: "Arrival", Start: 0, End: 4, Narration: "We arrive."}, n.Scenes[0])

	assert.Contains(t, body, "inspirational, uplifting, cinematic")
	assert.Contains(t, body, "450-650 words")
	assert.Contains(t, body, "PROMPT: make it warm")
}

func TestOpenAINarrativeGenerator_ServerErrorIsTemporary(t *testing.T) {
	srv := chatServer(t, http.StatusServiceUnavailable, "", nil)

	g := NewOpenAINarrativeGenerator(NewChatClient("key", srv.URL+"/", "test-model"))
	_, err := g.Generate(context.Background(), NarrativeRequest{Sources: []NarrativeSource{{VideoID: "v1", Duration: 5}}})
	require.Error(t, err)
	assert.True(t, IsTemporary(err))
}

func TestOpenAIEmotionAnalyzer(t *testing.T) {
	var body string
	srv := chatServer(t, http.StatusOK, `{"emotions":[{"label":"calm","intensity":0.4,"timeOffset":1.5}]}`, &body)

	a := NewOpenAIEmotionAnalyzer(NewChatClient("key", srv.URL+"/", "test-model"))
	got, err := a.Analyze(context.Background(), "so peaceful", []entities.Segment{
		{Word: "so", StartTime: 1.5, EndTime: 1.7},
		{Word: "peaceful", StartTime: 1.7, EndTime: 2.3},
	})
	require.NoError(t, err)
	assert.Equal(t, []entities.Emotion{{Label: "calm", Intensity: 0.4, TimeOffset: 1.5}}, got)
	assert.Contains(t, body, "[1.5] so peaceful")
}

func TestNarrativeUserContent_Collective(t *testing.T) {
	content := NarrativeUserContent(NarrativeRequest{
		Prompt: "summer",
		Sources: []NarrativeSource{
			{VideoID: "a", Duration: 100, Tags: []string{"beach"}, Highlights: []Highlight{{Start: 1, End: 4, Text: "we swim"}}},
			{VideoID: "b", Duration: 100},
		},
	})
	assert.Contains(t, content, "TOTAL_DURATION_SECONDS: 200")
	assert.Contains(t, content, "VIDEO a (duration 100.0s, tags: beach)")
	assert.Contains(t, content, "- [1.00-4.00] we swim")
	assert.Contains(t, content, "VIDEO b")
}

func TestNarrativeUserContent_SingleSourceListsHighlights(t *testing.T) {
	content := NarrativeUserContent(NarrativeRequest{
		Prompt: "the swim",
		Sources: []NarrativeSource{{
			VideoID:    "v1",
			Duration:   60,
			Transcript: "we finally swim out past the waves",
			Highlights: []Highlight{{Start: 12.5, End: 17.25, Text: "swim out past the waves"}},
		}},
	})
	assert.Contains(t, content, "DURATION_SECONDS: 60.0")
	assert.Contains(t, content, "HIGHLIGHTS (seconds):\n- [12.50-17.25] swim out past the waves\n")
	assert.Contains(t, content, "TRANSCRIPT_EXCERPT:\nwe finally swim out past the waves")
}

func TestTruncateKeepsRunes(t *testing.T) {
	assert.Equal(t, "h", truncate("hé", 2))
	assert.Equal(t, "hé", truncate("hé", 3))
}

func speechServer(t *testing.T, status int, audio string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/audio/speech"))
		if seen != nil {
			_ = json.NewDecoder(r.Body).Decode(seen)
		}
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream","type":"server_error"}}`))
			return
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte(audio))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAISpeechSynthesizer_WritesAudio(t *testing.T) {
	var body map[string]any
	srv := speechServer(t, http.StatusOK, "ID3-mp3-bytes", &body)
	dst := filepath.Join(t.TempDir(), "out", "narration.mp3")

	s := NewOpenAISpeechSynthesizer("key", srv.URL+"/", "tts-1", "alloy")
	require.NoError(t, s.Synthesize(context.Background(), "  A day at the beach. ", dst))

	raw, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "ID3-mp3-bytes", string(raw))
	assert.Equal(t, "tts-1", body["model"])
	assert.Equal(t, "alloy", body["voice"])
	assert.Equal(t, "mp3", body["response_format"])
	assert.Equal(t, "A day at the beach.", body["input"])
}

func TestOpenAISpeechSynthesizer_Failures(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "narration.mp3")

	srv := speechServer(t, http.StatusServiceUnavailable, "", nil)
	err := NewOpenAISpeechSynthesizer("key", srv.URL+"/", "tts-1", "alloy").Synthesize(context.Background(), "hello", dst)
	require.Error(t, err)
	assert.True(t, IsTemporary(err))

	empty := speechServer(t, http.StatusOK, "", nil)
	err = NewOpenAISpeechSynthesizer("key", empty.URL+"/", "tts-1", "alloy").Synthesize(context.Background(), "hello", dst)
	assert.ErrorContains(t, err, "no audio")

	err = NewOpenAISpeechSynthesizer("key", srv.URL+"/", "tts-1", "alloy").Synthesize(context.Background(), " ", dst)
	assert.Error(t, err)
}

func TestCommandSynthesizer_Args(t *testing.T) {
	edge := NewCommandSynthesizer("/usr/local/bin/edge-tts", "en-US-GuyNeural")
	assert.Equal(t,
		[]string{"--voice", "en-US-GuyNeural", "--text", "hi", "--write-media", "/tmp/n.mp3"},
		edge.Args("hi", "/tmp/n.mp3"))

	other := NewCommandSynthesizer("say-it", "ignored")
	assert.Equal(t, []string{"--text", "hi", "--output", "/tmp/n.mp3"}, other.Args("hi", "/tmp/n.mp3"))
}

func TestCommandSynthesizer_MissingBinary(t *testing.T) {
	s := NewCommandSynthesizer(filepath.Join(t.TempDir(), "no-such-tts"), "")
	err := s.Synthesize(context.Background(), "hello", filepath.Join(t.TempDir(), "n.mp3"))
	assert.Error(t, err)
}
