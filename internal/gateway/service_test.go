package gateway

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/ttsgateway/internal/observe"
	"github.com/MrWong99/ttsgateway/internal/registry"
	"github.com/MrWong99/ttsgateway/internal/voicemeta"
	"github.com/MrWong99/ttsgateway/pkg/audio"
	"github.com/MrWong99/ttsgateway/pkg/backend"
	"github.com/MrWong99/ttsgateway/pkg/backend/mock"
)

type fixture struct {
	svc   *Service
	qwen  *mock.Adapter
	index *mock.Adapter
	meta  *voicemeta.Manager
}

func newManager(t *testing.T) *voicemeta.Manager {
	t.Helper()
	store, err := voicemeta.NewFileStore(filepath.Join(t.TempDir(), "voice_metadata.json"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return voicemeta.NewManager(store)
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	f := fixture{
		qwen:  mock.New(backend.IDQwen3TTS, mock.WithName("Qwen3-TTS")),
		index: mock.New(backend.IDIndexTTS, mock.WithName("IndexTTS 2.0"), mock.WithVoices(backend.Voice{ID: "narrator", Name: "Narrator"})),
		meta:  newManager(t),
	}
	opts = append([]Option{WithMetrics(testMetrics(t))}, opts...)
	f.svc = New(registry.New(f.qwen, f.index), f.meta, opts...)
	return f
}

func wav() []byte {
	return audio.EncodeWAV(make([]byte, 320), 16000, 1)
}

func wantKind(t *testing.T, err error, want Kind) *Error {
	t.Helper()
	if err == nil {
		t.Fatalf("err = nil, want %s", want)
	}
	var ge *Error
	if !errors.As(err, &ge) {
		t.Fatalf("err = %v (%T), want *gateway.Error", err, err)
	}
	if ge.Kind != want {
		t.Fatalf("kind = %s (%v), want %s", ge.Kind, err, want)
	}
	return ge
}

func TestSpeech_DefaultRequestUsesIndexTTS(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Speech(context.Background(), SpeechRequest{Input: "hello there"})
	if err != nil {
		t.Fatalf("Speech: %v", err)
	}
	if res.Backend != backend.IDIndexTTS {
		t.Errorf("Backend = %q, want %q", res.Backend, backend.IDIndexTTS)
	}
	if res.ContentType != "audio/wav" || res.Format != "wav" {
		t.Errorf("ContentType/Format = %q/%q", res.ContentType, res.Format)
	}
	if _, err := audio.ParseWAV(res.Audio); err != nil {
		t.Errorf("audio is not WAV: %v", err)
	}

	calls := f.index.Calls()
	if len(calls) != 1 {
		t.Fatalf("index calls = %d, want 1", len(calls))
	}
	opts := calls[0].Opts
	if calls[0].Voice != "default" || opts.Emotion != "default" || opts.EmotionMode != backend.EmotionModePreset {
		t.Errorf("defaults not applied: voice=%q opts=%+v", calls[0].Voice, opts)
	}
	if opts.Language != "" || opts.RefAudioID != "" {
		t.Errorf("qwen-only fields leaked to indextts: %+v", opts)
	}
	if opts.Speed != 1.0 || opts.ResponseFormat != "wav" {
		t.Errorf("speed/format = %v/%q", opts.Speed, opts.ResponseFormat)
	}
	if len(f.qwen.Calls()) != 0 {
		t.Error("qwen was called")
	}
}

func TestSpeech_ProjectsQwenOptions(t *testing.T) {
	f := newFixture(t)
	temp := 0.7

	res, err := f.svc.Speech(context.Background(), SpeechRequest{
		Model:       "Qwen3-TTS",
		Input:       "你好",
		Voice:       "ref-42",
		Language:    "English",
		Temperature: &temp,
	})
	if err != nil {
		t.Fatalf("Speech: %v", err)
	}
	if res.Backend != backend.IDQwen3TTS {
		t.Fatalf("Backend = %q", res.Backend)
	}
	opts := f.qwen.Calls()[0].Opts
	if opts.RefAudioID != "ref-42" || opts.Language != "English" {
		t.Errorf("RefAudioID/Language = %q/%q, want ref-42/English", opts.RefAudioID, opts.Language)
	}
	if opts.Temperature != nil || opts.Emotion != "" || opts.EmotionMode != "" {
		t.Errorf("indextts-only fields leaked to qwen: %+v", opts)
	}
}

func TestSpeech_AutoSelection(t *testing.T) {
	vec := []float64{0, 0.5, 1, 1.4, 0, 0, 0, 0}
	tests := []struct {
		name string
		req  SpeechRequest
		want string
	}{
		{"ref audio", SpeechRequest{Input: "x", RefAudioID: "r1"}, backend.IDQwen3TTS},
		{"vector emotion", SpeechRequest{Input: "x", EmotionMode: "vector", EmoVector: vec}, backend.IDIndexTTS},
		{"japanese", SpeechRequest{Input: "x", Language: "Japanese"}, backend.IDQwen3TTS},
		{"english", SpeechRequest{Input: "x", Language: "English"}, backend.IDIndexTTS},
		{"alias", SpeechRequest{Input: "x", Model: "indextts", Language: "Japanese"}, backend.IDIndexTTS},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			res, err := f.svc.Speech(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("Speech: %v", err)
			}
			if res.Backend != tt.want {
				t.Errorf("Backend = %q, want %q", res.Backend, tt.want)
			}
		})
	}
}

func TestSpeech_Validation(t *testing.T) {
	bad := func(v float64) *float64 { return &v }
	topK := 0
	tests := []struct {
		name string
		req  SpeechRequest
	}{
		{"empty input", SpeechRequest{}},
		{"input too long", SpeechRequest{Input: strings.Repeat("字", MaxInputLength+1)}},
		{"format", SpeechRequest{Input: "x", ResponseFormat: "flac"}},
		{"speed", SpeechRequest{Input: "x", Speed: bad(2.5)}},
		{"temperature", SpeechRequest{Input: "x", Temperature: bad(0.05)}},
		{"top_p", SpeechRequest{Input: "x", TopP: bad(1.1)}},
		{"top_k", SpeechRequest{Input: "x", TopK: &topK}},
		{"repetition_penalty", SpeechRequest{Input: "x", RepetitionPenalty: bad(3)}},
		{"emo_alpha", SpeechRequest{Input: "x", EmoAlpha: bad(1.7)}},
		{"emotion mode", SpeechRequest{Input: "x", EmotionMode: "angry"}},
		{"vector mode without vector", SpeechRequest{Input: "x", EmotionMode: "vector"}},
		{"vector too short", SpeechRequest{Input: "x", EmoVector: make([]float64, 7)}},
		{"vector too long", SpeechRequest{Input: "x", EmoVector: make([]float64, 9)}},
		{"vector value too high", SpeechRequest{Input: "x", EmoVector: []float64{0, 0, 0, 0, 0, 0, 0, 1.41}}},
		{"vector value negative", SpeechRequest{Input: "x", EmoVector: []float64{-0.1, 0, 0, 0, 0, 0, 0, 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Speech(context.Background(), tt.req)
			wantKind(t, err, KindValidation)
			if n := len(f.index.Calls()) + len(f.qwen.Calls()); n != 0 {
				t.Errorf("backend called %d times before validation failed", n)
			}
		})
	}
}

func TestSpeech_MaxInputAccepted(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Speech(context.Background(), SpeechRequest{Input: strings.Repeat("字", MaxInputLength)}); err != nil {
		t.Errorf("Speech at the length limit: %v", err)
	}
}

func TestSpeech_UnknownModel(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Speech(context.Background(), SpeechRequest{Model: "qwen3-tt", Input: "x"})
	ge := wantKind(t, err, KindNotFound)
	if !strings.Contains(ge.Message, `did you mean "qwen3-tts"`) {
		t.Errorf("message = %q, want a suggestion", ge.Message)
	}
	if !errors.Is(err, registry.ErrUnknownModel) {
		t.Error("cause not attached")
	}
}

func TestSpeech_NoBackend(t *testing.T) {
	svc := New(registry.New(), newManager(t), WithMetrics(testMetrics(t)))
	_, err := svc.Speech(context.Background(), SpeechRequest{Input: "x"})
	wantKind(t, err, KindBackendUnavailable)
}

func TestSpeech_BackendFailure(t *testing.T) {
	f := newFixture(t)
	f.index.GenerateErr = backend.StatusError(backend.IDIndexTTS, "generate", 500, "CUDA out of memory")

	_, err := f.svc.Speech(context.Background(), SpeechRequest{Input: "x"})
	ge := wantKind(t, err, KindBackendUnavailable)
	if ge.Backend != backend.IDIndexTTS || !strings.Contains(ge.Message, backend.IDIndexTTS) {
		t.Errorf("error does not name the backend: %+v", ge)
	}
	var ce *backend.CallError
	if !errors.As(err, &ce) || ce.StatusCode != 500 {
		t.Errorf("cause = %v, want the backend CallError", ge.Err)
	}
	if strings.Contains(ge.Message, "CUDA") {
		t.Errorf("message leaks backend detail: %q", ge.Message)
	}
}

func TestSpeech_PrivateVoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.meta.Save(ctx, voicemeta.SaveParams{VoiceID: "v1", Backend: backend.IDIndexTTS, Visibility: voicemeta.Private, PrivateKey: "abcd"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	for _, key := range []string{"", "zzzz"} {
		_, err := f.svc.Speech(ctx, SpeechRequest{Input: "x", Voice: "v1", PrivateKey: key})
		wantKind(t, err, KindNotFound)
	}
	if len(f.index.Calls()) != 0 {
		t.Fatal("backend called for a denied voice")
	}

	if _, err := f.svc.Speech(ctx, SpeechRequest{Input: "x", Voice: "v1", PrivateKey: "abcd"}); err != nil {
		t.Errorf("Speech with the right key: %v", err)
	}
}

func TestSpeech_PrivateRefAudio(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.meta.Save(ctx, voicemeta.SaveParams{VoiceID: "secret", Backend: backend.IDQwen3TTS, Visibility: voicemeta.Private, PrivateKey: "abcd"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	req := SpeechRequest{Model: "Qwen3-TTS", Input: "x", Voice: "default", RefAudioID: "secret"}
	for _, key := range []string{"", "zzzz"} {
		req.PrivateKey = key
		_, err := f.svc.Speech(ctx, req)
		wantKind(t, err, KindNotFound)
	}
	if len(f.qwen.Calls()) != 0 {
		t.Fatal("backend called with a private reference voice")
	}

	req.PrivateKey = "abcd"
	if _, err := f.svc.Speech(ctx, req); err != nil {
		t.Fatalf("Speech with the right key: %v", err)
	}
	if got := f.qwen.Calls()[0].Opts.RefAudioID; got != "secret" {
		t.Errorf("RefAudioID = %q, want secret", got)
	}
}

func TestContentType(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Speech(context.Background(), SpeechRequest{Input: "x", ResponseFormat: "mp3"})
	if err != nil {
		t.Fatalf("Speech: %v", err)
	}
	if res.ContentType != "audio/mpeg" {
		t.Errorf("ContentType = %q, want audio/mpeg", res.ContentType)
	}
}

func TestKindHTTPStatus(t *testing.T) {
	tests := map[Kind]int{
		KindValidation:         400,
		KindNotFound:           404,
		KindRateLimited:        429,
		KindBackendUnavailable: 503,
		KindInternal:           500,
	}
	for k, want := range tests {
		if got := k.HTTPStatus(); got != want {
			t.Errorf("%s.HTTPStatus() = %d, want %d", k, got, want)
		}
	}
	if got := AsError(errors.New("boom")); got.Kind != KindInternal || strings.Contains(got.Message, "boom") {
		t.Errorf("AsError(plain) = %+v", got)
	}
}
