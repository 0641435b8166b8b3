// Package backend defines the Adapter interface implemented by every TTS
// engine the gateway can route to.
//
// An adapter normalises four operations onto one engine's native protocol:
// a status probe, speech generation, voice listing and voice upload. Status
// probes and voice listing never fail: an unreachable engine is an expected
// outcome and is reported through the returned value. Generation returns raw
// audio bytes or a [*CallError].
//
// Implementations must be safe for concurrent use.
package backend

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Well-known backend identifiers.
const (
	IDQwen3TTS = "qwen3-tts"
	IDIndexTTS = "indextts-2.0"
	IDMock     = "mock"

	// AliasIndexTTS is accepted wherever an IndexTTS id is expected.
	AliasIndexTTS = "indextts"
)

// Capability tags reported by [Adapter.Features].
const (
	FeatureVoiceCloning   = "voice_cloning"
	FeatureMultiLanguage  = "multi_language"
	FeatureReferenceAudio = "reference_audio"
	FeatureEmotionControl = "emotion_control"
	FeatureEmotionVector  = "emotion_vector"
	FeatureEmotionAudio   = "emotion_audio"
	FeatureTemperature    = "temperature"
	FeatureTopP           = "top_p"
	FeatureTopK           = "top_k"
	FeatureAutoLanguage   = "auto_language"
)

// Emotion control modes understood by emotion-capable backends.
const (
	EmotionModePreset = "preset"
	EmotionModeAudio  = "audio"
	EmotionModeVector = "vector"
	EmotionModeText   = "text"
)

// EmotionVectorSize is the number of components in an emotion vector.
const EmotionVectorSize = 8

// DefaultStatusTimeout bounds a single status probe. It is independent of the
// adapter's synthesis timeout.
const DefaultStatusTimeout = 10 * time.Second

// Adapter is the abstraction over a single TTS engine.
type Adapter interface {
	// ID returns the unique, immutable backend identifier (e.g. "qwen3-tts").
	ID() string

	// Name returns the human-readable backend name.
	Name() string

	// Features returns the capability tags of the backend. The returned slice
	// must not be modified by the caller.
	Features() []string

	// BaseURL returns the engine endpoint, or "" for in-process backends.
	BaseURL() string

	// Status probes the engine. Connectivity and protocol failures are folded
	// into the returned Status with Online=false; Status never fails.
	Status(ctx context.Context) Status

	// Generate synthesises text with the given voice and returns the raw
	// audio bytes. Each adapter reads only the option fields it understands.
	// Multi-call protocols are completed inside Generate; the caller only
	// ever sees the final audio. Failures are returned as *CallError.
	Generate(ctx context.Context, text, voice string, opts GenerateOptions) ([]byte, error)

	// ListVoices returns the engine's voice catalogue in engine order. On
	// failure it returns an empty slice.
	ListVoices(ctx context.Context) []Voice

	// Upload registers a reference voice with the engine. Missing
	// engine-specific mandatory fields produce Success=false with an
	// explanatory message.
	Upload(ctx context.Context, req UploadRequest) UploadResult
}

// Status is the result of a status probe. It is recomputed on every call.
type Status struct {
	Online      bool
	ModelLoaded bool
	ModelName   string
	Device      string
	Error       string
}

// Ready reports whether the backend is online with its model loaded.
func (s Status) Ready() bool { return s.Online && s.ModelLoaded }

// Offline builds a Status describing an unreachable backend.
func Offline(reason string) Status {
	return Status{Error: reason}
}

// Voice is a voice entry as reported by a backend.
type Voice struct {
	ID         string
	Name       string
	Emotions   []string
	RefText    string
	HasDefault bool
}

// GenerateOptions carries every optional synthesis parameter the gateway
// accepts. Zero values mean "not set" for the pointer fields.
type GenerateOptions struct {
	Speed          float64
	ResponseFormat string

	// Reference-audio backends.
	Language   string
	RefAudioID string

	// Emotion-capable backends.
	Emotion           string
	Temperature       *float64
	TopP              *float64
	TopK              *int
	RepetitionPenalty *float64
	EmotionMode       string
	EmoAudioPath      string
	EmoAlpha          *float64
	EmoVector         []float64
	UseEmoText        *bool
	EmoText           string
}

// UploadRequest is a voice reference upload.
type UploadRequest struct {
	File     []byte
	Filename string
	VoiceID  string
	Emotion  string
	RefText  string
}

// UploadResult reports the outcome of an upload.
type UploadResult struct {
	Success bool
	Message string
	VoiceID string
	Emotion string

	// Err is the call failure behind an unsuccessful result, if the engine
	// was contacted. It is logged, never shown to clients.
	Err error
}

// NewHTTPClient returns an HTTP client with the given timeout whose transport
// records an OpenTelemetry client span for every outbound call.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}
