// Package mock provides an in-process backend.Adapter.
//
// The adapter serves two purposes: it backs the gateway's mock mode (no real
// engines required) and it is the test double used by the registry, service
// and API tests. Generate produces a sine-wave WAV whose duration scales with
// the text length; every call is recorded.
//
// Example:
//
//	a := mock.New(backend.IDIndexTTS)
//	a.GenerateErr = &backend.CallError{Kind: backend.KindTimeout}
//	_, err := a.Generate(ctx, "hello", "alloy", backend.GenerateOptions{})
package mock

import (
	"context"
	"encoding/binary"
	"math"
	"slices"
	"sync"

	"github.com/MrWong99/ttsgateway/pkg/audio"
	"github.com/MrWong99/ttsgateway/pkg/backend"
)

var _ backend.Adapter = (*Adapter)(nil)

const (
	sampleRate = 24000
	toneHz     = 440.0
	amplitude  = 0.3

	minDuration    = 0.5
	maxDuration    = 10.0
	secondsPerChar = 0.1
)

// PresetVoices are the voices every new mock adapter starts with.
var PresetVoices = []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}

// GenerateCall records a single invocation of Generate.
type GenerateCall struct {
	Text  string
	Voice string
	Opts  backend.GenerateOptions
}

// Adapter is an in-process backend.Adapter.
type Adapter struct {
	id       string
	name     string
	features []string

	mu sync.Mutex

	// StatusResult is returned by Status.
	StatusResult backend.Status

	// GenerateErr, if non-nil, is returned by Generate instead of audio.
	GenerateErr error

	// GenerateAudio, if non-nil, is returned by Generate instead of the
	// synthesised tone.
	GenerateAudio []byte

	// UploadResult, if non-nil, is returned by Upload instead of the default
	// success result.
	UploadResult *backend.UploadResult

	voices []backend.Voice

	// GenerateCalls records every call to Generate in order.
	GenerateCalls []GenerateCall

	// UploadCalls records every call to Upload in order.
	UploadCalls []backend.UploadRequest
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithName overrides the display name.
func WithName(name string) Option {
	return func(a *Adapter) { a.name = name }
}

// WithFeatures overrides the reported capability tags.
func WithFeatures(features ...string) Option {
	return func(a *Adapter) { a.features = features }
}

// WithVoices replaces the preset voice list.
func WithVoices(voices ...backend.Voice) Option {
	return func(a *Adapter) { a.voices = voices }
}

// New creates a mock adapter registered under id. The adapter reports itself
// online with its model loaded and starts with the [PresetVoices].
func New(id string, opts ...Option) *Adapter {
	a := &Adapter{
		id:   id,
		name: "Mock TTS",
		StatusResult: backend.Status{
			Online:      true,
			ModelLoaded: true,
			ModelName:   "mock-tts-1.0",
			Device:      "cpu",
		},
	}
	for _, name := range PresetVoices {
		a.voices = append(a.voices, backend.Voice{
			ID:         name,
			Name:       name,
			Emotions:   []string{"default"},
			HasDefault: true,
		})
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Adapter) ID() string         { return a.id }
func (a *Adapter) Name() string       { return a.name }
func (a *Adapter) Features() []string { return a.features }
func (a *Adapter) BaseURL() string    { return "" }

// Status returns StatusResult.
func (a *Adapter) Status(_ context.Context) backend.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.StatusResult
}

// SetStatus replaces the status reported by Status.
func (a *Adapter) SetStatus(s backend.Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.StatusResult = s
}

// Generate records the call and returns GenerateErr, GenerateAudio or a
// sine-wave WAV, in that order of precedence.
func (a *Adapter) Generate(ctx context.Context, text, voice string, opts backend.GenerateOptions) ([]byte, error) {
	a.mu.Lock()
	a.GenerateCalls = append(a.GenerateCalls, GenerateCall{Text: text, Voice: voice, Opts: opts})
	err, canned := a.GenerateErr, a.GenerateAudio
	a.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if canned != nil {
		return slices.Clone(canned), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, backend.Classify(a.id, "generate", err)
	}
	return Tone(text), nil
}

// ListVoices returns a copy of the current voice list.
func (a *Adapter) ListVoices(_ context.Context) []backend.Voice {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.voices)
}

// Upload records the call and appends the voice to the catalogue unless
// UploadResult overrides the outcome.
func (a *Adapter) Upload(_ context.Context, req backend.UploadRequest) backend.UploadResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.UploadCalls = append(a.UploadCalls, req)
	if a.UploadResult != nil {
		return *a.UploadResult
	}

	emotion := req.Emotion
	if emotion == "" {
		emotion = "default"
	}
	a.voices = append(a.voices, backend.Voice{
		ID:         req.VoiceID,
		Name:       req.VoiceID,
		Emotions:   []string{emotion},
		RefText:    req.RefText,
		HasDefault: true,
	})
	return backend.UploadResult{
		Success: true,
		Message: "voice uploaded",
		VoiceID: req.VoiceID,
		Emotion: emotion,
	}
}

// Calls returns a copy of the recorded Generate calls.
func (a *Adapter) Calls() []GenerateCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.GenerateCalls)
}

// Tone renders a 440 Hz mono 16-bit WAV whose length is 0.1 s per character
// of text, clamped to [0.5 s, 10 s].
func Tone(text string) []byte {
	seconds := math.Min(math.Max(float64(len([]rune(text)))*secondsPerChar, minDuration), maxDuration)
	n := int(seconds * sampleRate)

	pcm := make([]byte, n*2)
	for i := range n {
		v := amplitude * math.Sin(2*math.Pi*toneHz*float64(i)/sampleRate)
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v*math.MaxInt16)))
	}
	return audio.EncodeWAV(pcm, sampleRate, 1)
}
