package gateway

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/ttsgateway/internal/observe"
	"github.com/MrWong99/ttsgateway/internal/registry"
	"github.com/MrWong99/ttsgateway/pkg/backend"
)

// Request limits.
const (
	MaxInputLength = 5000
	maxEmoValue    = 1.4
)

// SpeechRequest is a backend-agnostic synthesis request. Pointer fields are
// optional; nil means "use the default".
type SpeechRequest struct {
	Model          string   `json:"model"`
	Input          string   `json:"input"`
	Voice          string   `json:"voice"`
	ResponseFormat string   `json:"response_format"`
	Speed          *float64 `json:"speed,omitempty"`

	// Reference-audio backends.
	Language   string `json:"language"`
	RefAudioID string `json:"ref_audio_id"`

	// Emotion-capable backends.
	Emotion           string    `json:"emotion"`
	Temperature       *float64  `json:"temperature,omitempty"`
	TopP              *float64  `json:"top_p,omitempty"`
	TopK              *int      `json:"top_k,omitempty"`
	RepetitionPenalty *float64  `json:"repetition_penalty,omitempty"`
	EmotionMode       string    `json:"emotion_mode"`
	EmoAudioPath      string    `json:"emo_audio_path"`
	EmoAlpha          *float64  `json:"emo_alpha,omitempty"`
	EmoVector         []float64 `json:"emo_vector,omitempty"`
	UseEmoText        *bool     `json:"use_emo_text,omitempty"`
	EmoText           string    `json:"emo_text"`

	// PrivateKey unlocks private voices. It is taken from a request header,
	// never from the body.
	PrivateKey string `json:"-"`
}

// SpeechResult is the outcome of a successful synthesis.
type SpeechResult struct {
	Audio       []byte
	ContentType string
	Format      string
	Backend     string
}

// withDefaults fills every unset field with its default value.
func (r SpeechRequest) withDefaults() SpeechRequest {
	if r.Model == "" {
		r.Model = registry.ModelAuto
	}
	if r.Voice == "" {
		r.Voice = "default"
	}
	if r.ResponseFormat == "" {
		r.ResponseFormat = "wav"
	}
	if r.Speed == nil {
		r.Speed = ptr(1.0)
	}
	if r.Language == "" {
		r.Language = "Chinese"
	}
	if r.Emotion == "" {
		r.Emotion = "default"
	}
	if r.EmotionMode == "" {
		r.EmotionMode = backend.EmotionModePreset
	}
	return r
}

// validate checks every field of a defaulted request and reports the first
// violation.
func (r SpeechRequest) validate() error {
	if r.Input == "" {
		return validationf("input must not be empty")
	}
	if n := utf8.RuneCountInString(r.Input); n > MaxInputLength {
		return validationf("input is %d characters long, maximum is %d", n, MaxInputLength)
	}
	switch r.ResponseFormat {
	case "wav", "mp3":
	default:
		return validationf("response_format must be wav or mp3, got %q", r.ResponseFormat)
	}
	if err := checkRange("speed", r.Speed, 0.5, 2.0); err != nil {
		return err
	}
	if err := checkRange("temperature", r.Temperature, 0.1, 2.0); err != nil {
		return err
	}
	if err := checkRange("top_p", r.TopP, 0, 1); err != nil {
		return err
	}
	if r.TopK != nil && (*r.TopK < 1 || *r.TopK > 100) {
		return validationf("top_k must be between 1 and 100, got %d", *r.TopK)
	}
	if err := checkRange("repetition_penalty", r.RepetitionPenalty, 0.1, 2.0); err != nil {
		return err
	}
	if err := checkRange("emo_alpha", r.EmoAlpha, 0, 1.6); err != nil {
		return err
	}

	switch r.EmotionMode {
	case backend.EmotionModePreset, backend.EmotionModeAudio, backend.EmotionModeText:
	case backend.EmotionModeVector:
		if r.EmoVector == nil {
			return validationf("emotion_mode vector requires emo_vector")
		}
	default:
		return validationf("emotion_mode must be one of preset, audio, vector, text; got %q", r.EmotionMode)
	}

	if r.EmoVector != nil {
		if len(r.EmoVector) != backend.EmotionVectorSize {
			return validationf("emo_vector must have exactly %d values, got %d", backend.EmotionVectorSize, len(r.EmoVector))
		}
		for i, v := range r.EmoVector {
			if v < 0 || v > maxEmoValue {
				return validationf("emo_vector[%d] must be within [0, %g], got %g", i, maxEmoValue, v)
			}
		}
	}
	return nil
}

func checkRange(field string, v *float64, lo, hi float64) error {
	if v == nil {
		return nil
	}
	if *v < lo || *v > hi {
		return validationf("%s must be between %g and %g, got %g", field, lo, hi, *v)
	}
	return nil
}

func (r SpeechRequest) selection() registry.Selection {
	return registry.Selection{
		RefAudioID:  r.RefAudioID,
		EmotionMode: r.EmotionMode,
		Language:    r.Language,
	}
}

// project maps the request onto the option subset backendID understands.
// Backends other than the two known engines receive the union.
func (r SpeechRequest) project(backendID string) backend.GenerateOptions {
	opts := backend.GenerateOptions{
		Speed:          *r.Speed,
		ResponseFormat: r.ResponseFormat,
	}
	qwen := backendID == backend.IDQwen3TTS
	index := backendID == backend.IDIndexTTS
	if !index {
		opts.Language = r.Language
		opts.RefAudioID = r.RefAudioID
		if qwen && opts.RefAudioID == "" {
			opts.RefAudioID = r.Voice
		}
	}
	if !qwen {
		opts.Emotion = r.Emotion
		opts.Temperature = r.Temperature
		opts.TopP = r.TopP
		opts.TopK = r.TopK
		opts.RepetitionPenalty = r.RepetitionPenalty
		opts.EmotionMode = r.EmotionMode
		opts.EmoAudioPath = r.EmoAudioPath
		opts.EmoAlpha = r.EmoAlpha
		opts.EmoVector = r.EmoVector
		opts.UseEmoText = r.UseEmoText
		opts.EmoText = r.EmoText
	}
	return opts
}

// Speech validates req, resolves a backend and synthesises the audio with a
// single adapter call.
func (s *Service) Speech(ctx context.Context, req SpeechRequest) (SpeechResult, error) {
	req = req.withDefaults()
	if err := req.validate(); err != nil {
		return SpeechResult{}, err
	}

	// A voice the caller may not use is reported as missing so that private
	// voice ids are not disclosed. ref_audio_id names a stored voice as well
	// and is held to the same key.
	if !s.meta.VerifyAccess(ctx, req.Voice, req.PrivateKey) {
		return SpeechResult{}, notFoundf("voice %q not found", req.Voice)
	}
	if req.RefAudioID != "" && !s.meta.VerifyAccess(ctx, req.RefAudioID, req.PrivateKey) {
		return SpeechResult{}, notFoundf("voice %q not found", req.RefAudioID)
	}

	a, err := s.registry.Resolve(req.Model, req.selection())
	switch {
	case errors.Is(err, registry.ErrNoBackend):
		return SpeechResult{}, &Error{Kind: KindBackendUnavailable, Message: "no TTS backend available", Err: err}
	case err != nil:
		return SpeechResult{}, &Error{Kind: KindNotFound, Message: unknownModelMessage(err), Err: err}
	}
	id := a.ID()

	ctx, span := observe.StartSpan(ctx, "gateway.Speech")
	defer span.End()
	span.SetAttributes(
		attribute.String("backend", id),
		attribute.String("voice", req.Voice),
		attribute.Int("input.length", len(req.Input)),
	)

	s.metrics.ActiveSyntheses.Add(ctx, 1)
	defer s.metrics.ActiveSyntheses.Add(ctx, -1)

	log := observe.Logger(ctx)
	log.Info("generating speech", "backend", id, "voice", req.Voice, "chars", len(req.Input))

	start := time.Now()
	audio, err := a.Generate(ctx, req.Input, req.Voice, req.project(id))
	elapsed := time.Since(start)
	if err != nil {
		kind := "unknown"
		var ce *backend.CallError
		if errors.As(err, &ce) {
			kind = ce.Kind.String()
		}
		s.metrics.RecordBackendRequest(ctx, id, "generate", "error")
		s.metrics.RecordBackendError(ctx, id, kind)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("speech generation failed", "backend", id, "kind", kind, "err", err)
		return SpeechResult{}, unavailable(id, err)
	}
	s.metrics.RecordBackendRequest(ctx, id, "generate", "ok")
	s.metrics.RecordSpeech(ctx, id, elapsed.Seconds())

	return SpeechResult{
		Audio:       audio,
		ContentType: contentType(req.ResponseFormat),
		Format:      req.ResponseFormat,
		Backend:     id,
	}, nil
}

func contentType(format string) string {
	if format == "mp3" {
		return "audio/mpeg"
	}
	return "audio/wav"
}

// unknownModelMessage strips the package prefix from a registry error.
func unknownModelMessage(err error) string {
	return strings.TrimPrefix(err.Error(), "registry: ")
}

func ptr[T any](v T) *T { return &v }
