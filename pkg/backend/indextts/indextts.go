// Package indextts provides a backend.Adapter for an IndexTTS 2.0 server.
//
// IndexTTS is an emotion-controllable engine. Synthesis is a single JSON
// POST to /v1/audio/speech that streams the audio back directly. Emotion can
// be steered by a named preset, a reference clip, an 8-dimensional vector or
// free text, selected by the emotion_mode field.
//
// Typical usage:
//
//	a, err := indextts.New("http://localhost:8080",
//	    indextts.WithTimeout(120*time.Second),
//	)
//	wav, err := a.Generate(ctx, "Hello!", "narrator", backend.GenerateOptions{Emotion: "happy"})
package indextts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrWong99/ttsgateway/pkg/backend"
)

// Compile-time interface assertion.
var _ backend.Adapter = (*Adapter)(nil)

const (
	displayName    = "IndexTTS 2.0"
	defaultTimeout = 120 * time.Second
	uploadTimeout  = 30 * time.Second

	defaultEmotion = "default"
	defaultFormat  = "wav"
	defaultSpeed   = 1.0

	statusEndpoint = "/"
	speechEndpoint = "/v1/audio/speech"
	voicesEndpoint = "/v1/voices"
	uploadEndpoint = "/v1/voices/upload"

	maxErrorBody = 4 << 10
)

var features = []string{
	backend.FeatureEmotionControl,
	backend.FeatureEmotionVector,
	backend.FeatureEmotionAudio,
	backend.FeatureTemperature,
	backend.FeatureTopP,
	backend.FeatureTopK,
	backend.FeatureAutoLanguage,
}

// Option is a functional option for configuring an Adapter.
type Option func(*Adapter)

// WithTimeout sets the per-request timeout for synthesis calls. Defaults to 120 s.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.httpClient.Timeout = d
		}
	}
}

// WithStatusTimeout sets the timeout for status probes and voice listing.
func WithStatusTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.statusTimeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.httpClient = c }
}

// Adapter implements backend.Adapter for IndexTTS 2.0. It is safe for concurrent use.
type Adapter struct {
	baseURL       string
	httpClient    *http.Client
	statusTimeout time.Duration
}

// New creates an Adapter targeting the server at baseURL
// (e.g., "http://localhost:8080"). baseURL must be non-empty.
func New(baseURL string, opts ...Option) (*Adapter, error) {
	if baseURL == "" {
		return nil, errors.New("indextts: baseURL must not be empty")
	}
	a := &Adapter{
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    backend.NewHTTPClient(defaultTimeout),
		statusTimeout: backend.DefaultStatusTimeout,
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

func (a *Adapter) ID() string         { return backend.IDIndexTTS }
func (a *Adapter) Name() string       { return displayName }
func (a *Adapter) Features() []string { return features }
func (a *Adapter) BaseURL() string    { return a.baseURL }

// ---- wire types ----

type rootResponse struct {
	Service string `json:"service"`
	Status  string `json:"status"`
}

// speechRequest is the JSON body of POST /v1/audio/speech. Optional sampling
// parameters are omitted when unset so the engine applies its own defaults.
type speechRequest struct {
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	Emotion        string  `json:"emotion"`
	Speed          float64 `json:"speed"`
	ResponseFormat string  `json:"response_format"`

	Temperature       *float64 `json:"temperature,omitempty"`
	TopP              *float64 `json:"top_p,omitempty"`
	TopK              *int     `json:"top_k,omitempty"`
	RepetitionPenalty *float64 `json:"repetition_penalty,omitempty"`

	EmotionMode  string    `json:"emotion_mode"`
	EmoAudioPath string    `json:"emo_audio_path,omitempty"`
	EmoAlpha     *float64  `json:"emo_alpha,omitempty"`
	EmoVector    []float64 `json:"emo_vector,omitempty"`
	UseEmoText   *bool     `json:"use_emo_text,omitempty"`
	EmoText      string    `json:"emo_text,omitempty"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

type voicesResponse struct {
	Voices []struct {
		ID         string   `json:"id"`
		Name       string   `json:"name"`
		Emotions   []string `json:"emotions"`
		HasDefault bool     `json:"has_default"`
	} `json:"voices"`
}

type uploadResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	VoiceID string `json:"voice_id"`
	Emotion string `json:"emotion"`
}

// ---- Status ----

// Status probes GET /. The model counts as loaded when the server reports
// status "running".
func (a *Adapter) Status(ctx context.Context) backend.Status {
	ctx, cancel := context.WithTimeout(ctx, a.statusTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+statusEndpoint, nil)
	if err != nil {
		return backend.Offline(err.Error())
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		slog.Warn("indextts: status probe failed", "url", a.baseURL, "err", err)
		return backend.Offline(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return backend.Offline(fmt.Sprintf("HTTP %d", resp.StatusCode))
	}

	var body rootResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return backend.Offline("decode status: " + err.Error())
	}
	return backend.Status{
		Online:      true,
		ModelLoaded: body.Status == "running",
		ModelName:   body.Service,
	}
}

// ---- Generate ----

// buildRequest projects opts onto the engine's request body. Mode-specific
// emotion fields are only sent for the mode that uses them.
func buildRequest(text, voice string, opts backend.GenerateOptions) speechRequest {
	body := speechRequest{
		Input:             text,
		Voice:             voice,
		Emotion:           opts.Emotion,
		Speed:             opts.Speed,
		ResponseFormat:    opts.ResponseFormat,
		Temperature:       opts.Temperature,
		TopP:              opts.TopP,
		TopK:              opts.TopK,
		RepetitionPenalty: opts.RepetitionPenalty,
		EmotionMode:       opts.EmotionMode,
	}
	if body.Emotion == "" {
		body.Emotion = defaultEmotion
	}
	if body.Speed == 0 {
		body.Speed = defaultSpeed
	}
	if body.ResponseFormat == "" {
		body.ResponseFormat = defaultFormat
	}
	if body.EmotionMode == "" {
		body.EmotionMode = backend.EmotionModePreset
	}

	switch body.EmotionMode {
	case backend.EmotionModeAudio:
		if opts.EmoAudioPath != "" {
			body.EmoAudioPath = opts.EmoAudioPath
			body.EmoAlpha = opts.EmoAlpha
		}
	case backend.EmotionModeVector:
		if len(opts.EmoVector) > 0 {
			body.EmoVector = opts.EmoVector
		}
	case backend.EmotionModeText:
		useText := true
		if opts.UseEmoText != nil {
			useText = *opts.UseEmoText
		}
		body.UseEmoText = &useText
		body.EmoText = opts.EmoText
	}
	return body
}

// Generate posts a JSON synthesis request and returns the streamed audio.
func (a *Adapter) Generate(ctx context.Context, text, voice string, opts backend.GenerateOptions) ([]byte, error) {
	payload, err := json.Marshal(buildRequest(text, voice, opts))
	if err != nil {
		return nil, backend.ProtocolError(a.ID(), "generate", "encode request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+speechEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, backend.Classify(a.ID(), "generate", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, backend.Classify(a.ID(), "generate", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, backend.StatusError(a.ID(), "generate", resp.StatusCode, errorDetail(resp.Body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, backend.Classify(a.ID(), "generate", err)
	}
	if len(data) == 0 {
		return nil, backend.ProtocolError(a.ID(), "generate", "empty audio body")
	}
	return data, nil
}

// ---- ListVoices ----

// ListVoices returns the voices from GET /v1/voices.
func (a *Adapter) ListVoices(ctx context.Context) []backend.Voice {
	ctx, cancel := context.WithTimeout(ctx, a.statusTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+voicesEndpoint, nil)
	if err != nil {
		return []backend.Voice{}
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		slog.Warn("indextts: list voices failed", "err", err)
		return []backend.Voice{}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Warn("indextts: list voices failed", "status", resp.StatusCode)
		return []backend.Voice{}
	}

	var body voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		slog.Warn("indextts: decode voices", "err", err)
		return []backend.Voice{}
	}

	voices := make([]backend.Voice, 0, len(body.Voices))
	for _, v := range body.Voices {
		name := v.Name
		if name == "" {
			name = v.ID
		}
		emotions := v.Emotions
		if len(emotions) == 0 {
			emotions = []string{defaultEmotion}
		}
		voices = append(voices, backend.Voice{
			ID:         v.ID,
			Name:       name,
			Emotions:   emotions,
			HasDefault: v.HasDefault,
		})
	}
	return voices
}

// ---- Upload ----

// Upload sends a reference clip to POST /v1/voices/upload. The clip is
// stored under the voice_id and emotion query parameters.
func (a *Adapter) Upload(ctx context.Context, up backend.UploadRequest) backend.UploadResult {
	emotion := up.Emotion
	if emotion == "" {
		emotion = defaultEmotion
	}

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(up.Filename)))
	h.Set("Content-Type", "audio/wav")
	fw, err := mw.CreatePart(h)
	if err != nil {
		return failed(err)
	}
	if _, err := fw.Write(up.File); err != nil {
		return failed(err)
	}
	if err := mw.Close(); err != nil {
		return failed(err)
	}

	q := url.Values{}
	q.Set("voice_id", up.VoiceID)
	q.Set("emotion", emotion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+uploadEndpoint+"?"+q.Encode(), &body)
	if err != nil {
		return failed(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return failed(backend.Classify(a.ID(), "upload", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return failed(backend.StatusError(a.ID(), "upload", resp.StatusCode, errorDetail(resp.Body)))
	}

	var result uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return failed(backend.ProtocolError(a.ID(), "upload", "decode response: %v", err))
	}
	return backend.UploadResult{
		Success: result.Success,
		Message: result.Message,
		VoiceID: result.VoiceID,
		Emotion: result.Emotion,
	}
}

// ---- helpers ----

func failed(err error) backend.UploadResult {
	slog.Warn("indextts: upload failed", "err", err)
	return backend.FailedUpload(backend.IDIndexTTS, err)
}

// errorDetail extracts the "detail" field of a JSON error body, falling back
// to the raw text.
func errorDetail(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var e errorResponse
	if json.Unmarshal(raw, &e) == nil && e.Detail != "" {
		return e.Detail
	}
	return strings.TrimSpace(string(raw))
}
