// Package qwen provides a backend.Adapter for a Qwen3-TTS server.
//
// Qwen3-TTS is a reference-audio (voice cloning) engine. Synthesis is a
// two-step exchange: POST /api/tts with form fields returns a JSON pointer to
// the rendered file, which is then fetched with a GET. [Adapter.Generate]
// performs both calls and only returns the final audio, so callers never see
// the intermediate URL.
//
// Typical usage:
//
//	a, err := qwen.New("http://localhost:8019",
//	    qwen.WithTimeout(60*time.Second),
//	)
//	wav, err := a.Generate(ctx, "你好", "speaker-1", backend.GenerateOptions{Language: "Chinese"})
package qwen

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
	displayName     = "Qwen3-TTS"
	defaultLanguage = "Chinese"
	defaultTimeout  = 60 * time.Second
	uploadTimeout   = 30 * time.Second

	statusEndpoint    = "/api/status"
	ttsEndpoint       = "/api/tts"
	refAudiosEndpoint = "/api/ref_audios"
	uploadEndpoint    = "/api/upload_ref_audio"

	// maxErrorBody caps how much of an error response is read for logging.
	maxErrorBody = 4 << 10
)

var features = []string{
	backend.FeatureVoiceCloning,
	backend.FeatureMultiLanguage,
	backend.FeatureReferenceAudio,
}

// Option is a functional option for configuring an Adapter.
type Option func(*Adapter)

// WithTimeout sets the per-request timeout for synthesis calls. Defaults to 60 s.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.httpClient.Timeout = d
		}
	}
}

// WithStatusTimeout sets the timeout for status probes and voice listing.
// Defaults to [backend.DefaultStatusTimeout].
func WithStatusTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.statusTimeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client. The client's Timeout is used for
// synthesis calls.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.httpClient = c }
}

// Adapter implements backend.Adapter for Qwen3-TTS. It is safe for concurrent use.
type Adapter struct {
	baseURL       string
	httpClient    *http.Client
	statusTimeout time.Duration
}

// New creates an Adapter targeting the server at baseURL
// (e.g., "http://localhost:8019"). baseURL must be non-empty.
func New(baseURL string, opts ...Option) (*Adapter, error) {
	if baseURL == "" {
		return nil, errors.New("qwen: baseURL must not be empty")
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

func (a *Adapter) ID() string         { return backend.IDQwen3TTS }
func (a *Adapter) Name() string       { return displayName }
func (a *Adapter) Features() []string { return features }
func (a *Adapter) BaseURL() string    { return a.baseURL }

// ---- wire types ----

type statusResponse struct {
	ModelLoaded bool   `json:"model_loaded"`
	ModelName   string `json:"model_name"`
	Device      string `json:"device"`
}

type ttsResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	AudioURL string `json:"audio_url"`
}

type refAudiosResponse struct {
	Audios []struct {
		ID       string `json:"id"`
		Filename string `json:"filename"`
		RefText  string `json:"ref_text"`
	} `json:"audios"`
}

type uploadResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	RefID   string `json:"ref_id"`
}

// ---- Status ----

// Status probes GET /api/status.
func (a *Adapter) Status(ctx context.Context) backend.Status {
	ctx, cancel := context.WithTimeout(ctx, a.statusTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+statusEndpoint, nil)
	if err != nil {
		return backend.Offline(err.Error())
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		slog.Warn("qwen: status probe failed", "url", a.baseURL, "err", err)
		return backend.Offline(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return backend.Offline(fmt.Sprintf("HTTP %d", resp.StatusCode))
	}

	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return backend.Offline("decode status: " + err.Error())
	}
	return backend.Status{
		Online:      true,
		ModelLoaded: body.ModelLoaded,
		ModelName:   body.ModelName,
		Device:      body.Device,
	}
}

// ---- Generate ----

// Generate submits the text to POST /api/tts and downloads the rendered audio
// from the returned URL. RefAudioID defaults to voice and Language to
// "Chinese". Both calls share ctx and the adapter's synthesis timeout.
func (a *Adapter) Generate(ctx context.Context, text, voice string, opts backend.GenerateOptions) ([]byte, error) {
	refID := opts.RefAudioID
	if refID == "" {
		refID = voice
	}
	lang := opts.Language
	if lang == "" {
		lang = defaultLanguage
	}

	form := url.Values{}
	form.Set("text", text)
	form.Set("language", lang)
	form.Set("ref_audio_id", refID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+ttsEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, backend.Classify(a.ID(), "generate", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, backend.Classify(a.ID(), "generate", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, backend.StatusError(a.ID(), "generate", resp.StatusCode, readDetail(resp.Body))
	}

	var result ttsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, backend.ProtocolError(a.ID(), "generate", "decode response: %v", err)
	}
	if !result.Success {
		msg := result.Message
		if msg == "" {
			msg = "synthesis failed"
		}
		return nil, backend.ProtocolError(a.ID(), "generate", "%s", msg)
	}
	if result.AudioURL == "" {
		return nil, backend.ProtocolError(a.ID(), "generate", "response missing audio_url")
	}

	return a.fetchAudio(ctx, result.AudioURL)
}

// fetchAudio downloads the file referenced by an audio_url pointer.
func (a *Adapter) fetchAudio(ctx context.Context, audioURL string) ([]byte, error) {
	target, err := a.audioTarget(audioURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, backend.Classify(a.ID(), "fetch audio", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, backend.Classify(a.ID(), "fetch audio", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, backend.StatusError(a.ID(), "fetch audio", resp.StatusCode, readDetail(resp.Body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, backend.Classify(a.ID(), "fetch audio", err)
	}
	if len(data) == 0 {
		return nil, backend.ProtocolError(a.ID(), "fetch audio", "empty audio body")
	}
	return data, nil
}

// audioTarget resolves an audio_url against the server's base URL. Relative
// pointers are joined to the base path; absolute ones must name the same
// scheme and host, so a response cannot send the gateway to another server.
func (a *Adapter) audioTarget(audioURL string) (string, error) {
	ref, err := url.Parse(audioURL)
	if err != nil {
		return "", backend.ProtocolError(a.ID(), "fetch audio", "invalid audio_url: %v", err)
	}
	if ref.Scheme == "" && ref.Host == "" {
		return a.baseURL + "/" + strings.TrimPrefix(ref.String(), "/"), nil
	}
	base, err := url.Parse(a.baseURL)
	if err != nil {
		return "", backend.ProtocolError(a.ID(), "fetch audio", "invalid base URL: %v", err)
	}
	if !strings.EqualFold(ref.Scheme, base.Scheme) || !strings.EqualFold(ref.Host, base.Host) {
		return "", backend.ProtocolError(a.ID(), "fetch audio", "audio_url host %q does not match %q", ref.Host, base.Host)
	}
	return ref.String(), nil
}

// ---- ListVoices ----

// ListVoices returns the server's reference audios from GET /api/ref_audios.
func (a *Adapter) ListVoices(ctx context.Context) []backend.Voice {
	ctx, cancel := context.WithTimeout(ctx, a.statusTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+refAudiosEndpoint, nil)
	if err != nil {
		return []backend.Voice{}
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		slog.Warn("qwen: list voices failed", "err", err)
		return []backend.Voice{}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Warn("qwen: list voices failed", "status", resp.StatusCode)
		return []backend.Voice{}
	}

	var body refAudiosResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		slog.Warn("qwen: decode ref audios", "err", err)
		return []backend.Voice{}
	}

	voices := make([]backend.Voice, 0, len(body.Audios))
	for _, ra := range body.Audios {
		name := ra.Filename
		if name == "" {
			name = ra.ID
		}
		voices = append(voices, backend.Voice{
			ID:         ra.ID,
			Name:       name,
			Emotions:   []string{"default"},
			RefText:    ra.RefText,
			HasDefault: true,
		})
	}
	return voices
}

// ---- Upload ----

// Upload sends a reference clip to POST /api/upload_ref_audio. A reference
// transcript is mandatory for this engine.
func (a *Adapter) Upload(ctx context.Context, up backend.UploadRequest) backend.UploadResult {
	if strings.TrimSpace(up.RefText) == "" {
		return backend.UploadResult{Message: "Qwen3-TTS requires ref_text (the transcript of the reference audio)"}
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
	if err := mw.WriteField("ref_text", up.RefText); err != nil {
		return failed(err)
	}
	if err := mw.Close(); err != nil {
		return failed(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+uploadEndpoint, &body)
	if err != nil {
		return failed(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return failed(backend.Classify(a.ID(), "upload", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return failed(backend.StatusError(a.ID(), "upload", resp.StatusCode, readDetail(resp.Body)))
	}

	var result uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return failed(backend.ProtocolError(a.ID(), "upload", "decode response: %v", err))
	}
	return backend.UploadResult{
		Success: result.Success,
		Message: result.Message,
		VoiceID: result.RefID,
	}
}

// ---- helpers ----

func failed(err error) backend.UploadResult {
	slog.Warn("qwen: upload failed", "err", err)
	return backend.FailedUpload(backend.IDQwen3TTS, err)
}

// readDetail reads a bounded prefix of an error body for diagnostics.
func readDetail(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(b))
}
