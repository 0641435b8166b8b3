package gateway

import (
	"context"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/ttsgateway/internal/voicemeta"
	"github.com/MrWong99/ttsgateway/pkg/audio"
	"github.com/MrWong99/ttsgateway/pkg/backend"
)

// Visibility filters accepted by [Service.ListVoices].
const (
	FilterAll     = "all"
	FilterPublic  = "public"
	FilterPrivate = "private"
)

// VoiceQuery selects the voices returned by [Service.ListVoices].
type VoiceQuery struct {
	Backend    string // empty means every backend
	Visibility string // public, private, all or empty
	PrivateKey string
}

// VoiceInfo is a backend voice merged with its visibility.
type VoiceInfo struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Backend    string   `json:"backend"`
	Emotions   []string `json:"emotions"`
	RefText    string   `json:"ref_text,omitempty"`
	HasDefault bool     `json:"has_default"`
	Visibility string   `json:"visibility"`
}

// UploadRequest is a voice reference upload.
type UploadRequest struct {
	File       []byte
	Filename   string
	VoiceID    string
	Backend    string
	Emotion    string
	RefText    string
	Visibility string
	PrivateKey string
}

// UploadResponse reports the outcome of an upload. A backend that refuses the
// clip yields Success=false without an error.
type UploadResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	VoiceID    string `json:"voice_id,omitempty"`
	Emotion    string `json:"emotion,omitempty"`
	Backend    string `json:"backend,omitempty"`
	Visibility string `json:"visibility,omitempty"`
}

// KeyVerification lists the private voices a key unlocks.
type KeyVerification struct {
	Valid      bool     `json:"valid"`
	VoiceCount int      `json:"voice_count"`
	VoiceIDs   []string `json:"voice_ids"`
}

// ListVoices returns the voices of one backend, or of every backend when
// q.Backend is empty, tagged with their visibility and filtered by
// q.Visibility. Private voices appear only when q.PrivateKey unlocks them.
func (s *Service) ListVoices(ctx context.Context, q VoiceQuery) ([]VoiceInfo, error) {
	filter := strings.ToLower(q.Visibility)
	switch filter {
	case "", FilterAll, FilterPublic, FilterPrivate:
	default:
		return nil, validationf("visibility must be public, private or all, got %q", q.Visibility)
	}

	adapters := s.registry.List()
	if q.Backend != "" {
		a, ok := s.registry.Get(q.Backend)
		if !ok {
			return nil, notFoundf("backend %q not found", q.Backend)
		}
		adapters = []backend.Adapter{a}
	}

	lists := make([][]backend.Voice, len(adapters))
	g, gctx := errgroup.WithContext(ctx)
	for i, a := range adapters {
		g.Go(func() error {
			lists[i] = a.ListVoices(gctx)
			return nil
		})
	}
	_ = g.Wait() // listing never fails

	visibility := s.meta.Visibilities(ctx)
	accessible := make(map[string]bool)
	if filter != FilterPublic {
		for _, rec := range s.meta.ListPrivateByKey(ctx, q.PrivateKey) {
			accessible[rec.ID] = true
		}
	}

	out := make([]VoiceInfo, 0)
	for i, a := range adapters {
		for _, v := range lists[i] {
			vis, ok := visibility[v.ID]
			if !ok {
				vis = voicemeta.Public
			}
			private := vis == voicemeta.Private
			switch {
			case filter == FilterPublic && private:
				continue
			case filter == FilterPrivate && !private:
				continue
			case private && !accessible[v.ID]:
				continue
			}
			emotions := v.Emotions
			if emotions == nil {
				emotions = []string{}
			}
			out = append(out, VoiceInfo{
				ID:         v.ID,
				Name:       v.Name,
				Backend:    a.ID(),
				Emotions:   emotions,
				RefText:    v.RefText,
				HasDefault: v.HasDefault,
				Visibility: string(vis),
			})
		}
	}
	return out, nil
}

// UploadVoice validates the clip, forwards it to the target backend and, on
// success, records the voice's visibility. A visibility record that cannot be
// written fails the upload.
func (s *Service) UploadVoice(ctx context.Context, req UploadRequest) (UploadResponse, error) {
	if req.VoiceID == "" {
		req.VoiceID = "default"
	}
	if req.Backend == "" {
		req.Backend = backend.IDIndexTTS
	}
	if req.Emotion == "" {
		req.Emotion = "default"
	}

	if !strings.EqualFold(filepath.Ext(req.Filename), ".wav") {
		return UploadResponse{}, validationf("only .wav files are supported")
	}
	if int64(len(req.File)) > s.maxUpload {
		return UploadResponse{}, validationf("file too large, maximum is %d MiB", s.maxUpload>>20)
	}
	if _, err := audio.ParseWAV(req.File); err != nil {
		return UploadResponse{}, &Error{Kind: KindValidation, Message: "file is not a valid WAV file", Err: err}
	}
	vis, err := voicemeta.ParseVisibility(strings.ToLower(req.Visibility))
	if err != nil {
		return UploadResponse{}, &Error{Kind: KindValidation, Message: "visibility must be public or private", Err: err}
	}
	if vis == voicemeta.Private && req.PrivateKey == "" {
		return UploadResponse{}, validationf("private voices require a private_key")
	}

	a, ok := s.registry.Get(req.Backend)
	if !ok {
		return UploadResponse{}, notFoundf("backend %q not found", req.Backend)
	}
	id := a.ID()

	res := a.Upload(ctx, backend.UploadRequest{
		File:     req.File,
		Filename: req.Filename,
		VoiceID:  req.VoiceID,
		Emotion:  req.Emotion,
		RefText:  req.RefText,
	})
	resp := UploadResponse{
		Success: res.Success,
		Message: res.Message,
		VoiceID: res.VoiceID,
		Emotion: res.Emotion,
		Backend: id,
	}
	if !res.Success {
		s.metrics.RecordBackendRequest(ctx, id, "upload", "error")
		return resp, nil
	}
	s.metrics.RecordBackendRequest(ctx, id, "upload", "ok")

	voiceID := res.VoiceID
	if voiceID == "" {
		voiceID = req.VoiceID
		resp.VoiceID = voiceID
	}
	if _, err := s.meta.Save(ctx, voicemeta.SaveParams{
		VoiceID:    voiceID,
		Backend:    id,
		Visibility: vis,
		PrivateKey: req.PrivateKey,
		Emotion:    res.Emotion,
		RefText:    req.RefText,
	}); err != nil {
		return UploadResponse{}, internal("voice uploaded but its visibility could not be recorded", err)
	}
	s.metrics.RecordVoiceUpload(ctx, id, string(vis))
	resp.Visibility = string(vis)
	return resp, nil
}

// VerifyKey reports which private voices key unlocks.
func (s *Service) VerifyKey(ctx context.Context, key string) (KeyVerification, error) {
	if key == "" {
		return KeyVerification{}, validationf("private_key must not be empty")
	}
	check := s.meta.VerifyKeyAndList(ctx, key)
	ids := check.VoiceIDs
	if ids == nil {
		ids = []string{}
	}
	return KeyVerification{Valid: check.Valid, VoiceCount: check.VoiceCount, VoiceIDs: ids}, nil
}

// DeleteVoiceMetadata removes the visibility record of id. The voice itself
// stays on its backend and becomes public, so a protected record is only
// removed for the holder of its private key. A wrong key reads as not found.
func (s *Service) DeleteVoiceMetadata(ctx context.Context, id, privateKey string) error {
	if !s.meta.VerifyAccess(ctx, id, privateKey) {
		return notFoundf("no metadata for voice %q", id)
	}
	ok, err := s.meta.Delete(ctx, id)
	if err != nil {
		return internal("voice metadata could not be deleted", err)
	}
	if !ok {
		return notFoundf("no metadata for voice %q", id)
	}
	return nil
}
