// Package api exposes the gateway over HTTP.
//
// Routes are registered on a standard [http.ServeMux] using method and
// wildcard patterns. Handlers decode the request, call the
// [gateway.Service] and encode the result; every failure is written as a
// JSON body {"error": <kind>, "message": <text>} with the status code of its
// [gateway.Kind].
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/MrWong99/ttsgateway/internal/gateway"
)

// PrivateKeyHeader carries the key that unlocks private voices.
const PrivateKeyHeader = "X-Private-Key"

// ServiceName is reported by the root endpoint.
const ServiceName = "TTS Gateway"

// maxJSONBody bounds JSON request bodies. The largest legitimate body is a
// speech request with 5000 characters of input.
const maxJSONBody = 1 << 20

// API holds the HTTP handlers. Create one with [New] and attach it to a mux
// with [API.Register].
type API struct {
	svc *gateway.Service
}

// New returns the HTTP handlers for svc.
func New(svc *gateway.Service) *API {
	return &API{svc: svc}
}

// Register adds every gateway route to mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", a.root)
	mux.HandleFunc("GET /health", a.health)
	mux.HandleFunc("POST /v1/audio/speech", a.speech)
	mux.HandleFunc("GET /v1/models", a.models)
	mux.HandleFunc("GET /v1/models/{id}", a.model)
	mux.HandleFunc("GET /v1/models/{id}/status", a.modelStatus)
	mux.HandleFunc("GET /v1/voices", a.voices)
	mux.HandleFunc("POST /v1/voices/upload", a.upload)
	mux.HandleFunc("POST /v1/voices/verify-key", a.verifyKey)
	mux.HandleFunc("DELETE /v1/voices/{id}/metadata", a.deleteMetadata)
}

func (a *API) root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": ServiceName,
		"version": gateway.Version,
		"status":  gateway.StatusRunning,
		"health":  "/health",
	})
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.Health(r.Context()))
}

func (a *API) speech(w http.ResponseWriter, r *http.Request) {
	var req gateway.SpeechRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, "invalid request body: "+err.Error(), err)
		return
	}
	req.PrivateKey = r.Header.Get(PrivateKeyHeader)

	res, err := a.svc.Speech(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", res.ContentType)
	h.Set("Content-Disposition", "attachment; filename=speech."+res.Format)
	h.Set("X-Model-Used", res.Backend)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Audio)
}

func (a *API) models(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Models []gateway.ModelInfo `json:"models"`
	}{a.svc.Models(r.Context())})
}

func (a *API) model(w http.ResponseWriter, r *http.Request) {
	m, err := a.svc.Model(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) modelStatus(w http.ResponseWriter, r *http.Request) {
	st, err := a.svc.ModelStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type voicesResponse struct {
	Voices []gateway.VoiceInfo `json:"voices"`
	Total  int                 `json:"total"`
}

func (a *API) voices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	voices, err := a.svc.ListVoices(r.Context(), gateway.VoiceQuery{
		Backend:    q.Get("backend"),
		Visibility: q.Get("visibility"),
		PrivateKey: r.Header.Get(PrivateKeyHeader),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, voicesResponse{Voices: voices, Total: len(voices)})
}

func (a *API) upload(w http.ResponseWriter, r *http.Request) {
	limit := a.svc.MaxUploadSize()
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			badRequest(w, r, fmt.Sprintf("file too large, maximum is %d MiB", limit>>20), err)
			return
		}
		badRequest(w, r, "invalid multipart form", err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, r, "a .wav file is required in the \"file\" field", err)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		badRequest(w, r, "could not read uploaded file", err)
		return
	}

	resp, err := a.svc.UploadVoice(r.Context(), gateway.UploadRequest{
		File:       data,
		Filename:   header.Filename,
		VoiceID:    r.FormValue("voice_id"),
		Backend:    r.FormValue("backend"),
		Emotion:    r.FormValue("emotion"),
		RefText:    r.FormValue("ref_text"),
		Visibility: r.FormValue("visibility"),
		PrivateKey: r.FormValue("private_key"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) verifyKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PrivateKey string `json:"private_key"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, "invalid request body: "+err.Error(), err)
		return
	}
	res, err := a.svc.VerifyKey(r.Context(), req.PrivateKey)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) deleteMetadata(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.DeleteVoiceMetadata(r.Context(), r.PathValue("id"), r.Header.Get(PrivateKeyHeader)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty body")
		}
		return err
	}
	return nil
}
