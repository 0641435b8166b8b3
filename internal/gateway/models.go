package gateway

import (
	"context"

	"github.com/MrWong99/ttsgateway/pkg/backend"
)

// Status labels.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
	StatusRunning = "running"
)

// ModelInfo describes one registered backend.
type ModelInfo struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Backend  string        `json:"backend"`
	Status   string        `json:"status"`
	Features []string      `json:"features"`
	Details  *ModelDetails `json:"details,omitempty"`
}

// ModelDetails carries the raw probe result of a backend.
type ModelDetails struct {
	ModelLoaded bool   `json:"model_loaded"`
	ModelName   string `json:"model_name,omitempty"`
	Device      string `json:"device,omitempty"`
	Error       string `json:"error,omitempty"`
}

// BackendStatus is the live status of one backend.
type BackendStatus struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	URL         string   `json:"url"`
	Status      string   `json:"status"`
	ModelLoaded bool     `json:"model_loaded"`
	Features    []string `json:"features"`
	Error       string   `json:"error,omitempty"`
}

// Health summarises the gateway and every backend.
type Health struct {
	Status   string          `json:"status"`
	Version  string          `json:"version"`
	Backends []BackendStatus `json:"backends"`
}

// Models probes every backend and reports it online only when its model is
// loaded.
func (s *Service) Models(ctx context.Context) []ModelInfo {
	entries := s.registry.Statuses(ctx)
	out := make([]ModelInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, modelInfo(e.Adapter, e.Status))
	}
	return out
}

// Model returns a single backend with its probe details.
func (s *Service) Model(ctx context.Context, id string) (ModelInfo, error) {
	a, ok := s.registry.Get(id)
	if !ok {
		return ModelInfo{}, notFoundf("model %q not found", id)
	}
	st := a.Status(ctx)
	info := modelInfo(a, st)
	info.Details = &ModelDetails{
		ModelLoaded: st.ModelLoaded,
		ModelName:   st.ModelName,
		Device:      st.Device,
		Error:       st.Error,
	}
	return info, nil
}

// ModelStatus returns the live status of a single backend. Unlike
// [Service.Models], a reachable backend counts as online even before its
// model has loaded.
func (s *Service) ModelStatus(ctx context.Context, id string) (BackendStatus, error) {
	a, ok := s.registry.Get(id)
	if !ok {
		return BackendStatus{}, notFoundf("model %q not found", id)
	}
	return backendStatus(a, a.Status(ctx)), nil
}

// Health probes every backend concurrently.
func (s *Service) Health(ctx context.Context) Health {
	entries := s.registry.Statuses(ctx)
	h := Health{Status: StatusRunning, Version: Version, Backends: make([]BackendStatus, 0, len(entries))}
	for _, e := range entries {
		h.Backends = append(h.Backends, backendStatus(e.Adapter, e.Status))
	}
	return h
}

// AnyOnline reports whether at least one backend answers its status probe.
func (s *Service) AnyOnline(ctx context.Context) bool {
	for _, e := range s.registry.Statuses(ctx) {
		if e.Status.Online {
			return true
		}
	}
	return false
}

func modelInfo(a backend.Adapter, st backend.Status) ModelInfo {
	status := StatusOffline
	if st.Ready() {
		status = StatusOnline
	}
	return ModelInfo{
		ID:       a.ID(),
		Name:     a.Name(),
		Backend:  a.ID(),
		Status:   status,
		Features: features(a),
	}
}

func backendStatus(a backend.Adapter, st backend.Status) BackendStatus {
	status := StatusOffline
	if st.Online {
		status = StatusOnline
	}
	return BackendStatus{
		ID:          a.ID(),
		Name:        a.Name(),
		URL:         a.BaseURL(),
		Status:      status,
		ModelLoaded: st.ModelLoaded,
		Features:    features(a),
		Error:       st.Error,
	}
}

func features(a backend.Adapter) []string {
	if f := a.Features(); f != nil {
		return f
	}
	return []string{}
}
