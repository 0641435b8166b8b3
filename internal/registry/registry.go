// Package registry holds the set of configured TTS backends and decides which
// one serves a request.
//
// A [Registry] is built once at start-up from the configured adapters and
// handed to the orchestration service. Lookups are case-insensitive and accept
// the "indextts" alias. [Registry.AutoSelect] implements the deterministic
// routing rules used when a caller asks for model "auto".
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/antzucaro/matchr"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/ttsgateway/pkg/backend"
)

// ModelAuto asks the registry to pick a backend.
const ModelAuto = "auto"

// suggestThreshold is the minimum Jaro-Winkler similarity for a "did you
// mean" hint.
const suggestThreshold = 0.7

var (
	// ErrUnknownModel is returned by Resolve when the requested model id does
	// not name a registered backend.
	ErrUnknownModel = errors.New("registry: unknown model")

	// ErrNoBackend is returned by Resolve when auto-selection finds no
	// registered backend.
	ErrNoBackend = errors.New("registry: no backend available")
)

// Selection is the part of a speech request that drives auto-selection.
// Empty fields take the request defaults: EmotionMode "preset" and Language
// "Chinese".
type Selection struct {
	RefAudioID  string
	EmotionMode string
	Language    string
}

func (s Selection) emotionMode() string {
	if s.EmotionMode == "" {
		return backend.EmotionModePreset
	}
	return s.EmotionMode
}

func (s Selection) language() string {
	if s.Language == "" {
		return "Chinese"
	}
	return s.Language
}

// Entry pairs an adapter with a freshly probed status.
type Entry struct {
	Adapter backend.Adapter
	Status  backend.Status
}

// Registry maps backend ids to adapters. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]backend.Adapter
	order    []string
}

// New returns a registry holding adapters, registered in the given order.
func New(adapters ...backend.Adapter) *Registry {
	r := &Registry{adapters: make(map[string]backend.Adapter, len(adapters))}
	for _, a := range adapters {
		r.Register(a.ID(), a)
	}
	return r
}

// Register adds a under id. Registering an existing id replaces the adapter
// but keeps its original position.
func (r *Registry) Register(id string, a backend.Adapter) {
	key := strings.ToLower(id)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adapters[key]; !ok {
		r.order = append(r.order, key)
	}
	r.adapters[key] = a
}

// Get returns the adapter registered under id. Matching is case-insensitive
// and "indextts" resolves to "indextts-2.0".
func (r *Registry) Get(id string) (backend.Adapter, bool) {
	key := strings.ToLower(strings.TrimSpace(id))
	if key == backend.AliasIndexTTS {
		key = backend.IDIndexTTS
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[key]
	return a, ok
}

// IDs returns the registered ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// List returns a snapshot of the registered adapters in registration order.
// Later registrations do not affect the returned slice.
func (r *Registry) List() []backend.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]backend.Adapter, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.adapters[id])
	}
	return out
}

// Len returns the number of registered backends.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// AutoSelect picks a backend for sel. The first matching rule wins:
//
//  1. a reference audio id is present: qwen3-tts
//  2. the emotion mode is not "preset": indextts-2.0
//  3. the language is neither Chinese nor English: qwen3-tts
//  4. indextts-2.0
//  5. qwen3-tts
//
// It returns false when none of these backends is registered. The result
// depends only on sel and the registered set.
func (r *Registry) AutoSelect(sel Selection) (backend.Adapter, bool) {
	qwen, hasQwen := r.Get(backend.IDQwen3TTS)
	index, hasIndex := r.Get(backend.IDIndexTTS)

	switch {
	case sel.RefAudioID != "" && hasQwen:
		return qwen, true
	case sel.emotionMode() != backend.EmotionModePreset && hasIndex:
		return index, true
	case !isCoreLanguage(sel.language()) && hasQwen:
		return qwen, true
	case hasIndex:
		return index, true
	case hasQwen:
		return qwen, true
	}
	return nil, false
}

func isCoreLanguage(lang string) bool {
	return lang == "Chinese" || lang == "English"
}

// Resolve maps a requested model to an adapter. "auto" (or an empty model)
// runs [Registry.AutoSelect]; anything else is looked up by id. Unknown ids
// yield an error wrapping [ErrUnknownModel] that carries a suggestion when a
// registered id is close enough.
func (r *Registry) Resolve(model string, sel Selection) (backend.Adapter, error) {
	if model == "" || strings.EqualFold(model, ModelAuto) {
		a, ok := r.AutoSelect(sel)
		if !ok {
			return nil, ErrNoBackend
		}
		return a, nil
	}

	if a, ok := r.Get(model); ok {
		return a, nil
	}
	if s := r.Suggest(model); s != "" {
		return nil, fmt.Errorf("%w: %q (did you mean %q?)", ErrUnknownModel, model, s)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownModel, model)
}

// Suggest returns the registered id most similar to model, or "" when no id
// is similar enough.
func (r *Registry) Suggest(model string) string {
	needle := strings.ToLower(model)
	best, bestScore := "", suggestThreshold
	for _, id := range r.IDs() {
		if score := matchr.JaroWinkler(needle, id, false); score >= bestScore {
			best, bestScore = id, score
		}
	}
	return best
}

// Statuses probes every backend concurrently and returns the results in
// registration order.
func (r *Registry) Statuses(ctx context.Context) []Entry {
	adapters := r.List()
	entries := make([]Entry, len(adapters))

	g, gctx := errgroup.WithContext(ctx)
	for i, a := range adapters {
		g.Go(func() error {
			entries[i] = Entry{Adapter: a, Status: a.Status(gctx)}
			return nil
		})
	}
	_ = g.Wait() // probes never fail
	return entries
}

// Healthy reports whether the backend registered under id is online with its
// model loaded.
func (r *Registry) Healthy(ctx context.Context, id string) bool {
	a, ok := r.Get(id)
	if !ok {
		return false
	}
	return a.Status(ctx).Ready()
}
