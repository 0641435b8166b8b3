package registry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/ttsgateway/pkg/backend"
	"github.com/MrWong99/ttsgateway/pkg/backend/mock"
)

func TestAutoSelect(t *testing.T) {
	qwen := mock.New(backend.IDQwen3TTS)
	index := mock.New(backend.IDIndexTTS)

	both := New(qwen, index)
	onlyQwen := New(qwen)
	onlyIndex := New(index)
	empty := New()

	tests := []struct {
		name   string
		reg    *Registry
		sel    Selection
		wantID string // "" means absent
	}{
		{"rule 1 ref audio picks qwen", both, Selection{RefAudioID: "ref-1", EmotionMode: "vector"}, backend.IDQwen3TTS},
		{"rule 1 skipped without qwen", onlyIndex, Selection{RefAudioID: "ref-1"}, backend.IDIndexTTS},
		{"rule 2 non-preset emotion picks indextts", both, Selection{EmotionMode: "text", Language: "Japanese"}, backend.IDIndexTTS},
		{"rule 3 other language picks qwen", both, Selection{Language: "Japanese"}, backend.IDQwen3TTS},
		{"rule 4 default picks indextts", both, Selection{Language: "English"}, backend.IDIndexTTS},
		{"rule 4 empty selection picks indextts", both, Selection{}, backend.IDIndexTTS},
		{"rule 5 qwen fallback", onlyQwen, Selection{EmotionMode: "audio"}, backend.IDQwen3TTS},
		{"rule 6 nothing registered", empty, Selection{RefAudioID: "ref-1"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, ok := tt.reg.AutoSelect(tt.sel)
			if tt.wantID == "" {
				if ok {
					t.Fatalf("AutoSelect = %q, want absent", a.ID())
				}
				return
			}
			if !ok {
				t.Fatalf("AutoSelect = absent, want %q", tt.wantID)
			}
			if a.ID() != tt.wantID {
				t.Errorf("AutoSelect = %q, want %q", a.ID(), tt.wantID)
			}
		})
	}
}

func TestAutoSelect_Deterministic(t *testing.T) {
	r := New(mock.New(backend.IDQwen3TTS), mock.New(backend.IDIndexTTS))
	sel := Selection{Language: "French"}
	first, _ := r.AutoSelect(sel)
	for range 100 {
		got, _ := r.AutoSelect(sel)
		if got != first {
			t.Fatalf("AutoSelect changed from %q to %q", first.ID(), got.ID())
		}
	}
}

func TestGet(t *testing.T) {
	index := mock.New(backend.IDIndexTTS)
	r := New(index)

	for _, id := range []string{"indextts-2.0", "IndexTTS-2.0", "indextts", " INDEXTTS "} {
		if a, ok := r.Get(id); !ok || a != index {
			t.Errorf("Get(%q) = %v, %v; want the indextts adapter", id, a, ok)
		}
	}
	if _, ok := r.Get("qwen3-tts"); ok {
		t.Error("Get(qwen3-tts) found an unregistered backend")
	}
}

func TestResolve(t *testing.T) {
	r := New(mock.New(backend.IDQwen3TTS), mock.New(backend.IDIndexTTS))

	t.Run("auto", func(t *testing.T) {
		a, err := r.Resolve("auto", Selection{RefAudioID: "x"})
		if err != nil || a.ID() != backend.IDQwen3TTS {
			t.Fatalf("Resolve(auto) = %v, %v", a, err)
		}
	})

	t.Run("explicit", func(t *testing.T) {
		a, err := r.Resolve("indextts", Selection{})
		if err != nil || a.ID() != backend.IDIndexTTS {
			t.Fatalf("Resolve(indextts) = %v, %v", a, err)
		}
	})

	t.Run("unknown with suggestion", func(t *testing.T) {
		_, err := r.Resolve("qwen3-ts", Selection{})
		if !errors.Is(err, ErrUnknownModel) {
			t.Fatalf("err = %v, want ErrUnknownModel", err)
		}
		if !strings.Contains(err.Error(), `did you mean "qwen3-tts"`) {
			t.Errorf("err = %q, want suggestion", err)
		}
	})

	t.Run("unknown without suggestion", func(t *testing.T) {
		_, err := r.Resolve("zzzzzz", Selection{})
		if !errors.Is(err, ErrUnknownModel) {
			t.Fatalf("err = %v, want ErrUnknownModel", err)
		}
		if strings.Contains(err.Error(), "did you mean") {
			t.Errorf("err = %q, want no suggestion", err)
		}
	})

	t.Run("auto with nothing registered", func(t *testing.T) {
		_, err := New().Resolve("auto", Selection{})
		if !errors.Is(err, ErrNoBackend) {
			t.Fatalf("err = %v, want ErrNoBackend", err)
		}
	})
}

func TestList_IsSnapshot(t *testing.T) {
	r := New(mock.New(backend.IDQwen3TTS))
	snap := r.List()
	r.Register(backend.IDIndexTTS, mock.New(backend.IDIndexTTS))

	if len(snap) != 1 {
		t.Errorf("snapshot length changed to %d", len(snap))
	}
	if got := r.IDs(); len(got) != 2 || got[0] != backend.IDQwen3TTS || got[1] != backend.IDIndexTTS {
		t.Errorf("IDs = %v", got)
	}
}

func TestRegister_Concurrent(t *testing.T) {
	r := New()
	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h"}

	var wg sync.WaitGroup
	for _, id := range ids {
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				r.Register(id, mock.New(id))
				r.Get(id)
			}()
		}
	}
	wg.Wait()

	if r.Len() != len(ids) {
		t.Errorf("Len = %d, want %d", r.Len(), len(ids))
	}
}

func TestStatuses(t *testing.T) {
	qwen := mock.New(backend.IDQwen3TTS)
	qwen.SetStatus(backend.Offline("connection refused"))
	index := mock.New(backend.IDIndexTTS)
	r := New(qwen, index)

	entries := r.Statuses(context.Background())
	if len(entries) != 2 {
		t.Fatalf("len = %d, want 2", len(entries))
	}
	if entries[0].Adapter.ID() != backend.IDQwen3TTS || entries[0].Status.Online {
		t.Errorf("entries[0] = %+v", entries[0])
	}
	if entries[1].Adapter.ID() != backend.IDIndexTTS || !entries[1].Status.Ready() {
		t.Errorf("entries[1] = %+v", entries[1])
	}

	if r.Healthy(context.Background(), backend.IDQwen3TTS) {
		t.Error("offline backend reported healthy")
	}
	if !r.Healthy(context.Background(), backend.IDIndexTTS) {
		t.Error("online backend reported unhealthy")
	}
	if r.Healthy(context.Background(), "nope") {
		t.Error("unknown backend reported healthy")
	}
}
