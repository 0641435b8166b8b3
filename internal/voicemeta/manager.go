package voicemeta

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"
)

// ErrKeyRequired is returned by Save for a private voice without a key.
var ErrKeyRequired = errors.New("voicemeta: private voices require a private key")

// SaveParams describes a voice to record after a successful upload.
type SaveParams struct {
	VoiceID    string
	Backend    string
	Visibility Visibility
	PrivateKey string
	Emotion    string
	RefText    string
}

// KeyCheck is the result of [Manager.VerifyKeyAndList].
type KeyCheck struct {
	Valid      bool
	VoiceCount int
	VoiceIDs   []string
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithNow replaces the clock used for CreatedAt.
func WithNow(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// Manager implements voice access control on top of a [Store].
//
// Reads that fail are logged and treated as an empty store, so listing keeps
// working while storage is degraded. Writes that fail are returned to the
// caller. Key verification is a linear scan over private records.
type Manager struct {
	store Store
	now   func() time.Time
}

// NewManager returns a Manager backed by store.
func NewManager(store Store, opts ...ManagerOption) *Manager {
	m := &Manager{store: store, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Store returns the underlying store.
func (m *Manager) Store() Store { return m.store }

// Save writes the record for p.VoiceID, replacing any existing one. For a
// private voice the key is hashed with a fresh salt; the raw key is never
// stored.
func (m *Manager) Save(ctx context.Context, p SaveParams) (Record, error) {
	if p.VoiceID == "" {
		return Record{}, errors.New("voicemeta: voice id must not be empty")
	}
	vis, err := ParseVisibility(string(p.Visibility))
	if err != nil {
		return Record{}, err
	}

	rec := Record{
		ID:         p.VoiceID,
		Backend:    p.Backend,
		Visibility: vis,
		CreatedAt:  m.now().UTC().Truncate(time.Second),
		Emotion:    p.Emotion,
		RefText:    p.RefText,
	}
	if vis == Private {
		if p.PrivateKey == "" {
			return Record{}, ErrKeyRequired
		}
		if rec.KeySalt, rec.KeyHash, err = HashKey(p.PrivateKey); err != nil {
			return Record{}, err
		}
	}

	if err := m.store.Put(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("voicemeta: save %q: %w", p.VoiceID, err)
	}
	slog.Info("voice metadata saved", "voice_id", rec.ID, "backend", rec.Backend, "visibility", rec.Visibility)
	return rec, nil
}

// Get returns the record for id. The second result is false when no record
// exists or the store could not be read.
func (m *Manager) Get(ctx context.Context, id string) (Record, bool) {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			slog.Warn("voicemeta: read failed", "voice_id", id, "err", err)
		}
		return Record{}, false
	}
	return rec, true
}

// Delete removes the record for id and reports whether it existed.
func (m *Manager) Delete(ctx context.Context, id string) (bool, error) {
	ok, err := m.store.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("voicemeta: delete %q: %w", id, err)
	}
	if ok {
		slog.Info("voice metadata deleted", "voice_id", id)
	}
	return ok, nil
}

// ListPublic returns all public records ordered by id.
func (m *Manager) ListPublic(ctx context.Context) []Record {
	var out []Record
	for _, rec := range m.load(ctx) {
		if rec.Visibility == Public {
			out = append(out, rec)
		}
	}
	return sortByID(out)
}

// ListPrivateByKey returns every private record whose stored hash matches
// key, ordered by id. Private records without key material never match.
func (m *Manager) ListPrivateByKey(ctx context.Context, key string) []Record {
	if key == "" {
		return nil
	}
	var out []Record
	for _, rec := range m.load(ctx) {
		if rec.protected() && VerifyKey(key, rec.KeySalt, rec.KeyHash) {
			out = append(out, rec)
		}
	}
	return sortByID(out)
}

// VerifyAccess reports whether a caller holding key may use voice id.
// Voices without a record, public voices and private voices without key
// material are open to everyone. Protected private voices require a matching
// key. When the store cannot be read, access is denied.
func (m *Manager) VerifyAccess(ctx context.Context, id, key string) bool {
	rec, err := m.store.Get(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		return true
	case err != nil:
		slog.Warn("voicemeta: access check could not read record", "voice_id", id, "err", err)
		return false
	}

	if !rec.protected() {
		return true
	}
	if key == "" {
		return false
	}
	return VerifyKey(key, rec.KeySalt, rec.KeyHash)
}

// VerifyKeyAndList reports which private voices key unlocks.
func (m *Manager) VerifyKeyAndList(ctx context.Context, key string) KeyCheck {
	recs := m.ListPrivateByKey(ctx, key)
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	return KeyCheck{Valid: len(ids) > 0, VoiceCount: len(ids), VoiceIDs: ids}
}

// Visibilities maps every recorded voice id to its effective visibility.
// Private records without key material count as public.
func (m *Manager) Visibilities(ctx context.Context) map[string]Visibility {
	recs := m.load(ctx)
	out := make(map[string]Visibility, len(recs))
	for id, rec := range recs {
		if rec.protected() {
			out[id] = Private
		} else {
			out[id] = Public
		}
	}
	return out
}

// Ping checks the underlying store.
func (m *Manager) Ping(ctx context.Context) error {
	return m.store.Ping(ctx)
}

// Close closes the underlying store.
func (m *Manager) Close() error {
	return m.store.Close()
}

func (m *Manager) load(ctx context.Context) map[string]Record {
	recs, err := m.store.Load(ctx)
	if err != nil {
		slog.Warn("voicemeta: read failed, treating store as empty", "err", err)
		return map[string]Record{}
	}
	return recs
}

func sortByID(recs []Record) []Record {
	slices.SortFunc(recs, func(a, b Record) int { return cmp.Compare(a.ID, b.ID) })
	return recs
}
