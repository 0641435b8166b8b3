// Package voicemeta stores per-voice visibility and private-key material and
// answers access-control questions about uploaded voices.
//
// A [Record] is written when a voice upload succeeds. Public voices are
// visible to everyone. Private voices carry a salted PBKDF2 hash of the
// uploader's key and are only visible to callers presenting the same key.
// The raw key is never stored.
//
// Persistence is pluggable through [Store]: a JSON file ([FileStore]),
// PostgreSQL ([PostgresStore]) or Redis ([RedisStore]). [Manager] holds the
// access-control logic on top of any of them.
package voicemeta

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SchemaVersion is the version marker written alongside the records.
const SchemaVersion = "1.0"

// ErrNotFound is returned when a voice has no metadata record.
var ErrNotFound = errors.New("voicemeta: record not found")

// Visibility controls who can discover and use a voice.
type Visibility string

const (
	Public  Visibility = "public"
	Private Visibility = "private"
)

// ParseVisibility validates s. An empty string means [Public].
func ParseVisibility(s string) (Visibility, error) {
	switch Visibility(s) {
	case "", Public:
		return Public, nil
	case Private:
		return Private, nil
	}
	return "", fmt.Errorf("voicemeta: invalid visibility %q (want public or private)", s)
}

// Record is the persisted metadata of one voice.
//
// A private record carries both KeySalt and KeyHash. Private records without
// them predate key protection and are treated as accessible to everyone.
type Record struct {
	ID         string     `json:"id"`
	Backend    string     `json:"backend"`
	Visibility Visibility `json:"visibility"`
	CreatedAt  time.Time  `json:"created_at"`
	Emotion    string     `json:"emotion,omitempty"`
	RefText    string     `json:"ref_text,omitempty"`
	KeySalt    string     `json:"key_salt,omitempty"`
	KeyHash    string     `json:"key_hash,omitempty"`
}

// IsPrivate reports whether the record is private.
func (r Record) IsPrivate() bool { return r.Visibility == Private }

// protected reports whether the record is private and carries key material.
func (r Record) protected() bool {
	return r.IsPrivate() && r.KeySalt != "" && r.KeyHash != ""
}

// Store persists records keyed by voice id. Implementations must make every
// Put atomic with respect to concurrent readers: a reader sees either the old
// record or the complete new one.
type Store interface {
	// Load returns every record. A store that has never been written returns
	// an empty map.
	Load(ctx context.Context) (map[string]Record, error)

	// Get returns the record for id or an error wrapping [ErrNotFound].
	Get(ctx context.Context, id string) (Record, error)

	// Put inserts or replaces the record for rec.ID.
	Put(ctx context.Context, rec Record) error

	// Delete removes the record for id and reports whether it existed.
	Delete(ctx context.Context, id string) (bool, error)

	// Ping checks that the storage medium is reachable.
	Ping(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}
