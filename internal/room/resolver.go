// Package room validates opaque room keys against a static allow-list and
// maps them to backing partition ids.
package room

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrRejected is returned for keys that are not in the allow-list.
var ErrRejected = errors.New("room key rejected")

// PartitionID names the backing partition of a room. It doubles as the room
// identity inside the hub and as the database name in the message store.
type PartitionID string

// ValidationError reports an unresolvable room key.
type ValidationError struct {
	Key string // normalized key
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("resolve room %q: %v", e.Key, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Config configures a Resolver.
type Config struct {
	Keys             map[string]string // normalized key -> partition id
	DefaultPartition string            // used when a key normalizes to ""
	MaxKeyLength     int
}

// Resolver maps room keys to partitions. It is immutable after construction
// and safe for concurrent use.
type Resolver struct {
	keys         map[string]PartitionID
	defaultID    PartitionID
	maxKeyLength int
}

// NewResolver builds a Resolver from cfg. Allow-list keys are normalized the
// same way incoming keys are, so "  abc " in the config matches "abc".
func NewResolver(cfg Config) *Resolver {
	r := &Resolver{
		keys:         make(map[string]PartitionID, len(cfg.Keys)),
		defaultID:    PartitionID(cfg.DefaultPartition),
		maxKeyLength: cfg.MaxKeyLength,
	}
	if r.maxKeyLength <= 0 {
		r.maxKeyLength = 64
	}
	if r.defaultID == "" {
		r.defaultID = "public"
	}
	for k, p := range cfg.Keys {
		if nk := r.Normalize(k); nk != "" {
			r.keys[nk] = PartitionID(p)
		}
	}
	return r
}

// Resolve normalizes rawKey and returns its partition.
func (r *Resolver) Resolve(rawKey string) (PartitionID, error) {
	key := r.Normalize(rawKey)
	if key == "" {
		return r.defaultID, nil
	}
	if id, ok := r.keys[key]; ok {
		return id, nil
	}
	return "", &ValidationError{Key: key, Err: ErrRejected}
}

// Default returns the public partition used for empty keys.
func (r *Resolver) Default() PartitionID {
	return r.defaultID
}

// Partitions returns every partition reachable through the resolver: the
// default first, then the rest sorted.
func (r *Resolver) Partitions() []PartitionID {
	seen := map[PartitionID]struct{}{r.defaultID: {}}
	out := []PartitionID{r.defaultID}
	for _, id := range r.keys {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	slices.Sort(out[1:])
	return out
}

// Normalize trims rawKey, drops characters outside [A-Za-z0-9_-] and
// truncates the result to the maximum key length.
func (r *Resolver) Normalize(rawKey string) string {
	trimmed := strings.TrimSpace(rawKey)
	var b strings.Builder
	b.Grow(len(trimmed))
	for _, c := range trimmed {
		if b.Len() >= r.maxKeyLength {
			break
		}
		if isKeyChar(c) {
			b.WriteRune(c)
		}
	}
	return b.String()
}

func isKeyChar(c rune) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '_' || c == '-':
		return true
	}
	return false
}
