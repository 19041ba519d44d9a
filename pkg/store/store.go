// Package store defines the cross-worker session Store interface shared by
// every call-handling process in a deployment.
//
// A call may be answered by one worker and have subsequent webhooks routed
// to a different worker by the load balancer; the Store is what lets the
// second worker recover the call's agent id, custom variables, and
// conversation flags without re-dialing the document store on every
// webhook. It is a thin KV + set abstraction, not a general-purpose
// database: single-key operations are assumed atomic, and no multi-key
// transaction is ever required by callers.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get and KVGet when the key has no value (either
// never set, or expired).
var ErrNotFound = errors.New("store: key not found")

// Store is the cross-worker session store capability set.
//
// Implementations must be safe for concurrent use. Implementations use key
// arguments verbatim; callers build namespaced keys (call:<id>,
// playbacks:<id>, session_ready:<id>, flag:<id>:<name>) with the helpers
// below.
type Store interface {
	// Set stores value (already JSON-encoded by the caller) under key with
	// the given TTL, replacing any existing value.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the raw value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// UpdateMerge reads the JSON object at key, shallow-merges partial's
	// fields on top of it, and writes the result back with the same TTL
	// (refreshed to ttl). Returns ErrNotFound if key does not currently
	// exist — callers must Set the full record before updating it.
	UpdateMerge(ctx context.Context, key string, partial map[string]any, ttl time.Duration) error

	// Delete removes key. Deleting a nonexistent key is not an error.
	Delete(ctx context.Context, key string) error

	// SetAdd adds member to the set at setKey and refreshes its TTL.
	SetAdd(ctx context.Context, setKey string, member string, ttl time.Duration) error

	// SetRemove removes member from the set at setKey and returns the
	// remaining member count.
	SetRemove(ctx context.Context, setKey string, member string) (int, error)

	// SetCount returns the number of members in the set at setKey.
	SetCount(ctx context.Context, setKey string) (int, error)

	// SetMembers returns every member currently in the set at setKey.
	SetMembers(ctx context.Context, setKey string) ([]string, error)

	// SetClear removes the entire set at setKey.
	SetClear(ctx context.Context, setKey string) error

	// KVSetex sets a simple string flag value with a TTL.
	KVSetex(ctx context.Context, flagKey string, value string, ttl time.Duration) error

	// KVGet returns the flag value, or ErrNotFound.
	KVGet(ctx context.Context, flagKey string) (string, error)

	// KVDelete removes the flag.
	KVDelete(ctx context.Context, flagKey string) error

	// Ping verifies connectivity to the backing store. Used at startup and
	// by health checks; a failing Ping is the signal to fall back to the
	// in-process memstore implementation.
	Ping(ctx context.Context) error
}

// Key-namespacing helpers. Every Store implementation should build its
// physical keys through these so the namespace stays consistent regardless
// of backend.

// CallKey returns the namespaced key for a call's cross-worker record.
func CallKey(callID string) string { return "call:" + callID }

// PlaybacksKey returns the namespaced set key for a call's active playback ids.
func PlaybacksKey(callID string) string { return "playbacks:" + callID }

// SessionReadyKey returns the namespaced key marking a call's session as ready.
func SessionReadyKey(callID string) string { return "session_ready:" + callID }

// FlagKey returns the namespaced key for a named per-call flag.
func FlagKey(callID, name string) string { return "flag:" + callID + ":" + name }
