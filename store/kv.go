// Package store provides the durable key-value store backing crash-loop
// tracking, safe-mode flags, and persisted feature-flag overrides. SQLite is
// used for on-disk deployments; an in-memory implementation exists for tests.
package store

import (
	"context"
	"strconv"
)

// KV is the durable key-value contract. Reads report presence explicitly so
// callers can distinguish "missing" from a zero value.
type KV interface {
	GetString(ctx context.Context, key string) (string, bool, error)
	SetString(ctx context.Context, key, value string) error
	GetInt(ctx context.Context, key string) (int, bool, error)
	SetInt(ctx context.Context, key string, value int) error
	GetBool(ctx context.Context, key string) (bool, bool, error)
	SetBool(ctx context.Context, key string, value bool) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// intFromString parses a stored integer. Corrupt values surface as present
// with value 0 so callers can apply their own clamping policy.
func intFromString(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func boolFromString(s string) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false
	}
	return b
}
