// Package cache implements the gated two-tier response cache: an exact
// tier keyed by a short prompt hash, and an in-process embedding tier that
// answers near-identical prompts by cosine similarity.
//
// The exact tier is pluggable — in-process by default, Redis-backed when a
// cluster should share hits. The embedding tier, LRU bookkeeping and the
// hit-rate gating always live in-process.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Backend is the exact-tier storage contract. Both implementations degrade
// gracefully: a backend failure is a cache miss, never a request failure.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Key derives the exact-tier key for a prompt: the first 16 hex chars of
// SHA-256 over the trimmed, lowercased text. Deterministic, not meant to be
// collision-proof.
func Key(prompt string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(prompt))))
	return hex.EncodeToString(sum[:])[:16]
}
