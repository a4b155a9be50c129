package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

type IdempotencyState string

const (
	IdempotencyStateNew        IdempotencyState = "new"
	IdempotencyStateReplay     IdempotencyState = "replay"
	IdempotencyStateConflict   IdempotencyState = "conflict"
	IdempotencyStateInProgress IdempotencyState = "in_progress"
)

// IdempotencyScopeBulkOverride scopes replay protection for the bulk
// override endpoint.
const IdempotencyScopeBulkOverride = "bulk_override"

type CachedHTTPResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

type IdempotencyBeginResult struct {
	State  IdempotencyState
	Cached *CachedHTTPResponse
}

// IdempotencyStore guards a mutating endpoint against replays. Begin
// claims (scope, key) for a request fingerprint; Complete records the
// response so an identical retry replays it byte for byte; Release
// frees a claim whose request failed so a retry can run again.
type IdempotencyStore interface {
	Begin(ctx context.Context, scope, key, fingerprint string, ttl time.Duration) (IdempotencyBeginResult, error)
	Complete(ctx context.Context, scope, key, fingerprint string, response CachedHTTPResponse, ttl time.Duration) error
	Release(ctx context.Context, scope, key, fingerprint string) error
}

// FingerprintRequest hashes the request identity so a reused key with a
// different body is detected as a conflict.
func FingerprintRequest(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
