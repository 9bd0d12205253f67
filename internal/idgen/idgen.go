// Package idgen provides monotonic UTC clocks, opaque identifiers, lease
// tokens, and canonical work-spec hashing.
package idgen

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Clock yields the current time. Operations take a Clock so tests can pin
// timestamps; the production implementation is RealClock.
type Clock interface {
	Now() time.Time
}

// RealClock reads the wall clock, truncated to UTC microseconds so values
// round-trip through every supported SQL dialect.
type RealClock struct{}

// Now implements Clock.
func (RealClock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// FixedClock is a settable clock for tests.
type FixedClock struct {
	T time.Time
}

// Now implements Clock.
func (c *FixedClock) Now() time.Time {
	return c.T.UTC()
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.T = c.T.Add(d)
}

// NewID returns a fresh opaque entity identifier (36-char UUID string).
func NewID() string {
	return uuid.NewString()
}

// TokenPrefix marks raw bearer tokens so leaked strings are recognizable.
const TokenPrefix = "tsk_"

// NewToken returns a fresh high-entropy opaque secret: "tsk_" followed by
// 32 hex characters (128 bits).
func NewToken() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return TokenPrefix + hex.EncodeToString(b[:]), nil
}

// HashToken returns the SHA-256 hex digest of a raw token. Storage holds
// only the digest, never the raw secret.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// CanonicalJSON renders v as JSON with object keys sorted at every level,
// so equal structures hash identically regardless of field order.
func CanonicalJSON(v any) ([]byte, error) {
	// Round-trip through any: encoding/json sorts map keys on marshal,
	// which normalizes struct field order and raw-message layouts alike.
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	var normalized any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return nil, fmt.Errorf("failed to normalize value: %w", err)
	}
	out, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal canonical form: %w", err)
	}
	return out, nil
}

// WorkSpecHash returns the SHA-256 hex digest of the canonical JSON form
// of a work spec.
func WorkSpecHash(spec any) (string, error) {
	canonical, err := CanonicalJSON(spec)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
