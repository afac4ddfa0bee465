package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL bounds how long a stored response stays replayable. Device
// webhooks retry within minutes; a day covers clock drift and backlogged
// delivery queues with room to spare.
const DefaultTTL = 24 * time.Hour

// ErrFingerprintMismatch is returned when a key is reused with a different
// request body or target, which means the client is recycling keys.
var ErrFingerprintMismatch = errors.New("idempotency: key reserved for different request fingerprint")

// Status is the lifecycle of a stored record.
type Status string

const (
	// StatusPending marks a key whose first request is still in flight.
	StatusPending Status = "pending"
	// StatusCompleted marks a key whose response has been captured.
	StatusCompleted Status = "completed"
)

// ReservationState tells the middleware what to do with the request.
type ReservationState int

const (
	// ReservationStateNew: no prior record, process the request.
	ReservationStateNew ReservationState = iota
	// ReservationStateCompleted: replay the stored response.
	ReservationStateCompleted
	// ReservationStatePending: a concurrent request holds the key, reject.
	ReservationStatePending
)

// Reservation is the outcome of claiming a key, with the stored record when
// one exists.
type Reservation struct {
	State  ReservationState
	Record Record
}

// Record is the persisted state of one idempotency key.
type Record struct {
	Key             string
	Fingerprint     string
	Status          Status
	ResponseStatus  int
	ResponseHeaders map[string][]string
	ResponseBody    []byte
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExpiresAt       time.Time
}

// Response is the captured HTTP response saved for replay.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store claims idempotency keys and persists their responses. FirestoreStore
// backs production; MemoryStore backs tests.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key, fingerprint string) error
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// documentID hashes the client-chosen key so arbitrary input is always a
// valid Firestore document name.
func documentID(key string) string {
	return sha256Hex([]byte(strings.TrimSpace(key)))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Hop-by-hop and volatile headers are recomputed on replay, not stored.
var omittedHeaders = map[string]struct{}{
	"content-length":      {},
	"date":                {},
	"connection":          {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailers":            {},
	"transfer-encoding":   {},
	"upgrade":             {},
}

func sanitizeHeaders(header http.Header) map[string][]string {
	if len(header) == 0 {
		return nil
	}
	filtered := make(map[string][]string, len(header))
	for name, values := range header {
		canonical := http.CanonicalHeaderKey(name)
		if _, omit := omittedHeaders[strings.ToLower(canonical)]; omit {
			continue
		}
		filtered[canonical] = append([]string(nil), values...)
	}
	if len(filtered) == 0 {
		return nil
	}
	return filtered
}

func headersFromRecord(values map[string][]string) http.Header {
	header := make(http.Header, len(values))
	for name, vals := range values {
		header[name] = append([]string(nil), vals...)
	}
	return header
}
