// Package id generates identifiers for navigation attempts, API requests and
// event-stream clients.
//
// Attempt and request IDs are prefixed ULIDs: k-sortable, so logs of one
// navigator read in start order, and the prefix names the ID's domain
// (nav_01H..., req_01H...). Client IDs are random UUIDs since nothing orders
// event-stream subscribers.
package id

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// AttemptID identifies one navigation attempt
type AttemptID string

// RequestID identifies an API request
type RequestID string

// ClientID identifies an event-stream subscriber
type ClientID string

const (
	AttemptPrefix = "nav"
	RequestPrefix = "req"
)

// ErrMalformed is returned by ParsePrefixed for IDs not shaped prefix_ulid.
var ErrMalformed = errors.New("malformed id")

// Generator generates ULIDs with optional prefixes
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator with monotonic entropy so IDs minted in the
// same millisecond still sort in creation order.
func NewGenerator() *Generator {
	return NewGeneratorWithEntropy(ulid.Monotonic(rand.Reader, 0))
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Useful for deterministic tests.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy, now: time.Now}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(g.now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return prefix + "_" + g.GenerateString()
}

// NewAttemptID generates a navigation attempt ID
func NewAttemptID() AttemptID {
	return AttemptID(Default().GenerateWithPrefix(AttemptPrefix))
}

// NewRequestID generates an API request ID
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

// NewClientID generates an event-stream client ID
func NewClientID() ClientID {
	return ClientID(uuid.NewString())
}

func (id AttemptID) String() string { return string(id) }
func (id RequestID) String() string { return string(id) }
func (id ClientID) String() string  { return string(id) }

// Time returns the moment the attempt ID was minted.
func (id AttemptID) Time() (time.Time, error) {
	_, u, err := ParsePrefixed(string(id))
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()), nil
}

// IsValid checks if an ID string is a valid ULID
func IsValid(id string) bool {
	_, err := ulid.Parse(id)
	return err == nil
}

// Parse parses a ULID string
func Parse(id string) (ulid.ULID, error) {
	return ulid.Parse(id)
}

// ParsePrefixed splits prefix_ulid and validates the ULID part.
func ParsePrefixed(id string) (string, ulid.ULID, error) {
	prefix, raw, ok := strings.Cut(id, "_")
	if !ok || prefix == "" {
		return "", ulid.ULID{}, fmt.Errorf("%w: %q", ErrMalformed, id)
	}
	u, err := ulid.Parse(raw)
	if err != nil {
		return "", ulid.ULID{}, fmt.Errorf("%w: %q: %v", ErrMalformed, id, err)
	}
	return prefix, u, nil
}

// Timestamp extracts the timestamp from a ULID
func Timestamp(id string) (time.Time, error) {
	parsed, err := Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
