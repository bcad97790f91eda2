// Package id provides centralized ID generation for the core.
//
// Session and download identifiers must be unguessable: an attacker who can
// observe one identifier must not be able to predict another. ULIDs backed by
// crypto/rand entropy satisfy this while staying lexicographically sortable,
// which keeps storage directories listable in creation order. Prefixes make
// log lines readable (sess_*, dl_*).
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// SessionID identifies an ephemeral browsing session.
type SessionID string

// DownloadID identifies a quarantined download record.
type DownloadID string

const (
	SessionPrefix  = "sess"
	DownloadPrefix = "dl"
)

// Generator generates ULIDs with optional prefixes.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand.
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Useful for testing with deterministic entropy.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string.
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// NewSessionID generates a new session identifier.
func NewSessionID() SessionID {
	return SessionID(Default().GenerateWithPrefix(SessionPrefix))
}

// NewDownloadID generates a new download identifier.
func NewDownloadID() DownloadID {
	return DownloadID(Default().GenerateWithPrefix(DownloadPrefix))
}

func (id SessionID) String() string  { return string(id) }
func (id DownloadID) String() string { return string(id) }

// IsValid reports whether s is a prefixed ULID of the given kind.
func IsValid(s, prefix string) bool {
	raw, ok := strings.CutPrefix(s, prefix+"_")
	if !ok {
		return false
	}
	_, err := ulid.Parse(raw)
	return err == nil
}

// Timestamp extracts the embedded creation time from a prefixed identifier.
func Timestamp(s string) (time.Time, error) {
	if i := strings.IndexByte(s, '_'); i >= 0 {
		s = s[i+1:]
	}
	parsed, err := ulid.Parse(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
