// Package id generates globally unique, type-prefixed identifiers for
// sessions, messages, parts, tool calls and requests.
//
// Stateful generators produce "<prefix>_<counter>_<random>"; the counter
// gives humans a stable within-process ordering for debugging and is not
// an ordering guarantee across processes. The random component is 16 hex
// characters (64 bits of entropy) taken from a v4 UUID.
package id

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Generator is a stateful, counter-carrying id generator for one entity type.
type Generator struct {
	prefix  string
	counter atomic.Int64
}

// NewGenerator creates a generator for the given prefix.
func NewGenerator(prefix string) *Generator {
	return &Generator{prefix: prefix}
}

// Next returns "<prefix>_<counter>_<random>".
func (g *Generator) Next() string {
	n := g.counter.Add(1)
	r := random()
	if g.prefix == "" {
		return strconv.FormatInt(n, 10) + "_" + r
	}
	return g.prefix + "_" + strconv.FormatInt(n, 10) + "_" + r
}

// Counter returns the current counter value.
func (g *Generator) Counter() int64 { return g.counter.Load() }

// Reset sets the counter back to zero. Used by tests.
func (g *Generator) Reset() { g.counter.Store(0) }

func random() string {
	u := uuid.New()
	return hex.EncodeToString(u[:8])
}

// New returns "<prefix>_<random>" without a counter component.
func New(prefix string) string {
	if prefix == "" {
		return random()
	}
	return prefix + "_" + random()
}

// Deterministic derives a stable id from a seed string.
func Deterministic(seed, prefix string) string {
	sum := sha256.Sum256([]byte(seed))
	h := hex.EncodeToString(sum[:])[:16]
	if prefix == "" {
		return h
	}
	return prefix + "_" + h
}

// Timestamped returns "<prefix>_<unix-millis>_<random8>".
func Timestamped(prefix string) string {
	s := fmt.Sprintf("%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
	if prefix == "" {
		return s
	}
	return prefix + "_" + s
}

// Process-wide generators for the core entity types.
var (
	sessionGen  = NewGenerator("session")
	messageGen  = NewGenerator("message")
	partGen     = NewGenerator("part")
	toolCallGen = NewGenerator("tool")
	requestGen  = NewGenerator("req")
)

// Session returns a new session id.
func Session() string { return sessionGen.Next() }

// Message returns a new message id.
func Message() string { return messageGen.Next() }

// Part returns a new part id.
func Part() string { return partGen.Next() }

// ToolCall returns a new tool-call id.
func ToolCall() string { return toolCallGen.Next() }

// Request returns a new request id.
func Request() string { return requestGen.Next() }
