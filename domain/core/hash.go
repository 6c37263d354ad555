package core

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Hash represents a SHA256 hash for content addressing and dedup.
type Hash string

// NewHash creates a hash from raw bytes.
func NewHash(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// NewHashFromString creates a hash from a string.
func NewHashFromString(s string) Hash {
	return NewHash([]byte(s))
}

// NewHashFromParts hashes a set of labeled parts in a stable order, so
// callers do not have to worry about map iteration order.
func NewHashFromParts(parts map[string]string) Hash {
	keys := make([]string, 0, len(parts))
	for k := range parts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s;", k, parts[k])
	}
	return NewHashFromString(b.String())
}

// NewHashFromFloats fingerprints a numeric column bit-exactly.
func NewHashFromFloats(values []float64) Hash {
	buf := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return NewHash(buf)
}

func (h Hash) String() string {
	return string(h)
}

func (h Hash) IsEmpty() bool {
	return h == ""
}

// Short returns the first 12 hex chars, enough for log lines.
func (h Hash) Short() string {
	if len(h) < 12 {
		return string(h)
	}
	return string(h[:12])
}

func (h Hash) Equals(other Hash) bool {
	return h == other
}
