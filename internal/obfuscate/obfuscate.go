// Package obfuscate implements the partial-masking scheme applied to QR
// session codes. A session stores the full code plus a map of hidden
// positions; only the masked pattern ever leaves the server. A scanned
// pattern is validated structurally against the stored pair, so a pattern
// assembled without knowledge of the code fails even when the mask
// placeholder positions are guessed.
package obfuscate

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
)

// Placeholder substitutes hidden code positions in the rendered pattern.
const Placeholder = 'X'

// ErrInvalidConfiguration reports a hidden count that cannot be satisfied
// by the code length.
var ErrInvalidConfiguration = errors.New("obfuscate: hidden count exceeds code length")

// Map records which code positions are masked. Indices are disjoint and
// together cover the full code.
type Map struct {
	HiddenIndices  []int
	VisibleIndices []int
}

// GenerateMap picks hidden random distinct positions out of length.
func GenerateMap(length, hidden int) (Map, error) {
	if length <= 0 || hidden < 0 || hidden > length {
		return Map{}, ErrInvalidConfiguration
	}

	// Fisher-Yates over the index set, then split.
	indices := make([]int, length)
	for i := range indices {
		indices[i] = i
	}
	for i := length - 1; i > 0; i-- {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return Map{}, err
		}
		j := int(n.Int64())
		indices[i], indices[j] = indices[j], indices[i]
	}

	m := Map{
		HiddenIndices:  append([]int(nil), indices[:hidden]...),
		VisibleIndices: append([]int(nil), indices[hidden:]...),
	}
	sortInts(m.HiddenIndices)
	sortInts(m.VisibleIndices)
	return m, nil
}

// Apply renders the masked pattern: hidden positions become Placeholder,
// visible positions carry the code character.
func Apply(code string, m Map) string {
	out := []byte(code)
	for _, i := range m.HiddenIndices {
		if i >= 0 && i < len(out) {
			out[i] = Placeholder
		}
	}
	return string(out)
}

// Validate reports whether pattern is structurally consistent with the
// stored code and map: same length, Placeholder at every hidden position,
// and the original character at every visible position.
func Validate(code, pattern string, m Map) bool {
	if len(pattern) != len(code) {
		return false
	}
	for _, i := range m.HiddenIndices {
		if i < 0 || i >= len(pattern) || pattern[i] != Placeholder {
			return false
		}
	}
	for _, i := range m.VisibleIndices {
		if i < 0 || i >= len(pattern) || pattern[i] != code[i] {
			return false
		}
	}
	return true
}

// HiddenString returns the concatenation of masked code characters in
// index order. Recorded for diagnostics, never sent to clients.
func HiddenString(code string, m Map) string {
	var b strings.Builder
	b.Grow(len(m.HiddenIndices))
	for _, i := range m.HiddenIndices {
		if i >= 0 && i < len(code) {
			b.WriteByte(code[i])
		}
	}
	return b.String()
}

// insertion sort, index slices are small
func sortInts(s []int) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
