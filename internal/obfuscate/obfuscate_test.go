package obfuscate

import (
	"errors"
	"strings"
	"testing"
)

func TestGenerateMapPartitionsIndices(t *testing.T) {
	m, err := GenerateMap(20, 10)
	if err != nil {
		t.Fatalf("GenerateMap failed: %v", err)
	}
	if len(m.HiddenIndices) != 10 || len(m.VisibleIndices) != 10 {
		t.Fatalf("partition sizes %d/%d, want 10/10", len(m.HiddenIndices), len(m.VisibleIndices))
	}

	seen := map[int]bool{}
	for _, i := range append(append([]int{}, m.HiddenIndices...), m.VisibleIndices...) {
		if i < 0 || i >= 20 {
			t.Fatalf("index %d out of range", i)
		}
		if seen[i] {
			t.Fatalf("index %d appears twice", i)
		}
		seen[i] = true
	}
	if len(seen) != 20 {
		t.Fatalf("partition covers %d indices, want 20", len(seen))
	}
}

func TestGenerateMapBoundaries(t *testing.T) {
	if _, err := GenerateMap(10, 11); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("err = %v, want ErrInvalidConfiguration", err)
	}
	if _, err := GenerateMap(0, 0); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("err = %v, want ErrInvalidConfiguration", err)
	}

	m, err := GenerateMap(5, 0)
	if err != nil {
		t.Fatalf("zero hidden failed: %v", err)
	}
	if len(m.HiddenIndices) != 0 || len(m.VisibleIndices) != 5 {
		t.Fatalf("unexpected partition %v", m)
	}

	m, err = GenerateMap(5, 5)
	if err != nil {
		t.Fatalf("all hidden failed: %v", err)
	}
	if len(m.HiddenIndices) != 5 {
		t.Fatalf("unexpected partition %v", m)
	}
}

func TestApplyMasksOnlyHiddenPositions(t *testing.T) {
	code := "ABCDEFGHIJ"
	m := Map{HiddenIndices: []int{0, 4, 9}, VisibleIndices: []int{1, 2, 3, 5, 6, 7, 8}}

	pattern := Apply(code, m)
	if pattern != "XBCDXFGHIX" {
		t.Fatalf("pattern = %q", pattern)
	}
	if strings.Count(pattern, "X") != 3 {
		t.Fatalf("mask count = %d", strings.Count(pattern, "X"))
	}
}

func TestValidateAcceptsOwnPattern(t *testing.T) {
	code := "K7Q2M9ZL4PA0B3XCV8NW"
	m, err := GenerateMap(len(code), 10)
	if err != nil {
		t.Fatalf("GenerateMap failed: %v", err)
	}
	if !Validate(code, Apply(code, m), m) {
		t.Fatal("own pattern rejected")
	}
}

func TestValidateRejectsMutations(t *testing.T) {
	code := "ABCDEFGHIJ"
	m := Map{HiddenIndices: []int{1, 3}, VisibleIndices: []int{0, 2, 4, 5, 6, 7, 8, 9}}
	pattern := Apply(code, m)

	if Validate(code, pattern+"Z", m) {
		t.Fatal("accepted wrong length")
	}
	if Validate(code, "", m) {
		t.Fatal("accepted empty pattern")
	}

	// Any single-character mutation must be rejected: a visible change
	// breaks the code match, a hidden change breaks the placeholder.
	for i := 0; i < len(pattern); i++ {
		mutated := []byte(pattern)
		if mutated[i] == 'Z' {
			mutated[i] = 'Y'
		} else {
			mutated[i] = 'Z'
		}
		if Validate(code, string(mutated), m) {
			t.Fatalf("accepted mutation at index %d", i)
		}
	}
}

func TestHiddenString(t *testing.T) {
	code := "ABCDEF"
	m := Map{HiddenIndices: []int{1, 4}}
	if got := HiddenString(code, m); got != "BE" {
		t.Fatalf("hidden = %q, want BE", got)
	}
}
