package unit

import (
	"testing"

	"agora/internal/platform/boundaries"
)

func TestContextLayeringBoundaries(t *testing.T) {
	root, err := findRepoRoot()
	if err != nil {
		t.Fatalf("resolve repo root: %v", err)
	}
	violations, err := boundaries.Check(root, "agora")
	if err != nil {
		t.Fatalf("boundary check failed: %v", err)
	}
	for _, v := range violations {
		t.Errorf("boundary violation: %s", v)
	}
}
