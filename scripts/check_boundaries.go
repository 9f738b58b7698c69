package main

import (
	"fmt"
	"os"

	"agora/internal/platform/boundaries"
)

// Run from the repository root: go run ./scripts/check_boundaries.go
func main() {
	violations, err := boundaries.Check(".", "agora")
	if err != nil {
		fmt.Fprintf(os.Stderr, "boundary check failed: %v\n", err)
		os.Exit(2)
	}
	if len(violations) == 0 {
		fmt.Println("boundary checks passed")
		return
	}

	fmt.Println("boundary violations found:")
	for _, v := range violations {
		fmt.Printf("- %s\n", v)
	}
	os.Exit(1)
}
