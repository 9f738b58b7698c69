package boundaries

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSource(t *testing.T, root, rel, imports string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	pkg := filepath.Base(filepath.Dir(path))
	source := "package " + strings.ReplaceAll(pkg, "-", "") + "\n\nimport (\n" + imports + ")\n"
	if err := os.WriteFile(path, []byte(source), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func TestCheckReportsLayerViolations(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "contexts/gov/poll/domain/entities/poll.go", "\t\"time\"\n\t\"example.com/app/contexts/gov/poll/ports\"\n")
	writeSource(t, root, "contexts/gov/poll/ports/ports.go", "\t\"context\"\n\t\"example.com/app/contexts/gov/poll/adapters/memory\"\n")
	writeSource(t, root, "contexts/gov/poll/application/commands/cmd.go", "\t\"example.com/app/internal/platform/db\"\n\t\"example.com/app/contexts/gov/other/ports\"\n")
	writeSource(t, root, "contexts/gov/poll/adapters/memory/store.go", "\t\"github.com/google/uuid\"\n\t\"example.com/app/contexts/gov/poll/ports\"\n")
	// Test files are skipped.
	writeSource(t, root, "contexts/gov/poll/domain/entities/poll_test.go", "\t\"example.com/app/internal/platform/db\"\n")

	violations, err := Check(root, "example.com/app")
	if err != nil {
		t.Fatalf("check: %v", err)
	}

	got := make([]string, 0, len(violations))
	for _, v := range violations {
		got = append(got, v.File+" "+v.Rule)
	}
	want := []string{
		"contexts/gov/poll/application/commands/cmd.go application must not import runtime infrastructure",
		"contexts/gov/poll/application/commands/cmd.go application import is outside explicit allowlist",
		"contexts/gov/poll/application/commands/cmd.go cross-module imports are forbidden",
		"contexts/gov/poll/application/commands/cmd.go application import is outside explicit allowlist",
		"contexts/gov/poll/domain/entities/poll.go domain import is outside explicit allowlist",
		"contexts/gov/poll/ports/ports.go ports must not import adapters",
		"contexts/gov/poll/ports/ports.go ports import is outside explicit allowlist",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d violations, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("violation %d: expected %q, got %q (all: %v)", i, want[i], got[i], got)
		}
	}
}

func TestCheckAcceptsCleanLayout(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "contexts/gov/poll/domain/entities/poll.go", "\t\"example.com/app/contexts/gov/poll/domain/errors\"\n")
	writeSource(t, root, "contexts/gov/poll/ports/ports.go", "\t\"example.com/app/contexts/gov/poll/domain/entities\"\n\t\"example.com/app/contracts/gen/events/v1\"\n")
	writeSource(t, root, "contexts/gov/poll/application/workers/relay.go", "\t\"log/slog\"\n\t\"example.com/app/contexts/gov/poll/ports\"\n")
	writeSource(t, root, "contexts/gov/poll/module.go", "\t\"example.com/app/contexts/gov/poll/adapters/memory\"\n")

	violations, err := Check(root, "example.com/app")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(violations) != 0 {
		t.Fatalf("expected no violations, got %v", violations)
	}
}
