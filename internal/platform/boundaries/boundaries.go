// Package boundaries enforces the import layering of bounded-context
// services under contexts/<group>/<service>/<layer>.
package boundaries

import (
	"fmt"
	"go/parser"
	"go/token"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// Violation is one import that breaks the layering of a service.
type Violation struct {
	File   string
	Line   int
	Import string
	Rule   string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s:%d imports %q (%s)", v.File, v.Line, v.Import, v.Rule)
}

// layerRule lists what a layer may import besides the standard library.
// Entries starting with "@service" are relative to the importing service;
// the rest are relative to the module path.
type layerRule struct {
	allowed []string
}

var layerRules = map[string]layerRule{
	"domain": {allowed: []string{"@service/domain"}},
	"application": {allowed: []string{
		"@service/application",
		"@service/domain",
		"@service/ports",
		"contracts",
	}},
	"ports": {allowed: []string{"@service/domain", "contracts"}},
}

// runtimeRoots are module directories no inner layer may reach into.
var runtimeRoots = []string{"internal", "integrations", "platform"}

// Check parses every non-test Go file under root/contexts and returns the
// violations sorted by file, line and import. modulePath is the path in
// go.mod.
func Check(root string, modulePath string) ([]Violation, error) {
	contextsDir := filepath.Join(root, "contexts")
	var violations []Violation

	err := filepath.WalkDir(contextsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		parts := strings.Split(rel, "/")
		if len(parts) < 4 {
			return nil
		}
		service := modulePath + "/" + strings.Join(parts[:3], "/")

		found, err := checkFile(path, rel, parts[3], service, modulePath)
		if err != nil {
			return err
		}
		violations = append(violations, found...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(violations, func(i, j int) bool {
		a, b := violations[i], violations[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Import < b.Import
	})
	return violations, nil
}

func checkFile(path, rel, layer, service, modulePath string) ([]Violation, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", rel, err)
	}

	rule, layered := layerRules[layer]
	var violations []Violation
	for _, spec := range file.Imports {
		importPath := strings.Trim(spec.Path.Value, `"`)
		report := func(reason string) {
			violations = append(violations, Violation{
				File:   rel,
				Line:   fset.Position(spec.Pos()).Line,
				Import: importPath,
				Rule:   reason,
			})
		}

		if within(importPath, modulePath+"/contexts") && !within(importPath, service) {
			report("cross-module imports are forbidden")
		}
		if !layered || isStdlib(importPath, modulePath) {
			continue
		}
		if strings.Contains(importPath, "/adapters/") {
			report(layer + " must not import adapters")
		}
		for _, dir := range runtimeRoots {
			if within(importPath, modulePath+"/"+dir) {
				report(layer + " must not import runtime infrastructure")
			}
		}
		if !rule.permits(importPath, service, modulePath) {
			report(layer + " import is outside explicit allowlist")
		}
	}
	return violations, nil
}

func (r layerRule) permits(importPath, service, modulePath string) bool {
	for _, entry := range r.allowed {
		prefix := modulePath + "/" + entry
		if rest, ok := strings.CutPrefix(entry, "@service"); ok {
			prefix = service + rest
		}
		if within(importPath, prefix) {
			return true
		}
	}
	return false
}

func within(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// isStdlib treats any path whose first element has no dot as standard
// library, except the module itself.
func isStdlib(importPath, modulePath string) bool {
	if within(importPath, modulePath) {
		return false
	}
	first, _, _ := strings.Cut(importPath, "/")
	return !strings.Contains(first, ".")
}
