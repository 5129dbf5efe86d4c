package domain

import (
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// TestDomainDoesNotImportInternal enforces that the domain layer depends on
// nothing under internal/, directly or transitively.
func TestDomainDoesNotImportInternal(t *testing.T) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports | packages.NeedDeps}
	pkgs, err := packages.Load(cfg, ".")
	if err != nil {
		t.Fatalf("load package: %v", err)
	}
	if packages.PrintErrors(pkgs) > 0 {
		t.Fatalf("package load reported errors")
	}

	violations := 0
	seen := map[string]bool{}
	var walk func(p *packages.Package)
	walk = func(p *packages.Package) {
		for path, imp := range p.Imports {
			if seen[path] {
				continue
			}
			seen[path] = true
			if strings.HasPrefix(path, "bibstat/internal/") {
				violations++
				t.Errorf("domain package must not import internal packages: %s (via %s)", path, p.PkgPath)
			}
			if strings.HasPrefix(path, "bibstat/") {
				walk(imp)
			}
		}
	}
	for _, p := range pkgs {
		walk(p)
	}
	if violations > 0 {
		t.Fatalf("found %d forbidden internal imports in domain package", violations)
	}
}
