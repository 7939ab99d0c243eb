// Package testutil provides test helpers that enforce the import boundaries
// between the domain layer, the engine and its adapters.
package testutil

import (
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// ModulePath is the import path prefix of this module.
const ModulePath = "graphversioner"

// AssertNoTransitiveDependency loads pattern (e.g. "." or "./...") relative to
// dir and fails the test if any package it transitively imports satisfies
// forbidden.
func AssertNoTransitiveDependency(t testing.TB, dir, pattern string, forbidden func(path string) bool, reason string) {
	t.Helper()
	viols, err := transitiveDependencyViolations(dir, pattern, forbidden)
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	failIfTransitiveViolations(t, reason, viols)
}

// AssertNoDirectImports scans the non-test .go files in dir and fails if any
// import path satisfies forbidden. Build tags are ignored.
func AssertNoDirectImports(t testing.TB, dir string, forbidden func(importPath string) bool, reason string) {
	t.Helper()
	viols, err := directImportViolations(dir, forbidden)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	failIfDirectViolations(t, reason, viols)
}

// NonStandardImport matches any path outside the standard library, including
// this module's own packages.
func NonStandardImport(path string) bool {
	first, _, _ := strings.Cut(path, "/")
	return strings.Contains(first, ".") || first == ModulePath
}

// InfraImportForbidden matches the concrete storage, blob and lock adapters.
func InfraImportForbidden(path string) bool {
	return strings.HasPrefix(path, ModulePath+"/internal/infra/")
}

// InternalImportForbidden matches any path containing /internal/.
func InternalImportForbidden(path string) bool {
	return strings.Contains(path, "/internal/")
}

var loadPackages = func(dir, pattern string) ([]*packages.Package, error) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports | packages.NeedDeps, Dir: dir}
	return packages.Load(cfg, pattern)
}

func transitiveDependencyViolations(dir, pattern string, forbidden func(path string) bool) ([]string, error) {
	roots, err := loadPackages(dir, pattern)
	if err != nil {
		return nil, err
	}
	var loadErrs []string
	seen := make(map[string]struct{})
	var viols []string
	var visit func(p *packages.Package)
	visit = func(p *packages.Package) {
		if _, ok := seen[p.PkgPath]; ok {
			return
		}
		seen[p.PkgPath] = struct{}{}
		for _, e := range p.Errors {
			loadErrs = append(loadErrs, e.Error())
		}
		if forbidden(p.PkgPath) {
			viols = append(viols, p.PkgPath)
		}
		for _, imp := range p.Imports {
			visit(imp)
		}
	}
	for _, root := range roots {
		// The roots themselves are not dependencies.
		seen[root.PkgPath] = struct{}{}
		for _, e := range root.Errors {
			loadErrs = append(loadErrs, e.Error())
		}
		for _, imp := range root.Imports {
			visit(imp)
		}
	}
	if len(loadErrs) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(loadErrs, "\n"))
	}
	sort.Strings(viols)
	return viols, nil
}

func directImportViolations(dir string, forbidden func(importPath string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var viols []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		file, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range file.Imports {
			ip, err := strconv.Unquote(imp.Path.Value)
			if err != nil {
				return nil, err
			}
			if forbidden(ip) {
				viols = append(viols, ip+" (in "+name+")")
			}
		}
	}
	return viols, nil
}

type fatalLogger interface {
	Fatalf(format string, args ...any)
}

func failIfTransitiveViolations(t fatalLogger, reason string, viols []string) {
	if len(viols) > 0 {
		t.Fatalf("forbidden transitive dependency detected (%s):\n%s", reason, strings.Join(viols, "\n"))
	}
}

func failIfDirectViolations(t fatalLogger, reason string, viols []string) {
	if len(viols) > 0 {
		t.Fatalf("forbidden direct imports detected (%s):\n%s", reason, strings.Join(viols, "\n"))
	}
}
