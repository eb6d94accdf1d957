package core

import (
	"go/types"
	"path/filepath"
	"runtime"
	"sort"
	"testing"

	"golang.org/x/tools/go/packages"
)

// TestRepositoryImplementationsHardening ensures only sanctioned persistence
// packages provide concrete implementations of domain.Repository, so a new
// backend cannot appear without an explicit update of this list.
func TestRepositoryImplementationsHardening(t *testing.T) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedTypes, Tests: true}
	pkgs, err := packages.Load(cfg, "recordkeeper/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	var repository *types.Interface
	for _, p := range pkgs {
		if p.PkgPath != "recordkeeper/pkg/domain" || p.Types == nil {
			continue
		}
		obj := p.Types.Scope().Lookup("Repository")
		if obj == nil {
			t.Fatalf("domain.Repository not found")
		}
		iface, ok := obj.Type().Underlying().(*types.Interface)
		if !ok {
			t.Fatalf("domain.Repository is not an interface")
		}
		repository = iface
		break
	}
	if repository == nil {
		t.Fatalf("failed to resolve domain.Repository")
	}
	allowed := map[string]struct{}{
		"recordkeeper/internal/infra/persistence/memory":   {},
		"recordkeeper/internal/infra/persistence/sqlite":   {},
		"recordkeeper/internal/infra/persistence/postgres": {},
		"recordkeeper/internal/infra/persistence/object":   {},
		"recordkeeper/internal/infra/persistence/cached":   {},
		"recordkeeper/internal/core":                       {}, // test doubles only
	}
	seen := make(map[string]struct{})
	for _, p := range pkgs {
		if p.Types == nil || p.Types.Scope() == nil {
			continue
		}
		for _, name := range p.Types.Scope().Names() {
			named, ok := p.Types.Scope().Lookup(name).Type().(*types.Named)
			if !ok {
				continue
			}
			if _, ok := named.Underlying().(*types.Struct); !ok {
				continue
			}
			if types.Implements(types.NewPointer(named), repository) {
				if _, ok := allowed[p.PkgPath]; !ok {
					seen[p.PkgPath+"."+name] = struct{}{}
				}
			}
		}
	}
	if len(seen) > 0 {
		unexpected := make([]string, 0, len(seen))
		for v := range seen {
			unexpected = append(unexpected, v)
		}
		sort.Strings(unexpected)
		_, file, line, _ := runtime.Caller(0)
		t.Fatalf("unexpected Repository implementations (update allowed list intentionally if adding a new backend):\nfile=%s:%d\n%s", filepath.Base(file), line, unexpected)
	}
}
