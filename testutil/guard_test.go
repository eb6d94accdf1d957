package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type recordingFatal struct {
	msg string
}

func (r *recordingFatal) Fatalf(format string, _ ...any) { r.msg = format }

func TestInternalImportForbiddenPredicate(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"example.com/mod/internal/x", true},
		{"example.com/mod/pkg/x", false},
	}
	for _, c := range cases {
		if got := InternalImportForbidden(c.in); got != c.want {
			t.Fatalf("InternalImportForbidden(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestBackendImportForbiddenPredicate(t *testing.T) {
	if !BackendImportForbidden("recordkeeper/internal/infra/persistence/memory") {
		t.Fatalf("expected backend path to be forbidden")
	}
	if BackendImportForbidden("recordkeeper/internal/config") {
		t.Fatalf("expected config path to be allowed")
	}
}

func TestAllowOnly(t *testing.T) {
	pred := AllowOnly("fmt", "strings")
	if pred("fmt") || pred("strings") {
		t.Fatalf("approved imports reported as forbidden")
	}
	if !pred("os") {
		t.Fatalf("unapproved import reported as allowed")
	}
}

func writeFile(t *testing.T, dir, name, src string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestAssertNoDirectImportsIgnoresTestFilesAndDirs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "x.go", "package tmp\nimport \"fmt\"\nfunc X(){fmt.Println(1)}\n")
	writeFile(t, dir, "x_test.go", "package tmp\nimport \"forbidden/pkg\"\n")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	AssertNoDirectImports(t, dir, func(p string) bool { return p == "forbidden/pkg" }, "none")
}

func TestDirectImportViolationsReportsOffenders(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package tmp\nimport (\n\t\"fmt\"\n\t\"example.com/mod/internal/x\"\n)\nvar _ = fmt.Sprint\nvar _ = x.Y\n")
	viols, err := directImportViolations(dir, InternalImportForbidden)
	if err != nil {
		t.Fatalf("violations: %v", err)
	}
	if len(viols) != 1 || !strings.Contains(viols[0], "a.go") {
		t.Fatalf("unexpected violations: %v", viols)
	}
	rec := &recordingFatal{}
	failIfDirectViolations(rec, "reason", viols)
	if rec.msg == "" {
		t.Fatalf("expected fatal to be reported")
	}
}

func TestDirectImportViolationsParseError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.go", "package tmp\nimport (\n")
	if _, err := directImportViolations(dir, InternalImportForbidden); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := directImportViolations(filepath.Join(dir, "missing"), InternalImportForbidden); err == nil {
		t.Fatalf("expected read dir error")
	}
}
