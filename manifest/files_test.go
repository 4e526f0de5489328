package manifest

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/chazu/wang/ast"
	"github.com/chazu/wang/vm"
)

func writeModule(t *testing.T, path string, stmts ...ast.Statement) {
	t.Helper()
	data, err := ast.EncodeJSON(ast.Prog(stmts...))
	if err != nil {
		t.Fatalf("EncodeJSON: %v", err)
	}
	writeFile(t, path, string(data))
}

// project lays out an app with one path dependency mounted as "retry".
func project(t *testing.T) (*Manifest, []ResolvedDep) {
	t.Helper()
	root := t.TempDir()
	app := filepath.Join(root, "app")
	writeManifest(t, app, `
[project]
name = "app"

[engine]
max-call-depth = 32

[dependencies]
retry = { path = "../retry" }
`)
	writeManifest(t, filepath.Join(root, "retry"), "[project]\nname = \"retry\"\n")

	writeModule(t, filepath.Join(root, "retry", "src", "limits.json"),
		ast.Export(ast.Const("max", ast.Num(3))),
	)
	writeModule(t, filepath.Join(root, "retry", "src", "policy.json"),
		ast.Import("./limits", "max"),
		ast.Export(ast.Fn("attempts", ast.Params("n"), ast.Return(ast.Bin("*", ast.Ident("n"), ast.Ident("max"))))),
	)
	writeModule(t, filepath.Join(app, "src", "util", "names.json"),
		ast.ExportDefault(ast.Str("nightly")),
	)

	m, err := Load(app)
	if err != nil {
		t.Fatal(err)
	}
	deps, err := NewResolver(m).Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return m, deps
}

func TestFileResolverRunsImports(t *testing.T) {
	m, deps := project(t)
	interp := vm.New(m.Options(deps)...)
	prog := ast.Prog(
		ast.Import("retry/policy", "attempts"),
		ast.ImportDefault("./util/names", "job"),
		ast.Expr(ast.Array(ast.Call(ast.Ident("attempts"), ast.Num(2)), ast.Ident("job"))),
	)
	v, err := interp.Execute(context.Background(), prog)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got, want := vm.Export(v), []any{6.0, "nightly"}; !reflect.DeepEqual(got, want) {
		t.Errorf("result = %#v, want %#v", got, want)
	}
}

func TestFileResolverLookup(t *testing.T) {
	m, deps := project(t)
	r := m.ModuleResolver(deps)
	ctx := context.Background()

	tests := []struct {
		spec, from string
		want       string
	}{
		{"retry/policy", "main", "retry/policy.json"},
		{"./limits", "retry/policy.json", "retry/limits.json"},
		{"util/names.json", "main", "util/names.json"},
		{"./names", "util/other.json", "util/names.json"},
		{"retry/missing", "main", ""},
		{"../outside", "main", ""},
		{"policy", "main", ""},
	}
	for _, tt := range tests {
		exists := r.Exists(ctx, tt.spec, tt.from)
		mod, err := r.Resolve(ctx, tt.spec, tt.from)
		if tt.want == "" {
			if exists || err == nil {
				t.Errorf("%s from %s: found %v, want not found", tt.spec, tt.from, mod)
			}
			continue
		}
		if !exists || err != nil {
			t.Errorf("%s from %s: exists=%v err=%v", tt.spec, tt.from, exists, err)
			continue
		}
		if mod.Path != tt.want {
			t.Errorf("%s from %s: path = %q, want %q", tt.spec, tt.from, mod.Path, tt.want)
		}
		if _, err := ast.DecodeProgram([]byte(mod.Source)); err != nil {
			t.Errorf("%s: source does not decode: %v", mod.Path, err)
		}
	}
}

func TestFileResolverListAndMetadata(t *testing.T) {
	m, deps := project(t)
	r := m.ModuleResolver(deps)
	ctx := context.Background()

	all, err := r.List(ctx, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"retry/limits.json", "retry/policy.json", "util/names.json"}
	if !reflect.DeepEqual(all, want) {
		t.Errorf("List = %v, want %v", all, want)
	}
	dep, err := r.List(ctx, "retry/")
	if err != nil {
		t.Fatal(err)
	}
	if len(dep) != 2 {
		t.Errorf("List(retry/) = %v", dep)
	}

	md, err := r.Metadata(ctx, "retry/limits.json")
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if md.Path != "retry/limits.json" || md.Size == 0 || md.ModTime.IsZero() {
		t.Errorf("metadata = %+v", md)
	}
	if md.Extra["file"] == "" {
		t.Error("metadata has no file")
	}
	if _, err := r.Metadata(ctx, "nope.json"); err == nil {
		t.Error("Metadata on a missing module succeeded")
	}

	// The interpreter passes listing through to its resolver.
	interp := vm.New(m.Options(deps)...)
	names, err := interp.ListModules(ctx, "util")
	if err != nil || len(names) != 1 {
		t.Errorf("ListModules = %v, %v", names, err)
	}
}
