package vm

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/tools/txtar"

	"github.com/chazu/wang/ast"
)

func encodeModule(t *testing.T, stmts ...ast.Statement) string {
	t.Helper()
	data, err := ast.EncodeJSON(ast.Prog(stmts...))
	if err != nil {
		t.Fatalf("EncodeJSON: %v", err)
	}
	return string(data)
}

// archive builds a txtar archive of module documents.
func archive(t *testing.T, modules map[string][]ast.Statement) []byte {
	t.Helper()
	ar := &txtar.Archive{Comment: []byte("test modules\n")}
	for _, name := range sortedKeys(modules) {
		ar.Files = append(ar.Files, txtar.File{Name: name, Data: []byte(encodeModule(t, modules[name]...) + "\n")})
	}
	return txtar.Format(ar)
}

func TestImportNamedAndDefault(t *testing.T) {
	resolver := NewMemoryResolver(map[string]string{
		"lib/math.json": encodeModule(t,
			ast.Export(ast.Fn("square", ast.Params("x"), ast.Return(ast.Bin("*", ast.Ident("x"), ast.Ident("x"))))),
			ast.Export(ast.Const("pi", ast.Num(3))),
			ast.ExportDefault(ast.Str("math")),
		),
	})
	prog := ast.Prog(
		ast.Import("./lib/math", "square", "pi"),
		ast.ImportDefault("./lib/math", "label"),
		ast.ImportAll("./lib/math", "m"),
		ast.Expr(ast.Array(ast.Call(ast.Ident("square"), ast.Ident("pi")), ast.Ident("label"), ast.Member(ast.Ident("m"), "pi"))),
	)
	assertExport(t, mustRun(t, prog, WithResolver(resolver)), []any{9.0, "math", 3.0})
}

func TestImportIsLiveAndReadOnly(t *testing.T) {
	resolver := NewMemoryResolver(map[string]string{
		"counter.json": encodeModule(t,
			ast.Export(ast.Let("count", ast.Num(0))),
			ast.Export(ast.Fn("bump", ast.Params(), ast.Expr(ast.AssignOp("+=", ast.Ident("count"), ast.Num(1))))),
		),
	})
	t.Run("live", func(t *testing.T) {
		prog := ast.Prog(
			ast.Import("./counter", "count", "bump"),
			ast.Expr(ast.Call(ast.Ident("bump"))),
			ast.Expr(ast.Call(ast.Ident("bump"))),
			ast.Expr(ast.Ident("count")),
		)
		assertExport(t, mustRun(t, prog, WithResolver(resolver)), 2.0)
	})
	t.Run("read only", func(t *testing.T) {
		re := runFails(t, ast.Prog(
			ast.Import("./counter", "count"),
			ast.Expr(ast.Assign(ast.Ident("count"), ast.Num(5))),
		), WithResolver(resolver))
		if !errors.Is(re, ErrConstReassignment) {
			t.Errorf("error = %v, want ConstReassignment", re)
		}
	})
	t.Run("namespace is read only", func(t *testing.T) {
		re := runFails(t, ast.Prog(
			ast.ImportAll("./counter", "c"),
			ast.Expr(ast.Assign(ast.Member(ast.Ident("c"), "count"), ast.Num(5))),
		), WithResolver(resolver))
		if !errors.Is(re, ErrConstReassignment) {
			t.Errorf("error = %v, want ConstReassignment", re)
		}
	})
}

func TestModuleRunsOnce(t *testing.T) {
	loads := 0
	hit := WithHostFunction("loaded", func(call *Call) (Value, error) {
		loads++
		return nil, nil
	})
	resolver := NewMemoryResolver(map[string]string{
		"shared.json": encodeModule(t,
			ast.Expr(ast.Call(ast.Ident("loaded"))),
			ast.Export(ast.Const("v", ast.Num(1))),
		),
		"a.json": encodeModule(t,
			ast.Import("./shared", "v"),
			ast.Export(ast.Const("a", ast.Bin("+", ast.Ident("v"), ast.Num(1)))),
		),
	})
	prog := ast.Prog(
		ast.Import("./shared", "v"),
		ast.Import("./a", "a"),
		ast.Expr(ast.Bin("+", ast.Ident("v"), ast.Ident("a"))),
	)
	interp := New(hit, WithResolver(resolver))
	v, err := interp.Execute(context.Background(), prog)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	assertExport(t, v, 3.0)
	if loads != 1 {
		t.Errorf("shared module ran %d times, want 1", loads)
	}
	var paths []string
	for _, m := range interp.Modules() {
		paths = append(paths, m.Path)
		if m.InProgress {
			t.Errorf("module %s still in progress", m.Path)
		}
	}
	if strings.Join(paths, ",") != "a.json,shared.json" {
		t.Errorf("modules = %v", paths)
	}
}

func TestCircularImports(t *testing.T) {
	// isEven and isOdd live in modules that import each other. Function
	// exports are hoisted, so each side sees the other's function.
	n := func() ast.Expression { return ast.Ident("n") }
	data := archive(t, map[string][]ast.Statement{
		"even.json": {
			ast.Import("./odd", "isOdd"),
			ast.Export(ast.Fn("isEven", ast.Params("n"), ast.Return(ast.Cond(
				ast.Bin("===", n(), ast.Num(0)), ast.Bool(true), ast.Call(ast.Ident("isOdd"), ast.Bin("-", n(), ast.Num(1))))))),
		},
		"odd.json": {
			ast.Import("./even", "isEven"),
			ast.Export(ast.Fn("isOdd", ast.Params("n"), ast.Return(ast.Cond(
				ast.Bin("===", n(), ast.Num(0)), ast.Bool(false), ast.Call(ast.Ident("isEven"), ast.Bin("-", n(), ast.Num(1))))))),
		},
		"early.json": {
			ast.Import("./late", "late"),
			ast.Export(ast.Const("early", ast.Num(1))),
		},
		"late.json": {
			ast.Import("./early", "early"),
			ast.Export(ast.Const("late", ast.Bin("+", ast.Ident("early"), ast.Num(1)))),
		},
		"self.json": {
			ast.Import("./self", "x"),
			ast.Export(ast.Const("x", ast.Num(1))),
		},
	})
	resolver := NewArchiveResolver(data)

	t.Run("mutual recursion", func(t *testing.T) {
		prog := ast.Prog(
			ast.Import("./even", "isEven"),
			ast.Expr(ast.Array(ast.Call(ast.Ident("isEven"), ast.Num(10)), ast.Call(ast.Ident("isEven"), ast.Num(7)))),
		)
		assertExport(t, mustRun(t, prog, WithResolver(resolver)), []any{true, false})
	})
	t.Run("partial export is not yet initialized", func(t *testing.T) {
		re := runFails(t, ast.Prog(ast.Import("./early", "early")), WithResolver(resolver))
		if re.Kind != KindUndefinedVariable || !strings.Contains(re.Message, "not yet initialized") {
			t.Errorf("error = %v, want an uninitialized export", re)
		}
	})
	t.Run("self import", func(t *testing.T) {
		re := runFails(t, ast.Prog(ast.Import("./self", "x")), WithResolver(resolver))
		if !errors.Is(re, ErrCircularDependency) {
			t.Fatalf("error = %v, want CircularDependency", re)
		}
		if !strings.Contains(re.Message, "self.json -> self.json") {
			t.Errorf("message = %q, want the cycle", re.Message)
		}
	})
}

func TestModuleErrors(t *testing.T) {
	resolver := NewMemoryResolver(map[string]string{
		"broken.json": `{"type": "Nope"}`,
		"thrower.json": encodeModule(t, ast.Throw(ast.Str("module failed"))),
		"lib.json":     encodeModule(t, ast.Export(ast.Const("a", ast.Num(1)))),
	})
	tests := []struct {
		name string
		stmt ast.Statement
		want error
	}{
		{"missing module", ast.Import("./missing", "x"), ErrModuleNotFound},
		{"parse failure", ast.Import("./broken", "x"), ErrTypeMismatch},
		{"module throws", ast.Import("./thrower", "x"), ErrScriptThrow},
		{"missing export", ast.Import("./lib", "b"), ErrUndefinedVariable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			re := runFails(t, ast.Prog(tt.stmt), WithResolver(resolver))
			if !errors.Is(re, tt.want) {
				t.Errorf("error = %v, want %v", re, tt.want)
			}
		})
	}
	t.Run("no resolver", func(t *testing.T) {
		re := runFails(t, ast.Prog(ast.Import("./lib", "a")))
		if !errors.Is(re, ErrModuleNotFound) {
			t.Errorf("error = %v, want ModuleNotFound", re)
		}
	})
}

func TestFailedModuleIsNotCached(t *testing.T) {
	resolver := NewMemoryResolver(map[string]string{
		"flaky.json": encodeModule(t, ast.Throw(ast.Str("first"))),
	})
	interp := New(WithResolver(resolver))
	if _, err := interp.Execute(context.Background(), ast.Prog(ast.Import("./flaky"))); err == nil {
		t.Fatal("first import succeeded")
	}
	resolver.Add("flaky.json", encodeModule(t, ast.Export(ast.Const("ok", ast.Bool(true)))))
	v, err := interp.Execute(context.Background(), ast.Prog(ast.Import("./flaky", "ok"), ast.Expr(ast.Ident("ok"))))
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	assertExport(t, v, true)
}

func TestRelativeImportsBetweenModules(t *testing.T) {
	resolver := NewMemoryResolver(map[string]string{
		"pkg/util/strings.json": encodeModule(t, ast.Export(ast.Const("sep", ast.Str("/")))),
		"pkg/main.json": encodeModule(t,
			ast.Import("./util/strings", "sep"),
			ast.Export(ast.Const("joined", ast.Bin("+", ast.Bin("+", ast.Str("a"), ast.Ident("sep")), ast.Str("b")))),
		),
	})
	prog := ast.Prog(ast.Import("pkg/main", "joined"), ast.Expr(ast.Ident("joined")))
	assertExport(t, mustRun(t, prog, WithResolver(resolver)), "a/b")
}

func TestListModulesAndMetadata(t *testing.T) {
	src := []byte(encodeModule(t, ast.Export(ast.Const("a", ast.Num(1)))) + "\n")
	file := filepath.Join(t.TempDir(), "mods.txtar")
	ar := &txtar.Archive{Files: []txtar.File{
		{Name: "lib/a.json", Data: src},
		{Name: "lib/b.json", Data: src},
		{Name: "other.json", Data: src},
	}}
	if err := os.WriteFile(file, txtar.Format(ar), 0o644); err != nil {
		t.Fatal(err)
	}
	resolver, err := LoadArchiveResolver(file)
	if err != nil {
		t.Fatalf("LoadArchiveResolver: %v", err)
	}
	interp := New(WithResolver(resolver))
	got, err := interp.ListModules(context.Background(), "lib/")
	if err != nil {
		t.Fatalf("ListModules: %v", err)
	}
	if strings.Join(got, ",") != "lib/a.json,lib/b.json" {
		t.Errorf("ListModules = %v", got)
	}
	md, err := interp.ModuleMetadata(context.Background(), "lib/a.json")
	if err != nil {
		t.Fatalf("ModuleMetadata: %v", err)
	}
	if md.Size != int64(len(src)) {
		t.Errorf("size = %d, want %d", md.Size, len(src))
	}
	if _, err := New().ListModules(context.Background(), ""); err == nil {
		t.Error("ListModules without a resolver succeeded")
	}
}
