package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/wang/ast"
	"github.com/chazu/wang/vm"
	"github.com/chazu/wang/vm/wire"
)

func testProject(t *testing.T) *project {
	t.Helper()
	p, err := loadProject(t.TempDir())
	if err != nil {
		t.Fatalf("loadProject: %v", err)
	}
	if p.Manifest != nil {
		t.Fatalf("unexpected manifest at %s", p.Manifest.Dir)
	}
	return p
}

// writeSum writes a program adding 0..9 to dir/sum.json.
func writeSum(t *testing.T, dir string) string {
	t.Helper()
	prog := ast.Prog(
		ast.Let("total", ast.Num(0)),
		ast.For(ast.Let("i", ast.Num(0)), ast.Bin("<", ast.Ident("i"), ast.Num(10)), ast.Update("++", false, ast.Ident("i")),
			ast.Expr(ast.AssignOp("+=", ast.Ident("total"), ast.Ident("i")))),
		ast.Expr(ast.Ident("total")),
	)
	data, err := ast.EncodeJSON(prog)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "sum.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPrintValue(t *testing.T) {
	tests := []struct {
		name   string
		value  vm.Value
		pretty bool
		want   string
	}{
		{"number json", 45.0, false, "45\n"},
		{"object json", vm.NewObject(map[string]vm.Value{"a": 1.0}), false, "{\"a\":1}\n"},
		{"array pretty", vm.NewArray(1.0, "x"), true, vm.Inspect(vm.NewArray(1.0, "x")) + "\n"},
		{"undefined", vm.Undefined, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := printValue(&buf, tt.value, tt.pretty); err != nil {
				t.Fatalf("printValue: %v", err)
			}
			if got := buf.String(); got != tt.want {
				t.Errorf("printValue = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRunPauseToFileAndResume(t *testing.T) {
	p := testProject(t)
	file := writeSum(t, p.Dir)
	snapFile := filepath.Join(p.Dir, "sum.snap")

	if code := handleRunCommand([]string{"-pause-after", "4", "-o", snapFile, "-format", "cbor", file}, p); code != 0 {
		t.Fatalf("run exited %d", code)
	}
	data, err := os.ReadFile(snapFile)
	if err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}
	if wire.Detect(data) != wire.FormatCBOR {
		t.Error("snapshot should be CBOR")
	}

	snap, id, err := loadSnapshot(context.Background(), p, snapFile)
	if err != nil {
		t.Fatalf("loadSnapshot: %v", err)
	}
	if id != "" {
		t.Errorf("file snapshot should have no store id, got %q", id)
	}
	interp, err := vm.Deserialize(snap, p.Options()...)
	if err != nil {
		t.Fatal(err)
	}
	v, err := interp.Resume(context.Background())
	if err != nil || v != 45.0 {
		t.Fatalf("Resume = %v, %v; want 45", v, err)
	}

	if code := handleResumeCommand([]string{"-json", snapFile}, p); code != 0 {
		t.Errorf("resume exited %d", code)
	}
}

func TestRunPauseToStore(t *testing.T) {
	p := testProject(t)
	file := writeSum(t, p.Dir)

	if code := handleRunCommand([]string{"-pause-after", "4", "-save", "-label", "sum", file}, p); code != 0 {
		t.Fatalf("run exited %d", code)
	}

	st, err := p.openStore()
	if err != nil {
		t.Fatal(err)
	}
	recs, err := st.List(context.Background())
	st.Close()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Label != "sum" || recs[0].Phase != vm.PhasePaused {
		t.Fatalf("records = %+v", recs)
	}

	snap, id, err := loadSnapshot(context.Background(), p, recs[0].ID[:8])
	if err != nil {
		t.Fatalf("loadSnapshot by prefix: %v", err)
	}
	if id != recs[0].ID || snap == nil {
		t.Errorf("loadSnapshot id = %q, want %q", id, recs[0].ID)
	}

	if code := handleSnapshotsCommand([]string{"rm", id}, p); code != 0 {
		t.Errorf("snapshots rm exited %d", code)
	}
	if _, _, err := loadSnapshot(context.Background(), p, id); err == nil {
		t.Error("deleted snapshot should not load")
	}
}

func TestRunReportsScriptErrors(t *testing.T) {
	p := testProject(t)
	data, err := ast.EncodeJSON(ast.Prog(ast.Expr(ast.Ident("missing"))))
	if err != nil {
		t.Fatal(err)
	}
	file := filepath.Join(p.Dir, "bad.json")
	if err := os.WriteFile(file, data, 0644); err != nil {
		t.Fatal(err)
	}
	if code := handleRunCommand([]string{file}, p); code != 1 {
		t.Errorf("run exited %d, want 1", code)
	}
	if code := handleRunCommand(nil, p); code != 1 {
		t.Errorf("run without program or manifest exited %d, want 1", code)
	}
}
