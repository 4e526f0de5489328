package vm

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/chazu/wang/ast"
)

// workflow exercises every construct that can hold a captured frame:
//
//	class Acc { total = 0; add(n) { this.total += n; return this.total } }
//	const acc = new Acc()
//	function step(n) { let r = 0; for (let k = 0; k < n; k++) { r += k }; return r }
//	function squares(xs) { return xs.map(x => x * x) }
//	let log = []
//	for (const v of [1, 2, 3]) {
//	  const s = step(v)
//	  acc.add(s)
//	  try { if (v === 2) { throw "two" }; log.push(v) }
//	  catch (e) { log.push(e) }
//	  finally { log.push("f") }
//	  switch (v) { case 1: log.push("one"); case 2: log.push("fall"); break; default: log.push("d") }
//	}
//	let i = 0
//	while (i < 3) { i++ }
//	do { i += 10 } while (i < 20)
//	const sq = [1, 2, 3] |> squares
//	function start(n) { let z = n; return z }
//	function pick() { let p = [4, 5]; return p }
//	let extra = 0
//	for (let k = start(1); k < 3; k++) { extra += k }
//	for (const x of pick()) { extra += x }
//	[acc.total, log.join(","), i, sq, extra]
func workflow() *ast.Program {
	id := ast.Ident
	push := func(e ast.Expression) ast.Statement { return ast.Expr(ast.MethodCall(id("log"), "push", e)) }
	return ast.Prog(
		ast.Class("Acc", nil,
			ast.Field("total", ast.Num(0)),
			ast.Method("add", ast.Params("n"),
				ast.Expr(ast.AssignOp("+=", ast.Member(ast.This(), "total"), id("n"))),
				ast.Return(ast.Member(ast.This(), "total"))),
		),
		ast.Const("acc", ast.New(id("Acc"))),
		ast.Fn("step", ast.Params("n"),
			ast.Let("r", ast.Num(0)),
			ast.For(ast.Let("k", ast.Num(0)), ast.Bin("<", id("k"), id("n")), ast.Update("++", false, id("k")),
				ast.Expr(ast.AssignOp("+=", id("r"), id("k")))),
			ast.Return(id("r")),
		),
		ast.Fn("squares", ast.Params("xs"),
			ast.Return(ast.MethodCall(id("xs"), "map", ast.Arrow(ast.Params("x"), ast.Bin("*", id("x"), id("x")))))),
		ast.Let("log", ast.Array()),
		ast.ForOf(ast.KindConst, "v", ast.Array(ast.Num(1), ast.Num(2), ast.Num(3)),
			ast.Const("s", ast.Call(id("step"), id("v"))),
			ast.Expr(ast.MethodCall(id("acc"), "add", id("s"))),
			ast.Try(
				ast.Block(
					ast.If(ast.Bin("===", id("v"), ast.Num(2)), ast.Block(ast.Throw(ast.Str("two"))), nil),
					push(id("v"))),
				"e",
				ast.Block(push(id("e"))),
				ast.Block(push(ast.Str("f")))),
			ast.Switch(id("v"),
				ast.Case(ast.Num(1), push(ast.Str("one"))),
				ast.Case(ast.Num(2), push(ast.Str("fall")), ast.Break("")),
				ast.Default(push(ast.Str("d")))),
		),
		ast.Let("i", ast.Num(0)),
		ast.While(ast.Bin("<", id("i"), ast.Num(3)), ast.Expr(ast.Update("++", false, id("i")))),
		ast.DoWhile(ast.Bin("<", id("i"), ast.Num(20)), ast.Expr(ast.AssignOp("+=", id("i"), ast.Num(10)))),
		ast.Const("sq", ast.Pipe(ast.Array(ast.Num(1), ast.Num(2), ast.Num(3)), id("squares"))),
		ast.Fn("start", ast.Params("n"),
			ast.Let("z", id("n")),
			ast.Return(id("z"))),
		ast.Fn("pick", nil,
			ast.Let("p", ast.Array(ast.Num(4), ast.Num(5))),
			ast.Return(id("p"))),
		ast.Let("extra", ast.Num(0)),
		ast.For(ast.Let("k", ast.Call(id("start"), ast.Num(1))), ast.Bin("<", id("k"), ast.Num(3)), ast.Update("++", false, id("k")),
			ast.Expr(ast.AssignOp("+=", id("extra"), id("k")))),
		ast.ForOf(ast.KindConst, "x", ast.Call(id("pick")),
			ast.Expr(ast.AssignOp("+=", id("extra"), id("x")))),
		ast.Expr(ast.Array(ast.Member(id("acc"), "total"), ast.MethodCall(id("log"), "join", ast.Str(",")), id("i"), id("sq"), id("extra"))),
	)
}

var workflowResult = []any{4.0, "1,f,one,fall,two,f,fall,3,f,d", 23.0, []any{1.0, 4.0, 9.0}, 12.0}

// roundTrip serializes a paused interpreter through JSON and restores it.
func roundTrip(t *testing.T, interp *Interpreter, opts ...Option) *Interpreter {
	t.Helper()
	snap, err := interp.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	data, err := snap.JSON()
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}
	parsed, err := ParseSnapshot(data)
	if err != nil {
		t.Fatalf("ParseSnapshot: %v", err)
	}
	restored, err := Deserialize(parsed, opts...)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	return restored
}

func TestWorkflowBaseline(t *testing.T) {
	assertExport(t, mustRun(t, workflow()), workflowResult)
}

func TestPauseResumeAtEveryOperation(t *testing.T) {
	baseline := New()
	if _, err := baseline.Execute(context.Background(), workflow()); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	total := baseline.ExecutionState().Operations
	if total < 20 {
		t.Fatalf("workflow ran only %d operations", total)
	}
	for k := int64(1); k <= total; k++ {
		interp := New()
		interp.PauseAfter(k)
		v, err := interp.Execute(context.Background(), workflow())
		if err == nil {
			t.Fatalf("k=%d: completed without pausing", k)
		}
		if !errors.Is(err, ErrPaused) {
			t.Fatalf("k=%d: Execute: %v", k, err)
		}
		restored := roundTrip(t, interp)
		if st := restored.ExecutionState(); st.Phase != PhasePaused {
			t.Fatalf("k=%d: restored phase = %s", k, st.Phase)
		}
		v, err = restored.Resume(context.Background())
		if err != nil {
			t.Fatalf("k=%d: Resume: %v", k, err)
		}
		if got := Export(v); !reflect.DeepEqual(got, workflowResult) {
			t.Fatalf("k=%d: result = %#v, want %#v", k, got, workflowResult)
		}
		if ops := restored.ExecutionState().Operations; ops != total {
			t.Errorf("k=%d: operations = %d, want %d", k, ops, total)
		}
	}
}

func TestRepeatedPauses(t *testing.T) {
	interp := New()
	interp.PauseAfter(5)
	_, err := interp.Execute(context.Background(), workflow())
	for pauses := 0; errors.Is(err, ErrPaused); pauses++ {
		if pauses > 1000 {
			t.Fatal("workflow never finished")
		}
		interp = roundTrip(t, interp)
		interp.PauseAfter(interp.ExecutionState().Operations + 3)
		var v Value
		v, err = interp.Resume(context.Background())
		if err == nil {
			assertExport(t, v, workflowResult)
		}
	}
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
}

func TestPauseInsideCall(t *testing.T) {
	interp := New(WithHostFunction("tick", func(call *Call) (Value, error) {
		call.Interpreter().Pause()
		return nil, nil
	}))
	prog := ast.Prog(
		ast.Fn("work", ast.Params("a"),
			ast.Let("b", ast.Bin("*", ast.Ident("a"), ast.Num(2))),
			ast.Expr(ast.Call(ast.Ident("tick"))),
			ast.Return(ast.Bin("+", ast.Ident("b"), ast.Num(1)))),
		ast.Const("r", ast.Call(ast.Ident("work"), ast.Num(20))),
		ast.Expr(ast.Ident("r")),
	)
	_, err := interp.Execute(context.Background(), prog)
	if !errors.Is(err, ErrPaused) {
		t.Fatalf("error = %v, want paused", err)
	}
	var kinds []FrameKind
	for _, f := range interp.ExecutionState().CallStack {
		kinds = append(kinds, f.Kind)
	}
	want := []FrameKind{FrameBlock, FrameCall, FrameBlock}
	if !reflect.DeepEqual(kinds, want) {
		t.Fatalf("frames = %v, want %v", kinds, want)
	}
	restored := roundTrip(t, interp, WithHostFunction("tick", func(*Call) (Value, error) { return nil, nil }))
	v, err := restored.Resume(context.Background())
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	assertExport(t, v, 41.0)
}

// A pause requested inside a callback run by an intrinsic cannot be
// captured there, so it is taken at the next checkpoint outside it.
func TestPauseDeferredOutOfCallbacks(t *testing.T) {
	interp := New(WithHostFunction("tick", func(call *Call) (Value, error) {
		call.Interpreter().Pause()
		return call.Arg(0), nil
	}))
	prog := ast.Prog(
		ast.Const("xs", ast.MethodCall(ast.Array(ast.Num(1), ast.Num(2)), "map",
			ast.ArrowBlock(ast.Params("x"),
				ast.Expr(ast.Call(ast.Ident("tick"), ast.Ident("x"))),
				ast.Return(ast.Bin("*", ast.Ident("x"), ast.Num(3)))))),
		ast.Expr(ast.MethodCall(ast.Ident("xs"), "join", ast.Str("+"))),
	)
	_, err := interp.Execute(context.Background(), prog)
	if !errors.Is(err, ErrPaused) {
		t.Fatalf("error = %v, want paused", err)
	}
	st := interp.ExecutionState()
	if len(st.CallStack) != 1 || st.CallStack[0].Index != 1 {
		t.Fatalf("call stack = %v, want the program frame after statement 0", st.CallStack)
	}
	v, err := roundTrip(t, interp).Resume(context.Background())
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	assertExport(t, v, "3+6")
}

func TestPauseInsideForInitializer(t *testing.T) {
	tick := func(call *Call) (Value, error) {
		call.Interpreter().Pause()
		return nil, nil
	}
	interp := New(WithHostFunction("tick", tick))
	prog := ast.Prog(
		ast.Fn("start", nil,
			ast.Expr(ast.Call(ast.Ident("tick"))),
			ast.Return(ast.Num(0))),
		ast.Let("sum", ast.Num(0)),
		ast.For(ast.Let("k", ast.Call(ast.Ident("start"))), ast.Bin("<", ast.Ident("k"), ast.Num(3)), ast.Update("++", false, ast.Ident("k")),
			ast.Expr(ast.AssignOp("+=", ast.Ident("sum"), ast.Ident("k")))),
		ast.Expr(ast.Ident("sum")),
	)
	_, err := interp.Execute(context.Background(), prog)
	if !errors.Is(err, ErrPaused) {
		t.Fatalf("error = %v, want paused", err)
	}
	var kinds []FrameKind
	for _, f := range interp.ExecutionState().CallStack {
		kinds = append(kinds, f.Kind)
	}
	want := []FrameKind{FrameBlock, FrameLoop, FrameCall, FrameBlock}
	if !reflect.DeepEqual(kinds, want) {
		t.Fatalf("frames = %v, want %v", kinds, want)
	}

	restored := roundTrip(t, interp, WithHostFunction("tick", func(*Call) (Value, error) { return nil, nil }))
	v, err := restored.Resume(context.Background())
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	assertExport(t, v, 3.0)
}

func TestSnapshotPreservesSharedReferences(t *testing.T) {
	interp := New()
	interp.PauseAfter(3)
	prog := ast.Prog(
		ast.Const("shared", ast.Object(ast.Prop("n", ast.Num(1)))),
		ast.Const("pair", ast.Array(ast.Ident("shared"), ast.Ident("shared"))),
		ast.Expr(ast.Assign(ast.Member(ast.Ident("shared"), "self"), ast.Ident("shared"))),
		ast.Expr(ast.Assign(ast.Member(ast.Computed(ast.Ident("pair"), ast.Num(0)), "n"), ast.Num(5))),
		ast.Expr(ast.Array(
			ast.Member(ast.Computed(ast.Ident("pair"), ast.Num(1)), "n"),
			ast.Bin("===", ast.Member(ast.Ident("shared"), "self"), ast.Ident("shared")),
		)),
	)
	if _, err := interp.Execute(context.Background(), prog); !errors.Is(err, ErrPaused) {
		t.Fatalf("error = %v, want paused", err)
	}
	v, err := roundTrip(t, interp).Resume(context.Background())
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	assertExport(t, v, []any{5.0, true})
}

func TestSnapshotSpecialValues(t *testing.T) {
	nan := WithHostFunction("nan", func(*Call) (Value, error) { return math.NaN(), nil })
	vals := func(n float64) ast.Expression { return ast.Computed(ast.Ident("vals"), ast.Num(n)) }
	prog := ast.Prog(
		ast.Const("vals", ast.Array(
			ast.Call(ast.Ident("nan")), ast.Undefined(), ast.Null(), ast.Str("s"), ast.Bool(true),
		)),
		ast.Expr(ast.Array(
			ast.Bin("!==", vals(0), vals(0)),
			ast.Unary("typeof", vals(1)),
			ast.Bin("===", vals(2), ast.Null()),
			ast.Member(ast.Ident("vals"), "length"),
		)),
	)
	interp := New(nan)
	interp.PauseAfter(1)
	if _, err := interp.Execute(context.Background(), prog); !errors.Is(err, ErrPaused) {
		t.Fatalf("error = %v, want paused", err)
	}
	v, err := roundTrip(t, interp, nan).Resume(context.Background())
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	assertExport(t, v, []any{true, "undefined", true, 5.0})
}

func TestSnapshotMissingHostFunction(t *testing.T) {
	stamp := WithHostFunction("stamp", func(*Call) (Value, error) { return "ok", nil })
	prog := ast.Prog(
		ast.Expr(ast.Call(ast.Ident("stamp"))),
		ast.Expr(ast.Call(ast.Ident("stamp"))),
	)
	interp := New(stamp)
	interp.PauseAfter(1)
	if _, err := interp.Execute(context.Background(), prog); !errors.Is(err, ErrPaused) {
		t.Fatalf("error = %v, want paused", err)
	}

	restored := roundTrip(t, interp)
	_, err := restored.Resume(context.Background())
	var re *RuntimeError
	if !errors.As(err, &re) || re.Kind != KindTypeMismatch {
		t.Fatalf("error = %v, want TypeMismatch from the missing host stub", err)
	}

	restored = roundTrip(t, interp, stamp)
	v, err := restored.Resume(context.Background())
	if err != nil {
		t.Fatalf("Resume with host: %v", err)
	}
	assertExport(t, v, "ok")
}

func TestSnapshotWithModules(t *testing.T) {
	resolver := NewMemoryResolver(map[string]string{
		"state.json": encodeModule(t,
			ast.Export(ast.Let("hits", ast.Num(0))),
			ast.Export(ast.Fn("hit", ast.Params(), ast.Return(ast.AssignOp("+=", ast.Ident("hits"), ast.Num(1))))),
		),
	})
	prog := ast.Prog(
		ast.Import("./state", "hits", "hit"),
		ast.Expr(ast.Call(ast.Ident("hit"))),
		ast.Expr(ast.Call(ast.Ident("hit"))),
		ast.Expr(ast.Ident("hits")),
	)
	interp := New(WithResolver(resolver))
	interp.PauseAfter(2)
	if _, err := interp.Execute(context.Background(), prog); !errors.Is(err, ErrPaused) {
		t.Fatalf("error = %v, want paused", err)
	}
	restored := roundTrip(t, interp)
	v, err := restored.Resume(context.Background())
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	assertExport(t, v, 2.0)
	if mods := restored.Modules(); len(mods) != 1 || mods[0].Path != "state.json" {
		t.Errorf("modules = %v", mods)
	}
}

func TestSnapshotCompleted(t *testing.T) {
	interp := New()
	if _, err := interp.Execute(context.Background(), ast.Prog(ast.Expr(ast.Array(ast.Num(1), ast.Str("a"))))); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	restored := roundTrip(t, interp)
	st := restored.ExecutionState()
	if st.Phase != PhaseCompleted {
		t.Fatalf("phase = %s, want completed", st.Phase)
	}
	assertExport(t, st.Result, []any{1.0, "a"})
}

func TestSnapshotDocumentShape(t *testing.T) {
	interp := New()
	interp.PauseAfter(1)
	prog := ast.Prog(ast.Let("x", ast.Num(1)), ast.Expr(ast.Ident("x")))
	if _, err := interp.Execute(context.Background(), prog); !errors.Is(err, ErrPaused) {
		t.Fatalf("error = %v, want paused", err)
	}
	snap, err := interp.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	data, err := snap.JSON()
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("snapshot is not JSON: %v", err)
	}
	for _, key := range []string{"version", "phase", "programs", "contexts", "callStack"} {
		if _, ok := doc[key]; !ok {
			t.Errorf("snapshot has no %q key", key)
		}
	}
	if snap.Phase != PhasePaused || len(snap.CallStack) != 1 {
		t.Errorf("phase = %s with %d frames, want paused with 1", snap.Phase, len(snap.CallStack))
	}
}

func TestCorruptSnapshots(t *testing.T) {
	interp := New()
	interp.PauseAfter(1)
	if _, err := interp.Execute(context.Background(), ast.Prog(ast.Expr(ast.Num(1)), ast.Expr(ast.Num(2)))); !errors.Is(err, ErrPaused) {
		t.Fatalf("error = %v, want paused", err)
	}
	tests := []struct {
		name   string
		mutate func(s *Snapshot)
	}{
		{"version", func(s *Snapshot) { s.Version = 99 }},
		{"parent cycle", func(s *Snapshot) {
			s.Contexts = []*ContextRecord{{ID: 0, Parent: 1}, {ID: 1, Parent: 0}}
			s.Global = 0
		}},
		{"dangling parent", func(s *Snapshot) {
			s.Contexts = []*ContextRecord{{ID: 0, Parent: 7}}
			s.Global = 0
		}},
		{"unknown program", func(s *Snapshot) { s.CallStack[0].Program = "nowhere" }},
		{"bad node id", func(s *Snapshot) { s.CallStack[0].Node = 100000 }},
		{"bad program document", func(s *Snapshot) {
			s.Programs[s.Root] = map[string]any{"type": "Bogus"}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := interp.Serialize()
			if err != nil {
				t.Fatalf("Serialize: %v", err)
			}
			tt.mutate(snap)
			_, err = Deserialize(snap)
			if !errors.Is(err, ErrCorruptSnapshot) {
				t.Errorf("error = %v, want CorruptSnapshot", err)
			}
		})
	}
	if _, err := ParseSnapshot([]byte("{not json")); err == nil {
		t.Error("ParseSnapshot accepted malformed input")
	}
}

func TestSerializeRejectsPendingFuture(t *testing.T) {
	pending := NewFuture()
	interp := New(WithHostFunction("hold", func(*Call) (Value, error) {
		return NewObject(map[string]Value{"f": pending}), nil
	}))
	interp.PauseAfter(2)
	prog := ast.Prog(ast.Const("o", ast.Call(ast.Ident("hold"))), ast.Expr(ast.Num(1)), ast.Expr(ast.Num(2)))
	if _, err := interp.Execute(context.Background(), prog); !errors.Is(err, ErrPaused) {
		t.Fatalf("error = %v, want paused", err)
	}
	if _, err := interp.Serialize(); err == nil {
		t.Error("Serialize accepted a pending future")
	}
	pending.Resolve(3)
	if _, err := interp.Serialize(); err != nil {
		t.Errorf("Serialize after settle: %v", err)
	}
}
