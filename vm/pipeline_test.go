package vm

import (
	"context"
	"errors"
	"testing"

	"github.com/chazu/wang/ast"
)

// stageFns declares double(x), inc(x) and sub(a, b).
func stageFns() []ast.Statement {
	return []ast.Statement{
		ast.Fn("double", ast.Params("x"), ast.Return(ast.Bin("*", ast.Ident("x"), ast.Num(2)))),
		ast.Fn("inc", ast.Params("x"), ast.Return(ast.Bin("+", ast.Ident("x"), ast.Num(1)))),
		ast.Fn("sub", ast.Params("a", "b"), ast.Return(ast.Bin("-", ast.Ident("a"), ast.Ident("b")))),
	}
}

func TestPipeForward(t *testing.T) {
	tests := []struct {
		name string
		expr ast.Expression
		want any
	}{
		{"bare function", ast.Pipe(ast.Num(5), ast.Ident("double")), 10.0},
		{"left associative", ast.Pipe(ast.Pipe(ast.Num(1), ast.Ident("inc")), ast.Ident("double")), 4.0},
		{"leading argument", ast.Pipe(ast.Num(3), ast.Call(ast.Ident("sub"), ast.Num(10))), -7.0},
		{"placeholder argument", ast.Pipe(ast.Num(3), ast.Call(ast.Ident("sub"), ast.Num(10), ast.Hole())), 7.0},
		{"placeholder expression", ast.Pipe(ast.Num(3), ast.Bin("*", ast.Hole(), ast.Hole())), 9.0},
		{"arrow stage", ast.Pipe(ast.Num(4), ast.Arrow(ast.Params("x"), ast.Bin("-", ast.Ident("x"), ast.Num(1)))), 3.0},
		{"method stage", ast.Pipe(ast.Str("a-b"), ast.Member(ast.Ident("text"), "shout")), "A-B!"},
		{"nested pipeline rebinds placeholder",
			ast.Pipe(ast.Num(2), ast.Call(ast.Ident("sub"), ast.Pipe(ast.Num(10), ast.Call(ast.Ident("sub"), ast.Hole(), ast.Num(1))), ast.Hole())),
			7.0},
	}
	text := ast.Const("text", ast.Object(ast.Prop("shout", ast.Arrow(ast.Params("s"),
		ast.Bin("+", ast.MethodCall(ast.Ident("s"), "toUpperCase"), ast.Str("!"))))))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog := ast.Prog(append(stageFns(), text, ast.Expr(tt.expr))...)
			assertExport(t, mustRun(t, prog), tt.want)
		})
	}
}

func TestPipeStagesRunInOrder(t *testing.T) {
	var order []string
	record := WithHostFunction("record", func(call *Call) (Value, error) {
		tag := ToString(call.Arg(1))
		order = append(order, tag)
		return Go(call.Context, func(context.Context) (Value, error) {
			return ToString(call.Arg(0)) + tag, nil
		}), nil
	})
	prog := ast.Prog(ast.Expr(
		ast.Pipe(ast.Pipe(ast.Pipe(ast.Str(""), ast.Call(ast.Ident("record"), ast.Str("a"))),
			ast.Call(ast.Ident("record"), ast.Str("b"))),
			ast.Call(ast.Ident("record"), ast.Str("c"))),
	))
	assertExport(t, mustRun(t, prog, record), "abc")
	if len(order) != 3 || order[0] != "a" || order[2] != "c" {
		t.Errorf("stage order = %v, want [a b c]", order)
	}
}

func TestPipeSink(t *testing.T) {
	t.Run("assigns to a variable", func(t *testing.T) {
		prog := ast.Prog(
			ast.Let("out", ast.Null()),
			ast.Expr(ast.Sink(ast.Num(5), ast.Ident("out"))),
			ast.Expr(ast.Ident("out")),
		)
		assertExport(t, mustRun(t, prog), 5.0)
	})
	t.Run("assigns to a member", func(t *testing.T) {
		prog := ast.Prog(
			ast.Const("box", ast.Object()),
			ast.Expr(ast.Sink(ast.Str("v"), ast.Member(ast.Ident("box"), "field"))),
			ast.Expr(ast.Member(ast.Ident("box"), "field")),
		)
		assertExport(t, mustRun(t, prog), "v")
	})
	t.Run("calls a function", func(t *testing.T) {
		prog := ast.Prog(append(stageFns(), ast.Expr(ast.Sink(ast.Num(5), ast.Ident("double"))))...)
		assertExport(t, mustRun(t, prog), 10.0)
	})
	t.Run("invokes an arrow", func(t *testing.T) {
		prog := ast.Prog(ast.Expr(ast.Sink(ast.Num(2), ast.Arrow(ast.Params("x"), ast.Bin("*", ast.Ident("x"), ast.Num(3))))))
		assertExport(t, mustRun(t, prog), 6.0)
	})
	t.Run("forward then sink", func(t *testing.T) {
		prog := ast.Prog(append(stageFns(),
			ast.Let("out", ast.Num(0)),
			ast.Expr(ast.Sink(ast.Pipe(ast.Num(1), ast.Ident("inc")), ast.Ident("out"))),
			ast.Expr(ast.Ident("out")))...)
		assertExport(t, mustRun(t, prog), 2.0)
	})
	t.Run("const target", func(t *testing.T) {
		re := runFails(t, ast.Prog(
			ast.Const("out", ast.Num(0)),
			ast.Expr(ast.Sink(ast.Num(1), ast.Ident("out"))),
		))
		if !errors.Is(re, ErrConstReassignment) {
			t.Errorf("error = %v, want ConstReassignment", re)
		}
	})
}

func TestPipeNonFunctionStage(t *testing.T) {
	re := runFails(t, ast.Prog(
		ast.Const("n", ast.Num(1)),
		ast.Expr(ast.Pipe(ast.Num(1), ast.Ident("n"))),
	))
	if re.Kind != KindTypeMismatch {
		t.Errorf("kind = %s, want TypeMismatch", re.Kind)
	}
}
