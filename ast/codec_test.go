package ast

import (
	"reflect"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func sample() *Program {
	return Prog(
		Import("./lib", "a", "b"),
		ImportAll("./ns", "ns"),
		At(Const("total", Bin("+", Num(1), Num(2.5))), 2, 1),
		Fn("greet", Params("name", "...rest"),
			If(Logical("&&", Ident("name"), Bool(true)),
				Return(Template([]string{"hi ", "!"}, Ident("name"))),
				nil),
			Return(Null())),
		Class("Dog", Ident("Animal"),
			Field("legs", Num(4)),
			Ctor(Params("n"), Expr(Call(Super(), Ident("n")))),
			StaticMethod("make", Params(), Return(New(Ident("Dog"), Str("x")))),
		),
		ForOf(KindConst, "v", Array(Num(1), Spread(Ident("xs"))),
			Expr(Pipe(Ident("v"), Call(Ident("sub"), Num(1), Hole()))),
			Expr(Sink(Ident("v"), Member(Ident("out"), "last")))),
		Try(Block(Throw(Str("x"))), "e", Block(Expr(Ident("e"))), Block(Break(""))),
		Switch(Ident("k"), Case(Num(1), Expr(Await(Ident("p")))), Default(Continue(""))),
		Labeled("outer", While(Bool(false), Expr(Update("++", true, Ident("i"))))),
		Export(Let("x", Object(Prop("a", Undefined()), SpreadProp(Ident("o"))))),
		ExportDefault(Arrow(Params("q"), Cond(This(), OptMember(Ident("q"), "r"), Computed(Ident("q"), Num(0))))),
	)
}

func TestJSONRoundTrip(t *testing.T) {
	p := sample()
	data, err := EncodeJSON(p)
	if err != nil {
		t.Fatalf("EncodeJSON: %v", err)
	}
	got, err := DecodeProgram(data)
	if err != nil {
		t.Fatalf("DecodeProgram: %v", err)
	}
	if !reflect.DeepEqual(got, p) {
		t.Fatalf("round trip changed the tree:\n%s", data)
	}
}

func TestYAMLRoundTrip(t *testing.T) {
	p := sample()
	data, err := yaml.Marshal(Encode(p))
	if err != nil {
		t.Fatalf("yaml.Marshal: %v", err)
	}
	got, err := DecodeProgram(data)
	if err != nil {
		t.Fatalf("DecodeProgram: %v", err)
	}
	if !reflect.DeepEqual(got, p) {
		t.Fatalf("round trip changed the tree:\n%s", data)
	}
}

func TestPositionsSurvive(t *testing.T) {
	data, err := EncodeJSON(sample())
	if err != nil {
		t.Fatal(err)
	}
	p, err := DecodeProgram(data)
	if err != nil {
		t.Fatal(err)
	}
	pos := p.Body[2].Position()
	if pos.Line != 2 || pos.Column != 1 {
		t.Errorf("position = %+v, want 2:1", pos)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown type", `{"type": "Bogus"}`, "unknown node type"},
		{"not a program", `{"type": "Identifier", "name": "x"}`, "want Program"},
		{"wrong field type", `{"type": "Program", "body": "nope"}`, "expected list"},
		{"expression as statement", `{"type": "Program", "body": [{"type": "Identifier", "name": "x"}]}`, "not allowed here"},
		{"bad json", `{"type": `, "decode json"},
		{"bad yaml", "type: [unterminated", "decode yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeProgram([]byte(tt.doc))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want one containing %q", err, tt.want)
			}
		})
	}
}

func TestDocumentParserNamesPath(t *testing.T) {
	_, err := DocumentParser{}.Parse(`{"type": "Nope"}`, "lib/x.json")
	if err == nil || !strings.HasPrefix(err.Error(), "lib/x.json: ") {
		t.Errorf("error = %v, want it prefixed with the path", err)
	}
	p, err := DocumentParser{}.Parse("type: Program\nbody: []\n", "m.yaml")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(p.Body) != 0 {
		t.Errorf("body = %v, want empty", p.Body)
	}
}
