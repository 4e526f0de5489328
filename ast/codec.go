package ast

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document codec.
//
// Nodes travel as plain maps: every node carries a "type" discriminator and
// one key per field, named by the field's json tag. The same form is used by
// program documents on disk and by snapshots, so a tree survives a
// JSON or YAML round trip with its node ids intact.

var registry = map[NodeType]reflect.Type{}

func init() {
	for _, n := range []Node{
		&Program{}, &Identifier{}, &NumberLiteral{}, &StringLiteral{}, &BooleanLiteral{},
		&NullLiteral{}, &UndefinedLiteral{}, &TemplateLiteral{}, &ArrayExpression{},
		&ObjectExpression{}, &Property{}, &SpreadElement{}, &Param{}, &FunctionExpression{},
		&ArrowFunctionExpression{}, &UnaryExpression{}, &UpdateExpression{}, &BinaryExpression{},
		&LogicalExpression{}, &AssignmentExpression{}, &ConditionalExpression{},
		&MemberExpression{}, &CallExpression{}, &NewExpression{}, &ThisExpression{},
		&SuperExpression{}, &AwaitExpression{}, &PipelineExpression{}, &Placeholder{},
		&VariableDeclaration{}, &VariableDeclarator{}, &FunctionDeclaration{},
		&ClassDeclaration{}, &ClassMember{}, &ReturnStatement{}, &IfStatement{},
		&ForStatement{}, &ForOfStatement{}, &ForInStatement{}, &WhileStatement{},
		&DoWhileStatement{}, &BreakStatement{}, &ContinueStatement{}, &LabeledStatement{},
		&SwitchStatement{}, &SwitchCase{}, &TryStatement{}, &ThrowStatement{},
		&BlockStatement{}, &ExpressionStatement{}, &EmptyStatement{}, &ImportDeclaration{},
		&ImportSpecifier{}, &ExportNamedDeclaration{}, &ExportSpecifier{},
		&ExportDefaultDeclaration{},
	} {
		registry[n.NodeType()] = reflect.TypeOf(n).Elem()
	}
}

var spanType = reflect.TypeOf(Span{})

// Encode converts a node into its document form.
func Encode(n Node) map[string]any {
	if isNilNode(n) {
		return nil
	}
	v := reflect.ValueOf(n).Elem()
	out := map[string]any{"type": string(n.NodeType())}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Anonymous {
			if f.Type == spanType {
				if pos := n.Position(); !pos.IsZero() {
					out["pos"] = map[string]any{"line": pos.Line, "column": pos.Column, "offset": pos.Offset}
				}
			}
			continue
		}
		if !f.IsExported() {
			continue
		}
		if val, ok := encodeValue(v.Field(i)); ok {
			out[fieldName(f)] = val
		}
	}
	return out
}

func encodeValue(v reflect.Value) (any, bool) {
	switch v.Kind() {
	case reflect.Interface, reflect.Ptr:
		if v.IsNil() {
			return nil, false
		}
		return Encode(v.Interface().(Node)), true
	case reflect.Slice:
		if v.IsNil() {
			return nil, false
		}
		items := make([]any, v.Len())
		for i := range items {
			item, ok := encodeValue(v.Index(i))
			if ok {
				items[i] = item
			}
		}
		return items, true
	case reflect.String:
		if v.String() == "" {
			return nil, false
		}
		return v.String(), true
	case reflect.Bool:
		if !v.Bool() {
			return nil, false
		}
		return true, true
	case reflect.Float64:
		return v.Float(), true
	}
	return nil, false
}

// EncodeJSON renders a node as a JSON document.
func EncodeJSON(n Node) ([]byte, error) {
	return json.Marshal(Encode(n))
}

// Decode rebuilds a node from its document form as produced by
// encoding/json or yaml.v3.
func Decode(doc any) (Node, error) {
	n, err := decodeNode(doc, "$")
	if err != nil {
		return nil, fmt.Errorf("ast: decode: %w", err)
	}
	return n, nil
}

// DecodeJSON decodes a JSON document.
func DecodeJSON(data []byte) (Node, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("ast: decode json: %w", err)
	}
	return Decode(doc)
}

// DecodeYAML decodes a YAML document.
func DecodeYAML(data []byte) (Node, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("ast: decode yaml: %w", err)
	}
	return Decode(doc)
}

// DecodeProgram decodes a JSON or YAML document whose root is a Program.
func DecodeProgram(data []byte) (*Program, error) {
	var (
		n   Node
		err error
	)
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		n, err = DecodeJSON(data)
	} else {
		n, err = DecodeYAML(data)
	}
	if err != nil {
		return nil, err
	}
	p, ok := n.(*Program)
	if !ok {
		return nil, fmt.Errorf("ast: document root is %s, want Program", n.NodeType())
	}
	return p, nil
}

// DocumentParser parses program documents. It satisfies vm.Parser.
type DocumentParser struct{}

func (DocumentParser) Parse(source, path string) (*Program, error) {
	p, err := DecodeProgram([]byte(source))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

func decodeNode(raw any, path string) (Node, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s: expected node object, got %T", path, raw)
	}
	typ, _ := m["type"].(string)
	rt, ok := registry[NodeType(typ)]
	if !ok {
		return nil, fmt.Errorf("%s: unknown node type %q", path, typ)
	}
	pv := reflect.New(rt)
	v := pv.Elem()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if f.Anonymous {
			if f.Type == spanType {
				if pm, ok := m["pos"].(map[string]any); ok {
					v.Field(i).Set(reflect.ValueOf(Span{Pos: Pos{
						Line:   toInt(pm["line"]),
						Column: toInt(pm["column"]),
						Offset: toInt(pm["offset"]),
					}}))
				}
			}
			continue
		}
		if !f.IsExported() {
			continue
		}
		name := fieldName(f)
		val, ok := m[name]
		if !ok || val == nil {
			continue
		}
		if err := decodeValue(v.Field(i), val, path+"."+name); err != nil {
			return nil, err
		}
	}
	return pv.Interface().(Node), nil
}

func decodeValue(v reflect.Value, raw any, path string) error {
	switch v.Kind() {
	case reflect.Interface, reflect.Ptr:
		n, err := decodeNode(raw, path)
		if err != nil {
			return err
		}
		nv := reflect.ValueOf(n)
		if !nv.Type().AssignableTo(v.Type()) {
			return fmt.Errorf("%s: %s is not allowed here", path, n.NodeType())
		}
		v.Set(nv)
	case reflect.Slice:
		items, ok := raw.([]any)
		if !ok {
			return fmt.Errorf("%s: expected list, got %T", path, raw)
		}
		s := reflect.MakeSlice(v.Type(), len(items), len(items))
		for i, item := range items {
			if item == nil {
				continue
			}
			if err := decodeValue(s.Index(i), item, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
		v.Set(s)
	case reflect.String:
		s, ok := raw.(string)
		if !ok {
			return fmt.Errorf("%s: expected string, got %T", path, raw)
		}
		v.SetString(s)
	case reflect.Bool:
		b, ok := raw.(bool)
		if !ok {
			return fmt.Errorf("%s: expected bool, got %T", path, raw)
		}
		v.SetBool(b)
	case reflect.Float64:
		f, ok := toFloat(raw)
		if !ok {
			return fmt.Errorf("%s: expected number, got %T", path, raw)
		}
		v.SetFloat(f)
	default:
		return fmt.Errorf("%s: unsupported field kind %s", path, v.Kind())
	}
	return nil
}

func fieldName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if name, _, _ := strings.Cut(tag, ","); name != "" {
		return name
	}
	return f.Name
}

func toFloat(raw any) (float64, bool) {
	switch n := raw.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func toInt(raw any) int {
	f, _ := toFloat(raw)
	return int(f)
}

func isNilNode(n Node) bool {
	if n == nil {
		return true
	}
	v := reflect.ValueOf(n)
	return v.Kind() == reflect.Ptr && v.IsNil()
}
