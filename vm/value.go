package vm

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Value is any script value. The concrete representations are:
//
//	Undefined, Null, Uninitialized  sentinels
//	bool, float64, string           primitives
//	*Array, *Object                 collections
//	*Closure, *HostFunction, *BoundBuiltin
//	*Class, *Instance
//	*ModuleNamespace, *Future
type Value any

type undefinedType struct{}
type nullType struct{}
type uninitializedType struct{}

func (undefinedType) String() string     { return "undefined" }
func (nullType) String() string          { return "null" }
func (uninitializedType) String() string { return "<uninitialized>" }

var (
	// Undefined is the value of missing things.
	Undefined Value = undefinedType{}
	// Null is the script null.
	Null Value = nullType{}
	// Uninitialized is held by hoisted bindings until their declaration
	// executes. Scripts observe it as undefined.
	Uninitialized Value = uninitializedType{}
)

// ---------------------------------------------------------------------------
// Ordered property storage
// ---------------------------------------------------------------------------

type props struct {
	keys   []string
	values map[string]Value
}

func newProps() *props { return &props{values: make(map[string]Value)} }

func (p *props) get(k string) (Value, bool) {
	v, ok := p.values[k]
	return v, ok
}

func (p *props) set(k string, v Value) {
	if _, ok := p.values[k]; !ok {
		p.keys = append(p.keys, k)
	}
	p.values[k] = v
}

func (p *props) has(k string) bool {
	_, ok := p.values[k]
	return ok
}

func (p *props) delete(k string) {
	if _, ok := p.values[k]; !ok {
		return
	}
	delete(p.values, k)
	for i, key := range p.keys {
		if key == k {
			p.keys = append(p.keys[:i], p.keys[i+1:]...)
			break
		}
	}
}

func (p *props) Keys() []string { return append([]string(nil), p.keys...) }

// ---------------------------------------------------------------------------
// Collections
// ---------------------------------------------------------------------------

// Array is a script array.
type Array struct {
	Elems []Value
}

func NewArray(elems ...Value) *Array { return &Array{Elems: elems} }

// Object is a script object with insertion-ordered keys.
type Object struct {
	props
}

// NewObject builds an object; keys are inserted in sorted order.
func NewObject(fields map[string]Value) *Object {
	o := &Object{props: *newProps()}
	for _, k := range sortedKeys(fields) {
		o.set(k, fields[k])
	}
	return o
}

func (o *Object) Get(k string) (Value, bool) { return o.get(k) }
func (o *Object) Set(k string, v Value)      { o.set(k, v) }

// ---------------------------------------------------------------------------
// Conversions and predicates
// ---------------------------------------------------------------------------

func isNullish(v Value) bool {
	switch v.(type) {
	case nil, undefinedType, nullType, uninitializedType:
		return true
	}
	return false
}

func normalize(v Value) Value {
	if v == nil || v == Uninitialized {
		return Undefined
	}
	return v
}

func truthy(v Value) bool {
	switch x := v.(type) {
	case nil, undefinedType, nullType, uninitializedType:
		return false
	case bool:
		return x
	case float64:
		return x != 0 && !math.IsNaN(x)
	case string:
		return x != ""
	}
	return true
}

func isCallable(v Value) bool {
	switch v.(type) {
	case *Closure, *HostFunction, *BoundBuiltin:
		return true
	}
	return false
}

func typeOf(v Value) string {
	switch v.(type) {
	case nil, undefinedType, uninitializedType:
		return "undefined"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case *Closure, *HostFunction, *BoundBuiltin, *Class:
		return "function"
	}
	return "object"
}

func toNumber(v Value) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case bool:
		if x {
			return 1
		}
		return 0
	case nullType:
		return 0
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	}
	return math.NaN()
}

func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}
	if math.Abs(f) < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// ToString renders a value the way string concatenation does.
func ToString(v Value) string {
	switch x := v.(type) {
	case nil, undefinedType, uninitializedType:
		return "undefined"
	case nullType:
		return "null"
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return formatNumber(x)
	case string:
		return x
	case *Array:
		parts := make([]string, len(x.Elems))
		for i, e := range x.Elems {
			if !isNullish(e) {
				parts[i] = ToString(e)
			}
		}
		return strings.Join(parts, ",")
	case *Object:
		if name, ok := x.get("name"); ok {
			if msg, ok := x.get("message"); ok {
				return ToString(name) + ": " + ToString(msg)
			}
		}
		return "[object Object]"
	case *Instance:
		return "[object " + x.Class.Name + "]"
	case *Class:
		return "class " + x.Name
	case *Closure:
		return "function " + x.Name() + "() { [code] }"
	case *HostFunction:
		return "function " + x.Name + "() { [native code] }"
	case *BoundBuiltin:
		return "function " + x.Name + "() { [native code] }"
	case *ModuleNamespace:
		return "[module " + x.Module.Path + "]"
	case *Future:
		return "[object Future]"
	}
	return fmt.Sprint(v)
}

// Inspect renders a value for logs and diagnostics.
func Inspect(v Value) string {
	return inspect(v, 0)
}

func inspect(v Value, depth int) string {
	if depth > 4 {
		return "..."
	}
	switch x := v.(type) {
	case string:
		if depth == 0 {
			return x
		}
		return strconv.Quote(x)
	case *Array:
		parts := make([]string, len(x.Elems))
		for i, e := range x.Elems {
			parts[i] = inspect(e, depth+1)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case *Object:
		return inspectProps(&x.props, depth)
	case *Instance:
		return x.Class.Name + " " + inspectProps(x.Fields, depth)
	}
	return ToString(v)
}

func inspectProps(p *props, depth int) string {
	if len(p.keys) == 0 {
		return "{}"
	}
	parts := make([]string, len(p.keys))
	for i, k := range p.keys {
		parts[i] = k + ": " + inspect(p.values[k], depth+1)
	}
	return "{ " + strings.Join(parts, ", ") + " }"
}

func strictEquals(a, b Value) bool {
	a, b = normalize(a), normalize(b)
	switch x := a.(type) {
	case float64:
		y, ok := b.(float64)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case undefinedType, nullType:
		return a == b
	}
	return a == b
}

func looseEquals(a, b Value) bool {
	a, b = normalize(a), normalize(b)
	if isNullish(a) || isNullish(b) {
		return isNullish(a) && isNullish(b)
	}
	switch a.(type) {
	case float64, string, bool:
		switch b.(type) {
		case float64, string, bool:
			if reflect.TypeOf(a) == reflect.TypeOf(b) {
				return strictEquals(a, b)
			}
			return toNumber(a) == toNumber(b)
		}
	}
	return a == b
}

// propertyKey converts a computed member key to its string form.
func propertyKey(v Value) string {
	return ToString(v)
}

// arrayIndex reports whether key names an array index.
func arrayIndex(key Value) (int, bool) {
	switch k := key.(type) {
	case float64:
		if k >= 0 && k == math.Trunc(k) && k < math.MaxInt32 {
			return int(k), true
		}
	case string:
		n, err := strconv.Atoi(k)
		if err == nil && n >= 0 && strconv.Itoa(n) == k {
			return n, true
		}
	}
	return 0, false
}

// ---------------------------------------------------------------------------
// Host conversion
// ---------------------------------------------------------------------------

// ToValue converts ordinary Go data into a script value. Maps become
// objects with sorted keys; slices become arrays; integers become numbers.
func ToValue(x any) Value {
	switch v := x.(type) {
	case nil:
		return Null
	case undefinedType, nullType, uninitializedType, bool, float64, string,
		*Array, *Object, *Closure, *HostFunction, *BoundBuiltin, *Class, *Instance,
		*ModuleNamespace, *Future:
		return v
	case HostFunc:
		return &HostFunction{Name: "anonymous", Fn: v}
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case int32:
		return float64(v)
	case uint:
		return float64(v)
	case uint64:
		return float64(v)
	case uint32:
		return float64(v)
	case float32:
		return float64(v)
	case []any:
		out := make([]Value, len(v))
		for i, e := range v {
			out[i] = ToValue(e)
		}
		return NewArray(out...)
	case []Value:
		return NewArray(v...)
	case map[string]any:
		o := &Object{props: *newProps()}
		for _, k := range sortedKeys(v) {
			o.set(k, ToValue(v[k]))
		}
		return o
	}
	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]Value, rv.Len())
		for i := range out {
			out[i] = ToValue(rv.Index(i).Interface())
		}
		return NewArray(out...)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
		o := &Object{props: *newProps()}
		for _, k := range keys {
			o.set(k.String(), ToValue(rv.MapIndex(k).Interface()))
		}
		return o
	case reflect.Int, reflect.Int8, reflect.Int16:
		return float64(rv.Int())
	case reflect.Uint8, reflect.Uint16:
		return float64(rv.Uint())
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	}
	return fmt.Sprint(x)
}

// Export converts a script value into plain Go data: nil, bool, float64,
// string, []any and map[string]any. Callables and classes are returned
// unchanged.
func Export(v Value) any {
	switch x := v.(type) {
	case nil, undefinedType, nullType, uninitializedType:
		return nil
	case *Array:
		out := make([]any, len(x.Elems))
		for i, e := range x.Elems {
			out[i] = Export(e)
		}
		return out
	case *Object:
		return exportProps(&x.props)
	case *Instance:
		return exportProps(x.Fields)
	case *Future:
		if x.Settled() {
			v, err := x.Result()
			if err == nil {
				return Export(v)
			}
		}
		return x
	}
	return v
}

func exportProps(p *props) map[string]any {
	out := make(map[string]any, len(p.keys))
	for _, k := range p.keys {
		out[k] = Export(p.values[k])
	}
	return out
}
