package vm

import (
	"sort"
	"strings"

	"github.com/tliron/commonlog"
)

var scriptLog = commonlog.GetLogger("wang.script")

// BoundBuiltin is an intrinsic member of an array or string, bound to its
// receiver.
type BoundBuiltin struct {
	Name string
	This Value

	fn intrinsicFunc
}

type intrinsicFunc func(i *Interpreter, this Value, args []Value) (Value, error)

func builtinFunctions() map[string]*HostFunction {
	console := func(level string) HostFunc {
		return func(call *Call) (Value, error) {
			parts := make([]string, len(call.Args))
			for k, a := range call.Args {
				parts[k] = Inspect(a)
			}
			call.interp.emit(level, strings.Join(parts, " "))
			return Undefined, nil
		}
	}
	return map[string]*HostFunction{
		"console.log":   {Name: "log", Fn: console("log")},
		"console.warn":  {Name: "warn", Fn: console("warn")},
		"console.error": {Name: "error", Fn: console("error")},
		"Error": {Name: "Error", Fn: func(call *Call) (Value, error) {
			msg := ""
			if len(call.Args) > 0 {
				msg = ToString(call.Arg(0))
			}
			return NewObject(map[string]Value{"name": "Error", "message": msg}), nil
		}},
	}
}

func (i *Interpreter) emit(level, msg string) {
	switch level {
	case "warn":
		scriptLog.Warning(msg)
	case "error":
		scriptLog.Error(msg)
	default:
		scriptLog.Info(msg)
	}
	if i.cfg.CollectMetadata {
		i.logs = append(i.logs, LogEntry{Level: level, Message: msg})
	}
}

// intrinsic binds a member of an intrinsic table to its receiver.
func intrinsic(table map[string]intrinsicFunc, kind, name string, this Value) Value {
	fn, ok := table[name]
	if !ok {
		return Undefined
	}
	return &BoundBuiltin{Name: kind + "." + name, This: this, fn: fn}
}

// lookupIntrinsic finds a bound builtin by its qualified name.
func lookupIntrinsic(qualified string, this Value) (*BoundBuiltin, bool) {
	kind, name, ok := strings.Cut(qualified, ".")
	if !ok {
		return nil, false
	}
	var table map[string]intrinsicFunc
	switch kind {
	case "array":
		table = arrayMethods
	case "string":
		table = stringMethods
	default:
		return nil, false
	}
	fn, ok := table[name]
	if !ok {
		return nil, false
	}
	return &BoundBuiltin{Name: qualified, This: this, fn: fn}, true
}

func argAt(args []Value, n int) Value {
	if n < len(args) {
		return normalize(args[n])
	}
	return Undefined
}

// relIndex resolves a possibly negative index against length n.
func relIndex(v Value, n int, def int) int {
	if v == Undefined {
		return def
	}
	k := int(toNumber(v))
	if k < 0 {
		k += n
	}
	if k < 0 {
		return 0
	}
	if k > n {
		return n
	}
	return k
}

var arrayMethods map[string]intrinsicFunc

func init() {
	arrayMethods = map[string]intrinsicFunc{
		"push": func(i *Interpreter, this Value, args []Value) (Value, error) {
			a := this.(*Array)
			a.Elems = append(a.Elems, args...)
			return float64(len(a.Elems)), nil
		},
		"pop": func(i *Interpreter, this Value, args []Value) (Value, error) {
			a := this.(*Array)
			if len(a.Elems) == 0 {
				return Undefined, nil
			}
			v := a.Elems[len(a.Elems)-1]
			a.Elems = a.Elems[:len(a.Elems)-1]
			return normalize(v), nil
		},
		"map": func(i *Interpreter, this Value, args []Value) (Value, error) {
			a := this.(*Array)
			out := make([]Value, 0, len(a.Elems))
			for k, e := range a.Elems {
				v, err := i.invokeSync(argAt(args, 0), Undefined, []Value{e, float64(k), a})
				if err != nil {
					return nil, err
				}
				out = append(out, v)
			}
			return NewArray(out...), nil
		},
		"filter": func(i *Interpreter, this Value, args []Value) (Value, error) {
			a := this.(*Array)
			var out []Value
			for k, e := range a.Elems {
				v, err := i.invokeSync(argAt(args, 0), Undefined, []Value{e, float64(k), a})
				if err != nil {
					return nil, err
				}
				if truthy(v) {
					out = append(out, e)
				}
			}
			return NewArray(out...), nil
		},
		"forEach": func(i *Interpreter, this Value, args []Value) (Value, error) {
			a := this.(*Array)
			for k, e := range a.Elems {
				if _, err := i.invokeSync(argAt(args, 0), Undefined, []Value{e, float64(k), a}); err != nil {
					return nil, err
				}
			}
			return Undefined, nil
		},
		"reduce": func(i *Interpreter, this Value, args []Value) (Value, error) {
			a := this.(*Array)
			elems := a.Elems
			var acc Value
			if len(args) > 1 {
				acc = args[1]
			} else {
				if len(elems) == 0 {
					return nil, newError(KindTypeMismatch, "reduce of empty array with no initial value")
				}
				acc, elems = elems[0], elems[1:]
			}
			offset := len(a.Elems) - len(elems)
			for k, e := range elems {
				v, err := i.invokeSync(argAt(args, 0), Undefined, []Value{acc, e, float64(k + offset), a})
				if err != nil {
					return nil, err
				}
				acc = v
			}
			return acc, nil
		},
		"join": func(i *Interpreter, this Value, args []Value) (Value, error) {
			a := this.(*Array)
			sep := ","
			if s := argAt(args, 0); s != Undefined {
				sep = ToString(s)
			}
			parts := make([]string, len(a.Elems))
			for k, e := range a.Elems {
				if !isNullish(e) {
					parts[k] = ToString(e)
				}
			}
			return strings.Join(parts, sep), nil
		},
		"includes": func(i *Interpreter, this Value, args []Value) (Value, error) {
			for _, e := range this.(*Array).Elems {
				if strictEquals(e, argAt(args, 0)) {
					return true, nil
				}
			}
			return false, nil
		},
		"indexOf": func(i *Interpreter, this Value, args []Value) (Value, error) {
			for k, e := range this.(*Array).Elems {
				if strictEquals(e, argAt(args, 0)) {
					return float64(k), nil
				}
			}
			return float64(-1), nil
		},
		"slice": func(i *Interpreter, this Value, args []Value) (Value, error) {
			a := this.(*Array)
			n := len(a.Elems)
			from, to := relIndex(argAt(args, 0), n, 0), relIndex(argAt(args, 1), n, n)
			if from > to {
				return NewArray(), nil
			}
			return NewArray(append([]Value(nil), a.Elems[from:to]...)...), nil
		},
		"sort": func(i *Interpreter, this Value, args []Value) (Value, error) {
			a := this.(*Array)
			cmp := argAt(args, 0)
			var failure error
			sort.SliceStable(a.Elems, func(x, y int) bool {
				if failure != nil {
					return false
				}
				if cmp == Undefined {
					return ToString(a.Elems[x]) < ToString(a.Elems[y])
				}
				v, err := i.invokeSync(cmp, Undefined, []Value{a.Elems[x], a.Elems[y]})
				if err != nil {
					failure = err
					return false
				}
				return toNumber(v) < 0
			})
			if failure != nil {
				return nil, failure
			}
			return a, nil
		},
	}
}

var stringMethods = map[string]intrinsicFunc{
	"toUpperCase": func(i *Interpreter, this Value, args []Value) (Value, error) {
		return strings.ToUpper(this.(string)), nil
	},
	"toLowerCase": func(i *Interpreter, this Value, args []Value) (Value, error) {
		return strings.ToLower(this.(string)), nil
	},
	"trim": func(i *Interpreter, this Value, args []Value) (Value, error) {
		return strings.TrimSpace(this.(string)), nil
	},
	"includes": func(i *Interpreter, this Value, args []Value) (Value, error) {
		return strings.Contains(this.(string), ToString(argAt(args, 0))), nil
	},
	"startsWith": func(i *Interpreter, this Value, args []Value) (Value, error) {
		return strings.HasPrefix(this.(string), ToString(argAt(args, 0))), nil
	},
	"split": func(i *Interpreter, this Value, args []Value) (Value, error) {
		s := this.(string)
		sep := argAt(args, 0)
		if sep == Undefined {
			return NewArray(s), nil
		}
		parts := strings.Split(s, ToString(sep))
		out := make([]Value, len(parts))
		for k, p := range parts {
			out[k] = p
		}
		return NewArray(out...), nil
	},
}
