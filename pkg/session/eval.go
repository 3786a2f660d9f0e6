package session

import (
	"errors"
	"sort"

	lua "github.com/Shopify/go-lua"

	"github.com/dpdb-go/dpdb/pkg/snapshot"
)

// maxTableDepth bounds conversion of evaluated tables back into Values.
const maxTableDepth = 8

// namespace is one frame's live evaluation environment: an embedded Lua
// state seeded once from the frame's local bindings layered over its
// module-level bindings (locals win on name collision). Mutations persist
// in the state for the remainder of the session and are never written back
// to the Snapshot.
type namespace struct {
	l        *lua.State
	baseline map[string]struct{} // interpreter's own globals, excluded from projections
	order    []string            // seeded binding names, insertion order
	seeded   map[string]struct{}
}

func newNamespace(f *snapshot.FrameRecord) *namespace {
	l := lua.NewState()
	lua.OpenLibraries(l)
	n := &namespace{
		l:        l,
		baseline: map[string]struct{}{},
		seeded:   map[string]struct{}{},
	}
	for _, name := range n.globalNames() {
		n.baseline[name] = struct{}{}
	}
	for _, b := range f.Globals {
		n.seed(b.Name, b.Value)
	}
	for _, b := range f.Locals {
		n.seed(b.Name, b.Value)
	}
	return n
}

func (n *namespace) seed(name string, v snapshot.Value) {
	pushValue(n.l, v)
	n.l.SetGlobal(name)
	if _, ok := n.seeded[name]; !ok {
		n.seeded[name] = struct{}{}
		n.order = append(n.order, name)
	}
}

// eval runs code against the namespace: expression semantics first, and on
// a syntactic failure, statement semantics. The returned values are the
// expression's results (empty for statements). Failures never corrupt the
// state.
func (n *namespace) eval(code string) ([]snapshot.Value, error) {
	l := n.l
	l.SetTop(0)
	if err := lua.LoadString(l, "return "+code); err == nil {
		if err := l.ProtectedCall(0, lua.MultipleReturns, 0); err != nil {
			l.SetTop(0)
			return nil, evalError(err)
		}
		results := make([]snapshot.Value, 0, l.Top())
		for i := 1; i <= l.Top(); i++ {
			results = append(results, toValue(l, i, 0))
		}
		l.SetTop(0)
		return results, nil
	}
	l.SetTop(0)
	if err := lua.DoString(l, code); err != nil {
		l.SetTop(0)
		return nil, evalError(err)
	}
	l.SetTop(0)
	return nil, nil
}

func evalError(err error) error {
	if err == nil {
		return nil
	}
	return errors.New(err.Error())
}

// vars projects the namespace as it stands now: seeded bindings in their
// original order first, then names introduced during the session.
func (n *namespace) vars() snapshot.Bindings {
	current := map[string]snapshot.Value{}
	l := n.l
	l.Global("_G")
	gt := l.AbsIndex(-1)
	l.PushNil()
	for l.Next(gt) {
		if l.TypeOf(-2) == lua.TypeString {
			name, _ := l.ToString(-2)
			if _, base := n.baseline[name]; !base {
				current[name] = toValue(l, l.AbsIndex(-1), 0)
			}
		}
		l.Pop(1)
	}
	l.Pop(1)

	var out snapshot.Bindings
	for _, name := range n.order {
		if v, ok := current[name]; ok {
			out.Set(name, v)
			delete(current, name)
		}
	}
	extra := make([]string, 0, len(current))
	for name := range current {
		extra = append(extra, name)
	}
	sort.Strings(extra)
	for _, name := range extra {
		out.Set(name, current[name])
	}
	return out
}

// globalNames lists the interpreter's current global names.
func (n *namespace) globalNames() []string {
	var names []string
	l := n.l
	l.Global("_G")
	gt := l.AbsIndex(-1)
	l.PushNil()
	for l.Next(gt) {
		if l.TypeOf(-2) == lua.TypeString {
			name, _ := l.ToString(-2)
			names = append(names, name)
		}
		l.Pop(1)
	}
	l.Pop(1)
	return names
}

// pushValue pushes a persisted Value onto the Lua stack. Descriptors push
// as their descriptor strings, keeping the namespace total.
func pushValue(l *lua.State, v snapshot.Value) {
	switch v.Kind {
	case snapshot.KindNil:
		l.PushNil()
	case snapshot.KindBool:
		l.PushBoolean(v.Bool)
	case snapshot.KindInt:
		l.PushNumber(float64(v.Int))
	case snapshot.KindFloat:
		l.PushNumber(v.Float)
	case snapshot.KindString, snapshot.KindDescriptor:
		l.PushString(v.Str)
	case snapshot.KindList:
		l.NewTable()
		for i, e := range v.List {
			pushValue(l, e)
			l.RawSetInt(-2, i+1)
		}
	case snapshot.KindObject:
		l.NewTable()
		for _, f := range v.Object {
			pushValue(l, f.Value)
			l.SetField(-2, f.Name)
		}
	default:
		l.PushNil()
	}
}

// toValue converts the Lua value at idx back into the persisted Value form.
func toValue(l *lua.State, idx, depth int) snapshot.Value {
	switch l.TypeOf(idx) {
	case lua.TypeNil:
		return snapshot.Nil()
	case lua.TypeBoolean:
		return snapshot.Bool(l.ToBoolean(idx))
	case lua.TypeNumber:
		f, _ := l.ToNumber(idx)
		return snapshot.Float(f)
	case lua.TypeString:
		s, _ := l.ToString(idx)
		return snapshot.String(s)
	case lua.TypeTable:
		if depth >= maxTableDepth {
			return snapshot.Descriptor("<table (max depth)>")
		}
		return tableValue(l, l.AbsIndex(idx), depth)
	case lua.TypeFunction:
		return snapshot.Descriptor("<function>")
	default:
		return snapshot.Descriptor("<lua value>")
	}
}

func tableValue(l *lua.State, idx, depth int) snapshot.Value {
	if n := l.RawLength(idx); n > 0 {
		vs := make([]snapshot.Value, 0, n)
		for i := 1; i <= n; i++ {
			l.RawGetInt(idx, i)
			vs = append(vs, toValue(l, l.AbsIndex(-1), depth+1))
			l.Pop(1)
		}
		return snapshot.List(vs)
	}
	type kv struct {
		k string
		v snapshot.Value
	}
	var fields []kv
	l.PushNil()
	for l.Next(idx) {
		if l.TypeOf(-2) == lua.TypeString {
			name, _ := l.ToString(-2)
			fields = append(fields, kv{k: name, v: toValue(l, l.AbsIndex(-1), depth+1)})
		}
		l.Pop(1)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].k < fields[j].k })
	fs := make([]snapshot.Field, 0, len(fields))
	for _, f := range fields {
		fs = append(fs, snapshot.Field{Name: f.k, Value: f.v})
	}
	return snapshot.Object(fs)
}
