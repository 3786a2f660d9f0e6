package snapshot

import (
	"fmt"
	"reflect"
	"runtime"
	"sort"
)

// Package is bound by callers that want a loadable-module handle recorded in
// a scope; it sanitizes to a `<package "PATH">` descriptor.
type Package string

// RawBinding is one unsanitized name/value pair supplied by a caller.
type RawBinding struct {
	Name  string
	Value any
}

// Scope is an ordered unsanitized scope as supplied at a checkpoint site.
type Scope []RawBinding

// Add appends a binding and returns the scope for chaining.
func (s Scope) Add(name string, v any) Scope {
	return append(s, RawBinding{Name: name, Value: v})
}

// ScopeFromMap builds a Scope from a map, ordering keys lexically since Go
// map iteration order carries no information.
func ScopeFromMap(m map[string]any) Scope {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s := make(Scope, 0, len(m))
	for _, k := range keys {
		s = s.Add(k, m[k])
	}
	return s
}

// Sanitizer converts arbitrary values into the persistable Value form.
// Sanitization always succeeds: every input yields a Primitive, a Structured
// payload, or a Descriptor. It never panics and per-key failures are
// isolated, so one bad value cannot drop or corrupt the rest of a scope.
type Sanitizer struct {
	// MaxDepth bounds recursion into nested structures (and breaks cycles).
	MaxDepth int
}

// NewSanitizer returns a Sanitizer with the default depth bound.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{MaxDepth: 8}
}

// Sanitize returns a same-shaped Bindings where every value is persistable.
func (s *Sanitizer) Sanitize(scope Scope) Bindings {
	out := make(Bindings, 0, len(scope))
	for _, rb := range scope {
		out.Set(rb.Name, s.Value(rb.Value))
	}
	return out
}

// Value sanitizes a single value.
func (s *Sanitizer) Value(v any) (out Value) {
	defer func() {
		if r := recover(); r != nil {
			out = Descriptor(fmt.Sprintf("<unprintable %T>", v))
		}
	}()
	return s.convert(reflect.ValueOf(v), 0)
}

func (s *Sanitizer) convert(rv reflect.Value, depth int) Value {
	if !rv.IsValid() {
		return Nil()
	}
	if depth > s.MaxDepth {
		return Descriptor(fmt.Sprintf("<%s value (max depth)>", rv.Type()))
	}

	// Module handles before anything else, mirroring the function check.
	if rv.Type() == reflect.TypeOf(Package("")) {
		return Descriptor(fmt.Sprintf("<package %q>", rv.String()))
	}

	switch rv.Kind() {
	case reflect.Func:
		if rv.IsNil() {
			return Nil()
		}
		name := "func"
		if fn := runtime.FuncForPC(rv.Pointer()); fn != nil {
			name = fn.Name()
		}
		return Descriptor(fmt.Sprintf("<func %s at 0x%x>", name, rv.Pointer()))
	case reflect.Bool:
		return Bool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > uint64(1<<63-1) {
			return Descriptor(fmt.Sprintf("<%s value %d>", rv.Type(), u))
		}
		return Int(int64(u))
	case reflect.Float32, reflect.Float64:
		return Float(rv.Float())
	case reflect.String:
		return String(rv.String())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return Nil()
		}
		vs := make([]Value, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			vs[i] = s.convert(rv.Index(i), depth+1)
		}
		return List(vs)
	case reflect.Map:
		if rv.IsNil() {
			return Nil()
		}
		if rv.Type().Key().Kind() != reflect.String {
			return s.identity(rv)
		}
		keys := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		fs := make([]Field, 0, len(keys))
		for _, k := range keys {
			fs = append(fs, Field{
				Name:  k,
				Value: s.convert(rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key())), depth+1),
			})
		}
		return Object(fs)
	case reflect.Struct:
		t := rv.Type()
		fs := make([]Field, 0, t.NumField())
		for i := 0; i < t.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			fs = append(fs, Field{Name: t.Field(i).Name, Value: s.convert(rv.Field(i), depth+1)})
		}
		return Object(fs)
	case reflect.Ptr:
		if rv.IsNil() {
			return Nil()
		}
		return s.convert(rv.Elem(), depth+1)
	case reflect.Interface:
		if rv.IsNil() {
			return Nil()
		}
		return s.convert(rv.Elem(), depth+1)
	default:
		// chan, unsafe pointer and anything the cases above cannot express
		return s.identity(rv)
	}
}

// identity produces the type+identity descriptor used when a value is not
// structurally representable.
func (s *Sanitizer) identity(rv reflect.Value) Value {
	switch rv.Kind() {
	case reflect.Chan, reflect.Map, reflect.Slice, reflect.UnsafePointer, reflect.Ptr, reflect.Func:
		return Descriptor(fmt.Sprintf("<%s value at 0x%x>", rv.Type(), rv.Pointer()))
	default:
		return Descriptor(fmt.Sprintf("<%s value>", rv.Type()))
	}
}
