package snapshot

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// FormatVersion is the artifact schema version written by this build.
// Load rejects artifacts with a version it does not understand.
const FormatVersion = 1

// ValueKind tags the variant of a Value.
type ValueKind string

const (
	KindNil        ValueKind = "nil"
	KindBool       ValueKind = "bool"
	KindInt        ValueKind = "int"
	KindFloat      ValueKind = "float"
	KindString     ValueKind = "string"
	KindList       ValueKind = "list"
	KindObject     ValueKind = "object"
	KindDescriptor ValueKind = "descriptor"
)

// Value is a binding value in its persistable form. It is a closed sum:
// a primitive (nil/bool/int/float/string), a structured payload (list or
// object of Values), or a descriptor string standing in for a value that
// could not be stored. Every producer picks a variant explicitly.
type Value struct {
	Kind   ValueKind `json:"kind"`
	Bool   bool      `json:"bool,omitempty"`
	Int    int64     `json:"int,omitempty"`
	Float  float64   `json:"float,omitempty"`
	Str    string    `json:"str,omitempty"`
	List   []Value   `json:"list,omitempty"`
	Object []Field   `json:"object,omitempty"`
}

// Field is one named member of an object Value.
type Field struct {
	Name  string `json:"name"`
	Value Value  `json:"value"`
}

func Nil() Value                { return Value{Kind: KindNil} }
func Bool(b bool) Value         { return Value{Kind: KindBool, Bool: b} }
func Int(i int64) Value         { return Value{Kind: KindInt, Int: i} }
func Float(f float64) Value     { return Value{Kind: KindFloat, Float: f} }
func String(s string) Value     { return Value{Kind: KindString, Str: s} }
func List(vs []Value) Value     { return Value{Kind: KindList, List: vs} }
func Object(fs []Field) Value   { return Value{Kind: KindObject, Object: fs} }
func Descriptor(s string) Value { return Value{Kind: KindDescriptor, Str: s} }

// IsDescriptor reports whether the value is a stand-in rather than data.
func (v Value) IsDescriptor() bool { return v.Kind == KindDescriptor }

// TypeName returns a short name for the variant, used by whatis-style output.
func (v Value) TypeName() string {
	switch v.Kind {
	case KindNil:
		return "nil"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindObject:
		return "object"
	case KindDescriptor:
		return "descriptor"
	default:
		return "unknown"
	}
}

// String renders the value for display.
func (v Value) String() string {
	switch v.Kind {
	case KindNil:
		return "nil"
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		if v.Float == math.Trunc(v.Float) && !math.IsInf(v.Float, 0) {
			return strconv.FormatInt(int64(v.Float), 10)
		}
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.Str)
	case KindList:
		s := "["
		for i, e := range v.List {
			if i > 0 {
				s += ", "
			}
			s += e.String()
		}
		return s + "]"
	case KindObject:
		s := "{"
		for i, f := range v.Object {
			if i > 0 {
				s += ", "
			}
			s += f.Name + ": " + f.Value.String()
		}
		return s + "}"
	case KindDescriptor:
		return v.Str
	default:
		return fmt.Sprintf("<invalid value kind %q>", string(v.Kind))
	}
}

// Binding is one name-to-value association within a frame's scope.
type Binding struct {
	Name  string `json:"name"`
	Value Value  `json:"value"`
}

// Bindings is an ordered name->Value mapping: keys are unique and insertion
// order is preserved, which a Go map cannot express. The zero value is an
// empty, usable mapping.
type Bindings []Binding

// Set appends the binding, or overwrites in place if the name exists.
func (b *Bindings) Set(name string, v Value) {
	for i := range *b {
		if (*b)[i].Name == name {
			(*b)[i].Value = v
			return
		}
	}
	*b = append(*b, Binding{Name: name, Value: v})
}

// Get returns the value bound to name.
func (b Bindings) Get(name string) (Value, bool) {
	for i := range b {
		if b[i].Name == name {
			return b[i].Value, true
		}
	}
	return Value{}, false
}

// Names returns the binding names in insertion order.
func (b Bindings) Names() []string {
	names := make([]string, len(b))
	for i := range b {
		names[i] = b[i].Name
	}
	return names
}

// FrameRecord is one activation record in a captured call chain. IDs are
// contiguous and assigned in walk order; the oldest call has the lowest id.
type FrameRecord struct {
	ID           int      `json:"id"`
	File         string   `json:"file"`
	Function     string   `json:"function"`
	Line         int      `json:"line"`
	Context      []string `json:"context"`
	ContextStart int      `json:"context_start"`
	Locals       Bindings `json:"locals"`
	Globals      Bindings `json:"globals"`
}

// Failure describes the failure that triggered a capture. Only the kind name
// and message text are stored, never a live error value, so the artifact is
// self-contained.
type Failure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Snapshot is the persisted record of one captured execution state. It is
// created once at capture time and read-only thereafter.
type Snapshot struct {
	FormatVersion  int           `json:"format_version"`
	ID             string        `json:"id"`
	Timestamp      time.Time     `json:"timestamp"`
	Failure        *Failure      `json:"failure,omitempty"`
	TraceText      string        `json:"trace_text"`
	Frames         []FrameRecord `json:"frames"`
	FocusFrame     int           `json:"focus_frame"`
	RuntimeVersion string        `json:"runtime_version"`
	WorkingDir     string        `json:"working_dir"`
	Args           []string      `json:"args"`
	Environ        Bindings      `json:"environ"`
}
