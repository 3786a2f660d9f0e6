package stack

import (
	"runtime"
	"strings"

	"github.com/dpdb-go/dpdb/pkg/snapshot"
)

// Activation is one live activation record as reported by a StackSource,
// before source context and sanitization are applied. Binding scopes are
// optional: the runtime exposes call locations but not locals, so scopes
// are present only when a checkpoint site supplied them.
type Activation struct {
	File     string
	Function string
	Line     int
	Locals   snapshot.Scope
	Globals  snapshot.Scope
}

// StackSource enumerates activation records, oldest call first. The two
// implementations are interchangeable: a runtime-backed source for failure
// and running-stack capture, and a caller-supplied one for hosts that track
// their own activations.
type StackSource interface {
	Frames() []Activation
}

// maxStackDepth bounds a single capture.
const maxStackDepth = 128

// capture engine files whose activation records are skipped during a walk
var engineFiles = []string{
	"/pkg/stack/walker.go",
	"/pkg/crashtrap/crashtrap.go",
}

// runtimeSource captures program counters eagerly at construction, while
// the stack is still live.
type runtimeSource struct {
	pcs     []uintptr
	locals  snapshot.Scope
	globals snapshot.Scope
}

// FailureStack captures the propagation chain of an in-flight failure. It
// must be called from within the deferred recover handler, where the
// panicking frames are still on the stack. skip discards that many extra
// callers of FailureStack itself.
func FailureStack(skip int) StackSource {
	return capture(skip+2, nil, nil)
}

// RunningStack captures the currently executing call chain outward from the
// immediate caller. The supplied scopes, if any, attach to the innermost
// captured frame.
func RunningStack(skip int, locals, globals snapshot.Scope) StackSource {
	return capture(skip+2, locals, globals)
}

func capture(skip int, locals, globals snapshot.Scope) *runtimeSource {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(skip, pcs)
	return &runtimeSource{pcs: pcs[:n], locals: locals, globals: globals}
}

func (s *runtimeSource) Frames() []Activation {
	var acts []Activation
	frames := runtime.CallersFrames(s.pcs)
	for {
		f, more := frames.Next()
		if !skipFrame(f) {
			acts = append(acts, Activation{File: f.File, Function: f.Function, Line: f.Line})
		}
		if !more {
			break
		}
	}
	// the runtime reports innermost first; ids ascend oldest to newest
	for i, j := 0, len(acts)-1; i < j; i, j = i+1, j-1 {
		acts[i], acts[j] = acts[j], acts[i]
	}
	if n := len(acts); n > 0 {
		acts[n-1].Locals = s.locals
		acts[n-1].Globals = s.globals
	}
	return acts
}

// skipFrame drops activation records belonging to the capture engine and to
// the runtime's panic machinery.
func skipFrame(f runtime.Frame) bool {
	if strings.HasPrefix(f.Function, "runtime.") {
		return true
	}
	file := strings.ReplaceAll(f.File, "\\", "/")
	for _, suffix := range engineFiles {
		if strings.HasSuffix(file, suffix) {
			return true
		}
	}
	return false
}

// Walker turns a StackSource into ordered FrameRecords with source context
// and sanitized bindings.
type Walker struct {
	reader *ContextReader
	san    *snapshot.Sanitizer
}

// NewWalker returns a Walker with a default-sized file cache.
func NewWalker() *Walker {
	return &Walker{reader: NewContextReader(64), san: snapshot.NewSanitizer()}
}

// Walk produces the ordered FrameRecord sequence for a source. Unreadable
// source degrades to the placeholder window; capture itself never fails.
func (w *Walker) Walk(src StackSource) []snapshot.FrameRecord {
	acts := src.Frames()
	records := make([]snapshot.FrameRecord, 0, len(acts))
	for i, a := range acts {
		rec := snapshot.FrameRecord{
			ID:       i,
			File:     a.File,
			Function: a.Function,
			Line:     a.Line,
			Locals:   w.san.Sanitize(a.Locals),
			Globals:  snapshot.FilterPrivate(w.san.Sanitize(a.Globals)),
		}
		if lines, err := w.reader.Lines(a.File); err == nil {
			rec.Context, rec.ContextStart = Window(lines, a.Line)
		} else {
			rec.Context = []string{SourcePlaceholder}
			rec.ContextStart = a.Line
		}
		records = append(records, rec)
	}
	return records
}

// CaptureFromFailure walks the in-flight failure's chain. Call it from the
// deferred recover handler that observed the failure.
func (w *Walker) CaptureFromFailure(skip int) []snapshot.FrameRecord {
	return w.Walk(FailureStack(skip + 1))
}

// CaptureRunningStack walks outward from the immediate caller, attaching
// the supplied scopes to the innermost frame.
func (w *Walker) CaptureRunningStack(locals, globals snapshot.Scope) []snapshot.FrameRecord {
	return w.Walk(RunningStack(1, locals, globals))
}
