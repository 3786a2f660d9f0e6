package snapshot

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ManualTraceText marks an artifact produced by an explicit checkpoint
// rather than a failure.
const ManualTraceText = "<manual checkpoint - no failure>"

// Builder assembles Snapshots from walked frames plus process metadata.
type Builder struct {
	redactor *Redactor
}

// NewBuilder returns a Builder using the given redactor, or the default one
// when nil.
func NewBuilder(r *Redactor) *Builder {
	if r == nil {
		r = NewRedactor(nil, "")
	}
	return &Builder{redactor: r}
}

// BuildFromFailure assembles a Snapshot for a failure capture. The focus is
// the innermost frame (highest id), or 0 when the walk produced no frames.
// Only the failure's kind name and message text are recorded.
func (b *Builder) BuildFromFailure(kind, message string, frames []FrameRecord) *Snapshot {
	focus := 0
	if len(frames) > 0 {
		focus = len(frames) - 1
	}
	s := b.base(frames)
	s.Failure = &Failure{Kind: kind, Message: message}
	s.TraceText = formatTrace(kind, message, frames)
	s.FocusFrame = focus
	return s
}

// BuildManual assembles a Snapshot for an explicit checkpoint. The focus is
// the outermost frame (id 0) and no failure descriptor is recorded.
func (b *Builder) BuildManual(frames []FrameRecord) *Snapshot {
	s := b.base(frames)
	s.TraceText = ManualTraceText
	s.FocusFrame = 0
	return s
}

func (b *Builder) base(frames []FrameRecord) *Snapshot {
	wd, _ := os.Getwd()
	return &Snapshot{
		FormatVersion:  FormatVersion,
		ID:             uuid.NewString(),
		Timestamp:      time.Now(),
		Frames:         frames,
		RuntimeVersion: runtime.Version(),
		WorkingDir:     wd,
		Args:           append([]string(nil), os.Args...),
		Environ:        b.environ(),
	}
}

// environ captures the process environment, dropping private-by-convention
// names and redacting credential-looking ones.
func (b *Builder) environ() Bindings {
	var out Bindings
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !ExportedName(name) {
			continue
		}
		out.Set(name, String(value))
	}
	return b.redactor.Apply(out)
}

// identity names that stay visible despite the private prefix
var allowedPrivateNames = map[string]struct{}{
	"__name__": {},
	"__file__": {},
}

// ExportedName reports whether a binding or environment name survives the
// private-prefix filter.
func ExportedName(name string) bool {
	if !strings.HasPrefix(name, "_") {
		return true
	}
	_, ok := allowedPrivateNames[name]
	return ok
}

// FilterPrivate drops private-prefixed names from a module-level scope,
// keeping the allow-listed identity names.
func FilterPrivate(in Bindings) Bindings {
	out := make(Bindings, 0, len(in))
	for _, b := range in {
		if ExportedName(b.Name) {
			out = append(out, b)
		}
	}
	return out
}

// formatTrace renders the full formatted trace text stored in the artifact,
// oldest call first, the failing line last.
func formatTrace(kind, message string, frames []FrameRecord) string {
	var sb strings.Builder
	sb.WriteString("Trace (most recent call last):\n")
	for _, f := range frames {
		fmt.Fprintf(&sb, "  %s:%d in %s\n", f.File, f.Line, f.Function)
		if idx := f.Line - f.ContextStart; idx >= 0 && idx < len(f.Context) {
			fmt.Fprintf(&sb, "    %s\n", strings.TrimSpace(f.Context[idx]))
		}
	}
	fmt.Fprintf(&sb, "%s: %s\n", kind, message)
	return sb.String()
}
