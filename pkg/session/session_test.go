package session_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/dpdb-go/dpdb/pkg/session"
	"github.com/dpdb-go/dpdb/pkg/snapshot"
)

func crashFixture() *snapshot.Snapshot {
	frames := []snapshot.FrameRecord{
		{
			ID: 0, File: "/app/main.go", Function: "main.main", Line: 5,
			Context: []string{"func main() {", "\trun()", "}"}, ContextStart: 4,
			Locals:  snapshot.Bindings{{Name: "x", Value: snapshot.Int(1)}},
			Globals: snapshot.Bindings{{Name: "limit", Value: snapshot.Int(100)}},
		},
		{
			ID: 1, File: "/app/pipeline.go", Function: "main.process", Line: 20,
			Context: []string{"\ttotal += divide(100, v)"}, ContextStart: 20,
			Locals:  snapshot.Bindings{{Name: "x", Value: snapshot.Int(10)}},
			Globals: snapshot.Bindings{{Name: "limit", Value: snapshot.Int(100)}},
		},
		{
			ID: 2, File: "/app/pipeline.go", Function: "main.divide", Line: 31,
			Context: []string{"\treturn numerator / denominator"}, ContextStart: 31,
			Locals: snapshot.Bindings{
				{Name: "numerator", Value: snapshot.Int(100)},
				{Name: "denominator", Value: snapshot.Int(0)},
			},
			Globals: snapshot.Bindings{{Name: "limit", Value: snapshot.Int(100)}},
		},
	}
	return snapshot.NewBuilder(nil).BuildFromFailure("runtime.Error", "integer divide by zero", frames)
}

type harness struct {
	snap *snapshot.Snapshot
	s    *session.Session
	out  *bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	out := &bytes.Buffer{}
	snap := crashFixture()
	s := session.New(snap, out, session.WithTheme(session.DarkTheme()))
	out.Reset()
	return &harness{snap: snap, s: s, out: out}
}

// run executes one command line and returns its output.
func (h *harness) run(line string) string {
	h.out.Reset()
	h.s.Exec(line)
	return h.out.String()
}

func TestSessionOpensOnFailingFrame(t *testing.T) {
	h := newHarness(t)
	if h.s.FrameIndex() != 2 {
		t.Errorf("Expected session to open on the failing frame, got %d", h.s.FrameIndex())
	}
}

func TestNavigationBounds(t *testing.T) {
	h := newHarness(t)

	h.run("u")
	if h.s.FrameIndex() != 1 {
		t.Fatalf("Expected frame 1 after up, got %d", h.s.FrameIndex())
	}

	// An out-of-range move reports and leaves the pointer unchanged.
	out := h.run("u 5")
	if !strings.Contains(out, "*** Oldest frame") {
		t.Errorf("Expected oldest-frame report, got %q", out)
	}
	if h.s.FrameIndex() != 1 {
		t.Errorf("Expected frame unchanged after rejected move, got %d", h.s.FrameIndex())
	}

	h.run("u")
	if out := h.run("u"); !strings.Contains(out, "*** Oldest frame") {
		t.Errorf("Expected oldest-frame report at frame 0, got %q", out)
	}

	h.run("d 2")
	if h.s.FrameIndex() != 2 {
		t.Fatalf("Expected frame 2 after down 2, got %d", h.s.FrameIndex())
	}
	if out := h.run("d"); !strings.Contains(out, "*** Newest frame") {
		t.Errorf("Expected newest-frame report, got %q", out)
	}

	if out := h.run("u abc"); !strings.Contains(out, "*** Invalid number") {
		t.Errorf("Expected invalid-number report, got %q", out)
	}
}

func TestSelectFrame(t *testing.T) {
	h := newHarness(t)

	h.run("f 0")
	if h.s.FrameIndex() != 0 {
		t.Fatalf("Expected frame 0 after select, got %d", h.s.FrameIndex())
	}

	out := h.run("f 99")
	if !strings.Contains(out, "between 0 and 2") {
		t.Errorf("Expected range report, got %q", out)
	}
	if h.s.FrameIndex() != 0 {
		t.Errorf("Expected frame unchanged after rejected select, got %d", h.s.FrameIndex())
	}
}

func TestWhereMarksCurrentFrame(t *testing.T) {
	h := newHarness(t)

	out := h.run("w")
	if !strings.Contains(out, "→ 2") {
		t.Errorf("Expected current-frame marker on frame 2, got %q", out)
	}
	// Oldest at the top, the failing frame at the bottom.
	mainIdx := strings.Index(out, "main.main")
	divIdx := strings.Index(out, "main.divide")
	if mainIdx < 0 || divIdx < 0 || mainIdx > divIdx {
		t.Errorf("Expected oldest-first listing, got %q", out)
	}
}

func TestEvaluateExpression(t *testing.T) {
	h := newHarness(t)

	if out := h.run("p 1+1"); !strings.Contains(out, "2") {
		t.Errorf("Expected arithmetic result, got %q", out)
	}

	// Captured bindings are visible to expressions.
	if out := h.run("p numerator"); !strings.Contains(out, "100") {
		t.Errorf("Expected captured local visible, got %q", out)
	}

	// A failed evaluation reports and the session continues.
	out := h.run("p 1 +")
	if !strings.Contains(out, "***") {
		t.Errorf("Expected evaluation error report, got %q", out)
	}
	if out := h.run("p 2+2"); !strings.Contains(out, "4") {
		t.Errorf("Expected session usable after an error, got %q", out)
	}
}

func TestLocalsReflectMutations(t *testing.T) {
	h := newHarness(t)

	h.run("denominator = 42")
	if out := h.run("locals"); !strings.Contains(out, "42") {
		t.Errorf("Expected mutated value in locals, got %q", out)
	}

	// The snapshot itself is never written back.
	if v, _ := h.snap.Frames[2].Locals.Get("denominator"); v.Int != 0 {
		t.Errorf("Snapshot mutated: denominator = %d", v.Int)
	}
}

func TestGlobalsShowCapturedState(t *testing.T) {
	h := newHarness(t)

	h.run("limit = 5")
	if out := h.run("globals"); !strings.Contains(out, "100") {
		t.Errorf("Expected captured global value, got %q", out)
	}
	if v, _ := h.snap.Frames[2].Globals.Get("limit"); v.Int != 100 {
		t.Errorf("Snapshot global mutated: limit = %d", v.Int)
	}
}

func TestNamespaceIsolationAcrossFrames(t *testing.T) {
	h := newHarness(t)

	// Mutate x in frame 1, then check frame 0 still sees its own x.
	h.run("f 1")
	h.run("x = 999")
	h.run("f 0")
	if out := h.run("p x"); !strings.Contains(out, "1") || strings.Contains(out, "999") {
		t.Errorf("Expected frame 0 namespace isolated, got %q", out)
	}
	h.run("f 1")
	if out := h.run("p x"); !strings.Contains(out, "999") {
		t.Errorf("Expected frame 1 mutation persistent, got %q", out)
	}
}

func TestWhatis(t *testing.T) {
	h := newHarness(t)

	if out := h.run(`whatis "abc"`); !strings.Contains(out, "string") {
		t.Errorf("Expected string type, got %q", out)
	}
	if out := h.run("whatis numerator"); !strings.Contains(out, "float") {
		t.Errorf("Expected numeric type, got %q", out)
	}
}

func TestArgsFiltersUnderscoreNames(t *testing.T) {
	h := newHarness(t)

	h.run("f 2")
	out := h.run("args")
	if !strings.Contains(out, "numerator") || !strings.Contains(out, "denominator") {
		t.Errorf("Expected argument-like locals listed, got %q", out)
	}
}

func TestDisplayList(t *testing.T) {
	h := newHarness(t)

	if out := h.run("display numerator"); !strings.Contains(out, "Display expression added: numerator") {
		t.Errorf("Unexpected add output: %q", out)
	}
	if out := h.run("display"); !strings.Contains(out, "numerator") {
		t.Errorf("Expected listing to show the entry, got %q", out)
	}
	if out := h.run("undisplay missing"); !strings.Contains(out, "*** Expression not in display list: missing") {
		t.Errorf("Unexpected missing-entry output: %q", out)
	}
	if out := h.run("undisplay numerator"); !strings.Contains(out, "Display expression removed") {
		t.Errorf("Unexpected remove output: %q", out)
	}
	if out := h.run("undisplay"); !strings.Contains(out, "All display expressions removed") {
		t.Errorf("Unexpected clear output: %q", out)
	}
}

func TestInfo(t *testing.T) {
	h := newHarness(t)

	out := h.run("info")
	if !strings.Contains(out, "runtime.Error: integer divide by zero") {
		t.Errorf("Expected failure in info, got %q", out)
	}
	if !strings.Contains(out, h.snap.ID) {
		t.Errorf("Expected snapshot id in info, got %q", out)
	}
}

func TestListShowsContext(t *testing.T) {
	h := newHarness(t)

	out := h.run("l")
	if !strings.Contains(out, "numerator / denominator") {
		t.Errorf("Expected stored context, got %q", out)
	}
	if !strings.Contains(out, "→") {
		t.Errorf("Expected current-line marker, got %q", out)
	}
}

func TestQuit(t *testing.T) {
	h := newHarness(t)

	h.out.Reset()
	if h.s.Exec("q") {
		t.Errorf("Expected quit to end the session")
	}
	if !strings.Contains(h.out.String(), "Exiting debugger...") {
		t.Errorf("Expected exit message, got %q", h.out.String())
	}
}

func TestEmptySnapshot(t *testing.T) {
	out := &bytes.Buffer{}
	snap := &snapshot.Snapshot{FormatVersion: snapshot.FormatVersion}
	s := session.New(snap, out, session.WithTheme(session.DarkTheme()))
	if !strings.Contains(out.String(), "No frames available in core dump") {
		t.Errorf("Expected empty-snapshot report, got %q", out.String())
	}

	out.Reset()
	s.Exec("locals")
	if !strings.Contains(out.String(), "No current frame") {
		t.Errorf("Expected no-frame report, got %q", out.String())
	}
}
