// Package session drives the interactive post-mortem inspector over a
// loaded Snapshot. The Snapshot is immutable; all session state (frame
// pointer, per-frame namespaces, display list) lives only for the session.
package session

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/dpdb-go/dpdb/pkg/snapshot"
	"github.com/dpdb-go/dpdb/pkg/stack"
)

const prompt = "(Dpdb) "

// Session is the interactive inspector state machine over one Snapshot.
type Session struct {
	snap        *snapshot.Snapshot
	frameIdx    int
	namespaces  []*namespace
	displayList []string
	out         io.Writer
	st          styles
	reader      *stack.ContextReader
}

// Option configures a Session.
type Option func(*Session)

// WithTheme forces a palette instead of detecting one.
func WithTheme(t Theme) Option {
	return func(s *Session) {
		s.st = newStyles(lipgloss.NewRenderer(s.out), t)
	}
}

// New builds a session over the snapshot and prints the opening summary.
func New(snap *snapshot.Snapshot, out io.Writer, opts ...Option) *Session {
	s := &Session{
		snap:       snap,
		frameIdx:   snap.FocusFrame,
		namespaces: make([]*namespace, len(snap.Frames)),
		out:        out,
		reader:     stack.NewContextReader(16),
	}
	s.st = newStyles(lipgloss.NewRenderer(out), DetectTheme("", out))
	for _, opt := range opts {
		opt(s)
	}

	if len(snap.Frames) == 0 {
		fmt.Fprintln(out, s.st.err.Render("No frames available in core dump"))
		return s
	}
	fmt.Fprintln(out, s.st.info.Render(fmt.Sprintf("Core dump from %s", snap.Timestamp.Format("2006-01-02 15:04:05"))))
	if snap.Failure != nil {
		fmt.Fprintln(out, s.st.err.Render(fmt.Sprintf("Exception: %s: %s", snap.Failure.Kind, snap.Failure.Message)))
	}
	fmt.Fprintln(out, s.st.success.Render(fmt.Sprintf("Total frames: %d", len(snap.Frames))))
	s.showCurrentFrame()
	return s
}

// FrameIndex returns the current frame pointer.
func (s *Session) FrameIndex() int { return s.frameIdx }

// Run blocks on the command loop until quit or end of input.
func (s *Session) Run(in io.Reader) {
	fmt.Fprintln(s.out, "Post-mortem debugger. Type help or ? to list commands.")
	reader := bufio.NewReader(in)
	for {
		fmt.Fprint(s.out, prompt)
		line, err := reader.ReadString('\n')
		if err != nil {
			fmt.Fprintln(s.out)
			s.quit()
			return
		}
		if !s.Exec(strings.TrimSpace(line)) {
			return
		}
	}
}

// Exec runs one command line. It returns false when the session reached its
// terminal state.
func (s *Session) Exec(line string) bool {
	if line == "" {
		return true
	}
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "u", "up":
		s.moveFrame(-1, arg)
	case "d", "down":
		s.moveFrame(1, arg)
	case "f", "frame":
		s.selectFrame(arg)
	case "w", "where", "bt", "backtrace":
		s.where()
	case "l", "list":
		s.list()
	case "ll", "longlist":
		s.longlist()
	case "locals":
		s.locals()
	case "globals":
		s.globals()
	case "a", "args":
		s.args()
	case "p", "pp":
		if arg == "" {
			s.errorf("*** Missing expression")
			return true
		}
		s.evaluate(arg)
	case "whatis":
		s.whatis(arg)
	case "display":
		s.display(arg)
	case "undisplay":
		s.undisplay(arg)
	case "info":
		s.info()
	case "source":
		s.source(arg)
	case "h", "help", "?":
		s.help()
	case "q", "quit", "exit":
		s.quit()
		return false
	default:
		// anything else is evaluated in the current frame's namespace
		s.evaluate(line)
	}
	return true
}

func (s *Session) errorf(format string, args ...any) {
	fmt.Fprintln(s.out, s.st.err.Render(fmt.Sprintf(format, args...)))
}

func (s *Session) warnf(format string, args ...any) {
	fmt.Fprintln(s.out, s.st.warn.Render(fmt.Sprintf(format, args...)))
}

func (s *Session) currentFrame() *snapshot.FrameRecord {
	if len(s.snap.Frames) == 0 || s.frameIdx < 0 || s.frameIdx >= len(s.snap.Frames) {
		return nil
	}
	return &s.snap.Frames[s.frameIdx]
}

// namespace returns the current frame's evaluation environment, seeding it
// on first use.
func (s *Session) namespace() *namespace {
	if s.namespaces[s.frameIdx] == nil {
		s.namespaces[s.frameIdx] = newNamespace(s.currentFrame())
	}
	return s.namespaces[s.frameIdx]
}

func (s *Session) showCurrentFrame() {
	f := s.currentFrame()
	if f == nil {
		s.errorf("No current frame")
		return
	}
	fmt.Fprintln(s.out, panel(s.st, fmt.Sprintf("Frame %d", s.frameIdx), s.st.frameHeading(f)))
	writeContext(s.out, s.st, f.Context, f.ContextStart, f.Line)
}

// moveFrame shifts the frame pointer by direction*count, clamped: a move
// that would exceed the bounds reports and leaves the pointer unchanged.
func (s *Session) moveFrame(direction int, arg string) {
	count := 1
	if arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil {
			s.errorf("*** Invalid number")
			return
		}
		count = n
	}
	next := s.frameIdx + direction*count
	if next < 0 {
		s.warnf("*** Oldest frame")
		return
	}
	if next >= len(s.snap.Frames) {
		s.warnf("*** Newest frame")
		return
	}
	s.frameIdx = next
	s.showCurrentFrame()
}

func (s *Session) selectFrame(arg string) {
	if arg == "" {
		s.showCurrentFrame()
		return
	}
	n, err := strconv.Atoi(arg)
	if err != nil {
		s.errorf("*** Invalid frame number")
		return
	}
	if n < 0 || n >= len(s.snap.Frames) {
		s.errorf("*** Frame number must be between 0 and %d", len(s.snap.Frames)-1)
		return
	}
	s.frameIdx = n
	s.showCurrentFrame()
}

// where prints the full ordered listing, innermost frame at the bottom,
// current frame marked.
func (s *Session) where() {
	t := s.st.newTable("Frame", "File", "Line", "Function")
	for i, f := range s.snap.Frames {
		marker := " "
		if i == s.frameIdx {
			marker = "→"
		}
		t.Row(fmt.Sprintf("%s %d", marker, i), filepath.Base(f.File), strconv.Itoa(f.Line), f.Function)
	}
	fmt.Fprintln(s.out, s.st.info.Render("Stack Trace"))
	fmt.Fprintln(s.out, t.Render())
}

func (s *Session) list() {
	f := s.currentFrame()
	if f == nil || len(f.Context) == 0 {
		s.errorf("*** No source code available")
		return
	}
	writeContext(s.out, s.st, f.Context, f.ContextStart, f.Line)
}

// longlist re-reads a wider window from the source file when it is still
// reachable, degrading to the stored window otherwise.
func (s *Session) longlist() {
	f := s.currentFrame()
	if f == nil {
		s.errorf("No current frame")
		return
	}
	lines, err := s.reader.Lines(f.File)
	if err != nil {
		s.errorf("*** Could not read source file")
		s.list()
		return
	}
	ctx, start := stack.Wide(lines, f.Line)
	fmt.Fprintln(s.out, s.st.info.Render(fmt.Sprintf("Extended source for %s in %s", f.Function, f.File)))
	writeContext(s.out, s.st, ctx, start, f.Line)
}

// locals projects the current frame's namespace as it stands now, so
// in-session mutations and new names are visible.
func (s *Session) locals() {
	f := s.currentFrame()
	if f == nil {
		s.errorf("No current frame")
		return
	}
	vars := s.namespace().vars()
	if len(vars) == 0 {
		s.warnf("*** No local variables")
		return
	}
	fmt.Fprintln(s.out, bindingsTable(s.st, "Local Variables", vars))
}

// globals projects the originally captured module-level bindings; session
// mutations never show up here.
func (s *Session) globals() {
	f := s.currentFrame()
	if f == nil {
		s.errorf("No current frame")
		return
	}
	if len(f.Globals) == 0 {
		s.warnf("*** No global variables")
		return
	}
	fmt.Fprintln(s.out, bindingsTable(s.st, "Global Variables", f.Globals))
}

// args lists the captured locals that look like arguments, best-effort: the
// artifact does not store signatures.
func (s *Session) args() {
	f := s.currentFrame()
	if f == nil {
		s.errorf("No current frame")
		return
	}
	if len(f.Locals) == 0 {
		s.warnf("*** No local variables available")
		return
	}
	var candidates snapshot.Bindings
	for _, b := range f.Locals {
		if !strings.HasPrefix(b.Name, "_") {
			candidates = append(candidates, b)
		}
	}
	if len(candidates) == 0 {
		s.warnf("*** No arguments found")
		return
	}
	fmt.Fprintln(s.out, bindingsTable(s.st, "Function Arguments", candidates))
}

// evaluate runs an expression (or, on syntactic failure, a statement) in
// the current frame's namespace. Failures are reported and never terminate
// the session.
func (s *Session) evaluate(code string) {
	if s.currentFrame() == nil {
		s.errorf("No current frame")
		return
	}
	results, err := s.namespace().eval(code)
	if err != nil {
		s.errorf("*** %v", err)
		return
	}
	for _, v := range results {
		if v.Kind == snapshot.KindNil {
			continue
		}
		fmt.Fprintln(s.out, v.String())
	}
}

func (s *Session) whatis(arg string) {
	if arg == "" {
		s.errorf("*** Missing expression")
		return
	}
	if s.currentFrame() == nil {
		s.errorf("No current frame")
		return
	}
	results, err := s.namespace().eval(arg)
	if err != nil {
		s.errorf("*** %v", err)
		return
	}
	if len(results) == 0 {
		fmt.Fprintln(s.out, s.st.info.Render(arg)+" is "+s.st.highlight.Render("nil"))
		return
	}
	fmt.Fprintln(s.out, s.st.info.Render(arg)+" is "+s.st.highlight.Render(results[0].TypeName()))
}

// display manages the session-local annotation list. The list is never
// re-evaluated automatically by other transitions.
func (s *Session) display(arg string) {
	if arg == "" {
		if len(s.displayList) == 0 {
			s.warnf("*** No display expressions")
			return
		}
		for _, expr := range s.displayList {
			fmt.Fprintln(s.out, s.st.info.Render("display: ")+expr)
		}
		return
	}
	s.displayList = append(s.displayList, arg)
	fmt.Fprintln(s.out, s.st.success.Render("Display expression added: "+arg))
}

func (s *Session) undisplay(arg string) {
	if arg == "" {
		s.displayList = nil
		fmt.Fprintln(s.out, s.st.success.Render("All display expressions removed"))
		return
	}
	for i, expr := range s.displayList {
		if expr == arg {
			s.displayList = append(s.displayList[:i], s.displayList[i+1:]...)
			fmt.Fprintln(s.out, s.st.success.Render("Display expression removed: "+arg))
			return
		}
	}
	s.errorf("*** Expression not in display list: %s", arg)
}

// info prints snapshot metadata; it never mutates session state.
func (s *Session) info() {
	t := s.st.newTable("Property", "Value")
	t.Row("Snapshot ID", s.snap.ID)
	t.Row("Timestamp", s.snap.Timestamp.Format("2006-01-02 15:04:05"))
	if s.snap.Failure != nil {
		t.Row("Exception", fmt.Sprintf("%s: %s", s.snap.Failure.Kind, s.snap.Failure.Message))
	}
	t.Row("Total frames", strconv.Itoa(len(s.snap.Frames)))
	t.Row("Current frame", strconv.Itoa(s.frameIdx))
	t.Row("Runtime version", s.snap.RuntimeVersion)
	t.Row("Working directory", s.snap.WorkingDir)
	fmt.Fprintln(s.out, s.st.info.Render("Core Dump Information"))
	fmt.Fprintln(s.out, t.Render())
}

func (s *Session) source(arg string) {
	if arg != "" {
		s.errorf("*** Could not get source for %s", arg)
		return
	}
	f := s.currentFrame()
	if f == nil || len(f.Context) == 0 {
		s.errorf("*** No source available")
		return
	}
	fmt.Fprintln(s.out, s.st.info.Render(fmt.Sprintf("Source context for %s:", f.Function)))
	writeContext(s.out, s.st, f.Context, f.ContextStart, f.Line)
}

func (s *Session) quit() {
	fmt.Fprintln(s.out, s.st.info.Render("Exiting debugger..."))
}

func (s *Session) help() {
	fmt.Fprintln(s.out, s.st.info.Render("Available commands:"))
	fmt.Fprint(s.out, `
Navigation:
  u(p) [count]     - Move up in stack trace (to an older frame)
  d(own) [count]   - Move down in stack trace (to a newer frame)
  w(here)/bt       - Show stack trace
  f(rame) [num]    - Select frame by number

Information:
  l(ist)           - Show source code context
  ll/longlist      - Show extended source code
  locals           - Show local variables (reflects session mutations)
  globals          - Show captured global variables
  a(rgs)           - Show function arguments
  info             - Show core dump information
  source           - Show source context for the current function

Evaluation:
  p <expr>         - Evaluate expression and print its value
  whatis <expr>    - Show expression type
  <expression>     - Bare input is evaluated too

Display:
  display [expr]   - Add expression to the display list, or list entries
  undisplay [expr] - Remove from the display list (all without argument)

Control:
  q(uit)/exit      - Exit debugger
  h(elp)/?         - Show this help
`)
}
