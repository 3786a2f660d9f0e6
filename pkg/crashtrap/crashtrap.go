// Package crashtrap intercepts unexpected failures and turns them into
// snapshot artifacts. Go has no process-wide failure hook, so interception
// is expressed as explicit wrappers: Main/Protect for the current
// goroutine and Go as the worker-launch composition point every worker
// call site goes through.
package crashtrap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dpdb-go/dpdb/pkg/snapshot"
	"github.com/dpdb-go/dpdb/pkg/stack"
)

// Interruption is the user-initiated interruption sentinel. Panicking with
// it is passed through unmodified and never produces a snapshot.
var Interruption = errors.New("interrupted by user")

// ExitPanic is the deliberate-termination sentinel. Like Interruption it is
// passed through unmodified.
type ExitPanic struct {
	Code int
}

func (e ExitPanic) Error() string { return fmt.Sprintf("exit status %d", e.Code) }

// ExitCode implements the conventional exit-code accessor.
func (e ExitPanic) ExitCode() int { return e.Code }

// Exit unwinds with an ExitPanic: Protect wrappers pass it through without
// producing a snapshot.
func Exit(code int) {
	panic(ExitPanic{Code: code})
}

// signal names whose appearance in a failure message marks an intentional
// shutdown rather than a crash
var signalNames = []string{"sigterm", "sigint", "sigkill", "signal"}

// Config controls where and how intercepted crashes are persisted.
type Config struct {
	// Dir is the destination directory for crash artifacts.
	Dir string
	// Label names the artifact for crashes caught by Main.
	Label string
	// Redactor filters credential-looking bindings; nil selects the default.
	Redactor *snapshot.Redactor
}

// Option mutates a Config.
type Option func(*Config)

// WithDir sets the artifact destination directory.
func WithDir(dir string) Option { return func(c *Config) { c.Dir = dir } }

// WithLabel sets the artifact label used by Main.
func WithLabel(label string) Option { return func(c *Config) { c.Label = label } }

// WithRedactor sets the redactor applied to captured metadata.
func WithRedactor(r *snapshot.Redactor) Option { return func(c *Config) { c.Redactor = r } }

func defaultConfig() Config {
	return Config{
		Dir:   ".",
		Label: fmt.Sprintf("main_process_%d", os.Getpid()),
	}
}

var state struct {
	mu        sync.Mutex
	installed bool
	cfg       Config
}

// Install activates crash interception for subsequent Main/Protect/Go
// calls. Installing twice is a no-op; Uninstall restores the pre-install
// behavior exactly.
func Install(opts ...Option) {
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.installed {
		return
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	state.cfg = cfg
	state.installed = true
	fmt.Fprintln(os.Stderr, "crash handler installed - protected calls will generate core dumps on failure")
}

// Uninstall deactivates interception. Uninstalling when not installed is a
// no-op.
func Uninstall() {
	state.mu.Lock()
	defer state.mu.Unlock()
	if !state.installed {
		return
	}
	state.installed = false
	state.cfg = Config{}
	fmt.Fprintln(os.Stderr, "crash handler uninstalled")
}

func current() (Config, bool) {
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.cfg, state.installed
}

// Main runs fn under the top-level failure hook, naming any artifact after
// the configured process label.
func Main(fn func()) {
	cfg, ok := current()
	if !ok {
		cfg = defaultConfig()
	}
	protect(cfg.Label, fn)
}

// Protect runs fn, intercepting any failure that escapes it. Without an
// installed handler Protect is transparent: the failure re-raises with no
// capture, exactly as an unwrapped call would. Intentional
// shutdown (Interruption, ExitPanic, or a message referencing a termination
// signal) is re-raised without a snapshot; every other failure is captured
// to <label>_crash.dpdb and then re-raised unchanged, so the host's own
// termination behavior is preserved.
func Protect(label string, fn func()) {
	protect(label, fn)
}

// Go spawns fn as an independent worker with the identical policy. The
// re-raise after capture keeps the worker's failure observable to its
// supervisor.
func Go(label string, fn func()) {
	go protect(label, fn)
}

func protect(label string, fn func()) {
	defer func() {
		if v := recover(); v != nil {
			cfg, installed := current()
			switch {
			case !installed:
				// no handler installed: behave exactly as an unwrapped call
			case passthrough(v):
				fmt.Fprintf(os.Stderr, "intentional termination in %s, passing through\n", label)
			default:
				fmt.Fprintf(os.Stderr, "\nunhandled failure in %s, creating core dump...\n", label)
				capture(cfg, label, v)
			}
			panic(v)
		}
	}()
	fn()
}

// passthrough reports whether a recovered value represents intentional
// shutdown rather than a crash.
func passthrough(v any) bool {
	if _, ok := v.(interface{ ExitCode() int }); ok {
		return true
	}
	if err, ok := v.(error); ok && errors.Is(err, Interruption) {
		return true
	}
	msg := strings.ToLower(fmt.Sprint(v))
	for _, name := range signalNames {
		if strings.Contains(msg, name) {
			return true
		}
	}
	return false
}

// capture builds and persists the snapshot under the writer guard. Failures
// here are reported but never alter the re-raise of the original value.
func capture(cfg Config, label string, v any) {
	frames := stack.NewWalker().CaptureFromFailure(1)
	snap := snapshot.NewBuilder(cfg.Redactor).BuildFromFailure(fmt.Sprintf("%T", v), fmt.Sprint(v), frames)

	if err := snapshot.AcquireWriterGuard(cfg.Dir); err != nil {
		if errors.Is(err, snapshot.ErrWriterConflict) {
			fmt.Fprintf(os.Stderr, "warning: another process is writing a core dump into %s, skipping capture\n", cfg.Dir)
		} else {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
		return
	}
	defer snapshot.ReleaseWriterGuard(cfg.Dir)

	path := filepath.Join(cfg.Dir, snapshot.CrashArtifactName(label))
	if err := snapshot.Save(snap, path); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		return
	}
	fmt.Fprintf(os.Stderr, "core dump saved to: %s\n", path)
}

// Checkpoint captures the currently executing call chain as a manual
// snapshot, attaching the caller-supplied scopes to the innermost frame.
// An empty path selects core_dump_<timestamp>.dpdb in the working
// directory. This is the checkpoint-based capture entry point for hosts
// whose locals the runtime cannot see.
func Checkpoint(path string, locals, globals snapshot.Scope) (string, error) {
	cfg, _ := current()
	frames := stack.NewWalker().CaptureRunningStack(locals, globals)
	snap := snapshot.NewBuilder(cfg.Redactor).BuildManual(frames)
	if path == "" {
		path = snapshot.ManualArtifactName(time.Now())
	}
	if err := snapshot.Save(snap, path); err != nil {
		return "", err
	}
	return path, nil
}
