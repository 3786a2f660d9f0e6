package crashtrap_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dpdb-go/dpdb/pkg/crashtrap"
	"github.com/dpdb-go/dpdb/pkg/snapshot"
)

// runProtected invokes Protect and absorbs the re-raised value, returning it.
func runProtected(label string, fn func()) (recovered any) {
	defer func() { recovered = recover() }()
	crashtrap.Protect(label, fn)
	return nil
}

func TestProtectCapturesCrash(t *testing.T) {
	dir := t.TempDir()
	crashtrap.Install(crashtrap.WithDir(dir))
	defer crashtrap.Uninstall()

	v := runProtected("job", func() {
		panic("boom")
	})
	if v != "boom" {
		t.Fatalf("Expected the original panic value re-raised, got %v", v)
	}

	path := filepath.Join(dir, snapshot.CrashArtifactName("job"))
	snap, err := snapshot.Load(path)
	if err != nil {
		t.Fatalf("Failed to load crash artifact: %v", err)
	}
	if snap.Failure == nil || snap.Failure.Message != "boom" {
		t.Errorf("Unexpected failure descriptor: %+v", snap.Failure)
	}
	if snap.Failure.Kind != "string" {
		t.Errorf("Expected kind to name the value type, got %s", snap.Failure.Kind)
	}
	if len(snap.Frames) == 0 {
		t.Fatalf("Expected captured frames")
	}
	if snap.FocusFrame != len(snap.Frames)-1 {
		t.Errorf("Expected focus on innermost frame, got %d of %d", snap.FocusFrame, len(snap.Frames))
	}

	// The panicking closure itself must be visible in the chain.
	found := false
	for _, f := range snap.Frames {
		if strings.Contains(f.Function, "TestProtectCapturesCrash") {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected the failing call site in the captured chain")
	}

	// The writer guard must not leak.
	if _, err := os.Stat(filepath.Join(dir, snapshot.LockFileName)); !os.IsNotExist(err) {
		t.Errorf("Writer guard sentinel leaked")
	}
}

func TestIntentionalTerminationPassesThrough(t *testing.T) {
	dir := t.TempDir()
	crashtrap.Install(crashtrap.WithDir(dir))
	defer crashtrap.Uninstall()

	cases := []struct {
		name  string
		value any
	}{
		{"exit", crashtrap.ExitPanic{Code: 2}},
		{"interrupt", crashtrap.Interruption},
		{"signal message", errors.New("received SIGTERM, shutting down")},
	}
	for _, tc := range cases {
		v := runProtected(tc.name, func() { panic(tc.value) })
		if v == nil {
			t.Errorf("%s: expected the value re-raised", tc.name)
		}
		path := filepath.Join(dir, snapshot.CrashArtifactName(tc.name))
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("%s: expected no artifact for intentional termination", tc.name)
		}
	}
}

func TestProtectNoFailure(t *testing.T) {
	dir := t.TempDir()
	crashtrap.Install(crashtrap.WithDir(dir))
	defer crashtrap.Uninstall()

	ran := false
	if v := runProtected("clean", func() { ran = true }); v != nil {
		t.Errorf("Expected no re-raise for a clean run, got %v", v)
	}
	if !ran {
		t.Errorf("Expected the protected function to run")
	}
	if _, err := os.Stat(filepath.Join(dir, snapshot.CrashArtifactName("clean"))); !os.IsNotExist(err) {
		t.Errorf("Expected no artifact for a clean run")
	}
}

func TestWriterConflictSkipsCapture(t *testing.T) {
	dir := t.TempDir()
	crashtrap.Install(crashtrap.WithDir(dir))
	defer crashtrap.Uninstall()

	// Simulate another writer holding the guard.
	if err := snapshot.AcquireWriterGuard(dir); err != nil {
		t.Fatalf("Failed to acquire guard: %v", err)
	}
	defer snapshot.ReleaseWriterGuard(dir)

	v := runProtected("contested", func() { panic("boom") })
	if v != "boom" {
		t.Fatalf("Expected re-raise despite the conflict, got %v", v)
	}
	if _, err := os.Stat(filepath.Join(dir, snapshot.CrashArtifactName("contested"))); !os.IsNotExist(err) {
		t.Errorf("Expected capture skipped while the guard is held")
	}
}

func TestInstallIdempotent(t *testing.T) {
	crashtrap.Install()
	crashtrap.Install()
	crashtrap.Uninstall()
	crashtrap.Uninstall()
}

func TestUninstallRestoresPreInstallBehavior(t *testing.T) {
	dir := t.TempDir()

	// Never installed: a protected panic re-raises with no capture.
	v := runProtected("never_installed", func() { panic("boom") })
	if v != "boom" {
		t.Fatalf("Expected the panic value re-raised, got %v", v)
	}
	if _, err := os.Stat(snapshot.CrashArtifactName("never_installed")); !os.IsNotExist(err) {
		t.Errorf("Expected no artifact without an installed handler")
	}

	// After Uninstall the hook is fully off again, not merely reconfigured.
	crashtrap.Install(crashtrap.WithDir(dir))
	crashtrap.Uninstall()

	v = runProtected("after_uninstall", func() { panic("boom") })
	if v != "boom" {
		t.Fatalf("Expected the panic value re-raised, got %v", v)
	}
	if _, err := os.Stat(filepath.Join(dir, snapshot.CrashArtifactName("after_uninstall"))); !os.IsNotExist(err) {
		t.Errorf("Expected no artifact after uninstall")
	}
	if _, err := os.Stat(snapshot.CrashArtifactName("after_uninstall")); !os.IsNotExist(err) {
		t.Errorf("Expected no artifact in the working directory after uninstall")
	}
}

func TestCheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manual.dpdb")

	locals := snapshot.Scope{}.Add("batch", 7).Add("api_key", "secret-value")
	got, err := crashtrap.Checkpoint(path, locals, nil)
	if err != nil {
		t.Fatalf("Checkpoint failed: %v", err)
	}
	if got != path {
		t.Errorf("Expected checkpoint at %s, got %s", path, got)
	}

	snap, err := snapshot.Load(path)
	if err != nil {
		t.Fatalf("Failed to load checkpoint: %v", err)
	}
	if snap.Failure != nil {
		t.Errorf("Expected no failure descriptor, got %+v", snap.Failure)
	}
	if snap.TraceText != snapshot.ManualTraceText {
		t.Errorf("Expected manual trace marker, got %q", snap.TraceText)
	}
	if snap.FocusFrame != 0 {
		t.Errorf("Expected focus on outermost frame, got %d", snap.FocusFrame)
	}

	// Supplied locals land on the innermost frame.
	last := snap.Frames[len(snap.Frames)-1]
	if v, ok := last.Locals.Get("batch"); !ok || v.String() != "7" {
		t.Errorf("Expected supplied local on innermost frame, got %v %v", v, ok)
	}
	if _, ok := last.Locals.Get("api_key"); !ok {
		t.Errorf("Expected sensitive local present")
	}
}
