package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dpdb-go/dpdb/pkg/config"
	"github.com/dpdb-go/dpdb/pkg/crashtrap"
	"github.com/dpdb-go/dpdb/pkg/session"
	"github.com/dpdb-go/dpdb/pkg/snapshot"
	"github.com/dpdb-go/dpdb/pkg/version"
)

var (
	flagDumpDir string
	flagTheme   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dpdb <program|dump.dpdb> [args...]",
		Short: "Post-mortem crash capture and replay debugger",
		Long: `dpdb runs a program under a crash handler that captures a core dump
artifact on unhandled failure, and replays previously captured artifacts
in an interactive pdb-style session.

Pass a program to run it supervised, or a .dpdb artifact to inspect it.`,
		Version:       version.GetVersionInfo(),
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.HasSuffix(args[0], snapshot.ArtifactExt) {
				return replayArtifact(args[0])
			}
			return runTarget(args[0], args[1:])
		},
	}
	rootCmd.PersistentFlags().StringVarP(&flagDumpDir, "dump-dir", "d", "", "directory for crash artifacts (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagTheme, "theme", "", "display theme: light or dark (overrides config)")

	if err := rootCmd.Execute(); err != nil {
		var ec exitError
		if errors.As(err, &ec) {
			if ec.message != "" {
				fmt.Fprintln(os.Stderr, ec.message)
			}
			os.Exit(ec.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// exitError carries an exact process exit code through cobra.
type exitError struct {
	code    int
	message string
}

func (e exitError) Error() string { return e.message }

// replayArtifact loads a snapshot artifact and hands it to the interactive
// session. A load failure exits 1; an interrupt mid-session exits 130.
func replayArtifact(path string) error {
	cfg := config.Load()
	snap, err := snapshot.Load(path)
	if err != nil {
		return exitError{code: 1, message: fmt.Sprintf("dpdb: %v", err)}
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		fmt.Fprintln(os.Stderr)
		os.Exit(130)
	}()
	defer signal.Stop(interrupt)

	theme := flagTheme
	if theme == "" {
		theme = cfg.Theme
	}
	s := session.New(snap, os.Stdout, session.WithTheme(session.DetectTheme(theme, os.Stdout)))
	s.Run(os.Stdin)
	return nil
}

// runTarget supervises the target as a child process and propagates the
// child's exit status exactly. The crash handler is installed for the
// duration: the supervision itself runs under it, and the effective
// configuration is handed down to the child so an instrumented target
// honors the same dump directory, theme, and redaction patterns.
func runTarget(target string, args []string) error {
	cfg := config.Load()
	if flagDumpDir != "" {
		cfg.DumpDir = flagDumpDir
	}
	if flagTheme != "" {
		cfg.Theme = flagTheme
	}

	var opts []crashtrap.Option
	if cfg.DumpDir != "" {
		opts = append(opts, crashtrap.WithDir(cfg.DumpDir))
	}
	if len(cfg.Redact) > 0 {
		opts = append(opts, crashtrap.WithRedactor(snapshot.NewRedactor(cfg.Redact, "")))
	}
	crashtrap.Install(opts...)
	defer crashtrap.Uninstall()

	path, err := exec.LookPath(target)
	if err != nil {
		return exitError{code: 1, message: fmt.Sprintf("dpdb: cannot run %s: %v", target, err)}
	}

	env, cleanup, err := childEnv(cfg)
	if err != nil {
		return exitError{code: 1, message: fmt.Sprintf("dpdb: %v", err)}
	}
	defer cleanup()

	// A panic in the supervisor produces a core dump like any other
	// protected crash.
	var runErr error
	crashtrap.Main(func() { runErr = supervise(path, args, env) })
	return runErr
}

// childEnv materializes the effective configuration for the child process:
// flag overrides are written to a temp config file referenced through
// DPDB_CONFIG. With no overrides the environment passes through untouched.
func childEnv(cfg config.Config) ([]string, func(), error) {
	if flagDumpDir == "" && flagTheme == "" {
		return os.Environ(), func() {}, nil
	}
	f, err := os.CreateTemp("", "dpdb-*.yaml")
	if err != nil {
		return nil, nil, err
	}
	name := f.Name()
	f.Close()
	if err := config.Save(cfg, name); err != nil {
		os.Remove(name)
		return nil, nil, err
	}
	env := append(os.Environ(), config.EnvPath+"="+name)
	return env, func() { os.Remove(name) }, nil
}

func supervise(path string, args, env []string) error {
	cmd := exec.Command(path, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = env

	// Forward interrupts to the child and report 130 if it dies from one.
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)
	if err := cmd.Start(); err != nil {
		return exitError{code: 1, message: fmt.Sprintf("dpdb: cannot run %s: %v", path, err)}
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	for {
		select {
		case sig := <-interrupt:
			_ = cmd.Process.Signal(sig)
		case err := <-done:
			return childExit(err)
		}
	}
}

// childExit maps a Wait result to our own exit status: the child's code
// verbatim, or 128+signal when it died from one (130 for interrupt).
func childExit(err error) error {
	if err == nil {
		return nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return exitError{code: 128 + int(ws.Signal())}
		}
		return exitError{code: ee.ExitCode()}
	}
	return exitError{code: 1, message: fmt.Sprintf("dpdb: %v", err)}
}
