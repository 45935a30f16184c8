// Package platform gives probes and browsers a uniform way to run commands,
// move files and manage processes on the machine a browser runs on, whether
// that is the controller itself or a device reached over adb, ssh or docker.
package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

type OS string

const (
	Linux   OS = "linux"
	MacOS   OS = "macos"
	Windows OS = "windows"
	Android OS = "android"
)

func (o OS) IsLinux() bool   { return o == Linux }
func (o OS) IsMacOS() bool   { return o == MacOS }
func (o OS) IsWin() bool     { return o == Windows }
func (o OS) IsAndroid() bool { return o == Android }

// IsPosix reports whether the OS offers a POSIX shell.
func (o OS) IsPosix() bool { return o != Windows }

// Result is the outcome of a finished command.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// CommandError is returned when a command ran but exited with a non-zero code.
type CommandError struct {
	Args []string
	Result
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %q exited with code %d", strings.Join(e.Args, " "), e.ExitCode)
	if stderr := strings.TrimSpace(string(e.Stderr)); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

// ProcessInfo is one entry of a process listing.
type ProcessInfo struct {
	PID     int    `json:"pid"`
	Name    string `json:"name"`
	Cmdline string `json:"cmdline,omitempty"`
}

// Process is a handle on a command started with Popen.
type Process interface {
	PID() int
	// Wait blocks until the process exits.
	Wait() error
	// Exited reports without blocking whether the process is gone.
	Exited() bool
	// Terminate asks the process to exit (SIGTERM on posix systems).
	Terminate() error
	Kill() error
}

type PopenOptions struct {
	Stdout io.Writer
	Stderr io.Writer
	Env    []string
}

// Platform is the capability surface the probe framework consumes.
type Platform interface {
	Name() string
	OS() OS
	IsRemote() bool

	// Sh runs a command to completion. The error is only non-nil when the
	// command could not be run at all; exit codes are reported in Result.
	Sh(ctx context.Context, args ...string) (*Result, error)
	// ShStdout runs a command and returns its stdout, failing with a
	// *CommandError on a non-zero exit code.
	ShStdout(ctx context.Context, args ...string) (string, error)
	// Popen starts a command without waiting for it. The context only
	// bounds the start-up; the process outlives it.
	Popen(ctx context.Context, opts PopenOptions, args ...string) (Process, error)

	Processes(ctx context.Context) ([]ProcessInfo, error)
	Terminate(ctx context.Context, pid int) error

	Push(ctx context.Context, local, remote string) error
	Pull(ctx context.Context, remote, local string) error
	// Rsync copies the content of remoteDir into localDir.
	Rsync(ctx context.Context, remoteDir, localDir string) error

	IsFile(ctx context.Context, path string) (bool, error)
	IsDir(ctx context.Context, path string) (bool, error)
	Mkdir(ctx context.Context, path string) error
}

var ErrUnsupported = errors.New("operation not supported on this platform")

func checkResult(args []string, res *Result, err error) (*Result, error) {
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return res, &CommandError{Args: args, Result: *res}
	}
	return res, nil
}
