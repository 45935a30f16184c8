package platform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"syscall"

	"crossbench/internal/logging"

	cp "github.com/otiai10/copy"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"
)

// Local runs everything on the controller host.
type Local struct {
	os OS
}

func NewLocal() *Local {
	return &Local{os: hostOS()}
}

func hostOS() OS {
	switch runtime.GOOS {
	case "darwin":
		return MacOS
	case "windows":
		return Windows
	case "android":
		return Android
	default:
		return Linux
	}
}

func (l *Local) Name() string   { return "local" }
func (l *Local) OS() OS         { return l.os }
func (l *Local) IsRemote() bool { return false }

func (l *Local) Sh(ctx context.Context, args ...string) (*Result, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logging.GetLogger().WithField("cmd", args).Trace("Running local command")
	err := cmd.Run()
	res := &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return nil, fmt.Errorf("failed to run %q: %w", args[0], err)
	}
	return res, nil
}

func (l *Local) ShStdout(ctx context.Context, args ...string) (string, error) {
	res, err := l.Sh(ctx, args...)
	if res, err = checkResult(args, res, err); err != nil {
		return "", err
	}
	return string(res.Stdout), nil
}

func (l *Local) Popen(ctx context.Context, opts PopenOptions, args ...string) (Process, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr
	if opts.Env != nil {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %q: %w", args[0], err)
	}

	logging.GetLogger().WithFields(logrus.Fields{
		"cmd": args,
		"pid": cmd.Process.Pid,
	}).Debug("Started local process")

	p := &localProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func (l *Local) Processes(ctx context.Context) ([]ProcessInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}
	infos := make([]ProcessInfo, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			// Processes may exit while we iterate.
			continue
		}
		cmdline, _ := p.CmdlineWithContext(ctx)
		infos = append(infos, ProcessInfo{PID: int(p.Pid), Name: name, Cmdline: cmdline})
	}
	return infos, nil
}

func (l *Local) Terminate(ctx context.Context, pid int) error {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return fmt.Errorf("no process with pid %d: %w", pid, err)
	}
	if l.os.IsWin() {
		return p.KillWithContext(ctx)
	}
	return p.TerminateWithContext(ctx)
}

func (l *Local) Push(ctx context.Context, local, remote string) error {
	return l.copyPath(local, remote)
}

func (l *Local) Pull(ctx context.Context, remote, local string) error {
	return l.copyPath(remote, local)
}

func (l *Local) Rsync(ctx context.Context, remoteDir, localDir string) error {
	return l.copyPath(remoteDir, localDir)
}

func (l *Local) copyPath(src, dst string) error {
	if filepath.Clean(src) == filepath.Clean(dst) {
		return nil
	}
	if err := cp.Copy(src, dst); err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	return nil
}

func (l *Local) IsFile(ctx context.Context, path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

func (l *Local) IsDir(ctx context.Context, path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

func (l *Local) Mkdir(ctx context.Context, path string) error {
	return os.MkdirAll(path, 0o755)
}

type localProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (p *localProcess) PID() int { return p.cmd.Process.Pid }

func (p *localProcess) Wait() error {
	<-p.done
	return p.err
}

func (p *localProcess) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *localProcess) Terminate() error {
	if p.Exited() {
		return nil
	}
	if runtime.GOOS == "windows" {
		return p.Kill()
	}
	err := p.cmd.Process.Signal(syscall.SIGTERM)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func (p *localProcess) Kill() error {
	if p.Exited() {
		return nil
	}
	err := p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
