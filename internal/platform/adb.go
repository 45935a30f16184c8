package platform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"

	"crossbench/internal/logging"

	shellquote "github.com/kballard/go-shellquote"
	"github.com/sirupsen/logrus"
)

// ADB reaches an Android device through the adb binary on the controller.
type ADB struct {
	posix
	serial string
	adbBin string
	host   *Local
}

func NewADB(serial, adbPath string) *ADB {
	if adbPath == "" {
		adbPath = "adb"
	}
	a := &ADB{serial: serial, adbBin: adbPath, host: NewLocal()}
	a.posix = posix{sh: a.Sh}
	return a
}

func (a *ADB) Name() string   { return "adb:" + a.serial }
func (a *ADB) OS() OS         { return Android }
func (a *ADB) IsRemote() bool { return true }

func (a *ADB) adbArgs(args ...string) []string {
	return append([]string{a.adbBin, "-s", a.serial}, args...)
}

func (a *ADB) Sh(ctx context.Context, args ...string) (*Result, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return a.host.Sh(ctx, a.adbArgs("shell", shellquote.Join(args...))...)
}

func (a *ADB) Popen(ctx context.Context, opts PopenOptions, args ...string) (Process, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full := a.adbArgs("shell", pidWrapped(args))
	cmd := exec.Command(full[0], full[1:]...)
	cmd.Stderr = opts.Stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start adb shell: %w", err)
	}
	p, err := newRemoteProcess(stdout, opts.Stdout, cmd.Wait, a.Sh)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, err
	}
	logging.GetLogger().WithFields(logrus.Fields{
		"serial": a.serial,
		"cmd":    args,
		"pid":    p.PID(),
	}).Debug("Started process on device")
	return p, nil
}

func (a *ADB) transfer(ctx context.Context, verb, src, dst string) error {
	args := a.adbArgs(verb, src, dst)
	res, err := a.host.Sh(ctx, args...)
	if _, err = checkResult(args, res, err); err != nil {
		return err
	}
	// Older adb versions report some failures with a zero exit code.
	if bytes.Contains(res.Stdout, []byte("error:")) {
		return errors.New(string(bytes.TrimSpace(res.Stdout)))
	}
	return nil
}

func (a *ADB) Push(ctx context.Context, local, remote string) error {
	return a.transfer(ctx, "push", local, remote)
}

func (a *ADB) Pull(ctx context.Context, remote, local string) error {
	return a.transfer(ctx, "pull", remote, local)
}

func (a *ADB) Rsync(ctx context.Context, remoteDir, localDir string) error {
	if err := a.host.Mkdir(ctx, localDir); err != nil {
		return err
	}
	// The trailing "/." makes adb copy the directory content, not the directory.
	return a.transfer(ctx, "pull", remoteDir+"/.", localDir)
}
