package platform

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	shellquote "github.com/kballard/go-shellquote"
)

// shellFunc runs a command on a posix target.
type shellFunc func(ctx context.Context, args ...string) (*Result, error)

// posix implements the Platform helpers that only need a remote shell.
// Remote platforms embed it and supply their Sh.
type posix struct {
	sh shellFunc
}

func (p posix) ShStdout(ctx context.Context, args ...string) (string, error) {
	res, err := p.sh(ctx, args...)
	if res, err = checkResult(args, res, err); err != nil {
		return "", err
	}
	return string(res.Stdout), nil
}

func (p posix) test(ctx context.Context, flag, path string) (bool, error) {
	res, err := p.sh(ctx, "test", flag, path)
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

func (p posix) IsFile(ctx context.Context, path string) (bool, error) {
	return p.test(ctx, "-f", path)
}

func (p posix) IsDir(ctx context.Context, path string) (bool, error) {
	return p.test(ctx, "-d", path)
}

func (p posix) Mkdir(ctx context.Context, path string) error {
	_, err := p.ShStdout(ctx, "mkdir", "-p", path)
	return err
}

func (p posix) Terminate(ctx context.Context, pid int) error {
	_, err := p.ShStdout(ctx, "kill", "-TERM", strconv.Itoa(pid))
	return err
}

func (p posix) Processes(ctx context.Context) ([]ProcessInfo, error) {
	out, err := p.ShStdout(ctx, "ps", "-A", "-o", "pid=,comm=")
	if err != nil {
		return nil, err
	}
	return parsePS(out), nil
}

// parsePS parses `ps -o pid=,comm=` output.
func parsePS(out string) []ProcessInfo {
	var infos []ProcessInfo
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		name := strings.Join(fields[1:], " ")
		infos = append(infos, ProcessInfo{PID: pid, Name: name})
	}
	return infos
}

// pidWrapped returns a shell command line that prints its own PID on the
// first stdout line and then execs args, so the PID stays the same.
func pidWrapped(args []string) string {
	return "echo $$; exec " + shellquote.Join(args...)
}

// remoteProcess is a Process started through a remote shell with
// pidWrapped. Signals are delivered with kill over the same platform.
type remoteProcess struct {
	pid    int
	signal func(sig string) error
	done   chan struct{}
	err    error
}

// newRemoteProcess reads the PID line from stdout, forwards the remaining
// output to out and waits for the remote command through wait.
func newRemoteProcess(stdout io.Reader, out io.Writer, wait func() error, sh shellFunc) (*remoteProcess, error) {
	br := bufio.NewReader(stdout)
	line, err := br.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read remote pid: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return nil, fmt.Errorf("unexpected remote pid line %q: %w", line, err)
	}

	if out == nil {
		out = io.Discard
	}
	p := &remoteProcess{pid: pid, done: make(chan struct{})}
	p.signal = func(sig string) error {
		res, err := sh(context.Background(), "kill", "-"+sig, strconv.Itoa(pid))
		if err != nil {
			return err
		}
		if res.ExitCode != 0 && !p.Exited() {
			return &CommandError{Args: []string{"kill", "-" + sig, strconv.Itoa(pid)}, Result: *res}
		}
		return nil
	}

	var copyWG sync.WaitGroup
	copyWG.Add(1)
	go func() {
		defer copyWG.Done()
		_, _ = io.Copy(out, br)
	}()
	go func() {
		copyWG.Wait()
		p.err = wait()
		close(p.done)
	}()
	return p, nil
}

func (p *remoteProcess) PID() int { return p.pid }

func (p *remoteProcess) Wait() error {
	<-p.done
	return p.err
}

func (p *remoteProcess) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *remoteProcess) Terminate() error {
	if p.Exited() {
		return nil
	}
	return p.signal("TERM")
}

func (p *remoteProcess) Kill() error {
	if p.Exited() {
		return nil
	}
	return p.signal("KILL")
}
