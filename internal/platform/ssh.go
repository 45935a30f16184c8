package platform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"crossbench/internal/logging"

	shellquote "github.com/kballard/go-shellquote"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

type SSHConfig struct {
	Host       string
	Port       int
	User       string
	KeyFile    string
	KnownHosts string
	Timeout    time.Duration
}

// SSH runs commands on a remote posix host over a single ssh connection.
type SSH struct {
	posix
	client *ssh.Client
	addr   string
	os     OS
}

func DialSSH(ctx context.Context, cfg SSHConfig) (*SSH, error) {
	key, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ssh key: %w", err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHosts != "" {
		hostKeyCallback, err = knownhosts.New(cfg.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
	}

	port := cfg.Port
	if port == 0 {
		port = 22
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	user := cfg.User
	if user == "" {
		user = os.Getenv("USER")
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	client, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	s := &SSH{client: client, addr: addr}
	s.posix = posix{sh: s.Sh}

	uname, err := s.ShStdout(ctx, "uname", "-s")
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to detect remote OS: %w", err)
	}
	switch strings.TrimSpace(uname) {
	case "Darwin":
		s.os = MacOS
	default:
		s.os = Linux
	}

	logging.GetLogger().WithFields(logrus.Fields{
		"addr": addr,
		"os":   s.os,
	}).Debug("Connected to ssh platform")
	return s, nil
}

func (s *SSH) Name() string   { return "ssh:" + s.addr }
func (s *SSH) OS() OS         { return s.os }
func (s *SSH) IsRemote() bool { return true }

func (s *SSH) Close() error {
	return s.client.Close()
}

// run executes cmdline in a fresh session, killing it when ctx ends.
func (s *SSH) run(ctx context.Context, cmdline string, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	session, err := s.client.NewSession()
	if err != nil {
		return 0, fmt.Errorf("failed to open ssh session: %w", err)
	}
	defer session.Close()
	session.Stdin = stdin
	session.Stdout = stdout
	session.Stderr = stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(cmdline) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return 0, ctx.Err()
	case err := <-done:
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitStatus(), nil
		}
		return 0, err
	}
}

func (s *SSH) Sh(ctx context.Context, args ...string) (*Result, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	var stdout, stderr bytes.Buffer
	code, err := s.run(ctx, shellquote.Join(args...), nil, &stdout, &stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to run %q on %s: %w", args[0], s.addr, err)
	}
	return &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), ExitCode: code}, nil
}

func (s *SSH) Popen(ctx context.Context, opts PopenOptions, args ...string) (Process, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	session, err := s.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open ssh session: %w", err)
	}
	session.Stderr = opts.Stderr
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, err
	}

	cmdline := pidWrapped(args)
	if len(opts.Env) > 0 {
		cmdline = "env " + shellquote.Join(opts.Env...) + " sh -c " + shellquote.Join(cmdline)
	}
	if err := session.Start(cmdline); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to start %q on %s: %w", args[0], s.addr, err)
	}

	wait := func() error {
		defer session.Close()
		return session.Wait()
	}
	p, err := newRemoteProcess(stdout, opts.Stdout, wait, s.Sh)
	if err != nil {
		session.Close()
		return nil, err
	}
	return p, nil
}

func (s *SSH) Push(ctx context.Context, local, remote string) error {
	f, err := os.Open(local)
	if err != nil {
		return err
	}
	defer f.Close()

	var stderr bytes.Buffer
	cmdline := "cat > " + shellquote.Join(remote)
	code, err := s.run(ctx, cmdline, f, nil, &stderr)
	if err != nil {
		return err
	}
	if code != 0 {
		return &CommandError{Args: []string{cmdline}, Result: Result{Stderr: stderr.Bytes(), ExitCode: code}}
	}
	return nil
}

func (s *SSH) Pull(ctx context.Context, remote, local string) error {
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return err
	}
	f, err := os.Create(local)
	if err != nil {
		return err
	}

	var stderr bytes.Buffer
	cmdline := "cat " + shellquote.Join(remote)
	code, err := s.run(ctx, cmdline, nil, f, &stderr)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil && code != 0 {
		err = &CommandError{Args: []string{cmdline}, Result: Result{Stderr: stderr.Bytes(), ExitCode: code}}
	}
	if err != nil {
		os.Remove(local)
		return err
	}
	return nil
}

func (s *SSH) Rsync(ctx context.Context, remoteDir, localDir string) error {
	out, err := s.ShStdout(ctx, "find", remoteDir, "-type", "f")
	if err != nil {
		return err
	}
	for _, remote := range strings.Split(strings.TrimSpace(out), "\n") {
		if remote == "" {
			continue
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(remote, path.Clean(remoteDir)), "/")
		if err := s.Pull(ctx, remote, filepath.Join(localDir, filepath.FromSlash(rel))); err != nil {
			return fmt.Errorf("failed to pull %s: %w", remote, err)
		}
	}
	return nil
}
