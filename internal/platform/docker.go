package platform

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"crossbench/internal/logging"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/tlsconfig"
	"github.com/sirupsen/logrus"
)

type DockerConfig struct {
	Container string
	// Host overrides DOCKER_HOST, e.g. tcp://lab-host:2376.
	Host    string
	TLSCA   string
	TLSCert string
	TLSKey  string
}

// Docker runs commands inside an already running container.
type Docker struct {
	posix
	cli       *client.Client
	container string
}

func NewDocker(ctx context.Context, cfg DockerConfig) (*Docker, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	if cfg.TLSCA != "" {
		tlsc, err := tlsconfig.Client(tlsconfig.Options{
			CAFile:   cfg.TLSCA,
			CertFile: cfg.TLSCert,
			KeyFile:  cfg.TLSKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load docker tls config: %w", err)
		}
		opts = append(opts, client.WithHTTPClient(&http.Client{
			Transport: &http.Transport{TLSClientConfig: tlsc},
		}))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	info, err := cli.ContainerInspect(ctx, cfg.Container)
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to inspect container %s: %w", cfg.Container, err)
	}
	if info.State == nil || !info.State.Running {
		cli.Close()
		return nil, fmt.Errorf("container %s is not running", cfg.Container)
	}

	d := &Docker{cli: cli, container: cfg.Container}
	d.posix = posix{sh: d.Sh}

	logging.GetLogger().WithFields(logrus.Fields{
		"container": cfg.Container,
		"image":     info.Config.Image,
	}).Debug("Attached to docker platform")
	return d, nil
}

func (d *Docker) Name() string   { return "docker:" + d.container }
func (d *Docker) OS() OS         { return Linux }
func (d *Docker) IsRemote() bool { return true }

func (d *Docker) Close() error {
	return d.cli.Close()
}

func (d *Docker) startExec(ctx context.Context, cmd []string, env []string) (string, types.HijackedResponse, error) {
	created, err := d.cli.ContainerExecCreate(ctx, d.container, types.ExecConfig{
		Cmd:          cmd,
		Env:          env,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", types.HijackedResponse{}, fmt.Errorf("failed to create exec: %w", err)
	}
	resp, err := d.cli.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{})
	if err != nil {
		return "", types.HijackedResponse{}, fmt.Errorf("failed to attach exec: %w", err)
	}
	return created.ID, resp, nil
}

func (d *Docker) Sh(ctx context.Context, args ...string) (*Result, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	execID, resp, err := d.startExec(ctx, args, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, resp.Reader); err != nil {
		return nil, fmt.Errorf("failed to read exec output: %w", err)
	}
	inspect, err := d.cli.ContainerExecInspect(ctx, execID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect exec: %w", err)
	}
	return &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), ExitCode: inspect.ExitCode}, nil
}

func (d *Docker) Popen(ctx context.Context, opts PopenOptions, args ...string) (Process, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	execID, resp, err := d.startExec(ctx, []string{"sh", "-c", pidWrapped(args)}, opts.Env)
	if err != nil {
		return nil, err
	}

	stderr := opts.Stderr
	if stderr == nil {
		stderr = io.Discard
	}
	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, stderr, resp.Reader)
		pw.CloseWithError(err)
	}()

	wait := func() error {
		resp.Close()
		inspect, err := d.cli.ContainerExecInspect(context.Background(), execID)
		if err != nil {
			return err
		}
		if inspect.ExitCode != 0 {
			return fmt.Errorf("%q exited with code %d", args[0], inspect.ExitCode)
		}
		return nil
	}
	p, err := newRemoteProcess(pr, opts.Stdout, wait, d.Sh)
	if err != nil {
		resp.Close()
		return nil, err
	}
	return p, nil
}

func (d *Docker) Push(ctx context.Context, local, remote string) error {
	data, err := os.ReadFile(local)
	if err != nil {
		return err
	}
	info, err := os.Stat(local)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name: path.Base(remote),
		Mode: int64(info.Mode().Perm()),
		Size: int64(len(data)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if _, err := tw.Write(data); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}

	if err := d.Mkdir(ctx, path.Dir(remote)); err != nil {
		return err
	}
	return d.cli.CopyToContainer(ctx, d.container, path.Dir(remote), &buf, types.CopyToContainerOptions{})
}

func (d *Docker) Pull(ctx context.Context, remote, local string) error {
	rc, stat, err := d.cli.CopyFromContainer(ctx, d.container, remote)
	if err != nil {
		return fmt.Errorf("failed to copy %s from container: %w", remote, err)
	}
	defer rc.Close()
	if stat.Mode.IsDir() {
		return untar(rc, local, stat.Name)
	}
	return untarSingle(rc, local)
}

func (d *Docker) Rsync(ctx context.Context, remoteDir, localDir string) error {
	return d.Pull(ctx, remoteDir, localDir)
}

func (d *Docker) IsFile(ctx context.Context, p string) (bool, error) {
	stat, err := d.cli.ContainerStatPath(ctx, d.container, p)
	if client.IsErrNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stat.Mode.IsRegular(), nil
}

func (d *Docker) IsDir(ctx context.Context, p string) (bool, error) {
	stat, err := d.cli.ContainerStatPath(ctx, d.container, p)
	if client.IsErrNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stat.Mode.IsDir(), nil
}

// untarSingle writes the first regular file of a tar stream to dst.
func untarSingle(r io.Reader, dst string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("archive contains no regular file")
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		return writeFile(dst, tr, os.FileMode(hdr.Mode))
	}
}

// untar extracts a directory archive whose entries are rooted at root into dst.
func untar(r io.Reader, dst, root string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(hdr.Name, root), "/")
		if rel == "" {
			continue
		}
		target := filepath.Join(dst, filepath.FromSlash(rel))
		if !strings.HasPrefix(target, filepath.Clean(dst)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes destination", hdr.Name)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		}
	}
}

func writeFile(dst string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if mode.Perm() == 0 {
		mode = 0o644
	}
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
