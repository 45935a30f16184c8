package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"crossbench/internal/platform"

	"golang.org/x/sync/errgroup"
)

type Kind string

const (
	KindEmpty   Kind = "empty"
	KindLocal   Kind = "local"
	KindBrowser Kind = "browser"
	KindJSON    Kind = "json"
)

// ProbeResult is the artifact of one probe for one run or group. Browser
// results name files on the browser platform and must be pulled before
// they can be merged.
//
// JSON is the decoded payload of a KindJSON result; Files, when set, names
// the file it was written to.
type ProbeResult struct {
	Kind  Kind     `json:"kind"`
	Files []string `json:"files,omitempty"`
	JSON  any      `json:"json,omitempty"`
	Error string   `json:"error,omitempty"`
}

func EmptyResult() *ProbeResult {
	return &ProbeResult{Kind: KindEmpty}
}

func LocalResult(files ...string) *ProbeResult {
	return &ProbeResult{Kind: KindLocal, Files: files}
}

func BrowserResult(files ...string) *ProbeResult {
	return &ProbeResult{Kind: KindBrowser, Files: files}
}

func JSONResult(payload any, file string) *ProbeResult {
	r := &ProbeResult{Kind: KindJSON, JSON: payload}
	if file != "" {
		r.Files = []string{file}
	}
	return r
}

// WriteJSONResult writes payload to file and returns a JSON result for it.
func WriteJSONResult(payload any, file string) (*ProbeResult, error) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode json result: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(file, data, 0o644); err != nil {
		return nil, err
	}
	return JSONResult(payload, file), nil
}

func (r *ProbeResult) IsEmpty() bool {
	return r == nil || (r.Kind == KindEmpty) || (r.Kind != KindJSON && len(r.Files) == 0)
}

// Failed reports whether the slot was flagged with an error.
func (r *ProbeResult) Failed() bool {
	return r != nil && r.Error != ""
}

// WithError flags the result slot. A nil result becomes an empty one.
func (r *ProbeResult) WithError(err error) *ProbeResult {
	if r == nil {
		r = EmptyResult()
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// Pull copies browser resident files into localDir and returns the
// equivalent local result. Other kinds are returned unchanged.
func (r *ProbeResult) Pull(ctx context.Context, plat platform.Platform, localDir string) (*ProbeResult, error) {
	if r == nil || r.Kind != KindBrowser {
		return r, nil
	}
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return nil, err
	}

	local := make([]string, len(r.Files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, remote := range r.Files {
		i, remote := i, remote
		// Remote paths are posix on every remote platform.
		local[i] = filepath.Join(localDir, path.Base(remote))
		g.Go(func() error {
			if err := plat.Pull(gctx, remote, local[i]); err != nil {
				return fmt.Errorf("failed to pull %s: %w", remote, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &ProbeResult{Kind: KindLocal, Files: local, Error: r.Error}, nil
}
