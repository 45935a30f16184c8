package poller

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"crossbench/internal/platform"
	"crossbench/internal/probe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntervalBelowMinimum(t *testing.T) {
	_, err := New(platform.NewLocal(), "echo hi", 50*time.Millisecond, t.TempDir())
	assert.True(t, probe.IsValidation(err))

	_, err = New(platform.NewLocal(), "", time.Second, t.TempDir())
	assert.True(t, probe.IsValidation(err))

	_, err = New(platform.NewLocal(), "echo 'unterminated", time.Second, t.TempDir())
	assert.True(t, probe.IsValidation(err))
}

func TestPollerSampleCount(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs echo(1)")
	}
	dir := t.TempDir()
	p, err := New(platform.NewLocal(), "echo tick", 100*time.Millisecond, dir)
	require.NoError(t, err)

	samples := 0
	p.OnSample = func(string) { samples++ }
	require.NoError(t, p.Start())
	time.Sleep(350 * time.Millisecond)
	p.Stop()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(entries), 3)
	assert.LessOrEqual(t, len(entries), 4)
	assert.Equal(t, len(entries), p.Samples())
	assert.Equal(t, len(entries), samples)

	for _, e := range entries {
		assert.True(t, strings.HasSuffix(e.Name(), ".txt"))
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		assert.Equal(t, "tick\n", string(data))
	}
}

func TestStopWithoutStart(t *testing.T) {
	p, err := New(platform.NewLocal(), "true", time.Second, t.TempDir())
	require.NoError(t, err)
	p.Stop()
	assert.Zero(t, p.Samples())
}

func TestStopIsIdempotent(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs true(1)")
	}
	p, err := New(platform.NewLocal(), "true", 100*time.Millisecond, t.TempDir())
	require.NoError(t, err)
	require.NoError(t, p.Start())
	p.Stop()
	p.Stop()
	assert.Error(t, p.Start())
}

func TestSamplePathAvoidsCollisions(t *testing.T) {
	dir := t.TempDir()
	p, err := New(platform.NewLocal(), "true", time.Second, dir)
	require.NoError(t, err)

	now := time.Date(2024, 3, 1, 12, 30, 45, 123456000, time.UTC)
	first := p.samplePath(now)
	assert.Equal(t, filepath.Join(dir, "20240301_123045.123456.txt"), first)
	require.NoError(t, os.WriteFile(first, nil, 0o644))
	assert.Equal(t, filepath.Join(dir, "20240301_123045.123456_1.txt"), p.samplePath(now))
}
