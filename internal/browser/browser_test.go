package browser

import (
	"context"
	"runtime"
	"testing"

	"crossbench/internal/platform"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagsSetIsIdempotent(t *testing.T) {
	f := NewFlags()
	f.Set("--trace-startup", "v8")
	f.Set("--trace-startup", "v8")
	f.Enable("--no-sandbox")
	f.Enable("--no-sandbox")
	assert.Equal(t, []string{"--trace-startup=v8", "--no-sandbox"}, f.Args())

	f.Set("--trace-startup", "blink")
	assert.Equal(t, []string{"--trace-startup=blink", "--no-sandbox"}, f.Args())
}

func TestFlagsAdd(t *testing.T) {
	f := NewFlags()
	f.Add("--enable-features", "A")
	f.Add("--enable-features", "B")
	f.Add("--enable-features", "A")
	assert.Equal(t, []string{"A", "B"}, f.Values("--enable-features"))
}

func TestParseFlags(t *testing.T) {
	f, err := ParseFlags([]string{"--v=1", "--headless"})
	require.NoError(t, err)
	v, ok := f.Get("--v")
	assert.True(t, ok)
	assert.Equal(t, "1", v)
	assert.True(t, f.Has("--headless"))

	_, err = ParseFlags([]string{"headless"})
	assert.Error(t, err)
}

func TestLaunchArgs(t *testing.T) {
	flags, err := ParseFlags([]string{"--headless"})
	require.NoError(t, err)
	b := NewProcess("chrome", "/opt/chrome", platform.NewLocal(), flags, nil)
	b.JSFlags().Enable("--runtime-call-stats")
	b.SetArgs([]string{"--user-data-dir=/tmp/profile"})

	extra := NewFlags()
	extra.Set("--trace-startup", "*")
	args := b.LaunchArgs(LaunchOptions{Flags: extra, Args: []string{"https://example.com"}})
	assert.Equal(t, []string{
		"/opt/chrome",
		"--headless",
		"--trace-startup=*",
		"--js-flags=--runtime-call-stats",
		"--user-data-dir=/tmp/profile",
		"https://example.com",
	}, args)
	// Per-run flags never leak into the session configuration.
	assert.False(t, b.Flags().Has("--trace-startup"))
}

func TestProcessStartQuit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs sleep(1)")
	}
	b := NewProcess("fake", "sleep", platform.NewLocal(), nil, nil)
	ctx := context.Background()
	require.NoError(t, b.Start(ctx, LaunchOptions{Args: []string{"30"}}))
	assert.Greater(t, b.PID(), 0)
	assert.Error(t, b.Start(ctx, LaunchOptions{Args: []string{"30"}}))

	require.NoError(t, b.Quit(ctx))
	assert.Equal(t, 0, b.PID())
	assert.NoError(t, b.Quit(ctx))
}
