package probe

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextHappyPath(t *testing.T) {
	p := newFakeProbe("fake")
	p.result = LocalResult("/tmp/x.txt")
	c := GetContext(p, newFakeRun(t.TempDir()))
	ctx := context.Background()

	assert.Equal(t, StateReady, c.State())
	require.NoError(t, c.Setup(ctx))
	require.NoError(t, c.Start(ctx))
	assert.Equal(t, StateRunning, c.State())
	require.NoError(t, c.Stop(ctx))
	assert.Equal(t, StateSuccess, c.State())

	res, err := c.TearDown(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/tmp/x.txt"}, res.Files)
	assert.False(t, res.Failed())
	assert.Equal(t, []string{"setup", "start", "stop", "tear_down"}, p.calls)
	assert.False(t, c.StopTime().Before(c.StartTime()))
}

func TestStopFromReadyIsRejected(t *testing.T) {
	p := newFakeProbe("fake")
	c := GetContext(p, newFakeRun(t.TempDir()))

	err := c.Stop(context.Background())
	var stateErr *StateError
	require.True(t, errors.As(err, &stateErr))
	assert.Equal(t, StateReady, stateErr.State)
	assert.Equal(t, StateReady, c.State())
	assert.Empty(t, p.calls)
}

func TestStartTwiceIsRejected(t *testing.T) {
	c := GetContext(newFakeProbe("fake"), newFakeRun(t.TempDir()))
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))

	var stateErr *StateError
	assert.True(t, errors.As(c.Start(ctx), &stateErr))
	assert.Equal(t, StateRunning, c.State())
}

func TestTearDownWithoutStart(t *testing.T) {
	p := newFakeProbe("fake")
	c := GetContext(p, newFakeRun(t.TempDir()))

	res, err := c.TearDown(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, KindEmpty, res.Kind)
	assert.True(t, res.IsEmpty())
}

func TestStartFailure(t *testing.T) {
	p := newFakeProbe("fake")
	p.fail["start"] = errBoom
	c := GetContext(p, newFakeRun(t.TempDir()))
	ctx := context.Background()

	require.NoError(t, c.Setup(ctx))
	assert.ErrorIs(t, c.Start(ctx), errBoom)
	assert.Equal(t, StateFailure, c.State())

	// Cleanup is still possible after a failed start.
	require.NoError(t, c.Stop(ctx))
	assert.Equal(t, StateFailure, c.State())
	assert.False(t, c.StopTime().IsZero())

	res, err := c.TearDown(ctx)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Failed())
	assert.Contains(t, res.Error, "boom")
	assert.Equal(t, []string{"setup", "start", "stop", "tear_down"}, p.calls)
}

func TestStopFailureRecordsStopTime(t *testing.T) {
	p := newFakeProbe("fake")
	p.fail["stop"] = errBoom
	c := GetContext(p, newFakeRun(t.TempDir()))
	ctx := context.Background()

	require.NoError(t, c.Start(ctx))
	assert.ErrorIs(t, c.Stop(ctx), errBoom)
	assert.Equal(t, StateFailure, c.State())
	assert.False(t, c.StopTime().IsZero())
	assert.GreaterOrEqual(t, c.Duration().Nanoseconds(), int64(0))
}

func TestTearDownOnlyOnce(t *testing.T) {
	p := newFakeProbe("fake")
	c := GetContext(p, newFakeRun(t.TempDir()))
	ctx := context.Background()

	first, err := c.TearDown(ctx)
	require.NoError(t, err)
	second, err := c.TearDown(ctx)
	var stateErr *StateError
	assert.True(t, errors.As(err, &stateErr))
	assert.Same(t, first, second)
	assert.Equal(t, []string{"tear_down"}, p.calls)
}

func TestTearDownErrorFlagsResult(t *testing.T) {
	p := newFakeProbe("fake")
	p.fail["tear_down"] = &MissingDataError{Probe: "fake", Reason: "empty table"}
	c := GetContext(p, newFakeRun(t.TempDir()))
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.Stop(ctx))

	res, err := c.TearDown(ctx)
	assert.True(t, IsMissingData(err))
	assert.True(t, res.Failed())
	assert.Equal(t, StateFailure, c.State())
}

func TestContextsAreIndependent(t *testing.T) {
	p := newFakeProbe("fake")
	run := newFakeRun(t.TempDir())
	a := GetContext(p, run)
	b := GetContext(p, run)
	require.NoError(t, a.Start(context.Background()))
	assert.Equal(t, StateReady, b.State())
}
