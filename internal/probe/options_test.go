package probe

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testParser() *ConfigParser {
	return NewConfigParser("poller",
		Option{Name: "command", Type: TypeString, Required: true, Help: "command to sample"},
		Option{Name: "interval", Type: TypeDuration, Default: time.Second},
		Option{Name: "count", Type: TypeInt, Default: 3},
		Option{Name: "verbose", Type: TypeBool, Default: false},
		Option{Name: "categories", Type: TypeStringList},
		Option{Name: "mode", Type: TypeEnum, Default: "fast", Choices: []string{"fast", "slow"}},
	)
}

func TestParseDefaultsAndConversion(t *testing.T) {
	opts, err := testParser().Parse(map[string]any{
		"command":    "cat /proc/loadavg",
		"interval":   "250ms",
		"count":      5.0,
		"categories": []any{"v8", "blink"},
	})
	require.NoError(t, err)
	assert.Equal(t, "cat /proc/loadavg", opts.String("command"))
	assert.Equal(t, 250*time.Millisecond, opts.Duration("interval"))
	assert.Equal(t, 5, opts.Int("count"))
	assert.False(t, opts.Bool("verbose"))
	assert.Equal(t, []string{"v8", "blink"}, opts.Strings("categories"))
	assert.Equal(t, "fast", opts.String("mode"))
}

func TestParseDurationSeconds(t *testing.T) {
	opts, err := testParser().Parse(map[string]any{"command": "true", "interval": 0.5})
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, opts.Duration("interval"))
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
	}{
		{"unknown key", map[string]any{"command": "true", "bogus": 1}},
		{"missing required", map[string]any{}},
		{"mistyped", map[string]any{"command": 42}},
		{"fractional int", map[string]any{"command": "true", "count": 1.5}},
		{"bad enum", map[string]any{"command": "true", "mode": "medium"}},
		{"bad duration", map[string]any{"command": "true", "interval": "soon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := testParser().Parse(tt.raw)
			var argErr *ArgumentTypeError
			assert.True(t, errors.As(err, &argErr), "got %v", err)
		})
	}
}

func TestDescribe(t *testing.T) {
	help := testParser().Describe()
	assert.Contains(t, help, "command (string) required")
	assert.Contains(t, help, "mode (enum: fast|slow) default=fast")
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register("fake", "test probe", NewConfigParser("fake", Option{Name: "x", Type: TypeInt, Default: 1}),
		func(opts Options) (Probe, error) { return newFakeProbe("fake"), nil })

	p, err := r.Create("fake", map[string]any{"x": 2})
	require.NoError(t, err)
	assert.Equal(t, "fake", p.Name())

	_, err = r.Create("fake", map[string]any{"y": 2})
	assert.Error(t, err)
	_, err = r.Create("missing", nil)
	assert.Error(t, err)
	assert.Equal(t, []string{"fake"}, r.Names())
	assert.Panics(t, func() { r.Register("fake", "", nil, nil) })
}
