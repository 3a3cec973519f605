package logging

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

// newTestLogger creates a logger that writes JSON entries to an in-memory
// buffer for verification.
func newTestLogger(_ *testing.T) (Logger, *zaptest.Buffer) {
	buf := &zaptest.Buffer{}
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderConfig)
	core := zapcore.NewCore(encoder, buf, zapcore.DebugLevel)
	z := zap.New(core)
	return &zapLogger{z: z}, buf
}

func TestNewLogger_JSONFormat(t *testing.T) {
	cfg := LogConfig{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{"stdout"},
	}
	l, err := NewLogger(cfg)
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestNewLogger_ConsoleFormat(t *testing.T) {
	cfg := LogConfig{
		Level:       "debug",
		Format:      "console",
		OutputPaths: []string{"stdout"},
	}
	l, err := NewLogger(cfg)
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestNewLogger_DefaultsApplied(t *testing.T) {
	// Empty config must still produce a working logger: info level, json
	// encoding, stdout/stderr outputs.
	l, err := NewLogger(LogConfig{})
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"DEBUG", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"Error", zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"bogus", zapcore.InfoLevel},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, parseLevel(tc.in), tc.in)
	}
}

func TestZapLogger_EmitsFields(t *testing.T) {
	l, buf := newTestLogger(t)

	l.Info("encoded sequence",
		String("encoder", "natural_vector"),
		Int("dimension", 250),
		Float64("duration_ms", 1.25),
		Bool("cached", false),
		Strings("symbols", []string{"B", "Z"}),
		Duration("elapsed", 3*time.Millisecond),
	)

	out := buf.String()
	assert.Contains(t, out, `"encoder":"natural_vector"`)
	assert.Contains(t, out, `"dimension":250`)
	assert.Contains(t, out, `"cached":false`)
	assert.Contains(t, out, `"symbols":["B","Z"]`)
}

func TestErrField(t *testing.T) {
	l, buf := newTestLogger(t)

	l.Error("encode failed", Err(errors.New("bad residue")))
	assert.Contains(t, buf.String(), `"error":"bad residue"`)

	buf.Reset()
	l.Warn("no cause", Err(nil))
	assert.Contains(t, buf.String(), `"error":"<nil>"`)
}

func TestWith_ChildCarriesFields(t *testing.T) {
	l, buf := newTestLogger(t)

	child := l.With(String("component", "worker"))
	child.Info("job claimed", String("job_id", "j-1"))

	out := buf.String()
	assert.Contains(t, out, `"component":"worker"`)
	assert.Contains(t, out, `"job_id":"j-1"`)

	// Parent must not carry the child's fields.
	buf.Reset()
	l.Info("plain")
	assert.NotContains(t, buf.String(), "component")
}

func TestNamed(t *testing.T) {
	l, buf := newTestLogger(t)

	l.Named("ingest").Info("parsed file")
	assert.Contains(t, buf.String(), `"logger":"ingest"`)
}

func TestNopLogger_AllMethodsNoOp(t *testing.T) {
	l := NewNopLogger()
	// Must not panic.
	l.Debug("msg")
	l.Info("msg", String("k", "v"))
	l.Warn("msg")
	l.Error("msg", Err(errors.New("x")))
	assert.NotNil(t, l.With(String("k", "v")))
	assert.NotNil(t, l.Named("sub"))
}

func TestDefaultLogger_SetAndGet(t *testing.T) {
	orig := Default()
	defer SetDefault(orig)

	l, _ := newTestLogger(t)
	SetDefault(l)
	assert.Equal(t, l, Default())

	// nil is ignored rather than clobbering the default.
	SetDefault(nil)
	assert.Equal(t, l, Default())
}
