package obs

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	loggerMu sync.RWMutex
	logger   *zap.Logger
)

// Logger returns the shared structured logger used across the service.
func Logger() *zap.Logger {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}

	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger == nil {
		logger = newProductionLogger(zapcore.InfoLevel)
	}
	return logger
}

// SetLogger replaces the shared logger and returns the previous one so tests
// can restore it.
func SetLogger(l *zap.Logger) *zap.Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	prev := logger
	if l == nil {
		l = zap.NewNop()
	}
	logger = l
	if prev == nil {
		prev = zap.NewNop()
	}
	return prev
}

// NewLogger builds a JSON logger at the requested level ("debug", "info", ...).
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return newProductionLogger(lvl), nil
}

func newProductionLogger(level zapcore.Level) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	cfg.DisableStacktrace = true
	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// LogRequest emits a structured log line with common HTTP fields.
func LogRequest(method, path string, status int, durationMS float64) {
	Logger().Info("http request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", status),
		zap.Float64("duration_ms", durationMS),
	)
}
