package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lailoo/vibe-blog/internal/config"
)

// FileName is the log file created inside LOG_DIR.
const FileName = "app.log"

// New builds the process logger. Development mode writes console output at
// debug level; otherwise JSON at LOG_LEVEL. With LOG_DIR set, a rotating file
// sink receives the same entries.
func New(s *config.Settings) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(normalizeLevel(s.LogLevel))); err != nil {
		return nil, err
	}

	var encCfg zapcore.EncoderConfig
	var enc zapcore.Encoder
	if s.Development() {
		encCfg = zap.NewDevelopmentEncoderConfig()
		enc = zapcore.NewConsoleEncoder(encCfg)
		level.SetLevel(zapcore.DebugLevel)
	} else {
		encCfg = zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	cores := []zapcore.Core{zapcore.NewCore(enc, zapcore.Lock(os.Stdout), level)}
	if s.LogDir != "" {
		if err := os.MkdirAll(s.LogDir, 0o755); err != nil {
			return nil, err
		}
		rw, err := NewRotatingWriter(filepath.Join(s.LogDir, FileName), int64(s.LogMaxSize.Bytes()), s.LogMaxFiles)
		if err != nil {
			return nil, err
		}
		fileEnc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		cores = append(cores, zapcore.NewCore(fileEnc, zapcore.AddSync(rw), level))
	}

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if s.Development() {
		opts = append(opts, zap.Development())
	}
	return zap.New(zapcore.NewTee(cores...), opts...), nil
}

func normalizeLevel(l string) string {
	if l == "warning" {
		return "warn"
	}
	if l == "" {
		return "info"
	}
	return l
}
