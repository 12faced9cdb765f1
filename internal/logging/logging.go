package logging

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func timeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006/01/02 15:04:05.000"))
}

// New returns a 'sugared' zap logger at the given level. Each line carries a
// timestamp, the level and the caller before the message, e.g.:
//
//	2026/10/15 10:23:27.120  INFO  capture/engine.go:214  Capturing lab (...)
func New(level string) (*zap.SugaredLogger, error) {
	var lvl zapcore.Level
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}

	zapConfig := zap.NewDevelopmentConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(lvl)
	zapConfig.DisableStacktrace = true
	zapConfig.EncoderConfig.EncodeTime = timeEncoder

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	_ = zap.RedirectStdLog(logger)

	return logger.Sugar(), nil
}
