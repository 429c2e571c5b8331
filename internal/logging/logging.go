// Package logging builds the process-wide structured logger (§6, §A.1):
// NDJSON when stdout is not a terminal, a colorized console encoder when
// it is, both built on go.uber.org/zap.
package logging

import (
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger. level is one of
// debug/info/warn/error (case-insensitive); an unrecognized value falls
// back to info.
func New(level string) (*zap.Logger, error) {
	zapLevel := parseLevel(level)

	if !isatty.IsTerminal(os.Stdout.Fd()) {
		config := zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zapLevel)
		config.EncoderConfig.TimeKey = "ts"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		return config.Build()
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = coloredLevelEncoder
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.Lock(os.Stdout),
		zapLevel,
	)
	return zap.New(core), nil
}

func parseLevel(level string) zapcore.Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel
	}
	return l
}

// coloredLevelEncoder renders the level tag with fatih/color, matching the
// domain stack's "colorized level tags" requirement (SPEC_FULL.md §B).
func coloredLevelEncoder(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	var c *color.Color
	switch level {
	case zapcore.DebugLevel:
		c = color.New(color.FgHiBlack)
	case zapcore.InfoLevel:
		c = color.New(color.FgCyan)
	case zapcore.WarnLevel:
		c = color.New(color.FgYellow)
	case zapcore.ErrorLevel, zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		c = color.New(color.FgRed)
	default:
		c = color.New(color.Reset)
	}
	enc.AppendString(c.Sprint(level.CapitalString()))
}

// PhaseFields builds the structured fields logged around every phase
// dispatch (§4.4 Timing, §A.1 "phase, handler, spec_id, duration_ms").
func PhaseFields(phase, handler string, specificationID int64, durationMs int64) []zap.Field {
	fields := []zap.Field{zap.String("phase", phase)}
	if handler != "" {
		fields = append(fields, zap.String("handler", handler))
	}
	if specificationID != 0 {
		fields = append(fields, zap.Int64("spec_id", specificationID))
	}
	fields = append(fields, zap.Int64("duration_ms", durationMs))
	return fields
}
