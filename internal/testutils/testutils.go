// Package testutils holds helpers shared by the test suites.
package testutils

import (
	"io"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger returns a development style logger writing to w at full
// verbosity, for wiring into the suites' workers and engines.
func NewLogger(w io.Writer) logr.Logger {
	encoder := zap.NewDevelopmentEncoderConfig()
	encoder.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoder),
		zapcore.AddSync(w), zapcore.Level(-4))
	return zapr.NewLogger(zap.New(core))
}
