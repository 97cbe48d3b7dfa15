package utils

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalLogger *zap.Logger
	loggerMu     sync.Mutex
)

// NewLogger builds the process logger and installs it as the zap global.
func NewLogger(cfg LoggingConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	encoding := strings.ToLower(strings.TrimSpace(cfg.Encoding))
	if encoding != "json" {
		encoding = "console"
	}

	var encoderCfg zapcore.EncoderConfig
	if encoding == "console" {
		encoderCfg = zap.NewDevelopmentEncoderConfig()
	} else {
		encoderCfg = zap.NewProductionEncoderConfig()
		encoderCfg.TimeKey = "time"
		encoderCfg.MessageKey = "msg"
		encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeDuration = zapcore.MillisDurationEncoder

	initial := map[string]interface{}{}
	if name := strings.TrimSpace(cfg.ServiceName); name != "" {
		initial["service"] = name
	}

	zapCfg := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Development,
		Encoding:          encoding,
		EncoderConfig:     encoderCfg,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.Development,
		InitialFields:     initial,
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}

	replaceGlobal(logger)
	return logger, nil
}

// Logger returns the installed logger, or a no-op one before NewLogger runs.
func Logger() *zap.Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if globalLogger == nil {
		return zap.NewNop()
	}
	return globalLogger
}

// OrNop lets constructors accept a nil logger; they fall back to the
// installed one.
func OrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return Logger()
	}
	return logger
}

// StreamFields are attached to every log line emitted while relaying one request.
func StreamFields(owner, threadID string) []zap.Field {
	fields := []zap.Field{zap.String("owner", owner)}
	if threadID != "" {
		fields = append(fields, zap.String("thread_id", threadID))
	}
	return fields
}

func replaceGlobal(logger *zap.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	zap.ReplaceGlobals(logger)
	globalLogger = logger
}
