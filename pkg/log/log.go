package log

import (
	"io"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	logger atomic.Pointer[zap.SugaredLogger]
)

func init() {
	SetOutput(os.Stderr)
}

// "15:04:05.000 [INFO] msg", the same header the proxy binaries used.
func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:          "T",
		LevelKey:         "L",
		MessageKey:       "M",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeTime:       zapcore.TimeEncoderOfLayout("15:04:05.000"),
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " ",
		EncodeLevel: func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString("[" + l.CapitalString() + "]")
		},
	}
}

// SetOutput redirects every subsequent log line to w.
func SetOutput(w io.Writer) {
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), zapcore.Lock(zapcore.AddSync(w)), level)
	logger.Store(zap.New(core).Sugar())
}

func Sync() error {
	return logger.Load().Sync()
}

func Error(v ...interface{}) {
	logger.Load().Error(v...)
}

func Errorf(format string, v ...interface{}) {
	logger.Load().Errorf(format, v...)
}

func Warn(v ...interface{}) {
	logger.Load().Warn(v...)
}

func Warnf(format string, v ...interface{}) {
	logger.Load().Warnf(format, v...)
}

func Info(v ...interface{}) {
	logger.Load().Info(v...)
}

func Infof(format string, v ...interface{}) {
	logger.Load().Infof(format, v...)
}

func Debug(v ...interface{}) {
	logger.Load().Debug(v...)
}

func Debugf(format string, v ...interface{}) {
	logger.Load().Debugf(format, v...)
}

// Infow logs msg with structured key/value pairs.
func Infow(msg string, keysAndValues ...interface{}) {
	logger.Load().Infow(msg, keysAndValues...)
}

func Fatal(v ...interface{}) {
	logger.Load().Fatal(v...)
}

func Fatalf(format string, v ...interface{}) {
	logger.Load().Fatalf(format, v...)
}

// SetLevel accepts error, warn, info and debug in either case. Anything else
// falls back to info.
func SetLevel(name string) {
	var l zapcore.Level

	switch name {
	case "error", "ERROR":
		l = zapcore.ErrorLevel
	case "warn", "WARN":
		l = zapcore.WarnLevel
	case "debug", "DEBUG", "trace", "TRACE":
		l = zapcore.DebugLevel
	default:
		l = zapcore.InfoLevel
	}

	level.SetLevel(l)
}

// Level reports the name of the active level.
func Level() string {
	return level.Level().String()
}
