package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger — общий логгер приложения.
var Logger = logrus.New()

// Init настраивает уровень и формат логгера.
// format: "text" (по умолчанию) или "json".
func Init(level, format string) {
	Logger.SetOutput(os.Stdout)
	if strings.EqualFold(format, "json") {
		Logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Logger.SetLevel(lvl)
}

// For возвращает запись с полем component, чтобы строки разных модулей легко фильтровались.
func For(component string) *logrus.Entry {
	return Logger.WithField("component", component)
}

// Zap создаёт логгер для внутренних сообщений gotd.
// Клиент gotd пишет много отладочной информации, поэтому ниже warn его не опускаем,
// если только не включён debug всего приложения.
func Zap() *zap.Logger {
	lvl := zapcore.WarnLevel
	if Logger.IsLevelEnabled(logrus.DebugLevel) {
		lvl = zapcore.DebugLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l.Named("gotd")
}
