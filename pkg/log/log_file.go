package log

import (
	"path/filepath"

	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// getFileLogWriter returns the WriteSyncer for logging to a rotated file.
func getFileLogWriter(conf *Conf) zapcore.WriteSyncer {
	name := conf.Filename
	if name == "" {
		name = "engine.log"
	}
	lumberJackLogger := &lumberjack.Logger{
		Filename:   filepath.Join(conf.Path, name),
		MaxSize:    conf.RotateSize,
		MaxBackups: conf.RotateNum,
		MaxAge:     conf.KeepDays,
		Compress:   true,
	}
	return zapcore.AddSync(lumberJackLogger)
}
