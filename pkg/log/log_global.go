package log

func Debug(args ...interface{}) { sugar.Debug(args...) }

func Debugf(format string, args ...interface{}) { sugar.Debugf(format, args...) }

func Debugw(msg string, keysAndValues ...interface{}) { sugar.Debugw(msg, keysAndValues...) }

func Info(args ...interface{}) { sugar.Info(args...) }

func Infof(format string, args ...interface{}) { sugar.Infof(format, args...) }

func Infow(msg string, keysAndValues ...interface{}) { sugar.Infow(msg, keysAndValues...) }

func Warn(args ...interface{}) { sugar.Warn(args...) }

func Warnf(format string, args ...interface{}) { sugar.Warnf(format, args...) }

func Warnw(msg string, keysAndValues ...interface{}) { sugar.Warnw(msg, keysAndValues...) }

func Error(args ...interface{}) { sugar.Error(args...) }

func Errorf(format string, args ...interface{}) { sugar.Errorf(format, args...) }

func Errorw(msg string, keysAndValues ...interface{}) { sugar.Errorw(msg, keysAndValues...) }

func Fatal(args ...interface{}) { sugar.Fatal(args...) }

func Fatalf(format string, args ...interface{}) { sugar.Fatalf(format, args...) }
