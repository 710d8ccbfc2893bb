package logger

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Anthya1104/rain-striper/internal/config"
)

// InitLogger configures the package-level logrus logger the way the
// base CLI does: a text formatter with full timestamps and a level
// parsed from one of config.LogLevel*.
func InitLogger(level string) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}

	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return nil
}

func parseLevel(level string) (logrus.Level, error) {
	switch level {
	case config.LogLevelDebug:
		return logrus.DebugLevel, nil
	case config.LogLevelInfo:
		return logrus.InfoLevel, nil
	case config.LogLevelWarning:
		return logrus.WarnLevel, nil
	case config.LogLevelError:
		return logrus.ErrorLevel, nil
	default:
		return logrus.InfoLevel, fmt.Errorf("logger: unknown log level %q", level)
	}
}

// For fields common to RAIN engine background activity (the parity
// worker, group registry), components call
// logrus.WithFields(logrus.Fields{"component": "...", ...}) directly
// rather than wrapping it further here.
