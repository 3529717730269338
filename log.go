package vault

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// LogLevel describes rclone style log levels
type LogLevel byte

// Log levels. These are the syslog levels of which we only use a subset.
const (
	LogLevelError LogLevel = iota
	LogLevelInfo
	LogLevelDebug
)

var logger = logrus.StandardLogger()

// SetLogLevel sets the level of the standard logger.
func SetLogLevel(level LogLevel) {
	switch level {
	case LogLevelError:
		logger.SetLevel(logrus.ErrorLevel)
	case LogLevelInfo:
		logger.SetLevel(logrus.InfoLevel)
	case LogLevelDebug:
		logger.SetLevel(logrus.DebugLevel)
	}
}

// logPrefix formats the object a log line is about.
func logPrefix(o interface{}) string {
	if o == nil {
		return ""
	}
	return fmt.Sprintf("%v: ", o)
}

// Errorf writes error log output for this object.
func Errorf(o interface{}, text string, args ...interface{}) {
	logger.Errorf(logPrefix(o)+text, args...)
}

// Infof writes info log output for this object.
func Infof(o interface{}, text string, args ...interface{}) {
	logger.Infof(logPrefix(o)+text, args...)
}

// Debugf writes debugging output for this object.
func Debugf(o interface{}, text string, args ...interface{}) {
	logger.Debugf(logPrefix(o)+text, args...)
}
