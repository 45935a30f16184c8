package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var logger *logrus.Logger
var probeLogger *logrus.Logger

func init() {
	logger = logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
		DisableColors: false,
	})
	logger.SetLevel(logrus.InfoLevel)

	// Probes and pollers are chatty, they get their own level.
	probeLogger = logrus.New()
	probeLogger.SetOutput(os.Stdout)
	probeLogger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
		DisableColors: false,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "time",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "probe_msg",
		},
	})
	probeLogger.SetLevel(logrus.InfoLevel)
}

func GetLogger() *logrus.Logger {
	return logger
}

func GetProbeLogger() *logrus.Logger {
	return probeLogger
}

// ForProbe returns an entry of the probe logger tagged with the probe name.
func ForProbe(name string) *logrus.Entry {
	return probeLogger.WithField("probe", name)
}

func SetLogLevel(level string) error {
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logger.SetLevel(logLevel)
	return nil
}

func SetProbeLogLevel(level string) error {
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	probeLogger.SetLevel(logLevel)
	return nil
}

func SetFormatter(formatter logrus.Formatter) {
	logger.SetFormatter(formatter)
	probeLogger.SetFormatter(formatter)
}

// SetOutput redirects both loggers, mostly useful in tests.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
	probeLogger.SetOutput(w)
}
