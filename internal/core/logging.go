package core

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger returns a logger intended to be used for general application logs.
func NewLogger(cfg *Config) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	logger.SetReportCaller(cfg.Logging.IncludeCaller)

	level := cfg.Logging.LogLevel
	if level == "" {
		level = "info"
	}
	logLvl, err := logrus.ParseLevel(level)
	if err != nil {
		return logger, fmt.Errorf("parsing log level: %w", err)
	}
	logger.SetLevel(logLvl)

	if cfg.Logging.LogFilePath != "" {
		logFile, err := os.OpenFile(cfg.Logging.LogFilePath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0640)
		if err != nil {
			return logger, fmt.Errorf("opening log file %s: %w", cfg.Logging.LogFilePath, err)
		}
		logger.SetOutput(logFile)
	} else {
		logger.SetOutput(os.Stdout)
	}

	return logger, nil
}
