package logging

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/ziflex/lecho/v3"
)

const logFileTimeFormat = "2006-01-02 15:04:05"

// Logger writes to STDOUT, or to a dated file derived from logFilePath when
// one is configured and can be created.
func Logger(logFilePath string) *lecho.Logger {
	logger := lecho.New(
		os.Stdout,
		lecho.WithLevel(log.DEBUG),
		lecho.WithTimestamp(),
	)
	if logFilePath != "" {
		file, err := GetLoggingFile(logFilePath, time.Now())
		if err != nil {
			logger.Errorf("failed to create logging file, logging to STDOUT: %v", err)
			return logger
		}
		logger.SetOutput(file)
	}

	return logger
}

// LoggingFilePath inserts the timestamp before the extension, so
// relay.log becomes relay<timestamp>.log.
func LoggingFilePath(path string, now time.Time) string {
	stamp := now.Format(logFileTimeFormat)
	extension := filepath.Ext(path)
	if extension == "" {
		return path + stamp
	}
	return strings.TrimSuffix(path, extension) + stamp + extension
}

func GetLoggingFile(path string, now time.Time) (*os.File, error) {
	return os.Create(LoggingFilePath(path, now))
}
