package common

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"
)

var (
	loggerOnce sync.Once
	logger     arbor.ILogger
)

// BuildLogger constructs the process logger from the logging configuration.
// Console and file writers are attached according to config.Logging.Output;
// a console writer is always kept as fallback so startup errors stay visible.
func BuildLogger(config *Config) arbor.ILogger {
	log := arbor.NewLogger()

	consoleWriter := models.WriterConfiguration{
		Type:             models.LogWriterTypeConsole,
		TimeFormat:       "15:04:05",
		TextOutput:       true,
		DisableTimestamp: false,
	}

	hasFile := false
	hasConsole := false
	for _, output := range config.Logging.Output {
		switch output {
		case "file":
			hasFile = true
		case "stdout", "console":
			hasConsole = true
		}
	}

	if hasFile {
		logsDir := "logs"
		if execPath, err := os.Executable(); err == nil {
			logsDir = filepath.Join(filepath.Dir(execPath), "logs")
		}
		if err := os.MkdirAll(logsDir, 0755); err == nil {
			log = log.WithFileWriter(models.WriterConfiguration{
				Type:             models.LogWriterTypeFile,
				FileName:         filepath.Join(logsDir, "freva-rest.log"),
				TimeFormat:       "15:04:05",
				MaxSize:          100 * 1024 * 1024,
				MaxBackups:       3,
				TextOutput:       true,
				DisableTimestamp: false,
			})
		} else {
			hasConsole = true
		}
	}

	if hasConsole || !hasFile {
		log = log.WithConsoleWriter(consoleWriter)
	}

	level := config.Logging.Level
	if config.Debug {
		level = "debug"
	}
	return log.WithLevelFromString(level)
}

// InitLogger stores the process logger for global access.
func InitLogger(l arbor.ILogger) {
	loggerOnce.Do(func() {
		logger = l
	})
}

// GetLogger returns the process logger, falling back to a bare console logger
// before InitLogger has run.
func GetLogger() arbor.ILogger {
	if logger == nil {
		return arbor.NewLogger()
	}
	return logger
}
