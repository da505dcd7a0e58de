package log

import (
	"errors"

	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/dissect/internal/config"
)

// AddFileAppender adds a rotating log file.
func (m *MultiWriter) AddFileAppender(cfg config.FileLogConfig) error {
	if cfg.Path == "" {
		return errors.New("file output requires 'path' field")
	}
	writer := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,  // megabytes
		MaxBackups: cfg.MaxBackups, // number of backups
		MaxAge:     cfg.MaxAgeDays, // days
		Compress:   cfg.Compress,   // compress the backups
	}
	m.writers = append(m.writers, writer)
	return nil
}
