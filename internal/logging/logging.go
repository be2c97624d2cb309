// Package logging builds the file-backed logger shared by all components.
// The TUI owns the terminal, so logs never go to stdout; they land in a
// rotated file that can be tailed from another shell.
package logging

import (
	"io"
	"log"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	maxSizeMB  = 10
	maxBackups = 3
	maxAgeDays = 28
)

// NewFileLogger returns a logger writing to filePath with rotation, plus a
// closer for shutdown. Pass the result to every component constructor.
func NewFileLogger(filePath string) (*log.Logger, io.Closer) {
	writer := &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}
	return log.New(writer, "", log.LstdFlags|log.Lmicroseconds), writer
}
