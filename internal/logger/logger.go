package logger

import (
	"io"
	"log"
	"os"
	"path/filepath"
)

// Log discards output until Init is called so packages can log from tests.
var Log = log.New(io.Discard, "", log.LstdFlags)

var logFile *os.File

func Init(logFilePath string) error {
	if dir := filepath.Dir(logFilePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}

	logFile = file
	Log = log.New(file, "", log.LstdFlags|log.Lmicroseconds)
	Log.Println("Logger initialized.")
	return nil
}

func Close() {
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
	Log = log.New(io.Discard, "", log.LstdFlags)
}
