package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// CommandLogger writes a plain-text transcript of driver traffic to daily
// log files, one line per issued command or received result.
type CommandLogger struct {
	dir     string
	file    *os.File
	path    string
	mu      sync.Mutex
	lastDay string
}

// NewCommandLogger creates a command logger that writes to dir.
// Log files are named commands-YYYY-MM-DD.log.
func NewCommandLogger(dir string) (*CommandLogger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create command log dir: %w", err)
	}

	l := &CommandLogger{dir: dir}
	if err := l.rotate(); err != nil {
		return nil, err
	}
	return l, nil
}

// Write appends a line to the transcript with timestamp.
func (l *CommandLogger) Write(content string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	today := time.Now().Format("2006-01-02")
	if today != l.lastDay {
		if err := l.rotateLocked(); err != nil {
			return err
		}
	}

	if l.file == nil {
		return nil
	}

	timestamp := time.Now().Format("15:04:05")
	_, err := fmt.Fprintf(l.file, "[%s] %s\n", timestamp, content)
	return err
}

// Command records an issued driver command.
func (l *CommandLogger) Command(driver, id, method string, args []any) error {
	return l.Write(fmt.Sprintf("-> %s %s %v id=%s", driver, method, args, id))
}

// Result records a result delivered back from the driver.
func (l *CommandLogger) Result(driver, id, key string, value any) error {
	return l.Write(fmt.Sprintf("<- %s %s %v id=%s", driver, key, value, id))
}

// Path returns the current log file path.
func (l *CommandLogger) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

// Close closes the log file.
func (l *CommandLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

func (l *CommandLogger) rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rotateLocked()
}

func (l *CommandLogger) rotateLocked() error {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}

	today := time.Now().Format("2006-01-02")
	l.lastDay = today
	l.path = filepath.Join(l.dir, "commands-"+today+".log")

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open command log: %w", err)
	}
	l.file = file
	return nil
}
