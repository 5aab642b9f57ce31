package logging

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	RunDirectoryPrefix = "compatrun-" // Standardized prefix for run directories
	SummaryFilename    = "summary.log"
	FailedDirName      = "failed"
)

// FileLogger owns the log directory of one run and the files written in it.
type FileLogger struct {
	baseDir      string                // Base directory for logs
	logDir       string                // Directory of this run
	mu           sync.Mutex            // Protects asyncWriters
	asyncWriters map[string]*AsyncFile // Map of async file writers
	runID        string
}

// AsyncFile appends records to a file from a background goroutine so suite
// runners never block on disk. Records keep the order of Write calls.
type AsyncFile struct {
	path  string
	file  *os.File
	out   *bufio.Writer
	queue chan []byte
	done  chan struct{}

	mu     sync.Mutex
	closed bool
	err    error // first write error, returned by Close
}

// NewAsyncFile opens path for asynchronous appends, creating it and its
// directory when missing.
func NewAsyncFile(path string) (*AsyncFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}

	af := &AsyncFile{
		path:  path,
		file:  file,
		out:   bufio.NewWriter(file),
		queue: make(chan []byte, 128),
		done:  make(chan struct{}),
	}
	go af.drain()
	return af, nil
}

// Write queues a copy of record. It fails once the file is closed.
func (af *AsyncFile) Write(record []byte) error {
	af.mu.Lock()
	defer af.mu.Unlock()

	if af.closed {
		return fmt.Errorf("%s: %w", af.path, os.ErrClosed)
	}
	af.queue <- bytes.Clone(record)
	return nil
}

func (af *AsyncFile) drain() {
	defer close(af.done)
	for record := range af.queue {
		if _, err := af.out.Write(record); err != nil {
			af.fail(err)
		}
	}
	if err := af.out.Flush(); err != nil {
		af.fail(err)
	}
}

func (af *AsyncFile) fail(err error) {
	af.mu.Lock()
	defer af.mu.Unlock()
	if af.err == nil {
		af.err = err
	}
}

// Close waits for queued records to reach the file, then closes it. It
// returns the first error met while writing.
func (af *AsyncFile) Close() error {
	af.mu.Lock()
	alreadyClosed := af.closed
	if !alreadyClosed {
		af.closed = true
		close(af.queue)
	}
	af.mu.Unlock()
	if alreadyClosed {
		return nil
	}

	<-af.done
	closeErr := af.file.Close()

	af.mu.Lock()
	defer af.mu.Unlock()
	if af.err != nil {
		return fmt.Errorf("writing %s: %w", af.path, af.err)
	}
	return closeErr
}

// NewFileLogger creates the run directory <baseDir>/compatrun-<runID>.
func NewFileLogger(baseDir string, runID string) (*FileLogger, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}
	if baseDir == "" {
		return nil, fmt.Errorf("baseDir cannot be empty")
	}

	logDir := filepath.Join(baseDir, RunDirectoryPrefix+runID)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", logDir, err)
	}

	return &FileLogger{
		baseDir:      baseDir,
		logDir:       logDir,
		asyncWriters: make(map[string]*AsyncFile),
		runID:        runID,
	}, nil
}

// getAsyncWriter gets or creates an AsyncFile for the given path
func (l *FileLogger) getAsyncWriter(path string) (*AsyncFile, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if writer, exists := l.asyncWriters[path]; exists {
		return writer, nil
	}
	writer, err := NewAsyncFile(path)
	if err != nil {
		return nil, err
	}
	l.asyncWriters[path] = writer
	return writer, nil
}

// LogSummary appends text to the run's summary.log.
func (l *FileLogger) LogSummary(summary string) error {
	writer, err := l.getAsyncWriter(l.GetSummaryFile())
	if err != nil {
		return err
	}
	return writer.Write([]byte(summary))
}

// Complete flushes and closes every file of the run.
func (l *FileLogger) Complete() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	for path, writer := range l.asyncWriters {
		if err := writer.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing %s: %w", path, err)
		}
	}
	l.asyncWriters = make(map[string]*AsyncFile)
	return firstErr
}

func (l *FileLogger) GetRunID() string {
	return l.runID
}

func (l *FileLogger) GetDirectory() string {
	return l.logDir
}

func (l *FileLogger) GetSummaryFile() string {
	return filepath.Join(l.logDir, SummaryFilename)
}

func (l *FileLogger) GetFailedDir() string {
	return filepath.Join(l.logDir, FailedDirName)
}

// safeFilename replaces characters that are awkward in file names.
func safeFilename(s string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "_",
		"~", "-",
	)
	return replacer.Replace(s)
}
