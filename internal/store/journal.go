package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StageEntry is one line of a run journal: a pipeline stage and how it ended.
type StageEntry struct {
	Stage    string        `json:"stage"`
	Start    time.Time     `json:"start"`
	Duration time.Duration `json:"durationNs"`
	Error    string        `json:"error,omitempty"`
}

// JournalWriter appends stage entries to <baseDir>/runs/<runID>/journal.jsonl.
// It is safe for concurrent use.
type JournalWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	path   string
}

// NewJournalWriter creates the journal file for a run, truncating any
// earlier journal with the same ID.
func NewJournalWriter(baseDir, runID string) (*JournalWriter, error) {
	dir := runDir(baseDir, runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	path := filepath.Join(dir, "journal.jsonl")
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}

	return &JournalWriter{
		file:   file,
		writer: bufio.NewWriter(file),
		path:   path,
	}, nil
}

// Write appends an entry. It is buffered until Flush or Close.
func (jw *JournalWriter) Write(entry StageEntry) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal journal entry: %w", err)
	}
	if _, err := jw.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write journal entry: %w", err)
	}
	if err := jw.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	return nil
}

// Flush writes buffered entries and syncs the file.
func (jw *JournalWriter) Flush() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush journal: %w", err)
	}
	if err := jw.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync journal: %w", err)
	}
	return nil
}

// Close flushes buffered entries and closes the file.
func (jw *JournalWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		jw.file.Close()
		return fmt.Errorf("failed to flush on close: %w", err)
	}
	if err := jw.file.Close(); err != nil {
		return fmt.Errorf("failed to close journal: %w", err)
	}
	return nil
}

// Path returns the filesystem path to the journal file.
func (jw *JournalWriter) Path() string {
	return jw.path
}

// JournalReader reads stage entries back from a run journal.
type JournalReader struct {
	file    *os.File
	scanner *bufio.Scanner
}

// NewJournalReader opens the journal of a run.
func NewJournalReader(baseDir, runID string) (*JournalReader, error) {
	path := filepath.Join(runDir(baseDir, runID), "journal.jsonl")

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{RunID: runID}
		}
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}

	return &JournalReader{
		file:    file,
		scanner: bufio.NewScanner(file),
	}, nil
}

// Read returns the next entry, or io.EOF when the journal is exhausted.
func (jr *JournalReader) Read() (*StageEntry, error) {
	if !jr.scanner.Scan() {
		if err := jr.scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to scan journal line: %w", err)
		}
		return nil, io.EOF
	}

	var entry StageEntry
	if err := json.Unmarshal(jr.scanner.Bytes(), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal journal entry: %w", err)
	}
	return &entry, nil
}

// ReadAll reads every remaining entry.
func (jr *JournalReader) ReadAll() ([]StageEntry, error) {
	var entries []StageEntry
	for {
		entry, err := jr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

// Close closes the journal file.
func (jr *JournalReader) Close() error {
	if err := jr.file.Close(); err != nil {
		return fmt.Errorf("failed to close journal: %w", err)
	}
	return nil
}
