// Copyright 2024-2026 Aiku AI

package minecraft

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"
)

// DefaultPollInterval is how often the log file is checked for new lines.
const DefaultPollInterval = 100 * time.Millisecond

// LogTailer streams lines appended to the server log. It follows the file
// across truncation and across the rename-and-recreate rotation the server
// performs at startup.
type LogTailer struct {
	path     string
	interval time.Duration
	file     *os.File
	info     os.FileInfo
	position int64
	reader   *bufio.Reader

	Lines chan string
}

// NewLogTailer creates a tailer for path.
func NewLogTailer(path string, interval time.Duration) *LogTailer {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &LogTailer{
		path:     path,
		interval: interval,
		Lines:    make(chan string, 100),
	}
}

// Run tails the file until ctx is done. Existing content is skipped; only
// lines written after Run starts are delivered. A missing file is waited
// for. Lines are never dropped: a full channel blocks the tailer.
func (t *LogTailer) Run(ctx context.Context) error {
	defer t.closeFile()
	if err := t.open(true); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := t.poll(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return err
			}
		}
	}
}

func (t *LogTailer) open(seekEnd bool) error {
	file, err := os.Open(t.path)
	if err != nil {
		return err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	t.position = 0
	if seekEnd {
		if t.position, err = file.Seek(0, io.SeekEnd); err != nil {
			_ = file.Close()
			return fmt.Errorf("seeking to end: %w", err)
		}
	}
	t.file = file
	t.info = info
	t.reader = bufio.NewReader(file)
	return nil
}

func (t *LogTailer) closeFile() {
	if t.file != nil {
		_ = t.file.Close()
		t.file = nil
	}
}

func (t *LogTailer) poll(ctx context.Context) error {
	if t.file == nil {
		// The file appeared after Run started, so all of it is new.
		if err := t.open(false); errors.Is(err, fs.ErrNotExist) {
			return nil
		} else if err != nil {
			return err
		}
	}

	// Drain what is left of the current file before following a rotation.
	if err := t.readNew(ctx); err != nil {
		return err
	}
	current, err := os.Stat(t.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("stat log file: %w", err)
	}
	if !os.SameFile(current, t.info) {
		t.closeFile()
		if err := t.open(false); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return t.readNew(ctx)
	}
	return nil
}

func (t *LogTailer) readNew(ctx context.Context) error {
	if t.file == nil {
		return nil
	}
	stat, err := t.file.Stat()
	if err != nil {
		return fmt.Errorf("stat log file: %w", err)
	}
	if stat.Size() < t.position {
		t.position = 0
	}
	if stat.Size() == t.position {
		return nil
	}
	if _, err := t.file.Seek(t.position, io.SeekStart); err != nil {
		return fmt.Errorf("seeking log file: %w", err)
	}
	t.reader.Reset(t.file)

	for {
		line, err := t.reader.ReadString('\n')
		if err == io.EOF {
			// Partial line; picked up again on the next poll.
			return nil
		} else if err != nil {
			return fmt.Errorf("reading line: %w", err)
		}
		t.position += int64(len(line))
		line = trimEOL(line)
		if line == "" {
			continue
		}
		select {
		case t.Lines <- line:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func trimEOL(line string) string {
	if n := len(line); n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
	}
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line
}
