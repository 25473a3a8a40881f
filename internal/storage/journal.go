// Package storage keeps a JSON-lines journal of finished scheduler runs.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("journal is closed")

// Journal appends records asynchronously to <baseDir>/<YYYY-MM-DD>/runs.jsonl,
// opening a new file when the UTC date changes.
type Journal struct {
	baseDir   string
	maxSizeMB int
	logger    *slog.Logger
	now       func() time.Time

	writeCh chan any
	done    chan struct{}
	wg      sync.WaitGroup

	mu          sync.Mutex
	closed      bool
	currentDate string
	file        *lumberjack.Logger
}

func NewJournal(baseDir string, bufferSize, maxSizeMB int, logger *slog.Logger) *Journal {
	if bufferSize < 1 {
		bufferSize = 16
	}
	if maxSizeMB < 1 {
		maxSizeMB = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	j := &Journal{
		baseDir:   baseDir,
		maxSizeMB: maxSizeMB,
		logger:    logger,
		now:       time.Now,
		writeCh:   make(chan any, bufferSize),
		done:      make(chan struct{}),
	}
	j.wg.Add(1)
	go j.writeLoop()
	return j
}

// Append queues a record. It never blocks: a full buffer drops the record.
// The send happens under mu so it cannot interleave with Close: a nil
// return means the record is queued before the final drain.
func (j *Journal) Append(record any) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	select {
	case j.writeCh <- record:
		return nil
	default:
		j.logger.Warn("run journal buffer full, dropping record")
		return errors.New("journal buffer full")
	}
}

// Close flushes queued records and closes the current file.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	j.mu.Unlock()

	close(j.done)
	j.wg.Wait()

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file != nil {
		return j.file.Close()
	}
	return nil
}

func (j *Journal) writeLoop() {
	defer j.wg.Done()
	for {
		select {
		case record := <-j.writeCh:
			j.write(record)
		case <-j.done:
			for {
				select {
				case record := <-j.writeCh:
					j.write(record)
				default:
					return
				}
			}
		}
	}
}

func (j *Journal) write(record any) {
	data, err := json.Marshal(record)
	if err != nil {
		j.logger.Error("failed to marshal run record", "error", err)
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	date := j.now().UTC().Format("2006-01-02")
	if j.file == nil || date != j.currentDate {
		if err := j.rotate(date); err != nil {
			j.logger.Error("failed to open run journal", "error", err)
			return
		}
	}
	if _, err := j.file.Write(append(data, '\n')); err != nil {
		j.logger.Error("failed to write run record", "error", err)
	}
}

func (j *Journal) rotate(date string) error {
	if j.file != nil {
		_ = j.file.Close()
		j.file = nil
	}
	dir := filepath.Join(j.baseDir, date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	j.file = &lumberjack.Logger{
		Filename:   filepath.Join(dir, "runs.jsonl"),
		MaxSize:    j.maxSizeMB,
		MaxBackups: 30,
		MaxAge:     90,
	}
	j.currentDate = date
	j.logger.Debug("opened run journal", "dir", dir)
	return nil
}
