package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type entry struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func readEntries(t *testing.T, path string) []entry {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer func() { _ = f.Close() }()

	var out []entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("decode line %q: %v", sc.Text(), err)
		}
		out = append(out, e)
	}
	return out
}

func TestJournalWritesDatedFile(t *testing.T) {
	dir := t.TempDir()
	j := NewJournal(dir, 8, 1, discardLogger())
	j.now = func() time.Time { return time.Date(2024, 5, 2, 23, 30, 0, 0, time.UTC) }

	for _, e := range []entry{{"a", "succeeded"}, {"b", "failed"}} {
		if err := j.Append(e); err != nil {
			t.Fatalf("Append() = %v", err)
		}
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	got := readEntries(t, filepath.Join(dir, "2024-05-02", "runs.jsonl"))
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("entries = %+v; want a then b", got)
	}
}

func TestJournalAppendAfterClose(t *testing.T) {
	j := NewJournal(t.TempDir(), 1, 1, discardLogger())
	if err := j.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if err := j.Append(entry{ID: "late"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Append() = %v; want ErrClosed", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("second Close() = %v", err)
	}
}

func TestJournalKeepsEveryAcceptedRecordWhenClosing(t *testing.T) {
	dir := t.TempDir()
	j := NewJournal(dir, 1024, 1, discardLogger())
	j.now = func() time.Time { return time.Date(2024, 5, 3, 8, 0, 0, 0, time.UTC) }

	var accepted atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			<-start
			for i := 0; i < 50; i++ {
				err := j.Append(entry{ID: strconv.Itoa(w) + "-" + strconv.Itoa(i), Status: "succeeded"})
				switch {
				case err == nil:
					accepted.Add(1)
				case errors.Is(err, ErrClosed):
					return
				default:
					t.Errorf("Append() = %v", err)
					return
				}
			}
		}(w)
	}
	close(start)
	time.Sleep(time.Millisecond)
	if err := j.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	wg.Wait()

	path := filepath.Join(dir, "2024-05-03", "runs.jsonl")
	var got []entry
	if _, err := os.Stat(path); err == nil {
		got = readEntries(t, path)
	}
	if int64(len(got)) != accepted.Load() {
		t.Fatalf("journal has %d records; Append accepted %d", len(got), accepted.Load())
	}
}
