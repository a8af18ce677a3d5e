// Package audit records volume commands and capture transitions as JSON
// lines. Writes are asynchronous and lossy under pressure: a full buffer
// drops the entry rather than stalling the coordinator.
package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgnsrekt/tabgain/internal/types"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Entry is one audited event.
type Entry struct {
	Time   time.Time   `json:"time"`
	Event  string      `json:"event"`
	Tab    types.TabID `json:"tab_id"`
	Volume int         `json:"volume,omitempty"`
	Detail string      `json:"detail,omitempty"`
}

// Writer appends entries to a size-rotated JSONL file.
type Writer struct {
	logger *lumberjack.Logger
	ch     chan Entry
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewWriter creates the audit file under dir and starts the write loop.
func NewWriter(dir string, bufferSize, maxSizeMB int) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: mkdir %s: %w", dir, err)
	}
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 50
	}

	w := &Writer{
		logger: &lumberjack.Logger{
			Filename:   filepath.Join(dir, "events.jsonl"),
			MaxSize:    maxSizeMB,
			MaxBackups: 5,
			Compress:   true,
		},
		ch:   make(chan Entry, bufferSize),
		done: make(chan struct{}),
	}

	w.wg.Add(1)
	go w.writeLoop()
	return w, nil
}

// Record queues an event. Never blocks; entries are dropped with a warning
// when the buffer is full or the writer is closed.
func (w *Writer) Record(event string, tab types.TabID, volume int, detail string) {
	entry := Entry{Time: time.Now().UTC(), Event: event, Tab: tab, Volume: volume, Detail: detail}
	select {
	case <-w.done:
		slog.Warn("audit writer closed, entry dropped", "event", event)
	case w.ch <- entry:
	default:
		slog.Warn("audit buffer full, entry dropped", "event", event)
	}
}

func (w *Writer) writeLoop() {
	defer w.wg.Done()
	for {
		select {
		case entry := <-w.ch:
			w.writeEntry(entry)
		case <-w.done:
			// Drain whatever is already queued, then stop.
			for {
				select {
				case entry := <-w.ch:
					w.writeEntry(entry)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) writeEntry(entry Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		slog.Warn("audit marshal failed", "event", entry.Event, "error", err)
		return
	}
	if _, err := w.logger.Write(append(data, '\n')); err != nil {
		slog.Warn("audit write failed", "error", err)
	}
}

// Close flushes queued entries and closes the file.
func (w *Writer) Close() error {
	w.once.Do(func() { close(w.done) })
	w.wg.Wait()
	return w.logger.Close()
}
