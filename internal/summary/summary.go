// Package summary appends timestamped scalar samples to a run's event stream.
package summary

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"
)

// EventsFile is the name of the stream inside the run's log directory.
const EventsFile = "events.jsonl"

// #region event

// Event is one scalar sample: a tag/value pair keyed by the global step and
// stamped with wall time.
type Event struct {
	WallTime float64 `json:"wall_time"`
	Step     int     `json:"step"`
	Tag      string  `json:"tag"`
	Value    float64 `json:"value"`
}

// MarshalJSON encodes non-finite values as strings; metrics like loss_best
// are +Inf until the first validation improvement.
func (e Event) MarshalJSON() ([]byte, error) {
	var value string
	switch {
	case math.IsInf(e.Value, 1):
		value = `"inf"`
	case math.IsInf(e.Value, -1):
		value = `"-inf"`
	case math.IsNaN(e.Value):
		value = `"nan"`
	default:
		value = strconv.FormatFloat(e.Value, 'g', -1, 64)
	}
	return []byte(fmt.Sprintf(`{"wall_time":%s,"step":%d,"tag":%s,"value":%s}`,
		strconv.FormatFloat(e.WallTime, 'f', 6, 64), e.Step, strconv.Quote(e.Tag), value)), nil
}

// #endregion event

// #region writer

// Writer appends events to <dir>/events.jsonl through a buffered writer.
// Samples are not durable until Flush.
type Writer struct {
	f   *os.File
	buf *bufio.Writer
	now func() time.Time
}

// NewWriter opens the event stream for appending.
func NewWriter(dir string) (*Writer, error) {
	f, err := os.OpenFile(filepath.Join(dir, EventsFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("summary: open event stream: %w", err)
	}
	return &Writer{f: f, buf: bufio.NewWriter(f), now: time.Now}, nil
}

// Scalars writes one event per entry of values, all keyed by step. Keys are
// written in sorted order so the stream is deterministic.
func (w *Writer) Scalars(step int, values map[string]float64) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	wallTime := float64(w.now().UnixNano()) / 1e9
	for _, k := range keys {
		raw, err := Event{WallTime: wallTime, Step: step, Tag: k, Value: values[k]}.MarshalJSON()
		if err != nil {
			return fmt.Errorf("summary: encode %s: %w", k, err)
		}
		if _, err := w.buf.Write(append(raw, '\n')); err != nil {
			return fmt.Errorf("summary: write %s: %w", k, err)
		}
	}
	return nil
}

// Flush forces buffered events to disk.
func (w *Writer) Flush() error {
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("summary: flush: %w", err)
	}
	return nil
}

// Close flushes and closes the stream.
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// #endregion writer
