package summary

import (
	"bufio"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
)

type rawEvent struct {
	WallTime float64 `json:"wall_time"`
	Step     int     `json:"step"`
	Tag      string  `json:"tag"`
	Value    any     `json:"value"`
}

func readEvents(t *testing.T, dir string) []rawEvent {
	t.Helper()
	f, err := os.Open(filepath.Join(dir, EventsFile))
	if err != nil {
		t.Fatalf("open events: %v", err)
	}
	defer f.Close()
	var events []rawEvent
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e rawEvent
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("parse event line %q: %v", sc.Text(), err)
		}
		events = append(events, e)
	}
	return events
}

func TestScalarsWritesSortedTaggedEvents(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	err = w.Scalars(50, map[string]float64{
		"mean_mae_train": 0.5,
		"loss_train":     0.25,
	})
	if err != nil {
		t.Fatalf("Scalars: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	events := readEvents(t, dir)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Tag != "loss_train" || events[1].Tag != "mean_mae_train" {
		t.Fatalf("tag order: %s, %s", events[0].Tag, events[1].Tag)
	}
	for _, e := range events {
		if e.Step != 50 {
			t.Fatalf("step %d", e.Step)
		}
		if e.WallTime <= 0 {
			t.Fatalf("wall time %g", e.WallTime)
		}
	}
	if events[0].Value.(float64) != 0.25 {
		t.Fatalf("loss_train value %v", events[0].Value)
	}
}

func TestScalarsEncodesInfinity(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	if err := w.Scalars(5, map[string]float64{"loss_best": math.Inf(1)}); err != nil {
		t.Fatalf("Scalars: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	events := readEvents(t, dir)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if s, ok := events[0].Value.(string); !ok || s != "inf" {
		t.Fatalf("value %v", events[0].Value)
	}
}

func TestWriterAppendsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.Scalars(1, map[string]float64{"a": 1}); err != nil {
		t.Fatalf("Scalars: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	w2, err := NewWriter(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := w2.Scalars(2, map[string]float64{"a": 2}); err != nil {
		t.Fatalf("Scalars: %v", err)
	}
	if err := w2.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	events := readEvents(t, dir)
	if len(events) != 2 || events[0].Step != 1 || events[1].Step != 2 {
		t.Fatalf("events %+v", events)
	}
}
