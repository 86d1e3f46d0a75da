// Package best tracks the best validation result seen across a run, persisted
// to a small file so it survives restarts.
package best

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/propnet-ml/propnet/internal/atomicfile"
)

// #region record

// Record is the best-so-far validation result: the aggregate metrics, the per
// target errors, and the step they were observed at.
type Record struct {
	Step       int
	Loss       float64
	MeanMAE    float64
	MeanLogMAE float64
	TargetMAE  map[string]float64
}

// #endregion record

// #region tracker

// Tracker owns the persisted record. Metrics start at +Inf so any real
// validation result improves on them.
type Tracker struct {
	path    string
	targets []string
	rec     Record
}

// Load reads the record at path if one exists. A missing or corrupt file is
// treated as "no prior best": the tracker initializes every metric to +Inf,
// step to 0, and persists that state immediately.
func Load(path string, targets []string) (*Tracker, error) {
	t := &Tracker{path: path, targets: targets}
	raw, err := os.ReadFile(path)
	if err == nil {
		if rec, ok := decode(raw, targets); ok {
			t.rec = rec
			return t, nil
		}
	}
	t.rec = Record{
		Loss:       math.Inf(1),
		MeanMAE:    math.Inf(1),
		MeanLogMAE: math.Inf(1),
		TargetMAE:  make(map[string]float64, len(targets)),
	}
	for _, k := range targets {
		t.rec.TargetMAE[k] = math.Inf(1)
	}
	if err := t.persist(); err != nil {
		return nil, err
	}
	return t, nil
}

// Record returns a copy of the current best record.
func (t *Tracker) Record() Record {
	rec := t.rec
	rec.TargetMAE = make(map[string]float64, len(t.rec.TargetMAE))
	for k, v := range t.rec.TargetMAE {
		rec.TargetMAE[k] = v
	}
	return rec
}

// Observe compares a validation result against the stored best. Only a
// strictly lower mean MAE overwrites and persists the record; ties leave it
// untouched. It reports whether the record improved.
func (t *Tracker) Observe(step int, loss, meanMAE, meanLogMAE float64, targetMAE []float64) (bool, error) {
	if !(meanMAE < t.rec.MeanMAE) {
		return false, nil
	}
	t.rec.Step = step
	t.rec.Loss = loss
	t.rec.MeanMAE = meanMAE
	t.rec.MeanLogMAE = meanLogMAE
	for i, k := range t.targets {
		t.rec.TargetMAE[k] = targetMAE[i]
	}
	if err := t.persist(); err != nil {
		return false, err
	}
	return true, nil
}

// #endregion tracker

// #region persistence

// The on-disk form is a flat key→value map (step, loss, mean_mae,
// mean_log_mae, one key per target). Infinities are encoded as the string
// "inf" since JSON has no literal for them.

func (t *Tracker) persist() error {
	flat := map[string]any{
		"step":         t.rec.Step,
		"loss":         encodeValue(t.rec.Loss),
		"mean_mae":     encodeValue(t.rec.MeanMAE),
		"mean_log_mae": encodeValue(t.rec.MeanLogMAE),
	}
	for _, k := range t.targets {
		flat[k] = encodeValue(t.rec.TargetMAE[k])
	}
	raw, err := json.Marshal(flat)
	if err != nil {
		return fmt.Errorf("best: marshal record: %w", err)
	}
	if err := atomicfile.WriteFile(t.path, raw); err != nil {
		return fmt.Errorf("best: persist record: %w", err)
	}
	return nil
}

func decode(raw []byte, targets []string) (Record, bool) {
	var flat map[string]any
	if err := json.Unmarshal(raw, &flat); err != nil {
		return Record{}, false
	}
	step, ok := flat["step"].(float64)
	if !ok {
		return Record{}, false
	}
	rec := Record{Step: int(step), TargetMAE: make(map[string]float64, len(targets))}
	if rec.Loss, ok = decodeValue(flat["loss"]); !ok {
		return Record{}, false
	}
	if rec.MeanMAE, ok = decodeValue(flat["mean_mae"]); !ok {
		return Record{}, false
	}
	if rec.MeanLogMAE, ok = decodeValue(flat["mean_log_mae"]); !ok {
		return Record{}, false
	}
	for _, k := range targets {
		v, ok := decodeValue(flat[k])
		if !ok {
			return Record{}, false
		}
		rec.TargetMAE[k] = v
	}
	return rec, true
}

func encodeValue(v float64) any {
	switch {
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	case math.IsNaN(v):
		return "nan"
	default:
		return v
	}
}

func decodeValue(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case string:
		switch v {
		case "inf":
			return math.Inf(1), true
		case "-inf":
			return math.Inf(-1), true
		case "nan":
			return math.NaN(), true
		}
	}
	return 0, false
}

// #endregion persistence
