package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/propnet-ml/propnet/internal/checkpoint"
	"github.com/propnet-ml/propnet/internal/runinfo"
	"github.com/propnet-ml/propnet/internal/training"
)

// #region main

func main() {
	dir := flag.String("dir", "", "run directory to inspect")
	last := flag.Int("last", 20, "show N most recent metric rows")
	flag.Parse()

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --dir path/to/run [--last N]")
		os.Exit(2)
	}

	if err := run(*dir, *last); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(dir string, last int) error {
	logDir := filepath.Join(dir, "logs")

	if err := printBest(filepath.Join(dir, "best", "best_loss.json")); err != nil {
		return err
	}
	if err := printCheckpoints(logDir); err != nil {
		return err
	}
	return printMetrics(logDir, dir, last)
}

// #endregion main

// #region best

func printBest(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("best: no record yet")
			return nil
		}
		return fmt.Errorf("read best record: %w", err)
	}
	var flat map[string]any
	if err := json.Unmarshal(raw, &flat); err != nil {
		return fmt.Errorf("parse best record: %w", err)
	}
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Println("best:")
	for _, k := range keys {
		fmt.Printf("  %-16s %v\n", k, flat[k])
	}
	return nil
}

// #endregion best

// #region checkpoints

func printCheckpoints(logDir string) error {
	steps, err := checkpoint.NewManager(logDir, checkpoint.DefaultMaxToKeep).Steps()
	if err != nil {
		return err
	}
	fmt.Printf("checkpoints: %v\n", steps)
	return nil
}

// #endregion checkpoints

// #region metrics

func printMetrics(logDir, dir string, last int) error {
	dbPath := filepath.Join(logDir, training.RunInfoFile)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("metrics: no run-info database yet")
		return nil
	}
	store, err := runinfo.NewStore(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.Runs()
	if err != nil {
		return err
	}
	var runID string
	for _, r := range runs {
		if r.Directory == dir {
			runID = r.RunID
			break
		}
	}
	if runID == "" && len(runs) > 0 {
		// The directory may have been moved; a run database holds one run.
		runID = runs[0].RunID
	}
	if runID == "" {
		fmt.Println("metrics: no tracked run")
		return nil
	}

	rows, err := store.Metrics(runID, last)
	if err != nil {
		return err
	}
	fmt.Printf("%-10s %-16s %-16s %-18s %-18s\n",
		"step", "mean_mae_train", "mean_mae_best", "mean_log_mae_train", "mean_log_mae_best")
	for _, r := range rows {
		fmt.Printf("%-10d %-16.6f %-16.6f %-18.6f %-18.6f\n",
			r.Step, r.MeanMAETrain, r.MeanMAEBest, r.MeanLogMAETrain, r.MeanLogMAEBest)
	}
	return nil
}

// #endregion metrics
