package rundir

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/propnet-ml/propnet/internal/config"
)

const idChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// #region dir

// Dir is a resolved run directory with its fixed sublayout:
// best/ holds the best checkpoint and best-loss record, logs/ holds rotating
// step checkpoints and the summary stream.
type Dir struct {
	Root string
}

// Resolve returns the run directory for the given config. With Restart unset
// it synthesizes a fresh name embedding the current timestamp, a random
// 8-character disambiguator, the dataset basename and the architecture
// hyperparameters, so two runs with identical config essentially never
// collide. With Restart set, that path is reused verbatim.
func Resolve(cfg config.RunConfig) (Dir, error) {
	if cfg.Restart != "" {
		return Dir{Root: cfg.Restart}, nil
	}
	id, err := randomID(8)
	if err != nil {
		return Dir{}, fmt.Errorf("rundir: generate id: %w", err)
	}
	name := time.Now().Format("20060102_150405") +
		"_" + id +
		"_" + filepath.Base(cfg.Dataset) +
		fmt.Sprintf("_f%d", cfg.NumFeatures) +
		fmt.Sprintf("_bi%d", cfg.NumBilinear) +
		fmt.Sprintf("_sbf%d", cfg.NumSpherical) +
		fmt.Sprintf("_rbf%d", cfg.NumRadial) +
		fmt.Sprintf("_b%d", cfg.NumBlocks) +
		fmt.Sprintf("_nbs%d", cfg.NumBeforeSkip) +
		fmt.Sprintf("_nas%d", cfg.NumAfterSkip) +
		fmt.Sprintf("_no%d", cfg.NumDenseOutput) +
		fmt.Sprintf("_cut%g", cfg.Cutoff) +
		fmt.Sprintf("_env%d", cfg.EnvelopeExponent) +
		fmt.Sprintf("_lr%.2e", cfg.LearningRate) +
		fmt.Sprintf("_dec%.2e", float64(cfg.DecaySteps)) +
		"_" + strings.Join(cfg.Targets, "-") +
		"_" + cfg.Comment
	return Dir{Root: filepath.Join(cfg.LogDir, name)}, nil
}

// #endregion dir

// #region layout

// BestDir returns the directory holding the best checkpoint and record.
func (d Dir) BestDir() string { return filepath.Join(d.Root, "best") }

// LogDir returns the directory holding step checkpoints and summaries.
func (d Dir) LogDir() string { return filepath.Join(d.Root, "logs") }

// BestLossFile returns the path of the best-loss record.
func (d Dir) BestLossFile() string { return filepath.Join(d.BestDir(), "best_loss.json") }

// Create makes the run directory and its subdirectories. Creating an already
// existing directory is not an error, so resume runs pass through unchanged.
func (d Dir) Create() error {
	for _, p := range []string{d.Root, d.BestDir(), d.LogDir()} {
		if err := os.MkdirAll(p, 0o755); err != nil {
			return fmt.Errorf("rundir: create %s: %w", p, err)
		}
	}
	return nil
}

// #endregion layout

// #region id

// randomID draws n characters from idChars using the system CSPRNG.
func randomID(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = idChars[int(b)%len(idChars)]
	}
	return string(out), nil
}

// #endregion id
