package config

import (
	"fmt"
	"math"
)

// #region run-config

// RunConfig is the flat set of hyperparameters for one training run.
// It is constructed once at startup and read-only afterwards.
type RunConfig struct {
	// Architecture
	NumFeatures      int     // width of the hidden representation
	NumBlocks        int     // number of interaction blocks
	NumBilinear      int     // inner width of each interaction block
	NumSpherical     int     // number of angular basis functions
	NumRadial        int     // number of radial basis functions
	NumBeforeSkip    int     // dense layers before the skip connection
	NumAfterSkip     int     // dense layers after the skip connection
	NumDenseOutput   int     // dense layers in the output head
	Cutoff           float64 // pairwise interaction cutoff radius
	EnvelopeExponent int     // exponent of the polynomial cutoff envelope

	// Data
	Dataset   string   // path to the molecule file
	NumTrain  int      // size of the training split
	NumValid  int      // size of the validation split
	DataSeed  int64    // seed for the split shuffle
	BatchSize int      // molecules per batch
	Targets   []string // names of the predicted properties

	// Optimization
	MaxSteps     int     // total training steps
	LearningRate float64 // peak learning rate
	EMADecay     float64 // decay of the parameter shadow average
	DecaySteps   int     // learning-rate decay horizon
	WarmupSteps  int     // linear warmup length
	DecayRate    float64 // exponential decay factor over DecaySteps

	// Logging and persistence
	SummaryInterval    int    // steps between training summaries
	ValidationInterval int    // steps between validation passes
	SaveInterval       int    // steps between rotating checkpoints
	Restart            string // existing run directory to resume, empty for a fresh run
	Comment            string // free-form tag embedded in the run directory name
	LogDir             string // parent directory for new run directories
}

// #endregion run-config

// #region validate

// Validate checks the configuration for values the pipeline cannot run with.
func (c RunConfig) Validate() error {
	if c.NumFeatures <= 0 || c.NumRadial <= 0 || c.NumSpherical <= 0 {
		return fmt.Errorf("config: architecture widths must be positive (features=%d radial=%d spherical=%d)",
			c.NumFeatures, c.NumRadial, c.NumSpherical)
	}
	if c.NumBlocks < 0 || c.NumBeforeSkip < 0 || c.NumAfterSkip < 0 || c.NumDenseOutput < 0 {
		return fmt.Errorf("config: layer counts must be non-negative")
	}
	if c.NumBlocks > 0 && c.NumBilinear <= 0 {
		return fmt.Errorf("config: num_bilinear must be positive when num_blocks > 0")
	}
	if c.Cutoff <= 0 {
		return fmt.Errorf("config: cutoff must be positive, got %g", c.Cutoff)
	}
	if c.EnvelopeExponent <= 0 {
		return fmt.Errorf("config: envelope_exponent must be positive, got %d", c.EnvelopeExponent)
	}
	if c.Dataset == "" {
		return fmt.Errorf("config: dataset path is required")
	}
	if c.NumTrain <= 0 {
		return fmt.Errorf("config: num_train must be positive, got %d", c.NumTrain)
	}
	if c.NumValid < 0 {
		return fmt.Errorf("config: num_valid must be non-negative, got %d", c.NumValid)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("config: batch_size must be positive, got %d", c.BatchSize)
	}
	if len(c.Targets) == 0 {
		return fmt.Errorf("config: at least one target is required")
	}
	for _, k := range c.Targets {
		if k == "" {
			return fmt.Errorf("config: empty target name")
		}
	}
	if c.MaxSteps <= 0 {
		return fmt.Errorf("config: max_steps must be positive, got %d", c.MaxSteps)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("config: learning_rate must be positive, got %g", c.LearningRate)
	}
	if c.EMADecay < 0 || c.EMADecay >= 1 {
		return fmt.Errorf("config: ema_decay must be in [0,1), got %g", c.EMADecay)
	}
	if c.DecaySteps <= 0 || c.DecayRate <= 0 {
		return fmt.Errorf("config: decay schedule must be positive (steps=%d rate=%g)", c.DecaySteps, c.DecayRate)
	}
	if c.WarmupSteps < 0 {
		return fmt.Errorf("config: warmup_steps must be non-negative, got %d", c.WarmupSteps)
	}
	if c.SummaryInterval <= 0 || c.ValidationInterval <= 0 || c.SaveInterval <= 0 {
		return fmt.Errorf("config: intervals must be positive (summary=%d validation=%d save=%d)",
			c.SummaryInterval, c.ValidationInterval, c.SaveInterval)
	}
	if c.Restart == "" && c.LogDir == "" {
		return fmt.Errorf("config: logdir is required for a fresh run")
	}
	return nil
}

// #endregion validate

// #region derived

// StepsPerEpoch returns ceil(NumTrain / BatchSize).
func (c RunConfig) StepsPerEpoch() int {
	return int(math.Ceil(float64(c.NumTrain) / float64(c.BatchSize)))
}

// ValidationBatches returns ceil(NumValid / BatchSize), the number of batches
// drawn per validation pass.
func (c RunConfig) ValidationBatches() int {
	return int(math.Ceil(float64(c.NumValid) / float64(c.BatchSize)))
}

// #endregion derived
