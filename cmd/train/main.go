package main

import (
	"flag"
	"log"
	"strings"

	"github.com/propnet-ml/propnet/internal/config"
	"github.com/propnet-ml/propnet/internal/training"
)

// #region main

func main() {
	cfg := parseFlags()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	h, err := training.New(cfg)
	if err != nil {
		log.Fatalf("initialize run: %v", err)
	}
	defer h.Close()

	res, err := h.Run()
	if err != nil {
		log.Fatalf("training failed: %v", err)
	}

	log.Printf("finished: loss=%.6f mean_log_mae=%.6f best_loss=%.6f best_mean_log_mae=%.6f best_step=%d",
		res.Loss, res.MeanLogMAE, res.BestLoss, res.BestMeanLogMAE, res.BestStep)
}

// #endregion main

// #region flags

func parseFlags() config.RunConfig {
	var cfg config.RunConfig
	var targets string

	flag.IntVar(&cfg.NumFeatures, "num_features", 0, "width of the hidden representation")
	flag.IntVar(&cfg.NumBlocks, "num_blocks", 0, "number of interaction blocks")
	flag.IntVar(&cfg.NumBilinear, "num_bilinear", 0, "inner width of each interaction block")
	flag.IntVar(&cfg.NumSpherical, "num_spherical", 0, "number of angular basis functions")
	flag.IntVar(&cfg.NumRadial, "num_radial", 0, "number of radial basis functions")
	flag.IntVar(&cfg.NumBeforeSkip, "num_before_skip", 0, "dense layers before the skip connection")
	flag.IntVar(&cfg.NumAfterSkip, "num_after_skip", 0, "dense layers after the skip connection")
	flag.IntVar(&cfg.NumDenseOutput, "num_dense_output", 0, "dense layers in the output head")
	flag.Float64Var(&cfg.Cutoff, "cutoff", 0, "pairwise interaction cutoff radius")
	flag.IntVar(&cfg.EnvelopeExponent, "envelope_exponent", 0, "exponent of the cutoff envelope")

	flag.StringVar(&cfg.Dataset, "dataset", "", "path to the molecule file")
	flag.IntVar(&cfg.NumTrain, "num_train", 0, "training split size")
	flag.IntVar(&cfg.NumValid, "num_valid", 0, "validation split size")
	flag.Int64Var(&cfg.DataSeed, "data_seed", 0, "seed for the split shuffle")
	flag.IntVar(&cfg.BatchSize, "batch_size", 0, "molecules per batch")
	flag.StringVar(&targets, "targets", "", "comma-separated target property names")

	flag.IntVar(&cfg.MaxSteps, "max_steps", 0, "total training steps")
	flag.Float64Var(&cfg.LearningRate, "learning_rate", 0, "peak learning rate")
	flag.Float64Var(&cfg.EMADecay, "ema_decay", 0, "decay of the parameter shadow average")
	flag.IntVar(&cfg.DecaySteps, "decay_steps", 0, "learning-rate decay horizon")
	flag.IntVar(&cfg.WarmupSteps, "warmup_steps", 0, "linear warmup length")
	flag.Float64Var(&cfg.DecayRate, "decay_rate", 0, "exponential decay factor")

	flag.IntVar(&cfg.SummaryInterval, "summary_interval", 0, "steps between training summaries")
	flag.IntVar(&cfg.ValidationInterval, "validation_interval", 0, "steps between validation passes")
	flag.IntVar(&cfg.SaveInterval, "save_interval", 0, "steps between rotating checkpoints")
	flag.StringVar(&cfg.Restart, "restart", "", "existing run directory to resume")
	flag.StringVar(&cfg.Comment, "comment", "", "tag embedded in the run directory name")
	flag.StringVar(&cfg.LogDir, "logdir", "", "parent directory for new run directories")

	flag.Parse()

	for _, k := range strings.Split(targets, ",") {
		if k = strings.TrimSpace(k); k != "" {
			cfg.Targets = append(cfg.Targets, k)
		}
	}
	return cfg
}

// #endregion flags
