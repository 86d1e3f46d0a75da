// Package training drives the step-based training loop: batch updates,
// periodic checkpointing, EMA-swapped validation passes, and summary/metric
// emission.
package training

import (
	"fmt"
	"log"
	"math"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"github.com/propnet-ml/propnet/internal/best"
	"github.com/propnet-ml/propnet/internal/checkpoint"
	"github.com/propnet-ml/propnet/internal/config"
	"github.com/propnet-ml/propnet/internal/dataset"
	"github.com/propnet-ml/propnet/internal/model"
	"github.com/propnet-ml/propnet/internal/rundir"
	"github.com/propnet-ml/propnet/internal/runinfo"
	"github.com/propnet-ml/propnet/internal/stats"
	"github.com/propnet-ml/propnet/internal/summary"
	"github.com/propnet-ml/propnet/internal/trainer"
)

// maxGradNorm bounds the global gradient norm in every update.
const maxGradNorm = 1000

// RunInfoFile is the experiment-tracking database inside the run's log
// directory.
const RunInfoFile = "runinfo.db"

// #region result

// Result is the loop's final report: the last training metrics together with
// the best validation result ever observed.
type Result struct {
	Loss           float64
	MeanLogMAE     float64
	BestLoss       float64
	BestMeanLogMAE float64
	BestStep       int
}

// #endregion result

// #region periodic

// periodic is one cross-cutting timer compared against the monotonic step
// counter. Save, validation, and summary concerns each own one.
type periodic struct {
	interval int
}

func (p periodic) due(step int) bool {
	return p.interval > 0 && step%p.interval == 0
}

// #endregion periodic

// #region averages

// averages bundles the running error accumulators for one branch (training
// window or validation pass).
type averages struct {
	loss    stats.Average
	meanMAE stats.Average
	mae     *stats.VectorAverage
}

func newAverages(targets int) *averages {
	return &averages{mae: stats.NewVectorAverage(targets)}
}

func (a *averages) add(loss, meanMAE float64, mae []float64) {
	a.loss.Add(loss)
	a.meanMAE.Add(meanMAE)
	a.mae.Add(mae)
}

func (a *averages) reset() {
	a.loss.Reset()
	a.meanMAE.Reset()
	a.mae.Reset()
}

// #endregion averages

// #region harness

// Harness wires the run directory, data streams, model, trainer, checkpoint
// manager, best tracker, and metric sinks for one training run.
type Harness struct {
	cfg config.RunConfig
	dir rundir.Dir

	trainStream *dataset.Stream
	validStream *dataset.Stream

	net   *model.Net
	tr    *trainer.Trainer
	ckpts *checkpoint.Manager
	best  *best.Tracker
	sum   *summary.Writer
	info  *runinfo.Store
	runID string

	startStep int
}

// New builds a harness from the config: it resolves and creates the run
// directory, loads the dataset, initializes model and trainer, and restores
// the latest checkpoint when resuming.
func New(cfg config.RunConfig) (*Harness, error) {
	dir, err := rundir.Resolve(cfg)
	if err != nil {
		return nil, err
	}
	if err := dir.Create(); err != nil {
		return nil, err
	}

	log.Printf("run directory: %s", dir.Root)
	log.Print("load dataset")
	container, err := dataset.NewContainer(cfg.Dataset, cfg.Cutoff, cfg.Targets)
	if err != nil {
		return nil, err
	}
	provider, err := dataset.NewProvider(container, cfg.NumTrain, cfg.NumValid, cfg.BatchSize, cfg.DataSeed, true)
	if err != nil {
		return nil, err
	}
	trainStream, err := provider.Stream("train")
	if err != nil {
		return nil, err
	}
	validStream, err := provider.Stream("val")
	if err != nil {
		return nil, err
	}

	log.Print("initialize model")
	net, err := model.New(model.Config{
		NumFeatures:      cfg.NumFeatures,
		NumBlocks:        cfg.NumBlocks,
		NumBilinear:      cfg.NumBilinear,
		NumSpherical:     cfg.NumSpherical,
		NumRadial:        cfg.NumRadial,
		NumBeforeSkip:    cfg.NumBeforeSkip,
		NumAfterSkip:     cfg.NumAfterSkip,
		NumDenseOutput:   cfg.NumDenseOutput,
		Cutoff:           cfg.Cutoff,
		EnvelopeExponent: cfg.EnvelopeExponent,
		NumTargets:       len(cfg.Targets),
		Seed:             cfg.DataSeed,
	})
	if err != nil {
		return nil, err
	}

	log.Print("prepare training")
	tracker, err := best.Load(dir.BestLossFile(), cfg.Targets)
	if err != nil {
		return nil, err
	}
	tr := trainer.New(net, cfg.LearningRate, cfg.WarmupSteps, cfg.DecaySteps, cfg.DecayRate, cfg.EMADecay, maxGradNorm)

	ckpts := checkpoint.NewManager(dir.LogDir(), checkpoint.DefaultMaxToKeep)
	startStep, err := ckpts.Restore(net, tr)
	if err != nil {
		return nil, err
	}
	if startStep > 0 {
		log.Printf("restored checkpoint at step %d", startStep)
	}

	sum, err := summary.NewWriter(dir.LogDir())
	if err != nil {
		return nil, err
	}
	info, err := runinfo.NewStore(filepath.Join(dir.LogDir(), RunInfoFile))
	if err != nil {
		sum.Close()
		return nil, err
	}
	runID, err := info.EnsureRun(dir.Root, cfg.Comment)
	if err != nil {
		sum.Close()
		info.Close()
		return nil, err
	}

	return &Harness{
		cfg:         cfg,
		dir:         dir,
		trainStream: trainStream,
		validStream: validStream,
		net:         net,
		tr:          tr,
		ckpts:       ckpts,
		best:        tracker,
		sum:         sum,
		info:        info,
		runID:       runID,
		startStep:   startStep,
	}, nil
}

// Dir returns the resolved run directory.
func (h *Harness) Dir() rundir.Dir { return h.dir }

// StartStep returns the step the loop resumes from (0 for a fresh run).
func (h *Harness) StartStep() int { return h.startStep }

// Close flushes and closes the metric sinks.
func (h *Harness) Close() error {
	infoErr := h.info.Close()
	if err := h.sum.Close(); err != nil {
		return err
	}
	return infoErr
}

// #endregion harness

// #region run

// Run executes the loop from the resumed step through MaxSteps. Termination
// is purely step-count driven; every error is fatal to the run.
func (h *Harness) Run() (Result, error) {
	cfg := h.cfg
	stepsPerEpoch := cfg.StepsPerEpoch()
	save := periodic{cfg.SaveInterval}
	validate := periodic{cfg.ValidationInterval}
	summarize := periodic{cfg.SummaryInterval}

	train := newAverages(len(cfg.Targets))
	lastLoss := math.NaN()
	lastMeanLogMAE := math.NaN()
	emitted := false

	log.Print("start training")
	step := h.startStep
	for step < cfg.MaxSteps {
		step++
		epoch := step / stepsPerEpoch

		loss, meanMAE, mae, err := h.trainOnBatch()
		if err != nil {
			return Result{}, fmt.Errorf("step %d: %w", step, err)
		}
		train.add(loss, meanMAE, mae)

		if save.due(step) {
			if err := h.ckpts.Save(step, h.net, h.tr); err != nil {
				return Result{}, err
			}
		}

		if validate.due(step) {
			if err := h.validationPass(step); err != nil {
				return Result{}, err
			}
		}

		if summarize.due(step) && step > 0 {
			loss, meanLogMAE, err := h.summarizeTraining(step, epoch, train)
			if err != nil {
				return Result{}, err
			}
			lastLoss, lastMeanLogMAE = loss, meanLogMAE
			emitted = true
		}
	}

	if !emitted {
		// MaxSteps below the summary interval: report the current window.
		lastLoss = train.loss.Value()
		lastMeanLogMAE = stats.MeanLog(train.mae.Values())
	}
	bestRec := h.best.Record()
	return Result{
		Loss:           lastLoss,
		MeanLogMAE:     lastMeanLogMAE,
		BestLoss:       bestRec.Loss,
		BestMeanLogMAE: bestRec.MeanLogMAE,
		BestStep:       bestRec.Step,
	}, nil
}

// trainOnBatch draws the next training batch, evaluates it, and applies one
// weight update.
func (h *Harness) trainOnBatch() (loss, meanMAE float64, mae []float64, err error) {
	b := h.trainStream.Next()
	preds := h.net.Forward(b, true)
	meanMAE, mae = stats.MAE(preds, b.Targets)
	loss = meanMAE
	grads := h.net.Gradients(maeGradient(preds, b.Targets))
	if err := h.tr.UpdateWeights(loss, grads); err != nil {
		return 0, 0, nil, err
	}
	return loss, meanMAE, mae, nil
}

// testOnBatch evaluates one batch without touching the weights.
func (h *Harness) testOnBatch(s *dataset.Stream) (loss, meanMAE float64, mae []float64) {
	b := s.Next()
	preds := h.net.Forward(b, false)
	meanMAE, mae = stats.MAE(preds, b.Targets)
	loss = meanMAE
	return loss, meanMAE, mae
}

// maeGradient is dLoss/dPreds for loss = mean over targets of per-target MAE:
// sign(pred-truth) / (batch * targets).
func maeGradient(preds, truth *mat.Dense) *mat.Dense {
	rows, cols := preds.Dims()
	g := mat.NewDense(rows, cols, nil)
	scale := 1 / float64(rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			switch delta := preds.At(i, j) - truth.At(i, j); {
			case delta > 0:
				g.Set(i, j, scale)
			case delta < 0:
				g.Set(i, j, -scale)
			}
		}
	}
	return g
}

// #endregion run

// #region validation

// validationPass runs the EMA-swapped validation sub-pass and emits the
// validation summary. The parameter restore is deferred so it runs even if
// validation fails mid-way.
func (h *Harness) validationPass(step int) error {
	h.tr.SaveVariableBackups()
	h.tr.LoadAveragedVariables()
	defer h.tr.RestoreVariableBackups()

	results := make(map[string]float64)
	if h.cfg.NumValid > 0 {
		valid := newAverages(len(h.cfg.Targets))
		for i := 0; i < h.cfg.ValidationBatches(); i++ {
			loss, meanMAE, mae := h.testOnBatch(h.validStream)
			valid.add(loss, meanMAE, mae)
		}
		maeVec := valid.mae.Values()
		results["loss_valid"] = valid.loss.Value()
		results["mean_mae_valid"] = valid.meanMAE.Value()
		results["mean_log_mae_valid"] = stats.MeanLog(maeVec)
		for i, k := range h.cfg.Targets {
			results[k+"_valid"] = maeVec[i]
		}

		improved, err := h.best.Observe(step, results["loss_valid"], results["mean_mae_valid"], results["mean_log_mae_valid"], maeVec)
		if err != nil {
			return err
		}
		if improved {
			if err := h.net.SaveWeights(h.dir.BestDir()); err != nil {
				return err
			}
		}
	}

	bestRec := h.best.Record()
	results["loss_best"] = bestRec.Loss
	results["mean_log_mae_best"] = bestRec.MeanLogMAE
	return h.sum.Scalars(step, results)
}

// #endregion validation

// #region summarize

// summarizeTraining emits the training-window summary, resets the window,
// flushes the sink, and appends the experiment-tracking row.
func (h *Harness) summarizeTraining(step, epoch int, train *averages) (loss, meanLogMAE float64, err error) {
	maeVec := train.mae.Values()
	results := map[string]float64{
		"loss_train":     train.loss.Value(),
		"mean_mae_train": train.meanMAE.Value(),
		// Mean log MAE over the per-target vector; the aggregate scalar
		// would collapse the outer mean to a no-op.
		"mean_log_mae_train": stats.MeanLog(maeVec),
	}
	for i, k := range h.cfg.Targets {
		results[k+"_train"] = maeVec[i]
	}
	train.reset()

	if err := h.sum.Scalars(step, results); err != nil {
		return 0, 0, err
	}
	if err := h.sum.Flush(); err != nil {
		return 0, 0, err
	}

	bestRec := h.best.Record()
	err = h.info.AppendMetrics(h.runID, runinfo.MetricRow{
		Step:            step,
		MeanMAETrain:    results["mean_mae_train"],
		MeanMAEBest:     bestRec.MeanMAE,
		MeanLogMAETrain: results["mean_log_mae_train"],
		MeanLogMAEBest:  bestRec.MeanLogMAE,
	})
	if err != nil {
		return 0, 0, err
	}

	log.Printf("%d/%d (epoch %d): loss: train=%.6f, best=%.6f; logMAE: train=%.6f, best=%.6f",
		step, h.cfg.MaxSteps, epoch+1,
		results["loss_train"], bestRec.Loss,
		results["mean_log_mae_train"], bestRec.MeanLogMAE)

	return results["loss_train"], results["mean_log_mae_train"], nil
}

// #endregion summarize
