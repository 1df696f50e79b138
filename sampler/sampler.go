package sampler

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/CraigKelly/horseshoe/model"
	"github.com/CraigKelly/horseshoe/rand"
	"github.com/CraigKelly/horseshoe/trace"
)

// Errors returned by Sample. Divergences and low acceptance are not errors:
// they are recorded in the trace.
var (
	ErrInvalidOption  = errors.New("invalid sampler option")
	ErrInitialization = errors.New("initialization failed")
)

// Phase of an iteration
type Phase int

// Tuning iterations adapt the step size and metric; Draw iterations are kept
const (
	Tune Phase = iota
	Draw
)

func (p Phase) String() string {
	if p == Tune {
		return "tune"
	}
	return "draw"
}

// Iteration describes one completed transition of one chain
type Iteration struct {
	Phase Phase       // Tune or Draw
	Index int         // Zero-based index within the phase
	Stats trace.Stats // Sampler stats for the transition
}

// An Observer is told about every completed iteration. Observe is called from
// the chain goroutines, so implementations must be safe for concurrent use.
type Observer interface {
	Observe(chain int, it Iteration)
}

// Options control a sampling run. Start from DefaultOptions: several zero
// values are invalid.
type Options struct {
	Draws           int     // Post-tuning draws kept per chain
	Tune            int     // Tuning iterations per chain
	TargetAccept    float64 // Target mean acceptance for step size adaptation
	Chains          int     // Independent chains
	Cores           int     // Maximum chains running at once
	Seed            int64   // Master seed; chain seeds are derived from it
	MaxTreeDepth    int     // Maximum trajectory doublings
	MaxEnergyError  float64 // Energy error that marks a divergence
	InitAttempts    int     // Random starting points tried per chain
	InitJitter      float64 // Starting point is perturbed by Uniform(-InitJitter, InitJitter)
	InitialStepSize float64 // Step size before the initial search
	AdaptMetric     bool    // Adapt a diagonal mass matrix during tuning
	KeepWarmup      bool    // Retain tuning draws in the trace

	Logger   *zerolog.Logger // nil means no logging
	Observer Observer        // nil means no observer
}

// DefaultOptions matches the defaults of the reference workflow:
// 2000 draws after 1000 tuning steps with a 0.9 acceptance target on one chain.
func DefaultOptions() Options {
	return Options{
		Draws:           2000,
		Tune:            1000,
		TargetAccept:    0.9,
		Chains:          1,
		Cores:           1,
		Seed:            1,
		MaxTreeDepth:    10,
		MaxEnergyError:  1000,
		InitAttempts:    100,
		InitJitter:      1,
		InitialStepSize: 1,
		AdaptMetric:     true,
	}
}

// Validate returns an ErrInvalidOption error describing the first problem
func (o Options) Validate() error {
	switch {
	case o.Draws < 1:
		return errors.Wrapf(ErrInvalidOption, "draws must be >= 1, got %d", o.Draws)
	case o.Tune < 0:
		return errors.Wrapf(ErrInvalidOption, "tune must be >= 0, got %d", o.Tune)
	case !(o.TargetAccept > 0 && o.TargetAccept < 1):
		return errors.Wrapf(ErrInvalidOption, "target_accept must be in (0,1), got %v", o.TargetAccept)
	case o.Chains < 1:
		return errors.Wrapf(ErrInvalidOption, "chains must be >= 1, got %d", o.Chains)
	case o.Cores < 1:
		return errors.Wrapf(ErrInvalidOption, "cores must be >= 1, got %d", o.Cores)
	case o.MaxTreeDepth < 1:
		return errors.Wrapf(ErrInvalidOption, "max tree depth must be >= 1, got %d", o.MaxTreeDepth)
	case !(o.MaxEnergyError > 0):
		return errors.Wrapf(ErrInvalidOption, "max energy error must be > 0, got %v", o.MaxEnergyError)
	case o.InitAttempts < 1:
		return errors.Wrapf(ErrInvalidOption, "init attempts must be >= 1, got %d", o.InitAttempts)
	case o.InitJitter < 0:
		return errors.Wrapf(ErrInvalidOption, "init jitter must be >= 0, got %v", o.InitJitter)
	case !(o.InitialStepSize > 0):
		return errors.Wrapf(ErrInvalidOption, "initial step size must be > 0, got %v", o.InitialStepSize)
	}
	return nil
}

func (o Options) logger() zerolog.Logger {
	if o.Logger == nil {
		return zerolog.Nop()
	}
	return *o.Logger
}

// Sample runs NUTS on m and returns the sealed trace.
//
// Chains run independently, at most Cores at a time, each on its own clone of
// m and its own generator seeded from Seed, so a run is reproducible for a
// given Seed regardless of Cores. If ctx is cancelled, every chain stops
// after its current iteration and the partial trace is returned along with
// the context's error. Any other chain failure aborts the run and no trace is
// returned.
func Sample(ctx context.Context, m model.Model, opts Options) (*trace.Trace, error) {
	if m == nil {
		return nil, errors.Wrap(ErrInvalidOption, "a model is required")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := model.CheckParams(m.Params()); err != nil {
		return nil, errors.Wrap(err, "Model has an invalid parameter layout")
	}
	if model.ParamsDim(m.Params()) != m.Dim() {
		return nil, errors.Errorf("Model params cover %d coordinates but Dim is %d", model.ParamsDim(m.Params()), m.Dim())
	}

	log := opts.logger()

	master, err := rand.NewGenerator(opts.Seed)
	if err != nil {
		return nil, err
	}
	seeds := master.Split(opts.Chains)

	tr := trace.New(m.Params(), opts.Chains)

	// Clone up front so nothing touches m from the chain goroutines
	targets := make([]model.Model, opts.Chains)
	for i := range targets {
		targets[i] = m.Clone()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.Info().
		Int("chains", opts.Chains).
		Int("cores", opts.Cores).
		Int("tune", opts.Tune).
		Int("draws", opts.Draws).
		Float64("target_accept", opts.TargetAccept).
		Int("dim", m.Dim()).
		Msg("Sampling started")

	sem := make(chan struct{}, opts.Cores)
	errs := make([]error, opts.Chains)
	var wg sync.WaitGroup

	for i := 0; i < opts.Chains; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-runCtx.Done():
				errs[i] = runCtx.Err()
				return
			}
			defer func() { <-sem }()

			ch, err := NewChain(i, targets[i], seeds[i], tr, opts)
			if err == nil {
				err = ch.Run(runCtx)
			}
			errs[i] = err

			if err != nil && !isContextErr(err) {
				cancel() // fatal for the whole run
			}
		}(i)
	}

	wg.Wait()
	tr.Seal()

	for _, err := range errs {
		if err != nil && !isContextErr(err) {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		log.Warn().Int("draws", tr.NumDraws()).Msg("Sampling cancelled")
		return tr, err
	}

	log.Info().
		Int("draws", tr.NumDraws()).
		Int("divergences", tr.Divergences()).
		Int("warnings", len(tr.Warnings)).
		Msg("Sampling complete")

	return tr, nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
