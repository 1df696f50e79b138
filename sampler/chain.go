package sampler

import (
	"context"
	"fmt"
	"math"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/CraigKelly/horseshoe/buffer"
	"github.com/CraigKelly/horseshoe/model"
	"github.com/CraigKelly/horseshoe/rand"
	"github.com/CraigKelly/horseshoe/trace"
)

// acceptWindow is the number of trailing tuning iterations averaged for the
// end of tuning acceptance check
const acceptWindow = 100

// driftLimit is the largest gap between the mean acceptance of the older and
// newer halves of the window before tuning is reported as unsettled
const driftLimit = 0.25

// Chain runs one NUTS Markov chain: tuning followed by draws, written to its
// slot in a shared trace.
type Chain struct {
	ID     int
	Target model.Model
	Gen    *rand.Generator
	Out    *trace.Chain

	tr      *trace.Trace
	opts    Options
	kernel  *nuts
	current *point
	log     zerolog.Logger
}

// NewChain returns a chain ready to run. It picks a starting point by
// jittering the model's initial point until the log density and its gradient
// are finite, trying at most opts.InitAttempts times.
func NewChain(id int, m model.Model, seed int64, tr *trace.Trace, opts Options) (*Chain, error) {
	if id < 0 || id >= len(tr.Chains) {
		return nil, errors.Wrapf(ErrInvalidOption, "chain %d not in trace with %d chains", id, len(tr.Chains))
	}

	gen, err := rand.NewGenerator(seed)
	if err != nil {
		return nil, errors.Wrapf(err, "Could not create generator for chain %d", id)
	}

	log := opts.logger().With().Int("chain", id).Logger()

	ch := &Chain{
		ID:     id,
		Target: m,
		Gen:    gen,
		Out:    tr.Chains[id],
		tr:     tr,
		opts:   opts,
		kernel: newNUTS(m, gen, opts),
		log:    log,
	}
	ch.Out.Seed = seed

	if err := ch.initialize(); err != nil {
		return nil, err
	}
	return ch, nil
}

func (c *Chain) initialize() error {
	dim := c.Target.Dim()
	base := make([]float64, dim)
	c.Target.InitialPoint(base)

	z := newPoint(dim)
	for attempt := 1; attempt <= c.opts.InitAttempts; attempt++ {
		for i, v := range base {
			z.q[i] = v + c.Gen.Uniform(-c.opts.InitJitter, c.opts.InitJitter)
		}
		z.logp = c.Target.LogProbGrad(z.q, z.grad)

		if !math.IsInf(z.logp, 0) && !math.IsNaN(z.logp) && finite(z.grad) {
			c.current = z
			c.log.Debug().Int("attempt", attempt).Float64("logp", z.logp).Msg("Chain initialized")
			return nil
		}
	}

	return errors.Wrapf(ErrInitialization,
		"chain %d: no finite log density or gradient after %d attempts", c.ID, c.opts.InitAttempts)
}

// Run performs opts.Tune tuning iterations followed by opts.Draws draws. It
// checks ctx between iterations; on cancellation the draws completed so far
// stay in the trace and ctx.Err() is returned.
func (c *Chain) Run(ctx context.Context) error {
	opts := c.opts
	dim := c.Target.Dim()
	k := c.kernel

	c.log.Debug().Int("tune", opts.Tune).Int("draws", opts.Draws).Int64("seed", c.Out.Seed).Msg("Chain started")

	stepAdapt := newStepSizeAdapter(opts.TargetAccept)
	metricAdapt := newMetricAdapter(opts.Tune, dim, opts.AdaptMetric)

	// Without tuning the initial step size is used as given
	if opts.Tune > 0 {
		k.initStepSize(c.current)
		stepAdapt.restart(k.stepSize)
	}

	winSize := acceptWindow
	if opts.Tune < winSize {
		winSize = opts.Tune
	}
	var accepts *buffer.CircularFloat
	if winSize >= 2 {
		accepts = buffer.NewCircularFloat(winSize)
	}

	constrained := make([]float64, dim)

	for i := 0; i < opts.Tune; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		stats := k.transition(c.current)
		if accepts != nil {
			accepts.Add(stats.AcceptStat)
		}

		k.stepSize = stepAdapt.learn(stats.AcceptStat)
		if metricAdapt.learn(k.invMass, c.current.q) {
			k.initStepSize(c.current)
			stepAdapt.restart(k.stepSize)
			c.log.Debug().Int("iteration", i).Float64("step_size", k.stepSize).Msg("Metric updated")
		}

		if opts.KeepWarmup {
			c.Target.Constrain(c.current.q, constrained)
			if err := c.Out.AppendWarmup(constrained, stats); err != nil {
				return err
			}
		}
		c.notify(Tune, i, stats)
	}

	if opts.Tune > 0 {
		k.stepSize = stepAdapt.final()
		c.log.Debug().Float64("step_size", k.stepSize).Msg("Tuning complete")

		if accepts != nil {
			c.checkTuning(accepts)
		}
	}

	for i := 0; i < opts.Draws; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		stats := k.transition(c.current)
		c.Target.Constrain(c.current.q, constrained)
		if err := c.Out.Append(constrained, stats); err != nil {
			return err
		}
		c.notify(Draw, i, stats)
	}

	c.Out.StepSize = k.stepSize
	c.Out.InvMass = append([]float64(nil), k.invMass...)
	c.checkDraws()

	c.log.Debug().
		Int("draws", c.Out.Len()).
		Int("divergences", c.Out.Divergences()).
		Msg("Chain complete")
	return nil
}

// checkTuning records warnings about the acceptance window at the end of
// tuning: a mean far below the target, or halves that disagree
func (c *Chain) checkTuning(accepts *buffer.CircularFloat) {
	target := c.opts.TargetAccept
	if mean := accepts.Mean(); mean < 0.5*target {
		c.warn(trace.WarnLowAcceptance, fmt.Sprintf(
			"mean acceptance %.3f over the last %d tuning steps is far below the target %.2f",
			mean, accepts.Count, target))
	}

	first, second, ok := acceptDrift(accepts)
	if ok && math.Abs(second-first) > driftLimit {
		c.warn(trace.WarnAdaptation, fmt.Sprintf(
			"acceptance moved from %.3f to %.3f over the last %d of %d tuning steps; consider a longer tune",
			first, second, accepts.BufSize, accepts.TotalSeen))
	}
}

// acceptDrift returns the mean acceptance of the older and newer halves of a
// full window
func acceptDrift(w *buffer.CircularFloat) (first, second float64, ok bool) {
	if !w.Full() {
		return 0, 0, false
	}

	half := float64(w.BufSize / 2)
	for iter := w.FirstHalf(); iter.Next(); {
		first += iter.Value()
	}
	for iter := w.SecondHalf(); iter.Next(); {
		second += iter.Value()
	}
	return first / half, second / half, true
}

// checkDraws records warnings about the post-tuning draws
func (c *Chain) checkDraws() {
	n := len(c.Out.Stats)
	if n == 0 {
		return
	}

	var acc float64
	maxDepth := 0
	for _, s := range c.Out.Stats {
		acc += s.AcceptStat
		if s.TreeDepth >= c.opts.MaxTreeDepth {
			maxDepth++
		}
	}
	acc /= float64(n)

	if acc < c.opts.TargetAccept-0.1 {
		c.warn(trace.WarnLowAcceptance, fmt.Sprintf(
			"mean acceptance %.3f is below the target %.2f; consider a higher target_accept", acc, c.opts.TargetAccept))
	}

	if div := c.Out.Divergences(); div > 0 {
		c.warn(trace.WarnDivergences, fmt.Sprintf("%d divergent transitions after tuning", div))
	}

	if float64(maxDepth) > 0.05*float64(n) {
		c.warn(trace.WarnTreeDepth, fmt.Sprintf(
			"%d of %d transitions hit the maximum tree depth %d", maxDepth, n, c.opts.MaxTreeDepth))
	}
}

func (c *Chain) warn(kind, msg string) {
	c.tr.AddWarning(trace.Warning{Chain: c.ID, Kind: kind, Message: msg})
	c.log.Warn().Str("kind", kind).Msg(msg)
}

func (c *Chain) notify(ph Phase, idx int, s trace.Stats) {
	if c.opts.Observer != nil {
		c.opts.Observer.Observe(c.ID, Iteration{Phase: ph, Index: idx, Stats: s})
	}
}

func finite(v []float64) bool {
	for _, x := range v {
		if math.IsInf(x, 0) || math.IsNaN(x) {
			return false
		}
	}
	return true
}
