package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/CraigKelly/horseshoe/diag"
	"github.com/CraigKelly/horseshoe/model"
	"github.com/CraigKelly/horseshoe/sampler"
	"github.com/CraigKelly/horseshoe/trace"
)

type fitFlags struct {
	draws        int
	tune         int
	targetAccept float64
	chains       int
	cores        int
	maxTreeDepth int
	keepWarmup   bool
	monitor      string

	traceFile string
	plotFile  string
	vars      []string
}

func newFitCmd(rf *rootFlags) *cobra.Command {
	ff := &fitFlags{}
	df := &dataFlags{}

	cmd := &cobra.Command{
		Use:     "fit",
		Short:   "Sample the Horseshoe posterior and report diagnostics",
		Example: "  horseshoe fit --draws 2000 --tune 1000 --chains 4 --cores 4 --plot trace.png",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sp, err := newStartupParams(cmd, rf)
			if err != nil {
				return err
			}
			ff.apply(cmd, sp)
			df.apply(cmd.Flags(), &sp.cfg.Data)
			if err := sp.cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return Fit(ctx, sp, ff.traceFile, ff.plotFile, ff.vars)
		},
	}

	def := sampler.DefaultOptions()
	fs := cmd.Flags()
	fs.IntVar(&ff.draws, "draws", def.Draws, "Draws kept per chain")
	fs.IntVar(&ff.tune, "tune", def.Tune, "Tuning iterations per chain")
	fs.Float64Var(&ff.targetAccept, "target-accept", def.TargetAccept, "Target mean acceptance for step size adaptation")
	fs.IntVar(&ff.chains, "chains", def.Chains, "Number of chains")
	fs.IntVar(&ff.cores, "cores", def.Cores, "Maximum chains run in parallel")
	fs.IntVar(&ff.maxTreeDepth, "max-tree-depth", def.MaxTreeDepth, "Maximum NUTS tree depth")
	fs.BoolVar(&ff.keepWarmup, "keep-warmup", def.KeepWarmup, "Keep tuning draws in the trace")
	fs.StringVar(&ff.monitor, "monitor", "", "Serve Prometheus metrics on this address (e.g. :8000)")
	fs.StringVar(&ff.traceFile, "out", "", "Write the trace as CSV to this file")
	fs.StringVar(&ff.plotFile, "plot", "", "Write a PNG trace plot to this file")
	fs.StringSliceVar(&ff.vars, "vars", nil, "Variables to summarize and plot (default all)")
	addDataFlags(fs, df, true)

	return cmd
}

func (ff *fitFlags) apply(cmd *cobra.Command, sp *startupParams) {
	fs := cmd.Flags()
	c := &sp.cfg
	override(fs, "draws", func() { c.Draws = ff.draws })
	override(fs, "tune", func() { c.Tune = ff.tune })
	override(fs, "target-accept", func() { c.TargetAccept = ff.targetAccept })
	override(fs, "chains", func() { c.Chains = ff.chains })
	override(fs, "cores", func() { c.Cores = ff.cores })
	override(fs, "max-tree-depth", func() { c.MaxTreeDepth = ff.maxTreeDepth })
	override(fs, "keep-warmup", func() { c.KeepWarmup = ff.keepWarmup })
	override(fs, "monitor", func() { c.MonitorAddr = ff.monitor })
}

// Fit builds the model, samples it, and reports. A cancelled ctx stops
// sampling early; whatever was drawn is still reported before the
// cancellation error is returned.
func Fit(ctx context.Context, sp *startupParams, traceFile, plotFile string, vars []string) error {
	ds, m, err := sp.buildModel()
	if err != nil {
		return err
	}

	opts := sp.cfg.SamplerOptions()
	opts.Logger = &sp.log

	if sp.cfg.MonitorAddr != "" {
		mon := newMonitor(sp.log)
		if err := mon.Start(sp.cfg.MonitorAddr); err != nil {
			return err
		}
		defer mon.Stop()
		opts.Observer = mon
	}

	start := time.Now()
	tr, sampleErr := sampler.Sample(ctx, m, opts)
	if tr == nil {
		return sampleErr
	}
	sp.log.Info().Dur("elapsed", time.Since(start)).Msg("Sampling finished")

	if err := report(sp, tr, vars, ds.TrueBeta); err != nil {
		return err
	}

	if traceFile != "" {
		if err := writeTrace(tr, traceFile); err != nil {
			return err
		}
		sp.log.Info().Str("file", traceFile).Msg("Trace written")
	}

	if plotFile != "" {
		if err := diag.SavePlotTrace(tr, plotVars(vars), plotFile); err != nil {
			return err
		}
		sp.log.Info().Str("file", plotFile).Msg("Trace plot written")
	}

	return sampleErr
}

// Plotting every component of a wide model makes an unreadable image
func plotVars(vars []string) []string {
	if len(vars) > 0 {
		return vars
	}
	return []string{model.TauName, model.SigmaName}
}

func report(sp *startupParams, tr *trace.Trace, vars []string, trueBeta []float64) error {
	out := sp.out
	fmt.Fprintf(out, "%d chains, %d draws, %d divergences\n\n", len(tr.Chains), tr.NumDraws(), tr.Divergences())

	rows, err := diag.Summarize(tr, vars)
	if errors.Is(err, diag.ErrTooFewDraws) {
		sp.log.Warn().Err(err).Msg("Not enough draws for diagnostics")
		return nil
	}
	if err != nil {
		return err
	}
	if err := diag.WriteSummary(out, rows); err != nil {
		return err
	}

	ess, err := diag.EffectiveSampleSize(tr, vars)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(ess))
	for k := range ess {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	low := 0
	for _, k := range keys {
		if ess[k] < 100*float64(len(tr.Chains)) {
			low++
		}
	}
	fmt.Fprintf(out, "\n%d of %d components have ESS below 100 per chain\n", low, len(keys))

	if trueBeta != nil {
		es, err := diag.NewErrorSuite(tr, model.BetaName, trueBeta)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\nCoefficient recovery: mean abs error %.4f, max abs error %.4f, rmse %.4f, 90%% interval coverage %.2f\n",
			es.MeanAbsError, es.MaxAbsError, es.RMSError, es.Coverage)

		var relevant []string
		for j, b := range trueBeta {
			if b != 0 {
				relevant = append(relevant, fmt.Sprintf("beta[%d] true %.3f est %.3f", j, b, es.Estimate[j]))
			}
		}
		fmt.Fprintf(out, "\nRelevant coefficients:\n  %s\n", strings.Join(relevant, "\n  "))
	}

	for _, w := range tr.Warnings {
		fmt.Fprintf(out, "WARNING chain %d (%s): %s\n", w.Chain, w.Kind, w.Message)
	}
	return nil
}

func writeTrace(tr *trace.Trace, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return errors.Wrapf(err, "Could not create %s", filename)
	}
	if err := tr.WriteCSV(f); err != nil {
		f.Close()
		return err
	}
	return errors.Wrapf(f.Close(), "Could not close %s", filename)
}
