package cmd

import (
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/CraigKelly/horseshoe/config"
	"github.com/CraigKelly/horseshoe/data"
	"github.com/CraigKelly/horseshoe/model"
)

// startupParams is everything a subcommand needs once flags and the config
// file have been merged
type startupParams struct {
	cfg config.Config
	log zerolog.Logger
	out io.Writer // results (summary tables, graphs)
}

// Flags describing the simulated dataset, shared by simulate, fit and dot
type dataFlags struct {
	n, p, relevant int
	noise          float64
	seed           int64
	file           string
}

func addDataFlags(fs *pflag.FlagSet, df *dataFlags, withFile bool) {
	def := config.Default().Data
	fs.IntVarP(&df.n, "n", "n", def.N, "Number of simulated observations")
	fs.IntVarP(&df.p, "p", "p", def.P, "Number of simulated predictors")
	fs.IntVar(&df.relevant, "relevant", def.NRelevant, "Number of non-zero simulated coefficients")
	fs.Float64Var(&df.noise, "noise", def.NoiseStd, "Standard deviation of the simulated noise")
	fs.Int64Var(&df.seed, "data-seed", def.Seed, "Random seed for the simulated data")
	if withFile {
		fs.StringVar(&df.file, "data", "", "Dataset file to fit (simulate one if empty)")
	}
}

func (df *dataFlags) apply(fs *pflag.FlagSet, d *config.Data) {
	override(fs, "n", func() { d.N = df.n })
	override(fs, "p", func() { d.P = df.p })
	override(fs, "relevant", func() { d.NRelevant = df.relevant })
	override(fs, "noise", func() { d.NoiseStd = df.noise })
	override(fs, "data-seed", func() { d.Seed = df.seed })
	override(fs, "data", func() { d.File = df.file })
}

// override calls set only if the named flag was given on the command line,
// so the config file wins over flag defaults
func override(fs *pflag.FlagSet, name string, set func()) {
	if fs.Lookup(name) != nil && fs.Changed(name) {
		set()
	}
}

// newStartupParams loads the config file (if any), applies the root flags,
// and builds the logger
func newStartupParams(cmd *cobra.Command, rf *rootFlags) (*startupParams, error) {
	cfg := config.Default()
	if rf.cfgFile != "" {
		var err error
		cfg, err = config.Load(rf.cfgFile)
		if err != nil {
			return nil, err
		}
	}

	fs := cmd.Flags()
	override(fs, "seed", func() { cfg.Seed = rf.seed })
	override(fs, "log-level", func() { cfg.LogLevel = rf.logLevel })
	if rf.verbose {
		cfg.LogLevel = "debug"
	}

	log, err := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	sp := &startupParams{
		cfg: cfg,
		log: log,
		out: cmd.OutOrStdout(),
	}
	if rf.cfgFile != "" {
		sp.log.Debug().Str("config", rf.cfgFile).Msg("Loaded config")
	}
	return sp, nil
}

func newLogger(w io.Writer, level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), errors.Wrapf(err, "Invalid log level %q", level)
	}
	cw := zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: "15:04:05"}
	return zerolog.New(cw).Level(lvl).With().Timestamp().Logger(), nil
}

// loadData reads the configured dataset file or simulates one
func (sp *startupParams) loadData() (*data.Dataset, error) {
	d := sp.cfg.Data
	if d.File != "" {
		sp.log.Info().Str("file", d.File).Msg("Reading dataset")
		return data.ReadDatasetFile(d.File)
	}

	sp.log.Info().
		Int("n", d.N).
		Int("p", d.P).
		Int("relevant", d.NRelevant).
		Float64("noise_std", d.NoiseStd).
		Int64("seed", d.Seed).
		Msg("Simulating dataset")
	return data.Simulate(d.N, d.P, d.NRelevant, d.NoiseStd, d.Seed)
}

// buildModel loads the data and builds the Horseshoe density
func (sp *startupParams) buildModel() (*data.Dataset, *model.Horseshoe, error) {
	ds, err := sp.loadData()
	if err != nil {
		return nil, nil, err
	}

	m, err := model.Build(ds.X, ds.Y)
	if err != nil {
		return nil, nil, errors.Wrap(err, "Could not build model")
	}

	n, p := ds.Dims()
	sp.log.Info().Int("n", n).Int("p", p).Int("dim", m.Dim()).Msg("Model built")
	return ds, m, nil
}
