package cmd

import (
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newSimulateCmd(rf *rootFlags) *cobra.Command {
	df := &dataFlags{}
	var outFile string

	cmd := &cobra.Command{
		Use:     "simulate",
		Short:   "Write a simulated sparse regression dataset",
		Example: "  horseshoe simulate -n 100 -p 50 --relevant 5 --noise 0.5 --out data.txt",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sp, err := newStartupParams(cmd, rf)
			if err != nil {
				return err
			}
			df.apply(cmd.Flags(), &sp.cfg.Data)
			sp.cfg.Data.File = ""
			return Simulate(sp, outFile)
		},
	}

	addDataFlags(cmd.Flags(), df, false)
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "Output file (stdout if empty)")
	return cmd
}

// Simulate writes a simulated dataset to outFile, or to sp.out if outFile is
// empty
func Simulate(sp *startupParams, outFile string) error {
	ds, err := sp.loadData()
	if err != nil {
		return err
	}

	if outFile == "" {
		return ds.Write(sp.out)
	}

	f, err := os.Create(outFile)
	if err != nil {
		return errors.Wrapf(err, "Could not create %s", outFile)
	}
	if err := ds.Write(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "Could not close %s", outFile)
	}

	sp.log.Info().Str("file", outFile).Ints("relevant", ds.Relevant()).Msg("Dataset written")
	return nil
}
