package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/CraigKelly/horseshoe/model"
)

func newDotCmd(rf *rootFlags) *cobra.Command {
	df := &dataFlags{}

	cmd := &cobra.Command{
		Use:     "dot",
		Short:   "Print the model's dependency graph in graphviz format",
		Example: "  horseshoe dot -p 5 | dot -Tpng > model.png",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sp, err := newStartupParams(cmd, rf)
			if err != nil {
				return err
			}
			df.apply(cmd.Flags(), &sp.cfg.Data)
			return DotOutput(sp)
		},
	}

	addDataFlags(cmd.Flags(), df, true)
	return cmd
}

// DotOutput writes a graphviz description of the Horseshoe model: the global
// and local scales feed each coefficient, and the coefficients and noise scale
// feed the observations. The predictor count comes from the dataset file if
// one is configured.
func DotOutput(sp *startupParams) error {
	p := sp.cfg.Data.P
	if sp.cfg.Data.File != "" {
		ds, err := sp.loadData()
		if err != nil {
			return err
		}
		_, p = ds.Dims()
	}
	sp.log.Debug().Int("p", p).Msg("Writing model graph")

	return writeDot(sp.out, p)
}

func writeDot(w io.Writer, p int) error {
	lines := []string{
		"digraph horseshoe {",
		fmt.Sprintf("    %s [label=\"%s ~ HalfCauchy(1)\"];", model.TauName, model.TauName),
		fmt.Sprintf("    %s [label=\"%s ~ HalfNormal(1)\"];", model.SigmaName, model.SigmaName),
		"    y [shape=box, label=\"y ~ Normal(X·beta, sigma)\"];",
	}

	for j := 0; j < p; j++ {
		lam := fmt.Sprintf("%s_%d", model.LamName, j)
		beta := fmt.Sprintf("%s_%d", model.BetaName, j)
		lines = append(lines,
			fmt.Sprintf("    %s -> %s;", model.TauName, beta),
			fmt.Sprintf("    %s -> %s;", lam, beta),
			fmt.Sprintf("    %s -> y;", beta),
		)
	}
	lines = append(lines, fmt.Sprintf("    %s -> y;", model.SigmaName), "}")

	for _, ln := range lines {
		if _, err := fmt.Fprintln(w, ln); err != nil {
			return err
		}
	}
	return nil
}
