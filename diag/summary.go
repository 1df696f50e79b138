package diag

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"

	"github.com/CraigKelly/horseshoe/trace"
)

// Summary describes the posterior of one scalar component
type Summary struct {
	Key     string
	Mean    float64
	SD      float64
	Q5      float64
	Q95     float64
	ESSBulk float64
	ESSTail float64
	RHat    float64
}

// Summarize returns one Summary per scalar component of the named variables
// (all variables if varNames is empty), in layout order.
func Summarize(tr *trace.Trace, varNames []string) ([]Summary, error) {
	comps, err := Components(tr, varNames)
	if err != nil {
		return nil, err
	}

	rows := make([]Summary, 0, len(comps))
	for _, c := range comps {
		chains, err := tr.ChainValues(c.Name, c.Index)
		if err != nil {
			return nil, err
		}

		s := Summary{Key: c.Key()}
		if s.ESSBulk, err = BulkESS(chains); err != nil {
			return nil, errors.Wrapf(err, "%s", s.Key)
		}
		if s.ESSTail, err = TailESSChains(chains); err != nil {
			return nil, errors.Wrapf(err, "%s", s.Key)
		}
		if s.RHat, err = RHatChains(chains); err != nil {
			return nil, errors.Wrapf(err, "%s", s.Key)
		}

		all := flatten(chains)
		s.Mean, s.SD = stat.MeanStdDev(all, nil)
		sort.Float64s(all)
		s.Q5 = stat.Quantile(0.05, stat.LinInterp, all, nil)
		s.Q95 = stat.Quantile(0.95, stat.LinInterp, all, nil)

		rows = append(rows, s)
	}
	return rows, nil
}

// WriteSummary prints rows as an aligned table
func WriteSummary(w io.Writer, rows []Summary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "\tmean\tsd\tq5\tq95\tess_bulk\tess_tail\tr_hat\t")
	for _, s := range rows {
		fmt.Fprintf(tw, "%s\t%.3f\t%.3f\t%.3f\t%.3f\t%.0f\t%.0f\t%.3f\t\n",
			s.Key, s.Mean, s.SD, s.Q5, s.Q95, s.ESSBulk, s.ESSTail, s.RHat)
	}
	return errors.Wrap(tw.Flush(), "Could not write summary")
}
