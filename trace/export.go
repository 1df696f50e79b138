package trace

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/pkg/errors"
)

// Header returns the CSV column names: chain/draw indices, the sampler stats
// (Stan naming), then one column per scalar component (lam.1, lam.2, ...).
func (t *Trace) Header() []string {
	cols := []string{
		"chain", "draw",
		"lp__", "accept_stat__", "stepsize__", "treedepth__",
		"n_leapfrog__", "divergent__", "energy__",
	}

	for _, p := range t.Params {
		if p.Size == 1 {
			cols = append(cols, p.Name)
			continue
		}
		for k := 1; k <= p.Size; k++ {
			cols = append(cols, p.Name+"."+strconv.Itoa(k))
		}
	}
	return cols
}

// WriteCSV writes one row per post-tuning draw, chain-major
func (t *Trace) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header()); err != nil {
		return errors.Wrap(err, "Could not write trace header")
	}

	ff := func(f float64) string {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}

	for _, c := range t.Chains {
		for i, d := range c.Draws {
			s := c.Stats[i]
			div := "0"
			if s.Diverging {
				div = "1"
			}

			row := make([]string, 0, 9+len(d))
			row = append(row,
				strconv.Itoa(c.ID), strconv.Itoa(i),
				ff(s.LogProb), ff(s.AcceptStat), ff(s.StepSize),
				strconv.Itoa(s.TreeDepth), strconv.Itoa(s.NumSteps), div, ff(s.Energy),
			)
			for _, v := range d {
				row = append(row, ff(v))
			}

			if err := cw.Write(row); err != nil {
				return errors.Wrapf(err, "Could not write draw %d of chain %d", i, c.ID)
			}
		}
	}

	cw.Flush()
	return errors.Wrap(cw.Error(), "Could not flush trace")
}
