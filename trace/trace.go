package trace

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/CraigKelly/horseshoe/model"
)

// Errors returned by trace queries and appends
var (
	ErrUnknownVar = errors.New("unknown variable")
	ErrSealed     = errors.New("trace is sealed")
	ErrIndex      = errors.New("index out of range")
)

// Warning kinds
const (
	WarnLowAcceptance = "low-acceptance"
	WarnDivergences   = "divergences"
	WarnTreeDepth     = "tree-depth"
	WarnAdaptation    = "adaptation"
)

// Stats are the sampler diagnostics recorded with every draw
type Stats struct {
	LogProb    float64 // Log density (unconstrained space) at the draw
	AcceptStat float64 // Mean Metropolis acceptance over the trajectory
	StepSize   float64 // Leapfrog step size used
	TreeDepth  int     // Number of trajectory doublings
	NumSteps   int     // Number of leapfrog steps
	Diverging  bool    // Trajectory hit a divergence
	Energy     float64 // Hamiltonian at the draw
}

// Warning is a non-fatal diagnostic raised during sampling
type Warning struct {
	Chain   int    // Chain the warning applies to
	Kind    string // One of the Warn constants
	Message string // Human readable detail
}

// Chain holds the ordered draws of one Markov chain. Each row of Draws (and
// Warmup) is one constrained point in the model's flat parameter layout.
type Chain struct {
	ID          int         // Zero-based chain index
	Seed        int64       // Seed used by the chain's generator
	Draws       [][]float64 // Post-tuning draws
	Stats       []Stats     // Stats[i] goes with Draws[i]
	Warmup      [][]float64 // Tuning draws (only if retained)
	WarmupStats []Stats     // Stats for the tuning draws
	StepSize    float64     // Adapted step size used for the draws
	InvMass     []float64   // Adapted diagonal inverse mass matrix

	dim    int
	sealed *bool
}

// Trace is the posterior store: per chain draws plus sampler stats, with
// values addressable by parameter name. Appends are only allowed until Seal
// is called; chains may be appended to concurrently (one goroutine per chain).
type Trace struct {
	Params   []model.Param
	Chains   []*Chain
	Warnings []Warning

	dim    int
	sealed bool
	mu     sync.Mutex // guards Warnings
}

// New creates an empty trace for the given parameter layout
func New(params []model.Param, chains int) *Trace {
	t := &Trace{
		Params: params,
		Chains: make([]*Chain, chains),
		dim:    model.ParamsDim(params),
	}

	for i := range t.Chains {
		t.Chains[i] = &Chain{
			ID:     i,
			dim:    t.dim,
			sealed: &t.sealed,
		}
	}

	return t
}

// Append copies one post-tuning draw onto the chain
func (c *Chain) Append(values []float64, s Stats) error {
	if err := c.check(values); err != nil {
		return err
	}
	c.Draws = append(c.Draws, append([]float64(nil), values...))
	c.Stats = append(c.Stats, s)
	return nil
}

// AppendWarmup copies one tuning draw onto the chain
func (c *Chain) AppendWarmup(values []float64, s Stats) error {
	if err := c.check(values); err != nil {
		return err
	}
	c.Warmup = append(c.Warmup, append([]float64(nil), values...))
	c.WarmupStats = append(c.WarmupStats, s)
	return nil
}

func (c *Chain) check(values []float64) error {
	if c.sealed != nil && *c.sealed {
		return errors.Wrapf(ErrSealed, "Append to chain %d", c.ID)
	}
	if len(values) != c.dim {
		return errors.Errorf("Draw of length %d appended to chain %d with dim %d", len(values), c.ID, c.dim)
	}
	return nil
}

// Len is the number of post-tuning draws in the chain
func (c *Chain) Len() int {
	return len(c.Draws)
}

// Divergences counts the diverging post-tuning draws in the chain
func (c *Chain) Divergences() int {
	n := 0
	for _, s := range c.Stats {
		if s.Diverging {
			n++
		}
	}
	return n
}

// AddWarning records a warning. Safe for concurrent use.
func (t *Trace) AddWarning(w Warning) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Warnings = append(t.Warnings, w)
}

// Seal makes the trace read-only. Call once all chains have finished.
// Warnings are ordered by chain so the trace does not depend on how the
// chain goroutines were scheduled.
func (t *Trace) Seal() {
	t.mu.Lock()
	sort.SliceStable(t.Warnings, func(i, j int) bool {
		return t.Warnings[i].Chain < t.Warnings[j].Chain
	})
	t.mu.Unlock()
	t.sealed = true
}

// Sealed reports whether Seal has been called
func (t *Trace) Sealed() bool {
	return t.sealed
}

// Names lists the parameter names in layout order
func (t *Trace) Names() []string {
	names := make([]string, len(t.Params))
	for i, p := range t.Params {
		names[i] = p.Name
	}
	return names
}

// Param returns the layout entry for name
func (t *Trace) Param(name string) (model.Param, error) {
	for _, p := range t.Params {
		if p.Name == name {
			return p, nil
		}
	}
	return model.Param{}, errors.Wrapf(ErrUnknownVar, "%q", name)
}

// NumDraws is the total number of post-tuning draws over all chains
func (t *Trace) NumDraws() int {
	n := 0
	for _, c := range t.Chains {
		n += c.Len()
	}
	return n
}

// Divergences counts diverging post-tuning draws over all chains
func (t *Trace) Divergences() int {
	n := 0
	for _, c := range t.Chains {
		n += c.Divergences()
	}
	return n
}

// Get returns the values of the named variable for every draw, chain-major
// then draw order. Each row holds the variable's Size components.
func (t *Trace) Get(name string) ([][]float64, error) {
	p, err := t.Param(name)
	if err != nil {
		return nil, err
	}

	rows := make([][]float64, 0, t.NumDraws())
	for _, c := range t.Chains {
		for _, d := range c.Draws {
			rows = append(rows, append([]float64(nil), d[p.Offset:p.Offset+p.Size]...))
		}
	}
	return rows, nil
}

// Values returns component idx of the named variable for every draw,
// chain-major then draw order.
func (t *Trace) Values(name string, idx int) ([]float64, error) {
	col, err := t.column(name, idx)
	if err != nil {
		return nil, err
	}

	vals := make([]float64, 0, t.NumDraws())
	for _, c := range t.Chains {
		for _, d := range c.Draws {
			vals = append(vals, d[col])
		}
	}
	return vals, nil
}

// ChainValues returns component idx of the named variable split by chain
func (t *Trace) ChainValues(name string, idx int) ([][]float64, error) {
	col, err := t.column(name, idx)
	if err != nil {
		return nil, err
	}

	chains := make([][]float64, len(t.Chains))
	for i, c := range t.Chains {
		chains[i] = make([]float64, len(c.Draws))
		for j, d := range c.Draws {
			chains[i][j] = d[col]
		}
	}
	return chains, nil
}

// Mean returns the posterior mean of each component of the named variable
func (t *Trace) Mean(name string) ([]float64, error) {
	p, err := t.Param(name)
	if err != nil {
		return nil, err
	}

	mean := make([]float64, p.Size)
	n := t.NumDraws()
	if n == 0 {
		return mean, nil
	}

	for _, c := range t.Chains {
		for _, d := range c.Draws {
			for k := range mean {
				mean[k] += d[p.Offset+k]
			}
		}
	}
	for k := range mean {
		mean[k] /= float64(n)
	}
	return mean, nil
}

func (t *Trace) column(name string, idx int) (int, error) {
	p, err := t.Param(name)
	if err != nil {
		return 0, err
	}
	if idx < 0 || idx >= p.Size {
		return 0, errors.Wrapf(ErrIndex, "%s[%d] (size %d)", name, idx, p.Size)
	}
	return p.Offset + idx, nil
}
