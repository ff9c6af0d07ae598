package regression

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// DefaultPThreshold is the significance level used by backward elimination
// when the caller does not choose one.
const DefaultPThreshold = 0.05

// Model is a fit that remembers its predictor names so that predictors can
// be removed and the model refitted.
type Model struct {
	names  []string
	x      *mat.Dense
	y      []float64
	result *Result
}

// NewModel fits y on the named columns of x.
func NewModel(x *mat.Dense, y []float64, names []string) (*Model, error) {
	if _, c := x.Dims(); c != len(names) {
		return nil, fmt.Errorf("%d predictor names for %d columns", len(names), c)
	}
	m := &Model{names: append([]string(nil), names...), x: x, y: y}
	if err := m.Fit(); err != nil {
		return nil, err
	}
	return m, nil
}

// Fit refits the model on its current predictors.
func (m *Model) Fit() error {
	res, err := Fit(m.x, m.y)
	if err != nil {
		return err
	}
	m.result = res
	return nil
}

// Result returns the latest fit.
func (m *Model) Result() *Result {
	return m.result
}

// Names returns the current predictor names, aligned with the result's
// coefficients.
func (m *Model) Names() []string {
	return append([]string(nil), m.names...)
}

// WorstPValue returns the predictor with the highest p-value. A p-value
// that could not be computed ranks highest.
func (m *Model) WorstPValue() (name string, p float64) {
	worst := -1
	for j, pv := range m.result.PredictorPValues() {
		if math.IsNaN(pv) {
			return m.names[j], pv
		}
		if worst < 0 || pv > p {
			worst, p = j, pv
		}
	}
	if worst < 0 {
		return "", math.NaN()
	}
	return m.names[worst], p
}

// RemoveWorstPValue drops the predictor with the highest p-value and
// refits. The last predictor is never removed. On a failed refit the model
// is left unchanged.
func (m *Model) RemoveWorstPValue() (string, error) {
	if len(m.names) < 2 {
		return "", nil
	}
	name, _ := m.WorstPValue()
	drop := -1
	for j, n := range m.names {
		if n == name {
			drop = j
			break
		}
	}
	x := dropColumn(m.x, drop)
	res, err := Fit(x, m.y)
	if err != nil {
		return "", fmt.Errorf("refit without %q: %w", name, err)
	}
	m.x = x
	m.names = append(m.names[:drop:drop], m.names[drop+1:]...)
	m.result = res
	return name, nil
}

// BackwardElimination removes the worst predictor until every remaining
// predictor's p-value is below threshold or a single predictor is left. A
// threshold of zero or less selects DefaultPThreshold. It returns the
// removed names in removal order.
func (m *Model) BackwardElimination(threshold float64) ([]string, error) {
	if threshold <= 0 {
		threshold = DefaultPThreshold
	}
	var removed []string
	for len(m.names) > 1 {
		_, p := m.WorstPValue()
		if p < threshold {
			break
		}
		name, err := m.RemoveWorstPValue()
		if err != nil {
			return removed, err
		}
		removed = append(removed, name)
	}
	return removed, nil
}

func dropColumn(x *mat.Dense, col int) *mat.Dense {
	r, c := x.Dims()
	out := mat.NewDense(r, c-1, nil)
	for i := 0; i < r; i++ {
		k := 0
		for j := 0; j < c; j++ {
			if j == col {
				continue
			}
			out.Set(i, k, x.At(i, j))
			k++
		}
	}
	return out
}
