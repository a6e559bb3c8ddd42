package reindex

import (
	"time"

	"github.com/hupe1980/tsearch/checkpoint"
)

// Progress is a snapshot of a reindex run.
type Progress struct {
	Steps          int
	Nb             int
	Done           int64
	Initial        int64
	Remaining      int64
	CumulatedDrift int64
	Elapsed        time.Duration
}

func progressOf(st *checkpoint.State, steps int) Progress {
	return Progress{
		Steps:          steps,
		Nb:             st.Nb,
		Done:           st.Done,
		Initial:        st.Initial,
		Remaining:      st.Remaining,
		CumulatedDrift: st.CumulatedDrift,
		Elapsed:        st.Elapsed,
	}
}

// Estimate is the completion forecast derived from a Progress.
type Estimate struct {
	Percent float64
	ETA     time.Duration
	// Total is the expected number of rows to index, drift included.
	Total float64
	// DriftRate is the number of rows that appear per row indexed.
	DriftRate float64
	// EstimatedRemaining extrapolates Remaining with the drift rate.
	EstimatedRemaining float64
	// NeverFinishes is set when rows appear at least as fast as they are
	// indexed.
	NeverFinishes bool
}

// Estimate forecasts completion. While new rows keep appearing at rate d
// per indexed row, indexing n rows brings n*d more, so the total work is the
// geometric series initial/(1-d).
func (p Progress) Estimate() Estimate {
	e := Estimate{
		Total:              float64(p.Initial),
		EstimatedRemaining: float64(p.Remaining),
	}
	if p.CumulatedDrift != 0 && p.Done > 0 {
		e.DriftRate = float64(p.CumulatedDrift) / float64(p.Done)
		if e.DriftRate >= 1 {
			e.NeverFinishes = true
			return e
		}
		factor := 1 / (1 - e.DriftRate)
		e.Total = float64(p.Initial) * factor
		e.EstimatedRemaining = float64(p.Remaining) * factor
	}

	e.Percent = 100
	if e.Total > 0 {
		e.Percent = float64(p.Done) * 100 / e.Total
	}
	if e.Percent > 0 && e.Percent < 100 {
		e.ETA = time.Duration(float64(p.Elapsed) / e.Percent * (100 - e.Percent))
	}
	return e
}
