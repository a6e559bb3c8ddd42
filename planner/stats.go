package planner

import "sync/atomic"

// TableStats counts the plans used on one table.
type TableStats struct {
	long, a, b, c atomic.Int64
}

func (s *TableStats) record(p Plan) {
	switch p {
	case PlanLong:
		s.long.Add(1)
	case PlanA:
		s.a.Add(1)
	case PlanB:
		s.b.Add(1)
	case PlanC:
		s.c.Add(1)
	}
}

// PlanCounts is a snapshot of TableStats.
type PlanCounts map[Plan]int64

// Snapshot returns the current counters.
func (s *TableStats) Snapshot() PlanCounts {
	return PlanCounts{
		PlanLong: s.long.Load(),
		PlanA:    s.a.Load(),
		PlanB:    s.b.Load(),
		PlanC:    s.c.Load(),
	}
}

func (p *Planner) tableStats(table string) *TableStats {
	s, _ := p.stats.LoadOrCompute(table, func() *TableStats { return &TableStats{} })
	return s
}

// Stats returns the plan counters of every table queried so far.
func (p *Planner) Stats() map[string]PlanCounts {
	res := make(map[string]PlanCounts, p.stats.Size())
	p.stats.Range(func(table string, s *TableStats) bool {
		res[table] = s.Snapshot()
		return true
	})
	return res
}
