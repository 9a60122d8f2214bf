package merge

import (
	"github.com/joseph-ayodele/exams-tracker/internal/entity"
)

// Merge folds incoming category -> exam -> value data into a copy of existing.
// Incoming values win on collisions. Unknown categories and exam names outside
// the canonical lists are kept and tagged as overflow. existing is not modified.
func Merge(existing entity.ResultTable, incoming map[string]map[string]string) entity.ResultTable {
	out := existing.Clone()
	if out == nil {
		out = entity.NewResultTable()
	}
	for category, exams := range incoming {
		if _, ok := out[category]; !ok {
			out[category] = map[string]entity.ResultEntry{}
		}
		for exam, value := range exams {
			out.Set(category, exam, value)
		}
	}
	return out
}

// Stats describes what a merge changed.
type Stats struct {
	Added       int
	Overwritten int
	Overflow    int
}

// Diff reports how Merge(existing, incoming) would change existing.
func Diff(existing entity.ResultTable, incoming map[string]map[string]string) Stats {
	var s Stats
	for category, exams := range incoming {
		for exam, value := range exams {
			if entity.KindFor(category, exam) == entity.Overflow {
				s.Overflow++
			}
			prev, ok := existing.Get(category, exam)
			switch {
			case !ok:
				s.Added++
			case prev.Value != value:
				s.Overwritten++
			}
		}
	}
	return s
}
