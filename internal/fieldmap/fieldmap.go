// Package fieldmap extracts the routing columns of a record and optionally
// resolves them through a lookup index.
package fieldmap

import (
	"fmt"

	"tabsplit/internal/anomaly"
	"tabsplit/internal/lookup"
)

// Mapper extracts Columns from records, in the order given.
type Mapper struct {
	// Columns are the record indices to extract.
	Columns []int
	// Index, when set, resolves each extracted value.
	Index lookup.Index
	// IntKey canonicalizes values as integers before the index lookup.
	IntKey bool

	// Table labels anomalies.
	Table string
	// OnAnomaly receives missing-column and bad-key anomalies.
	OnAnomaly anomaly.Handler
}

// Map returns one value per requested column. A column beyond the record, a
// value that fails integer coercion, or a key the index cannot resolve maps
// to the empty string. Map never fails.
func (m *Mapper) Map(rec []string) []string {
	out := make([]string, len(m.Columns))
	for i, col := range m.Columns {
		if col < 0 || col >= len(rec) {
			m.report(anomaly.MissingColumn, fmt.Sprintf("record of %d fields has no column %d", len(rec), col))
			continue
		}
		v := rec[col]
		if m.Index != nil {
			if m.IntKey {
				k, err := lookup.IntKey(v)
				if err != nil {
					m.report(anomaly.BadIntKey, err.Error())
					continue
				}
				v = k
			}
			v, _ = m.Index.Lookup(v)
		}
		out[i] = v
	}
	return out
}

// Complete reports whether every mapped value is non-empty, which is the
// condition for routing a record.
func Complete(vals []string) bool {
	for _, v := range vals {
		if v == "" {
			return false
		}
	}
	return true
}

func (m *Mapper) report(kind anomaly.Kind, detail string) {
	if m.OnAnomaly == nil {
		return
	}
	m.OnAnomaly(anomaly.Anomaly{Kind: kind, Table: m.Table, Detail: detail})
}
