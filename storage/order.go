package storage

import (
	"cmp"
	"slices"
	"time"
)

// Direction is the sort direction of a query.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

// Order sorts query results by a single field.
type Order struct {
	Field     string
	Direction Direction
}

// sortRecords drops records missing the order field and sorts the rest. Ties
// are broken by ID so snapshots are deterministic.
func sortRecords(recs []Record, o Order) []Record {
	if o.Field == "" {
		out := slices.Clone(recs)
		slices.SortFunc(out, func(a, b Record) int { return cmp.Compare(a.ID, b.ID) })
		return out
	}
	out := make([]Record, 0, len(recs))
	for _, r := range recs {
		if v, ok := r.Fields[o.Field]; ok && v != nil {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b Record) int {
		c := compareValues(a.Fields[o.Field], b.Fields[o.Field])
		if o.Direction == Descending {
			c = -c
		}
		if c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func compareValues(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch av := a.(type) {
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	case time.Time:
		return av.Compare(b.(time.Time))
	case string:
		return cmp.Compare(av, b.(string))
	}
	if ra == rankNumber {
		return cmp.Compare(toFloat(a), toFloat(b))
	}
	return 0
}

const (
	rankBool = iota
	rankNumber
	rankTime
	rankString
	rankOther
)

func typeRank(v any) int {
	switch v.(type) {
	case bool:
		return rankBool
	case int, int32, int64, float32, float64:
		return rankNumber
	case time.Time:
		return rankTime
	case string:
		return rankString
	default:
		return rankOther
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	}
	return 0
}
