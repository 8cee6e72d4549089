package export

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"
	"time"

	"time-value-analyser/occupancy-archive/internal/model"
)

// Table is a wide day table: one column per place, one row per timestamp at
// which at least one place changed.
type Table struct {
	Header []string
	Rows   [][]string
}

// WideDay builds the wide table of day (local calendar day in loc). The
// baseline is empty at local midnight, so the first present value of every
// place inside the day is a change. Cells of places that did not change at a
// row's timestamp stay blank, as do absent readings.
func WideDay(set model.SeriesSet, day Day, loc *time.Location) Table {
	start, end := day.Start(loc), day.End(loc)
	ids := sortedKeys(set)
	col := make(map[string]int, len(ids))
	for i, id := range ids {
		col[id] = i + 1
	}

	changes := map[time.Time]map[string]int{}
	for _, id := range ids {
		var prev *int
		for _, e := range set[id] {
			if e.Timestamp.Before(start) || !e.Timestamp.Before(end) || e.NumFree == nil {
				continue
			}
			if prev != nil && *prev == *e.NumFree {
				continue
			}
			prev = e.NumFree
			ts := e.Timestamp.UTC()
			if changes[ts] == nil {
				changes[ts] = map[string]int{}
			}
			changes[ts][id] = *e.NumFree
		}
	}

	stamps := make([]time.Time, 0, len(changes))
	for ts := range changes {
		stamps = append(stamps, ts)
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })

	t := Table{Header: append([]string{"timestamp"}, ids...)}
	for _, ts := range stamps {
		row := make([]string, len(ids)+1)
		row[0] = ts.In(loc).Format(time.RFC3339)
		for id, v := range changes[ts] {
			row[col[id]] = strconv.Itoa(v)
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func (t Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return err
	}
	return cw.Error()
}
