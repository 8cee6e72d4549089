package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"sort"
	"strconv"
	"time"

	"time-value-analyser/occupancy-archive/internal/model"
	"time-value-analyser/occupancy-archive/internal/stats"
)

// Row is one flattened observation.
type Row struct {
	PlaceID   string    `json:"place_id"`
	Timestamp time.Time `json:"timestamp"`
	NumFree   *int      `json:"num_free"`
}

// Rows flattens set ordered by place_id, then timestamp.
func Rows(set model.SeriesSet) []Row {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []Row
	for _, id := range ids {
		for _, e := range set[id] {
			out = append(out, Row{PlaceID: id, Timestamp: e.Timestamp, NumFree: e.NumFree})
		}
	}
	return out
}

func formatInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func WriteRowsCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"place_id", "timestamp", "num_free"}); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{r.PlaceID, formatTime(r.Timestamp), formatInt(r.NumFree)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func WriteRowsJSON(w io.Writer, rows []Row) error {
	if rows == nil {
		rows = []Row{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

var statsHeader = []string{
	"place_id", "num_timestamps", "num_changes", "abs_changes",
	"average", "min", "max", "median", "mean", "std", "var",
	"first_timestamp", "last_timestamp",
}

// WriteStatsCSV writes one line per place ordered by place_id; absent
// statistics are left blank.
func WriteStatsCSV(w io.Writer, all map[string]stats.Stats) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(statsHeader); err != nil {
		return err
	}
	for _, id := range sortedKeys(all) {
		s := all[id]
		rec := []string{
			id,
			strconv.Itoa(s.NumTimestamps),
			strconv.Itoa(s.NumChanges),
			strconv.Itoa(s.AbsChanges),
			formatFloat(s.Average),
			formatFloat(s.Min),
			formatFloat(s.Max),
			formatFloat(s.Median),
			formatFloat(s.Mean),
			formatFloat(s.Std),
			formatFloat(s.Var),
			formatTime(s.FirstTimestamp),
			formatTime(s.LastTimestamp),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func WriteStatsJSON(w io.Writer, all map[string]stats.Stats) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(all)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
