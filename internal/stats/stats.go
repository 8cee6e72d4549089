package stats

import (
	"math"
	"sort"
	"time"

	"time-value-analyser/occupancy-archive/internal/model"
)

// Stats summarises one place series. Value statistics are nil when the
// series holds no present value.
type Stats struct {
	NumTimestamps  int       `json:"num_timestamps"`
	NumChanges     int       `json:"num_changes"`
	AbsChanges     int       `json:"abs_changes"`
	Average        *float64  `json:"average"`
	Min            *float64  `json:"min"`
	Max            *float64  `json:"max"`
	Median         *float64  `json:"median"`
	Mean           *float64  `json:"mean"`
	Std            *float64  `json:"std"`
	Var            *float64  `json:"var"`
	FirstTimestamp time.Time `json:"first_timestamp"`
	LastTimestamp  time.Time `json:"last_timestamp"`
}

// Compute derives Stats from s. Absent entries count as timestamps but are
// skipped for change counting: the first present value counts as one change,
// every later present value that differs from the previous present value
// counts as another.
func Compute(s model.Series) Stats {
	st := Stats{NumTimestamps: len(s)}
	if len(s) == 0 {
		return st
	}
	st.FirstTimestamp = s[0].Timestamp
	st.LastTimestamp = s[len(s)-1].Timestamp

	var (
		values   []float64
		prev     *int
		weighted float64
		weight   float64
	)
	for i, e := range s {
		if e.NumFree == nil {
			continue
		}
		v := *e.NumFree
		if prev == nil || *prev != v {
			st.NumChanges++
		}
		if prev != nil {
			st.AbsChanges += abs(v - *prev)
		}
		prev = e.NumFree
		values = append(values, float64(v))
		if i+1 < len(s) {
			w := s[i+1].Timestamp.Sub(e.Timestamp).Seconds()
			weighted += w * float64(v)
			weight += w
		}
	}
	if len(values) == 0 {
		return st
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	variance := sq / float64(len(values))

	st.Min = ptr(sorted[0])
	st.Max = ptr(sorted[len(sorted)-1])
	st.Median = ptr(median(sorted))
	st.Mean = ptr(mean)
	st.Var = ptr(variance)
	st.Std = ptr(math.Sqrt(variance))
	if weight > 0 {
		st.Average = ptr(weighted / weight)
	} else {
		st.Average = ptr(mean)
	}
	return st
}

// Set computes Stats for every series of set.
func Set(set model.SeriesSet) map[string]Stats {
	out := make(map[string]Stats, len(set))
	for id, s := range set {
		out[id] = Compute(s)
	}
	return out
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func ptr(v float64) *float64 { return &v }
