package timing

import (
	"sort"

	"github.com/nextnest/broker-pipeline/internal/model"
)

// Distribution buckets end-to-end latencies. The 10-30s band gets its own
// bucket so severe (>30s) outliers are counted separately.
type Distribution struct {
	Under1s int `json:"under_1s"`
	Under2s int `json:"under_2s"`
	Under5s int `json:"under_5s"`
	Over5s  int `json:"over_5s"`
	Over10s int `json:"over_10s"`
	Over30s int `json:"over_30s"`
}

// Stats holds latency statistics over complete records, in milliseconds.
type Stats struct {
	Mean   int64 `json:"mean_ms"`
	Median int64 `json:"median_ms"`
	P95    int64 `json:"p95_ms"`
	P99    int64 `json:"p99_ms"`
	Min    int64 `json:"min_ms"`
	Max    int64 `json:"max_ms"`
}

// Report aggregates timing records for the admin surface.
type Report struct {
	Samples      int          `json:"samples"`
	Complete     int          `json:"complete"`
	Distribution Distribution `json:"distribution"`
	Stats        Stats        `json:"stats"`
}

// BuildReport computes the latency distribution and statistics over the given
// records. Incomplete records count toward Samples but not the distribution.
func BuildReport(records []model.TimingRecord) Report {
	report := Report{Samples: len(records)}

	var durations []int64
	for _, r := range records {
		if !r.Complete() || r.TotalMs <= 0 {
			continue
		}
		durations = append(durations, r.TotalMs)

		switch {
		case r.TotalMs < 1000:
			report.Distribution.Under1s++
		case r.TotalMs < 2000:
			report.Distribution.Under2s++
		case r.TotalMs < 5000:
			report.Distribution.Under5s++
		case r.TotalMs < 10000:
			report.Distribution.Over5s++
		case r.TotalMs < 30000:
			report.Distribution.Over10s++
		default:
			report.Distribution.Over30s++
		}
	}

	report.Complete = len(durations)
	if len(durations) == 0 {
		return report
	}

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	var sum int64
	for _, d := range durations {
		sum += d
	}

	report.Stats = Stats{
		Mean:   sum / int64(len(durations)),
		Median: durations[len(durations)/2],
		P95:    durations[percentileIndex(len(durations), 95)],
		P99:    durations[percentileIndex(len(durations), 99)],
		Min:    durations[0],
		Max:    durations[len(durations)-1],
	}
	return report
}

func percentileIndex(n, pct int) int {
	idx := n * pct / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}
