package output

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/torosent/crankloop/internal/metrics"
)

const labelWidth = 19

// PrintReport writes the end-of-run summary of one worker. Skipped is only
// listed when some test was skipped.
func PrintReport(w io.Writer, title string, stats metrics.Stats) {
	if title == "" {
		title = "Load Test Results"
	}
	fmt.Fprintf(w, "\n--- %s ---\n", title)

	counts := []struct {
		label string
		n     int64
	}{
		{"Total Tests:", stats.Total},
		{"Passed:", stats.Passed},
		{"Failed:", stats.Failed},
		{"Broken:", stats.Broken},
		{"Skipped:", stats.Skipped},
	}
	for _, c := range counts {
		if c.label == "Skipped:" && c.n == 0 {
			continue
		}
		fmt.Fprintf(w, "%-*s%d\n", labelWidth, c.label, c.n)
	}
	fmt.Fprintf(w, "%-*s%s\n", labelWidth, "Duration:", stats.Duration)
	fmt.Fprintf(w, "%-*s%.2f\n", labelWidth, "Tests/sec:", stats.TestsPerSec)

	fmt.Fprintln(w, "\nLatency:")
	latencies := []struct {
		label string
		d     time.Duration
	}{
		{"Min:", stats.MinLatency},
		{"Max:", stats.MaxLatency},
		{"Mean:", stats.MeanLatency},
		{"P50:", stats.P50Latency},
		{"P90:", stats.P90Latency},
		{"P99:", stats.P99Latency},
	}
	for _, l := range latencies {
		fmt.Fprintf(w, "  %-*s%s\n", labelWidth-2, l.label, l.d)
	}
}

// PrintJSONReport writes stats as indented JSON.
func PrintJSONReport(w io.Writer, stats metrics.Stats) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}
