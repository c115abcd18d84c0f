package main

import (
	"fmt"
	"sort"
	"time"
)

// formatResult renders one benchmark section. valueSize of 0 suppresses
// the data-volume line for workloads that do not move payload bytes.
func formatResult(name string, opsCount, errCount int, elapsed time.Duration, valueSize int) string {
	opsPerSecond := float64(opsCount) / elapsed.Seconds()

	status := "COMPLETED SUCCESSFULLY"
	if errCount >= 10 {
		status = "COMPLETED WITH ERRORS"
	}

	result := fmt.Sprintf("\n%s Benchmark Results:", name)
	result += fmt.Sprintf("\n  Status: %s", status)
	result += fmt.Sprintf("\n  Operations: %d", opsCount)
	if valueSize > 0 {
		result += fmt.Sprintf("\n  Data Volume: %.2f MB",
			float64(opsCount)*float64(valueSize)/(1024*1024))
	}
	result += fmt.Sprintf("\n  Time: %.2f seconds", elapsed.Seconds())
	result += fmt.Sprintf("\n  Throughput: %.2f ops/sec", opsPerSecond)
	if opsPerSecond > 0 {
		result += fmt.Sprintf("\n  Latency: %.3f µs/op", 1000000.0/opsPerSecond)
	}
	return result
}

// formatStats renders the engine statistics snapshot with stable key order.
func formatStats(stats map[string]interface{}) string {
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := "\nEngine Statistics:"
	for _, k := range keys {
		result += fmt.Sprintf("\n  %-28s %v", k, stats[k])
	}
	return result
}
