package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/zhangyunhao116/fastrand"

	"github.com/stratadb/strata/pkg/config"
	"github.com/stratadb/strata/pkg/engine"
)

const (
	defaultValueSize = 100
	defaultKeyCount  = 100000
)

var (
	benchmarkType = flag.String("type", "all", "Type of benchmark to run (write, batch-write, read, scan, mixed, or all)")
	duration      = flag.Duration("duration", 10*time.Second, "Duration to run each benchmark")
	numKeys       = flag.Int("keys", defaultKeyCount, "Number of keys to use")
	valueSize     = flag.Int("value-size", defaultValueSize, "Size of values in bytes")
	batchSize     = flag.Int("batch-size", 100, "Entries per batch in the batch-write benchmark")
	dataDir       = flag.String("data-dir", "./benchmark-data", "Directory to store benchmark data")
	sequential    = flag.Bool("sequential", false, "Use sequential keys instead of random")
	scanSize      = flag.Int("scan-size", 100, "Number of entries per range scan")
	syncMode      = flag.String("sync", "immediate", "WAL sync mode (immediate, batch, none)")
	writeBuffer   = flag.Int64("write-buffer", 0, "Write buffer size in bytes (0 = default)")
	dumpStats     = flag.Bool("stats", false, "Dump engine statistics after the run")
	cpuProfile    = flag.String("cpu-profile", "", "Write CPU profile to file")
	memProfile    = flag.String("mem-profile", "", "Write memory profile to file")
	resultsFile   = flag.String("results", "", "File to write results to (in addition to stdout)")
)

func main() {
	flag.Parse()

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Could not start CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer pprof.StopCPUProfile()
	}

	// Start from a clean slate so runs are comparable
	if _, err := os.Stat(*dataDir); err == nil {
		fmt.Println("Cleaning previous benchmark data...")
		if err := os.RemoveAll(*dataDir); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to clean benchmark directory: %v\n", err)
		}
	}
	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create benchmark directory: %v\n", err)
		os.Exit(1)
	}

	cfg, err := benchConfig(*dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	e, err := engine.Open(*dataDir, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open storage engine: %v\n", err)
		os.Exit(1)
	}
	defer e.Close()

	var results []string
	results = append(results, fmt.Sprintf("Benchmark Report (%s)", time.Now().Format(time.RFC3339)))
	results = append(results, fmt.Sprintf("Keys: %d, Value Size: %d bytes, Duration: %s, Mode: %s, Sync: %s",
		*numKeys, *valueSize, *duration, keyMode(), *syncMode))

	for _, typ := range strings.Split(*benchmarkType, ",") {
		switch strings.ToLower(typ) {
		case "write":
			results = append(results, runWriteBenchmark(e))
		case "batch-write":
			results = append(results, runBatchWriteBenchmark(e))
		case "read":
			results = append(results, runReadBenchmark(e))
		case "scan":
			results = append(results, runScanBenchmark(e))
		case "mixed":
			results = append(results, runMixedBenchmark(e))
		case "all":
			results = append(results, runWriteBenchmark(e))
			results = append(results, runBatchWriteBenchmark(e))
			results = append(results, runReadBenchmark(e))
			results = append(results, runScanBenchmark(e))
			results = append(results, runMixedBenchmark(e))
		default:
			fmt.Fprintf(os.Stderr, "Unknown benchmark type: %s\n", typ)
			os.Exit(1)
		}
	}

	if *dumpStats {
		results = append(results, formatStats(e.GetStats()))
	}

	for _, result := range results {
		fmt.Println(result)
	}

	if *resultsFile != "" {
		err := os.WriteFile(*resultsFile, []byte(strings.Join(results, "\n")), 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write results to file: %v\n", err)
		}
	}

	if *memProfile != "" {
		f, err := os.Create(*memProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create memory profile: %v\n", err)
		} else {
			defer f.Close()
			runtime.GC()
			if err := pprof.WriteHeapProfile(f); err != nil {
				fmt.Fprintf(os.Stderr, "Could not write memory profile: %v\n", err)
			}
		}
	}
}

func benchConfig(dir string) (*config.Config, error) {
	cfg := config.NewDefaultConfig(dir)
	switch strings.ToLower(*syncMode) {
	case "immediate":
		cfg.WALSyncMode = config.SyncImmediate
	case "batch":
		cfg.WALSyncMode = config.SyncBatch
	case "none":
		cfg.WALSyncMode = config.SyncNone
	default:
		return nil, fmt.Errorf("unknown sync mode %q", *syncMode)
	}
	if *writeBuffer > 0 {
		cfg.WriteBufferSize = *writeBuffer
	}
	return cfg, nil
}

// keyMode returns a string describing the key generation mode.
func keyMode() string {
	if *sequential {
		return "Sequential"
	}
	return "Random"
}

// generateKey produces the i-th benchmark key. Random mode salts the key
// with a random prefix but keeps the counter so keys stay unique.
func generateKey(i int) []byte {
	if *sequential {
		return []byte(fmt.Sprintf("key-%010d", i))
	}
	return []byte(fmt.Sprintf("key-%016x-%010d", fastrand.Uint64(), i))
}

// benchValue builds a payload of the configured size.
func benchValue() []byte {
	value := make([]byte, *valueSize)
	for i := range value {
		value[i] = byte(i % 256)
	}
	return value
}

func runWriteBenchmark(e *engine.Engine) string {
	fmt.Println("Running Write Benchmark...")

	value := benchValue()
	start := time.Now()
	deadline := start.Add(*duration)

	var opsCount, errCount int
	for time.Now().Before(deadline) && opsCount < *numKeys {
		if err := e.Put(generateKey(opsCount), value); err != nil {
			if errors.Is(err, engine.ErrEngineClosed) {
				fmt.Fprintln(os.Stderr, "Engine closed, stopping benchmark")
				break
			}
			fmt.Fprintf(os.Stderr, "Write error (key #%d): %v\n", opsCount, err)
			errCount++
			if errCount >= 10 {
				break
			}
			continue
		}
		opsCount++
	}

	return formatResult("Write", opsCount, errCount, time.Since(start), *valueSize)
}

func runBatchWriteBenchmark(e *engine.Engine) string {
	fmt.Println("Running Batch Write Benchmark...")

	value := benchValue()
	start := time.Now()
	deadline := start.Add(*duration)

	var opsCount, errCount int
	for time.Now().Before(deadline) && opsCount < *numKeys {
		batch := engine.NewBatch()
		for i := 0; i < *batchSize; i++ {
			batch.Put(generateKey(opsCount+i), value)
		}
		if err := e.ApplyBatch(batch); err != nil {
			if errors.Is(err, engine.ErrEngineClosed) {
				break
			}
			fmt.Fprintf(os.Stderr, "Batch error at #%d: %v\n", opsCount, err)
			errCount++
			if errCount >= 10 {
				break
			}
			continue
		}
		opsCount += batch.Count()
	}

	return formatResult("Batch Write", opsCount, errCount, time.Since(start), *valueSize)
}

func runReadBenchmark(e *engine.Engine) string {
	fmt.Println("Running Read Benchmark...")

	// Load a known key space first so reads have something to hit
	value := benchValue()
	loaded := *numKeys
	if loaded > 100000 {
		loaded = 100000
	}
	for i := 0; i < loaded; i++ {
		key := []byte(fmt.Sprintf("read-key-%010d", i))
		if err := e.Put(key, value); err != nil {
			fmt.Fprintf(os.Stderr, "Setup write error: %v\n", err)
			break
		}
	}
	if err := e.FlushAll(); err != nil {
		fmt.Fprintf(os.Stderr, "Setup flush error: %v\n", err)
	}

	start := time.Now()
	deadline := start.Add(*duration)

	var opsCount, hitCount, errCount int
	for time.Now().Before(deadline) {
		idx := opsCount % loaded
		if !*sequential {
			idx = int(fastrand.Uint32n(uint32(loaded)))
		}
		key := []byte(fmt.Sprintf("read-key-%010d", idx))
		_, err := e.Get(key)
		switch {
		case err == nil:
			hitCount++
		case errors.Is(err, engine.ErrKeyNotFound):
		case errors.Is(err, engine.ErrEngineClosed):
			errCount = 10
		default:
			fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
			errCount++
		}
		if errCount >= 10 {
			break
		}
		opsCount++
	}

	result := formatResult("Read", opsCount, errCount, time.Since(start), *valueSize)
	result += fmt.Sprintf("\n  Hit Rate: %.2f%%", 100*float64(hitCount)/float64(max(opsCount, 1)))
	return result
}

func runScanBenchmark(e *engine.Engine) string {
	fmt.Println("Running Scan Benchmark...")

	start := time.Now()
	deadline := start.Add(*duration)

	var scanCount, entryCount, errCount int
	for time.Now().Before(deadline) {
		startIdx := int(fastrand.Uint32n(uint32(max(*numKeys-*scanSize, 1))))
		startKey := []byte(fmt.Sprintf("read-key-%010d", startIdx))
		endKey := []byte(fmt.Sprintf("read-key-%010d", startIdx+*scanSize))

		it, err := e.Scan(startKey, endKey)
		if err != nil {
			if errors.Is(err, engine.ErrEngineClosed) {
				break
			}
			fmt.Fprintf(os.Stderr, "Scan error: %v\n", err)
			errCount++
			if errCount >= 10 {
				break
			}
			continue
		}
		for it.SeekToFirst(); it.Valid(); it.Next() {
			entryCount++
		}
		it.Close()
		scanCount++
	}

	elapsed := time.Since(start)
	result := formatResult("Scan", scanCount, errCount, elapsed, 0)
	result += fmt.Sprintf("\n  Entries Scanned: %d (%.2f entries/sec)",
		entryCount, float64(entryCount)/elapsed.Seconds())
	return result
}

func runMixedBenchmark(e *engine.Engine) string {
	fmt.Println("Running Mixed Benchmark (75% reads, 25% writes)...")

	value := benchValue()
	start := time.Now()
	deadline := start.Add(*duration)

	var reads, writes, errCount int
	for time.Now().Before(deadline) {
		if fastrand.Uint32n(4) == 0 {
			if err := e.Put(generateKey(writes), value); err != nil {
				if errors.Is(err, engine.ErrEngineClosed) {
					break
				}
				errCount++
				if errCount >= 10 {
					break
				}
				continue
			}
			writes++
		} else {
			idx := int(fastrand.Uint32n(uint32(max(*numKeys, 1))))
			key := []byte(fmt.Sprintf("read-key-%010d", idx))
			if _, err := e.Get(key); err != nil && !errors.Is(err, engine.ErrKeyNotFound) {
				if errors.Is(err, engine.ErrEngineClosed) {
					break
				}
				errCount++
				if errCount >= 10 {
					break
				}
				continue
			}
			reads++
		}
	}

	elapsed := time.Since(start)
	result := formatResult("Mixed", reads+writes, errCount, elapsed, *valueSize)
	result += fmt.Sprintf("\n  Reads: %d, Writes: %d", reads, writes)
	return result
}
