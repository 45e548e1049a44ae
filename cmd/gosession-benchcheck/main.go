// Command gosession-benchcheck compares two `go test -bench` outputs and
// fails when a tracked engine benchmark regressed past the threshold.
//
//	go test -run '^$' -bench . -count 6 . > new.txt
//	gosession-benchcheck -baseline old.txt -candidate new.txt
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

const defaultThreshold = 0.30

// defaultTracked covers the hot paths of the root package benchmarks.
const defaultTracked = "BenchmarkGetSession=ns/op,allocs/op;" +
	"BenchmarkGetSessionBlacklisting=ns/op;" +
	"BenchmarkGetSessionPromotion=ns/op;" +
	"BenchmarkRefreshSession=ns/op"

type sampleSet map[string]map[string][]float64

type tracked map[string][]string

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("gosession-benchcheck", flag.ContinueOnError)
	var (
		baselinePath  = fs.String("baseline", "", "path to baseline benchmark output")
		candidatePath = fs.String("candidate", "", "path to candidate benchmark output")
		threshold     = fs.Float64("threshold", defaultThreshold, "maximum allowed regression ratio (0.30 = +30%)")
		trackSpec     = fs.String("track", defaultTracked, "benchmarks and units to compare: Name=unit,unit;Name=unit")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *baselinePath == "" || *candidatePath == "" {
		return errors.New("-baseline and -candidate are required")
	}
	if *threshold < 0 {
		return errors.New("-threshold must be >= 0")
	}
	track, err := parseTrack(*trackSpec)
	if err != nil {
		return err
	}

	baseline, err := parseBenchmarkFile(*baselinePath, track)
	if err != nil {
		return fmt.Errorf("parse baseline: %w", err)
	}
	candidate, err := parseBenchmarkFile(*candidatePath, track)
	if err != nil {
		return fmt.Errorf("parse candidate: %w", err)
	}

	failures := compare(out, baseline, candidate, track, *threshold)
	if len(failures) > 0 {
		return fmt.Errorf("performance regression threshold exceeded:\n  - %s", strings.Join(failures, "\n  - "))
	}
	return nil
}

// compare prints one row per tracked metric and returns the rows that
// regressed or lacked samples.
func compare(out io.Writer, baseline, candidate sampleSet, track tracked, threshold float64) []string {
	names := make([]string, 0, len(track))
	for name := range track {
		names = append(names, name)
	}
	sort.Strings(names)

	var failures []string
	fmt.Fprintln(out, "benchmark metric baseline candidate delta")
	for _, benchmark := range names {
		for _, metric := range track[benchmark] {
			baseSamples := baseline[benchmark][metric]
			candidateSamples := candidate[benchmark][metric]
			if len(baseSamples) == 0 || len(candidateSamples) == 0 {
				failures = append(failures, fmt.Sprintf("missing samples for %s %s", benchmark, metric))
				continue
			}

			baseMedian := median(baseSamples)
			candidateMedian := median(candidateSamples)
			if baseMedian <= 0 {
				// allocs/op of zero cannot regress by a ratio; any allocation is a failure.
				if candidateMedian > 0 {
					failures = append(failures, fmt.Sprintf("%s %s went from 0 to %.3f", benchmark, metric, candidateMedian))
				}
				continue
			}

			delta := (candidateMedian - baseMedian) / baseMedian
			fmt.Fprintf(out, "%s %s %.3f %.3f %+0.2f%%\n", benchmark, metric, baseMedian, candidateMedian, delta*100)
			if delta > threshold {
				failures = append(failures, fmt.Sprintf("%s %s regressed by %+0.2f%% (limit %+0.2f%%)", benchmark, metric, delta*100, threshold*100))
			}
		}
	}
	return failures
}

func parseTrack(def string) (tracked, error) {
	out := tracked{}
	for _, entry := range strings.Split(def, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, units, ok := strings.Cut(entry, "=")
		if !ok || name == "" || units == "" {
			return nil, fmt.Errorf("invalid -track entry %q", entry)
		}
		for _, u := range strings.Split(units, ",") {
			if u = strings.TrimSpace(u); u != "" {
				out[name] = append(out[name], u)
			}
		}
	}
	if len(out) == 0 {
		return nil, errors.New("-track selects no benchmarks")
	}
	return out, nil
}

func parseBenchmarkFile(path string, track tracked) (sampleSet, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return parseBenchmarks(file, track)
}

func parseBenchmarks(r io.Reader, track tracked) (sampleSet, error) {
	samples := sampleSet{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "Benchmark") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}

		name := normalizeBenchmarkName(fields[0])
		if _, ok := track[name]; !ok {
			continue
		}

		if _, ok := samples[name]; !ok {
			samples[name] = map[string][]float64{}
		}

		// fields[1] is the iteration count; value/unit pairs follow.
		for i := 2; i+1 < len(fields); i += 2 {
			value, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				continue
			}
			unit := fields[i+1]
			samples[name][unit] = append(samples[name][unit], value)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return samples, nil
}

// normalizeBenchmarkName strips the -GOMAXPROCS suffix.
func normalizeBenchmarkName(raw string) string {
	if idx := strings.LastIndexByte(raw, '-'); idx > 0 {
		if _, err := strconv.Atoi(raw[idx+1:]); err == nil {
			return raw[:idx]
		}
	}
	return raw
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	copied := make([]float64, len(values))
	copy(copied, values)
	sort.Float64s(copied)

	mid := len(copied) / 2
	if len(copied)%2 == 1 {
		return copied[mid]
	}
	return (copied[mid-1] + copied[mid]) / 2
}
