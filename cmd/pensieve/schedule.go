package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/allaspectsdev/pensieve/internal/scheduler"
)

// cmdSchedule reads a tiny DSL file describing a memory graph's structure
// and prints the wave-fronts the Scheduler would produce to bring every
// memory up to date. Each non-blank, non-comment line has the form
// "key: precursor1,precursor2" (an empty precursor list is just "key:").
func cmdSchedule(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: pensieve schedule <graph-file>")
		os.Exit(1)
	}

	jobs, err := parseGraphFile(args[0])
	if err != nil {
		fail(err)
	}

	rounds, err := scheduler.Schedule(jobs)
	if err != nil {
		fail(err)
	}

	for i, round := range rounds {
		fmt.Printf("round %d: %v\n", i, round)
	}
}

func parseGraphFile(path string) ([]scheduler.Job, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening graph file: %w", err)
	}
	defer f.Close()

	var jobs []scheduler.Job
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed line %q: expected \"key: precursor1,precursor2\"", line)
		}
		key := strings.TrimSpace(parts[0])
		var precursors []string
		for _, p := range strings.Split(parts[1], ",") {
			p = strings.TrimSpace(p)
			if p != "" {
				precursors = append(precursors, p)
			}
		}
		jobs = append(jobs, scheduler.Job{Key: key, StalePrecursors: precursors})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading graph file: %w", err)
	}
	return jobs, nil
}
