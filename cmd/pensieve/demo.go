package main

import (
	"context"
	"fmt"
	"os"

	"github.com/allaspectsdev/pensieve"
	"golang.org/x/term"
)

// cmdDemo builds the chain-propagation scenario from the specification
// (a -> b -> c -> d, each adding a constant) and prints the result plus
// the computed schedule.
func cmdDemo(args []string) {
	p, err := pensieve.New(pensieve.WithNumThreads(2), pensieve.WithLazy(true))
	if err != nil {
		fail(err)
	}
	defer p.Close()

	must(p.Store("a", pensieve.Func0(func() (any, error) { return 1, nil })))
	must(p.Store("b", pensieve.Func1(func(x any) (any, error) { return x.(int) + 2, nil }), pensieve.WithPrecursors("a")))
	must(p.Store("c", pensieve.Func1(func(x any) (any, error) { return x.(int) + 4, nil }), pensieve.WithPrecursors("b")))
	must(p.Store("d", pensieve.Func1(func(x any) (any, error) { return x.(int) + 8, nil }), pensieve.WithPrecursors("c")))

	rounds, err := p.Schedule("d")
	if err != nil {
		fail(err)
	}

	if err := p.Evaluate(context.Background(), "d"); err != nil {
		fail(err)
	}
	result, err := p.Get("d")
	if err != nil {
		fail(err)
	}

	highlight(fmt.Sprintf("d = %v", result))
	for i, round := range rounds {
		fmt.Printf("round %d: %v\n", i, round)
	}

	mem, err := p.Memory("d")
	if err != nil {
		fail(err)
	}
	summary := mem.Summary(nil)
	fmt.Printf("summary: key=%s stale=%v total_time=%s precursors=%v\n",
		summary.Key, summary.Stale, summary.TotalTime, summary.PrecursorKeys)

	fmt.Print(p.String())
}

func highlight(s string) {
	if term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Printf("\x1b[1;32m%s\x1b[0m\n", s)
		return
	}
	fmt.Println(s)
}

func must(err error) {
	if err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "pensieve: %v\n", err)
	os.Exit(1)
}
