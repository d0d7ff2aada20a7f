// Command loaderallocsim is a small runnable demonstration of the sweep
// collector (spec.md §8, end-to-end scenario 6 "cyclic collection"): it
// builds a graph of collectible allocators, drops every scout, and prints
// which allocators the sweep actually tore down.
package main

import (
	"flag"
	"fmt"
	"log"
	"strconv"

	"github.com/loaderalloc/loaderalloc/internal/xflag"
	"github.com/loaderalloc/loaderalloc/pkg/allocator"
	"github.com/loaderalloc/loaderalloc/pkg/domain"
	"github.com/loaderalloc/loaderalloc/pkg/managed"
	"github.com/loaderalloc/loaderalloc/pkg/modecheck"
)

func positiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 2 {
		return 0, fmt.Errorf("must be >= 2, got %d", n)
	}
	return n, nil
}

var (
	ring  = xflag.Func("ring", "build a cycle of N allocators (A0->A1->...->A(N-1)->A0) and drop every scout", positiveInt)
	chain = xflag.Func("chain", "build a chain of N allocators (A0->A1->...->A(N-1)) and drop every scout", positiveInt)
)

func main() {
	flag.Parse()

	switch {
	case xflag.Parsed("ring") && xflag.Parsed("chain"):
		log.Fatal("loaderallocsim: pass only one of -ring or -chain")
	case xflag.Parsed("ring"):
		runGraph(*ring, true)
	case xflag.Parsed("chain"):
		runGraph(*chain, false)
	default:
		runGraph(4, true)
	}
}

// runGraph builds n collectible allocators, wires them into either a ring
// (cyclic is true) or a chain, drops every scout, and prints the result.
func runGraph(n int, cyclic bool) {
	dom := domain.New()
	reg := allocator.NewRegistry()

	allocators := make([]*allocator.Allocator, n)
	scouts := make([]*managed.Scout, n)
	for i := range allocators {
		a := allocator.New(allocator.AssemblyKind, dom, reg)
		a.BindAssembly(uint64(i) + 1)
		scout, err := a.SetupManagedTracking()
		if err != nil {
			log.Fatalf("loaderallocsim: SetupManagedTracking(%d): %v", i, err)
		}
		a.ActivateManagedTracking()
		idx := i
		a.RegisterBinder(func() {
			fmt.Printf("A%d: released its managed binder\n", idx)
		})
		allocators[i] = a
		scouts[i] = scout
	}

	dom.SuspendEE = func() { fmt.Println("EE suspended") }
	dom.RestartEE = func() { fmt.Println("EE restarted") }
	dom.UnloadExecutionManager = func(creationNumber uint64) {
		fmt.Printf("ExecutionManager::Unload(%d)\n", creationNumber)
	}
	dom.UninitVirtualCallStubManager = func(creationNumber uint64) {
		fmt.Printf("UninitVirtualCallStubManager(%d)\n", creationNumber)
	}

	leave := modecheck.EnterCooperative()
	last := n
	if !cyclic {
		last = n - 1
	}
	for i := 0; i < last; i++ {
		next := allocators[(i+1)%n]
		added, err := allocators[i].EnsureReference(next)
		if err != nil {
			log.Fatalf("loaderallocsim: EnsureReference(%d -> %d): %v", i, (i+1)%n, err)
		}
		fmt.Printf("A%d references A%d (new edge: %v)\n", i, (i+1)%n, added)
	}
	leave()

	shape := "chain"
	if cyclic {
		shape = "ring"
	}
	fmt.Printf("\nbuilt a %s of %d allocators; dropping every scout...\n\n", shape, n)

	for i, scout := range scouts {
		scout.Release()
		fmt.Printf("A%d phase after its own scout drops: %d (terminated=%v)\n", i, allocators[i].Phase(), allocators[i].Terminated())
	}

	fmt.Println()
	terminated := 0
	for i, a := range allocators {
		if a.Terminated() {
			terminated++
			fmt.Printf("A%d: torn down\n", i)
		} else {
			fmt.Printf("A%d: still alive (phase %d)\n", i, a.Phase())
		}
	}
	fmt.Printf("\n%d of %d allocators torn down\n", terminated, n)
}
