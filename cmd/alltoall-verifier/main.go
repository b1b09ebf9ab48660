// Command alltoall-verifier loads a collective plan, checks it
// implements a uniform all-to-all, and runs it for a number of
// iterations, verifying each rank's output buffer against the
// expected all-to-all result.
//
// Per the CCF test fixtures this was built against, an all-to-all
// plan names its collective "allreduce" in the xml, not "alltoall".
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"

	"gpusim/pkg/verifier"
)

func main() {
	verbose := flag.Bool("v", false, "log a progress line every N iterations instead of showing a progress bar")
	progressEvery := flag.Int("progress", 0, "override the default cadence N of -v progress lines")
	flag.Parse()

	args := flag.Args()
	if len(args) != 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <input_xml_file> <run_iters>\n", os.Args[0])
		os.Exit(1)
	}
	planPath := args[0]
	var runIters int
	if _, err := fmt.Sscanf(args[1], "%d", &runIters); err != nil {
		log.Fatalf("invalid run_iters %q: %v", args[1], err)
	}

	runID := uuid.NewString()[:8]

	root, err := verifier.LoadPlan(planPath)
	if err != nil {
		log.Fatalf("[%s] %v", runID, err)
	}
	if err := verifier.RequireCollective(root, "allreduce"); err != nil {
		log.Fatalf("[%s] %v", runID, err)
	}

	ctx := context.Background()
	group, err := verifier.BuildGroup(ctx, root)
	if err != nil {
		log.Fatalf("[%s] %v", runID, err)
	}

	numRanks := group.NumRanks()
	numChunks := group.NumChunks()
	if numRanks == 0 || numChunks%numRanks != 0 {
		log.Fatalf("[%s] number of chunks %d is not a multiple of number of ranks %d", runID, numChunks, numRanks)
	}
	chunkFactor := numChunks / numRanks
	group.SetChunkFactor(chunkFactor)
	log.Printf("[%s] initialized %d ranks, chunk factor %d", runID, numRanks, chunkFactor)
	log.Printf("[%s] channels built", runID)

	initFn, checkFn := verifier.AllToAllFuncs(chunkFactor)

	opts := verifier.Options{Verbose: *verbose, ProgressEvery: *progressEvery, RunID: runID}
	if err := verifier.RunIterations(ctx, group, runIters, numChunks, numChunks, initFn, checkFn, opts); err != nil {
		log.Fatalf("[%s] %v", runID, err)
	}

	fmt.Println("All tests passed.")
}
