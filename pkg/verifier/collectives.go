package verifier

import "fmt"

// AllGatherFuncs returns the init_fn/check_fn pair for the allgather
// verifier: rank r contributes cf chunks, and every rank's output
// buffer ends up holding every rank's contribution in rank order.
func AllGatherFuncs(chunkFactor int) (initFn, checkFn DataFunc) {
	initFn = func(rank, index int) string {
		return fmt.Sprintf("%d_%d", rank, index%chunkFactor)
	}
	checkFn = func(rank, index int) string {
		return fmt.Sprintf("%d_%d", index/chunkFactor, index%chunkFactor)
	}
	return initFn, checkFn
}

// AllToAllFuncs returns the init_fn/check_fn pair for the (uniform)
// alltoall verifier: rank r's input is partitioned into num_ranks
// groups of cf chunks, one destined for each peer.
func AllToAllFuncs(chunkFactor int) (initFn, checkFn DataFunc) {
	initFn = func(rank, index int) string {
		return fmt.Sprintf("%d_%d_%d", rank, index/chunkFactor, index%chunkFactor)
	}
	checkFn = func(rank, index int) string {
		return fmt.Sprintf("%d_%d_%d", index/chunkFactor, rank, index%chunkFactor)
	}
	return initFn, checkFn
}
