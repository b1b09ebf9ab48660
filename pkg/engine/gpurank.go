package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gpusim/pkg/plan"
)

type tbStep struct {
	TB, Step int
}

// GpuRank owns three symbolic buffers (input/output/scratch), a set
// of threadblocks, and the cross-threadblock "completed steps"
// registry other threadblocks in this rank may wait on. Buffers are
// logically shared across the rank's threadblocks but are not
// mutex-protected: the plan's explicit step dependencies are the
// concurrency contract.
type GpuRank struct {
	RankID int

	input   []Chunk
	output  []Chunk
	scratch []Chunk

	threadblocks []*ThreadBlock

	completedMu sync.Mutex
	completed   map[tbStep]bool

	group *CommGroup // non-owning back-reference
}

func (r *GpuRank) buffer(kind BufferKind) []Chunk {
	switch kind {
	case BufferInput:
		return r.input
	case BufferOutput:
		return r.output
	case BufferScratch:
		return r.scratch
	default:
		return nil
	}
}

func (r *GpuRank) waitForStep(ctx context.Context, tbid, step int) bool {
	key := tbStep{tbid, step}
	deadline := time.Now().Add(MaxTries * SleepTime)
	for tries := 0; tries < MaxTries && time.Now().Before(deadline); tries++ {
		r.completedMu.Lock()
		done := r.completed[key]
		r.completedMu.Unlock()
		if done {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(SleepTime):
		}
	}
	return false
}

func (r *GpuRank) publishStep(tbid, step int) {
	r.completedMu.Lock()
	r.completed[tbStep{tbid, step}] = true
	r.completedMu.Unlock()
}

// initialize parses i_chunks/o_chunks/s_chunks, allocates buffers,
// and initializes each threadblock concurrently so that rendezvous in
// the group's MailboxManager can match pending/established entries
// across threadblocks regardless of initialization order.
func (r *GpuRank) initialize(ctx context.Context, raw plan.GPU, group *CommGroup) error {
	if raw.IChunks < 0 || raw.OChunks < 0 || raw.SChunks < 0 {
		return &PlanLoadError{Reason: fmt.Sprintf("rank %d: buffer sizes must be non-negative", raw.ID)}
	}

	r.RankID = raw.ID
	r.group = group
	r.input = make([]Chunk, raw.IChunks)
	r.output = make([]Chunk, raw.OChunks)
	r.scratch = make([]Chunk, raw.SChunks)
	r.completed = make(map[tbStep]bool)

	if len(raw.TBs) > 77 {
		return &PlanShapeError{Rank: r.RankID, TB: -1,
			Reason: fmt.Sprintf("too many threadblocks: %d exceeds the limit of 77", len(raw.TBs))}
	}

	r.threadblocks = make([]*ThreadBlock, len(raw.TBs))
	for i, tbRaw := range raw.TBs {
		if tbRaw.ID != i {
			return &PlanLoadError{Reason: fmt.Sprintf(
				"rank %d: threadblocks out of order at index %d (id=%d)", r.RankID, i, tbRaw.ID)}
		}
		r.threadblocks[i] = &ThreadBlock{}
	}

	var wg sync.WaitGroup
	errs := make([]error, len(raw.TBs))
	for i, tbRaw := range raw.TBs {
		wg.Add(1)
		go func(i int, tbRaw plan.TB) {
			defer wg.Done()
			errs[i] = r.threadblocks[i].initialize(ctx, tbRaw, r)
		}(i, tbRaw)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	nodeCount := 1 // the rank's own <gpu> node
	for _, tb := range r.threadblocks {
		nodeCount += 1 + len(tb.Instructions) // the <tb> node plus each <step>
	}
	if nodeCount > 4096 {
		return &PlanShapeError{Rank: r.RankID, TB: -1,
			Reason: fmt.Sprintf("xml node count %d exceeds the limit of 4096", nodeCount)}
	}
	return nil
}

// Execute spawns one worker per threadblock and waits for all of
// them to complete or the first to fail.
func (r *GpuRank) Execute(ctx context.Context) error {
	var wg sync.WaitGroup
	errs := make([]error, len(r.threadblocks))
	for i, tb := range r.threadblocks {
		wg.Add(1)
		go func(i int, tb *ThreadBlock) {
			defer wg.Done()
			errs[i] = tb.ExecuteInstructions(ctx)
		}(i, tb)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// InitData fills input[i] = initFn(rankID, i) after asserting the
// input buffer size equals n.
func (r *GpuRank) InitData(initFn func(rank, index int) Chunk, n int) error {
	if len(r.input) != n {
		return &PlanLoadError{Reason: fmt.Sprintf(
			"rank %d: input buffer size %d does not match expected %d", r.RankID, len(r.input), n)}
	}
	for i := 0; i < n; i++ {
		r.input[i] = initFn(r.RankID, i)
	}
	return nil
}

// CheckData asserts the output buffer size equals n, then fails on
// the first index whose value disagrees with checkFn.
func (r *GpuRank) CheckData(checkFn func(rank, index int) Chunk, n int) error {
	if len(r.output) != n {
		return &PlanLoadError{Reason: fmt.Sprintf(
			"rank %d: output buffer size %d does not match expected %d", r.RankID, len(r.output), n)}
	}
	for i := 0; i < n; i++ {
		expected := checkFn(r.RankID, i)
		if r.output[i] != expected {
			return &DataMismatchError{Rank: r.RankID, Index: i, Expected: expected, Actual: r.output[i]}
		}
	}
	return nil
}
