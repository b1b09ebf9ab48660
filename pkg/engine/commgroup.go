package engine

import (
	"context"
	"fmt"
	"sync"

	"gpusim/pkg/plan"
)

// CommGroup is the root aggregate: it builds ranks, validates the
// channel layout, and drives execution iterations. It exclusively
// owns the MailboxManager and every GpuRank.
type CommGroup struct {
	Collective string

	ranks          []*GpuRank
	mailboxManager *MailboxManager

	chunkFactor int
	numChunks   int
	numChannels int
}

// NewCommGroup returns an empty, un-initialized group.
func NewCommGroup() *CommGroup {
	return &CommGroup{mailboxManager: NewMailboxManager()}
}

// Initialize validates the group-level attributes, then builds and
// initializes every rank concurrently, finishing with the mailbox
// manager's post-build invariants.
func (g *CommGroup) Initialize(ctx context.Context, root *plan.Root) error {
	if root.NumChannels > 32 {
		return &PlanShapeError{Rank: -1, TB: -1,
			Reason: fmt.Sprintf("number of channels %d exceeds the limit of 32", root.NumChannels)}
	}
	if root.NumChunksPerLoop <= 0 || root.NumChunksPerLoop&(root.NumChunksPerLoop-1) != 0 {
		return &PlanShapeError{Rank: -1, TB: -1,
			Reason: fmt.Sprintf("nchunksperloop %d must be a power of two", root.NumChunksPerLoop)}
	}
	if root.OutOfPlace != 1 {
		return &PlanShapeError{Rank: -1, TB: -1, Reason: "only out-of-place collectives are supported (outofplace must be 1)"}
	}
	if len(root.GPUs) != root.NumGPUs {
		return &PlanLoadError{Reason: fmt.Sprintf("ngpus declares %d ranks but %d <gpu> elements were found", root.NumGPUs, len(root.GPUs))}
	}

	g.Collective = root.Coll
	g.numChunks = root.NumChunksPerLoop
	g.numChannels = root.NumChannels

	g.ranks = make([]*GpuRank, len(root.GPUs))
	for i, gpuRaw := range root.GPUs {
		if gpuRaw.ID != i {
			return &PlanLoadError{Reason: fmt.Sprintf("ranks out of order at index %d (id=%d)", i, gpuRaw.ID)}
		}
		g.ranks[i] = &GpuRank{}
	}

	var wg sync.WaitGroup
	errs := make([]error, len(root.GPUs))
	for i, gpuRaw := range root.GPUs {
		wg.Add(1)
		go func(i int, gpuRaw plan.GPU) {
			defer wg.Done()
			errs[i] = g.ranks[i].initialize(ctx, gpuRaw, g)
		}(i, gpuRaw)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	if !g.mailboxManager.NoPendingConnections() {
		return &ResidualPendingConnectionError{}
	}
	if !g.mailboxManager.ValidChannelLayout() {
		return &InvalidChannelLayoutError{}
	}
	return nil
}

// Execute spawns one worker per rank, each of which drives its own
// threadblocks, and waits for all ranks to complete or the first to
// fail.
func (g *CommGroup) Execute(ctx context.Context) error {
	var wg sync.WaitGroup
	errs := make([]error, len(g.ranks))
	for i, r := range g.ranks {
		wg.Add(1)
		go func(i int, r *GpuRank) {
			defer wg.Done()
			errs[i] = r.Execute(ctx)
		}(i, r)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// InitData fans the init hook out to every rank.
func (g *CommGroup) InitData(initFn func(rank, index int) Chunk, n int) error {
	for _, r := range g.ranks {
		if err := r.InitData(initFn, n); err != nil {
			return err
		}
	}
	return nil
}

// CheckData fans the check hook out to every rank.
func (g *CommGroup) CheckData(checkFn func(rank, index int) Chunk, n int) error {
	for _, r := range g.ranks {
		if err := r.CheckData(checkFn, n); err != nil {
			return err
		}
	}
	return nil
}

// NoPendingMessages asserts no established mailbox still holds a
// message; meant to be called after each Execute.
func (g *CommGroup) NoPendingMessages() error {
	if g.mailboxManager.NoPendingMessages() {
		return nil
	}
	residual := g.mailboxManager.residualLinks()
	key := residual[0]
	return &ResidualMessageError{SendRank: key.SendRank, RecvRank: key.RecvRank, Chan: key.Chan}
}

// NumRanks returns the number of ranks in the group.
func (g *CommGroup) NumRanks() int { return len(g.ranks) }

// NumChunks returns nchunksperloop as declared by the plan.
func (g *CommGroup) NumChunks() int { return g.numChunks }

// NumChannels returns nchannels as declared by the plan.
func (g *CommGroup) NumChannels() int { return g.numChannels }

// SetChunkFactor records the verifier-specific chunk factor (e.g.
// num_chunks for allgather, num_chunks/num_ranks for alltoall-like
// collectives); the formula itself is supplied by the front-end.
func (g *CommGroup) SetChunkFactor(cf int) { g.chunkFactor = cf }

// ChunkFactor returns the value set by SetChunkFactor.
func (g *CommGroup) ChunkFactor() int { return g.chunkFactor }
