package engine

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/pkg/errors"

	"gpusim/pkg/plan"
)

// ThreadBlock owns an ordered instruction list and its two mailbox
// endpoints; it interprets instructions one step at a time.
// send_peer/recv_peer < 0 means the threadblock never sends/receives
// on that side.
type ThreadBlock struct {
	TBID         int
	SendPeer     int
	RecvPeer     int
	ChanID       int
	Instructions []Instruction

	sendMailbox *Mailbox
	recvMailbox *Mailbox
	rank        *GpuRank // non-owning back-reference
}

func (tb *ThreadBlock) initialize(ctx context.Context, raw plan.TB, rank *GpuRank) error {
	tb.TBID = raw.ID
	tb.SendPeer = raw.Send
	tb.RecvPeer = raw.Recv
	tb.ChanID = raw.Chan
	tb.rank = rank

	if tb.SendPeer >= 0 {
		if tb.SendPeer == rank.RankID {
			return &PlanShapeError{Rank: rank.RankID, TB: tb.TBID, Reason: "threadblock cannot send to its own rank"}
		}
		mb, _ := rank.group.mailboxManager.GetSendMailbox(rank.RankID, tb.SendPeer, tb.ChanID)
		tb.sendMailbox = mb
	}
	if tb.RecvPeer >= 0 {
		if tb.RecvPeer == rank.RankID {
			return &PlanShapeError{Rank: rank.RankID, TB: tb.TBID, Reason: "threadblock cannot receive from its own rank"}
		}
		mb, ok := rank.group.mailboxManager.GetRecvMailbox(ctx, tb.RecvPeer, rank.RankID, tb.ChanID)
		if !ok {
			return &RendezvousTimeoutError{SendRank: tb.RecvPeer, RecvRank: rank.RankID, Chan: tb.ChanID}
		}
		tb.recvMailbox = mb
	}

	return tb.loadInstructions(raw.Steps)
}

func (tb *ThreadBlock) loadInstructions(steps []plan.Step) error {
	if len(steps) > 256 {
		return &PlanShapeError{Rank: tb.rank.RankID, TB: tb.TBID,
			Reason: fmt.Sprintf("too many instructions: %d exceeds the limit of 256", len(steps))}
	}

	tb.Instructions = make([]Instruction, 0, len(steps))
	for i, raw := range steps {
		inst, err := newInstruction(raw)
		if err != nil {
			return errors.Wrapf(err, "rank %d threadblock %d", tb.rank.RankID, tb.TBID)
		}
		if inst.Step != i {
			return &PlanLoadError{Reason: fmt.Sprintf(
				"rank %d threadblock %d: instructions out of order at index %d (step=%d)",
				tb.rank.RankID, tb.TBID, i, inst.Step)}
		}
		tb.Instructions = append(tb.Instructions, inst)
	}

	// No recv may precede an rcs and no send may follow one: every send
	// comes before the first rcs and every recv after the last rcs.
	firstRecv, lastSend := len(tb.Instructions), -1
	firstRCS, lastRCS := len(tb.Instructions), -1
	for i, inst := range tb.Instructions {
		switch inst.Op {
		case OpRecv:
			if i < firstRecv {
				firstRecv = i
			}
		case OpSend:
			if i > lastSend {
				lastSend = i
			}
		case OpRCS:
			if i < firstRCS {
				firstRCS = i
			}
			if i > lastRCS {
				lastRCS = i
			}
		}
	}
	if firstRecv < lastRCS {
		return &PlanShapeError{Rank: tb.rank.RankID, TB: tb.TBID, Reason: "a recv instruction precedes an rcs instruction"}
	}
	if lastSend > firstRCS {
		return &PlanShapeError{Rank: tb.rank.RankID, TB: tb.TBID, Reason: "a send instruction follows an rcs instruction"}
	}
	return nil
}

func boundsOK(buf []Chunk, off, n int) bool {
	return off >= 0 && n >= 0 && off+n <= len(buf)
}

// ExecuteStep runs the single instruction at idx: dependency wait,
// op dispatch, completion publish.
func (tb *ThreadBlock) ExecuteStep(ctx context.Context, idx int) error {
	inst := tb.Instructions[idx]

	if inst.DepTB >= 0 {
		if !tb.rank.waitForStep(ctx, inst.DepTB, inst.DepStep) {
			return &DependencyTimeoutError{Rank: tb.rank.RankID, TB: tb.TBID, Step: idx, DepTB: inst.DepTB, DepStep: inst.DepStep}
		}
	}

	var err error
	switch inst.Op {
	case OpNop:
		// no effect
	case OpCopy:
		err = tb.execCopy(inst, idx)
	case OpSend:
		err = tb.execSend(inst, idx)
	case OpRecv:
		err = tb.execRecv(ctx, inst, idx)
	case OpRCS:
		err = tb.execRCS(ctx, inst, idx)
	}
	if err != nil {
		return err
	}

	if inst.HasDep {
		tb.rank.publishStep(tb.TBID, idx)
	}
	return nil
}

func (tb *ThreadBlock) execCopy(inst Instruction, idx int) error {
	src := tb.rank.buffer(inst.SrcBuf)
	dst := tb.rank.buffer(inst.DstBuf)
	if !boundsOK(src, inst.SrcOff, inst.NChunks) {
		return &BufferBoundsError{Rank: tb.rank.RankID, TB: tb.TBID, Step: idx, Reason: "copy source offset out of bounds"}
	}
	if !boundsOK(dst, inst.DstOff, inst.NChunks) {
		return &BufferBoundsError{Rank: tb.rank.RankID, TB: tb.TBID, Step: idx, Reason: "copy destination offset out of bounds"}
	}
	copy(dst[inst.DstOff:inst.DstOff+inst.NChunks], src[inst.SrcOff:inst.SrcOff+inst.NChunks])
	return nil
}

func (tb *ThreadBlock) execSend(inst Instruction, idx int) error {
	src := tb.rank.buffer(inst.SrcBuf)
	if !boundsOK(src, inst.SrcOff, inst.NChunks) {
		return &BufferBoundsError{Rank: tb.rank.RankID, TB: tb.TBID, Step: idx, Reason: "send source offset out of bounds"}
	}
	chunks := make([]Chunk, inst.NChunks)
	copy(chunks, src[inst.SrcOff:inst.SrcOff+inst.NChunks])
	tb.sendMailbox.Send(Message{
		Chunks: chunks,
		SrcBuf: inst.SrcBuf, SrcOff: inst.SrcOff,
		DstBuf: inst.DstBuf, DstOff: inst.DstOff,
	})
	return nil
}

func (tb *ThreadBlock) matchesInstruction(msg Message, inst Instruction) bool {
	return msg.SrcBuf == inst.SrcBuf && msg.SrcOff == inst.SrcOff &&
		msg.DstBuf == inst.DstBuf && msg.DstOff == inst.DstOff &&
		len(msg.Chunks) == inst.NChunks
}

func (tb *ThreadBlock) execRecv(ctx context.Context, inst Instruction, idx int) error {
	msg, ok := tb.recvMailbox.Receive(ctx)
	if !ok {
		return &ReceiveTimeoutError{Rank: tb.rank.RankID, TB: tb.TBID, Step: idx}
	}
	if !tb.matchesInstruction(msg, inst) {
		return &MessageMismatchError{Rank: tb.rank.RankID, TB: tb.TBID, Step: idx,
			Reason: "received message metadata disagrees with this instruction"}
	}
	dst := tb.rank.buffer(inst.DstBuf)
	if !boundsOK(dst, inst.DstOff, len(msg.Chunks)) {
		return &BufferBoundsError{Rank: tb.rank.RankID, TB: tb.TBID, Step: idx, Reason: "recv destination offset out of bounds"}
	}
	copy(dst[inst.DstOff:inst.DstOff+len(msg.Chunks)], msg.Chunks)
	return nil
}

// execRCS receives into the destination, then re-reads the
// destination buffer to build the outgoing payload rather than
// forwarding the received chunks directly. The re-read is
// deliberate: it is the slot where a future combine/transform step
// would apply; none is applied today.
func (tb *ThreadBlock) execRCS(ctx context.Context, inst Instruction, idx int) error {
	msg, ok := tb.recvMailbox.Receive(ctx)
	if !ok {
		return &ReceiveTimeoutError{Rank: tb.rank.RankID, TB: tb.TBID, Step: idx}
	}
	if !tb.matchesInstruction(msg, inst) {
		return &MessageMismatchError{Rank: tb.rank.RankID, TB: tb.TBID, Step: idx,
			Reason: "received message metadata disagrees with this instruction"}
	}
	dst := tb.rank.buffer(inst.DstBuf)
	if !boundsOK(dst, inst.DstOff, len(msg.Chunks)) {
		return &BufferBoundsError{Rank: tb.rank.RankID, TB: tb.TBID, Step: idx, Reason: "rcs destination offset out of bounds"}
	}
	copy(dst[inst.DstOff:inst.DstOff+len(msg.Chunks)], msg.Chunks)

	outChunks := make([]Chunk, len(msg.Chunks))
	copy(outChunks, dst[inst.DstOff:inst.DstOff+len(msg.Chunks)])
	tb.sendMailbox.Send(Message{
		Chunks: outChunks,
		SrcBuf: inst.DstBuf, SrcOff: inst.DstOff,
		DstBuf: inst.DstBuf, DstOff: inst.DstOff,
	})
	return nil
}

// ExecuteInstructions runs every step in order, preceded by a random
// jitter meant to break startup synchronization across threadblocks
// and shake out ordering bugs.
func (tb *ThreadBlock) ExecuteInstructions(ctx context.Context) error {
	jitterBudget := int64(MaxTries) * int64(SleepTime)
	if jitterBudget > 0 {
		time.Sleep(time.Duration(rand.Int63n(jitterBudget)))
	}
	for i := range tb.Instructions {
		if err := tb.ExecuteStep(ctx, i); err != nil {
			return errors.Wrapf(err, "rank %d threadblock %d", tb.rank.RankID, tb.TBID)
		}
	}
	return nil
}
