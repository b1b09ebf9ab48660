package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"gpusim/pkg/plan"
)

func TestThreadBlockInitializeRejectsSendAfterRCS(t *testing.T) {
	raw := plan.TB{ID: 0, Send: -1, Recv: -1, Chan: 0, Steps: []plan.Step{
		{S: 0, Type: "rcs", SrcBuf: "s", SrcOff: 0, DstBuf: "s", DstOff: 0, Cnt: 1, DepID: -1, Deps: -1, HasDep: 0},
		{S: 1, Type: "s", SrcBuf: "s", SrcOff: 0, DstBuf: "s", DstOff: 0, Cnt: 1, DepID: -1, Deps: -1, HasDep: 0},
	}}
	rank := &GpuRank{RankID: 0}
	tb := &ThreadBlock{}

	err := tb.initialize(context.Background(), raw, rank)
	require.Error(t, err)
	var shapeErr *PlanShapeError
	require.ErrorAs(t, err, &shapeErr)
}

func TestThreadBlockInitializeRejectsRecvBeforeRCS(t *testing.T) {
	raw := plan.TB{ID: 0, Send: -1, Recv: -1, Chan: 0, Steps: []plan.Step{
		{S: 0, Type: "r", SrcBuf: "s", SrcOff: 0, DstBuf: "s", DstOff: 0, Cnt: 1, DepID: -1, Deps: -1, HasDep: 0},
		{S: 1, Type: "rcs", SrcBuf: "s", SrcOff: 0, DstBuf: "s", DstOff: 0, Cnt: 1, DepID: -1, Deps: -1, HasDep: 0},
	}}
	rank := &GpuRank{RankID: 0}
	tb := &ThreadBlock{}

	err := tb.initialize(context.Background(), raw, rank)
	require.Error(t, err)
	var shapeErr *PlanShapeError
	require.ErrorAs(t, err, &shapeErr)
}

func TestThreadBlockInitializeRejectsSelfLoop(t *testing.T) {
	raw := plan.TB{ID: 0, Send: 0, Recv: -1, Chan: 0}
	rank := &GpuRank{RankID: 0}
	tb := &ThreadBlock{}

	err := tb.initialize(context.Background(), raw, rank)
	require.Error(t, err)
	var shapeErr *PlanShapeError
	require.ErrorAs(t, err, &shapeErr)
}

func TestThreadBlockInitializeRejectsTooManyInstructions(t *testing.T) {
	steps := make([]plan.Step, 257)
	for i := range steps {
		steps[i] = plan.Step{S: i, Type: "nop", SrcBuf: "i", DstBuf: "o", Cnt: 0, DepID: -1, Deps: -1, HasDep: 0}
	}
	raw := plan.TB{ID: 0, Send: -1, Recv: -1, Chan: 0, Steps: steps}
	rank := &GpuRank{RankID: 0}
	tb := &ThreadBlock{}

	err := tb.initialize(context.Background(), raw, rank)
	require.Error(t, err)
	var shapeErr *PlanShapeError
	require.ErrorAs(t, err, &shapeErr)
}

func TestExecCopyRejectsOutOfBoundsDestination(t *testing.T) {
	rank := &GpuRank{RankID: 0}
	rank.input = []Chunk{"a"}
	rank.output = []Chunk{}
	tb := &ThreadBlock{TBID: 0, rank: rank}
	inst := Instruction{Step: 0, Op: OpCopy, SrcBuf: BufferInput, SrcOff: 0, DstBuf: BufferOutput, DstOff: 0, NChunks: 1}

	err := tb.execCopy(inst, 0)
	require.Error(t, err)
	var boundsErr *BufferBoundsError
	require.ErrorAs(t, err, &boundsErr)
}

func TestExecCopyWritesDestination(t *testing.T) {
	rank := &GpuRank{RankID: 0}
	rank.input = []Chunk{"x"}
	rank.output = []Chunk{""}
	tb := &ThreadBlock{TBID: 0, rank: rank}
	inst := Instruction{Step: 0, Op: OpCopy, SrcBuf: BufferInput, SrcOff: 0, DstBuf: BufferOutput, DstOff: 0, NChunks: 1}

	err := tb.execCopy(inst, 0)
	require.NoError(t, err)
	require.Equal(t, "x", rank.output[0])
}

func TestExecSendThenExecRecvRoundTrips(t *testing.T) {
	senderRank := &GpuRank{RankID: 0}
	senderRank.output = []Chunk{"hello"}
	receiverRank := &GpuRank{RankID: 1}
	receiverRank.output = []Chunk{""}

	mb := NewMailbox()
	sender := &ThreadBlock{TBID: 0, rank: senderRank, sendMailbox: mb}
	receiver := &ThreadBlock{TBID: 1, rank: receiverRank, recvMailbox: mb}

	sendInst := Instruction{Step: 0, Op: OpSend, SrcBuf: BufferOutput, SrcOff: 0, DstBuf: BufferOutput, DstOff: 0, NChunks: 1}
	require.NoError(t, sender.execSend(sendInst, 0))

	recvInst := Instruction{Step: 0, Op: OpRecv, SrcBuf: BufferOutput, SrcOff: 0, DstBuf: BufferOutput, DstOff: 0, NChunks: 1}
	require.NoError(t, receiver.execRecv(context.Background(), recvInst, 0))
	require.Equal(t, "hello", receiverRank.output[0])
}

func TestExecRecvRejectsMismatchedMetadata(t *testing.T) {
	rank := &GpuRank{RankID: 1}
	rank.output = []Chunk{""}
	mb := NewMailbox()
	mb.Send(Message{Chunks: []Chunk{"v"}, SrcBuf: BufferOutput, SrcOff: 5, DstBuf: BufferOutput, DstOff: 0})
	tb := &ThreadBlock{TBID: 0, rank: rank, recvMailbox: mb}

	inst := Instruction{Step: 0, Op: OpRecv, SrcBuf: BufferOutput, SrcOff: 0, DstBuf: BufferOutput, DstOff: 0, NChunks: 1}
	err := tb.execRecv(context.Background(), inst, 0)
	require.Error(t, err)
	var mismatchErr *MessageMismatchError
	require.ErrorAs(t, err, &mismatchErr)
}
