package engine

import (
	"fmt"

	"github.com/pkg/errors"

	"gpusim/pkg/plan"
)

// OpKind tags the five instruction forms a threadblock can execute.
type OpKind int

const (
	OpCopy OpKind = iota
	OpSend
	OpRecv
	OpRCS
	OpNop
)

func (o OpKind) String() string {
	switch o {
	case OpCopy:
		return "copy"
	case OpSend:
		return "send"
	case OpRecv:
		return "recv"
	case OpRCS:
		return "rcs"
	case OpNop:
		return "nop"
	default:
		return fmt.Sprintf("OpKind(%d)", int(o))
	}
}

func parseOp(s string) (OpKind, error) {
	switch s {
	case "cpy":
		return OpCopy, nil
	case "s":
		return OpSend, nil
	case "r":
		return OpRecv, nil
	case "nop":
		return OpNop, nil
	case "rcs":
		return OpRCS, nil
	default:
		return 0, errors.Errorf("plan load: unknown instruction type %q", s)
	}
}

// BufferKind names one of a rank's three symbolic buffers.
type BufferKind int

const (
	BufferInput BufferKind = iota
	BufferOutput
	BufferScratch
)

func (b BufferKind) String() string {
	switch b {
	case BufferInput:
		return "input"
	case BufferOutput:
		return "output"
	case BufferScratch:
		return "scratch"
	default:
		return fmt.Sprintf("BufferKind(%d)", int(b))
	}
}

func parseBuffer(s string) (BufferKind, error) {
	switch s {
	case "i":
		return BufferInput, nil
	case "o":
		return BufferOutput, nil
	case "s":
		return BufferScratch, nil
	default:
		return 0, errors.Errorf("plan load: unknown buffer kind %q", s)
	}
}

// Instruction is one parsed and validated plan step.
type Instruction struct {
	Step    int
	Op      OpKind
	SrcBuf  BufferKind
	SrcOff  int
	DstBuf  BufferKind
	DstOff  int
	NChunks int
	DepTB   int
	DepStep int
	HasDep  bool
}

// newInstruction converts a raw plan.Step into a validated
// Instruction, enforcing the op/dependency/rcs invariants from the
// data model.
func newInstruction(raw plan.Step) (Instruction, error) {
	op, err := parseOp(raw.Type)
	if err != nil {
		return Instruction{}, errors.Wrapf(err, "step %d", raw.S)
	}
	srcBuf, err := parseBuffer(raw.SrcBuf)
	if err != nil {
		return Instruction{}, errors.Wrapf(err, "step %d", raw.S)
	}
	dstBuf, err := parseBuffer(raw.DstBuf)
	if err != nil {
		return Instruction{}, errors.Wrapf(err, "step %d", raw.S)
	}

	inst := Instruction{
		Step:    raw.S,
		Op:      op,
		SrcBuf:  srcBuf,
		SrcOff:  raw.SrcOff,
		DstBuf:  dstBuf,
		DstOff:  raw.DstOff,
		NChunks: raw.Cnt,
		DepTB:   raw.DepID,
		DepStep: raw.Deps,
		HasDep:  raw.HasDep != 0,
	}

	if (inst.DepTB >= 0) != (inst.DepStep >= 0) {
		return Instruction{}, &PlanLoadError{
			Reason: fmt.Sprintf("step %d: dep_tbid and dep_step must both be negative or both non-negative, got (%d, %d)",
				inst.Step, inst.DepTB, inst.DepStep),
		}
	}

	if inst.Op == OpRCS {
		if inst.SrcBuf != inst.DstBuf || inst.SrcOff != inst.DstOff {
			return Instruction{}, &PlanLoadError{
				Reason: fmt.Sprintf("step %d: rcs requires src_buf==dst_buf and src_off==dst_off", inst.Step),
			}
		}
	}

	if inst.Op != OpNop {
		if inst.NChunks < 1 || inst.NChunks > 71 {
			return Instruction{}, &PlanLoadError{
				Reason: fmt.Sprintf("step %d: n_chunks must be in [1,71], got %d", inst.Step, inst.NChunks),
			}
		}
	}

	return inst, nil
}
