package engine

import "fmt"

// PlanLoadError reports a missing/invalid attribute, out-of-range
// value, or misordered id discovered while loading a plan.
type PlanLoadError struct {
	Reason string
}

func (e *PlanLoadError) Error() string {
	return fmt.Sprintf("plan load: %s", e.Reason)
}

// PlanShapeError reports a structural violation: self-loop peer,
// recv-before-rcs, send-after-rcs, an over-budget count, a non-power-
// of-two chunk count, or an in-place collective.
type PlanShapeError struct {
	Rank   int
	TB     int
	Reason string
}

func (e *PlanShapeError) Error() string {
	if e.TB >= 0 {
		return fmt.Sprintf("plan shape: rank %d threadblock %d: %s", e.Rank, e.TB, e.Reason)
	}
	if e.Rank >= 0 {
		return fmt.Sprintf("plan shape: rank %d: %s", e.Rank, e.Reason)
	}
	return fmt.Sprintf("plan shape: %s", e.Reason)
}

// RendezvousTimeoutError reports that GetRecvMailbox exhausted its
// polling budget: the plan names a receiver for a (send,recv,chan)
// link that no sender ever requested.
type RendezvousTimeoutError struct {
	SendRank, RecvRank, Chan int
}

func (e *RendezvousTimeoutError) Error() string {
	return fmt.Sprintf("rendezvous timeout: no sender requested link send=%d recv=%d chan=%d within budget",
		e.SendRank, e.RecvRank, e.Chan)
}

// DependencyTimeoutError reports that a declared (dep_tbid, dep_step)
// dependency never became visible within the polling budget.
type DependencyTimeoutError struct {
	Rank, TB, Step   int
	DepTB, DepStep   int
}

func (e *DependencyTimeoutError) Error() string {
	return fmt.Sprintf("dependency timeout: rank %d threadblock %d step %d waiting on (tb=%d, step=%d)",
		e.Rank, e.TB, e.Step, e.DepTB, e.DepStep)
}

// ReceiveTimeoutError reports that a mailbox receive exhausted its
// polling budget.
type ReceiveTimeoutError struct {
	Rank, TB, Step int
}

func (e *ReceiveTimeoutError) Error() string {
	return fmt.Sprintf("receive timeout: rank %d threadblock %d step %d: no message arrived within budget",
		e.Rank, e.TB, e.Step)
}

// BufferBoundsError reports an instruction whose offsets run past the
// end of the named buffer.
type BufferBoundsError struct {
	Rank, TB, Step int
	Reason         string
}

func (e *BufferBoundsError) Error() string {
	return fmt.Sprintf("buffer bounds: rank %d threadblock %d step %d: %s", e.Rank, e.TB, e.Step, e.Reason)
}

// MessageMismatchError reports that a receiver's metadata disagreed
// with the sender's.
type MessageMismatchError struct {
	Rank, TB, Step int
	Reason         string
}

func (e *MessageMismatchError) Error() string {
	return fmt.Sprintf("message mismatch: rank %d threadblock %d step %d: %s", e.Rank, e.TB, e.Step, e.Reason)
}

// DataMismatchError reports that check_fn disagreed with the
// post-execution output buffer.
type DataMismatchError struct {
	Rank, Index      int
	Expected, Actual string
}

func (e *DataMismatchError) Error() string {
	return fmt.Sprintf("data mismatch: rank %d index %d: expected %q, got %q", e.Rank, e.Index, e.Expected, e.Actual)
}

// ResidualMessageError reports that an established mailbox still held
// a message after an iteration completed.
type ResidualMessageError struct {
	SendRank, RecvRank, Chan int
}

func (e *ResidualMessageError) Error() string {
	return fmt.Sprintf("residual message: link send=%d recv=%d chan=%d still had a pending message after the iteration",
		e.SendRank, e.RecvRank, e.Chan)
}

// ResidualPendingConnectionError reports that a sender requested a
// mailbox that no receiver ever picked up.
type ResidualPendingConnectionError struct{}

func (e *ResidualPendingConnectionError) Error() string {
	return "residual pending connection: a requested mailbox was never claimed by a receiver"
}

// InvalidChannelLayoutError reports that some channel's established
// links are not a partial matching on ranks.
type InvalidChannelLayoutError struct{}

func (e *InvalidChannelLayoutError) Error() string {
	return "invalid channel layout: a rank appears twice as sender or receiver on the same channel"
}
