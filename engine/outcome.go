package engine

import (
	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/interrupt"
	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/report"
)

// outcomeKind discriminates the Outcome variants.
type outcomeKind int

const (
	outcomeContinue outcomeKind = iota
	outcomeSuspend
	outcomeFail
)

// Outcome is the result of one stage invocation. Suspension is a first-class
// return path, not a panic or sentinel error: a stage either continues with
// a state delta, suspends with a delta plus the approval request to persist,
// or fails.
type Outcome struct {
	kind    outcomeKind
	delta   report.Delta
	request *interrupt.Request
	err     error
}

// Continue reports successful stage completion with a state delta.
func Continue(delta report.Delta) Outcome {
	return Outcome{kind: outcomeContinue, delta: delta}
}

// Suspend halts the turn: the delta (typically attempt increments and audit
// messages accumulated before the gate) is applied, the request is embedded
// in the checkpoint's pending writes, and the driver returns suspended=true.
func Suspend(delta report.Delta, req *interrupt.Request) Outcome {
	return Outcome{kind: outcomeSuspend, delta: delta, request: req}
}

// Fail aborts the turn with a stage error.
func Fail(err error) Outcome {
	return Outcome{kind: outcomeFail, err: err}
}

// Delta returns the state delta carried by the outcome.
func (o Outcome) Delta() report.Delta { return o.delta }

// Request returns the suspension request, nil unless the outcome suspends.
func (o Outcome) Request() *interrupt.Request { return o.request }

// Err returns the stage error, nil unless the outcome failed.
func (o Outcome) Err() error { return o.err }

// Suspended reports whether the outcome suspends the turn.
func (o Outcome) Suspended() bool { return o.kind == outcomeSuspend }

// Failed reports whether the outcome failed the turn.
func (o Outcome) Failed() bool { return o.kind == outcomeFail }
