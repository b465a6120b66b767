package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
)

// Call states as tracked by the per-call state machine.
const (
	CallStateInviting   = "inviting"
	CallStateRinging    = "ringing"
	CallStateAnswered   = "answered"
	CallStateTerminated = "terminated"
)

// ClientContext is a point-in-time snapshot of one logged-in client. Table
// methods return copies; mutation happens only through the table under its
// lock.
type ClientContext struct {
	ID            uuid.UUID
	Name          string
	Status        byte
	Addr          string
	Expire        time.Time
	LastKeepAlive time.Time

	// CallID is the client's current call, zero when idle.
	CallID uuid.UUID
}

// InCall reports whether the client is currently paired into a call.
func (c ClientContext) InCall() bool { return c.CallID != uuid.Nil }

// CallContext is a point-in-time snapshot of one in-progress call.
type CallContext struct {
	ID         uuid.UUID
	Caller     uuid.UUID
	Callee     uuid.UUID
	StartTime  time.Time
	AnswerTime time.Time
	EndTime    time.Time
	Codec      byte
	State      string
}

// clientEntry is the mutable table-internal record behind ClientContext.
type clientEntry struct {
	id            uuid.UUID
	name          string
	status        byte
	addr          string
	expire        time.Time
	lastKeepAlive time.Time
	call          *callEntry
}

func (e *clientEntry) snapshot() ClientContext {
	c := ClientContext{
		ID:            e.id,
		Name:          e.name,
		Status:        e.status,
		Addr:          e.addr,
		Expire:        e.expire,
		LastKeepAlive: e.lastKeepAlive,
	}
	if e.call != nil {
		c.CallID = e.call.id
	}
	return c
}

// callEntry is the mutable table-internal record behind CallContext.
type callEntry struct {
	id         uuid.UUID
	caller     uuid.UUID
	callee     uuid.UUID
	startTime  time.Time
	answerTime time.Time
	endTime    time.Time
	codec      byte
	machine    *fsm.FSM
}

func newCallEntry(id, caller, callee uuid.UUID, now time.Time) *callEntry {
	e := &callEntry{
		id:        id,
		caller:    caller,
		callee:    callee,
		startTime: now,
	}
	e.machine = fsm.NewFSM(
		CallStateInviting,
		fsm.Events{
			{Name: "ring", Src: []string{CallStateInviting}, Dst: CallStateRinging},
			{Name: "answer", Src: []string{CallStateInviting, CallStateRinging}, Dst: CallStateAnswered},
			{Name: "terminate", Src: []string{CallStateInviting, CallStateRinging, CallStateAnswered}, Dst: CallStateTerminated},
		},
		fsm.Callbacks{},
	)
	return e
}

func (e *callEntry) fire(event string) error {
	return e.machine.Event(context.Background(), event)
}

func (e *callEntry) snapshot() CallContext {
	return CallContext{
		ID:         e.id,
		Caller:     e.caller,
		Callee:     e.callee,
		StartTime:  e.startTime,
		AnswerTime: e.answerTime,
		EndTime:    e.endTime,
		Codec:      e.codec,
		State:      e.machine.Current(),
	}
}

// Other returns the counterparty of the given participant, or false when
// the participant is not part of this call.
func (e *callEntry) other(participant uuid.UUID) (uuid.UUID, bool) {
	switch participant {
	case e.caller:
		return e.callee, true
	case e.callee:
		return e.caller, true
	}
	return uuid.Nil, false
}
