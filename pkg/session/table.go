package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrCapacity reports that the concurrent-session cap is reached.
	// Callers reply with a server-overloaded message.
	ErrCapacity = errors.New("session: capacity reached")

	// ErrCallerGone and ErrCalleeGone report a NewCall against a client
	// that is no longer in the table.
	ErrCallerGone = errors.New("session: caller context gone")
	ErrCalleeGone = errors.New("session: callee context gone")

	// ErrCalleeBusy reports a callee already paired into a different call.
	ErrCalleeBusy = errors.New("session: callee busy")
)

// Table is the concurrent store of active client and call sessions. All
// state is guarded by one coarse mutex: session churn is orders of
// magnitude slower than packet rate, so simplicity wins over per-entry
// locking.
type Table struct {
	logger   *logrus.Logger
	capacity int
	window   time.Duration

	mu      sync.Mutex
	clients map[uuid.UUID]*clientEntry
	calls   map[uuid.UUID]*callEntry
}

// NewTable creates a context table with the given concurrent-session
// capacity and client-expiry window.
func NewTable(logger *logrus.Logger, capacity int, window time.Duration) *Table {
	return &Table{
		logger:   logger,
		capacity: capacity,
		window:   window,
		clients:  make(map[uuid.UUID]*clientEntry),
		calls:    make(map[uuid.UUID]*callEntry),
	}
}

// AddClient registers a logged-in client and returns its context snapshot.
// Logging in again refreshes the existing entry instead of consuming
// capacity. Beyond capacity the add is refused with ErrCapacity.
func (t *Table) AddClient(name, addr string, status byte) (ClientContext, error) {
	id := ClientCtx(name)
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.clients[id]; ok {
		e.addr = addr
		e.status = status
		e.expire = now.Add(t.window)
		e.lastKeepAlive = now
		return e.snapshot(), nil
	}
	if len(t.clients) >= t.capacity {
		return ClientContext{}, ErrCapacity
	}
	e := &clientEntry{
		id:            id,
		name:          name,
		status:        status,
		addr:          addr,
		expire:        now.Add(t.window),
		lastKeepAlive: now,
	}
	t.clients[id] = e
	return e.snapshot(), nil
}

// RemoveClient deletes a client. A current call is terminated first so the
// counterparty is never left pointing at a dead context.
func (t *Table) RemoveClient(id uuid.UUID) (ClientContext, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(id)
}

func (t *Table) removeLocked(id uuid.UUID) (ClientContext, bool) {
	e, ok := t.clients[id]
	if !ok {
		return ClientContext{}, false
	}
	if e.call != nil {
		t.terminateLocked(e.call.id)
	}
	snap := e.snapshot()
	delete(t.clients, id)
	return snap, true
}

// Touch refreshes the client's keep-alive stamp and resets the expiry to
// now plus the window. Touching twice is not cumulative. Unknown clients
// are a no-op.
func (t *Table) Touch(id uuid.UUID) bool {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.clients[id]
	if !ok {
		return false
	}
	e.lastKeepAlive = now
	e.expire = now.Add(t.window)
	return true
}

// UpdateAddr records a new source address for a client, handling UDP NAT
// rebinding and roaming.
func (t *Table) UpdateAddr(id uuid.UUID, addr string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.clients[id]
	if !ok {
		return false
	}
	if e.addr != addr {
		t.logger.WithFields(logrus.Fields{
			"client": e.name,
			"old":    e.addr,
			"new":    addr,
		}).Debug("Client address migrated")
		e.addr = addr
	}
	return true
}

// Client returns a snapshot of a client context.
func (t *Table) Client(id uuid.UUID) (ClientContext, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.clients[id]
	if !ok {
		return ClientContext{}, false
	}
	return e.snapshot(), true
}

// NewCall pairs caller and callee into a new call context. When the callee
// is already in a call with this same caller the existing call is returned
// with retransmit set, so a duplicate UDP invite is not double-rejected.
// A callee paired with anyone else yields ErrCalleeBusy.
func (t *Table) NewCall(caller, callee uuid.UUID) (call CallContext, retransmit bool, err error) {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	callerE, ok := t.clients[caller]
	if !ok {
		return CallContext{}, false, ErrCallerGone
	}
	calleeE, ok := t.clients[callee]
	if !ok {
		return CallContext{}, false, ErrCalleeGone
	}
	if calleeE.call != nil {
		if calleeE.call.caller == caller && calleeE.call.callee == callee {
			return calleeE.call.snapshot(), true, nil
		}
		return CallContext{}, false, ErrCalleeBusy
	}

	e := newCallEntry(CallCtx(caller, callee), caller, callee, now)
	t.calls[e.id] = e
	callerE.call = e
	calleeE.call = e
	return e.snapshot(), false, nil
}

// FindCall returns a snapshot of an in-progress call. A call already torn
// down by the other leg of a hangup race is a definite not-found, never a
// fault.
func (t *Table) FindCall(id uuid.UUID) (CallContext, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.calls[id]
	if !ok {
		return CallContext{}, false
	}
	return e.snapshot(), true
}

// OtherParty resolves the counterparty of participant in the given call and
// returns its client snapshot.
func (t *Table) OtherParty(callID, participant uuid.UUID) (ClientContext, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	call, ok := t.calls[callID]
	if !ok {
		return ClientContext{}, false
	}
	otherID, ok := call.other(participant)
	if !ok {
		return ClientContext{}, false
	}
	other, ok := t.clients[otherID]
	if !ok {
		return ClientContext{}, false
	}
	return other.snapshot(), true
}

// RingCall marks an inviting call as ringing.
func (t *Table) RingCall(id uuid.UUID) (CallContext, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.calls[id]
	if !ok {
		return CallContext{}, false
	}
	if err := e.fire("ring"); err != nil {
		t.logger.WithError(err).WithField("call", id).Debug("Ring transition refused")
	}
	return e.snapshot(), true
}

// AnswerCall stamps the answer time and the negotiated codec.
func (t *Table) AnswerCall(id uuid.UUID, codec byte) (CallContext, bool) {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.calls[id]
	if !ok {
		return CallContext{}, false
	}
	if err := e.fire("answer"); err != nil {
		t.logger.WithError(err).WithField("call", id).Debug("Answer transition refused")
		return e.snapshot(), true
	}
	e.answerTime = now
	e.codec = codec
	return e.snapshot(), true
}

// TerminateCall stamps the end time, clears both parties' current call and
// removes the call from the table.
func (t *Table) TerminateCall(id uuid.UUID) (CallContext, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.terminateLocked(id)
}

func (t *Table) terminateLocked(id uuid.UUID) (CallContext, bool) {
	e, ok := t.calls[id]
	if !ok {
		return CallContext{}, false
	}
	if err := e.fire("terminate"); err != nil {
		t.logger.WithError(err).WithField("call", id).Debug("Terminate transition refused")
	}
	e.endTime = time.Now()
	for _, participant := range []uuid.UUID{e.caller, e.callee} {
		if c, ok := t.clients[participant]; ok && c.call == e {
			c.call = nil
		}
	}
	delete(t.calls, id)
	return e.snapshot(), true
}

// SweepExpired removes every client whose expiry is in the past and then
// clears orphaned call references. Returns the removed client snapshots.
func (t *Table) SweepExpired(now time.Time) []ClientContext {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []uuid.UUID
	for id, e := range t.clients {
		if e.expire.Before(now) {
			expired = append(expired, id)
		}
	}
	removed := make([]ClientContext, 0, len(expired))
	for _, id := range expired {
		if snap, ok := t.removeLocked(id); ok {
			t.logger.WithFields(logrus.Fields{
				"client": snap.Name,
				"expire": snap.Expire,
			}).Info("Removing expired client")
			removed = append(removed, snap)
		}
	}
	t.clearOrphanCallsLocked()
	return removed
}

// clearOrphanCallsLocked drops call references whose counterparty vanished
// or points at a different call.
func (t *Table) clearOrphanCallsLocked() {
	for _, e := range t.clients {
		if e.call == nil {
			continue
		}
		otherID, ok := e.call.other(e.id)
		if !ok {
			e.call = nil
			continue
		}
		other, exists := t.clients[otherID]
		if !exists || other.call != e.call {
			t.logger.WithFields(logrus.Fields{
				"client": e.name,
				"call":   e.call.id,
			}).Warn("Clearing orphaned call reference")
			delete(t.calls, e.call.id)
			e.call = nil
		}
	}
}

// NumClients returns the number of active client contexts.
func (t *Table) NumClients() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.clients)
}

// NumCalls returns the number of in-progress calls.
func (t *Table) NumCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// Window returns the configured client-expiry window.
func (t *Table) Window() time.Duration { return t.window }
