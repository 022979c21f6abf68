package state

// Status is the request status of one operation group.
type Status int

const (
	// StatusIdle means nothing is in flight; a failed request also returns here.
	StatusIdle Status = iota
	// StatusPending means at least one request of the group is outstanding.
	StatusPending
	// StatusSettled means the latest request of the group succeeded.
	StatusSettled
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSettled:
		return "settled"
	default:
		return "idle"
	}
}

// Group names an independent status slot, e.g. "posts.list" or "posts.like".
type Group string

// Kind selects how settlements of a group are reconciled.
type Kind int

const (
	// KindQuery groups apply only the latest issued request (last-issued-wins).
	KindQuery Kind = iota + 1
	// KindCommand groups apply every settlement.
	KindCommand
)

// OpState is the observable status of an operation group.
type OpState struct {
	Status Status
	Err    error
}

// Ticket identifies one issued intent.
type Ticket struct {
	group Group
	kind  Kind
	seq   uint64
	epoch uint64
}

// Group returns the ticket's operation group.
func (t Ticket) Group() Group {
	return t.group
}

// Seq returns the ticket's sequence number within its group.
func (t Ticket) Seq() uint64 {
	return t.seq
}

type groupState struct {
	issued   uint64
	inflight int
	status   Status
	err      error
}

// Tracker issues sequence-numbered tickets and decides which settlements may
// be applied. It is not safe for concurrent use; the owning store guards it
// with the same lock that guards its slices so that the currency check and
// the slice write cannot interleave with another intent.
type Tracker struct {
	groups map[Group]*groupState
	epoch  uint64
}

// NewTracker constructs an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{groups: make(map[Group]*groupState)}
}

// Begin issues a ticket for a new intent and marks its group pending.
func (t *Tracker) Begin(group Group, kind Kind) Ticket {
	state := t.group(group)
	state.issued++
	state.inflight++
	state.status = StatusPending
	if kind == KindQuery {
		state.err = nil
	}
	return Ticket{group: group, kind: kind, seq: state.issued, epoch: t.epoch}
}

// Current reports whether a settlement for ticket may still be applied.
func (t *Tracker) Current(ticket Ticket) bool {
	if ticket.epoch != t.epoch {
		return false
	}
	if ticket.kind == KindCommand {
		return true
	}
	state, ok := t.groups[ticket.group]
	return ok && state.issued == ticket.seq
}

// Finish records the settlement of ticket and reports whether its result
// should be applied. Stale query settlements touch neither status nor error.
func (t *Tracker) Finish(ticket Ticket, err error) bool {
	if ticket.epoch != t.epoch {
		return false
	}
	state := t.group(ticket.group)
	if state.inflight > 0 {
		state.inflight--
	}

	switch ticket.kind {
	case KindQuery:
		if state.issued != ticket.seq {
			return false
		}
		state.err = err
		state.status = settledStatus(err)
	default:
		state.err = err
		if state.inflight == 0 {
			state.status = settledStatus(err)
		}
	}
	return true
}

// Supersede invalidates every outstanding ticket of a query group without
// issuing a new one. The group returns to idle with no error.
func (t *Tracker) Supersede(group Group) {
	state, ok := t.groups[group]
	if !ok {
		return
	}
	state.issued++
	state.status = StatusIdle
	state.err = nil
}

// State returns the observable state of group.
func (t *Tracker) State(group Group) OpState {
	state, ok := t.groups[group]
	if !ok {
		return OpState{Status: StatusIdle}
	}
	return OpState{Status: state.status, Err: state.err}
}

// Reset drops every group and invalidates all outstanding tickets.
func (t *Tracker) Reset() {
	t.epoch++
	t.groups = make(map[Group]*groupState)
}

func (t *Tracker) group(group Group) *groupState {
	state, ok := t.groups[group]
	if !ok {
		state = &groupState{status: StatusIdle}
		t.groups[group] = state
	}
	return state
}

func settledStatus(err error) Status {
	if err != nil {
		return StatusIdle
	}
	return StatusSettled
}
