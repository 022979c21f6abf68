package state

import (
	"errors"
	"testing"
)

func TestTrackerAppliesOnlyLatestIssuedQuery(t *testing.T) {
	tracker := NewTracker()
	tickets := make([]Ticket, 0, 5)
	for index := 0; index < 5; index++ {
		tickets = append(tickets, tracker.Begin("posts.list", KindQuery))
	}

	for _, index := range []int{4, 0, 2, 1, 3} {
		applied := tracker.Finish(tickets[index], nil)
		if applied != (index == 4) {
			t.Fatalf("ticket %d: expected applied=%v", index, index == 4)
		}
	}
	if state := tracker.State("posts.list"); state.Status != StatusSettled || state.Err != nil {
		t.Fatalf("unexpected state %+v", state)
	}
}

func TestTrackerKeepsQueryPendingUntilLatestSettles(t *testing.T) {
	tracker := NewTracker()
	first := tracker.Begin("posts.list", KindQuery)
	second := tracker.Begin("posts.list", KindQuery)

	if tracker.Finish(first, errors.New("boom")) {
		t.Fatal("stale ticket must not apply")
	}
	if state := tracker.State("posts.list"); state.Status != StatusPending || state.Err != nil {
		t.Fatalf("stale failure leaked into state: %+v", state)
	}

	failure := errors.New("server down")
	if !tracker.Finish(second, failure) {
		t.Fatal("latest ticket must apply")
	}
	state := tracker.State("posts.list")
	if state.Status != StatusIdle || !errors.Is(state.Err, failure) {
		t.Fatalf("expected idle with error, got %+v", state)
	}

	third := tracker.Begin("posts.list", KindQuery)
	if state := tracker.State("posts.list"); state.Status != StatusPending || state.Err != nil {
		t.Fatalf("new query must clear the error slot, got %+v", state)
	}
	tracker.Finish(third, nil)
}

func TestTrackerAppliesEveryCommand(t *testing.T) {
	tracker := NewTracker()
	first := tracker.Begin("posts.like", KindCommand)
	second := tracker.Begin("posts.like", KindCommand)

	if !tracker.Finish(second, nil) {
		t.Fatal("command settlements always apply")
	}
	if tracker.State("posts.like").Status != StatusPending {
		t.Fatal("group must stay pending while a command is outstanding")
	}
	if !tracker.Finish(first, nil) {
		t.Fatal("command settlements always apply")
	}
	if tracker.State("posts.like").Status != StatusSettled {
		t.Fatal("group must settle once every command settled")
	}
}

func TestTrackerGroupsAreIndependent(t *testing.T) {
	tracker := NewTracker()
	list := tracker.Begin("posts.list", KindQuery)
	like := tracker.Begin("posts.like", KindCommand)
	tracker.Finish(like, nil)

	if tracker.State("posts.list").Status != StatusPending {
		t.Fatal("like settlement must not touch the list group")
	}
	if !tracker.Current(list) {
		t.Fatal("list ticket must remain current")
	}
}

func TestTrackerResetDiscardsInflightTickets(t *testing.T) {
	tracker := NewTracker()
	query := tracker.Begin("posts.list", KindQuery)
	command := tracker.Begin("posts.like", KindCommand)
	tracker.Reset()

	if tracker.Finish(query, nil) || tracker.Finish(command, nil) {
		t.Fatal("tickets issued before reset must not apply")
	}
	if state := tracker.State("posts.list"); state.Status != StatusIdle {
		t.Fatalf("expected idle after reset, got %s", state.Status)
	}

	fresh := tracker.Begin("posts.list", KindQuery)
	if fresh.Seq() != 1 || fresh.Group() != "posts.list" {
		t.Fatalf("unexpected fresh ticket %+v", fresh)
	}
	if !tracker.Finish(fresh, nil) {
		t.Fatal("ticket issued after reset must apply")
	}
}

func TestTrackerSupersedeDiscardsOutstandingQueries(t *testing.T) {
	tracker := NewTracker()
	inflight := tracker.Begin("posts.detail", KindQuery)

	tracker.Supersede("posts.detail")
	if state := tracker.State("posts.detail"); state.Status != StatusIdle || state.Err != nil {
		t.Fatalf("superseded group must be idle, got %+v", state)
	}
	if tracker.Finish(inflight, nil) {
		t.Fatal("superseded ticket must not apply")
	}
	if state := tracker.State("posts.detail"); state.Status != StatusIdle {
		t.Fatalf("late settlement must not touch the group, got %+v", state)
	}

	next := tracker.Begin("posts.detail", KindQuery)
	if !tracker.Finish(next, nil) {
		t.Fatal("a query issued after supersede must apply")
	}

	tracker.Supersede("posts.unknown")
	if state := tracker.State("posts.unknown"); state.Status != StatusIdle {
		t.Fatalf("unknown group must stay idle, got %+v", state)
	}
}

func TestStatusString(t *testing.T) {
	for status, expected := range map[Status]string{StatusIdle: "idle", StatusPending: "pending", StatusSettled: "settled"} {
		if status.String() != expected {
			t.Fatalf("expected %q, got %q", expected, status.String())
		}
	}
}
