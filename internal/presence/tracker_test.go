package presence

import "testing"

func TestOnJoinOrOnline_SelfIsSilent(t *testing.T) {
	tr := NewTracker("me")

	if tr.OnJoinOrOnline("me") {
		t.Fatal("self transition must not produce a notice")
	}
	if !tr.IsOnline("me") {
		t.Fatal("self should still be tracked as online")
	}
}

func TestOnJoinOrOnline_Idempotent(t *testing.T) {
	tr := NewTracker("me")

	if !tr.OnJoinOrOnline("bo") {
		t.Fatal("first online event should produce a notice")
	}
	if tr.OnJoinOrOnline("bo") {
		t.Fatal("repeated online event should not produce a notice")
	}
	if tr.Count() != 1 {
		t.Fatalf("expected 1 online, got %d", tr.Count())
	}
}

func TestLeaveThenRejoinNotifiesAgain(t *testing.T) {
	tr := NewTracker("me")
	tr.OnJoinOrOnline("bo")

	if !tr.OnLeaveOrOffline("bo", "left") {
		t.Fatal("leave of an online participant should produce a notice")
	}
	if tr.IsOnline("bo") {
		t.Fatal("bo should be offline")
	}
	if tr.OnLeaveOrOffline("bo", "left") {
		t.Fatal("repeated leave should not produce a notice")
	}
	if !tr.OnJoinOrOnline("bo") {
		t.Fatal("rejoin should produce a fresh notice")
	}
}

func TestOfflineThenLeaveNotifiesBoth(t *testing.T) {
	tr := NewTracker("me")
	tr.OnJoinOrOnline("bo")

	if !tr.OnLeaveOrOffline("bo", "offline") {
		t.Fatal("offline should produce a notice")
	}
	if !tr.OnLeaveOrOffline("bo", "left") {
		t.Fatal("leave after offline should still produce a notice")
	}
	if tr.OnLeaveOrOffline("bo", "left") {
		t.Fatal("repeated leave should not produce a notice")
	}
}

func TestOnLeaveOrOffline_UnknownParticipant(t *testing.T) {
	tr := NewTracker("me")

	if !tr.OnLeaveOrOffline("cy", "left") {
		t.Fatal("leave of a participant never seen should produce a notice")
	}
	if tr.OnLeaveOrOffline("me", "left") {
		t.Fatal("self leave must be silent")
	}
}

func TestEmptyParticipantIgnored(t *testing.T) {
	tr := NewTracker("me")
	if tr.OnJoinOrOnline("") || tr.OnLeaveOrOffline("", "left") {
		t.Fatal("empty participant must be ignored")
	}
	if tr.Count() != 0 {
		t.Fatalf("expected empty set, got %d", tr.Count())
	}
}

func TestClear(t *testing.T) {
	tr := NewTracker("me")
	tr.OnJoinOrOnline("a")
	tr.OnJoinOrOnline("b")
	tr.OnLeaveOrOffline("c", "offline")

	tr.Clear()

	if tr.Count() != 0 || len(tr.Members()) != 0 {
		t.Fatalf("expected empty set after clear, got %v", tr.Members())
	}
	if !tr.OnLeaveOrOffline("c", "offline") {
		t.Fatal("clear should also forget departed participants")
	}
}

func TestMembersSorted(t *testing.T) {
	tr := NewTracker("me")
	for _, id := range []string{"c", "a", "b"} {
		tr.OnJoinOrOnline(id)
	}
	got := tr.Members()
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestDisplayCount(t *testing.T) {
	tests := []struct {
		local, hint, want int
	}{
		{0, 0, 0},
		{3, 1, 3},
		{1, 4, 4},
		{2, 2, 2},
	}
	for _, tt := range tests {
		if got := DisplayCount(tt.local, tt.hint); got != tt.want {
			t.Errorf("DisplayCount(%d, %d) = %d, want %d", tt.local, tt.hint, got, tt.want)
		}
	}
}
