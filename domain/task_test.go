package domain

import "testing"

func TestCanTransition(t *testing.T) {
	testCases := []struct {
		from, to TaskStatus
		want     bool
	}{
		{StatusPending, StatusAssigned, true},
		{StatusAssigned, StatusInProgress, true},
		{StatusAssigned, StatusCancelled, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusCancelled, true},
		{StatusCompleted, StatusInProgress, false},
		{StatusCancelled, StatusAssigned, false},
		{StatusAssigned, StatusCompleted, false},
		{StatusPending, StatusInProgress, false},
		{StatusCompleted, StatusCancelled, false},
	}
	for _, tc := range testCases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestValidStatus(t *testing.T) {
	for _, s := range []TaskStatus{StatusPending, StatusAssigned, StatusInProgress, StatusCompleted, StatusCancelled} {
		if !ValidStatus(s) {
			t.Errorf("expected %s to be valid", s)
		}
	}
	if ValidStatus("archived") {
		t.Error("expected unknown status to be invalid")
	}
	if ValidStatus("") {
		t.Error("expected empty status to be invalid")
	}
}

func TestIsAssignedTo(t *testing.T) {
	task := &Task{AssignedContractors: []string{"c1", "c2"}}
	if !task.IsAssignedTo("c1") || !task.IsAssignedTo("c2") {
		t.Fatal("expected set members to be assigned")
	}
	if task.IsAssignedTo("c3") {
		t.Fatal("expected non-member to not be assigned")
	}
	if task.IsAssignedTo("") {
		t.Fatal("expected empty id to not be assigned")
	}

	legacy := &Task{AssignedTo: "c9"}
	if !legacy.IsAssignedTo("c9") {
		t.Fatal("expected legacy assignee to be honored")
	}
}
