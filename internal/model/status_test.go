package model

import "testing"

func TestIsTerminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusError, StatusCancelled, StatusExpired}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	live := []Status{StatusPending, StatusInitializing, StatusDownloading, StatusConverting, StatusProcessing, StatusRetrying}
	for _, s := range live {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestTerminalStatusesAcceptNoTransitions(t *testing.T) {
	all := []Status{
		StatusPending, StatusInitializing, StatusDownloading, StatusConverting,
		StatusProcessing, StatusCompleted, StatusError, StatusCancelled,
		StatusExpired, StatusRetrying,
	}
	for _, from := range []Status{StatusCompleted, StatusError, StatusCancelled, StatusExpired} {
		for _, to := range all {
			if from == to {
				continue
			}
			if CanTransition(from, to) {
				t.Errorf("terminal %s must not transition to %s", from, to)
			}
		}
	}
}

func TestCanTransitionEdges(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusInitializing, true},
		{StatusPending, StatusDownloading, false},
		{StatusInitializing, StatusDownloading, true},
		{StatusInitializing, StatusCompleted, true},
		{StatusInitializing, StatusConverting, false},
		{StatusDownloading, StatusConverting, true},
		{StatusDownloading, StatusProcessing, true},
		{StatusDownloading, StatusCompleted, true},
		{StatusConverting, StatusDownloading, false},
		{StatusProcessing, StatusCompleted, true},
		{StatusRetrying, StatusInitializing, true},
		{StatusRetrying, StatusDownloading, true},
		{StatusRetrying, StatusConverting, false},
		{StatusDownloading, StatusCancelled, true},
		{StatusDownloading, StatusDownloading, true},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestResetsProgress(t *testing.T) {
	if !ResetsProgress(StatusPending, StatusInitializing) {
		t.Error("pending to initializing should reset progress")
	}
	if !ResetsProgress(StatusRetrying, StatusInitializing) {
		t.Error("retrying to initializing should reset progress")
	}
	if ResetsProgress(StatusDownloading, StatusConverting) {
		t.Error("downloading to converting must keep progress")
	}
}
