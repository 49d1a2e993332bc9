package lferr

import (
	"errors"
	"fmt"
	"testing"
)

func TestExitCodes(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindValidation, 2},
		{KindTransition, 3},
		{KindLaneBusy, 4},
		{KindOverlap, 5},
		{KindCoverage, 6},
		{KindGit, 7},
		{KindIO, 8},
		{KindRecovery, 9},
		{KindConcurrent, 10},
		{KindFatal, 1},
		{Kind("unknown"), 1},
	}
	for _, tt := range tests {
		if got := tt.kind.ExitCode(); got != tt.want {
			t.Errorf("%s.ExitCode() = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(KindIO, cause, "writing %s", "spec")
	if !errors.Is(err, cause) {
		t.Error("wrapped cause not reachable via errors.Is")
	}
	if KindOf(err) != KindIO {
		t.Errorf("KindOf = %s, want IO", KindOf(err))
	}
	if KindOf(fmt.Errorf("outer: %w", err)) != KindIO {
		t.Error("KindOf should see through fmt wrapping")
	}
	if KindOf(errors.New("plain")) != KindFatal {
		t.Error("unclassified errors should report KindFatal")
	}
}

func TestRemediation(t *testing.T) {
	err := New(KindLaneBusy, "lane Core is held").
		WithRemediation("run `lf lanes` to see holders")
	if err.Remediation == "" {
		t.Fatal("remediation not attached")
	}
	if !Is(err, KindLaneBusy) {
		t.Error("Is(KindLaneBusy) = false")
	}
	if Is(err, KindGit) {
		t.Error("Is(KindGit) = true for a lane error")
	}
}
