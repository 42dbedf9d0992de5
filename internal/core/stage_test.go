package core

import (
	"errors"
	"testing"
)

func TestResumePosition(t *testing.T) {
	rec := func(pos int, status StageStatus) *StageRecord {
		return &StageRecord{RunID: "run-x", Position: pos, Status: status}
	}

	tests := []struct {
		name    string
		records []*StageRecord
		want    int
	}{
		{"no records", nil, 0},
		{"first completed", []*StageRecord{rec(0, StageStatusCompleted)}, 1},
		{"first failed", []*StageRecord{rec(0, StageStatusFailed)}, 0},
		{
			"gap stops the prefix",
			[]*StageRecord{rec(0, StageStatusCompleted), rec(2, StageStatusCompleted)},
			1,
		},
		{
			"unordered records",
			[]*StageRecord{rec(1, StageStatusCompleted), rec(0, StageStatusCompleted)},
			2,
		},
		{
			"running stage does not advance",
			[]*StageRecord{rec(0, StageStatusCompleted), rec(1, StageStatusRunning)},
			1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResumePosition(tt.records); got != tt.want {
				t.Errorf("ResumePosition() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestStageRecord_Terminal(t *testing.T) {
	s := NewStageRecord("run-1", 0, "researcher", "research")
	if s.IsTerminal() {
		t.Error("new record should not be terminal")
	}
	if s.StageKey() != "00-researcher" {
		t.Errorf("StageKey() = %q, want 00-researcher", s.StageKey())
	}

	s.Complete("summary text")
	if !s.IsTerminal() || s.OutputSummary != "summary text" || s.CompletedAt == nil {
		t.Errorf("Complete() left record in %+v", s)
	}

	f := NewStageRecord("run-1", 1, "writer", "writing")
	f.Fail(errors.New("boom"))
	if f.Status != StageStatusFailed || f.Error != "boom" {
		t.Errorf("Fail() left record in %+v", f)
	}
}
