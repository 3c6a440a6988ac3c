package state

import (
	"testing"
	"time"
)

func fixedNow() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

func TestUpdateFromUserExtractsProjectFacts(t *testing.T) {
	c := New(fixedNow)
	c.UpdateFromUser("I want to remodel my kitchen. Budget is around $25k. I want new cabinets and countertops, and maybe open up a wall.")

	snap := c.RenderContext()
	if snap.Project.Room != "kitchen" {
		t.Fatalf("room = %q, want kitchen", snap.Project.Room)
	}
	if snap.Project.Budget != "$25k" {
		t.Fatalf("budget = %q, want $25k", snap.Project.Budget)
	}
	foundCabinets, foundCountertops := false, false
	for _, g := range snap.Project.Goals {
		if g == "new cabinets" {
			foundCabinets = true
		}
		if g == "countertops" {
			foundCountertops = true
		}
	}
	if !foundCabinets || !foundCountertops {
		t.Fatalf("goals = %v, want both new cabinets and countertops", snap.Project.Goals)
	}
}

func TestUpdateFromAgentExtractsRisks(t *testing.T) {
	c := New(fixedNow)
	c.UpdateFromAgent("Before we proceed, check whether that wall is load-bearing and whether you'll need a permit.")

	snap := c.RenderContext()
	if len(snap.Risks) != 2 {
		t.Fatalf("risks = %v, want 2 entries", snap.Risks)
	}
}

func TestTranscriptTailEvictsOldest(t *testing.T) {
	c := New(fixedNow)
	for i := 0; i < NTail+3; i++ {
		c.AppendTurn(SpeakerUser, "message")
	}
	snap := c.RenderContext()
	if len(snap.RecentTranscript) != NTail {
		t.Fatalf("tail length = %d, want %d", len(snap.RecentTranscript), NTail)
	}
}

func TestAgentSeenNeverRemoved(t *testing.T) {
	c := New(fixedNow)
	c.MarkAgentSeen("bob")
	c.MarkAgentSeen("alice")
	if !c.HasSeenAgent("bob") || !c.HasSeenAgent("alice") {
		t.Fatalf("expected both agents marked seen")
	}
}

func TestDedupIsCaseInsensitive(t *testing.T) {
	c := New(fixedNow)
	c.UpdateFromAgent("Watch for Permit issues.")
	c.UpdateFromAgent("permit review required again.")
	snap := c.RenderContext()
	count := 0
	for _, r := range snap.Risks {
		if r == "permit" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected permit risk recorded once, got %d", count)
	}
}

func TestRenderContextSnapshotDoesNotAliasState(t *testing.T) {
	c := New(fixedNow)
	c.UpdateFromAgent("permit required")
	snap := c.RenderContext()
	snap.Risks[0] = "mutated"

	snap2 := c.RenderContext()
	if snap2.Risks[0] != "permit" {
		t.Fatalf("mutating a snapshot leaked into the store: %v", snap2.Risks)
	}
}
