package consensus

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/meridian-bft/meridian"
)

// buildChain saves a contiguous chain of leaves for views 1..length and
// returns them by view.
func buildChain(t *testing.T, s *State, length int) map[meridian.View]meridian.Leaf {
	t.Helper()
	instance := meridian.InstanceState{ChainID: 1}
	parent := meridian.GenesisLeaf(instance)
	parentState := meridian.GenesisState(instance)
	leaves := map[meridian.View]meridian.Leaf{meridian.GenesisView: parent}

	for view := meridian.View(1); view <= meridian.View(length); view++ {
		header := meridian.NewBlockHeader(parentState, instance, parent.BlockHeader, meridian.Hash{byte(view)}, nil, uint64(view))
		leaf := meridian.Leaf{
			View:             view,
			JustifyQC:        meridian.QuorumCert{View: view - 1, Data: meridian.QuorumData{LeafCommit: parent.Commit()}},
			ParentCommitment: parent.Commit(),
			BlockHeader:      header,
		}
		state, err := parentState.ValidateAndApplyHeader(instance, parent.BlockHeader, header)
		if err != nil {
			t.Fatalf("building chain at view %d: %v", view, err)
		}
		s.SaveLeaf(leaf, state)
		leaves[view] = leaf
		parent, parentState = leaf, state
	}
	return leaves
}

func TestVisitLeafAncestorsInclusive(t *testing.T) {
	s := NewState(meridian.InstanceState{ChainID: 1}, nil)
	buildChain(t, s, 5)

	var visited []meridian.View
	err := s.VisitLeafAncestors(5, Inclusive(2), false, func(leaf meridian.Leaf) bool {
		visited = append(visited, leaf.View)
		return true
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []meridian.View{5, 4, 3, 2}
	if diff := cmp.Diff(want, visited); diff != "" {
		t.Errorf("visited views mismatch (-want +got):\n%s", diff)
	}
}

func TestVisitLeafAncestorsExclusive(t *testing.T) {
	s := NewState(meridian.InstanceState{ChainID: 1}, nil)
	buildChain(t, s, 5)

	var visited []meridian.View
	err := s.VisitLeafAncestors(5, Exclusive(2), false, func(leaf meridian.Leaf) bool {
		visited = append(visited, leaf.View)
		return true
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []meridian.View{5, 4, 3}
	if diff := cmp.Diff(want, visited); diff != "" {
		t.Errorf("visited views mismatch (-want +got):\n%s", diff)
	}
}

func TestVisitLeafAncestorsMissing(t *testing.T) {
	s := NewState(meridian.InstanceState{ChainID: 1}, nil)

	err := s.VisitLeafAncestors(7, Inclusive(1), false, func(meridian.Leaf) bool { return true })
	if !errors.Is(err, ErrMissingAncestry) {
		t.Errorf("expected ErrMissingAncestry, got %v", err)
	}

	if err := s.VisitLeafAncestors(7, Inclusive(1), true, func(meridian.Leaf) bool { return true }); err != nil {
		t.Errorf("okWhenMissing walk should not error, got %v", err)
	}
}

func TestVisitLeafAncestorsVisitorStops(t *testing.T) {
	s := NewState(meridian.InstanceState{ChainID: 1}, nil)
	buildChain(t, s, 4)

	count := 0
	err := s.VisitLeafAncestors(4, Inclusive(0), false, func(meridian.Leaf) bool {
		count++
		return count < 2
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 2 {
		t.Errorf("visitor ran %d times, want 2", count)
	}
}

func TestUpdateHighQCRequiresSavedLeaf(t *testing.T) {
	s := NewState(meridian.InstanceState{ChainID: 1}, nil)
	leaves := buildChain(t, s, 3)

	qc := meridian.QuorumCert{View: 3, Data: meridian.QuorumData{LeafCommit: leaves[3].Commit()}}
	if !s.UpdateHighQC(qc) {
		t.Fatal("high QC update with a saved leaf should succeed")
	}
	if got := s.HighQC().View; got != 3 {
		t.Errorf("high QC view = %d, want 3", got)
	}

	// An unknown leaf commitment must not become the high QC.
	unknown := meridian.QuorumCert{View: 9, Data: meridian.QuorumData{LeafCommit: meridian.Hash{0xff}}}
	if s.UpdateHighQC(unknown) {
		t.Error("high QC update with an unknown leaf should be refused")
	}

	// The high QC view never decreases.
	stale := meridian.QuorumCert{View: 2, Data: meridian.QuorumData{LeafCommit: leaves[2].Commit()}}
	if s.UpdateHighQC(stale) {
		t.Error("high QC update with an older view should be refused")
	}
}

func TestCollectGarbageIsIdempotent(t *testing.T) {
	s := NewState(meridian.InstanceState{ChainID: 1}, nil)
	leaves := buildChain(t, s, 6)

	// A fork at view 3 that is not on the decided chain.
	fork := leaves[3]
	fork.BlockHeader.PayloadCommitment = meridian.Hash{0xee}
	s.SaveLeaf(fork, meridian.FromHeader(fork.BlockHeader))
	s.SavePayload(2, []byte("payload2"))
	s.SaveDACert(meridian.DACert{View: 2})

	snapshot := func() (int, int) {
		views := 0
		for view := meridian.View(0); view <= 6; view++ {
			if _, ok := s.ViewState(view); ok {
				views++
			}
		}
		kept := 0
		for view := meridian.View(0); view <= 6; view++ {
			if _, ok := s.Leaf(leaves[view].Commit()); ok {
				kept++
			}
		}
		return views, kept
	}

	s.CollectGarbage(0, 5)
	viewsOnce, keptOnce := snapshot()

	if _, ok := s.SavedPayload(2); ok {
		t.Error("payload below the anchor should be collected")
	}
	if _, ok := s.SavedDACert(2); ok {
		t.Error("DA certificate below the anchor should be collected")
	}
	// The fork overwrote the view-3 record, so the decided leaf at view 3
	// stays reachable only through parent links; the off-chain fork leaf is
	// deleted.
	if _, ok := s.Leaf(fork.Commit()); ok {
		t.Error("off-chain fork leaf should be collected")
	}

	s.CollectGarbage(0, 5)
	viewsTwice, keptTwice := snapshot()
	if viewsOnce != viewsTwice || keptOnce != keptTwice {
		t.Errorf("collect garbage is not idempotent: (%d,%d) then (%d,%d)",
			viewsOnce, keptOnce, viewsTwice, keptTwice)
	}
}
