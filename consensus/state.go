package consensus

import (
	"fmt"
	"sync"

	"github.com/meridian-bft/meridian"
	"github.com/meridian-bft/meridian/metrics"
)

// ViewInner records what this replica validated for one view: either a leaf
// (by commitment) together with the state reached by applying its header, or
// a failed placeholder for a view that produced nothing certifiable.
type ViewInner struct {
	LeafCommit meridian.Hash
	State      *meridian.ValidatedState
	Failed     bool
}

// Terminator bounds an ancestry walk. An inclusive terminator visits the leaf
// at its view before stopping; an exclusive terminator stops before it.
type Terminator struct {
	View      meridian.View
	Inclusive bool
}

// Inclusive returns a terminator that stops after visiting view v.
func Inclusive(v meridian.View) Terminator {
	return Terminator{View: v, Inclusive: true}
}

// Exclusive returns a terminator that stops before visiting view v.
func Exclusive(v meridian.View) Terminator {
	return Terminator{View: v, Inclusive: false}
}

// State is the authoritative in-memory record of this replica's consensus
// progress. It is guarded by a single read-write lock; the consensus task
// computes under the read lock and takes the write lock only to mutate.
// Invariants: lockedView <= lastDecidedView is never assumed (the lock runs
// one chain link ahead of the decided anchor), lockedView <= curView and lastDecidedView <=
// curView always hold, highQC.View never decreases, and highQC always refers
// to a leaf present in the saved-leaves map.
type State struct {
	mu sync.RWMutex

	validatedStateMap map[meridian.View]ViewInner
	savedLeaves       map[meridian.Hash]meridian.Leaf
	savedPayloads     map[meridian.View][]byte
	savedDACerts      map[meridian.View]meridian.DACert

	highQC          meridian.QuorumCert
	lockedView      meridian.View
	lastDecidedView meridian.View

	instance meridian.InstanceState
	metrics  *metrics.ConsensusMetrics
}

// NewState returns a state anchored at the genesis leaf.
func NewState(instance meridian.InstanceState, m *metrics.ConsensusMetrics) *State {
	if m == nil {
		m = metrics.NewConsensusMetrics()
	}
	genesis := meridian.GenesisLeaf(instance)
	s := &State{
		validatedStateMap: make(map[meridian.View]ViewInner),
		savedLeaves:       make(map[meridian.Hash]meridian.Leaf),
		savedPayloads:     make(map[meridian.View][]byte),
		savedDACerts:      make(map[meridian.View]meridian.DACert),
		highQC:            meridian.GenesisQC(genesis.Commit()),
		instance:          instance,
		metrics:           m,
	}
	s.validatedStateMap[meridian.GenesisView] = ViewInner{
		LeafCommit: genesis.Commit(),
		State:      meridian.GenesisState(instance),
	}
	s.savedLeaves[genesis.Commit()] = genesis
	return s
}

// Instance returns the per-chain constants.
func (s *State) Instance() meridian.InstanceState {
	return s.instance
}

// Metrics returns the metrics set this state updates.
func (s *State) Metrics() *metrics.ConsensusMetrics {
	return s.metrics
}

// HighQC returns the highest-view QC observed.
func (s *State) HighQC() meridian.QuorumCert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.highQC
}

// LockedView returns the highest view with a two-chain behind it.
func (s *State) LockedView() meridian.View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lockedView
}

// LastDecidedView returns the anchor view of the finalized prefix.
func (s *State) LastDecidedView() meridian.View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastDecidedView
}

// Leaf returns the saved leaf with the given commitment.
func (s *State) Leaf(commit meridian.Hash) (meridian.Leaf, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	leaf, ok := s.savedLeaves[commit]
	return leaf, ok
}

// ViewState returns the validated record for a view.
func (s *State) ViewState(view meridian.View) (ViewInner, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inner, ok := s.validatedStateMap[view]
	return inner, ok
}

// SavedPayload returns the encoded payload stored for a view.
func (s *State) SavedPayload(view meridian.View) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payload, ok := s.savedPayloads[view]
	return payload, ok
}

// SavedDACert returns the DA certificate stored for a view.
func (s *State) SavedDACert(view meridian.View) (meridian.DACert, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cert, ok := s.savedDACerts[view]
	return cert, ok
}

// SavePayload stores the encoded payload for a view.
func (s *State) SavePayload(view meridian.View, encoded []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.savedPayloads[view] = encoded
}

// SaveDACert stores a DA certificate for its view.
func (s *State) SaveDACert(cert meridian.DACert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.savedDACerts[cert.View] = cert
}

// SaveLeaf records a validated leaf and its post-state for the leaf's view.
func (s *State) SaveLeaf(leaf meridian.Leaf, state *meridian.ValidatedState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	commit := leaf.Commit()
	s.validatedStateMap[leaf.View] = ViewInner{LeafCommit: commit, State: state}
	s.savedLeaves[commit] = leaf
}

// MarkViewFailed records a placeholder for a view that yielded no leaf.
// An existing leaf record for the view is never overwritten.
func (s *State) MarkViewFailed(view meridian.View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.validatedStateMap[view]; !ok {
		s.validatedStateMap[view] = ViewInner{Failed: true}
	}
}

// UpdateHighQC replaces the high QC if qc is newer and its leaf is saved.
// It reports whether the update happened.
func (s *State) UpdateHighQC(qc meridian.QuorumCert) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if qc.View <= s.highQC.View {
		return false
	}
	if _, ok := s.savedLeaves[qc.Data.LeafCommit]; !ok {
		return false
	}
	s.highQC = qc
	return true
}

// SetLockedView advances the locked view.
func (s *State) SetLockedView(view meridian.View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if view > s.lockedView {
		s.lockedView = view
	}
}

// SetLastDecidedView advances the decided anchor.
func (s *State) SetLastDecidedView(view meridian.View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if view > s.lastDecidedView {
		s.lastDecidedView = view
		s.metrics.LastDecidedView.Set(uint64(view))
	}
}

// VisitLeafAncestors walks parent links from the leaf recorded at start
// downward, invoking visit on each leaf until the terminator is reached, the
// visitor returns false, or ancestry is missing. Missing ancestry is an error
// unless okWhenMissing is set.
func (s *State) VisitLeafAncestors(start meridian.View, term Terminator, okWhenMissing bool, visit func(meridian.Leaf) bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.visitLeafAncestorsLocked(start, term, okWhenMissing, visit)
}

func (s *State) visitLeafAncestorsLocked(start meridian.View, term Terminator, okWhenMissing bool, visit func(meridian.Leaf) bool) error {
	inner, ok := s.validatedStateMap[start]
	if !ok || inner.Failed {
		if okWhenMissing {
			return nil
		}
		return fmt.Errorf("no leaf for view %d: %w", start, ErrMissingAncestry)
	}
	next := inner.LeafCommit
	for {
		leaf, ok := s.savedLeaves[next]
		if !ok {
			if okWhenMissing {
				return nil
			}
			return fmt.Errorf("leaf %s: %w", next, ErrMissingAncestry)
		}
		if !term.Inclusive && leaf.View <= term.View {
			return nil
		}
		next = leaf.ParentCommitment
		if !visit(leaf) {
			return nil
		}
		// Exact match only: a chain that skips past the terminator view is a
		// fork and must keep walking until it terminates or runs out.
		if term.Inclusive && leaf.View == term.View {
			return nil
		}
		if leaf.View == meridian.GenesisView {
			if okWhenMissing {
				return nil
			}
			return fmt.Errorf("walk reached genesis before view %d: %w", term.View, ErrMissingAncestry)
		}
	}
}

// CollectGarbage deletes saved payloads, DA certificates, view records, and
// off-chain leaves for every view in (oldAnchor, newAnchor). Leaves on the
// decided chain are retained so that ancestry from the new anchor stays
// intact. Running it twice with the same anchors is a no-op the second time.
func (s *State) CollectGarbage(oldAnchor, newAnchor meridian.View) {
	s.mu.Lock()
	defer s.mu.Unlock()

	onChain := make(map[meridian.Hash]bool)
	if anchor, ok := s.validatedStateMap[newAnchor]; ok && !anchor.Failed {
		next := anchor.LeafCommit
		for {
			leaf, ok := s.savedLeaves[next]
			if !ok || leaf.View <= oldAnchor {
				break
			}
			onChain[next] = true
			next = leaf.ParentCommitment
		}
	}

	for view := oldAnchor + 1; view < newAnchor; view++ {
		if inner, ok := s.validatedStateMap[view]; ok {
			if !inner.Failed && !onChain[inner.LeafCommit] {
				delete(s.savedLeaves, inner.LeafCommit)
			}
			delete(s.validatedStateMap, view)
		}
		delete(s.savedPayloads, view)
		delete(s.savedDACerts, view)
	}
}
