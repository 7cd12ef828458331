package consensus

import (
	"sort"

	"github.com/meridian-bft/meridian"
	"github.com/meridian-bft/meridian/committee"
	"github.com/meridian-bft/meridian/crypto"
)

// voteAccumulator aggregates signed votes for a single (kind, view) until the
// signers' stake crosses the committee threshold. One accumulator exists per
// kind at a time; it is created lazily when the first relevant vote arrives
// and dropped once its certificate is emitted. Votes for lower views are
// dropped by the caller; a vote for a higher view replaces the accumulator.
type voteAccumulator struct {
	view       meridian.View
	membership *committee.Committee

	sigs  map[meridian.ID][]byte
	stake uint64
	done  bool
}

func newVoteAccumulator(view meridian.View, membership *committee.Committee) *voteAccumulator {
	return &voteAccumulator{
		view:       view,
		membership: membership,
		sigs:       make(map[meridian.ID][]byte),
	}
}

// add folds one vote in. It verifies the signature, deduplicates by signer,
// and reports whether this vote pushed the accumulated stake over the
// threshold.
func (a *voteAccumulator) add(signer meridian.ID, msg, sig []byte) bool {
	if a.done {
		return false
	}
	if _, dup := a.sigs[signer]; dup {
		return false
	}
	stake := a.membership.Stake(signer)
	if stake == 0 {
		return false
	}
	key, ok := a.membership.Key(signer)
	if !ok || !crypto.Verify(key, msg, sig) {
		return false
	}
	a.sigs[signer] = sig
	a.stake += stake
	if a.stake >= a.membership.Threshold() {
		a.done = true
		return true
	}
	return false
}

// certificate returns the sorted signer set and the aggregate signature.
func (a *voteAccumulator) certificate() ([]meridian.ID, []byte) {
	signers := make([]meridian.ID, 0, len(a.sigs))
	for id := range a.sigs {
		signers = append(signers, id)
	}
	sort.Slice(signers, func(i, j int) bool { return signers[i] < signers[j] })
	sigs := make([][]byte, len(signers))
	for i, id := range signers {
		sigs[i] = a.sigs[id]
	}
	return signers, crypto.Aggregate(sigs)
}
