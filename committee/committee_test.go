package committee

import (
	"encoding/binary"
	"testing"

	"github.com/meridian-bft/meridian"
	"github.com/meridian-bft/meridian/crypto"
)

func testMembers(t *testing.T, stakes []uint64) []Member {
	t.Helper()
	members := make([]Member, len(stakes))
	for i, stake := range stakes {
		seed := make([]byte, 32)
		binary.LittleEndian.PutUint64(seed, uint64(i)+1)
		signer, err := crypto.NewSignerFromSeed(seed)
		if err != nil {
			t.Fatalf("failed to create signer: %v", err)
		}
		members[i] = Member{ID: meridian.ID(i), Key: signer.PublicKey(), Stake: stake}
	}
	return members
}

func TestLeaderIsDeterministic(t *testing.T) {
	a, err := New(testMembers(t, []uint64{1, 1, 1, 1}))
	if err != nil {
		t.Fatalf("failed to create committee: %v", err)
	}
	b, err := New(testMembers(t, []uint64{1, 1, 1, 1}))
	if err != nil {
		t.Fatalf("failed to create committee: %v", err)
	}

	for view := meridian.View(1); view <= 100; view++ {
		if a.Leader(view) != b.Leader(view) {
			t.Fatalf("leader for view %d differs between identical committees", view)
		}
	}
}

func TestLeaderSkipsZeroStake(t *testing.T) {
	c, err := New(testMembers(t, []uint64{0, 5, 0, 5}))
	if err != nil {
		t.Fatalf("failed to create committee: %v", err)
	}
	for view := meridian.View(1); view <= 200; view++ {
		leader := c.Leader(view)
		if leader == 0 || leader == 2 {
			t.Fatalf("zero-stake member %d elected leader for view %d", leader, view)
		}
	}
}

func TestStakeAndThreshold(t *testing.T) {
	c, err := New(testMembers(t, []uint64{1, 2, 3, 4}))
	if err != nil {
		t.Fatalf("failed to create committee: %v", err)
	}
	if got := c.TotalStake(); got != 10 {
		t.Errorf("total stake = %d, want 10", got)
	}
	if got := c.Threshold(); got != 7 {
		t.Errorf("threshold = %d, want 7", got)
	}
	if !c.HasStake(3) {
		t.Error("member 3 should have stake")
	}
	if c.HasStake(9) {
		t.Error("unknown member should have no stake")
	}
	if got := c.Stake(1); got != 2 {
		t.Errorf("stake of member 1 = %d, want 2", got)
	}
}

func TestNewRejectsDuplicatesAndEmptyStake(t *testing.T) {
	members := testMembers(t, []uint64{1, 1})
	members[1].ID = members[0].ID
	if _, err := New(members); err == nil {
		t.Error("expected an error for duplicate member ids")
	}
	if _, err := New(testMembers(t, []uint64{0, 0})); err == nil {
		t.Error("expected an error for a committee without stake")
	}
}
