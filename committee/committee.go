// Package committee maps views to leaders and to stake-weighted membership.
// All functions are pure and deterministic: every honest replica derives the
// same leader for a view from the same stake table.
package committee

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/mroth/weightedrand"

	"github.com/meridian-bft/meridian"
	"github.com/meridian-bft/meridian/crypto"
)

// Role selects which committee a query concerns.
type Role int

const (
	// Quorum is the full consensus committee.
	Quorum Role = iota
	// DA is the data-availability committee, a subset of the quorum.
	DA
)

// Member is one stake-table entry. A member has stake iff Stake is nonzero.
type Member struct {
	ID    meridian.ID
	Key   *crypto.PublicKey
	Stake uint64
}

// Committee is an immutable stake table for one role.
type Committee struct {
	members []Member
	byID    map[meridian.ID]int
	total   uint64
}

// New builds a committee from the given stake table. Members with zero stake
// are retained for key lookup but excluded from leader election.
func New(members []Member) (*Committee, error) {
	c := &Committee{
		members: make([]Member, len(members)),
		byID:    make(map[meridian.ID]int, len(members)),
	}
	copy(c.members, members)
	sort.Slice(c.members, func(i, j int) bool { return c.members[i].ID < c.members[j].ID })
	for i, m := range c.members {
		if _, ok := c.byID[m.ID]; ok {
			return nil, fmt.Errorf("duplicate committee member %d", m.ID)
		}
		c.byID[m.ID] = i
		c.total += m.Stake
	}
	if c.total == 0 {
		return nil, fmt.Errorf("committee has no stake")
	}
	return c, nil
}

// Leader returns the unique leader of the given view. Leader election is
// stake-weighted: a member's chance of leading is proportional to its stake,
// drawn from a generator seeded by the view number.
func (c *Committee) Leader(view meridian.View) meridian.ID {
	choices := make([]weightedrand.Choice, 0, len(c.members))
	for _, m := range c.members {
		if m.Stake == 0 {
			continue
		}
		choices = append(choices, weightedrand.Choice{Item: m.ID, Weight: uint(m.Stake)})
	}
	chooser, err := weightedrand.NewChooser(choices...)
	if err != nil {
		// Unreachable: New rejects zero-stake committees.
		panic(err)
	}
	rng := rand.New(rand.NewSource(int64(view)))
	return chooser.PickSource(rng).(meridian.ID)
}

// HasStake reports whether the member has nonzero stake in this committee.
func (c *Committee) HasStake(id meridian.ID) bool {
	i, ok := c.byID[id]
	return ok && c.members[i].Stake > 0
}

// Stake returns the member's stake, or zero if it is not a member.
func (c *Committee) Stake(id meridian.ID) uint64 {
	if i, ok := c.byID[id]; ok {
		return c.members[i].Stake
	}
	return 0
}

// Key returns the member's public key.
func (c *Committee) Key(id meridian.ID) (*crypto.PublicKey, bool) {
	if i, ok := c.byID[id]; ok {
		return c.members[i].Key, true
	}
	return nil, false
}

// Members returns the stake table in ID order.
func (c *Committee) Members() []Member {
	out := make([]Member, len(c.members))
	copy(out, c.members)
	return out
}

// TotalStake returns the summed stake of all members.
func (c *Committee) TotalStake() uint64 {
	return c.total
}

// Threshold returns the stake a certificate must cover: a supermajority of
// more than two thirds of the total.
func (c *Committee) Threshold() uint64 {
	return c.total*2/3 + 1
}
