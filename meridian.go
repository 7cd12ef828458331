// Package meridian defines the core types of a pipelined, chained BFT consensus
// replica. A committee of signing nodes drives a replicated log forward: leaders
// propose leaves, replicas vote, votes aggregate into quorum certificates, and a
// three-chain of certified leaves finalizes a prefix of the log.
//
// The root package holds the data model and the event vocabulary shared by all
// modules. The consensus package implements the replica and leader logic on top
// of an event loop; committee, crypto, synchronizer, and blockchain supply the
// membership, signature, timer, and storage capabilities it consumes.
package meridian

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// ID uniquely identifies a replica within the committee.
type ID uint32

// View is a number that uniquely identifies a consensus round.
// The first real view is 1; view 0 anchors the genesis leaf.
type View uint64

// GenesisView is the view number of the genesis anchor.
const GenesisView View = 0

// ToBytes returns the big-endian encoding of the view, used as signing input.
func (v View) ToBytes() []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	return buf[:]
}

// Hash is a SHA256 digest.
type Hash [32]byte

func (h Hash) String() string {
	return base64.StdEncoding.EncodeToString(h[:])
}

// Version identifies the protocol version the network is running.
type Version struct {
	Major uint16
	Minor uint16
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Base is the protocol version nodes start on.
var Base = Version{Major: 0, Minor: 1}

// PrivateKey is the private part of a replica's key pair. The concrete scheme
// is supplied at construction by the crypto package.
type PrivateKey interface {
	// Sign signs a message and returns the raw signature bytes.
	Sign(msg []byte) []byte
}

// InstanceState carries the per-chain constants fixed at genesis.
type InstanceState struct {
	// ChainID distinguishes independent deployments.
	ChainID uint64
}

// ValidatedState is the application state agreed on for one view. It is
// produced by replaying a block header on top of the parent's state.
type ValidatedState struct {
	// Height of the last applied block.
	Height uint64
	// Timestamp of the last applied block.
	Timestamp uint64
}

// GenesisState returns the validated state anchored at the genesis leaf.
func GenesisState(InstanceState) *ValidatedState {
	return &ValidatedState{}
}

// FromHeader derives a validated state from a header alone. This is the
// liveness-only fallback used when a proposal's parent is not stored.
func FromHeader(header BlockHeader) *ValidatedState {
	return &ValidatedState{Height: header.Height, Timestamp: header.Timestamp}
}

// ValidateAndApplyHeader checks that header extends parent and returns the
// resulting state. The header must increase the height by exactly one and must
// not move the clock backwards.
func (s *ValidatedState) ValidateAndApplyHeader(_ InstanceState, parent, header BlockHeader) (*ValidatedState, error) {
	if header.Height != parent.Height+1 {
		return nil, fmt.Errorf("header height %d does not extend parent height %d", header.Height, parent.Height)
	}
	if header.Timestamp < parent.Timestamp {
		return nil, fmt.Errorf("header timestamp %d precedes parent timestamp %d", header.Timestamp, parent.Timestamp)
	}
	return &ValidatedState{Height: header.Height, Timestamp: header.Timestamp}, nil
}
