package meridian

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/ethereum/go-ethereum/rlp"
)

// BlockHeader summarizes a block payload without carrying it. The payload
// itself is distributed by the DA committee; the header binds the payload
// commitment into the leaf the quorum votes on.
type BlockHeader struct {
	// Height of the block, counting from 0 at genesis.
	Height uint64
	// PayloadCommitment is the VID commitment to the encoded payload.
	PayloadCommitment Hash
	// Metadata is opaque builder metadata carried alongside the commitment.
	Metadata []byte
	// Timestamp in Unix seconds, set by the proposer.
	Timestamp uint64
}

// NewBlockHeader builds the header for the next block on top of parent.
func NewBlockHeader(parentState *ValidatedState, _ InstanceState, parent BlockHeader, commitment Hash, metadata []byte, now uint64) BlockHeader {
	ts := now
	if ts < parent.Timestamp {
		ts = parent.Timestamp
	}
	return BlockHeader{
		Height:            parentState.Height + 1,
		PayloadCommitment: commitment,
		Metadata:          metadata,
		Timestamp:         ts,
	}
}

// Payload is the block body: an ordered list of opaque transactions.
type Payload struct {
	Transactions [][]byte
}

// PayloadFromBytes decodes an encoded payload. The empty input decodes to the
// empty payload.
func PayloadFromBytes(encoded []byte) (Payload, error) {
	var p Payload
	if len(encoded) == 0 {
		return p, nil
	}
	if err := rlp.DecodeBytes(encoded, &p); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// Bytes returns the canonical encoding of the payload.
func (p Payload) Bytes() ([]byte, error) {
	return rlp.EncodeToBytes(&p)
}

// TransactionCommitments returns the digest of each transaction in order.
func (p Payload) TransactionCommitments() []Hash {
	commits := make([]Hash, len(p.Transactions))
	for i, tx := range p.Transactions {
		commits[i] = sha256.Sum256(tx)
	}
	return commits
}

// Leaf is a block header plus its parent linkage. Leaves are content-addressed
// by Commit; ownership of all leaves sits in the consensus state's saved-leaves
// map, and ancestors are reached by commitment lookup, never by pointer.
type Leaf struct {
	// View the leaf was proposed in.
	View View
	// JustifyQC certifies the parent leaf.
	JustifyQC QuorumCert
	// ParentCommitment is the commitment of the parent leaf, or the genesis
	// sentinel.
	ParentCommitment Hash
	// BlockHeader commits to the block payload.
	BlockHeader BlockHeader
	// Payload is nil until filled from saved payloads on decide.
	Payload []byte
	// Proposer is the replica that proposed the leaf.
	Proposer ID
}

// Commit returns the commitment of the leaf: a digest over its fields
// excluding the payload.
func (l Leaf) Commit() Hash {
	h := sha256.New()

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(l.View))
	h.Write(buf[:])

	qc := l.JustifyQC.SignedBytes()
	binary.BigEndian.PutUint64(buf[:], uint64(len(qc)))
	h.Write(buf[:])
	h.Write(qc)

	h.Write(l.ParentCommitment[:])

	binary.BigEndian.PutUint64(buf[:], l.BlockHeader.Height)
	h.Write(buf[:])
	h.Write(l.BlockHeader.PayloadCommitment[:])
	binary.BigEndian.PutUint64(buf[:], uint64(len(l.BlockHeader.Metadata)))
	h.Write(buf[:])
	h.Write(l.BlockHeader.Metadata)
	binary.BigEndian.PutUint64(buf[:], l.BlockHeader.Timestamp)
	h.Write(buf[:])

	binary.BigEndian.PutUint64(buf[:], uint64(l.Proposer))
	h.Write(buf[:])

	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Height returns the block height of the leaf.
func (l Leaf) Height() uint64 {
	return l.BlockHeader.Height
}

// GenesisLeaf returns the genesis anchor for the given instance. Every honest
// replica derives the identical genesis leaf, so its commitment is a shared
// sentinel.
func GenesisLeaf(_ InstanceState) Leaf {
	return Leaf{
		View:      GenesisView,
		JustifyQC: GenesisQC(Hash{}),
	}
}
