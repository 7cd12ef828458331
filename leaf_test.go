package meridian

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLeafCommitExcludesPayload(t *testing.T) {
	leaf := Leaf{
		View:        3,
		JustifyQC:   QuorumCert{View: 2, Data: QuorumData{LeafCommit: Hash{0x01}}},
		BlockHeader: BlockHeader{Height: 3, PayloadCommitment: Hash{0x02}},
		Proposer:    1,
	}
	withPayload := leaf
	withPayload.Payload = []byte("transactions")

	if leaf.Commit() != withPayload.Commit() {
		t.Error("filling the payload must not change the leaf commitment")
	}

	altered := leaf
	altered.BlockHeader.PayloadCommitment = Hash{0x03}
	if leaf.Commit() == altered.Commit() {
		t.Error("changing the header must change the leaf commitment")
	}

	otherProposer := leaf
	otherProposer.Proposer = 2
	if leaf.Commit() == otherProposer.Commit() {
		t.Error("changing the proposer must change the leaf commitment")
	}
}

func TestGenesisLeafIsStable(t *testing.T) {
	instance := InstanceState{ChainID: 1}
	if GenesisLeaf(instance).Commit() != GenesisLeaf(instance).Commit() {
		t.Error("genesis leaf commitment must be deterministic")
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	payload := Payload{Transactions: [][]byte{[]byte("a"), []byte("bb"), []byte("ccc")}}
	encoded, err := payload.Bytes()
	if err != nil {
		t.Fatalf("failed to encode payload: %v", err)
	}
	decoded, err := PayloadFromBytes(encoded)
	if err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if diff := cmp.Diff(payload, decoded); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}

	commits := decoded.TransactionCommitments()
	if len(commits) != 3 {
		t.Fatalf("got %d transaction commitments, want 3", len(commits))
	}
	if commits[0] == commits[1] {
		t.Error("distinct transactions must have distinct commitments")
	}

	empty, err := PayloadFromBytes(nil)
	if err != nil {
		t.Fatalf("empty payload should decode: %v", err)
	}
	if len(empty.Transactions) != 0 {
		t.Error("empty input should decode to the empty payload")
	}
}

func TestValidateAndApplyHeader(t *testing.T) {
	state := &ValidatedState{Height: 4, Timestamp: 100}
	parent := BlockHeader{Height: 4, Timestamp: 100}

	next, err := state.ValidateAndApplyHeader(InstanceState{}, parent, BlockHeader{Height: 5, Timestamp: 110})
	if err != nil {
		t.Fatalf("valid header rejected: %v", err)
	}
	if next.Height != 5 || next.Timestamp != 110 {
		t.Errorf("applied state = %+v, want height 5 timestamp 110", next)
	}

	if _, err := state.ValidateAndApplyHeader(InstanceState{}, parent, BlockHeader{Height: 7, Timestamp: 110}); err == nil {
		t.Error("header skipping a height should be rejected")
	}
	if _, err := state.ValidateAndApplyHeader(InstanceState{}, parent, BlockHeader{Height: 5, Timestamp: 90}); err == nil {
		t.Error("header moving the clock backwards should be rejected")
	}
}
