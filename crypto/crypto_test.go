package crypto

import (
	"encoding/binary"
	"testing"

	"github.com/meridian-bft/meridian"
)

func testSigners(t *testing.T, n int) []*Signer {
	t.Helper()
	signers := make([]*Signer, n)
	for i := range signers {
		seed := make([]byte, 32)
		binary.LittleEndian.PutUint64(seed, uint64(i)+1)
		signer, err := NewSignerFromSeed(seed)
		if err != nil {
			t.Fatalf("failed to create signer: %v", err)
		}
		signers[i] = signer
	}
	return signers
}

func TestSignAndVerify(t *testing.T) {
	signers := testSigners(t, 2)
	msg := []byte("view evidence")

	sig := signers[0].Sign(msg)
	if !Verify(signers[0].PublicKey(), msg, sig) {
		t.Fatal("signature should verify under the signing key")
	}
	if Verify(signers[1].PublicKey(), msg, sig) {
		t.Error("signature should not verify under another key")
	}
	if Verify(signers[0].PublicKey(), []byte("other message"), sig) {
		t.Error("signature should not verify for another message")
	}
}

func TestAggregateSameMessage(t *testing.T) {
	signers := testSigners(t, 4)
	msg := []byte("leaf commitment")

	sigs := make([][]byte, len(signers))
	pks := make([]*PublicKey, len(signers))
	for i, signer := range signers {
		sigs[i] = signer.Sign(msg)
		pks[i] = signer.PublicKey()
	}

	agg := Aggregate(sigs)
	if agg == nil {
		t.Fatal("aggregation failed")
	}
	if !VerifyAggregate(pks, msg, agg) {
		t.Fatal("aggregate signature should verify")
	}
	if VerifyAggregate(pks[:3], msg, agg) {
		t.Error("aggregate should not verify against a smaller key set")
	}
}

func TestPublicKeyRoundTrip(t *testing.T) {
	signer := testSigners(t, 1)[0]
	data, err := MarshalPublicKey(signer.PublicKey())
	if err != nil {
		t.Fatalf("failed to marshal public key: %v", err)
	}
	pk, err := UnmarshalPublicKey(data)
	if err != nil {
		t.Fatalf("failed to unmarshal public key: %v", err)
	}
	msg := []byte("round trip")
	if !Verify(pk, msg, signer.Sign(msg)) {
		t.Error("round-tripped key does not verify signatures")
	}
}

// fixedMembership is a minimal Membership for verifier tests.
type fixedMembership struct {
	keys      map[meridian.ID]*PublicKey
	stakes    map[meridian.ID]uint64
	threshold uint64
}

func (m fixedMembership) Key(id meridian.ID) (*PublicKey, bool) {
	key, ok := m.keys[id]
	return key, ok
}
func (m fixedMembership) Stake(id meridian.ID) uint64 { return m.stakes[id] }
func (m fixedMembership) Threshold() uint64           { return m.threshold }

func testMembership(signers []*Signer) fixedMembership {
	m := fixedMembership{
		keys:      make(map[meridian.ID]*PublicKey),
		stakes:    make(map[meridian.ID]uint64),
		threshold: uint64(len(signers))*2/3 + 1,
	}
	for i, signer := range signers {
		m.keys[meridian.ID(i)] = signer.PublicKey()
		m.stakes[meridian.ID(i)] = 1
	}
	return m
}

func quorumCert(signers []*Signer, ids []meridian.ID, view meridian.View) meridian.QuorumCert {
	qc := meridian.QuorumCert{
		View:    view,
		Data:    meridian.QuorumData{LeafCommit: meridian.Hash{0x01}},
		Signers: ids,
	}
	msg := qc.SignedBytes()
	sigs := make([][]byte, len(ids))
	for i, id := range ids {
		sigs[i] = signers[id].Sign(msg)
	}
	qc.Signature = Aggregate(sigs)
	return qc
}

func TestVerifyQuorumCert(t *testing.T) {
	signers := testSigners(t, 4)
	m := testMembership(signers)
	v := NewCertVerifier(m, m)

	qc := quorumCert(signers, []meridian.ID{0, 1, 2}, 3)
	if !v.VerifyQuorumCert(qc) {
		t.Fatal("certificate with threshold stake should verify")
	}

	weak := quorumCert(signers, []meridian.ID{0, 1}, 3)
	if v.VerifyQuorumCert(weak) {
		t.Error("certificate below threshold stake should not verify")
	}

	duplicated := quorumCert(signers, []meridian.ID{0, 0, 1}, 3)
	if v.VerifyQuorumCert(duplicated) {
		t.Error("certificate with a duplicated signer should not verify")
	}

	forged := quorumCert(signers, []meridian.ID{0, 1, 2}, 3)
	forged.Data.LeafCommit = meridian.Hash{0x02}
	if v.VerifyQuorumCert(forged) {
		t.Error("certificate with altered data should not verify")
	}
}

func TestVerifyGenesisCerts(t *testing.T) {
	signers := testSigners(t, 4)
	m := testMembership(signers)
	v := NewCertVerifier(m, m)

	if !v.VerifyQuorumCert(meridian.GenesisQC(meridian.Hash{})) {
		t.Error("genesis QC should be accepted structurally")
	}
	bad := meridian.GenesisQC(meridian.Hash{})
	bad.View = 3
	if v.VerifyQuorumCert(bad) {
		t.Error("genesis QC with a nonzero view should be rejected")
	}
	if !v.VerifyDACert(meridian.DACert{IsGenesis: true}) {
		t.Error("genesis DA certificate should be accepted structurally")
	}
}

func TestVerifyTimeoutCertViewBinding(t *testing.T) {
	signers := testSigners(t, 4)
	m := testMembership(signers)
	v := NewCertVerifier(m, m)

	tc := meridian.TimeoutCert{
		View:    4,
		Data:    meridian.TimeoutData{View: 4},
		Signers: []meridian.ID{0, 1, 2},
	}
	msg := tc.SignedBytes()
	sigs := make([][]byte, 3)
	for i := range sigs {
		sigs[i] = signers[i].Sign(msg)
	}
	tc.Signature = Aggregate(sigs)

	if !v.VerifyTimeoutCert(tc) {
		t.Fatal("well-formed timeout certificate should verify")
	}
	mismatched := tc
	mismatched.Data.View = 5
	if v.VerifyTimeoutCert(mismatched) {
		t.Error("timeout certificate whose data names another view should not verify")
	}
}
