package meridian

import "encoding/binary"

// Vote and certificate kinds. The set is closed: every vote a replica signs is
// one of these, and a replica signs at most once per (view, kind).
const (
	KindQuorum byte = iota + 1
	KindTimeout
	KindDA
	KindUpgrade
)

func signedBytes(kind byte, view View, data []byte) []byte {
	buf := make([]byte, 0, 1+8+len(data))
	buf = append(buf, kind)
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], uint64(view))
	buf = append(buf, v[:]...)
	return append(buf, data...)
}

// QuorumData is the payload of a quorum vote: the commitment of the leaf the
// vote certifies.
type QuorumData struct {
	LeafCommit Hash
}

// QuorumCert is an aggregate of quorum votes over a stake-weighted
// supermajority. A genesis certificate carries no signatures and is accepted
// structurally.
type QuorumCert struct {
	View      View
	Data      QuorumData
	Signers   []ID
	Signature []byte
	IsGenesis bool
}

// SignedBytes returns the message the certificate's signatures cover.
func (qc QuorumCert) SignedBytes() []byte {
	return signedBytes(KindQuorum, qc.View, qc.Data.LeafCommit[:])
}

// GenesisQC returns the unsigned certificate anchoring the genesis leaf.
func GenesisQC(leafCommit Hash) QuorumCert {
	return QuorumCert{
		View:      GenesisView,
		Data:      QuorumData{LeafCommit: leafCommit},
		IsGenesis: true,
	}
}

// TimeoutData names the view a quorum-weight of replicas agreed to abandon.
type TimeoutData struct {
	View View
}

// TimeoutCert is evidence that a view timed out. The leader of the following
// view attaches it to propose without a parent QC for the abandoned view.
type TimeoutCert struct {
	View      View
	Data      TimeoutData
	Signers   []ID
	Signature []byte
}

// SignedBytes returns the message the certificate's signatures cover.
func (tc TimeoutCert) SignedBytes() []byte {
	return signedBytes(KindTimeout, tc.View, tc.Data.View.ToBytes())
}

// DAData is the payload commitment the DA committee attests is retrievable.
type DAData struct {
	PayloadCommit Hash
}

// DACert is the DA committee's availability certificate for one view's
// payload.
type DACert struct {
	View      View
	Data      DAData
	Signers   []ID
	Signature []byte
	IsGenesis bool
}

// SignedBytes returns the message the certificate's signatures cover.
func (dc DACert) SignedBytes() []byte {
	return signedBytes(KindDA, dc.View, dc.Data.PayloadCommit[:])
}

// UpgradeData describes a protocol version change and the first view it
// applies to.
type UpgradeData struct {
	NewVersion           Version
	NewVersionFirstBlock View
}

func (d UpgradeData) bytes() []byte {
	var buf [12]byte
	binary.BigEndian.PutUint16(buf[0:2], d.NewVersion.Major)
	binary.BigEndian.PutUint16(buf[2:4], d.NewVersion.Minor)
	binary.BigEndian.PutUint64(buf[4:12], uint64(d.NewVersionFirstBlock))
	return buf[:]
}

// UpgradeCert certifies that the committee agreed to activate a new protocol
// version. Leaves do not carry upgrade certificates: the consensus task adopts
// the certificate attached to the proposal whose acceptance completes a
// decide, and the version activates at the certificate's first-block view.
type UpgradeCert struct {
	View      View
	Data      UpgradeData
	Signers   []ID
	Signature []byte
}

// SignedBytes returns the message the certificate's signatures cover.
func (uc UpgradeCert) SignedBytes() []byte {
	return signedBytes(KindUpgrade, uc.View, uc.Data.bytes())
}

// QuorumVote is a replica's signed endorsement of one leaf in one view.
type QuorumVote struct {
	View      View
	Data      QuorumData
	Signer    ID
	Signature []byte
}

// SignedBytes returns the message the vote's signature covers.
func (v QuorumVote) SignedBytes() []byte {
	return signedBytes(KindQuorum, v.View, v.Data.LeafCommit[:])
}

// TimeoutVote is a replica's signed request to abandon a view.
type TimeoutVote struct {
	View      View
	Data      TimeoutData
	Signer    ID
	Signature []byte
}

// SignedBytes returns the message the vote's signature covers.
func (v TimeoutVote) SignedBytes() []byte {
	return signedBytes(KindTimeout, v.View, v.Data.View.ToBytes())
}

// DAVote is a DA committee member's signed availability attestation.
type DAVote struct {
	View      View
	Data      DAData
	Signer    ID
	Signature []byte
}

// SignedBytes returns the message the vote's signature covers.
func (v DAVote) SignedBytes() []byte {
	return signedBytes(KindDA, v.View, v.Data.PayloadCommit[:])
}

// CertFormed is the tagged sum an accumulator emits when a vote threshold is
// crossed: exactly one of QC or TC is set.
type CertFormed struct {
	QC *QuorumCert
	TC *TimeoutCert
}

// QuorumProposal is the leader's signed extension of the high-QC chain.
// A timeout certificate is attached iff the justify QC does not certify the
// immediately preceding view.
type QuorumProposal struct {
	View        View
	BlockHeader BlockHeader
	JustifyQC   QuorumCert
	TimeoutCert *TimeoutCert
	UpgradeCert *UpgradeCert
	Proposer    ID
}

// SignedProposal couples a proposal with the proposer's signature over the
// commitment of the leaf the proposal describes.
type SignedProposal struct {
	Data      QuorumProposal
	Signature []byte
}

// VidShare is one replica's erasure-coded fragment of a block payload.
// Receipt of a share implies the payload is retrievable.
type VidShare struct {
	View              View
	PayloadCommitment Hash
	Share             []byte
}

// SignedVidShare couples a share with the disperser's signature over the
// payload commitment.
type SignedVidShare struct {
	Data      VidShare
	Signature []byte
}
