package crypto

import (
	"crypto/sha256"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/meridian-bft/meridian"
)

// Membership exposes the part of a committee the verifier needs: key lookup,
// stake weights, and the certificate threshold.
type Membership interface {
	Key(id meridian.ID) (*PublicKey, bool)
	Stake(id meridian.ID) uint64
	Threshold() uint64
}

// verifiedCacheSize bounds the number of certificate verdicts kept. Pairing
// verification dominates certificate validation, and the same certificate is
// revalidated on every proposal that carries it.
const verifiedCacheSize = 1024

// CertVerifier validates aggregated certificates against committee
// membership. Genesis certificates bypass signature checks and are accepted
// structurally.
type CertVerifier struct {
	quorum Membership
	da     Membership
	cache  *lru.Cache[meridian.Hash, bool]
}

// NewCertVerifier returns a verifier for the given quorum and DA committees.
// Timeout and upgrade certificates are checked against the quorum committee.
func NewCertVerifier(quorum, da Membership) *CertVerifier {
	cache, err := lru.New[meridian.Hash, bool](verifiedCacheSize)
	if err != nil {
		// lru.New only fails on a non-positive size.
		panic(err)
	}
	return &CertVerifier{quorum: quorum, da: da, cache: cache}
}

// VerifyQuorumCert reports whether the certificate's signers form a
// supermajority of the quorum committee and their aggregate signature covers
// the certificate data.
func (v *CertVerifier) VerifyQuorumCert(qc meridian.QuorumCert) bool {
	if qc.IsGenesis {
		return qc.View == meridian.GenesisView && len(qc.Signers) == 0 && len(qc.Signature) == 0
	}
	return v.verify(v.quorum, qc.Signers, qc.SignedBytes(), qc.Signature)
}

// VerifyTimeoutCert reports whether the certificate carries quorum-weight
// evidence that its view was abandoned.
func (v *CertVerifier) VerifyTimeoutCert(tc meridian.TimeoutCert) bool {
	if tc.Data.View != tc.View {
		return false
	}
	return v.verify(v.quorum, tc.Signers, tc.SignedBytes(), tc.Signature)
}

// VerifyDACert reports whether the DA committee certified the payload.
func (v *CertVerifier) VerifyDACert(dc meridian.DACert) bool {
	if dc.IsGenesis {
		return dc.View == meridian.GenesisView && len(dc.Signers) == 0 && len(dc.Signature) == 0
	}
	return v.verify(v.da, dc.Signers, dc.SignedBytes(), dc.Signature)
}

// VerifyUpgradeCert reports whether the quorum committee certified the
// version change.
func (v *CertVerifier) VerifyUpgradeCert(uc meridian.UpgradeCert) bool {
	return v.verify(v.quorum, uc.Signers, uc.SignedBytes(), uc.Signature)
}

func (v *CertVerifier) verify(m Membership, signers []meridian.ID, msg, sig []byte) bool {
	key := cacheKey(msg, sig)
	if ok, hit := v.cache.Get(key); hit {
		return ok
	}

	ok := v.verifySlow(m, signers, msg, sig)
	v.cache.Add(key, ok)
	return ok
}

func (v *CertVerifier) verifySlow(m Membership, signers []meridian.ID, msg, sig []byte) bool {
	if len(signers) == 0 {
		return false
	}
	seen := make(map[meridian.ID]struct{}, len(signers))
	pks := make([]*PublicKey, 0, len(signers))
	var stake uint64
	for _, id := range signers {
		if _, dup := seen[id]; dup {
			return false
		}
		seen[id] = struct{}{}
		pk, ok := m.Key(id)
		if !ok {
			return false
		}
		pks = append(pks, pk)
		stake += m.Stake(id)
	}
	if stake < m.Threshold() {
		return false
	}
	return VerifyAggregate(pks, msg, sig)
}

func cacheKey(msg, sig []byte) meridian.Hash {
	h := sha256.New()
	h.Write(msg)
	h.Write(sig)
	var key meridian.Hash
	copy(key[:], h.Sum(nil))
	return key
}
