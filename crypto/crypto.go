// Package crypto provides the BLS signing capability the consensus core is
// built on: per-replica signing, single-signature verification, and
// aggregation of same-message signatures into certificates.
package crypto

import (
	bls "github.com/cloudflare/circl/sign/bls"
)

type scheme = bls.KeyG1SigG2

// PublicKey is a replica's BLS public key.
type PublicKey = bls.PublicKey[scheme]

// Signer holds a replica's BLS key pair.
type Signer struct {
	sk *bls.PrivateKey[scheme]
	pk *PublicKey
}

// NewSignerFromSeed derives a key pair deterministically from a seed of at
// least 32 bytes.
func NewSignerFromSeed(seed []byte) (*Signer, error) {
	sk, err := bls.KeyGen[scheme](seed, nil, nil)
	if err != nil {
		return nil, err
	}
	return &Signer{sk: sk, pk: sk.PublicKey()}, nil
}

// PublicKey returns the public half of the key pair.
func (s *Signer) PublicKey() *PublicKey { return s.pk }

// Sign signs a message and returns the raw signature bytes.
func (s *Signer) Sign(msg []byte) []byte {
	return bls.Sign(s.sk, msg)
}

// Verify checks a single signature over msg.
func Verify(pk *PublicKey, msg, sig []byte) bool {
	if len(sig) == 0 {
		return false
	}
	return bls.Verify(pk, msg, bls.Signature(sig))
}

// Aggregate combines signatures over the same message into one.
func Aggregate(sigs [][]byte) []byte {
	list := make([]bls.Signature, 0, len(sigs))
	for _, sig := range sigs {
		if len(sig) == 0 {
			continue
		}
		list = append(list, bls.Signature(sig))
	}
	agg, err := bls.Aggregate(bls.G1{}, list)
	if err != nil {
		return nil
	}
	return agg
}

// VerifyAggregate checks an aggregate signature where every signer signed the
// same message.
func VerifyAggregate(pks []*PublicKey, msg, aggSig []byte) bool {
	if len(pks) == 0 || len(aggSig) == 0 {
		return false
	}
	msgs := make([][]byte, len(pks))
	for i := range msgs {
		msgs[i] = msg
	}
	return bls.VerifyAggregate(pks, msgs, bls.Signature(aggSig))
}

// MarshalPublicKey returns the serialized form of a public key.
func MarshalPublicKey(pk *PublicKey) ([]byte, error) {
	return pk.MarshalBinary()
}

// UnmarshalPublicKey parses a serialized public key.
func UnmarshalPublicKey(data []byte) (*PublicKey, error) {
	pk := new(PublicKey)
	if err := pk.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return pk, nil
}
