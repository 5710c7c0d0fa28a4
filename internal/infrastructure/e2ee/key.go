package e2ee

import (
	"crypto/sha256"
	"errors"

	"rillcall/internal/core/domain"
)

var ErrEmptyKeyMaterial = errors.New("key material is empty")

// HashKeyDeriver derives the media key as SHA-256(localIdentity || peerPublicKey || callID).
//
// WARNING: this is not a key agreement. Anyone who knows both public inputs
// can compute the key. It must be replaced by ECDH + HKDF before media
// confidentiality is relied upon.
type HashKeyDeriver struct{}

func (HashKeyDeriver) DeriveMediaKey(peerPublicKey, localIdentity []byte, callID domain.CallID) ([]byte, error) {
	if len(peerPublicKey) == 0 || len(localIdentity) == 0 {
		return nil, ErrEmptyKeyMaterial
	}
	h := sha256.New()
	h.Write(localIdentity)
	h.Write(peerPublicKey)
	h.Write([]byte(callID))
	return h.Sum(nil), nil
}
